// Copyright (C) The Keraon Authors. All rights reserved.
//
// SPDX-License-Identifier: GPL-3.0

package keraon

import (
	"bufio"
	"flag"
	"fmt"
	"io"
	"math"
	"net/http"
	_ "net/http/pprof"
	"runtime"

	log "github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/floats"
)

// NoSolution is the predicted label when no subtype weight exceeds
// zero after rounding.
const NoSolution = "NoSolution"

// DefaultTFXResolution is the grid step used by OptimizeTFX unless the
// caller asks for something else.
const DefaultTFXResolution = 0.001

// OptimizeTFX finds the mixture fraction in [0,1] that maximizes the
// total likelihood of x across all subtype models, by exhaustive grid
// search at the given resolution. The likelihood surface is non-convex
// and can be multi-modal, so the grid is deliberate: it trades fixed
// resolution for immunity to local optima. Ties keep the smallest
// candidate. The grid always spans [0,1] exactly, so a resolution that
// does not evenly divide 1 is snapped to the nearest 1/n step.
func OptimizeTFX(x []float64, healthy ReferenceModel, subtypes []ReferenceModel, resolution float64) float64 {
	if resolution <= 0 {
		resolution = DefaultTFXResolution
	}
	steps := int(math.Round(1 / resolution))
	bestTFX := 0.0
	bestScore := math.Inf(1)
	for i := 0; i <= steps; i++ {
		tfx := float64(i) / float64(steps)
		lls := LogLikelihoods(tfx, x, healthy, subtypes)
		score := 0.0
		for _, ll := range lls {
			score -= math.Exp(ll)
		}
		if score < bestScore {
			bestScore = score
			bestTFX = tfx
		}
	}
	return bestTFX
}

// SoftmaxWeights converts log-likelihoods to normalized weights
// summing to 1. If every log-likelihood is -Inf the weights are all
// zero, which downstream becomes a NoSolution prediction.
func SoftmaxWeights(lls []float64) []float64 {
	weights := make([]float64, len(lls))
	if len(lls) == 0 {
		return weights
	}
	max := floats.Max(lls)
	if math.IsInf(max, -1) {
		return weights
	}
	sum := 0.0
	for i, ll := range lls {
		weights[i] = math.Exp(ll - max)
		sum += weights[i]
	}
	floats.Scale(1/sum, weights)
	return weights
}

// Predict rounds each subtype's softmax weight to 4 decimals and
// picks the strictly greatest one. The running max starts at 0, so if
// nothing beats zero the prediction is NoSolution.
func Predict(subtypes []ReferenceModel, lls []float64) (weights []float64, top string) {
	weights = SoftmaxWeights(lls)
	top = NoSolution
	maxWeight := 0.0
	for i := range weights {
		weights[i] = math.Round(weights[i]*10000) / 10000
		if weights[i] > maxWeight {
			maxWeight = weights[i]
			top = subtypes[i].Name
		}
	}
	return weights, top
}

// A PredictionRecord is one sample's inference result. Weights are
// parallel to the subtype model order used for the run.
type PredictionRecord struct {
	Sample     string
	TFX        float64
	TFXShifted float64
	Weights    []float64
	Prediction string
}

// PredictSample runs the full inference for one feature vector: the
// direct TFX estimate, the basis-corrected ("shifted") estimate, and
// the subtype weights at the direct estimate.
//
// The shifted estimate projects the healthy-centered sample onto the
// orthonormalized healthy-to-subtype directions and drops the residual
// that no mixture of the reference populations can produce, then
// re-runs the optimizer on the cleaned vector. Linearly dependent
// subtype directions make that basis degenerate and are an error.
func PredictSample(sample string, x []float64, healthy ReferenceModel, subtypes []ReferenceModel, resolution float64) (PredictionRecord, error) {
	rec := PredictionRecord{Sample: sample}
	rec.TFX = OptimizeTFX(x, healthy, subtypes, resolution)

	directions := make([][]float64, len(subtypes))
	for i, subtype := range subtypes {
		directions[i] = make([]float64, len(x))
		floats.SubTo(directions[i], subtype.Mean, healthy.Mean)
	}
	basis, err := GramSchmidt(directions)
	if err != nil {
		return rec, fmt.Errorf("sample %s: %w", sample, err)
	}
	centered := make([]float64, len(x))
	floats.SubTo(centered, x, healthy.Mean)
	_, residual := ProjectOntoBasis(centered, basis)
	shifted := make([]float64, len(x))
	floats.SubTo(shifted, x, residual)
	rec.TFXShifted = OptimizeTFX(shifted, healthy, subtypes, resolution)

	lls := LogLikelihoods(rec.TFX, x, healthy, subtypes)
	rec.Weights, rec.Prediction = Predict(subtypes, lls)
	return rec, nil
}

type predictCmd struct {
	resolution float64
	threads    int
}

func (cmd *predictCmd) RunCommand(prog string, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	var err error
	defer func() {
		if err != nil {
			fmt.Fprintf(stderr, "%s\n", err)
		}
	}()
	flags := flag.NewFlagSet("", flag.ContinueOnError)
	flags.SetOutput(stderr)
	pprof := flags.String("pprof", "", "serve Go profile data at http://`[addr]:port`")
	inputFilename := flags.String("i", "-", "input sample table `file`")
	outputFilename := flags.String("o", "-", "output predictions `file`")
	referenceFilename := flags.String("reference", "", "reference models tsv `file` (from a previous -save-reference)")
	trainFilename := flags.String("train", "", "labeled training table `file` to fit reference models from")
	saveReference := flags.String("save-reference", "", "write fitted reference models to `file`")
	healthyLabel := flags.String("healthy", "Healthy", "`label` of the healthy population in the reference models")
	flags.Float64Var(&cmd.resolution, "resolution", DefaultTFXResolution, "TFX grid `step` (snapped to the nearest 1/n so the grid spans [0,1] exactly)")
	flags.IntVar(&cmd.threads, "threads", runtime.NumCPU(), "`concurrency` for per-sample inference")
	err = flags.Parse(args)
	if err == flag.ErrHelp {
		err = nil
		return 0
	} else if err != nil {
		return 2
	}

	if *pprof != "" {
		go func() {
			log.Println(http.ListenAndServe(*pprof, nil))
		}()
	}

	var features []string
	var models []ReferenceModel
	switch {
	case *referenceFilename != "":
		var input io.ReadCloser
		input, err = openInput(*referenceFilename, stdin)
		if err != nil {
			return 1
		}
		features, models, err = ReadReferenceModels(bufio.NewReader(input))
		input.Close()
		if err != nil {
			return 1
		}
	case *trainFilename != "":
		var train *FeatureTable
		train, err = loadFeatureTable(*trainFilename, stdin)
		if err != nil {
			return 1
		}
		log.Printf("training table %s: %d samples, %d features, blake2b %s", *trainFilename, len(train.Samples), len(train.Features), train.Fingerprint())
		features = train.Features
		models = BuildReferenceModels(train)
	default:
		err = fmt.Errorf("need -reference or -train")
		return 2
	}

	healthy := -1
	for i, model := range models {
		if model.Name == *healthyLabel {
			healthy = i
		}
	}
	if healthy < 0 {
		err = fmt.Errorf("no %q population in reference models", *healthyLabel)
		return 1
	}
	subtypes := append(append([]ReferenceModel(nil), models[:healthy]...), models[healthy+1:]...)

	if *saveReference != "" {
		var output io.WriteCloser
		output, err = openOutput(*saveReference, stdout)
		if err != nil {
			return 1
		}
		err = WriteReferenceModels(output, features, models)
		if err != nil {
			output.Close()
			return 1
		}
		err = output.Close()
		if err != nil {
			return 1
		}
	}

	table, err := loadFeatureTable(*inputFilename, stdin)
	if err != nil {
		return 1
	}
	table, err = table.Restrict(features)
	if err != nil {
		return 1
	}
	log.Printf("predicting %d samples against %d subtypes (+%s), resolution %v", len(table.Samples), len(subtypes), *healthyLabel, cmd.resolution)

	records := make([]PredictionRecord, len(table.Samples))
	var th throttle
	th.Max = cmd.threads
	for i := range table.Samples {
		i := i
		th.Go(func() error {
			rec, err := PredictSample(table.Samples[i], table.Row(i), models[healthy], subtypes, cmd.resolution)
			records[i] = rec
			return err
		})
	}
	err = th.Wait()
	if err != nil {
		return 1
	}

	output, err := openOutput(*outputFilename, stdout)
	if err != nil {
		return 1
	}
	bufw := bufio.NewWriter(output)
	fmt.Fprintf(bufw, "# keraon %s input blake2b %s\n", version, table.Fingerprint())
	fmt.Fprintf(bufw, "sample\tTFX\tTFX_shifted")
	for _, subtype := range subtypes {
		fmt.Fprintf(bufw, "\t%s", subtype.Name)
	}
	fmt.Fprintf(bufw, "\tPrediction\n")
	for _, rec := range records {
		fmt.Fprintf(bufw, "%s\t%v\t%v", rec.Sample, rec.TFX, rec.TFXShifted)
		for _, w := range rec.Weights {
			fmt.Fprintf(bufw, "\t%v", w)
		}
		fmt.Fprintf(bufw, "\t%s\n", rec.Prediction)
	}
	err = bufw.Flush()
	if err != nil {
		output.Close()
		return 1
	}
	err = output.Close()
	if err != nil {
		return 1
	}
	log.Print("done")
	return 0
}
