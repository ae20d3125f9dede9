// Copyright (C) The Keraon Authors. All rights reserved.
//
// SPDX-License-Identifier: GPL-3.0

package keraon

import (
	"bufio"
	"flag"
	"fmt"
	"io"
	"log"
	"math"

	"github.com/kshedden/statmodel/glm"
	"github.com/kshedden/statmodel/statmodel"
	"gonum.org/v1/gonum/stat/distuv"
)

var glmConfig = &glm.Config{
	Family:         glm.NewFamily(glm.BinomialFamily),
	FitMethod:      "IRLS",
	ConcurrentIRLS: 1000,
	Log:            log.New(io.Discard, "", 0),
}

// assocPvalueFunc fits the intercept-only logistic model for the given
// 0/1 outcome once, and returns a function computing the
// likelihood-ratio p-value for adding a single feature column to it.
// A singular or otherwise unfittable model scores NaN.
func assocPvalueFunc(outcome []float64) func(feature []float64) float64 {
	constants := make([]statmodel.Dtype, len(outcome))
	for i := range constants {
		constants[i] = 1
	}
	data := [][]statmodel.Dtype{outcome, constants}
	names := []string{"outcome", "constants"}
	dataset := statmodel.NewDataset(data, names)

	model, err := glm.NewGLM(dataset, "outcome", names[1:], glmConfig)
	if err != nil {
		log.Printf("%s", err)
		return func([]float64) float64 { return math.NaN() }
	}
	logNull := model.Fit().LogLike()

	return func(feature []float64) (p float64) {
		defer func() {
			if recover() != nil {
				// typically "matrix singular or near-singular with condition number +Inf"
				p = math.NaN()
			}
		}()

		data := [][]statmodel.Dtype{outcome, feature, constants}
		names := []string{"outcome", "feature", "constants"}
		dataset := statmodel.NewDataset(data, names)
		model, err := glm.NewGLM(dataset, "outcome", names[1:], glmConfig)
		if err != nil {
			return math.NaN()
		}
		logFull := model.Fit().LogLike()
		dist := distuv.ChiSquared{K: 1}
		return dist.Survival(-2 * (logNull - logFull))
	}
}

// FilterAssoc scores every feature's one-vs-rest association with
// caseLabel by logistic-regression likelihood ratio and returns the
// table restricted to features with p-value <= threshold, plus the
// p-value for every feature in table order. NaN p-values never pass.
func FilterAssoc(t *FeatureTable, caseLabel string, threshold float64) (*FeatureTable, []float64, error) {
	outcome := make([]float64, len(t.Labels))
	ncase := 0
	for i, label := range t.Labels {
		if label == caseLabel {
			outcome[i] = 1
			ncase++
		}
	}
	if ncase == 0 || ncase == len(t.Labels) {
		return nil, nil, fmt.Errorf("case label %q matches %d of %d samples", caseLabel, ncase, len(t.Labels))
	}
	pvalue := assocPvalueFunc(outcome)
	pvalues := make([]float64, len(t.Features))
	var kept []string
	for j, feature := range t.Features {
		col := make([]float64, len(t.Samples))
		for i := range t.Samples {
			col[i] = t.Data.At(i, j)
		}
		pvalues[j] = pvalue(col)
		if pvalues[j] <= threshold {
			kept = append(kept, feature)
		}
	}
	out, err := t.Restrict(kept)
	if err != nil {
		return nil, nil, err
	}
	return out, pvalues, nil
}

type assocFilterCmd struct {
	caseLabel string
	threshold float64
}

func (cmd *assocFilterCmd) RunCommand(prog string, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	var err error
	defer func() {
		if err != nil {
			fmt.Fprintf(stderr, "%s\n", err)
		}
	}()
	flags := flag.NewFlagSet("", flag.ContinueOnError)
	flags.SetOutput(stderr)
	inputFilename := flags.String("i", "-", "input `file`")
	outputFilename := flags.String("o", "-", "output `file`")
	pvalueFilename := flags.String("p-values", "", "write per-feature p-values to `file`")
	flags.StringVar(&cmd.caseLabel, "case", "", "subtype `label` treated as the case class (required)")
	flags.Float64Var(&cmd.threshold, "threshold", 0.05, "maximum `p-value` for a feature to be retained")
	err = flags.Parse(args)
	if err == flag.ErrHelp {
		err = nil
		return 0
	} else if err != nil {
		return 2
	}
	if cmd.caseLabel == "" {
		err = fmt.Errorf("-case is required")
		return 2
	}

	table, err := loadFeatureTable(*inputFilename, stdin)
	if err != nil {
		return 1
	}
	out, pvalues, err := FilterAssoc(table, cmd.caseLabel, cmd.threshold)
	if err != nil {
		return 1
	}
	log.Printf("%d of %d features associated with %s at p <= %v", len(out.Features), len(table.Features), cmd.caseLabel, cmd.threshold)

	if *pvalueFilename != "" {
		var pvout io.WriteCloser
		pvout, err = openOutput(*pvalueFilename, stdout)
		if err != nil {
			return 1
		}
		bufw := bufio.NewWriter(pvout)
		fmt.Fprintf(bufw, "feature\tp-value\n")
		for j, feature := range table.Features {
			fmt.Fprintf(bufw, "%s\t%v\n", feature, pvalues[j])
		}
		err = bufw.Flush()
		if err != nil {
			pvout.Close()
			return 1
		}
		err = pvout.Close()
		if err != nil {
			return 1
		}
	}

	output, err := openOutput(*outputFilename, stdout)
	if err != nil {
		return 1
	}
	err = out.WriteTSV(output)
	if err != nil {
		output.Close()
		return 1
	}
	err = output.Close()
	if err != nil {
		return 1
	}
	return 0
}
