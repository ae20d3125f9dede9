// Copyright (C) The Keraon Authors. All rights reserved.
//
// SPDX-License-Identifier: GPL-3.0

package keraon

import (
	"bufio"
	"encoding/csv"
	"flag"
	"fmt"
	"io"
	"strconv"
)

// SpecificitySensitivity evaluates a binary classifier at one
// threshold: samples with predicted score strictly greater than
// threshold count as positive calls.
func SpecificitySensitivity(target []bool, predicted []float64, threshold float64) (sensitivity, specificity float64) {
	var tp, fp, tn, fn float64
	for i, truth := range target {
		call := predicted[i] > threshold
		switch {
		case call && truth:
			tp++
		case call && !truth:
			fp++
		case !call && truth:
			fn++
		default:
			tn++
		}
	}
	return tp / (tp + fn), tn / (tn + fp)
}

// NROCCurve sweeps numThresh+1 evenly spaced thresholds over [0,1]
// (score >= threshold counts as positive) and returns the false and
// true positive rates at each, for plotting a ROC curve.
func NROCCurve(target []bool, predicted []float64, numThresh int) (fprs, tprs, thresholds []float64) {
	for i := 0; i <= numThresh; i++ {
		threshold := float64(i) / float64(numThresh)
		var tp, fp, tn, fn float64
		for j, truth := range target {
			call := predicted[j] >= threshold
			switch {
			case call && truth:
				tp++
			case call && !truth:
				fp++
			case !call && truth:
				fn++
			default:
				tn++
			}
		}
		fprs = append(fprs, fp/(fp+tn))
		tprs = append(tprs, tp/(tp+fn))
		thresholds = append(thresholds, threshold)
	}
	return fprs, tprs, thresholds
}

// ReadPredictions reads the predict subcommand's output, returning the
// subtype weight column names and the records in file order.
func ReadPredictions(rdr io.Reader) ([]string, []PredictionRecord, error) {
	csvr := csv.NewReader(rdr)
	csvr.Comma = '\t'
	csvr.Comment = '#'
	header, err := csvr.Read()
	if err != nil {
		return nil, nil, fmt.Errorf("read header: %w", err)
	}
	if len(header) < 4 || header[0] != "sample" || header[1] != "TFX" || header[2] != "TFX_shifted" || header[len(header)-1] != "Prediction" {
		return nil, nil, fmt.Errorf("unrecognized predictions header %q", header)
	}
	subtypes := append([]string(nil), header[3:len(header)-1]...)
	var recs []PredictionRecord
	for lineno := 2; ; lineno++ {
		rec, err := csvr.Read()
		if err == io.EOF {
			break
		} else if err != nil {
			return nil, nil, fmt.Errorf("line %d: %w", lineno, err)
		}
		pr := PredictionRecord{Sample: rec[0], Prediction: rec[len(rec)-1]}
		if pr.TFX, err = strconv.ParseFloat(rec[1], 64); err != nil {
			return nil, nil, fmt.Errorf("line %d: TFX: %w", lineno, err)
		}
		if pr.TFXShifted, err = strconv.ParseFloat(rec[2], 64); err != nil {
			return nil, nil, fmt.Errorf("line %d: TFX_shifted: %w", lineno, err)
		}
		for _, field := range rec[3 : len(rec)-1] {
			w, err := strconv.ParseFloat(field, 64)
			if err != nil {
				return nil, nil, fmt.Errorf("line %d: weight: %w", lineno, err)
			}
			pr.Weights = append(pr.Weights, w)
		}
		recs = append(recs, pr)
	}
	return subtypes, recs, nil
}

type rocCmd struct {
	caseLabel  string
	numThresh  int
	threshold  float64
	singlePt   bool
	truthsFile string
}

func (cmd *rocCmd) RunCommand(prog string, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	var err error
	defer func() {
		if err != nil {
			fmt.Fprintf(stderr, "%s\n", err)
		}
	}()
	flags := flag.NewFlagSet("", flag.ContinueOnError)
	flags.SetOutput(stderr)
	inputFilename := flags.String("i", "-", "predictions `file` (from the predict command)")
	outputFilename := flags.String("o", "-", "output `file`")
	flags.StringVar(&cmd.truthsFile, "truth", "", "labeled table `file` supplying true subtypes (required)")
	flags.StringVar(&cmd.caseLabel, "case", "", "subtype `label` whose weight column is the classifier score (required)")
	flags.IntVar(&cmd.numThresh, "thresholds", 1000, "number of thresholds to sweep")
	flags.Float64Var(&cmd.threshold, "threshold", 0, "report sensitivity/specificity at this single `threshold` instead of a sweep")
	err = flags.Parse(args)
	if err == flag.ErrHelp {
		err = nil
		return 0
	} else if err != nil {
		return 2
	}
	cmd.singlePt = false
	flags.Visit(func(f *flag.Flag) {
		if f.Name == "threshold" {
			cmd.singlePt = true
		}
	})
	if cmd.caseLabel == "" || cmd.truthsFile == "" {
		err = fmt.Errorf("-case and -truth are required")
		return 2
	}

	input, err := openInput(*inputFilename, stdin)
	if err != nil {
		return 1
	}
	subtypes, recs, err := ReadPredictions(bufio.NewReader(input))
	input.Close()
	if err != nil {
		return 1
	}
	scoreCol := -1
	for i, subtype := range subtypes {
		if subtype == cmd.caseLabel {
			scoreCol = i
		}
	}
	if scoreCol < 0 {
		err = fmt.Errorf("no %q weight column in predictions", cmd.caseLabel)
		return 1
	}

	truthTable, err := loadFeatureTable(cmd.truthsFile, stdin)
	if err != nil {
		return 1
	}
	truthBySample := map[string]string{}
	for i, sample := range truthTable.Samples {
		truthBySample[sample] = truthTable.Labels[i]
	}

	var target []bool
	var predicted []float64
	for _, rec := range recs {
		label, ok := truthBySample[rec.Sample]
		if !ok {
			err = fmt.Errorf("sample %s has no truth label", rec.Sample)
			return 1
		}
		target = append(target, label == cmd.caseLabel)
		predicted = append(predicted, rec.Weights[scoreCol])
	}

	output, err := openOutput(*outputFilename, stdout)
	if err != nil {
		return 1
	}
	bufw := bufio.NewWriter(output)
	if cmd.singlePt {
		sensitivity, specificity := SpecificitySensitivity(target, predicted, cmd.threshold)
		fmt.Fprintf(bufw, "threshold\tsensitivity\tspecificity\n%v\t%v\t%v\n", cmd.threshold, sensitivity, specificity)
	} else {
		fprs, tprs, thresholds := NROCCurve(target, predicted, cmd.numThresh)
		fmt.Fprintf(bufw, "threshold\tfpr\ttpr\n")
		for i := range thresholds {
			fmt.Fprintf(bufw, "%v\t%v\t%v\n", thresholds[i], fprs[i], tprs[i])
		}
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
	return 0
}
