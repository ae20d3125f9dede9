// Copyright (C) The Keraon Authors. All rights reserved.
//
// SPDX-License-Identifier: GPL-3.0

package keraon

import (
	"bufio"
	"flag"
	"fmt"
	"io"

	log "github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/mat"
)

// A PValueTable holds the per-feature, per-subtype normality p-values
// computed by FilterNormal, for all features (not just the retained
// ones).
type PValueTable struct {
	Features []string
	Subtypes []string
	P        *mat.Dense
}

// Adjusted returns 1 minus the mean p-value across subtypes for
// feature i, a ranking score where higher means less normal.
func (pt *PValueTable) Adjusted(i int) float64 {
	sum := 0.0
	for j := range pt.Subtypes {
		sum += pt.P.At(i, j)
	}
	return 1 - sum/float64(len(pt.Subtypes))
}

// WriteTSV writes the p-value table with one row per feature, one
// column per subtype, and the adjusted p-value last.
func (pt *PValueTable) WriteTSV(w io.Writer) error {
	bufw := bufio.NewWriter(w)
	fmt.Fprintf(bufw, "feature")
	for _, subtype := range pt.Subtypes {
		fmt.Fprintf(bufw, "\t%s_p-value", subtype)
	}
	fmt.Fprintf(bufw, "\tp-adjusted\n")
	for i, f := range pt.Features {
		fmt.Fprintf(bufw, "%s", f)
		for j := range pt.Subtypes {
			fmt.Fprintf(bufw, "\t%v", pt.P.At(i, j))
		}
		fmt.Fprintf(bufw, "\t%v\n", pt.Adjusted(i))
	}
	return bufw.Flush()
}

// FilterNormal tests every feature for normality within every subtype
// (Shapiro-Wilk) and returns the table restricted to features whose
// p-value exceeds threshold in all subtypes, plus the full p-value
// table. A subtype with fewer than 3 samples cannot be tested and is
// scored 1.0 — too little data to reject normality.
func FilterNormal(t *FeatureTable, threshold float64) (*FeatureTable, *PValueTable, error) {
	subtypes, mats := t.Partition()
	pt := &PValueTable{
		Features: append([]string(nil), t.Features...),
		Subtypes: subtypes,
		P:        mat.NewDense(len(t.Features), len(subtypes), nil),
	}
	var kept []string
	for j, feature := range t.Features {
		keep := true
		for si, m := range mats {
			col := mat.Col(nil, j, m)
			var p float64
			if len(col) < 3 {
				log.Warnf("skipping Shapiro-Wilk test for %s in %s: %d data points", feature, subtypes[si], len(col))
				p = 1.0
			} else {
				_, p = ShapiroWilk(col)
			}
			pt.P.Set(j, si, p)
			if !(p > threshold) {
				keep = false
			}
		}
		if keep {
			kept = append(kept, feature)
		}
	}
	out, err := t.Restrict(kept)
	if err != nil {
		return nil, nil, err
	}
	return out, pt, nil
}

type normFilterCmd struct {
	threshold float64
}

func (cmd *normFilterCmd) RunCommand(prog string, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
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
	pvalueFilename := flags.String("p-values", "", "write the full Shapiro-Wilk p-value table to `file`")
	flags.Float64Var(&cmd.threshold, "threshold", 0.05, "minimum `p-value` for a feature to count as normal")
	err = flags.Parse(args)
	if err == flag.ErrHelp {
		err = nil
		return 0
	} else if err != nil {
		return 2
	}

	table, err := loadFeatureTable(*inputFilename, stdin)
	if err != nil {
		return 1
	}
	log.Printf("normal expression analysis: %d features, %d subtypes", len(table.Features), len(table.Subtypes()))
	out, pvalues, err := FilterNormal(table, cmd.threshold)
	if err != nil {
		return 1
	}
	log.Printf("%d of %d features normal in all subtypes at p > %v", len(out.Features), len(table.Features), cmd.threshold)

	if *pvalueFilename != "" {
		var pvout io.WriteCloser
		pvout, err = openOutput(*pvalueFilename, stdout)
		if err != nil {
			return 1
		}
		err = pvalues.WriteTSV(pvout)
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
