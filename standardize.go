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

	log "github.com/sirupsen/logrus"
)

type standardizeCmd struct{}

func (cmd *standardizeCmd) RunCommand(prog string, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
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
	scaleIn := flags.String("scale-in", "", "reuse min/range values from `file` (e.g. the training run's -scale-out)")
	scaleOut := flags.String("scale-out", "", "write min/range values to `file`")
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

	var mins, ranges map[string]float64
	if *scaleIn != "" {
		mins, ranges, err = readScale(*scaleIn, stdin)
		if err != nil {
			return 1
		}
	}
	log.Print("standardizing features by min/max")
	out, mins, ranges := table.MinMaxStandardize(mins, ranges)

	if *scaleOut != "" {
		var output io.WriteCloser
		output, err = openOutput(*scaleOut, stdout)
		if err != nil {
			return 1
		}
		bufw := bufio.NewWriter(output)
		fmt.Fprintf(bufw, "feature\tmin\trange\n")
		for _, f := range table.Features {
			fmt.Fprintf(bufw, "%s\t%v\t%v\n", f, mins[f], ranges[f])
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

func readScale(filename string, stdin io.Reader) (mins, ranges map[string]float64, err error) {
	input, err := openInput(filename, stdin)
	if err != nil {
		return nil, nil, err
	}
	defer input.Close()
	csvr := csv.NewReader(bufio.NewReader(input))
	csvr.Comma = '\t'
	header, err := csvr.Read()
	if err != nil {
		return nil, nil, fmt.Errorf("%s: read header: %w", filename, err)
	}
	if len(header) != 3 || header[0] != "feature" || header[1] != "min" || header[2] != "range" {
		return nil, nil, fmt.Errorf("%s: unrecognized scale header %q", filename, header)
	}
	mins, ranges = map[string]float64{}, map[string]float64{}
	for lineno := 2; ; lineno++ {
		rec, err := csvr.Read()
		if err == io.EOF {
			break
		} else if err != nil {
			return nil, nil, fmt.Errorf("%s: line %d: %w", filename, lineno, err)
		}
		if mins[rec[0]], err = strconv.ParseFloat(rec[1], 64); err != nil {
			return nil, nil, fmt.Errorf("%s: line %d: %w", filename, lineno, err)
		}
		if ranges[rec[0]], err = strconv.ParseFloat(rec[2], 64); err != nil {
			return nil, nil, fmt.Errorf("%s: line %d: %w", filename, lineno, err)
		}
	}
	return mins, ranges, nil
}
