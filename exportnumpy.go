// Copyright (C) The Keraon Authors. All rights reserved.
//
// SPDX-License-Identifier: GPL-3.0

package keraon

import (
	"bufio"
	"flag"
	"fmt"
	"io"

	"github.com/kshedden/gonpy"
	log "github.com/sirupsen/logrus"
)

type exportNumpyCmd struct{}

func (cmd *exportNumpyCmd) RunCommand(prog string, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
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
	samplesFilename := flags.String("samples-out", "", "write sample IDs and labels to `file`")
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
	if *samplesFilename != "" {
		err = writeSampleList(*samplesFilename, stdout, table)
		if err != nil {
			return 1
		}
	}

	rows, cols := table.Data.Dims()
	out := make([]float64, rows*cols)
	for i := 0; i < rows; i++ {
		copy(out[i*cols:(i+1)*cols], table.Data.RawRowView(i))
	}

	output, err := openOutput(*outputFilename, stdout)
	if err != nil {
		return 1
	}
	bufw := bufio.NewWriter(output)
	npw, err := gonpy.NewWriter(nopCloser{bufw})
	if err != nil {
		return 1
	}
	npw.Shape = []int{rows, cols}
	log.Printf("writing numpy: %d rows, %d cols", rows, cols)
	err = npw.WriteFloat64(out)
	if err != nil {
		return 1
	}
	err = bufw.Flush()
	if err != nil {
		return 1
	}
	err = output.Close()
	if err != nil {
		return 1
	}
	return 0
}
