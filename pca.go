// Copyright (C) The Keraon Authors. All rights reserved.
//
// SPDX-License-Identifier: GPL-3.0

package keraon

import (
	"bufio"
	"flag"
	"fmt"
	"io"
	"net/http"
	_ "net/http/pprof"

	"github.com/james-bowman/nlp"
	"github.com/kshedden/gonpy"
	log "github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/mat"
)

type pcaCmd struct {
	components int
}

func (cmd *pcaCmd) RunCommand(prog string, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	var err error
	defer func() {
		if err != nil {
			fmt.Fprintf(stderr, "%s\n", err)
		}
	}()
	flags := flag.NewFlagSet("", flag.ContinueOnError)
	flags.SetOutput(stderr)
	pprof := flags.String("pprof", "", "serve Go profile data at http://`[addr]:port`")
	inputFilename := flags.String("i", "-", "input `file`")
	outputFilename := flags.String("o", "-", "output `file`")
	samplesFilename := flags.String("samples-out", "", "write sample IDs and labels to `file`")
	flags.IntVar(&cmd.components, "components", 4, "number of components")
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

	table, err := loadFeatureTable(*inputFilename, stdin)
	if err != nil {
		return 1
	}
	log.Printf("PCA input: %d samples, %d features", len(table.Samples), len(table.Features))

	// nlp treats columns as observations, so work transposed.
	mtx := mat.Matrix(table.Data.T())
	log.Print("fitting")
	transformer := nlp.NewPCA(cmd.components)
	transformer.Fit(mtx)
	log.Print("transforming")
	mtx, err = transformer.Transform(mtx)
	if err != nil {
		return 1
	}
	mtx = mtx.T()

	rows, cols := mtx.Dims()
	out := make([]float64, rows*cols)
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			out[i*cols+j] = mtx.At(i, j)
		}
	}

	if *samplesFilename != "" {
		err = writeSampleList(*samplesFilename, stdout, table)
		if err != nil {
			return 1
		}
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
	log.Print("done")
	return 0
}

func writeSampleList(filename string, stdout io.Writer, t *FeatureTable) error {
	output, err := openOutput(filename, stdout)
	if err != nil {
		return err
	}
	bufw := bufio.NewWriter(output)
	for i, sample := range t.Samples {
		fmt.Fprintf(bufw, "%s\t%s\n", sample, t.Labels[i])
	}
	if err := bufw.Flush(); err != nil {
		output.Close()
		return err
	}
	return output.Close()
}
