// Copyright (C) The Keraon Authors. All rights reserved.
//
// SPDX-License-Identifier: GPL-3.0

package keraon

import (
	"bufio"
	"encoding/csv"
	"fmt"
	"io"
	"io/ioutil"
	"os"
	"strconv"
	"strings"

	"github.com/klauspost/pgzip"
	"golang.org/x/crypto/blake2b"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// labelColumn is the reserved column identifying each sample's subtype.
const labelColumn = "Subtype"

// A FeatureTable is a labeled feature-by-sample matrix. Samples, Labels,
// and the rows of Data are parallel; Features and the columns of Data
// are parallel. Transformations return new tables and leave the
// receiver unmodified.
type FeatureTable struct {
	Samples  []string
	Labels   []string
	Features []string
	Data     *mat.Dense
}

// ReadFeatureTable reads a TSV table whose first column is the sample
// ID and whose remaining columns are the reserved Subtype label column
// and one column per feature, in file order.
func ReadFeatureTable(rdr io.Reader) (*FeatureTable, error) {
	csvr := csv.NewReader(rdr)
	csvr.Comma = '\t'
	header, err := csvr.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	if len(header) < 2 {
		return nil, fmt.Errorf("table needs a sample column and a %s column, got %d columns", labelColumn, len(header))
	}
	labelcol := -1
	var features []string
	for i, name := range header[1:] {
		if name == labelColumn {
			if labelcol >= 0 {
				return nil, fmt.Errorf("duplicate %s column", labelColumn)
			}
			labelcol = i + 1
		} else {
			features = append(features, name)
		}
	}
	if labelcol < 0 {
		return nil, fmt.Errorf("missing %s column", labelColumn)
	}
	t := &FeatureTable{Features: features}
	var values []float64
	for lineno := 2; ; lineno++ {
		rec, err := csvr.Read()
		if err == io.EOF {
			break
		} else if err != nil {
			return nil, fmt.Errorf("line %d: %w", lineno, err)
		}
		t.Samples = append(t.Samples, rec[0])
		t.Labels = append(t.Labels, rec[labelcol])
		for i, field := range rec[1:] {
			if i+1 == labelcol {
				continue
			}
			v, err := strconv.ParseFloat(strings.TrimSpace(field), 64)
			if err != nil {
				return nil, fmt.Errorf("line %d, column %s: %w", lineno, header[i+1], err)
			}
			values = append(values, v)
		}
	}
	if len(t.Samples) == 0 {
		return nil, fmt.Errorf("table has no data rows")
	}
	if len(features) == 0 {
		// a filter that rejects every feature writes such a table
		return nil, fmt.Errorf("table has no feature columns")
	}
	t.Data = mat.NewDense(len(t.Samples), len(features), values)
	return t, nil
}

// WriteTSV writes the table in the format ReadFeatureTable accepts.
func (t *FeatureTable) WriteTSV(w io.Writer) error {
	bufw := bufio.NewWriter(w)
	fmt.Fprintf(bufw, "sample\t%s", labelColumn)
	for _, f := range t.Features {
		fmt.Fprintf(bufw, "\t%s", f)
	}
	bufw.WriteByte('\n')
	for i, sample := range t.Samples {
		fmt.Fprintf(bufw, "%s\t%s", sample, t.Labels[i])
		for j := range t.Features {
			fmt.Fprintf(bufw, "\t%v", t.Data.At(i, j))
		}
		bufw.WriteByte('\n')
	}
	return bufw.Flush()
}

// Fingerprint returns the blake2b-256 digest of the serialized table,
// recorded in output artifacts so results can be traced to their input.
func (t *FeatureTable) Fingerprint() string {
	h, _ := blake2b.New256(nil)
	t.WriteTSV(h)
	return fmt.Sprintf("%x", h.Sum(nil))
}

// Subtypes returns the distinct labels in order of first appearance.
// This ordering is what ties mean vectors, covariance matrices, and
// prediction weight columns together for a run.
func (t *FeatureTable) Subtypes() []string {
	var subtypes []string
	seen := map[string]bool{}
	for _, label := range t.Labels {
		if !seen[label] {
			seen[label] = true
			subtypes = append(subtypes, label)
		}
	}
	return subtypes
}

// Partition splits the rows by subtype, returning one matrix per
// subtype in Subtypes() order.
func (t *FeatureTable) Partition() ([]string, []*mat.Dense) {
	subtypes := t.Subtypes()
	mats := make([]*mat.Dense, len(subtypes))
	for si, subtype := range subtypes {
		if len(t.Features) == 0 {
			// zero-column table from Restrict(nil)
			mats[si] = &mat.Dense{}
			continue
		}
		var rows []float64
		n := 0
		for i, label := range t.Labels {
			if label == subtype {
				rows = append(rows, t.Data.RawRowView(i)...)
				n++
			}
		}
		mats[si] = mat.NewDense(n, len(t.Features), rows)
	}
	return subtypes, mats
}

// Restrict returns a copy of the table containing only the named
// feature columns, in the order given.
func (t *FeatureTable) Restrict(features []string) (*FeatureTable, error) {
	colidx := make([]int, len(features))
	for i, f := range features {
		colidx[i] = -1
		for j, have := range t.Features {
			if have == f {
				colidx[i] = j
				break
			}
		}
		if colidx[i] < 0 {
			return nil, fmt.Errorf("no such feature %q", f)
		}
	}
	out := &FeatureTable{
		Samples:  append([]string(nil), t.Samples...),
		Labels:   append([]string(nil), t.Labels...),
		Features: append([]string(nil), features...),
	}
	if len(features) == 0 {
		// every feature filtered out; still a valid (empty) table
		out.Data = &mat.Dense{}
		return out, nil
	}
	out.Data = mat.NewDense(len(t.Samples), len(features), nil)
	for i := range t.Samples {
		for j, col := range colidx {
			out.Data.Set(i, j, t.Data.At(i, col))
		}
	}
	return out, nil
}

// Row returns a copy of sample i's feature vector.
func (t *FeatureTable) Row(i int) []float64 {
	return append([]float64(nil), t.Data.RawRowView(i)...)
}

// MinMaxStandardize rescales every feature to [0,1] by min/range. If
// mins and ranges are nil they are computed from the table itself;
// supplying the training set's values keeps validation data on the
// training scale.
func (t *FeatureTable) MinMaxStandardize(mins, ranges map[string]float64) (*FeatureTable, map[string]float64, map[string]float64) {
	if mins == nil || ranges == nil {
		mins, ranges = map[string]float64{}, map[string]float64{}
		for j, f := range t.Features {
			col := mat.Col(nil, j, t.Data)
			lo, hi := col[0], col[0]
			for _, v := range col {
				if v < lo {
					lo = v
				}
				if v > hi {
					hi = v
				}
			}
			mins[f] = lo
			ranges[f] = hi - lo
		}
	}
	out := &FeatureTable{
		Samples:  append([]string(nil), t.Samples...),
		Labels:   append([]string(nil), t.Labels...),
		Features: append([]string(nil), t.Features...),
		Data:     mat.NewDense(len(t.Samples), len(t.Features), nil),
	}
	for j, f := range t.Features {
		lo, ok := mins[f]
		if !ok {
			lo = 0
		}
		span := ranges[f]
		for i := range t.Samples {
			v := t.Data.At(i, j) - lo
			if span != 0 {
				v /= span
			}
			out.Data.Set(i, j, v)
		}
	}
	return out, mins, ranges
}

// matrixStats returns the column means and sample covariance of m.
func matrixStats(m *mat.Dense) ([]float64, *mat.SymDense) {
	_, c := m.Dims()
	mean := make([]float64, c)
	for j := 0; j < c; j++ {
		mean[j] = stat.Mean(mat.Col(nil, j, m), nil)
	}
	cov := mat.NewSymDense(c, nil)
	stat.CovarianceMatrix(cov, m, nil)
	return mean, cov
}

// openInput opens filename for reading, with "-" meaning stdin and a
// .gz suffix selecting transparent decompression.
func openInput(filename string, stdin io.Reader) (io.ReadCloser, error) {
	var input io.ReadCloser
	if filename == "-" {
		input = ioutil.NopCloser(stdin)
	} else {
		f, err := os.Open(filename)
		if err != nil {
			return nil, err
		}
		input = f
	}
	if strings.HasSuffix(filename, ".gz") {
		gzr, err := pgzip.NewReader(bufio.NewReaderSize(input, 4*1024*1024))
		if err != nil {
			input.Close()
			return nil, err
		}
		return gzipReadCloser{gzr, input}, nil
	}
	return input, nil
}

type gzipReadCloser struct {
	*pgzip.Reader
	raw io.Closer
}

func (g gzipReadCloser) Close() error {
	err := g.Reader.Close()
	if cerr := g.raw.Close(); err == nil {
		err = cerr
	}
	return err
}

// openOutput opens filename for writing, with "-" meaning stdout and a
// .gz suffix selecting compression.
func openOutput(filename string, stdout io.Writer) (io.WriteCloser, error) {
	var output io.WriteCloser
	if filename == "-" {
		output = nopCloser{stdout}
	} else {
		f, err := os.OpenFile(filename, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0777)
		if err != nil {
			return nil, err
		}
		output = f
	}
	if strings.HasSuffix(filename, ".gz") {
		return gzipWriteCloser{pgzip.NewWriter(output), output}, nil
	}
	return output, nil
}

type gzipWriteCloser struct {
	*pgzip.Writer
	raw io.WriteCloser
}

func (g gzipWriteCloser) Close() error {
	err := g.Writer.Close()
	if cerr := g.raw.Close(); err == nil {
		err = cerr
	}
	return err
}

func loadFeatureTable(filename string, stdin io.Reader) (*FeatureTable, error) {
	input, err := openInput(filename, stdin)
	if err != nil {
		return nil, err
	}
	defer input.Close()
	t, err := ReadFeatureTable(bufio.NewReader(input))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filename, err)
	}
	return t, nil
}
