// Copyright (C) The Keraon Authors. All rights reserved.
//
// SPDX-License-Identifier: GPL-3.0

package keraon

import (
	"bufio"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"

	"gonum.org/v1/gonum/mat"
)

// A ReferenceModel holds the fitted statistics for one population
// (healthy, or one tumor subtype): a mean vector and a covariance
// matrix over the same ordered feature set.
//
// The covariance must be positive semi-definite for any density built
// on it to be meaningful. That is a caller contract: nothing in the
// likelihood path checks it (the feature-selection objective does,
// because there it decides scores rather than correctness).
type ReferenceModel struct {
	Name string
	Mean []float64
	Cov  *mat.SymDense
}

// BuildReferenceModels fits one model per subtype from a labeled
// table, in Subtypes() order.
func BuildReferenceModels(t *FeatureTable) []ReferenceModel {
	subtypes, mats := t.Partition()
	models := make([]ReferenceModel, len(subtypes))
	for i, m := range mats {
		mean, cov := matrixStats(m)
		models[i] = ReferenceModel{Name: subtypes[i], Mean: mean, Cov: cov}
	}
	return models
}

// isPositiveSemiDefinite reports whether all eigenvalues of sym are
// nonnegative. A failed factorization counts as not PSD.
func isPositiveSemiDefinite(sym *mat.SymDense) bool {
	var eig mat.EigenSym
	if !eig.Factorize(sym, false) {
		return false
	}
	for _, ev := range eig.Values(nil) {
		if !(ev >= 0) {
			return false
		}
	}
	return true
}

// WriteReferenceModels writes models as TSV: one row per population
// and feature, carrying the mean and that feature's covariance row.
func WriteReferenceModels(w io.Writer, features []string, models []ReferenceModel) error {
	bufw := bufio.NewWriter(w)
	fmt.Fprintf(bufw, "population\tfeature\tmean")
	for _, f := range features {
		fmt.Fprintf(bufw, "\tcov:%s", f)
	}
	bufw.WriteByte('\n')
	for _, model := range models {
		if len(model.Mean) != len(features) {
			return fmt.Errorf("model %s has %d features, expected %d", model.Name, len(model.Mean), len(features))
		}
		for i, f := range features {
			fmt.Fprintf(bufw, "%s\t%s\t%v", model.Name, f, model.Mean[i])
			for j := range features {
				fmt.Fprintf(bufw, "\t%v", model.Cov.At(i, j))
			}
			bufw.WriteByte('\n')
		}
	}
	return bufw.Flush()
}

// ReadReferenceModels reads the WriteReferenceModels format and
// returns the feature order and the models in file order.
func ReadReferenceModels(rdr io.Reader) ([]string, []ReferenceModel, error) {
	csvr := csv.NewReader(rdr)
	csvr.Comma = '\t'
	header, err := csvr.Read()
	if err != nil {
		return nil, nil, fmt.Errorf("read header: %w", err)
	}
	if len(header) < 4 || header[0] != "population" || header[1] != "feature" || header[2] != "mean" {
		return nil, nil, fmt.Errorf("unrecognized reference model header %q", header)
	}
	features := make([]string, len(header)-3)
	for i, name := range header[3:] {
		if len(name) < 5 || name[:4] != "cov:" {
			return nil, nil, fmt.Errorf("unrecognized covariance column %q", name)
		}
		features[i] = name[4:]
	}
	d := len(features)
	var models []ReferenceModel
	cur := -1
	row := 0
	for lineno := 2; ; lineno++ {
		rec, err := csvr.Read()
		if err == io.EOF {
			break
		} else if err != nil {
			return nil, nil, fmt.Errorf("line %d: %w", lineno, err)
		}
		if cur < 0 || rec[0] != models[cur].Name {
			if cur >= 0 && row != d {
				return nil, nil, fmt.Errorf("model %s has %d rows, expected %d", models[cur].Name, row, d)
			}
			models = append(models, ReferenceModel{
				Name: rec[0],
				Mean: make([]float64, d),
				Cov:  mat.NewSymDense(d, nil),
			})
			cur++
			row = 0
		}
		if row >= d {
			return nil, nil, fmt.Errorf("line %d: too many rows for model %s", lineno, rec[0])
		}
		if rec[1] != features[row] {
			return nil, nil, fmt.Errorf("line %d: feature %q out of order, expected %q", lineno, rec[1], features[row])
		}
		if models[cur].Mean[row], err = strconv.ParseFloat(rec[2], 64); err != nil {
			return nil, nil, fmt.Errorf("line %d: mean: %w", lineno, err)
		}
		for j := 0; j < d; j++ {
			v, err := strconv.ParseFloat(rec[3+j], 64)
			if err != nil {
				return nil, nil, fmt.Errorf("line %d: covariance: %w", lineno, err)
			}
			if j >= row {
				models[cur].Cov.SetSym(row, j, v)
			}
		}
		row++
	}
	if cur < 0 {
		return nil, nil, fmt.Errorf("no reference models found")
	}
	if row != d {
		return nil, nil, fmt.Errorf("model %s has %d rows, expected %d", models[cur].Name, row, d)
	}
	return features, models, nil
}
