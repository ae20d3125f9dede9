// Copyright (C) The Keraon Authors. All rights reserved.
//
// SPDX-License-Identifier: GPL-3.0

package keraon

import (
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distmv"
)

// LogLikelihoods evaluates, for each subtype model, the multivariate
// normal log-density of x under the mixture mean
//
//	tfx*subtype.Mean + (1-tfx)*healthy.Mean
//
// with an identity covariance. The supplied covariance matrices are
// deliberately not mixed into the density: the identity simplification
// is inherited behavior and changing it changes every published TFX
// estimate, so it stays until the models themselves are revisited.
//
// There is no error path. Far-outlier feature vectors can push the
// density to -Inf; callers are expected to cope.
func LogLikelihoods(tfx float64, x []float64, healthy ReferenceModel, subtypes []ReferenceModel) []float64 {
	d := len(healthy.Mean)
	sigma := mat.NewSymDense(d, nil)
	for i := 0; i < d; i++ {
		sigma.SetSym(i, i, 1)
	}
	lls := make([]float64, len(subtypes))
	mixture := make([]float64, d)
	for si, subtype := range subtypes {
		for i := range mixture {
			mixture[i] = tfx*subtype.Mean[i] + (1-tfx)*healthy.Mean[i]
		}
		normal, ok := distmv.NewNormal(mixture, sigma, nil)
		if !ok {
			lls[si] = math.Inf(-1)
			continue
		}
		lls[si] = normal.LogProb(x)
	}
	return lls
}
