// Copyright (C) The Keraon Authors. All rights reserved.
//
// SPDX-License-Identifier: GPL-3.0

package keraon

import (
	"fmt"

	"gonum.org/v1/gonum/floats"
)

// GramSchmidt orthonormalizes vectors in the order supplied. The
// inputs must be linearly independent: a residual with zero norm
// returns an error rather than propagating NaNs.
func GramSchmidt(vectors [][]float64) ([][]float64, error) {
	basis := make([][]float64, 0, len(vectors))
	for vi, v := range vectors {
		w := append([]float64(nil), v...)
		for _, b := range basis {
			floats.AddScaled(w, -floats.Dot(v, b), b)
		}
		norm := floats.Norm(w, 2)
		if norm == 0 {
			return nil, fmt.Errorf("degenerate basis: vector %d is linearly dependent on its predecessors", vi)
		}
		floats.Scale(1/norm, w)
		basis = append(basis, w)
	}
	return basis, nil
}

// ProjectOntoBasis expresses v in basis coordinates and returns those
// coordinates along with the residual left over after reconstructing
// the back-projection in the original space. The residual is the part
// of v the basis cannot explain.
func ProjectOntoBasis(v []float64, basis [][]float64) (coords, residual []float64) {
	coords = make([]float64, len(basis))
	recon := make([]float64, len(v))
	for i, b := range basis {
		coords[i] = floats.Dot(v, b)
		floats.AddScaled(recon, coords[i], b)
	}
	residual = make([]float64, len(v))
	floats.SubTo(residual, v, recon)
	return coords, residual
}

// simplexVolume computes the volume of the simplex spanned by the
// given vertices, recursively: the volume of the sub-simplex without
// the last vertex, times the distance from the last vertex to the
// first, over the vertex count. The single-vertex base case is that
// vertex's first coordinate, so the result can be negative; callers
// maximizing it treat sign as part of the score.
func simplexVolume(vertices [][]float64) float64 {
	n := len(vertices)
	if n == 1 {
		return vertices[0][0]
	}
	base := simplexVolume(vertices[:n-1])
	height := floats.Distance(vertices[n-1], vertices[0], 2)
	return base * height / float64(n)
}
