// Copyright (C) The Keraon Authors. All rights reserved.
//
// SPDX-License-Identifier: GPL-3.0

package keraon

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat/distuv"
)

// ShapiroWilk returns the W statistic and the p-value for the null
// hypothesis that x was drawn from a normal distribution, using
// Royston's AS R94 approximation. Requires len(x) >= 3; smaller inputs
// return NaN. A zero-range sample has no defined W and returns p=0,
// so constant features are rejected rather than passed.
func ShapiroWilk(x []float64) (w, p float64) {
	n := len(x)
	if n < 3 {
		return math.NaN(), math.NaN()
	}
	sorted := append([]float64(nil), x...)
	sort.Float64s(sorted)
	if sorted[n-1] == sorted[0] {
		return 0, 0
	}

	// Expected normal order statistics (Blom scores).
	m := make([]float64, n)
	for i := range m {
		m[i] = distuv.UnitNormal.Quantile((float64(i+1) - 0.375) / (float64(n) + 0.25))
	}
	ssq := floats.Dot(m, m)

	// Royston's polynomial-corrected weights.
	a := make([]float64, n)
	if n == 3 {
		a[2] = math.Sqrt(0.5)
		a[0] = -a[2]
	} else {
		u := 1 / math.Sqrt(float64(n))
		an := poly(u, 0.221157, -0.147981, -2.071190, 4.434685, -2.706056) + m[n-1]/math.Sqrt(ssq)
		if n > 5 {
			an1 := poly(u, 0.042981, -0.293762, -1.752461, 5.682633, -3.582633) + m[n-2]/math.Sqrt(ssq)
			phi := (ssq - 2*m[n-1]*m[n-1] - 2*m[n-2]*m[n-2]) / (1 - 2*an*an - 2*an1*an1)
			a[n-1], a[n-2] = an, an1
			a[0], a[1] = -an, -an1
			for i := 2; i < n-2; i++ {
				a[i] = m[i] / math.Sqrt(phi)
			}
		} else {
			phi := (ssq - 2*m[n-1]*m[n-1]) / (1 - 2*an*an)
			a[n-1] = an
			a[0] = -an
			for i := 1; i < n-1; i++ {
				a[i] = m[i] / math.Sqrt(phi)
			}
		}
	}

	mean := floats.Sum(sorted) / float64(n)
	num, den := 0.0, 0.0
	for i, v := range sorted {
		num += a[i] * v
		den += (v - mean) * (v - mean)
	}
	w = num * num / den
	if w > 1 {
		w = 1
	}

	fn := float64(n)
	switch {
	case n == 3:
		p = 6 / math.Pi * (math.Asin(math.Sqrt(w)) - math.Asin(math.Sqrt(0.75)))
		p = math.Max(0, math.Min(1, p))
	case n <= 11:
		g := -2.273 + 0.459*fn
		mu := 0.5440 - 0.39978*fn + 0.025054*fn*fn - 0.0006714*fn*fn*fn
		sigma := math.Exp(1.3822 - 0.77857*fn + 0.062767*fn*fn - 0.0020322*fn*fn*fn)
		z := (-math.Log(g-math.Log(1-w)) - mu) / sigma
		p = distuv.UnitNormal.Survival(z)
	default:
		ln := math.Log(fn)
		mu := -1.5861 - 0.31082*ln - 0.083751*ln*ln + 0.0038915*ln*ln*ln
		sigma := math.Exp(-0.4803 - 0.082676*ln + 0.0030302*ln*ln)
		z := (math.Log(1-w) - mu) / sigma
		p = distuv.UnitNormal.Survival(z)
	}
	return w, p
}

// poly evaluates c0*x + c1*x^2 + ... + c4*x^5.
func poly(x float64, c ...float64) float64 {
	v, xp := 0.0, x
	for _, ci := range c {
		v += ci * xp
		xp *= x
	}
	return v
}
