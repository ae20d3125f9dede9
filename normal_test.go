// Copyright (C) The Keraon Authors. All rights reserved.
//
// SPDX-License-Identifier: GPL-3.0

package keraon

import (
	"bytes"
	"fmt"
	"math"
	"strings"

	"gopkg.in/check.v1"
	"gonum.org/v1/gonum/stat/distuv"
)

type normalSuite struct{}

var _ = check.Suite(&normalSuite{})

// normalScores returns n values at ideal normal quantiles: as normal
// as a sample of size n can look.
func normalScores(n int) []float64 {
	x := make([]float64, n)
	for i := range x {
		x[i] = distuv.UnitNormal.Quantile((float64(i+1) - 0.375) / (float64(n) + 0.25))
	}
	return x
}

// exponentialScores returns n values at ideal exponential quantiles:
// strongly right-skewed.
func exponentialScores(n int) []float64 {
	x := make([]float64, n)
	for i := range x {
		x[i] = -math.Log(1 - (float64(i)+0.5)/float64(n))
	}
	return x
}

func (s *normalSuite) TestShapiroWilk(c *check.C) {
	w, p := ShapiroWilk(normalScores(20))
	c.Check(w > 0.95, check.Equals, true)
	c.Check(p > 0.05, check.Equals, true)

	w, p = ShapiroWilk(exponentialScores(20))
	c.Check(w < 0.95, check.Equals, true)
	c.Check(p < 0.05, check.Equals, true)

	// skew dominates at any tested sample size
	for _, n := range []int{5, 8, 12, 50} {
		_, pnorm := ShapiroWilk(normalScores(n))
		_, pskew := ShapiroWilk(exponentialScores(n))
		c.Check(pnorm > pskew, check.Equals, true)
	}
}

func (s *normalSuite) TestShapiroWilkDegenerate(c *check.C) {
	w, p := ShapiroWilk([]float64{1, 2})
	c.Check(math.IsNaN(w), check.Equals, true)
	c.Check(math.IsNaN(p), check.Equals, true)

	// constant sample: W undefined, feature must not pass as normal
	w, p = ShapiroWilk([]float64{0.5, 0.5, 0.5, 0.5, 0.5})
	c.Check(w, check.Equals, 0.0)
	c.Check(p, check.Equals, 0.0)

	// minimum size, symmetric: obviously cannot reject
	_, p = ShapiroWilk([]float64{1, 2, 3})
	c.Check(p > 0.5, check.Equals, true)
}

func normFilterTable() string {
	var buf strings.Builder
	buf.WriteString("sample\tSubtype\tgauss\tskewed\tflat\n")
	gauss, skew := normalScores(20), exponentialScores(20)
	for i := 0; i < 20; i++ {
		fmt.Fprintf(&buf, "a%d\tA\t%v\t%v\t1.0\n", i, gauss[i], skew[i])
	}
	for i := 0; i < 20; i++ {
		fmt.Fprintf(&buf, "b%d\tB\t%v\t%v\t1.0\n", i, gauss[i], skew[i])
	}
	return buf.String()
}

func (s *normalSuite) TestFilterNormal(c *check.C) {
	t, err := ReadFeatureTable(strings.NewReader(normFilterTable()))
	c.Assert(err, check.IsNil)
	out, pvalues, err := FilterNormal(t, 0.05)
	c.Assert(err, check.IsNil)
	c.Check(out.Features, check.DeepEquals, []string{"gauss"})
	c.Check(pvalues.Features, check.DeepEquals, []string{"gauss", "skewed", "flat"})
	c.Check(pvalues.Subtypes, check.DeepEquals, []string{"A", "B"})
	// zero-variance column is flagged, not silently passed
	c.Check(pvalues.P.At(2, 0), check.Equals, 0.0)
	c.Check(pvalues.P.At(2, 1), check.Equals, 0.0)
	c.Check(pvalues.Adjusted(2), check.Equals, 1.0)
	// retained feature: normal in every subtype
	c.Check(pvalues.P.At(0, 0) > 0.05, check.Equals, true)
	c.Check(pvalues.P.At(0, 1) > 0.05, check.Equals, true)

	var buf bytes.Buffer
	c.Assert(pvalues.WriteTSV(&buf), check.IsNil)
	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	c.Assert(lines, check.HasLen, 4)
	c.Check(lines[0], check.Equals, "feature\tA_p-value\tB_p-value\tp-adjusted")
	c.Check(strings.HasPrefix(lines[3], "flat\t0\t0\t1"), check.Equals, true)
}

func (s *normalSuite) TestFilterNormalTinyPartition(c *check.C) {
	// a subtype with fewer than 3 samples cannot be tested: p=1.0
	t, err := ReadFeatureTable(strings.NewReader(`sample	Subtype	f1
s1	A	1.5
s2	A	2.5
s3	B	0.1
s4	B	0.2
s5	B	0.4
s6	B	0.3
s7	B	0.15
`))
	c.Assert(err, check.IsNil)
	out, pvalues, err := FilterNormal(t, 0.05)
	c.Assert(err, check.IsNil)
	c.Check(pvalues.P.At(0, 0), check.Equals, 1.0)
	c.Check(pvalues.P.At(0, 1) > 0, check.Equals, true)
	c.Check(len(out.Features) <= 1, check.Equals, true)
}
