// Copyright (C) The Keraon Authors. All rights reserved.
//
// SPDX-License-Identifier: GPL-3.0

package keraon

import (
	"math"
	"strings"

	"gopkg.in/check.v1"
	"gonum.org/v1/gonum/mat"
)

type selectSuite struct{}

var _ = check.Suite(&selectSuite{})

// Three classes, four features. f1 separates B from A and C, f2
// separates C from A and B; f3 and f4 have identical class means, so
// no mask missing f1 or f2 can keep all three class means apart.
// All values are dyadic so class means are exact.
const selectTable = `sample	Subtype	f1	f2	f3	f4
a1	A	0.109375	0.09375	0.5	0.0
a2	A	0.140625	0.15625	0.75	0.25
a3	A	0.09375	0.140625	0.25	0.75
a4	A	0.15625	0.109375	0.5	1.0
b1	B	0.859375	0.140625	0.75	1.0
b2	B	0.890625	0.109375	0.5	0.75
b3	B	0.84375	0.09375	0.5	0.25
b4	B	0.90625	0.15625	0.25	0.0
c1	C	0.109375	0.90625	0.25	0.25
c2	C	0.140625	0.84375	0.5	0.0
c3	C	0.09375	0.859375	0.75	1.0
c4	C	0.15625	0.890625	0.5	0.75
`

func (s *selectSuite) TestSelectFeatures(c *check.C) {
	t, err := ReadFeatureTable(strings.NewReader(selectTable))
	c.Assert(err, check.IsNil)
	out, score, err := SelectFeatures(t, SelectConfig{Threads: 4})
	c.Assert(err, check.IsNil)
	c.Check(out.Features, check.DeepEquals, []string{"f1", "f2"})
	c.Check(score > 0, check.Equals, true)
	c.Check(out.Samples, check.DeepEquals, t.Samples)
	c.Check(out.Labels, check.DeepEquals, t.Labels)
}

func (s *selectSuite) TestSelectFeaturesDeterministic(c *check.C) {
	t, err := ReadFeatureTable(strings.NewReader(selectTable))
	c.Assert(err, check.IsNil)
	first, score1, err := SelectFeatures(t, SelectConfig{Threads: 8})
	c.Assert(err, check.IsNil)
	second, score2, err := SelectFeatures(t, SelectConfig{Threads: 2})
	c.Assert(err, check.IsNil)
	c.Check(second.Features, check.DeepEquals, first.Features)
	c.Check(score2, check.Equals, score1)

	// sampled seeding is deterministic for a fixed seed too
	first, score1, err = SelectFeatures(t, SelectConfig{MaxCombos: 3, Seed: 42, Threads: 4})
	c.Assert(err, check.IsNil)
	second, score2, err = SelectFeatures(t, SelectConfig{MaxCombos: 3, Seed: 42, Threads: 4})
	c.Assert(err, check.IsNil)
	c.Check(second.Features, check.DeepEquals, first.Features)
	c.Check(score2, check.Equals, score1)
}

func (s *selectSuite) TestObjectivePenalizesNonPSD(c *check.C) {
	// one class has a single sample, so its covariance is undefined
	good := mat.NewDense(3, 2, []float64{0, 0, 0.1, 0.1, 0.2, 0.3})
	lone := mat.NewDense(1, 2, []float64{1, 1})
	objective := simplexObjective([]*mat.Dense{good, lone})
	c.Check(objective([]bool{true, true}), check.Equals, nonPSDScore)

	// and it scores below any feasible mask's objective
	t, err := ReadFeatureTable(strings.NewReader(selectTable))
	c.Assert(err, check.IsNil)
	_, mats := t.Partition()
	feasible := simplexObjective(mats)([]bool{true, true, false, false})
	c.Check(feasible > nonPSDScore, check.Equals, true)
}

func (s *selectSuite) TestObjectiveEmptyMask(c *check.C) {
	t, err := ReadFeatureTable(strings.NewReader(selectTable))
	c.Assert(err, check.IsNil)
	_, mats := t.Partition()
	c.Check(math.IsInf(simplexObjective(mats)([]bool{false, false, false, false}), -1), check.Equals, true)
}

func (s *selectSuite) TestSingleSubtype(c *check.C) {
	// one subtype: zero anchors, greedy growth from the empty mask
	t, err := ReadFeatureTable(strings.NewReader(`sample	Subtype	g1	g2
x1	X	0.234375	0.71875
x2	X	0.265625	0.78125
x3	X	0.21875	0.734375
x4	X	0.28125	0.765625
`))
	c.Assert(err, check.IsNil)
	out, score, err := SelectFeatures(t, SelectConfig{Threads: 1})
	c.Assert(err, check.IsNil)
	c.Check(out.Features, check.DeepEquals, []string{"g2"})
	c.Check(score, check.Equals, 0.75)
}

func (s *selectSuite) TestTooFewFeatures(c *check.C) {
	t, err := ReadFeatureTable(strings.NewReader(`sample	Subtype	f1
s1	A	1
s2	B	2
s3	C	3
`))
	c.Assert(err, check.IsNil)
	_, _, err = SelectFeatures(t, SelectConfig{})
	c.Check(err, check.ErrorMatches, `3 subtypes need at least 2 features, table has 1`)
}

func (s *selectSuite) TestForEachCombination(c *check.C) {
	var got [][]int
	forEachCombination(4, 2, func(combo []int) {
		got = append(got, append([]int(nil), combo...))
	})
	c.Check(got, check.DeepEquals, [][]int{{0, 1}, {0, 2}, {0, 3}, {1, 2}, {1, 3}, {2, 3}})
	n := 0
	forEachCombination(3, 0, func(combo []int) {
		c.Check(combo, check.HasLen, 0)
		n++
	})
	c.Check(n, check.Equals, 1)
	c.Check(binomial(5, 2), check.Equals, 10.0)
}
