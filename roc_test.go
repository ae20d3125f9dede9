// Copyright (C) The Keraon Authors. All rights reserved.
//
// SPDX-License-Identifier: GPL-3.0

package keraon

import (
	"strings"

	"gopkg.in/check.v1"
)

type rocSuite struct{}

var _ = check.Suite(&rocSuite{})

func (s *rocSuite) TestSpecificitySensitivity(c *check.C) {
	target := []bool{true, true, false, false}
	predicted := []float64{0.9, 0.8, 0.2, 0.1}

	// perfect separation
	sens, spec := SpecificitySensitivity(target, predicted, 0.5)
	c.Check(sens, check.Equals, 1.0)
	c.Check(spec, check.Equals, 1.0)

	// threshold above every score: nothing called
	sens, spec = SpecificitySensitivity(target, predicted, 0.95)
	c.Check(sens, check.Equals, 0.0)
	c.Check(spec, check.Equals, 1.0)

	// threshold below every score: everything called
	sens, spec = SpecificitySensitivity(target, predicted, 0.05)
	c.Check(sens, check.Equals, 1.0)
	c.Check(spec, check.Equals, 0.0)

	// one false positive at 0.6
	sens, spec = SpecificitySensitivity([]bool{true, false, false}, []float64{0.9, 0.6, 0.1}, 0.5)
	c.Check(sens, check.Equals, 1.0)
	c.Check(spec, check.Equals, 0.5)
}

func (s *rocSuite) TestNROCCurve(c *check.C) {
	target := []bool{true, true, false, false}
	predicted := []float64{0.9, 0.8, 0.2, 0.1}
	fprs, tprs, thresholds := NROCCurve(target, predicted, 10)
	c.Assert(thresholds, check.HasLen, 11)
	c.Check(thresholds[0], check.Equals, 0.0)
	c.Check(thresholds[10], check.Equals, 1.0)
	// threshold 0 calls everything
	c.Check(fprs[0], check.Equals, 1.0)
	c.Check(tprs[0], check.Equals, 1.0)
	// threshold 1 calls nothing
	c.Check(fprs[10], check.Equals, 0.0)
	c.Check(tprs[10], check.Equals, 0.0)
	// a perfect classifier passes through (fpr=0, tpr=1)
	perfect := false
	for i := range thresholds {
		if fprs[i] == 0 && tprs[i] == 1 {
			perfect = true
		}
	}
	c.Check(perfect, check.Equals, true)
	// fpr and tpr are both nonincreasing in the threshold
	for i := 1; i < len(thresholds); i++ {
		c.Check(fprs[i] <= fprs[i-1], check.Equals, true)
		c.Check(tprs[i] <= tprs[i-1], check.Equals, true)
	}
}

func (s *rocSuite) TestReadPredictions(c *check.C) {
	input := `# keraon dev input blake2b 00ff
sample	TFX	TFX_shifted	A	B	Prediction
s1	0.25	0.3	0.75	0.25	A
s2	0.1	0.1	0.4	0.6	B
s3	0	0	0	0	NoSolution
`
	subtypes, recs, err := ReadPredictions(strings.NewReader(input))
	c.Assert(err, check.IsNil)
	c.Check(subtypes, check.DeepEquals, []string{"A", "B"})
	c.Assert(recs, check.HasLen, 3)
	c.Check(recs[0], check.DeepEquals, PredictionRecord{
		Sample: "s1", TFX: 0.25, TFXShifted: 0.3,
		Weights: []float64{0.75, 0.25}, Prediction: "A",
	})
	c.Check(recs[2].Prediction, check.Equals, NoSolution)

	_, _, err = ReadPredictions(strings.NewReader("foo\tbar\n"))
	c.Check(err, check.NotNil)

	_, _, err = ReadPredictions(strings.NewReader("sample\tTFX\tTFX_shifted\tA\tPrediction\ns1\tnope\t0\t1\tA\n"))
	c.Check(err, check.ErrorMatches, `line 2: TFX: .*`)
}
