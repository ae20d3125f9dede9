// Copyright (C) The Keraon Authors. All rights reserved.
//
// SPDX-License-Identifier: GPL-3.0

package keraon

import (
	"fmt"
	"strings"

	"gopkg.in/check.v1"
)

type assocSuite struct{}

var _ = check.Suite(&assocSuite{})

// assocTable: "assoc" tracks the ARPC label with overlap (so the
// logistic fit stays finite), "noise" is independent of it, "flat" is
// constant and unfittable.
func assocTable() string {
	assoc := []float64{0.9, 0.8, 0.85, 0.95, 0.7, 0.4, 0.1, 0.2, 0.15, 0.05, 0.3, 0.6}
	noise := []float64{0.1, 0.9, 0.2, 0.8, 0.3, 0.7, 0.15, 0.85, 0.25, 0.75, 0.35, 0.65}
	var buf strings.Builder
	buf.WriteString("sample\tSubtype\tassoc\tnoise\tflat\n")
	for i := 0; i < 12; i++ {
		label := "ARPC"
		if i >= 6 {
			label = "NEPC"
		}
		fmt.Fprintf(&buf, "s%d\t%s\t%v\t%v\t1.0\n", i, label, assoc[i], noise[i])
	}
	return buf.String()
}

func (s *assocSuite) TestFilterAssoc(c *check.C) {
	t, err := ReadFeatureTable(strings.NewReader(assocTable()))
	c.Assert(err, check.IsNil)
	out, pvalues, err := FilterAssoc(t, "ARPC", 0.05)
	c.Assert(err, check.IsNil)
	c.Check(out.Features, check.DeepEquals, []string{"assoc"})
	c.Assert(pvalues, check.HasLen, 3)
	c.Check(pvalues[0] < 0.05, check.Equals, true)
	c.Check(pvalues[1] > 0.5, check.Equals, true)
	// constant column: singular fit, never retained
	c.Check(pvalues[2] <= 0.05, check.Equals, false)
}

func (s *assocSuite) TestFilterAssocBadCaseLabel(c *check.C) {
	t, err := ReadFeatureTable(strings.NewReader(assocTable()))
	c.Assert(err, check.IsNil)
	_, _, err = FilterAssoc(t, "nonexistent", 0.05)
	c.Check(err, check.ErrorMatches, `case label "nonexistent" matches 0 of 12 samples`)
}
