// Copyright 2021 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package frq

import (
	"math"
	"testing"

	"github.com/grailbio/cohortfreq/variant"
	"github.com/grailbio/testutil/assert"
	"github.com/grailbio/testutil/expect"
	"github.com/stretchr/testify/require"
)

func aaRecord(pos int, ref, alt, effect, aaChange string) variant.Record {
	return variant.Record{
		Contig:    "2L",
		Position:  pos,
		RefAllele: ref,
		AltAllele: alt,
		Annotation: variant.Annotation{
			Transcript: "AGAP004707-RD",
			Effect:     effect,
			Impact:     variant.Impact(effect),
			AAChange:   aaChange,
		},
	}
}

// testAATable has two cohorts and five rows; nobs is given per row so that
// the naive sum of frequencies differs from the recomputed frequency.
func testAATable() *Table {
	t := &Table{
		Title:   "AGAP004707-RD (para) SNP frequencies",
		Cohorts: []Cohort{{Label: "A"}, {Label: "B"}},
		Variants: []variant.Record{
			aaRecord(2000, "C", "A", variant.EffectStopGained, "Q9*"),
			aaRecord(1000, "G", "T", variant.EffectNonSynonymousCoding, "V5I"),
			aaRecord(1000, "G", "C", variant.EffectSynonymousCoding, "V5V"),
			aaRecord(1000, "G", "A", variant.EffectNonSynonymousCoding, "V5I"),
			aaRecord(1000, "G", "T", variant.EffectNonSynonymousCoding, "V5F"),
		},
		Count: []int64{
			0, 1,
			1, 0,
			4, 4,
			2, 1,
			1, 1,
		},
		Nobs: []int64{
			0, 6,
			10, 4,
			10, 4,
			20, 4,
			10, 4,
		},
	}
	t.recompute()
	return t
}

func TestCollapseAA(t *testing.T) {
	in := testAATable()
	opts := DefaultOpts
	opts.CIMethod = CINone
	out, err := CollapseAA(in, opts)
	assert.NoError(t, err)
	require.Equal(t, 3, out.NRows())
	expect.EQ(t, out.Title, in.Title)

	var changes []string
	for _, v := range out.Variants {
		changes = append(changes, v.AAChange)
	}
	expect.EQ(t, changes, []string{"V5F", "V5I", "Q9*"})

	// A single-row group passes through.
	expect.EQ(t, out.Variants[0], in.Variants[4])
	expect.EQ(t, out.Count[0:2], in.Count[8:10])
	expect.EQ(t, out.Nobs[0:2], in.Nobs[8:10])
	expect.EQ(t, out.Frequency[0:2], in.Frequency[8:10])

	// Counts are summed, nobs comes from the first row.
	v := out.Variants[1]
	expect.EQ(t, v.AltAllele, "{T,A}")
	expect.EQ(t, v.RefAllele, "G")
	expect.EQ(t, v.Effect, variant.EffectNonSynonymousCoding)
	expect.EQ(t, out.Count[2:4], []int64{3, 1})
	expect.EQ(t, out.Nobs[2:4], []int64{10, 4})
	expect.EQ(t, out.Frequency[2], 0.3)
	expect.EQ(t, out.Frequency[3], 0.25)
	naive := in.Frequency[2] + in.Frequency[6]
	expect.True(t, math.Abs(out.Frequency[2]-naive) > 0.05)
	expect.EQ(t, out.MaxAF[1], 0.3)

	// Q9* has no data in A.
	expect.True(t, math.IsNaN(out.Frequency[4]))
	expect.EQ(t, out.MaxAF[2], 1.0/6)

	expect.EQ(t, out.Labels, []string{
		"V5F (2L:1,000 G>T)",
		"V5I (2L:1,000 G>{T,A})",
		"Q9* (2L:2,000 C>A)",
	})

	// The input is unchanged.
	expect.EQ(t, in.NRows(), 5)
	expect.EQ(t, in.Variants[1].AltAllele, "T")
}

func TestCollapseAAQueryAndCI(t *testing.T) {
	opts := DefaultOpts
	opts.CIMethod = CIBeta
	opts.VariantQuery = "max_af > 0.25"
	out, err := CollapseAA(testAATable(), opts)
	assert.NoError(t, err)
	require.Equal(t, 1, out.NRows())
	expect.EQ(t, out.Variants[0].AAChange, "V5I")
	low, upp := ProportionCI(3, 10, CIBeta, CIAlpha)
	expect.EQ(t, out.CILow[0], low)
	expect.EQ(t, out.CIUpp[0], upp)
}

func TestCollapseAANoChanges(t *testing.T) {
	in := testAATable()
	for i := range in.Variants {
		in.Variants[i].Effect = variant.EffectIntronic
	}
	_, err := CollapseAA(in, DefaultOpts)
	expect.True(t, Is(err, ErrNoVariantsRemaining))
}
