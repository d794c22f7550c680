// Copyright 2021 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package variant_test

import (
	"testing"

	"github.com/grailbio/cohortfreq/variant"
	"github.com/grailbio/testutil/expect"
)

func TestLabel(t *testing.T) {
	expect.EQ(t, variant.Label("2L", 1000, "A", "T", ""), "2L:1,000 A>T")
	expect.EQ(t, variant.Label("2L", 1000, "A", "T", "V123I"), "2L:1,000 A>T (V123I)")
	expect.EQ(t, variant.AALabel("V402L", "2L", 2422652, "C", "{A,T}"), "V402L (2L:2,422,652 C>{A,T})")

	r := variant.Record{Contig: "X", Position: 7, RefAllele: "G", AltAllele: "C"}
	expect.EQ(t, r.Label(), "X:7 G>C")
	r.AAChange = "L2F"
	expect.EQ(t, r.Label(), "X:7 G>C (L2F)")
	// Repeated calls are stable.
	expect.EQ(t, r.Label(), r.Label())
}

func TestFormatThousands(t *testing.T) {
	tests := []struct {
		n    int
		want string
	}{
		{0, "0"},
		{7, "7"},
		{999, "999"},
		{1000, "1,000"},
		{12345, "12,345"},
		{123456, "123,456"},
		{1234567, "1,234,567"},
		{-1234, "-1,234"},
	}
	for _, test := range tests {
		expect.EQ(t, variant.FormatThousands(test.n), test.want, "n=%d", test.n)
	}
}

func TestEffectClasses(t *testing.T) {
	for _, e := range []string{
		variant.EffectNonSynonymousCoding, variant.EffectStartLost,
		variant.EffectStopLost, variant.EffectStopGained,
	} {
		expect.True(t, variant.IsAAChange(e), e)
	}
	for _, e := range []string{
		variant.EffectSynonymousCoding, variant.EffectIntronic,
		variant.EffectFivePrimeUTR, "",
	} {
		expect.False(t, variant.IsAAChange(e), e)
	}
	expect.EQ(t, variant.Impact(variant.EffectStopGained), variant.ImpactHigh)
	expect.EQ(t, variant.Impact(variant.EffectNonSynonymousCoding), variant.ImpactModerate)
	expect.EQ(t, variant.Impact(variant.EffectSynonymousCoding), variant.ImpactLow)
	expect.EQ(t, variant.Impact(variant.EffectIntronic), variant.ImpactModifier)
}
