// Copyright 2021 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package frq

import (
	"math"
	"testing"

	"github.com/grailbio/cohortfreq/genotype"
	"github.com/grailbio/testutil/assert"
	"github.com/grailbio/testutil/expect"
	"github.com/stretchr/testify/require"
)

func testSites() *genotype.Sites {
	return &genotype.Sites{
		Contig:   []string{"2L", "2L"},
		Position: []int{1000, 2500},
		Alleles: [][]string{
			{"A", "T", "C", "G"},
			{"C", "A", "G", "T"},
		},
		FilterPass: map[string][]bool{"gamb_colu": {true, false}},
	}
}

func aggregateOpts() Opts {
	opts := DefaultOpts
	opts.DropInvariant = false
	opts.CIMethod = CINone
	opts.Parallelism = 2
	return opts
}

func TestMelt(t *testing.T) {
	records, err := Melt(testSites())
	assert.NoError(t, err)
	expect.EQ(t, len(records), 6)
	expect.EQ(t, records[0].AltAllele, "T")
	expect.EQ(t, records[2].AltAllele, "G")
	expect.EQ(t, records[4].Position, 2500)
	expect.EQ(t, records[4].AltAllele, "G")
	expect.EQ(t, records[5].FilterPass, map[string]bool{"gamb_colu": false})

	_, err = Melt(&genotype.Sites{})
	expect.True(t, Is(err, ErrNoVariantsAvailable))
}

func TestAggregate(t *testing.T) {
	records, err := Melt(testSites())
	assert.NoError(t, err)
	cohorts := []Cohort{
		{Label: "all", SampleIndices: []int{0, 1, 2, 3}},
		{Label: "first", SampleIndices: []int{0, 1}},
		{Label: "last", SampleIndices: []int{3}},
	}
	tbl, err := Aggregate(records, testCalls(), cohorts, aggregateOpts())
	assert.NoError(t, err)
	expect.EQ(t, tbl.NRows(), 6)
	expect.EQ(t, tbl.CohortLabels(), []string{"all", "first", "last"})

	count, nobs, frequency := tbl.Cell(0, 0)
	expect.EQ(t, count, int64(3))
	expect.EQ(t, nobs, int64(6))
	expect.EQ(t, frequency, 0.5)
	count, nobs, frequency = tbl.Cell(0, 1)
	expect.EQ(t, count, int64(1))
	expect.EQ(t, nobs, int64(4))
	expect.EQ(t, frequency, 0.25)
	// Sample 3 is missing at the first site.
	count, nobs, frequency = tbl.Cell(0, 2)
	expect.EQ(t, count, int64(0))
	expect.EQ(t, nobs, int64(0))
	expect.True(t, math.IsNaN(frequency))

	// nobs is broadcast over the melted rows of a site.
	for row := 3; row < 6; row++ {
		_, nobs, _ := tbl.Cell(row, 0)
		expect.EQ(t, nobs, int64(7))
	}
	_, _, frequency = tbl.Cell(5, 2)
	expect.EQ(t, frequency, 1.0)

	expect.EQ(t, tbl.MaxAF[0], 0.5)
	expect.EQ(t, tbl.MaxAF[1], 0.0)
	expect.EQ(t, tbl.MaxAF[5], 1.0)
	expect.EQ(t, tbl.Labels[0], "2L:1,000 A>T")
	expect.EQ(t, tbl.Labels[5], "2L:2,500 C>T")
	expect.Nil(t, tbl.CILow)

	for i := range tbl.Count {
		expect.LE(t, tbl.Count[i], tbl.Nobs[i])
		if tbl.Nobs[i] > 0 {
			expect.EQ(t, tbl.Frequency[i], float64(tbl.Count[i])/float64(tbl.Nobs[i]))
		}
	}
}

func TestAggregateFixedNobs(t *testing.T) {
	records, err := Melt(testSites())
	assert.NoError(t, err)
	opts := aggregateOpts()
	opts.NobsMode = NobsFixed
	tbl, err := Aggregate(records, testCalls(), []Cohort{{Label: "all", SampleIndices: []int{0, 1, 2, 3}}}, opts)
	assert.NoError(t, err)
	for row := 0; row < tbl.NRows(); row++ {
		_, nobs, _ := tbl.Cell(row, 0)
		expect.EQ(t, nobs, int64(8))
	}
	expect.EQ(t, tbl.Frequency[0], 3.0/8)

	opts.NobsMode = "sometimes"
	_, err = Aggregate(records, testCalls(), []Cohort{{Label: "all", SampleIndices: []int{0}}}, opts)
	expect.NotNil(t, err)
}

func TestAggregateDropInvariant(t *testing.T) {
	records, err := Melt(testSites())
	assert.NoError(t, err)
	opts := aggregateOpts()
	opts.DropInvariant = true

	tbl, err := Aggregate(records, testCalls(), []Cohort{{Label: "all", SampleIndices: []int{0, 1, 2, 3}}}, opts)
	assert.NoError(t, err)
	expect.EQ(t, tbl.NRows(), 3)
	for _, af := range tbl.MaxAF {
		expect.True(t, af > 0)
	}

	// Rows without data are kept.
	tbl, err = Aggregate(records, testCalls(), []Cohort{{Label: "last", SampleIndices: []int{3}}}, opts)
	assert.NoError(t, err)
	require.Equal(t, 4, tbl.NRows())
	for row := 0; row < 3; row++ {
		expect.True(t, math.IsNaN(tbl.MaxAF[row]))
	}
	expect.EQ(t, tbl.Variants[3].AltAllele, "T")

	// Sample 1 is then homozygous reference at both sites.
	calls := testCalls()
	calls.Set(0, 1, 1, 0)
	_, err = Aggregate(records, calls, []Cohort{{Label: "one", SampleIndices: []int{1}}}, opts)
	expect.True(t, Is(err, ErrNoVariantsRemaining))
}

func TestAggregateQueryAndCI(t *testing.T) {
	records, err := Melt(testSites())
	assert.NoError(t, err)
	opts := aggregateOpts()
	opts.DropInvariant = true
	opts.CIMethod = CIWilson
	opts.VariantQuery = "pass_gamb_colu and max_af > 0.1"
	tbl, err := Aggregate(records, testCalls(), []Cohort{{Label: "all", SampleIndices: []int{0, 1, 2, 3}}}, opts)
	assert.NoError(t, err)
	require.Equal(t, 1, tbl.NRows())
	expect.EQ(t, tbl.Labels, []string{"2L:1,000 A>T"})
	low, upp := ProportionCI(3, 6, CIWilson, CIAlpha)
	expect.EQ(t, tbl.CILow, []float64{low})
	expect.EQ(t, tbl.CIUpp, []float64{upp})

	opts.VariantQuery = "max_af > 1"
	_, err = Aggregate(records, testCalls(), []Cohort{{Label: "all", SampleIndices: []int{0, 1, 2, 3}}}, opts)
	expect.True(t, Is(err, ErrNoVariantsRemaining))
}

func TestAggregateErrors(t *testing.T) {
	records, err := Melt(testSites())
	assert.NoError(t, err)
	opts := aggregateOpts()
	_, err = Aggregate(records, testCalls(), nil, opts)
	expect.True(t, Is(err, ErrNoCohortsAvailable))
	_, err = Aggregate(records[:5], testCalls(), []Cohort{{Label: "a", SampleIndices: []int{0}}}, opts)
	expect.NotNil(t, err)
	_, err = Aggregate(records, testCalls(), []Cohort{{Label: "a", SampleIndices: []int{4}}}, opts)
	expect.NotNil(t, err)
	// Allele 3 exceeds a melt factor of 2.
	_, err = Aggregate(records[:4], testCalls(), []Cohort{{Label: "a", SampleIndices: []int{0}}}, opts)
	expect.NotNil(t, err)
}

func TestAggregateDeterministic(t *testing.T) {
	records, err := Melt(testSites())
	assert.NoError(t, err)
	cohorts := []Cohort{{Label: "all", SampleIndices: []int{0, 1, 2, 3}}, {Label: "first", SampleIndices: []int{0, 1}}}
	opts := aggregateOpts()
	opts.CIMethod = CIBeta
	opts.Parallelism = 1
	want, err := Aggregate(records, testCalls(), cohorts, opts)
	assert.NoError(t, err)
	opts.Parallelism = 16
	got, err := Aggregate(records, testCalls(), cohorts, opts)
	assert.NoError(t, err)
	expect.EQ(t, got.Count, want.Count)
	expect.EQ(t, got.Nobs, want.Nobs)
	expect.EQ(t, got.Labels, want.Labels)
	require.Equal(t, len(want.CILow), len(got.CILow))
	for i := range want.CILow {
		if math.IsNaN(want.CILow[i]) {
			expect.True(t, math.IsNaN(got.CILow[i]))
			continue
		}
		expect.EQ(t, got.CILow[i], want.CILow[i])
		expect.EQ(t, got.CIUpp[i], want.CIUpp[i])
	}
}
