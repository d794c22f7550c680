// Copyright 2021 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package frq_test

import (
	"fmt"
	"strings"
	"testing"

	"github.com/grailbio/cohortfreq/frq"
	"github.com/grailbio/cohortfreq/metadata"
	"github.com/grailbio/testutil/assert"
	"github.com/grailbio/testutil/expect"
	"github.com/stretchr/testify/require"
)

// testMetadata has 12 samples from country A and 3 from B.  The A samples
// alternate between the two taxa.
func testMetadata(t *testing.T) *metadata.Table {
	var b strings.Builder
	b.WriteString("sample_id\tcountry\tcohort_taxon\tyear\n")
	for i := 0; i < 15; i++ {
		country, taxon := "A", "gambiae"
		if i >= 12 {
			country = "B"
		} else if i%2 == 1 {
			taxon = "coluzzii"
		}
		fmt.Fprintf(&b, "s%02d\t%s\t%s\t%d\n", i, country, taxon, 2010+i%3)
	}
	df, err := metadata.ReadTSV(strings.NewReader(b.String()))
	assert.NoError(t, err)
	tbl, err := metadata.New(df)
	assert.NoError(t, err)
	return tbl
}

func TestResolveColumn(t *testing.T) {
	samples := testMetadata(t)
	cohorts, err := frq.ResolveCohorts(samples, frq.Column("country"), frq.ResolveOpts{MinCohortSize: 10})
	assert.NoError(t, err)
	require.Len(t, cohorts, 1)
	expect.EQ(t, cohorts[0].Label, "A")
	expect.EQ(t, cohorts[0].Size(), 12)

	cohorts, err = frq.ResolveCohorts(samples, frq.Column("country"), frq.ResolveOpts{MinCohortSize: 1})
	assert.NoError(t, err)
	expect.EQ(t, len(cohorts), 2)
	expect.EQ(t, cohorts[1].Label, "B")
	expect.EQ(t, cohorts[1].SampleIndices, []int{12, 13, 14})

	_, err = frq.ResolveCohorts(samples, frq.Column("country"), frq.ResolveOpts{MinCohortSize: 13})
	expect.True(t, frq.Is(err, frq.ErrNoCohortsAvailable))
}

func TestResolveColumnPrefix(t *testing.T) {
	samples := testMetadata(t)
	cohorts, err := frq.ResolveCohorts(samples, frq.Column("taxon"), frq.ResolveOpts{MinCohortSize: 1})
	assert.NoError(t, err)
	require.Len(t, cohorts, 2)
	expect.EQ(t, cohorts[0].Label, "coluzzii")
	expect.EQ(t, cohorts[1].Label, "gambiae")
	expect.EQ(t, cohorts[0].Size(), 6)
	expect.EQ(t, cohorts[1].Size(), 9)

	_, err = frq.ResolveCohorts(samples, frq.Column("admin1"), frq.ResolveOpts{})
	expect.True(t, frq.Is(err, frq.ErrUnknownColumn))
	expect.False(t, strings.Contains(err.Error(), "did you mean"))

	_, err = frq.ResolveCohorts(samples, frq.Column("contry"), frq.ResolveOpts{})
	expect.True(t, frq.Is(err, frq.ErrUnknownColumn))
	assert.HasSubstr(t, err.Error(), `did you mean "country"`)
	_, err = frq.ResolveCohorts(samples, frq.Column("taxom"), frq.ResolveOpts{})
	assert.HasSubstr(t, err.Error(), `did you mean "cohort_taxon"`)

	// Integer categories derive no cohorts.
	_, err = frq.ResolveCohorts(samples, frq.Column("year"), frq.ResolveOpts{})
	expect.True(t, frq.Is(err, frq.ErrNoCohortsAvailable))
}

func TestResolveSampleQuery(t *testing.T) {
	samples := testMetadata(t)
	cohorts, err := frq.ResolveCohorts(samples, frq.Column("taxon"),
		frq.ResolveOpts{SampleQuery: "country == 'A'", MinCohortSize: 1})
	assert.NoError(t, err)
	require.Len(t, cohorts, 2)
	expect.EQ(t, cohorts[0].Size(), 6)
	expect.EQ(t, cohorts[1].Size(), 6)
	for _, c := range cohorts {
		for _, i := range c.SampleIndices {
			expect.LT(t, i, 12)
		}
	}

	_, err = frq.ResolveCohorts(samples, frq.Column("taxon"), frq.ResolveOpts{SampleQuery: "country =="})
	expect.True(t, frq.Is(err, frq.ErrInvalidCohortSpec))
}

func TestResolveExplicit(t *testing.T) {
	samples := testMetadata(t)
	spec := frq.Explicit{
		{Label: "late_B", Query: "country == 'B' and year >= 2011"},
		{Label: "all_A", Query: "country == 'A'"},
	}
	opts := frq.ResolveOpts{MinCohortSize: 1}
	cohorts, err := frq.ResolveCohorts(samples, spec, opts)
	assert.NoError(t, err)
	require.Len(t, cohorts, 2)
	expect.EQ(t, cohorts[0].Label, "late_B")
	// Samples 12, 13, 14 have years 2010, 2011, 2012.
	expect.EQ(t, cohorts[0].SampleIndices, []int{13, 14})
	expect.EQ(t, cohorts[1].Label, "all_A")
	expect.EQ(t, cohorts[1].Size(), 12)

	again, err := frq.ResolveCohorts(samples, spec, opts)
	assert.NoError(t, err)
	expect.EQ(t, again, cohorts)

	opts.MinCohortSize = 10
	cohorts, err = frq.ResolveCohorts(samples, spec, opts)
	assert.NoError(t, err)
	require.Len(t, cohorts, 1)
	expect.EQ(t, cohorts[0].Label, "all_A")
}

func TestResolveExplicitErrors(t *testing.T) {
	samples := testMetadata(t)
	for _, spec := range []frq.CohortSpec{
		nil,
		frq.Explicit{},
		frq.Explicit{{Label: "", Query: "country == 'A'"}},
		frq.Explicit{{Label: "a", Query: "country == 'A'"}, {Label: "a", Query: "country == 'B'"}},
		frq.Explicit{{Label: "a", Query: " "}},
		frq.Explicit{{Label: "a", Query: "country = = 'A'"}},
		frq.Columns{},
	} {
		_, err := frq.ResolveCohorts(samples, spec, frq.ResolveOpts{})
		expect.True(t, frq.Is(err, frq.ErrInvalidCohortSpec), "%v: %v", spec, err)
	}
}

func TestResolveColumns(t *testing.T) {
	samples := testMetadata(t)
	cohorts, err := frq.ResolveCohorts(samples, frq.Columns{"country", "taxon"}, frq.ResolveOpts{MinCohortSize: 1})
	assert.NoError(t, err)
	var labels []string
	for _, c := range cohorts {
		labels = append(labels, c.Label)
	}
	expect.EQ(t, labels, []string{"A_coluzzii", "A_gambiae", "B_gambiae"})
	expect.EQ(t, cohorts[2].Attrs, map[string]string{"country": "B", "cohort_taxon": "gambiae"})

	cohorts, err = frq.ResolveCohorts(samples, frq.Columns{"country", "year"}, frq.ResolveOpts{MinCohortSize: 1})
	assert.NoError(t, err)
	expect.EQ(t, cohorts[0].Label, "A_2010")
	expect.EQ(t, cohorts[0].SampleIndices, []int{0, 3, 6, 9})
}

func TestReadCohortSpec(t *testing.T) {
	spec, err := frq.ReadCohortSpec(strings.NewReader("zeta: country == 'A'\nalpha: \"year > 2010\"\n"))
	assert.NoError(t, err)
	expect.EQ(t, spec, frq.Explicit{
		{Label: "zeta", Query: "country == 'A'"},
		{Label: "alpha", Query: "year > 2010"},
	})

	spec, err = frq.ReadCohortSpec(strings.NewReader("admin1_year\n"))
	assert.NoError(t, err)
	expect.EQ(t, spec, frq.Column("admin1_year"))

	spec, err = frq.ReadCohortSpec(strings.NewReader("- country\n- taxon\n"))
	assert.NoError(t, err)
	expect.EQ(t, spec, frq.Columns{"country", "taxon"})

	spec, err = frq.ReadCohortSpec(strings.NewReader("[taxon]"))
	assert.NoError(t, err)
	expect.EQ(t, spec, frq.Column("taxon"))

	for _, bad := range []string{"", "a: [1, 2]\n", "{}"} {
		_, err = frq.ReadCohortSpec(strings.NewReader(bad))
		expect.True(t, frq.Is(err, frq.ErrInvalidCohortSpec), "%q", bad)
	}
}
