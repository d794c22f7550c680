// Copyright 2021 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package metadata_test

import (
	"io/ioutil"
	"path/filepath"
	"strings"
	"testing"

	"github.com/grailbio/base/vcontext"
	"github.com/grailbio/cohortfreq/metadata"
	"github.com/grailbio/testutil"
	"github.com/grailbio/testutil/assert"
	"github.com/grailbio/testutil/expect"
)

const testSamples = "sample_id\tpartner_sample_id\tcountry\tyear\ttaxon\n" +
	"s1\tp1\tMali\t2012\tgambiae\n" +
	"s2\tp2\tMali\t2014\tcoluzzii\n" +
	"s3\tNA\tGhana\t2012\t\n" +
	"s4\tp4\tGhana\t2013\tgambiae\n"

func testTable(t *testing.T) *metadata.Table {
	df, err := metadata.ReadTSV(strings.NewReader(testSamples))
	assert.NoError(t, err)
	tbl, err := metadata.New(df)
	assert.NoError(t, err)
	return tbl
}

func TestTable(t *testing.T) {
	tbl := testTable(t)
	expect.EQ(t, tbl.Len(), 4)
	expect.EQ(t, tbl.SampleIDs(), []string{"s1", "s2", "s3", "s4"})
	expect.True(t, tbl.HasColumn("taxon"))
	expect.False(t, tbl.HasColumn("cohort_taxon"))

	values, valid, ok, err := tbl.StringColumn("taxon")
	assert.NoError(t, err)
	expect.True(t, ok)
	expect.EQ(t, values, []string{"gambiae", "coluzzii", "", "gambiae"})
	expect.EQ(t, valid, []bool{true, true, false, true})

	_, _, ok, err = tbl.StringColumn("year")
	assert.NoError(t, err)
	expect.False(t, ok)
	_, _, _, err = tbl.StringColumn("admin1")
	expect.NotNil(t, err)

	expect.EQ(t, tbl.Value(1, "year"), 2014)
	expect.EQ(t, tbl.Value(2, "taxon"), nil)
}

func TestQuery(t *testing.T) {
	tbl := testTable(t)
	idx, err := tbl.Query("country == 'Ghana' or year == 2014")
	assert.NoError(t, err)
	expect.EQ(t, idx, []int{1, 2, 3})
	idx, err = tbl.Query("taxon == null")
	assert.NoError(t, err)
	expect.EQ(t, idx, []int{2})
	_, err = tbl.Query("country ==")
	expect.NotNil(t, err)

	sub := tbl.Subset([]int{3, 0})
	expect.EQ(t, sub.SampleIDs(), []string{"s4", "s1"})
}

func TestMerge(t *testing.T) {
	tbl := testTable(t)
	extra, err := metadata.ReadTSV(strings.NewReader("partner_sample_id\tkdr\tcountry\n" +
		"p4\tL995F\tGhana-N\n" +
		"p1\twt\tMali-S\n" +
		"p9\twt\tNowhere\n"))
	assert.NoError(t, err)
	n, err := tbl.Matches(extra, metadata.PartnerSampleID)
	assert.NoError(t, err)
	expect.EQ(t, n, 2)

	merged, err := tbl.Merge(extra, metadata.PartnerSampleID)
	assert.NoError(t, err)
	expect.EQ(t, merged.Len(), 4)
	expect.EQ(t, merged.SampleIDs(), tbl.SampleIDs())
	kdr, valid, ok, err := merged.StringColumn("kdr")
	assert.NoError(t, err)
	expect.True(t, ok)
	expect.EQ(t, kdr, []string{"wt", "", "", "L995F"})
	expect.EQ(t, valid, []bool{true, false, false, true})
	expect.EQ(t, merged.Value(0, "country"), "Mali-S")
	expect.EQ(t, merged.Value(1, "country"), nil)

	dup, err := metadata.ReadTSV(strings.NewReader("sample_id\tx\ns1\ta\ns1\tb\n"))
	assert.NoError(t, err)
	_, err = tbl.Merge(dup, metadata.SampleID)
	expect.NotNil(t, err)
}

func TestLoad(t *testing.T) {
	ctx := vcontext.Background()
	tmpdir, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()

	samples := filepath.Join(tmpdir, "samples.tsv")
	cohorts := filepath.Join(tmpdir, "cohorts.tsv")
	assert.NoError(t, ioutil.WriteFile(samples, []byte(testSamples), 0644))
	assert.NoError(t, ioutil.WriteFile(cohorts, []byte("sample_id\tcohort_admin1_year\n"+
		"s1\tML-2_colu_2012\ns3\tGH-1_gamb_2012\n"), 0644))

	tbl, err := metadata.Load(ctx, samples, cohorts)
	assert.NoError(t, err)
	expect.EQ(t, tbl.Len(), 4)
	expect.True(t, tbl.HasColumn("cohort_admin1_year"))
	expect.EQ(t, tbl.Value(2, "cohort_admin1_year"), "GH-1_gamb_2012")
	expect.EQ(t, tbl.Value(1, "cohort_admin1_year"), nil)

	_, err = metadata.Load(ctx, filepath.Join(tmpdir, "missing.tsv"))
	expect.NotNil(t, err)
}
