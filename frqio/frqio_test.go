// Copyright 2021 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package frqio_test

import (
	"bytes"
	"compress/gzip"
	"io"
	"io/ioutil"
	"math"
	"path/filepath"
	"strings"
	"testing"

	"github.com/apache/arrow/go/v14/arrow/array"
	"github.com/apache/arrow/go/v14/arrow/ipc"
	"github.com/grailbio/base/vcontext"
	"github.com/grailbio/cohortfreq/frq"
	"github.com/grailbio/cohortfreq/frqio"
	"github.com/grailbio/cohortfreq/variant"
	"github.com/grailbio/testutil"
	"github.com/grailbio/testutil/assert"
	"github.com/grailbio/testutil/expect"
)

func testTable() *frq.Table {
	pass := map[string]bool{"gamb_colu": true}
	t := &frq.Table{
		Title: "para (g1) SNP frequencies",
		Variants: []variant.Record{
			{Contig: "2L", Position: 1000, RefAllele: "A", AltAllele: "T", FilterPass: pass},
			{Contig: "2L", Position: 2500, RefAllele: "C", AltAllele: "G", FilterPass: pass},
		},
		Cohorts: []frq.Cohort{
			{Label: "A_gambiae", SampleIndices: []int{0, 1}, Attrs: map[string]string{"country": "A", "taxon": "gambiae"}},
			{Label: "B_gambiae", SampleIndices: []int{2, 3, 4}, Attrs: map[string]string{"country": "B", "taxon": "gambiae"}},
		},
		Count:     []int64{1, 0, 2, 3},
		Nobs:      []int64{4, 0, 4, 6},
		Frequency: []float64{0.25, math.NaN(), 0.5, 0.5},
		MaxAF:     []float64{0.25, 0.5},
	}
	t.SetLabels(false)
	return t
}

func readLines(t *testing.T, data []byte) [][]string {
	var rows [][]string
	for _, line := range strings.Split(strings.TrimSuffix(string(data), "\n"), "\n") {
		rows = append(rows, strings.Split(line, "\t"))
	}
	return rows
}

func TestWriteTSV(t *testing.T) {
	var buf bytes.Buffer
	assert.NoError(t, frqio.WriteTSV(&buf, testTable(), frqio.Opts{}))
	rows := readLines(t, buf.Bytes())
	assert.EQ(t, len(rows), 3)
	expect.EQ(t, rows[0], []string{"label", "contig", "position", "ref_allele", "alt_allele", "pass_gamb_colu",
		"frq_A_gambiae", "frq_B_gambiae", "max_af"})
	expect.EQ(t, rows[1], []string{"2L:1,000 A>T", "2L", "1000", "A", "T", "true", "0.25", "NaN", "0.25"})
	expect.EQ(t, rows[2], []string{"2L:2,500 C>G", "2L", "2500", "C", "G", "true", "0.5", "0.5", "0.5"})
}

func TestWriteTSVCountsAndCI(t *testing.T) {
	tbl := testTable()
	tbl.ComputeCI(frq.CIWilson)
	var buf bytes.Buffer
	assert.NoError(t, frqio.WriteTSV(&buf, tbl, frqio.Opts{IncludeCounts: true}))
	rows := readLines(t, buf.Bytes())
	expect.EQ(t, rows[0], []string{"label", "contig", "position", "ref_allele", "alt_allele", "pass_gamb_colu",
		"frq_A_gambiae", "frq_B_gambiae",
		"count_A_gambiae", "count_B_gambiae", "nobs_A_gambiae", "nobs_B_gambiae",
		"ci_low_A_gambiae", "ci_upp_A_gambiae", "ci_low_B_gambiae", "ci_upp_B_gambiae",
		"max_af"})
	expect.EQ(t, rows[2][8:12], []string{"2", "3", "4", "6"})
}

func TestWriteTSVAnnotated(t *testing.T) {
	tbl := testTable()
	tbl.Variants[0].Annotation = variant.Annotation{
		Transcript: "t1", Effect: variant.EffectNonSynonymousCoding, Impact: variant.ImpactModerate,
		RefCodon: "Gtt", AltCodon: "Ttt", AAPos: 5, RefAA: "V", AltAA: "F", AAChange: "V5F",
	}
	tbl.Variants[1].Annotation = variant.Annotation{
		Transcript: "t1", Effect: variant.EffectIntronic, Impact: variant.ImpactModifier,
	}
	var buf bytes.Buffer
	assert.NoError(t, frqio.WriteTSV(&buf, tbl, frqio.Opts{}))
	rows := readLines(t, buf.Bytes())
	expect.EQ(t, rows[0][6:15], []string{"transcript", "effect", "impact", "ref_codon", "alt_codon", "aa_pos", "ref_aa", "alt_aa", "aa_change"})
	expect.EQ(t, rows[1][6:15], []string{"t1", "NON_SYNONYMOUS_CODING", "MODERATE", "Gtt", "Ttt", "5", "V", "F", "V5F"})
	expect.EQ(t, rows[2][6:15], []string{"t1", "INTRONIC", "MODIFIER", ".", ".", ".", ".", ".", "."})
}

func TestWriteArrow(t *testing.T) {
	tbl := testTable()
	var buf bytes.Buffer
	assert.NoError(t, frqio.WriteArrow(&buf, tbl, frqio.Opts{IncludeCounts: true}))

	r, err := ipc.NewReader(bytes.NewReader(buf.Bytes()))
	assert.NoError(t, err)
	defer r.Release()

	schema := r.Schema()
	md := schema.Metadata()
	expect.EQ(t, md.Values()[md.FindKey(frqio.MetaTitle)], "para (g1) SNP frequencies")
	expect.EQ(t, len(md.Values()[md.FindKey(frqio.MetaRunID)]), 36)
	expect.EQ(t, md.Values()[md.FindKey("cohort.B_gambiae.country")], "B")

	assert.True(t, r.Next())
	rec := r.Record()
	assert.EQ(t, rec.NumRows(), int64(2))

	idx := func(name string) int {
		f := schema.FieldIndices(name)
		assert.EQ(t, len(f), 1, name)
		return f[0]
	}
	labels := rec.Column(idx("label")).(*array.String)
	expect.EQ(t, labels.Value(1), "2L:2,500 C>G")
	pos := rec.Column(idx("position")).(*array.Int64)
	expect.EQ(t, pos.Value(0), int64(1000))
	frqB := rec.Column(idx("frq_B_gambiae")).(*array.Float64)
	expect.True(t, math.IsNaN(frqB.Value(0)))
	expect.EQ(t, frqB.Value(1), 0.5)
	nobs := rec.Column(idx("nobs_B_gambiae")).(*array.Int64)
	expect.EQ(t, nobs.Value(1), int64(6))
	pass := rec.Column(idx("pass_gamb_colu")).(*array.Boolean)
	expect.True(t, pass.Value(0))
	expect.False(t, r.Next())
	expect.NoError(t, r.Err())
}

func TestWriteArrowUnseekable(t *testing.T) {
	// Output paths may be streams such as s3 objects.
	pr, pw := io.Pipe()
	errc := make(chan error, 1)
	go func() {
		err := frqio.WriteArrow(pw, testTable(), frqio.DefaultOpts)
		pw.CloseWithError(err)
		errc <- err
	}()
	r, err := ipc.NewReader(pr)
	assert.NoError(t, err)
	defer r.Release()
	var n int64
	for r.Next() {
		n += r.Record().NumRows()
	}
	assert.NoError(t, r.Err())
	assert.NoError(t, <-errc)
	expect.EQ(t, n, int64(2))
}

func TestWriteFile(t *testing.T) {
	ctx := vcontext.Background()
	tmpdir, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()

	for _, name := range []string{"out.tsv", "out.tsv.gz", "out.arrow"} {
		path := filepath.Join(tmpdir, name)
		format := frqio.FormatFromPath(path)
		assert.NoError(t, frqio.Write(ctx, path, format, testTable(), frqio.DefaultOpts), name)
		data, err := ioutil.ReadFile(path)
		assert.NoError(t, err)
		switch format {
		case frqio.TSV:
			expect.EQ(t, len(readLines(t, data)), 3)
		case frqio.TSVBGZ:
			gz, err := gzip.NewReader(bytes.NewReader(data))
			assert.NoError(t, err)
			plain, err := ioutil.ReadAll(gz)
			assert.NoError(t, err)
			rows := readLines(t, plain)
			expect.EQ(t, len(rows), 3)
			expect.EQ(t, rows[1][0], "2L:1,000 A>T")
		case frqio.Arrow:
			r, err := ipc.NewReader(bytes.NewReader(data))
			assert.NoError(t, err)
			expect.True(t, r.Next())
			expect.EQ(t, r.Record().NumRows(), int64(2))
			r.Release()
		default:
			t.Fatalf("%s: unexpected format %s", name, format)
		}
	}
}

func TestFormatFromPath(t *testing.T) {
	expect.EQ(t, frqio.FormatFromPath("s3://b/x.tsv"), frqio.TSV)
	expect.EQ(t, frqio.FormatFromPath("x.tsv.bgz"), frqio.TSVBGZ)
	expect.EQ(t, frqio.FormatFromPath("x.arrows"), frqio.Arrow)
}
