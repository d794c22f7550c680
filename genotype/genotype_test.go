// Copyright 2021 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package genotype

import (
	"bytes"
	"compress/gzip"
	"io/ioutil"
	"path/filepath"
	"strings"
	"testing"

	"github.com/grailbio/base/vcontext"
	"github.com/grailbio/cohortfreq/interval"
	"github.com/grailbio/testutil"
	"github.com/grailbio/testutil/assert"
	"github.com/grailbio/testutil/expect"
)

const testVCF = `##fileformat=VCFv4.2
##contig=<ID=2L>
#CHROM	POS	ID	REF	ALT	QUAL	FILTER	INFO	FORMAT	s1	s2	s3
2L	100	.	A	T	.	PASS	.	GT	0/0	0/1	1|1
2L	150	.	AT	A	.	PASS	.	GT	0/0	0/1	1/1
2L	200	.	C	G,T	.	LowQual	.	GT:DP	./.:.	1/2:7	0/2:3
3R	5	.	G	.	.	.	.	GT	0	0/0	./0
`

func testSites() (*Sites, *Tensor) {
	sites := &Sites{
		Contig:   []string{"2L", "2L", "3R"},
		Position: []int{100, 200, 5},
		Alleles: [][]string{
			{"A", "T", "", ""},
			{"C", "G", "T", ""},
			{"G", "", "", ""},
		},
		FilterPass: map[string][]bool{
			"gamb": {true, false, true},
			"arab": {true, true, false},
		},
	}
	calls := NewTensor(3, 2, 2)
	calls.Set(0, 0, 0, 0)
	calls.Set(0, 0, 1, 1)
	calls.Set(1, 1, 0, 2)
	calls.Set(1, 1, 1, 3)
	calls.Set(2, 0, 1, 0)
	return sites, calls
}

func TestTensor(t *testing.T) {
	_, calls := testSites()
	expect.EQ(t, calls.Call(0, 0, 1), int8(1))
	expect.EQ(t, calls.Call(0, 1, 0), int8(Missing))
	expect.EQ(t, calls.Row(1), []int8{-1, -1, 2, 3})
	assert.NoError(t, calls.Validate(3))
	expect.NotNil(t, calls.Validate(2))

	sel := calls.SelectVariants([]int{2, 0})
	expect.EQ(t, sel.NVariants, 2)
	expect.EQ(t, sel.Row(0), calls.Row(2))
	expect.EQ(t, sel.Row(1), calls.Row(0))

	bad := &Tensor{NVariants: 2, NSamples: 1, Ploidy: 2, Data: make([]int8, 3)}
	expect.NotNil(t, bad.Validate(3))
}

func TestSitesMaskAndRegions(t *testing.T) {
	sites, _ := testSites()
	assert.NoError(t, sites.Validate())
	expect.EQ(t, sites.MaskNames(), []string{"arab", "gamb"})

	idx, err := sites.Mask("gamb")
	assert.NoError(t, err)
	expect.EQ(t, idx, []int{0, 2})
	idx, err = sites.Mask("")
	assert.NoError(t, err)
	expect.EQ(t, idx, []int{0, 1, 2})
	_, err = sites.Mask("funestus")
	expect.NotNil(t, err)

	expect.EQ(t, sites.InRegions([]interval.Region{{Contig: "2L", Start: 150, End: 250}}), []int{1})
	expect.EQ(t, sites.InRegions([]interval.Region{{Contig: "3R"}, {Contig: "2L", Start: 100, End: 100}}), []int{0, 2})

	sel := sites.Select([]int{1})
	expect.EQ(t, sel.Position, []int{200})
	expect.EQ(t, sel.FilterPass["gamb"], []bool{false})
}

func TestMemSource(t *testing.T) {
	ctx := vcontext.Background()
	sites, calls := testSites()
	src, err := NewMemSource([]string{"a", "b"}, sites, calls)
	assert.NoError(t, err)
	regions := []interval.Region{{Contig: "2L"}}
	s, err := src.Sites(ctx, regions)
	assert.NoError(t, err)
	g, err := src.Genotypes(ctx, regions)
	assert.NoError(t, err)
	expect.EQ(t, s.Len(), 2)
	expect.EQ(t, g.NVariants, 2)
	expect.EQ(t, g.Row(1), calls.Row(1))

	_, err = NewMemSource([]string{"a"}, sites, calls)
	expect.NotNil(t, err)
}

func TestStore(t *testing.T) {
	ctx := vcontext.Background()
	tmpdir, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()

	sites, calls := testSites()
	path := filepath.Join(tmpdir, "gt.rio")
	assert.NoError(t, WriteStore(ctx, path, []string{"a", "b"}, sites, calls))

	store, err := OpenStore(ctx, path)
	assert.NoError(t, err)
	expect.EQ(t, store.SampleIDs(), []string{"a", "b"})
	expect.EQ(t, store.Ploidy(), 2)
	expect.EQ(t, store.Header().Masks, []string{"arab", "gamb"})

	got, err := store.Sites(ctx, nil)
	assert.NoError(t, err)
	expect.EQ(t, got.Contig, sites.Contig)
	expect.EQ(t, got.Position, sites.Position)
	expect.EQ(t, got.Alleles, sites.Alleles)
	expect.EQ(t, got.FilterPass, sites.FilterPass)
	gt, err := store.Genotypes(ctx, nil)
	assert.NoError(t, err)
	expect.EQ(t, gt.Data, calls.Data)
	expect.EQ(t, gt.NVariants, 3)

	regions := []interval.Region{{Contig: "2L", Start: 150, End: 300}}
	got, err = store.Sites(ctx, regions)
	assert.NoError(t, err)
	expect.EQ(t, got.Position, []int{200})
	gt, err = store.Genotypes(ctx, regions)
	assert.NoError(t, err)
	expect.EQ(t, gt.Data, calls.Row(1))
}

func TestReadVCF(t *testing.T) {
	samples, sites, calls, err := ReadVCF(strings.NewReader(testVCF), DefaultVCFOpts)
	assert.NoError(t, err)
	expect.EQ(t, samples, []string{"s1", "s2", "s3"})
	// The indel at 2L:150 is skipped.
	expect.EQ(t, sites.Position, []int{100, 200, 5})
	expect.EQ(t, sites.Alleles[1], []string{"C", "G", "T", ""})
	expect.EQ(t, sites.Alleles[2], []string{"G", "", "", ""})
	expect.EQ(t, sites.FilterPass["pass"], []bool{true, false, true})
	expect.EQ(t, calls.Row(0), []int8{0, 0, 0, 1, 1, 1})
	expect.EQ(t, calls.Row(1), []int8{-1, -1, 1, 2, 0, 2})
	// Haploid calls are padded with missing.
	expect.EQ(t, calls.Row(2), []int8{0, -1, 0, 0, -1, 0})
}

func TestImportVCF(t *testing.T) {
	ctx := vcontext.Background()
	tmpdir, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()

	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	_, err := gz.Write([]byte(testVCF))
	assert.NoError(t, err)
	assert.NoError(t, gz.Close())
	vcfPath := filepath.Join(tmpdir, "in.vcf.gz")
	assert.NoError(t, ioutil.WriteFile(vcfPath, buf.Bytes(), 0644))

	storePath := filepath.Join(tmpdir, "gt.rio")
	n, err := ImportVCF(ctx, vcfPath, storePath, DefaultVCFOpts)
	assert.NoError(t, err)
	expect.EQ(t, n, 3)

	store, err := OpenStore(ctx, storePath)
	assert.NoError(t, err)
	_, wantSites, wantCalls, err := ReadVCF(strings.NewReader(testVCF), DefaultVCFOpts)
	assert.NoError(t, err)
	gotSites, err := store.Sites(ctx, nil)
	assert.NoError(t, err)
	gotCalls, err := store.Genotypes(ctx, nil)
	assert.NoError(t, err)
	expect.EQ(t, gotSites.Position, wantSites.Position)
	expect.EQ(t, gotSites.FilterPass, wantSites.FilterPass)
	expect.EQ(t, gotCalls.Data, wantCalls.Data)
}

func TestStoreTrailer(t *testing.T) {
	n, sum, err := parseStoreTrailer(storeTrailer(3, 0xdeadbeef))
	assert.NoError(t, err)
	expect.EQ(t, n, int64(3))
	expect.EQ(t, sum, uint64(0xdeadbeef))

	bad := storeTrailer(3, 1)
	bad[0] = 9
	_, _, err = parseStoreTrailer(bad)
	assert.HasSubstr(t, err.Error(), "unrecognized trailer version")
	_, _, err = parseStoreTrailer(storeTrailer(3, 1)[:12])
	expect.NotNil(t, err)
}

func TestReadVCFRegions(t *testing.T) {
	regions, err := interval.ParseRegions("2L:150-300,3R")
	assert.NoError(t, err)
	opts := DefaultVCFOpts
	opts.Regions = interval.NewUnion(regions)
	_, sites, calls, err := ReadVCF(strings.NewReader(testVCF), opts)
	assert.NoError(t, err)
	expect.EQ(t, sites.Contig, []string{"2L", "3R"})
	expect.EQ(t, sites.Position, []int{200, 5})
	expect.EQ(t, calls.NVariants, 2)
}

func TestReadVCFErrors(t *testing.T) {
	const header = "##fileformat=VCFv4.2\n#CHROM\tPOS\tID\tREF\tALT\tQUAL\tFILTER\tINFO\tFORMAT\ts1\n"
	for _, test := range []struct {
		line, want string
	}{
		{"2L\t10\t.\tA\tT\t.\tPASS\t.\tGT\t0/1/1\n", "ploidy above 2"},
		{"2L\t10\t.\tA\tT\t.\tPASS\t.\tGT\tx/1\n", "genotype.ReadVCF"},
		{"2L\tten\t.\tA\tT\t.\tPASS\t.\tGT\t0/1\n", "genotype.ReadVCF"},
	} {
		_, _, _, err := ReadVCF(strings.NewReader(header+test.line), DefaultVCFOpts)
		assert.NotNil(t, err, test.line)
		expect.HasSubstr(t, err.Error(), test.want)
	}
	_, _, _, err := ReadVCF(strings.NewReader("#CHROM\tPOS\n"), DefaultVCFOpts)
	expect.NotNil(t, err)
}
