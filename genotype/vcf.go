// Copyright 2021 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package genotype

import (
	"context"
	"fmt"
	"io"
	"math"

	"github.com/brentp/vcfgo"
	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/file"
	"github.com/grailbio/base/fileio"
	"github.com/grailbio/base/log"
	"github.com/grailbio/cohortfreq/interval"
	"github.com/klauspost/compress/gzip"
)

// VCFOpts controls VCF genotype import.
type VCFOpts struct {
	// NAlleles is the allele dimension of the imported sites; sites with more
	// than NAlleles-1 alternate alleles are skipped.
	NAlleles int
	// Ploidy is the number of calls stored per sample.  Shorter GT fields are
	// padded with missing calls.
	Ploidy int
	// MaskName names the site mask derived from the FILTER column: a site
	// passes iff FILTER is "PASS" or ".".
	MaskName string
	// SNPsOnly skips sites whose reference or alternate alleles are longer
	// than one base.
	SNPsOnly bool
	// Regions, if non-nil, restricts import to sites it covers.
	Regions *interval.Union
}

// DefaultVCFOpts is the default VCF import configuration.
var DefaultVCFOpts = VCFOpts{
	NAlleles: DefaultNAlleles,
	Ploidy:   2,
	MaskName: "pass",
	SNPsOnly: true,
}

// vcfReader converts the sites and GT calls of a VCF, one site at a time.
type vcfReader struct {
	opts    VCFOpts
	rdr     *vcfgo.Reader
	samples []string
	regions *interval.Union

	nSkipped int
	nOutside int
}

func newVCFReader(r io.Reader, opts VCFOpts) (*vcfReader, error) {
	rdr, err := vcfgo.NewReader(r, false)
	if err != nil {
		return nil, fmt.Errorf("genotype.ReadVCF: header: %v", err)
	}
	v := &vcfReader{opts: opts, rdr: rdr, samples: rdr.Header.SampleNames}
	if opts.Regions != nil {
		v.regions = opts.Regions.Clone()
	}
	return v, nil
}

// next converts the next usable site into alleles and calls.  It returns
// false at end of input.
func (v *vcfReader) next(alleles []string, calls []int8) (contig string, pos int, pass bool, ok bool, err error) {
	for {
		variant := v.rdr.Read()
		if err = v.rdr.Error(); err != nil {
			return "", 0, false, false, fmt.Errorf("genotype.ReadVCF: %v", err)
		}
		if variant == nil {
			return "", 0, false, false, nil
		}
		if variant.Pos == 0 {
			return "", 0, false, false, fmt.Errorf("genotype.ReadVCF: line %d: invalid position 0", variant.LineNumber)
		}
		pos = int(variant.Pos)
		if v.regions != nil && !v.regions.Contains(variant.Chromosome, interval.PosType(pos)) {
			v.nOutside++
			continue
		}
		if !v.convertAlleles(variant, alleles) {
			v.nSkipped++
			continue
		}
		pass = variant.Filter == "PASS" || variant.Filter == "."
		if err = v.convertCalls(variant, calls); err != nil {
			return "", 0, false, false, err
		}
		return variant.Chromosome, pos, pass, true, nil
	}
}

func (v *vcfReader) convertAlleles(variant *vcfgo.Variant, alleles []string) bool {
	for i := range alleles {
		alleles[i] = ""
	}
	ref := variant.Reference
	if v.opts.SNPsOnly && len(ref) != 1 {
		return false
	}
	alleles[0] = ref
	alts := variant.Alternate
	if len(alts) == 1 && alts[0] == "." {
		return true
	}
	if len(alts) >= len(alleles) {
		return false
	}
	for i, a := range alts {
		if v.opts.SNPsOnly && len(a) != 1 {
			return false
		}
		alleles[i+1] = a
	}
	return true
}

func (v *vcfReader) convertCalls(variant *vcfgo.Variant, calls []int8) error {
	for i := range calls {
		calls[i] = Missing
	}
	ploidy := v.opts.Ploidy
	for s, sample := range variant.Samples {
		if sample == nil {
			continue
		}
		if len(sample.GT) > ploidy {
			return fmt.Errorf("genotype.ReadVCF: line %d: sample %s has ploidy above %d", variant.LineNumber, v.samples[s], ploidy)
		}
		for slot, a := range sample.GT {
			if a < -1 || a > math.MaxInt8 {
				return fmt.Errorf("genotype.ReadVCF: line %d: invalid GT allele %d for sample %s", variant.LineNumber, a, v.samples[s])
			}
			calls[s*ploidy+slot] = int8(a)
		}
	}
	return nil
}

// ReadVCF parses the GT calls of a VCF into memory.
func ReadVCF(r io.Reader, opts VCFOpts) (samples []string, sites *Sites, calls *Tensor, err error) {
	v, err := newVCFReader(r, opts)
	if err != nil {
		return nil, nil, nil, err
	}
	samples = v.samples
	sites = &Sites{FilterPass: map[string][]bool{opts.MaskName: nil}}
	calls = &Tensor{NSamples: len(samples), Ploidy: opts.Ploidy}
	row := make([]int8, len(samples)*opts.Ploidy)
	for {
		alleles := make([]string, opts.NAlleles)
		contig, pos, pass, ok, err := v.next(alleles, row)
		if err != nil {
			return nil, nil, nil, err
		}
		if !ok {
			break
		}
		sites.Contig = append(sites.Contig, contig)
		sites.Position = append(sites.Position, pos)
		sites.Alleles = append(sites.Alleles, alleles)
		sites.FilterPass[opts.MaskName] = append(sites.FilterPass[opts.MaskName], pass)
		calls.Data = append(calls.Data, row...)
		calls.NVariants++
	}
	if v.nSkipped > 0 {
		log.Printf("genotype.ReadVCF: skipped %d site(s) with unsupported alleles", v.nSkipped)
	}
	return samples, sites, calls, nil
}

// ImportVCF streams the GT calls of the VCF at vcfPath into a new genotype
// store at storePath.  Gzipped or bgzipped input is detected from the
// extension.
func ImportVCF(ctx context.Context, vcfPath, storePath string, opts VCFOpts) (nSites int, err error) {
	in, err := file.Open(ctx, vcfPath)
	if err != nil {
		return 0, errors.E(err, "open", vcfPath)
	}
	defer file.CloseAndReport(ctx, in, &err)
	reader := io.Reader(in.Reader(ctx))
	if fileio.DetermineType(vcfPath) == fileio.Gzip {
		gz, err := gzip.NewReader(reader)
		if err != nil {
			return 0, errors.E(err, "gunzip", vcfPath)
		}
		defer gz.Close()
		reader = gz
	}
	v, err := newVCFReader(reader, opts)
	if err != nil {
		return 0, errors.E(err, "parse", vcfPath)
	}

	out, err := file.Create(ctx, storePath)
	if err != nil {
		return 0, errors.E(err, "create", storePath)
	}
	defer file.CloseAndReport(ctx, out, &err)
	w, err := NewStoreWriter(out.Writer(ctx), StoreHeader{
		SampleIDs: v.samples,
		Ploidy:    opts.Ploidy,
		NAlleles:  opts.NAlleles,
		Masks:     []string{opts.MaskName},
	})
	if err != nil {
		return 0, err
	}
	alleles := make([]string, opts.NAlleles)
	row := make([]int8, len(v.samples)*opts.Ploidy)
	for {
		contig, pos, pass, ok, err := v.next(alleles, row)
		if err != nil {
			return nSites, errors.E(err, "parse", vcfPath)
		}
		if !ok {
			break
		}
		if err = w.Append(contig, pos, alleles, []bool{pass}, row); err != nil {
			return nSites, err
		}
		nSites++
	}
	if err = w.Finish(); err != nil {
		return nSites, errors.E(err, "write", storePath)
	}
	log.Printf("genotype.ImportVCF: imported %d site(s) for %d sample(s) from %s (%d skipped, %d outside regions)",
		nSites, len(v.samples), vcfPath, v.nSkipped, v.nOutside)
	return nSites, nil
}
