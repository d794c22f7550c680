// Copyright 2021 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package snpfreq

import (
	"context"

	"github.com/grailbio/base/log"
	"github.com/grailbio/cohortfreq/frq"
	"github.com/grailbio/cohortfreq/genotype"
	"github.com/grailbio/cohortfreq/query"
	"github.com/grailbio/cohortfreq/variant"
	"github.com/pkg/errors"
)

// AAChangeQuery is the variant query selecting amino-acid-changing SNPs.
const AAChangeQuery = `effect == "NON_SYNONYMOUS_CODING" or effect == "START_LOST" or effect == "STOP_LOST" or effect == "STOP_GAINED"`

// Opts controls the frequency pipelines.
type Opts struct {
	frq.Opts
	// SiteMask, if set, keeps only sites passing the named mask.
	SiteMask string
	// Effects annotates rows with their effect on the transcript.
	Effects bool
}

// DefaultOpts is the default pipeline configuration.
var DefaultOpts = Opts{Opts: frq.DefaultOpts, Effects: true}

func (o Opts) resolveOpts() frq.ResolveOpts {
	return frq.ResolveOpts{SampleQuery: o.SampleQuery, MinCohortSize: o.MinCohortSize}
}

// melt loads the SNPs of transcript, melts them and optionally annotates
// them.
func (s *Session) melt(ctx context.Context, transcript, siteMask string, effects bool) ([]variant.Record, *genotype.Tensor, string, error) {
	region, title, err := s.locate(ctx, transcript)
	if err != nil {
		return nil, nil, "", err
	}
	sites, calls, err := s.loadCalls(ctx, region, siteMask)
	if err != nil {
		return nil, nil, "", err
	}
	records, err := frq.Melt(sites)
	if err != nil {
		return nil, nil, "", err
	}
	if effects {
		ann, err := s.Annotator(ctx)
		if err != nil {
			return nil, nil, "", err
		}
		if err := ann.Annotate(transcript, records); err != nil {
			return nil, nil, "", err
		}
	}
	return records, calls, title, nil
}

// SNPEffects returns every melted SNP in transcript, annotated with its
// effect.
func (s *Session) SNPEffects(ctx context.Context, transcript, siteMask string) ([]variant.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	records, _, _, err := s.melt(ctx, transcript, siteMask, true)
	return records, err
}

// SNPAlleleFrequencies computes per-cohort allele frequencies of the SNPs in
// transcript, one row per alternate allele.
func (s *Session) SNPAlleleFrequencies(ctx context.Context, transcript string, cohorts frq.CohortSpec, opts Opts) (*frq.Table, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snpAlleleFrequencies(ctx, transcript, cohorts, opts)
}

func (s *Session) snpAlleleFrequencies(ctx context.Context, transcript string, spec frq.CohortSpec, opts Opts) (*frq.Table, error) {
	cohorts, err := s.resolveCohorts(spec, opts.resolveOpts())
	if err != nil {
		return nil, err
	}
	records, calls, title, err := s.melt(ctx, transcript, opts.SiteMask, opts.Effects)
	if err != nil {
		return nil, err
	}
	t, err := frq.Aggregate(records, calls, cohorts, opts.Opts)
	if err != nil {
		return nil, err
	}
	t.Title = title
	log.Printf("snpfreq: %s: %d variant alleles x %d cohorts", title, t.NRows(), t.NCohorts())
	return t, nil
}

// AAAlleleFrequencies computes per-cohort frequencies of amino-acid changes
// in transcript.  SNPs producing the same change at the same position are
// combined; the variant query and intervals apply to the combined rows.
func (s *Session) AAAlleleFrequencies(ctx context.Context, transcript string, cohorts frq.CohortSpec, opts Opts) (*frq.Table, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snpOpts := opts
	snpOpts.Effects = true
	snpOpts.VariantQuery = ""
	snpOpts.CIMethod = frq.CINone
	t, err := s.snpAlleleFrequencies(ctx, transcript, cohorts, snpOpts)
	if err != nil {
		return nil, err
	}
	aa, err := frq.CollapseAA(t, opts.Opts)
	if err != nil {
		return nil, errors.Wrapf(err, "snpfreq: %s", transcript)
	}
	aa.Title = t.Title
	return aa, nil
}

// CountsOpts controls SNPGenotypeAlleleCounts.
type CountsOpts struct {
	// SampleQuery restricts the samples reported.
	SampleQuery string
	// SiteMask, if set, keeps only sites passing the named mask.
	SiteMask string
	// VariantQuery filters rows; it defaults to AAChangeQuery.  Set it to
	// "true" to keep every row.
	VariantQuery string
	Parallelism  int
}

// DefaultCountsOpts is the default SNPGenotypeAlleleCounts configuration.
var DefaultCountsOpts = CountsOpts{VariantQuery: AAChangeQuery, Parallelism: frq.DefaultOpts.Parallelism}

// GenotypeCounts holds, for each melted row, the number of copies of its
// alternate allele carried by each sample.
type GenotypeCounts struct {
	Variants []variant.Record
	Labels   []string
	Samples  []string
	// Counts is row-major: Counts[row*len(Samples)+j] belongs to Samples[j].
	Counts []int32
}

// SNPGenotypeAlleleCounts returns per-sample alternate allele counts for the
// annotated SNPs of transcript.
func (s *Session) SNPGenotypeAlleleCounts(ctx context.Context, transcript string, opts CountsOpts) (*GenotypeCounts, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	samples, err := s.sampleMetadata()
	if err != nil {
		return nil, err
	}
	var idx []int
	if opts.SampleQuery != "" {
		if idx, err = samples.Query(opts.SampleQuery); err != nil {
			return nil, err
		}
	} else {
		idx = make([]int, samples.Len())
		for i := range idx {
			idx[i] = i
		}
	}
	records, calls, _, err := s.melt(ctx, transcript, opts.SiteMask, true)
	if err != nil {
		return nil, err
	}
	maxAllele := len(records) / calls.NVariants
	if err := calls.Validate(maxAllele); err != nil {
		return nil, err
	}
	counts := frq.SampleAlleleCounts(calls, idx, maxAllele, opts.Parallelism)

	ids := samples.SampleIDs()
	out := &GenotypeCounts{Samples: make([]string, len(idx))}
	for j, i := range idx {
		out.Samples[j] = ids[i]
	}
	var pred func(row int) (bool, error)
	if opts.VariantQuery != "" {
		// Row fields are evaluated through a table with no cohorts.
		t := &frq.Table{Variants: records, MaxAF: make([]float64, len(records))}
		q, err := query.Compile(opts.VariantQuery)
		if err != nil {
			return nil, err
		}
		pred = func(row int) (bool, error) { return q.Eval(t.RowFields(row)) }
	}
	ns := len(idx)
	for row := range records {
		if pred != nil {
			ok, err := pred(row)
			if err != nil {
				return nil, err
			}
			if !ok {
				continue
			}
		}
		out.Variants = append(out.Variants, records[row])
		out.Labels = append(out.Labels, records[row].Label())
		out.Counts = append(out.Counts, counts[row*ns:(row+1)*ns]...)
	}
	if len(out.Variants) == 0 {
		return nil, errors.Wrapf(frq.ErrNoVariantsRemaining, "snpfreq: no SNPs in %s satisfy %q", transcript, opts.VariantQuery)
	}
	return out, nil
}
