// Copyright 2021 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package frq

import (
	"fmt"
	"runtime"

	"github.com/grailbio/base/log"
	"github.com/grailbio/cohortfreq/genotype"
	"github.com/grailbio/cohortfreq/variant"
	"github.com/pkg/errors"
)

// NobsMode selects the frequency denominator.
type NobsMode string

const (
	// NobsCalled uses the number of non-missing calls in the cohort.
	NobsCalled NobsMode = "called"
	// NobsFixed uses cohort size times ploidy, regardless of missingness.
	NobsFixed NobsMode = "fixed"
)

// ParseNobsMode validates a mode name.
func ParseNobsMode(s string) (NobsMode, error) {
	switch m := NobsMode(s); m {
	case NobsCalled, NobsFixed:
		return m, nil
	}
	return "", fmt.Errorf("frq.ParseNobsMode: unknown nobs mode %q", s)
}

// Opts controls frequency aggregation.
type Opts struct {
	// MinCohortSize is the minimum number of samples in a reported cohort.
	MinCohortSize int
	// SampleQuery restricts every cohort to samples satisfying it.
	SampleQuery string
	// DropInvariant removes rows with max_af == 0.
	DropInvariant bool
	// NobsMode selects the frequency denominator.
	NobsMode NobsMode
	// CIMethod selects the confidence interval method; CINone skips them.
	CIMethod CIMethod
	// VariantQuery, if nonempty, keeps only rows satisfying it.  It is applied
	// after invariant dropping.
	VariantQuery string
	// Parallelism is the number of shards the variant axis is split into.
	Parallelism int
}

// DefaultOpts is the default aggregation configuration.
var DefaultOpts = Opts{
	MinCohortSize: 10,
	DropInvariant: true,
	NobsMode:      NobsCalled,
	CIMethod:      CIWilson,
	Parallelism:   runtime.NumCPU(),
}

// Aggregate computes per-cohort counts, frequencies and max_af for melted
// records over calls.  records must be the melted form of the tensor's sites
// (len(records) == calls.NVariants*maxAllele), and each cohort's sample
// indices must index the tensor's sample axis.
//
// Rows are then invariant-dropped and queried as opts requests, intervals are
// computed, and labels assigned.
func Aggregate(records []variant.Record, calls *genotype.Tensor, cohorts []Cohort, opts Opts) (*Table, error) {
	if calls.NVariants == 0 {
		return nil, errors.Wrap(ErrNoVariantsAvailable, "frq.Aggregate")
	}
	if len(records)%calls.NVariants != 0 {
		return nil, fmt.Errorf("frq.Aggregate: %d records do not melt evenly from %d variants", len(records), calls.NVariants)
	}
	if len(cohorts) == 0 {
		return nil, errors.Wrap(ErrNoCohortsAvailable, "frq.Aggregate")
	}
	maxAllele := len(records) / calls.NVariants
	if err := calls.Validate(maxAllele); err != nil {
		return nil, err
	}
	for c := range cohorts {
		for _, s := range cohorts[c].SampleIndices {
			if s < 0 || s >= calls.NSamples {
				return nil, fmt.Errorf("frq.Aggregate: cohort %s: sample index %d out of range [0, %d)", cohorts[c].Label, s, calls.NSamples)
			}
		}
	}
	mode := opts.NobsMode
	if mode == "" {
		mode = NobsCalled
	}
	if _, err := ParseNobsMode(string(mode)); err != nil {
		return nil, err
	}

	log.Debug.Printf("frq.Aggregate: counting %d variants x %d cohorts (%d shards)", calls.NVariants, len(cohorts), opts.Parallelism)
	counts := countCohorts(calls, cohorts, maxAllele, opts.Parallelism)

	nRows, nc := len(records), len(cohorts)
	t := &Table{
		Variants: records,
		Cohorts:  cohorts,
		Count:    make([]int64, nRows*nc),
		Nobs:     make([]int64, nRows*nc),
	}
	for c, cc := range counts {
		fixed := int64(cohorts[c].Size() * calls.Ploidy)
		for row := 0; row < nRows; row++ {
			t.Count[row*nc+c] = cc.count[row]
			if mode == NobsFixed {
				t.Nobs[row*nc+c] = fixed
			} else {
				// nobs is per site, broadcast over its melted rows.
				t.Nobs[row*nc+c] = cc.nobs[row/maxAllele]
			}
		}
	}
	t.recompute()

	var err error
	if opts.DropInvariant {
		if t, err = t.DropInvariant(); err != nil {
			return nil, err
		}
	}
	return finish(t, opts, false)
}

// finish applies the variant query, intervals and labels.
func finish(t *Table, opts Opts, aa bool) (*Table, error) {
	var err error
	if opts.VariantQuery != "" {
		if t, err = t.Query(opts.VariantQuery); err != nil {
			return nil, err
		}
	}
	t.ComputeCI(opts.CIMethod)
	t.SetLabels(aa)
	return t, nil
}
