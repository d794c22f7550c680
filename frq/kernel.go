// Copyright 2021 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package frq

import (
	"github.com/grailbio/base/traverse"
	"github.com/grailbio/cohortfreq/genotype"
)

// CountAlleles scans variants [startIdx, endIdx) of calls for the given
// samples.  For each variant i, count[i*maxAllele+k-1] receives the number of
// calls equal to alternate allele k (1 <= k <= maxAllele), and nobs[i] the
// number of non-missing calls.  Missing (negative) calls contribute to
// neither.
//
// count and nobs are indexed from variant 0, and entries outside [startIdx,
// endIdx) are not touched, so disjoint ranges may be filled concurrently.
//
// WARNING: This function does not validate calls against maxAllele; use
// Tensor.Validate first.  An out-of-range call panics.
func CountAlleles(calls *genotype.Tensor, samples []int, maxAllele, startIdx, endIdx int, count, nobs []int64) {
	ploidy := calls.Ploidy
	rowLen := calls.NSamples * ploidy
	data := calls.Data
	for i := startIdx; i < endIdx; i++ {
		row := data[i*rowLen : (i+1)*rowLen]
		ac := count[i*maxAllele : (i+1)*maxAllele]
		for k := range ac {
			ac[k] = 0
		}
		var an int64
		for _, s := range samples {
			gt := row[s*ploidy : (s+1)*ploidy]
			for _, a := range gt {
				if a > 0 {
					ac[a-1]++
					an++
				} else if a == 0 {
					an++
				}
			}
		}
		nobs[i] = an
	}
}

// cohortCounts holds the raw kernel output for one cohort: count has
// nVariants*maxAllele entries in melted order, nobs one entry per variant.
type cohortCounts struct {
	count []int64
	nobs  []int64
}

// countCohorts runs the counting kernel for every cohort.  The variant axis is
// split into parallelism shards; each shard fills its slice of every cohort's
// buffers, so no two jobs write the same memory.
func countCohorts(calls *genotype.Tensor, cohorts []Cohort, maxAllele, parallelism int) []cohortCounts {
	nVariants := calls.NVariants
	out := make([]cohortCounts, len(cohorts))
	for c := range out {
		out[c] = cohortCounts{
			count: make([]int64, nVariants*maxAllele),
			nobs:  make([]int64, nVariants),
		}
	}
	if parallelism > nVariants {
		parallelism = nVariants
	}
	if parallelism < 1 {
		parallelism = 1
	}
	// The kernel cannot fail, so neither can traverse.Each.
	_ = traverse.Each(parallelism, func(jobIdx int) error {
		startIdx := (jobIdx * nVariants) / parallelism
		endIdx := ((jobIdx + 1) * nVariants) / parallelism
		for c := range cohorts {
			CountAlleles(calls, cohorts[c].SampleIndices, maxAllele, startIdx, endIdx, out[c].count, out[c].nobs)
		}
		return nil
	})
	return out
}

// SampleAlleleCounts returns, for every melted row and each of the given
// samples, the number of that sample's calls equal to the row's alternate
// allele.  The result is row-major: entry row*len(samples)+j belongs to
// samples[j].  calls must have been validated against maxAllele.
func SampleAlleleCounts(calls *genotype.Tensor, samples []int, maxAllele, parallelism int) []int32 {
	nVariants, ns := calls.NVariants, len(samples)
	ploidy := calls.Ploidy
	rowLen := calls.NSamples * ploidy
	out := make([]int32, nVariants*maxAllele*ns)
	if parallelism > nVariants {
		parallelism = nVariants
	}
	if parallelism < 1 {
		parallelism = 1
	}
	_ = traverse.Each(parallelism, func(jobIdx int) error {
		startIdx := (jobIdx * nVariants) / parallelism
		endIdx := ((jobIdx + 1) * nVariants) / parallelism
		for i := startIdx; i < endIdx; i++ {
			row := calls.Data[i*rowLen : (i+1)*rowLen]
			dst := out[i*maxAllele*ns : (i+1)*maxAllele*ns]
			for j, s := range samples {
				for _, a := range row[s*ploidy : (s+1)*ploidy] {
					if a > 0 {
						dst[(int(a)-1)*ns+j]++
					}
				}
			}
		}
		return nil
	})
	return out
}
