// Copyright 2021 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package frq

import (
	"github.com/grailbio/cohortfreq/genotype"
	"github.com/grailbio/cohortfreq/variant"
	"github.com/pkg/errors"
)

// MeltFactor returns the number of melted rows per site: the allele
// dimension minus the reference.
func MeltFactor(sites *genotype.Sites) int {
	return sites.NAlleles() - 1
}

// Melt expands sites into one record per (site, alternate allele slot), in
// site order and then slot order, so that record i*MeltFactor+k-1 describes
// alternate allele k of site i.  Unused slots yield records with an empty
// AltAllele.  The filter-pass map is shared by all records of a site.
func Melt(sites *genotype.Sites) ([]variant.Record, error) {
	n := sites.Len()
	if n == 0 {
		return nil, errors.Wrap(ErrNoVariantsAvailable, "frq.Melt")
	}
	if err := sites.Validate(); err != nil {
		return nil, err
	}
	masks := sites.MaskNames()
	meltFactor := MeltFactor(sites)
	records := make([]variant.Record, n*meltFactor)
	for i := 0; i < n; i++ {
		pass := make(map[string]bool, len(masks))
		for _, m := range masks {
			pass[m] = sites.FilterPass[m][i]
		}
		alleles := sites.Alleles[i]
		for k := 1; k <= meltFactor; k++ {
			records[i*meltFactor+k-1] = variant.Record{
				Contig:     sites.Contig[i],
				Position:   sites.Position[i],
				RefAllele:  alleles[0],
				AltAllele:  alleles[k],
				FilterPass: pass,
			}
		}
	}
	return records, nil
}
