// Copyright 2021 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package genotype

import (
	"fmt"
	"sort"

	"github.com/grailbio/cohortfreq/interval"
)

// DefaultNAlleles is the number of alleles stored per site: the reference
// plus up to three alternates.
const DefaultNAlleles = 4

// Sites is the per-site dataset the genotype tensor's variant axis refers to.
// Alleles[i] always has NAlleles entries; unused alternate slots are "".
type Sites struct {
	Contig   []string
	Position []int // 1-based
	Alleles  [][]string
	// FilterPass maps a site-mask name to one pass flag per site.
	FilterPass map[string][]bool
}

// Len returns the number of sites.
func (s *Sites) Len() int { return len(s.Position) }

// NAlleles returns the allele dimension, or DefaultNAlleles for an empty
// dataset.
func (s *Sites) NAlleles() int {
	if len(s.Alleles) == 0 {
		return DefaultNAlleles
	}
	return len(s.Alleles[0])
}

// MaskNames returns the site-mask names in sorted order.
func (s *Sites) MaskNames() []string {
	names := make([]string, 0, len(s.FilterPass))
	for name := range s.FilterPass {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Validate checks that all per-site columns have the same length and that
// every site has the same number of allele slots.
func (s *Sites) Validate() error {
	n := s.Len()
	if len(s.Contig) != n || len(s.Alleles) != n {
		return fmt.Errorf("genotype.Sites: column lengths differ (contig %d, position %d, alleles %d)",
			len(s.Contig), n, len(s.Alleles))
	}
	for name, pass := range s.FilterPass {
		if len(pass) != n {
			return fmt.Errorf("genotype.Sites: filter_pass_%s has %d entries, want %d", name, len(pass), n)
		}
	}
	nAlleles := s.NAlleles()
	for i, a := range s.Alleles {
		if len(a) != nAlleles {
			return fmt.Errorf("genotype.Sites: site %d has %d allele slots, want %d", i, len(a), nAlleles)
		}
	}
	return nil
}

// Select returns the listed sites, in the given order.
func (s *Sites) Select(idx []int) *Sites {
	out := &Sites{
		Contig:     make([]string, len(idx)),
		Position:   make([]int, len(idx)),
		Alleles:    make([][]string, len(idx)),
		FilterPass: make(map[string][]bool, len(s.FilterPass)),
	}
	for j, i := range idx {
		out.Contig[j] = s.Contig[i]
		out.Position[j] = s.Position[i]
		out.Alleles[j] = s.Alleles[i]
	}
	for name, pass := range s.FilterPass {
		sel := make([]bool, len(idx))
		for j, i := range idx {
			sel[j] = pass[i]
		}
		out.FilterPass[name] = sel
	}
	return out
}

// Mask returns the indices of the sites passing the named site mask.  An
// empty name selects every site.
func (s *Sites) Mask(name string) ([]int, error) {
	var pass []bool
	if name != "" {
		var ok bool
		if pass, ok = s.FilterPass[name]; !ok {
			return nil, fmt.Errorf("genotype.Sites: unknown site mask %q (have %v)", name, s.MaskNames())
		}
	}
	idx := make([]int, 0, s.Len())
	for i := 0; i < s.Len(); i++ {
		if pass == nil || pass[i] {
			idx = append(idx, i)
		}
	}
	return idx, nil
}

// InRegions returns the indices of the sites covered by regions.  A nil
// region list selects every site.
func (s *Sites) InRegions(regions []interval.Region) []int {
	idx := make([]int, 0, s.Len())
	if len(regions) == 0 {
		for i := 0; i < s.Len(); i++ {
			idx = append(idx, i)
		}
		return idx
	}
	u := interval.NewUnion(regions)
	for i := 0; i < s.Len(); i++ {
		if u.Contains(s.Contig[i], interval.PosType(s.Position[i])) {
			idx = append(idx, i)
		}
	}
	return idx
}
