// Copyright 2021 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package frq

import (
	"sort"
	"strings"

	"github.com/grailbio/cohortfreq/variant"
	"github.com/pkg/errors"
)

// aaKey identifies an amino-acid aggregate.  The same change can arise at
// different positions, and those are never merged.
type aaKey struct {
	pos      int
	aaChange string
}

// CollapseAA reduces an annotated frequency table to one row per (position,
// aa_change), over the rows whose effect changes the amino acid.  Counts are
// summed per cohort, nobs is taken from the group's first row, and frequency
// and max_af are recomputed from the sums.  Descriptive fields come from the
// first row; alt_allele becomes "{a,b}" when several distinct alleles
// contribute.
//
// Rows are sorted by (position, aa_change).  opts.VariantQuery and
// opts.CIMethod are then applied to the collapsed rows, and labels are built
// in amino-acid-first form.  t is not modified.
func CollapseAA(t *Table, opts Opts) (*Table, error) {
	nc := len(t.Cohorts)
	type group struct {
		first int
		alts  []string
		count []int64
	}
	var (
		groups = map[aaKey]*group{}
		order  []*group
	)
	for row := range t.Variants {
		v := &t.Variants[row]
		if !variant.IsAAChange(v.Effect) {
			continue
		}
		k := aaKey{v.Position, v.AAChange}
		g, ok := groups[k]
		if !ok {
			g = &group{first: row, count: make([]int64, nc)}
			groups[k] = g
			order = append(order, g)
		}
		if !containsString(g.alts, v.AltAllele) {
			g.alts = append(g.alts, v.AltAllele)
		}
		for c := 0; c < nc; c++ {
			g.count[c] += t.Count[row*nc+c]
		}
	}
	if len(order) == 0 {
		return nil, errors.Wrap(ErrNoVariantsRemaining, "frq.CollapseAA: no amino-acid changing variants")
	}

	out := &Table{
		Title:    t.Title,
		Cohorts:  t.Cohorts,
		Variants: make([]variant.Record, len(order)),
		Count:    make([]int64, 0, len(order)*nc),
		Nobs:     make([]int64, 0, len(order)*nc),
	}
	sort.SliceStable(order, func(i, j int) bool {
		a, b := &t.Variants[order[i].first], &t.Variants[order[j].first]
		if a.Position != b.Position {
			return a.Position < b.Position
		}
		return a.AAChange < b.AAChange
	})
	for i, g := range order {
		out.Variants[i] = t.Variants[g.first]
		if len(g.alts) > 1 {
			out.Variants[i].AltAllele = "{" + strings.Join(g.alts, ",") + "}"
		}
		out.Count = append(out.Count, g.count...)
		out.Nobs = append(out.Nobs, t.Nobs[g.first*nc:(g.first+1)*nc]...)
	}
	out.recompute()
	return finish(out, opts, true)
}

func containsString(s []string, x string) bool {
	for _, y := range s {
		if y == x {
			return true
		}
	}
	return false
}
