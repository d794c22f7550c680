// Copyright 2021 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

// Package frqio writes frequency tables as TSV, bgzipped TSV, or Arrow IPC
// files.
//
// Every format has one row per table row and the same columns: the row label,
// the variant key, site-mask flags, annotation fields (for annotated tables),
// then per cohort frq_<cohort>, optionally count_<cohort> and nobs_<cohort>,
// and ci_low_<cohort> and ci_upp_<cohort> when intervals were computed, and
// finally max_af.
package frqio

import (
	"path/filepath"
	"sort"
	"strings"

	"github.com/grailbio/cohortfreq/frq"
	"github.com/grailbio/cohortfreq/variant"
)

// Format is an output file format.
type Format string

const (
	TSV    Format = "tsv"
	TSVBGZ Format = "tsv-bgz"
	Arrow  Format = "arrow"
)

// Opts controls output.
type Opts struct {
	// IncludeCounts adds count_<cohort> and nobs_<cohort> columns.
	IncludeCounts bool
	// Parallelism is the number of bgzf compression workers.
	Parallelism int
}

// DefaultOpts is the default output configuration.
var DefaultOpts = Opts{Parallelism: 4}

// FormatFromPath guesses the format of path from its extension.
func FormatFromPath(path string) Format {
	switch {
	case strings.HasSuffix(path, ".tsv.gz"), strings.HasSuffix(path, ".tsv.bgz"):
		return TSVBGZ
	case filepath.Ext(path) == ".arrow", filepath.Ext(path) == ".arrows":
		return Arrow
	}
	return TSV
}

type colKind int

const (
	colString colKind = iota
	colInt
	colFloat
	colBool
)

// column is one output column.  Exactly one of the accessors is set,
// according to kind.  str and int accessors report ok=false for missing
// values.
type column struct {
	name  string
	kind  colKind
	str   func(row int) (string, bool)
	int   func(row int) (int64, bool)
	float func(row int) float64
	bool  func(row int) bool
}

// columns lays out the output columns of t.
func columns(t *frq.Table, opts Opts) []column {
	v := func(row int) *variant.Record { return &t.Variants[row] }
	cols := []column{
		{name: "label", kind: colString, str: func(row int) (string, bool) {
			if t.Labels == nil {
				return v(row).Label(), true
			}
			return t.Labels[row], true
		}},
		{name: "contig", kind: colString, str: func(row int) (string, bool) { return v(row).Contig, true }},
		{name: "position", kind: colInt, int: func(row int) (int64, bool) { return int64(v(row).Position), true }},
		{name: "ref_allele", kind: colString, str: func(row int) (string, bool) { return v(row).RefAllele, true }},
		{name: "alt_allele", kind: colString, str: func(row int) (string, bool) { return v(row).AltAllele, true }},
	}
	for _, mask := range maskNames(t) {
		mask := mask
		cols = append(cols, column{name: "pass_" + mask, kind: colBool, bool: func(row int) bool {
			return v(row).FilterPass[mask]
		}})
	}
	if annotated(t) {
		for _, f := range []struct {
			name string
			get  func(a *variant.Annotation) string
		}{
			{"transcript", func(a *variant.Annotation) string { return a.Transcript }},
			{"effect", func(a *variant.Annotation) string { return a.Effect }},
			{"impact", func(a *variant.Annotation) string { return a.Impact }},
			{"ref_codon", func(a *variant.Annotation) string { return a.RefCodon }},
			{"alt_codon", func(a *variant.Annotation) string { return a.AltCodon }},
		} {
			get := f.get
			cols = append(cols, column{name: f.name, kind: colString, str: func(row int) (string, bool) {
				s := get(&v(row).Annotation)
				return s, s != ""
			}})
		}
		cols = append(cols, column{name: "aa_pos", kind: colInt, int: func(row int) (int64, bool) {
			p := v(row).AAPos
			return int64(p), p > 0
		}})
		for _, f := range []struct {
			name string
			get  func(a *variant.Annotation) string
		}{
			{"ref_aa", func(a *variant.Annotation) string { return a.RefAA }},
			{"alt_aa", func(a *variant.Annotation) string { return a.AltAA }},
			{"aa_change", func(a *variant.Annotation) string { return a.AAChange }},
		} {
			get := f.get
			cols = append(cols, column{name: f.name, kind: colString, str: func(row int) (string, bool) {
				s := get(&v(row).Annotation)
				return s, s != ""
			}})
		}
	}

	nc := t.NCohorts()
	for c, label := range t.CohortLabels() {
		c := c
		cols = append(cols, column{name: "frq_" + label, kind: colFloat, float: func(row int) float64 {
			return t.Frequency[row*nc+c]
		}})
	}
	if opts.IncludeCounts {
		for c, label := range t.CohortLabels() {
			c := c
			cols = append(cols, column{name: "count_" + label, kind: colInt, int: func(row int) (int64, bool) {
				return t.Count[row*nc+c], true
			}})
		}
		for c, label := range t.CohortLabels() {
			c := c
			cols = append(cols, column{name: "nobs_" + label, kind: colInt, int: func(row int) (int64, bool) {
				return t.Nobs[row*nc+c], true
			}})
		}
	}
	if t.CIMethod != frq.CINone && t.CILow != nil {
		for c, label := range t.CohortLabels() {
			c := c
			cols = append(cols,
				column{name: "ci_low_" + label, kind: colFloat, float: func(row int) float64 { return t.CILow[row*nc+c] }},
				column{name: "ci_upp_" + label, kind: colFloat, float: func(row int) float64 { return t.CIUpp[row*nc+c] }})
		}
	}
	cols = append(cols, column{name: "max_af", kind: colFloat, float: func(row int) float64 { return t.MaxAF[row] }})
	return cols
}

// maskNames returns the sorted site-mask names present in t.
func maskNames(t *frq.Table) []string {
	seen := map[string]bool{}
	for i := range t.Variants {
		for m := range t.Variants[i].FilterPass {
			seen[m] = true
		}
	}
	names := make([]string, 0, len(seen))
	for m := range seen {
		names = append(names, m)
	}
	sort.Strings(names)
	return names
}

func annotated(t *frq.Table) bool {
	for i := range t.Variants {
		if t.Variants[i].Transcript != "" {
			return true
		}
	}
	return false
}
