// Copyright 2021 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

// Package frq computes cohort-stratified allele frequencies.  Genotype calls
// are melted to one row per alternate allele, samples are grouped into
// cohorts, and each cohort's alternate allele counts and called-allele totals
// are reduced into frequencies, a NaN-aware max_af, and optional confidence
// intervals.  Rows can further be collapsed by amino-acid change.
package frq

import (
	"github.com/grailbio/cohortfreq/query"
	"github.com/grailbio/cohortfreq/variant"
	"github.com/pkg/errors"
)

// Table is a frequency table: one row per melted variant, one column set per
// cohort.  The per-cell slices are row-major, so cell (row, c) is at index
// row*len(Cohorts)+c.
type Table struct {
	Title    string
	Variants []variant.Record
	Labels   []string
	Cohorts  []Cohort

	Count     []int64
	Nobs      []int64
	Frequency []float64
	// MaxAF has one entry per row.
	MaxAF []float64

	// CIMethod is the method CILow and CIUpp were computed with; both are nil
	// for CINone.
	CIMethod CIMethod
	CILow    []float64
	CIUpp    []float64
}

// NRows returns the number of variant rows.
func (t *Table) NRows() int { return len(t.Variants) }

// NCohorts returns the number of cohorts.
func (t *Table) NCohorts() int { return len(t.Cohorts) }

// CohortLabels returns the cohort labels in column order.
func (t *Table) CohortLabels() []string {
	labels := make([]string, len(t.Cohorts))
	for i := range t.Cohorts {
		labels[i] = t.Cohorts[i].Label
	}
	return labels
}

// Cell returns the counts and frequency of (row, cohort).
func (t *Table) Cell(row, c int) (count, nobs int64, frequency float64) {
	i := row*len(t.Cohorts) + c
	return t.Count[i], t.Nobs[i], t.Frequency[i]
}

// recompute derives Frequency and MaxAF from Count and Nobs.
func (t *Table) recompute() {
	nc := len(t.Cohorts)
	if len(t.Frequency) != len(t.Count) {
		t.Frequency = make([]float64, len(t.Count))
	}
	if len(t.MaxAF) != t.NRows() {
		t.MaxAF = make([]float64, t.NRows())
	}
	for i := range t.Count {
		t.Frequency[i] = Ratio(t.Count[i], t.Nobs[i])
	}
	for row := range t.MaxAF {
		t.MaxAF[row] = NaNMax(t.Frequency[row*nc : (row+1)*nc])
	}
}

// ComputeCI fills CILow and CIUpp with method (or clears them for CINone).
func (t *Table) ComputeCI(method CIMethod) {
	t.CIMethod = method
	if method == CINone {
		t.CILow, t.CIUpp = nil, nil
		return
	}
	t.CILow = make([]float64, len(t.Count))
	t.CIUpp = make([]float64, len(t.Count))
	for i := range t.Count {
		t.CILow[i], t.CIUpp[i] = ProportionCI(t.Count[i], t.Nobs[i], method, CIAlpha)
	}
}

// Filter returns a table containing only the rows with keep[row] set.
func (t *Table) Filter(keep []bool) *Table {
	nc := len(t.Cohorts)
	out := &Table{Title: t.Title, Cohorts: t.Cohorts, CIMethod: t.CIMethod}
	for row, k := range keep {
		if !k {
			continue
		}
		out.Variants = append(out.Variants, t.Variants[row])
		if t.Labels != nil {
			out.Labels = append(out.Labels, t.Labels[row])
		}
		out.Count = append(out.Count, t.Count[row*nc:(row+1)*nc]...)
		out.Nobs = append(out.Nobs, t.Nobs[row*nc:(row+1)*nc]...)
		out.Frequency = append(out.Frequency, t.Frequency[row*nc:(row+1)*nc]...)
		out.MaxAF = append(out.MaxAF, t.MaxAF[row])
		if t.CILow != nil {
			out.CILow = append(out.CILow, t.CILow[row*nc:(row+1)*nc]...)
			out.CIUpp = append(out.CIUpp, t.CIUpp[row*nc:(row+1)*nc]...)
		}
	}
	return out
}

// DropInvariant removes rows whose max_af is exactly zero.  Rows with NaN
// max_af have no data rather than zero frequency, and are kept.
func (t *Table) DropInvariant() (*Table, error) {
	keep := make([]bool, t.NRows())
	n := 0
	for row, af := range t.MaxAF {
		keep[row] = af != 0
		if keep[row] {
			n++
		}
	}
	if n == 0 {
		return nil, errors.Wrap(ErrNoVariantsRemaining, "frq.DropInvariant: every variant is invariant")
	}
	return t.Filter(keep), nil
}

// RowFields returns the bindings a variant query sees for row.
func (t *Table) RowFields(row int) map[string]interface{} {
	v := &t.Variants[row]
	fields := map[string]interface{}{
		"contig":     v.Contig,
		"position":   v.Position,
		"ref_allele": v.RefAllele,
		"alt_allele": v.AltAllele,
		"max_af":     t.MaxAF[row],
	}
	for mask, pass := range v.FilterPass {
		fields["pass_"+mask] = pass
	}
	for name, value := range map[string]string{
		"transcript": v.Transcript,
		"effect":     v.Effect,
		"impact":     v.Impact,
		"ref_codon":  v.RefCodon,
		"alt_codon":  v.AltCodon,
		"ref_aa":     v.RefAA,
		"alt_aa":     v.AltAA,
		"aa_change":  v.AAChange,
	} {
		if value == "" {
			fields[name] = nil
		} else {
			fields[name] = value
		}
	}
	if v.AAPos > 0 {
		fields["aa_pos"] = v.AAPos
	} else {
		fields["aa_pos"] = nil
	}
	nc := len(t.Cohorts)
	for c := range t.Cohorts {
		fields["frq_"+t.Cohorts[c].Label] = t.Frequency[row*nc+c]
	}
	return fields
}

// Query returns the rows satisfying a variant query.
func (t *Table) Query(src string) (*Table, error) {
	pred, err := query.Compile(src)
	if err != nil {
		return nil, err
	}
	keep := make([]bool, t.NRows())
	n := 0
	for row := range keep {
		ok, err := pred.Eval(t.RowFields(row))
		if err != nil {
			return nil, err
		}
		keep[row] = ok
		if ok {
			n++
		}
	}
	if n == 0 {
		return nil, errors.Wrapf(ErrNoVariantsRemaining, "frq.Query: no variant satisfies %q", src)
	}
	return t.Filter(keep), nil
}

// SetLabels builds each row's label, in amino-acid-first form if aa is set.
func (t *Table) SetLabels(aa bool) {
	t.Labels = make([]string, t.NRows())
	for row := range t.Variants {
		v := &t.Variants[row]
		if aa {
			t.Labels[row] = variant.AALabel(v.AAChange, v.Contig, v.Position, v.RefAllele, v.AltAllele)
		} else {
			t.Labels[row] = v.Label()
		}
	}
}

