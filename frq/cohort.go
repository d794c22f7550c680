// Copyright 2021 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package frq

import (
	"fmt"
	"io"
	"io/ioutil"
	"sort"
	"strings"

	"github.com/antzucaro/matchr"
	"github.com/grailbio/base/log"
	"github.com/grailbio/cohortfreq/metadata"
	"github.com/grailbio/cohortfreq/query"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v2"
)

// CohortPrefix is prepended to a grouping column name when only the prefixed
// column exists.
const CohortPrefix = "cohort_"

// CohortSpec selects how samples are grouped into cohorts.  It is one of
// Explicit, Column or Columns.
type CohortSpec interface {
	isCohortSpec()
}

// CohortQuery is one entry of an explicit cohort mapping.
type CohortQuery struct {
	Label string
	Query string
}

// Explicit is an ordered mapping from cohort label to a sample predicate.
// Cohorts keep the mapping's order.
type Explicit []CohortQuery

// Column groups samples by the distinct string values of one metadata
// column.  Cohorts are ordered by label.
type Column string

// Columns groups samples by the tuple of values of several metadata columns.
// Labels join the values with "_"; cohorts are ordered by tuple.
type Columns []string

func (Explicit) isCohortSpec() {}
func (Column) isCohortSpec()   {}
func (Columns) isCohortSpec()  {}

// Cohort is a named set of samples.
type Cohort struct {
	Label string
	// SampleIndices are increasing row indices into the metadata table the
	// cohort was resolved against.
	SampleIndices []int
	// Attrs maps each grouping column to this cohort's value, for cohorts
	// resolved from Columns.
	Attrs map[string]string
}

// Size returns the number of samples in c.
func (c *Cohort) Size() int { return len(c.SampleIndices) }

// ResolveOpts controls cohort resolution.
type ResolveOpts struct {
	// SampleQuery, if nonempty, is a predicate every cohort member must also
	// satisfy.
	SampleQuery string
	// MinCohortSize drops cohorts with fewer samples.
	MinCohortSize int
}

// ResolveCohorts binds spec to the rows of samples.  Cohorts below
// opts.MinCohortSize are dropped with a diagnostic; if none remain the error
// is ErrNoCohortsAvailable.
func ResolveCohorts(samples *metadata.Table, spec CohortSpec, opts ResolveOpts) ([]Cohort, error) {
	outer, err := outerSelection(samples, opts.SampleQuery)
	if err != nil {
		return nil, err
	}
	var candidates []Cohort
	switch spec := spec.(type) {
	case Explicit:
		candidates, err = resolveExplicit(samples, spec, outer)
	case Column:
		candidates, err = resolveColumns(samples, []string{string(spec)}, outer, true)
	case Columns:
		if len(spec) == 0 {
			return nil, errors.Wrap(ErrInvalidCohortSpec, "frq.ResolveCohorts: empty column list")
		}
		candidates, err = resolveColumns(samples, spec, outer, false)
	case nil:
		return nil, errors.Wrap(ErrInvalidCohortSpec, "frq.ResolveCohorts: no cohorts given")
	default:
		return nil, errors.Wrapf(ErrInvalidCohortSpec, "frq.ResolveCohorts: unsupported cohort spec %T", spec)
	}
	if err != nil {
		return nil, err
	}

	cohorts := candidates[:0]
	for _, c := range candidates {
		if c.Size() < opts.MinCohortSize {
			log.Printf("Cohort (%s) has insufficient samples (%d) for requested cohort size (%d), dropping.",
				c.Label, c.Size(), opts.MinCohortSize)
			continue
		}
		cohorts = append(cohorts, c)
	}
	if len(cohorts) == 0 {
		return nil, errors.Wrapf(ErrNoCohortsAvailable, "frq.ResolveCohorts: no cohort has at least %d samples", opts.MinCohortSize)
	}
	return cohorts, nil
}

// outerSelection returns a per-row membership mask for the outer sample
// query, or nil when there is none.
func outerSelection(samples *metadata.Table, src string) ([]bool, error) {
	if src == "" {
		return nil, nil
	}
	idx, err := samples.Query(src)
	if err != nil {
		return nil, errors.Wrap(ErrInvalidCohortSpec, err.Error())
	}
	sel := make([]bool, samples.Len())
	for _, i := range idx {
		sel[i] = true
	}
	return sel, nil
}

func resolveExplicit(samples *metadata.Table, spec Explicit, outer []bool) ([]Cohort, error) {
	if len(spec) == 0 {
		return nil, errors.Wrap(ErrInvalidCohortSpec, "frq.ResolveCohorts: empty cohort mapping")
	}
	seen := make(map[string]bool, len(spec))
	cohorts := make([]Cohort, 0, len(spec))
	for _, cq := range spec {
		if cq.Label == "" {
			return nil, errors.Wrap(ErrInvalidCohortSpec, "frq.ResolveCohorts: empty cohort label")
		}
		if seen[cq.Label] {
			return nil, errors.Wrapf(ErrInvalidCohortSpec, "frq.ResolveCohorts: duplicate cohort label %q", cq.Label)
		}
		seen[cq.Label] = true
		if strings.TrimSpace(cq.Query) == "" {
			return nil, errors.Wrapf(ErrInvalidCohortSpec, "frq.ResolveCohorts: cohort %q has an empty query", cq.Label)
		}
		pred, err := query.Compile(cq.Query)
		if err != nil {
			return nil, errors.Wrapf(ErrInvalidCohortSpec, "frq.ResolveCohorts: cohort %q: %v", cq.Label, err)
		}
		idx, err := samples.Select(pred)
		if err != nil {
			return nil, errors.Wrapf(ErrInvalidCohortSpec, "frq.ResolveCohorts: cohort %q: %v", cq.Label, err)
		}
		cohorts = append(cohorts, Cohort{Label: cq.Label, SampleIndices: intersect(idx, outer)})
	}
	return cohorts, nil
}

// GroupingColumn applies the "cohort_" prefix convenience to name.
func GroupingColumn(samples *metadata.Table, name string) (string, error) {
	if samples.HasColumn(name) {
		return name, nil
	}
	if samples.HasColumn(CohortPrefix + name) {
		return CohortPrefix + name, nil
	}
	if near := nearestColumn(samples.Columns(), name); near != "" {
		return "", errors.Wrapf(ErrUnknownColumn, "frq.ResolveCohorts: no column %q in sample metadata (did you mean %q?)", name, near)
	}
	return "", errors.Wrapf(ErrUnknownColumn, "frq.ResolveCohorts: no column %q in sample metadata", name)
}

// nearestColumn returns the column closest to name by edit distance, or ""
// if none is within a third of name's length.
func nearestColumn(columns []string, name string) string {
	best, bestDist := "", len(name)/3+1
	for _, col := range columns {
		for _, c := range []string{col, strings.TrimPrefix(col, CohortPrefix)} {
			if d := matchr.Levenshtein(name, c); d < bestDist {
				best, bestDist = col, d
			}
		}
	}
	return best
}

func resolveColumns(samples *metadata.Table, names []string, outer []bool, stringsOnly bool) ([]Cohort, error) {
	n := samples.Len()
	columns := make([]string, len(names))
	values := make([][]string, len(names))
	valid := make([][]bool, len(names))
	for j, name := range names {
		col, err := GroupingColumn(samples, name)
		if err != nil {
			return nil, err
		}
		columns[j] = col
		v, ok, isString, err := samples.StringColumn(col)
		if err != nil {
			return nil, errors.Wrap(ErrUnknownColumn, err.Error())
		}
		if !isString {
			if stringsOnly {
				// Non-string categories yield no cohorts.
				log.Debug.Printf("frq.ResolveCohorts: column %s is not string-typed; no cohorts derived", col)
				return nil, nil
			}
			v = make([]string, n)
			ok = make([]bool, n)
			for i := 0; i < n; i++ {
				if x := samples.Value(i, col); x != nil {
					v[i], ok[i] = formatValue(x), true
				}
			}
		}
		values[j], valid[j] = v, ok
	}

	type group struct {
		key     []string
		members []int
	}
	groups := map[string]*group{}
	for i := 0; i < n; i++ {
		if outer != nil && !outer[i] {
			continue
		}
		key := make([]string, len(names))
		complete := true
		for j := range names {
			if !valid[j][i] {
				complete = false
				break
			}
			key[j] = values[j][i]
		}
		if !complete {
			continue
		}
		mapKey := strings.Join(key, "\000")
		g, ok := groups[mapKey]
		if !ok {
			g = &group{key: key}
			groups[mapKey] = g
		}
		g.members = append(g.members, i)
	}
	sorted := make([]*group, 0, len(groups))
	for _, g := range groups {
		sorted = append(sorted, g)
	}
	sort.Slice(sorted, func(a, b int) bool {
		ka, kb := sorted[a].key, sorted[b].key
		for j := range ka {
			if ka[j] != kb[j] {
				return ka[j] < kb[j]
			}
		}
		return false
	})
	cohorts := make([]Cohort, len(sorted))
	for i, g := range sorted {
		cohorts[i] = Cohort{Label: strings.Join(g.key, "_"), SampleIndices: g.members}
		if len(names) > 1 {
			cohorts[i].Attrs = make(map[string]string, len(names))
			for j, col := range columns {
				cohorts[i].Attrs[col] = g.key[j]
			}
		}
	}
	return cohorts, nil
}

// formatValue renders a metadata or YAML scalar as a label.
func formatValue(v interface{}) string {
	switch v := v.(type) {
	case string:
		return v
	case float64:
		return fmt.Sprintf("%g", v)
	}
	return fmt.Sprint(v)
}

// intersect returns the elements of idx selected by mask (all of them when
// mask is nil).
func intersect(idx []int, mask []bool) []int {
	if mask == nil {
		return idx
	}
	out := idx[:0:0]
	for _, i := range idx {
		if mask[i] {
			out = append(out, i)
		}
	}
	return out
}

// ReadCohortSpec parses a YAML cohort specification: a mapping from label to
// sample query yields Explicit (in document order), a string yields Column,
// and a list of strings yields Columns.
func ReadCohortSpec(r io.Reader) (CohortSpec, error) {
	data, err := ioutil.ReadAll(r)
	if err != nil {
		return nil, err
	}
	var ms yaml.MapSlice
	if err := yaml.Unmarshal(data, &ms); err == nil && len(ms) > 0 {
		spec := make(Explicit, len(ms))
		for i, item := range ms {
			q, ok := item.Value.(string)
			if !ok {
				return nil, errors.Wrapf(ErrInvalidCohortSpec, "frq.ReadCohortSpec: cohort %v: query must be a string, got %T", item.Key, item.Value)
			}
			spec[i] = CohortQuery{Label: formatValue(item.Key), Query: q}
		}
		return spec, nil
	}
	var name string
	if err := yaml.Unmarshal(data, &name); err == nil && name != "" {
		return Column(name), nil
	}
	var names []string
	if err := yaml.Unmarshal(data, &names); err == nil && len(names) > 0 {
		if len(names) == 1 {
			return Column(names[0]), nil
		}
		return Columns(names), nil
	}
	return nil, errors.Wrap(ErrInvalidCohortSpec, "frq.ReadCohortSpec: expected a mapping, a column name or a list of column names")
}
