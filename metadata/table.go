// Copyright 2021 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

// Package metadata holds per-sample metadata: one row per sample, keyed by
// the sample_id column, with arbitrary further attribute columns.
package metadata

import (
	"context"
	"fmt"
	"io"
	"sort"

	"github.com/go-gota/gota/dataframe"
	"github.com/go-gota/gota/series"
	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/file"
	"github.com/grailbio/base/fileio"
	"github.com/grailbio/base/log"
	"github.com/grailbio/cohortfreq/query"
	"github.com/klauspost/compress/gzip"
)

const (
	// SampleID is the key column of every metadata table.
	SampleID = "sample_id"
	// PartnerSampleID is the alternative key accepted for extra metadata.
	PartnerSampleID = "partner_sample_id"
)

// naValues are the cell strings read as missing.
var naValues = []string{"", "NA", "NaN", "nan", "null", "None"}

// Table is an immutable sample metadata table.
type Table struct {
	df dataframe.DataFrame
}

// New wraps a dataframe, which must have a string sample_id column.
func New(df dataframe.DataFrame) (*Table, error) {
	if df.Err != nil {
		return nil, df.Err
	}
	t := &Table{df: df}
	if !t.HasColumn(SampleID) {
		return nil, fmt.Errorf("metadata.New: no %s column (have %v)", SampleID, df.Names())
	}
	if typ := df.Col(SampleID).Type(); typ != series.String {
		return nil, fmt.Errorf("metadata.New: %s column has type %v, want string", SampleID, typ)
	}
	return t, nil
}

// ReadTSV parses a tab-separated table with a header line.  Column types are
// inferred; keyColumns are always read as strings.
func ReadTSV(r io.Reader, keyColumns ...string) (dataframe.DataFrame, error) {
	types := map[string]series.Type{SampleID: series.String, PartnerSampleID: series.String}
	for _, c := range keyColumns {
		types[c] = series.String
	}
	df := dataframe.ReadCSV(r,
		dataframe.WithDelimiter('\t'),
		dataframe.HasHeader(true),
		dataframe.NaNValues(naValues),
		dataframe.WithTypes(types))
	return df, df.Err
}

// Load reads the sample metadata TSV at path, then left-joins each of the
// further tables in paths on sample_id, in order.  Gzipped input is detected
// from the extension.
func Load(ctx context.Context, path string, paths ...string) (*Table, error) {
	df, err := readPath(ctx, path)
	if err != nil {
		return nil, err
	}
	t, err := New(df)
	if err != nil {
		return nil, errors.E(err, path)
	}
	for _, p := range paths {
		df, err := readPath(ctx, p)
		if err != nil {
			return nil, err
		}
		if t, err = t.Merge(df, SampleID); err != nil {
			return nil, errors.E(err, p)
		}
	}
	log.Debug.Printf("metadata: loaded %d samples, %d columns from %s", t.Len(), len(t.Columns()), path)
	return t, nil
}

// LoadDataFrame reads the TSV at path without requiring a sample_id column,
// for use as extra metadata keyed on another column.
func LoadDataFrame(ctx context.Context, path string) (dataframe.DataFrame, error) {
	return readPath(ctx, path)
}

func readPath(ctx context.Context, path string) (df dataframe.DataFrame, err error) {
	in, err := file.Open(ctx, path)
	if err != nil {
		return df, errors.E(err, "open", path)
	}
	defer file.CloseAndReport(ctx, in, &err)
	reader := io.Reader(in.Reader(ctx))
	if fileio.DetermineType(path) == fileio.Gzip {
		gz, err := gzip.NewReader(reader)
		if err != nil {
			return df, errors.E(err, "gunzip", path)
		}
		defer gz.Close()
		reader = gz
	}
	if df, err = ReadTSV(reader); err != nil {
		return df, errors.E(err, "parse", path)
	}
	return df, nil
}

// DataFrame returns the underlying dataframe.
func (t *Table) DataFrame() dataframe.DataFrame { return t.df }

// Len returns the number of samples.
func (t *Table) Len() int { return t.df.Nrow() }

// Columns returns the column names.
func (t *Table) Columns() []string { return t.df.Names() }

// HasColumn reports whether the table has the named column.
func (t *Table) HasColumn(name string) bool {
	for _, n := range t.df.Names() {
		if n == name {
			return true
		}
	}
	return false
}

// SampleIDs returns the sample_id column.
func (t *Table) SampleIDs() []string {
	return t.df.Col(SampleID).Records()
}

// Value returns the cell at (row, column) as a Go value: string, int,
// float64 or bool, or nil when missing.
func (t *Table) Value(row int, column string) interface{} {
	return elemValue(t.df.Col(column).Elem(row))
}

func elemValue(e series.Element) interface{} {
	if e.IsNA() {
		return nil
	}
	switch e.Type() {
	case series.String:
		return e.String()
	case series.Int:
		v, err := e.Int()
		if err != nil {
			return nil
		}
		return v
	case series.Bool:
		v, err := e.Bool()
		if err != nil {
			return nil
		}
		return v
	}
	return e.Float()
}

// StringColumn returns the values of a string-typed column; valid[i] is false
// where the cell is missing.  ok is false if the column exists but is not
// string-typed.
func (t *Table) StringColumn(name string) (values []string, valid []bool, ok bool, err error) {
	if !t.HasColumn(name) {
		return nil, nil, false, fmt.Errorf("metadata: unknown column %q", name)
	}
	col := t.df.Col(name)
	if col.Type() != series.String {
		return nil, nil, false, nil
	}
	n := col.Len()
	values = make([]string, n)
	valid = make([]bool, n)
	for i := 0; i < n; i++ {
		e := col.Elem(i)
		if e.IsNA() {
			continue
		}
		values[i] = e.String()
		valid[i] = true
	}
	return values, valid, true, nil
}

// Row returns the bindings of one sample, column name to value.
func (t *Table) Row(i int) map[string]interface{} {
	names := t.df.Names()
	row := make(map[string]interface{}, len(names))
	for _, name := range names {
		row[name] = t.Value(i, name)
	}
	return row
}

// Select evaluates a predicate against every row, returning the indices of
// matching rows in table order.
func (t *Table) Select(pred *query.Expr) ([]int, error) {
	var idx []int
	for i := 0; i < t.Len(); i++ {
		ok, err := pred.Eval(t.Row(i))
		if err != nil {
			return nil, err
		}
		if ok {
			idx = append(idx, i)
		}
	}
	return idx, nil
}

// Query compiles src and applies Select.
func (t *Table) Query(src string) ([]int, error) {
	pred, err := query.Compile(src)
	if err != nil {
		return nil, err
	}
	return t.Select(pred)
}

// Subset returns the listed rows, in the given order.
func (t *Table) Subset(rows []int) *Table {
	return &Table{df: t.df.Subset(rows)}
}

// Merge left-joins extra onto t on the key column, preserving t's rows and
// their order.  The key values of extra must be unique.  Columns of extra
// that t already has, other than the key, replace t's.
func (t *Table) Merge(extra dataframe.DataFrame, on string) (*Table, error) {
	if extra.Err != nil {
		return nil, extra.Err
	}
	if !t.HasColumn(on) {
		return nil, fmt.Errorf("metadata.Merge: table has no %q column", on)
	}
	keys, err := columnIndex(extra, on)
	if err != nil {
		return nil, err
	}
	var (
		left    = t.df.Col(on)
		rows    = make([]int, left.Len())
		matched = 0
	)
	for i := range rows {
		rows[i] = -1
		if e := left.Elem(i); !e.IsNA() {
			if j, ok := keys[e.String()]; ok {
				rows[i] = j
				matched++
			}
		}
	}
	var cols []series.Series
	extraNames := map[string]bool{}
	for _, name := range extra.Names() {
		if name != on {
			extraNames[name] = true
		}
	}
	for _, name := range t.df.Names() {
		if !extraNames[name] {
			cols = append(cols, t.df.Col(name))
		}
	}
	for _, name := range extra.Names() {
		if name == on {
			continue
		}
		cols = append(cols, reindex(extra.Col(name), rows))
	}
	df := dataframe.New(cols...)
	if df.Err != nil {
		return nil, df.Err
	}
	log.Debug.Printf("metadata.Merge: %d of %d samples matched on %s", matched, t.Len(), on)
	return &Table{df: df}, nil
}

// Matches counts the rows of t whose key column value appears in extra.
func (t *Table) Matches(extra dataframe.DataFrame, on string) (int, error) {
	if !t.HasColumn(on) {
		return 0, fmt.Errorf("metadata: table has no %q column", on)
	}
	keys, err := columnIndex(extra, on)
	if err != nil {
		return 0, err
	}
	n := 0
	col := t.df.Col(on)
	for i := 0; i < col.Len(); i++ {
		if e := col.Elem(i); !e.IsNA() {
			if _, ok := keys[e.String()]; ok {
				n++
			}
		}
	}
	return n, nil
}

// columnIndex maps each value of df's key column to its row, failing on
// duplicates.
func columnIndex(df dataframe.DataFrame, on string) (map[string]int, error) {
	found := false
	for _, n := range df.Names() {
		found = found || n == on
	}
	if !found {
		return nil, fmt.Errorf("metadata: dataframe does not contain column %q", on)
	}
	col := df.Col(on)
	keys := make(map[string]int, col.Len())
	var dups []string
	for i := 0; i < col.Len(); i++ {
		e := col.Elem(i)
		if e.IsNA() {
			continue
		}
		k := e.String()
		if _, ok := keys[k]; ok {
			dups = append(dups, k)
			continue
		}
		keys[k] = i
	}
	if len(dups) > 0 {
		sort.Strings(dups)
		return nil, fmt.Errorf("metadata: column %q does not have unique values (%v)", on, dups)
	}
	return keys, nil
}

// reindex returns s rearranged so that element i is s[rows[i]], or missing
// where rows[i] < 0.
func reindex(s series.Series, rows []int) series.Series {
	values := make([]interface{}, len(rows))
	for i, j := range rows {
		if j < 0 {
			values[i] = nil
			continue
		}
		e := s.Elem(j)
		if e.IsNA() {
			values[i] = nil
			continue
		}
		values[i] = e.Val()
	}
	return series.New(values, s.Type(), s.Name)
}
