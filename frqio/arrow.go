// Copyright 2021 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package frqio

import (
	"io"
	"sort"

	"github.com/apache/arrow/go/v14/arrow"
	"github.com/apache/arrow/go/v14/arrow/array"
	"github.com/apache/arrow/go/v14/arrow/ipc"
	"github.com/apache/arrow/go/v14/arrow/memory"
	"github.com/google/uuid"
	"github.com/grailbio/cohortfreq/frq"
)

// ArrowChunkSize is the number of rows per Arrow record batch.
const ArrowChunkSize = 65536

// Schema metadata keys.  Cohort attributes are stored under
// "cohort.<label>.<column>".
const (
	MetaTitle    = "title"
	MetaRunID    = "run_id"
	MetaCIMethod = "ci_method"
)

func arrowType(k colKind) arrow.DataType {
	switch k {
	case colString:
		return arrow.BinaryTypes.String
	case colInt:
		return arrow.PrimitiveTypes.Int64
	case colBool:
		return arrow.FixedWidthTypes.Boolean
	}
	return arrow.PrimitiveTypes.Float64
}

func schemaMetadata(t *frq.Table) arrow.Metadata {
	keys := []string{MetaTitle, MetaRunID, MetaCIMethod}
	values := []string{t.Title, uuid.New().String(), string(t.CIMethod)}
	for _, c := range t.Cohorts {
		names := make([]string, 0, len(c.Attrs))
		for name := range c.Attrs {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			keys = append(keys, "cohort."+c.Label+"."+name)
			values = append(values, c.Attrs[name])
		}
	}
	return arrow.NewMetadata(keys, values)
}

// WriteArrow writes t to w in the Arrow IPC stream format.  Missing strings
// and integers are null; NaN frequencies are stored as NaN.
func WriteArrow(w io.Writer, t *frq.Table, opts Opts) (err error) {
	cols := columns(t, opts)
	fields := make([]arrow.Field, len(cols))
	for i, col := range cols {
		fields[i] = arrow.Field{Name: col.name, Type: arrowType(col.kind), Nullable: col.kind == colString || col.kind == colInt}
	}
	md := schemaMetadata(t)
	schema := arrow.NewSchema(fields, &md)
	pool := memory.NewGoAllocator()
	fw := ipc.NewWriter(w, ipc.WithSchema(schema), ipc.WithAllocator(pool))
	defer func() {
		if e := fw.Close(); e != nil && err == nil {
			err = e
		}
	}()

	b := array.NewRecordBuilder(pool, schema)
	defer b.Release()
	n := 0
	flush := func() error {
		rec := b.NewRecord()
		defer rec.Release()
		n = 0
		return fw.Write(rec)
	}
	for row := 0; row < t.NRows(); row++ {
		for i, col := range cols {
			switch col.kind {
			case colString:
				fb := b.Field(i).(*array.StringBuilder)
				if s, ok := col.str(row); ok {
					fb.Append(s)
				} else {
					fb.AppendNull()
				}
			case colInt:
				fb := b.Field(i).(*array.Int64Builder)
				if v, ok := col.int(row); ok {
					fb.Append(v)
				} else {
					fb.AppendNull()
				}
			case colFloat:
				b.Field(i).(*array.Float64Builder).Append(col.float(row))
			case colBool:
				b.Field(i).(*array.BooleanBuilder).Append(col.bool(row))
			}
		}
		n++
		if n == ArrowChunkSize {
			if err = flush(); err != nil {
				return err
			}
		}
	}
	if n > 0 || t.NRows() == 0 {
		err = flush()
	}
	return err
}
