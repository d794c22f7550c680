// Copyright 2021 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package frqio

import (
	"io"
	"strconv"

	"github.com/grailbio/base/tsv"
	"github.com/grailbio/cohortfreq/frq"
)

// missing is written for absent string and integer values.
const missing = "."

// WriteTSV writes t to w as tab-separated text with a header line.
// Frequencies are written with the shortest exact representation, and NaN as
// "NaN".
func WriteTSV(w io.Writer, t *frq.Table, opts Opts) error {
	cols := columns(t, opts)
	tw := tsv.NewWriter(w)
	for _, col := range cols {
		tw.WriteString(col.name)
	}
	if err := tw.EndLine(); err != nil {
		return err
	}
	for row := 0; row < t.NRows(); row++ {
		for _, col := range cols {
			switch col.kind {
			case colString:
				if s, ok := col.str(row); ok {
					tw.WriteString(s)
				} else {
					tw.WriteString(missing)
				}
			case colInt:
				if v, ok := col.int(row); ok {
					tw.WriteInt64(v)
				} else {
					tw.WriteString(missing)
				}
			case colFloat:
				tw.WriteString(strconv.FormatFloat(col.float(row), 'g', -1, 64))
			case colBool:
				tw.WriteString(strconv.FormatBool(col.bool(row)))
			}
		}
		if err := tw.EndLine(); err != nil {
			return err
		}
	}
	return tw.Flush()
}
