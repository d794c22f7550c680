// Copyright 2021 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package main

import (
	"context"
	"io"

	"github.com/grailbio/base/file"
	"github.com/grailbio/base/tsv"
	"github.com/grailbio/cohortfreq/snpfreq"
	"github.com/grailbio/hts/bgzf"
)

// writeCountsTSV writes one line per variant row: its label and key, effect
// and amino-acid change, then one count_<sample> column per sample.
func writeCountsTSV(out io.Writer, gc *snpfreq.GenotypeCounts) error {
	w := tsv.NewWriter(out)
	for _, col := range []string{"label", "contig", "position", "ref_allele", "alt_allele", "effect", "aa_change"} {
		w.WriteString(col)
	}
	for _, s := range gc.Samples {
		w.WriteString("count_" + s)
	}
	if err := w.EndLine(); err != nil {
		return err
	}
	ns := len(gc.Samples)
	for row := range gc.Variants {
		v := &gc.Variants[row]
		w.WriteString(gc.Labels[row])
		w.WriteString(v.Contig)
		w.WriteInt64(int64(v.Position))
		w.WriteString(v.RefAllele)
		w.WriteString(v.AltAllele)
		for _, s := range []string{v.Effect, v.AAChange} {
			if s == "" {
				s = "."
			}
			w.WriteString(s)
		}
		for _, c := range gc.Counts[row*ns : (row+1)*ns] {
			w.WriteInt64(int64(c))
		}
		if err := w.EndLine(); err != nil {
			return err
		}
	}
	return w.Flush()
}

func writeCounts(ctx context.Context, path string, bgzip bool, gc *snpfreq.GenotypeCounts, parallelism int) (err error) {
	var dst file.File
	if dst, err = file.Create(ctx, path); err != nil {
		return
	}
	defer file.CloseAndReport(ctx, dst, &err)
	if !bgzip {
		return writeCountsTSV(dst.Writer(ctx), gc)
	}
	bgzfWriter := bgzf.NewWriter(dst.Writer(ctx), parallelism)
	defer func() {
		if e := bgzfWriter.Close(); e != nil && err == nil {
			err = e
		}
	}()
	return writeCountsTSV(bgzfWriter, gc)
}
