// Copyright 2021 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package frqio

import (
	"context"
	"fmt"

	"github.com/grailbio/base/file"
	"github.com/grailbio/base/log"
	"github.com/grailbio/cohortfreq/frq"
	"github.com/grailbio/hts/bgzf"
)

// Write writes t to path in the given format.  path may name any location
// supported by grailbio/base/file, including s3://.
func Write(ctx context.Context, path string, format Format, t *frq.Table, opts Opts) (err error) {
	if opts.Parallelism <= 0 {
		opts.Parallelism = DefaultOpts.Parallelism
	}
	var dst file.File
	if dst, err = file.Create(ctx, path); err != nil {
		return
	}
	defer file.CloseAndReport(ctx, dst, &err)

	switch format {
	case TSV:
		err = WriteTSV(dst.Writer(ctx), t, opts)
	case TSVBGZ:
		bgzfWriter := bgzf.NewWriter(dst.Writer(ctx), opts.Parallelism)
		defer func() {
			if e := bgzfWriter.Close(); e != nil && err == nil {
				err = e
			}
		}()
		err = WriteTSV(bgzfWriter, t, opts)
	case Arrow:
		err = WriteArrow(dst.Writer(ctx), t, opts)
	default:
		err = fmt.Errorf("frqio.Write: unknown format %q", format)
	}
	if err == nil {
		log.Printf("frqio.Write: wrote %d rows x %d cohorts to %s", t.NRows(), t.NCohorts(), path)
	}
	return
}
