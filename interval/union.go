// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package interval

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"sort"
	"strconv"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/file"
	"github.com/grailbio/base/fileio"
	"github.com/grailbio/base/log"
	gunsafe "github.com/grailbio/base/unsafe"
	"github.com/klauspost/compress/gzip"
)

// Union is a set of disjoint intervals per contig.  Each contig's set is
// stored as a length-2N sequence of 0-based half-open endpoints, in
// increasing order: interval k is [ends[2k], ends[2k+1]).  A position is
// covered iff the index of the first endpoint greater than it is odd.
//
// A Union is not safe for concurrent use, since Contains caches the last
// lookup to accelerate sequential queries.  Use Clone to obtain a copy per
// goroutine.
type Union struct {
	contigs map[string][]PosType
	// order lists contigs in first-seen order.
	order []string

	lastContig string
	lastEnds   []PosType
	lastPos    PosType
	lastIdx    int
}

// searchPosType returns the index of x in a[], or the position where x would
// be inserted if x isn't in a.
func searchPosType(a []PosType, x PosType) int {
	return sort.Search(len(a), func(i int) bool { return a[i] >= x })
}

// fwdsearchPosType checks a[idx], then a[idx + 1], then a[idx + 3], etc.,
// and then binary searches the last gap.  It is usually a better choice than
// searchPosType when iterating in position order.
func fwdsearchPosType(a []PosType, x PosType, idx int) int {
	nextIncr := 1
	startIdx := idx
	endIdx := len(a)
	for idx < endIdx {
		if a[idx] >= x {
			endIdx = idx
			break
		}
		startIdx = idx + 1
		idx += nextIncr
		nextIncr *= 2
	}
	for startIdx < endIdx {
		midIdx := int(uint(startIdx+endIdx) >> 1)
		if a[midIdx] >= x {
			endIdx = midIdx
		} else {
			startIdx = midIdx + 1
		}
	}
	return startIdx
}

// NewUnion builds a Union from regions, which need not be sorted or
// disjoint.  A whole-contig region covers every position on the contig.
func NewUnion(regions []Region) *Union {
	type span struct{ start0, end PosType }
	byContig := map[string][]span{}
	var order []string
	for _, r := range regions {
		if _, ok := byContig[r.Contig]; !ok {
			order = append(order, r.Contig)
		}
		s := span{0, posTypeMax}
		if !r.Whole() {
			s = span{r.Start - 1, r.End}
		}
		byContig[r.Contig] = append(byContig[r.Contig], s)
	}
	u := newUnion()
	u.order = order
	for contig, spans := range byContig {
		sort.Slice(spans, func(i, j int) bool { return spans[i].start0 < spans[j].start0 })
		ends := make([]PosType, 0, 2*len(spans))
		for _, s := range spans {
			if n := len(ends); n > 0 && s.start0 <= ends[n-1] {
				if s.end > ends[n-1] {
					ends[n-1] = s.end
				}
				continue
			}
			ends = append(ends, s.start0, s.end)
		}
		u.contigs[contig] = ends
	}
	return u
}

func newUnion() *Union {
	return &Union{contigs: map[string][]PosType{}, lastIdx: -1}
}

// Contigs returns the contigs mentioned by the union, in first-seen order.
func (u *Union) Contigs() []string { return u.order }

// Contains checks whether the 1-based position pos on contig is covered.
func (u *Union) Contains(contig string, pos PosType) bool {
	// Endpoints are 0-based half-open, so the 1-based pos is covered iff the
	// first endpoint >= pos has odd index.
	if contig != u.lastContig || u.lastIdx < 0 {
		u.lastContig = contig
		u.lastEnds = u.contigs[contig]
		if u.lastEnds == nil {
			u.lastIdx = 0
			return false
		}
		u.lastIdx = searchPosType(u.lastEnds, pos)
		u.lastPos = pos
		return u.lastIdx&1 == 1
	}
	if u.lastEnds == nil {
		return false
	}
	if pos >= u.lastPos {
		u.lastIdx = fwdsearchPosType(u.lastEnds, pos, u.lastIdx)
	} else {
		// Backwards jump: reseed the forward search.
		u.lastIdx = searchPosType(u.lastEnds, pos)
	}
	u.lastPos = pos
	return u.lastIdx&1 == 1
}

// Clone returns a copy of u with independent lookup state.  The interval data
// is shared.
func (u *Union) Clone() *Union {
	return &Union{contigs: u.contigs, order: u.order, lastIdx: -1}
}

// getTokens identifies up to the first len(tokens) whitespace-delimited
// tokens of curLine, returning the number saved.
func getTokens(tokens [][]byte, curLine []byte) int {
	posEnd := 0
	lineLen := len(curLine)
	for tokenIdx := range tokens {
		pos := posEnd
		for ; pos != lineLen; pos++ {
			if curLine[pos] > ' ' {
				break
			}
		}
		if pos == lineLen {
			return tokenIdx
		}
		posEnd = pos
		for ; posEnd != lineLen; posEnd++ {
			if curLine[posEnd] <= ' ' {
				break
			}
		}
		tokens[tokenIdx] = curLine[pos:posEnd]
	}
	return len(tokens)
}

// NewUnionFromBED loads the first three columns of a BED file (0-based
// half-open intervals).  Lines starting with '#', "track" or "browser" are
// skipped; input need not be sorted.
func NewUnionFromBED(r io.Reader) (*Union, error) {
	scanner := bufio.NewScanner(r)
	var (
		tokens  [3][]byte
		regions []Region
		lineIdx int
	)
	for scanner.Scan() {
		lineIdx++
		curLine := scanner.Bytes()
		nToken := getTokens(tokens[:], curLine)
		if nToken == 0 || tokens[0][0] == '#' {
			continue
		}
		if first := gunsafe.BytesToString(tokens[0]); first == "track" || first == "browser" {
			continue
		}
		if nToken != 3 {
			return nil, fmt.Errorf("interval.NewUnionFromBED: line %d has fewer tokens than expected", lineIdx)
		}
		start0, err := strconv.Atoi(gunsafe.BytesToString(tokens[1]))
		if err != nil {
			return nil, fmt.Errorf("interval.NewUnionFromBED: line %d: %v", lineIdx, err)
		}
		end, err := strconv.Atoi(gunsafe.BytesToString(tokens[2]))
		if err != nil {
			return nil, fmt.Errorf("interval.NewUnionFromBED: line %d: %v", lineIdx, err)
		}
		if start0 < 0 || end < start0 || end >= posTypeMax {
			return nil, fmt.Errorf("interval.NewUnionFromBED: invalid coordinate pair on line %d", lineIdx)
		}
		if end == start0 {
			continue
		}
		regions = append(regions, Region{
			Contig: string(tokens[0]),
			Start:  PosType(start0 + 1),
			End:    PosType(end),
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	u := NewUnion(regions)
	log.Debug.Printf("interval: loaded %d BED interval(s) on %d contig(s)", len(regions), len(u.contigs))
	return u, nil
}

// NewUnionFromPath is a wrapper for NewUnionFromBED that takes a path
// instead of an io.Reader.  Gzipped input is detected from the extension.
func NewUnionFromPath(ctx context.Context, path string) (u *Union, err error) {
	in, err := file.Open(ctx, path)
	if err != nil {
		return nil, errors.E(err, "open", path)
	}
	defer file.CloseAndReport(ctx, in, &err)
	reader := io.Reader(in.Reader(ctx))
	if fileio.DetermineType(path) == fileio.Gzip {
		if reader, err = gzip.NewReader(reader); err != nil {
			return nil, errors.E(err, "gunzip", path)
		}
	}
	return NewUnionFromBED(reader)
}
