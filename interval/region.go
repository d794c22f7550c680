// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package interval

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// PosType is the coordinate type used by Region and Union.
type PosType int32

const posTypeMax = math.MaxInt32

// Region is a genome region with 1-based inclusive coordinates.  A Region
// with Start == 0 and End == 0 spans the whole contig.
type Region struct {
	Contig string
	Start  PosType
	End    PosType
}

// Whole reports whether r covers its entire contig.
func (r Region) Whole() bool {
	return r.Start == 0 && r.End == 0
}

// Contains checks whether the 1-based position pos on contig lies in r.
func (r Region) Contains(contig string, pos PosType) bool {
	if contig != r.Contig {
		return false
	}
	if r.Whole() {
		return true
	}
	return pos >= r.Start && pos <= r.End
}

// String renders r in the form accepted by ParseRegion.
func (r Region) String() string {
	if r.Whole() {
		return r.Contig
	}
	if r.Start == r.End {
		return fmt.Sprintf("%s:%d", r.Contig, r.Start)
	}
	return fmt.Sprintf("%s:%d-%d", r.Contig, r.Start, r.End)
}

// ParseRegion parses a region string of one of the forms
//   [contig]:[1-based first pos]-[1-based last pos]
//   [contig]:[1-based pos]
//   [contig]
// Commas inside positions are ignored, so "2L:1,000-2,000" is accepted.
func ParseRegion(region string) (result Region, err error) {
	region = strings.TrimSpace(region)
	if len(region) == 0 {
		err = fmt.Errorf("interval.ParseRegion: empty region string")
		return
	}
	colonPos := strings.IndexByte(region, ':')
	if colonPos == -1 {
		result.Contig = region
		return
	}
	if colonPos == 0 {
		err = fmt.Errorf("interval.ParseRegion: empty contig in %q", region)
		return
	}
	result.Contig = region[:colonPos]
	rangeStr := strings.Replace(region[colonPos+1:], ",", "", -1)
	dashPos := strings.IndexByte(rangeStr, '-')
	if dashPos == -1 {
		var pos int
		if pos, err = parsePos(rangeStr); err != nil {
			return
		}
		result.Start = PosType(pos)
		result.End = PosType(pos)
		return
	}
	var start, end int
	if start, err = parsePos(rangeStr[:dashPos]); err != nil {
		return
	}
	if end, err = parsePos(rangeStr[dashPos+1:]); err != nil {
		return
	}
	if end < start {
		err = fmt.Errorf("interval.ParseRegion: invalid range %q", rangeStr)
		return
	}
	result.Start = PosType(start)
	result.End = PosType(end)
	return
}

// ParseRegions parses a comma- or whitespace-separated list of regions.  A
// comma followed by exactly three digits inside a coordinate is treated as a
// thousands separator, so "2L:1,000-2,000,3R" yields two regions.
func ParseRegions(s string) ([]Region, error) {
	var (
		regions []Region
		cur     string
	)
	flush := func() error {
		if cur == "" {
			return nil
		}
		r, err := ParseRegion(cur)
		cur = ""
		if err != nil {
			return err
		}
		regions = append(regions, r)
		return nil
	}
	for _, field := range strings.Fields(s) {
		for _, part := range strings.Split(field, ",") {
			if cur != "" && strings.IndexByte(cur, ':') >= 0 && isThousandsGroup(part) {
				cur += "," + part
				continue
			}
			if err := flush(); err != nil {
				return nil, err
			}
			cur = part
		}
		if err := flush(); err != nil {
			return nil, err
		}
	}
	if len(regions) == 0 {
		return nil, fmt.Errorf("interval.ParseRegions: no regions in %q", s)
	}
	return regions, nil
}

// isThousandsGroup checks whether s starts with exactly three digits followed
// by either nothing or a range dash.
func isThousandsGroup(s string) bool {
	if len(s) < 3 {
		return false
	}
	for i := 0; i < 3; i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return len(s) == 3 || s[3] == '-'
}

func parsePos(s string) (int, error) {
	pos, err := strconv.ParseInt(s, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("interval.ParseRegion: invalid position %q: %v", s, err)
	}
	if pos <= 0 || pos >= posTypeMax {
		return 0, fmt.Errorf("interval.ParseRegion: position %v out of range", s)
	}
	return int(pos), nil
}
