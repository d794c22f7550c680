// Copyright 2021 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package variant

import (
	"strconv"
	"strings"
)

// Label returns "{contig}:{position} {ref}>{alt}", with the position rendered
// with comma thousands separators, suffixed by " ({aaChange})" when aaChange is
// nonempty.  The result depends only on the arguments.
func Label(contig string, position int, ref, alt, aaChange string) string {
	var b strings.Builder
	writeLocus(&b, contig, position, ref, alt)
	if aaChange != "" {
		b.WriteString(" (")
		b.WriteString(aaChange)
		b.WriteByte(')')
	}
	return b.String()
}

// AALabel returns "{aaChange} ({contig}:{position} {ref}>{alt})", the label
// form used for amino-acid frequency tables.
func AALabel(aaChange, contig string, position int, ref, alt string) string {
	var b strings.Builder
	b.WriteString(aaChange)
	b.WriteString(" (")
	writeLocus(&b, contig, position, ref, alt)
	b.WriteByte(')')
	return b.String()
}

// Label returns the canonical label of r.
func (r *Record) Label() string {
	return Label(r.Contig, r.Position, r.RefAllele, r.AltAllele, r.AAChange)
}

func writeLocus(b *strings.Builder, contig string, position int, ref, alt string) {
	b.WriteString(contig)
	b.WriteByte(':')
	b.WriteString(FormatThousands(position))
	b.WriteByte(' ')
	b.WriteString(ref)
	b.WriteByte('>')
	b.WriteString(alt)
}

// FormatThousands renders n in base 10 with ',' between groups of three
// digits, independent of locale.
func FormatThousands(n int) string {
	s := strconv.Itoa(n)
	neg := false
	if s[0] == '-' {
		neg = true
		s = s[1:]
	}
	if len(s) <= 3 {
		if neg {
			return "-" + s
		}
		return s
	}
	out := make([]byte, 0, len(s)+len(s)/3+1)
	if neg {
		out = append(out, '-')
	}
	lead := len(s) % 3
	if lead == 0 {
		lead = 3
	}
	out = append(out, s[:lead]...)
	for i := lead; i < len(s); i += 3 {
		out = append(out, ',')
		out = append(out, s[i:i+3]...)
	}
	return string(out)
}
