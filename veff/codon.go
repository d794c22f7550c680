// Copyright 2021 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package veff

// bases orders the nucleotides for codonTable.
const bases = "TCAG"

// codonTable is the standard genetic code, indexed by 16*b1+4*b2+b3 where bi
// is the position of the i-th codon base in bases.
const codonTable = "FFLLSSSSYY**CC*WLLLLPPPPHHQQRRRRIIIMTTTTNNKKSSRRVVVVAAAADDEEGGGG"

func baseIndex(b byte) int {
	switch b {
	case 'T', 't', 'U', 'u':
		return 0
	case 'C', 'c':
		return 1
	case 'A', 'a':
		return 2
	case 'G', 'g':
		return 3
	}
	return -1
}

// Translate returns the one-letter amino acid encoded by codon, '*' for a
// stop, or 'X' if the codon is not three unambiguous bases.
func Translate(codon string) byte {
	if len(codon) != 3 {
		return 'X'
	}
	idx := 0
	for i := 0; i < 3; i++ {
		b := baseIndex(codon[i])
		if b < 0 {
			return 'X'
		}
		idx = idx*4 + b
	}
	return codonTable[idx]
}

// Complement returns the complementary base, preserving case.  Ambiguous
// bases map to themselves.
func Complement(b byte) byte {
	switch b {
	case 'A':
		return 'T'
	case 'T':
		return 'A'
	case 'C':
		return 'G'
	case 'G':
		return 'C'
	case 'a':
		return 't'
	case 't':
		return 'a'
	case 'c':
		return 'g'
	case 'g':
		return 'c'
	}
	return b
}

// ReverseComplement returns the reverse complement of s.
func ReverseComplement(s string) string {
	out := make([]byte, len(s))
	for i := 0; i < len(s); i++ {
		out[len(s)-1-i] = Complement(s[i])
	}
	return string(out)
}
