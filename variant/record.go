// Copyright 2021 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

// Package variant defines the melted per-allele variant row shared by the
// frequency engine, the effect annotator and the output writers, together
// with the canonical label strings used to identify those rows.
package variant

// Effect classes assigned by the effect annotator.
const (
	EffectIntergenic          = "INTERGENIC"
	EffectIntronic            = "INTRONIC"
	EffectSpliceCore          = "SPLICE_CORE"
	EffectSpliceRegion        = "SPLICE_REGION"
	EffectFivePrimeUTR        = "FIVE_PRIME_UTR"
	EffectThreePrimeUTR       = "THREE_PRIME_UTR"
	EffectSynonymousCoding    = "SYNONYMOUS_CODING"
	EffectNonSynonymousCoding = "NON_SYNONYMOUS_CODING"
	EffectStartLost           = "START_LOST"
	EffectStopLost            = "STOP_LOST"
	EffectStopGained          = "STOP_GAINED"
	EffectSynonymousStop      = "SYNONYMOUS_STOP"

	// EffectCodingIncomplete marks a coding position in a partial codon.
	EffectCodingIncomplete = "CODING_INCOMPLETE"
)

// Impact classes, from most to least severe.
const (
	ImpactHigh     = "HIGH"
	ImpactModerate = "MODERATE"
	ImpactLow      = "LOW"
	ImpactModifier = "MODIFIER"
)

// IsAAChange reports whether effect denotes a protein-altering substitution,
// i.e. one of NON_SYNONYMOUS_CODING, START_LOST, STOP_LOST or STOP_GAINED.
func IsAAChange(effect string) bool {
	switch effect {
	case EffectNonSynonymousCoding, EffectStartLost, EffectStopLost, EffectStopGained:
		return true
	}
	return false
}

// Impact returns the impact class of an effect.
func Impact(effect string) string {
	switch effect {
	case EffectStartLost, EffectStopLost, EffectStopGained, EffectSpliceCore:
		return ImpactHigh
	case EffectNonSynonymousCoding:
		return ImpactModerate
	case EffectSynonymousCoding, EffectSynonymousStop, EffectSpliceRegion:
		return ImpactLow
	}
	return ImpactModifier
}

// Annotation holds the columns added by the effect annotator. The zero value
// means "not annotated"; AAChange is empty when no amino-acid change is known.
type Annotation struct {
	Transcript string
	Effect     string
	Impact     string
	RefCodon   string
	AltCodon   string
	// AAPos is the 1-based codon number, or 0 outside coding sequence.
	AAPos    int
	RefAA    string
	AltAA    string
	AAChange string
}

// Record is one melted row: a single alternate allele at a single site.
//
// FilterPass is shared between all rows melted from the same site and must be
// treated as read-only.
type Record struct {
	Contig     string
	Position   int // 1-based
	RefAllele  string
	AltAllele  string
	FilterPass map[string]bool

	Annotation
}

// Key identifies a row in output tables.
type Key struct {
	Contig    string
	Position  int
	RefAllele string
	AltAllele string
	AAChange  string
}

// Key returns the index key of r.
func (r *Record) Key() Key {
	return Key{
		Contig:    r.Contig,
		Position:  r.Position,
		RefAllele: r.RefAllele,
		AltAllele: r.AltAllele,
		AAChange:  r.AAChange,
	}
}
