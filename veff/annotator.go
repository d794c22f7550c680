// Copyright 2021 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package veff

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/grailbio/base/log"
	"github.com/grailbio/cohortfreq/variant"
)

// Distances from an exon boundary, in intron bases, within which an intronic
// SNP is a splice core or splice region variant.
const (
	SpliceCoreDist   = 2
	SpliceRegionDist = 8
)

type span struct{ start, end int }

// transcriptModel is the coding structure of one transcript.
type transcriptModel struct {
	id     string
	contig string
	strand byte
	start  int
	end    int
	exons  []span
	cds    []span
	utr5   []span
	utr3   []span
	// cdsSeq is the coding sequence in transcription order, after the first
	// CDS's phase offset.
	cdsSeq string
	phase  int
}

// Annotator predicts the effects of SNPs on transcripts.  Transcript models
// are built on first use and kept; an Annotator is safe for concurrent use.
type Annotator struct {
	genome   Genome
	features *Features

	mu     sync.Mutex
	models map[string]*transcriptModel
}

// NewAnnotator returns an annotator over the given reference and features.
func NewAnnotator(genome Genome, features *Features) *Annotator {
	return &Annotator{genome: genome, features: features, models: make(map[string]*transcriptModel)}
}

// Features returns the annotator's genome features.
func (a *Annotator) Features() *Features { return a.features }

func (a *Annotator) model(transcript string) (*transcriptModel, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if m, ok := a.models[transcript]; ok {
		return m, nil
	}
	m, err := a.buildModel(transcript)
	if err != nil {
		return nil, err
	}
	a.models[transcript] = m
	return m, nil
}

func spans(fs []*Feature) []span {
	out := make([]span, len(fs))
	for i, f := range fs {
		out[i] = span{f.Start, f.End}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].start < out[j].start })
	return out
}

func (a *Annotator) buildModel(transcript string) (*transcriptModel, error) {
	t, ok := a.features.Get(transcript)
	if !ok {
		return nil, fmt.Errorf("veff: transcript %s not found", transcript)
	}
	if t.Strand != '+' && t.Strand != '-' {
		return nil, fmt.Errorf("veff: transcript %s has no strand", transcript)
	}
	m := &transcriptModel{
		id:     transcript,
		contig: t.Contig,
		strand: t.Strand,
		start:  t.Start,
		end:    t.End,
		exons:  spans(a.features.Children(transcript, TypeExon)),
		utr5:   spans(a.features.Children(transcript, TypeFivePrimeUTR)),
		utr3:   spans(a.features.Children(transcript, TypeThreePrimeUTR)),
	}
	cds := a.features.Children(transcript, TypeCDS)
	if len(cds) == 0 {
		return nil, fmt.Errorf("veff: transcript %s has no CDS", transcript)
	}
	m.cds = spans(cds)
	if len(m.exons) == 0 {
		m.exons = mergeSpans(m.utr5, m.utr3, m.cds)
	}

	var b strings.Builder
	for _, s := range m.cds {
		seq, err := a.genome.Get(m.contig, s.start-1, s.end)
		if err != nil {
			return nil, fmt.Errorf("veff: transcript %s: %v", transcript, err)
		}
		b.WriteString(seq)
	}
	m.cdsSeq = b.String()
	first := cds[0]
	if m.strand == '-' {
		m.cdsSeq = ReverseComplement(m.cdsSeq)
		first = cds[len(cds)-1]
	}
	if first.Phase > 0 {
		m.phase = first.Phase
		m.cdsSeq = m.cdsSeq[m.phase:]
	}
	log.Debug.Printf("veff: transcript %s: %d exons, %d CDS, %d coding bases", transcript, len(m.exons), len(m.cds), len(m.cdsSeq))
	return m, nil
}

// mergeSpans returns the union of the given spans, merging adjacent ones.
func mergeSpans(lists ...[]span) []span {
	var all []span
	for _, l := range lists {
		all = append(all, l...)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].start < all[j].start })
	var out []span
	for _, s := range all {
		if n := len(out); n > 0 && s.start <= out[n-1].end+1 {
			if s.end > out[n-1].end {
				out[n-1].end = s.end
			}
			continue
		}
		out = append(out, s)
	}
	return out
}

func inSpans(spans []span, pos int) bool {
	for _, s := range spans {
		if pos >= s.start && pos <= s.end {
			return true
		}
	}
	return false
}

// cdsOffset returns the 0-based offset of pos within m.cdsSeq, or -1.
func (m *transcriptModel) cdsOffset(pos int) int {
	off := 0
	if m.strand == '+' {
		for _, s := range m.cds {
			if pos <= s.end {
				if pos < s.start {
					return -1
				}
				return off + pos - s.start - m.phase
			}
			off += s.end - s.start + 1
		}
		return -1
	}
	for i := len(m.cds) - 1; i >= 0; i-- {
		s := m.cds[i]
		if pos >= s.start {
			if pos > s.end {
				return -1
			}
			return off + s.end - pos - m.phase
		}
		off += s.end - s.start + 1
	}
	return -1
}

// Annotate fills in the annotation of each record for transcript.  Records
// whose alternate allele is not a single base are left unannotated.  The
// reference allele of every annotated record must match the genome.
func (a *Annotator) Annotate(transcript string, records []variant.Record) error {
	m, err := a.model(transcript)
	if err != nil {
		return err
	}
	for i := range records {
		if err := a.annotate(m, &records[i]); err != nil {
			return err
		}
	}
	return nil
}

func (a *Annotator) annotate(m *transcriptModel, r *variant.Record) error {
	if len(r.AltAllele) != 1 || len(r.RefAllele) != 1 {
		r.Annotation = variant.Annotation{}
		return nil
	}
	ann := variant.Annotation{Transcript: m.id}
	pos := r.Position
	switch {
	case r.Contig != m.contig || pos < m.start || pos > m.end:
		ann.Effect = variant.EffectIntergenic
	case inSpans(m.cds, pos):
		if err := a.annotateCoding(m, r, &ann); err != nil {
			return err
		}
	case inSpans(m.exons, pos) || inSpans(m.utr5, pos) || inSpans(m.utr3, pos):
		ann.Effect = m.utrEffect(pos)
	default:
		ann.Effect = m.intronEffect(pos)
	}
	ann.Impact = variant.Impact(ann.Effect)
	r.Annotation = ann
	return nil
}

func (a *Annotator) annotateCoding(m *transcriptModel, r *variant.Record, ann *variant.Annotation) error {
	ref, err := a.genome.Get(r.Contig, r.Position-1, r.Position)
	if err != nil {
		return err
	}
	if !strings.EqualFold(ref, r.RefAllele) {
		return fmt.Errorf("veff: %s:%d: reference allele %s does not match genome base %s", r.Contig, r.Position, r.RefAllele, ref)
	}
	off := m.cdsOffset(r.Position)
	if off < 0 || off/3*3+3 > len(m.cdsSeq) {
		ann.Effect = variant.EffectCodingIncomplete
		return nil
	}
	codonIdx, codonPos := off/3, off%3
	refCodon := []byte(strings.ToLower(m.cdsSeq[codonIdx*3 : codonIdx*3+3]))
	alt := strings.ToUpper(r.AltAllele)[0]
	if m.strand == '-' {
		alt = Complement(alt)
	}
	altCodon := append([]byte(nil), refCodon...)
	altCodon[codonPos] = alt
	refCodon[codonPos] -= 'a' - 'A'

	refAA, altAA := Translate(string(refCodon)), Translate(string(altCodon))
	ann.RefCodon, ann.AltCodon = string(refCodon), string(altCodon)
	ann.AAPos = codonIdx + 1
	ann.RefAA, ann.AltAA = string(refAA), string(altAA)
	ann.AAChange = ann.RefAA + strconv.Itoa(ann.AAPos) + ann.AltAA
	switch {
	case refAA == altAA && refAA == '*':
		ann.Effect = variant.EffectSynonymousStop
	case refAA == altAA:
		ann.Effect = variant.EffectSynonymousCoding
	case ann.AAPos == 1 && refAA == 'M':
		ann.Effect = variant.EffectStartLost
	case refAA == '*':
		ann.Effect = variant.EffectStopLost
	case altAA == '*':
		ann.Effect = variant.EffectStopGained
	default:
		ann.Effect = variant.EffectNonSynonymousCoding
	}
	return nil
}

// utrEffect classifies a non-coding exonic position by its side of the CDS.
func (m *transcriptModel) utrEffect(pos int) string {
	if inSpans(m.utr5, pos) {
		return variant.EffectFivePrimeUTR
	}
	if inSpans(m.utr3, pos) {
		return variant.EffectThreePrimeUTR
	}
	upstream := pos < m.cds[0].start
	if m.strand == '-' {
		upstream = pos > m.cds[len(m.cds)-1].end
	}
	if upstream {
		return variant.EffectFivePrimeUTR
	}
	return variant.EffectThreePrimeUTR
}

// intronEffect classifies an intronic position by its distance from the
// nearest exon.
func (m *transcriptModel) intronEffect(pos int) string {
	dist := -1
	for _, e := range m.exons {
		d := e.start - pos
		if pos > e.end {
			d = pos - e.end
		}
		if d > 0 && (dist < 0 || d < dist) {
			dist = d
		}
	}
	switch {
	case dist > 0 && dist <= SpliceCoreDist:
		return variant.EffectSpliceCore
	case dist > 0 && dist <= SpliceRegionDist:
		return variant.EffectSpliceRegion
	}
	return variant.EffectIntronic
}
