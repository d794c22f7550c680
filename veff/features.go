// Copyright 2021 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package veff

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/biogo/biogo/io/featio"
	"github.com/biogo/biogo/io/featio/gff"
	"github.com/biogo/biogo/seq"
	"github.com/biogo/store/interval"
	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/file"
	"github.com/grailbio/base/fileio"
	"github.com/grailbio/base/log"
	"github.com/klauspost/compress/gzip"
)

// Feature types used by the annotator.
const (
	TypeGene          = "gene"
	TypeMRNA          = "mRNA"
	TypeTranscript    = "transcript"
	TypeExon          = "exon"
	TypeCDS           = "CDS"
	TypeFivePrimeUTR  = "five_prime_UTR"
	TypeThreePrimeUTR = "three_prime_UTR"
)

// Feature is one genome annotation record.
type Feature struct {
	Contig string
	Type   string
	// Start and End are 1-based and inclusive.
	Start, End int
	// Strand is '+', '-' or '.'.
	Strand  byte
	ID      string
	Parents []string
	Name    string
	// Phase is the CDS reading frame offset, or -1.
	Phase int
}

// node is a feature's entry in an interval tree, over the half-open range
// [Start-1, End).
type node struct {
	f   *Feature
	uid uintptr
}

func (n node) Overlap(b interval.IntRange) bool {
	return n.f.End > b.Start && n.f.Start-1 < b.End
}

func (n node) Range() interval.IntRange {
	return interval.IntRange{Start: n.f.Start - 1, End: n.f.End}
}

func (n node) ID() uintptr { return n.uid }

var _ interval.IntInterface = node{}

// Features is an indexed set of genome features.
type Features struct {
	all      []*Feature
	byID     map[string]*Feature
	children map[string][]*Feature
	trees    map[string]*interval.IntTree
}

type query struct{ r interval.IntRange }

func (q query) Overlap(b interval.IntRange) bool {
	return q.r.End > b.Start && q.r.Start < b.End
}

// NewFeatures indexes features by ID, by parent and by position.
func NewFeatures(features []*Feature) (*Features, error) {
	fs := &Features{
		all:      features,
		byID:     make(map[string]*Feature),
		children: make(map[string][]*Feature),
		trees:    make(map[string]*interval.IntTree),
	}
	for i, f := range features {
		if f.End < f.Start {
			return nil, fmt.Errorf("veff.NewFeatures: feature %s on %s has end %d before start %d", f.ID, f.Contig, f.End, f.Start)
		}
		if f.ID != "" {
			// Multi-line CDS features share an ID.
			if prev, ok := fs.byID[f.ID]; !ok {
				fs.byID[f.ID] = f
			} else if f.Type != TypeCDS || prev.Type != TypeCDS {
				return nil, fmt.Errorf("veff.NewFeatures: duplicate feature ID %s", f.ID)
			}
		}
		for _, p := range f.Parents {
			fs.children[p] = append(fs.children[p], f)
		}
		tree, ok := fs.trees[f.Contig]
		if !ok {
			tree = &interval.IntTree{}
			fs.trees[f.Contig] = tree
		}
		if err := tree.Insert(node{f: f, uid: uintptr(i + 1)}, true); err != nil {
			return nil, err
		}
	}
	for _, tree := range fs.trees {
		tree.AdjustRanges()
	}
	for _, c := range fs.children {
		sort.SliceStable(c, func(i, j int) bool { return c[i].Start < c[j].Start })
	}
	return fs, nil
}

// Len returns the number of features.
func (fs *Features) Len() int { return len(fs.all) }

// Get returns the feature with the given ID.
func (fs *Features) Get(id string) (*Feature, bool) {
	f, ok := fs.byID[id]
	return f, ok
}

// Children returns the children of parent of the given types (all types if
// none are given), ordered by start.
func (fs *Features) Children(parent string, types ...string) []*Feature {
	var out []*Feature
	for _, c := range fs.children[parent] {
		if len(types) == 0 || containsType(types, c.Type) {
			out = append(out, c)
		}
	}
	return out
}

// Overlapping returns the features on contig overlapping the 1-based
// inclusive range [start, end], ordered by start.
func (fs *Features) Overlapping(contig string, start, end int) []*Feature {
	tree, ok := fs.trees[contig]
	if !ok {
		return nil
	}
	hits := tree.Get(query{interval.IntRange{Start: start - 1, End: end}})
	nodes := make([]node, len(hits))
	for i, h := range hits {
		nodes[i] = h.(node)
	}
	sort.Slice(nodes, func(i, j int) bool {
		if nodes[i].f.Start != nodes[j].f.Start {
			return nodes[i].f.Start < nodes[j].f.Start
		}
		return nodes[i].uid < nodes[j].uid
	})
	out := make([]*Feature, len(nodes))
	for i := range nodes {
		out[i] = nodes[i].f
	}
	return out
}

// ParentName returns the display name of the parent gene of a transcript:
// its Name attribute, or its ID when it has none.
func (fs *Features) ParentName(transcript string) (string, error) {
	t, ok := fs.byID[transcript]
	if !ok {
		return "", fmt.Errorf("veff: transcript %s not found", transcript)
	}
	if len(t.Parents) == 0 {
		return "", fmt.Errorf("veff: transcript %s has no parent", transcript)
	}
	gene, ok := fs.byID[t.Parents[0]]
	if !ok || gene.Name == "" {
		return t.Parents[0], nil
	}
	return gene.Name, nil
}

func containsType(types []string, t string) bool {
	for _, x := range types {
		if x == t {
			return true
		}
	}
	return false
}

// ReadGFF reads GFF3 or GTF features from r.  GFF3 ID, Parent and Name
// attributes are used; for GTF, gene_id, transcript_id and gene_name stand in
// for them.  Directives and comments are skipped, and reading stops at a
// ##FASTA section.
func ReadGFF(r io.Reader) ([]*Feature, error) {
	var body bytes.Buffer
	scanner := bufio.NewScanner(r)
	scanner.Buffer(nil, maxLineLen)
	for scanner.Scan() {
		line := scanner.Bytes()
		if bytes.HasPrefix(line, []byte("##FASTA")) {
			break
		}
		if len(bytes.TrimSpace(line)) == 0 || line[0] == '#' {
			continue
		}
		cols := bytes.SplitN(line, []byte{'\t'}, 10)
		if len(cols) < 9 {
			body.Write(line)
		} else {
			body.Write(bytes.Join(cols[:8], []byte{'\t'}))
			body.WriteByte('\t')
			writeGFF2Attributes(&body, cols[8])
			for _, c := range cols[9:] {
				body.WriteByte('\t')
				body.Write(c)
			}
		}
		body.WriteByte('\n')
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	var features []*Feature
	sc := featio.NewScanner(gff.NewReader(&body))
	for sc.Next() {
		g := sc.Feat().(*gff.Feature)
		f := &Feature{
			Contig: g.SeqName,
			Type:   g.Feature,
			Start:  g.FeatStart + 1,
			End:    g.FeatEnd,
			Strand: '.',
			Phase:  -1,
		}
		switch g.FeatStrand {
		case seq.Plus:
			f.Strand = '+'
		case seq.Minus:
			f.Strand = '-'
		}
		if g.FeatFrame >= 0 && g.FeatFrame <= 2 {
			f.Phase = int(g.FeatFrame)
		}
		attrs := attributes(g.FeatAttributes)
		f.ID, f.Name = attrs["ID"], attrs["Name"]
		if p := attrs["Parent"]; p != "" {
			f.Parents = strings.Split(p, ",")
		}
		if f.ID == "" && f.Parents == nil {
			gtfIDs(f, attrs)
		}
		features = append(features, f)
	}
	if err := sc.Error(); err != nil {
		return nil, errors.E(err, "veff.ReadGFF")
	}
	return features, nil
}

// writeGFF2Attributes writes an attribute column in the GFF2 form read by
// biogo, `tag "value"; ...`.  GFF3 `tag=value` pairs are rewritten; GTF pairs
// are already in this form.  Tags biogo cannot read, those that are not all
// letters and underscores, are dropped.
func writeGFF2Attributes(w *bytes.Buffer, col []byte) {
	n := 0
	for _, item := range bytes.Split(col, []byte{';'}) {
		item = bytes.TrimSpace(item)
		if len(item) == 0 {
			continue
		}
		var tag, value []byte
		eq, sp := bytes.IndexByte(item, '='), bytes.IndexAny(item, " \t")
		switch {
		case eq > 0 && (sp < 0 || eq < sp):
			tag, value = item[:eq], item[eq+1:]
		case sp > 0:
			tag, value = item[:sp], bytes.TrimSpace(item[sp:])
		default:
			tag = item
		}
		if !isGFF2Tag(tag) {
			continue
		}
		if n > 0 {
			w.WriteString("; ")
		}
		n++
		w.Write(tag)
		if len(value) > 0 {
			w.WriteString(` "`)
			w.Write(bytes.Trim(value, `"`))
			w.WriteByte('"')
		}
	}
}

func isGFF2Tag(tag []byte) bool {
	for _, c := range tag {
		if !(c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c == '_') {
			return false
		}
	}
	return len(tag) > 0
}

// attributes flattens GFF attributes, dropping the quotes around values.
func attributes(a gff.Attributes) map[string]string {
	m := make(map[string]string, len(a))
	for _, tv := range a {
		m[tv.Tag] = strings.Trim(tv.Value, `"`)
	}
	return m
}

// gtfIDs derives the ID and parent of a GTF record from its gene_id and
// transcript_id attributes.
func gtfIDs(f *Feature, attrs map[string]string) {
	geneID, transcriptID := attrs["gene_id"], attrs["transcript_id"]
	switch f.Type {
	case TypeGene:
		f.ID, f.Name = geneID, attrs["gene_name"]
	case TypeTranscript, TypeMRNA:
		f.ID = transcriptID
		if geneID != "" {
			f.Parents = []string{geneID}
		}
	default:
		if transcriptID != "" {
			f.Parents = []string{transcriptID}
		}
	}
}

// LoadFeatures reads and indexes the GFF3 or GTF file at path.  Gzipped input
// is detected from the extension.
func LoadFeatures(ctx context.Context, path string) (fs *Features, err error) {
	in, err := file.Open(ctx, path)
	if err != nil {
		return nil, errors.E(err, "open", path)
	}
	defer file.CloseAndReport(ctx, in, &err)
	r := io.Reader(in.Reader(ctx))
	if fileio.DetermineType(path) == fileio.Gzip {
		gz, err := gzip.NewReader(r)
		if err != nil {
			return nil, errors.E(err, "gunzip", path)
		}
		defer gz.Close()
		r = gz
	}
	features, err := ReadGFF(r)
	if err != nil {
		return nil, errors.E(err, path)
	}
	log.Debug.Printf("veff: read %d features from %s", len(features), path)
	return NewFeatures(features)
}
