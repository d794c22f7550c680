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
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/file"
	"github.com/grailbio/base/fileio"
	"github.com/grailbio/base/tsv"
	"github.com/klauspost/compress/gzip"
)

// Genome is a reference genome: a set of named contig sequences, read as
// upper-case bases.
type Genome interface {
	// Get returns bases [start, end) of contig, 0-based.  Get is thread-safe.
	Get(contig string, start, end int) (string, error)
	// Len returns the length of contig.
	Len(contig string) (int, error)
	// Contigs returns the contig names in file order.
	Contigs() []string
}

const maxLineLen = 1024 * 1024 * 300

type memGenome struct {
	seqs    map[string]string
	contigs []string
}

// ReadGenome reads FASTA data from r into memory.  Contig names stop at the
// first space of the '>' line.
func ReadGenome(r io.Reader) (Genome, error) {
	g := &memGenome{seqs: make(map[string]string)}
	scanner := bufio.NewScanner(r)
	scanner.Buffer(nil, maxLineLen)
	var (
		name string
		seq  strings.Builder
	)
	flush := func() error {
		if name == "" {
			if seq.Len() != 0 {
				return fmt.Errorf("veff.ReadGenome: sequence data before the first header")
			}
			return nil
		}
		if _, ok := g.seqs[name]; ok {
			return fmt.Errorf("veff.ReadGenome: duplicate contig %s", name)
		}
		g.seqs[name] = strings.ToUpper(seq.String())
		g.contigs = append(g.contigs, name)
		seq.Reset()
		return nil
	}
	for scanner.Scan() {
		line := scanner.Text()
		if len(line) == 0 {
			continue
		}
		if line[0] == '>' {
			if err := flush(); err != nil {
				return nil, err
			}
			name = strings.Fields(line[1:] + " ")[0]
			continue
		}
		seq.WriteString(line)
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.E(err, "veff.ReadGenome")
	}
	if err := flush(); err != nil {
		return nil, err
	}
	return g, nil
}

func (g *memGenome) Get(contig string, start, end int) (string, error) {
	s, ok := g.seqs[contig]
	if !ok {
		return "", fmt.Errorf("contig not found: %s", contig)
	}
	if end <= start {
		return "", fmt.Errorf("start must be less than end")
	}
	if start < 0 || end > len(s) {
		return "", fmt.Errorf("invalid range %d - %d for contig %s with length %d", start, end, contig, len(s))
	}
	return s[start:end], nil
}

func (g *memGenome) Len(contig string) (int, error) {
	s, ok := g.seqs[contig]
	if !ok {
		return 0, fmt.Errorf("contig not found: %s", contig)
	}
	return len(s), nil
}

func (g *memGenome) Contigs() []string { return g.contigs }

// faiRegExp matches one line of a samtools faidx index: "<name>\t<length>\t<byte
// offset>\t<bases per line>\t<bytes per line>".
var faiRegExp = regexp.MustCompile(`^(\S+)\t(\d+)\t(\d+)\t(\d+)\t(\d+)`)

type faiEntry struct {
	length    int64
	offset    int64
	lineBases int64
	lineWidth int64
}

type indexedGenome struct {
	mu      sync.Mutex
	r       io.ReadSeeker
	entries map[string]faiEntry
	contigs []string
	buf     []byte
}

// ReadIndexedGenome returns a Genome that reads bases on demand from fa using
// the faidx index read from fai.
func ReadIndexedGenome(fa io.ReadSeeker, fai io.Reader) (Genome, error) {
	g := &indexedGenome{r: fa, entries: make(map[string]faiEntry)}
	scanner := bufio.NewScanner(fai)
	for scanner.Scan() {
		m := faiRegExp.FindStringSubmatch(scanner.Text())
		if m == nil {
			return nil, fmt.Errorf("veff.ReadIndexedGenome: invalid index line: %q", scanner.Text())
		}
		var e faiEntry
		e.length, _ = strconv.ParseInt(m[2], 10, 64)
		e.offset, _ = strconv.ParseInt(m[3], 10, 64)
		e.lineBases, _ = strconv.ParseInt(m[4], 10, 64)
		e.lineWidth, _ = strconv.ParseInt(m[5], 10, 64)
		if e.lineBases <= 0 || e.lineWidth < e.lineBases {
			return nil, fmt.Errorf("veff.ReadIndexedGenome: invalid line geometry for %s", m[1])
		}
		g.entries[m[1]] = e
		g.contigs = append(g.contigs, m[1])
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	sort.SliceStable(g.contigs, func(i, j int) bool {
		return g.entries[g.contigs[i]].offset < g.entries[g.contigs[j]].offset
	})
	return g, nil
}

func (g *indexedGenome) Get(contig string, start, end int) (string, error) {
	e, ok := g.entries[contig]
	if !ok {
		return "", fmt.Errorf("contig not found in index: %s", contig)
	}
	if end <= start {
		return "", fmt.Errorf("start must be less than end")
	}
	if start < 0 || int64(end) > e.length {
		return "", fmt.Errorf("invalid range %d - %d for contig %s with length %d", start, end, contig, e.length)
	}
	s, n := int64(start), int64(end)
	// Byte offsets of the first and last bases, allowing for line terminators.
	first := e.offset + s/e.lineBases*e.lineWidth + s%e.lineBases
	last := e.offset + (n-1)/e.lineBases*e.lineWidth + (n-1)%e.lineBases

	g.mu.Lock()
	defer g.mu.Unlock()
	if _, err := g.r.Seek(first, io.SeekStart); err != nil {
		return "", err
	}
	size := int(last - first + 1)
	if cap(g.buf) < size {
		g.buf = make([]byte, size)
	}
	g.buf = g.buf[:size]
	if _, err := io.ReadFull(g.r, g.buf); err != nil {
		return "", fmt.Errorf("veff: reading %s:%d-%d (bad index?): %v", contig, start, end, err)
	}
	out := make([]byte, 0, end-start)
	for _, b := range g.buf {
		if b != '\n' && b != '\r' {
			out = append(out, b)
		}
	}
	return string(bytes.ToUpper(out)), nil
}

func (g *indexedGenome) Len(contig string) (int, error) {
	e, ok := g.entries[contig]
	if !ok {
		return 0, fmt.Errorf("contig not found in index: %s", contig)
	}
	return int(e.length), nil
}

func (g *indexedGenome) Contigs() []string { return g.contigs }

// GenerateIndex writes the faidx index of the FASTA data read from in.
func GenerateIndex(out io.Writer, in io.Reader) (err error) {
	var (
		w         = tsv.NewWriter(out)
		r         = bufio.NewReader(in)
		name      string
		seqStart  int64
		length    int
		lineBases int
		lineWidth int
		offset    int64
	)
	flush := func() error {
		if name == "" {
			return nil
		}
		w.WriteString(name)
		w.WriteInt64(int64(length))
		w.WriteInt64(seqStart)
		w.WriteInt64(int64(lineBases))
		w.WriteInt64(int64(lineWidth))
		return w.EndLine()
	}
	for {
		full, rerr := r.ReadBytes('\n')
		if rerr != nil && rerr != io.EOF {
			return rerr
		}
		offset += int64(len(full))
		line := bytes.TrimRight(full, "\r\n")
		switch {
		case len(line) == 0:
		case line[0] == '>':
			if err := flush(); err != nil {
				return err
			}
			name = strings.Fields(string(line[1:]) + " ")[0]
			seqStart, length, lineBases, lineWidth = offset, 0, 0, 0
		default:
			if lineWidth == 0 {
				lineWidth, lineBases = len(full), len(line)
			}
			length += len(line)
		}
		if rerr == io.EOF {
			break
		}
	}
	if offset == 0 {
		return errors.E("veff.GenerateIndex: empty FASTA file")
	}
	if err := flush(); err != nil {
		return err
	}
	return w.Flush()
}

// LoadGenome reads the FASTA file at path into memory.  Gzipped input is
// detected from the extension.
func LoadGenome(ctx context.Context, path string) (g Genome, err error) {
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
	return ReadGenome(r)
}

// OpenIndexedGenome opens the FASTA file at path for random access using its
// faidx index at path+".fai".  The returned close function releases the file.
func OpenIndexedGenome(ctx context.Context, path string) (Genome, func() error, error) {
	idx, err := file.ReadFile(ctx, path+".fai")
	if err != nil {
		return nil, nil, errors.E(err, "read index", path+".fai")
	}
	in, err := file.Open(ctx, path)
	if err != nil {
		return nil, nil, errors.E(err, "open", path)
	}
	g, err := ReadIndexedGenome(in.Reader(ctx), bytes.NewReader(idx))
	if err != nil {
		_ = in.Close(ctx)
		return nil, nil, errors.E(err, path)
	}
	return g, func() error { return in.Close(ctx) }, nil
}
