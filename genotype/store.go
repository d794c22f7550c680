// Copyright 2021 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package genotype

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"hash"
	"io"
	"strconv"
	"strings"

	"blainsmith.com/go/seahash"
	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/file"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/recordio"
	"github.com/grailbio/base/recordio/recordiozstd"
	"github.com/grailbio/cohortfreq/interval"
	"v.io/x/lib/vlog"
)

func init() {
	recordiozstd.Init()
}

const (
	samplesHeader  = "samples"
	ploidyHeader   = "ploidy"
	nAllelesHeader = "nalleles"
	masksHeader    = "masks"

	trailerVersion = 2
	// maxMasks is the number of site masks a store can record, one bit each.
	maxMasks = 32
)

// StoreHeader describes the fixed axes of a genotype store.
type StoreHeader struct {
	SampleIDs []string
	Ploidy    int
	NAlleles  int
	// Masks names the site masks, in the bit order used by each record.
	Masks []string
}

// siteRecord is one site of a genotype store: the site description followed
// by NSamples*Ploidy calls.
type siteRecord struct {
	Contig   string
	Position uint32
	Alleles  []string
	Pass     uint32
	Calls    []int8
}

// cutAndAdvance returns s[offset:offset+pieceLen], and increments offset by
// pieceLen.
func cutAndAdvance(offset *int, s []byte, pieceLen int) []byte {
	tmpSlice := s[(*offset):]
	*offset += pieceLen
	return tmpSlice[:pieceLen]
}

// Serialized format:
//   [0..2): len(contig), then contig bytes
//   next 4 bytes: position
//   next 4 bytes: mask pass bits
//   next byte: number of alleles, then for each allele a length byte and the
//     allele bytes
//   next 4 bytes: number of calls, then one byte per call
// All records are bundled with the "zstd" transformer, so there is no attempt
// at a compact encoding here.
func marshalSiteRecord(scratch []byte, p interface{}) ([]byte, error) {
	r := p.(*siteRecord)
	if len(r.Contig) > 0xffff || len(r.Alleles) > 0xff {
		return nil, fmt.Errorf("genotype.marshalSiteRecord: oversized site %s:%d", r.Contig, r.Position)
	}
	bytesReq := 2 + len(r.Contig) + 8 + 1 + 4 + len(r.Calls)
	for _, a := range r.Alleles {
		if len(a) > 0xff {
			return nil, fmt.Errorf("genotype.marshalSiteRecord: oversized allele at %s:%d", r.Contig, r.Position)
		}
		bytesReq += 1 + len(a)
	}
	t := scratch
	if len(t) < bytesReq {
		t = make([]byte, bytesReq)
	}
	t = t[:bytesReq]

	offset := 0
	binary.LittleEndian.PutUint16(cutAndAdvance(&offset, t, 2), uint16(len(r.Contig)))
	copy(cutAndAdvance(&offset, t, len(r.Contig)), r.Contig)
	tFixed := cutAndAdvance(&offset, t, 9)
	binary.LittleEndian.PutUint32(tFixed[0:4], r.Position)
	binary.LittleEndian.PutUint32(tFixed[4:8], r.Pass)
	tFixed[8] = byte(len(r.Alleles))
	for _, a := range r.Alleles {
		cutAndAdvance(&offset, t, 1)[0] = byte(len(a))
		copy(cutAndAdvance(&offset, t, len(a)), a)
	}
	binary.LittleEndian.PutUint32(cutAndAdvance(&offset, t, 4), uint32(len(r.Calls)))
	tCalls := cutAndAdvance(&offset, t, len(r.Calls))
	for i, c := range r.Calls {
		tCalls[i] = byte(c)
	}
	return t, nil
}

func unmarshalSiteRecord(in []byte) (out interface{}, err error) {
	r := &siteRecord{}
	defer func() {
		// Truncated input shows up as a slice bounds panic.
		if e := recover(); e != nil {
			out, err = nil, fmt.Errorf("genotype.unmarshalSiteRecord: corrupt record: %v", e)
		}
	}()
	offset := 0
	contigLen := int(binary.LittleEndian.Uint16(cutAndAdvance(&offset, in, 2)))
	r.Contig = string(cutAndAdvance(&offset, in, contigLen))
	tFixed := cutAndAdvance(&offset, in, 9)
	r.Position = binary.LittleEndian.Uint32(tFixed[0:4])
	r.Pass = binary.LittleEndian.Uint32(tFixed[4:8])
	r.Alleles = make([]string, int(tFixed[8]))
	for i := range r.Alleles {
		aLen := int(cutAndAdvance(&offset, in, 1)[0])
		r.Alleles[i] = string(cutAndAdvance(&offset, in, aLen))
	}
	nCalls := int(binary.LittleEndian.Uint32(cutAndAdvance(&offset, in, 4)))
	tCalls := cutAndAdvance(&offset, in, nCalls)
	r.Calls = make([]int8, nCalls)
	for i, c := range tCalls {
		r.Calls[i] = int8(c)
	}
	return r, nil
}

// storeTrailer records the number of sites and the seahash of their
// marshaled records, in store order.
func storeTrailer(nSites int, checksum uint64) []byte {
	var buffer bytes.Buffer
	if err := binary.Write(&buffer, binary.LittleEndian, int64(trailerVersion)); err != nil {
		panic("couldn't write trailer version")
	}
	if err := binary.Write(&buffer, binary.LittleEndian, int64(nSites)); err != nil {
		panic("couldn't write nSites to trailer")
	}
	if err := binary.Write(&buffer, binary.LittleEndian, checksum); err != nil {
		panic("couldn't write checksum to trailer")
	}
	return buffer.Bytes()
}

func parseStoreTrailer(trailer []byte) (nSites int64, checksum uint64, err error) {
	r := bytes.NewReader(trailer)
	var version int64
	if err = binary.Read(r, binary.LittleEndian, &version); err != nil {
		return
	}
	if version != trailerVersion {
		err = fmt.Errorf("unrecognized trailer version: got %d, want %d", version, trailerVersion)
		return
	}
	if err = binary.Read(r, binary.LittleEndian, &nSites); err != nil {
		return
	}
	err = binary.Read(r, binary.LittleEndian, &checksum)
	return
}

// StoreWriter writes sites and their calls to a recordio genotype store.
type StoreWriter struct {
	header  StoreHeader
	rw      recordio.Writer
	nSites  int
	sum     hash.Hash64
	scratch []byte
}

// NewStoreWriter starts a genotype store on out.
func NewStoreWriter(out io.Writer, header StoreHeader) (*StoreWriter, error) {
	if header.Ploidy <= 0 || header.NAlleles < 2 {
		return nil, fmt.Errorf("genotype.NewStoreWriter: invalid ploidy %d or allele count %d", header.Ploidy, header.NAlleles)
	}
	if len(header.Masks) > maxMasks {
		return nil, fmt.Errorf("genotype.NewStoreWriter: %d site masks, at most %d supported", len(header.Masks), maxMasks)
	}
	rw := recordio.NewWriter(out, recordio.WriterOpts{
		Marshal:      marshalSiteRecord,
		Transformers: []string{recordiozstd.Name},
	})
	rw.AddHeader(samplesHeader, strings.Join(header.SampleIDs, "\000"))
	rw.AddHeader(ploidyHeader, strconv.Itoa(header.Ploidy))
	rw.AddHeader(nAllelesHeader, strconv.Itoa(header.NAlleles))
	rw.AddHeader(masksHeader, strings.Join(header.Masks, "\000"))
	rw.AddHeader(recordio.KeyTrailer, true)
	return &StoreWriter{header: header, rw: rw, sum: seahash.New()}, nil
}

// Append adds one site.  pass has one entry per header mask; calls has
// NSamples*Ploidy entries.
func (w *StoreWriter) Append(contig string, position int, alleles []string, pass []bool, calls []int8) error {
	if len(alleles) != w.header.NAlleles {
		return fmt.Errorf("genotype.StoreWriter: %s:%d has %d allele slots, want %d", contig, position, len(alleles), w.header.NAlleles)
	}
	if want := len(w.header.SampleIDs) * w.header.Ploidy; len(calls) != want {
		return fmt.Errorf("genotype.StoreWriter: %s:%d has %d calls, want %d", contig, position, len(calls), want)
	}
	if len(pass) != len(w.header.Masks) {
		return fmt.Errorf("genotype.StoreWriter: %s:%d has %d mask flags, want %d", contig, position, len(pass), len(w.header.Masks))
	}
	rec := &siteRecord{
		Contig:   contig,
		Position: uint32(position),
		Alleles:  append([]string(nil), alleles...),
		Calls:    append([]int8(nil), calls...),
	}
	for i, p := range pass {
		if p {
			rec.Pass |= 1 << uint(i)
		}
	}
	b, err := marshalSiteRecord(w.scratch, rec)
	if err != nil {
		return err
	}
	w.scratch = b
	_, _ = w.sum.Write(b)
	w.rw.Append(rec)
	w.nSites++
	return nil
}

// Finish flushes the store.  The writer cannot be used afterwards.
func (w *StoreWriter) Finish() error {
	w.rw.SetTrailer(storeTrailer(w.nSites, w.sum.Sum64()))
	return w.rw.Finish()
}

// WriteStore writes a whole in-memory dataset to path.
func WriteStore(ctx context.Context, path string, samples []string, sites *Sites, calls *Tensor) (err error) {
	out, err := file.Create(ctx, path)
	if err != nil {
		return errors.E(err, "create", path)
	}
	defer file.CloseAndReport(ctx, out, &err)
	masks := sites.MaskNames()
	w, err := NewStoreWriter(out.Writer(ctx), StoreHeader{
		SampleIDs: samples,
		Ploidy:    calls.Ploidy,
		NAlleles:  sites.NAlleles(),
		Masks:     masks,
	})
	if err != nil {
		return err
	}
	pass := make([]bool, len(masks))
	for i := 0; i < sites.Len(); i++ {
		for m, name := range masks {
			pass[m] = sites.FilterPass[name][i]
		}
		if err = w.Append(sites.Contig[i], sites.Position[i], sites.Alleles[i], pass, calls.Row(i)); err != nil {
			return err
		}
	}
	return w.Finish()
}

// Store is a Source reading a genotype store written by StoreWriter.  Each
// Sites or Genotypes call scans the store once; it is safe for concurrent
// use.
type Store struct {
	path   string
	header StoreHeader
}

// OpenStore reads the header of the genotype store at path.
func OpenStore(ctx context.Context, path string) (s *Store, err error) {
	in, err := file.Open(ctx, path)
	if err != nil {
		return nil, errors.E(err, "open", path)
	}
	defer file.CloseAndReport(ctx, in, &err)
	scanner := recordio.NewScanner(in.Reader(ctx), recordio.ScannerOpts{Unmarshal: unmarshalSiteRecord})
	header, err := parseStoreHeader(scanner.Header())
	if err != nil {
		return nil, errors.E(err, "read header", path)
	}
	if err = scanner.Finish(); err != nil {
		return nil, errors.E(err, "scan", path)
	}
	log.Debug.Printf("genotype: opened store %s: %d samples, ploidy %d, masks %v",
		path, len(header.SampleIDs), header.Ploidy, header.Masks)
	return &Store{path: path, header: header}, nil
}

func parseStoreHeader(hdr recordio.ParsedHeader) (h StoreHeader, err error) {
	seen := 0
	for _, kv := range hdr {
		value, ok := kv.Value.(string)
		switch kv.Key {
		case samplesHeader:
			if value != "" {
				h.SampleIDs = strings.Split(value, "\000")
			}
		case masksHeader:
			if value != "" {
				h.Masks = strings.Split(value, "\000")
			}
		case ploidyHeader:
			h.Ploidy, err = strconv.Atoi(value)
		case nAllelesHeader:
			h.NAlleles, err = strconv.Atoi(value)
		default:
			// Cannot return an error on unrecognized key since recordio can write its own.
			continue
		}
		if !ok || err != nil {
			return h, fmt.Errorf("genotype: malformed %s header", kv.Key)
		}
		seen++
	}
	if seen != 4 {
		return h, fmt.Errorf("genotype: missing store header fields")
	}
	return h, nil
}

// Header returns the store's fixed axes.
func (s *Store) Header() StoreHeader { return s.header }

// SampleIDs implements Source.
func (s *Store) SampleIDs() []string { return s.header.SampleIDs }

// Ploidy implements Source.
func (s *Store) Ploidy() int { return s.header.Ploidy }

// scan calls fn on every record in regions, in store order.
func (s *Store) scan(ctx context.Context, regions []interval.Region, fn func(nSites int64, r *siteRecord)) (err error) {
	in, err := file.Open(ctx, s.path)
	if err != nil {
		return errors.E(err, "open", s.path)
	}
	defer file.CloseAndReport(ctx, in, &err)
	scanner := recordio.NewScanner(in.Reader(ctx), recordio.ScannerOpts{Unmarshal: unmarshalSiteRecord})
	var (
		nSites     int64
		checksum   uint64
		hasTrailer = len(scanner.Trailer()) != 0
	)
	if hasTrailer {
		if nSites, checksum, err = parseStoreTrailer(scanner.Trailer()); err != nil {
			return errors.E(err, "read trailer", s.path)
		}
	}
	sum := seahash.New()
	var scratch []byte
	var u *interval.Union
	if len(regions) > 0 {
		u = interval.NewUnion(regions)
	}
	nRead, nKept := 0, 0
	for scanner.Scan() {
		r := scanner.Get().(*siteRecord)
		nRead++
		if scratch, err = marshalSiteRecord(scratch, r); err != nil {
			return err
		}
		_, _ = sum.Write(scratch)
		if u != nil && !u.Contains(r.Contig, interval.PosType(r.Position)) {
			continue
		}
		nKept++
		fn(nSites, r)
	}
	vlog.VI(1).Infof("genotype: scanned %s: %d of %d sites selected", s.path, nKept, nRead)
	if err = scanner.Finish(); err != nil {
		return errors.E(err, "scan", s.path)
	}
	if hasTrailer && (int64(nRead) != nSites || sum.Sum64() != checksum) {
		return errors.E(fmt.Sprintf("genotype store %s: read %d sites with checksum %x, trailer records %d sites with checksum %x",
			s.path, nRead, sum.Sum64(), nSites, checksum))
	}
	return nil
}

// Sites implements Source.
func (s *Store) Sites(ctx context.Context, regions []interval.Region) (*Sites, error) {
	sites := &Sites{FilterPass: make(map[string][]bool, len(s.header.Masks))}
	for _, name := range s.header.Masks {
		sites.FilterPass[name] = nil
	}
	err := s.scan(ctx, regions, func(nSites int64, r *siteRecord) {
		if sites.Position == nil {
			sites.Contig = make([]string, 0, nSites)
			sites.Position = make([]int, 0, nSites)
			sites.Alleles = make([][]string, 0, nSites)
		}
		sites.Contig = append(sites.Contig, r.Contig)
		sites.Position = append(sites.Position, int(r.Position))
		sites.Alleles = append(sites.Alleles, r.Alleles)
		for i, name := range s.header.Masks {
			sites.FilterPass[name] = append(sites.FilterPass[name], r.Pass&(1<<uint(i)) != 0)
		}
	})
	if err != nil {
		return nil, err
	}
	return sites, nil
}

// Genotypes implements Source.
func (s *Store) Genotypes(ctx context.Context, regions []interval.Region) (*Tensor, error) {
	t := &Tensor{NSamples: len(s.header.SampleIDs), Ploidy: s.header.Ploidy}
	rowLen := t.NSamples * t.Ploidy
	var scanErr error
	err := s.scan(ctx, regions, func(nSites int64, r *siteRecord) {
		if t.Data == nil {
			t.Data = make([]int8, 0, int(nSites)*rowLen)
		}
		if len(r.Calls) != rowLen && scanErr == nil {
			scanErr = fmt.Errorf("genotype.Store: %s:%d has %d calls, want %d", r.Contig, r.Position, len(r.Calls), rowLen)
		}
		t.Data = append(t.Data, r.Calls...)
		t.NVariants++
	})
	if err != nil {
		return nil, err
	}
	if scanErr != nil {
		return nil, scanErr
	}
	return t, nil
}
