// Copyright 2021 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

// Package snpfreq runs the frequency pipelines end to end for one genotype
// source: it owns the sample metadata (including any extra metadata added by
// the caller), the resolved-cohort cache and the effect annotator.
package snpfreq

import (
	"context"
	"fmt"
	"sync"

	farm "github.com/dgryski/go-farm"
	"github.com/go-gota/gota/dataframe"
	"github.com/grailbio/base/log"
	"github.com/grailbio/cohortfreq/frq"
	"github.com/grailbio/cohortfreq/genotype"
	"github.com/grailbio/cohortfreq/interval"
	"github.com/grailbio/cohortfreq/metadata"
	"github.com/grailbio/cohortfreq/veff"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

// Config describes the data a Session serves.
type Config struct {
	// Source provides the genotype calls.
	Source genotype.Source
	// Metadata describes the samples.  Every sample of Source must have a row.
	Metadata *metadata.Table

	// Genome and Features are used for effect annotation and transcript
	// lookup.  If nil, they are loaded on first use from GenomePath and
	// FeaturesPath.
	Genome       veff.Genome
	Features     *veff.Features
	GenomePath   string
	FeaturesPath string
	// IndexedGenome opens GenomePath through its .fai index rather than
	// reading it into memory.
	IndexedGenome bool
}

type extraMetadata struct {
	on string
	df dataframe.DataFrame
}

// Session is safe for concurrent use.  Pipelines run concurrently with each
// other; AddExtraMetadata and ClearExtraMetadata wait for running pipelines
// and block new ones until the caches are invalidated.
type Session struct {
	cfg Config

	mu    sync.RWMutex
	extra []extraMetadata

	cacheMu sync.Mutex
	// samples is cfg.Metadata with extra merged in, reordered to the
	// genotype sample axis; nil when invalidated.
	samples *metadata.Table
	cohorts map[uint64][]frq.Cohort

	annMu       sync.Mutex
	features    *veff.Features
	annotator   *veff.Annotator
	closeGenome func() error
}

// New creates a session.
func New(cfg Config) (*Session, error) {
	if cfg.Source == nil {
		return nil, fmt.Errorf("snpfreq.New: no genotype source")
	}
	if cfg.Metadata == nil {
		return nil, fmt.Errorf("snpfreq.New: no sample metadata")
	}
	return &Session{
		cfg:      cfg,
		cohorts:  make(map[uint64][]frq.Cohort),
		features: cfg.Features,
	}, nil
}

// Close releases the genome file, if one was opened.
func (s *Session) Close() error {
	s.annMu.Lock()
	defer s.annMu.Unlock()
	if s.closeGenome == nil {
		return nil
	}
	err := s.closeGenome()
	s.closeGenome = nil
	return err
}

// AddExtraMetadata left-joins df onto the sample metadata on the given key
// column, which must be sample_id or partner_sample_id.  The key values of df
// must be unique and at least one must match a sample.
func (s *Session) AddExtraMetadata(df dataframe.DataFrame, on string) error {
	if on != metadata.SampleID && on != metadata.PartnerSampleID {
		return fmt.Errorf("snpfreq.AddExtraMetadata: on must be %s or %s, got %q", metadata.SampleID, metadata.PartnerSampleID, on)
	}
	if df.Err != nil {
		return df.Err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	base, err := s.mergedMetadata()
	if err != nil {
		return err
	}
	n, err := base.Matches(df, on)
	if err != nil {
		return errors.Wrap(err, "snpfreq.AddExtraMetadata")
	}
	if n == 0 {
		return fmt.Errorf("snpfreq.AddExtraMetadata: no matching samples found on %s", on)
	}
	s.extra = append(s.extra, extraMetadata{on: on, df: df})
	s.invalidate()
	log.Printf("snpfreq: added extra metadata (%d columns) matching %d samples on %s", df.Ncol()-1, n, on)
	return nil
}

// ClearExtraMetadata removes all extra metadata.
func (s *Session) ClearExtraMetadata() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.extra = nil
	s.invalidate()
}

func (s *Session) invalidate() {
	s.cacheMu.Lock()
	s.samples = nil
	s.cohorts = make(map[uint64][]frq.Cohort)
	s.cacheMu.Unlock()
}

// mergedMetadata returns the configured metadata with the extra metadata
// merged in, in its original row order.  s.mu must be held.
func (s *Session) mergedMetadata() (*metadata.Table, error) {
	t := s.cfg.Metadata
	for _, e := range s.extra {
		var err error
		if t, err = t.Merge(e.df, e.on); err != nil {
			return nil, err
		}
	}
	return t, nil
}

// SampleMetadata returns the sample metadata, including extra metadata, with
// one row per genotype sample in genotype order.
func (s *Session) SampleMetadata() (*metadata.Table, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sampleMetadata()
}

func (s *Session) sampleMetadata() (*metadata.Table, error) {
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	if s.samples != nil {
		return s.samples, nil
	}
	t, err := s.mergedMetadata()
	if err != nil {
		return nil, err
	}
	rowOf := make(map[string]int, t.Len())
	for i, id := range t.SampleIDs() {
		rowOf[id] = i
	}
	ids := s.cfg.Source.SampleIDs()
	rows := make([]int, len(ids))
	for i, id := range ids {
		row, ok := rowOf[id]
		if !ok {
			return nil, fmt.Errorf("snpfreq: genotype sample %s has no metadata", id)
		}
		rows[i] = row
	}
	s.samples = t.Subset(rows)
	return s.samples, nil
}

// Cohorts resolves a cohort specification against the session's samples.
// Results are cached until the metadata changes; the returned slice must not
// be modified.
func (s *Session) Cohorts(spec frq.CohortSpec, opts frq.ResolveOpts) ([]frq.Cohort, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.resolveCohorts(spec, opts)
}

func (s *Session) resolveCohorts(spec frq.CohortSpec, opts frq.ResolveOpts) ([]frq.Cohort, error) {
	samples, err := s.sampleMetadata()
	if err != nil {
		return nil, err
	}
	key := farm.Fingerprint64([]byte(fmt.Sprintf("%#v\x00%s\x00%d", spec, opts.SampleQuery, opts.MinCohortSize)))
	s.cacheMu.Lock()
	cohorts, ok := s.cohorts[key]
	s.cacheMu.Unlock()
	if ok {
		return cohorts, nil
	}
	if cohorts, err = frq.ResolveCohorts(samples, spec, opts); err != nil {
		return nil, err
	}
	s.cacheMu.Lock()
	s.cohorts[key] = cohorts
	s.cacheMu.Unlock()
	return cohorts, nil
}

// Features returns the genome features, loading them on first use.
func (s *Session) Features(ctx context.Context) (*veff.Features, error) {
	s.annMu.Lock()
	defer s.annMu.Unlock()
	return s.loadFeatures(ctx)
}

func (s *Session) loadFeatures(ctx context.Context) (*veff.Features, error) {
	if s.features != nil {
		return s.features, nil
	}
	if s.cfg.FeaturesPath == "" {
		return nil, fmt.Errorf("snpfreq: no genome features configured")
	}
	fs, err := veff.LoadFeatures(ctx, s.cfg.FeaturesPath)
	if err != nil {
		return nil, err
	}
	s.features = fs
	return fs, nil
}

// Annotator returns the effect annotator, loading the genome and features
// concurrently on first use.
func (s *Session) Annotator(ctx context.Context) (*veff.Annotator, error) {
	s.annMu.Lock()
	defer s.annMu.Unlock()
	if s.annotator != nil {
		return s.annotator, nil
	}
	var (
		genome   = s.cfg.Genome
		features *veff.Features
		closer   func() error
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		features, err = s.loadFeatures(gctx)
		return err
	})
	if genome == nil {
		g.Go(func() (err error) {
			switch {
			case s.cfg.GenomePath == "":
				return fmt.Errorf("snpfreq: no reference genome configured")
			case s.cfg.IndexedGenome:
				genome, closer, err = veff.OpenIndexedGenome(gctx, s.cfg.GenomePath)
			default:
				genome, err = veff.LoadGenome(gctx, s.cfg.GenomePath)
			}
			return err
		})
	}
	if err := g.Wait(); err != nil {
		if closer != nil {
			_ = closer()
		}
		return nil, err
	}
	s.annotator = veff.NewAnnotator(genome, features)
	s.closeGenome = closer
	return s.annotator, nil
}

// locate returns the genomic region of a transcript and the title of tables
// computed for it.  A string that is not a known transcript is parsed as a
// region.
func (s *Session) locate(ctx context.Context, transcript string) (interval.Region, string, error) {
	fs, err := s.Features(ctx)
	if err == nil {
		if t, ok := fs.Get(transcript); ok {
			title := transcript
			if name, err := fs.ParentName(transcript); err == nil && name != "" {
				title += " (" + name + ")"
			}
			return interval.Region{Contig: t.Contig, Start: interval.PosType(t.Start), End: interval.PosType(t.End)},
				title + " SNP frequencies", nil
		}
	}
	region, perr := interval.ParseRegion(transcript)
	if perr != nil {
		if err != nil {
			return interval.Region{}, "", err
		}
		return interval.Region{}, "", fmt.Errorf("snpfreq: %s is neither a transcript nor a region: %v", transcript, perr)
	}
	return region, region.String() + " SNP frequencies", nil
}

// loadCalls reads the sites and genotypes in region concurrently, then
// restricts both to the sites passing siteMask (if set).
func (s *Session) loadCalls(ctx context.Context, region interval.Region, siteMask string) (*genotype.Sites, *genotype.Tensor, error) {
	var (
		regions = []interval.Region{region}
		sites   *genotype.Sites
		calls   *genotype.Tensor
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		sites, err = s.cfg.Source.Sites(gctx, regions)
		return err
	})
	g.Go(func() (err error) {
		calls, err = s.cfg.Source.Genotypes(gctx, regions)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	if sites.Len() != calls.NVariants {
		return nil, nil, fmt.Errorf("snpfreq: %s: %d sites but %d genotype rows", region, sites.Len(), calls.NVariants)
	}
	if sites.Len() == 0 {
		return nil, nil, errors.Wrapf(frq.ErrNoVariantsAvailable, "snpfreq: no SNPs in %s", region)
	}
	if siteMask != "" {
		idx, err := sites.Mask(siteMask)
		if err != nil {
			return nil, nil, err
		}
		if len(idx) == 0 {
			return nil, nil, errors.Wrapf(frq.ErrNoVariantsAvailable, "snpfreq: no SNPs in %s pass site mask %s", region, siteMask)
		}
		sites, calls = sites.Select(idx), calls.SelectVariants(idx)
	}
	log.Debug.Printf("snpfreq: loaded %d sites x %d samples in %s", calls.NVariants, calls.NSamples, region)
	return sites, calls, nil
}
