// Copyright 2021 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package main

import (
	"context"
	"flag"
	"fmt"
	"math"
	"os"
	"strings"

	"github.com/grailbio/base/grail"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/vcontext"
	"github.com/grailbio/cohortfreq/frq"
	"github.com/grailbio/cohortfreq/frqio"
	"github.com/grailbio/cohortfreq/genotype"
	"github.com/grailbio/cohortfreq/metadata"
	"github.com/grailbio/cohortfreq/snpfreq"
)

var (
	configPath = flag.String("config", "", "TOML config file; command-line flags override it")
	flagConfig = defaultConfig()
)

func init() {
	registerFlags(flag.CommandLine, &flagConfig)
}

func bioSNPFreqUsage() {
	fmt.Printf("Usage: %s [OPTIONS] {snp,aa,effects,counts,import-vcf} [vcfpath]\n", os.Args[0])
	fmt.Printf("Other options:\n")
	flag.PrintDefaults()
}

func main() {
	flag.Usage = bioSNPFreqUsage
	shutdown := grail.Init()
	defer shutdown()

	if flag.NArg() < 1 {
		log.Fatalf("Missing mode argument; please check flag syntax: '%s'", strings.Join(flag.Args(), " "))
	}
	ctx := vcontext.Background()
	set := map[string]bool{}
	flag.Visit(func(f *flag.Flag) { set[f.Name] = true })
	base, err := loadConfig(ctx, *configPath, defaultConfig())
	if err != nil {
		log.Fatalf("%v", err)
	}
	cfg := overlay(base, flagConfig, set)

	mode := flag.Arg(0)
	if mode == "import-vcf" {
		if flag.NArg() != 2 {
			log.Fatalf("import-vcf takes exactly one VCF path")
		}
		opts := genotype.DefaultVCFOpts
		opts.MaskName = cfg.VCFMask
		if opts.Regions, err = cfg.importRegions(ctx); err != nil {
			log.Fatalf("%v", err)
		}
		n, err := genotype.ImportVCF(ctx, flag.Arg(1), cfg.Genotypes, opts)
		if err != nil {
			log.Panicf("%v", err)
		}
		log.Printf("imported %d sites into %s", n, cfg.Genotypes)
		return
	}
	if err := run(ctx, mode, &cfg); err != nil {
		log.Panicf("%v", err)
	}
	log.Debug.Printf("exiting")
}

func newSession(ctx context.Context, cfg *config) (*snpfreq.Session, error) {
	src, err := genotype.OpenStore(ctx, cfg.Genotypes)
	if err != nil {
		return nil, err
	}
	md, err := metadata.Load(ctx, cfg.Metadata)
	if err != nil {
		return nil, err
	}
	s, err := snpfreq.New(snpfreq.Config{
		Source:        src,
		Metadata:      md,
		GenomePath:    cfg.Genome,
		FeaturesPath:  cfg.Features,
		IndexedGenome: cfg.IndexedGenome,
	})
	if err != nil {
		return nil, err
	}
	if cfg.ExtraMetadata != "" {
		for _, path := range strings.Split(cfg.ExtraMetadata, ",") {
			df, err := metadata.LoadDataFrame(ctx, path)
			if err != nil {
				return nil, err
			}
			if err := s.AddExtraMetadata(df, cfg.ExtraOn); err != nil {
				return nil, err
			}
		}
	}
	return s, nil
}

func run(ctx context.Context, mode string, cfg *config) (err error) {
	if cfg.Transcript == "" {
		return fmt.Errorf("-transcript is required")
	}
	s, err := newSession(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if e := s.Close(); e != nil && err == nil {
			err = e
		}
	}()
	outOpts := frqio.Opts{IncludeCounts: cfg.IncludeCounts, Parallelism: cfg.Parallelism}

	switch mode {
	case "snp", "aa":
		frqOpts, err := cfg.frqOpts()
		if err != nil {
			return err
		}
		spec, err := cfg.cohortSpec(ctx)
		if err != nil {
			return err
		}
		opts := snpfreq.Opts{Opts: frqOpts, SiteMask: cfg.SiteMask, Effects: cfg.Effects}
		var t *frq.Table
		if mode == "snp" {
			t, err = s.SNPAlleleFrequencies(ctx, cfg.Transcript, spec, opts)
		} else {
			t, err = s.AAAlleleFrequencies(ctx, cfg.Transcript, spec, opts)
		}
		if err != nil {
			return err
		}
		return frqio.Write(ctx, cfg.Out, cfg.format(), t, outOpts)
	case "effects":
		records, err := s.SNPEffects(ctx, cfg.Transcript, cfg.SiteMask)
		if err != nil {
			return err
		}
		t := &frq.Table{Title: cfg.Transcript + " SNP effects", Variants: records, MaxAF: make([]float64, len(records))}
		for i := range t.MaxAF {
			t.MaxAF[i] = math.NaN()
		}
		t.SetLabels(false)
		return frqio.Write(ctx, cfg.Out, cfg.format(), t, outOpts)
	case "counts":
		opts := snpfreq.DefaultCountsOpts
		opts.SampleQuery = cfg.SampleQuery
		opts.SiteMask = cfg.SiteMask
		opts.Parallelism = cfg.Parallelism
		if cfg.VariantQuery != "" {
			opts.VariantQuery = cfg.VariantQuery
		}
		gc, err := s.SNPGenotypeAlleleCounts(ctx, cfg.Transcript, opts)
		if err != nil {
			return err
		}
		return writeCounts(ctx, cfg.Out, cfg.format() == frqio.TSVBGZ, gc, cfg.Parallelism)
	}
	return fmt.Errorf("unknown mode %q", mode)
}
