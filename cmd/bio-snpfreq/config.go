// Copyright 2021 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package main

import (
	"context"
	"flag"
	"reflect"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/file"
	"github.com/grailbio/cohortfreq/frq"
	"github.com/grailbio/cohortfreq/frqio"
	"github.com/grailbio/cohortfreq/genotype"
	"github.com/grailbio/cohortfreq/interval"
	"github.com/kelseyhightower/envconfig"
)

// envPrefix prefixes the environment variables read into config, e.g.
// SNPFREQ_MIN_COHORT_SIZE.
const envPrefix = "SNPFREQ"

// config holds every setting of a run.  Each field can be set in the TOML
// config file (toml tag), in the environment (envPrefix + split_words) and on
// the command line (flag tag), in increasing order of precedence.
type config struct {
	Genotypes     string `toml:"genotypes" split_words:"true" flag:"genotypes"`
	Metadata      string `toml:"metadata" split_words:"true" flag:"metadata"`
	ExtraMetadata string `toml:"extra_metadata" split_words:"true" flag:"extra-metadata"`
	ExtraOn       string `toml:"extra_on" split_words:"true" flag:"extra-on"`
	Genome        string `toml:"genome" split_words:"true" flag:"genome"`
	IndexedGenome bool   `toml:"indexed_genome" split_words:"true" flag:"indexed-genome"`
	Features      string `toml:"features" split_words:"true" flag:"features"`

	Transcript    string `toml:"transcript" split_words:"true" flag:"transcript"`
	Cohorts       string `toml:"cohorts" split_words:"true" flag:"cohorts"`
	CohortsFile   string `toml:"cohorts_file" split_words:"true" flag:"cohorts-file"`
	SampleQuery   string `toml:"sample_query" split_words:"true" flag:"sample-query"`
	MinCohortSize int    `toml:"min_cohort_size" split_words:"true" flag:"min-cohort-size"`
	SiteMask      string `toml:"site_mask" split_words:"true" flag:"site-mask"`
	DropInvariant bool   `toml:"drop_invariant" split_words:"true" flag:"drop-invariant"`
	NobsMode      string `toml:"nobs_mode" split_words:"true" flag:"nobs-mode"`
	CIMethod      string `toml:"ci_method" envconfig:"CI_METHOD" flag:"ci-method"`
	VariantQuery  string `toml:"variant_query" split_words:"true" flag:"variant-query"`
	Effects       bool   `toml:"effects" split_words:"true" flag:"effects"`
	IncludeCounts bool   `toml:"include_counts" split_words:"true" flag:"include-counts"`

	Format      string `toml:"format" split_words:"true" flag:"format"`
	Out         string `toml:"out" split_words:"true" flag:"out"`
	Parallelism int    `toml:"parallelism" split_words:"true" flag:"parallelism"`
	VCFMask     string `toml:"vcf_mask" envconfig:"VCF_MASK" flag:"vcf-mask"`
	Regions     string `toml:"regions" split_words:"true" flag:"regions"`
}

func defaultConfig() config {
	return config{
		ExtraOn:       "sample_id",
		Cohorts:       "cohort_admin1_year",
		MinCohortSize: frq.DefaultOpts.MinCohortSize,
		DropInvariant: frq.DefaultOpts.DropInvariant,
		NobsMode:      string(frq.DefaultOpts.NobsMode),
		CIMethod:      string(frq.DefaultOpts.CIMethod),
		Effects:       true,
		Out:           "bio-snpfreq.tsv",
		Parallelism:   frq.DefaultOpts.Parallelism,
		VCFMask:       genotype.DefaultVCFOpts.MaskName,
	}
}

// registerFlags binds one flag per config field into fs.
func registerFlags(fs *flag.FlagSet, c *config) {
	fs.StringVar(&c.Genotypes, "genotypes", c.Genotypes, "Genotype store path (written by the import-vcf mode)")
	fs.StringVar(&c.Metadata, "metadata", c.Metadata, "Sample metadata TSV path; must have a sample_id column")
	fs.StringVar(&c.ExtraMetadata, "extra-metadata", c.ExtraMetadata, "Comma-separated TSV paths of extra sample metadata to join")
	fs.StringVar(&c.ExtraOn, "extra-on", c.ExtraOn, "Key column of the extra metadata: sample_id or partner_sample_id")
	fs.StringVar(&c.Genome, "genome", c.Genome, "Reference genome FASTA path")
	fs.BoolVar(&c.IndexedGenome, "indexed-genome", c.IndexedGenome, "Read the genome through its .fai index instead of loading it")
	fs.StringVar(&c.Features, "features", c.Features, "Genome features GFF3 or GTF path")
	fs.StringVar(&c.Transcript, "transcript", c.Transcript, "Transcript ID, or a region of the form <contig>:<start>-<end>")
	fs.StringVar(&c.Cohorts, "cohorts", c.Cohorts, "Metadata column to group samples by; a comma-separated list groups by several columns")
	fs.StringVar(&c.CohortsFile, "cohorts-file", c.CohortsFile, "YAML cohort specification; overrides -cohorts")
	fs.StringVar(&c.SampleQuery, "sample-query", c.SampleQuery, "Restrict samples to those satisfying this predicate")
	fs.IntVar(&c.MinCohortSize, "min-cohort-size", c.MinCohortSize, "Drop cohorts with fewer samples")
	fs.StringVar(&c.SiteMask, "site-mask", c.SiteMask, "Keep only sites passing this site mask")
	fs.BoolVar(&c.DropInvariant, "drop-invariant", c.DropInvariant, "Drop variant alleles with max_af == 0")
	fs.StringVar(&c.NobsMode, "nobs-mode", c.NobsMode, "Frequency denominator: 'called' or 'fixed'")
	fs.StringVar(&c.CIMethod, "ci-method", c.CIMethod, "Confidence interval method: normal, agresti_coull, beta, wilson, binom_test, or empty for none")
	fs.StringVar(&c.VariantQuery, "variant-query", c.VariantQuery, "Keep only variant rows satisfying this predicate")
	fs.BoolVar(&c.Effects, "effects", c.Effects, "Annotate SNP frequency rows with their effects")
	fs.BoolVar(&c.IncludeCounts, "include-counts", c.IncludeCounts, "Write count_ and nobs_ columns")
	fs.StringVar(&c.Format, "format", c.Format, "Output format: 'tsv', 'tsv-bgz' or 'arrow'; guessed from -out if empty")
	fs.StringVar(&c.Out, "out", c.Out, "Output path")
	fs.IntVar(&c.Parallelism, "parallelism", c.Parallelism, "Number of concurrent counting shards and compression workers")
	fs.StringVar(&c.VCFMask, "vcf-mask", c.VCFMask, "Site mask name given to the VCF FILTER column on import")
	fs.StringVar(&c.Regions, "regions", c.Regions, "Restrict import-vcf to a BED file (.bed or .bed.gz) or a comma-separated region list")
}

// loadConfig reads the TOML file at path (if any) over defaults, then applies
// the environment.
func loadConfig(ctx context.Context, path string, defaults config) (config, error) {
	c := defaults
	if path != "" {
		data, err := file.ReadFile(ctx, path)
		if err != nil {
			return c, errors.E(err, "read config", path)
		}
		if _, err := toml.Decode(string(data), &c); err != nil {
			return c, errors.E(err, "parse config", path)
		}
	}
	if err := envconfig.Process(envPrefix, &c); err != nil {
		return c, errors.E(err, "environment")
	}
	return c, nil
}

// overlay returns base with every field whose flag was set on the command
// line taken from flags.
func overlay(base, flags config, set map[string]bool) config {
	out := base
	ov, fv := reflect.ValueOf(&out).Elem(), reflect.ValueOf(flags)
	typ := ov.Type()
	for i := 0; i < typ.NumField(); i++ {
		if set[typ.Field(i).Tag.Get("flag")] {
			ov.Field(i).Set(fv.Field(i))
		}
	}
	return out
}

func (c *config) frqOpts() (frq.Opts, error) {
	nobs, err := frq.ParseNobsMode(c.NobsMode)
	if err != nil {
		return frq.Opts{}, err
	}
	ci, err := frq.ParseCIMethod(c.CIMethod)
	if err != nil {
		return frq.Opts{}, err
	}
	return frq.Opts{
		MinCohortSize: c.MinCohortSize,
		SampleQuery:   c.SampleQuery,
		DropInvariant: c.DropInvariant,
		NobsMode:      nobs,
		CIMethod:      ci,
		VariantQuery:  c.VariantQuery,
		Parallelism:   c.Parallelism,
	}, nil
}

func (c *config) format() frqio.Format {
	if c.Format != "" {
		return frqio.Format(c.Format)
	}
	return frqio.FormatFromPath(c.Out)
}

// cohortSpec returns the cohort specification from -cohorts-file or -cohorts.
func (c *config) cohortSpec(ctx context.Context) (spec frq.CohortSpec, err error) {
	if c.CohortsFile == "" {
		names := strings.Split(c.Cohorts, ",")
		if len(names) == 1 {
			return frq.Column(names[0]), nil
		}
		return frq.Columns(names), nil
	}
	in, err := file.Open(ctx, c.CohortsFile)
	if err != nil {
		return nil, errors.E(err, "open", c.CohortsFile)
	}
	defer file.CloseAndReport(ctx, in, &err)
	return frq.ReadCohortSpec(in.Reader(ctx))
}

// importRegions returns the union of the -regions setting, or nil if it is
// empty.
func (c *config) importRegions(ctx context.Context) (*interval.Union, error) {
	switch {
	case c.Regions == "":
		return nil, nil
	case strings.HasSuffix(c.Regions, ".bed"), strings.HasSuffix(c.Regions, ".bed.gz"):
		return interval.NewUnionFromPath(ctx, c.Regions)
	}
	regions, err := interval.ParseRegions(c.Regions)
	if err != nil {
		return nil, err
	}
	return interval.NewUnion(regions), nil
}
