// Copyright 2021 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

/*
bio-snpfreq computes cohort-stratified allele frequencies of the SNPs in a gene
transcript.

Genotypes are first imported from a VCF into a genotype store:

	bio-snpfreq --genotypes calls.gts --vcf-mask gamb_colu import-vcf calls.vcf.gz

--regions limits the import to a BED file or a list such as
"2L:2,358,158-2,431,617,3R".

Frequencies are then computed per cohort, where cohorts are the distinct
values of a sample metadata column (or a tuple of columns, or the queries of a
YAML cohort file):

	bio-snpfreq \
	    --genotypes calls.gts \
	    --metadata samples.tsv \
	    --genome AgamP4.fa \
	    --features AgamP4.12.gff3.gz \
	    --transcript AGAP004707-RD \
	    --cohorts admin1_year \
	    --min-cohort-size 10 \
	    --out vgsc.arrow \
	    snp

The "aa" mode combines SNPs producing the same amino-acid change at the same
position, "effects" writes the predicted effect of every possible SNP, and
"counts" writes per-sample alternate allele counts.

Settings may also be given in a TOML file (--config) using the flag names with
underscores, or in SNPFREQ_-prefixed environment variables, e.g.
SNPFREQ_MIN_COHORT_SIZE.  Flags override the environment, which overrides the
config file.
*/
package main
