// Copyright 2021 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

// Package veff predicts the effects of SNPs on protein-coding transcripts.
//
// An Annotator combines a reference Genome (FASTA, optionally faidx-indexed)
// with genome Features read from GFF3 or GTF.  For each variant row it sets
// the effect class and impact and, inside coding sequence, the reference and
// alternate codons and amino acids and the amino-acid change, written
// "{ref_aa}{aa_pos}{alt_aa}" (e.g. "V402L").  Codons are lower case except for
// the substituted base.
//
// Intronic SNPs within SpliceCoreDist bases of an exon are SPLICE_CORE, and
// within SpliceRegionDist bases SPLICE_REGION.
package veff
