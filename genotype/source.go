// Copyright 2021 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package genotype

import (
	"context"
	"fmt"

	"github.com/grailbio/cohortfreq/interval"
)

// Source provides genotype calls for a fixed sample set.
//
// Sites and Genotypes called with the same regions must agree on the
// variant axis: row i of the tensor describes site i.  Genotypes is the
// explicit materialization step; it may be expensive.
type Source interface {
	// SampleIDs returns the sample axis, in tensor order.
	SampleIDs() []string
	// Ploidy returns the number of calls per sample per site.
	Ploidy() int
	// Sites returns the sites in regions, or every site if regions is empty.
	Sites(ctx context.Context, regions []interval.Region) (*Sites, error)
	// Genotypes materializes the calls for the sites in regions.
	Genotypes(ctx context.Context, regions []interval.Region) (*Tensor, error)
}

// MemSource is a Source backed by fully in-memory data.
type MemSource struct {
	samples []string
	sites   *Sites
	calls   *Tensor
}

// NewMemSource checks that sites, calls and samples agree in shape and wraps
// them in a Source.
func NewMemSource(samples []string, sites *Sites, calls *Tensor) (*MemSource, error) {
	if err := sites.Validate(); err != nil {
		return nil, err
	}
	if calls.NVariants != sites.Len() {
		return nil, fmt.Errorf("genotype.NewMemSource: %d sites but %d tensor variants", sites.Len(), calls.NVariants)
	}
	if calls.NSamples != len(samples) {
		return nil, fmt.Errorf("genotype.NewMemSource: %d samples but %d tensor samples", len(samples), calls.NSamples)
	}
	if err := calls.Validate(sites.NAlleles() - 1); err != nil {
		return nil, err
	}
	return &MemSource{samples: samples, sites: sites, calls: calls}, nil
}

// SampleIDs implements Source.
func (m *MemSource) SampleIDs() []string { return m.samples }

// Ploidy implements Source.
func (m *MemSource) Ploidy() int { return m.calls.Ploidy }

// Sites implements Source.
func (m *MemSource) Sites(ctx context.Context, regions []interval.Region) (*Sites, error) {
	if len(regions) == 0 {
		return m.sites, nil
	}
	return m.sites.Select(m.sites.InRegions(regions)), nil
}

// Genotypes implements Source.
func (m *MemSource) Genotypes(ctx context.Context, regions []interval.Region) (*Tensor, error) {
	if len(regions) == 0 {
		return m.calls, nil
	}
	return m.calls.SelectVariants(m.sites.InRegions(regions)), nil
}
