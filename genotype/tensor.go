// Copyright 2021 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

// Package genotype holds materialized genotype calls and the per-site data
// they are indexed by, and provides the sources that produce them: an
// in-memory source, a recordio-backed store, and a VCF importer.
package genotype

import "fmt"

// Missing is the call value of a missing allele.  Any negative value is
// treated as missing.
const Missing = -1

// Tensor is a materialized 3-dimensional array of allele calls, indexed
// [variant, sample, ploidy slot] and stored row-major in Data.  A negative
// value denotes a missing call; 0 is the reference allele and 1..N are
// alternates.
type Tensor struct {
	NVariants int
	NSamples  int
	Ploidy    int
	Data      []int8
}

// NewTensor returns a tensor of the given shape with every call missing.
func NewTensor(nVariants, nSamples, ploidy int) *Tensor {
	t := &Tensor{
		NVariants: nVariants,
		NSamples:  nSamples,
		Ploidy:    ploidy,
		Data:      make([]int8, nVariants*nSamples*ploidy),
	}
	for i := range t.Data {
		t.Data[i] = Missing
	}
	return t
}

// Offset returns the index in Data of the first ploidy slot of (variant,
// sample).
func (t *Tensor) Offset(variant, sample int) int {
	return (variant*t.NSamples + sample) * t.Ploidy
}

// Call returns the allele called in the given slot.
func (t *Tensor) Call(variant, sample, slot int) int8 {
	return t.Data[t.Offset(variant, sample)+slot]
}

// Set stores an allele call.
func (t *Tensor) Set(variant, sample, slot int, allele int8) {
	t.Data[t.Offset(variant, sample)+slot] = allele
}

// Row returns the calls of one variant, as a NSamples*Ploidy slice aliasing
// Data.
func (t *Tensor) Row(variant int) []int8 {
	n := t.NSamples * t.Ploidy
	return t.Data[variant*n : (variant+1)*n]
}

// Validate checks that Data matches the declared shape and that no call
// exceeds maxAllele.
func (t *Tensor) Validate(maxAllele int) error {
	if t.NVariants < 0 || t.NSamples < 0 || t.Ploidy <= 0 {
		return fmt.Errorf("genotype.Tensor: invalid shape (%d, %d, %d)", t.NVariants, t.NSamples, t.Ploidy)
	}
	if len(t.Data) != t.NVariants*t.NSamples*t.Ploidy {
		return fmt.Errorf("genotype.Tensor: data length %d does not match shape (%d, %d, %d)",
			len(t.Data), t.NVariants, t.NSamples, t.Ploidy)
	}
	for i, a := range t.Data {
		if int(a) > maxAllele {
			return fmt.Errorf("genotype.Tensor: allele %d at offset %d exceeds maximum %d", a, i, maxAllele)
		}
	}
	return nil
}

// SelectVariants returns a new tensor containing only the listed variants,
// in the given order.
func (t *Tensor) SelectVariants(idx []int) *Tensor {
	n := t.NSamples * t.Ploidy
	out := &Tensor{
		NVariants: len(idx),
		NSamples:  t.NSamples,
		Ploidy:    t.Ploidy,
		Data:      make([]int8, len(idx)*n),
	}
	for j, i := range idx {
		copy(out.Data[j*n:(j+1)*n], t.Row(i))
	}
	return out
}
