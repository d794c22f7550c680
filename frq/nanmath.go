// Copyright 2021 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package frq

import "math"

// Missing-aware arithmetic.  NaN is the sentinel for "no data": it is
// produced only by a zero denominator and is treated as absent by the
// reductions below, which return NaN only when every input is NaN.

// Ratio returns count/nobs, or NaN when nobs is zero.
func Ratio(count, nobs int64) float64 {
	if nobs == 0 {
		return math.NaN()
	}
	return float64(count) / float64(nobs)
}

// NaNMax returns the maximum of the non-NaN values, or NaN if there are none.
func NaNMax(values []float64) float64 {
	m := math.NaN()
	for _, v := range values {
		if math.IsNaN(v) {
			continue
		}
		if math.IsNaN(m) || v > m {
			m = v
		}
	}
	return m
}

// NaNSum returns the sum of the non-NaN values, or NaN if there are none.
func NaNSum(values []float64) float64 {
	s, any := 0.0, false
	for _, v := range values {
		if math.IsNaN(v) {
			continue
		}
		s += v
		any = true
	}
	if !any {
		return math.NaN()
	}
	return s
}
