// Copyright 2021 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package frq

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat/distuv"
)

// CIMethod selects a binomial proportion confidence interval.
type CIMethod string

// Confidence interval methods.  CINone disables interval computation.
const (
	CINone         CIMethod = ""
	CINormal       CIMethod = "normal"
	CIAgrestiCoull CIMethod = "agresti_coull"
	CIBeta         CIMethod = "beta"
	CIWilson       CIMethod = "wilson"
	CIBinomTest    CIMethod = "binom_test"
)

// CIAlpha is the significance level of all intervals: bounds cover 95%.
const CIAlpha = 0.05

// ParseCIMethod validates a method name.  "none" and "" map to CINone.
func ParseCIMethod(s string) (CIMethod, error) {
	switch m := CIMethod(s); m {
	case CINone, CINormal, CIAgrestiCoull, CIBeta, CIWilson, CIBinomTest:
		return m, nil
	case "none":
		return CINone, nil
	}
	return CINone, fmt.Errorf("frq.ParseCIMethod: unknown confidence interval method %q", s)
}

// minNormal is the smallest positive normalized float64.
const minNormal = 2.2250738585072014e-308

// ProportionCI returns the two-sided (1-alpha) confidence interval for a
// binomial proportion count/nobs.  Both bounds are NaN when nobs is zero.
func ProportionCI(count, nobs int64, method CIMethod, alpha float64) (low, upp float64) {
	if nobs == 0 {
		return math.NaN(), math.NaN()
	}
	n := float64(nobs)
	k := float64(count)
	q := k / n
	z := distuv.UnitNormal.Quantile(1 - alpha/2)
	switch method {
	case CINormal:
		dist := z * math.Sqrt(q*(1-q)/n)
		low, upp = clip01(q-dist), clip01(q+dist)
	case CIAgrestiCoull:
		nc := n + z*z
		qc := (k + z*z/2) / nc
		dist := z * math.Sqrt(qc*(1-qc)/nc)
		low, upp = clip01(qc-dist), clip01(qc+dist)
	case CIWilson:
		z2 := z * z
		denom := 1 + z2/n
		center := (q + z2/(2*n)) / denom
		dist := z * math.Sqrt(q*(1-q)/n+z2/(4*n*n)) / denom
		low, upp = center-dist, center+dist
	case CIBeta:
		low, upp = 0, 1
		if count > 0 {
			low = distuv.Beta{Alpha: k, Beta: n - k + 1}.Quantile(alpha / 2)
		}
		if count < nobs {
			upp = distuv.Beta{Alpha: k + 1, Beta: n - k}.Quantile(1 - alpha/2)
		}
	case CIBinomTest:
		low, upp = 0, 1
		f := func(p float64) float64 { return binomTestPValue(count, nobs, p) - alpha }
		if count > 0 {
			low = bisect(f, minNormal, q)
		}
		if count < nobs {
			upp = bisect(f, q, 1-epsilon)
		}
	default:
		return math.NaN(), math.NaN()
	}
	return low, upp
}

// epsilon is the float64 machine epsilon.
const epsilon = 2.220446049250313e-16

func clip01(x float64) float64 {
	return math.Max(0, math.Min(1, x))
}

// bisect finds a root of f in [a, b], where f(a) and f(b) have opposite
// signs.  If they don't, the endpoint with the smaller |f| is returned.
func bisect(f func(float64) float64, a, b float64) float64 {
	fa, fb := f(a), f(b)
	if fa == 0 {
		return a
	}
	if fb == 0 {
		return b
	}
	if (fa < 0) == (fb < 0) {
		if math.Abs(fa) < math.Abs(fb) {
			return a
		}
		return b
	}
	for iter := 0; iter < 200 && b-a > 1e-12*math.Max(1, math.Abs(a)); iter++ {
		m := a + (b-a)/2
		fm := f(m)
		if fm == 0 {
			return m
		}
		if (fm < 0) == (fa < 0) {
			a, fa = m, fm
		} else {
			b = m
		}
	}
	return a + (b-a)/2
}

// binomTestPValue is the two-sided exact binomial test p-value for k
// successes in n trials under success probability p, where the rejection
// region holds every outcome no more likely than k.
func binomTestPValue(k, n int64, p float64) float64 {
	dist := distuv.Binomial{N: float64(n), P: p}
	kf, np := float64(k), float64(n)*p
	d := dist.Prob(kf)
	// Relative tolerance when comparing outcome probabilities to d.
	const rerr = 1 + 1e-7
	var pval float64
	switch {
	case kf == np:
		return 1
	case kf < np:
		y := 0
		for j := int64(math.Ceil(np)); j <= n; j++ {
			if dist.Prob(float64(j)) <= d*rerr {
				y++
			}
		}
		pval = dist.CDF(kf) + (1 - dist.CDF(float64(n-int64(y))))
	default:
		y := 0
		for j := int64(0); j <= int64(math.Floor(np)); j++ {
			if dist.Prob(float64(j)) <= d*rerr {
				y++
			}
		}
		pval = dist.CDF(float64(y-1)) + (1 - dist.CDF(kf-1))
	}
	return math.Min(1, pval)
}
