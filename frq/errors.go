// Copyright 2021 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package frq

import "github.com/pkg/errors"

// Error kinds.  All are terminal for the current call; errors returned by
// this package wrap one of them with context, so test with Is.
var (
	// ErrNoVariantsAvailable: the input has no sites, or no site passes the
	// requested site mask.
	ErrNoVariantsAvailable = errors.New("no variants available")
	// ErrNoCohortsAvailable: every candidate cohort failed the minimum size
	// check.
	ErrNoCohortsAvailable = errors.New("no cohorts available")
	// ErrNoVariantsRemaining: invariant dropping or a variant query removed
	// every row.
	ErrNoVariantsRemaining = errors.New("no variants remaining")
	// ErrUnknownColumn: a requested metadata column does not exist.
	ErrUnknownColumn = errors.New("unknown column")
	// ErrInvalidCohortSpec: a malformed cohort mapping or predicate.
	ErrInvalidCohortSpec = errors.New("invalid cohort specification")
)

// Is reports whether err is, or wraps, the error kind.
func Is(err, kind error) bool {
	return err != nil && errors.Cause(err) == kind
}
