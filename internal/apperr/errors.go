// Package apperr holds sentinel errors shared across packages.
package apperr

import "errors"

var (
	// ErrNotFound reports a lookup of an unknown tree.
	ErrNotFound = errors.New("not found")
	// ErrConflict reports a concurrent modification of a tree source.
	ErrConflict = errors.New("conflict")
	// ErrPinLimitExceeded is returned when an explicit pin would exceed the
	// configured maximum number of pinned roots.
	ErrPinLimitExceeded = errors.New("pin limit exceeded")
)
