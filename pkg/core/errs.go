//go:build linux

package core

import "errors"

var (
	// ErrPrecondition indicates a host requirement failure: wrong OS, missing
	// binary, missing plan path, or no unified cgroup hierarchy.
	ErrPrecondition = errors.New("core: precondition failed")

	// ErrConfig indicates an invalid declarative configuration reaching the
	// executor tree.
	ErrConfig = errors.New("core: invalid configuration")

	// ErrSubprocess indicates a spawn failure or a non-zero exit.
	ErrSubprocess = errors.New("core: subprocess failed")

	// ErrTimeout indicates the hard wait cap was exceeded and the child was
	// killed.
	ErrTimeout = errors.New("core: timeout exceeded")

	// ErrUnresolvedPlaceholder indicates a {m:*} token that could not be
	// bound against the context chain.
	ErrUnresolvedPlaceholder = errors.New("core: unresolved placeholder")

	// ErrInternal indicates an invariant breach, e.g. starting an active
	// timer.
	ErrInternal = errors.New("core: internal error")
)
