package interp

import "errors"

// Errors returned by the interpreter. They are wrapped with the failing
// tensor or node; match them with errors.Is.
var (
	ErrBuild        = errors.New("failed to build interpreter")
	ErrInvalidIndex = errors.New("tensor index out of range")
	ErrInvalidShape = errors.New("invalid tensor shape")
	ErrReadOnly     = errors.New("tensor is read-only")
	ErrTypeMismatch = errors.New("tensor type mismatch")
	ErrAllocation   = errors.New("failed to allocate tensors")
	ErrExecution    = errors.New("failed to invoke interpreter")
)
