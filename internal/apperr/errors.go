// Package apperr holds the sentinel errors shared across packages.
package apperr

import "errors"

var (
	ErrNotFound      = errors.New("not found")
	ErrConflict      = errors.New("conflict")
	ErrAlreadyExists = errors.New("already exists")
	ErrUnsupported   = errors.New("unsupported source type")
	ErrInvalidInput  = errors.New("invalid input")

	// ErrEmptyIndex means no chunks are available; callers degrade to ungrounded generation.
	ErrEmptyIndex = errors.New("embedding index is empty")

	ErrSynthesisTimeout  = errors.New("synthesis timed out")
	ErrSynthesisProvider = errors.New("synthesis provider error")
	// ErrMarkerResolution is logged for model-invented local markers; it never fails a section.
	ErrMarkerResolution = errors.New("unresolvable citation marker")

	ErrDuplicateNode = errors.New("duplicate node id")
	ErrInvalidTOC    = errors.New("invalid table of contents")
	ErrRunNotFound   = errors.New("run not found")
	ErrFrozen        = errors.New("citation table is frozen")
)
