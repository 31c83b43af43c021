package rag

import (
	"context"
	"errors"
)

// Sentinel errors shared by every component. Wrap them with fmt.Errorf and
// %w; callers match with errors.Is.
var (
	// ErrInvalidArgument indicates bad or missing caller input. Never retried.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrPermissionDenied is surfaced by the authorization layer in front of
	// the core. The core only trusts that decision.
	ErrPermissionDenied = errors.New("permission denied")

	// ErrNotFound indicates an unknown source id.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists indicates a source id is already registered.
	ErrAlreadyExists = errors.New("already exists")

	// ErrAlreadyIndexing indicates a reindex run already owns the source.
	ErrAlreadyIndexing = errors.New("already indexing")

	// ErrConflict indicates the source is not in the state the operation
	// requires.
	ErrConflict = errors.New("conflict")

	// ErrEmbeddingUnavailable indicates a transient embedder failure
	// (network, quota, 5xx).
	ErrEmbeddingUnavailable = errors.New("embedding unavailable")

	// ErrStoreUnavailable indicates a transient storage failure.
	ErrStoreUnavailable = errors.New("index store unavailable")

	// ErrFetch indicates the source content could not be fetched.
	ErrFetch = errors.New("fetch failed")

	// ErrDimensionMismatch indicates an embedding whose length differs from
	// the configured dimension. This is a configuration error.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
)

// Code is the external error code reported to callers.
type Code string

// External error codes.
const (
	CodeOK               Code = "ok"
	CodeInvalidArgument  Code = "invalid-argument"
	CodePermissionDenied Code = "permission-denied"
	CodeNotFound         Code = "not-found"
	CodeAlreadyExists    Code = "already-exists"
	CodeConflict         Code = "conflict"
	CodeUnavailable      Code = "unavailable"
	CodeDeadline         Code = "deadline-exceeded"
	CodeInternal         Code = "internal"
)

// CodeOf classifies err into the external taxonomy. Anything unrecognised
// is Internal.
func CodeOf(err error) Code {
	switch {
	case err == nil:
		return CodeOK
	case errors.Is(err, ErrInvalidArgument):
		return CodeInvalidArgument
	case errors.Is(err, ErrPermissionDenied):
		return CodePermissionDenied
	case errors.Is(err, ErrNotFound):
		return CodeNotFound
	case errors.Is(err, ErrAlreadyExists):
		return CodeAlreadyExists
	case errors.Is(err, ErrAlreadyIndexing), errors.Is(err, ErrConflict):
		return CodeConflict
	case errors.Is(err, ErrEmbeddingUnavailable), errors.Is(err, ErrStoreUnavailable):
		return CodeUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return CodeDeadline
	default:
		return CodeInternal
	}
}

// IsTransient reports whether err is worth retrying.
func IsTransient(err error) bool {
	return errors.Is(err, ErrEmbeddingUnavailable) || errors.Is(err, ErrStoreUnavailable)
}
