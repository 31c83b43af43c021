// Package registry implements rag.SourceRegistry: the list of known sources
// and their indexing lifecycle (PENDING → INDEXING → READY | FAILED).
//
// BeginIndexing is the only way into INDEXING and is an atomic
// compare-and-set, so at most one run owns a source at a time.
package registry

import (
	"fmt"
	"strings"

	"github.com/54b3r/semsearch/internal/rag"
)

// maxIDLength bounds source ids so they stay usable as payload keys and paths.
const maxIDLength = 256

// validate checks the caller-supplied fields of a registration.
func validate(id, location string) error {
	if strings.TrimSpace(id) == "" {
		return fmt.Errorf("registry: %w: source id is required", rag.ErrInvalidArgument)
	}
	if len(id) > maxIDLength {
		return fmt.Errorf("registry: %w: source id longer than %d bytes", rag.ErrInvalidArgument, maxIDLength)
	}
	if strings.TrimSpace(location) == "" {
		return fmt.Errorf("registry: %w: location is required", rag.ErrInvalidArgument)
	}
	return nil
}

func notFound(id string) error {
	return fmt.Errorf("registry: source %q: %w", id, rag.ErrNotFound)
}

func alreadyIndexing(id string) error {
	return fmt.Errorf("registry: source %q: %w", id, rag.ErrAlreadyIndexing)
}

func notClaimed(id string) error {
	return fmt.Errorf("registry: source %q is not held for indexing: %w", id, rag.ErrConflict)
}
