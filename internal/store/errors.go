package store

import (
	"errors"
	"fmt"
)

// Kind classifies a persistence failure.
type Kind string

const (
	KindRepoOpen          Kind = "repo_open"
	KindGit               Kind = "git"
	KindIO                Kind = "io"
	KindDecode            Kind = "decode"
	KindNotFound          Kind = "not_found"
	KindInvalidObjectType Kind = "invalid_object_type"
	KindUnsupported       Kind = "unsupported"
	KindDatabase          Kind = "database"
)

// Sentinel errors matched with errors.Is.
var (
	ErrNotFound    = errors.New("not found")
	ErrUnsupported = errors.New("unsupported operation")
)

// Error wraps a persistence failure with the operation and path involved.
type Error struct {
	Op   string // Operation that failed (e.g., "list_ledgers")
	Kind Kind
	Path string // Repository path, if any
	Err  error
}

func (e *Error) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("store %s %s: %v", e.Op, e.Path, e.Err)
	}
	return fmt.Sprintf("store %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches ErrNotFound and ErrUnsupported by kind.
func (e *Error) Is(target error) bool {
	switch target {
	case ErrNotFound:
		return e.Kind == KindNotFound
	case ErrUnsupported:
		return e.Kind == KindUnsupported
	}
	return false
}

func notFound(op, what string) *Error {
	return &Error{Op: op, Kind: KindNotFound, Err: fmt.Errorf("%s not found", what)}
}

func unsupported(op, backend string) *Error {
	return &Error{Op: op, Kind: KindUnsupported, Err: fmt.Errorf("%s store is read-only", backend)}
}
