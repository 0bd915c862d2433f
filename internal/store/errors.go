package store

import "errors"

// Sentinel errors returned by store operations. Callers match them with
// errors.Is after unwrapping.
var (
	// ErrNotFound indicates the requested row does not exist.
	ErrNotFound = errors.New("not found")

	// ErrDuplicateEdge indicates an edge with the same (source, target,
	// relation) tuple already exists.
	ErrDuplicateEdge = errors.New("duplicate edge")

	// ErrStorageUnavailable indicates the database file could not be opened
	// or written. Operations fail explicitly rather than degrading.
	ErrStorageUnavailable = errors.New("storage unavailable")
)

// IsNotFound reports whether err indicates a missing row.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
