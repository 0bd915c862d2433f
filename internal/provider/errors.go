package provider

import (
	"errors"
	"fmt"
	"net"
	"time"
)

// Sentinel errors for provider failures.
var (
	// ErrUnknownProvider indicates a Config.Kind outside the closed set.
	ErrUnknownProvider = errors.New("unknown provider kind")

	// ErrUnauthorized indicates the API rejected the credentials. Never
	// retryable.
	ErrUnauthorized = errors.New("provider rejected credentials")

	// ErrUnavailable indicates the provider could not be reached.
	ErrUnavailable = errors.New("provider unavailable")

	// ErrItemNotFound indicates the provider has no item with that id.
	ErrItemNotFound = errors.New("item not found on provider")
)

// ConflictError indicates the remote item changed after the patch's base
// timestamp. The caller keeps its pending change and resolves explicitly.
type ConflictError struct {
	ProviderID      string
	RemoteUpdatedAt time.Time
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("conflict on %s: remote updated at %s",
		e.ProviderID, e.RemoteUpdatedAt.Format(time.RFC3339))
}

// IsConflict reports whether err is a ConflictError.
func IsConflict(err error) bool {
	var ce *ConflictError
	return errors.As(err, &ce)
}

// RequestError wraps a failed API call with its HTTP status.
type RequestError struct {
	Op         string
	StatusCode int
	Err        error
}

func (e *RequestError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: HTTP %d: %v", e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *RequestError) Unwrap() error {
	return e.Err
}

// IsRetryable reports whether the failure is transient: network errors,
// rate limits and server-side errors. Auth failures and conflicts are not.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if IsConflict(err) || errors.Is(err, ErrUnauthorized) || errors.Is(err, ErrItemNotFound) {
		return false
	}
	if errors.Is(err, ErrUnavailable) {
		return true
	}
	var re *RequestError
	if errors.As(err, &re) {
		return re.StatusCode == 429 || re.StatusCode >= 500
	}
	var ne net.Error
	return errors.As(err, &ne)
}
