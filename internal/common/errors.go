// Package common defines shared constants and sentinel errors used across
// stravasync components. Callers should use errors.Is / errors.As to match
// these values.
package common

import (
	"errors"
	"fmt"
)

var (
	// Repository-level errors.
	ErrorNotFound = errors.New("not found")

	// Token lifecycle errors.
	ErrUnauthenticated = errors.New("unauthenticated: authorization flow required")
	ErrInvalidState    = errors.New("invalid oauth state")

	// Upstream failure classes.
	ErrOAuth             = errors.New("oauth error")
	ErrFetch             = errors.New("fetch error")
	ErrMalformedResponse = errors.New("malformed upstream response")

	// Persistence failure classes.
	ErrStorage          = errors.New("storage error")
	ErrPermissionDenied = errors.New("permission denied")
	ErrArchiveExists    = errors.New("archive object already exists")
)

// UpstreamError is returned when the provider answers a request with a
// non-success status. Status and Body are kept verbatim for diagnosis.
//
// Kind is ErrOAuth for token endpoint failures and ErrFetch for data
// endpoint failures; errors.Is(err, common.ErrOAuth) matches accordingly.
type UpstreamError struct {
	Kind   error
	Op     string
	Status int
	Body   string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("%v: %s: upstream status %d: %s", e.Kind, e.Op, e.Status, e.Body)
}

func (e *UpstreamError) Unwrap() error {
	return e.Kind
}

// StorageError wraps err so that it matches ErrStorage while keeping the
// original cause reachable for errors.Is / errors.As.
func StorageError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrStorage) {
		return err
	}
	return fmt.Errorf("%w: %s: %w", ErrStorage, op, err)
}

// Malformed reports a provider response that is missing a required field
// or cannot be decoded.
func Malformed(op string, format string, args ...any) error {
	return fmt.Errorf("%w: %s: %s", ErrMalformedResponse, op, fmt.Sprintf(format, args...))
}
