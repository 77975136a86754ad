package gateway

import (
	"errors"
	"fmt"
)

var (
	// ErrUnauthorized maps backend 401/403 responses.
	ErrUnauthorized = errors.New("backend rejected the caller identity")

	// ErrNotFound maps backend 404 responses (session unknown, no
	// evaluation stored yet). Distinct from UpstreamError by design: the
	// absence of a result is a normal condition, not a failure.
	ErrNotFound = errors.New("resource not found on backend")
)

// UpstreamError is a reachable backend returning a non-success status other
// than the mapped identity/not-found cases. The backend's detail message is
// carried through when present.
type UpstreamError struct {
	Status  int
	Message string
}

func (e *UpstreamError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("backend returned %d: %s", e.Status, e.Message)
	}
	return fmt.Sprintf("backend returned %d", e.Status)
}

// TransportError is an unreachable backend or an unparsable response. Never
// retried automatically.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("backend %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}
