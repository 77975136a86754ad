package session

import (
	"errors"
	"fmt"

	"github.com/sensai-labs/proctor-client/internal/model"
)

var (
	// ErrIdentityMissing means no caller identity was resolved before start.
	ErrIdentityMissing = errors.New("no caller identity resolved for this session")

	// ErrSessionClosed means the machine's event loop has been torn down.
	ErrSessionClosed = errors.New("exam session machine is closed")

	// ErrNoActiveViva means a viva operation arrived with no attempt active.
	ErrNoActiveViva = errors.New("no active viva attempt")

	// ErrClockRunning means a countdown was started while one is active.
	ErrClockRunning = errors.New("countdown already running")

	// ErrConfirmationRequired means a manual end arrived unconfirmed.
	ErrConfirmationRequired = errors.New("ending the exam requires confirmation")
)

// InvalidStateError reports a transition attempted from a state that does not
// allow it. For externally driven operations this is an expected rejection;
// for internal transitions it indicates a programming error and is logged
// loudly before being returned.
type InvalidStateError struct {
	Op     string
	Status model.SessionStatus
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("operation %q not allowed in state %s", e.Op, e.Status)
}

// IsInvalidState reports whether err is an InvalidStateError.
func IsInvalidState(err error) bool {
	var ise *InvalidStateError
	return errors.As(err, &ise)
}
