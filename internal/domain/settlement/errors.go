package settlement

import (
	"errors"
	"fmt"
)

var (
	// ErrNetwork matches every *NetworkError.
	ErrNetwork            = errors.New("network error")
	ErrInvalidTransition  = errors.New("invalid settlement transition")
	ErrSubmissionInFlight = errors.New("a submission is already in progress")
	// ErrDiscarded is returned to a call whose result arrived after the
	// dialog was dismissed or reopened.
	ErrDiscarded = errors.New("settlement dialog was dismissed")
)

// NetworkError wraps a failed gateway call.
type NetworkError struct {
	Op  string // fetch or close
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("%s account: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

func (e *NetworkError) Is(target error) bool { return target == ErrNetwork }

const genericFailure = "The server could not be reached. Please try again."

// userMessage picks the text shown to the cashier: the server's own message
// when the gateway supplies one, else a generic fallback.
func userMessage(err error) string {
	var um interface{ UserMessage() string }
	if errors.As(err, &um) {
		if msg := um.UserMessage(); msg != "" {
			return msg
		}
	}
	return genericFailure
}

func transitionError(from State, action string) error {
	return fmt.Errorf("%w: cannot %s while %s", ErrInvalidTransition, action, from)
}
