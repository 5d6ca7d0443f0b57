package call

import (
	"errors"
	"fmt"
)

var (
	ErrNegotiationTimeout = errors.New("negotiation timed out")
	ErrPeer               = errors.New("peer connection error")
	ErrNotInRoom          = errors.New("not in a room")
	ErrSuperseded         = errors.New("negotiation superseded")
	ErrNoNegotiation      = errors.New("no active negotiation")
	ErrUnexpectedSignal   = errors.New("unexpected signal type")
	ErrWrongPeer          = errors.New("signal from unexpected peer")
	ErrRejected           = errors.New("rejected by signaling server")
)

// Error attaches the failing operation to an error.
type Error struct {
	Op      string
	Err     error
	Details string
}

func (e *Error) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("%s: %v (%s)", e.Op, e.Err, e.Details)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func NewError(op string, err error) *Error {
	return &Error{Op: op, Err: err}
}

func WrapError(op string, err error, details string) *Error {
	return &Error{Op: op, Err: err, Details: details}
}
