package nats_exchange_flow

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrReservedHeader         = errors.New("reserved message header")
	ErrCorrelationKeyNotFound = errors.New("correlation key not found")
	ErrReplyAddressNotFound   = errors.New("reply address not found")
	ErrInvalidSelector        = errors.New("invalid message selector")
	ErrVariableNotFound       = errors.New("unknown test variable")
	ErrEndpointClosed         = errors.New("endpoint closed")
)

// ReplyTimeoutError reports a bounded wait that ran out before a message arrived.
type ReplyTimeoutError struct {
	Message     string
	Timeout     time.Duration
	Destination string
}

func (e *ReplyTimeoutError) Error() string {
	return fmt.Sprintf("%s: waited %s for %q", e.Message, e.Timeout, e.Destination)
}

func IsReplyTimeout(err error) bool {
	var timeoutErr *ReplyTimeoutError
	return errors.As(err, &timeoutErr)
}

// TransportError wraps failures of the underlying transport so callers do not
// depend on transport specific error types.
type TransportError struct {
	Op          string
	Destination string
	Err         error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s %q: %s", e.Op, e.Destination, e.Err.Error())
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

func newTransportError(op, destination string, err error) error {
	return &TransportError{Op: op, Destination: destination, Err: err}
}
