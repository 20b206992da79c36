// Package flow implements C5: the state machines driving multi-message
// device protocol exchanges (PIN matrix, passphrase, button confirm,
// firmware upload, recovery cipher, seed verification). Each Flow shares a
// total ordering of steps, a well-defined terminal state, and a guarantee
// to clear SessionState on any terminal outcome, per spec section 4.5.
package flow

import (
	"fmt"
	"time"

	"keepkeyd/internal/wire"
)

// ErrorCode enumerates the Protocol{} error taxonomy of spec section 7.
type ErrorCode int

const (
	Failure ErrorCode = iota
	UnexpectedMessage
	BusyInFlow
	Cancelled
	PinInvalid
	PassphraseInvalid
)

func (c ErrorCode) String() string {
	switch c {
	case Failure:
		return "failure"
	case UnexpectedMessage:
		return "unexpected_message"
	case BusyInFlow:
		return "busy_in_flow"
	case Cancelled:
		return "cancelled"
	case PinInvalid:
		return "pin_invalid"
	case PassphraseInvalid:
		return "passphrase_invalid"
	default:
		return "unknown"
	}
}

// ProtocolError is the typed error surfaced to callers on flow failure.
type ProtocolError struct {
	Code    ErrorCode
	Message string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("flow: %s: %s", e.Code, e.Message)
}

func NewProtocolError(code ErrorCode, message string) *ProtocolError {
	return &ProtocolError{Code: code, Message: message}
}

// Outcome is the terminal result of a Flow: exactly one of Result or Err is
// set.
type Outcome struct {
	Result any
	Err    error
}

// Driver is the narrow capability a Flow needs from its Worker: send one
// message, block for the next device reply, and emit a lifecycle Event.
// The worker package supplies the concrete implementation; keeping this as
// an interface lets flow be tested without a real Transport.
type Driver interface {
	Send(m wire.Message) error
	Recv(deadline time.Time) (wire.Message, error)
	Emit(kind EventKind, payload any)
}

// EventKind mirrors the subset of eventbus.Kind a Flow can emit, kept as
// its own small type so this package does not import eventbus (avoiding a
// dependency cycle with worker, which imports both).
type EventKind int

const (
	EventPinRequest EventKind = iota
	EventPassphraseRequest
	EventButtonRequest
	EventUpdateProgress
	EventFeaturesUpdated
	EventReady
)

// Continuation is a flow-continuation request accepted while a Flow is
// suspended awaiting external input: SubmitPin, SubmitPassphrase,
// SubmitCipherWord, or CancelFlow.
type Continuation struct {
	Kind ContinuationKind
	// Positions carries SubmitPin's scrambled-matrix digits.
	Positions string
	// Text carries SubmitPassphrase's text or SubmitCipherWord's letters.
	Text string
}

type ContinuationKind int

const (
	SubmitPin ContinuationKind = iota
	SubmitPassphrase
	SubmitCipherWord
	CancelFlow
)

// Flow is a multi-message protocol state machine. Run executes it to
// completion, consuming continuations from the supplied channel whenever
// it suspends awaiting external input. It always returns a terminal
// Outcome; it never leaves the caller without a result.
type Flow interface {
	// Name identifies the flow for logging and BusyInFlow messages.
	Name() string
	// Run drives the flow to completion against d, consuming
	// continuations as needed.
	Run(d Driver, continuations <-chan Continuation) Outcome
}
