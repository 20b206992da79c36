package worker

import "fmt"

// StateErrorCode enumerates the State{} taxonomy of spec section 7, raised
// by flow preconditions before a Flow is even started.
type StateErrorCode int

const (
	InvalidForOp StateErrorCode = iota
	NotInitialized
	MustBeInBootloaderMode
)

func (c StateErrorCode) String() string {
	switch c {
	case InvalidForOp:
		return "invalid_for_op"
	case NotInitialized:
		return "not_initialized"
	case MustBeInBootloaderMode:
		return "must_be_in_bootloader_mode"
	default:
		return "unknown"
	}
}

// StateError is returned without retry, per spec section 7's propagation
// policy.
type StateError struct {
	Code    StateErrorCode
	Message string
}

func (e *StateError) Error() string {
	return fmt.Sprintf("worker: %s: %s", e.Code, e.Message)
}

// ErrBusyInFlow is returned when an unrelated request arrives while a Flow
// is active, per spec section 3/4.4, and when a continuation op arrives
// but the active Flow isn't at a suspend point yet to receive it. It is
// defined here (rather than flow.BusyInFlow, which is a ProtocolError)
// because both cases are raised by Submit itself, before the request ever
// reaches the loop goroutine running the Flow.
type ErrBusyInFlow struct {
	ActiveFlow string
}

func (e *ErrBusyInFlow) Error() string {
	return fmt.Sprintf("worker: busy in flow %q", e.ActiveFlow)
}

// ErrDisconnected is returned to every request draining out of a stopped
// Worker's inbox, per spec section 4.4's shutdown semantics.
type ErrDisconnected struct{}

func (e *ErrDisconnected) Error() string { return "worker: device disconnected" }

// ErrCancelled is returned for a request observed cancelled before
// dispatch.
type ErrCancelled struct{}

func (e *ErrCancelled) Error() string { return "worker: request cancelled" }
