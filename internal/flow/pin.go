package flow

import (
	"time"

	"keepkeyd/internal/wire"
)

// PinType distinguishes the three prompts the device can issue during a PIN
// exchange, per spec section 4.5.
type PinType int

const (
	PinCurrent PinType = iota
	PinNewFirst
	PinNewSecond
)

// PinMatrixFlow drives Start -> Awaiting(pin_type) -> ... to completion.
// Triggered by any op requiring authentication; the initial device message
// that kicked it off determines the first pin_type.
type PinMatrixFlow struct {
	Timeout time.Duration
}

func (f *PinMatrixFlow) Name() string { return "pin_matrix" }

func (f *PinMatrixFlow) Run(d Driver, continuations <-chan Continuation) Outcome {
	// The device's first PinMatrixRequest already arrived and selected this
	// Flow; consume it and drive the remainder of the exchange.
	pending, err := awaitPinRequest(d, f.Timeout)
	if err != nil {
		return Outcome{Err: err}
	}

	for {
		d.Emit(EventPinRequest, pinTypeFromWire(pending.Type))

		cont, ok := awaitContinuation(continuations, f.Timeout)
		if !ok {
			return Outcome{Err: NewProtocolError(Cancelled, "pin entry timed out")}
		}
		if cont.Kind == CancelFlow {
			_ = d.Send(&wire.Cancel{})
			return Outcome{Err: NewProtocolError(Cancelled, "pin flow cancelled")}
		}
		if cont.Kind != SubmitPin {
			return Outcome{Err: NewProtocolError(UnexpectedMessage, "expected submit_pin continuation")}
		}

		if err := d.Send(&wire.PinMatrixAck{Positions: cont.Positions}); err != nil {
			return Outcome{Err: err}
		}

		reply, err := d.Recv(time.Now().Add(f.Timeout))
		if err != nil {
			return Outcome{Err: err}
		}

		switch m := reply.(type) {
		case *wire.PinMatrixRequest:
			pending = m
			continue
		case *wire.Failure:
			return Outcome{Err: NewProtocolError(PinInvalid, m.Message)}
		case *wire.Success:
			return Outcome{Result: m}
		default:
			return Outcome{Err: NewProtocolError(UnexpectedMessage, "unexpected reply to pin matrix ack")}
		}
	}
}

func awaitPinRequest(d Driver, timeout time.Duration) (*wire.PinMatrixRequest, error) {
	reply, err := d.Recv(time.Now().Add(timeout))
	if err != nil {
		return nil, err
	}
	req, ok := reply.(*wire.PinMatrixRequest)
	if !ok {
		return nil, NewProtocolError(UnexpectedMessage, "expected pin_matrix_request")
	}
	return req, nil
}

func awaitContinuation(continuations <-chan Continuation, timeout time.Duration) (Continuation, bool) {
	select {
	case c, ok := <-continuations:
		return c, ok
	case <-time.After(timeout):
		return Continuation{}, false
	}
}

func pinTypeFromWire(t uint32) PinType {
	switch t {
	case 1:
		return PinNewFirst
	case 2:
		return PinNewSecond
	default:
		return PinCurrent
	}
}
