package flow

import (
	"time"

	"keepkeyd/internal/wire"
)

// ButtonTimeout is the 120s default of spec section 4.5/5.
const ButtonTimeout = 120 * time.Second

// ButtonConfirmFlow emits ButtonRequest for UI guidance and sends ButtonAck
// as soon as the device's ButtonRequest arrives, then waits for the
// device's final reply once the button is pressed, per spec section 4.5.
// On timeout it sends Cancel.
type ButtonConfirmFlow struct {
	Timeout time.Duration
}

func (f *ButtonConfirmFlow) Name() string { return "button_confirm" }

func (f *ButtonConfirmFlow) timeout() time.Duration {
	if f.Timeout > 0 {
		return f.Timeout
	}
	return ButtonTimeout
}

func (f *ButtonConfirmFlow) Run(d Driver, continuations <-chan Continuation) Outcome {
	reply, err := d.Recv(time.Now().Add(f.timeout()))
	if err != nil {
		if isTimeout(err) {
			_ = d.Send(&wire.Cancel{})
		}
		return Outcome{Err: err}
	}

	req, ok := reply.(*wire.ButtonRequest)
	if !ok {
		return Outcome{Err: NewProtocolError(UnexpectedMessage, "expected button_request")}
	}
	d.Emit(EventButtonRequest, req.Kind)

	if err := d.Send(&wire.ButtonAck{}); err != nil {
		return Outcome{Err: err}
	}

	final, err := d.Recv(time.Now().Add(f.timeout()))
	if err != nil {
		if isTimeout(err) {
			_ = d.Send(&wire.Cancel{})
		}
		return Outcome{Err: err}
	}
	switch m := final.(type) {
	case *wire.Failure:
		return Outcome{Err: NewProtocolError(Failure, m.Message)}
	default:
		return Outcome{Result: m}
	}
}

// isTimeout reports whether err is a transport timeout; defined locally to
// avoid importing transport (which would create worker -> flow ->
// transport -> worker-adjacent cycles). The worker's Driver adapter passes
// transport.Error values through unchanged, and transport.Error has an
// IsTimeout method, so flow only needs a narrow interface check.
func isTimeout(err error) bool {
	type timeouter interface{ IsTimeout() bool }
	if te, ok := err.(timeouter); ok {
		return te.IsTimeout()
	}
	return false
}
