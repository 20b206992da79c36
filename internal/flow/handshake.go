package flow

import (
	"time"

	"keepkeyd/internal/wire"
)

// SimpleFlow is the implicit single-state flow for one-shot ops
// (get-features, get-address, wipe, ...) per spec section 4.5: send one
// request, read one reply, done. Flows that need multi-message exchanges
// (PIN, passphrase, button, firmware, recovery) have their own types.
type SimpleFlow struct {
	OpName    string
	Request   wire.Message
	Timeout   time.Duration
	OnSuccess func(reply wire.Message)
}

func (f *SimpleFlow) Name() string { return f.OpName }

func (f *SimpleFlow) Run(d Driver, continuations <-chan Continuation) Outcome {
	if err := d.Send(f.Request); err != nil {
		return Outcome{Err: err}
	}

	reply, err := d.Recv(time.Now().Add(f.Timeout))
	if err != nil {
		return Outcome{Err: err}
	}

	switch m := reply.(type) {
	case *wire.Failure:
		return Outcome{Err: NewProtocolError(Failure, m.Message)}
	case *wire.PinMatrixRequest, *wire.PassphraseRequest, *wire.ButtonRequest:
		// The op required authentication the caller didn't anticipate; the
		// Worker is responsible for recognizing these replies and handing
		// control to the matching interactive Flow instead of treating
		// this as the op's terminal result.
		return Outcome{Err: NewProtocolError(UnexpectedMessage, "op requires interactive authentication")}
	default:
		if f.OnSuccess != nil {
			f.OnSuccess(m)
		}
		if fm, ok := m.(*wire.Features); ok {
			d.Emit(EventFeaturesUpdated, fm)
		}
		return Outcome{Result: m}
	}
}
