package flow

import (
	"time"

	"keepkeyd/internal/wire"
)

// PassphraseFlow drives PassphraseRequest -> suspend -> SubmitPassphrase ->
// PassphraseAck, per spec section 4.5.
type PassphraseFlow struct {
	Timeout time.Duration
}

func (f *PassphraseFlow) Name() string { return "passphrase" }

func (f *PassphraseFlow) Run(d Driver, continuations <-chan Continuation) Outcome {
	reply, err := d.Recv(time.Now().Add(f.Timeout))
	if err != nil {
		return Outcome{Err: err}
	}
	if _, ok := reply.(*wire.PassphraseRequest); !ok {
		return Outcome{Err: NewProtocolError(UnexpectedMessage, "expected passphrase_request")}
	}

	d.Emit(EventPassphraseRequest, nil)

	cont, ok := awaitContinuation(continuations, f.Timeout)
	if !ok {
		return Outcome{Err: NewProtocolError(Cancelled, "passphrase entry timed out")}
	}
	if cont.Kind == CancelFlow {
		_ = d.Send(&wire.Cancel{})
		return Outcome{Err: NewProtocolError(Cancelled, "passphrase flow cancelled")}
	}
	if cont.Kind != SubmitPassphrase {
		return Outcome{Err: NewProtocolError(UnexpectedMessage, "expected submit_passphrase continuation")}
	}

	if err := d.Send(&wire.PassphraseAck{Passphrase: cont.Text}); err != nil {
		return Outcome{Err: err}
	}

	final, err := d.Recv(time.Now().Add(f.Timeout))
	if err != nil {
		return Outcome{Err: err}
	}
	switch m := final.(type) {
	case *wire.Failure:
		return Outcome{Err: NewProtocolError(PassphraseInvalid, m.Message)}
	default:
		return Outcome{Result: m}
	}
}
