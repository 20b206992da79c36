package flow

import (
	"time"

	"keepkeyd/internal/wire"
)

// softLocker lets RecoveryFlow set the per-device "recovery in progress"
// flag, without widening the Driver interface for every other flow. The
// Worker exposes the flag only through its Snapshot (served by the HTTP
// device endpoint); it is not attached to Ready/FeaturesUpdated events. Per spec section 9,
// this is a per-device Worker attribute, not a process-wide global.
type softLocker interface {
	SetRecoveryInProgress(bool)
}

// RecoveryFlow drives the word-by-word cipher exchange of spec section 4.5:
// Begin -> WordRequest{index} -> emit event -> SubmitCipherWord{letters} ->
// WordAck -> ... The soft-lock is released on any terminal outcome.
type RecoveryFlow struct {
	Timeout time.Duration
}

func (f *RecoveryFlow) Name() string { return "recovery" }

func (f *RecoveryFlow) Run(d Driver, continuations <-chan Continuation) Outcome {
	if sl, ok := d.(softLocker); ok {
		sl.SetRecoveryInProgress(true)
		defer sl.SetRecoveryInProgress(false)
	}

	for {
		reply, err := d.Recv(time.Now().Add(f.Timeout))
		if err != nil {
			return Outcome{Err: err}
		}

		switch m := reply.(type) {
		case *wire.WordRequest:
			d.Emit(EventPinRequest, m.Index) // reuses the generic prompt event kind; payload carries the word index

			cont, ok := awaitContinuation(continuations, f.Timeout)
			if !ok {
				return Outcome{Err: NewProtocolError(Cancelled, "recovery word entry timed out")}
			}
			if cont.Kind == CancelFlow {
				_ = d.Send(&wire.Cancel{})
				return Outcome{Err: NewProtocolError(Cancelled, "recovery flow cancelled")}
			}
			if cont.Kind != SubmitCipherWord {
				return Outcome{Err: NewProtocolError(UnexpectedMessage, "expected submit_cipher_word continuation")}
			}
			if err := d.Send(&wire.WordAck{Word: cont.Text}); err != nil {
				return Outcome{Err: err}
			}

		case *wire.Failure:
			return Outcome{Err: NewProtocolError(Failure, m.Message)}

		case *wire.Success:
			return Outcome{Result: m}

		default:
			return Outcome{Err: NewProtocolError(UnexpectedMessage, "unexpected reply during recovery")}
		}
	}
}
