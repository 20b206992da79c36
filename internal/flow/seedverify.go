package flow

import (
	"time"

	"keepkeyd/internal/wire"
)

// SeedVerifyFlow mirrors RecoveryFlow but is read-only: the device outputs
// scrambled words which the UI displays one at a time, with no operator
// input round-trip, per spec section 4.5.
type SeedVerifyFlow struct {
	Timeout time.Duration
}

func (f *SeedVerifyFlow) Name() string { return "seed_verify" }

func (f *SeedVerifyFlow) Run(d Driver, continuations <-chan Continuation) Outcome {
	for {
		reply, err := d.Recv(time.Now().Add(f.Timeout))
		if err != nil {
			return Outcome{Err: err}
		}

		switch m := reply.(type) {
		case *wire.WordRequest:
			d.Emit(EventPinRequest, m.Index)
			if err := d.Send(&wire.WordAck{}); err != nil {
				return Outcome{Err: err}
			}

		case *wire.Failure:
			return Outcome{Err: NewProtocolError(Failure, m.Message)}

		case *wire.Success:
			return Outcome{Result: m}

		default:
			return Outcome{Err: NewProtocolError(UnexpectedMessage, "unexpected reply during seed verification")}
		}
	}
}
