package worker

import (
	"time"

	"keepkeyd/internal/flow"
	"keepkeyd/internal/wire"
)

// primedDriver replays a single already-received message as the first
// Recv call, then falls through to the wrapped Driver. It lets the
// dispatch loop hand an interactive Flow the device reply it already
// consumed while probing for authentication.
type primedDriver struct {
	flow.Driver
	primed wire.Message
	used   bool
}

func (p *primedDriver) Recv(deadline time.Time) (wire.Message, error) {
	if !p.used {
		p.used = true
		return p.primed, nil
	}
	return p.Driver.Recv(deadline)
}

// authRouter wraps a one-shot request with the interactive-authentication
// branching every op can hit, per spec section 4.5: the device may answer
// a plain request with PinMatrixRequest, PassphraseRequest, or
// ButtonRequest instead of the expected reply, and the Worker must hand
// control to the matching Flow without losing the message already read.
type authRouter struct {
	opName    string
	request   wire.Message
	timeout   time.Duration
	onSuccess func(reply wire.Message)
}

func (a *authRouter) Name() string { return a.opName }

func (a *authRouter) Run(d flow.Driver, continuations <-chan flow.Continuation) flow.Outcome {
	if err := d.Send(a.request); err != nil {
		return flow.Outcome{Err: err}
	}

	reply, err := d.Recv(time.Now().Add(a.timeout))
	if err != nil {
		return flow.Outcome{Err: err}
	}

	primed := &primedDriver{Driver: d, primed: reply}

	switch m := reply.(type) {
	case *wire.PinMatrixRequest:
		return (&flow.PinMatrixFlow{Timeout: a.timeout}).Run(primed, continuations)
	case *wire.PassphraseRequest:
		return (&flow.PassphraseFlow{Timeout: a.timeout}).Run(primed, continuations)
	case *wire.ButtonRequest:
		return (&flow.ButtonConfirmFlow{Timeout: a.timeout}).Run(primed, continuations)
	case *wire.Failure:
		return flow.Outcome{Err: flow.NewProtocolError(flow.Failure, m.Message)}
	default:
		if a.onSuccess != nil {
			a.onSuccess(reply)
		}
		if fm, ok := reply.(*wire.Features); ok {
			d.Emit(flow.EventFeaturesUpdated, fm)
		}
		return flow.Outcome{Result: reply}
	}
}

// triggerThenFlow sends a one-shot request that kicks off a multi-message
// exchange, then hands control to next, which performs its own Recv for
// the device's first reply. Used for Recovery and Seed Verify, whose
// Flows (unlike PinMatrixFlow/PassphraseFlow/ButtonConfirmFlow) are never
// reached via the implicit authentication branch of a plain op.
type triggerThenFlow struct {
	opName  string
	request wire.Message
	next    flow.Flow
}

func (t *triggerThenFlow) Name() string { return t.opName }

func (t *triggerThenFlow) Run(d flow.Driver, continuations <-chan flow.Continuation) flow.Outcome {
	if err := d.Send(t.request); err != nil {
		return flow.Outcome{Err: err}
	}
	return t.next.Run(d, continuations)
}

// flowFor resolves a Request to the Flow instance driving it, per spec
// section 4.4's op-to-flow mapping. Ops with no matching device trigger
// (the flow-continuation ops) never reach here; Submit delivers them
// straight to the active Flow.
func (w *Worker) flowFor(req *Request) (flow.Flow, error) {
	timeout := w.cfg.OpTimeout

	switch req.Op {
	case OpGetFeatures:
		return &authRouter{opName: "get_features", request: &wire.GetFeatures{}, timeout: timeout}, nil

	case OpGetAddress:
		path, _ := req.Payload.([]uint32)
		return &authRouter{opName: "get_address", request: &wire.GetAddress{Path: path, ShowDisplay: true}, timeout: timeout}, nil

	case OpSignTransaction:
		tx, _ := req.Payload.([]byte)
		return &authRouter{opName: "sign_transaction", request: &wire.SignTx{Transaction: tx}, timeout: timeout}, nil

	case OpWipeDevice:
		return &authRouter{opName: "wipe_device", request: &wire.WipeDevice{}, timeout: timeout}, nil

	case OpSetLabel:
		label, _ := req.Payload.(string)
		return &authRouter{opName: "set_label", request: &wire.SetLabel{Label: label}, timeout: timeout}, nil

	case OpInitialize:
		strength, _ := req.Payload.(uint32)
		return &authRouter{opName: "initialize", request: &wire.Initialize{Strength: strength}, timeout: timeout}, nil

	case OpApplyPolicy:
		name, _ := req.Payload.(string)
		return &authRouter{opName: "apply_policy", request: &wire.ApplyPolicy{Name: name, Enabled: true}, timeout: timeout}, nil

	case OpGetEntropy:
		size, _ := req.Payload.(uint32)
		return &authRouter{opName: "get_entropy", request: &wire.EntropyRequest{Size: size}, timeout: timeout}, nil

	case OpChangePin:
		return &authRouter{opName: "change_pin", request: &wire.ChangePin{}, timeout: timeout}, nil

	case OpStartRecovery:
		return &triggerThenFlow{
			opName:  "start_recovery",
			request: &wire.RecoveryDevice{WordCount: 24},
			next:    &flow.RecoveryFlow{Timeout: timeout},
		}, nil

	case OpVerifySeed:
		return &triggerThenFlow{
			opName:  "verify_seed",
			request: &wire.VerifySeedStart{},
			next:    &flow.SeedVerifyFlow{Timeout: timeout},
		}, nil

	case OpUpdateBootloader, OpUpdateFirmware:
		payload, _ := req.Payload.([]byte)
		return &flow.FirmwareUploadFlow{
			Payload:   payload,
			OpTimeout: timeout,
			Reopen:    driverAdapter{w: w},
		}, nil

	default:
		return nil, &StateError{Code: InvalidForOp, Message: string(req.Op) + " has no matching flow"}
	}
}
