package worker

import (
	"time"

	"keepkeyd/internal/eventbus"
	"keepkeyd/internal/flow"
	"keepkeyd/internal/transport"
	"keepkeyd/internal/wire"
)

// driverAdapter narrows a Worker's Transport and Event Bus down to the
// flow.Driver contract, so Flows never see the Worker's inbox, retry
// logic, or Transport lifecycle decisions.
type driverAdapter struct {
	w *Worker
}

func (d driverAdapter) Send(m wire.Message) error {
	return d.w.transport.Send(m)
}

func (d driverAdapter) Recv(deadline time.Time) (wire.Message, error) {
	return d.w.transport.Recv(deadline)
}

func (d driverAdapter) Emit(kind flow.EventKind, payload any) {
	d.w.emit(flowKindToBusKind(kind), payload)
}

func (d driverAdapter) SetRecoveryInProgress(v bool) {
	d.w.mu.Lock()
	d.w.recoveryInProgress = v
	d.w.mu.Unlock()
}

func (d driverAdapter) ReopenAfterDisconnect(grace time.Duration) (flow.Driver, error) {
	driver, err := d.w.reopenAfterGrace(grace)
	if err != nil {
		return nil, err
	}
	return driver, nil
}

func flowKindToBusKind(k flow.EventKind) eventbus.Kind {
	switch k {
	case flow.EventPinRequest:
		return eventbus.PinRequest
	case flow.EventPassphraseRequest:
		return eventbus.PassphraseRequest
	case flow.EventButtonRequest:
		return eventbus.ButtonRequest
	case flow.EventUpdateProgress:
		return eventbus.UpdateProgress
	case flow.EventFeaturesUpdated:
		return eventbus.FeaturesUpdated
	case flow.EventReady:
		return eventbus.Ready
	default:
		return eventbus.Ready
	}
}

// reopenAfterGrace backs FirmwareUploadFlow's mid-upload disconnect
// handling (the idle and rebind paths use ensureTransport): it waits up to
// grace for the device to reappear, then opens a fresh Transport against
// the current descriptor.
func (d *Worker) reopenAfterGrace(grace time.Duration) (flow.Driver, error) {
	deadline := time.Now().Add(grace)
	var lastErr error
	for time.Now().Before(deadline) {
		tr, err := d.open()
		if err == nil {
			d.mu.Lock()
			d.transport = tr
			d.mu.Unlock()
			return driverAdapter{w: d}, nil
		}
		lastErr = err
		time.Sleep(200 * time.Millisecond)
	}
	return nil, lastErr
}

func (w *Worker) open() (transport.Transport, error) {
	if w.opener != nil {
		return w.opener.Open(w.descriptor)
	}
	opener, err := transport.ForKind(w.descriptor.TransportKind)
	if err != nil {
		return nil, err
	}
	return opener.Open(w.descriptor)
}
