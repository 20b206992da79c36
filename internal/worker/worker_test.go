package worker

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"keepkeyd/internal/eventbus"
	"keepkeyd/internal/transport"
	"keepkeyd/internal/wire"
)

func newTestWorker(deviceID string, registry *transport.MockRegistry, bus *eventbus.Bus) *Worker {
	cfg := Config{OpTimeout: 200 * time.Millisecond, IdleTransportTimeout: time.Hour}
	return New(deviceID, transport.Descriptor{DeviceID: deviceID, TransportKind: transport.KindHID}, transport.MockOpener{Registry: registry}, bus, cfg, zerolog.Nop())
}

func submitAndWait(t *testing.T, w *Worker, op Op, payload any) Result {
	t.Helper()
	req := NewRequest("req-1", "dev", op, payload, time.Now().Add(time.Second), nil)
	require.True(t, w.Submit(req))
	return req.Wait()
}

func TestSingleTransportPerDeviceAcrossBurst(t *testing.T) {
	registry := transport.NewMockRegistry()
	w := newTestWorker("dev-1", registry, eventbus.New(16))
	w.Start()
	defer w.Shutdown()

	for i := 0; i < 5; i++ {
		res := submitAndWait(t, w, OpGetFeatures, nil)
		require.NoError(t, res.Err)
	}

	require.Equal(t, 1, registry.OpenCount("dev-1"))
}

func TestFIFOOrderingWithinWorker(t *testing.T) {
	registry := transport.NewMockRegistry()
	w := newTestWorker("dev-1", registry, eventbus.New(16))
	w.Start()
	defer w.Shutdown()

	var reqs []*Request
	for i := 0; i < 10; i++ {
		req := NewRequest("req", "dev-1", OpGetFeatures, nil, time.Now().Add(time.Second), nil)
		reqs = append(reqs, req)
		require.True(t, w.Submit(req))
	}

	for _, req := range reqs {
		res := req.Wait()
		require.NoError(t, res.Err)
	}
}

func TestContinuationRejectedWhenNoFlowActive(t *testing.T) {
	registry := transport.NewMockRegistry()
	w := newTestWorker("dev-1", registry, eventbus.New(16))
	w.Start()
	defer w.Shutdown()

	req := NewRequest("req-pin", "dev-1", OpSubmitPin, "1234", time.Now().Add(time.Second), nil)
	require.True(t, w.Submit(req))

	res := req.Wait()
	require.Error(t, res.Err)
	_, ok := res.Err.(*StateError)
	require.True(t, ok, "expected StateError, got %v", res.Err)
}

func TestPinMatrixFlowReceivesContinuationWhileLoopIsBlocked(t *testing.T) {
	registry := transport.NewMockRegistry()
	bus := eventbus.New(16)
	w := newTestWorker("dev-1", registry, bus)
	w.Start()
	defer w.Shutdown()

	// get_features's first reply is a PinMatrixRequest, routing into
	// PinMatrixFlow, which suspends on the loop goroutine awaiting a
	// submit_pin continuation. Submit must still be able to deliver that
	// continuation even though the loop is blocked inside the Flow.
	registry.Script("dev-1",
		transport.ScriptedResponse{Reply: &wire.PinMatrixRequest{Type: 0}},
		transport.ScriptedResponse{Reply: &wire.Success{Message: "unlocked"}},
	)

	first := NewRequest("req-a", "dev-1", OpGetFeatures, nil, time.Now().Add(2*time.Second), nil)
	require.True(t, w.Submit(first))

	time.Sleep(20 * time.Millisecond)

	cont := NewRequest("req-pin", "dev-1", OpSubmitPin, "7153", time.Now().Add(time.Second), nil)
	require.True(t, w.Submit(cont))
	contRes := cont.Wait()
	require.NoError(t, contRes.Err)

	res := first.Wait()
	require.NoError(t, res.Err)
}

func TestUnrelatedOpRejectedWhileFlowActive(t *testing.T) {
	registry := transport.NewMockRegistry()
	bus := eventbus.New(16)
	w := newTestWorker("dev-1", registry, bus)
	w.Start()
	defer w.Shutdown()

	// get_features's first reply is a PinMatrixRequest, routing into
	// PinMatrixFlow, which suspends on the loop goroutine awaiting a
	// submit_pin continuation.
	registry.Script("dev-1",
		transport.ScriptedResponse{Reply: &wire.PinMatrixRequest{Type: 0}},
		transport.ScriptedResponse{Reply: &wire.Success{Message: "unlocked"}},
	)

	first := NewRequest("req-a", "dev-1", OpGetFeatures, nil, time.Now().Add(2*time.Second), nil)
	require.True(t, w.Submit(first))

	time.Sleep(20 * time.Millisecond)

	// An unrelated op submitted while the PIN flow is suspended must be
	// rejected immediately with ErrBusyInFlow, not queued behind the flow.
	unrelated := NewRequest("req-b", "dev-1", OpSetLabel, "vault", time.Now().Add(time.Second), nil)
	require.True(t, w.Submit(unrelated))

	unrelatedRes := unrelated.Wait()
	require.Error(t, unrelatedRes.Err)
	busyErr, ok := unrelatedRes.Err.(*ErrBusyInFlow)
	require.True(t, ok, "expected ErrBusyInFlow, got %v", unrelatedRes.Err)
	require.Equal(t, "get_features", busyErr.ActiveFlow)

	// The PIN flow itself must be unperturbed: it still completes once
	// given its continuation.
	cont := NewRequest("req-pin", "dev-1", OpSubmitPin, "7153", time.Now().Add(time.Second), nil)
	require.True(t, w.Submit(cont))
	require.NoError(t, cont.Wait().Err)
	require.NoError(t, first.Wait().Err)
}

func TestCancelledRequestNeverDispatches(t *testing.T) {
	registry := transport.NewMockRegistry()
	w := newTestWorker("dev-1", registry, eventbus.New(16))
	w.Start()
	defer w.Shutdown()

	cancel := make(chan struct{})
	close(cancel)
	req := NewRequest("req-1", "dev-1", OpGetFeatures, nil, time.Now().Add(time.Second), cancel)
	require.True(t, w.Submit(req))

	res := req.Wait()
	require.Error(t, res.Err)
	_, ok := res.Err.(*ErrCancelled)
	require.True(t, ok)
	require.Equal(t, 0, registry.OpenCount("dev-1"))
}

func TestSubmitRejectedAfterShutdown(t *testing.T) {
	registry := transport.NewMockRegistry()
	w := newTestWorker("dev-1", registry, eventbus.New(16))
	w.Start()

	ok := submitAndWait(t, w, OpGetFeatures, nil)
	require.NoError(t, ok.Err)

	w.Shutdown()

	req := NewRequest("req-after", "dev-1", OpGetFeatures, nil, time.Now().Add(time.Second), nil)
	require.False(t, w.Submit(req))
}

func TestRebindOnDisconnectedError(t *testing.T) {
	registry := transport.NewMockRegistry()
	w := newTestWorker("dev-1", registry, eventbus.New(16))
	w.Start()
	defer w.Shutdown()

	// First op opens the transport.
	res := submitAndWait(t, w, OpGetFeatures, nil)
	require.NoError(t, res.Err)
	require.Equal(t, 1, registry.OpenCount("dev-1"))

	// Script a disconnected (rebind-required) send error for the next op,
	// then let the retried attempt succeed against the reopened transport.
	registry.Script("dev-1", transport.ScriptedResponse{Err: &transport.Error{Kind: transport.Disconnected, RebindRequired: true}})

	res = submitAndWait(t, w, OpGetFeatures, nil)
	require.NoError(t, res.Err)
	require.Equal(t, 2, registry.OpenCount("dev-1"))
	require.Equal(t, 1, registry.CloseCount("dev-1"))
}

func TestAccessErrorEmittedWhenRetryScheduleExhausted(t *testing.T) {
	registry := transport.NewMockRegistry()
	bus := eventbus.New(16)
	cfg := Config{OpTimeout: 200 * time.Millisecond, RetrySchedule: []time.Duration{time.Millisecond, time.Millisecond}}
	w := New("dev-1", transport.Descriptor{DeviceID: "dev-1", TransportKind: transport.KindHID}, transport.MockOpener{Registry: registry}, bus, cfg, zerolog.Nop())
	w.Start()
	defer w.Shutdown()

	sub := bus.Subscribe()
	defer sub.Close()

	// A non-rebind-required transient error on every attempt, enough to
	// exhaust the two-entry retry schedule (3 total attempts) without ever
	// qualifying for rebind.
	for i := 0; i < 3; i++ {
		registry.Script("dev-1", transport.ScriptedResponse{Err: &transport.Error{Kind: transport.WriteFailed}})
	}

	res := submitAndWait(t, w, OpGetFeatures, nil)
	require.Error(t, res.Err)

	env := sub.Next()
	require.Equal(t, eventbus.AccessError, env.Event.Kind)
	require.Equal(t, "dev-1", env.Event.DeviceID)
}
