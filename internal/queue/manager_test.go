package queue

import (
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"keepkeyd/internal/enumerator"
	"keepkeyd/internal/eventbus"
	"keepkeyd/internal/transport"
	"keepkeyd/internal/worker"
)

type scriptedScanner struct {
	mu    sync.Mutex
	steps [][]enumerator.RawDevice
	idx   int
}

func (s *scriptedScanner) Scan() ([]enumerator.RawDevice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.idx >= len(s.steps) {
		return s.steps[len(s.steps)-1], nil
	}
	out := s.steps[s.idx]
	s.idx++
	return out, nil
}

func newTestManager(t *testing.T, scanner *scriptedScanner) (*Manager, *transport.MockRegistry, *eventbus.Bus) {
	t.Helper()
	enum := enumerator.New(scanner, 5*time.Millisecond, 50*time.Millisecond, zerolog.Nop())
	enum.Start()
	t.Cleanup(enum.Stop)

	registry := transport.NewMockRegistry()
	bus := eventbus.New(64)
	cfg := worker.Config{OpTimeout: 200 * time.Millisecond}
	m := New(enum, bus, transport.MockOpener{Registry: registry}, cfg, zerolog.Nop())
	m.Start()
	t.Cleanup(m.Stop)
	return m, registry, bus
}

func waitForDevice(t *testing.T, m *Manager, deviceID string, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		for _, d := range m.ListDevices() {
			if d.DeviceID == deviceID {
				return
			}
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("device %q never appeared", deviceID)
}

func TestGetOrCreateWorkerIsSingleCreationSite(t *testing.T) {
	dev := enumerator.RawDevice{VendorID: 0x2B24, ProductID: 0x0002, Serial: "ABC123", TransportKind: transport.KindHID}
	scanner := &scriptedScanner{steps: [][]enumerator.RawDevice{{dev}}}
	m, registry, _ := newTestManager(t, scanner)

	devices := m.ListDevices()
	require.Eventually(t, func() bool { devices = m.ListDevices(); return len(devices) == 1 }, time.Second, time.Millisecond)
	deviceID := devices[0].DeviceID

	w1, err := m.GetOrCreateWorker(deviceID)
	require.NoError(t, err)
	w2, err := m.GetOrCreateWorker(deviceID)
	require.NoError(t, err)
	require.Same(t, w1, w2)

	req := worker.NewRequest("r1", deviceID, worker.OpGetFeatures, nil, time.Now().Add(time.Second), nil)
	require.NoError(t, m.Submit(req))
	res := req.Wait()
	require.NoError(t, res.Err)
	require.Equal(t, 1, registry.OpenCount(deviceID))
}

func TestGetOrCreateWorkerUnknownDevice(t *testing.T) {
	scanner := &scriptedScanner{steps: [][]enumerator.RawDevice{{}}}
	m, _, _ := newTestManager(t, scanner)

	_, err := m.GetOrCreateWorker("nonexistent")
	require.Error(t, err)
	_, ok := err.(*ErrNoSuchDevice)
	require.True(t, ok)
}

func TestDisconnectShutsDownWorkerAndFailsFutureSubmits(t *testing.T) {
	dev := enumerator.RawDevice{VendorID: 0x2B24, ProductID: 0x0002, Serial: "ABC123", TransportKind: transport.KindHID}
	scanner := &scriptedScanner{steps: [][]enumerator.RawDevice{{dev}, {}}}
	m, _, bus := newTestManager(t, scanner)

	var devices []enumerator.Descriptor
	require.Eventually(t, func() bool { devices = m.ListDevices(); return len(devices) == 1 }, time.Second, time.Millisecond)
	deviceID := devices[0].DeviceID

	sub := bus.Subscribe()
	defer sub.Close()

	req := worker.NewRequest("r1", deviceID, worker.OpGetFeatures, nil, time.Now().Add(time.Second), nil)
	require.NoError(t, m.Submit(req))
	require.NoError(t, req.Wait().Err)

	// Wait for the enumerator to observe the device vanish and the Manager
	// to shut its Worker down.
	require.Eventually(t, func() bool {
		_, err := m.GetOrCreateWorker(deviceID)
		_, noSuchDevice := err.(*ErrNoSuchDevice)
		return noSuchDevice
	}, time.Second, 2*time.Millisecond)

	req2 := worker.NewRequest("r2", deviceID, worker.OpGetFeatures, nil, time.Now().Add(time.Second), nil)
	err := m.Submit(req2)
	require.Error(t, err)
	_, ok := err.(*ErrNoSuchDevice)
	require.True(t, ok, "expected ErrNoSuchDevice once the device has left the Enumerator's present set, got %v", err)
}

func TestManagerShutdownDrainsAllWorkers(t *testing.T) {
	dev := enumerator.RawDevice{VendorID: 0x2B24, ProductID: 0x0002, Serial: "ABC123", TransportKind: transport.KindHID}
	scanner := &scriptedScanner{steps: [][]enumerator.RawDevice{{dev}}}
	m, _, _ := newTestManager(t, scanner)

	var devices []enumerator.Descriptor
	require.Eventually(t, func() bool { devices = m.ListDevices(); return len(devices) == 1 }, time.Second, time.Millisecond)
	deviceID := devices[0].DeviceID

	w, err := m.GetOrCreateWorker(deviceID)
	require.NoError(t, err)

	m.Stop()
	require.True(t, w.IsStopped())
}
