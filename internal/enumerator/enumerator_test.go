package enumerator

import (
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"keepkeyd/internal/transport"
)

type scriptedScanner struct {
	mu    sync.Mutex
	steps [][]RawDevice
	idx   int
}

func (s *scriptedScanner) Scan() ([]RawDevice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.idx >= len(s.steps) {
		return s.steps[len(s.steps)-1], nil
	}
	out := s.steps[s.idx]
	s.idx++
	return out, nil
}

func drainEvents(t *testing.T, ch <-chan Event, n int, timeout time.Duration) []Event {
	t.Helper()
	var out []Event
	deadline := time.After(timeout)
	for len(out) < n {
		select {
		case ev := <-ch:
			out = append(out, ev)
		case <-deadline:
			t.Fatalf("timed out waiting for %d events, got %d", n, len(out))
		}
	}
	return out
}

func TestConnectedThenDisconnected(t *testing.T) {
	dev := RawDevice{VendorID: 0x2B24, ProductID: 0x0002, Serial: "ABC123", TransportKind: transport.KindHID}
	scanner := &scriptedScanner{steps: [][]RawDevice{{dev}, {}}}

	e := New(scanner, 5*time.Millisecond, 50*time.Millisecond, zerolog.Nop())
	e.Start()
	defer e.Stop()

	evs := drainEvents(t, e.Events(), 2, time.Second)
	require.Equal(t, Connected, evs[0].Kind)
	require.Equal(t, Disconnected, evs[1].Kind)
	require.Equal(t, evs[0].Descriptor.DeviceID, evs[1].Descriptor.DeviceID)
}

func TestReconnectWithinGraceWindowMarksTemporary(t *testing.T) {
	dev := RawDevice{VendorID: 0x2B24, ProductID: 0x0002, Serial: "ABC123", TransportKind: transport.KindHID}
	scanner := &scriptedScanner{steps: [][]RawDevice{{dev}, {}, {dev}}}

	e := New(scanner, 5*time.Millisecond, 5*time.Second, zerolog.Nop())
	e.Start()
	defer e.Stop()

	evs := drainEvents(t, e.Events(), 3, time.Second)
	require.Equal(t, Connected, evs[0].Kind)
	require.Equal(t, Disconnected, evs[1].Kind)
	require.Equal(t, Reconnected, evs[2].Kind)
	require.True(t, evs[2].WasTemporary)
	require.Equal(t, evs[0].Descriptor.DeviceID, evs[2].Descriptor.DeviceID)
}

func TestDeviceIDStableAcrossBusPathChange(t *testing.T) {
	a := RawDevice{VendorID: 1, ProductID: 2, Serial: "XYZ", Bus: "1", PortPath: "1.2"}
	b := RawDevice{VendorID: 1, ProductID: 2, Serial: "XYZ", Bus: "2", PortPath: "3.4"}
	require.Equal(t, DeriveDeviceID(a), DeriveDeviceID(b))
}

func TestDeviceIDFallsBackToHashWithoutSerial(t *testing.T) {
	a := RawDevice{VendorID: 1, ProductID: 2, Bus: "1", PortPath: "1.2"}
	b := RawDevice{VendorID: 1, ProductID: 2, Bus: "1", PortPath: "1.3"}
	require.NotEqual(t, DeriveDeviceID(a), DeriveDeviceID(b))
}

func TestSnapshotReflectsPresentSet(t *testing.T) {
	dev := RawDevice{VendorID: 0x2B24, ProductID: 0x0002, Serial: "ABC123"}
	scanner := &scriptedScanner{steps: [][]RawDevice{{dev}}}

	e := New(scanner, 5*time.Millisecond, time.Second, zerolog.Nop())
	e.Start()
	defer e.Stop()

	drainEvents(t, e.Events(), 1, time.Second)
	snap := e.Snapshot()
	require.Len(t, snap, 1)
	require.Equal(t, dev.Serial, snap[0].Serial)
}
