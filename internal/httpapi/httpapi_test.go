package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"keepkeyd/internal/enumerator"
	"keepkeyd/internal/eventbus"
	"keepkeyd/internal/queue"
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

func newTestServer(t *testing.T) (*Server, *queue.Manager) {
	t.Helper()
	dev := enumerator.RawDevice{VendorID: 0x2B24, ProductID: 0x0002, Serial: "ABC123", TransportKind: transport.KindHID}
	scanner := &scriptedScanner{steps: [][]enumerator.RawDevice{{dev}}}
	enum := enumerator.New(scanner, 5*time.Millisecond, 50*time.Millisecond, zerolog.Nop())
	enum.Start()
	t.Cleanup(enum.Stop)

	registry := transport.NewMockRegistry()
	bus := eventbus.New(64)
	cfg := worker.Config{OpTimeout: 200 * time.Millisecond}
	mgr := queue.New(enum, bus, transport.MockOpener{Registry: registry}, cfg, zerolog.Nop())
	mgr.Start()
	t.Cleanup(mgr.Stop)

	require.Eventually(t, func() bool { return len(mgr.ListDevices()) == 1 }, time.Second, time.Millisecond)

	timeout := func(op string) time.Duration { return time.Second }
	s := New("127.0.0.1:0", mgr, bus, zerolog.Nop(), timeout)
	return s, mgr
}

func TestHandleListDevices(t *testing.T) {
	s, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/devices", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Devices []enumerator.Descriptor `json:"devices"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Devices, 1)
}

func TestGetFeaturesOverHTTP(t *testing.T) {
	s, mgr := newTestServer(t)
	deviceID := mgr.ListDevices()[0].DeviceID

	req := httptest.NewRequest(http.MethodPost, "/api/v1/devices/"+deviceID+"/get_features", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
}

func TestGetFeaturesUnknownDeviceReturns404(t *testing.T) {
	s, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/devices/does-not-exist/get_features", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSetLabelRequiresBody(t *testing.T) {
	s, mgr := newTestServer(t)
	deviceID := mgr.ListDevices()[0].DeviceID

	req := httptest.NewRequest(http.MethodPost, "/api/v1/devices/"+deviceID+"/set_label", bytes.NewBufferString(`{}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSetLabelOverHTTP(t *testing.T) {
	s, mgr := newTestServer(t)
	deviceID := mgr.ListDevices()[0].DeviceID

	body, err := json.Marshal(setLabelBody{Label: "my keepkey"})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/devices/"+deviceID+"/set_label", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
}

func TestDeviceSnapshotNotFoundBeforeFirstOp(t *testing.T) {
	s, mgr := newTestServer(t)
	deviceID := mgr.ListDevices()[0].DeviceID

	req := httptest.NewRequest(http.MethodGet, "/api/v1/devices/"+deviceID, nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusNotFound, rec.Code)
}
