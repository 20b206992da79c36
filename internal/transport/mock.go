package transport

import (
	"sync"
	"sync/atomic"
	"time"

	"keepkeyd/internal/wire"
)

// MockRegistry is a shared recorder of open/close activity across every
// MockOpener it backs, used by the worker/queue tests in spec section 8 to
// assert the single-transport-per-device and retention properties without
// real hardware.
type MockRegistry struct {
	mu       sync.Mutex
	opens    map[string]int
	closes   map[string]int
	scripted map[string][]ScriptedResponse
}

// ScriptedResponse queues a canned Send/Recv outcome for a device's mock
// transport: either an error (simulating a transient or disconnect
// condition) or a reply message.
type ScriptedResponse struct {
	Err   error
	Reply wire.Message
}

func NewMockRegistry() *MockRegistry {
	return &MockRegistry{
		opens:    map[string]int{},
		closes:   map[string]int{},
		scripted: map[string][]ScriptedResponse{},
	}
}

func (r *MockRegistry) OpenCount(deviceID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.opens[deviceID]
}

func (r *MockRegistry) CloseCount(deviceID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closes[deviceID]
}

// Script queues responses for that device. Recv consumes entries in order;
// Send consumes the head entry only when it carries an Err. An empty queue
// makes Recv fall back to a Success message.
func (r *MockRegistry) Script(deviceID string, responses ...ScriptedResponse) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.scripted[deviceID] = append(r.scripted[deviceID], responses...)
}

func (r *MockRegistry) nextScripted(deviceID string) (ScriptedResponse, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	queue := r.scripted[deviceID]
	if len(queue) == 0 {
		return ScriptedResponse{}, false
	}
	r.scripted[deviceID] = queue[1:]
	return queue[0], true
}

// nextSendError pops a scripted error only when one is queued next; a
// queued Reply-only entry is left untouched for the matching Recv call,
// since Send and Recv draw from the same per-device script in call order.
func (r *MockRegistry) nextSendError(deviceID string) (error, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	queue := r.scripted[deviceID]
	if len(queue) == 0 || queue[0].Err == nil {
		return nil, false
	}
	r.scripted[deviceID] = queue[1:]
	return queue[0].Err, true
}

// MockOpener implements Opener against a MockRegistry. It never touches
// real hardware; every call to Open increments the registry's open count
// for that device_id, which is the only observable the §8 properties need.
type MockOpener struct {
	Registry *MockRegistry
}

func (o MockOpener) Open(d Descriptor) (Transport, error) {
	o.Registry.mu.Lock()
	o.Registry.opens[d.DeviceID]++
	o.Registry.mu.Unlock()

	return &mockTransport{deviceID: d.DeviceID, registry: o.Registry}, nil
}

type mockTransport struct {
	deviceID string
	registry *MockRegistry
	closed   int32
}

func (t *mockTransport) Kind() Kind { return KindHID }

func (t *mockTransport) Send(m wire.Message) error {
	if atomic.LoadInt32(&t.closed) != 0 {
		return newError(Disconnected, nil)
	}
	if err, ok := t.registry.nextSendError(t.deviceID); ok {
		return err
	}
	return nil
}

func (t *mockTransport) Recv(deadline time.Time) (wire.Message, error) {
	if atomic.LoadInt32(&t.closed) != 0 {
		return nil, newError(Disconnected, nil)
	}
	if resp, ok := t.registry.nextScripted(t.deviceID); ok {
		if resp.Err != nil {
			return nil, resp.Err
		}
		if resp.Reply != nil {
			return resp.Reply, nil
		}
	}
	return &wire.Success{Message: "ok"}, nil
}

func (t *mockTransport) Close() error {
	if atomic.CompareAndSwapInt32(&t.closed, 0, 1) {
		t.registry.mu.Lock()
		t.registry.closes[t.deviceID]++
		t.registry.mu.Unlock()
	}
	return nil
}
