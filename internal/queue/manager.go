// Package queue implements C6: the single device_id -> Worker registry and
// the one entry point through which external callers reach a device.
package queue

import (
	"sync"

	"github.com/rs/zerolog"

	"keepkeyd/internal/enumerator"
	"keepkeyd/internal/eventbus"
	"keepkeyd/internal/transport"
	"keepkeyd/internal/worker"
)

// entry is one device's registration: its last-known descriptor (kept even
// before a Worker is created, so a submit racing the Enumerator's first
// scan still has somewhere to look) and, once created, its Worker.
type entry struct {
	descriptor enumerator.Descriptor
	worker     *worker.Worker
}

// Manager is the Queue Manager of spec section 4.6: the sole creation site
// for Workers and the map from device_id to live handle. Grounded on the
// teacher's single-construction-site device setup in
// internal/driver/device/controller.go/server.go, generalized from one
// process-wide device to a registry keyed by device_id, per spec section
// 4.6 and section 9's explicit ban on ad-hoc Worker creation.
type Manager struct {
	enum   *enumerator.Enumerator
	bus    *eventbus.Bus
	opener transport.Opener
	cfg    worker.Config
	log    zerolog.Logger

	mu      sync.Mutex
	devices map[string]*entry

	stopCh   chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

// New constructs a Manager. It does not start consuming Enumerator events
// until Start is called.
func New(enum *enumerator.Enumerator, bus *eventbus.Bus, opener transport.Opener, cfg worker.Config, log zerolog.Logger) *Manager {
	return &Manager{
		enum:    enum,
		bus:     bus,
		opener:  opener,
		cfg:     cfg,
		log:     log,
		devices: map[string]*entry{},
		stopCh:  make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// Start launches the background task that consumes Enumerator events:
// tracking descriptors, forwarding Connected/Reconnected to the Event Bus,
// and shutting down a device's Worker on Disconnected (spec section 4.6).
func (m *Manager) Start() {
	go m.run()
}

// Stop shuts down every live Worker and halts event consumption. It does
// not stop the Enumerator, which outlives the Manager's own lifecycle in
// cmd/keepkeyd's shutdown ordering.
func (m *Manager) Stop() {
	m.stopOnce.Do(func() { close(m.stopCh) })
	<-m.done
}

func (m *Manager) run() {
	defer close(m.done)
	events := m.enum.Events()
	for {
		select {
		case <-m.stopCh:
			m.shutdownAll()
			return
		case ev := <-events:
			m.handleEnumeratorEvent(ev)
		}
	}
}

func (m *Manager) handleEnumeratorEvent(ev enumerator.Event) {
	switch ev.Kind {
	case enumerator.Connected:
		m.mu.Lock()
		if e, ok := m.devices[ev.Descriptor.DeviceID]; ok {
			e.descriptor = ev.Descriptor
		} else {
			m.devices[ev.Descriptor.DeviceID] = &entry{descriptor: ev.Descriptor}
		}
		m.mu.Unlock()
		m.publish(eventbus.Connected, ev.Descriptor.DeviceID, ev.Descriptor)

	case enumerator.Reconnected:
		// The Enumerator reports Disconnected as soon as the device vanishes,
		// and that case below has already removed the entry and shut its
		// Worker down. A Reconnected within the grace window therefore
		// re-registers the device with its fresh descriptor (it may have
		// re-enumerated at a new OS path); the next Submit creates a new
		// Worker. The Worker is not kept alive across the grace window.
		m.mu.Lock()
		if e, ok := m.devices[ev.Descriptor.DeviceID]; ok {
			e.descriptor = ev.Descriptor
		} else {
			m.devices[ev.Descriptor.DeviceID] = &entry{descriptor: ev.Descriptor}
		}
		m.mu.Unlock()
		m.publish(eventbus.Reconnected, ev.Descriptor.DeviceID, ev.WasTemporary)

	case enumerator.Disconnected:
		m.mu.Lock()
		e, ok := m.devices[ev.Descriptor.DeviceID]
		if ok {
			delete(m.devices, ev.Descriptor.DeviceID)
		}
		m.mu.Unlock()

		if ok && e.worker != nil {
			// The Worker's own loop emits eventbus.Disconnected as it exits,
			// so the Manager does not publish a duplicate here.
			go e.worker.Shutdown()
		} else {
			m.publish(eventbus.Disconnected, ev.Descriptor.DeviceID, nil)
		}
	}
}

func (m *Manager) publish(kind eventbus.Kind, deviceID string, payload any) {
	if m.bus == nil {
		return
	}
	m.bus.Publish(eventbus.Event{Kind: kind, DeviceID: deviceID, Payload: payload})
}

func (m *Manager) shutdownAll() {
	m.mu.Lock()
	workers := make([]*worker.Worker, 0, len(m.devices))
	for id, e := range m.devices {
		if e.worker != nil {
			workers = append(workers, e.worker)
		}
		delete(m.devices, id)
	}
	m.mu.Unlock()

	var wg sync.WaitGroup
	for _, w := range workers {
		wg.Add(1)
		go func(w *worker.Worker) {
			defer wg.Done()
			w.Shutdown()
		}(w)
	}
	wg.Wait()
}

// GetOrCreateWorker is the sole creation site for Workers (spec section
// 4.6): it returns the existing handle for device_id if one is alive, or
// spawns one from the Enumerator's most recently observed descriptor. The
// map lock is held only long enough to read or insert the entry, never
// across the Worker's own Start or any Transport call, per section 5's
// deadlock-freedom rule (Manager map lock -> Worker inbox send, never held
// across a Worker response).
func (m *Manager) GetOrCreateWorker(deviceID string) (*worker.Worker, error) {
	m.mu.Lock()
	e, ok := m.devices[deviceID]
	if !ok {
		m.mu.Unlock()
		return nil, &ErrNoSuchDevice{DeviceID: deviceID}
	}
	if e.worker != nil && !e.worker.IsStopped() {
		w := e.worker
		m.mu.Unlock()
		return w, nil
	}

	w := worker.New(deviceID, descriptorToTransport(e.descriptor), m.opener, m.bus, m.cfg, m.log)
	e.worker = w
	m.mu.Unlock()

	w.Start()
	return w, nil
}

func descriptorToTransport(d enumerator.Descriptor) transport.Descriptor {
	return transport.Descriptor{
		DeviceID:      d.DeviceID,
		VendorID:      d.VendorID,
		ProductID:     d.ProductID,
		Serial:        d.Serial,
		Path:          d.Path,
		TransportKind: d.TransportKind,
	}
}

// Submit obtains device_id's Worker and enqueues req, per spec section
// 4.6. It blocks only long enough to resolve the handle; the caller reads
// the eventual result from req.Wait.
func (m *Manager) Submit(req *worker.Request) error {
	w, err := m.GetOrCreateWorker(req.DeviceID)
	if err != nil {
		return err
	}
	if w.Submit(req) {
		return nil
	}
	if w.IsStopped() {
		return &ErrWorkerStopped{DeviceID: req.DeviceID}
	}
	return &ErrInboxFull{DeviceID: req.DeviceID}
}

// Shutdown stops device_id's Worker after draining, per spec section 4.6.
// It also removes the device's entry, so a subsequent Submit for the same
// device_id returns ErrNoSuchDevice until the Enumerator next reports the
// device Connected or Reconnected.
func (m *Manager) Shutdown(deviceID string) error {
	m.mu.Lock()
	e, ok := m.devices[deviceID]
	if !ok {
		m.mu.Unlock()
		return &ErrNoSuchDevice{DeviceID: deviceID}
	}
	w := e.worker
	delete(m.devices, deviceID)
	m.mu.Unlock()

	if w != nil {
		w.Shutdown()
	}
	return nil
}

// ListDevices returns a snapshot of every device the Enumerator currently
// reports present, per spec section 4.6.
func (m *Manager) ListDevices() []enumerator.Descriptor {
	return m.enum.Snapshot()
}

// Snapshot returns the live Worker state for deviceID, for diagnostics and
// the HTTP GET /api/v1/devices/:device_id endpoint. ok is false if no
// Worker has been created yet.
func (m *Manager) Snapshot(deviceID string) (worker.Snapshot, bool) {
	m.mu.Lock()
	e, ok := m.devices[deviceID]
	m.mu.Unlock()
	if !ok || e.worker == nil {
		return worker.Snapshot{}, false
	}
	return e.worker.Snapshot(), true
}
