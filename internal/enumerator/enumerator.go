// Package enumerator implements C3: the periodic, timer-driven scan of
// attached USB/HID devices that produces stable device_id keys and
// Connected/Disconnected/Reconnected events for the Queue Manager. OS
// hotplug notifications are not consumed; changes are seen on the next tick.
package enumerator

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"keepkeyd/internal/transport"
)

// Descriptor is the DeviceDescriptor of spec section 3: an immutable record
// describing a physically present device.
type Descriptor struct {
	DeviceID      string
	VendorID      uint16
	ProductID     uint16
	Manufacturer  string
	Product       string
	Serial        string
	Path          string
	TransportKind transport.Kind
}

// EventKind enumerates the three lifecycle transitions the Enumerator
// emits.
type EventKind int

const (
	Connected EventKind = iota
	Disconnected
	Reconnected
)

func (k EventKind) String() string {
	switch k {
	case Connected:
		return "connected"
	case Disconnected:
		return "disconnected"
	case Reconnected:
		return "reconnected"
	default:
		return "unknown"
	}
}

// Event is one diff result from a scan.
type Event struct {
	Kind         EventKind
	Descriptor   Descriptor
	WasTemporary bool // set on Reconnected per spec section 4.3
}

// Scanner is the pluggable OS-scan backend. The default implementation
// (scan.go) combines hid.Enumerate and gousb.Context.OpenDevices; tests
// substitute a scripted Scanner.
type Scanner interface {
	Scan() ([]RawDevice, error)
}

// eventBacklog bounds the internal event channel generously enough that a
// slow consumer never causes the Enumerator to drop an event; per spec
// section 4.3 backpressure is handled by dropping stale *scan results*,
// never events.
const eventBacklog = 4096

// Enumerator runs the single background scan task of spec section 4.3.
type Enumerator struct {
	scanner      Scanner
	interval     time.Duration
	graceWindow  time.Duration
	log          zerolog.Logger

	mu       sync.Mutex
	present  map[string]Descriptor
	grace    map[string]time.Time // device_id -> time of Disconnected
	events   chan Event
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New constructs an Enumerator. interval and graceWindow come from
// internal/config's enum_scan_interval_ms and disconnect_grace_ms.
func New(scanner Scanner, interval, graceWindow time.Duration, log zerolog.Logger) *Enumerator {
	return &Enumerator{
		scanner:     scanner,
		interval:    interval,
		graceWindow: graceWindow,
		log:         log,
		present:     map[string]Descriptor{},
		grace:       map[string]time.Time{},
		events:      make(chan Event, eventBacklog),
		stopCh:      make(chan struct{}),
	}
}

// Events returns the lazy, infinite stream of diffs. Restartable only by
// stopping and re-creating the Enumerator, per spec section 4.3's contract.
func (e *Enumerator) Events() <-chan Event {
	return e.events
}

// Start launches the background scan loop.
func (e *Enumerator) Start() {
	e.wg.Add(1)
	go e.loop()
}

// Stop halts the scan loop. Idempotent.
func (e *Enumerator) Stop() {
	e.stopOnce.Do(func() { close(e.stopCh) })
	e.wg.Wait()
}

func (e *Enumerator) loop() {
	defer e.wg.Done()
	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	e.scanOnce()
	for {
		select {
		case <-e.stopCh:
			return
		case <-ticker.C:
			e.scanOnce()
		}
	}
}

func (e *Enumerator) scanOnce() {
	raw, err := e.scanner.Scan()
	if err != nil {
		// A failed scan is a stale scan result, per spec section 4.3's
		// backpressure rule: drop it, keep the previous present set, and
		// try again next tick.
		e.log.Warn().Err(err).Msg("enumerator scan failed")
		return
	}

	current := map[string]Descriptor{}
	for _, d := range raw {
		id := DeriveDeviceID(d)
		current[id] = Descriptor{
			DeviceID:      id,
			VendorID:      d.VendorID,
			ProductID:     d.ProductID,
			Manufacturer:  d.Manufacturer,
			Product:       d.Product,
			Serial:        d.Serial,
			Path:          d.Path,
			TransportKind: d.TransportKind,
		}
	}

	e.mu.Lock()
	var toEmit []Event
	now := time.Now()

	for id, desc := range current {
		if _, already := e.present[id]; already {
			continue
		}
		if disconnectedAt, wasGraced := e.grace[id]; wasGraced && now.Sub(disconnectedAt) <= e.graceWindow {
			delete(e.grace, id)
			toEmit = append(toEmit, Event{Kind: Reconnected, Descriptor: desc, WasTemporary: true})
		} else {
			delete(e.grace, id)
			toEmit = append(toEmit, Event{Kind: Connected, Descriptor: desc})
		}
		e.present[id] = desc
	}

	for id, desc := range e.present {
		if _, stillHere := current[id]; stillHere {
			continue
		}
		delete(e.present, id)
		e.grace[id] = now
		toEmit = append(toEmit, Event{Kind: Disconnected, Descriptor: desc})
	}

	for id, disconnectedAt := range e.grace {
		if now.Sub(disconnectedAt) > e.graceWindow {
			delete(e.grace, id)
		}
	}
	e.mu.Unlock()

	for _, ev := range toEmit {
		e.events <- ev
	}
}

// Snapshot returns the currently present devices, for Queue Manager's
// list_devices.
func (e *Enumerator) Snapshot() []Descriptor {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Descriptor, 0, len(e.present))
	for _, d := range e.present {
		out = append(out, d)
	}
	return out
}
