package worker

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"keepkeyd/internal/diag"
	"keepkeyd/internal/eventbus"
	"keepkeyd/internal/flow"
	"keepkeyd/internal/transport"
)

// RetrySchedule is transport_retry_schedule_ms' default, per spec section 6.
var RetrySchedule = []time.Duration{100 * time.Millisecond, 250 * time.Millisecond, 500 * time.Millisecond}

// IdleTransportTimeout is the default of spec section 4.4.
const IdleTransportTimeout = 120 * time.Second

// DefaultInboxCapacity is worker_inbox_capacity's default, per spec
// section 6.
const DefaultInboxCapacity = 32

// Config carries the tunables a Worker needs, sourced from internal/config.
type Config struct {
	InboxCapacity        int
	IdleTransportTimeout time.Duration
	RetrySchedule        []time.Duration
	OpTimeout            time.Duration
}

func (c Config) withDefaults() Config {
	if c.InboxCapacity <= 0 {
		c.InboxCapacity = DefaultInboxCapacity
	}
	if c.IdleTransportTimeout <= 0 {
		c.IdleTransportTimeout = IdleTransportTimeout
	}
	if len(c.RetrySchedule) == 0 {
		c.RetrySchedule = RetrySchedule
	}
	if c.OpTimeout <= 0 {
		c.OpTimeout = 5 * time.Second
	}
	return c
}

// Worker is the per-device actor of spec section 4.4: a single cooperative
// task with a bounded inbox, owning at most one Transport at a time,
// retained across requests until an idle timeout closes it or a rebind
// replaces it. Every dispatchable op runs to completion on the loop
// goroutine before the next is pulled off the inbox, which is what gives
// the Transport its single-in-flight-call guarantee and the inbox its
// FIFO ordering. Flow-continuation ops are the one exception: they are
// delivered straight into the active Flow's channel by the submitting
// goroutine, so a suspended Flow can be resumed without the loop itself
// needing to service anything concurrently.
type Worker struct {
	deviceID   string
	descriptor transport.Descriptor
	opener     transport.Opener
	bus        *eventbus.Bus
	cfg        Config
	log        zerolog.Logger

	inbox chan *Request

	mu                 sync.Mutex
	transport          transport.Transport
	lastActivity       time.Time
	consecutiveTimeout int
	activeFlowName     string
	recoveryInProgress bool
	continuations      chan flow.Continuation

	stopCh   chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

// New constructs a Worker. It does not open a Transport; that happens
// lazily on the first dispatched request, per spec section 4.4.
func New(deviceID string, descriptor transport.Descriptor, opener transport.Opener, bus *eventbus.Bus, cfg Config, log zerolog.Logger) *Worker {
	cfg = cfg.withDefaults()
	return &Worker{
		deviceID:   deviceID,
		descriptor: descriptor,
		opener:     opener,
		bus:        bus,
		cfg:        cfg,
		log:        log.With().Str("device_id", deviceID).Logger(),
		inbox:      make(chan *Request, cfg.InboxCapacity),
		stopCh:     make(chan struct{}),
		done:       make(chan struct{}),
	}
}

// Start launches the Worker's loop goroutine.
func (w *Worker) Start() {
	go w.loop()
}

// Submit routes a Request to the Worker. Flow-continuation ops (submit_pin,
// submit_passphrase, submit_cipher_word, cancel_flow) are delivered
// directly to the currently suspended Flow without touching the main
// inbox, so they reach it even while the loop goroutine is blocked running
// that Flow. Any other op arriving while a Flow is active is rejected
// immediately with ErrBusyInFlow rather than queued, per spec section
// 3/4.4: an unrelated request must not perturb the running Flow or wait
// behind it. Otherwise the op is queued on the bounded inbox; Submit
// returns false without blocking if the inbox is full (mapped to
// Queue{InboxFull} by the caller) or the Worker has stopped.
func (w *Worker) Submit(req *Request) bool {
	select {
	case <-w.stopCh:
		return false
	default:
	}

	if kind, ok := continuationOps()[req.Op]; ok {
		w.deliverContinuation(req, kind)
		return true
	}

	w.mu.Lock()
	activeFlow := w.activeFlowName
	w.mu.Unlock()
	if activeFlow != "" {
		req.complete(Result{Err: &ErrBusyInFlow{ActiveFlow: activeFlow}})
		return true
	}

	select {
	case w.inbox <- req:
		return true
	default:
		return false
	}
}

func (w *Worker) deliverContinuation(req *Request, kind flow.ContinuationKind) {
	if isCancelled(req.Cancel) {
		req.complete(Result{Err: &ErrCancelled{}})
		return
	}

	w.mu.Lock()
	ch := w.continuations
	w.mu.Unlock()
	if ch == nil {
		req.complete(Result{Err: &StateError{Code: InvalidForOp, Message: "no active flow awaiting continuation"}})
		return
	}

	w.mu.Lock()
	activeFlow := w.activeFlowName
	w.mu.Unlock()

	cont := flow.Continuation{Kind: kind, Positions: continuationPositions(req), Text: continuationText(req)}
	select {
	case ch <- cont:
		req.complete(Result{Value: "accepted"})
	default:
		// The active Flow isn't at a suspend point yet (or already
		// consumed a prior continuation this round); the caller is
		// expected to wait for the corresponding prompt event and retry.
		req.complete(Result{Err: &ErrBusyInFlow{ActiveFlow: activeFlow}})
	}
}

// Shutdown stops the Worker after draining its inbox, per spec section 4.4.
// It blocks until the loop goroutine has exited.
func (w *Worker) Shutdown() {
	w.stopOnce.Do(func() { close(w.stopCh) })
	<-w.done
}

// IsStopped reports whether the Worker has begun (or finished) shutting
// down. internal/queue uses this to tell a stopped Worker apart from a
// merely full inbox when Submit returns false.
func (w *Worker) IsStopped() bool {
	select {
	case <-w.stopCh:
		return true
	default:
		return false
	}
}

func (w *Worker) loop() {
	defer close(w.done)
	defer w.closeTransport()

	idle := time.NewTimer(w.cfg.IdleTransportTimeout)
	defer idle.Stop()

	for {
		select {
		case <-w.stopCh:
			w.drainAndFail()
			w.emit(eventbus.Disconnected, nil)
			return

		case <-idle.C:
			w.mu.Lock()
			sinceUse := time.Since(w.lastActivity)
			hasTransport := w.transport != nil
			w.mu.Unlock()
			if hasTransport && sinceUse >= w.cfg.IdleTransportTimeout {
				w.closeTransport()
			}
			idle.Reset(w.cfg.IdleTransportTimeout)

		case req := <-w.inbox:
			w.handle(req)
			idle.Reset(w.cfg.IdleTransportTimeout)
		}
	}
}

func (w *Worker) drainAndFail() {
	for {
		select {
		case req := <-w.inbox:
			req.complete(Result{Err: &ErrDisconnected{}})
		default:
			return
		}
	}
}

// handle runs one dispatchable request to completion on the loop
// goroutine. Because the loop only pulls the next inbox entry once handle
// returns, requests are served strictly FIFO and the Transport never sees
// two in-flight calls.
func (w *Worker) handle(req *Request) {
	if isCancelled(req.Cancel) {
		req.complete(Result{Err: &ErrCancelled{}})
		return
	}

	if err := w.ensureTransport(); err != nil {
		req.complete(Result{Err: err})
		if te, ok := err.(*transport.Error); ok && te.RebindRequired {
			w.stopSelfAfterFailedRebind()
		}
		return
	}

	result := w.runWithRetry(req)
	req.complete(result)
}

func (w *Worker) stopSelfAfterFailedRebind() {
	go func() {
		w.stopOnce.Do(func() { close(w.stopCh) })
	}()
}

func continuationPositions(req *Request) string {
	if s, ok := req.Payload.(string); ok {
		return s
	}
	if m, ok := req.Payload.(map[string]string); ok {
		return m["positions"]
	}
	return ""
}

func continuationText(req *Request) string {
	if s, ok := req.Payload.(string); ok {
		return s
	}
	if m, ok := req.Payload.(map[string]string); ok {
		if t, ok := m["text"]; ok {
			return t
		}
		return m["letters"]
	}
	return ""
}

func isCancelled(cancel <-chan struct{}) bool {
	if cancel == nil {
		return false
	}
	select {
	case <-cancel:
		return true
	default:
		return false
	}
}

// ensureTransport implements the central invariant of spec section 4.4:
// the Transport is created lazily on first need and retained across
// commands for the Worker's entire lifetime.
func (w *Worker) ensureTransport() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.transport != nil {
		return nil
	}
	tr, err := w.open()
	if err != nil {
		return err
	}
	w.transport = tr
	w.lastActivity = time.Now()
	return nil
}

func (w *Worker) closeTransport() {
	w.mu.Lock()
	tr := w.transport
	w.transport = nil
	w.mu.Unlock()
	if tr != nil {
		_ = tr.Close()
	}
}

// rebind discards the current Transport and opens a fresh one, per spec
// section 4.4's rebind trigger conditions.
func (w *Worker) rebind() error {
	w.mu.Lock()
	old := w.transport
	w.mu.Unlock()
	if old != nil {
		_ = old.Close()
	}
	w.mu.Lock()
	w.transport = nil
	w.mu.Unlock()
	return w.ensureTransport()
}

// runWithRetry dispatches req to its Flow, applying the transient-error
// retry/backoff schedule and the one-retry-then-fail rebind policy of
// spec section 4.4.
func (w *Worker) runWithRetry(req *Request) Result {
	var lastErr error
	for attempt := 0; attempt <= len(w.cfg.RetrySchedule); attempt++ {
		result := w.runOnce(req)
		if result.Err == nil {
			w.mu.Lock()
			w.consecutiveTimeout = 0
			w.mu.Unlock()
			return result
		}

		te, isTransportErr := result.Err.(*transport.Error)
		if !isTransportErr {
			// Protocol/State errors are returned to the caller without
			// retry, per spec section 7.
			return result
		}

		timeoutEscalated := false
		if te.Kind == transport.Timeout {
			w.mu.Lock()
			w.consecutiveTimeout++
			escalate := w.consecutiveTimeout >= 2
			w.mu.Unlock()
			if escalate {
				timeoutEscalated = true
				te = &transport.Error{Kind: transport.Timeout, RebindRequired: true, Cause: te.Cause}
			}
		}

		if te.RebindRequired {
			if err := w.rebind(); err != nil {
				// A lingering Transport timeout beyond the grace window, or
				// any other rebind-required error the core could not hide,
				// per spec section 7's AccessError/InvalidState split.
				if timeoutEscalated {
					w.emit(eventbus.InvalidState, diag.Capture())
				} else {
					w.emit(eventbus.AccessError, diag.Capture())
				}
				w.stopSelfAfterFailedRebind()
				return Result{Err: &ErrDisconnected{}}
			}
			// One re-open attempt; if the retried op also fails, stop.
			retryResult := w.runOnce(req)
			if retryResult.Err == nil {
				return retryResult
			}
			w.stopSelfAfterFailedRebind()
			return Result{Err: &ErrDisconnected{}}
		}

		lastErr = result.Err
		if attempt < len(w.cfg.RetrySchedule) {
			time.Sleep(w.cfg.RetrySchedule[attempt])
			continue
		}
		// The transient-error retry schedule is exhausted and the Worker
		// still could not complete the request: a transport error the core
		// could not hide from the caller.
		w.emit(eventbus.AccessError, diag.Capture())
		return Result{Err: lastErr}
	}
	return Result{Err: lastErr}
}

func (w *Worker) runOnce(req *Request) Result {
	f, err := w.flowFor(req)
	if err != nil {
		return Result{Err: err}
	}

	continuations := make(chan flow.Continuation, 1)
	w.mu.Lock()
	w.activeFlowName = f.Name()
	w.continuations = continuations
	w.mu.Unlock()

	outcome := f.Run(driverAdapter{w: w}, continuations)

	w.mu.Lock()
	w.activeFlowName = ""
	w.continuations = nil
	w.lastActivity = time.Now()
	w.mu.Unlock()

	if outcome.Err != nil {
		// Protocol errors are returned to the caller directly, per spec
		// section 7's propagation policy; they are not AccessError (that
		// event is reserved for transport errors the core could not hide).
		return Result{Err: outcome.Err}
	}
	return Result{Value: outcome.Result}
}

func (w *Worker) emit(kind eventbus.Kind, payload any) {
	if w.bus == nil {
		return
	}
	ev := eventbus.Event{Kind: kind, DeviceID: w.deviceID, Payload: payload}
	w.bus.Publish(ev)
}

// Snapshot returns a point-in-time view of worker state for diagnostics.
type Snapshot struct {
	DeviceID           string
	HasTransport       bool
	ActiveFlow         string
	RecoveryInProgress bool
}

func (w *Worker) Snapshot() Snapshot {
	w.mu.Lock()
	defer w.mu.Unlock()
	return Snapshot{
		DeviceID:           w.deviceID,
		HasTransport:       w.transport != nil,
		ActiveFlow:         w.activeFlowName,
		RecoveryInProgress: w.recoveryInProgress,
	}
}
