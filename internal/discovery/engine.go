package discovery

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/tonimelisma/landrive/internal/events"
)

// ErrDiscovery marks recoverable probe failures. The registry snapshot is
// never cleared when a pass fails; the previous view stays queryable.
var ErrDiscovery = errors.New("discovery: probe failure")

// State is the scan state machine: Idle -> Scanning -> Idle.
type State string

const (
	StateIdle     State = "idle"
	StateScanning State = "scanning"
)

// Config holds engine tunables, resolved from the [discovery] config section.
type Config struct {
	// ScanDuration bounds one scan pass; the pass auto-terminates when it
	// elapses even if the prober is still working.
	ScanDuration time.Duration
	// SilenceWindow is how long a device may go undetected before it is
	// reported lost.
	SilenceWindow time.Duration
}

// Prober performs the actual network probing. Implementations report each
// raw detection through emit as soon as it is observed; the engine handles
// dedup, events, and lifecycle. Probe returns when the sweep completes or
// ctx is cancelled.
type Prober interface {
	Probe(ctx context.Context, filter Filter, emit func(Detection)) error
}

// Engine owns the device registry and the scan lifecycle. A scan pass runs
// as a single background goroutine; StartScan while one is in flight
// attaches to the existing pass instead of starting a second one.
type Engine struct {
	cfg      Config
	prober   Prober
	registry *Registry
	hub      *events.Hub
	logger   *slog.Logger

	mu         sync.Mutex
	state      State
	scanCancel context.CancelFunc
	scanDone   chan struct{}
	lastErr    error
}

// NewEngine creates an engine around the given prober.
func NewEngine(cfg Config, prober Prober, hub *events.Hub, logger *slog.Logger) *Engine {
	return &Engine{
		cfg:      cfg,
		prober:   prober,
		registry: NewRegistry(),
		hub:      hub,
		logger:   logger,
		state:    StateIdle,
	}
}

// StartScan begins a scan pass and returns immediately. If a pass is
// already in progress this is a no-op that attaches to it; the returned
// done channel is the in-flight pass's channel either way.
func (e *Engine) StartScan(ctx context.Context, filter Filter) <-chan struct{} {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state == StateScanning {
		e.logger.Debug("scan already in progress, attaching")

		return e.scanDone
	}

	scanCtx, cancel := context.WithTimeout(ctx, e.cfg.ScanDuration)
	done := make(chan struct{})

	e.state = StateScanning
	e.scanCancel = cancel
	e.scanDone = done

	e.logger.Info("scan started",
		slog.String("filter", string(filter.Type)),
		slog.Duration("duration", e.cfg.ScanDuration),
	)

	go e.runScan(scanCtx, cancel, done, filter)

	return done
}

// runScan executes one pass: probe, merge, then mark silent devices lost.
func (e *Engine) runScan(ctx context.Context, cancel context.CancelFunc, done chan struct{}, filter Filter) {
	defer cancel()

	err := e.prober.Probe(ctx, filter, func(det Detection) {
		if !filter.Matches(det.Type) {
			return
		}

		ev := e.registry.Merge(det)
		e.hub.Publish(events.TopicDevice, string(ev.Kind), ev)
	})

	// Deadline expiry is the normal way a pass ends; only real probe
	// failures are recoverable errors.
	if err != nil && !errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, context.Canceled) {
		wrapped := errors.Join(ErrDiscovery, err)

		e.logger.Warn("scan pass failed, keeping previous registry snapshot",
			slog.String("error", err.Error()),
		)

		e.setLastErr(wrapped)
	} else {
		e.setLastErr(nil)
	}

	for _, ev := range e.registry.MarkSilent(e.cfg.SilenceWindow) {
		e.hub.Publish(events.TopicDevice, string(ev.Kind), ev)
	}

	e.mu.Lock()
	e.state = StateIdle
	e.scanCancel = nil
	e.scanDone = nil
	e.mu.Unlock()

	close(done)

	e.logger.Info("scan finished", slog.Int("devices", e.registry.Len()))
}

// StopScan requests early termination of the in-flight pass. Partial
// results already merged into the registry are kept.
func (e *Engine) StopScan() {
	e.mu.Lock()
	cancel := e.scanCancel
	e.mu.Unlock()

	if cancel != nil {
		cancel()
	}
}

// State returns the current scan state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.state
}

// Devices returns the current deduplicated snapshot, most-recently-seen
// first.
func (e *Engine) Devices() []Device {
	return e.registry.Snapshot()
}

// Device returns a single device by identity.
func (e *Engine) Device(id string) (Device, bool) {
	return e.registry.Get(id)
}

// Purge drops devices currently marked lost.
func (e *Engine) Purge() int {
	return e.registry.Purge()
}

// LastError returns the most recent recoverable scan failure, or nil.
func (e *Engine) LastError() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.lastErr
}

func (e *Engine) setLastErr(err error) {
	e.mu.Lock()
	e.lastErr = err
	e.mu.Unlock()
}

// Subscribe returns a restartable stream of device events. Cancel and call
// again to restart consumption at the current point in the stream.
func (e *Engine) Subscribe() (<-chan events.Event, func()) {
	return e.hub.Subscribe(events.TopicDevice)
}
