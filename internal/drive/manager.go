package drive

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sethvargo/go-retry"
	"golang.org/x/sync/singleflight"

	"github.com/tonimelisma/landrive/internal/config"
	"github.com/tonimelisma/landrive/internal/events"
	"github.com/tonimelisma/landrive/internal/protocol"
)

// ReconnectPolicy controls the backoff loop entered after an unexpected
// drop: base-2 exponential from BaseDelay, capped at MaxDelay, at most
// MaxAttempts tries before the drive parks in Error.
type ReconnectPolicy struct {
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	MaxAttempts int
}

// managedDrive is the manager's internal record for one drive. All fields
// are guarded by the manager mutex; the adapter itself is handed out only
// while Connected.
type managedDrive struct {
	id      string
	cfg     config.Drive
	state   State
	lastErr error
	// attempts counts consecutive reconnect tries since the last
	// successful connection.
	attempts        int
	adapter         protocol.Adapter
	reconnectCancel context.CancelFunc
}

// Manager owns the drive registry. It is the single writer of drive state;
// everything else sees Status snapshots or drive events. Connect attempts
// are coalesced per drive id, so the registry never carries two in-flight
// attempts for the same drive.
type Manager struct {
	mu     sync.Mutex
	drives map[string]*managedDrive

	group          singleflight.Group
	policy         ReconnectPolicy
	connectTimeout time.Duration
	hub            *events.Hub
	logger         *slog.Logger

	// newAdapter is the adapter factory, injectable for tests.
	newAdapter func(proto string) (protocol.Adapter, error)
}

// NewManager creates an empty drive manager.
func NewManager(policy ReconnectPolicy, connectTimeout time.Duration, hub *events.Hub, logger *slog.Logger) *Manager {
	return &Manager{
		drives:         make(map[string]*managedDrive),
		policy:         policy,
		connectTimeout: connectTimeout,
		hub:            hub,
		logger:         logger,
		newAdapter:     protocol.New,
	}
}

// AddDrive registers a drive configuration under id. The drive starts
// Disconnected; nothing is dialed until Connect.
func (m *Manager) AddDrive(id string, cfg config.Drive) error {
	if err := config.ValidateDrive(id, cfg); err != nil {
		return fmt.Errorf("drive: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.drives[id]; exists {
		return fmt.Errorf("drive: id %q already exists", id)
	}

	m.drives[id] = &managedDrive{
		id:    id,
		cfg:   cfg,
		state: StateDisconnected,
	}

	m.logger.Info("drive added",
		slog.String("drive", id),
		slog.String("protocol", cfg.Protocol),
		slog.String("server", cfg.Server),
	)

	return nil
}

// RemoveDrive disconnects and forgets a drive.
func (m *Manager) RemoveDrive(id string) error {
	if err := m.Disconnect(id); err != nil {
		return err
	}

	m.mu.Lock()
	delete(m.drives, id)
	m.mu.Unlock()

	m.logger.Info("drive removed", slog.String("drive", id))

	return nil
}

// ListDrives returns status snapshots for all drives, ordered by id at the
// caller's discretion (map order here).
func (m *Manager) ListDrives() []Status {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Status, 0, len(m.drives))
	for _, d := range m.drives {
		out = append(out, m.statusLocked(d))
	}

	return out
}

// Status returns the snapshot for one drive.
func (m *Manager) Status(id string) (Status, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	d, ok := m.drives[id]
	if !ok {
		return Status{}, ErrUnknownDrive
	}

	return m.statusLocked(d), nil
}

// Connect establishes the drive's session. Concurrent callers for the same
// id share one underlying attempt and receive its result.
func (m *Manager) Connect(ctx context.Context, id string) error {
	_, err, _ := m.group.Do(id, func() (any, error) {
		return nil, m.connectOnce(ctx, id)
	})

	return err
}

// connectOnce performs a single connection attempt: Disconnected|Error ->
// Connecting -> Connected|Error.
func (m *Manager) connectOnce(ctx context.Context, id string) error {
	m.mu.Lock()

	d, ok := m.drives[id]
	if !ok {
		m.mu.Unlock()

		return ErrUnknownDrive
	}

	// Disconnect cancels the reconnect schedule under this same lock, so a
	// cancelled attempt can never slip past it and redial.
	if err := ctx.Err(); err != nil {
		m.mu.Unlock()

		return protocol.Classify(err)
	}

	switch d.state {
	case StateConnected:
		m.mu.Unlock()

		return nil
	case StateConnecting:
		// Unreachable through the singleflight group; guards direct
		// internal callers.
		m.mu.Unlock()

		return fmt.Errorf("drive: %s already connecting", id)
	case StateDisconnected, StateError:
	}

	m.transitionLocked(d, StateConnecting)
	cfg := d.cfg
	m.mu.Unlock()

	adapter, err := m.dial(ctx, cfg)

	m.mu.Lock()
	defer m.mu.Unlock()

	// The drive may have been removed or disconnected mid-attempt.
	d, ok = m.drives[id]
	if !ok {
		if err == nil {
			adapter.Disconnect()
		}

		return ErrUnknownDrive
	}

	if d.state != StateConnecting {
		if err == nil {
			adapter.Disconnect()
		}

		return nil
	}

	if err != nil {
		d.lastErr = err
		m.transitionLocked(d, StateError)

		m.logger.Warn("drive connect failed",
			slog.String("drive", id),
			slog.String("error", err.Error()),
		)

		return err
	}

	d.adapter = adapter
	d.lastErr = nil
	d.attempts = 0

	m.transitionLocked(d, StateConnected)

	m.logger.Info("drive connected", slog.String("drive", id))

	return nil
}

// dial creates and connects an adapter for cfg under the connect timeout.
func (m *Manager) dial(ctx context.Context, cfg config.Drive) (protocol.Adapter, error) {
	adapter, err := m.newAdapter(cfg.Protocol)
	if err != nil {
		return nil, err
	}

	dialCtx, cancel := context.WithTimeout(ctx, m.connectTimeout)
	defer cancel()

	err = adapter.Connect(dialCtx, protocol.Config{
		Protocol:       cfg.Protocol,
		Server:         cfg.Server,
		Path:           cfg.Path,
		Username:       cfg.Username,
		Password:       cfg.Password,
		ConnectTimeout: m.connectTimeout,
	})
	if err != nil {
		return nil, err
	}

	return adapter, nil
}

// Disconnect cancels any pending reconnect schedule and tears down the
// adapter session.
func (m *Manager) Disconnect(id string) error {
	m.mu.Lock()

	d, ok := m.drives[id]
	if !ok {
		m.mu.Unlock()

		return ErrUnknownDrive
	}

	if d.reconnectCancel != nil {
		d.reconnectCancel()
		d.reconnectCancel = nil
	}

	adapter := d.adapter
	d.adapter = nil

	if d.state != StateDisconnected {
		m.transitionLocked(d, StateDisconnected)
	}

	m.mu.Unlock()

	if adapter != nil {
		if err := adapter.Disconnect(); err != nil {
			m.logger.Warn("adapter disconnect error",
				slog.String("drive", id),
				slog.String("error", err.Error()),
			)
		}
	}

	m.logger.Info("drive disconnected", slog.String("drive", id))

	return nil
}

// AdapterFor returns the live session for a connected drive. The transfer
// engine and sync orchestrator reach remote bytes only through this.
func (m *Manager) AdapterFor(id string) (protocol.Adapter, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	d, ok := m.drives[id]
	if !ok {
		return nil, ErrUnknownDrive
	}

	if d.state != StateConnected || d.adapter == nil {
		return nil, ErrNotConnected
	}

	return d.adapter, nil
}

// ReportDrop tells the manager a connected drive's session failed
// unexpectedly. Transient network errors schedule the backoff reconnect
// loop; auth/config errors park the drive in Error immediately.
func (m *Manager) ReportDrop(ctx context.Context, id string, cause error) {
	m.mu.Lock()

	d, ok := m.drives[id]
	if !ok || d.state != StateConnected {
		m.mu.Unlock()

		return
	}

	adapter := d.adapter
	d.adapter = nil
	d.lastErr = cause
	m.transitionLocked(d, StateDisconnected)

	if !retriable(cause) {
		m.transitionLocked(d, StateError)
		m.mu.Unlock()

		if adapter != nil {
			adapter.Disconnect()
		}

		m.logger.Warn("drive dropped with non-retriable error",
			slog.String("drive", id),
			slog.String("error", cause.Error()),
		)

		return
	}

	reconnectCtx, cancel := context.WithCancel(ctx)
	d.reconnectCancel = cancel
	m.mu.Unlock()

	if adapter != nil {
		adapter.Disconnect()
	}

	m.logger.Warn("drive dropped, scheduling reconnect",
		slog.String("drive", id),
		slog.String("error", cause.Error()),
	)

	go m.reconnectLoop(reconnectCtx, id)
}

// reconnectLoop retries the connection with exponential backoff until it
// succeeds, the attempt budget is exhausted, or the schedule is cancelled.
// Exhaustion parks the drive in Error with the last failure attached;
// resuming from there requires an explicit Connect.
func (m *Manager) reconnectLoop(ctx context.Context, id string) {
	backoff := retry.WithCappedDuration(m.policy.MaxDelay, retry.NewExponential(m.policy.BaseDelay))
	backoff = retry.WithMaxRetries(uint64(m.policy.MaxAttempts), backoff)

	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		m.bumpAttempts(id)

		attemptErr := m.connectOnce(ctx, id)
		if attemptErr == nil {
			return nil
		}

		if !retriable(attemptErr) {
			return attemptErr
		}

		return retry.RetryableError(attemptErr)
	})

	if err == nil || ctx.Err() != nil {
		return
	}

	// Budget exhausted (or non-retriable): connectOnce already left the
	// drive in Error with lastErr set.
	m.logger.Error("drive reconnect attempts exhausted",
		slog.String("drive", id),
		slog.String("error", err.Error()),
	)
}

// bumpAttempts increments the reconnect counter for status display.
func (m *Manager) bumpAttempts(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if d, ok := m.drives[id]; ok {
		d.attempts++
	}
}

// transitionLocked applies a state change, publishes the drive event, and
// logs illegal transitions instead of panicking. Caller holds m.mu.
func (m *Manager) transitionLocked(d *managedDrive, to State) {
	if !canTransition(d.state, to) {
		m.logger.Error("illegal drive state transition",
			slog.String("drive", d.id),
			slog.String("from", string(d.state)),
			slog.String("to", string(to)),
		)

		return
	}

	d.state = to
	m.hub.Publish(events.TopicDrive, string(to), m.statusLocked(d))
}

// statusLocked builds a Status snapshot. Caller holds m.mu.
func (m *Manager) statusLocked(d *managedDrive) Status {
	s := Status{
		ID:                d.id,
		Name:              d.cfg.Name,
		Protocol:          d.cfg.Protocol,
		Server:            d.cfg.Server,
		Path:              d.cfg.Path,
		State:             d.state,
		ReconnectAttempts: d.attempts,
	}

	if d.lastErr != nil {
		s.LastError = d.lastErr.Error()
		s.ErrorKind = errorKind(d.lastErr)
	}

	return s
}
