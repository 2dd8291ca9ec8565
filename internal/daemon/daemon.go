// Package daemon runs the long-lived landrive process: it holds drive
// sessions open, rescans the network periodically, watches the sync outbox,
// and serves the local HTTP control API with the websocket event stream.
package daemon

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/tonimelisma/landrive/internal/discovery"
	"github.com/tonimelisma/landrive/internal/drive"
	"github.com/tonimelisma/landrive/internal/events"
	"github.com/tonimelisma/landrive/internal/syncsvc"
	"github.com/tonimelisma/landrive/internal/transfer"
)

// outboxDebounce coalesces bursts of outbox file writes into one sync run.
const outboxDebounce = 2 * time.Second

// Options wires the daemon to its collaborators.
type Options struct {
	Hub          *events.Hub
	Discovery    *discovery.Engine
	Drives       *drive.Manager
	Engine       *transfer.Engine
	Orchestrator *syncsvc.Orchestrator
	Logger       *slog.Logger

	ListenAddr      string
	ScanInterval    time.Duration
	OutboxDir       string
	DriveIDs        []string
	ShutdownTimeout time.Duration
}

// Server is the daemon runtime.
type Server struct {
	opts   Options
	logger *slog.Logger
	userID string
}

// New creates a daemon server. The sync user id is the hostname, matching
// how the outbox store scopes records on a single machine.
func New(opts Options) *Server {
	userID, err := os.Hostname()
	if err != nil {
		userID = "local"
	}

	return &Server{opts: opts, logger: opts.Logger, userID: userID}
}

// Run starts all daemon loops and blocks until ctx is cancelled. Drive
// connects are best-effort at startup; drives that fail stay registered
// and can be connected later through the API or a config reload.
func (s *Server) Run(ctx context.Context) error {
	s.connectDrives(ctx)

	if s.opts.ScanInterval > 0 {
		go s.scanLoop(ctx)
	}

	if s.opts.OutboxDir != "" {
		go s.watchOutbox(ctx)
	}

	return s.serveHTTP(ctx)
}

// connectDrives dials every configured drive, logging failures instead of
// aborting startup. A NAS that is powered off should not keep the daemon
// from serving the rest.
func (s *Server) connectDrives(ctx context.Context) {
	for _, id := range s.opts.DriveIDs {
		if err := s.opts.Drives.Connect(ctx, id); err != nil {
			s.logger.Warn("startup drive connect failed",
				slog.String("drive", id),
				slog.String("error", err.Error()),
			)
		}
	}
}

// scanLoop runs one scan pass immediately, then rescans on the interval.
func (s *Server) scanLoop(ctx context.Context) {
	s.opts.Discovery.StartScan(ctx, discovery.Filter{})

	ticker := time.NewTicker(s.opts.ScanInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.opts.Discovery.StartScan(ctx, discovery.Filter{})
		}
	}
}

// watchOutbox triggers a sync run when outbox files change. Events are
// debounced so an editor writing several entity files produces one run.
func (s *Server) watchOutbox(ctx context.Context) {
	if err := os.MkdirAll(s.opts.OutboxDir, 0o700); err != nil {
		s.logger.Error("creating outbox dir",
			slog.String("dir", s.opts.OutboxDir),
			slog.String("error", err.Error()),
		)

		return
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		s.logger.Error("creating outbox watcher", slog.String("error", err.Error()))

		return
	}

	defer watcher.Close()

	if err := watcher.Add(s.opts.OutboxDir); err != nil {
		s.logger.Error("watching outbox dir",
			slog.String("dir", s.opts.OutboxDir),
			slog.String("error", err.Error()),
		)

		return
	}

	s.logger.Info("watching outbox", slog.String("dir", s.opts.OutboxDir))

	var debounce *time.Timer

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-watcher.Events:
			if !ok {
				return
			}

			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}

			if debounce != nil {
				debounce.Stop()
			}

			debounce = time.AfterFunc(outboxDebounce, func() {
				s.runSync(ctx)
			})
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}

			s.logger.Warn("outbox watcher error", slog.String("error", err.Error()))
		}
	}
}

// runSync loads pending collections from the outbox and syncs them all.
func (s *Server) runSync(ctx context.Context) {
	collections, err := syncsvc.LoadOutbox(s.opts.OutboxDir)
	if err != nil {
		s.logger.Error("loading outbox", slog.String("error", err.Error()))

		return
	}

	if len(collections) == 0 {
		return
	}

	results := s.opts.Orchestrator.SyncAll(ctx, s.userID, collections)

	for entityType, outcome := range results {
		if outcome.Err != nil {
			s.logger.Warn("sync failed for entity type",
				slog.String("entity_type", string(entityType)),
				slog.String("error", outcome.Err.Error()),
			)
		}
	}
}

// serveHTTP runs the control API until ctx is cancelled, then shuts down
// gracefully within the shutdown timeout.
func (s *Server) serveHTTP(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.opts.ListenAddr,
		Handler:           s.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)

	go func() {
		s.logger.Info("control API listening", slog.String("addr", s.opts.ListenAddr))

		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.opts.ShutdownTimeout)
	defer cancel()

	s.logger.Info("shutting down")

	return srv.Shutdown(shutdownCtx)
}

// StatusReport is the GET /status payload.
type StatusReport struct {
	ScanState discovery.State   `json:"scan_state"`
	Devices   int               `json:"devices"`
	Drives    []drive.Status    `json:"drives"`
	Jobs      []transfer.Job    `json:"jobs"`
	Sync      []syncsvc.SyncStatus `json:"sync"`
}
