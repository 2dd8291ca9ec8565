package transfer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"

	"github.com/tonimelisma/landrive/internal/events"
	"github.com/tonimelisma/landrive/internal/protocol"
)

// errPauseRequested is the internal signal a worker returns when it parks
// a job at a chunk boundary.
var errPauseRequested = errors.New("transfer: pause requested")

// partialSuffix marks in-progress download destinations, renamed into
// place only after the transfer (and checksum) completes.
const partialSuffix = ".partial"

// subBuffer is the per-subscriber progress channel depth.
const subBuffer = 64

// AdapterProvider hands out live protocol sessions. Implemented by the
// drive manager; tests inject fakes.
type AdapterProvider interface {
	AdapterFor(driveID string) (protocol.Adapter, error)
}

// DropReporter is implemented by adapter providers that track session
// health. The engine reports network failures on a drive's session so the
// provider can tear it down and schedule reconnection.
type DropReporter interface {
	ReportDrop(ctx context.Context, driveID string, cause error)
}

// Config holds engine tunables, resolved from the [transfers] config section.
type Config struct {
	Workers          int
	ChunkSize        int64
	ChunkTimeout     time.Duration
	HistoryRetention time.Duration
	// NetworkRetries is how many times a transfer attempt is retried on a
	// transient network failure before the job fails. Zero disables the
	// retry loop.
	NetworkRetries int
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration
}

// jobHandle is the in-memory control block for one job. The embedded Job
// copy is guarded by the engine mutex; the flags are checked lock-free at
// chunk boundaries.
type jobHandle struct {
	job       Job
	cancelRun context.CancelFunc
	pause     atomic.Bool
	cancelReq atomic.Bool
	subs      map[int]chan Progress
	nextSub   int
}

// Engine is the bounded worker pool executing queued transfer jobs. It is
// the single writer of job state; consumers see snapshots and events.
type Engine struct {
	cfg      Config
	store    *Store
	adapters AdapterProvider
	limiter  *BandwidthLimiter
	hub      *events.Hub
	logger   *slog.Logger

	queue *queue

	mu   sync.Mutex
	jobs map[string]*jobHandle

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewEngine creates an engine. limiter may be nil for unlimited bandwidth.
func NewEngine(
	cfg Config, store *Store, adapters AdapterProvider,
	limiter *BandwidthLimiter, hub *events.Hub, logger *slog.Logger,
) *Engine {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}

	if cfg.ChunkSize < 1 {
		cfg.ChunkSize = 1 << 20
	}

	if cfg.NetworkRetries > 0 && cfg.RetryBaseDelay <= 0 {
		cfg.RetryBaseDelay = time.Second
	}

	if cfg.NetworkRetries > 0 && cfg.RetryMaxDelay <= 0 {
		cfg.RetryMaxDelay = 15 * time.Second
	}

	return &Engine{
		cfg:      cfg,
		store:    store,
		adapters: adapters,
		limiter:  limiter,
		hub:      hub,
		logger:   logger,
		queue:    newQueue(),
		jobs:     make(map[string]*jobHandle),
	}
}

// Start recovers persisted jobs, purges expired history, and spawns the
// worker pool. Jobs that were active at the last shutdown are requeued.
func (e *Engine) Start(ctx context.Context) error {
	ctx, e.cancel = context.WithCancel(ctx)

	if e.cfg.HistoryRetention > 0 {
		if n, err := e.store.PurgeTerminalBefore(ctx, time.Now().Add(-e.cfg.HistoryRetention)); err != nil {
			e.logger.Warn("history purge failed", slog.String("error", err.Error()))
		} else if n > 0 {
			e.logger.Info("purged job history", slog.Int64("jobs", n))
		}
	}

	if err := e.recover(ctx); err != nil {
		return err
	}

	for range e.cfg.Workers {
		e.wg.Add(1)

		go e.worker(ctx)
	}

	e.logger.Info("transfer engine started", slog.Int("workers", e.cfg.Workers))

	return nil
}

// recover loads non-terminal jobs from the store into memory. Jobs caught
// mid-flight by a crash restart as queued, keeping their persisted offset.
func (e *Engine) recover(ctx context.Context) error {
	all, err := e.store.ListJobs(ctx)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	for _, j := range all {
		if j.State.Terminal() {
			continue
		}

		if j.State == StateActive {
			j.State = StateQueued
			j.UpdatedAt = time.Now()

			if saveErr := e.store.SaveJob(ctx, j); saveErr != nil {
				e.logger.Warn("failed to requeue recovered job",
					slog.String("job", j.ID),
					slog.String("error", saveErr.Error()),
				)
			}
		}

		h := &jobHandle{job: *j, subs: make(map[int]chan Progress)}
		e.jobs[j.ID] = h

		if j.State == StateQueued {
			e.queue.push(j.ID, j.Priority)
		}
	}

	return nil
}

// Stop cancels in-flight work and waits for workers to drain.
func (e *Engine) Stop() {
	if e.cancel != nil {
		e.cancel()
	}

	e.wg.Wait()
	e.logger.Info("transfer engine stopped")
}

// Enqueue validates and persists a new job, then queues it for dispatch.
func (e *Engine) Enqueue(ctx context.Context, req Request) (Job, error) {
	if req.Direction != DirectionUpload && req.Direction != DirectionDownload {
		return Job{}, fmt.Errorf("transfer: invalid direction %q", req.Direction)
	}

	if req.DriveID == "" || req.SourcePath == "" || req.DestPath == "" {
		return Job{}, fmt.Errorf("transfer: drive id, source path, and dest path are required")
	}

	now := time.Now()
	job := Job{
		ID:         uuid.NewString(),
		DriveID:    req.DriveID,
		Direction:  req.Direction,
		SourcePath: req.SourcePath,
		DestPath:   req.DestPath,
		State:      StateQueued,
		Priority:   req.Priority,
		TotalBytes: TotalUnknown,
		Checksum:   req.Checksum,
		Resumable:  req.Resumable,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	if err := e.store.SaveJob(ctx, &job); err != nil {
		return Job{}, err
	}

	h := &jobHandle{job: job, subs: make(map[int]chan Progress)}

	e.mu.Lock()
	e.jobs[job.ID] = h
	e.mu.Unlock()

	e.queue.push(job.ID, job.Priority)
	e.hub.Publish(events.TopicTransfer, string(StateQueued), job)

	e.logger.Info("job enqueued",
		slog.String("job", job.ID),
		slog.String("drive", job.DriveID),
		slog.String("direction", string(job.Direction)),
	)

	return job, nil
}

// Pause requests that an active job park at its next chunk boundary.
func (e *Engine) Pause(id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	h, ok := e.jobs[id]
	if !ok {
		return ErrJobNotFound
	}

	if h.job.State != StateActive {
		return fmt.Errorf("transfer: job %s is %s, only active jobs pause", id, h.job.State)
	}

	h.pause.Store(true)

	return nil
}

// Resume re-dispatches a paused job. Ranged-capable jobs continue from the
// persisted offset; others restart from zero (visible via the job's
// Ranged flag).
func (e *Engine) Resume(ctx context.Context, id string) error {
	e.mu.Lock()

	h, ok := e.jobs[id]
	if !ok {
		e.mu.Unlock()

		return ErrJobNotFound
	}

	if h.job.State != StatePaused {
		e.mu.Unlock()

		return fmt.Errorf("transfer: job %s is %s, only paused jobs resume", id, h.job.State)
	}

	h.pause.Store(false)

	if !h.job.Ranged && h.job.BytesTransferred > 0 {
		h.job.BytesTransferred = 0
		h.job.UpdatedAt = time.Now()

		if err := e.store.SaveJob(ctx, &h.job); err != nil {
			e.mu.Unlock()

			return err
		}
	}

	priority := h.job.Priority
	e.mu.Unlock()

	e.queue.push(id, priority)

	return nil
}

// Cancel terminates a job cooperatively. Queued and paused jobs transition
// immediately; active jobs stop at the next chunk boundary. Partial
// destination data is discarded unless the job is resumable.
func (e *Engine) Cancel(id string) error {
	e.mu.Lock()

	h, ok := e.jobs[id]
	if !ok {
		e.mu.Unlock()

		return ErrJobNotFound
	}

	switch h.job.State {
	case StateQueued:
		e.queue.remove(id)
		e.setStateLocked(h, StateCancelled, nil)
		job := h.job
		e.mu.Unlock()

		e.discardPartial(&job)

		return nil
	case StatePaused:
		e.setStateLocked(h, StateCancelled, nil)
		job := h.job
		e.mu.Unlock()

		e.discardPartial(&job)

		return nil
	case StateActive:
		h.cancelReq.Store(true)

		if h.cancelRun != nil {
			h.cancelRun()
		}

		e.mu.Unlock()

		return nil
	case StateCompleted, StateFailed, StateCancelled:
		e.mu.Unlock()

		return fmt.Errorf("transfer: job %s already %s", id, h.job.State)
	}

	e.mu.Unlock()

	return nil
}

// Subscribe returns a progress stream for one job. The stream closes when
// the job reaches a terminal state or the cancel function is called.
func (e *Engine) Subscribe(id string) (<-chan Progress, func(), error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	h, ok := e.jobs[id]
	if !ok {
		return nil, nil, ErrJobNotFound
	}

	ch := make(chan Progress, subBuffer)
	subID := h.nextSub
	h.nextSub++
	h.subs[subID] = ch

	// A terminal job still delivers its final snapshot so late
	// subscribers don't hang.
	if h.job.State.Terminal() {
		ch <- progressOf(&h.job)
		close(ch)
		delete(h.subs, subID)

		return ch, func() {}, nil
	}

	var once sync.Once

	cancel := func() {
		once.Do(func() {
			e.mu.Lock()
			defer e.mu.Unlock()

			if _, live := h.subs[subID]; live {
				delete(h.subs, subID)
				close(ch)
			}
		})
	}

	return ch, cancel, nil
}

// Job returns a snapshot of one job, preferring in-memory state.
func (e *Engine) Job(ctx context.Context, id string) (Job, error) {
	e.mu.Lock()

	if h, ok := e.jobs[id]; ok {
		job := h.job
		e.mu.Unlock()

		return job, nil
	}

	e.mu.Unlock()

	j, err := e.store.GetJob(ctx, id)
	if err != nil {
		return Job{}, err
	}

	return *j, nil
}

// Jobs returns snapshots of all known jobs, including retained history.
func (e *Engine) Jobs(ctx context.Context) ([]Job, error) {
	stored, err := e.store.ListJobs(ctx)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]Job, 0, len(stored))

	for _, j := range stored {
		if h, ok := e.jobs[j.ID]; ok {
			out = append(out, h.job)
		} else {
			out = append(out, *j)
		}
	}

	return out, nil
}

// worker is the main loop for one pool goroutine.
func (e *Engine) worker(ctx context.Context) {
	defer e.wg.Done()

	for {
		id, ok := e.queue.pop()
		if !ok {
			select {
			case <-ctx.Done():
				return
			case <-e.queue.wakeCh():
				continue
			}
		}

		e.runJob(ctx, id)
	}
}

// runJob executes one dispatched job through to a parked or terminal state.
func (e *Engine) runJob(ctx context.Context, id string) {
	e.mu.Lock()

	h, ok := e.jobs[id]
	if !ok {
		e.mu.Unlock()

		return
	}

	// Cancelled-while-queued jobs can still surface from the queue.
	if h.job.State != StateQueued && h.job.State != StatePaused {
		e.mu.Unlock()

		return
	}

	runCtx, cancelRun := context.WithCancel(ctx)
	h.cancelRun = cancelRun
	e.setStateLocked(h, StateActive, nil)
	e.mu.Unlock()

	defer cancelRun()

	err := e.execute(runCtx, h)

	e.mu.Lock()
	defer e.mu.Unlock()

	h.cancelRun = nil

	switch {
	case err == nil:
		e.setStateLocked(h, StateCompleted, nil)
	case errors.Is(err, errPauseRequested):
		h.pause.Store(false)
		e.setStateLocked(h, StatePaused, nil)
	case h.cancelReq.Load():
		e.setStateLocked(h, StateCancelled, nil)
		job := h.job
		e.discardPartialLocked(&job)
	case errors.Is(err, protocol.ErrCancelled):
		// Engine shutdown interrupted the run. The job stays active with
		// its persisted offset so the next Start requeues it.
		e.logger.Info("job interrupted by shutdown",
			slog.String("job", h.job.ID),
			slog.Int64("bytes", h.job.BytesTransferred),
		)
	default:
		e.setStateLocked(h, StateFailed, err)

		if errors.Is(err, protocol.ErrNetwork) {
			e.reportDrop(h.job.DriveID, err)
		}
	}
}

// reportDrop tells a health-tracking adapter provider that a drive's
// session failed mid-transfer so it can tear it down and reconnect.
func (e *Engine) reportDrop(driveID string, cause error) {
	dr, ok := e.adapters.(DropReporter)
	if !ok {
		return
	}

	go dr.ReportDrop(context.Background(), driveID, cause)
}

// execute runs the transfer with the single automatic checksum retry: a
// digest mismatch discards the destination and re-runs once from scratch
// before surfacing ErrChecksum.
func (e *Engine) execute(ctx context.Context, h *jobHandle) error {
	err := e.attempt(ctx, h, false)
	if !errors.Is(err, protocol.ErrChecksum) {
		return err
	}

	e.mu.Lock()
	h.job.Retries++
	h.job.BytesTransferred = 0
	job := h.job
	e.mu.Unlock()

	if saveErr := e.store.SaveJob(ctx, &job); saveErr != nil {
		e.logger.Warn("failed to persist checksum retry",
			slog.String("job", job.ID),
			slog.String("error", saveErr.Error()),
		)
	}

	e.logger.Warn("checksum mismatch, retrying transfer from scratch",
		slog.String("job", job.ID),
	)

	return e.attempt(ctx, h, true)
}

// attempt runs one transfer pass, retrying transient network failures with
// exponential backoff up to NetworkRetries times. Ranged jobs pick each
// retry up at the persisted offset.
func (e *Engine) attempt(ctx context.Context, h *jobHandle, fromScratch bool) error {
	if e.cfg.NetworkRetries < 1 {
		return e.transferOnce(ctx, h, fromScratch)
	}

	backoff := retry.WithCappedDuration(e.cfg.RetryMaxDelay, retry.NewExponential(e.cfg.RetryBaseDelay))
	backoff = retry.WithMaxRetries(uint64(e.cfg.NetworkRetries), backoff)

	var attempts int

	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		if attempts > 0 {
			e.mu.Lock()
			h.job.Retries++
			job := h.job
			e.mu.Unlock()

			if saveErr := e.store.SaveJob(ctx, &job); saveErr != nil {
				e.logger.Warn("failed to persist network retry",
					slog.String("job", job.ID),
					slog.String("error", saveErr.Error()),
				)
			}
		}

		attempts++

		attemptErr := e.transferOnce(ctx, h, fromScratch)
		if attemptErr == nil || !errors.Is(attemptErr, protocol.ErrNetwork) || ctx.Err() != nil {
			return attemptErr
		}

		e.logger.Warn("transient network failure, retrying transfer",
			slog.String("job", h.job.ID),
			slog.String("error", attemptErr.Error()),
		)

		return retry.RetryableError(attemptErr)
	})

	// A context cancelled during the backoff sleep surfaces as the raw
	// context error; classify it so shutdown handling sees ErrCancelled.
	if err != nil && ctx.Err() != nil {
		return protocol.Classify(ctx.Err())
	}

	return err
}

// transferOnce performs one full attempt in the job's direction.
func (e *Engine) transferOnce(ctx context.Context, h *jobHandle, fromScratch bool) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	e.mu.Lock()
	job := h.job
	e.mu.Unlock()

	adapter, err := e.adapters.AdapterFor(job.DriveID)
	if err != nil {
		return err
	}

	ranged := adapter.Capabilities().SupportsRangedTransfer

	offset := job.BytesTransferred
	if fromScratch || !ranged {
		offset = 0
	}

	e.mu.Lock()
	h.job.Ranged = ranged
	h.job.BytesTransferred = offset
	job = h.job
	e.mu.Unlock()

	if err := e.store.SaveJob(ctx, &job); err != nil {
		return err
	}

	if job.Direction == DirectionDownload {
		return e.download(ctx, cancel, h, adapter, offset)
	}

	return e.upload(ctx, cancel, h, adapter, offset)
}

// download streams remote source bytes into destPath+".partial", then
// verifies and renames into place.
func (e *Engine) download(ctx context.Context, cancel context.CancelFunc, h *jobHandle, adapter protocol.Adapter, offset int64) error {
	e.mu.Lock()
	job := h.job
	e.mu.Unlock()

	info, err := adapter.Stat(ctx, job.SourcePath)
	if err != nil {
		return err
	}

	e.setTotal(ctx, h, info.Size)

	partial := job.DestPath + partialSuffix

	if err := os.MkdirAll(filepath.Dir(job.DestPath), 0o700); err != nil {
		return fmt.Errorf("transfer: creating parent dir for %s: %w", job.DestPath, err)
	}

	// A persisted offset is only honored when the partial file actually
	// has the bytes; anything else restarts from zero.
	if offset > 0 {
		if st, statErr := os.Stat(partial); statErr != nil || st.Size() < offset {
			offset = 0
			e.setOffset(ctx, h, 0)
		}
	}

	flags := os.O_CREATE | os.O_WRONLY
	if offset == 0 {
		flags |= os.O_TRUNC
	}

	f, err := os.OpenFile(partial, flags, 0o600)
	if err != nil {
		return fmt.Errorf("transfer: opening partial file %s: %w", partial, err)
	}

	if offset > 0 {
		if _, err := f.Seek(offset, io.SeekStart); err != nil {
			f.Close()

			return fmt.Errorf("transfer: seeking partial file %s: %w", partial, err)
		}
	}

	src, err := adapter.Read(ctx, job.SourcePath, offset)
	if err != nil {
		f.Close()

		return err
	}

	copyErr := e.copyChunks(ctx, cancel, h, e.limiter.WrapReader(ctx, src), f, offset)
	src.Close()

	if closeErr := f.Close(); copyErr == nil && closeErr != nil {
		copyErr = fmt.Errorf("transfer: closing partial file %s: %w", partial, closeErr)
	}

	if copyErr != nil {
		return copyErr
	}

	if job.Checksum != "" {
		got, hashErr := fileChecksum(partial)
		if hashErr != nil {
			return hashErr
		}

		if got != job.Checksum {
			os.Remove(partial)

			return fmt.Errorf("transfer: %s digest %s != expected %s: %w",
				job.DestPath, got, job.Checksum, protocol.ErrChecksum)
		}
	}

	if err := os.Rename(partial, job.DestPath); err != nil {
		return fmt.Errorf("transfer: renaming partial to %s: %w", job.DestPath, err)
	}

	return nil
}

// upload streams local source bytes to the remote destination, verifying
// the source digest afterwards when the job carries one.
func (e *Engine) upload(ctx context.Context, cancel context.CancelFunc, h *jobHandle, adapter protocol.Adapter, offset int64) error {
	e.mu.Lock()
	job := h.job
	e.mu.Unlock()

	info, err := os.Stat(job.SourcePath)
	if err != nil {
		return fmt.Errorf("transfer: stat %s: %w", job.SourcePath, err)
	}

	e.setTotal(ctx, h, info.Size())

	f, err := os.Open(job.SourcePath)
	if err != nil {
		return fmt.Errorf("transfer: opening %s: %w", job.SourcePath, err)
	}

	defer f.Close()

	if offset > 0 {
		if _, err := f.Seek(offset, io.SeekStart); err != nil {
			return fmt.Errorf("transfer: seeking %s: %w", job.SourcePath, err)
		}
	}

	w, err := adapter.Write(ctx, job.DestPath, offset)
	if err != nil {
		return err
	}

	copyErr := e.copyChunks(ctx, cancel, h, e.limiter.WrapReader(ctx, f), w, offset)

	// Close flushes the remote write; its error is the transfer result
	// for push-style adapters.
	if closeErr := w.Close(); copyErr == nil {
		copyErr = closeErr
	}

	if copyErr != nil {
		return copyErr
	}

	if job.Checksum != "" {
		got, hashErr := fileChecksum(job.SourcePath)
		if hashErr != nil {
			return hashErr
		}

		if got != job.Checksum {
			return fmt.Errorf("transfer: %s digest %s != expected %s: %w",
				job.SourcePath, got, job.Checksum, protocol.ErrChecksum)
		}
	}

	return nil
}

// copyChunks moves bytes through a bounded chunk buffer, checking the
// cancel and pause flags between chunks and persisting the offset after
// each one. The synchronous write-before-next-read ordering is the
// backpressure: a slow destination throttles reads to its own pace. A
// chunk stalling past ChunkTimeout cancels the attempt context so blocked
// stream reads unwind.
func (e *Engine) copyChunks(ctx context.Context, cancel context.CancelFunc, h *jobHandle, src io.Reader, dst io.Writer, offset int64) error {
	buf := make([]byte, e.cfg.ChunkSize)

	var (
		timedOut atomic.Bool
		watchdog *time.Timer
	)

	if e.cfg.ChunkTimeout > 0 {
		watchdog = time.AfterFunc(e.cfg.ChunkTimeout, func() {
			timedOut.Store(true)
			cancel()
		})

		defer watchdog.Stop()
	}

	timeoutErr := func() error {
		return fmt.Errorf("transfer: chunk stalled past %s: %w", e.cfg.ChunkTimeout, protocol.ErrNetwork)
	}

	for {
		if h.cancelReq.Load() {
			return protocol.ErrCancelled
		}

		if h.pause.Load() {
			return errPauseRequested
		}

		if err := ctx.Err(); err != nil {
			if timedOut.Load() {
				return timeoutErr()
			}

			return protocol.Classify(err)
		}

		n, readErr := src.Read(buf)
		if n > 0 {
			if _, writeErr := dst.Write(buf[:n]); writeErr != nil {
				if timedOut.Load() {
					return timeoutErr()
				}

				return protocol.Classify(writeErr)
			}

			offset += int64(n)
			e.setOffset(ctx, h, offset)

			if watchdog != nil {
				watchdog.Reset(e.cfg.ChunkTimeout)
			}
		}

		if errors.Is(readErr, io.EOF) {
			return nil
		}

		if readErr != nil {
			if timedOut.Load() {
				return timeoutErr()
			}

			return protocol.Classify(readErr)
		}
	}
}

// setTotal records the job's total byte count once known.
func (e *Engine) setTotal(ctx context.Context, h *jobHandle, total int64) {
	e.mu.Lock()
	h.job.TotalBytes = total
	h.job.UpdatedAt = time.Now()
	job := h.job
	e.mu.Unlock()

	if err := e.store.SaveJob(ctx, &job); err != nil {
		e.logger.Warn("failed to persist job total",
			slog.String("job", job.ID),
			slog.String("error", err.Error()),
		)
	}

	e.notify(&job)
}

// setOffset persists the transferred-byte offset and notifies subscribers.
func (e *Engine) setOffset(ctx context.Context, h *jobHandle, offset int64) {
	e.mu.Lock()
	h.job.BytesTransferred = offset
	h.job.UpdatedAt = time.Now()
	job := h.job
	e.mu.Unlock()

	if err := e.store.UpdateProgress(ctx, job.ID, offset); err != nil {
		e.logger.Warn("failed to persist job offset",
			slog.String("job", job.ID),
			slog.String("error", err.Error()),
		)
	}

	e.notify(&job)
}

// setStateLocked applies a lifecycle transition, persists it, publishes the
// transfer event, and closes subscriber streams on terminal states.
// Caller holds e.mu.
func (e *Engine) setStateLocked(h *jobHandle, to JobState, cause error) {
	if !canTransition(h.job.State, to) {
		e.logger.Error("illegal job state transition",
			slog.String("job", h.job.ID),
			slog.String("from", string(h.job.State)),
			slog.String("to", string(to)),
		)

		return
	}

	h.job.State = to
	h.job.UpdatedAt = time.Now()

	if cause != nil {
		h.job.LastError = cause.Error()
		h.job.ErrorKind = kindOf(cause)
	}

	job := h.job

	if err := e.store.SaveJob(context.Background(), &job); err != nil {
		e.logger.Warn("failed to persist job state",
			slog.String("job", job.ID),
			slog.String("error", err.Error()),
		)
	}

	e.hub.Publish(events.TopicTransfer, string(to), job)

	p := progressOf(&job)

	for id, ch := range h.subs {
		select {
		case ch <- p:
		default:
		}

		if to.Terminal() {
			close(ch)
			delete(h.subs, id)
		}
	}

	if cause != nil {
		e.logger.Warn("job state change",
			slog.String("job", job.ID),
			slog.String("state", string(to)),
			slog.String("error", cause.Error()),
		)
	} else {
		e.logger.Debug("job state change",
			slog.String("job", job.ID),
			slog.String("state", string(to)),
		)
	}
}

// notify fans a non-state progress update out to subscribers.
func (e *Engine) notify(job *Job) {
	p := progressOf(job)

	e.mu.Lock()
	defer e.mu.Unlock()

	h, ok := e.jobs[job.ID]
	if !ok {
		return
	}

	for _, ch := range h.subs {
		select {
		case ch <- p:
		default:
		}
	}
}

// discardPartial removes partially-written destination data for a
// non-resumable cancelled job.
func (e *Engine) discardPartial(job *Job) {
	if job.Resumable {
		return
	}

	if job.Direction == DirectionDownload {
		os.Remove(job.DestPath + partialSuffix)

		return
	}

	// Uploads: best-effort remote cleanup through the drive's session.
	adapter, err := e.adapters.AdapterFor(job.DriveID)
	if err != nil {
		return
	}

	if delErr := adapter.Delete(context.Background(), job.DestPath); delErr != nil {
		e.logger.Debug("could not remove cancelled upload remnant",
			slog.String("job", job.ID),
			slog.String("error", delErr.Error()),
		)
	}
}

// discardPartialLocked is discardPartial for callers already holding e.mu.
// Local file removal only; remote cleanup would block the lock.
func (e *Engine) discardPartialLocked(job *Job) {
	if job.Resumable {
		return
	}

	if job.Direction == DirectionDownload {
		os.Remove(job.DestPath + partialSuffix)
	}
}

// progressOf builds a progress snapshot from a job.
func progressOf(job *Job) Progress {
	return Progress{
		JobID: job.ID,
		State: job.State,
		Bytes: job.BytesTransferred,
		Total: job.TotalBytes,
		Err:   job.LastError,
	}
}

// kindOf maps a classified error to its taxonomy name for job records.
func kindOf(err error) string {
	switch {
	case errors.Is(err, protocol.ErrChecksum):
		return "ChecksumError"
	case errors.Is(err, protocol.ErrCancelled):
		return "CancellationError"
	case errors.Is(err, protocol.ErrAuth):
		return "AuthError"
	case errors.Is(err, protocol.ErrConfig):
		return "ConfigError"
	case errors.Is(err, protocol.ErrNotFound):
		return "NotFoundError"
	case errors.Is(err, protocol.ErrNetwork):
		return "NetworkError"
	default:
		return "ProtocolError"
	}
}
