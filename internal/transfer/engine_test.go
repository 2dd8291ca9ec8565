package transfer

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/landrive/internal/events"
	"github.com/tonimelisma/landrive/internal/protocol"
)

// memAdapter is an in-memory remote filesystem. openRead, when set,
// intercepts Read so tests can block or corrupt the stream.
type memAdapter struct {
	mu          sync.Mutex
	files       map[string][]byte
	ranged      bool
	readOffsets []int64
	openRead    func(ctx context.Context, data []byte, offset int64) (io.ReadCloser, error)
}

func newMemAdapter(ranged bool) *memAdapter {
	return &memAdapter{files: make(map[string][]byte), ranged: ranged}
}

func (a *memAdapter) put(path string, data []byte) {
	a.mu.Lock()
	a.files[path] = data
	a.mu.Unlock()
}

func (a *memAdapter) get(path string) []byte {
	a.mu.Lock()
	defer a.mu.Unlock()

	return a.files[path]
}

func (a *memAdapter) offsets() []int64 {
	a.mu.Lock()
	defer a.mu.Unlock()

	return append([]int64(nil), a.readOffsets...)
}

func (a *memAdapter) Connect(context.Context, protocol.Config) error { return nil }

func (a *memAdapter) Disconnect() error { return nil }

func (a *memAdapter) List(context.Context, string) ([]protocol.FileInfo, error) {
	return nil, nil
}

func (a *memAdapter) Read(ctx context.Context, path string, offset int64) (io.ReadCloser, error) {
	a.mu.Lock()
	data, ok := a.files[path]
	open := a.openRead
	a.readOffsets = append(a.readOffsets, offset)
	a.mu.Unlock()

	if !ok {
		return nil, fmt.Errorf("read %s: %w", path, protocol.ErrNotFound)
	}

	if offset > int64(len(data)) {
		offset = int64(len(data))
	}

	if open != nil {
		return open(ctx, data, offset)
	}

	return io.NopCloser(bytes.NewReader(data[offset:])), nil
}

func (a *memAdapter) Write(_ context.Context, path string, offset int64) (io.WriteCloser, error) {
	a.mu.Lock()
	existing := a.files[path]
	a.mu.Unlock()

	if offset > int64(len(existing)) {
		offset = int64(len(existing))
	}

	return &memWriter{a: a, path: path, buf: append([]byte(nil), existing[:offset]...)}, nil
}

func (a *memAdapter) Stat(_ context.Context, path string) (*protocol.FileInfo, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	data, ok := a.files[path]
	if !ok {
		return nil, fmt.Errorf("stat %s: %w", path, protocol.ErrNotFound)
	}

	return &protocol.FileInfo{Name: filepath.Base(path), Path: path, Size: int64(len(data))}, nil
}

func (a *memAdapter) Delete(_ context.Context, path string) error {
	a.mu.Lock()
	delete(a.files, path)
	a.mu.Unlock()

	return nil
}

func (a *memAdapter) Capabilities() protocol.Capabilities {
	return protocol.Capabilities{SupportsRangedTransfer: a.ranged}
}

type memWriter struct {
	a    *memAdapter
	path string
	buf  []byte
}

func (w *memWriter) Write(p []byte) (int, error) {
	w.buf = append(w.buf, p...)

	return len(p), nil
}

func (w *memWriter) Close() error {
	w.a.put(w.path, w.buf)

	return nil
}

// fixedProvider hands the same adapter to every drive id.
type fixedProvider struct {
	adapter protocol.Adapter
	err     error
}

func (p fixedProvider) AdapterFor(string) (protocol.Adapter, error) {
	return p.adapter, p.err
}

// stallReader serves its first chunk, then blocks until gate closes or the
// attempt context ends.
type stallReader struct {
	data    []byte
	pos     int
	gate    <-chan struct{}
	ctx     context.Context
	stalled bool
}

func (r *stallReader) Read(p []byte) (int, error) {
	if r.pos > 0 && !r.stalled {
		r.stalled = true

		select {
		case <-r.gate:
		case <-r.ctx.Done():
			return 0, r.ctx.Err()
		}
	}

	if r.pos >= len(r.data) {
		return 0, io.EOF
	}

	n := copy(p, r.data[r.pos:])
	r.pos += n

	return n, nil
}

func (r *stallReader) Close() error { return nil }

// droppingProvider records ReportDrop calls so tests can assert that the
// engine flags a failed session for reconnection.
type droppingProvider struct {
	adapter protocol.Adapter
	drops   chan string
}

func (p *droppingProvider) AdapterFor(string) (protocol.Adapter, error) {
	return p.adapter, nil
}

func (p *droppingProvider) ReportDrop(_ context.Context, id string, _ error) {
	p.drops <- id
}

// errAfterReader serves its data, then fails every subsequent read with err.
type errAfterReader struct {
	data []byte
	pos  int
	err  error
}

func (r *errAfterReader) Read(p []byte) (int, error) {
	if r.pos >= len(r.data) {
		return 0, r.err
	}

	n := copy(p, r.data[r.pos:])
	r.pos += n

	return n, nil
}

func (r *errAfterReader) Close() error { return nil }

func digestOf(b []byte) string {
	sum := sha256.Sum256(b)

	return hex.EncodeToString(sum[:])
}

func newTestEngine(t *testing.T, provider AdapterProvider, workers int) *Engine {
	t.Helper()

	logger := slog.New(slog.DiscardHandler)

	store, err := NewStore(":memory:", logger)
	require.NoError(t, err)

	t.Cleanup(func() { store.Close() })

	cfg := Config{Workers: workers, ChunkSize: 4, HistoryRetention: time.Hour}

	return NewEngine(cfg, store, provider, nil, events.NewHub(logger), logger)
}

func startEngine(t *testing.T, e *Engine) {
	t.Helper()

	require.NoError(t, e.Start(context.Background()))
	t.Cleanup(e.Stop)
}

// waitState polls until the job reaches want, returning the final snapshot.
func waitState(t *testing.T, e *Engine, id string, want JobState) Job {
	t.Helper()

	var job Job

	require.Eventually(t, func() bool {
		j, err := e.Job(context.Background(), id)
		if err != nil {
			return false
		}

		job = j

		return j.State == want
	}, 5*time.Second, 5*time.Millisecond, "job %s never reached %s", id, want)

	return job
}

func TestEngine_DownloadCompletes(t *testing.T) {
	t.Parallel()

	data := []byte("the quick brown fox jumps over")
	adapter := newMemAdapter(true)
	adapter.put("/share/a.bin", data)

	e := newTestEngine(t, fixedProvider{adapter: adapter}, 1)

	dest := filepath.Join(t.TempDir(), "a.bin")

	job, err := e.Enqueue(context.Background(), Request{
		DriveID:    "nas",
		Direction:  DirectionDownload,
		SourcePath: "/share/a.bin",
		DestPath:   dest,
		Checksum:   digestOf(data),
	})
	require.NoError(t, err)

	startEngine(t, e)

	final := waitState(t, e, job.ID, StateCompleted)
	assert.Equal(t, int64(len(data)), final.TotalBytes)
	assert.Equal(t, int64(len(data)), final.BytesTransferred)
	assert.True(t, final.Ranged)
	assert.Zero(t, final.Retries)

	got, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, data, got)

	assert.NoFileExists(t, dest+partialSuffix)
}

func TestEngine_UploadCompletes(t *testing.T) {
	t.Parallel()

	data := []byte("local payload bytes here")
	src := filepath.Join(t.TempDir(), "b.bin")
	require.NoError(t, os.WriteFile(src, data, 0o600))

	adapter := newMemAdapter(true)
	e := newTestEngine(t, fixedProvider{adapter: adapter}, 1)

	job, err := e.Enqueue(context.Background(), Request{
		DriveID:    "nas",
		Direction:  DirectionUpload,
		SourcePath: src,
		DestPath:   "/share/b.bin",
		Checksum:   digestOf(data),
	})
	require.NoError(t, err)

	startEngine(t, e)

	final := waitState(t, e, job.ID, StateCompleted)
	assert.Equal(t, int64(len(data)), final.TotalBytes)
	assert.Equal(t, data, adapter.get("/share/b.bin"))
}

func TestEngine_EnqueueValidates(t *testing.T) {
	t.Parallel()

	e := newTestEngine(t, fixedProvider{adapter: newMemAdapter(true)}, 1)

	_, err := e.Enqueue(context.Background(), Request{
		DriveID: "nas", Direction: "sideways", SourcePath: "/a", DestPath: "/b",
	})
	assert.Error(t, err)

	_, err = e.Enqueue(context.Background(), Request{
		Direction: DirectionDownload, SourcePath: "/a", DestPath: "/b",
	})
	assert.Error(t, err)
}

func TestEngine_ConcurrencyLimit(t *testing.T) {
	t.Parallel()

	data := []byte("payload!")
	gate := make(chan struct{})

	adapter := newMemAdapter(true)
	adapter.openRead = func(ctx context.Context, data []byte, offset int64) (io.ReadCloser, error) {
		select {
		case <-gate:
			return io.NopCloser(bytes.NewReader(data[offset:])), nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	dir := t.TempDir()
	ids := make([]string, 0, 3)

	e := newTestEngine(t, fixedProvider{adapter: adapter}, 2)

	for i := range 3 {
		path := fmt.Sprintf("/share/f%d", i)
		adapter.put(path, data)

		job, err := e.Enqueue(context.Background(), Request{
			DriveID:    "nas",
			Direction:  DirectionDownload,
			SourcePath: path,
			DestPath:   filepath.Join(dir, fmt.Sprintf("f%d", i)),
		})
		require.NoError(t, err)

		ids = append(ids, job.ID)
	}

	startEngine(t, e)

	// Two workers saturate; the third job stays queued behind them.
	require.Eventually(t, func() bool {
		jobs, err := e.Jobs(context.Background())
		if err != nil {
			return false
		}

		var active, queued int

		for _, j := range jobs {
			switch j.State {
			case StateActive:
				active++
			case StateQueued:
				queued++
			}
		}

		return active == 2 && queued == 1
	}, 5*time.Second, 5*time.Millisecond)

	close(gate)

	for _, id := range ids {
		waitState(t, e, id, StateCompleted)
	}
}

func TestEngine_CancelQueued(t *testing.T) {
	t.Parallel()

	e := newTestEngine(t, fixedProvider{adapter: newMemAdapter(true)}, 1)

	job, err := e.Enqueue(context.Background(), Request{
		DriveID:    "nas",
		Direction:  DirectionDownload,
		SourcePath: "/share/x",
		DestPath:   filepath.Join(t.TempDir(), "x"),
	})
	require.NoError(t, err)

	require.NoError(t, e.Cancel(job.ID))

	got, err := e.Job(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, StateCancelled, got.State)

	// Terminal jobs reject a second cancel.
	assert.Error(t, e.Cancel(job.ID))

	assert.ErrorIs(t, e.Cancel("missing"), ErrJobNotFound)
}

func TestEngine_CancelActiveRemovesPartial(t *testing.T) {
	t.Parallel()

	data := []byte("0123456789abcdef")
	gate := make(chan struct{})
	defer close(gate)

	adapter := newMemAdapter(true)
	adapter.put("/share/big", data)
	adapter.openRead = func(ctx context.Context, data []byte, offset int64) (io.ReadCloser, error) {
		return &stallReader{data: data[offset:], gate: gate, ctx: ctx}, nil
	}

	dest := filepath.Join(t.TempDir(), "big")
	e := newTestEngine(t, fixedProvider{adapter: adapter}, 1)

	job, err := e.Enqueue(context.Background(), Request{
		DriveID:    "nas",
		Direction:  DirectionDownload,
		SourcePath: "/share/big",
		DestPath:   dest,
	})
	require.NoError(t, err)

	startEngine(t, e)

	// First chunk lands, then the stream stalls mid-transfer.
	require.Eventually(t, func() bool {
		j, jobErr := e.Job(context.Background(), job.ID)

		return jobErr == nil && j.State == StateActive && j.BytesTransferred > 0
	}, 5*time.Second, 5*time.Millisecond)

	require.NoError(t, e.Cancel(job.ID))

	final := waitState(t, e, job.ID, StateCancelled)
	assert.Equal(t, "", final.ErrorKind)
	assert.NoFileExists(t, dest+partialSuffix)
	assert.NoFileExists(t, dest)
}

func TestEngine_ResumableCancelKeepsPartial(t *testing.T) {
	t.Parallel()

	data := []byte("0123456789abcdef")
	gate := make(chan struct{})
	defer close(gate)

	adapter := newMemAdapter(true)
	adapter.put("/share/keep", data)
	adapter.openRead = func(ctx context.Context, data []byte, offset int64) (io.ReadCloser, error) {
		return &stallReader{data: data[offset:], gate: gate, ctx: ctx}, nil
	}

	dest := filepath.Join(t.TempDir(), "keep")
	e := newTestEngine(t, fixedProvider{adapter: adapter}, 1)

	job, err := e.Enqueue(context.Background(), Request{
		DriveID:    "nas",
		Direction:  DirectionDownload,
		SourcePath: "/share/keep",
		DestPath:   dest,
		Resumable:  true,
	})
	require.NoError(t, err)

	startEngine(t, e)

	require.Eventually(t, func() bool {
		j, jobErr := e.Job(context.Background(), job.ID)

		return jobErr == nil && j.BytesTransferred > 0
	}, 5*time.Second, 5*time.Millisecond)

	require.NoError(t, e.Cancel(job.ID))
	waitState(t, e, job.ID, StateCancelled)

	assert.FileExists(t, dest+partialSuffix)
}

func TestEngine_PauseResumeRanged(t *testing.T) {
	t.Parallel()

	data := []byte("0123456789abcdef")
	gate := make(chan struct{})

	adapter := newMemAdapter(true)
	adapter.put("/share/r", data)

	var reads int

	adapter.openRead = func(ctx context.Context, data []byte, offset int64) (io.ReadCloser, error) {
		adapter.mu.Lock()
		reads++
		first := reads == 1
		adapter.mu.Unlock()

		if first {
			return &stallReader{data: data[offset:], gate: gate, ctx: ctx}, nil
		}

		return io.NopCloser(bytes.NewReader(data[offset:])), nil
	}

	dest := filepath.Join(t.TempDir(), "r")
	e := newTestEngine(t, fixedProvider{adapter: adapter}, 1)

	job, err := e.Enqueue(context.Background(), Request{
		DriveID:    "nas",
		Direction:  DirectionDownload,
		SourcePath: "/share/r",
		DestPath:   dest,
	})
	require.NoError(t, err)

	startEngine(t, e)

	// Wait for the first chunk so the pause lands mid-transfer.
	require.Eventually(t, func() bool {
		j, jobErr := e.Job(context.Background(), job.ID)

		return jobErr == nil && j.State == StateActive && j.BytesTransferred > 0
	}, 5*time.Second, 5*time.Millisecond)

	require.NoError(t, e.Pause(job.ID))
	close(gate)

	paused := waitState(t, e, job.ID, StatePaused)
	require.True(t, paused.Ranged)
	require.Positive(t, paused.BytesTransferred)
	require.Less(t, paused.BytesTransferred, int64(len(data)))

	require.NoError(t, e.Resume(context.Background(), job.ID))

	final := waitState(t, e, job.ID, StateCompleted)
	assert.Equal(t, int64(len(data)), final.BytesTransferred)

	got, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, data, got)

	// The second read continued from the paused offset.
	offsets := adapter.offsets()
	require.Len(t, offsets, 2)
	assert.Equal(t, int64(0), offsets[0])
	assert.Equal(t, paused.BytesTransferred, offsets[1])
}

func TestEngine_PauseResumeNonRangedRestartsFromZero(t *testing.T) {
	t.Parallel()

	data := []byte("0123456789abcdef")
	gate := make(chan struct{})

	adapter := newMemAdapter(false)
	adapter.put("/share/nr", data)

	var reads int

	adapter.openRead = func(ctx context.Context, data []byte, offset int64) (io.ReadCloser, error) {
		adapter.mu.Lock()
		reads++
		first := reads == 1
		adapter.mu.Unlock()

		if first {
			return &stallReader{data: data[offset:], gate: gate, ctx: ctx}, nil
		}

		return io.NopCloser(bytes.NewReader(data[offset:])), nil
	}

	dest := filepath.Join(t.TempDir(), "nr")
	e := newTestEngine(t, fixedProvider{adapter: adapter}, 1)

	job, err := e.Enqueue(context.Background(), Request{
		DriveID:    "nas",
		Direction:  DirectionDownload,
		SourcePath: "/share/nr",
		DestPath:   dest,
	})
	require.NoError(t, err)

	startEngine(t, e)

	require.Eventually(t, func() bool {
		j, jobErr := e.Job(context.Background(), job.ID)

		return jobErr == nil && j.State == StateActive && j.BytesTransferred > 0
	}, 5*time.Second, 5*time.Millisecond)

	require.NoError(t, e.Pause(job.ID))
	close(gate)

	paused := waitState(t, e, job.ID, StatePaused)
	require.False(t, paused.Ranged)

	require.NoError(t, e.Resume(context.Background(), job.ID))

	final := waitState(t, e, job.ID, StateCompleted)
	assert.Equal(t, int64(len(data)), final.BytesTransferred)

	got, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, data, got)

	// Without ranged support the resumed attempt starts over.
	offsets := adapter.offsets()
	require.Len(t, offsets, 2)
	assert.Equal(t, int64(0), offsets[1])
}

func TestEngine_PauseResumeValidation(t *testing.T) {
	t.Parallel()

	e := newTestEngine(t, fixedProvider{adapter: newMemAdapter(true)}, 1)

	job, err := e.Enqueue(context.Background(), Request{
		DriveID:    "nas",
		Direction:  DirectionDownload,
		SourcePath: "/share/x",
		DestPath:   filepath.Join(t.TempDir(), "x"),
	})
	require.NoError(t, err)

	// Queued jobs pause only once active; resume needs a paused job.
	assert.Error(t, e.Pause(job.ID))
	assert.Error(t, e.Resume(context.Background(), job.ID))

	assert.ErrorIs(t, e.Pause("missing"), ErrJobNotFound)
	assert.ErrorIs(t, e.Resume(context.Background(), "missing"), ErrJobNotFound)
}

func TestEngine_ChecksumMismatchRetriesOnce(t *testing.T) {
	t.Parallel()

	data := []byte("genuine content bytes")
	corrupted := append([]byte(nil), data...)
	corrupted[0] ^= 0xff

	adapter := newMemAdapter(true)
	adapter.put("/share/c", data)

	var reads int

	adapter.openRead = func(_ context.Context, data []byte, offset int64) (io.ReadCloser, error) {
		adapter.mu.Lock()
		reads++
		first := reads == 1
		adapter.mu.Unlock()

		if first {
			return io.NopCloser(bytes.NewReader(corrupted[offset:])), nil
		}

		return io.NopCloser(bytes.NewReader(data[offset:])), nil
	}

	dest := filepath.Join(t.TempDir(), "c")
	e := newTestEngine(t, fixedProvider{adapter: adapter}, 1)

	job, err := e.Enqueue(context.Background(), Request{
		DriveID:    "nas",
		Direction:  DirectionDownload,
		SourcePath: "/share/c",
		DestPath:   dest,
		Checksum:   digestOf(data),
	})
	require.NoError(t, err)

	startEngine(t, e)

	final := waitState(t, e, job.ID, StateCompleted)
	assert.Equal(t, 1, final.Retries)

	got, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

func TestEngine_ChecksumFailsAfterSingleRetry(t *testing.T) {
	t.Parallel()

	data := []byte("genuine content bytes")
	corrupted := append([]byte(nil), data...)
	corrupted[0] ^= 0xff

	adapter := newMemAdapter(true)
	adapter.put("/share/bad", corrupted)

	dest := filepath.Join(t.TempDir(), "bad")
	e := newTestEngine(t, fixedProvider{adapter: adapter}, 1)

	job, err := e.Enqueue(context.Background(), Request{
		DriveID:    "nas",
		Direction:  DirectionDownload,
		SourcePath: "/share/bad",
		DestPath:   dest,
		Checksum:   digestOf(data),
	})
	require.NoError(t, err)

	startEngine(t, e)

	final := waitState(t, e, job.ID, StateFailed)
	assert.Equal(t, 1, final.Retries)
	assert.Equal(t, "ChecksumError", final.ErrorKind)
	assert.NotEmpty(t, final.LastError)

	// Exactly two attempts, both discarded.
	assert.Len(t, adapter.offsets(), 2)
	assert.NoFileExists(t, dest)
	assert.NoFileExists(t, dest+partialSuffix)
}

func TestEngine_MissingSourceFails(t *testing.T) {
	t.Parallel()

	e := newTestEngine(t, fixedProvider{adapter: newMemAdapter(true)}, 1)

	job, err := e.Enqueue(context.Background(), Request{
		DriveID:    "nas",
		Direction:  DirectionDownload,
		SourcePath: "/share/ghost",
		DestPath:   filepath.Join(t.TempDir(), "ghost"),
	})
	require.NoError(t, err)

	startEngine(t, e)

	final := waitState(t, e, job.ID, StateFailed)
	assert.Equal(t, "NotFoundError", final.ErrorKind)
}

func TestEngine_DriveUnavailableFails(t *testing.T) {
	t.Parallel()

	provider := fixedProvider{err: fmt.Errorf("drive nas: %w", protocol.ErrNetwork)}
	e := newTestEngine(t, provider, 1)

	job, err := e.Enqueue(context.Background(), Request{
		DriveID:    "nas",
		Direction:  DirectionDownload,
		SourcePath: "/share/x",
		DestPath:   filepath.Join(t.TempDir(), "x"),
	})
	require.NoError(t, err)

	startEngine(t, e)

	final := waitState(t, e, job.ID, StateFailed)
	assert.Equal(t, "NetworkError", final.ErrorKind)
}

func TestEngine_RestartRequeuesActiveJobs(t *testing.T) {
	t.Parallel()

	data := []byte("survives restarts")
	adapter := newMemAdapter(true)
	adapter.put("/share/s", data)

	logger := slog.New(slog.DiscardHandler)
	dbPath := filepath.Join(t.TempDir(), "jobs.db")
	dest := filepath.Join(t.TempDir(), "s")

	// A job caught mid-flight by a crash: persisted as active.
	store1, err := NewStore(dbPath, logger)
	require.NoError(t, err)

	now := time.Now()
	require.NoError(t, store1.SaveJob(context.Background(), &Job{
		ID:               "crashed-1",
		DriveID:          "nas",
		Direction:        DirectionDownload,
		SourcePath:       "/share/s",
		DestPath:         dest,
		State:            StateActive,
		BytesTransferred: 4,
		TotalBytes:       int64(len(data)),
		CreatedAt:        now,
		UpdatedAt:        now,
	}))
	require.NoError(t, store1.Close())

	store2, err := NewStore(dbPath, logger)
	require.NoError(t, err)

	t.Cleanup(func() { store2.Close() })

	cfg := Config{Workers: 1, ChunkSize: 4, HistoryRetention: time.Hour}
	e := NewEngine(cfg, store2, fixedProvider{adapter: adapter}, nil, events.NewHub(logger), logger)

	startEngine(t, e)

	waitState(t, e, "crashed-1", StateCompleted)

	got, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

func TestEngine_SubscribeStreamsProgress(t *testing.T) {
	t.Parallel()

	data := []byte("progress stream payload bytes")
	adapter := newMemAdapter(true)
	adapter.put("/share/p", data)

	e := newTestEngine(t, fixedProvider{adapter: adapter}, 1)

	job, err := e.Enqueue(context.Background(), Request{
		DriveID:    "nas",
		Direction:  DirectionDownload,
		SourcePath: "/share/p",
		DestPath:   filepath.Join(t.TempDir(), "p"),
	})
	require.NoError(t, err)

	ch, cancel, err := e.Subscribe(job.ID)
	require.NoError(t, err)

	defer cancel()

	startEngine(t, e)

	var last Progress

	for p := range ch {
		last = p
	}

	assert.Equal(t, StateCompleted, last.State)
	assert.Equal(t, int64(len(data)), last.Bytes)

	// Late subscribers on a terminal job get the final snapshot and a
	// closed stream.
	late, lateCancel, err := e.Subscribe(job.ID)
	require.NoError(t, err)

	defer lateCancel()

	p, ok := <-late
	require.True(t, ok)
	assert.Equal(t, StateCompleted, p.State)

	_, ok = <-late
	assert.False(t, ok)

	_, _, err = e.Subscribe("missing")
	assert.ErrorIs(t, err, ErrJobNotFound)
}

func TestEngine_StopPreservesRunningJob(t *testing.T) {
	t.Parallel()

	data := []byte("0123456789abcdef")
	gate := make(chan struct{})
	defer close(gate)

	adapter := newMemAdapter(true)
	adapter.put("/share/inflight", data)

	var reads int

	adapter.openRead = func(ctx context.Context, data []byte, offset int64) (io.ReadCloser, error) {
		adapter.mu.Lock()
		reads++
		first := reads == 1
		adapter.mu.Unlock()

		if first {
			return &stallReader{data: data[offset:], gate: gate, ctx: ctx}, nil
		}

		return io.NopCloser(bytes.NewReader(data[offset:])), nil
	}

	logger := slog.New(slog.DiscardHandler)
	dbPath := filepath.Join(t.TempDir(), "jobs.db")
	dest := filepath.Join(t.TempDir(), "inflight")

	store1, err := NewStore(dbPath, logger)
	require.NoError(t, err)

	cfg := Config{Workers: 1, ChunkSize: 4, HistoryRetention: time.Hour}
	e1 := NewEngine(cfg, store1, fixedProvider{adapter: adapter}, nil, events.NewHub(logger), logger)

	job, err := e1.Enqueue(context.Background(), Request{
		DriveID:    "nas",
		Direction:  DirectionDownload,
		SourcePath: "/share/inflight",
		DestPath:   dest,
	})
	require.NoError(t, err)

	require.NoError(t, e1.Start(context.Background()))

	// First chunk lands, then the stream stalls mid-transfer.
	require.Eventually(t, func() bool {
		j, jobErr := e1.Job(context.Background(), job.ID)

		return jobErr == nil && j.State == StateActive && j.BytesTransferred > 0
	}, 5*time.Second, 5*time.Millisecond)

	e1.Stop()

	// A graceful stop must not terminally cancel the job: it stays active
	// in the store with its offset and partial file so a restart resumes it.
	persisted, err := store1.GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, StateActive, persisted.State)
	assert.Equal(t, int64(4), persisted.BytesTransferred)
	assert.FileExists(t, dest+partialSuffix)

	require.NoError(t, store1.Close())

	store2, err := NewStore(dbPath, logger)
	require.NoError(t, err)

	t.Cleanup(func() { store2.Close() })

	e2 := NewEngine(cfg, store2, fixedProvider{adapter: adapter}, nil, events.NewHub(logger), logger)

	startEngine(t, e2)

	waitState(t, e2, job.ID, StateCompleted)

	got, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, data, got)

	// The resumed attempt continued from the persisted offset.
	offsets := adapter.offsets()
	require.Len(t, offsets, 2)
	assert.Equal(t, int64(4), offsets[1])
}

func TestEngine_TransientNetworkErrorRetries(t *testing.T) {
	t.Parallel()

	data := []byte("0123456789abcdef")
	adapter := newMemAdapter(true)
	adapter.put("/share/flaky", data)

	var reads int

	adapter.openRead = func(_ context.Context, data []byte, offset int64) (io.ReadCloser, error) {
		adapter.mu.Lock()
		reads++
		first := reads == 1
		adapter.mu.Unlock()

		if first {
			return &errAfterReader{
				data: data[offset : offset+4],
				err:  fmt.Errorf("connection reset: %w", protocol.ErrNetwork),
			}, nil
		}

		return io.NopCloser(bytes.NewReader(data[offset:])), nil
	}

	logger := slog.New(slog.DiscardHandler)

	store, err := NewStore(":memory:", logger)
	require.NoError(t, err)

	t.Cleanup(func() { store.Close() })

	cfg := Config{
		Workers:        1,
		ChunkSize:      4,
		NetworkRetries: 2,
		RetryBaseDelay: time.Millisecond,
	}
	e := NewEngine(cfg, store, fixedProvider{adapter: adapter}, nil, events.NewHub(logger), logger)

	dest := filepath.Join(t.TempDir(), "flaky")

	job, err := e.Enqueue(context.Background(), Request{
		DriveID:    "nas",
		Direction:  DirectionDownload,
		SourcePath: "/share/flaky",
		DestPath:   dest,
	})
	require.NoError(t, err)

	startEngine(t, e)

	final := waitState(t, e, job.ID, StateCompleted)
	assert.Equal(t, 1, final.Retries)

	got, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, data, got)

	// The retried attempt resumed at the offset the failed one persisted.
	offsets := adapter.offsets()
	require.Len(t, offsets, 2)
	assert.Equal(t, int64(4), offsets[1])
}

func TestEngine_NetworkRetriesExhausted(t *testing.T) {
	t.Parallel()

	adapter := newMemAdapter(true)
	adapter.put("/share/down", []byte("unreachable"))
	adapter.openRead = func(context.Context, []byte, int64) (io.ReadCloser, error) {
		return nil, fmt.Errorf("connection refused: %w", protocol.ErrNetwork)
	}

	logger := slog.New(slog.DiscardHandler)

	store, err := NewStore(":memory:", logger)
	require.NoError(t, err)

	t.Cleanup(func() { store.Close() })

	cfg := Config{
		Workers:        1,
		ChunkSize:      4,
		NetworkRetries: 2,
		RetryBaseDelay: time.Millisecond,
	}
	e := NewEngine(cfg, store, fixedProvider{adapter: adapter}, nil, events.NewHub(logger), logger)

	job, err := e.Enqueue(context.Background(), Request{
		DriveID:    "nas",
		Direction:  DirectionDownload,
		SourcePath: "/share/down",
		DestPath:   filepath.Join(t.TempDir(), "down"),
	})
	require.NoError(t, err)

	startEngine(t, e)

	final := waitState(t, e, job.ID, StateFailed)
	assert.Equal(t, "NetworkError", final.ErrorKind)

	// Initial attempt plus two retries.
	assert.Len(t, adapter.offsets(), 3)
	assert.Equal(t, 2, final.Retries)
}

func TestEngine_NetworkFailureReportsDrop(t *testing.T) {
	t.Parallel()

	adapter := newMemAdapter(true)
	adapter.put("/share/drop", []byte("payload"))
	adapter.openRead = func(context.Context, []byte, int64) (io.ReadCloser, error) {
		return nil, fmt.Errorf("connection reset: %w", protocol.ErrNetwork)
	}

	provider := &droppingProvider{adapter: adapter, drops: make(chan string, 1)}
	e := newTestEngine(t, provider, 1)

	job, err := e.Enqueue(context.Background(), Request{
		DriveID:    "nas",
		Direction:  DirectionDownload,
		SourcePath: "/share/drop",
		DestPath:   filepath.Join(t.TempDir(), "drop"),
	})
	require.NoError(t, err)

	startEngine(t, e)

	waitState(t, e, job.ID, StateFailed)

	select {
	case id := <-provider.drops:
		assert.Equal(t, "nas", id)
	case <-time.After(5 * time.Second):
		t.Fatal("session drop was never reported")
	}
}

func TestEngine_ChunkStallFailsAsNetworkError(t *testing.T) {
	t.Parallel()

	data := []byte("0123456789abcdef")
	gate := make(chan struct{})
	defer close(gate)

	adapter := newMemAdapter(true)
	adapter.put("/share/stall", data)
	adapter.openRead = func(ctx context.Context, data []byte, offset int64) (io.ReadCloser, error) {
		return &stallReader{data: data[offset:], gate: gate, ctx: ctx}, nil
	}

	logger := slog.New(slog.DiscardHandler)

	store, err := NewStore(":memory:", logger)
	require.NoError(t, err)

	t.Cleanup(func() { store.Close() })

	cfg := Config{Workers: 1, ChunkSize: 4, ChunkTimeout: 50 * time.Millisecond}
	e := NewEngine(cfg, store, fixedProvider{adapter: adapter}, nil, events.NewHub(logger), logger)

	job, err := e.Enqueue(context.Background(), Request{
		DriveID:    "nas",
		Direction:  DirectionDownload,
		SourcePath: "/share/stall",
		DestPath:   filepath.Join(t.TempDir(), "stall"),
	})
	require.NoError(t, err)

	startEngine(t, e)

	final := waitState(t, e, job.ID, StateFailed)
	assert.Equal(t, "NetworkError", final.ErrorKind)
	assert.Contains(t, final.LastError, "stalled")
}
