package transfer

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver, registers as "sqlite".
)

// walJournalSizeLimit caps the WAL journal at 64 MiB.
const walJournalSizeLimit = 67108864

// ErrJobNotFound is returned when a job id is not in the store.
var ErrJobNotFound = errors.New("transfer: job not found")

// Store persists transfer jobs in an embedded SQLite database with WAL
// mode. The persisted byte offset is what makes cross-restart resume work.
type Store struct {
	db     *sql.DB
	logger *slog.Logger

	// Prepared statements for repeated queries.
	stmts jobStatements
}

type jobStatements struct {
	upsert, get, list, listByState, updateProgress, purge *sql.Stmt
}

// NewStore opens the database at dbPath, applying migrations and preparing
// statements. Use ":memory:" for tests.
func NewStore(dbPath string, logger *slog.Logger) (*Store, error) {
	logger.Info("opening transfer job store", "path", dbPath)

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("transfer: open sqlite: %w", err)
	}

	if err := setPragmas(context.Background(), db); err != nil {
		db.Close()

		return nil, err
	}

	if err := runMigrations(context.Background(), db, logger); err != nil {
		db.Close()

		return nil, err
	}

	s := &Store{db: db, logger: logger}

	if err := s.prepareStatements(context.Background()); err != nil {
		db.Close()

		return nil, fmt.Errorf("transfer: prepare statements: %w", err)
	}

	return s, nil
}

// setPragmas configures SQLite for WAL mode and safety.
func setPragmas(ctx context.Context, db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = FULL",
		"PRAGMA foreign_keys = ON",
		fmt.Sprintf("PRAGMA journal_size_limit = %d", walJournalSizeLimit),
	}

	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			return fmt.Errorf("transfer: set pragma %q: %w", p, err)
		}
	}

	return nil
}

func (s *Store) prepareStatements(ctx context.Context) error {
	var err error

	if s.stmts.upsert, err = s.db.PrepareContext(ctx, `
		INSERT INTO jobs (
			id, drive_id, direction, source_path, dest_path, state,
			priority, bytes_transferred, total_bytes, checksum, retries,
			ranged, resumable, last_error, error_kind, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			state = excluded.state,
			bytes_transferred = excluded.bytes_transferred,
			total_bytes = excluded.total_bytes,
			retries = excluded.retries,
			ranged = excluded.ranged,
			last_error = excluded.last_error,
			error_kind = excluded.error_kind,
			updated_at = excluded.updated_at`); err != nil {
		return err
	}

	const selectCols = `
		SELECT id, drive_id, direction, source_path, dest_path, state,
		       priority, bytes_transferred, total_bytes, checksum, retries,
		       ranged, resumable, last_error, error_kind, created_at, updated_at
		FROM jobs`

	if s.stmts.get, err = s.db.PrepareContext(ctx, selectCols+" WHERE id = ?"); err != nil {
		return err
	}

	if s.stmts.list, err = s.db.PrepareContext(ctx, selectCols+" ORDER BY created_at"); err != nil {
		return err
	}

	if s.stmts.listByState, err = s.db.PrepareContext(ctx, selectCols+" WHERE state = ? ORDER BY priority DESC, created_at"); err != nil {
		return err
	}

	if s.stmts.updateProgress, err = s.db.PrepareContext(ctx,
		"UPDATE jobs SET bytes_transferred = ?, updated_at = ? WHERE id = ?"); err != nil {
		return err
	}

	if s.stmts.purge, err = s.db.PrepareContext(ctx,
		"DELETE FROM jobs WHERE state IN ('completed', 'failed', 'cancelled') AND updated_at < ?"); err != nil {
		return err
	}

	return nil
}

// SaveJob inserts or updates a job record.
func (s *Store) SaveJob(ctx context.Context, j *Job) error {
	_, err := s.stmts.upsert.ExecContext(ctx,
		j.ID, j.DriveID, string(j.Direction), j.SourcePath, j.DestPath,
		string(j.State), j.Priority, j.BytesTransferred, j.TotalBytes,
		j.Checksum, j.Retries, boolInt(j.Ranged), boolInt(j.Resumable),
		j.LastError, j.ErrorKind, j.CreatedAt.UnixNano(), j.UpdatedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("transfer: save job %s: %w", j.ID, err)
	}

	return nil
}

// UpdateProgress persists the transferred-byte offset. Called at chunk
// boundaries, so this is the hottest statement in the store.
func (s *Store) UpdateProgress(ctx context.Context, id string, bytes int64) error {
	_, err := s.stmts.updateProgress.ExecContext(ctx, bytes, time.Now().UnixNano(), id)
	if err != nil {
		return fmt.Errorf("transfer: update progress for %s: %w", id, err)
	}

	return nil
}

// GetJob loads one job by id.
func (s *Store) GetJob(ctx context.Context, id string) (*Job, error) {
	j, err := scanJob(s.stmts.get.QueryRowContext(ctx, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrJobNotFound
	}

	if err != nil {
		return nil, fmt.Errorf("transfer: get job %s: %w", id, err)
	}

	return j, nil
}

// ListJobs returns all jobs ordered by creation time.
func (s *Store) ListJobs(ctx context.Context) ([]*Job, error) {
	rows, err := s.stmts.list.QueryContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("transfer: list jobs: %w", err)
	}

	defer rows.Close()

	return scanJobs(rows)
}

// ListByState returns jobs in one state, priority-then-FIFO ordered. Used
// on engine start to requeue work that survived a restart.
func (s *Store) ListByState(ctx context.Context, state JobState) ([]*Job, error) {
	rows, err := s.stmts.listByState.QueryContext(ctx, string(state))
	if err != nil {
		return nil, fmt.Errorf("transfer: list jobs by state %s: %w", state, err)
	}

	defer rows.Close()

	return scanJobs(rows)
}

// PurgeTerminalBefore deletes terminal jobs last touched before cutoff,
// returning how many rows were removed.
func (s *Store) PurgeTerminalBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.stmts.purge.ExecContext(ctx, cutoff.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("transfer: purge history: %w", err)
	}

	n, _ := res.RowsAffected()

	return n, nil
}

// Close releases prepared statements and the database handle.
func (s *Store) Close() error {
	for _, st := range []*sql.Stmt{
		s.stmts.upsert, s.stmts.get, s.stmts.list,
		s.stmts.listByState, s.stmts.updateProgress, s.stmts.purge,
	} {
		if st != nil {
			st.Close()
		}
	}

	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*Job, error) {
	var (
		j                    Job
		direction, state     string
		ranged, resumable    int
		createdAt, updatedAt int64
	)

	err := row.Scan(
		&j.ID, &j.DriveID, &direction, &j.SourcePath, &j.DestPath, &state,
		&j.Priority, &j.BytesTransferred, &j.TotalBytes, &j.Checksum,
		&j.Retries, &ranged, &resumable, &j.LastError, &j.ErrorKind,
		&createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	j.Direction = Direction(direction)
	j.State = JobState(state)
	j.Ranged = ranged != 0
	j.Resumable = resumable != 0
	j.CreatedAt = time.Unix(0, createdAt)
	j.UpdatedAt = time.Unix(0, updatedAt)

	return &j, nil
}

func scanJobs(rows *sql.Rows) ([]*Job, error) {
	var jobs []*Job

	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("transfer: scan job row: %w", err)
		}

		jobs = append(jobs, j)
	}

	return jobs, rows.Err()
}

func boolInt(b bool) int {
	if b {
		return 1
	}

	return 0
}
