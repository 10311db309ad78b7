package state

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// SQLiteStore is the run ledger backed by SQLite.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new store instance.
// If logger is nil, a discard logger is used.
func NewSQLiteStore(logger *slog.Logger) *SQLiteStore {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &SQLiteStore{logger: logger}
}

// Open opens the database at path and applies pending migrations.
// Use ":memory:" for an in-memory database.
func (s *SQLiteStore) Open(path string) error {
	dsn := ":memory:"
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return fmt.Errorf("failed to create state directory: %w", err)
		}
		dsn = "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open sqlite database: %w", err)
	}
	// a second connection would see a different in-memory database
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping sqlite database: %w", err)
	}

	s.db = db

	if err := s.Migrate(); err != nil {
		_ = s.Close()
		return err
	}

	s.logger.Debug("opened run ledger", slog.String("path", path))
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

// CreateRun records the start of a run.
func (s *SQLiteStore) CreateRun(ctx context.Context, keywords []string, dryRun bool) (*Run, error) {
	if s.db == nil {
		return nil, fmt.Errorf("database not opened")
	}

	run := &Run{
		ID:        uuid.New().String(),
		StartedAt: time.Now().UTC(),
		Status:    RunStatusRunning,
		Keywords:  strings.Join(keywords, " "),
		DryRun:    dryRun,
	}

	s.logger.Debug("creating run", slog.String("id", run.ID))

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, started_at, status, keywords, dry_run) VALUES (?, ?, ?, ?, ?)`,
		run.ID, formatTime(run.StartedAt), string(run.Status), run.Keywords, run.DryRun,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create run: %w", err)
	}
	return run, nil
}

// SetRunDatabase records the ephemeral database a run created.
func (s *SQLiteStore) SetRunDatabase(ctx context.Context, id, database string) error {
	return s.update(ctx, "set run database", `UPDATE runs SET db_name = ? WHERE id = ?`, database, id)
}

// CompleteRun marks a run finished.
func (s *SQLiteStore) CompleteRun(ctx context.Context, id string, status RunStatus, frozen bool, errMsg string) error {
	var errVal any
	if errMsg != "" {
		errVal = errMsg
	}
	return s.update(ctx, "complete run",
		`UPDATE runs SET status = ?, completed_at = ?, frozen = ?, error = ? WHERE id = ?`,
		string(status), formatTime(time.Now().UTC()), frozen, errVal, id)
}

// MarkDropFailed records that rollback left the run's database behind.
func (s *SQLiteStore) MarkDropFailed(ctx context.Context, id string) error {
	return s.update(ctx, "mark drop failed", `UPDATE runs SET drop_failed = 1 WHERE id = ?`, id)
}

// MarkCleaned records that a run's leftover database was dropped.
func (s *SQLiteStore) MarkCleaned(ctx context.Context, id string) error {
	return s.update(ctx, "mark run cleaned", `UPDATE runs SET cleaned = 1 WHERE id = ?`, id)
}

// ListRuns returns the most recent runs, newest first.
func (s *SQLiteStore) ListRuns(ctx context.Context, limit int) ([]*Run, error) {
	if s.db == nil {
		return nil, fmt.Errorf("database not opened")
	}

	runs, err := s.query(ctx, `SELECT `+runColumns+` FROM runs ORDER BY started_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	return runs, nil
}

// LeftoverRuns returns runs that may have left an ephemeral database behind,
// oldest first.
func (s *SQLiteStore) LeftoverRuns(ctx context.Context) ([]*Run, error) {
	if s.db == nil {
		return nil, fmt.Errorf("database not opened")
	}

	runs, err := s.query(ctx,
		`SELECT `+runColumns+` FROM runs
		 WHERE db_name != '' AND cleaned = 0 AND (frozen = 1 OR drop_failed = 1 OR status = ?)
		 ORDER BY started_at, rowid`,
		string(RunStatusRunning))
	if err != nil {
		return nil, fmt.Errorf("failed to list leftover runs: %w", err)
	}
	return runs, nil
}

const runColumns = `id, started_at, completed_at, status, keywords, dry_run, db_name, frozen, drop_failed, cleaned, error`

func (s *SQLiteStore) update(ctx context.Context, op, query string, args ...any) error {
	if s.db == nil {
		return fmt.Errorf("database not opened")
	}
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to %s: %w", op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to %s: %w", op, err)
	}
	if n == 0 {
		return fmt.Errorf("failed to %s: run not found", op)
	}
	return nil
}

func (s *SQLiteStore) query(ctx context.Context, query string, args ...any) ([]*Run, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var runs []*Run
	for rows.Next() {
		var (
			run         Run
			startedAt   string
			completedAt sql.NullString
			status      string
			errMsg      sql.NullString
		)
		if err := rows.Scan(&run.ID, &startedAt, &completedAt, &status, &run.Keywords,
			&run.DryRun, &run.Database, &run.Frozen, &run.DropFailed, &run.Cleaned, &errMsg); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}

		run.Status = RunStatus(status)
		run.Error = errMsg.String
		if run.StartedAt, err = parseTime(startedAt); err != nil {
			return nil, err
		}
		if completedAt.Valid {
			t, err := parseTime(completedAt.String)
			if err != nil {
				return nil, err
			}
			run.CompletedAt = &t
		}
		runs = append(runs, &run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating runs: %w", err)
	}
	return runs, nil
}

// timeLayout has a fixed width so stored timestamps sort chronologically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid timestamp %q: %w", s, err)
	}
	return t, nil
}
