// Package remote manages the session to the remote database the foreign
// data wrapper points at. The session is opened lazily, health-checked, and
// used to run the schema scripts through the statement lexer.
package remote

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" database/sql driver

	"github.com/leapstack-labs/fdwregress/internal/connstr"
	"github.com/leapstack-labs/fdwregress/internal/script"
)

// Default settings.
const (
	DefaultDriver         = "pgx"
	DefaultHealthQuery    = "select 'success' from dual"
	DefaultHealthSentinel = "success"
)

// Sentinel errors.
var (
	ErrConnectionFailed      = errors.New("remote connection failed")
	ErrHealthCheckFailed     = errors.New("remote health check failed")
	ErrScriptExecutionFailed = errors.New("script execution failed")
)

// Config holds the remote connection parameters.
type Config struct {
	// Driver is a registered database/sql driver name.
	Driver string
	// DSN is passed to the driver verbatim. When empty it is built from the
	// discrete fields below.
	DSN      string
	Host     string
	Port     int
	Database string
	User     string
	Password string

	HealthQuery    string
	HealthSentinel string
}

// ScriptResult summarizes one RunScript call.
type ScriptResult struct {
	Executed int
	Failed   int
}

// ScriptError reports the statement that stopped a script.
type ScriptError struct {
	Path      string
	Index     int // 1-based statement number; 0 for atomic blocks
	Statement string
	Err       error
}

func (e *ScriptError) Error() string {
	if e.Index == 0 {
		return fmt.Sprintf("%s: %v", e.Path, e.Err)
	}
	return fmt.Sprintf("%s: statement %d: %v", e.Path, e.Index, e.Err)
}

// Unwrap returns the sentinel and the underlying cause.
func (e *ScriptError) Unwrap() []error { return []error{ErrScriptExecutionFailed, e.Err} }

// Opener opens a database handle. sql.Open satisfies it.
type Opener func(driver, dsn string) (*sql.DB, error)

// Session is a lazily opened remote connection.
type Session struct {
	cfg    Config
	open   Opener
	logger *slog.Logger

	db     *sql.DB
	opened bool
}

// Option configures a Session.
type Option func(*Session)

// WithOpener replaces sql.Open.
func WithOpener(open Opener) Option {
	return func(s *Session) { s.open = open }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Session) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewSession creates a session. No connection is made until Connect.
func NewSession(cfg Config, opts ...Option) *Session {
	if cfg.Driver == "" {
		cfg.Driver = DefaultDriver
	}
	if cfg.HealthQuery == "" {
		cfg.HealthQuery = DefaultHealthQuery
	}
	if cfg.HealthSentinel == "" {
		cfg.HealthSentinel = DefaultHealthSentinel
	}
	s := &Session{
		cfg:    cfg,
		open:   sql.Open,
		logger: slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Opened reports whether a connection was ever established.
func (s *Session) Opened() bool { return s.opened }

// Connect opens and pings the connection. Later calls reuse it.
func (s *Session) Connect(ctx context.Context) error {
	if s.db != nil {
		return nil
	}

	s.logger.Debug("connecting to remote database",
		slog.String("driver", s.cfg.Driver),
		slog.String("host", s.cfg.Host),
		slog.String("database", s.cfg.Database))

	db, err := s.open(s.cfg.Driver, buildDSN(s.cfg))
	if err != nil {
		return fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	s.db = db
	s.opened = true
	return nil
}

// HealthCheck runs the health query and compares its single value with the sentinel.
func (s *Session) HealthCheck(ctx context.Context) error {
	if err := s.Connect(ctx); err != nil {
		return err
	}

	var got string
	if err := s.db.QueryRowContext(ctx, s.cfg.HealthQuery).Scan(&got); err != nil {
		return fmt.Errorf("%w: %w", ErrHealthCheckFailed, err)
	}
	if strings.TrimSpace(got) != s.cfg.HealthSentinel {
		return fmt.Errorf("%w: got %q, want %q", ErrHealthCheckFailed, got, s.cfg.HealthSentinel)
	}

	s.logger.Debug("remote health check passed")
	return nil
}

// RunScript executes the statements of the script at path under policy.
func (s *Session) RunScript(ctx context.Context, path string, policy Policy) (ScriptResult, error) {
	var res ScriptResult
	if err := s.Connect(ctx); err != nil {
		return res, err
	}

	stmts, err := script.Statements(path)
	if err != nil {
		return res, fmt.Errorf("%w: %w", ErrScriptExecutionFailed, err)
	}

	s.logger.Info("running script",
		slog.String("path", path),
		slog.String("policy", policy.String()),
		slog.Int("statements", len(stmts)))

	switch policy {
	case AtomicBlock:
		return s.runBlock(ctx, path, stmts)
	case ContinueOnError:
		for i, stmt := range stmts {
			if _, err := s.db.ExecContext(ctx, stmt); err != nil {
				res.Failed++
				s.logger.Warn("statement failed",
					slog.String("path", path),
					slog.Int("statement", i+1),
					slog.String("error", err.Error()))
				continue
			}
			res.Executed++
		}
		return res, nil
	case AbortOnError:
		for i, stmt := range stmts {
			if _, err := s.db.ExecContext(ctx, stmt); err != nil {
				res.Failed++
				return res, &ScriptError{Path: path, Index: i + 1, Statement: stmt, Err: err}
			}
			res.Executed++
		}
		return res, nil
	default:
		return res, fmt.Errorf("%w: unknown policy %s", ErrScriptExecutionFailed, policy)
	}
}

func (s *Session) runBlock(ctx context.Context, path string, stmts []string) (ScriptResult, error) {
	var res ScriptResult
	if len(stmts) == 0 {
		return res, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return res, &ScriptError{Path: path, Err: fmt.Errorf("failed to begin transaction: %w", err)}
	}

	block := strings.Join(stmts, "\n")
	if _, err := tx.ExecContext(ctx, block); err != nil {
		_ = tx.Rollback()
		res.Failed = len(stmts)
		return res, &ScriptError{Path: path, Statement: block, Err: err}
	}
	if err := tx.Commit(); err != nil {
		res.Failed = len(stmts)
		return res, &ScriptError{Path: path, Err: fmt.Errorf("failed to commit: %w", err)}
	}

	res.Executed = len(stmts)
	return res, nil
}

// Close closes the connection if it is open.
func (s *Session) Close() error {
	if s.db == nil {
		return nil
	}
	s.logger.Debug("closing remote connection")
	err := s.db.Close()
	s.db = nil
	return err
}

// buildDSN returns cfg.DSN or a key=value connection string built from the fields.
func buildDSN(cfg Config) string {
	if cfg.DSN != "" {
		return cfg.DSN
	}

	var b connstr.Builder
	return b.Add("host", cfg.Host).
		AddInt("port", cfg.Port).
		Add("dbname", cfg.Database).
		Add("user", cfg.User).
		Add("password", cfg.Password).
		String()
}
