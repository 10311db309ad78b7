// Package ephemeral manages the throwaway local PostgreSQL database each
// harness run executes its test cases against.
//
// The database is created and dropped with the PostgreSQL admin commands
// (createdb/dropdb) and bootstrapped with pgx. One Database value describes
// one generated name, so create and drop always target the same database.
package ephemeral

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strconv"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/leapstack-labs/fdwregress/internal/command"
	"github.com/leapstack-labs/fdwregress/internal/connstr"
)

// DefaultPrefix is prepended to every generated database name.
const DefaultPrefix = "tbfdw_regress_"

// ErrProvisioningFailed is returned when the database cannot be created or bootstrapped.
var ErrProvisioningFailed = errors.New("provisioning failed")

// AdminConfig holds the connection parameters of the local admin role.
type AdminConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	// MaintenanceDB is the database the admin programs connect to; empty uses their default.
	MaintenanceDB string

	// CreateCommand and DropCommand name the admin programs.
	// They default to createdb and dropdb.
	CreateCommand string
	DropCommand   string
}

// Conn is the subset of *pgx.Conn used to bootstrap the database.
type Conn interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Close(ctx context.Context) error
}

// DialFunc opens a connection to a connection string.
type DialFunc func(ctx context.Context, connString string) (Conn, error)

// DialPgx connects with pgx.
func DialPgx(ctx context.Context, connString string) (Conn, error) {
	conn, err := pgx.Connect(ctx, connString)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// Database is one uniquely named throwaway database.
type Database struct {
	name    string
	cfg     AdminConfig
	runner  command.Runner
	dial    DialFunc
	logger  *slog.Logger
	created bool
}

// Option configures a Database.
type Option func(*Database)

// WithDialer replaces the pgx dialer used by Bootstrap.
func WithDialer(dial DialFunc) Option {
	return func(d *Database) { d.dial = dial }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(d *Database) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// New creates a handle for the database called name. Nothing is created
// until Create is called.
func New(name string, cfg AdminConfig, runner command.Runner, opts ...Option) *Database {
	if cfg.CreateCommand == "" {
		cfg.CreateCommand = "createdb"
	}
	if cfg.DropCommand == "" {
		cfg.DropCommand = "dropdb"
	}
	d := &Database{
		name:   name,
		cfg:    cfg,
		runner: runner,
		dial:   DialPgx,
		logger: slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Existing returns a handle for a database created by an earlier run, so it
// can be dropped during cleanup.
func Existing(name string, cfg AdminConfig, runner command.Runner, opts ...Option) *Database {
	d := New(name, cfg, runner, opts...)
	d.created = true
	return d
}

// GenerateName returns prefix followed by a random 32-bit unsigned integer in decimal.
func GenerateName(prefix string) string {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return prefix + strconv.FormatUint(uint64(rand.Uint32()), 10)
}

// Name returns the database name.
func (d *Database) Name() string { return d.name }

// Created reports whether Create succeeded and Drop has not yet succeeded.
func (d *Database) Created() bool { return d.created }

// ConnString returns a key=value connection string for the database.
func (d *Database) ConnString() string {
	host := d.cfg.Host
	if host == "" {
		host = "localhost"
	}
	port := d.cfg.Port
	if port == 0 {
		port = 5432
	}

	var b connstr.Builder
	return b.Add("host", host).
		AddInt("port", port).
		Add("dbname", d.name).
		Add("sslmode", "disable").
		Add("user", d.cfg.User).
		Add("password", d.cfg.Password).
		String()
}

// Create creates the database with the admin create command.
func (d *Database) Create(ctx context.Context) error {
	if d.created {
		return nil
	}

	d.logger.Info("creating ephemeral database", slog.String("database", d.name))
	if err := d.runner.Run(ctx, d.adminCommand(d.cfg.CreateCommand)); err != nil {
		return fmt.Errorf("%w: create database %s: %w", ErrProvisioningFailed, d.name, err)
	}

	d.created = true
	return nil
}

// Bootstrap installs extensions into the created database.
func (d *Database) Bootstrap(ctx context.Context, extensions []string) error {
	if len(extensions) == 0 {
		return nil
	}
	if !d.created {
		return fmt.Errorf("%w: database %s has not been created", ErrProvisioningFailed, d.name)
	}

	conn, err := d.dial(ctx, d.ConnString())
	if err != nil {
		return fmt.Errorf("%w: connect to %s: %w", ErrProvisioningFailed, d.name, err)
	}
	defer func() { _ = conn.Close(ctx) }()

	for _, ext := range extensions {
		stmt := "CREATE EXTENSION IF NOT EXISTS " + pgx.Identifier{ext}.Sanitize()
		d.logger.Debug("installing extension", slog.String("database", d.name), slog.String("extension", ext))
		if _, err := conn.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("%w: install extension %s: %w", ErrProvisioningFailed, ext, err)
		}
	}
	return nil
}

// Drop drops the database. It is a no-op if the database was never created,
// and after the first successful drop. A database already gone on the server
// is not an error.
func (d *Database) Drop(ctx context.Context) error {
	if !d.created {
		return nil
	}

	d.logger.Info("dropping ephemeral database", slog.String("database", d.name))
	if err := d.runner.Run(ctx, d.adminCommand(d.cfg.DropCommand, "--if-exists")); err != nil {
		return fmt.Errorf("drop database %s: %w", d.name, err)
	}

	d.created = false
	return nil
}

func (d *Database) adminCommand(program string, extra ...string) command.Command {
	args := append([]string(nil), extra...)
	if d.cfg.Host != "" {
		args = append(args, "--host", d.cfg.Host)
	}
	if d.cfg.Port != 0 {
		args = append(args, "--port", strconv.Itoa(d.cfg.Port))
	}
	if d.cfg.User != "" {
		args = append(args, "--username", d.cfg.User)
	}
	if d.cfg.MaintenanceDB != "" {
		args = append(args, "--maintenance-db", d.cfg.MaintenanceDB)
	}
	args = append(args, "--no-password", d.name)

	var env []string
	if d.cfg.Password != "" {
		env = append(env, "PGPASSWORD="+d.cfg.Password)
	}
	return command.Command{Name: program, Args: args, Env: env}
}

