// Package lifecycle sequences one regression run: prepare the remote schema
// and the ephemeral database, execute the test cases, and roll everything
// back exactly once.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/leapstack-labs/fdwregress/internal/command"
	"github.com/leapstack-labs/fdwregress/internal/driverconf"
	"github.com/leapstack-labs/fdwregress/internal/pgtap"
	"github.com/leapstack-labs/fdwregress/internal/remote"
	"github.com/leapstack-labs/fdwregress/internal/state"
)

// Sentinel errors.
var (
	ErrExecutionFailed = errors.New("test execution failed")
	ErrAlreadyRun      = errors.New("controller has already run")
)

// State is the controller's position in the run.
type State int

// Controller states.
const (
	StateInit State = iota
	StateProvisioned
	StateExecuted
	StateRolledBack
	// StateFailed is terminal: a failure with freeze set, resources kept for inspection.
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "init"
	case StateProvisioned:
		return "provisioned"
	case StateExecuted:
		return "executed"
	case StateRolledBack:
		return "rolled back"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Session is the remote session the controller drives.
type Session interface {
	Connect(ctx context.Context) error
	HealthCheck(ctx context.Context) error
	RunScript(ctx context.Context, path string, policy remote.Policy) (remote.ScriptResult, error)
	Opened() bool
	Close() error
}

// Database is the ephemeral database the cases run in.
type Database interface {
	Name() string
	Create(ctx context.Context) error
	Bootstrap(ctx context.Context, extensions []string) error
	Drop(ctx context.Context) error
}

// Recorder records run outcomes. *state.SQLiteStore implements it.
type Recorder interface {
	CreateRun(ctx context.Context, keywords []string, dryRun bool) (*state.Run, error)
	SetRunDatabase(ctx context.Context, id, database string) error
	CompleteRun(ctx context.Context, id string, status state.RunStatus, frozen bool, errMsg string) error
	MarkDropFailed(ctx context.Context, id string) error
}

// Script is one remote script with its execution policy.
type Script struct {
	Path   string
	Policy remote.Policy
}

// Config selects what a run does.
type Config struct {
	CasesDir string
	Keywords []string
	Regex    bool

	DryRun        bool
	WithoutRemote bool
	// Freeze skips rollback after a failure.
	Freeze bool

	Init     Script
	Seed     Script // optional, skipped when Path is empty
	Rollback Script // optional, skipped when Path is empty

	Extensions []string

	// Driver describes the data source file written for the wrapper.
	Driver driverconf.Config
	// DriverProbe is the driver manager CLI checked on PATH; empty skips it.
	DriverProbe string
	// AdminTools are the create/drop programs checked on PATH.
	AdminTools []string

	// Prove holds the runner options. Target.Database is replaced with the
	// ephemeral database name; Dry and Env are set by the controller.
	Prove pgtap.Options
}

func (c Config) useRemote() bool { return !c.WithoutRemote && !c.DryRun }

// Controller runs one regression cycle. It is not safe for concurrent use.
type Controller struct {
	cfg      Config
	runner   command.Runner
	session  Session
	db       Database
	recorder Recorder
	logger   *slog.Logger

	state         State
	ran           bool
	driverWritten bool
	runID         string

	rollbackOnce sync.Once
	rollbackErr  error
}

// Option configures a Controller.
type Option func(*Controller)

// WithRecorder records the run in a ledger.
func WithRecorder(r Recorder) Option {
	return func(c *Controller) { c.recorder = r }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Controller) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// New creates a controller owning session and db for one run.
func New(cfg Config, runner command.Runner, session Session, db Database, opts ...Option) *Controller {
	c := &Controller{
		cfg:     cfg,
		runner:  runner,
		session: session,
		db:      db,
		logger:  slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// State returns the current state.
func (c *Controller) State() State { return c.state }

// RunID returns the ledger ID of the run, empty without a recorder.
func (c *Controller) RunID() string { return c.runID }

// Prepare checks the tools and provisions the remote schema and the ephemeral database.
func (c *Controller) Prepare(ctx context.Context) error {
	if c.state != StateInit {
		return fmt.Errorf("cannot prepare in state %s", c.state)
	}

	var tools []string
	if c.cfg.useRemote() {
		tools = append(tools, c.cfg.DriverProbe)
	}
	if !c.cfg.DryRun {
		tools = append(tools, c.cfg.AdminTools...)
	}
	if err := Probe(ctx, c.runner, c.proveProgram(), tools...); err != nil {
		return err
	}
	if c.cfg.useRemote() {
		if err := checkDriverLibrary(c.cfg.Driver.DriverLibrary); err != nil {
			return err
		}
	}

	if c.cfg.useRemote() {
		if err := c.prepareRemote(ctx); err != nil {
			return err
		}
	}

	if !c.cfg.DryRun {
		c.record(func(r Recorder) error { return r.SetRunDatabase(ctx, c.runID, c.db.Name()) })
		if err := c.db.Create(ctx); err != nil {
			return err
		}
		if err := c.db.Bootstrap(ctx, c.cfg.Extensions); err != nil {
			return err
		}
	}

	c.state = StateProvisioned
	return nil
}

func (c *Controller) prepareRemote(ctx context.Context) error {
	if err := driverconf.Write(c.cfg.Driver); err != nil {
		return err
	}
	c.driverWritten = true

	if err := c.session.Connect(ctx); err != nil {
		return err
	}
	if err := c.session.HealthCheck(ctx); err != nil {
		return err
	}

	c.logger.Info("initializing test schema in the remote database, this might take a while",
		slog.String("script", c.cfg.Init.Path))
	if err := c.runScript(ctx, c.cfg.Init); err != nil {
		return err
	}

	if c.cfg.Seed.Path != "" {
		c.logger.Info("seeding remote test data", slog.String("script", c.cfg.Seed.Path))
		if err := c.runScript(ctx, c.cfg.Seed); err != nil {
			return err
		}
	}
	return nil
}

func (c *Controller) runScript(ctx context.Context, s Script) error {
	res, err := c.session.RunScript(ctx, s.Path, s.Policy)
	if err != nil {
		return err
	}
	c.logger.Debug("script done",
		slog.String("script", s.Path),
		slog.Int("executed", res.Executed),
		slog.Int("failed", res.Failed))
	return nil
}

// Execute runs the selected test cases against the ephemeral database.
func (c *Controller) Execute(ctx context.Context) error {
	if c.state != StateProvisioned {
		return fmt.Errorf("cannot execute in state %s", c.state)
	}

	cases, err := pgtap.Discover(c.cfg.CasesDir)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrExecutionFailed, err)
	}
	selected, err := pgtap.Select(cases, c.cfg.Keywords, c.cfg.Regex)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrExecutionFailed, err)
	}
	if len(selected) == 0 {
		return fmt.Errorf("%w: no test cases match %q", ErrExecutionFailed, c.cfg.Keywords)
	}

	opts := c.cfg.Prove
	opts.Dry = c.cfg.DryRun
	opts.Target.Database = c.db.Name()
	if c.driverWritten {
		opts.Env = append(append([]string(nil), opts.Env...), driverconf.Env(c.cfg.Driver)...)
	}

	if c.cfg.DryRun {
		c.logger.Info("dry run, listing the test cases that would run", slog.Int("cases", len(selected)))
	} else {
		c.logger.Info("running test cases", slog.Int("cases", len(selected)), slog.String("database", c.db.Name()))
	}

	if err := pgtap.Prove(ctx, c.runner, opts, pgtap.Paths(selected)); err != nil {
		return fmt.Errorf("%w: %w", ErrExecutionFailed, err)
	}

	c.state = StateExecuted
	return nil
}

// Rollback undoes whatever the run acquired: the remote rollback script if
// the session was ever opened, the ephemeral database if it was created, and
// the driver configuration file. It runs at most once; later calls return
// the first result.
func (c *Controller) Rollback(ctx context.Context) error {
	c.rollbackOnce.Do(func() {
		c.rollbackErr = c.rollback(ctx)
		c.state = StateRolledBack
	})
	return c.rollbackErr
}

func (c *Controller) rollback(ctx context.Context) error {
	var errs []error

	if c.session.Opened() && c.cfg.Rollback.Path != "" {
		c.logger.Info("running remote rollback script", slog.String("script", c.cfg.Rollback.Path))
		if _, err := c.session.RunScript(ctx, c.cfg.Rollback.Path, c.cfg.Rollback.Policy); err != nil {
			errs = append(errs, fmt.Errorf("rollback script: %w", err))
		}
	}

	if err := c.db.Drop(ctx); err != nil {
		errs = append(errs, err)
		// leaves the database for cleanup to find
		c.record(func(r Recorder) error { return r.MarkDropFailed(ctx, c.runID) })
	}

	if c.driverWritten {
		if err := driverconf.Remove(c.cfg.Driver.Path); err != nil {
			errs = append(errs, err)
		} else {
			c.driverWritten = false
		}
	}

	if err := c.session.Close(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close remote session: %w", err))
	}

	return errors.Join(errs...)
}

// Run prepares and executes the suite, rolling back on every exit path
// unless a failure occurs with freeze set. A controller runs once.
func (c *Controller) Run(ctx context.Context) (err error) {
	if c.ran {
		return ErrAlreadyRun
	}
	c.ran = true

	c.startRecord(ctx)

	// cleanup must still run after cancellation
	cleanupCtx := context.WithoutCancel(ctx)

	defer func() {
		if p := recover(); p != nil {
			_ = c.Rollback(cleanupCtx)
			c.finishRecord(cleanupCtx, state.RunStatusFailed, false, fmt.Errorf("panic: %v", p))
			panic(p)
		}
	}()

	err = c.Prepare(ctx)
	if err == nil {
		err = c.Execute(ctx)
	}

	if err != nil && c.cfg.Freeze {
		c.state = StateFailed
		c.logger.Warn("run failed, freezing without rollback",
			slog.String("database", c.db.Name()),
			slog.String("error", err.Error()))
		c.finishRecord(cleanupCtx, state.RunStatusFailed, true, err)
		return err
	}

	rbErr := c.Rollback(cleanupCtx)
	status := state.RunStatusPassed
	if err != nil || rbErr != nil {
		status = state.RunStatusFailed
	}
	err = errors.Join(err, rbErr)
	c.finishRecord(cleanupCtx, status, false, err)
	return err
}

func (c *Controller) proveProgram() string {
	if c.cfg.Prove.Program != "" {
		return c.cfg.Prove.Program
	}
	return pgtap.DefaultRunner
}

func (c *Controller) startRecord(ctx context.Context) {
	if c.recorder == nil {
		return
	}
	run, err := c.recorder.CreateRun(ctx, c.cfg.Keywords, c.cfg.DryRun)
	if err != nil {
		c.logger.Warn("failed to record run", slog.String("error", err.Error()))
		return
	}
	c.runID = run.ID
}

func (c *Controller) finishRecord(ctx context.Context, status state.RunStatus, frozen bool, runErr error) {
	var msg string
	if runErr != nil {
		msg = runErr.Error()
	}
	c.record(func(r Recorder) error { return r.CompleteRun(ctx, c.runID, status, frozen, msg) })
}

// record applies fn to the recorder. Ledger failures are logged, never fatal.
func (c *Controller) record(fn func(Recorder) error) {
	if c.recorder == nil || c.runID == "" {
		return
	}
	if err := fn(c.recorder); err != nil {
		c.logger.Warn("failed to update run ledger", slog.String("error", err.Error()))
	}
}
