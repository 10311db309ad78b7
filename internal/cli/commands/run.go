package commands

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/leapstack-labs/fdwregress/internal/cli/config"
	"github.com/leapstack-labs/fdwregress/internal/cli/output"
	"github.com/leapstack-labs/fdwregress/internal/command"
	"github.com/leapstack-labs/fdwregress/internal/driverconf"
	"github.com/leapstack-labs/fdwregress/internal/ephemeral"
	"github.com/leapstack-labs/fdwregress/internal/lifecycle"
	"github.com/leapstack-labs/fdwregress/internal/lock"
	"github.com/leapstack-labs/fdwregress/internal/pgtap"
	"github.com/leapstack-labs/fdwregress/internal/remote"
)

// Deps are the process-level collaborators of a suite run.
type Deps struct {
	// Runner executes external programs. Nil uses os/exec.
	Runner command.Runner
	// Opener opens the remote database handle. Nil uses sql.Open.
	Opener remote.Opener
	// Dial connects to the ephemeral database. Nil uses pgx.
	Dial ephemeral.DialFunc
	// Stdin is read by the first-run configuration prompt.
	Stdin io.Reader
}

// RunOptions holds the switches registered by AddRunFlags.
type RunOptions struct {
	Dry           bool
	Quiet         bool
	WithoutRemote bool
	TraceDriver   bool
	List          bool
	Freeze        bool
	Regex         bool
}

// AddRunFlags registers the suite flags on cmd. Their values reach the run
// through the config loader.
func AddRunFlags(cmd *cobra.Command, opts *RunOptions) {
	f := cmd.Flags()
	f.BoolVarP(&opts.Dry, "dry", "d", false, "Dry run: list the cases pg_prove would run without touching any database")
	f.BoolVarP(&opts.Quiet, "quiet", "q", false, "Suppress pg_prove test output")
	f.BoolVarP(&opts.WithoutRemote, "without-remote", "w", false, "Skip the remote database (no init, seed or rollback scripts)")
	f.BoolVarP(&opts.TraceDriver, "trace-driver", "t", false, "Enable client driver tracing into the logs directory")
	f.BoolVarP(&opts.List, "list", "l", false, "List the test cases grouped by prefix and exit")
	f.BoolVar(&opts.Freeze, "freeze", false, "Keep databases and remote objects after a failure")
	f.BoolVar(&opts.Regex, "regex", false, "Treat keywords as regular expressions")
}

// NewRunCommand creates the run command.
func NewRunCommand(deps Deps) *cobra.Command {
	opts := &RunOptions{}
	cmd := &cobra.Command{
		Use:   "run [keywords...]",
		Short: "Run the regression suite",
		Long: `Run the regression suite against a throwaway PostgreSQL database.

A run writes the driver data source file, initializes the test schema in the
remote database, creates and bootstraps an ephemeral local database, runs the
selected pgTAP cases with pg_prove and rolls everything back. Keywords select
cases whose file name contains any of them.

With --freeze a failed run keeps its database and remote objects for
inspection; 'fdwregress cleanup' removes them later.`,
		Example: `  # Run every case
  fdwregress run

  # Run the select and insert cases only, keeping everything on failure
  fdwregress run select insert --freeze

  # Show what would run
  fdwregress run --dry`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return RunSuite(cmd, args, deps)
		},
	}
	AddRunFlags(cmd, opts)
	return cmd
}

// RunSuite runs one regression cycle for the config in cmd's context.
func RunSuite(cmd *cobra.Command, keywords []string, deps Deps) error {
	cmdCtx, err := NewCommandContext(cmd)
	if err != nil {
		return err
	}
	if deps.Runner == nil {
		deps.Runner = command.NewExec(cmdCtx.Logger)
	}

	if cmdCtx.Config.Run.List {
		return listCases(cmdCtx, keywords)
	}

	if config.GetConfigFileUsed() == "" && isInteractive(deps.Stdin) {
		if cmdCtx, err = firstRunConfig(cmd, cmdCtx, deps.Stdin); err != nil {
			return err
		}
	}

	cfg := cmdCtx.Config
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if err := cfg.ValidateDirectories(); err != nil {
		return err
	}

	lk, err := lock.Acquire(cfg.Paths.Lock)
	if err != nil {
		if errors.Is(err, lock.ErrLocked) {
			return fmt.Errorf("another run is in progress in %s: %w", cfg.Home, err)
		}
		return err
	}
	defer func() { _ = lk.Release() }()

	var ctrlOpts []lifecycle.Option
	ctrlOpts = append(ctrlOpts, lifecycle.WithLogger(cmdCtx.Logger))
	if store, err := cmdCtx.OpenLedger(); err != nil {
		cmdCtx.Logger.Warn("run ledger unavailable, this run will not be recorded", slog.String("error", err.Error()))
	} else {
		defer func() { _ = store.Close() }()
		ctrlOpts = append(ctrlOpts, lifecycle.WithRecorder(store))
	}

	lcfg, err := LifecycleConfig(cfg, keywords)
	if err != nil {
		return err
	}
	lcfg.Prove.Stdout = cmd.OutOrStdout()
	lcfg.Prove.Stderr = cmd.ErrOrStderr()

	session := remote.NewSession(RemoteConfig(cfg), sessionOptions(deps, cmdCtx.Logger)...)
	db := ephemeral.New(ephemeral.GenerateName(cfg.Ephemeral.Prefix), AdminConfig(cfg), deps.Runner,
		databaseOptions(deps, cmdCtx.Logger)...)

	ctrl := lifecycle.New(lcfg, deps.Runner, session, db, ctrlOpts...)
	runErr := ctrl.Run(cmd.Context())
	reportRun(cmdCtx.Renderer, ctrl, db.Name(), runErr)
	return runErr
}

func reportRun(r *output.Renderer, ctrl *lifecycle.Controller, database string, err error) {
	switch {
	case err == nil:
		r.Success("regression suite passed")
	case ctrl.State() == lifecycle.StateFailed:
		r.Warning(fmt.Sprintf("run frozen, database %s and remote test objects were kept", database))
		r.Muted("Run 'fdwregress cleanup' to drop them")
	}
	if id := ctrl.RunID(); id != "" {
		r.Muted("run " + id)
	}
}

// LifecycleConfig maps the CLI configuration onto a controller config.
func LifecycleConfig(cfg *config.Config, keywords []string) (lifecycle.Config, error) {
	initPolicy, err := remote.ParsePolicy(cfg.Scripts.InitPolicy)
	if err != nil {
		return lifecycle.Config{}, fmt.Errorf("scripts.init_policy: %w", err)
	}
	seedPolicy, err := remote.ParsePolicy(cfg.Scripts.SeedPolicy)
	if err != nil {
		return lifecycle.Config{}, fmt.Errorf("scripts.seed_policy: %w", err)
	}
	rollbackPolicy, err := remote.ParsePolicy(cfg.Scripts.RollbackPolicy)
	if err != nil {
		return lifecycle.Config{}, fmt.Errorf("scripts.rollback_policy: %w", err)
	}

	admin := AdminConfig(cfg)
	return lifecycle.Config{
		CasesDir:      cfg.Paths.CasesDir,
		Keywords:      keywords,
		Regex:         cfg.Run.Regex,
		DryRun:        cfg.Run.Dry,
		WithoutRemote: cfg.Run.WithoutRemote,
		Freeze:        cfg.Run.Freeze,
		Init:          lifecycle.Script{Path: cfg.Paths.InitScript, Policy: initPolicy},
		Seed:          lifecycle.Script{Path: cfg.Paths.SeedScript, Policy: seedPolicy},
		Rollback:      lifecycle.Script{Path: cfg.Paths.RollbackScript, Policy: rollbackPolicy},
		Extensions:    cfg.Local.Extensions,
		Driver: driverconf.Config{
			Path:          cfg.Paths.DriverConfig,
			DriverLibrary: cfg.Paths.DriverLibrary,
			Host:          cfg.Remote.Host,
			Port:          cfg.Remote.Port,
			Database:      cfg.Remote.DBName,
			User:          cfg.Remote.User,
			Password:      cfg.Remote.Password,
			Trace:         cfg.Run.TraceDriver,
			LogDir:        cfg.Paths.LogsDir,
		},
		DriverProbe: cfg.Tools.DriverProbe,
		AdminTools:  []string{admin.CreateCommand, admin.DropCommand},
		Prove: pgtap.Options{
			Program: cfg.Tools.Runner,
			Quiet:   cfg.Run.Quiet,
			Target: pgtap.Target{
				Host:     cfg.Local.Host,
				Port:     cfg.Local.Port,
				User:     cfg.Local.User,
				Password: cfg.Local.Password,
			},
			Remote: pgtap.RemoteVars{
				Host:     cfg.Remote.Host,
				Port:     cfg.Remote.Port,
				Database: cfg.Remote.DBName,
				User:     cfg.Remote.User,
				Password: cfg.Remote.Password,
			},
		},
	}, nil
}

// RemoteConfig maps the CLI configuration onto a remote session config.
func RemoteConfig(cfg *config.Config) remote.Config {
	return remote.Config{
		Driver:         cfg.Remote.Driver,
		DSN:            cfg.Remote.DSN,
		Host:           cfg.Remote.Host,
		Port:           cfg.Remote.Port,
		Database:       cfg.Remote.DBName,
		User:           cfg.Remote.User,
		Password:       cfg.Remote.Password,
		HealthQuery:    cfg.Remote.HealthQuery,
		HealthSentinel: cfg.Remote.HealthSentinel,
	}
}

// AdminConfig maps the CLI configuration onto the ephemeral database admin config.
func AdminConfig(cfg *config.Config) ephemeral.AdminConfig {
	admin := ephemeral.AdminConfig{
		Host:          cfg.Local.Host,
		Port:          cfg.Local.Port,
		User:          cfg.Local.User,
		Password:      cfg.Local.Password,
		MaintenanceDB: cfg.Local.DBName,
		CreateCommand: cfg.Tools.CreateDB,
		DropCommand:   cfg.Tools.DropDB,
	}
	if admin.CreateCommand == "" {
		admin.CreateCommand = config.DefaultCreateDB
	}
	if admin.DropCommand == "" {
		admin.DropCommand = config.DefaultDropDB
	}
	return admin
}

func sessionOptions(deps Deps, logger *slog.Logger) []remote.Option {
	opts := []remote.Option{remote.WithLogger(logger)}
	if deps.Opener != nil {
		opts = append(opts, remote.WithOpener(deps.Opener))
	}
	return opts
}

func databaseOptions(deps Deps, logger *slog.Logger) []ephemeral.Option {
	opts := []ephemeral.Option{ephemeral.WithLogger(logger)}
	if deps.Dial != nil {
		opts = append(opts, ephemeral.WithDialer(deps.Dial))
	}
	return opts
}

// firstRunConfig prompts for the connection settings when no config file
// exists and reloads the configuration from the written file.
func firstRunConfig(cmd *cobra.Command, cmdCtx *CommandContext, in io.Reader) (*CommandContext, error) {
	path := config.DefaultPath(cmdCtx.Config.Home)
	r := cmdCtx.Renderer
	r.Warning("no " + config.ConfigFileName + " found in " + cmdCtx.Config.Home)

	if err := promptAndWrite(NewPrompter(in, cmd.ErrOrStderr()), path, false); err != nil {
		return nil, err
	}
	r.StatusLine(path, "success", "created")

	cfg, err := config.LoadConfig(path, cmd.Flags())
	if err != nil {
		return nil, err
	}
	cmd.SetContext(config.WithConfig(cmd.Context(), cfg))
	return NewCommandContext(cmd)
}

func isInteractive(in io.Reader) bool {
	f, ok := in.(*os.File)
	return ok && isTerminalFile(f)
}
