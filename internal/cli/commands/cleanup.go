package commands

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/leapstack-labs/fdwregress/internal/command"
	"github.com/leapstack-labs/fdwregress/internal/driverconf"
	"github.com/leapstack-labs/fdwregress/internal/ephemeral"
	"github.com/leapstack-labs/fdwregress/internal/lock"
	"github.com/leapstack-labs/fdwregress/internal/remote"
)

// CleanupOptions holds options for the cleanup command.
type CleanupOptions struct {
	DryRun bool
	Remote bool
}

// NewCleanupCommand creates the cleanup command.
func NewCleanupCommand(deps Deps) *cobra.Command {
	opts := &CleanupOptions{}
	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Drop databases left behind by frozen, crashed or failed rollbacks",
		Long: `Drop the ephemeral databases of runs that were frozen after a failure, died
before their rollback or could not drop their database during rollback, then
mark those runs cleaned in the ledger. The
driver data source file of a frozen run is removed as well.

With --remote the rollback script is also run against the remote database.`,
		Example: `  # Show what would be dropped
  fdwregress cleanup --dry-run

  # Drop leftover databases and undo the remote test schema
  fdwregress cleanup --remote`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runCleanup(cmd, deps, opts)
		},
	}
	cmd.Flags().BoolVar(&opts.DryRun, "dry-run", false, "List leftover databases without dropping them")
	cmd.Flags().BoolVar(&opts.Remote, "remote", false, "Also run the rollback script against the remote database")
	return cmd
}

func runCleanup(cmd *cobra.Command, deps Deps, opts *CleanupOptions) error {
	cmdCtx, err := NewCommandContext(cmd)
	if err != nil {
		return err
	}
	cfg := cmdCtx.Config
	r := cmdCtx.Renderer
	ctx := cmd.Context()
	if deps.Runner == nil {
		deps.Runner = command.NewExec(cmdCtx.Logger)
	}

	lk, err := lock.Acquire(cfg.Paths.Lock)
	if err != nil {
		if errors.Is(err, lock.ErrLocked) {
			return fmt.Errorf("a run is in progress in %s, try again when it finishes: %w", cfg.Home, err)
		}
		return err
	}
	defer func() { _ = lk.Release() }()

	store, err := cmdCtx.OpenLedger()
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	runs, err := store.LeftoverRuns(ctx)
	if err != nil {
		return err
	}
	if len(runs) == 0 && !opts.Remote {
		r.Success("nothing to clean up")
		return nil
	}

	admin := AdminConfig(cfg)
	var errs []error
	for _, run := range runs {
		if opts.DryRun {
			r.StatusLine(run.Database, "skipped", fmt.Sprintf("run %s, %s", shortID(run.ID), run.Status))
			continue
		}
		db := ephemeral.Existing(run.Database, admin, deps.Runner, databaseOptions(deps, cmdCtx.Logger)...)
		if err := db.Drop(ctx); err != nil {
			r.StatusLine(run.Database, "error", err.Error())
			errs = append(errs, err)
			continue
		}
		if err := store.MarkCleaned(ctx, run.ID); err != nil {
			cmdCtx.Logger.Warn("failed to mark run cleaned", slog.String("run", run.ID), slog.String("error", err.Error()))
		}
		r.StatusLine(run.Database, "success", "dropped")
	}

	if opts.DryRun {
		return nil
	}

	if err := driverconf.Remove(cfg.Paths.DriverConfig); err != nil {
		errs = append(errs, err)
	}

	if opts.Remote {
		if err := rollbackRemote(cmd, cmdCtx, deps); err != nil {
			r.StatusLine("remote rollback", "error", err.Error())
			errs = append(errs, err)
		} else {
			r.StatusLine("remote rollback", "success", cfg.Paths.RollbackScript)
		}
	}

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("cleanup incomplete: %w", err)
	}
	r.Success("cleanup done")
	return nil
}

func rollbackRemote(cmd *cobra.Command, cmdCtx *CommandContext, deps Deps) error {
	cfg := cmdCtx.Config
	if cfg.Paths.RollbackScript == "" {
		return fmt.Errorf("paths.rollback_script is not configured")
	}
	policy, err := remote.ParsePolicy(cfg.Scripts.RollbackPolicy)
	if err != nil {
		return fmt.Errorf("scripts.rollback_policy: %w", err)
	}

	session := remote.NewSession(RemoteConfig(cfg), sessionOptions(deps, cmdCtx.Logger)...)
	defer func() { _ = session.Close() }()

	ctx := cmd.Context()
	if err := session.Connect(ctx); err != nil {
		return err
	}
	_, err = session.RunScript(ctx, cfg.Paths.RollbackScript, policy)
	return err
}
