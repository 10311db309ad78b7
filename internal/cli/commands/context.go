// Package commands implements the fdwregress subcommands.
package commands

import (
	"errors"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/leapstack-labs/fdwregress/internal/cli/config"
	"github.com/leapstack-labs/fdwregress/internal/cli/output"
	"github.com/leapstack-labs/fdwregress/internal/state"
)

var errNoConfig = errors.New("configuration not loaded")

// CommandContext bundles what every command needs from the root command.
type CommandContext struct {
	Config   *config.Config
	Logger   *slog.Logger
	Renderer *output.Renderer
}

// NewCommandContext reads the config and logger stored by the root command.
func NewCommandContext(cmd *cobra.Command) (*CommandContext, error) {
	cfg := config.FromContext(cmd.Context())
	if cfg == nil {
		return nil, errNoConfig
	}
	return &CommandContext{
		Config:   cfg,
		Logger:   config.GetLogger(cmd.Context()),
		Renderer: output.NewRenderer(cmd.OutOrStdout(), cmd.ErrOrStderr(), output.Mode(cfg.Output)),
	}, nil
}

// OpenLedger opens the run ledger. The caller closes it.
func (c *CommandContext) OpenLedger() (*state.SQLiteStore, error) {
	store := state.NewSQLiteStore(c.Logger)
	if err := store.Open(c.Config.Paths.State); err != nil {
		return nil, err
	}
	return store, nil
}
