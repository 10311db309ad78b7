package commands

import (
	"bytes"
	"context"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/fdwregress/internal/cli/config"
	"github.com/leapstack-labs/fdwregress/internal/cli/testutil"
	"github.com/leapstack-labs/fdwregress/internal/command"
	"github.com/leapstack-labs/fdwregress/internal/state"
	rtestutil "github.com/leapstack-labs/fdwregress/internal/testutil"
)

// loadProject loads the config of a test project home written with content.
func loadProject(t *testing.T, content string) *config.Config {
	t.Helper()
	config.ResetConfig()
	home := testutil.SetupTestProject(t)
	if content != "" {
		testutil.WriteConfig(t, home, content)
	}
	t.Setenv("FDWREGRESS_HOME", home)

	cfg, err := config.LoadConfig("", nil)
	require.NoError(t, err)
	return cfg
}

type execResult struct {
	out    bytes.Buffer
	errOut bytes.Buffer
}

// execute runs cmd with args and cfg in its context, the way the root command would.
func execute(t *testing.T, cmd *cobra.Command, cfg *config.Config, args ...string) (*execResult, error) {
	t.Helper()
	res := &execResult{}
	cmd.SetOut(&res.out)
	cmd.SetErr(&res.errOut)
	cmd.SetArgs(args)
	cmd.SilenceUsage = true
	cmd.SilenceErrors = true

	ctx := context.WithValue(context.Background(), config.LoggerKey(), rtestutil.NewTestLogger(t))
	ctx = config.WithConfig(ctx, cfg)
	return res, cmd.ExecuteContext(ctx)
}

// proveFails makes every pg_prove run except the version probe fail.
func proveFails(runner *command.Fake) {
	runner.Handle = func(c command.Command) error {
		if c.Name == "pg_prove" && (len(c.Args) == 0 || c.Args[0] != "--version") {
			return &command.ExitError{Name: c.Name, Code: 1}
		}
		return nil
	}
}

func openLedger(t *testing.T, cfg *config.Config) *state.SQLiteStore {
	t.Helper()
	store := state.NewSQLiteStore(nil)
	require.NoError(t, store.Open(cfg.Paths.State))
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestNewRunCommand(t *testing.T) {
	cmd := NewRunCommand(Deps{})

	assert.Equal(t, "run [keywords...]", cmd.Use)
	assert.NotEmpty(t, cmd.Short, "Short should not be empty")
	assert.NotEmpty(t, cmd.Example, "Example should not be empty")

	flags := []string{"dry", "quiet", "without-remote", "trace-driver", "list", "freeze", "regex"}
	for _, flag := range flags {
		assert.NotNil(t, cmd.Flags().Lookup(flag), "flag %q should exist", flag)
	}
	assert.Equal(t, "d", cmd.Flags().Lookup("dry").Shorthand)
	assert.Equal(t, "w", cmd.Flags().Lookup("without-remote").Shorthand)
	assert.Equal(t, "t", cmd.Flags().Lookup("trace-driver").Shorthand)
}

func TestNewListCommand(t *testing.T) {
	cmd := NewListCommand()

	assert.Equal(t, "list [keywords...]", cmd.Use)
	assert.NotEmpty(t, cmd.Short, "Short should not be empty")
	assert.NotNil(t, cmd.Flags().Lookup("regex"))
}

func TestNewInitCommand(t *testing.T) {
	cmd := NewInitCommand(nil)

	assert.Equal(t, "init", cmd.Use)
	for _, flag := range []string{"force", "remote", "local"} {
		assert.NotNil(t, cmd.Flags().Lookup(flag), "flag %q should exist", flag)
	}
}

func TestNewHistoryCommand(t *testing.T) {
	cmd := NewHistoryCommand()

	assert.Equal(t, "history", cmd.Use)
	assert.Equal(t, "20", cmd.Flags().Lookup("limit").DefValue)
}

func TestNewCleanupCommand(t *testing.T) {
	cmd := NewCleanupCommand(Deps{})

	assert.Equal(t, "cleanup", cmd.Use)
	assert.NotNil(t, cmd.Flags().Lookup("dry-run"))
	assert.NotNil(t, cmd.Flags().Lookup("remote"))
}

func TestCommandsRequireConfig(t *testing.T) {
	cmd := NewHistoryCommand()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(nil)
	cmd.SilenceUsage = true
	cmd.SilenceErrors = true

	err := cmd.ExecuteContext(context.Background())
	assert.ErrorIs(t, err, errNoConfig)
}
