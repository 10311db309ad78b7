// Package cli provides the command-line interface for fdwregress.
package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/leapstack-labs/fdwregress/internal/cli/commands"
	"github.com/leapstack-labs/fdwregress/internal/cli/config"
)

// Version information (set at build time).
var (
	Version   = "0.1.0"
	BuildDate = "unknown"
	GitCommit = "unknown"
)

// NewRootCmd creates and returns the root command.
func NewRootCmd() *cobra.Command {
	return NewRootCmdWithDeps(commands.Deps{Stdin: os.Stdin})
}

// NewRootCmdWithDeps creates the root command with explicit collaborators.
func NewRootCmdWithDeps(deps commands.Deps) *cobra.Command {
	var cfgFile string
	runOpts := &commands.RunOptions{}

	rootCmd := &cobra.Command{
		Use:   "fdwregress [keywords...]",
		Short: "fdwregress - Regression harness for the Tibero foreign data wrapper",
		Long: `fdwregress runs the pgTAP regression suite of the Tibero foreign data wrapper.

Each run initializes the test schema in Tibero, creates a throwaway PostgreSQL
database, runs the selected cases with pg_prove and rolls everything back.
Keywords select the cases whose file name contains any of them; without
keywords every case runs.`,
		Example: `  # Run the whole suite
  fdwregress

  # Run the select cases, keep everything if one fails
  fdwregress select --freeze

  # List the cases grouped by prefix
  fdwregress -l`,
		Version: Version,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			// Skip config loading for help and completion commands
			if cmd.Name() == "help" || cmd.Name() == "completion" || cmd.Name() == "__complete" {
				return nil
			}

			cfg, err := config.LoadConfig(cfgFile, cmd.Flags())
			if err != nil {
				return err
			}

			logger := newLogger(cmd.ErrOrStderr(), cfg.Verbose)
			ctx := context.WithValue(cmd.Context(), config.LoggerKey(), logger)
			ctx = config.WithConfig(ctx, cfg)
			cmd.SetContext(ctx)

			if cfg.Verbose {
				if configFile := config.GetConfigFileUsed(); configFile != "" {
					logger.Debug("using config file", slog.String("path", configFile))
				}
				logger.Debug("using project home", slog.String("path", cfg.Home))
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return commands.RunSuite(cmd, args, deps)
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.SetVersionTemplate(`{{.Name}} {{.Version}}
`)

	// Global persistent flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: <home>/fdwregress.yaml)")
	rootCmd.PersistentFlags().String("home", "", "Project home holding the config, test cases and scripts")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Verbose output")
	rootCmd.PersistentFlags().StringP("output", "o", "", "Output format (auto|text|markdown|json)")

	_ = rootCmd.RegisterFlagCompletionFunc("output", func(_ *cobra.Command, _ []string, _ string) ([]string, cobra.ShellCompDirective) {
		return []string{"auto", "text", "markdown", "json"}, cobra.ShellCompDirectiveNoFileComp
	})

	commands.AddRunFlags(rootCmd, runOpts)

	rootCmd.AddCommand(commands.NewVersionCommand(Version))
	rootCmd.AddCommand(commands.NewRunCommand(deps))
	rootCmd.AddCommand(commands.NewListCommand())
	rootCmd.AddCommand(commands.NewInitCommand(deps.Stdin))
	rootCmd.AddCommand(commands.NewHistoryCommand())
	rootCmd.AddCommand(commands.NewCleanupCommand(deps))
	rootCmd.AddCommand(NewCompletionCommand())

	return rootCmd
}

func newLogger(w io.Writer, verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// Execute runs the root command. SIGINT and SIGTERM cancel the run; the
// rollback still completes.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd := NewRootCmd()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return err
	}
	return nil
}

// NewCompletionCommand creates the completion command.
func NewCompletionCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "completion [bash|zsh|fish|powershell]",
		Short: "Generate shell completion scripts",
		Long: `Generate shell completion scripts for fdwregress.

To load completions:

Bash:
  $ source <(fdwregress completion bash)

  # To load completions for each session, execute once:
  # Linux:
  $ fdwregress completion bash > /etc/bash_completion.d/fdwregress

Zsh:
  # If shell completion is not already enabled in your environment,
  # you will need to enable it. Execute the following once:
  $ echo "autoload -U compinit; compinit" >> ~/.zshrc

  # To load completions for each session, execute once:
  $ fdwregress completion zsh > "${fpath[1]}/_fdwregress"

Fish:
  $ fdwregress completion fish | source

PowerShell:
  PS> fdwregress completion powershell | Out-String | Invoke-Expression
`,
		DisableFlagsInUseLine: true,
		ValidArgs:             []string{"bash", "zsh", "fish", "powershell"},
		Args:                  cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			switch args[0] {
			case "bash":
				return cmd.Root().GenBashCompletion(out)
			case "zsh":
				return cmd.Root().GenZshCompletion(out)
			case "fish":
				return cmd.Root().GenFishCompletion(out, true)
			case "powershell":
				return cmd.Root().GenPowerShellCompletionWithDesc(out)
			}
			return nil
		},
	}
	return cmd
}
