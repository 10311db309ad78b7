package commands

import (
	"io"

	"github.com/spf13/cobra"

	"github.com/leapstack-labs/fdwregress/internal/cli/config"
)

// InitOptions holds options for the init command.
type InitOptions struct {
	Force  bool
	Remote string
	Local  string
}

// NewInitCommand creates the init command. Answers are read from in.
func NewInitCommand(in io.Reader) *cobra.Command {
	opts := &InitOptions{}
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create the fdwregress.yaml config file",
		Long: `Create fdwregress.yaml in the project home with the Tibero and PostgreSQL
connection settings. Connection strings have the form
host:port:dbname:user[:password]; a missing password is prompted for without
echo. Pass --remote and --local to skip the prompts.`,
		Example: `  # Prompt for both connections
  fdwregress init

  # Non-interactive
  fdwregress init --remote tibero:8629:tibero:sys:tibero --local localhost:5432:postgres:postgres`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runInit(cmd, in, opts)
		},
	}

	cmd.Flags().BoolVar(&opts.Force, "force", false, "Overwrite an existing config file")
	cmd.Flags().StringVar(&opts.Remote, "remote", "", "Tibero connection string")
	cmd.Flags().StringVar(&opts.Local, "local", "", "PostgreSQL connection string")

	return cmd
}

func runInit(cmd *cobra.Command, in io.Reader, opts *InitOptions) error {
	cmdCtx, err := NewCommandContext(cmd)
	if err != nil {
		return err
	}
	r := cmdCtx.Renderer

	path := config.GetConfigFileUsed()
	if path == "" {
		path = config.DefaultPath(cmdCtx.Config.Home)
	}

	p := NewPrompter(in, cmd.ErrOrStderr())
	remoteEnd, err := endpointFromFlagOrPrompt(p, opts.Remote, "Tibero")
	if err != nil {
		return err
	}
	localEnd, err := endpointFromFlagOrPrompt(p, opts.Local, "PostgreSQL")
	if err != nil {
		return err
	}

	if err := config.WriteFile(path, config.File{Remote: remoteEnd, Local: localEnd}, opts.Force); err != nil {
		return err
	}

	r.StatusLine(path, "success", "")
	r.Println("")
	r.Success("fdwregress configured!")
	r.Println("")
	r.Println("  Tibero:     " + remoteEnd.String())
	r.Println("  PostgreSQL: " + localEnd.String())
	r.Println("")
	r.Println("Next steps:")
	r.Println("  1. Put pgTAP cases in " + cmdCtx.Config.Paths.CasesDir)
	r.Println("  2. Run 'fdwregress list' to see them")
	r.Println("  3. Run 'fdwregress' to run the suite")
	return nil
}

func endpointFromFlagOrPrompt(p *Prompter, value, label string) (config.Endpoint, error) {
	if value == "" {
		return p.Endpoint(label)
	}
	return config.ParseEndpoint(value)
}
