package commands

import (
	"fmt"

	"github.com/spf13/cobra"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/leapstack-labs/fdwregress/internal/cli/output"
	"github.com/leapstack-labs/fdwregress/internal/pgtap"
)

// NewListCommand creates the list command.
func NewListCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list [keywords...]",
		Short: "List test cases grouped by prefix",
		Long: `List the pgTAP test cases in the test case directory, grouped by the part
of the file name before the first underscore. Keywords filter the list the
same way they select cases for a run.`,
		Example: `  # List every case
  fdwregress list

  # List the cases a run with these keywords would execute
  fdwregress list select join`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cmdCtx, err := NewCommandContext(cmd)
			if err != nil {
				return err
			}
			return listCases(cmdCtx, args)
		},
	}
	// loaded as run.regex by the config loader
	cmd.Flags().Bool("regex", false, "Treat keywords as regular expressions")
	return cmd
}

// caseGroup is the JSON output for one group.
type caseGroup struct {
	Prefix string   `json:"prefix"`
	Cases  []string `json:"cases"`
}

func listCases(cmdCtx *CommandContext, keywords []string) error {
	cfg := cmdCtx.Config
	if err := cfg.ValidateDirectories(); err != nil {
		return err
	}

	all, err := pgtap.Discover(cfg.Paths.CasesDir)
	if err != nil {
		return err
	}
	selected, err := pgtap.Select(all, keywords, cfg.Run.Regex)
	if err != nil {
		return err
	}
	groups := pgtap.GroupCases(selected)

	r := cmdCtx.Renderer
	switch r.EffectiveMode() {
	case output.ModeJSON:
		out := make([]caseGroup, 0, len(groups))
		for _, g := range groups {
			cg := caseGroup{Prefix: g.Prefix}
			for _, c := range g.Cases {
				cg.Cases = append(cg.Cases, c.Name)
			}
			out = append(out, cg)
		}
		return r.JSON(out)
	case output.ModeMarkdown:
		listMarkdown(r, groups, len(selected))
	default:
		listText(r, groups, len(selected))
	}
	return nil
}

func listText(r *output.Renderer, groups []pgtap.Group, total int) {
	styles := r.Styles()
	titleCaser := cases.Title(language.English)

	r.Header(1, fmt.Sprintf("Test cases (%d total)", total))
	for _, g := range groups {
		r.Println(styles.Header2.Render(titleCaser.String(g.Prefix)) + styles.Muted.Render(fmt.Sprintf(" (%d)", len(g.Cases))))
		for _, c := range g.Cases {
			r.Println("  - " + c.Name)
		}
	}
}

func listMarkdown(r *output.Renderer, groups []pgtap.Group, total int) {
	r.Println(output.FormatHeader(1, fmt.Sprintf("Test cases (%d total)", total)))
	for _, g := range groups {
		r.Println("")
		r.Println(output.FormatHeader(2, g.Prefix))
		r.Println("")
		for _, c := range g.Cases {
			r.Println("- " + c.Name)
		}
	}
}
