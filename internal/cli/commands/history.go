package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/leapstack-labs/fdwregress/internal/cli/output"
	"github.com/leapstack-labs/fdwregress/internal/state"
)

// NewHistoryCommand creates the history command.
func NewHistoryCommand() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent runs",
		Long: `Show recent runs from the run ledger, newest first, with their outcome and
the ephemeral database each one used. Frozen runs whose database was not yet
cleaned up are marked as leftovers.`,
		Example: `  fdwregress history
  fdwregress history --limit 5 -o json`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runHistory(cmd, limit)
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Number of runs to show")
	return cmd
}

// runRecord is the JSON output for one run.
type runRecord struct {
	ID          string     `json:"id"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Status      string     `json:"status"`
	Keywords    string     `json:"keywords,omitempty"`
	DryRun      bool       `json:"dry_run"`
	Database    string     `json:"database,omitempty"`
	Frozen      bool       `json:"frozen"`
	DropFailed  bool       `json:"drop_failed"`
	Cleaned     bool       `json:"cleaned"`
	Leftover    bool       `json:"leftover"`
	Error       string     `json:"error,omitempty"`
}

func runHistory(cmd *cobra.Command, limit int) error {
	cmdCtx, err := NewCommandContext(cmd)
	if err != nil {
		return err
	}
	store, err := cmdCtx.OpenLedger()
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	runs, err := store.ListRuns(cmd.Context(), limit)
	if err != nil {
		return err
	}

	r := cmdCtx.Renderer
	if r.EffectiveMode() == output.ModeJSON {
		out := make([]runRecord, 0, len(runs))
		for _, run := range runs {
			out = append(out, runRecord{
				ID:          run.ID,
				StartedAt:   run.StartedAt,
				CompletedAt: run.CompletedAt,
				Status:      string(run.Status),
				Keywords:    run.Keywords,
				DryRun:      run.DryRun,
				Database:    run.Database,
				Frozen:      run.Frozen,
				DropFailed:  run.DropFailed,
				Cleaned:     run.Cleaned,
				Leftover:    run.Leftover(),
				Error:       run.Error,
			})
		}
		return r.JSON(out)
	}

	if len(runs) == 0 {
		r.Muted("No runs recorded yet")
		return nil
	}

	rows := make([][]string, 0, len(runs))
	for _, run := range runs {
		rows = append(rows, []string{
			shortID(run.ID),
			run.StartedAt.Local().Format("2006-01-02 15:04:05"),
			formatDuration(run),
			statusLabel(run),
			run.Database,
			run.Keywords,
		})
	}
	r.Header(1, fmt.Sprintf("Runs (%d shown)", len(runs)))
	r.Table([]string{"ID", "Started", "Duration", "Status", "Database", "Keywords"}, rows)
	return nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func formatDuration(run *state.Run) string {
	if run.CompletedAt == nil {
		return "-"
	}
	return run.Duration().Round(time.Millisecond).String()
}

func statusLabel(run *state.Run) string {
	label := string(run.Status)
	if run.DryRun {
		label += " (dry)"
	}
	switch {
	case run.Leftover():
		label += ", leftover"
	case run.Cleaned:
		label += ", cleaned"
	}
	return label
}
