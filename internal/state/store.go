// Package state records harness runs in a SQLite ledger.
// It tracks each run's outcome and the ephemeral database it created, so
// databases left behind by frozen or crashed runs can be found and dropped.
package state

import "time"

// RunStatus is the outcome of a run.
type RunStatus string

// Run statuses.
const (
	RunStatusRunning RunStatus = "running"
	RunStatusPassed  RunStatus = "passed"
	RunStatusFailed  RunStatus = "failed"
)

// Run is one harness invocation.
type Run struct {
	ID          string
	StartedAt   time.Time
	CompletedAt *time.Time
	Status      RunStatus
	Keywords    string
	DryRun      bool
	// Database is the ephemeral database name, empty until one is created.
	Database string
	// Frozen is set when rollback was skipped after a failure.
	Frozen bool
	// DropFailed is set when rollback could not drop the database.
	DropFailed bool
	// Cleaned is set once cleanup dropped the leftover database.
	Cleaned bool
	Error   string
}

// Duration returns how long the run took, or zero while it is running.
func (r *Run) Duration() time.Duration {
	if r.CompletedAt == nil {
		return 0
	}
	return r.CompletedAt.Sub(r.StartedAt)
}

// Leftover reports whether the run may have left its database behind.
func (r *Run) Leftover() bool {
	if r.Database == "" || r.Cleaned {
		return false
	}
	return r.Frozen || r.DropFailed || r.Status == RunStatusRunning
}
