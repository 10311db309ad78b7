// Package command runs the external tools the harness drives:
// the test runner, the admin create/drop commands and the tool probes.
package command

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
)

// Command describes one synchronous invocation of an external program.
type Command struct {
	Name string
	Args []string
	// Env holds extra NAME=value pairs appended to the parent environment
	// of the child. The parent process environment is never modified.
	Env []string
	Dir string

	// Stdout and Stderr receive the child's output. When both are nil the
	// output is captured and attached to an *ExitError on failure.
	Stdout io.Writer
	Stderr io.Writer
}

// String renders the command line without its environment.
func (c Command) String() string {
	if len(c.Args) == 0 {
		return c.Name
	}
	return c.Name + " " + strings.Join(c.Args, " ")
}

// Runner executes commands and resolves program names.
type Runner interface {
	Run(ctx context.Context, cmd Command) error
	LookPath(name string) (string, error)
}

// ExitError reports a command that ran but exited non-zero.
type ExitError struct {
	Name   string
	Code   int
	Output string // captured output, empty when the caller supplied writers
}

func (e *ExitError) Error() string {
	msg := fmt.Sprintf("%s exited with status %d", e.Name, e.Code)
	if out := strings.TrimSpace(e.Output); out != "" {
		msg += ": " + out
	}
	return msg
}

// Exec runs commands with os/exec.
type Exec struct {
	Logger *slog.Logger
}

// NewExec creates an Exec runner. If logger is nil, a discard logger is used.
func NewExec(logger *slog.Logger) *Exec {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Exec{Logger: logger}
}

// LookPath resolves name on PATH.
func (e *Exec) LookPath(name string) (string, error) {
	return exec.LookPath(name)
}

// Run starts the command and waits for it to finish.
func (e *Exec) Run(ctx context.Context, c Command) error {
	cmd := exec.CommandContext(ctx, c.Name, c.Args...) //nolint:gosec // programs and arguments come from harness configuration
	cmd.Dir = c.Dir
	if len(c.Env) > 0 {
		cmd.Env = append(os.Environ(), c.Env...)
	}

	var captured bytes.Buffer
	capture := c.Stdout == nil && c.Stderr == nil
	if capture {
		cmd.Stdout = &captured
		cmd.Stderr = &captured
	} else {
		cmd.Stdout = c.Stdout
		cmd.Stderr = c.Stderr
	}

	e.Logger.Debug("running command", slog.String("command", c.String()))

	err := cmd.Run()
	if err == nil {
		return nil
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return &ExitError{Name: c.Name, Code: exitErr.ExitCode(), Output: captured.String()}
	}
	return fmt.Errorf("failed to run %s: %w", c.Name, err)
}

// Ensure Exec implements Runner
var _ Runner = (*Exec)(nil)
