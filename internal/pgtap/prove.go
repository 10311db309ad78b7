package pgtap

import (
	"context"
	"fmt"
	"io"
	"strconv"

	"github.com/leapstack-labs/fdwregress/internal/command"
)

// DefaultRunner is the pgTAP test runner program.
const DefaultRunner = "pg_prove"

// Target is the local database the cases run in.
type Target struct {
	Host     string
	Port     int
	Database string
	User     string
	Password string
}

// RemoteVars are exposed to the test cases as psql variables.
type RemoteVars struct {
	Host     string
	Port     int
	Database string
	User     string
	Password string
}

// Options configures one pg_prove invocation.
type Options struct {
	Program string
	Dry     bool
	Quiet   bool
	Target  Target
	Remote  RemoteVars
	// Env holds extra NAME=value pairs for the runner, such as the driver
	// configuration location.
	Env    []string
	Stdout io.Writer
	Stderr io.Writer
}

// Args returns the pg_prove arguments for files.
func (o Options) Args(files []string) []string {
	args := []string{
		"--norc",
		"--pset", "tuples_only=1",
		"--set", "PSQLRC=default",
	}
	if o.Dry {
		args = append(args, "--dry")
	}
	if o.Quiet {
		args = append(args, "--QUIET")
	} else {
		args = append(args, "--verbose")
	}

	args = append(args,
		"--host", o.Target.Host,
		"--port", strconv.Itoa(o.Target.Port),
		"--dbname", o.Target.Database,
		"--username", o.Target.User,
		"--set", "TIBERO_HOST="+o.Remote.Host,
		"--set", "TIBERO_PORT="+strconv.Itoa(o.Remote.Port),
		"--set", "TIBERO_DB="+o.Remote.Database,
		"--set", "TIBERO_USER="+o.Remote.User,
		"--set", "TIBERO_PASS="+o.Remote.Password,
	)
	return append(args, files...)
}

// Command builds the runner command for files. The local password is passed
// through PGPASSWORD in the child environment.
func (o Options) Command(files []string) command.Command {
	program := o.Program
	if program == "" {
		program = DefaultRunner
	}

	env := append([]string(nil), o.Env...)
	if o.Target.Password != "" {
		env = append(env, "PGPASSWORD="+o.Target.Password)
	}

	return command.Command{
		Name:   program,
		Args:   o.Args(files),
		Env:    env,
		Stdout: o.Stdout,
		Stderr: o.Stderr,
	}
}

// Prove runs pg_prove over files.
func Prove(ctx context.Context, runner command.Runner, opts Options, files []string) error {
	if err := runner.Run(ctx, opts.Command(files)); err != nil {
		return fmt.Errorf("pg_prove failed: %w", err)
	}
	return nil
}
