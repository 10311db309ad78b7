package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/leapstack-labs/fdwregress/internal/command"
)

// ErrPreconditionMissing is returned when a required external tool is unavailable.
var ErrPreconditionMissing = errors.New("precondition missing")

// Probe checks that every tool resolves on PATH and that the test runner
// answers --version. Empty names are skipped.
func Probe(ctx context.Context, runner command.Runner, testRunner string, tools ...string) error {
	var missing []error
	for _, name := range append([]string{testRunner}, tools...) {
		if name == "" {
			continue
		}
		if _, err := runner.LookPath(name); err != nil {
			missing = append(missing, fmt.Errorf("%w: %s not found: %w", ErrPreconditionMissing, name, err))
		}
	}
	if len(missing) > 0 {
		return errors.Join(missing...)
	}

	if testRunner == "" {
		return nil
	}
	err := runner.Run(ctx, command.Command{
		Name:   testRunner,
		Args:   []string{"--version"},
		Stdout: io.Discard,
		Stderr: io.Discard,
	})
	if err != nil {
		return fmt.Errorf("%w: %s --version failed, check that pgTAP is installed: %w", ErrPreconditionMissing, testRunner, err)
	}
	return nil
}

// checkDriverLibrary fails unless path names an existing regular file.
func checkDriverLibrary(path string) error {
	if path == "" {
		return fmt.Errorf("%w: no client driver library configured", ErrPreconditionMissing)
	}
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("%w: client driver library: %w", ErrPreconditionMissing, err)
	}
	if !info.Mode().IsRegular() {
		return fmt.Errorf("%w: client driver library %s is not a file", ErrPreconditionMissing, path)
	}
	return nil
}
