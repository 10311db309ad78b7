package command

import (
	"context"
	"fmt"
	"sync"
)

// Fake is an in-memory Runner for tests. It records every command and
// answers from per-program results.
type Fake struct {
	mu sync.Mutex

	// Calls holds every command passed to Run, in order.
	Calls []Command
	// Results maps a program name to the error Run returns for it.
	Results map[string]error
	// Missing lists program names LookPath cannot resolve.
	Missing map[string]bool
	// Handle, when set, decides the result of every Run instead of Results.
	Handle func(Command) error
}

// NewFake creates an empty Fake.
func NewFake() *Fake {
	return &Fake{
		Results: make(map[string]error),
		Missing: make(map[string]bool),
	}
}

// Run records cmd and returns the configured result for its program.
func (f *Fake) Run(_ context.Context, cmd Command) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Calls = append(f.Calls, cmd)
	if f.Handle != nil {
		return f.Handle(cmd)
	}
	return f.Results[cmd.Name]
}

// LookPath resolves every program not listed in Missing.
func (f *Fake) LookPath(name string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Missing[name] {
		return "", fmt.Errorf("exec: %q: executable file not found in $PATH", name)
	}
	return "/usr/bin/" + name, nil
}

// CallsTo returns the recorded commands for one program.
func (f *Fake) CallsTo(name string) []Command {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Command
	for _, c := range f.Calls {
		if c.Name == name {
			out = append(out, c)
		}
	}
	return out
}

// Names returns the program names of the recorded commands, in order.
func (f *Fake) Names() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.Calls))
	for i, c := range f.Calls {
		out[i] = c.Name
	}
	return out
}

var _ Runner = (*Fake)(nil)
