package remote

import (
	"fmt"
	"strings"
)

// Policy selects how RunScript submits a script's statements.
type Policy int

const (
	// AbortOnError executes statements one at a time and stops at the first failure.
	AbortOnError Policy = iota
	// ContinueOnError executes statements one at a time, logging and counting failures.
	ContinueOnError
	// AtomicBlock submits all statements as one unit inside a single transaction.
	AtomicBlock
)

// String returns the configuration name of the policy.
func (p Policy) String() string {
	switch p {
	case AbortOnError:
		return "abort"
	case ContinueOnError:
		return "continue"
	case AtomicBlock:
		return "atomic"
	default:
		return fmt.Sprintf("Policy(%d)", int(p))
	}
}

// ParsePolicy parses a configuration name into a Policy.
func ParsePolicy(s string) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "abort", "":
		return AbortOnError, nil
	case "continue", "ignore":
		return ContinueOnError, nil
	case "atomic", "block":
		return AtomicBlock, nil
	default:
		return AbortOnError, fmt.Errorf("unknown script policy %q (want abort, continue or atomic)", s)
	}
}
