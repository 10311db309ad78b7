// Package testutil provides test utilities for CLI testing.
package testutil

import (
	"bytes"
	"os"
	"path/filepath"
	"regexp"
	"testing"

	"github.com/leapstack-labs/fdwregress/internal/cli/output"
)

// TestCases are the case files SetupTestProject creates.
var TestCases = []string{
	"insert_basic.sql",
	"insert_returning.sql",
	"select_join.sql",
	"select_where.sql",
	"update_basic.sql",
}

// InitScript is the remote schema script SetupTestProject creates.
const InitScript = `CREATE TABLE tbfdw_t1 (id NUMBER, name VARCHAR(32));
INSERT INTO tbfdw_t1 VALUES (1, 'one');
`

// RollbackScript is the remote rollback script SetupTestProject creates.
const RollbackScript = `DROP TABLE tbfdw_t1;
`

// DriverLibrary is the client driver library SetupTestProject creates, relative to the home.
const DriverLibrary = "lib/libtbodbc.so"

// SetupTestProject creates a temporary project home with test cases, remote
// scripts and a stand-in driver library. No config file is written.
func SetupTestProject(t *testing.T) string {
	t.Helper()

	home := t.TempDir()
	casesDir := filepath.Join(home, "test_cases")
	if err := os.MkdirAll(casesDir, 0o750); err != nil {
		t.Fatalf("failed to create directory %s: %v", casesDir, err)
	}

	for _, name := range TestCases {
		body := "SELECT plan(1);\nSELECT pass('" + name + "');\nSELECT * FROM finish();\n"
		if err := os.WriteFile(filepath.Join(casesDir, name), []byte(body), 0o600); err != nil {
			t.Fatalf("failed to create %s: %v", name, err)
		}
	}
	// not a case
	if err := os.WriteFile(filepath.Join(casesDir, "README"), []byte("notes"), 0o600); err != nil {
		t.Fatalf("failed to create README: %v", err)
	}

	scripts := map[string]string{
		"tibero_init.sql":     InitScript,
		"tibero_rollback.sql": RollbackScript,
	}
	for name, body := range scripts {
		if err := os.WriteFile(filepath.Join(home, name), []byte(body), 0o600); err != nil {
			t.Fatalf("failed to create %s: %v", name, err)
		}
	}

	library := filepath.Join(home, filepath.FromSlash(DriverLibrary))
	if err := os.MkdirAll(filepath.Dir(library), 0o750); err != nil {
		t.Fatalf("failed to create directory for %s: %v", library, err)
	}
	if err := os.WriteFile(library, []byte{0x7f, 'E', 'L', 'F'}, 0o600); err != nil {
		t.Fatalf("failed to create %s: %v", library, err)
	}

	return home
}

// WriteConfig writes fdwregress.yaml into home.
func WriteConfig(t *testing.T, home, content string) string {
	t.Helper()
	path := filepath.Join(home, "fdwregress.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

// TestRenderer wraps a Renderer for testing with captured output buffers.
type TestRenderer struct {
	*output.Renderer
	Out    *bytes.Buffer
	ErrOut *bytes.Buffer
}

// NewTestRenderer creates a new test renderer with the specified mode and TTY state.
func NewTestRenderer(mode output.Mode, isTTY bool) *TestRenderer {
	out := &bytes.Buffer{}
	errOut := &bytes.Buffer{}
	return &TestRenderer{
		Renderer: output.NewRendererWithTTY(out, errOut, mode, isTTY),
		Out:      out,
		ErrOut:   errOut,
	}
}

// Output returns the captured stdout output.
func (tr *TestRenderer) Output() string {
	return tr.Out.String()
}

// ErrorOutput returns the captured stderr output.
func (tr *TestRenderer) ErrorOutput() string {
	return tr.ErrOut.String()
}

// ansiPattern matches ANSI escape codes.
var ansiPattern = regexp.MustCompile(`\x1b\[[0-9;]*[a-zA-Z]`)

// AssertNoANSI checks that a string contains no ANSI escape codes.
func AssertNoANSI(t *testing.T, s string) {
	t.Helper()
	if ansiPattern.MatchString(s) {
		t.Errorf("string contains ANSI escape codes: %q", s)
	}
}
