// Package driverconf writes the ODBC data source file the foreign data
// wrapper resolves its remote connection through.
package driverconf

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
)

// DSNName is the logical data source name the test cases reference.
const DSNName = "tbfdw_tibero"

const description = "Tibero ODBC Driver"

// Config describes one data source file.
type Config struct {
	// Path is where the file is written.
	Path string
	// DriverLibrary is the client driver shared library.
	DriverLibrary string

	Host     string
	Port     int
	Database string
	User     string
	Password string

	// Trace enables client library tracing into LogDir.
	Trace  bool
	LogDir string
}

// TraceFile returns the trace output file, or "" when tracing is off.
func (c Config) TraceFile() string {
	if !c.Trace {
		return ""
	}
	return filepath.Join(c.LogDir, DSNName+".trace")
}

// Render returns the file contents.
func Render(cfg Config) []byte {
	var b bytes.Buffer
	b.WriteString("[ODBC Data Source]\n")
	fmt.Fprintf(&b, "%s = %s\n", DSNName, description)
	fmt.Fprintf(&b, "[%s]\n", DSNName)

	writeKey(&b, "Driver", cfg.DriverLibrary)
	writeKey(&b, "Description", description)
	writeKey(&b, "Server", cfg.Host)
	writeKey(&b, "Port", strconv.Itoa(cfg.Port))
	writeKey(&b, "Database", cfg.Database)
	writeKey(&b, "User", cfg.User)
	writeKey(&b, "Password", cfg.Password)
	if cfg.Trace {
		writeKey(&b, "Trace", "Yes")
		writeKey(&b, "TraceFile", cfg.TraceFile())
	}
	return b.Bytes()
}

func writeKey(b *bytes.Buffer, key, value string) {
	fmt.Fprintf(b, "%s = %s\n", key, value)
}

// Write writes the file, creating its directory and, when tracing, the log directory.
func Write(cfg Config) error {
	if cfg.Path == "" {
		return errors.New("driver configuration path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return fmt.Errorf("failed to create driver configuration directory: %w", err)
	}
	if cfg.Trace && cfg.LogDir != "" {
		if err := os.MkdirAll(cfg.LogDir, 0o755); err != nil {
			return fmt.Errorf("failed to create log directory: %w", err)
		}
	}
	if err := os.WriteFile(cfg.Path, Render(cfg), 0o600); err != nil {
		return fmt.Errorf("failed to write driver configuration: %w", err)
	}
	return nil
}

// Remove deletes the file. A missing file is not an error.
func Remove(path string) error {
	if path == "" {
		return nil
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to remove driver configuration: %w", err)
	}
	return nil
}

// Env returns the environment the client library needs to find and use the file.
func Env(cfg Config) []string {
	env := []string{
		"ODBCINI=" + cfg.Path,
		// the client library overflows its buffers with the default wide char type
		"TBCLI_WCHAR_TYPE=UCS2",
	}
	if cfg.Trace {
		env = append(env, "TBCLI_LOG_LVL=TRACE", "TBCLI_LOG_DIR="+cfg.LogDir)
	}
	return env
}
