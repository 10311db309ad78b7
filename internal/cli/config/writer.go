package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// ErrConfigExists is returned when WriteFile would overwrite an existing file.
var ErrConfigExists = errors.New("config file already exists")

// Endpoint is one database connection as written by init.
type Endpoint struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	DBName   string `yaml:"dbname"`
	User     string `yaml:"user"`
	Password string `yaml:"password,omitempty"`
}

// ParseEndpoint parses "host:port:dbname:user[:password]". The password is
// everything after the fourth colon, so it may itself contain colons.
func ParseEndpoint(s string) (Endpoint, error) {
	parts := strings.SplitN(strings.TrimSpace(s), ":", 5)
	if len(parts) < 4 {
		return Endpoint{}, fmt.Errorf("invalid connection string %q: expected host:port:dbname:user[:password]", s)
	}
	for i, name := range []string{"host", "port", "dbname", "user"} {
		if strings.TrimSpace(parts[i]) == "" {
			return Endpoint{}, fmt.Errorf("invalid connection string: %s is empty", name)
		}
	}
	port, err := strconv.Atoi(parts[1])
	if err != nil {
		return Endpoint{}, fmt.Errorf("invalid connection string: port %q is not a number", parts[1])
	}
	if err := validPort("port", port); err != nil {
		return Endpoint{}, fmt.Errorf("invalid connection string: %w", err)
	}

	e := Endpoint{Host: parts[0], Port: port, DBName: parts[2], User: parts[3]}
	if len(parts) == 5 {
		e.Password = parts[4]
	}
	return e, nil
}

// String renders the endpoint without its password.
func (e Endpoint) String() string {
	return fmt.Sprintf("%s:%d:%s:%s", e.Host, e.Port, e.DBName, e.User)
}

// File is the subset of Config persisted by init.
type File struct {
	Remote Endpoint `yaml:"remote"`
	Local  Endpoint `yaml:"local"`
}

// WriteFile writes f as YAML to path. An existing file is only replaced with force.
func WriteFile(path string, f File, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%w: %s\nHint: use --force to overwrite", ErrConfigExists, path)
		}
	}

	data, err := yaml.Marshal(f)
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return fmt.Errorf("failed to create config directory: %w", err)
		}
	}
	// passwords are stored in the file
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// DefaultPath returns the config file location inside home.
func DefaultPath(home string) string {
	return filepath.Join(home, ConfigFileName)
}
