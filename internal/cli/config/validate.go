package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"

	"github.com/leapstack-labs/fdwregress/internal/remote"
)

var prefixPattern = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// Validate checks the settings every run needs.
func (c *Config) Validate() error {
	var errs []error

	if c.Tools.Runner == "" {
		errs = append(errs, fmt.Errorf("tools.runner is required"))
	}
	if c.Paths.CasesDir == "" {
		errs = append(errs, fmt.Errorf("paths.cases_dir is required"))
	}
	if err := validPort("local.port", c.Local.Port); err != nil {
		errs = append(errs, err)
	}
	if !prefixPattern.MatchString(c.Ephemeral.Prefix) {
		errs = append(errs, fmt.Errorf("ephemeral.prefix %q must be a lowercase identifier", c.Ephemeral.Prefix))
	}
	for key, policy := range map[string]string{
		"scripts.init_policy":     c.Scripts.InitPolicy,
		"scripts.seed_policy":     c.Scripts.SeedPolicy,
		"scripts.rollback_policy": c.Scripts.RollbackPolicy,
	} {
		if _, err := remote.ParsePolicy(policy); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", key, err))
		}
	}

	if c.UsesRemote() {
		if err := c.validateRemote(); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

func (c *Config) validateRemote() error {
	if c.Remote.Driver == "" {
		return fmt.Errorf("remote.driver is required")
	}
	if c.Paths.InitScript == "" {
		return fmt.Errorf("paths.init_script is required when using the remote database")
	}
	if c.Remote.DSN != "" {
		return nil
	}
	if c.Remote.Host == "" {
		return fmt.Errorf("remote.host is required\nHint: run 'fdwregress init' or use --without-remote")
	}
	return validPort("remote.port", c.Remote.Port)
}

// ValidateDirectories checks that the test case directory exists.
func (c *Config) ValidateDirectories() error {
	info, err := os.Stat(c.Paths.CasesDir)
	if err != nil {
		return fmt.Errorf("test case directory does not exist: %s\nHint: set paths.cases_dir or use --home to point at the project", c.Paths.CasesDir)
	}
	if !info.IsDir() {
		return fmt.Errorf("test case path is not a directory: %s", c.Paths.CasesDir)
	}
	return nil
}

func validPort(key string, port int) error {
	if port < 1 || port > 65535 {
		return fmt.Errorf("%s %d is out of range", key, port)
	}
	return nil
}
