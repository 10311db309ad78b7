package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"
)

// loggerKey is used to store the logger in context.
type loggerKey struct{}

// configKey is used to store the loaded config in context.
type configKey struct{}

// maxUpwardSearchLevels limits how far up the directory tree to search for config files.
const maxUpwardSearchLevels = 10

// Package-level koanf instance and config file tracking
var (
	k              = koanf.New(".")
	configFileUsed string
)

// flagKeys maps CLI flag names to config keys. Flags not listed here are not
// configuration (--config, --force, ...) and are never loaded.
var flagKeys = map[string]string{
	"home":           "home",
	"verbose":        "verbose",
	"output":         "output",
	"dry":            "run.dry",
	"quiet":          "run.quiet",
	"without-remote": "run.without_remote",
	"trace-driver":   "run.trace_driver",
	"list":           "run.list",
	"freeze":         "run.freeze",
	"regex":          "run.regex",
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// configExistsIn reports whether dir holds a config file.
func configExistsIn(dir string) bool {
	_, err := os.Stat(filepath.Join(dir, ConfigFileName))
	return err == nil
}

// findProjectRootUpward searches upward from startDir for a config file.
// Returns empty string if not found within maxUpwardSearchLevels.
func findProjectRootUpward(startDir string) string {
	dir := startDir
	for i := 0; i < maxUpwardSearchLevels; i++ {
		if configExistsIn(dir) {
			return dir
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return ""
}

// inferHome determines the project home.
// Priority:
//  1. Explicit --home flag
//  2. FDWREGRESS_HOME environment variable
//  3. Directory of an explicit --config file
//  4. Search upward from CWD for fdwregress.yaml
//  5. Current working directory
func inferHome(cfgFile string, flags *pflag.FlagSet) string {
	if flags != nil && flags.Changed("home") {
		if home, _ := flags.GetString("home"); home != "" {
			return absOrClean(home)
		}
	}

	if home := os.Getenv(EnvPrefix + "HOME"); home != "" {
		return absOrClean(home)
	}

	if cfgFile != "" {
		return filepath.Dir(absOrClean(cfgFile))
	}

	cwd, err := os.Getwd()
	if err != nil || cwd == "" {
		return "."
	}
	if root := findProjectRootUpward(cwd); root != "" {
		return root
	}
	return cwd
}

func absOrClean(path string) string {
	if abs, err := filepath.Abs(path); err == nil {
		return abs
	}
	return filepath.Clean(path)
}

// resolvePathRelativeTo resolves a path relative to baseDir if it's not absolute.
// Returns the path unchanged if it's empty or already absolute.
func resolvePathRelativeTo(path, baseDir string) string {
	if path == "" || filepath.IsAbs(path) || path == ":memory:" {
		return path
	}
	return filepath.Join(baseDir, path)
}

// ResetConfig resets the koanf instance. Used for testing.
func ResetConfig() {
	k = koanf.New(".")
	configFileUsed = ""
}

// LoadConfig loads configuration from file, environment variables, and flags.
// Precedence (highest to lowest): flags > env vars > config file > defaults
func LoadConfig(cfgFile string, flags *pflag.FlagSet) (*Config, error) {
	k = koanf.New(".")
	configFileUsed = ""

	home := inferHome(cfgFile, flags)

	// 1. Load defaults
	if err := k.Load(confmap.Provider(defaults(), "."), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	// 2. Load the config file, explicit or found in the home
	if cfgFile == "" && configExistsIn(home) {
		cfgFile = filepath.Join(home, ConfigFileName)
	}
	if cfgFile != "" {
		if err := k.Load(file.Provider(cfgFile), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("error reading config file %s: %w", cfgFile, err)
		}
		configFileUsed = cfgFile
	}

	// 3. Load environment variables (FDWREGRESS_ prefix)
	// Transform: FDWREGRESS_REMOTE__PASSWORD -> remote.password
	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("failed to load env vars: %w", err)
	}

	// 4. Load flags (highest priority)
	if flags != nil {
		if err := k.Load(posflag.ProviderWithFlag(flags, ".", k, func(f *pflag.Flag) (string, interface{}) {
			// Only load flags that were explicitly set
			if !f.Changed {
				return "", nil
			}
			key, ok := flagKeys[f.Name]
			if !ok {
				return "", nil
			}
			return key, posflag.FlagVal(flags, f)
		}), nil); err != nil {
			return nil, fmt.Errorf("failed to load flags: %w", err)
		}
	}

	// 5. Unmarshal into Config struct
	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	// 6. Anchor every path on the home
	cfg.Home = home
	cfg.resolvePaths()
	cfg.expandEnvVars()

	return &cfg, nil
}

func envKey(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	return strings.ReplaceAll(s, "__", ".")
}

func (c *Config) resolvePaths() {
	p := &c.Paths
	for _, path := range []*string{
		&p.CasesDir, &p.LogsDir, &p.InitScript, &p.SeedScript, &p.RollbackScript,
		&p.DriverConfig, &p.DriverLibrary, &p.State, &p.Lock,
	} {
		*path = resolvePathRelativeTo(*path, c.Home)
	}
}

func (c *Config) expandEnvVars() {
	c.Remote.Password = expandEnvVars(c.Remote.Password)
	c.Remote.User = expandEnvVars(c.Remote.User)
	c.Remote.Host = expandEnvVars(c.Remote.Host)
	c.Remote.DSN = expandEnvVars(c.Remote.DSN)
	c.Local.Password = expandEnvVars(c.Local.Password)
	c.Local.User = expandEnvVars(c.Local.User)
	c.Local.Host = expandEnvVars(c.Local.Host)
}

// GetConfigFileUsed returns the path to the config file being used, if any.
func GetConfigFileUsed() string {
	return configFileUsed
}

// LoggerKey returns the context key used for storing the logger.
// This allows the commands package to retrieve the logger from context
// without creating an import cycle with the cli package.
func LoggerKey() interface{} {
	return loggerKey{}
}

// GetLogger retrieves the logger from the command context.
func GetLogger(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(loggerKey{}).(*slog.Logger); ok {
		return l
	}
	return slog.New(slog.DiscardHandler)
}

// WithConfig returns a copy of ctx carrying cfg.
func WithConfig(ctx context.Context, cfg *Config) context.Context {
	return context.WithValue(ctx, configKey{}, cfg)
}

// FromContext returns the config stored by WithConfig, or nil.
func FromContext(ctx context.Context) *Config {
	c, _ := ctx.Value(configKey{}).(*Config)
	return c
}

// expandEnvVars expands ${VAR} patterns in a string with environment variable values.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		varName := match[2 : len(match)-1]
		if val := os.Getenv(varName); val != "" {
			return val
		}
		return match // Return original if not found
	})
}
