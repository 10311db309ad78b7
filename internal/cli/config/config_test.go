package config

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newFlags() *pflag.FlagSet {
	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.String("home", "", "project home")
	flags.BoolP("verbose", "v", false, "verbose")
	flags.BoolP("dry", "d", false, "dry run")
	flags.BoolP("without-remote", "w", false, "without remote")
	flags.Bool("freeze", false, "freeze")
	flags.Bool("force", false, "not configuration")
	return flags
}

func writeConfig(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, ConfigFileName)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadConfig_Defaults(t *testing.T) {
	ResetConfig()
	t.Setenv("FDWREGRESS_HOME", "")
	home := t.TempDir()

	flags := newFlags()
	require.NoError(t, flags.Set("home", home))

	cfg, err := LoadConfig("", flags)
	require.NoError(t, err)

	assert.Equal(t, home, cfg.Home)
	assert.Empty(t, GetConfigFileUsed())
	assert.Equal(t, DefaultRemoteDriver, cfg.Remote.Driver)
	assert.Equal(t, DefaultRemotePort, cfg.Remote.Port)
	assert.Equal(t, DefaultHealthQuery, cfg.Remote.HealthQuery)
	assert.Equal(t, DefaultLocalPort, cfg.Local.Port)
	assert.Equal(t, []string{"pgtap"}, cfg.Local.Extensions)
	assert.Equal(t, filepath.Join(home, "test_cases"), cfg.Paths.CasesDir)
	assert.Equal(t, filepath.Join(home, "tibero_init.sql"), cfg.Paths.InitScript)
	assert.Equal(t, filepath.Join(home, ".fdwregress", "state.db"), cfg.Paths.State)
	assert.Empty(t, cfg.Paths.SeedScript)
	assert.Equal(t, "abort", cfg.Scripts.InitPolicy)
	assert.Equal(t, "abort", cfg.Scripts.SeedPolicy)
	assert.Equal(t, "abort", cfg.Scripts.RollbackPolicy)
	assert.Equal(t, DefaultRunner, cfg.Tools.Runner)
	assert.Equal(t, "odbcinst", cfg.Tools.DriverProbe)
	assert.Equal(t, filepath.Join(home, "lib", "libtbodbc.so"), cfg.Paths.DriverLibrary)
	assert.Equal(t, DefaultEphemeralPrefix, cfg.Ephemeral.Prefix)
	assert.False(t, cfg.Run.Dry)
}

func TestLoadConfig_FileAnchorsHome(t *testing.T) {
	ResetConfig()
	t.Setenv("FDWREGRESS_HOME", "")
	dir := t.TempDir()
	cfgPath := writeConfig(t, dir, `remote:
  host: tibero.example.com
  port: 8700
  dbname: tibero
  user: sys
  password: tibero
paths:
  cases_dir: cases
  seed_script: /abs/seed.sql
`)

	cfg, err := LoadConfig(cfgPath, nil)
	require.NoError(t, err)

	assert.Equal(t, cfgPath, GetConfigFileUsed())
	assert.Equal(t, dir, cfg.Home)
	assert.Equal(t, "tibero.example.com", cfg.Remote.Host)
	assert.Equal(t, 8700, cfg.Remote.Port)
	assert.Equal(t, filepath.Join(dir, "cases"), cfg.Paths.CasesDir)
	assert.Equal(t, "/abs/seed.sql", cfg.Paths.SeedScript)
}

func TestLoadConfig_UpwardSearch(t *testing.T) {
	ResetConfig()
	t.Setenv("FDWREGRESS_HOME", "")
	root := t.TempDir()
	writeConfig(t, root, "remote:\n  host: found\n")
	nested := filepath.Join(root, "test_cases", "deep")
	require.NoError(t, os.MkdirAll(nested, 0o750))
	t.Chdir(nested)

	cfg, err := LoadConfig("", nil)
	require.NoError(t, err)

	// t.TempDir may sit behind a symlink
	wantRoot, err := filepath.EvalSymlinks(root)
	require.NoError(t, err)
	gotRoot, err := filepath.EvalSymlinks(cfg.Home)
	require.NoError(t, err)
	assert.Equal(t, wantRoot, gotRoot)
	assert.Equal(t, "found", cfg.Remote.Host)
}

func TestLoadConfig_HomeFromEnv(t *testing.T) {
	ResetConfig()
	home := t.TempDir()
	writeConfig(t, home, "local:\n  user: from_file\n")
	t.Setenv("FDWREGRESS_HOME", home)

	cfg, err := LoadConfig("", nil)
	require.NoError(t, err)

	assert.Equal(t, home, cfg.Home)
	assert.Equal(t, "from_file", cfg.Local.User)
}

func TestLoadConfig_EnvPrecedenceOverFile(t *testing.T) {
	ResetConfig()
	t.Setenv("FDWREGRESS_HOME", "")
	cfgPath := writeConfig(t, t.TempDir(), `remote:
  host: from_file
local:
  port: 5433
`)
	t.Setenv("FDWREGRESS_REMOTE__HOST", "from_env")
	t.Setenv("FDWREGRESS_LOCAL__PORT", "15432")
	t.Setenv("FDWREGRESS_SCRIPTS__INIT_POLICY", "atomic")

	cfg, err := LoadConfig(cfgPath, nil)
	require.NoError(t, err)

	assert.Equal(t, "from_env", cfg.Remote.Host)
	assert.Equal(t, 15432, cfg.Local.Port)
	assert.Equal(t, "atomic", cfg.Scripts.InitPolicy)
}

func TestLoadConfig_FlagPrecedence(t *testing.T) {
	ResetConfig()
	t.Setenv("FDWREGRESS_HOME", "")
	cfgPath := writeConfig(t, t.TempDir(), "run:\n  dry: false\n  freeze: true\n")
	t.Setenv("FDWREGRESS_RUN__WITHOUT_REMOTE", "false")

	flags := newFlags()
	require.NoError(t, flags.Set("dry", "true"))
	require.NoError(t, flags.Set("without-remote", "true"))
	require.NoError(t, flags.Set("force", "true"))

	cfg, err := LoadConfig(cfgPath, flags)
	require.NoError(t, err)

	assert.True(t, cfg.Run.Dry, "flag should override config file")
	assert.True(t, cfg.Run.WithoutRemote, "flag should override env var")
	assert.True(t, cfg.Run.Freeze, "unset flag should not override config file")
	assert.False(t, cfg.Verbose)
}

func TestLoadConfig_ExpandsEnvVars(t *testing.T) {
	ResetConfig()
	t.Setenv("FDWREGRESS_HOME", "")
	t.Setenv("TEST_TIBERO_PASSWORD", "s3cret")
	cfgPath := writeConfig(t, t.TempDir(), `remote:
  password: ${TEST_TIBERO_PASSWORD}
local:
  password: ${TEST_UNSET_VARIABLE}
`)

	cfg, err := LoadConfig(cfgPath, nil)
	require.NoError(t, err)

	assert.Equal(t, "s3cret", cfg.Remote.Password)
	assert.Equal(t, "${TEST_UNSET_VARIABLE}", cfg.Local.Password)
}

func TestLoadConfig_InvalidFile(t *testing.T) {
	ResetConfig()
	t.Setenv("FDWREGRESS_HOME", "")
	cfgPath := writeConfig(t, t.TempDir(), "remote: [unclosed\n")

	_, err := LoadConfig(cfgPath, nil)
	assert.ErrorContains(t, err, "error reading config file")
}

func TestConfig_Validate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Remote: RemoteConfig{Driver: "pgx", Host: "tibero", Port: 8629},
			Local:  LocalConfig{Port: 5432},
			Paths:  PathsConfig{CasesDir: "cases", InitScript: "init.sql"},
			Scripts: ScriptsConfig{
				InitPolicy: "continue", SeedPolicy: "abort", RollbackPolicy: "continue",
			},
			Tools:     ToolsConfig{Runner: "pg_prove"},
			Ephemeral: EphemeralConfig{Prefix: "tbfdw_regress_"},
		}
	}

	tests := []struct {
		name      string
		mutate    func(*Config)
		errSubstr string
	}{
		{name: "valid", mutate: func(*Config) {}},
		{name: "missing runner", mutate: func(c *Config) { c.Tools.Runner = "" }, errSubstr: "tools.runner"},
		{name: "bad local port", mutate: func(c *Config) { c.Local.Port = 0 }, errSubstr: "local.port"},
		{name: "bad prefix", mutate: func(c *Config) { c.Ephemeral.Prefix = "Drop Table;" }, errSubstr: "ephemeral.prefix"},
		{name: "bad policy", mutate: func(c *Config) { c.Scripts.SeedPolicy = "maybe" }, errSubstr: "scripts.seed_policy"},
		{name: "missing remote host", mutate: func(c *Config) { c.Remote.Host = "" }, errSubstr: "remote.host"},
		{
			name:   "dsn replaces host",
			mutate: func(c *Config) { c.Remote.Host = ""; c.Remote.DSN = "postgres://tibero" },
		},
		{
			name:   "remote not needed without remote",
			mutate: func(c *Config) { c.Remote.Host = ""; c.Run.WithoutRemote = true },
		},
		{
			name:   "remote not needed on dry run",
			mutate: func(c *Config) { c.Remote.Port = -1; c.Run.Dry = true },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.errSubstr == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tt.errSubstr)
		})
	}
}

func TestConfig_ValidateDirectories(t *testing.T) {
	dir := t.TempDir()
	cfg := &Config{Paths: PathsConfig{CasesDir: dir}}
	assert.NoError(t, cfg.ValidateDirectories())

	cfg.Paths.CasesDir = filepath.Join(dir, "missing")
	assert.ErrorContains(t, cfg.ValidateDirectories(), "does not exist")

	file := filepath.Join(dir, "file.sql")
	require.NoError(t, os.WriteFile(file, nil, 0o600))
	cfg.Paths.CasesDir = file
	assert.ErrorContains(t, cfg.ValidateDirectories(), "not a directory")
}

func TestParseEndpoint(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    Endpoint
		wantErr string
	}{
		{
			name:  "with password",
			input: "tibero.example.com:8629:tibero:sys:tibero",
			want:  Endpoint{Host: "tibero.example.com", Port: 8629, DBName: "tibero", User: "sys", Password: "tibero"},
		},
		{
			name:  "password keeps colons",
			input: " localhost:5432:postgres:postgres:a:b:c \n",
			want:  Endpoint{Host: "localhost", Port: 5432, DBName: "postgres", User: "postgres", Password: "a:b:c"},
		},
		{
			name:  "without password",
			input: "localhost:5432:postgres:postgres",
			want:  Endpoint{Host: "localhost", Port: 5432, DBName: "postgres", User: "postgres"},
		},
		{name: "too few parts", input: "localhost:5432", wantErr: "expected host:port:dbname:user"},
		{name: "port not a number", input: "localhost:pg:postgres:postgres", wantErr: "not a number"},
		{name: "port out of range", input: "localhost:70000:postgres:postgres", wantErr: "out of range"},
		{name: "empty user", input: "localhost:5432:postgres:", wantErr: "user is empty"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseEndpoint(tt.input)
			if tt.wantErr != "" {
				assert.ErrorContains(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEndpoint_StringOmitsPassword(t *testing.T) {
	e := Endpoint{Host: "h", Port: 1, DBName: "d", User: "u", Password: "secret"}
	assert.Equal(t, "h:1:d:u", e.String())
}

func TestWriteFile(t *testing.T) {
	ResetConfig()
	t.Setenv("FDWREGRESS_HOME", "")
	path := DefaultPath(t.TempDir())
	f := File{
		Remote: Endpoint{Host: "tibero", Port: 8629, DBName: "tibero", User: "sys", Password: "tibero"},
		Local:  Endpoint{Host: "localhost", Port: 5432, DBName: "postgres", User: "postgres"},
	}

	require.NoError(t, WriteFile(path, f, false))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	err = WriteFile(path, f, false)
	assert.ErrorIs(t, err, ErrConfigExists)

	f.Remote.Host = "replaced"
	require.NoError(t, WriteFile(path, f, true))

	cfg, err := LoadConfig(path, nil)
	require.NoError(t, err)
	assert.Equal(t, "replaced", cfg.Remote.Host)
	assert.Equal(t, "sys", cfg.Remote.User)
	assert.Equal(t, "tibero", cfg.Remote.Password)
	assert.Equal(t, "postgres", cfg.Local.DBName)
	assert.Empty(t, cfg.Local.Password)
}

func TestContextHelpers(t *testing.T) {
	ctx := context.Background()
	assert.NotNil(t, GetLogger(ctx))
	assert.Nil(t, FromContext(ctx))

	logger := slog.New(slog.DiscardHandler)
	ctx = context.WithValue(ctx, LoggerKey(), logger)
	assert.Same(t, logger, GetLogger(ctx))

	cfg := &Config{Home: "/srv/tbfdw"}
	assert.Same(t, cfg, FromContext(WithConfig(ctx, cfg)))
}

func TestExpandEnvVars(t *testing.T) {
	t.Setenv("TEST_VAR_ONE", "value_one")

	assert.Equal(t, "value_one", expandEnvVars("${TEST_VAR_ONE}"))
	assert.Equal(t, "pre-value_one-post", expandEnvVars("pre-${TEST_VAR_ONE}-post"))
	assert.Equal(t, "${TEST_VAR_MISSING}", expandEnvVars("${TEST_VAR_MISSING}"))
	assert.Equal(t, "plain", expandEnvVars("plain"))
}
