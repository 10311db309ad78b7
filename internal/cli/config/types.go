// Package config provides configuration management for the fdwregress CLI.
//
// Values are layered from built-in defaults, the fdwregress.yaml file in the
// project home, FDWREGRESS_ environment variables and explicitly set flags,
// in increasing order of precedence.
package config

// Config holds all CLI configuration options.
type Config struct {
	// Home is the project home every relative path is resolved against.
	Home      string          `koanf:"home"`
	Verbose   bool            `koanf:"verbose"`
	// Output selects the output format: auto, text, markdown or json.
	Output    string          `koanf:"output"`
	Remote    RemoteConfig    `koanf:"remote"`
	Local     LocalConfig     `koanf:"local"`
	Paths     PathsConfig     `koanf:"paths"`
	Scripts   ScriptsConfig   `koanf:"scripts"`
	Tools     ToolsConfig     `koanf:"tools"`
	Ephemeral EphemeralConfig `koanf:"ephemeral"`
	Run       RunConfig       `koanf:"run"`
}

// RemoteConfig describes the remote database the wrapper reads from.
type RemoteConfig struct {
	Driver         string `koanf:"driver"`
	DSN            string `koanf:"dsn"`
	Host           string `koanf:"host"`
	Port           int    `koanf:"port"`
	DBName         string `koanf:"dbname"`
	User           string `koanf:"user"`
	Password       string `koanf:"password"`
	HealthQuery    string `koanf:"health_query"`
	HealthSentinel string `koanf:"health_sentinel"`
}

// LocalConfig describes the local PostgreSQL server hosting the ephemeral database.
type LocalConfig struct {
	Host     string `koanf:"host"`
	Port     int    `koanf:"port"`
	DBName   string `koanf:"dbname"` // maintenance database for createdb/dropdb
	User     string `koanf:"user"`
	Password string `koanf:"password"`
	// Extensions are created in every ephemeral database before the cases run.
	Extensions []string `koanf:"extensions"`
}

// PathsConfig holds file locations. Relative paths are resolved against Home.
type PathsConfig struct {
	CasesDir       string `koanf:"cases_dir"`
	LogsDir        string `koanf:"logs_dir"`
	InitScript     string `koanf:"init_script"`
	SeedScript     string `koanf:"seed_script"`
	RollbackScript string `koanf:"rollback_script"`
	DriverConfig   string `koanf:"driver_config"`
	DriverLibrary  string `koanf:"driver_library"`
	State          string `koanf:"state"`
	Lock           string `koanf:"lock"`
}

// ScriptsConfig selects the execution policy of each remote script.
type ScriptsConfig struct {
	InitPolicy     string `koanf:"init_policy"`
	SeedPolicy     string `koanf:"seed_policy"`
	RollbackPolicy string `koanf:"rollback_policy"`
}

// ToolsConfig names the external programs the harness shells out to.
type ToolsConfig struct {
	Runner      string `koanf:"runner"`
	DriverProbe string `koanf:"driver_probe"`
	CreateDB    string `koanf:"createdb"`
	DropDB      string `koanf:"dropdb"`
}

// EphemeralConfig controls ephemeral database naming.
type EphemeralConfig struct {
	Prefix string `koanf:"prefix"`
}

// RunConfig holds the per-invocation switches, normally set from flags.
type RunConfig struct {
	Dry           bool `koanf:"dry"`
	Quiet         bool `koanf:"quiet"`
	WithoutRemote bool `koanf:"without_remote"`
	TraceDriver   bool `koanf:"trace_driver"`
	List          bool `koanf:"list"`
	Freeze        bool `koanf:"freeze"`
	Regex         bool `koanf:"regex"`
}

// UsesRemote reports whether this run touches the remote database.
func (c *Config) UsesRemote() bool {
	return !c.Run.WithoutRemote && !c.Run.Dry
}

// Default configuration values.
const (
	ConfigFileName = "fdwregress.yaml"
	DefaultOutput  = "auto" // TTY=text, non-TTY=markdown
	EnvPrefix      = "FDWREGRESS_"

	DefaultRemoteDriver   = "pgx"
	DefaultRemotePort     = 8629
	DefaultHealthQuery    = "select 'success' from dual"
	DefaultHealthSentinel = "success"

	DefaultLocalHost = "localhost"
	DefaultLocalPort = 5432
	DefaultLocalDB   = "postgres"
	DefaultLocalUser = "postgres"

	DefaultCasesDir      = "test_cases"
	DefaultLogsDir       = "logs"
	DefaultInitScript    = "tibero_init.sql"
	DefaultDriverConfig  = "odbc.ini"
	DefaultDriverLibrary = "lib/libtbodbc.so"
	DefaultStateFile     = ".fdwregress/state.db"
	DefaultLockFile      = ".fdwregress/run.lock"

	DefaultInitPolicy     = "abort"
	DefaultSeedPolicy     = "abort"
	DefaultRollbackPolicy = "abort"

	DefaultRunner      = "pg_prove"
	DefaultDriverProbe = "odbcinst" // unixODBC driver manager
	DefaultCreateDB    = "createdb"
	DefaultDropDB      = "dropdb"

	DefaultEphemeralPrefix = "tbfdw_regress_"
)

// DefaultExtensions are created in each ephemeral database when none are configured.
var DefaultExtensions = []string{"pgtap"}

func defaults() map[string]interface{} {
	return map[string]interface{}{
		"verbose": false,
		"output":  DefaultOutput,

		"remote.driver":          DefaultRemoteDriver,
		"remote.port":            DefaultRemotePort,
		"remote.health_query":    DefaultHealthQuery,
		"remote.health_sentinel": DefaultHealthSentinel,

		"local.host":       DefaultLocalHost,
		"local.port":       DefaultLocalPort,
		"local.dbname":     DefaultLocalDB,
		"local.user":       DefaultLocalUser,
		"local.extensions": append([]string(nil), DefaultExtensions...),

		"paths.cases_dir":      DefaultCasesDir,
		"paths.logs_dir":       DefaultLogsDir,
		"paths.init_script":    DefaultInitScript,
		"paths.driver_config":  DefaultDriverConfig,
		"paths.driver_library": DefaultDriverLibrary,
		"paths.state":          DefaultStateFile,
		"paths.lock":           DefaultLockFile,

		"scripts.init_policy":     DefaultInitPolicy,
		"scripts.seed_policy":     DefaultSeedPolicy,
		"scripts.rollback_policy": DefaultRollbackPolicy,

		"tools.runner":       DefaultRunner,
		"tools.driver_probe": DefaultDriverProbe,
		"tools.createdb":     DefaultCreateDB,
		"tools.dropdb":       DefaultDropDB,

		"ephemeral.prefix": DefaultEphemeralPrefix,
	}
}
