package am

import "time"

// Config represents the windturbine pipeline configuration
type Config struct {
	Sensor      SensorConfig      `mapstructure:"sensor"`
	Retry       RetryConfig       `mapstructure:"retry"`
	Destination DestinationConfig `mapstructure:"destination"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Notify      NotifyConfig      `mapstructure:"notify"`
	Alert       AlertConfig       `mapstructure:"alert"`
	Pulse       PulseConfig       `mapstructure:"pulse"`
}

// SensorConfig configures the wait_for_file sensor and the extractor
type SensorConfig struct {
	Path                string `mapstructure:"path"`                  // Artifact the sensor waits for
	PokeIntervalSeconds int    `mapstructure:"poke_interval_seconds"` // Delay between existence checks (default: 10)
	TimeoutSeconds      int    `mapstructure:"timeout_seconds"`       // Total wait before Timeout (default: 600)
	Format              string `mapstructure:"format"`                // auto, json, yaml, toml
}

// Artifact formats accepted by sensor.format
const (
	FormatAuto = "auto"
	FormatJSON = "json"
	FormatYAML = "yaml"
	FormatTOML = "toml"
)

// RetryConfig is the default retry policy applied to every step
type RetryConfig struct {
	Count        int `mapstructure:"count"`         // Retries after the first attempt (default: 1)
	DelaySeconds int `mapstructure:"delay_seconds"` // Wait between attempts (default: 10)
}

// DestinationConfig configures where sensor rows are appended
type DestinationConfig struct {
	Driver string `mapstructure:"driver"` // sqlite3 or pgx
	DSN    string `mapstructure:"dsn"`
	Table  string `mapstructure:"table"` // default: sensors
}

// Destination drivers
const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "pgx"
)

// DatabaseConfig configures the SQLite run-history database
type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// NotifyConfig configures outbound e-mail
type NotifyConfig struct {
	Recipient    string `mapstructure:"recipient"`
	From         string `mapstructure:"from"`
	SMTPHost     string `mapstructure:"smtp_host"`
	SMTPPort     int    `mapstructure:"smtp_port"`
	Username     string `mapstructure:"username"`
	Password     string `mapstructure:"password"`
	MaxPerMinute int    `mapstructure:"max_per_minute"` // 0 = unthrottled
	OnFailure    bool   `mapstructure:"on_failure"`     // Send a failure notice when a run fails
	DAGName      string `mapstructure:"dag_name"`       // Shown in message bodies
}

// AlertConfig configures the temperature branch
type AlertConfig struct {
	Threshold float64 `mapstructure:"threshold"` // temperature >= threshold selects the alert branch
}

// PulseConfig configures the run coordinator
type PulseConfig struct {
	Workers      int `mapstructure:"workers"`       // Concurrent step workers (default: 4)
	RetainedRuns int `mapstructure:"retained_runs"` // Finished run results kept in memory (0: default 100, -1: none)
}

// Path and file permission constants
const (
	// DefaultDirPermissions for creating directories (rwxr-xr-x)
	DefaultDirPermissions = 0755

	// DefaultFilePermissions for creating files (rw-r--r--)
	DefaultFilePermissions = 0644

	// ConfigFileName is searched in system, user and project locations
	ConfigFileName = "windturbine.toml"

	// EnvPrefix is prepended to every environment override (WINDTURBINE_SENSOR_PATH, ...)
	EnvPrefix = "WINDTURBINE"
)

// PokeInterval returns the sensor poke interval as a duration
func (s SensorConfig) PokeInterval() time.Duration {
	return time.Duration(s.PokeIntervalSeconds) * time.Second
}

// Timeout returns the total sensor wait as a duration
func (s SensorConfig) Timeout() time.Duration {
	return time.Duration(s.TimeoutSeconds) * time.Second
}

// Delay returns the wait between attempts as a duration
func (r RetryConfig) Delay() time.Duration {
	return time.Duration(r.DelaySeconds) * time.Second
}
