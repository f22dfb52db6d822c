package am

import (
	"github.com/spf13/viper"
)

// SetDefaults configures default values for all configuration options
func SetDefaults(v *viper.Viper) {
	// Sensor defaults
	v.SetDefault("sensor.path", "/tmp/windturbine/sensors.json")
	v.SetDefault("sensor.poke_interval_seconds", 10)
	v.SetDefault("sensor.timeout_seconds", 600)
	v.SetDefault("sensor.format", FormatAuto)

	// One retry, ten seconds apart, for every step
	v.SetDefault("retry.count", 1)
	v.SetDefault("retry.delay_seconds", 10)

	// Destination defaults
	v.SetDefault("destination.driver", DriverSQLite)
	v.SetDefault("destination.dsn", "windturbine.db")
	v.SetDefault("destination.table", "sensors")

	// Run history
	v.SetDefault("database.path", "windturbine_runs.db")

	// Notification defaults
	v.SetDefault("notify.recipient", "email@email.com.br")
	v.SetDefault("notify.from", "windturbine@localhost")
	v.SetDefault("notify.smtp_host", "localhost")
	v.SetDefault("notify.smtp_port", 25)
	v.SetDefault("notify.username", "")
	v.SetDefault("notify.password", "")
	v.SetDefault("notify.max_per_minute", 60)
	v.SetDefault("notify.on_failure", true)
	v.SetDefault("notify.dag_name", "windturbine")

	// Branch threshold (inclusive)
	v.SetDefault("alert.threshold", 24.0)

	// Coordinator defaults
	v.SetDefault("pulse.workers", 4)
	v.SetDefault("pulse.retained_runs", 100)
}

// BindSensitiveEnvVars explicitly binds sensitive configuration to environment variables
func BindSensitiveEnvVars(v *viper.Viper) {
	v.BindEnv("notify.password", EnvPrefix+"_NOTIFY_PASSWORD")
	v.BindEnv("notify.username", EnvPrefix+"_NOTIFY_USERNAME")
	v.BindEnv("destination.dsn", EnvPrefix+"_DESTINATION_DSN")
}
