package am

import (
	"math"

	"github.com/teranos/windturbine/errors"
)

// Validate checks that the configuration is valid
func (c *Config) Validate() error {
	if c.Sensor.Path == "" {
		return errors.WithHint(errors.New("sensor.path cannot be empty"),
			"set sensor.path or WINDTURBINE_SENSOR_PATH to the artifact the sensor waits for")
	}
	if c.Sensor.PokeIntervalSeconds < 0 {
		return errors.Newf("sensor.poke_interval_seconds must be >= 0, got %d", c.Sensor.PokeIntervalSeconds)
	}
	if c.Sensor.TimeoutSeconds < 0 {
		return errors.Newf("sensor.timeout_seconds must be >= 0, got %d", c.Sensor.TimeoutSeconds)
	}
	switch c.Sensor.Format {
	case "", FormatAuto, FormatJSON, FormatYAML, FormatTOML:
	default:
		return errors.Newf("sensor.format must be one of auto, json, yaml, toml; got %q", c.Sensor.Format)
	}

	// Retries: 0 = single attempt, negative = invalid
	if c.Retry.Count < 0 {
		return errors.Newf("retry.count must be >= 0, got %d", c.Retry.Count)
	}
	if c.Retry.DelaySeconds < 0 {
		return errors.Newf("retry.delay_seconds must be >= 0, got %d", c.Retry.DelaySeconds)
	}

	switch c.Destination.Driver {
	case DriverSQLite, DriverPostgres:
	default:
		return errors.WithHint(
			errors.Newf("destination.driver %q is not supported", c.Destination.Driver),
			"use sqlite3 or pgx")
	}
	if c.Destination.Table == "" {
		return errors.New("destination.table cannot be empty")
	}

	if c.Notify.Recipient == "" {
		return errors.New("notify.recipient cannot be empty")
	}
	if c.Notify.SMTPPort < 0 || c.Notify.SMTPPort > 65535 {
		return errors.Newf("notify.smtp_port out of range: %d", c.Notify.SMTPPort)
	}
	if c.Notify.MaxPerMinute < 0 {
		return errors.Newf("notify.max_per_minute must be >= 0, got %d", c.Notify.MaxPerMinute)
	}

	if math.IsNaN(c.Alert.Threshold) || math.IsInf(c.Alert.Threshold, 0) {
		return errors.Newf("alert.threshold must be finite, got %v", c.Alert.Threshold)
	}

	// Pulse workers: at least one, otherwise no step could ever run
	if c.Pulse.Workers < 1 {
		return errors.Newf("pulse.workers must be >= 1, got %d", c.Pulse.Workers)
	}
	if c.Pulse.RetainedRuns < -1 {
		return errors.WithHint(
			errors.Newf("pulse.retained_runs must be >= -1, got %d", c.Pulse.RetainedRuns),
			"0 keeps the default of 100 results, -1 keeps none")
	}

	return nil
}
