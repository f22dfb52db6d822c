package commands

import (
	"context"
	"database/sql"

	"github.com/teranos/windturbine/am"
	"github.com/teranos/windturbine/db"
	"github.com/teranos/windturbine/errors"
	"github.com/teranos/windturbine/logger"
)

// ConfigPath is set by the root --config flag
var ConfigPath string

// loadConfig loads either the explicit --config file or the normal cascade
func loadConfig() (*am.Config, error) {
	var (
		cfg *am.Config
		err error
	)
	if ConfigPath != "" {
		cfg, err = am.LoadFromFile(ConfigPath)
	} else {
		cfg, err = am.Load()
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to load config")
	}
	return cfg, nil
}

// loadValidConfig is loadConfig followed by Validate
func loadValidConfig() (*am.Config, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "configuration validation failed")
	}
	return cfg, nil
}

// openHistory opens and migrates the run-history database
func openHistory(cfg *am.Config) (*sql.DB, error) {
	path := cfg.Database.Path
	if path == "" {
		path = "windturbine_runs.db"
	}
	database, err := db.OpenWithMigrations(context.Background(), path, logger.Logger)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open run history at %s", path)
	}
	return database, nil
}

// openDestination opens the database readings are appended to
func openDestination(cfg *am.Config) (*sql.DB, error) {
	database, err := db.OpenDestination(cfg.Destination.Driver, cfg.Destination.DSN, logger.Logger)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open %s destination", cfg.Destination.Driver)
	}
	return database, nil
}
