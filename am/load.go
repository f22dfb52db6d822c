package am

import (
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/spf13/viper"

	"github.com/teranos/windturbine/errors"
)

var (
	globalConfig  *Config
	viperInstance *viper.Viper

	// ConfigSources records which file set each key, filled while merging
	ConfigSources   = map[string]SourceInfo{}
	configSourcesMu sync.Mutex
)

// SystemConfigPath is the lowest-precedence config file
var SystemConfigPath = filepath.Join("/etc/windturbine", ConfigFileName)

// Load reads the windturbine configuration using Viper
func Load() (*Config, error) {
	if globalConfig != nil {
		return globalConfig, nil
	}

	v := initViper()

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal config")
	}

	globalConfig = &config
	return globalConfig, nil
}

// GetViper returns the Viper instance for advanced configuration access
func GetViper() *viper.Viper {
	return initViper()
}

// LoadWithViper loads configuration using a provided Viper instance
func LoadWithViper(v *viper.Viper) (*Config, error) {
	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal config")
	}
	return &config, nil
}

// LoadFromFile loads configuration from a specific file path.
// Environment overrides still apply on top of the file.
func LoadFromFile(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("toml")
	bindEnv(v)
	SetDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, errors.Wrapf(err, "failed to read config file %s", configPath)
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, errors.Wrapf(err, "failed to unmarshal config from %s", configPath)
	}

	// Make the explicit file the one the CLI reports and introspects
	Reset()
	for _, key := range v.AllKeys() {
		if v.InConfig(key) {
			recordSource(key, SourceInfo{Source: SourceExplicit, Path: configPath})
		}
	}
	viperInstance = v
	globalConfig = &config
	return &config, nil
}

// Reset clears the cached configuration (useful for testing)
func Reset() {
	globalConfig = nil
	viperInstance = nil
	configSourcesMu.Lock()
	ConfigSources = map[string]SourceInfo{}
	configSourcesMu.Unlock()
}

func bindEnv(v *viper.Viper) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	BindSensitiveEnvVars(v)
}

// initViper initializes Viper with configuration sources and defaults
func initViper() *viper.Viper {
	if viperInstance != nil {
		return viperInstance
	}

	v := viper.New()
	bindEnv(v)

	// Set defaults first
	SetDefaults(v)

	// Manually merge configs in precedence order: system -> user -> project -> env vars
	mergeConfigFiles(v)

	viperInstance = v
	return v
}

// findProjectConfig searches for windturbine.toml by walking up the directory tree.
// Returns the path to the first config file found, or empty string if none found.
func findProjectConfig() string {
	dir, err := os.Getwd()
	if err != nil {
		return ""
	}

	for {
		candidate := filepath.Join(dir, ConfigFileName)
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return ""
}

// userConfigPath returns ~/.windturbine/windturbine.toml, or "" without a home dir
func userConfigPath() string {
	homeDir, err := os.UserHomeDir()
	if err != nil || homeDir == "" {
		return ""
	}
	return filepath.Join(homeDir, ".windturbine", ConfigFileName)
}

// mergeConfigFiles manually merges configuration files in the correct precedence order
// Precedence (lowest to highest): system < user < project < env vars
func mergeConfigFiles(v *viper.Viper) {
	type layer struct {
		path   string
		source ConfigSource
	}
	layers := []layer{{SystemConfigPath, SourceSystem}}
	if p := userConfigPath(); p != "" {
		layers = append(layers, layer{p, SourceUser})
	}
	if p := findProjectConfig(); p != "" {
		layers = append(layers, layer{p, SourceProject})
	}

	for _, l := range layers {
		if _, err := os.Stat(l.path); err != nil {
			continue
		}
		tempViper := viper.New()
		tempViper.SetConfigFile(l.path)
		tempViper.SetConfigType("toml")
		if err := tempViper.ReadInConfig(); err != nil {
			continue
		}
		// MergeConfigMap keeps env vars above file values; v.Set would not
		if err := v.MergeConfigMap(tempViper.AllSettings()); err != nil {
			continue
		}
		for _, key := range tempViper.AllKeys() {
			recordSource(key, SourceInfo{Source: l.source, Path: l.path})
		}
	}
}

func recordSource(key string, info SourceInfo) {
	configSourcesMu.Lock()
	defer configSourcesMu.Unlock()
	ConfigSources[key] = info
}

// Get returns a configuration value using dot notation
func Get(key string) interface{} {
	return initViper().Get(key)
}

// GetString returns a configuration value as string using dot notation
func GetString(key string) string {
	return initViper().GetString(key)
}

// GetDatabasePath returns the configured run-history database path
func GetDatabasePath() (string, error) {
	config, err := Load()
	if err != nil {
		return "", err
	}
	return config.Database.Path, nil
}
