package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Config holds application configuration.
type Config struct {
	Server         ServerConfig
	Database       DatabaseConfig
	Reconciliation ReconciliationConfig
}

// ServerConfig holds HTTP settings.
type ServerConfig struct {
	Addr string
}

// DatabaseConfig holds sqlite settings.
type DatabaseConfig struct {
	Path string
}

// ReconciliationConfig holds matching settings.
type ReconciliationConfig struct {
	MaxDateDriftDays int `mapstructure:"max_date_drift_days"`
}

// Load reads configuration from file and env. Env var overrides use prefix FINBOOKS_.
func Load() (Config, error) {
	v := viper.New()

	// default values
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("database.path", filepath.Join(os.Getenv("HOME"), ".local", "share", "finbooks", "finbooks.db"))
	v.SetDefault("reconciliation.max_date_drift_days", 7)

	v.SetConfigType("toml")

	cfgPath := os.Getenv("FINBOOKS_CONFIG")
	if cfgPath != "" {
		v.SetConfigFile(cfgPath)
	} else {
		v.AddConfigPath(filepath.Join(os.Getenv("HOME"), ".config", "finbooks"))
		v.SetConfigName("config")
	}

	v.SetEnvPrefix("FINBOOKS")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// read config file if present
	_ = v.ReadInConfig()

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	return c, nil
}
