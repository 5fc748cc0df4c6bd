// Package config loads server and client settings from a .env file, the
// environment and an optional YAML file.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const defaultJWTSecret = "your-default-secret-key-change-in-production"

type Config struct {
	Port           string        `mapstructure:"port"`
	DBPath         string        `mapstructure:"db_path"`
	JWTSecret      string        `mapstructure:"jwt_secret"`
	AllowedOrigins []string      `mapstructure:"allowed_origins"`
	LogLevel       string        `mapstructure:"log_level"`
	LogFormat      string        `mapstructure:"log_format"`
	ReloadTimeout  time.Duration `mapstructure:"reload_timeout"`
}

func DefaultConfig() *Config {
	return &Config{
		Port:           "3001",
		DBPath:         "./boardsync.db",
		JWTSecret:      defaultJWTSecret,
		AllowedOrigins: []string{"*"},
		LogLevel:       "info",
		LogFormat:      "console",
		ReloadTimeout:  10 * time.Second,
	}
}

// Load reads envFile (if present) into the process environment, then
// resolves every key from BOARDSYNC_* variables, the unprefixed PORT and
// JWT_SECRET variables, configFile (if set) and defaults, in that order.
func Load(envFile, configFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to load %s: %w", envFile, err)
		}
	}

	v := viper.New()
	def := DefaultConfig()
	v.SetDefault("port", def.Port)
	v.SetDefault("db_path", def.DBPath)
	v.SetDefault("jwt_secret", def.JWTSecret)
	v.SetDefault("allowed_origins", def.AllowedOrigins)
	v.SetDefault("log_level", def.LogLevel)
	v.SetDefault("log_format", def.LogFormat)
	v.SetDefault("reload_timeout", def.ReloadTimeout)

	v.SetEnvPrefix("boardsync")
	v.AutomaticEnv()
	// the server has always read these two without a prefix
	_ = v.BindEnv("port", "BOARDSYNC_PORT", "PORT")
	_ = v.BindEnv("jwt_secret", "BOARDSYNC_JWT_SECRET", "JWT_SECRET")

	if configFile != "" {
		v.SetConfigFile(configFile)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", configFile, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Port == "" {
		return errors.New("port is required")
	}
	if c.DBPath == "" {
		return errors.New("db_path is required")
	}
	switch c.LogFormat {
	case "console", "json":
	default:
		return fmt.Errorf("log_format must be console or json, got %q", c.LogFormat)
	}
	if c.ReloadTimeout <= 0 {
		return errors.New("reload_timeout must be positive")
	}
	return nil
}

// InsecureSecret reports whether the JWT secret is still the built-in default
func (c *Config) InsecureSecret() bool {
	return c.JWTSecret == defaultJWTSecret
}
