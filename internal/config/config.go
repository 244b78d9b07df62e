package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// Config is the full console configuration, loaded from custos.toml and the
// environment.
type Config struct {
	Server ServerConfig `mapstructure:"server"`
	Engine EngineConfig `mapstructure:"engine"`
	Auth   AuthConfig   `mapstructure:"auth"`
	Jobs   JobsConfig   `mapstructure:"jobs"`
}

type ServerConfig struct {
	Port    int    `mapstructure:"port"`
	Host    string `mapstructure:"host"`
	DataDir string `mapstructure:"data_dir"`
}

type EngineConfig struct {
	// Binary is the path to the external backup engine executable.
	Binary string `mapstructure:"binary"`
	// ExecTimeout force-fails engine runs that exceed it; zero disables the
	// deadline.
	ExecTimeout time.Duration `mapstructure:"exec_timeout"`
}

type AuthConfig struct {
	// Secret signs and verifies API tokens. The console refuses to start
	// without one.
	Secret string `mapstructure:"secret"`
	// TokenTTL bounds issued tokens.
	TokenTTL time.Duration `mapstructure:"token_ttl"`
}

type JobsConfig struct {
	// Retention is the age past which finished job records may be cleaned up.
	Retention time.Duration `mapstructure:"retention"`
	// RateLimitRPS / RateLimitBurst throttle mutating API calls per client.
	RateLimitRPS   float64 `mapstructure:"rate_limit_rps"`
	RateLimitBurst int     `mapstructure:"rate_limit_burst"`
}

// Load reads configuration through viper; Defaults apply when the file or a
// key is absent, CUSTOS_* environment variables override.
func Load() (*Config, error) {
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.data_dir", defaultDataDir())
	viper.SetDefault("engine.binary", "restic")
	viper.SetDefault("engine.exec_timeout", time.Duration(0))
	viper.SetDefault("auth.token_ttl", 24*time.Hour)
	viper.SetDefault("jobs.retention", 7*24*time.Hour)
	viper.SetDefault("jobs.rate_limit_rps", 5.0)
	viper.SetDefault("jobs.rate_limit_burst", 10)

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	if cfg.Server.DataDir == "" {
		cfg.Server.DataDir = defaultDataDir()
	}
	if cfg.Auth.Secret == "" {
		cfg.Auth.Secret = os.Getenv("CUSTOS_AUTH_SECRET")
	}
	if cfg.Auth.Secret == "" {
		return nil, fmt.Errorf("auth.secret (or CUSTOS_AUTH_SECRET) is required")
	}

	return &cfg, nil
}

func defaultDataDir() string {
	if os.Geteuid() == 0 {
		return "/var/lib/custos"
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".local", "share", "custos")
	}
	return "./data"
}
