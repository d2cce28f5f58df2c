// Package config loads engine settings from an optional TOML file and
// applies environment overrides on top of it.
package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

// Environment variables that override file values.
const (
	EnvDatabaseURL    = "DATABASE_URL"
	EnvPort           = "PORT"
	EnvAuthToken      = "API_AUTH_TOKEN"
	EnvAllowedOrigins = "ALLOWED_ORIGINS"
	EnvWorkers        = "SOLVER_WORKERS"
	EnvPolicy         = "SOLVER_POLICY"
)

type Config struct {
	Server   ServerConfig   `toml:"server"`
	Database DatabaseConfig `toml:"database"`
	Solver   SolverConfig   `toml:"solver"`
	Shadow   ShadowConfig   `toml:"shadow"`
}

type ServerConfig struct {
	Port            string   `toml:"port" validate:"required,numeric"`
	AllowedOrigins  []string `toml:"allowed_origins"` // Empty means any origin
	AuthToken       string   `toml:"auth_token"`      // Empty disables auth (dev mode)
	RateLimitPerMin int      `toml:"rate_limit_per_min" validate:"gte=1"`
	RateLimitBurst  int      `toml:"rate_limit_burst" validate:"gte=1"`
}

type DatabaseConfig struct {
	URL string `toml:"url"` // Empty runs without persistence
}

type SolverConfig struct {
	Workers int    `toml:"workers" validate:"gte=1,lte=256"`
	Policy  string `toml:"policy" validate:"oneof=strict skip"`
}

type ShadowConfig struct {
	Enabled     bool  `toml:"enabled"`
	StateBudget int   `toml:"state_budget" validate:"gte=1"`
	SnapshotID  int64 `toml:"snapshot_id"`
}

// Default returns the settings used when neither file nor environment say
// otherwise.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            "5339",
			RateLimitPerMin: 30,
			RateLimitBurst:  10,
		},
		Solver: SolverConfig{
			Workers: min(runtime.GOMAXPROCS(0), 256),
			Policy:  "strict",
		},
		Shadow: ShadowConfig{
			StateBudget: 200_000,
			SnapshotID:  1,
		},
	}
}

// Load reads path (skipped when empty) over the defaults, applies the
// environment and validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if err := cfg.readFile(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) readFile(path string) error {
	configFile, err := filepath.Abs(filepath.Clean(path))
	if err != nil {
		return fmt.Errorf("failed to get absolute path: %w", err)
	}

	content, err := os.ReadFile(configFile)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := toml.Unmarshal(content, c); err != nil {
		var derr *toml.DecodeError
		if errors.As(err, &derr) {
			row, col := derr.Position()
			return fmt.Errorf("failed to parse config file at line %d, column %d: %w", row, col, err)
		}
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	log.Printf("[Config] Loaded %s", configFile)
	return nil
}

func (c *Config) applyEnv() error {
	if v := os.Getenv(EnvDatabaseURL); v != "" {
		c.Database.URL = v
	}
	if v := os.Getenv(EnvPort); v != "" {
		c.Server.Port = v
	}
	if v := os.Getenv(EnvAuthToken); v != "" {
		c.Server.AuthToken = v
	}
	if v := os.Getenv(EnvAllowedOrigins); v != "" {
		c.Server.AllowedOrigins = splitList(v)
	}
	if v := os.Getenv(EnvWorkers); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid %s %q: %w", EnvWorkers, v, err)
		}
		c.Solver.Workers = n
	}
	if v := os.Getenv(EnvPolicy); v != "" {
		c.Solver.Policy = v
	}
	return nil
}

// AllowsAnyOrigin reports whether CORS should answer with "*".
func (s ServerConfig) AllowsAnyOrigin() bool {
	return len(s.AllowedOrigins) == 0 || (len(s.AllowedOrigins) == 1 && s.AllowedOrigins[0] == "*")
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
