// Package config loads service settings from an optional YAML file and the
// environment. Environment variables win over the file.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	yaml "gopkg.in/yaml.v3"
)

type Config struct {
	Port          string `yaml:"port"`
	DatabaseURL   string `yaml:"databaseUrl"`
	DBMigrate     bool   `yaml:"dbMigrate"`
	MigrationsDir string `yaml:"migrationsDir"`
	RedisURL      string `yaml:"redisUrl"`

	RateRPS   float64 `yaml:"rateRps"`
	RateBurst int     `yaml:"rateBurst"`

	Solve SolveConfig `yaml:"solve"`
	Auth  AuthConfig  `yaml:"auth"`

	CallbackMaxAttempts int `yaml:"callbackMaxAttempts"`
}

type SolveConfig struct {
	Engine  string        `yaml:"engine"`
	Timeout time.Duration `yaml:"timeout"`
	Workers int           `yaml:"workers"`
	// MaxExhaustivePlaces rejects exhaustive requests on larger instances.
	MaxExhaustivePlaces int `yaml:"maxExhaustivePlaces"`
	// MaxCandidates stops an exhaustive search that recorded more routes.
	MaxCandidates int `yaml:"maxCandidates"`
	MaxTrials     int `yaml:"maxTrials"`
}

type AuthConfig struct {
	// Mode is off, dev or hmac.
	Mode       string `yaml:"mode"`
	HMACSecret string `yaml:"hmacSecret"`
}

func Default() Config {
	return Config{
		Port:          "8080",
		DBMigrate:     true,
		MigrationsDir: "db/migrations",
		RateRPS:       20,
		RateBurst:     40,
		Solve: SolveConfig{
			Engine:              "global",
			Timeout:             30 * time.Second,
			MaxExhaustivePlaces: 9,
			MaxCandidates:       500_000,
			MaxTrials:           1_000_000,
		},
		Auth:                AuthConfig{Mode: "off"},
		CallbackMaxAttempts: 10,
	}
}

// Load reads the file named by CVRP_CONFIG, if set, over the defaults and
// then applies environment overrides.
func Load() (Config, error) {
	cfg := Default()
	if path := os.Getenv("CVRP_CONFIG"); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return cfg, err
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("config: %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() error {
	str := func(k string, dst *string) {
		if v := strings.TrimSpace(os.Getenv(k)); v != "" {
			*dst = v
		}
	}
	str("PORT", &c.Port)
	str("DATABASE_URL", &c.DatabaseURL)
	str("MIGRATIONS_DIR", &c.MigrationsDir)
	str("REDIS_URL", &c.RedisURL)
	str("SOLVE_ENGINE", &c.Solve.Engine)
	str("AUTH_MODE", &c.Auth.Mode)
	str("AUTH_HMAC_SECRET", &c.Auth.HMACSecret)

	if v := os.Getenv("DB_MIGRATE"); v != "" {
		c.DBMigrate = v != "false"
	}
	ints := []struct {
		key string
		dst *int
	}{
		{"RATE_BURST", &c.RateBurst},
		{"SOLVE_WORKERS", &c.Solve.Workers},
		{"SOLVE_MAX_EXHAUSTIVE_PLACES", &c.Solve.MaxExhaustivePlaces},
		{"SOLVE_MAX_TRIALS", &c.Solve.MaxTrials},
		{"SOLVE_MAX_CANDIDATES", &c.Solve.MaxCandidates},
		{"CALLBACK_MAX_ATTEMPTS", &c.CallbackMaxAttempts},
	}
	for _, it := range ints {
		if v := os.Getenv(it.key); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("config: %s: %w", it.key, err)
			}
			*it.dst = n
		}
	}
	if v := os.Getenv("RATE_RPS"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("config: RATE_RPS: %w", err)
		}
		c.RateRPS = f
	}
	if v := os.Getenv("SOLVE_TIMEOUT_MS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("config: SOLVE_TIMEOUT_MS: %w", err)
		}
		c.Solve.Timeout = time.Duration(n) * time.Millisecond
	}
	return nil
}

func (c Config) Validate() error {
	switch c.Auth.Mode {
	case "off", "dev":
	case "hmac":
		if c.Auth.HMACSecret == "" {
			return fmt.Errorf("config: auth mode hmac needs a secret")
		}
	default:
		return fmt.Errorf("config: unknown auth mode %q", c.Auth.Mode)
	}
	if c.Solve.Timeout <= 0 {
		return fmt.Errorf("config: solve timeout must be > 0")
	}
	if c.Solve.MaxExhaustivePlaces < 0 || c.Solve.MaxCandidates < 0 {
		return fmt.Errorf("config: solve limits must be >= 0")
	}
	if c.RateRPS < 0 || c.RateBurst < 0 {
		return fmt.Errorf("config: rate limits must be >= 0")
	}
	return nil
}

// Addr is the listen address.
func (c Config) Addr() string { return ":" + c.Port }
