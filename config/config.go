// Package config centralises runtime configuration for Petrel: defaults, an
// optional yaml file, and environment variable overrides, applied in that
// order.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/petreltrade/petrel/internal/credential"
	"github.com/petreltrade/petrel/internal/schema"
)

// BinanceSettings declares the futures adapter transport configuration.
// Endpoints left empty fall back to the adapter's environment defaults.
type BinanceSettings struct {
	APIKey            string        `yaml:"apiKey"`
	APISecret         string        `yaml:"apiSecret"`
	BaseURL           string        `yaml:"baseUrl"`
	StreamURL         string        `yaml:"streamUrl"`
	RecvWindow        time.Duration `yaml:"recvWindow"`
	HTTPTimeout       time.Duration `yaml:"httpTimeout"`
	RequestsPerSecond float64       `yaml:"requestsPerSecond"`
}

// AuditSettings selects where audit events are journaled. Both sinks may be
// active at once; neither is required.
type AuditSettings struct {
	// LogPath appends JSONL events to a file.
	LogPath string `yaml:"logPath"`
	// PostgresDSN journals events into the migration-managed table.
	PostgresDSN string `yaml:"postgresDsn"`
	// MigrationsDir locates the SQL migrations for cmd/migrate.
	MigrationsDir string `yaml:"migrationsDir"`
}

// ReconcileSettings tunes the background reconciler.
type ReconcileSettings struct {
	Interval time.Duration `yaml:"interval"`
}

// Settings is the Petrel configuration tree.
type Settings struct {
	// Environment defaults to testnet as a safety rail.
	Environment schema.Environment `yaml:"environment"`
	// AllowProduction unlocks production credentials for activation.
	AllowProduction bool              `yaml:"allowProduction"`
	Binance         BinanceSettings   `yaml:"binance"`
	Audit           AuditSettings     `yaml:"audit"`
	Reconcile       ReconcileSettings `yaml:"reconcile"`
}

// Default returns the testnet-locked default configuration.
func Default() Settings {
	return Settings{
		Environment: schema.EnvTestnet,
		Binance: BinanceSettings{
			RecvWindow:        5 * time.Second,
			HTTPTimeout:       10 * time.Second,
			RequestsPerSecond: 8,
		},
		Audit: AuditSettings{
			MigrationsDir: "db/migrations",
		},
		Reconcile: ReconcileSettings{
			Interval: 2 * time.Second,
		},
	}
}

// Load reads the yaml file at path over the defaults, then applies env
// overrides. An empty path skips the file.
func Load(path string) (Settings, error) {
	cfg := Default()
	if strings.TrimSpace(path) != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Settings{}, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Settings{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	cfg = applyEnv(cfg)
	if err := cfg.validate(); err != nil {
		return Settings{}, err
	}
	return cfg, nil
}

// FromEnv loads defaults with env overrides only.
func FromEnv() (Settings, error) {
	return Load("")
}

func applyEnv(cfg Settings) Settings {
	if v := strings.TrimSpace(os.Getenv("PETREL_ENV")); v != "" {
		cfg.Environment = schema.Environment(strings.ToLower(v))
	}
	if v := strings.TrimSpace(os.Getenv("PETREL_ALLOW_PRODUCTION")); v != "" {
		cfg.AllowProduction = v == "true" || v == "1"
	}

	// Credential variables are environment-specific so a testnet key can
	// never silently become a production key.
	switch cfg.Environment {
	case schema.EnvProduction:
		if v := strings.TrimSpace(os.Getenv("BINANCE_API_KEY")); v != "" {
			cfg.Binance.APIKey = v
		}
		if v := strings.TrimSpace(os.Getenv("BINANCE_API_SECRET")); v != "" {
			cfg.Binance.APISecret = v
		}
	default:
		if v := strings.TrimSpace(os.Getenv("BINANCE_TESTNET_API_KEY")); v != "" {
			cfg.Binance.APIKey = v
		}
		if v := strings.TrimSpace(os.Getenv("BINANCE_TESTNET_API_SECRET")); v != "" {
			cfg.Binance.APISecret = v
		}
	}

	if v := strings.TrimSpace(os.Getenv("BINANCE_FUTURES_BASE_URL")); v != "" {
		cfg.Binance.BaseURL = v
	}
	if v := strings.TrimSpace(os.Getenv("BINANCE_FUTURES_WS_URL")); v != "" {
		cfg.Binance.StreamURL = v
	}
	if v := strings.TrimSpace(os.Getenv("BINANCE_HTTP_TIMEOUT")); v != "" {
		if dur, err := time.ParseDuration(v); err == nil {
			cfg.Binance.HTTPTimeout = dur
		}
	}
	if v := strings.TrimSpace(os.Getenv("BINANCE_RECV_WINDOW")); v != "" {
		if dur, err := time.ParseDuration(v); err == nil {
			cfg.Binance.RecvWindow = dur
		}
	}
	if v := strings.TrimSpace(os.Getenv("BINANCE_REQUESTS_PER_SECOND")); v != "" {
		if rps, err := strconv.ParseFloat(v, 64); err == nil && rps > 0 {
			cfg.Binance.RequestsPerSecond = rps
		}
	}
	if v := strings.TrimSpace(os.Getenv("PETREL_AUDIT_LOG")); v != "" {
		cfg.Audit.LogPath = v
	}
	if v := strings.TrimSpace(os.Getenv("PETREL_DATABASE_URL")); v != "" {
		cfg.Audit.PostgresDSN = v
	}
	return cfg
}

func (s Settings) validate() error {
	switch s.Environment {
	case schema.EnvTestnet, schema.EnvProduction:
		return nil
	default:
		return fmt.Errorf("unknown environment %q", s.Environment)
	}
}

// Credentials builds the immutable credential store from the configured key
// pair, tagged with the configured environment.
func (s Settings) Credentials() (*credential.Store, error) {
	return credential.New(s.Binance.APIKey, s.Binance.APISecret, s.Environment)
}
