package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

type Config struct {
	HTTPAddr string `env:"LOCKGATE_HTTP_ADDR" envDefault:":8080"`
	GRPCAddr string `env:"LOCKGATE_GRPC_ADDR" envDefault:":9090"`

	// DB
	Env    string `env:"LOCKGATE_ENV"     envDefault:"dev"` // "dev" | "prod"
	DBPath string `env:"LOCKGATE_DB_PATH" envDefault:"./data/lockgate.db"`

	// StoreBackend selects the state tree: "sqlite" (shared, durable) or
	// "memory" (single process, lost on exit).
	StoreBackend string `env:"LOCKGATE_STORE" envDefault:"sqlite"`

	// How often the sqlite store looks for commits from other processes.
	ExternalPollInterval time.Duration `env:"LOCKGATE_EXTERNAL_POLL" envDefault:"500ms"`

	// Lock cycle
	Lockers        []string      `env:"LOCKGATE_LOCKERS"         envDefault:"A" envSeparator:","`
	UnlockDwell    time.Duration `env:"LOCKGATE_UNLOCK_DWELL"    envDefault:"2s"`
	RelockDwell    time.Duration `env:"LOCKGATE_RELOCK_DWELL"    envDefault:"3s"`
	ProximityLabel string        `env:"LOCKGATE_PROXIMITY_LABEL" envDefault:"nfc-token"`

	// Accounts
	PrivilegedEmail string        `env:"LOCKGATE_PRIVILEGED_EMAIL"`
	TokenSecret     string        `env:"LOCKGATE_TOKEN_SECRET"`
	TokenTTL        time.Duration `env:"LOCKGATE_TOKEN_TTL" envDefault:"12h"`

	// Dev seed; ignored in prod.
	DevAdminEmail    string `env:"LOCKGATE_DEV_ADMIN_EMAIL"    envDefault:"admin@example.com"`
	DevAdminPassword string `env:"LOCKGATE_DEV_ADMIN_PASSWORD" envDefault:"admin123"`

	// Command watchdog; 0 disables.
	WatchInterval time.Duration `env:"LOCKGATE_WATCH_INTERVAL" envDefault:"30s"`

	// Tracing is off when the endpoint is empty.
	OTLPEndpoint string `env:"LOCKGATE_OTEL_ENDPOINT"`
}

// devTokenSecret signs tokens in dev when no secret is configured.
const devTokenSecret = "lockgate-dev-secret"

func FromEnv() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	return cfg.normalize()
}

func (c Config) normalize() (Config, error) {
	c.Env = strings.ToLower(strings.TrimSpace(c.Env))
	if c.Env != "dev" && c.Env != "prod" {
		// fail-soft: treat unknown as dev
		c.Env = "dev"
	}

	c.StoreBackend = strings.ToLower(strings.TrimSpace(c.StoreBackend))
	if c.StoreBackend != "sqlite" && c.StoreBackend != "memory" {
		return Config{}, fmt.Errorf("config: unknown store backend %q", c.StoreBackend)
	}

	c.Lockers = cleanList(c.Lockers)
	if len(c.Lockers) == 0 {
		return Config{}, fmt.Errorf("config: LOCKGATE_LOCKERS is empty")
	}

	if c.UnlockDwell < 0 || c.RelockDwell < 0 || c.WatchInterval < 0 {
		return Config{}, fmt.Errorf("config: durations must not be negative")
	}

	if c.TokenSecret == "" {
		if c.Env == "prod" {
			return Config{}, fmt.Errorf("config: LOCKGATE_TOKEN_SECRET is required in prod")
		}
		c.TokenSecret = devTokenSecret
	}
	return c, nil
}

func cleanList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, p := range in {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
