// Package config loads the server configuration from the environment.
package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Prefix is prepended to every variable name, e.g. LOUDTHOUGHTS_ADDR.
const Prefix = "LOUDTHOUGHTS"

type Config struct {
	Addr string `envconfig:"ADDR" default:":8080"`

	// BufferDSN selects the buffer backend directly. When empty the
	// BackendProfile decides, and with neither set buffers live in memory.
	BufferDSN      string `envconfig:"BUFFER_DSN"`
	BackendProfile string `envconfig:"BACKEND_PROFILE"`
	DataDir        string `envconfig:"DATA_DIR" default:".loudthoughts"`
	PostgresDSN    string `envconfig:"POSTGRES_DSN"`

	JWTSecret       string        `envconfig:"JWT_SECRET"`
	SyncTokenTTL    time.Duration `envconfig:"SYNC_TOKEN_TTL" default:"8760h"`
	MaxBodyBytes    int64         `envconfig:"MAX_BODY_BYTES" default:"1048576"`
	RateLimitMax    int           `envconfig:"RATE_LIMIT_MAX" default:"0"`
	RateLimitWindow time.Duration `envconfig:"RATE_LIMIT_WINDOW" default:"1m"`

	// EntryTTLDays is how many calendar days a buffered entry is kept.
	EntryTTLDays int `envconfig:"ENTRY_TTL_DAYS" default:"7"`

	LogLevel        string        `envconfig:"LOG_LEVEL" default:"info"`
	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"10s"`
}

// Load reads an optional .env file and then the process environment.
// Variables already set in the environment win over the file.
func Load() (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process(Prefix, &cfg); err != nil {
		return nil, fmt.Errorf("failed to process environment variables: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.EntryTTLDays <= 0 {
		return fmt.Errorf("ENTRY_TTL_DAYS must be positive, got %d", c.EntryTTLDays)
	}
	if c.MaxBodyBytes <= 0 {
		return fmt.Errorf("MAX_BODY_BYTES must be positive, got %d", c.MaxBodyBytes)
	}
	_, err := c.ResolveBufferDSN()
	return err
}

// ResolveBufferDSN returns the DSN the buffer backend should be built from.
func (c *Config) ResolveBufferDSN() (string, error) {
	if dsn := strings.TrimSpace(c.BufferDSN); dsn != "" {
		return dsn, nil
	}
	profile := strings.ToLower(strings.TrimSpace(c.BackendProfile))
	switch profile {
	case "", "memory", "inmemory":
		return "memory://", nil
	case "durable-local", "local-durable":
		return "file://" + filepath.Join(c.DataDir, "buffer.json"), nil
	case "sqlite":
		return "sqlite://" + filepath.Join(c.DataDir, "buffer.db"), nil
	case "production", "prod":
		dsn := strings.TrimSpace(c.PostgresDSN)
		if dsn == "" {
			return "", fmt.Errorf("%s_POSTGRES_DSN is required when %s_BACKEND_PROFILE=%s", Prefix, Prefix, profile)
		}
		return dsn, nil
	default:
		return "", fmt.Errorf("unsupported %s_BACKEND_PROFILE: %s", Prefix, profile)
	}
}
