// Package config loads auditchain settings from an optional YAML file
// overlaid with AUDITCHAIN_* environment variables.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"github.com/roach88/auditchain/internal/integrity"
	"github.com/roach88/auditchain/internal/ledger"
	"github.com/roach88/auditchain/internal/normalize"
	"github.com/roach88/auditchain/internal/outbox"
)

// EnvPrefix prefixes every environment variable.
const EnvPrefix = "AUDITCHAIN_"

// Config is the full runtime configuration.
type Config struct {
	DatabasePath     string        `yaml:"database_path" env:"DB"`
	CatalogFile      string        `yaml:"catalog_file" env:"CATALOG_FILE"`
	MaxMetadataBytes int           `yaml:"max_metadata_bytes" env:"MAX_METADATA_BYTES"`
	Exporter         string        `yaml:"exporter" env:"EXPORTER"`
	Append           AppendConfig  `yaml:"append" envPrefix:"APPEND_"`
	Signing          SigningConfig `yaml:"signing" envPrefix:"SIGNING_"`
	Outbox           OutboxConfig  `yaml:"outbox" envPrefix:"OUTBOX_"`
	HTTP             HTTPConfig    `yaml:"http" envPrefix:"HTTP_"`
}

// AppendConfig bounds the optimistic append loop.
type AppendConfig struct {
	MaxAttempts int           `yaml:"max_attempts" env:"MAX_ATTEMPTS"`
	Deadline    time.Duration `yaml:"deadline" env:"DEADLINE"`
	BaseBackoff time.Duration `yaml:"base_backoff" env:"BASE_BACKOFF"`
	MaxBackoff  time.Duration `yaml:"max_backoff" env:"MAX_BACKOFF"`
}

// SigningConfig holds bundle signing keys as "id=secret,id2=secret2".
type SigningConfig struct {
	Keys        string `yaml:"keys" env:"KEYS"`
	ActiveKeyID string `yaml:"active_key_id" env:"ACTIVE_KEY_ID"`
}

// OutboxConfig configures notification delivery.
type OutboxConfig struct {
	QueueSize      int           `yaml:"queue_size" env:"QUEUE_SIZE"`
	Workers        int           `yaml:"workers" env:"WORKERS"`
	MaxAttempts    int           `yaml:"max_attempts" env:"MAX_ATTEMPTS"`
	InitialDelay   time.Duration `yaml:"initial_delay" env:"INITIAL_DELAY"`
	DedupCapacity  int           `yaml:"dedup_capacity" env:"DEDUP_CAPACITY"`
	DedupTTL       time.Duration `yaml:"dedup_ttl" env:"DEDUP_TTL"`
	WebhookURL     string        `yaml:"webhook_url" env:"WEBHOOK_URL"`
	WebhookTimeout time.Duration `yaml:"webhook_timeout" env:"WEBHOOK_TIMEOUT"`
}

// HTTPConfig configures the API server.
type HTTPConfig struct {
	Addr           string        `yaml:"addr" env:"ADDR"`
	RequestTimeout time.Duration `yaml:"request_timeout" env:"REQUEST_TIMEOUT"`
}

// Default returns the built-in configuration.
func Default() Config {
	retry := ledger.DefaultRetryConfig()
	ob := outbox.DefaultConfig()
	return Config{
		DatabasePath:     "auditchain.db",
		MaxMetadataBytes: normalize.DefaultMaxMetadataBytes,
		Exporter:         "auditchain",
		Append: AppendConfig{
			MaxAttempts: retry.MaxAttempts,
			Deadline:    retry.Deadline,
			BaseBackoff: retry.BaseBackoff,
			MaxBackoff:  retry.MaxBackoff,
		},
		Signing: SigningConfig{ActiveKeyID: "v1"},
		Outbox: OutboxConfig{
			QueueSize:      ob.QueueSize,
			Workers:        ob.Workers,
			MaxAttempts:    ob.MaxAttempts,
			InitialDelay:   ob.InitialDelay,
			DedupCapacity:  ob.DedupSize,
			DedupTTL:       ob.DedupTTL,
			WebhookTimeout: 5 * time.Second,
		},
		HTTP: HTTPConfig{
			Addr:           "127.0.0.1:8080",
			RequestTimeout: 30 * time.Second,
		},
	}
}

// Load returns Default overlaid with the YAML file at path (skipped when
// path is empty) and then the environment.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := decodeYAML(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func decodeYAML(data []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// Validate rejects settings no component can run with.
func (c Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}

	check(c.DatabasePath != "", "database_path is required")
	check(c.MaxMetadataBytes >= 64, "max_metadata_bytes must be at least 64, got %d", c.MaxMetadataBytes)
	check(c.Append.MaxAttempts >= 1, "append.max_attempts must be at least 1, got %d", c.Append.MaxAttempts)
	check(c.Append.Deadline > 0, "append.deadline must be positive")
	check(c.Append.BaseBackoff >= 0, "append.base_backoff must not be negative")
	check(c.Append.MaxBackoff >= c.Append.BaseBackoff, "append.max_backoff must be at least base_backoff")
	check(c.Outbox.QueueSize >= 1, "outbox.queue_size must be at least 1, got %d", c.Outbox.QueueSize)
	check(c.Outbox.Workers >= 1, "outbox.workers must be at least 1, got %d", c.Outbox.Workers)
	check(c.Outbox.MaxAttempts >= 1, "outbox.max_attempts must be at least 1, got %d", c.Outbox.MaxAttempts)
	check(c.Outbox.DedupCapacity >= 1, "outbox.dedup_capacity must be at least 1, got %d", c.Outbox.DedupCapacity)
	check(c.Outbox.DedupTTL > 0, "outbox.dedup_ttl must be positive")
	check(c.HTTP.RequestTimeout > 0, "http.request_timeout must be positive")

	if c.Signing.Keys != "" {
		if _, err := c.Keyring(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Keyring builds the signing keyring. Returns nil, nil when no keys are
// configured; bundles are then exported unsigned.
func (c Config) Keyring() (*integrity.Keyring, error) {
	if c.Signing.Keys == "" {
		return nil, nil
	}
	keys, err := integrity.ParseKeys(c.Signing.Keys)
	if err != nil {
		return nil, fmt.Errorf("signing.keys: %w", err)
	}
	ring, err := integrity.NewKeyring(keys, c.Signing.ActiveKeyID)
	if err != nil {
		return nil, fmt.Errorf("signing: %w", err)
	}
	return ring, nil
}

// RetryConfig converts the append settings.
func (c Config) RetryConfig() ledger.RetryConfig {
	return ledger.RetryConfig{
		MaxAttempts: c.Append.MaxAttempts,
		Deadline:    c.Append.Deadline,
		BaseBackoff: c.Append.BaseBackoff,
		MaxBackoff:  c.Append.MaxBackoff,
	}
}

// OutboxConfig converts the outbox settings.
func (c Config) OutboxConfig() outbox.Config {
	return outbox.Config{
		QueueSize:    c.Outbox.QueueSize,
		Workers:      c.Outbox.Workers,
		MaxAttempts:  c.Outbox.MaxAttempts,
		InitialDelay: c.Outbox.InitialDelay,
		DedupSize:    c.Outbox.DedupCapacity,
		DedupTTL:     c.Outbox.DedupTTL,
	}
}
