// Package config loads and validates the stridesync configuration file.
//
// Configuration is a single YAML document. Every field has a default, so an
// absent file yields a fully usable Config; a present file overrides only the
// fields it names. Command-line flags override both.
package config

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Remote backend kinds.
const (
	RemoteMemory = "memory"
	RemoteSQLite = "sqlite"
)

// Queue backend kinds.
const (
	QueueSQLite = "sqlite"
	QueueJSON   = "json"
)

// Config holds all tunable settings for the sync subsystem.
type Config struct {
	// UserID identifies the signed-in user. Empty means the identity comes
	// from the session file instead.
	UserID string `yaml:"user_id"`

	// SessionPath is the session file written by the sign-in flow. Only
	// consulted when UserID is empty.
	SessionPath string `yaml:"session_path"`

	// DevicePath is the on-device database file holding the pending queue
	// and the challenge cache.
	DevicePath string `yaml:"device_path"`

	// Remote selects and locates the authoritative backend.
	Remote RemoteConfig `yaml:"remote"`

	// Queue selects the pending-event persistence backend.
	Queue QueueConfig `yaml:"queue"`

	// Gate tunes backend availability probing.
	Gate GateConfig `yaml:"gate"`

	// WaitTimeout bounds how long a check-in waits for the gate.
	WaitTimeout time.Duration `yaml:"wait_timeout"`

	// TxTimeout bounds a single remote check-in transaction.
	TxTimeout time.Duration `yaml:"tx_timeout"`

	// Timezone is the IANA zone used to normalize calendar days.
	// "Local" uses the device zone.
	Timezone string `yaml:"timezone"`
}

// RemoteConfig locates the authoritative challenge store.
type RemoteConfig struct {
	Kind string `yaml:"kind"` // "memory" | "sqlite"
	Path string `yaml:"path"` // SQLite file path, required for kind=sqlite
}

// QueueConfig selects the pending-event store implementation.
type QueueConfig struct {
	Kind string `yaml:"kind"` // "sqlite" | "json"
	Path string `yaml:"path"` // JSON file path, required for kind=json
}

// GateConfig tunes the availability gate's probe loop.
type GateConfig struct {
	ProbeInterval time.Duration `yaml:"probe_interval"`
	MaxAttempts   int           `yaml:"max_attempts"`
}

// Default returns the configuration used when no file is present.
func Default() Config {
	return Config{
		DevicePath:  "stridesync.db",
		SessionPath: "session.json",
		Remote:      RemoteConfig{Kind: RemoteSQLite, Path: "remote.db"},
		Queue:       QueueConfig{Kind: QueueSQLite},
		Gate: GateConfig{
			ProbeInterval: time.Second,
			MaxAttempts:   5,
		},
		WaitTimeout: 5 * time.Second,
		TxTimeout:   15 * time.Second,
		Timezone:    "Local",
	}
}

// Load reads a YAML config file and merges it over the defaults.
// A missing file is not an error; the defaults are returned as-is.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return cfg, fmt.Errorf("failed to read config file: %w", err)
	}

	// Strict field validation catches typos like "timout:".
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// Validate checks cross-field consistency. Zero durations are rejected so a
// misconfigured timeout never silently disables its bound.
func (c Config) Validate() error {
	if c.DevicePath == "" {
		return fmt.Errorf("device_path is required")
	}
	switch c.Remote.Kind {
	case RemoteMemory:
	case RemoteSQLite:
		if c.Remote.Path == "" {
			return fmt.Errorf("remote.path is required for remote.kind=sqlite")
		}
	default:
		return fmt.Errorf("unknown remote.kind %q (want %q or %q)", c.Remote.Kind, RemoteMemory, RemoteSQLite)
	}
	switch c.Queue.Kind {
	case QueueSQLite:
	case QueueJSON:
		if c.Queue.Path == "" {
			return fmt.Errorf("queue.path is required for queue.kind=json")
		}
	default:
		return fmt.Errorf("unknown queue.kind %q (want %q or %q)", c.Queue.Kind, QueueSQLite, QueueJSON)
	}
	if c.Gate.ProbeInterval <= 0 {
		return fmt.Errorf("gate.probe_interval must be positive")
	}
	if c.Gate.MaxAttempts <= 0 {
		return fmt.Errorf("gate.max_attempts must be positive")
	}
	if c.WaitTimeout <= 0 {
		return fmt.Errorf("wait_timeout must be positive")
	}
	if c.TxTimeout <= 0 {
		return fmt.Errorf("tx_timeout must be positive")
	}
	if _, err := c.Location(); err != nil {
		return fmt.Errorf("invalid timezone %q: %w", c.Timezone, err)
	}
	return nil
}

// Location resolves the configured timezone.
func (c Config) Location() (*time.Location, error) {
	if c.Timezone == "" || c.Timezone == "Local" {
		return time.Local, nil
	}
	return time.LoadLocation(c.Timezone)
}
