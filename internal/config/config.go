// Package config loads node settings from an optional YAML file overlaid by
// environment variables.
package config

import (
	"crypto/ed25519"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds node and client settings.
type Config struct {
	DataPath  string `yaml:"data_path"`
	Port      string `yaml:"port"`
	LogLevel  string `yaml:"log_level"`
	Network   string `yaml:"network"`
	PackageID string `yaml:"package_id"`

	// PrivateKey is the base64 ed25519 identity key of the node. Empty
	// generates an ephemeral key on startup.
	PrivateKey string `yaml:"private_key"`

	Ledger    LedgerConfig    `yaml:"ledger"`
	Blob      BlobConfig      `yaml:"blob"`
	KeyServer KeyServerConfig `yaml:"key_server"`
	Session   SessionConfig   `yaml:"session"`

	// InferenceURL is the endpoint documents are posted to for analysis.
	InferenceURL string `yaml:"inference_url"`
}

// LedgerConfig configures the devnet ledger and ledger clients.
type LedgerConfig struct {
	IndexingLag     int           `yaml:"indexing_lag"`
	ResolveAttempts int           `yaml:"resolve_attempts"`
	ResolveInterval time.Duration `yaml:"resolve_interval"`
	SettlingDelay   time.Duration `yaml:"settling_delay"`
	SnapshotCache   int           `yaml:"snapshot_cache"`
}

// BlobConfig configures blob storage.
type BlobConfig struct {
	Publisher   string   `yaml:"publisher"`
	Aggregators []string `yaml:"aggregators"`
	Epochs      int      `yaml:"epochs"`
	CacheSize   int      `yaml:"cache_size"`
	// RelayPublishers are the publishers the upload relay may forward to.
	RelayPublishers []string `yaml:"relay_publishers"`
}

// KeyServerConfig configures the local key server.
type KeyServerConfig struct {
	ObjectID  string `yaml:"object_id"`
	URL       string `yaml:"url"`
	Threshold int    `yaml:"threshold"`
}

// SessionConfig configures decryption sessions.
type SessionConfig struct {
	TTL time.Duration `yaml:"ttl"`
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	return &Config{
		DataPath:  "./data",
		Port:      "8080",
		LogLevel:  "info",
		Network:   "devnet",
		PackageID: "0x" + strings.Repeat("0", 62) + "42",
		Ledger: LedgerConfig{
			ResolveAttempts: 30,
			ResolveInterval: 2 * time.Second,
			SettlingDelay:   3 * time.Second,
			SnapshotCache:   1024,
		},
		Blob: BlobConfig{
			Epochs:    1,
			CacheSize: 256,
		},
		KeyServer: KeyServerConfig{
			ObjectID:  "0x" + strings.Repeat("0", 62) + "01",
			Threshold: 1,
		},
		Session: SessionConfig{
			TTL: 30 * time.Minute,
		},
	}
}

// Load reads path, if non-empty, over the defaults and then applies
// environment overrides.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
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

func (c *Config) applyEnv() error {
	c.DataPath = getEnv("DATA_PATH", c.DataPath)
	c.Port = getEnv("PORT", c.Port)
	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)
	c.Network = getEnv("PROOFVAULT_NETWORK", c.Network)
	c.PackageID = getEnv("PROOFVAULT_PACKAGE_ID", c.PackageID)
	c.PrivateKey = getEnv("PROOFVAULT_PRIVATE_KEY", c.PrivateKey)
	c.InferenceURL = getEnv("INFERENCE_URL", c.InferenceURL)
	c.Blob.Publisher = getEnv("BLOB_PUBLISHER", c.Blob.Publisher)
	c.KeyServer.URL = getEnv("KEY_SERVER_URL", c.KeyServer.URL)
	if v := os.Getenv("BLOB_AGGREGATORS"); v != "" {
		c.Blob.Aggregators = splitList(v)
	}
	if v := os.Getenv("BLOB_RELAY_PUBLISHERS"); v != "" {
		c.Blob.RelayPublishers = splitList(v)
	}
	if v := os.Getenv("INDEXING_LAG"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("INDEXING_LAG: %w", err)
		}
		c.Ledger.IndexingLag = n
	}
	return nil
}

// Validate checks value ranges.
func (c *Config) Validate() error {
	var errs []error
	if c.DataPath == "" {
		errs = append(errs, errors.New("data_path is required"))
	}
	if c.PackageID == "" {
		errs = append(errs, errors.New("package_id is required"))
	}
	if c.Ledger.IndexingLag < 0 {
		errs = append(errs, errors.New("ledger.indexing_lag must not be negative"))
	}
	if c.Ledger.ResolveAttempts < 1 {
		errs = append(errs, errors.New("ledger.resolve_attempts must be at least 1"))
	}
	if c.KeyServer.Threshold < 1 {
		errs = append(errs, errors.New("key_server.threshold must be at least 1"))
	}
	if c.Session.TTL < time.Minute || c.Session.TTL > 30*time.Minute || c.Session.TTL%time.Minute != 0 {
		errs = append(errs, fmt.Errorf("session.ttl %s must be whole minutes between 1m and 30m", c.Session.TTL))
	}
	return errors.Join(errs...)
}

// SlogLevel parses LogLevel, defaulting to info.
func (c *Config) SlogLevel() slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo
	}
	return level
}

// IdentityKey decodes PrivateKey or generates an ephemeral key. The bool
// reports whether the key is ephemeral.
func (c *Config) IdentityKey() (ed25519.PrivateKey, bool, error) {
	if c.PrivateKey == "" {
		_, priv, err := ed25519.GenerateKey(nil)
		if err != nil {
			return nil, false, err
		}
		return priv, true, nil
	}
	priv, err := base64.StdEncoding.DecodeString(c.PrivateKey)
	if err != nil {
		return nil, false, fmt.Errorf("failed to decode private key: %w", err)
	}
	if len(priv) != ed25519.PrivateKeySize {
		return nil, false, fmt.Errorf("private key must be %d bytes, got %d", ed25519.PrivateKeySize, len(priv))
	}
	return ed25519.PrivateKey(priv), false, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func splitList(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
