package config

import (
	"crypto/ed25519"
	"encoding/base64"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "proofvault.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "./data", cfg.DataPath)
	assert.Equal(t, 30, cfg.Ledger.ResolveAttempts)
	assert.Equal(t, 2*time.Second, cfg.Ledger.ResolveInterval)
	assert.Equal(t, 3*time.Second, cfg.Ledger.SettlingDelay)
	assert.Equal(t, 1, cfg.KeyServer.Threshold)
	assert.Equal(t, 30*time.Minute, cfg.Session.TTL)
	assert.Equal(t, slog.LevelInfo, cfg.SlogLevel())
}

func TestLoad_File(t *testing.T) {
	path := writeConfig(t, `
data_path: /var/lib/proofvault
network: localnet
ledger:
  indexing_lag: 4
  resolve_interval: 500ms
blob:
  publisher: https://publisher.example
  aggregators: [https://a.example, https://b.example]
session:
  ttl: 10m
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/proofvault", cfg.DataPath)
	assert.Equal(t, "localnet", cfg.Network)
	assert.Equal(t, 4, cfg.Ledger.IndexingLag)
	assert.Equal(t, 500*time.Millisecond, cfg.Ledger.ResolveInterval)
	assert.Equal(t, 30, cfg.Ledger.ResolveAttempts, "unset keys keep defaults")
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Blob.Aggregators)
	assert.Equal(t, 10*time.Minute, cfg.Session.TTL)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := writeConfig(t, "network: localnet\nlog_level: info\n")
	t.Setenv("PROOFVAULT_NETWORK", "testnet")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("BLOB_AGGREGATORS", " https://x.example , ,https://y.example")
	t.Setenv("INDEXING_LAG", "2")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "testnet", cfg.Network)
	assert.Equal(t, slog.LevelDebug, cfg.SlogLevel())
	assert.Equal(t, []string{"https://x.example", "https://y.example"}, cfg.Blob.Aggregators)
	assert.Equal(t, 2, cfg.Ledger.IndexingLag)
}

func TestLoad_Invalid(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	_, err = Load(writeConfig(t, "ledger: [not, a, map]"))
	assert.Error(t, err)

	_, err = Load(writeConfig(t, "session:\n  ttl: 45m\nkey_server:\n  threshold: 0\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "session.ttl")
	assert.Contains(t, err.Error(), "key_server.threshold")

	_, err = Load(writeConfig(t, "session:\n  ttl: 90s\n"))
	assert.Error(t, err)

	t.Setenv("INDEXING_LAG", "many")
	_, err = Load("")
	assert.Error(t, err)
}

func TestIdentityKey(t *testing.T) {
	cfg := Default()
	priv, ephemeral, err := cfg.IdentityKey()
	require.NoError(t, err)
	assert.True(t, ephemeral)
	assert.Len(t, priv, ed25519.PrivateKeySize)

	cfg.PrivateKey = base64.StdEncoding.EncodeToString(priv)
	again, ephemeral, err := cfg.IdentityKey()
	require.NoError(t, err)
	assert.False(t, ephemeral)
	assert.Equal(t, priv, again)

	cfg.PrivateKey = base64.StdEncoding.EncodeToString([]byte("short"))
	_, _, err = cfg.IdentityKey()
	assert.Error(t, err)
}
