package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moveflow/vault-engine/internal/contract"
)

var envKeys = []string{
	"PORT", "LOG_LEVEL", "MODULE_ADDRESS", "VAULT_ADDRESS", "ROUTER_ADDRESS",
	"REWARDS_ADDRESS", "COIN_TYPE", "TELEGRAM_BOT_TOKEN", "TELEGRAM_API_URL",
	"ANTHROPIC_API_KEY", "ANTHROPIC_MODEL", "DATABASE_URL", "SQLITE_PATH",
	"REDIS_URL", "HTTPS_PROXY", "MOVEMENT_RPC_URL", "CHAIN_TIMEOUT",
	"VAULT_REFRESH_INTERVAL", "ROUTER_REFRESH_INTERVAL", "REDIS_TTL",
	"WITHDRAWAL_FEE_BPS", "REFRESH_MAX_RETRIES", "MAX_WATCHED_ADDRESSES", "WATCH_IDLE",
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range envKeys {
		t.Setenv(k, "")
	}
}

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, []string{DefaultNodeURL}, cfg.Chain.NodeURLs)
	assert.Equal(t, DefaultModuleAddress, cfg.Chain.VaultAddress)
	assert.Equal(t, DefaultModuleAddress, cfg.Chain.RouterAddress)
	assert.Equal(t, contract.AptosCoin, cfg.Chain.CoinType)
	assert.Equal(t, 30*time.Second, cfg.Refresh.VaultInterval)
	assert.Equal(t, 60*time.Second, cfg.Refresh.RouterInterval)
	assert.Equal(t, uint64(3), cfg.Refresh.MaxRetries)
	assert.Equal(t, 1000, cfg.Refresh.MaxWatched)
	assert.Equal(t, 24*time.Hour, cfg.Refresh.WatchIdle)
	assert.Equal(t, 8, cfg.Refresh.ReadConcurrency)
	assert.Equal(t, 10, cfg.Fees.WithdrawalBps)
	require.NoError(t, cfg.Validate())
}

func TestLoad_YAML(t *testing.T) {
	clearEnv(t)
	path := writeFile(t, `
server:
  port: "9090"
log_level: debug
chain:
  node_urls:
    - https://node-a.example/v1
    - https://node-b.example/v1
  vault_address: "0xabc"
  timeout: 3s
refresh:
  vault_interval: 15s
fees:
  withdrawal_bps: 0
protocols:
  - id: meridian
    name: Meridian
    category: staking
    base_apy: 14.5
    risk_score: 2
strategies:
  - id: all-in
    protocol_id: meridian
    allocation_bps: 10000
    target_apy: "13.25"
    active: true
    on_chain_index: 0
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "9090", cfg.Server.Port)
	assert.Equal(t, slog.LevelDebug, cfg.SlogLevel())
	assert.Len(t, cfg.Chain.NodeURLs, 2)
	assert.Equal(t, "0xabc", cfg.Chain.VaultAddress)
	assert.Equal(t, 3*time.Second, cfg.Chain.Timeout)
	assert.Equal(t, 15*time.Second, cfg.Refresh.VaultInterval)
	assert.Equal(t, 0, cfg.Fees.WithdrawalBps, "an explicit zero fee is kept")

	require.Len(t, cfg.Protocols, 1)
	assert.Equal(t, "14.5", cfg.Protocols[0].BaseAPY.String())
	require.Len(t, cfg.Strategies, 1)
	assert.Equal(t, "13.25", cfg.Strategies[0].TargetAPY.String())
	require.NotNil(t, cfg.Strategies[0].OnChainIndex)
	assert.Equal(t, 0, *cfg.Strategies[0].OnChainIndex)
}

func TestLoad_EnvOverrides(t *testing.T) {
	clearEnv(t)
	path := writeFile(t, "server:\n  port: \"9090\"\n")
	t.Setenv("PORT", "7070")
	t.Setenv("MOVEMENT_RPC_URL", "https://a.example/v1, https://b.example/v1")
	t.Setenv("VAULT_REFRESH_INTERVAL", "5s")
	t.Setenv("ROUTER_REFRESH_INTERVAL", "soon")
	t.Setenv("WITHDRAWAL_FEE_BPS", "25")
	t.Setenv("MAX_WATCHED_ADDRESSES", "50")
	t.Setenv("WATCH_IDLE", "2h")
	t.Setenv("ANTHROPIC_API_KEY", "sk-test")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "7070", cfg.Server.Port)
	assert.Equal(t, []string{"https://a.example/v1", "https://b.example/v1"}, cfg.Chain.NodeURLs)
	assert.Equal(t, 5*time.Second, cfg.Refresh.VaultInterval)
	assert.Equal(t, 60*time.Second, cfg.Refresh.RouterInterval, "invalid duration falls back to the default")
	assert.Equal(t, 25, cfg.Fees.WithdrawalBps)
	assert.Equal(t, 50, cfg.Refresh.MaxWatched)
	assert.Equal(t, 2*time.Hour, cfg.Refresh.WatchIdle)
	assert.Equal(t, "sk-test", cfg.Anthropic.APIKey)
}

func TestLoad_MalformedYAML(t *testing.T) {
	clearEnv(t)
	_, err := Load(writeFile(t, "server: [unclosed"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	clearEnv(t)
	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"bad vault address", func(c *Config) { c.Chain.VaultAddress = "vault" }},
		{"bad rewards address", func(c *Config) { c.Chain.RewardsAddress = "0xZZ" }},
		{"bad node url", func(c *Config) { c.Chain.NodeURLs = []string{"not a url"} }},
		{"fee over 100%", func(c *Config) { c.Fees.WithdrawalBps = 10001 }},
		{"unknown log level", func(c *Config) { c.LogLevel = "loud" }},
		{"strategy allocation out of range", func(c *Config) {
			c.Strategies = append(c.Strategies, c.Strategies...)
			c.Strategies[0].AllocationBps = 20000
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load(writeFile(t, `
strategies:
  - id: s
    protocol_id: meridian
    allocation_bps: 5000
`))
			require.NoError(t, err)
			require.NoError(t, cfg.Validate())
			tt.mutate(cfg)
			assert.ErrorIs(t, cfg.Validate(), ErrInvalid)
		})
	}
}
