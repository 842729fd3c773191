package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("RPC_URLS", "https://rpc.example.com")
	t.Setenv("MARKET_CONTRACT", "0xAAAA000000000000000000000000000000000001")
	t.Setenv("VAULT_CONTRACT", "0xBBBB000000000000000000000000000000000002")
}

func TestLoad_DefaultsApply(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 15*time.Second, cfg.RPC.Timeout)
	assert.Equal(t, 10.0, cfg.RPC.RPS)
	assert.Equal(t, int64(2000), cfg.Fetch.SpanInit)
	assert.Equal(t, int64(10000), cfg.Fetch.SpanMax)
	assert.Equal(t, int64(10), cfg.Fetch.SpanMin)
	assert.Equal(t, 30, cfg.Fetch.LookbackDays)
	assert.Equal(t, "data/indexer.db", cfg.Storage.DBPath)
	assert.Equal(t, 20*time.Second, cfg.Sync.Interval)
	assert.False(t, cfg.Sync.ProfileEnrichEnabled)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestLoad_ContractAddressesAreLowercased(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("REWARD_DISTRIBUTORS", "0xCCCC000000000000000000000000000000000003, 0xCCCC000000000000000000000000000000000004")
	t.Setenv("REWARD_TOKEN", "0xDDDD000000000000000000000000000000000005")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "0xaaaa000000000000000000000000000000000001", cfg.Contracts.Market)
	assert.Equal(t, []string{
		"0xcccc000000000000000000000000000000000003",
		"0xcccc000000000000000000000000000000000004",
	}, cfg.Contracts.Distributors)
	assert.Equal(t, "0xdddd000000000000000000000000000000000005", cfg.Contracts.RewardToken)
}

func TestLoad_MissingRPCURLs(t *testing.T) {
	t.Setenv("RPC_URLS", "")
	t.Setenv("MARKET_CONTRACT", "0xa")
	t.Setenv("VAULT_CONTRACT", "0xb")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "RPC_URLS")
}

func TestLoad_MissingMarketContract(t *testing.T) {
	t.Setenv("RPC_URLS", "https://rpc.example.com")
	t.Setenv("MARKET_CONTRACT", "")
	t.Setenv("VAULT_CONTRACT", "0xb")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "MARKET_CONTRACT")
}

func TestLoad_InvalidSpanBounds(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("FETCH_SPAN_INIT", "5")
	t.Setenv("FETCH_SPAN_MIN", "10")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "span bounds")
}

func TestLoad_PrimaryRPCURL(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("RPC_URLS", "https://a.example.com,https://b.example.com")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "https://a.example.com", cfg.PrimaryRPCURL())
}
