package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	RPC       RPCConfig
	Contracts ContractsConfig
	Fetch     FetchConfig
	Storage   StorageConfig
	Sync      SyncConfig
	Server    ServerConfig
	Tracing   TracingConfig
	Alert     AlertConfig
	Log       LogConfig
}

type RPCConfig struct {
	URLs                 []string
	Timeout              time.Duration
	MaxRetries           int
	RPS                  float64
	Burst                int
	BlockTimeConcurrency int
}

type ContractsConfig struct {
	Market       string
	Vault        string
	Distributors []string
	RewardToken  string
}

type FetchConfig struct {
	SpanInit     int64
	SpanMax      int64
	SpanMin      int64
	LookbackDays int
}

type StorageConfig struct {
	DBPath     string
	LedgerPath string
}

type SyncConfig struct {
	Interval             time.Duration
	RewardsInterval      time.Duration
	ImpactInterval       time.Duration
	SnapshotDebounce     time.Duration
	ProfileEnrichEnabled bool
}

type ServerConfig struct {
	HealthPort int
}

type TracingConfig struct {
	Enabled  bool
	Endpoint string
}

type AlertConfig struct {
	WebhookURL string
}

type LogConfig struct {
	Level string
}

func Load() (*Config, error) {
	cfg := &Config{
		RPC: RPCConfig{
			URLs:                 getEnvList("RPC_URLS"),
			Timeout:              time.Duration(getEnvInt("RPC_TIMEOUT_SEC", 15)) * time.Second,
			MaxRetries:           getEnvInt("RPC_MAX_RETRIES", 5),
			RPS:                  getEnvFloat("RPC_RPS", 10),
			Burst:                getEnvInt("RPC_BURST", 20),
			BlockTimeConcurrency: getEnvInt("BLOCKTIME_CONCURRENCY", 2),
		},
		Contracts: ContractsConfig{
			Market:       strings.ToLower(getEnv("MARKET_CONTRACT", "")),
			Vault:        strings.ToLower(getEnv("VAULT_CONTRACT", "")),
			Distributors: lowerAll(getEnvList("REWARD_DISTRIBUTORS")),
			RewardToken:  strings.ToLower(getEnv("REWARD_TOKEN", "")),
		},
		Fetch: FetchConfig{
			SpanInit:     int64(getEnvInt("FETCH_SPAN_INIT", 2000)),
			SpanMax:      int64(getEnvInt("FETCH_SPAN_MAX", 10000)),
			SpanMin:      int64(getEnvInt("FETCH_SPAN_MIN", 10)),
			LookbackDays: getEnvInt("LOOKBACK_DAYS", 30),
		},
		Storage: StorageConfig{
			DBPath:     getEnv("DB_PATH", "data/indexer.db"),
			LedgerPath: getEnv("LEDGER_PATH", "data/logs.jsonl"),
		},
		Sync: SyncConfig{
			Interval:             time.Duration(getEnvInt("SYNC_INTERVAL_SEC", 20)) * time.Second,
			RewardsInterval:      time.Duration(getEnvInt("REWARDS_INTERVAL_SEC", 300)) * time.Second,
			ImpactInterval:       time.Duration(getEnvInt("IMPACT_INTERVAL_SEC", 600)) * time.Second,
			SnapshotDebounce:     time.Duration(getEnvInt("SNAPSHOT_DEBOUNCE_SECONDS", 120)) * time.Second,
			ProfileEnrichEnabled: getEnvBool("PROFILE_ENRICH_ENABLED", false),
		},
		Server: ServerConfig{
			HealthPort: getEnvInt("HEALTH_PORT", 8080),
		},
		Tracing: TracingConfig{
			Enabled:  getEnvBool("TRACING_ENABLED", false),
			Endpoint: getEnv("TRACING_ENDPOINT", ""),
		},
		Alert: AlertConfig{
			WebhookURL: getEnv("ALERT_WEBHOOK_URL", ""),
		},
		Log: LogConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if len(c.RPC.URLs) == 0 {
		return fmt.Errorf("RPC_URLS is required")
	}
	if c.Contracts.Market == "" {
		return fmt.Errorf("MARKET_CONTRACT is required")
	}
	if c.Contracts.Vault == "" {
		return fmt.Errorf("VAULT_CONTRACT is required")
	}
	if c.Fetch.SpanMin <= 0 || c.Fetch.SpanInit < c.Fetch.SpanMin || c.Fetch.SpanMax < c.Fetch.SpanInit {
		return fmt.Errorf("fetch span bounds must satisfy 0 < min <= init <= max")
	}
	return nil
}

// PrimaryRPCURL returns the first configured endpoint.
func (c *Config) PrimaryRPCURL() string {
	return c.RPC.URLs[0]
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvList(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

func lowerAll(in []string) []string {
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = strings.ToLower(s)
	}
	return out
}
