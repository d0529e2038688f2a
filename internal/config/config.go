package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// SeedConfig models the subset of values we need from seed.json.
type SeedConfig struct {
	ProjectID string `json:"projectId"`
	Chain     struct {
		ChainID   int64  `json:"chainId"`
		RPCURL    string `json:"rpcUrl"`
		BlockTime int    `json:"blockTime"`
	} `json:"chain"`
	Claim struct {
		BaseURL string `json:"baseUrl"`
	} `json:"claim"`
	Secrets struct {
		IssuerAPISalt string `json:"issuerApiSalt"`
	} `json:"secrets"`
	Retry struct {
		MaxAttempts       int     `json:"maxAttempts"`
		InitialBackoffMs  int     `json:"initialBackoffMs"`
		MaxBackoffMs      int     `json:"maxBackoffMs"`
		BackoffMultiplier int     `json:"backoffMultiplier"`
		Jitter            float64 `json:"jitter"`
	} `json:"retry"`
	Timeouts struct {
		RPCTimeoutMs     int `json:"rpcTimeoutMs"`
		ConfirmTimeoutMs int `json:"confirmTimeoutMs"`
	} `json:"timeouts"`
	Sync struct {
		IntervalSeconds int `json:"intervalSeconds"`
	} `json:"sync"`
}

// DeploymentConfig represents deployments.json.
type DeploymentConfig struct {
	ChainID   int64  `json:"chainId"`
	Deployer  string `json:"deployer"`
	Admin     string `json:"admin"`
	Contracts struct {
		ReputationCard  string `json:"ReputationCard"`
		ProfileRegistry string `json:"ProfileRegistry"`
	} `json:"contracts"`
}

// AppConfig ties together seed + deployment info and derived values.
type AppConfig struct {
	Seed       SeedConfig
	Deployment DeploymentConfig
	Service    ServiceConfig
	Chain      ChainConfig
	Cache      CacheConfig
	Retry      RetryConfig
}

type ServiceConfig struct {
	HTTPPort       int
	HMACClockSkew  time.Duration
	ClaimBaseURL   string
	SyncInterval   time.Duration
	RPCTimeout     time.Duration
	ConfirmTimeout time.Duration
}

type ChainConfig struct {
	RPCURL           string
	ChainID          int64
	CardContract     string
	IssuerPrivateKey string
}

type CacheConfig struct {
	PostgresDSN string
	RedisAddr   string
}

type RetryConfig struct {
	MaxAttempts       int
	InitialBackoff    time.Duration
	MaxBackoff        time.Duration
	BackoffMultiplier int
	Jitter            float64
}

const (
	defaultSeedPath        = "../seed.json"
	defaultDeploymentsPath = "../deployments.json"
)

// Load aggregates configuration from disk and environment.
func Load() (*AppConfig, error) {
	seedPath := envOr("SEED_PATH", defaultSeedPath)
	deploymentsPath := envOr("DEPLOYMENTS_PATH", defaultDeploymentsPath)

	seedCfg, err := loadSeed(seedPath)
	if err != nil {
		return nil, fmt.Errorf("load seed: %w", err)
	}

	deployCfg, err := loadDeployments(deploymentsPath)
	if err != nil {
		return nil, fmt.Errorf("load deployments: %w", err)
	}

	serviceCfg := ServiceConfig{
		HTTPPort:       envOrInt("API_HTTP_PORT", 3000),
		HMACClockSkew:  time.Duration(envOrInt("HMAC_CLOCK_SKEW_SECONDS", 60)) * time.Second,
		ClaimBaseURL:   envOr("CLAIM_BASE_URL", seedCfg.Claim.BaseURL),
		SyncInterval:   time.Duration(seedCfg.Sync.IntervalSeconds) * time.Second,
		RPCTimeout:     time.Duration(seedCfg.Timeouts.RPCTimeoutMs) * time.Millisecond,
		ConfirmTimeout: time.Duration(seedCfg.Timeouts.ConfirmTimeoutMs) * time.Millisecond,
	}

	chainCfg := ChainConfig{
		RPCURL:           envOr("CHAIN_RPC_URL", seedCfg.Chain.RPCURL),
		ChainID:          seedCfg.Chain.ChainID,
		CardContract:     envOr("CARD_CONTRACT_ADDRESS", deployCfg.Contracts.ReputationCard),
		IssuerPrivateKey: envOr("ISSUER_PRIVATE_KEY", ""),
	}

	cacheCfg := CacheConfig{
		PostgresDSN: envOr("CACHE_POSTGRES_DSN", ""),
		RedisAddr:   envOr("WHITELIST_REDIS_ADDR", ""),
	}

	retryCfg := RetryConfig{
		MaxAttempts:       seedCfg.Retry.MaxAttempts,
		InitialBackoff:    time.Duration(seedCfg.Retry.InitialBackoffMs) * time.Millisecond,
		MaxBackoff:        time.Duration(seedCfg.Retry.MaxBackoffMs) * time.Millisecond,
		BackoffMultiplier: seedCfg.Retry.BackoffMultiplier,
		Jitter:            seedCfg.Retry.Jitter,
	}

	return &AppConfig{
		Seed:       *seedCfg,
		Deployment: *deployCfg,
		Service:    serviceCfg,
		Chain:      chainCfg,
		Cache:      cacheCfg,
		Retry:      retryCfg,
	}, nil
}

func loadSeed(path string) (*SeedConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg SeedConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func loadDeployments(path string) (*DeploymentConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg DeploymentConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func envOr(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok && val != "" {
		return val
	}
	return fallback
}

func envOrInt(key string, fallback int) int {
	if val, ok := os.LookupEnv(key); ok && val != "" {
		var parsed int
		if _, err := fmt.Sscanf(val, "%d", &parsed); err == nil {
			return parsed
		}
	}
	return fallback
}
