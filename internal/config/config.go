// Package config loads the engine's typed configuration. It is the
// ambient counterpart to the adapter-level "configuration loading" that
// the core spec leaves to operators: something still has to get the
// engine from zero to a running set of ChainConfigs.
package config

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

// ChainConfig is the static, once-loaded description of one chain the
// engine ingests. See spec §3.
type ChainConfig struct {
	Name                string
	ChainID             int64
	Endpoints           []string // ordered; first is primary
	BlockTimeSeconds    float64
	NativeTokenSymbol   string
	DexRouters          map[string]common.Address // label -> router address
	Pools               map[string]common.Address // label -> pool address
	SwapSelectors       map[string]struct{}       // 4-byte function selectors, hex, lowercase, 0x-prefixed

	ScanInterval        time.Duration
	ImbalanceThresholdPct decimal.Decimal
	FeeFraction         decimal.Decimal
	SmallOppMinUSD      decimal.Decimal
	SmallOppMaxUSD      decimal.Decimal

	price *PriceFeed
}

// Price returns the chain's hot-swappable native-token USD price feed.
func (c *ChainConfig) Price() *PriceFeed {
	return c.price
}

// PriceFeed is a single scalar guarded by a read lock, per spec §9 ("the
// spec assumes a value that can be hot-swapped safely").
type PriceFeed struct {
	mu    sync.RWMutex
	value decimal.Decimal
}

// NewPriceFeed seeds a PriceFeed with the startup USD price.
func NewPriceFeed(initial decimal.Decimal) *PriceFeed {
	return &PriceFeed{value: initial}
}

// Get returns the current price.
func (p *PriceFeed) Get() decimal.Decimal {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.value
}

// Set hot-swaps the price, e.g. from an external price-feed adapter.
func (p *PriceFeed) Set(v decimal.Decimal) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.value = v
}

// Config is the engine's full runtime configuration.
type Config struct {
	Chains []ChainConfig

	DatabaseURL     string
	DBMaxOpenConns  int
	DBMaxIdleConns  int
	DBConnLifetime  time.Duration

	MaxSubscribers  int
	HeartbeatPeriod time.Duration

	LogLevel  string
	LogFormat string
}

// chainInput mirrors the on-disk/env shape before address/decimal parsing.
type chainInput struct {
	Name                  string
	ChainID               int64
	Endpoints             []string
	BlockTimeSeconds      float64
	NativeTokenSymbol     string
	NativeTokenUSDPrice   string
	DexRouters            map[string]string
	Pools                 map[string]string
	SwapSelectors         []string
	ScanIntervalSeconds   float64
	ImbalanceThresholdPct float64
	FeeFraction           float64
	SmallOppMinUSD        float64
	SmallOppMaxUSD        float64
}

// Load reads configuration from configPath (YAML) with environment
// overrides, following the teacher's viper-based loader shape:
// defaults first, then file, then env.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigFile(configPath)
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var raw struct {
		Chains          []chainInput
		DatabaseURL     string
		DBMaxOpenConns  int
		DBMaxIdleConns  int
		DBConnLifetime  time.Duration
		MaxSubscribers  int
		HeartbeatPeriod time.Duration
		LogLevel        string
		LogFormat       string
	}
	if err := v.Unmarshal(&raw); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg := &Config{
		DatabaseURL:     raw.DatabaseURL,
		DBMaxOpenConns:  raw.DBMaxOpenConns,
		DBMaxIdleConns:  raw.DBMaxIdleConns,
		DBConnLifetime:  raw.DBConnLifetime,
		MaxSubscribers:  raw.MaxSubscribers,
		HeartbeatPeriod: raw.HeartbeatPeriod,
		LogLevel:        raw.LogLevel,
		LogFormat:       raw.LogFormat,
	}

	seenChainIDs := make(map[int64]struct{})
	for _, ci := range raw.Chains {
		cc, err := buildChainConfig(ci)
		if err != nil {
			return nil, fmt.Errorf("chain %q: %w", ci.Name, err)
		}
		if _, dup := seenChainIDs[cc.ChainID]; dup {
			return nil, fmt.Errorf("duplicate chain_id %d", cc.ChainID)
		}
		seenChainIDs[cc.ChainID] = struct{}{}
		cfg.Chains = append(cfg.Chains, *cc)
	}

	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func buildChainConfig(ci chainInput) (*ChainConfig, error) {
	if len(ci.Endpoints) == 0 {
		return nil, fmt.Errorf("at least one RPC endpoint required")
	}
	price, err := decimal.NewFromString(ci.NativeTokenUSDPrice)
	if err != nil || price.IsNegative() || price.IsZero() {
		return nil, fmt.Errorf("invalid native_token_usd_price %q: %v", ci.NativeTokenUSDPrice, err)
	}

	routers := make(map[string]common.Address, len(ci.DexRouters))
	for label, addr := range ci.DexRouters {
		routers[label] = common.HexToAddress(strings.ToLower(addr))
	}
	pools := make(map[string]common.Address, len(ci.Pools))
	for label, addr := range ci.Pools {
		pools[label] = common.HexToAddress(strings.ToLower(addr))
	}
	selectors := make(map[string]struct{}, len(ci.SwapSelectors))
	for _, sel := range ci.SwapSelectors {
		selectors[strings.ToLower(sel)] = struct{}{}
	}

	return &ChainConfig{
		Name:                  ci.Name,
		ChainID:               ci.ChainID,
		Endpoints:             ci.Endpoints,
		BlockTimeSeconds:      ci.BlockTimeSeconds,
		NativeTokenSymbol:     ci.NativeTokenSymbol,
		DexRouters:            routers,
		Pools:                 pools,
		SwapSelectors:         selectors,
		ScanInterval:          time.Duration(ci.ScanIntervalSeconds * float64(time.Second)),
		ImbalanceThresholdPct: decimal.NewFromFloat(ci.ImbalanceThresholdPct),
		FeeFraction:           decimal.NewFromFloat(ci.FeeFraction),
		SmallOppMinUSD:        decimal.NewFromFloat(ci.SmallOppMinUSD),
		SmallOppMaxUSD:        decimal.NewFromFloat(ci.SmallOppMaxUSD),
		price:                 NewPriceFeed(price),
	}, nil
}

func validate(cfg *Config) error {
	if cfg.DatabaseURL == "" {
		return fmt.Errorf("database_url is required")
	}
	if len(cfg.Chains) == 0 {
		return fmt.Errorf("at least one chain must be configured")
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("db_max_open_conns", 20)
	v.SetDefault("db_max_idle_conns", 5)
	v.SetDefault("db_conn_lifetime", 30*time.Minute)
	v.SetDefault("max_subscribers", 100)
	v.SetDefault("heartbeat_period", 30*time.Second)
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "json")
}
