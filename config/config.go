package config

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
)

const defaultMarketDataEndpoint = "https://api.coingecko.com/api/v3"

// Config holds all application configuration, read from the environment.
type Config struct {
	Port        string   `env:"PORT" envDefault:"4000"`
	CORSOrigins []string `env:"CORS_ORIGINS" envDefault:"*" envSeparator:","`
	LogLevel    string   `env:"LOG_LEVEL" envDefault:"info"`
	JWTSecret   string   `env:"JWT_SECRET"`

	// AI providers
	OpenAIKey   string `env:"OPENAI_API_KEY"`
	OpenAIModel string `env:"OPENAI_MODEL" envDefault:"gpt-4o-mini"`
	GeminiKey   string `env:"GEMINI_API_KEY"`
	GeminiModel string `env:"GEMINI_MODEL" envDefault:"gemini-1.5-flash"`

	// Market data
	MarketDataEndpoint string        `env:"MARKET_DATA_API"`
	CoinGeckoAPIKey    string        `env:"COINGECKO_API_KEY"`
	BinanceBaseURL     string        `env:"BINANCE_BASE_URL"`
	PriceCacheTTL      time.Duration `env:"PRICE_CACHE_TTL" envDefault:"5s"`
	PriceFetchTimeout  time.Duration `env:"PRICE_FETCH_TIMEOUT" envDefault:"5s"`
	StopLossInterval   time.Duration `env:"STOP_LOSS_INTERVAL" envDefault:"15s"`

	// Chain
	RPCURL          string `env:"SOMNIA_RPC_URL" envDefault:"https://dream-rpc.somnia.network"`
	ChainID         int64  `env:"SOMNIA_CHAIN_ID" envDefault:"50312"`
	FactoryAddress  string `env:"SOMNIA_FACTORY_ADDRESS"`
	RouterAddress   string `env:"SOMNIA_ROUTER_ADDRESS"`
	AgentPrivateKey string `env:"AGENT_PRIVATE_KEY"`
	STTAddress      string `env:"SOMNIA_STT_ADDRESS"`
	ETHAddress      string `env:"SOMNIA_ETH_ADDRESS"`
	BTCAddress      string `env:"SOMNIA_BTC_ADDRESS"`
	SOLAddress      string `env:"SOMNIA_SOL_ADDRESS"`
	USDCAddress     string `env:"SOMNIA_USDC_ADDRESS"`

	// Event archive
	MongoURI     string `env:"MONGODB_URI"`
	DatabaseName string `env:"DATABASE_NAME" envDefault:"tradegpt"`
}

// Load reads .env (if present) and the process environment.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}

	// MARKET_DATA_API doubles as the CoinGecko key when it is not a URL.
	if !strings.HasPrefix(cfg.MarketDataEndpoint, "http") {
		if cfg.CoinGeckoAPIKey == "" {
			cfg.CoinGeckoAPIKey = cfg.MarketDataEndpoint
		}
		cfg.MarketDataEndpoint = defaultMarketDataEndpoint
	}
	cfg.CORSOrigins = trimAll(cfg.CORSOrigins)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate collects every problem instead of stopping at the first.
func (c *Config) Validate() error {
	var errs []string

	if c.Port == "" {
		errs = append(errs, "PORT must be set")
	}
	if c.ChainID <= 0 {
		errs = append(errs, "SOMNIA_CHAIN_ID must be positive")
	}
	if c.StopLossInterval <= 0 {
		errs = append(errs, "STOP_LOSS_INTERVAL must be positive")
	}
	if c.PriceCacheTTL <= 0 {
		errs = append(errs, "PRICE_CACHE_TTL must be positive")
	}
	if c.PriceFetchTimeout <= 0 {
		errs = append(errs, "PRICE_FETCH_TIMEOUT must be positive")
	}

	addresses := map[string]string{
		"SOMNIA_FACTORY_ADDRESS": c.FactoryAddress,
		"SOMNIA_ROUTER_ADDRESS":  c.RouterAddress,
		"SOMNIA_STT_ADDRESS":     c.STTAddress,
		"SOMNIA_ETH_ADDRESS":     c.ETHAddress,
		"SOMNIA_BTC_ADDRESS":     c.BTCAddress,
		"SOMNIA_SOL_ADDRESS":     c.SOLAddress,
		"SOMNIA_USDC_ADDRESS":    c.USDCAddress,
	}
	for key, value := range addresses {
		if value != "" && !common.IsHexAddress(value) {
			errs = append(errs, fmt.Sprintf("%s is not a valid address", key))
		}
	}

	if c.AgentPrivateKey != "" {
		key := strings.TrimPrefix(c.AgentPrivateKey, "0x")
		if len(key) != 64 {
			errs = append(errs, "AGENT_PRIVATE_KEY must be 32 bytes of hex")
		}
	}

	if len(errs) > 0 {
		// map iteration order varies; keep the message stable
		sort.Strings(errs)
		return fmt.Errorf("configuration validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

// AssetAddresses maps trade symbols to their token contracts on chain.
func (c *Config) AssetAddresses() map[string]string {
	out := map[string]string{}
	for symbol, addr := range map[string]string{
		"STT":  c.STTAddress,
		"ETH":  c.ETHAddress,
		"BTC":  c.BTCAddress,
		"SOL":  c.SOLAddress,
		"USDC": c.USDCAddress,
	} {
		if addr != "" {
			out[symbol] = addr
		}
	}
	return out
}

func trimAll(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
