// Package config handles loading and validating configuration from environment variables.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

// Config holds all configuration values for the vault ledger.
type Config struct {
	// Persistence
	DatabaseURL string
	RedisURL    string
	CacheTTL    time.Duration

	// Events
	EventStream       string
	EventStreamMaxLen int

	// Ledger
	FactoryAddress    common.Address
	GuardianAddress   common.Address
	TrustedUpdaters   []common.Address
	ReputationMaxStep int
	AssetDecimals     int

	// Ops endpoint
	MetricsAddr string

	// Logging
	LogLevel string

	// Simulator
	SimOwner   common.Address
	SimTrader  common.Address
	SimAsset   string
	SimDeposit decimal.Decimal
	SimTrades  string
}

// Load reads configuration from environment variables with fallback to .env file.
// Priority order: Environment variables > .env file > hardcoded defaults
func Load() (*Config, error) {
	_ = godotenv.Load()

	p := &parser{}
	cfg := &Config{
		DatabaseURL: getEnv("DATABASE_URL", ""),
		RedisURL:    getEnv("REDIS_URL", ""),
		CacheTTL:    time.Duration(getEnvInt("CACHE_TTL_SECONDS", 30)) * time.Second,

		EventStream:       getEnv("EVENT_STREAM", ""),
		EventStreamMaxLen: getEnvInt("EVENT_STREAM_MAXLEN", 10000),

		FactoryAddress:    p.address("FACTORY_ADDRESS", "0x5FbDB2315678afecb367f032d93F642f64180aa3"),
		GuardianAddress:   p.address("GUARDIAN_ADDRESS", ""),
		TrustedUpdaters:   p.addresses("TRUSTED_UPDATERS"),
		ReputationMaxStep: getEnvInt("REPUTATION_MAX_STEP", 10),
		AssetDecimals:     getEnvInt("ASSET_DECIMALS", 18),

		MetricsAddr: getEnv("METRICS_ADDR", ""),

		LogLevel: getEnv("LOG_LEVEL", "INFO"),

		SimOwner:   p.address("SIM_OWNER", "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266"),
		SimTrader:  p.address("SIM_TRADER", "0x70997970C51812dc3A010C7d01b50e0d17dc79C8"),
		SimAsset:   strings.ToUpper(getEnv("SIM_ASSET", "USDC")),
		SimDeposit: p.amount("SIM_DEPOSIT", "1000"),
		SimTrades:  getEnv("SIM_TRADES", "buy:100@1"),
	}
	if p.err != nil {
		return nil, fmt.Errorf("config parse failed: %w", p.err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks that required configuration values are set and valid.
func (c *Config) Validate() error {
	if c.FactoryAddress == (common.Address{}) {
		return fmt.Errorf("FACTORY_ADDRESS must not be the zero address")
	}

	if c.ReputationMaxStep < 1 {
		return fmt.Errorf("REPUTATION_MAX_STEP must be at least 1")
	}

	if c.AssetDecimals < 0 || c.AssetDecimals > 36 {
		return fmt.Errorf("ASSET_DECIMALS must be between 0 and 36")
	}

	if c.CacheTTL <= 0 {
		return fmt.Errorf("CACHE_TTL_SECONDS must be positive")
	}

	if c.EventStreamMaxLen < 0 {
		return fmt.Errorf("EVENT_STREAM_MAXLEN must not be negative")
	}

	if c.SimOwner == c.SimTrader {
		return fmt.Errorf("SIM_OWNER and SIM_TRADER must differ")
	}

	if !c.SimDeposit.IsPositive() {
		return fmt.Errorf("SIM_DEPOSIT must be positive")
	}

	return nil
}

// Persistent reports whether the ledger state outlives the process.
func (c *Config) Persistent() bool {
	return c.DatabaseURL != ""
}

// Level maps LogLevel to a slog level. Unknown names mean INFO.
func (c *Config) Level() slog.Level {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo
	}
	return lvl
}

// parser collects the first malformed value while the config is built.
type parser struct {
	err error
}

func (p *parser) address(key, defaultValue string) common.Address {
	raw := getEnv(key, defaultValue)
	if raw == "" {
		return common.Address{}
	}
	if !common.IsHexAddress(raw) {
		p.fail(fmt.Errorf("%s: %q is not a hex address", key, raw))
		return common.Address{}
	}
	return common.HexToAddress(raw)
}

func (p *parser) addresses(key string) []common.Address {
	var out []common.Address
	for _, raw := range strings.Split(getEnv(key, ""), ",") {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		if !common.IsHexAddress(raw) {
			p.fail(fmt.Errorf("%s: %q is not a hex address", key, raw))
			continue
		}
		out = append(out, common.HexToAddress(raw))
	}
	return out
}

func (p *parser) amount(key, defaultValue string) decimal.Decimal {
	raw := getEnv(key, defaultValue)
	d, err := decimal.NewFromString(raw)
	if err != nil {
		p.fail(fmt.Errorf("%s: %w", key, err))
		return decimal.Zero
	}
	return d
}

func (p *parser) fail(err error) {
	if p.err == nil {
		p.err = err
	}
}

// getEnv retrieves an environment variable or returns a default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt retrieves an environment variable as an integer or returns a default.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}
