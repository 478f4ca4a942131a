// Package config assembles domain.BotConfig and the engine's external
// endpoint settings from the process environment. Grounded on the donor's
// own getEnv/getEnvBool/getEnvInt/getEnvDuration/getEnvDecimal/getEnvFloat
// helper idiom (this package keeps that idiom verbatim) rather than
// switching to a struct-tag/reflection config library, which the donor
// never reaches for anywhere in its stack.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/ot-clark/cryptoedge/internal/domain"
	"github.com/shopspring/decimal"
)

// Endpoints are the upstream base URLs, the persistence file paths and the
// wallet settings, none of which are part of domain.BotConfig (the spec
// scopes BotConfig to trading parameters only).
type Endpoints struct {
	GammaURL    string // prediction market catalog
	CLOBURL     string // prediction market order book / order placement
	OptionsURL  string // options exchange (Deribit-shaped)
	OracleURL   string // spot price oracle (CoinGecko-shaped)
	BinanceURL  string // loaded from BINANCE_API_URL; no component reads it

	StateFilePath     string // bot-state.json
	RealStateFilePath string // real-bot-state.json
	LedgerPath        string // internal/ledger SQLite file

	WalletPrivateKey string
	SignerAddress    string
	FunderAddress    string
}

// Config bundles the immutable BotConfig the Trading State Machine
// consumes with the wiring details cmd/cryptoedge needs to build the
// providers and executor.
type Config struct {
	Bot       domain.BotConfig
	Endpoints Endpoints
}

// Load reads the process environment (after cmd/cryptoedge has called
// godotenv.Load) and assembles a Config, applying the same defaults the
// spec names in its BotConfig options table.
func Load() (*Config, error) {
	cfg := &Config{
		Bot: domain.BotConfig{
			StartingBalance:       getEnvDecimal("STARTING_BALANCE", decimal.NewFromInt(1000)),
			MinEdgeToEnter:        getEnvFloat("MIN_EDGE_TO_ENTER", 0.05),
			MaxEdgeToExit:         getEnvFloat("MAX_EDGE_TO_EXIT", 0.05),
			BasePositionSize:      getEnvDecimal("BASE_POSITION_SIZE", decimal.NewFromInt(25)),
			EdgeMultiplier:        getEnvDecimal("EDGE_MULTIPLIER", decimal.NewFromInt(500)),
			MaxPositionSize:       getEnvDecimal("MAX_POSITION_SIZE", decimal.NewFromInt(100)),
			MaxTotalExposure:      getEnvDecimal("MAX_TOTAL_EXPOSURE", decimal.NewFromInt(500)),
			PollInterval:          getEnvDuration("POLL_INTERVAL", 60*time.Second),
			MaxPositionsPerMarket: getEnvInt("MAX_POSITIONS_PER_MARKET", 1),
			MinTimeToExpiry:       getEnvFloat("MIN_TIME_TO_EXPIRY_DAYS", 1),
			DryRun:                getEnvBool("DRY_RUN", true),
		},
		Endpoints: Endpoints{
			GammaURL:   getEnv("GAMMA_API_URL", "https://gamma-api.polymarket.com"),
			CLOBURL:    getEnv("POLYMARKET_CLOB_URL", "https://clob.polymarket.com"),
			OptionsURL: getEnv("OPTIONS_API_URL", "https://www.deribit.com/api/v2"),
			OracleURL:  getEnv("ORACLE_API_URL", "https://api.coingecko.com/api/v3"),
			BinanceURL: getEnv("BINANCE_API_URL", "https://api.binance.com"),

			StateFilePath:     getEnv("STATE_FILE_PATH", "data/bot-state.json"),
			RealStateFilePath: getEnv("REAL_STATE_FILE_PATH", "data/real-bot-state.json"),
			LedgerPath:        getEnv("LEDGER_DB_PATH", "data/ledger.db"),

			WalletPrivateKey: os.Getenv("WALLET_PRIVATE_KEY"),
			SignerAddress:    os.Getenv("SIGNER_ADDRESS"),
			FunderAddress:    os.Getenv("FUNDER_ADDRESS"),
		},
	}

	if cfg.Bot.MaxPositionsPerMarket != 1 {
		return nil, fmt.Errorf("max positions per market is always 1 in this core, got %d", cfg.Bot.MaxPositionsPerMarket)
	}
	if !cfg.Bot.DryRun && cfg.Endpoints.WalletPrivateKey == "" {
		return nil, fmt.Errorf("WALLET_PRIVATE_KEY is required when DRY_RUN=false")
	}

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return value == "true" || value == "1" || value == "yes"
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvDecimal(key string, defaultValue decimal.Decimal) decimal.Decimal {
	if value := os.Getenv(key); value != "" {
		if d, err := decimal.NewFromString(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}
