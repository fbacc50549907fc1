// Package config loads the engine's configuration from the environment:
// .env first when present, then os.Getenv with a typed getter and a
// logged fallback default per field.
package config

import (
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

// Mode selects between the deterministic simulator and the live exchange.
type Mode string

const (
	ModeTest Mode = "test"
	ModeLive Mode = "live"
)

// Config holds every tunable the Supervisor, strategies, and adapter need.
type Config struct {
	Mode Mode

	APIKey      string
	APISecret   string
	BaseRestURL string
	BaseWsURL   string
	RecvWindow  int

	MaxTraders int
	Leverage   int

	StartingBalanceUSDT            decimal.Decimal
	EquityFraction                 decimal.Decimal
	PositionNotionalUSDT           decimal.Decimal
	VolatilityPositionNotionalUSDT decimal.Decimal

	LevelSpacingPercent decimal.Decimal
	TakeProfitPercent   decimal.Decimal
	StopLossPercent     decimal.Decimal

	VolatilityTakeProfitPercent decimal.Decimal
	VolatilityStopLossPercent   decimal.Decimal

	FeeRate      decimal.Decimal
	SlippageRate decimal.Decimal

	ScannerIntervalMs     int
	EnableScannerFilters  bool
	EnableTradingWindow   bool
	TradingWindowStartUTC int
	TradingWindowEndUTC   int

	MinChange       decimal.Decimal
	MaxChange       decimal.Decimal
	VolumeRatio     decimal.Decimal
	MinRangePercent decimal.Decimal
	DepthMin        decimal.Decimal
	DepthMax        decimal.Decimal
	SpreadMin       decimal.Decimal
	SpreadMax       decimal.Decimal

	TelegramBotToken string
	TelegramChatID   int64

	DashboardAddr string
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Printf("config: invalid int for %s=%q, using default %d", key, v, fallback)
		return fallback
	}
	return n
}

func getBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		log.Printf("config: invalid bool for %s=%q, using default %v", key, v, fallback)
		return fallback
	}
	return b
}

func getDecimal(key string, fallback decimal.Decimal) decimal.Decimal {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := decimal.NewFromString(v)
	if err != nil {
		log.Printf("config: invalid decimal for %s=%q, using default %s", key, v, fallback.String())
		return fallback
	}
	return d
}

func getInt64(key string, fallback int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		log.Printf("config: invalid int64 for %s=%q, using default %d", key, v, fallback)
		return fallback
	}
	return n
}

// Load reads .env (if present) then the process environment, returning a
// fully populated Config.
func Load() *Config {
	if err := godotenv.Load(); err != nil {
		log.Println("config: .env not found, relying on process environment")
	}

	mode := Mode(strings.ToLower(getEnv("MODE", string(ModeTest))))
	if mode != ModeLive {
		mode = ModeTest
	}

	cfg := &Config{
		Mode: mode,

		APIKey:      os.Getenv("BINANCE_API_KEY"),
		APISecret:   os.Getenv("BINANCE_API_SECRET"),
		BaseRestURL: getEnv("BASE_REST_URL", "https://fapi.binance.com"),
		BaseWsURL:   getEnv("BASE_WS_URL", "wss://fstream.binance.com"),
		RecvWindow:  getInt("RECV_WINDOW", 5000),

		MaxTraders: getInt("MAX_TRADERS", 6),
		Leverage:   getInt("LEVERAGE", 10),

		StartingBalanceUSDT:            getDecimal("STARTING_BALANCE_USDT", decimal.NewFromInt(1000)),
		EquityFraction:                 getDecimal("EQUITY_FRACTION", decimal.NewFromFloat(0.5)),
		PositionNotionalUSDT:           getDecimal("POSITION_NOTIONAL_USDT", decimal.NewFromInt(100)),
		VolatilityPositionNotionalUSDT: getDecimal("VOLATILITY_POSITION_NOTIONAL_USDT", decimal.NewFromInt(300)),

		LevelSpacingPercent: getDecimal("LEVEL_SPACING_PERCENT", decimal.NewFromInt(1)),
		TakeProfitPercent:   getDecimal("TAKE_PROFIT_PERCENT", decimal.NewFromInt(1)),
		StopLossPercent:     getDecimal("STOP_LOSS_PERCENT", decimal.NewFromInt(1)),

		VolatilityTakeProfitPercent: getDecimal("VOLATILITY_TAKE_PROFIT_PERCENT", decimal.NewFromInt(3)),
		VolatilityStopLossPercent:   getDecimal("VOLATILITY_STOP_LOSS_PERCENT", decimal.NewFromInt(6)),

		FeeRate:      getDecimal("FEE_RATE", decimal.NewFromFloat(0.0004)),
		SlippageRate: getDecimal("SLIPPAGE_RATE", decimal.NewFromFloat(0.0002)),

		ScannerIntervalMs:     getInt("SCANNER_INTERVAL_MS", 30000),
		EnableScannerFilters:  getBool("ENABLE_SCANNER_FILTERS", true),
		EnableTradingWindow:   getBool("ENABLE_TRADING_WINDOW", false),
		TradingWindowStartUTC: getInt("TRADING_WINDOW_START_UTC", 3),
		TradingWindowEndUTC:   getInt("TRADING_WINDOW_END_UTC", 9),

		MinChange:       getDecimal("MIN_CHANGE", decimal.NewFromFloat(2)),
		MaxChange:       getDecimal("MAX_CHANGE", decimal.NewFromFloat(20)),
		VolumeRatio:     getDecimal("VOLUME_RATIO", decimal.NewFromFloat(1.2)),
		MinRangePercent: getDecimal("MIN_RANGE_PERCENT", decimal.NewFromFloat(1.5)),
		DepthMin:        getDecimal("DEPTH_MIN", decimal.NewFromInt(10000)),
		DepthMax:        getDecimal("DEPTH_MAX", decimal.NewFromInt(5000000)),
		SpreadMin:       getDecimal("SPREAD_MIN", decimal.NewFromFloat(0)),
		SpreadMax:       getDecimal("SPREAD_MAX", decimal.NewFromFloat(0.1)),

		TelegramBotToken: os.Getenv("TELEGRAM_BOT_TOKEN"),
		TelegramChatID:   getInt64("TELEGRAM_CHAT_ID", 0),

		DashboardAddr: getEnv("DASHBOARD_ADDR", ":8090"),
	}

	if mode == ModeLive && (cfg.APIKey == "" || cfg.APISecret == "") {
		log.Println("config: CRITICAL - live mode requested but Binance credentials are missing")
	}

	return cfg
}
