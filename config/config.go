package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"algotrade/internal/model"
	"algotrade/internal/strategy"
)

// Mode selects the execution backend.
type Mode string

const (
	ModePaper Mode = "paper"
	ModeLive  Mode = "live"
)

// Seed sources for the historical warm-up.
const (
	SeedCryptoCom = "cryptocom"
	SeedBinance   = "binance"
	SeedSQLite    = "sqlite"
	SeedNone      = "none"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	Instrument  model.Instrument
	TradingMode Mode

	// Exchange
	WSURL      string
	RESTURL    string
	APIKey     string
	APISecret  string
	BinanceURL string

	// Market data
	CandleInterval       time.Duration
	HeartbeatTimeout     time.Duration
	ReconnectBase        time.Duration
	ReconnectCap         time.Duration
	MaxReconnectAttempts int
	SeedSource           string
	SeedCandles          int

	// Indicators and signal rules
	ShortWindow  int
	LongWindow   int
	SignalRules  string // built-in version, ignored when RulesFile is set
	RulesFile    string
	EvalInterval time.Duration

	// Risk
	StopLossPct         float64
	TakeProfitPct       float64
	MaxPositions        int
	MaxDrawdownPct      float64
	MaxVolatility       float64
	MaxDailyLossPct     float64
	MaxPositionFraction float64
	InitialEquity       float64
	ResetTZ             string

	// Execution
	InitialBalance float64
	Allocation     float64
	SlippageBps    float64
	PollInterval   time.Duration
	PollTimeout    time.Duration
	PricePlaces    int // decimals of a live order price
	QtyPlaces      int // decimals of a live order quantity, the lot precision

	// Infrastructure
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisBuffered bool // buffer writes behind a circuit breaker
	JournalPath   string
	SQLitePath    string
	InfluxURL     string
	InfluxToken   string
	InfluxOrg     string
	InfluxBucket  string
	HTTPAddr      string
	LogLevel      string

	// Alerts
	TelegramToken  string
	TelegramChatID int64
	TelegramAPIURL string
	WebhookURL     string
}

// Load reads configuration from environment variables with sensible defaults.
// A .env file in the working directory is applied first when present.
func Load() *Config {
	_ = godotenv.Load() // .env is optional

	mode := Mode(strings.ToLower(getEnv("TRADING_MODE", string(ModePaper))))
	c := &Config{
		Instrument:  model.ParseInstrument(getEnv("INSTRUMENT", "DOGE_USDT")),
		TradingMode: mode,

		WSURL:      getEnv("WS_URL", "wss://stream.crypto.com/v2/market"),
		RESTURL:    getEnv("REST_URL", "https://api.crypto.com/v2"),
		BinanceURL: getEnv("BINANCE_URL", ""),

		CandleInterval:       getDuration("CANDLE_INTERVAL", time.Minute),
		HeartbeatTimeout:     getDuration("HEARTBEAT_TIMEOUT", 30*time.Second),
		ReconnectBase:        getDuration("RECONNECT_BASE", 5*time.Second),
		ReconnectCap:         getDuration("RECONNECT_CAP", 30*time.Second),
		MaxReconnectAttempts: getInt("MAX_RECONNECT_ATTEMPTS", 10),
		SeedSource:           strings.ToLower(getEnv("SEED_SOURCE", SeedCryptoCom)),
		SeedCandles:          getInt("SEED_CANDLES", 200),

		ShortWindow:  getInt("SHORT_WINDOW", 20),
		LongWindow:   getInt("LONG_WINDOW", 50),
		SignalRules:  getEnv("SIGNAL_RULES", "v2"),
		RulesFile:    getEnv("RULES_FILE", ""),
		EvalInterval: getDuration("EVAL_INTERVAL", 5*time.Second),

		StopLossPct:         getFloat("STOP_LOSS_PCT", 2),
		TakeProfitPct:       getFloat("TAKE_PROFIT_PCT", 4),
		MaxPositions:        getInt("MAX_POSITIONS", 3),
		MaxDrawdownPct:      getFloat("MAX_DRAWDOWN_PCT", 20),
		MaxVolatility:       getFloat("MAX_VOLATILITY", 0.5),
		MaxDailyLossPct:     getFloat("MAX_DAILY_LOSS_PCT", 5),
		MaxPositionFraction: getFloat("MAX_POSITION_FRACTION", 1),
		ResetTZ:             getEnv("RESET_TZ", "UTC"),

		InitialBalance: getFloat("INITIAL_BALANCE", 10000),
		Allocation:     getFloat("ALLOCATION", 0.95),
		SlippageBps:    getFloat("SLIPPAGE_BPS", 0),
		PollInterval:   getDuration("POLL_INTERVAL", time.Second),
		PollTimeout:    getDuration("POLL_TIMEOUT", 10*time.Second),
		PricePlaces:    getInt("PRICE_PLACES", 6),
		QtyPlaces:      getInt("QTY_PLACES", 1),

		RedisAddr:     getEnv("REDIS_ADDR", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getInt("REDIS_DB", 0),
		RedisBuffered: getBool("REDIS_BUFFERED", true),
		JournalPath:   getEnv("JOURNAL_PATH", "data/journal.db"),
		SQLitePath:    getEnv("SQLITE_PATH", ""),
		InfluxURL:     getEnv("INFLUX_URL", ""),
		InfluxToken:   getEnv("INFLUX_TOKEN", ""),
		InfluxOrg:     getEnv("INFLUX_ORG", ""),
		InfluxBucket:  getEnv("INFLUX_BUCKET", "algotrade"),
		HTTPAddr:      getEnv("HTTP_ADDR", ":9090"),
		LogLevel:      getEnv("LOG_LEVEL", "info"),

		TelegramToken:  getEnv("TELEGRAM_TOKEN", ""),
		TelegramChatID: int64(getInt("TELEGRAM_CHAT_ID", 0)),
		TelegramAPIURL: getEnv("TELEGRAM_API_URL", ""),
		WebhookURL:     getEnv("WEBHOOK_URL", ""),
	}
	// drawdown is measured against the paper balance unless set explicitly
	c.InitialEquity = getFloat("INITIAL_EQUITY", c.InitialBalance)

	if mode == ModeLive {
		c.APIKey = mustEnv("API_KEY")
		c.APISecret = mustEnv("API_SECRET")
	} else {
		c.APIKey = getEnv("API_KEY", "")
		c.APISecret = getEnv("API_SECRET", "")
	}
	return c
}

// Validate reports every inconsistent setting at once.
func (c *Config) Validate() error {
	var errs []error
	check := func(bad bool, format string, args ...any) {
		if bad {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}

	check(c.Instrument == "", "INSTRUMENT is empty")
	check(c.TradingMode != ModePaper && c.TradingMode != ModeLive, "TRADING_MODE %q is not paper or live", c.TradingMode)
	check(c.TradingMode == ModeLive && (c.APIKey == "" || c.APISecret == ""), "live trading needs API_KEY and API_SECRET")
	check(c.WSURL == "", "WS_URL is empty")

	check(c.ShortWindow <= 0 || c.LongWindow <= 0, "SHORT_WINDOW and LONG_WINDOW must be positive")
	check(c.ShortWindow >= c.LongWindow, "SHORT_WINDOW %d must be below LONG_WINDOW %d", c.ShortWindow, c.LongWindow)
	check(c.CandleInterval < 0, "CANDLE_INTERVAL must not be negative")
	check(c.EvalInterval <= 0, "EVAL_INTERVAL must be positive")
	check(c.MaxReconnectAttempts < 1, "MAX_RECONNECT_ATTEMPTS must be at least 1")
	check(c.ReconnectBase <= 0 || c.ReconnectCap < c.ReconnectBase, "RECONNECT_BASE %s / RECONNECT_CAP %s invalid", c.ReconnectBase, c.ReconnectCap)

	switch c.SeedSource {
	case SeedCryptoCom, SeedBinance, SeedNone:
	case SeedSQLite:
		check(c.SQLitePath == "", "SEED_SOURCE=sqlite needs SQLITE_PATH")
	default:
		errs = append(errs, fmt.Errorf("SEED_SOURCE %q is not cryptocom, binance, sqlite or none", c.SeedSource))
	}
	check(c.SeedCandles < 0, "SEED_CANDLES must not be negative")

	check(c.StopLossPct <= 0 || c.TakeProfitPct <= 0, "STOP_LOSS_PCT and TAKE_PROFIT_PCT must be positive")
	check(c.MaxPositions < 1, "MAX_POSITIONS must be at least 1")
	check(c.MaxDrawdownPct <= 0 || c.MaxDailyLossPct <= 0 || c.MaxVolatility <= 0, "risk limits must be positive")
	check(c.MaxPositionFraction <= 0 || c.MaxPositionFraction > 1, "MAX_POSITION_FRACTION %v must be in (0,1]", c.MaxPositionFraction)
	check(c.InitialEquity < 0, "INITIAL_EQUITY must not be negative")

	check(c.InitialBalance <= 0, "INITIAL_BALANCE must be positive")
	check(c.Allocation <= 0 || c.Allocation > 1, "ALLOCATION %v must be in (0,1]", c.Allocation)
	check(c.SlippageBps < 0, "SLIPPAGE_BPS must not be negative")
	check(c.PricePlaces < 0 || c.PricePlaces > 12 || c.QtyPlaces < 0 || c.QtyPlaces > 12, "PRICE_PLACES and QTY_PLACES must be in [0,12]")
	check(c.PollInterval <= 0 || c.PollTimeout < c.PollInterval, "POLL_INTERVAL %s / POLL_TIMEOUT %s invalid", c.PollInterval, c.PollTimeout)

	check(c.TelegramToken != "" && c.TelegramChatID == 0, "TELEGRAM_TOKEN is set without TELEGRAM_CHAT_ID")
	if _, err := time.LoadLocation(c.ResetTZ); err != nil {
		errs = append(errs, fmt.Errorf("RESET_TZ: %w", err))
	}

	return errors.Join(errs...)
}

// Rules returns the signal rule set: the YAML file when RULES_FILE is set,
// otherwise the built-in SIGNAL_RULES version.
func (c *Config) Rules() (strategy.RuleSet, error) {
	if c.RulesFile != "" {
		return strategy.LoadRules(c.RulesFile)
	}
	return strategy.Builtin(c.SignalRules)
}

// Location returns the time zone of the daily risk reset.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.ResetTZ)
	if err != nil {
		return time.UTC
	}
	return loc
}

func mustEnv(key string) string {
	v := os.Getenv(key)
	if v == "" {
		log.Fatalf("[config] required env var %s not set", key)
	}
	return v
}

func getEnv(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func getInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		log.Printf("[config] invalid %s=%q, using %d", key, v, fallback)
		return fallback
	}
	return n
}

func getFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil {
		log.Printf("[config] invalid %s=%q, using %v", key, v, fallback)
		return fallback
	}
	return f
}

// getDuration accepts Go durations ("30s") and bare seconds ("30").
func getDuration(key string, fallback time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if secs, err := strconv.ParseFloat(v, 64); err == nil {
		return time.Duration(secs * float64(time.Second))
	}
	log.Printf("[config] invalid %s=%q, using %s", key, v, fallback)
	return fallback
}

func getBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(strings.TrimSpace(v))
	if err != nil {
		log.Printf("[config] invalid %s=%q, using %t", key, v, fallback)
		return fallback
	}
	return b
}
