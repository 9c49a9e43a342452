package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"threetick/internal/risk"
	"threetick/pkg/exchanges/common"
)

// Config holds startup settings. Everything is fixed once the loop starts.
type Config struct {
	// Instrument and cadence
	Instrument        string        `yaml:"instrument"`
	Timeframe         string        `yaml:"timeframe"`
	PollInterval      time.Duration `yaml:"poll_interval"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
	StatusEvery       int           `yaml:"status_every"`

	// Risk
	InvestmentRatio decimal.Decimal `yaml:"investment_ratio"`
	Leverage        int             `yaml:"leverage"`
	TakeProfitRate  decimal.Decimal `yaml:"take_profit_rate"`
	MarginMode      string          `yaml:"margin_mode"`

	// Binance (secrets come from the environment only)
	BinanceTestnet    bool    `yaml:"binance_testnet"`
	BinanceAPIKey     string  `yaml:"-"`
	BinanceAPISecret  string  `yaml:"-"`
	RequestsPerSecond float64 `yaml:"requests_per_second"`

	// Dry-run simulation
	DryRun               bool            `yaml:"dry_run"`
	DryRunInitialBalance decimal.Decimal `yaml:"dry_run_initial_balance"`
	DryRunSlippageBps    decimal.Decimal `yaml:"dry_run_slippage_bps"`
	DryRunFeeRate        decimal.Decimal `yaml:"dry_run_fee_rate"`

	// Journal and time series; empty disables
	JournalPath  string `yaml:"journal_path"`
	InfluxURL    string `yaml:"influx_url"`
	InfluxToken  string `yaml:"-"`
	InfluxOrg    string `yaml:"influx_org"`
	InfluxBucket string `yaml:"influx_bucket"`

	// Observability
	MetricsAddr string `yaml:"metrics_addr"`
	LogLevel    string `yaml:"log_level"`
	LogFile     string `yaml:"log_file"`
}

// Load reads environment variables (optionally via .env) into Config and
// then applies the YAML file at path, if any, on top.
func Load(path string) (*Config, error) {
	// Ignore error so the app still starts when .env is missing.
	_ = godotenv.Load()

	cfg := &Config{
		Instrument:        getEnv("INSTRUMENT", "BTCUSDT"),
		Timeframe:         getEnv("TIMEFRAME", "15m"),
		PollInterval:      getEnvDuration("POLL_INTERVAL", 15*time.Minute),
		HeartbeatInterval: getEnvDuration("HEARTBEAT_INTERVAL", time.Minute),
		StatusEvery:       getEnvInt("STATUS_EVERY", 15),

		InvestmentRatio: getEnvDecimal("INVESTMENT_RATIO", decimal.RequireFromString("0.1")),
		Leverage:        getEnvInt("LEVERAGE", risk.DefaultLeverage),
		TakeProfitRate:  getEnvDecimal("TAKE_PROFIT_RATE", risk.DefaultTakeProfitRate),
		MarginMode:      strings.ToLower(getEnv("MARGIN_MODE", string(common.MarginCross))),

		BinanceTestnet:    getEnv("BINANCE_TESTNET", "false") == "true",
		BinanceAPIKey:     os.Getenv("BINANCE_API_KEY"),
		BinanceAPISecret:  os.Getenv("BINANCE_API_SECRET"),
		RequestsPerSecond: getEnvFloat("REQUESTS_PER_SECOND", 10),

		DryRun:               getEnv("DRY_RUN", "false") == "true",
		DryRunInitialBalance: getEnvDecimal("DRY_RUN_INITIAL_BALANCE", decimal.NewFromInt(10000)),
		DryRunSlippageBps:    getEnvDecimal("DRY_RUN_SLIPPAGE_BPS", decimal.NewFromInt(2)),
		DryRunFeeRate:        getEnvDecimal("DRY_RUN_FEE_RATE", decimal.RequireFromString("0.0004")),

		JournalPath:  getEnv("JOURNAL_PATH", "./data/threetick.db"),
		InfluxURL:    os.Getenv("INFLUX_URL"),
		InfluxToken:  os.Getenv("INFLUX_TOKEN"),
		InfluxOrg:    getEnv("INFLUX_ORG", "threetick"),
		InfluxBucket: getEnv("INFLUX_BUCKET", "threetick"),

		MetricsAddr: getEnv("METRICS_ADDR", ":9090"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		LogFile:     os.Getenv("LOG_FILE"),
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}
	return cfg, nil
}

// Validate rejects settings the loop cannot run with. The investment ratio
// is clamped later rather than rejected.
func (c *Config) Validate() error {
	var errs []error
	if c.Instrument == "" {
		errs = append(errs, errors.New("instrument is required"))
	}
	if c.Timeframe == "" {
		errs = append(errs, errors.New("timeframe is required"))
	}
	if c.PollInterval <= 0 {
		errs = append(errs, fmt.Errorf("poll_interval must be positive, got %s", c.PollInterval))
	}
	if c.HeartbeatInterval <= 0 {
		errs = append(errs, fmt.Errorf("heartbeat_interval must be positive, got %s", c.HeartbeatInterval))
	}
	if c.Leverage <= 0 {
		errs = append(errs, fmt.Errorf("leverage must be positive, got %d", c.Leverage))
	}
	if !c.TakeProfitRate.IsPositive() {
		errs = append(errs, fmt.Errorf("take_profit_rate must be positive, got %s", c.TakeProfitRate))
	}
	switch common.MarginMode(c.MarginMode) {
	case common.MarginCross, common.MarginIsolated:
	default:
		errs = append(errs, fmt.Errorf("margin_mode must be cross or isolated, got %q", c.MarginMode))
	}
	if c.DryRun {
		if !c.DryRunInitialBalance.IsPositive() {
			errs = append(errs, errors.New("dry_run_initial_balance must be positive"))
		}
	} else if c.BinanceAPIKey == "" || c.BinanceAPISecret == "" {
		errs = append(errs, errors.New("BINANCE_API_KEY and BINANCE_API_SECRET are required unless dry_run is set"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return nil
}

// RiskParameters builds the immutable risk settings, clamping the ratio.
func (c *Config) RiskParameters() risk.Parameters {
	return risk.NewParameters(c.TakeProfitRate, c.Leverage, c.InvestmentRatio)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getEnvDecimal(key string, def decimal.Decimal) decimal.Decimal {
	if v := os.Getenv(key); v != "" {
		if d, err := decimal.NewFromString(v); err == nil {
			return d
		}
	}
	return def
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
