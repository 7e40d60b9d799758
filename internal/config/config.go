package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// RiskLimits defines the hard admission limits for one strategy. A strategy
// without an explicit entry in Config.StrategyLimits falls back to the
// service-wide default limits.
type RiskLimits struct {
	MaxPositionValuePct   float64 `yaml:"max_position_value_pct"`
	MaxLeverage           float64 `yaml:"max_leverage"`
	PerTradeVaRPct        float64 `yaml:"per_trade_var_pct"`
	MaxDailyLossPct       float64 `yaml:"max_daily_loss_pct"`
	MaxDrawdownPct        float64 `yaml:"max_drawdown_pct"`
	DrawdownCooldownHours float64 `yaml:"drawdown_cooldown_hours"`
	CorrelationLimit      float64 `yaml:"correlation_limit"`
}

// KillSwitchThresholds defines the protective-halt triggers.
type KillSwitchThresholds struct {
	ExchangeOutageSeconds float64 `yaml:"exchange_outage_seconds"`
	FundingSpikeBps       float64 `yaml:"funding_spike_bps"`
	APILatencyMsP99       float64 `yaml:"api_latency_ms_p99"`
	PriceDivergenceBps    float64 `yaml:"price_divergence_bps"`
	EquityDropPct         float64 `yaml:"equity_drop_pct"`
}

// DetectorConfig parameterizes regime detection and hysteresis.
type DetectorConfig struct {
	ATRPeriod         int     `yaml:"atr_period"`
	ADXPeriod         int     `yaml:"adx_period"`
	ADXThreshold      float64 `yaml:"adx_threshold"`
	MomentumPeriod    int     `yaml:"momentum_period"`
	VolWindow         int     `yaml:"vol_window"`
	HurstWindow       int     `yaml:"hurst_window"`
	StructureLookback int     `yaml:"structure_lookback"`
	ConfirmationBars  int     `yaml:"confirmation_bars"`
	CooldownBars      int     `yaml:"cooldown_bars"`
	HistorySize       int     `yaml:"history_size"`
}

// SizerConfig parameterizes Kelly-criterion position sizing.
type SizerConfig struct {
	LookbackTrades  int     `yaml:"lookback_trades"`
	MinTrades       int     `yaml:"min_trades"`
	SafetyFactor    float64 `yaml:"safety_factor"`
	MaxPositionSize float64 `yaml:"max_position_size"`
	MaxRiskPerTrade float64 `yaml:"max_risk_per_trade"`
}

// ClientConfig parameterizes the resilience wrapper around the risk service.
type ClientConfig struct {
	BaseURL        string   `yaml:"base_url"`
	RequestTimeout Duration `yaml:"request_timeout"`
	MaxRetries     int      `yaml:"max_retries"`
	BackoffBase    Duration `yaml:"backoff_base"`
	CacheTTL       Duration `yaml:"cache_ttl"`
	FailClosed     bool     `yaml:"fail_closed"`

	BreakerMaxRequests uint32   `yaml:"breaker_max_requests"`
	BreakerInterval    Duration `yaml:"breaker_interval"`
	BreakerTimeout     Duration `yaml:"breaker_timeout"`
	BreakerMinRequests uint32   `yaml:"breaker_min_requests"`
	BreakerFailureRate float64  `yaml:"breaker_failure_rate"`
}

// ServerConfig holds HTTP service configuration.
type ServerConfig struct {
	Host           string   `yaml:"host"`
	Port           int      `yaml:"port"`
	ReadTimeout    Duration `yaml:"read_timeout"`
	WriteTimeout   Duration `yaml:"write_timeout"`
	IdleTimeout    Duration `yaml:"idle_timeout"`
	HandlerTimeout Duration `yaml:"handler_timeout"`
	RateLimitRPS   float64  `yaml:"rate_limit_rps"`
	RateLimitBurst int      `yaml:"rate_limit_burst"`
}

// CheckpointConfig controls advisory RiskState snapshots in Redis.
type CheckpointConfig struct {
	Enabled   bool     `yaml:"enabled"`
	RedisAddr string   `yaml:"redis_addr"`
	RedisDB   int      `yaml:"redis_db"`
	Key       string   `yaml:"key"`
	TTL       Duration `yaml:"ttl"`
	Interval  Duration `yaml:"interval"`
}

// AuditConfig controls the Postgres decision audit log.
type AuditConfig struct {
	Enabled     bool     `yaml:"enabled"`
	PostgresDSN string   `yaml:"postgres_dsn"`
	Timeout     Duration `yaml:"timeout"`
}

// Config is the full service configuration.
type Config struct {
	Limits         RiskLimits            `yaml:"limits"`
	StrategyLimits map[string]RiskLimits `yaml:"strategy_limits"`
	KillSwitch     KillSwitchThresholds  `yaml:"kill_switch"`
	Detector       DetectorConfig        `yaml:"detector"`
	Sizer          SizerConfig           `yaml:"sizer"`
	Client         ClientConfig          `yaml:"client"`
	Server         ServerConfig          `yaml:"server"`
	Checkpoint     CheckpointConfig      `yaml:"checkpoint"`
	Audit          AuditConfig           `yaml:"audit"`
}

// DefaultLimits returns production-ready default admission limits.
func DefaultLimits() RiskLimits {
	return RiskLimits{
		MaxPositionValuePct:   0.10,
		MaxLeverage:           3.0,
		PerTradeVaRPct:        0.02,
		MaxDailyLossPct:       0.03,
		MaxDrawdownPct:        0.15,
		DrawdownCooldownHours: 24.0,
		CorrelationLimit:      0.7,
	}
}

// DefaultKillSwitchThresholds returns the default protective-halt triggers.
func DefaultKillSwitchThresholds() KillSwitchThresholds {
	return KillSwitchThresholds{
		ExchangeOutageSeconds: 60.0,
		FundingSpikeBps:       100.0,
		APILatencyMsP99:       2000.0,
		PriceDivergenceBps:    150.0,
		EquityDropPct:         0.10,
	}
}

// DefaultDetectorConfig returns the default regime detection parameters.
func DefaultDetectorConfig() DetectorConfig {
	return DetectorConfig{
		ATRPeriod:         14,
		ADXPeriod:         14,
		ADXThreshold:      25.0,
		MomentumPeriod:    10,
		VolWindow:         20,
		HurstWindow:       64,
		StructureLookback: 20,
		ConfirmationBars:  3,
		CooldownBars:      5,
		HistorySize:       100,
	}
}

// DefaultSizerConfig returns conservative half-Kelly sizing defaults.
func DefaultSizerConfig() SizerConfig {
	return SizerConfig{
		LookbackTrades:  50,
		MinTrades:       10,
		SafetyFactor:    0.5,
		MaxPositionSize: 0.10,
		MaxRiskPerTrade: 0.02,
	}
}

// DefaultClientConfig returns the fail-closed client defaults required for
// live trading.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		BaseURL:        "http://127.0.0.1:8090",
		RequestTimeout: Duration(5 * time.Second),
		MaxRetries:     3,
		BackoffBase:    Duration(100 * time.Millisecond),
		CacheTTL:       Duration(1 * time.Second),
		FailClosed:     true,

		BreakerMaxRequests: 3,
		BreakerInterval:    Duration(60 * time.Second),
		BreakerTimeout:     Duration(30 * time.Second),
		BreakerMinRequests: 5,
		BreakerFailureRate: 0.6,
	}
}

// DefaultServerConfig returns local-only server defaults.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Host:           "127.0.0.1",
		Port:           8090,
		ReadTimeout:    Duration(10 * time.Second),
		WriteTimeout:   Duration(10 * time.Second),
		IdleTimeout:    Duration(60 * time.Second),
		HandlerTimeout: Duration(5 * time.Second),
		RateLimitRPS:   200,
		RateLimitBurst: 400,
	}
}

// Default returns the full default configuration.
func Default() Config {
	return Config{
		Limits:         DefaultLimits(),
		StrategyLimits: map[string]RiskLimits{},
		KillSwitch:     DefaultKillSwitchThresholds(),
		Detector:       DefaultDetectorConfig(),
		Sizer:          DefaultSizerConfig(),
		Client:         DefaultClientConfig(),
		Server:         DefaultServerConfig(),
		Checkpoint: CheckpointConfig{
			Enabled:   false,
			RedisAddr: "127.0.0.1:6379",
			Key:       "riskgate:state",
			TTL:       Duration(24 * time.Hour),
			Interval:  Duration(30 * time.Second),
		},
		Audit: AuditConfig{
			Enabled: false,
			Timeout: Duration(3 * time.Second),
		},
	}
}

// Load reads configuration from a YAML file, layered over defaults, and
// validates the result.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse YAML config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate rejects limit configurations that could never admit an order or
// that disable a safety mechanism by accident.
func (c *Config) Validate() error {
	if err := validateLimits("default", c.Limits); err != nil {
		return err
	}
	for id, limits := range c.StrategyLimits {
		if err := validateLimits(id, limits); err != nil {
			return err
		}
	}

	ks := c.KillSwitch
	if ks.ExchangeOutageSeconds <= 0 || ks.FundingSpikeBps <= 0 ||
		ks.APILatencyMsP99 <= 0 || ks.PriceDivergenceBps <= 0 || ks.EquityDropPct <= 0 {
		return fmt.Errorf("kill switch thresholds must all be positive")
	}

	d := c.Detector
	if d.ATRPeriod < 2 {
		return fmt.Errorf("detector atr_period must be >= 2, got %d", d.ATRPeriod)
	}
	if d.ConfirmationBars < 1 {
		return fmt.Errorf("detector confirmation_bars must be >= 1, got %d", d.ConfirmationBars)
	}
	if d.CooldownBars < 0 {
		return fmt.Errorf("detector cooldown_bars cannot be negative, got %d", d.CooldownBars)
	}
	if d.HistorySize < 1 {
		return fmt.Errorf("detector history_size must be >= 1, got %d", d.HistorySize)
	}

	s := c.Sizer
	if s.SafetyFactor <= 0 || s.SafetyFactor > 1 {
		return fmt.Errorf("sizer safety_factor must be in (0, 1], got %f", s.SafetyFactor)
	}
	if s.MaxPositionSize <= 0 || s.MaxRiskPerTrade <= 0 {
		return fmt.Errorf("sizer position caps must be positive")
	}
	if s.MinTrades < 1 || s.LookbackTrades < s.MinTrades {
		return fmt.Errorf("sizer lookback_trades %d must be >= min_trades %d >= 1",
			s.LookbackTrades, s.MinTrades)
	}

	if c.Client.RequestTimeout <= 0 {
		return fmt.Errorf("client request_timeout must be positive")
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port %d", c.Server.Port)
	}
	if c.Server.HandlerTimeout <= 0 {
		return fmt.Errorf("server handler_timeout must be positive")
	}

	return nil
}

func validateLimits(strategyID string, l RiskLimits) error {
	if l.MaxPositionValuePct <= 0 || l.MaxPositionValuePct > 1 {
		return fmt.Errorf("strategy %s: max_position_value_pct must be in (0, 1], got %f",
			strategyID, l.MaxPositionValuePct)
	}
	if l.MaxLeverage <= 0 {
		return fmt.Errorf("strategy %s: max_leverage must be positive, got %f", strategyID, l.MaxLeverage)
	}
	if l.PerTradeVaRPct <= 0 {
		return fmt.Errorf("strategy %s: per_trade_var_pct must be positive, got %f", strategyID, l.PerTradeVaRPct)
	}
	if l.MaxDailyLossPct <= 0 {
		return fmt.Errorf("strategy %s: max_daily_loss_pct must be positive, got %f", strategyID, l.MaxDailyLossPct)
	}
	if l.MaxDrawdownPct <= 0 || l.MaxDrawdownPct >= 1 {
		return fmt.Errorf("strategy %s: max_drawdown_pct must be in (0, 1), got %f", strategyID, l.MaxDrawdownPct)
	}
	if l.DrawdownCooldownHours <= 0 {
		return fmt.Errorf("strategy %s: drawdown_cooldown_hours must be positive, got %f",
			strategyID, l.DrawdownCooldownHours)
	}
	return nil
}
