// config/config.go
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v2"
)

// RiskConfig holds the breaker thresholds and per-trade risk parameters.
type RiskConfig struct {
	RiskPerTrade         float64 `yaml:"risk_per_trade"`         // fraction of balance risked per entry, e.g. 0.005
	BasicRR              float64 `yaml:"basic_rr"`               // reward-to-risk in RANGE regime
	ConvictionRR         float64 `yaml:"conviction_rr"`          // reward-to-risk in TREND regime
	SlAtrMult            float64 `yaml:"sl_atr_mult"`            // stop distance = ATR * this
	MaxConsecutiveLoss   int     `yaml:"max_consecutive_loss"`   // breaker
	MaxDrawdownPct       float64 `yaml:"max_drawdown_pct"`       // breaker, peak-relative percent
	DailyLossLimitR      float64 `yaml:"daily_loss_limit_r"`     // breaker, accumulated same-day loss in R
	MinScore             float64 `yaml:"min_score"`              // entry gate
	TradeCooldownSeconds int     `yaml:"trade_cooldown_seconds"` // min gap between entries
}

// LogConfig holds the configuration for logging.
type LogConfig struct {
	LogLevel   string `yaml:"log_level"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}

// NormalConfig holds all general, non-strategy-specific configuration.
type NormalConfig struct {
	HTTPTimeoutSeconds       int    `yaml:"http_timeout_seconds"`
	RecvWindowSeconds        int    `yaml:"recv_window_seconds"`
	AtrIntervalSeconds       int    `yaml:"atr_interval_seconds"`
	OiIntervalSeconds        int    `yaml:"oi_interval_seconds"`
	FlowResetSeconds         int    `yaml:"flow_reset_seconds"`
	ReconcileIntervalSeconds int    `yaml:"reconcile_interval_seconds"`
	BalanceSyncSeconds       int    `yaml:"balance_sync_seconds"`
	DashboardIntervalSeconds int    `yaml:"dashboard_interval_seconds"`
	ReconnectDelaySeconds    int    `yaml:"reconnect_delay_seconds"`
	LogDirectory             string `yaml:"log_directory"`
	StateDirectory           string `yaml:"state_directory"`
	RecordDirectory          string `yaml:"record_directory"`
}

// Config is the top-level configuration structure.
type Config struct {
	Symbol   string        `yaml:"symbol"`
	Leverage int           `yaml:"leverage"`
	Risk     *RiskConfig   `yaml:"risk"`
	Normal   *NormalConfig `yaml:"normal_config"`
	Logs     *LogConfig    `yaml:"logs"`
}

// NewConfig creates a Config with allocated nested structs but no magic
// strategy numbers. All load-bearing parameters MUST come from config.yaml.
func NewConfig() *Config {
	return &Config{
		Risk:   &RiskConfig{},
		Normal: &NormalConfig{},
		Logs:   &LogConfig{},
	}
}

// LoadConfig loads configuration from a given path and validates it.
func LoadConfig(path string) (*Config, error) {
	cfg := NewConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found at %s, the engine cannot run without one", path)
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal yaml: %w", err)
	}
	if cfg.Risk == nil {
		cfg.Risk = &RiskConfig{}
	}
	if cfg.Normal == nil {
		cfg.Normal = &NormalConfig{}
	}
	if cfg.Logs == nil {
		cfg.Logs = &LogConfig{}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// Validate checks the logical consistency and completeness of the configuration.
func (c *Config) Validate() error {
	if c.Symbol == "" {
		return fmt.Errorf("critical config missing: 'symbol' must be explicitly specified in config.yaml")
	}
	if c.Leverage <= 0 {
		return fmt.Errorf("critical config missing: 'leverage' must be explicitly specified in config.yaml and be positive")
	}

	if c.Risk.RiskPerTrade <= 0 || c.Risk.RiskPerTrade >= 1 {
		return fmt.Errorf("config error: 'risk.risk_per_trade' must be in (0, 1), e.g. 0.005")
	}
	if c.Risk.BasicRR <= 0 {
		return fmt.Errorf("critical config missing: 'risk.basic_rr' must be positive")
	}
	if c.Risk.ConvictionRR < c.Risk.BasicRR {
		return fmt.Errorf("config error: 'risk.conviction_rr' must be >= 'risk.basic_rr'")
	}
	if c.Risk.SlAtrMult <= 0 {
		return fmt.Errorf("critical config missing: 'risk.sl_atr_mult' must be positive")
	}
	if c.Risk.MaxConsecutiveLoss <= 0 {
		return fmt.Errorf("critical config missing: 'risk.max_consecutive_loss' must be positive")
	}
	if c.Risk.MaxDrawdownPct <= 0 {
		return fmt.Errorf("critical config missing: 'risk.max_drawdown_pct' must be positive")
	}
	if c.Risk.DailyLossLimitR <= 0 {
		return fmt.Errorf("critical config missing: 'risk.daily_loss_limit_r' must be positive")
	}
	if c.Risk.MinScore <= 0 {
		return fmt.Errorf("critical config missing: 'risk.min_score' must be positive")
	}
	if c.Risk.TradeCooldownSeconds <= 0 {
		return fmt.Errorf("critical config missing: 'risk.trade_cooldown_seconds' must be positive")
	}

	if c.Normal == nil {
		return fmt.Errorf("critical config missing: 'normal_config' block must be provided in config.yaml")
	}
	if c.Normal.HTTPTimeoutSeconds <= 0 {
		return fmt.Errorf("critical config missing: 'normal_config.http_timeout_seconds' must be positive")
	}
	if c.Normal.RecvWindowSeconds <= 0 {
		return fmt.Errorf("critical config missing: 'normal_config.recv_window_seconds' must be positive")
	}
	if c.Normal.AtrIntervalSeconds <= 0 {
		return fmt.Errorf("critical config missing: 'normal_config.atr_interval_seconds' must be positive")
	}
	if c.Normal.OiIntervalSeconds <= 0 {
		return fmt.Errorf("critical config missing: 'normal_config.oi_interval_seconds' must be positive")
	}
	if c.Normal.FlowResetSeconds <= 0 {
		return fmt.Errorf("critical config missing: 'normal_config.flow_reset_seconds' must be positive")
	}
	if c.Normal.ReconcileIntervalSeconds <= 0 {
		return fmt.Errorf("critical config missing: 'normal_config.reconcile_interval_seconds' must be positive")
	}
	if c.Normal.BalanceSyncSeconds <= 0 {
		return fmt.Errorf("critical config missing: 'normal_config.balance_sync_seconds' must be positive")
	}
	if c.Normal.DashboardIntervalSeconds <= 0 {
		return fmt.Errorf("critical config missing: 'normal_config.dashboard_interval_seconds' must be positive")
	}
	if c.Normal.ReconnectDelaySeconds <= 0 {
		return fmt.Errorf("critical config missing: 'normal_config.reconnect_delay_seconds' must be positive")
	}
	if c.Normal.LogDirectory == "" {
		return fmt.Errorf("critical config missing: 'normal_config.log_directory' must be specified (e.g., 'logs')")
	}
	if c.Normal.StateDirectory == "" {
		return fmt.Errorf("critical config missing: 'normal_config.state_directory' must be specified (e.g., 'state')")
	}
	if c.Normal.RecordDirectory == "" {
		return fmt.Errorf("critical config missing: 'normal_config.record_directory' must be specified (e.g., 'records')")
	}

	if c.Logs == nil {
		return fmt.Errorf("critical config missing: 'logs' block must be provided in config.yaml")
	}
	if c.Logs.LogLevel == "" {
		return fmt.Errorf("critical config missing: 'logs.log_level' must be specified (e.g., 'info')")
	}
	if c.Logs.MaxSizeMB <= 0 {
		return fmt.Errorf("critical config missing: 'logs.max_size_mb' must be positive")
	}
	if c.Logs.MaxBackups <= 0 {
		return fmt.Errorf("critical config missing: 'logs.max_backups' must be positive")
	}
	if c.Logs.MaxAgeDays <= 0 {
		return fmt.Errorf("critical config missing: 'logs.max_age_days' must be positive")
	}

	return nil
}

// EnvConfig carries secrets and endpoints sourced from the environment.
type EnvConfig struct {
	ApiKey         string
	ApiSecret      string
	BaseURL        string
	WsURL          string
	TelegramToken  string
	TelegramChatID string
}

func LoadEnvConfig() *EnvConfig {
	return &EnvConfig{
		ApiKey:         os.Getenv("BINANCE_API_KEY"),
		ApiSecret:      os.Getenv("BINANCE_API_SECRET"),
		BaseURL:        os.Getenv("BINANCE_BASE_URL"),
		WsURL:          os.Getenv("BINANCE_WS_URL"),
		TelegramToken:  os.Getenv("TG_TOKEN"),
		TelegramChatID: os.Getenv("TG_CHAT_ID"),
	}
}
