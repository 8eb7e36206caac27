package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"combine-guard-go/enforce"
	"combine-guard-go/infrastructure/logger"
	"combine-guard-go/risk"
)

// GuardConfig holds the main runtime configuration.
type GuardConfig struct {
	Env          string          `yaml:"env"`
	CalendarPath string          `yaml:"calendarPath"`
	StatusPath   string          `yaml:"statusPath"` // 为空则不写状态文件
	Accounts     []AccountConfig `yaml:"accounts"`
	Contracts    []ContractSpec  `yaml:"contracts"`

	Broker      BrokerConfig      `yaml:"broker"`
	Enforcement EnforcementConfig `yaml:"enforcement"`
	Alerting    AlertConfig       `yaml:"alerting"`
	API         APIConfig         `yaml:"api"`
	Metrics     MetricsConfig     `yaml:"metrics"`
	Journal     JournalConfig     `yaml:"journal"`
	Logger      logger.Config     `yaml:"logger"`
}

// AccountConfig 单账户的规则阈值与调度参数。
type AccountConfig struct {
	ID     string      `yaml:"id"`
	Limits risk.Limits `yaml:"limits"`

	Lateness        time.Duration `yaml:"lateness"`        // 乱序容忍窗口
	StaleCheckEvery time.Duration `yaml:"staleCheckEvery"` // feed 静默重估间隔
}

// ContractSpec 合约元数据（tick 价值）。
type ContractSpec struct {
	Symbol    string  `yaml:"symbol"`
	TickValue float64 `yaml:"tickValue"`
}

type BrokerConfig struct {
	BaseURL    string  `yaml:"baseURL"`
	UserHubURL string  `yaml:"userHubURL"` // 用户事件 websocket
	Username   string  `yaml:"username"`
	APIKey     string  `yaml:"apiKey"`
	RatePerSec float64 `yaml:"ratePerSec"` // 命令面限速
	RateBurst  int     `yaml:"rateBurst"`
}

type EnforcementConfig struct {
	Retry    enforce.RetryPolicy `yaml:"retry"`
	Cooldown time.Duration       `yaml:"cooldown"`
}

type AlertConfig struct {
	WebhookURL string        `yaml:"webhookURL"`
	Mention    string        `yaml:"mention"`
	Throttle   time.Duration `yaml:"throttle"`
}

type APIConfig struct {
	Addr string `yaml:"addr"`
}

type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

type JournalConfig struct {
	Path string `yaml:"path"`
}

// Load reads YAML config from path and applies basic validation.
func Load(path string) (GuardConfig, error) {
	var cfg GuardConfig
	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("parse yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// LoadWithEnvOverrides loads config then overrides sensitive fields from env vars if present.
func LoadWithEnvOverrides(path string) (GuardConfig, error) {
	var cfg GuardConfig
	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("parse yaml: %w", err)
	}
	if v := os.Getenv("GUARD_BROKER_API_KEY"); v != "" {
		cfg.Broker.APIKey = v
	}
	if v := os.Getenv("GUARD_BROKER_USERNAME"); v != "" {
		cfg.Broker.Username = v
	}
	if v := os.Getenv("GUARD_ALERT_WEBHOOK"); v != "" {
		cfg.Alerting.WebhookURL = v
	}
	return cfg, Validate(cfg)
}

// Validate ensures required fields are present.
func Validate(cfg GuardConfig) error {
	if cfg.Env == "" {
		return errors.New("env is required")
	}
	if cfg.CalendarPath == "" {
		return errors.New("calendarPath is required")
	}
	if len(cfg.Accounts) == 0 {
		return errors.New("accounts config is required")
	}
	seen := make(map[string]bool, len(cfg.Accounts))
	for _, acct := range cfg.Accounts {
		if acct.ID == "" {
			return errors.New("account id is required")
		}
		if seen[acct.ID] {
			return fmt.Errorf("duplicate account id %s", acct.ID)
		}
		seen[acct.ID] = true
		if err := acct.Limits.WithDefaults().Validate(); err != nil {
			return fmt.Errorf("account %s: %w", acct.ID, err)
		}
		if acct.Lateness < 0 || acct.StaleCheckEvery < 0 {
			return fmt.Errorf("account %s: lateness/staleCheckEvery must be >= 0", acct.ID)
		}
	}
	if len(cfg.Contracts) == 0 {
		return errors.New("contracts config is required")
	}
	for _, c := range cfg.Contracts {
		if c.Symbol == "" {
			return errors.New("contract symbol is required")
		}
		if c.TickValue <= 0 {
			return fmt.Errorf("contract %s tickValue must be > 0", c.Symbol)
		}
	}
	if cfg.Broker.BaseURL == "" {
		return errors.New("broker.baseURL is required")
	}
	if cfg.Broker.Username == "" || cfg.Broker.APIKey == "" {
		return errors.New("broker.username/apiKey is required (or env overrides)")
	}
	if cfg.Broker.RatePerSec < 0 || cfg.Broker.RateBurst < 0 {
		return errors.New("broker rate limit must be >= 0")
	}
	if cfg.Enforcement.Retry.MaxAttempts < 0 {
		return errors.New("enforcement.retry.maxAttempts must be >= 0")
	}
	if cfg.Enforcement.Cooldown < 0 {
		return errors.New("enforcement.cooldown must be >= 0")
	}
	return nil
}

// Specs 转换为风控层的合约规格。
func (c GuardConfig) Specs() []risk.ContractSpec {
	out := make([]risk.ContractSpec, 0, len(c.Contracts))
	for _, spec := range c.Contracts {
		out = append(out, risk.ContractSpec{Symbol: spec.Symbol, TickValue: spec.TickValue})
	}
	return out
}
