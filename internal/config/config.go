// Package config defines the engine configuration loaded from
// app_config.json (spec §6), with operational fields overridable via
// COPIER_* environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EngineConfig is the top-level configuration. Maps directly to
// app_config.json's structure.
type EngineConfig struct {
	ClientAccount ClientAccountConfig `mapstructure:"client_account"`
	LotConfig     LotConfig           `mapstructure:"lot_config"`
	OrderConfig   OrderConfig         `mapstructure:"order_config"`
	CheckInterval time.Duration       `mapstructure:"check_interval"`
	CopyStyle     string              `mapstructure:"copy_style"`
	Logging       LoggingConfig       `mapstructure:"logging"`
	Status        StatusConfig        `mapstructure:"status"`
}

// ClientAccountConfig names the one account every donor position is
// mirrored onto (spec §3 "one client account").
type ClientAccountConfig struct {
	AccountNumber int64 `mapstructure:"account_number"`
}

// LotConfig mirrors internal/lotsize.Config's fields with the JSON names
// used in app_config.json.
type LotConfig struct {
	Mode   string  `mapstructure:"mode"`
	Value  float64 `mapstructure:"value"`
	MinLot float64 `mapstructure:"min_lot"`
	MaxLot float64 `mapstructure:"max_lot"`
}

// OrderConfig mirrors internal/planner.Config's order-placement knobs.
type OrderConfig struct {
	MaxRetries        int     `mapstructure:"max_retries"`
	Magic             int64   `mapstructure:"magic"`
	CopyDonorMagic    bool    `mapstructure:"copy_donor_magic"`
	OptimizeToMarket  bool    `mapstructure:"optimize_to_market"`
	LimitOffsetPoints float64 `mapstructure:"limit_offset_points"`
	CopySLTP          bool    `mapstructure:"copy_sl_tp"`
	CopyPendingOrders bool    `mapstructure:"copy_pending_orders"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// StatusConfig controls the optional status server.
type StatusConfig struct {
	Enabled        bool     `mapstructure:"enabled"`
	Port           int      `mapstructure:"port"`
	WebhookURL     string   `mapstructure:"webhook_url"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// Load reads app_config.json with env var overrides for the client account
// number and check interval, matching the teacher's env-override pattern
// for sensitive/operational fields.
func Load(path string) (*EngineConfig, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("json")
	v.SetEnvPrefix("COPIER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg EngineConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if acct := os.Getenv("COPIER_CLIENT_ACCOUNT_NUMBER"); acct != "" {
		n, err := strconv.ParseInt(acct, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("COPIER_CLIENT_ACCOUNT_NUMBER: %w", err)
		}
		cfg.ClientAccount.AccountNumber = n
	}
	if iv := os.Getenv("COPIER_CHECK_INTERVAL"); iv != "" {
		d, err := time.ParseDuration(iv)
		if err != nil {
			return nil, fmt.Errorf("COPIER_CHECK_INTERVAL: %w", err)
		}
		cfg.CheckInterval = d
	}

	return &cfg, nil
}

// Validate checks all required fields and value ranges.
func (c *EngineConfig) Validate() error {
	if c.ClientAccount.AccountNumber == 0 {
		return fmt.Errorf("client_account.account_number is required")
	}
	switch c.LotConfig.Mode {
	case "fixed", "proportion", "autolot":
	default:
		return fmt.Errorf("lot_config.mode must be one of: fixed, proportion, autolot")
	}
	if c.LotConfig.Value <= 0 {
		return fmt.Errorf("lot_config.value must be > 0")
	}
	if c.LotConfig.MinLot <= 0 {
		return fmt.Errorf("lot_config.min_lot must be > 0")
	}
	if c.LotConfig.MaxLot < c.LotConfig.MinLot {
		return fmt.Errorf("lot_config.max_lot must be >= lot_config.min_lot")
	}
	if c.OrderConfig.MaxRetries < 0 {
		return fmt.Errorf("order_config.max_retries must be >= 0")
	}
	if c.OrderConfig.LimitOffsetPoints < 0 {
		return fmt.Errorf("order_config.limit_offset_points must be >= 0")
	}
	switch c.CopyStyle {
	case "by_limits", "by_market":
	default:
		return fmt.Errorf("copy_style must be one of: by_limits, by_market")
	}
	if c.CheckInterval <= 0 {
		return fmt.Errorf("check_interval must be > 0")
	}
	return nil
}
