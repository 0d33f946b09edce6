package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, dir string, cfg map[string]any) string {
	t.Helper()
	path := filepath.Join(dir, "app_config.json")
	data, err := json.Marshal(cfg)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	return path
}

func validConfigMap() map[string]any {
	return map[string]any{
		"client_account": map[string]any{"account_number": 12345678},
		"lot_config": map[string]any{
			"mode": "proportion", "value": 1.0, "min_lot": 0.01, "max_lot": 10.0,
		},
		"order_config": map[string]any{
			"max_retries": 5, "magic": 123456, "copy_donor_magic": false,
			"optimize_to_market": true, "limit_offset_points": 2, "copy_sl_tp": true,
			"copy_pending_orders": true,
		},
		"check_interval": "2s",
		"copy_style":      "by_limits",
	}
}

func TestLoad_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, validConfigMap())

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ClientAccount.AccountNumber != 12345678 {
		t.Errorf("account number = %d, want 12345678", cfg.ClientAccount.AccountNumber)
	}
	if cfg.LotConfig.Mode != "proportion" {
		t.Errorf("lot mode = %q, want proportion", cfg.LotConfig.Mode)
	}
	if cfg.OrderConfig.Magic != 123456 {
		t.Errorf("magic = %d, want 123456", cfg.OrderConfig.Magic)
	}
	if cfg.CheckInterval != 2*time.Second {
		t.Errorf("check interval = %v, want 2s", cfg.CheckInterval)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() = %v, want nil", err)
	}
}

func TestLoad_EnvOverride(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, validConfigMap())

	t.Setenv("COPIER_CLIENT_ACCOUNT_NUMBER", "99999999")
	t.Setenv("COPIER_CHECK_INTERVAL", "500ms")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ClientAccount.AccountNumber != 99999999 {
		t.Errorf("account number = %d, want 99999999 (env override)", cfg.ClientAccount.AccountNumber)
	}
	if cfg.CheckInterval != 500*time.Millisecond {
		t.Errorf("check interval = %v, want 500ms (env override)", cfg.CheckInterval)
	}
}

func TestValidate_RejectsBadConfig(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*EngineConfig)
	}{
		{"missing account number", func(c *EngineConfig) { c.ClientAccount.AccountNumber = 0 }},
		{"bad lot mode", func(c *EngineConfig) { c.LotConfig.Mode = "bogus" }},
		{"zero lot value", func(c *EngineConfig) { c.LotConfig.Value = 0 }},
		{"max lot below min lot", func(c *EngineConfig) { c.LotConfig.MaxLot = 0.001 }},
		{"negative max retries", func(c *EngineConfig) { c.OrderConfig.MaxRetries = -1 }},
		{"bad copy style", func(c *EngineConfig) { c.CopyStyle = "bogus" }},
		{"zero check interval", func(c *EngineConfig) { c.CheckInterval = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			path := writeConfig(t, dir, validConfigMap())
			cfg, err := Load(path)
			if err != nil {
				t.Fatalf("Load: %v", err)
			}
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("Validate() = nil, want error")
			}
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "does_not_exist.json"))
	if err == nil {
		t.Error("Load() = nil error, want error for missing file")
	}
}
