package config

import (
	"testing"
	"time"

	"github.com/spf13/viper"
)

func validEnv(t *testing.T) {
	t.Helper()
	t.Setenv("PI_ACCESS_TOKEN", "token-abc")
	t.Setenv("ALLOWED_RECIPIENT_ADDRESS", "GDTESTWALLETADDRESSABC123456")
	t.Setenv("PI_APP_ID", "app-id")
	t.Setenv("PI_APP_SECRET", "app-secret")
}

func loadValid(t *testing.T) Config {
	t.Helper()
	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	return cfg
}

func TestLoadConfig_Defaults(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)
	validEnv(t)

	cfg := loadValid(t)

	if cfg.ServerPort != "8080" {
		t.Fatalf("expected default server port 8080, got %q", cfg.ServerPort)
	}
	if cfg.RunMode != RunModeMonitor {
		t.Fatalf("expected default run mode %q, got %q", RunModeMonitor, cfg.RunMode)
	}
	if cfg.TransferAmount != 1650.0 {
		t.Fatalf("expected default transfer amount 1650.0, got %v", cfg.TransferAmount)
	}
	if cfg.TransactionFee != 0.01 {
		t.Fatalf("expected default transaction fee 0.01, got %v", cfg.TransactionFee)
	}
	if cfg.APIBaseURL != "https://api.minepi.com" {
		t.Fatalf("unexpected default api base url %q", cfg.APIBaseURL)
	}
	if cfg.SandboxMode {
		t.Fatal("sandbox mode must default to off")
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected valid config, got %v", err)
	}
}

func TestLoadConfig_SandboxMode(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)
	validEnv(t)
	t.Setenv("PI_SANDBOX_MODE", "true")

	cfg := loadValid(t)
	if !cfg.SandboxMode {
		t.Fatal("expected sandbox mode to be enabled")
	}
}

func TestValidate_RequiredSettings(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{name: "missing access token", mutate: func(c *Config) { c.AccessToken = "" }},
		{name: "missing recipient", mutate: func(c *Config) { c.AllowedRecipient = "" }},
		{name: "missing app id", mutate: func(c *Config) { c.AppID = "" }},
		{name: "missing app secret", mutate: func(c *Config) { c.AppSecret = "" }},
		{name: "recipient too short", mutate: func(c *Config) { c.AllowedRecipient = "short-address" }},
		{name: "zero amount", mutate: func(c *Config) { c.TransferAmount = 0 }},
		{name: "negative fee", mutate: func(c *Config) { c.TransactionFee = -0.01 }},
		{name: "unknown run mode", mutate: func(c *Config) { c.RunMode = "daemon" }},
		{name: "malformed target time", mutate: func(c *Config) { c.TargetTime = "tomorrow" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			viper.Reset()
			t.Cleanup(viper.Reset)
			validEnv(t)

			cfg := loadValid(t)
			tt.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestParsedTargetTime(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)
	validEnv(t)
	t.Setenv("TARGET_TIME", "2025-07-20T15:38:09Z")

	cfg := loadValid(t)
	target, err := cfg.ParsedTargetTime()
	if err != nil {
		t.Fatalf("ParsedTargetTime returned error: %v", err)
	}
	want := time.Date(2025, 7, 20, 15, 38, 9, 0, time.UTC)
	if !target.Equal(want) {
		t.Fatalf("target time = %v, want %v", target, want)
	}
}

func TestLoadConfig_TrimsWhitespace(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)
	validEnv(t)
	t.Setenv("PI_ACCESS_TOKEN", "  token-abc  ")

	cfg := loadValid(t)
	if cfg.AccessToken != "token-abc" {
		t.Fatalf("expected trimmed access token, got %q", cfg.AccessToken)
	}
}
