/**
 * @description
 * This package handles the configuration management for the service. It uses the
 * Viper library to read configuration from environment variables, providing a
 * centralized and straightforward way to manage application settings.
 *
 * @dependencies
 * - github.com/spf13/viper: A popular library for Go application configuration.
 */

package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Run modes supported by the service.
const (
	RunModeMonitor = "monitor" // deadline monitoring loop (default)
	RunModeServe   = "serve"   // HTTP trigger endpoint
	RunModeCron    = "cron"    // externally scheduled single checks
)

// defaultTargetTime matches the originally scheduled transfer window.
const defaultTargetTime = "2025-07-20T15:38:09Z"

// Config holds all the configuration variables for the transfer-service.
// These values are loaded from environment variables.
type Config struct {
	ServerPort       string  `mapstructure:"SERVER_PORT"`
	RunMode          string  `mapstructure:"RUN_MODE"`
	AccessToken      string  `mapstructure:"PI_ACCESS_TOKEN"`
	AllowedRecipient string  `mapstructure:"ALLOWED_RECIPIENT_ADDRESS"`
	AppID            string  `mapstructure:"PI_APP_ID"`
	AppSecret        string  `mapstructure:"PI_APP_SECRET"`
	APIBaseURL       string  `mapstructure:"PI_API_BASE_URL"`
	SandboxMode      bool    `mapstructure:"PI_SANDBOX_MODE"`
	TransferAmount   float64 `mapstructure:"TRANSFER_AMOUNT"`
	TransactionFee   float64 `mapstructure:"TRANSACTION_FEE"`
	TargetTime       string  `mapstructure:"TARGET_TIME"`
	CheckSchedule    string  `mapstructure:"CHECK_SCHEDULE"`
	RedisURL         string  `mapstructure:"REDIS_URL"`
	RedisLockPrefix  string  `mapstructure:"REDIS_LOCK_PREFIX"`
}

// LoadConfig reads configuration from environment variables from the given path.
// It uses Viper to automatically bind environment variables to the Config struct.
func LoadConfig(path string) (config Config, err error) {
	// Tell viper the path to look for the optional .env file.
	viper.AddConfigPath(path)
	viper.SetConfigName(".env")
	viper.SetConfigType("env")

	// Enable automatic binding of environment variables.
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Set default values
	viper.SetDefault("SERVER_PORT", "8080")
	viper.SetDefault("RUN_MODE", RunModeMonitor)
	viper.SetDefault("PI_API_BASE_URL", "https://api.minepi.com")
	viper.SetDefault("PI_SANDBOX_MODE", false)
	viper.SetDefault("TRANSFER_AMOUNT", 1650.0)
	viper.SetDefault("TRANSACTION_FEE", 0.01)
	viper.SetDefault("TARGET_TIME", defaultTargetTime)
	viper.SetDefault("CHECK_SCHEDULE", "*/5 * * * *")
	viper.SetDefault("REDIS_LOCK_PREFIX", "piflow:transfer_lock")

	// Bind environment variables explicitly to ensure they appear in Unmarshal
	_ = viper.BindEnv("SERVER_PORT")
	_ = viper.BindEnv("RUN_MODE")
	_ = viper.BindEnv("PI_ACCESS_TOKEN")
	_ = viper.BindEnv("ALLOWED_RECIPIENT_ADDRESS")
	_ = viper.BindEnv("PI_APP_ID")
	_ = viper.BindEnv("PI_APP_SECRET")
	_ = viper.BindEnv("PI_API_BASE_URL")
	_ = viper.BindEnv("PI_SANDBOX_MODE")
	_ = viper.BindEnv("TRANSFER_AMOUNT")
	_ = viper.BindEnv("TRANSACTION_FEE")
	_ = viper.BindEnv("TARGET_TIME")
	_ = viper.BindEnv("CHECK_SCHEDULE")
	_ = viper.BindEnv("REDIS_URL")
	_ = viper.BindEnv("REDIS_LOCK_PREFIX")

	// Attempt to read the config file. It's okay if it doesn't exist.
	if err = viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return Config{}, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// Unmarshal the configuration into the Config struct.
	if err = viper.Unmarshal(&config); err != nil {
		return
	}

	config.AccessToken = strings.TrimSpace(config.AccessToken)
	config.AllowedRecipient = strings.TrimSpace(config.AllowedRecipient)
	config.AppID = strings.TrimSpace(config.AppID)
	config.AppSecret = strings.TrimSpace(config.AppSecret)
	config.RedisURL = strings.TrimSpace(config.RedisURL)

	return
}

// Validate checks the required settings. A failure here is fatal at startup;
// the process refuses to run with an incomplete configuration.
func (c Config) Validate() error {
	if c.AccessToken == "" {
		return fmt.Errorf("PI_ACCESS_TOKEN is required")
	}
	if c.AllowedRecipient == "" {
		return fmt.Errorf("ALLOWED_RECIPIENT_ADDRESS is required")
	}
	if c.AppID == "" {
		return fmt.Errorf("PI_APP_ID is required")
	}
	if c.AppSecret == "" {
		return fmt.Errorf("PI_APP_SECRET is required")
	}
	// Coarse wallet address format check.
	if len(c.AllowedRecipient) < 20 {
		return fmt.Errorf("ALLOWED_RECIPIENT_ADDRESS is not a valid wallet address")
	}
	if c.TransferAmount <= 0 {
		return fmt.Errorf("TRANSFER_AMOUNT must be positive")
	}
	if c.TransactionFee < 0 {
		return fmt.Errorf("TRANSACTION_FEE cannot be negative")
	}
	switch c.RunMode {
	case RunModeMonitor, RunModeServe, RunModeCron:
	default:
		return fmt.Errorf("RUN_MODE must be one of %s, %s, %s", RunModeMonitor, RunModeServe, RunModeCron)
	}
	if _, err := c.ParsedTargetTime(); err != nil {
		return fmt.Errorf("TARGET_TIME is not a valid RFC3339 timestamp: %w", err)
	}
	return nil
}

// ParsedTargetTime returns the transfer deadline as an absolute UTC timestamp.
func (c Config) ParsedTargetTime() (time.Time, error) {
	t, err := time.Parse(time.RFC3339, c.TargetTime)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}
