package config

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Gateway  GatewayConfig  `mapstructure:"gateway"`
	Billing  BillingConfig  `mapstructure:"billing"`
	Notify   NotifyConfig   `mapstructure:"notify"`
	Report   ReportConfig   `mapstructure:"report"`
	Logger   LoggerConfig   `mapstructure:"logger"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path            string        `mapstructure:"path"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// GatewayConfig holds payment gateway configuration
type GatewayConfig struct {
	BaseURL   string        `mapstructure:"base_url"`
	SecretKey string        `mapstructure:"secret_key"`
	Currency  string        `mapstructure:"currency"`
	Timeout   time.Duration `mapstructure:"timeout"`
}

// BillingConfig holds reconciliation tuning
type BillingConfig struct {
	// Invoices at or below this amount are treated as deposits and never
	// filtered by the duplicate-main-invoice heuristic
	DepositThreshold  string        `mapstructure:"deposit_threshold"`
	ReconcileInterval time.Duration `mapstructure:"reconcile_interval"`
}

// DepositThresholdAmount parses the configured deposit threshold
func (b BillingConfig) DepositThresholdAmount() (decimal.Decimal, error) {
	return decimal.NewFromString(b.DepositThreshold)
}

// NotifyConfig holds receipt notification configuration
type NotifyConfig struct {
	ReceiptWebhookURL string        `mapstructure:"receipt_webhook_url"`
	Timeout           time.Duration `mapstructure:"timeout"`
}

// ReportConfig holds cash-flow report configuration
type ReportConfig struct {
	OutputPath string `mapstructure:"output_path"`
}

// LoggerConfig holds logger configuration
type LoggerConfig struct {
	Level      string `mapstructure:"level"`
	OutputPath string `mapstructure:"output_path"`
	Format     string `mapstructure:"format"`
}

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	viper.SetConfigFile(configPath)
	viper.SetConfigType("yaml")
	viper.AutomaticEnv()

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	bindEnvVars()

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default configuration values
func setDefaults() {
	// Server defaults
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.read_timeout", 30*time.Second)
	viper.SetDefault("server.write_timeout", 30*time.Second)

	// Database defaults
	viper.SetDefault("database.path", "data/billing.db")
	viper.SetDefault("database.max_open_conns", 25)
	viper.SetDefault("database.max_idle_conns", 5)
	viper.SetDefault("database.conn_max_lifetime", 5*time.Minute)

	// Gateway defaults
	viper.SetDefault("gateway.currency", "GBP")
	viper.SetDefault("gateway.timeout", 30*time.Second)

	// Billing defaults
	viper.SetDefault("billing.deposit_threshold", "50")
	viper.SetDefault("billing.reconcile_interval", 10*time.Minute)

	// Notify defaults
	viper.SetDefault("notify.timeout", 10*time.Second)

	// Report defaults
	viper.SetDefault("report.output_path", "reports/cashflow.xlsx")

	// Logger defaults
	viper.SetDefault("logger.level", "info")
	viper.SetDefault("logger.output_path", "stdout")
	viper.SetDefault("logger.format", "json")
}

// bindEnvVars binds environment variables to configuration
func bindEnvVars() {
	// Sensitive credentials from environment
	viper.BindEnv("gateway.base_url", "GATEWAY_BASE_URL")
	viper.BindEnv("gateway.secret_key", "GATEWAY_SECRET_KEY")
	viper.BindEnv("notify.receipt_webhook_url", "RECEIPT_WEBHOOK_URL")
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Gateway.BaseURL == "" {
		return fmt.Errorf("gateway.base_url is required")
	}
	if c.Gateway.SecretKey == "" {
		return fmt.Errorf("gateway.secret_key is required")
	}
	if c.Gateway.Currency == "" {
		return fmt.Errorf("gateway.currency is required")
	}

	if _, err := decimal.NewFromString(c.Billing.DepositThreshold); err != nil {
		return fmt.Errorf("billing.deposit_threshold must be a decimal amount: %w", err)
	}
	if c.Billing.ReconcileInterval <= 0 {
		return fmt.Errorf("billing.reconcile_interval must be positive")
	}

	return nil
}
