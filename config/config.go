// Package config loads server configuration from config.toml, a .env file
// and PROCURE_-prefixed environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"github.com/warp/fuel-procurement/procurement"
)

// Config holds all application configuration
type Config struct {
	App     AppConfig
	Log     LogConfig
	Ledger  LedgerConfig
	HTTP    HTTPConfig
	Tax     TaxConfig
	Payment PaymentConfig
}

// AppConfig holds application-specific settings
type AppConfig struct {
	Name string
	Env  string
	Port string
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string // debug, info, warn, error
	Format string // json, console
	Output string // stdout, stderr, or file path
}

// LedgerConfig selects and tunes the ledger backend.
type LedgerConfig struct {
	Driver   string // sqlite, memory
	Path     string
	Timeout  time.Duration
	PageSize int
}

// HTTPConfig holds HTTP server settings
type HTTPConfig struct {
	ReadTimeout      time.Duration
	WriteTimeout     time.Duration
	IdleTimeout      time.Duration
	ShutdownTimeout  time.Duration
	MaxBodySize      int64
	CORSAllowOrigins []string
}

// TaxConfig holds the rates applied when an assessment request names none.
// Rates are percentages as decimal strings, "11.00" for 11%.
type TaxConfig struct {
	VAT         string
	FuelTax     string
	Withholding string
}

// PaymentConfig holds payment checks. An empty tolerance disables the
// over-payment check.
type PaymentConfig struct {
	MaxOverpaymentTolerance string
}

const (
	DriverSQLite = "sqlite"
	DriverMemory = "memory"
)

// Load reads configuration.
// Priority (highest to lowest):
// 1. Environment variables with PROCURE_ prefix (e.g., PROCURE_LEDGER_DRIVER)
// 2. .env in the working directory
// 3. config.toml in the working directory or any of paths
// 4. Built-in defaults
func Load(paths ...string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("error reading .env: %w", err)
	}

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("toml")
	v.AddConfigPath(".")
	for _, p := range paths {
		v.AddConfigPath(p)
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	v.SetEnvPrefix("PROCURE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := &Config{
		App: AppConfig{
			Name: v.GetString("app.name"),
			Env:  v.GetString("app.env"),
			Port: v.GetString("app.port"),
		},
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
			Output: v.GetString("log.output"),
		},
		Ledger: LedgerConfig{
			Driver:   v.GetString("ledger.driver"),
			Path:     v.GetString("ledger.path"),
			Timeout:  v.GetDuration("ledger.timeout"),
			PageSize: v.GetInt("ledger.page_size"),
		},
		HTTP: HTTPConfig{
			ReadTimeout:      v.GetDuration("http.read_timeout"),
			WriteTimeout:     v.GetDuration("http.write_timeout"),
			IdleTimeout:      v.GetDuration("http.idle_timeout"),
			ShutdownTimeout:  v.GetDuration("http.shutdown_timeout"),
			MaxBodySize:      v.GetInt64("http.max_body_size"),
			CORSAllowOrigins: v.GetStringSlice("http.cors_allow_origins"),
		},
		Tax: TaxConfig{
			VAT:         v.GetString("tax.vat"),
			FuelTax:     v.GetString("tax.fuel_tax"),
			Withholding: v.GetString("tax.withholding"),
		},
		Payment: PaymentConfig{
			MaxOverpaymentTolerance: v.GetString("payment.max_overpayment_tolerance"),
		},
	}

	applyDefaults(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// applyDefaults sets default values for any empty config fields
func applyDefaults(cfg *Config) {
	if cfg.App.Name == "" {
		cfg.App.Name = "fuel-procurement"
	}
	if cfg.App.Env == "" {
		cfg.App.Env = "development"
	}
	if cfg.App.Port == "" {
		cfg.App.Port = "8080"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		if cfg.App.Env == "production" {
			cfg.Log.Format = "json"
		} else {
			cfg.Log.Format = "console"
		}
	}
	if cfg.Log.Output == "" {
		cfg.Log.Output = "stdout"
	}
	if cfg.Ledger.Driver == "" {
		cfg.Ledger.Driver = DriverSQLite
	}
	if cfg.Ledger.Path == "" {
		cfg.Ledger.Path = "./data/procurement.db"
	}
	if cfg.Ledger.Timeout == 0 {
		cfg.Ledger.Timeout = procurement.DefaultTimeout
	}
	if cfg.Ledger.PageSize == 0 {
		cfg.Ledger.PageSize = procurement.DefaultPageSize
	}
	if cfg.HTTP.ReadTimeout == 0 {
		cfg.HTTP.ReadTimeout = 15 * time.Second
	}
	if cfg.HTTP.WriteTimeout == 0 {
		cfg.HTTP.WriteTimeout = 15 * time.Second
	}
	if cfg.HTTP.IdleTimeout == 0 {
		cfg.HTTP.IdleTimeout = 60 * time.Second
	}
	if cfg.HTTP.ShutdownTimeout == 0 {
		cfg.HTTP.ShutdownTimeout = 10 * time.Second
	}
	if cfg.HTTP.MaxBodySize == 0 {
		cfg.HTTP.MaxBodySize = 1 << 20
	}
	if len(cfg.HTTP.CORSAllowOrigins) == 0 {
		cfg.HTTP.CORSAllowOrigins = []string{"*"}
	}
	if cfg.Tax.VAT == "" {
		cfg.Tax.VAT = "11.00"
	}
	if cfg.Tax.FuelTax == "" {
		cfg.Tax.FuelTax = "5.00"
	}
	if cfg.Tax.Withholding == "" {
		cfg.Tax.Withholding = "0"
	}
}

// validate performs validation on the configuration
func (c *Config) validate() error {
	switch c.Ledger.Driver {
	case DriverSQLite, DriverMemory:
	default:
		return fmt.Errorf("ledger.driver must be %q or %q, got %q", DriverSQLite, DriverMemory, c.Ledger.Driver)
	}
	if c.Ledger.Timeout < 0 {
		return fmt.Errorf("ledger.timeout cannot be negative")
	}
	if c.Ledger.PageSize < 0 {
		return fmt.Errorf("ledger.page_size cannot be negative")
	}
	switch c.Log.Format {
	case "json", "console":
	default:
		return fmt.Errorf("log.format must be json or console, got %q", c.Log.Format)
	}
	if _, err := c.Tax.Rates(); err != nil {
		return err
	}
	if _, err := c.Payment.Tolerance(); err != nil {
		return err
	}

	if c.App.Env == "production" {
		if c.Ledger.Driver == DriverMemory {
			return fmt.Errorf("ledger.driver cannot be memory in production")
		}
		for _, origin := range c.HTTP.CORSAllowOrigins {
			if origin == "*" {
				return fmt.Errorf("http.cors_allow_origins cannot be '*' in production (use specific origins)")
			}
		}
	}
	return nil
}

// Rates parses the configured default rates.
func (t TaxConfig) Rates() (procurement.TaxRates, error) {
	var rates procurement.TaxRates
	for _, f := range []struct {
		key string
		raw string
		dst *procurement.Value
	}{
		{"tax.vat", t.VAT, &rates.VAT},
		{"tax.fuel_tax", t.FuelTax, &rates.FuelTax},
		{"tax.withholding", t.Withholding, &rates.Withholding},
	} {
		v, err := procurement.ParseValue(f.raw)
		if err != nil {
			return procurement.TaxRates{}, fmt.Errorf("%s: %w", f.key, err)
		}
		*f.dst = v
	}
	if err := rates.Validate(); err != nil {
		return procurement.TaxRates{}, fmt.Errorf("tax: %w", err)
	}
	return rates, nil
}

// Tolerance parses the over-payment tolerance. Nil means unchecked.
func (p PaymentConfig) Tolerance() (*procurement.Value, error) {
	if strings.TrimSpace(p.MaxOverpaymentTolerance) == "" {
		return nil, nil
	}
	v, err := procurement.ParseValue(strings.TrimSpace(p.MaxOverpaymentTolerance))
	if err != nil {
		return nil, fmt.Errorf("payment.max_overpayment_tolerance: %w", err)
	}
	if v.IsNegative() {
		return nil, fmt.Errorf("payment.max_overpayment_tolerance cannot be negative")
	}
	return &v, nil
}
