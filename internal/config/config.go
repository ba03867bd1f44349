// Package config handles configuration management with validation
package config

import (
	"fmt"
	"os"
	"strings"

	"margin_monitor/internal/core"
	"margin_monitor/internal/loan"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// Config represents the complete configuration structure
type Config struct {
	Account   AccountConfig    `yaml:"account"`
	Positions []PositionConfig `yaml:"positions"`
	Scan      ScanConfig       `yaml:"scan"`
	Watch     WatchConfig      `yaml:"watch"`
	Server    ServerConfig     `yaml:"server"`
	Alerts    AlertConfig      `yaml:"alerts"`
	Storage   StorageConfig    `yaml:"storage"`
	Loan      LoanConfig       `yaml:"loan"`
	System    SystemConfig     `yaml:"system"`
	Telemetry TelemetryConfig  `yaml:"telemetry"`
}

// AccountConfig contains the account state
type AccountConfig struct {
	Balance  float64 `yaml:"balance"`
	Leverage float64 `yaml:"leverage"`
}

// PositionConfig is one position entry; fields map 1:1 onto the domain model
type PositionConfig struct {
	ID         string  `yaml:"id"`
	Side       string  `yaml:"side"`
	Lots       float64 `yaml:"lots"`
	EntryPrice float64 `yaml:"entry_price"`
	Comment    string  `yaml:"comment"`
}

// ScanConfig defines the default rate grid for range scans
type ScanConfig struct {
	MinRate float64 `yaml:"min_rate"`
	MaxRate float64 `yaml:"max_rate"`
	Step    float64 `yaml:"step"`
}

// WatchConfig controls the periodic evaluation loop
type WatchConfig struct {
	Enabled         bool      `yaml:"enabled"`
	IntervalSeconds int       `yaml:"interval_seconds"`
	InitialRate     float64   `yaml:"initial_rate"`
	Targets         []float64 `yaml:"targets"` // critical-rate targets, e.g. [100, 50]
}

// ServerConfig contains HTTP server settings
type ServerConfig struct {
	Port           string   `yaml:"port"`
	AllowedOrigins []string `yaml:"allowed_origins"`
	MaxConnections int      `yaml:"max_connections"`
	RateLimit      float64  `yaml:"rate_limit"`
	RateBurst      int      `yaml:"rate_burst"`
	Production     bool     `yaml:"production"`
}

// AlertConfig contains alert channel settings
type AlertConfig struct {
	SlackWebhook   Secret `yaml:"slack_webhook"`
	TelegramToken  Secret `yaml:"telegram_token"`
	TelegramChatID string `yaml:"telegram_chat_id"`
	MinSeverity    string `yaml:"min_severity"` // lowest risk level that triggers an alert
}

// StorageConfig selects the persistence driver
type StorageConfig struct {
	Driver string `yaml:"driver"` // "sqlite" or "memory"
	Path   string `yaml:"path"`
}

// LoanConfig contains the loan calculator inputs
type LoanConfig struct {
	Principal  float64         `yaml:"principal"`
	AnnualRate float64         `yaml:"annual_rate"`
	Years      int             `yaml:"years"`
	Method     string          `yaml:"method"`
	Deduction  DeductionConfig `yaml:"deduction"`
}

// DeductionConfig contains the mortgage tax deduction plan
type DeductionConfig struct {
	Enabled    bool    `yaml:"enabled"`
	CreditRate float64 `yaml:"credit_rate"`
	Years      int     `yaml:"years"`
	AnnualCap  float64 `yaml:"annual_cap"`
}

// SystemConfig contains system settings
type SystemConfig struct {
	LogLevel string `yaml:"log_level"`
}

// TelemetryConfig contains telemetry settings
type TelemetryConfig struct {
	EnableMetrics bool `yaml:"enable_metrics"`
}

// ValidationError represents a configuration validation error
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s' (value: %v): %s", e.Field, e.Value, e.Message)
}

// LoadConfig loads configuration from a YAML file with environment variable expansion
func LoadConfig(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	expanded := os.Expand(string(data), os.Getenv)

	var config Config
	if err := yaml.Unmarshal([]byte(expanded), &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	config.applyDefaults()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

func (c *Config) applyDefaults() {
	if c.Account.Leverage == 0 {
		c.Account.Leverage = 25
	}
	if c.Watch.IntervalSeconds == 0 {
		c.Watch.IntervalSeconds = 5
	}
	if len(c.Watch.Targets) == 0 {
		c.Watch.Targets = []float64{100, 50}
	}
	if c.Server.Port == "" {
		c.Server.Port = "8087"
	}
	if c.Server.MaxConnections == 0 {
		c.Server.MaxConnections = 1000
	}
	if c.Server.RateLimit == 0 {
		c.Server.RateLimit = 10
	}
	if c.Server.RateBurst == 0 {
		c.Server.RateBurst = 20
	}
	if c.Storage.Driver == "" {
		c.Storage.Driver = "memory"
	}
	if c.System.LogLevel == "" {
		c.System.LogLevel = "INFO"
	}
	if c.Alerts.MinSeverity == "" {
		c.Alerts.MinSeverity = "MARGIN_CALL"
	}
}

// Validate performs comprehensive validation of the configuration
func (c *Config) Validate() error {
	var errs []string

	for _, check := range []func() error{
		c.validateAccount,
		c.validatePositions,
		c.validateScan,
		c.validateWatch,
		c.validateStorage,
		c.validateSystem,
	} {
		if err := check(); err != nil {
			errs = append(errs, err.Error())
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed:\n%s", strings.Join(errs, "\n"))
	}

	return nil
}

func (c *Config) validateAccount() error {
	if c.Account.Leverage <= 0 {
		return ValidationError{
			Field:   "account.leverage",
			Value:   c.Account.Leverage,
			Message: "leverage must be positive",
		}
	}
	return nil
}

func (c *Config) validatePositions() error {
	for i, p := range c.Positions {
		if p.ID == "" {
			return ValidationError{
				Field:   fmt.Sprintf("positions[%d].id", i),
				Message: "position id is required",
			}
		}
		if _, err := core.ParseSide(p.Side); err != nil {
			return ValidationError{
				Field:   fmt.Sprintf("positions[%d].side", i),
				Value:   p.Side,
				Message: "must be long or short",
			}
		}
		if p.Lots <= 0 {
			return ValidationError{
				Field:   fmt.Sprintf("positions[%d].lots", i),
				Value:   p.Lots,
				Message: "lots must be positive",
			}
		}
		if p.EntryPrice <= 0 {
			return ValidationError{
				Field:   fmt.Sprintf("positions[%d].entry_price", i),
				Value:   p.EntryPrice,
				Message: "entry price must be positive",
			}
		}
	}
	return nil
}

func (c *Config) validateScan() error {
	// Scan section is optional; zero values mean "not configured".
	if c.Scan.MinRate == 0 && c.Scan.MaxRate == 0 && c.Scan.Step == 0 {
		return nil
	}
	if c.Scan.Step <= 0 {
		return ValidationError{
			Field:   "scan.step",
			Value:   c.Scan.Step,
			Message: "step must be positive",
		}
	}
	if c.Scan.MinRate > c.Scan.MaxRate {
		return ValidationError{
			Field:   "scan.min_rate",
			Value:   c.Scan.MinRate,
			Message: "min_rate must not exceed max_rate",
		}
	}
	return nil
}

func (c *Config) validateWatch() error {
	if !c.Watch.Enabled {
		return nil
	}
	if c.Watch.IntervalSeconds < 1 {
		return ValidationError{
			Field:   "watch.interval_seconds",
			Value:   c.Watch.IntervalSeconds,
			Message: "interval must be at least 1 second",
		}
	}
	if c.Watch.InitialRate <= 0 {
		return ValidationError{
			Field:   "watch.initial_rate",
			Value:   c.Watch.InitialRate,
			Message: "initial rate must be positive when watching is enabled",
		}
	}
	for i, target := range c.Watch.Targets {
		if target <= 0 {
			return ValidationError{
				Field:   fmt.Sprintf("watch.targets[%d]", i),
				Value:   target,
				Message: "target margin level must be positive",
			}
		}
	}
	return nil
}

func (c *Config) validateStorage() error {
	switch c.Storage.Driver {
	case "memory":
		return nil
	case "sqlite":
		if c.Storage.Path == "" {
			return ValidationError{
				Field:   "storage.path",
				Message: "path is required for the sqlite driver",
			}
		}
		return nil
	default:
		return ValidationError{
			Field:   "storage.driver",
			Value:   c.Storage.Driver,
			Message: "must be one of: sqlite, memory",
		}
	}
}

func (c *Config) validateSystem() error {
	validLevels := []string{"DEBUG", "INFO", "WARN", "ERROR", "FATAL"}
	for _, l := range validLevels {
		if strings.ToUpper(c.System.LogLevel) == l {
			return nil
		}
	}
	return ValidationError{
		Field:   "system.log_level",
		Value:   c.System.LogLevel,
		Message: fmt.Sprintf("must be one of: %s", strings.Join(validLevels, ", ")),
	}
}

// ToBook builds the validated domain book. Sides are parsed here, once,
// at the boundary; the engines never see raw strings.
func (c *Config) ToBook() (*core.Book, error) {
	book := &core.Book{
		Positions: make([]core.Position, 0, len(c.Positions)),
		Account: core.Account{
			Balance:  decimal.NewFromFloat(c.Account.Balance),
			Leverage: decimal.NewFromFloat(c.Account.Leverage),
		},
	}

	for _, p := range c.Positions {
		side, err := core.ParseSide(p.Side)
		if err != nil {
			return nil, err
		}
		book.Positions = append(book.Positions, core.Position{
			ID:         p.ID,
			Side:       side,
			Lots:       decimal.NewFromFloat(p.Lots),
			EntryPrice: decimal.NewFromFloat(p.EntryPrice),
			Comment:    p.Comment,
		})
	}

	if err := book.Validate(); err != nil {
		return nil, err
	}

	return book, nil
}

// ScanGrid returns the configured rate grid as decimals.
func (c *Config) ScanGrid() (minRate, maxRate, step decimal.Decimal) {
	return decimal.NewFromFloat(c.Scan.MinRate),
		decimal.NewFromFloat(c.Scan.MaxRate),
		decimal.NewFromFloat(c.Scan.Step)
}

// ToLoan builds the loan terms and the deduction plan.
func (c *Config) ToLoan() (loan.Loan, *loan.DeductionPlan, error) {
	method, err := loan.ParseMethod(c.Loan.Method)
	if err != nil {
		return loan.Loan{}, nil, err
	}

	l := loan.Loan{
		Principal:         decimal.NewFromFloat(c.Loan.Principal),
		AnnualRatePercent: decimal.NewFromFloat(c.Loan.AnnualRate),
		Years:             c.Loan.Years,
		Method:            method,
	}

	if !c.Loan.Deduction.Enabled {
		return l, nil, nil
	}

	plan := &loan.DeductionPlan{
		CreditRatePercent: decimal.NewFromFloat(c.Loan.Deduction.CreditRate),
		Years:             c.Loan.Deduction.Years,
		AnnualCap:         decimal.NewFromFloat(c.Loan.Deduction.AnnualCap),
	}
	return l, plan, nil
}

// MinAlertSeverity maps the configured minimum severity onto a RiskLevel.
func (c *Config) MinAlertSeverity() core.RiskLevel {
	switch strings.ToUpper(c.Alerts.MinSeverity) {
	case "STOP_OUT":
		return core.RiskStopOut
	case "CAUTION":
		return core.RiskCaution
	case "SAFE":
		return core.RiskSafe
	default:
		return core.RiskMarginCall
	}
}

// String returns a string representation of the configuration; Secret
// fields redact themselves during marshaling.
func (c *Config) String() string {
	data, _ := yaml.Marshal(c)
	return string(data)
}

// DefaultConfig returns a default configuration for testing
func DefaultConfig() *Config {
	cfg := &Config{
		Account: AccountConfig{
			Balance:  1_000_000,
			Leverage: 25,
		},
		Positions: []PositionConfig{
			{ID: "usdjpy-1", Side: "long", Lots: 10, EntryPrice: 150.0},
		},
		Scan: ScanConfig{
			MinRate: 140,
			MaxRate: 160,
			Step:    0.5,
		},
		Watch: WatchConfig{
			Enabled:         true,
			IntervalSeconds: 5,
			InitialRate:     150.0,
			Targets:         []float64{100, 50},
		},
		Loan: LoanConfig{
			Principal:  30_000_000,
			AnnualRate: 1.0,
			Years:      35,
			Method:     "fixed_payment",
			Deduction: DeductionConfig{
				Enabled:    true,
				CreditRate: 1.0,
				Years:      10,
				AnnualCap:  400_000,
			},
		},
		System: SystemConfig{LogLevel: "INFO"},
	}
	cfg.applyDefaults()
	return cfg
}
