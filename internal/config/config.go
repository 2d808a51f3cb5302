// Package config collects tutord runtime settings from flags and TUTORBOOK_* environment
// variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MarkoPoloResearchLab/tutorbook/pkg/outbox"
	"github.com/MarkoPoloResearchLab/tutorbook/pkg/wallet"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Flag names double as viper keys; TUTORBOOK_<NAME_WITH_UNDERSCORES> overrides each one.
const (
	FlagDatabaseURL           = "database-url"
	FlagOpsListenAddr         = "ops-listen-addr"
	FlagOpsAllowedOrigins     = "ops-allowed-origins"
	FlagSchedulerInterval     = "scheduler-interval"
	FlagApprovalDeadline      = "approval-deadline"
	FlagConfirmationWindow    = "confirmation-window"
	FlagOutboxInterval        = "outbox-interval"
	FlagOutboxBatchSize       = "outbox-batch-size"
	FlagOutboxMaxAttempts     = "outbox-max-attempts"
	FlagOutboxStuckTimeout    = "outbox-stuck-timeout"
	FlagDefaultCommissionRate = "default-commission-rate"
	FlagDepositMin            = "deposit-min"
	FlagDepositMax            = "deposit-max"
	FlagCurrency              = "currency"
	FlagBrevoAPIKey           = "brevo-api-key"
	FlagEmailSender           = "email-sender"
	FlagEmailSenderName       = "email-sender-name"
	EnvPrefix                 = "TUTORBOOK"
)

const (
	defaultDatabaseURL           = "sqlite:///tmp/tutorbook.db"
	defaultOpsListenAddr         = ":9090"
	defaultSchedulerInterval     = 5 * time.Minute
	defaultApprovalDeadline      = 24 * time.Hour
	defaultConfirmationWindow    = 48 * time.Hour
	defaultOutboxInterval        = 30 * time.Second
	defaultDefaultCommissionRate = "0.10"
	defaultCurrency              = "KES"
	defaultEmailSenderName       = "Tutorbook"
)

var ErrInvalidConfig = errors.New("invalid config")

// Config aggregates runtime settings for tutord.
type Config struct {
	DatabaseURL           string        `validate:"required"`
	OpsListenAddr         string        `validate:"required"`
	OpsAllowedOrigins     []string      `validate:"dive,url"`
	SchedulerInterval     time.Duration `validate:"gt=0"`
	ApprovalDeadline      time.Duration `validate:"gt=0"`
	ConfirmationWindow    time.Duration `validate:"gt=0"`
	OutboxInterval        time.Duration `validate:"gt=0"`
	OutboxBatchSize       int           `validate:"gt=0,lte=1000"`
	OutboxMaxAttempts     int           `validate:"gt=0,lte=100"`
	OutboxStuckTimeout    time.Duration `validate:"gt=0"`
	DefaultCommissionRate string        `validate:"required,numeric"`
	DepositMin            string        `validate:"required,numeric"`
	DepositMax            string        `validate:"required,numeric"`
	Currency              string        `validate:"required,len=3,uppercase"`
	BrevoAPIKey           string
	EmailSender           string `validate:"required_with=BrevoAPIKey,omitempty,email"`
	EmailSenderName       string
}

// Default returns the configuration used when nothing is overridden.
func Default() Config {
	workerDefaults := outbox.DefaultWorkerConfig()
	depositDefaults := wallet.DefaultDepositLimits()
	return Config{
		DatabaseURL:           defaultDatabaseURL,
		OpsListenAddr:         defaultOpsListenAddr,
		SchedulerInterval:     defaultSchedulerInterval,
		ApprovalDeadline:      defaultApprovalDeadline,
		ConfirmationWindow:    defaultConfirmationWindow,
		OutboxInterval:        defaultOutboxInterval,
		OutboxBatchSize:       workerDefaults.BatchSize,
		OutboxMaxAttempts:     workerDefaults.MaxAttempts,
		OutboxStuckTimeout:    workerDefaults.StuckTimeout,
		DefaultCommissionRate: defaultDefaultCommissionRate,
		DepositMin:            depositDefaults.Min.String(),
		DepositMax:            depositDefaults.Max.String(),
		Currency:              defaultCurrency,
		EmailSenderName:       defaultEmailSenderName,
	}
}

// RegisterFlags declares every setting on flags with its default.
func RegisterFlags(flags *pflag.FlagSet) {
	defaults := Default()
	flags.String(FlagDatabaseURL, defaults.DatabaseURL, "PostgreSQL URL or sqlite path")
	flags.String(FlagOpsListenAddr, defaults.OpsListenAddr, "ops HTTP listen address")
	flags.String(FlagOpsAllowedOrigins, "", "comma-separated list of allowed CORS origins for the ops API")
	flags.Duration(FlagSchedulerInterval, defaults.SchedulerInterval, "escrow scheduler interval")
	flags.Duration(FlagApprovalDeadline, defaults.ApprovalDeadline, "age after which unapproved requests expire")
	flags.Duration(FlagConfirmationWindow, defaults.ConfirmationWindow, "time parents have to confirm or dispute")
	flags.Duration(FlagOutboxInterval, defaults.OutboxInterval, "outbox poll interval")
	flags.Int(FlagOutboxBatchSize, defaults.OutboxBatchSize, "outbox entries per poll")
	flags.Int(FlagOutboxMaxAttempts, defaults.OutboxMaxAttempts, "delivery attempts before an entry fails permanently")
	flags.Duration(FlagOutboxStuckTimeout, defaults.OutboxStuckTimeout, "age after which an in-flight poll no longer blocks the next")
	flags.String(FlagDefaultCommissionRate, defaults.DefaultCommissionRate, "commission rate used when none is stored")
	flags.String(FlagDepositMin, defaults.DepositMin, "smallest accepted deposit")
	flags.String(FlagDepositMax, defaults.DepositMax, "largest accepted deposit")
	flags.String(FlagCurrency, defaults.Currency, "wallet currency code")
	flags.String(FlagBrevoAPIKey, "", "Brevo API key; notifications are only logged when empty")
	flags.String(FlagEmailSender, "", "sender address for notification emails")
	flags.String(FlagEmailSenderName, defaults.EmailSenderName, "sender display name for notification emails")
}

// Load reads flags and environment into a validated Config.
func Load(flags *pflag.FlagSet) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	if err := v.BindPFlags(flags); err != nil {
		return Config{}, err
	}

	cfg := Config{
		DatabaseURL:           strings.TrimSpace(v.GetString(FlagDatabaseURL)),
		OpsListenAddr:         strings.TrimSpace(v.GetString(FlagOpsListenAddr)),
		OpsAllowedOrigins:     ParseAllowedOrigins(v.GetString(FlagOpsAllowedOrigins)),
		SchedulerInterval:     v.GetDuration(FlagSchedulerInterval),
		ApprovalDeadline:      v.GetDuration(FlagApprovalDeadline),
		ConfirmationWindow:    v.GetDuration(FlagConfirmationWindow),
		OutboxInterval:        v.GetDuration(FlagOutboxInterval),
		OutboxBatchSize:       v.GetInt(FlagOutboxBatchSize),
		OutboxMaxAttempts:     v.GetInt(FlagOutboxMaxAttempts),
		OutboxStuckTimeout:    v.GetDuration(FlagOutboxStuckTimeout),
		DefaultCommissionRate: strings.TrimSpace(v.GetString(FlagDefaultCommissionRate)),
		DepositMin:            strings.TrimSpace(v.GetString(FlagDepositMin)),
		DepositMax:            strings.TrimSpace(v.GetString(FlagDepositMax)),
		Currency:              strings.ToUpper(strings.TrimSpace(v.GetString(FlagCurrency))),
		BrevoAPIKey:           strings.TrimSpace(v.GetString(FlagBrevoAPIKey)),
		EmailSender:           strings.TrimSpace(v.GetString(FlagEmailSender)),
		EmailSenderName:       strings.TrimSpace(v.GetString(FlagEmailSenderName)),
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate fills empty fields with defaults, then checks the struct tags and the decimal
// settings.
func (cfg *Config) Validate() error {
	defaults := Default()
	cfg.DatabaseURL = defaultIfEmpty(cfg.DatabaseURL, defaults.DatabaseURL)
	cfg.OpsListenAddr = defaultIfEmpty(cfg.OpsListenAddr, defaults.OpsListenAddr)
	cfg.DefaultCommissionRate = defaultIfEmpty(cfg.DefaultCommissionRate, defaults.DefaultCommissionRate)
	cfg.DepositMin = defaultIfEmpty(cfg.DepositMin, defaults.DepositMin)
	cfg.DepositMax = defaultIfEmpty(cfg.DepositMax, defaults.DepositMax)
	cfg.Currency = defaultIfEmpty(cfg.Currency, defaults.Currency)
	cfg.EmailSenderName = defaultIfEmpty(cfg.EmailSenderName, defaults.EmailSenderName)

	if err := validator.New().Struct(cfg); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if _, err := cfg.CommissionRate(); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidConfig, FlagDefaultCommissionRate, err)
	}
	limits, err := cfg.DepositLimits()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if !limits.Min.IsPositive() || limits.Max.LessThan(limits.Min) {
		return fmt.Errorf("%w: deposit range %s..%s is empty", ErrInvalidConfig, limits.Min, limits.Max)
	}
	return nil
}

// CommissionRate parses the default platform commission.
func (cfg Config) CommissionRate() (wallet.CommissionRate, error) {
	return wallet.ParseCommissionRate(cfg.DefaultCommissionRate)
}

// DepositLimits parses the accepted deposit range.
func (cfg Config) DepositLimits() (wallet.DepositLimits, error) {
	minimum, err := decimal.NewFromString(cfg.DepositMin)
	if err != nil {
		return wallet.DepositLimits{}, fmt.Errorf("%s: %w", FlagDepositMin, err)
	}
	maximum, err := decimal.NewFromString(cfg.DepositMax)
	if err != nil {
		return wallet.DepositLimits{}, fmt.Errorf("%s: %w", FlagDepositMax, err)
	}
	return wallet.DepositLimits{Min: minimum, Max: maximum}, nil
}

// WorkerConfig returns the outbox worker settings.
func (cfg Config) WorkerConfig() outbox.WorkerConfig {
	return outbox.WorkerConfig{
		BatchSize:    cfg.OutboxBatchSize,
		MaxAttempts:  cfg.OutboxMaxAttempts,
		StuckTimeout: cfg.OutboxStuckTimeout,
	}
}

// EmailEnabled reports whether notifications go out through Brevo.
func (cfg Config) EmailEnabled() bool {
	return cfg.BrevoAPIKey != ""
}

// ParseAllowedOrigins splits comma-delimited origins into a slice.
func ParseAllowedOrigins(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	normalized := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			normalized = append(normalized, trimmed)
		}
	}
	return normalized
}

func defaultIfEmpty(value string, fallback string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return value
}
