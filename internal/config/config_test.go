package config

import (
	"errors"
	"testing"
	"time"

	"github.com/spf13/pflag"
)

func newFlags(test *testing.T, arguments ...string) *pflag.FlagSet {
	test.Helper()
	flags := pflag.NewFlagSet("tutord", pflag.ContinueOnError)
	RegisterFlags(flags)
	if err := flags.Parse(arguments); err != nil {
		test.Fatalf("parse flags: %v", err)
	}
	return flags
}

func TestLoadDefaults(test *testing.T) {
	cfg, err := Load(newFlags(test))
	if err != nil {
		test.Fatalf("load: %v", err)
	}
	if cfg.ApprovalDeadline != 24*time.Hour || cfg.ConfirmationWindow != 48*time.Hour {
		test.Fatalf("unexpected windows %+v", cfg)
	}
	if cfg.OutboxBatchSize != 10 || cfg.OutboxMaxAttempts != 5 || cfg.OutboxStuckTimeout != 2*time.Minute {
		test.Fatalf("unexpected worker settings %+v", cfg.WorkerConfig())
	}
	rate, err := cfg.CommissionRate()
	if err != nil || rate.Decimal().String() != "0.1" {
		test.Fatalf("unexpected commission %v (%v)", rate.Decimal(), err)
	}
	limits, err := cfg.DepositLimits()
	if err != nil || limits.Min.String() != "1" || limits.Max.String() != "1000000" {
		test.Fatalf("unexpected deposit limits %+v (%v)", limits, err)
	}
	if cfg.EmailEnabled() {
		test.Fatalf("email must be disabled without an api key")
	}
}

func TestLoadFlagsOverrideDefaults(test *testing.T) {
	cfg, err := Load(newFlags(test,
		"--database-url=postgres://tutor:secret@db:5432/tutorbook",
		"--outbox-batch-size=25",
		"--confirmation-window=72h",
		"--ops-allowed-origins=https://ops.example.com, https://admin.example.com",
		"--brevo-api-key=xkeysib-1",
		"--email-sender=noreply@example.com",
	))
	if err != nil {
		test.Fatalf("load: %v", err)
	}
	if cfg.DatabaseURL != "postgres://tutor:secret@db:5432/tutorbook" || cfg.OutboxBatchSize != 25 || cfg.ConfirmationWindow != 72*time.Hour {
		test.Fatalf("flags not applied: %+v", cfg)
	}
	if len(cfg.OpsAllowedOrigins) != 2 || cfg.OpsAllowedOrigins[1] != "https://admin.example.com" {
		test.Fatalf("unexpected origins %v", cfg.OpsAllowedOrigins)
	}
	if !cfg.EmailEnabled() {
		test.Fatalf("expected email to be enabled")
	}
}

func TestLoadReadsEnvironment(test *testing.T) {
	test.Setenv("TUTORBOOK_OUTBOX_MAX_ATTEMPTS", "7")
	test.Setenv("TUTORBOOK_CURRENCY", "usd")
	test.Setenv("TUTORBOOK_DEFAULT_COMMISSION_RATE", "0.2")

	cfg, err := Load(newFlags(test))
	if err != nil {
		test.Fatalf("load: %v", err)
	}
	if cfg.OutboxMaxAttempts != 7 || cfg.Currency != "USD" || cfg.DefaultCommissionRate != "0.2" {
		test.Fatalf("environment not applied: %+v", cfg)
	}
}

func TestValidateRejectsBadSettings(test *testing.T) {
	testCases := []struct {
		name   string
		mutate func(cfg *Config)
	}{
		{name: "zero batch", mutate: func(cfg *Config) { cfg.OutboxBatchSize = 0 }},
		{name: "zero interval", mutate: func(cfg *Config) { cfg.SchedulerInterval = 0 }},
		{name: "commission above one", mutate: func(cfg *Config) { cfg.DefaultCommissionRate = "1.5" }},
		{name: "commission not numeric", mutate: func(cfg *Config) { cfg.DefaultCommissionRate = "ten percent" }},
		{name: "inverted deposit range", mutate: func(cfg *Config) { cfg.DepositMin = "500"; cfg.DepositMax = "100" }},
		{name: "zero deposit minimum", mutate: func(cfg *Config) { cfg.DepositMin = "0" }},
		{name: "short currency", mutate: func(cfg *Config) { cfg.Currency = "KE" }},
		{name: "api key without sender", mutate: func(cfg *Config) { cfg.BrevoAPIKey = "xkeysib-1" }},
		{name: "malformed sender", mutate: func(cfg *Config) { cfg.EmailSender = "not-an-email" }},
		{name: "malformed origin", mutate: func(cfg *Config) { cfg.OpsAllowedOrigins = []string{"::"} }},
	}
	for _, testCase := range testCases {
		testCase := testCase
		test.Run(testCase.name, func(test *testing.T) {
			test.Parallel()
			cfg := Default()
			testCase.mutate(&cfg)
			if err := cfg.Validate(); !errors.Is(err, ErrInvalidConfig) {
				test.Fatalf("expected ErrInvalidConfig, got %v", err)
			}
		})
	}
}

func TestValidateFillsEmptyStrings(test *testing.T) {
	cfg := Default()
	cfg.DatabaseURL = " "
	cfg.Currency = ""
	if err := cfg.Validate(); err != nil {
		test.Fatalf("validate: %v", err)
	}
	if cfg.DatabaseURL != defaultDatabaseURL || cfg.Currency != defaultCurrency {
		test.Fatalf("defaults not applied: %+v", cfg)
	}
}

func TestParseAllowedOrigins(test *testing.T) {
	if origins := ParseAllowedOrigins(" , "); len(origins) != 0 {
		test.Fatalf("expected no origins, got %v", origins)
	}
	if origins := ParseAllowedOrigins("https://a.example.com,,https://b.example.com "); len(origins) != 2 {
		test.Fatalf("expected two origins, got %v", origins)
	}
}
