package config

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Store drivers.
const (
	StorePostgres = "postgres"
	StoreMemory   = "memory"
)

// Mail drivers.
const (
	MailLog  = "log"
	MailSMTP = "smtp"
	MailAMQP = "amqp"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	Port        int
	LogLevel    string
	LogFormat   string
	JWTSecret   string
	StoreDriver string
	DatabaseURL string
	DBMaxConns  int
	// EncryptionKey seals raw gateway payloads at rest.
	EncryptionKey string
	CORSOrigins   []string
	CronSecret    string
	AppBaseURL    string

	RateLimitRPS   float64
	RateLimitBurst int

	BillingCycleMonths int
	BillingCycleDays   int
	// ReminderDays are the days-before-expiry thresholds, largest first.
	ReminderDays           []int
	ExpiringSoonDays       int
	SweepSchedule          string
	SweepConcurrency       int
	RemoveChannelsOnExpiry bool
	ExternalCallTimeout    time.Duration

	OutboxPollInterval time.Duration
	OutboxMaxAttempts  int
	OutboxBatchSize    int

	MailDriver   string
	MailFrom     string
	SMTPHost     string
	SMTPPort     int
	SMTPUsername string
	SMTPPassword string
	AMQPURL      string
	AMQPExchange string

	ChatBaseURL  string
	ChatAPIToken string

	MidtransServerKey string
	MidtransBaseURL   string
	MidtransSnapURL   string
	XenditSecretKey   string
	XenditCallbackKey string
	XenditBaseURL     string
	StripeSecretKey   string
	StripeWebhookKey  string
	StripeBaseURL     string
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("PORT", 4001)
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")
	v.SetDefault("STORE_DRIVER", StorePostgres)
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("APP_BASE_URL", "http://localhost:3000")
	v.SetDefault("RATE_LIMIT_RPS", 10)
	v.SetDefault("RATE_LIMIT_BURST", 20)
	v.SetDefault("BILLING_CYCLE_MONTHS", 1)
	v.SetDefault("BILLING_CYCLE_DAYS", 0)
	v.SetDefault("REMINDER_DAYS", "2,1")
	v.SetDefault("EXPIRY_SWEEP_SCHEDULE", "0 3 * * *")
	v.SetDefault("SWEEP_CONCURRENCY", 8)
	v.SetDefault("REMOVE_CHANNELS_ON_EXPIRY", true)
	v.SetDefault("EXTERNAL_CALL_TIMEOUT", "10s")
	v.SetDefault("OUTBOX_POLL_INTERVAL", "5s")
	v.SetDefault("OUTBOX_MAX_ATTEMPTS", 6)
	v.SetDefault("OUTBOX_BATCH_SIZE", 20)
	v.SetDefault("MAIL_DRIVER", MailLog)
	v.SetDefault("MAIL_FROM", "Supportly <no-reply@supportly.id>")
	v.SetDefault("SMTP_PORT", 587)
	v.SetDefault("AMQP_EXCHANGE", "notifications")
	v.SetDefault("MIDTRANS_BASE_URL", "https://api.sandbox.midtrans.com")
	v.SetDefault("MIDTRANS_SNAP_URL", "https://app.sandbox.midtrans.com")
	v.SetDefault("XENDIT_BASE_URL", "https://api.xendit.co")
	v.SetDefault("STRIPE_BASE_URL", "https://api.stripe.com")
}

// Load reads configuration from environment variables with sensible defaults.
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.AutomaticEnv()

	cfg := &Config{
		Port:          v.GetInt("PORT"),
		LogLevel:      v.GetString("LOG_LEVEL"),
		LogFormat:     v.GetString("LOG_FORMAT"),
		JWTSecret:     v.GetString("JWT_SECRET"),
		StoreDriver:   strings.ToLower(v.GetString("STORE_DRIVER")),
		DatabaseURL:   v.GetString("DATABASE_URL"),
		DBMaxConns:    v.GetInt("DB_MAX_CONNS"),
		EncryptionKey: v.GetString("ENCRYPTION_KEY"),
		CORSOrigins:   splitList(v.GetString("CORS_ORIGINS")),
		CronSecret:    v.GetString("CRON_SECRET"),
		AppBaseURL:    strings.TrimRight(v.GetString("APP_BASE_URL"), "/"),

		RateLimitRPS:   v.GetFloat64("RATE_LIMIT_RPS"),
		RateLimitBurst: v.GetInt("RATE_LIMIT_BURST"),

		BillingCycleMonths:     v.GetInt("BILLING_CYCLE_MONTHS"),
		BillingCycleDays:       v.GetInt("BILLING_CYCLE_DAYS"),
		SweepSchedule:          v.GetString("EXPIRY_SWEEP_SCHEDULE"),
		SweepConcurrency:       v.GetInt("SWEEP_CONCURRENCY"),
		RemoveChannelsOnExpiry: v.GetBool("REMOVE_CHANNELS_ON_EXPIRY"),
		ExternalCallTimeout:    v.GetDuration("EXTERNAL_CALL_TIMEOUT"),

		OutboxPollInterval: v.GetDuration("OUTBOX_POLL_INTERVAL"),
		OutboxMaxAttempts:  v.GetInt("OUTBOX_MAX_ATTEMPTS"),
		OutboxBatchSize:    v.GetInt("OUTBOX_BATCH_SIZE"),

		MailDriver:   strings.ToLower(v.GetString("MAIL_DRIVER")),
		MailFrom:     v.GetString("MAIL_FROM"),
		SMTPHost:     v.GetString("SMTP_HOST"),
		SMTPPort:     v.GetInt("SMTP_PORT"),
		SMTPUsername: v.GetString("SMTP_USERNAME"),
		SMTPPassword: v.GetString("SMTP_PASSWORD"),
		AMQPURL:      v.GetString("AMQP_URL"),
		AMQPExchange: v.GetString("AMQP_EXCHANGE"),

		ChatBaseURL:  strings.TrimRight(v.GetString("CHAT_BASE_URL"), "/"),
		ChatAPIToken: v.GetString("CHAT_API_TOKEN"),

		MidtransServerKey: v.GetString("MIDTRANS_SERVER_KEY"),
		MidtransBaseURL:   v.GetString("MIDTRANS_BASE_URL"),
		MidtransSnapURL:   v.GetString("MIDTRANS_SNAP_URL"),
		XenditSecretKey:   v.GetString("XENDIT_SECRET_KEY"),
		XenditCallbackKey: v.GetString("XENDIT_CALLBACK_TOKEN"),
		XenditBaseURL:     v.GetString("XENDIT_BASE_URL"),
		StripeSecretKey:   v.GetString("STRIPE_SECRET_KEY"),
		StripeWebhookKey:  v.GetString("STRIPE_WEBHOOK_SECRET"),
		StripeBaseURL:     v.GetString("STRIPE_BASE_URL"),
	}

	reminders, err := parseReminderDays(v.GetString("REMINDER_DAYS"))
	if err != nil {
		return nil, err
	}
	cfg.ReminderDays = reminders
	cfg.ExpiringSoonDays = v.GetInt("EXPIRING_SOON_DAYS")
	if cfg.ExpiringSoonDays <= 0 && len(reminders) > 0 {
		cfg.ExpiringSoonDays = reminders[0]
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}
	switch c.StoreDriver {
	case StorePostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required")
		}
	case StoreMemory:
	default:
		return fmt.Errorf("STORE_DRIVER must be %q or %q, got %q", StorePostgres, StoreMemory, c.StoreDriver)
	}
	if c.EncryptionKey == "" {
		return fmt.Errorf("ENCRYPTION_KEY is required (must be exactly 32 bytes)")
	}
	if len(c.EncryptionKey) != 32 {
		return fmt.Errorf("ENCRYPTION_KEY must be exactly 32 bytes, got %d", len(c.EncryptionKey))
	}
	if c.CronSecret == "" {
		return fmt.Errorf("CRON_SECRET is required")
	}
	if c.BillingCycleMonths < 0 || c.BillingCycleDays < 0 || c.BillingCycleMonths+c.BillingCycleDays == 0 {
		return fmt.Errorf("billing cycle must be positive, got %d months %d days", c.BillingCycleMonths, c.BillingCycleDays)
	}
	if c.SweepConcurrency < 1 {
		return fmt.Errorf("SWEEP_CONCURRENCY must be at least 1")
	}
	if c.ExternalCallTimeout <= 0 {
		return fmt.Errorf("EXTERNAL_CALL_TIMEOUT must be positive")
	}
	if c.OutboxMaxAttempts < 1 {
		return fmt.Errorf("OUTBOX_MAX_ATTEMPTS must be at least 1")
	}
	switch c.MailDriver {
	case MailLog:
	case MailSMTP:
		if c.SMTPHost == "" {
			return fmt.Errorf("SMTP_HOST is required when MAIL_DRIVER=smtp")
		}
	case MailAMQP:
		if c.AMQPURL == "" {
			return fmt.Errorf("AMQP_URL is required when MAIL_DRIVER=amqp")
		}
	default:
		return fmt.Errorf("unknown MAIL_DRIVER %q", c.MailDriver)
	}
	return nil
}

// parseReminderDays parses a comma-separated list of positive day counts,
// dropping duplicates and ordering largest first.
func parseReminderDays(raw string) ([]int, error) {
	seen := make(map[int]bool)
	var days []int
	for _, part := range splitList(raw) {
		d, err := strconv.Atoi(part)
		if err != nil || d <= 0 {
			return nil, fmt.Errorf("REMINDER_DAYS: invalid threshold %q", part)
		}
		if !seen[d] {
			seen[d] = true
			days = append(days, d)
		}
	}
	sort.Sort(sort.Reverse(sort.IntSlice(days)))
	return days, nil
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
