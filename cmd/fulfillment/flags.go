package main

import (
	"flag"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env"
)

type Config struct {
	Address            string `env:"RUN_ADDRESS" envDefault:"localhost:8080"`
	LogLevel           string `env:"LOG_LEVEL" envDefault:"INFO"`
	DatabaseConnection string `env:"DATABASE_URI"`
	JWTSecret          string `env:"JWT_SECRET" envDefault:"dontexposethis"`

	OperatorTokenTTL time.Duration `env:"OPERATOR_TOKEN_TTL" envDefault:"12h"`

	StripeAddress string `env:"STRIPE_API_ADDRESS" envDefault:"https://api.stripe.com"`
	StripeKey     string `env:"STRIPE_API_KEY"`
	ZincAddress   string `env:"ZINC_API_ADDRESS" envDefault:"https://api.zinc.io"`
	ZincToken     string `env:"ZINC_API_TOKEN"`

	// Secondary triggers give the webhook this head start before re-checking.
	SecondaryTriggerDelay time.Duration `env:"SECONDARY_TRIGGER_DELAY" envDefault:"2s"`

	RetryBackoff         string        `env:"RETRY_BACKOFF" envDefault:"30m,1h,4h"`
	RetryCeiling         time.Duration `env:"RETRY_CEILING" envDefault:"12h"`
	RetryScanInterval    time.Duration `env:"RETRY_SCAN_INTERVAL" envDefault:"1m"`
	RetryWorkers         int           `env:"RETRY_WORKERS" envDefault:"5"`
	RetryTriageThreshold int           `env:"RETRY_TRIAGE_THRESHOLD" envDefault:"5"`

	StaleSubmissionAfter time.Duration `env:"STALE_SUBMISSION_AFTER" envDefault:"1h"`
	TimeoutSchedule      string        `env:"TIMEOUT_MONITOR_SCHEDULE" envDefault:"@hourly"`

	VendorLeadTime  time.Duration `env:"VENDOR_LEAD_TIME" envDefault:"72h"`
	ReleaseSchedule string        `env:"RELEASE_SCHEDULE" envDefault:"@every 15m"`

	AutoApproveConfidence float64       `env:"AUTO_APPROVE_CONFIDENCE" envDefault:"0.9"`
	ApprovalTTL           time.Duration `env:"APPROVAL_TTL" envDefault:"48h"`
	ApprovalSweepSchedule string        `env:"APPROVAL_SWEEP_SCHEDULE" envDefault:"@every 1h"`
}

func NewConfig() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}

	address := flag.String("a", cfg.Address, "{Host:port} for server")
	loglevel := flag.String("l", cfg.LogLevel, "Log level for server")
	databaseConnection := flag.String("d", cfg.DatabaseConnection, "Database connection string")
	stripeAddress := flag.String("p", cfg.StripeAddress, "Payment processor API address")
	zincAddress := flag.String("z", cfg.ZincAddress, "Fulfillment vendor API address")
	retryWorkers := flag.Int("w", cfg.RetryWorkers, "Size of retry worker pool")
	retryScanInterval := flag.Duration("i", cfg.RetryScanInterval, "Retry scan interval")

	flag.Parse()

	cfg.Address = *address
	cfg.LogLevel = *loglevel
	cfg.DatabaseConnection = *databaseConnection
	cfg.StripeAddress = *stripeAddress
	cfg.ZincAddress = *zincAddress
	cfg.RetryWorkers = *retryWorkers
	cfg.RetryScanInterval = *retryScanInterval

	if cfg.DatabaseConnection == "" {
		return nil, fmt.Errorf("ENV DATABASE_URI must be set")
	}
	if _, err := cfg.BackoffSteps(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// BackoffSteps parses the RETRY_BACKOFF list into durations.
func (c *Config) BackoffSteps() ([]time.Duration, error) {
	parts := strings.Split(c.RetryBackoff, ",")
	steps := make([]time.Duration, 0, len(parts))
	for _, p := range parts {
		d, err := time.ParseDuration(strings.TrimSpace(p))
		if err != nil {
			return nil, fmt.Errorf("invalid RETRY_BACKOFF entry %q: %w", p, err)
		}
		steps = append(steps, d)
	}
	if len(steps) == 0 {
		return nil, fmt.Errorf("RETRY_BACKOFF must list at least one delay")
	}
	return steps, nil
}
