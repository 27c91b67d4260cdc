// Package config loads the engine's runtime settings from the environment.
// Postgres is the only required dependency; Redis and RabbitMQ are optional
// upgrades (rate-limit backend and campaign-health events) that the worker
// enables when their addresses are set.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

type Config struct {
	// Instance distinguishes this process in worker IDs and logs when
	// several workers share a database.
	Instance string `env:"INSTANCE" envDefault:"jobengine"`

	DatabaseURL string `env:"DATABASE_URL,required,notEmpty"`

	// RedisAddr, when set, moves rate-window accounting off Postgres.
	RedisAddr     string `env:"REDIS_ADDR"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB" envDefault:"0"`

	// AMQPURL, when set, publishes campaign-health events on terminal
	// failures. Without it the worker runs with a no-op publisher.
	AMQPURL      string `env:"AMQP_URL"`
	AMQPExchange string `env:"AMQP_EXCHANGE" envDefault:"outreach.events"`
	AMQPQueue    string `env:"AMQP_QUEUE" envDefault:"campaign-health"`

	WorkerCount  int           `env:"WORKER_COUNT" envDefault:"5"`
	PollInterval time.Duration `env:"POLL_INTERVAL" envDefault:"5s"`

	// A processing claim older than StaleClaimAfter is presumed orphaned
	// and reclaimed by the reaper.
	StaleClaimAfter time.Duration `env:"STALE_CLAIM_AFTER" envDefault:"10m"`
	ReaperSchedule  string        `env:"REAPER_SCHEDULE" envDefault:"@every 1m"`

	// RateWindowBoundaryHour is the UTC hour at which daily send windows
	// roll over.
	RateWindowBoundaryHour int `env:"RATE_WINDOW_BOUNDARY_HOUR" envDefault:"0"`

	// ProviderLimits maps an email provider to its daily per-inbox send
	// cap, e.g. "google:500,outlook:300".
	ProviderLimits   map[string]int `env:"PROVIDER_LIMITS" envDefault:"google:500,outlook:300" envSeparator:"," envKeyValSeparator:":"`
	DefaultSendLimit int            `env:"DEFAULT_SEND_LIMIT" envDefault:"100"`

	RetryBase time.Duration `env:"RETRY_BASE" envDefault:"30s"`
	RetryCap  time.Duration `env:"RETRY_CAP" envDefault:"1h"`

	// OpsAddr serves the read-only operations endpoints.
	OpsAddr string `env:"OPS_ADDR" envDefault:":8080"`

	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
}

func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	var errs []error
	if c.WorkerCount < 1 {
		errs = append(errs, errors.New("worker count must be positive"))
	}
	if c.PollInterval <= 0 {
		errs = append(errs, errors.New("poll interval must be positive"))
	}
	if c.StaleClaimAfter <= 0 {
		errs = append(errs, errors.New("stale claim threshold must be positive"))
	}
	if c.RateWindowBoundaryHour < 0 || c.RateWindowBoundaryHour > 23 {
		errs = append(errs, fmt.Errorf("rate window boundary hour %d out of range 0-23", c.RateWindowBoundaryHour))
	}
	if c.DefaultSendLimit < 1 {
		errs = append(errs, errors.New("default send limit must be positive"))
	}
	for provider, limit := range c.ProviderLimits {
		if limit < 1 {
			errs = append(errs, fmt.Errorf("provider %q: send limit must be positive", provider))
		}
	}
	if c.RetryBase <= 0 || c.RetryCap < c.RetryBase {
		errs = append(errs, errors.New("retry cap must be at least the retry base"))
	}
	return errors.Join(errs...)
}
