package app

import (
	"os"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"
)

const defaultAddr = "0.0.0.0:8080"

// Config holds the complete application configuration, loadable from
// environment variables (CHECKOUT_ prefix), flags, or YAML config files.
type Config struct {
	Addr        string `default:"0.0.0.0:8080" usage:"API server listen address"`
	DatabaseURL string `usage:"PostgreSQL connection URL (CHECKOUT_DATABASE_URL or DATABASE_URL)" flag:"database-url"`
	Payment     PaymentConfig
	Notify      NotifyConfig
	Idempotency IdempotencyConfig
	RateLimit   RateLimitConfig
	Graceful    GracefulConfig
}

// PaymentConfig selects and configures the payment gateway.
type PaymentConfig struct {
	Mode          string        `default:"http" usage:"Gateway mode: http or sandbox"`
	BaseURL       string        `usage:"Gateway base URL" flag:"payment-base-url"`
	APIKey        string        `usage:"Gateway API key" flag:"payment-api-key"`
	Timeout       time.Duration `default:"10s" usage:"Per-charge timeout"`
	DenylistFiles []string      `usage:"Gzipped files of denied payment tokens, one per line" flag:"payment-denylist"`
	Breaker       BreakerConfig
}

// BreakerConfig controls the gateway circuit breaker.
type BreakerConfig struct {
	MaxFailures uint32        `default:"5" usage:"Consecutive gateway faults that open the breaker"`
	OpenTimeout time.Duration `default:"30s" usage:"Time the breaker stays open"`
}

// NotifyConfig selects and configures the email notifier.
type NotifyConfig struct {
	Mode    string   `default:"log" usage:"Notifier mode: kafka or log"`
	Brokers []string `usage:"Kafka broker addresses"`
	Topic   string   `default:"checkout.emails" usage:"Kafka topic for email requests"`
}

// IdempotencyConfig controls Idempotency-Key handling. Empty RedisURL
// disables it.
type IdempotencyConfig struct {
	RedisURL string        `usage:"Redis URL (CHECKOUT_IDEMPOTENCY_REDIS_URL or REDIS_URL)" flag:"redis-url"`
	TTL      time.Duration `default:"24h" usage:"How long responses are remembered"`
}

// RateLimitConfig controls the per-client token bucket rate limiter.
type RateLimitConfig struct {
	Max    int           `default:"100" usage:"Max requests per window"`
	Window time.Duration `default:"1m"  usage:"Rate limit window duration"`
}

// GracefulConfig controls graceful shutdown timing.
type GracefulConfig struct {
	ReadinessDelay  time.Duration `default:"3s"  usage:"Delay after readiness=false before shutdown" flag:"readiness-delay"`
	ShutdownTimeout time.Duration `default:"15s" usage:"Maximum shutdown duration" flag:"shutdown-timeout"`
}

// Gateway and notifier modes.
const (
	PaymentModeHTTP    = "http"
	PaymentModeSandbox = "sandbox"

	NotifyModeKafka = "kafka"
	NotifyModeLog   = "log"
)

// LoadConfig loads configuration from environment variables, YAML config files,
// and applies platform-specific defaults.
func LoadConfig() (*Config, error) {
	var cfg Config
	loader := aconfig.LoaderFor(&cfg, aconfig.Config{
		EnvPrefix: "CHECKOUT",
		Files:     []string{"config.yaml", "/etc/checkout/config.yaml"},
		FileDecoders: map[string]aconfig.FileDecoder{
			".yaml": aconfigyaml.New(),
		},
	})
	if err := loader.Load(); err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	cfg.applyPlatformDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks that the selected modes have what they need.
func (c *Config) Validate() error {
	if c.DatabaseURL == "" {
		return errors.New("database URL is required: set CHECKOUT_DATABASE_URL or DATABASE_URL")
	}
	switch c.Payment.Mode {
	case PaymentModeHTTP:
		if c.Payment.BaseURL == "" {
			return errors.New("payment base URL is required in http mode")
		}
	case PaymentModeSandbox:
	default:
		return errors.Errorf("unknown payment mode %q", c.Payment.Mode)
	}
	switch c.Notify.Mode {
	case NotifyModeKafka:
		if len(c.Notify.Brokers) == 0 {
			return errors.New("kafka brokers are required in kafka mode")
		}
		if c.Notify.Topic == "" {
			return errors.New("kafka topic is required in kafka mode")
		}
	case NotifyModeLog:
	default:
		return errors.Errorf("unknown notify mode %q", c.Notify.Mode)
	}
	return nil
}

// applyPlatformDefaults maps platform-provided environment variables (Railway,
// Render, etc.) that use standard names like DATABASE_URL and PORT to the
// application's CHECKOUT_-prefixed configuration.
func (c *Config) applyPlatformDefaults() {
	if c.DatabaseURL == "" {
		c.DatabaseURL = os.Getenv("DATABASE_URL")
	}
	if c.Idempotency.RedisURL == "" {
		c.Idempotency.RedisURL = os.Getenv("REDIS_URL")
	}
	if port := os.Getenv("PORT"); port != "" && c.Addr == defaultAddr {
		c.Addr = "0.0.0.0:" + port
	}
}
