// File: internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type RuntimeConfig struct {
	Dev bool
}

type ServerConfig struct {
	Port           int           `yaml:"port"`
	PublicBaseURL  string        `yaml:"public_base_url"` // used to build provider webhook URLs
	RequestTimeout time.Duration `yaml:"request_timeout"`
	MaxBodyBytes   int64         `yaml:"max_body_bytes"`
}

type LogConfig struct {
	Level    string `yaml:"level"`    // trace|debug|info|warn|error
	Format   string `yaml:"format"`   // json|console
	Sampling bool   `yaml:"sampling"` // enable sampling in prod
}

type DatabaseConfig struct {
	URL string `yaml:"url"`
}

type RedisConfig struct {
	URL      string        `yaml:"url"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	LockTTL  time.Duration `yaml:"lock_ttl"`
}

type KafkaConfig struct {
	Brokers []string `yaml:"brokers"` // empty disables lifecycle events
	Topic   string   `yaml:"topic"`
}

type KashierConfig struct {
	MerchantID    string `yaml:"merchant_id"`
	APIKey        string `yaml:"api_key"`
	SecretKey     string `yaml:"secret_key"`
	WebhookSecret string `yaml:"webhook_secret"`
	BaseURL       string `yaml:"base_url"`
	RedirectURL   string `yaml:"redirect_url"`
	Mode          string `yaml:"mode"` // test | live
}

type StripeConfig struct {
	SecretKey     string `yaml:"secret_key"`
	WebhookSecret string `yaml:"webhook_secret"`
	SuccessURL    string `yaml:"success_url"`
	CancelURL     string `yaml:"cancel_url"`
}

type PaymentConfig struct {
	DefaultCurrency       string        `yaml:"default_currency"`
	GuestEmail            string        `yaml:"guest_email"` // empty means sessions without an email are rejected
	SessionTTL            time.Duration `yaml:"session_ttl"`
	ProviderTimeout       time.Duration `yaml:"provider_timeout"`
	LegacyCallbackEnabled bool          `yaml:"legacy_callback_enabled"`
	UseNoopGateway        bool          `yaml:"use_noop_gateway"`

	Kashier KashierConfig `yaml:"kashier"`
	Stripe  StripeConfig  `yaml:"stripe"`
}

type FulfillmentConfig struct {
	MaxAttempts   int           `yaml:"max_attempts"`
	BaseBackoff   time.Duration `yaml:"base_backoff"`
	MaxBackoff    time.Duration `yaml:"max_backoff"`
	CallTimeout   time.Duration `yaml:"call_timeout"`
	ClaimTTL      time.Duration `yaml:"claim_ttl"`
	RetryInterval time.Duration `yaml:"retry_interval"`
	BatchSize     int           `yaml:"batch_size"`
	Workers       int           `yaml:"workers"`
	CatalogURL    string        `yaml:"catalog_url"`
	CatalogToken  string        `yaml:"catalog_token"`
}

type IdentityConfig struct {
	BaseURL string        `yaml:"base_url"`
	Token   string        `yaml:"token"`
	Timeout time.Duration `yaml:"timeout"`
}

type AdminConfig struct {
	Port      int           `yaml:"port"`
	JWTSecret string        `yaml:"jwt_secret"`
	TokenTTL  time.Duration `yaml:"token_ttl"`
}

type RateLimitConfig struct {
	CreatePerWindow int           `yaml:"create_per_window"`
	Window          time.Duration `yaml:"window"`
}

type SchedulerConfig struct {
	ExpiryInterval time.Duration `yaml:"expiry_interval"`
}

type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Log         LogConfig         `yaml:"log"`
	Database    DatabaseConfig    `yaml:"database"`
	Redis       RedisConfig       `yaml:"redis"`
	Kafka       KafkaConfig       `yaml:"kafka"`
	Payment     PaymentConfig     `yaml:"payment"`
	Fulfillment FulfillmentConfig `yaml:"fulfillment"`
	Identity    IdentityConfig    `yaml:"identity"`
	Admin       AdminConfig       `yaml:"admin"`
	RateLimit   RateLimitConfig   `yaml:"rate_limit"`
	Scheduler   SchedulerConfig   `yaml:"scheduler"`

	Runtime RuntimeConfig `yaml:"-"`
}

// LoadConfig reads the YAML file at path. ${VAR} references are expanded from
// the environment so secrets can stay out of the file.
func LoadConfig(path string, dev bool) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse([]byte(os.ExpandEnv(string(b))), dev)
}

func Parse(b []byte, dev bool) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	applyDefaults(&cfg)
	cfg.Runtime.Dev = dev

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	cfg.Server.RequestTimeout = orDuration(cfg.Server.RequestTimeout, 15*time.Second)
	if cfg.Server.MaxBodyBytes <= 0 {
		cfg.Server.MaxBodyBytes = 1 << 20
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "json"
	}
	cfg.Redis.LockTTL = orDuration(cfg.Redis.LockTTL, 10*time.Second)
	if cfg.Kafka.Topic == "" {
		cfg.Kafka.Topic = "payment.lifecycle"
	}

	if cfg.Payment.DefaultCurrency == "" {
		cfg.Payment.DefaultCurrency = "EGP"
	}
	cfg.Payment.DefaultCurrency = strings.ToUpper(cfg.Payment.DefaultCurrency)
	cfg.Payment.SessionTTL = orDuration(cfg.Payment.SessionTTL, time.Hour)
	cfg.Payment.ProviderTimeout = orDuration(cfg.Payment.ProviderTimeout, 10*time.Second)
	if cfg.Payment.Kashier.BaseURL == "" {
		cfg.Payment.Kashier.BaseURL = "https://test-api.kashier.io"
	}
	if cfg.Payment.Kashier.Mode == "" {
		cfg.Payment.Kashier.Mode = "test"
	}

	if cfg.Fulfillment.MaxAttempts <= 0 {
		cfg.Fulfillment.MaxAttempts = 6
	}
	cfg.Fulfillment.BaseBackoff = orDuration(cfg.Fulfillment.BaseBackoff, 30*time.Second)
	cfg.Fulfillment.MaxBackoff = orDuration(cfg.Fulfillment.MaxBackoff, 30*time.Minute)
	cfg.Fulfillment.CallTimeout = orDuration(cfg.Fulfillment.CallTimeout, 10*time.Second)
	cfg.Fulfillment.ClaimTTL = orDuration(cfg.Fulfillment.ClaimTTL, 2*time.Minute)
	cfg.Fulfillment.RetryInterval = orDuration(cfg.Fulfillment.RetryInterval, 30*time.Second)
	if cfg.Fulfillment.BatchSize <= 0 {
		cfg.Fulfillment.BatchSize = 50
	}
	if cfg.Fulfillment.Workers <= 0 {
		cfg.Fulfillment.Workers = 4
	}

	cfg.Identity.Timeout = orDuration(cfg.Identity.Timeout, 5*time.Second)
	if cfg.Admin.Port == 0 {
		cfg.Admin.Port = 8081
	}
	cfg.Admin.TokenTTL = orDuration(cfg.Admin.TokenTTL, 12*time.Hour)
	if cfg.RateLimit.CreatePerWindow <= 0 {
		cfg.RateLimit.CreatePerWindow = 20
	}
	cfg.RateLimit.Window = orDuration(cfg.RateLimit.Window, time.Minute)
	cfg.Scheduler.ExpiryInterval = orDuration(cfg.Scheduler.ExpiryInterval, time.Minute)
}

// Minimal validation
func (c *Config) validate() error {
	if c.Database.URL == "" {
		return errors.New("database.url is required")
	}
	if c.Redis.URL == "" {
		return errors.New("redis.url is required")
	}
	if c.Admin.JWTSecret == "" {
		return errors.New("admin.jwt_secret is required")
	}
	if c.Runtime.Dev {
		return nil
	}
	if c.Payment.Kashier.WebhookSecret == "" && c.Payment.Stripe.WebhookSecret == "" {
		return errors.New("at least one provider webhook secret is required")
	}
	if c.Fulfillment.CatalogURL == "" {
		return errors.New("fulfillment.catalog_url is required")
	}
	return nil
}

func orDuration(d, def time.Duration) time.Duration {
	if d <= 0 {
		return def
	}
	return d
}
