// File: internal/config/config.go
package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

type RuntimeConfig struct {
	Dev bool
}

type HTTPConfig struct {
	Port           int           `yaml:"port"`
	ReadTimeout    time.Duration `yaml:"read_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	// Requests per minute per client on the payment endpoints; 0 disables.
	PaymentRateLimit int `yaml:"payment_rate_limit"`
}

type LogConfig struct {
	Level    string `yaml:"level"`    // trace|debug|info|warn|error
	Format   string `yaml:"format"`   // json|console
	Sampling bool   `yaml:"sampling"` // enable sampling in prod
}

type DatabaseConfig struct {
	URL         string `yaml:"url"`
	MaxConns    int32  `yaml:"max_conns"`
	AutoMigrate bool   `yaml:"auto_migrate"`
}

type RedisConfig struct {
	URL      string        `yaml:"url"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	TTL      time.Duration `yaml:"ttl"`
}

type AuthConfig struct {
	JWTSecret string        `yaml:"jwt_secret"`
	TTL       time.Duration `yaml:"ttl"`
}

// FeeConfig uses pointers so an absent key is distinguishable from an explicit 0.
type FeeConfig struct {
	FeePct    *decimal.Decimal `yaml:"fee_pct"`
	FlatFee   *decimal.Decimal `yaml:"flat_fee"`
	MarkupPct *decimal.Decimal `yaml:"markup_pct"`
}

type BreakerConfig struct {
	MaxFailures uint32        `yaml:"max_failures"`
	OpenTimeout time.Duration `yaml:"open_timeout"`
}

type PaymentConfig struct {
	Provider     string        `yaml:"provider"` // paystack | noop
	BaseURL      string        `yaml:"base_url"`
	SecretKey    string        `yaml:"secret_key"`
	CallbackURL  string        `yaml:"callback_url"`
	Currency     string        `yaml:"currency"`
	Timeout      time.Duration `yaml:"timeout"`
	RetryBackoff time.Duration `yaml:"retry_backoff"`
	Breaker      BreakerConfig `yaml:"breaker"`
	Fees         FeeConfig     `yaml:"fees"`
	// Merchant sub-account receiving the base price; empty disables splitting.
	Subaccount string `yaml:"subaccount"`
}

type SchedulerConfig struct {
	ExpiryCron       string        `yaml:"expiry_cron"`
	CleanupCron      string        `yaml:"cleanup_cron"`
	PaymentTimeout   time.Duration `yaml:"payment_timeout"`
	CleanupBatchSize int           `yaml:"cleanup_batch_size"`
	LockTTL          time.Duration `yaml:"lock_ttl"`
}

type Config struct {
	HTTP      HTTPConfig      `yaml:"http"`
	Log       LogConfig       `yaml:"log"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	Auth      AuthConfig      `yaml:"auth"`
	Payment   PaymentConfig   `yaml:"payment"`
	Scheduler SchedulerConfig `yaml:"scheduler"`

	Runtime RuntimeConfig `yaml:"-"`
}

// LoadConfig reads -config and -dev from the command line and loads the file.
func LoadConfig() (*Config, error) {
	var configPath string
	var dev bool
	flag.StringVar(&configPath, "config", "config.yaml", "path to config yaml")
	flag.BoolVar(&dev, "dev", false, "development mode")
	flag.Parse()
	return Load(configPath, dev)
}

// Load parses the YAML file at path, applies environment overrides and defaults,
// and validates the result.
func Load(path string, dev bool) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.Runtime.Dev = dev

	applyEnv(&cfg)
	applyDefaults(&cfg)

	// Minimal validation
	if cfg.Database.URL == "" {
		return nil, errors.New("database.url is required")
	}
	if cfg.Payment.Provider == "paystack" && cfg.Payment.SecretKey == "" {
		return nil, errors.New("payment.secret_key is required for the paystack provider")
	}
	if cfg.Auth.JWTSecret == "" && !dev {
		return nil, errors.New("auth.jwt_secret is required")
	}
	return &cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Database.URL = v
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.Redis.URL = v
	}
	if v := os.Getenv("PAYSTACK_SECRET_KEY"); v != "" {
		cfg.Payment.SecretKey = v
	}
	if v := os.Getenv("JWT_SECRET"); v != "" {
		cfg.Auth.JWTSecret = v
	}
}

func applyDefaults(cfg *Config) {
	if cfg.HTTP.Port == 0 {
		cfg.HTTP.Port = 8080
	}
	if cfg.HTTP.ReadTimeout <= 0 {
		cfg.HTTP.ReadTimeout = 10 * time.Second
	}
	if cfg.HTTP.WriteTimeout <= 0 {
		cfg.HTTP.WriteTimeout = 15 * time.Second
	}
	if cfg.HTTP.RequestTimeout <= 0 {
		cfg.HTTP.RequestTimeout = 20 * time.Second
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "json"
	}
	if cfg.Database.MaxConns <= 0 {
		cfg.Database.MaxConns = 10
	}
	cfg.Redis.TTL = normalizeTTL(cfg.Redis.TTL)
	if cfg.Auth.JWTSecret == "" && cfg.Runtime.Dev {
		cfg.Auth.JWTSecret = "dev-secret"
	}
	if cfg.Auth.TTL <= 0 {
		cfg.Auth.TTL = 24 * time.Hour
	}

	p := &cfg.Payment
	if p.Provider == "" {
		p.Provider = "paystack"
		if cfg.Runtime.Dev && p.SecretKey == "" {
			p.Provider = "noop"
		}
	}
	if p.BaseURL == "" {
		p.BaseURL = "https://api.paystack.co"
	}
	if p.Currency == "" {
		p.Currency = "GHS"
	}
	if p.Timeout <= 0 {
		p.Timeout = 10 * time.Second
	}
	if p.RetryBackoff <= 0 {
		p.RetryBackoff = 500 * time.Millisecond
	}
	if p.Breaker.MaxFailures == 0 {
		p.Breaker.MaxFailures = 5
	}
	if p.Breaker.OpenTimeout <= 0 {
		p.Breaker.OpenTimeout = 30 * time.Second
	}

	s := &cfg.Scheduler
	if s.ExpiryCron == "" {
		s.ExpiryCron = "0 * * * *"
	}
	if s.CleanupCron == "" {
		s.CleanupCron = "*/15 * * * *"
	}
	if s.PaymentTimeout <= 0 {
		s.PaymentTimeout = 30 * time.Minute
	}
	if s.CleanupBatchSize <= 0 {
		s.CleanupBatchSize = 100
	}
	if s.LockTTL <= 0 {
		s.LockTTL = 5 * time.Minute
	}
}

func normalizeTTL(d time.Duration) time.Duration {
	if d <= 0 {
		return time.Hour
	}
	return d
}
