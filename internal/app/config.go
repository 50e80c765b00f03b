package app

import (
	"os"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"

	"github.com/xenking/orderflow/internal/cache"
	"github.com/xenking/orderflow/internal/events"
	"github.com/xenking/orderflow/internal/gateway"
)

// Stock ledger modes.
const (
	StockModeLocal  = "local"
	StockModeRemote = "remote"
)

// Config holds the complete application configuration, loadable from
// environment variables (ORDERS_ prefix), flags, or YAML config files.
type Config struct {
	Addr        string `default:"0.0.0.0:8080" usage:"API server listen address"`
	DatabaseURL string `usage:"PostgreSQL connection URL (ORDERS_DATABASE_URL or DATABASE_URL)" flag:"database-url"`
	Customers   RemoteConfig
	Products    RemoteConfig
	Breaker     gateway.BreakerConfig
	Call        gateway.CallConfig
	Stock       StockConfig
	Cache       cache.Config
	Kafka       events.Config
	RateLimit   RateLimitConfig
	Graceful    GracefulConfig
}

// RemoteConfig locates a remote authority.
type RemoteConfig struct {
	URL string `usage:"Base URL of the service, e.g. http://customer-service:8081"`
}

// StockConfig selects and tunes the stock ledger.
type StockConfig struct {
	Mode         string        `default:"local" usage:"Stock ledger: local (postgres) or remote (product service)"`
	LockAttempts int           `default:"3"     usage:"Attempts per stock mutation before reporting a conflict"`
	LockWait     time.Duration `default:"250ms" usage:"Maximum wait for a product lock per attempt"`
	LockTTL      time.Duration `default:"5s"    usage:"Lifetime of a distributed product lock"`
	RedisAddr    string        `usage:"Redis address for distributed product locks; empty uses in-process locks" flag:"redis-addr"`
}

// RateLimitConfig controls the per-client sliding window rate limiter.
type RateLimitConfig struct {
	Max    int           `default:"100" usage:"Max requests per window"`
	Window time.Duration `default:"1m"  usage:"Rate limit window duration"`
}

// GracefulConfig controls graceful shutdown timing.
type GracefulConfig struct {
	ReadinessDelay  time.Duration `default:"3s"  usage:"Delay after readiness=false before shutdown" flag:"readiness-delay"`
	ShutdownTimeout time.Duration `default:"15s" usage:"Maximum shutdown duration" flag:"shutdown-timeout"`
}

// LoadConfig loads configuration from environment variables, YAML config files,
// and applies platform-specific defaults.
func LoadConfig() (*Config, error) {
	var cfg Config
	loader := aconfig.LoaderFor(&cfg, aconfig.Config{
		EnvPrefix: "ORDERS",
		Files:     []string{"config.yaml", "/etc/orders/config.yaml"},
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

// Validate reports missing or contradictory settings.
func (c *Config) Validate() error {
	if c.DatabaseURL == "" {
		return errors.New("database URL is required: set ORDERS_DATABASE_URL or DATABASE_URL")
	}
	if c.Customers.URL == "" {
		return errors.New("customer service URL is required: set ORDERS_CUSTOMERS_URL")
	}
	if c.Products.URL == "" {
		return errors.New("product service URL is required: set ORDERS_PRODUCTS_URL")
	}
	switch c.Stock.Mode {
	case StockModeLocal, StockModeRemote:
	default:
		return errors.Errorf("unknown stock mode %q: want %s or %s", c.Stock.Mode, StockModeLocal, StockModeRemote)
	}
	return nil
}

// applyPlatformDefaults maps platform-provided environment variables (Railway,
// Render, etc.) that use standard names like DATABASE_URL and PORT to the
// application's ORDERS_-prefixed configuration.
func (c *Config) applyPlatformDefaults() {
	if c.DatabaseURL == "" {
		if v := os.Getenv("DATABASE_URL"); v != "" {
			c.DatabaseURL = v
		}
	}
	if port := os.Getenv("PORT"); port != "" && c.Addr == "0.0.0.0:8080" {
		c.Addr = "0.0.0.0:" + port
	}
}
