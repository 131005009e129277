package app

import (
	"os"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"

	"github.com/xenking/mothership-commerce/internal/domain/order"
	"github.com/xenking/mothership-commerce/internal/domain/tax"
	"github.com/xenking/mothership-commerce/internal/events"
	"github.com/xenking/mothership-commerce/internal/storage/redis"
)

const defaultAddr = "0.0.0.0:8080"

// Config holds the complete application configuration, loadable from
// environment variables (COMMERCE_ prefix), flags, or YAML config files.
type Config struct {
	Addr         string `default:"0.0.0.0:8080" usage:"API server listen address"`
	DatabaseURL  string `usage:"PostgreSQL connection URL (COMMERCE_DATABASE_URL or DATABASE_URL)" flag:"database-url"`
	APIKeyPepper string `usage:"HMAC pepper for API key hashing; empty disables API key auth" flag:"api-key-pepper"`
	Tax          TaxConfig
	Discounts    DiscountConfig
	Redis        redis.Config
	Kafka        events.Config
	Metrics      MetricsConfig
	RateLimit    RateLimitConfig
	CORS         CORSConfig
	Graceful     GracefulConfig
}

// TaxConfig selects the jurisdiction rule files and the merchant location.
type TaxConfig struct {
	Rules            []string `default:"rules/tax.yaml" usage:"Jurisdiction rule files (.yaml or .yaml.gz), merged in order"`
	StoreCountry     string   `default:"GB" usage:"Merchant country, used until a delivery address is known" flag:"store-country"`
	StoreRegion      string   `default:"" usage:"Merchant region" flag:"store-region"`
	ShippingType     string   `default:"shipping" usage:"Product type used to tax shipping" flag:"shipping-type"`
	ShippingStrategy string   `default:"inclusive" usage:"Whether shipping prices include tax (inclusive or exclusive)" flag:"shipping-strategy"`
}

// DiscountConfig controls the discount code prefilter.
type DiscountConfig struct {
	FilterPath     string  `default:"" usage:"Prebuilt code filter file; empty builds it from the database" flag:"discount-filter"`
	FilterCapacity uint    `default:"100000" usage:"Expected number of codes when building the filter"`
	FilterFPR      float64 `default:"0.001" usage:"False positive rate when building the filter"`
}

// MetricsConfig controls the business metrics endpoint.
type MetricsConfig struct {
	Namespace string `default:"mothership" usage:"Prometheus metric namespace"`
}

// RateLimitConfig controls the per-client sliding window rate limiter.
type RateLimitConfig struct {
	Max    int           `default:"100" usage:"Max requests per window"`
	Window time.Duration `default:"1m"  usage:"Rate limit window duration"`
}

// CORSConfig controls Cross-Origin Resource Sharing headers.
type CORSConfig struct {
	Origins          []string `default:"*" usage:"Allowed CORS origins"`
	AllowCredentials bool     `default:"false" usage:"Allow credentials (cookies, auth headers)" flag:"cors-credentials"`
}

// GracefulConfig controls graceful shutdown timing.
type GracefulConfig struct {
	ReadinessDelay  time.Duration `default:"3s"  usage:"Delay after readiness=false before shutdown" flag:"readiness-delay"`
	ShutdownTimeout time.Duration `default:"15s" usage:"Maximum shutdown duration" flag:"shutdown-timeout"`
}

// LoadConfig loads configuration from environment variables, flags and YAML
// config files, then applies platform defaults.
func LoadConfig() (*Config, error) {
	return loadConfig(aconfig.Config{
		Files: []string{"config.yaml", "/etc/commerce/config.yaml"},
	})
}

func loadConfig(base aconfig.Config) (*Config, error) {
	var cfg Config
	base.EnvPrefix = "COMMERCE"
	base.FileDecoders = map[string]aconfig.FileDecoder{
		".yaml": aconfigyaml.New(),
	}
	if err := aconfig.LoaderFor(&cfg, base).Load(); err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	cfg.applyPlatformDefaults()

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.DatabaseURL == "" {
		return errors.New("database URL is required: set COMMERCE_DATABASE_URL or DATABASE_URL")
	}
	if len(c.Tax.Rules) == 0 {
		return errors.New("at least one tax rules file is required")
	}
	if c.Tax.StoreCountry == "" {
		return errors.New("store country is required")
	}
	if _, err := tax.ParseStrategy(c.Tax.ShippingStrategy); err != nil {
		return errors.Wrap(err, "shipping strategy")
	}
	return nil
}

// AssemblerOptions returns the order assembly settings described by the
// tax section.
func (c *Config) AssemblerOptions() order.AssemblerOptions {
	// Checked by validate.
	strategy, _ := tax.ParseStrategy(c.Tax.ShippingStrategy)
	return order.AssemblerOptions{
		Store:            c.StoreAddress(),
		ShippingType:     c.Tax.ShippingType,
		ShippingStrategy: strategy,
	}
}

// StoreAddress is the merchant jurisdiction.
func (c *Config) StoreAddress() tax.Address {
	return tax.Address{CountryID: c.Tax.StoreCountry, RegionID: c.Tax.StoreRegion}
}

// applyPlatformDefaults maps platform-provided environment variables (Railway,
// Render, etc.) that use standard names like DATABASE_URL and PORT to the
// application's COMMERCE_-prefixed configuration.
func (c *Config) applyPlatformDefaults() {
	if c.DatabaseURL == "" {
		if v := os.Getenv("DATABASE_URL"); v != "" {
			c.DatabaseURL = v
		}
	}
	if port := os.Getenv("PORT"); port != "" && c.Addr == defaultAddr {
		c.Addr = "0.0.0.0:" + port
	}
}
