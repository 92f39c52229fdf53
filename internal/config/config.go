package config

import (
	"fmt"
	"net/url"
	"slices"
	"time"

	"github.com/utafrali/storefront/internal/domain"
	pkgconfig "github.com/utafrali/storefront/pkg/config"
	"github.com/utafrali/storefront/pkg/database"
	"github.com/utafrali/storefront/pkg/httpclient"
)

// Gateway modes.
const (
	GatewayModeMock = "mock"
	GatewayModeHTTP = "http"
)

// Email delivery modes.
const (
	EmailModeLog   = "log"
	EmailModeKafka = "kafka"
)

// Config holds all configuration for the storefront checkout server.
type Config struct {
	ServiceName string `env:"SERVICE_NAME" envDefault:"storefront"`
	Version     string `env:"SERVICE_VERSION" envDefault:"dev"`
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`

	// HTTP server
	HTTPPort            int `env:"HTTP_PORT" envDefault:"8080"`
	HTTPReadTimeoutSec  int `env:"HTTP_READ_TIMEOUT_SECONDS" envDefault:"15"`
	HTTPWriteTimeoutSec int `env:"HTTP_WRITE_TIMEOUT_SECONDS" envDefault:"30"`
	ShutdownTimeoutSec  int `env:"SHUTDOWN_TIMEOUT_SECONDS" envDefault:"15"`

	// PostgreSQL
	PostgresHost  string `env:"POSTGRES_HOST" envDefault:"localhost"`
	PostgresPort  int    `env:"POSTGRES_PORT" envDefault:"5432"`
	PostgresUser  string `env:"POSTGRES_USER" envDefault:"storefront"`
	PostgresPass  string `env:"POSTGRES_PASSWORD" envDefault:"storefront_secret"`
	PostgresDB    string `env:"POSTGRES_DB" envDefault:"storefront"`
	PostgresSSL   string `env:"POSTGRES_SSL_MODE" envDefault:"disable"`
	RunMigrations bool   `env:"RUN_MIGRATIONS" envDefault:"true"`

	// Database pool
	DBMaxConns            int32 `env:"DB_MAX_CONNS" envDefault:"25"`
	DBMinConns            int32 `env:"DB_MIN_CONNS" envDefault:"5"`
	DBMaxConnLifetimeMins int   `env:"DB_MAX_CONN_LIFETIME_MINUTES" envDefault:"60"`
	DBMaxConnIdleTimeMins int   `env:"DB_MAX_CONN_IDLE_TIME_MINUTES" envDefault:"30"`

	// Redis
	RedisHost     string `env:"REDIS_HOST" envDefault:"localhost"`
	RedisPort     int    `env:"REDIS_PORT" envDefault:"6379"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB" envDefault:"0"`

	// Kafka
	KafkaBrokers []string `env:"KAFKA_BROKERS" envDefault:"localhost:9092" envSeparator:","`

	// Checkout
	CheckoutTTLSeconds int      `env:"CHECKOUT_TTL_SECONDS" envDefault:"1800"`
	Currency           string   `env:"CURRENCY" envDefault:"USD"`
	PaymentMethods     []string `env:"PAYMENT_METHODS" envDefault:"card,wallet,cash_on_delivery" envSeparator:","`

	// Per-caller limit on order confirmations
	ConfirmRateLimitRPS float64 `env:"CONFIRM_RATE_LIMIT_RPS" envDefault:"1"`
	ConfirmRateBurst    int     `env:"CONFIRM_RATE_LIMIT_BURST" envDefault:"5"`

	// Downstream gateways
	GatewayMode           string `env:"GATEWAY_MODE" envDefault:"mock"`
	PaymentServiceURL     string `env:"PAYMENT_SERVICE_URL" envDefault:"http://localhost:8005"`
	ShippingServiceURL    string `env:"SHIPPING_SERVICE_URL" envDefault:"http://localhost:8011"`
	TaxServiceURL         string `env:"TAX_SERVICE_URL" envDefault:"http://localhost:8012"`
	GatewayTimeoutSeconds int    `env:"GATEWAY_TIMEOUT_SECONDS" envDefault:"10"`
	EmailMode             string `env:"EMAIL_MODE" envDefault:"log"`
	EmailTopic            string `env:"EMAIL_TOPIC" envDefault:"storefront.notification.email"`

	// Circuit breaker settings for shipping and tax calls
	CBMaxRequests  uint32  `env:"CB_MAX_REQUESTS" envDefault:"1"`
	CBInterval     int     `env:"CB_INTERVAL_SECONDS" envDefault:"60"`
	CBTimeout      int     `env:"CB_TIMEOUT_SECONDS" envDefault:"30"`
	CBFailureRatio float64 `env:"CB_FAILURE_RATIO" envDefault:"0.5"`
	CBMinRequests  uint32  `env:"CB_MIN_REQUESTS" envDefault:"5"`

	// OpenTelemetry
	OTELEnabled    bool    `env:"OTEL_ENABLED" envDefault:"false"`
	OTELEndpoint   string  `env:"OTEL_EXPORTER_OTLP_ENDPOINT" envDefault:"localhost:4318"`
	OTELSampleRate float64 `env:"OTEL_SAMPLE_RATE" envDefault:"1.0"`

	// Slow query logging
	SlowQueryThresholdMs int `env:"LOG_SLOW_QUERY_MS" envDefault:"500"`
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := pkgconfig.Load(cfg); err != nil {
		return nil, fmt.Errorf("load storefront config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// validate checks configuration invariants.
func (c *Config) validate() error {
	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		return fmt.Errorf("invalid HTTP port: %d", c.HTTPPort)
	}
	if c.PostgresHost == "" {
		return fmt.Errorf("POSTGRES_HOST is required")
	}
	if c.RedisHost == "" {
		return fmt.Errorf("REDIS_HOST is required")
	}
	if len(c.KafkaBrokers) == 0 {
		return fmt.Errorf("KAFKA_BROKERS is required")
	}
	if c.CheckoutTTLSeconds <= 0 {
		return fmt.Errorf("CHECKOUT_TTL_SECONDS must be positive, got %d", c.CheckoutTTLSeconds)
	}
	if c.GatewayTimeoutSeconds <= 0 {
		return fmt.Errorf("GATEWAY_TIMEOUT_SECONDS must be positive, got %d", c.GatewayTimeoutSeconds)
	}
	if c.OTELSampleRate < 0 || c.OTELSampleRate > 1.0 {
		return fmt.Errorf("OTEL_SAMPLE_RATE must be between 0.0 and 1.0, got %f", c.OTELSampleRate)
	}
	if c.ConfirmRateLimitRPS <= 0 || c.ConfirmRateBurst <= 0 {
		return fmt.Errorf("CONFIRM_RATE_LIMIT_RPS and CONFIRM_RATE_LIMIT_BURST must be positive")
	}
	if len(c.PaymentMethods) == 0 {
		return fmt.Errorf("PAYMENT_METHODS is required")
	}
	known := []domain.PaymentMethod{domain.PaymentMethodCard, domain.PaymentMethodWallet, domain.PaymentMethodCashOnDelivery}
	for _, m := range c.PaymentMethods {
		if !slices.Contains(known, domain.PaymentMethod(m)) {
			return fmt.Errorf("unknown payment method %q in PAYMENT_METHODS", m)
		}
	}
	if c.EmailMode != EmailModeLog && c.EmailMode != EmailModeKafka {
		return fmt.Errorf("EMAIL_MODE must be %q or %q, got %q", EmailModeLog, EmailModeKafka, c.EmailMode)
	}

	switch c.GatewayMode {
	case GatewayModeMock:
	case GatewayModeHTTP:
		for name, rawURL := range map[string]string{
			"PAYMENT_SERVICE_URL":  c.PaymentServiceURL,
			"SHIPPING_SERVICE_URL": c.ShippingServiceURL,
			"TAX_SERVICE_URL":      c.TaxServiceURL,
		} {
			if rawURL == "" {
				return fmt.Errorf("%s is required", name)
			}
			if _, err := url.ParseRequestURI(rawURL); err != nil {
				return fmt.Errorf("invalid %s %q: %w", name, rawURL, err)
			}
		}
	default:
		return fmt.Errorf("GATEWAY_MODE must be %q or %q, got %q", GatewayModeMock, GatewayModeHTTP, c.GatewayMode)
	}
	return nil
}

// Postgres returns the connection settings for the PostgreSQL pool.
func (c *Config) Postgres() *database.PostgresConfig {
	return &database.PostgresConfig{
		Host:            c.PostgresHost,
		Port:            c.PostgresPort,
		User:            c.PostgresUser,
		Password:        c.PostgresPass,
		DBName:          c.PostgresDB,
		SSLMode:         c.PostgresSSL,
		MaxConns:        c.DBMaxConns,
		MinConns:        c.DBMinConns,
		MaxConnLifetime: time.Duration(c.DBMaxConnLifetimeMins) * time.Minute,
		MaxConnIdleTime: time.Duration(c.DBMaxConnIdleTimeMins) * time.Minute,
	}
}

// Redis returns the connection settings for the Redis client.
func (c *Config) Redis() database.RedisConfig {
	return database.RedisConfig{
		Host:         c.RedisHost,
		Port:         c.RedisPort,
		Password:     c.RedisPassword,
		DB:           c.RedisDB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	}
}

// CheckoutTTL is the lifetime of a checkout session.
func (c *Config) CheckoutTTL() time.Duration {
	return time.Duration(c.CheckoutTTLSeconds) * time.Second
}

// GatewayTimeout bounds every downstream gateway call.
func (c *Config) GatewayTimeout() time.Duration {
	return time.Duration(c.GatewayTimeoutSeconds) * time.Second
}

// CircuitBreaker returns breaker settings for the named downstream.
func (c *Config) CircuitBreaker(name string) httpclient.CircuitBreakerConfig {
	return httpclient.CircuitBreakerConfig{
		Name:         name,
		MaxRequests:  c.CBMaxRequests,
		Interval:     time.Duration(c.CBInterval) * time.Second,
		Timeout:      time.Duration(c.CBTimeout) * time.Second,
		FailureRatio: c.CBFailureRatio,
		MinRequests:  c.CBMinRequests,
	}
}

// AllowedPaymentMethods returns the configured payment methods.
func (c *Config) AllowedPaymentMethods() []domain.PaymentMethod {
	methods := make([]domain.PaymentMethod, 0, len(c.PaymentMethods))
	for _, m := range c.PaymentMethods {
		methods = append(methods, domain.PaymentMethod(m))
	}
	return methods
}

// SlowQueryThreshold is the duration above which queries are logged.
func (c *Config) SlowQueryThreshold() time.Duration {
	return time.Duration(c.SlowQueryThresholdMs) * time.Millisecond
}
