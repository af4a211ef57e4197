package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"

	"github.com/vasiliy-maslov/sportswear-storefront/internal/payment"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"

	StoreModePostgres = "postgres"
	StoreModeMemory   = "memory"
)

type AppConfig struct {
	Port      string
	Env       string
	LogLevel  string
	StoreMode string
}

type PostgresConfig struct {
	Host            string
	Port            string
	User            string
	Password        string
	DBName          string
	SSLMode         string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	MigrationsPath  string
}

// DSN is the key/value connection string understood by both pgx and lib/pq.
func (c PostgresConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode)
}

type PaymentConfig struct {
	BaseURL         string
	AccessToken     string
	Timeout         time.Duration
	NotificationURL string
	BackURL         string
}

type WebhookConfig struct {
	Secret        string
	SignatureMode payment.VerificationMode
}

type RabbitMQConfig struct {
	URL   string
	Queue string
}

type AdminConfig struct {
	JWTSecret string
}

type RateLimitConfig struct {
	RPS   float64
	Burst int
}

type CheckoutConfig struct {
	ShippingFlatRate decimal.Decimal
	CustomizationFee decimal.Decimal
	Currency         string
}

type Config struct {
	App       AppConfig
	Postgres  PostgresConfig
	Payment   PaymentConfig
	Webhook   WebhookConfig
	RabbitMQ  RabbitMQConfig
	Admin     AdminConfig
	RateLimit RateLimitConfig
	Checkout  CheckoutConfig
}

// NewConfig loads an optional .env file from the working directory and then reads the environment.
func NewConfig() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}
	return FromEnv()
}

// FromEnv builds and validates the configuration from environment variables only.
func FromEnv() (*Config, error) {
	var errs []error

	cfg := &Config{
		App: AppConfig{
			Port:      getEnv("APP_PORT", "8080"),
			Env:       strings.ToLower(getEnv("APP_ENV", EnvDevelopment)),
			LogLevel:  getEnv("LOG_LEVEL", "info"),
			StoreMode: strings.ToLower(getEnv("STORE_MODE", StoreModePostgres)),
		},
		Postgres: PostgresConfig{
			Host:           getEnv("DB_HOST", "localhost"),
			Port:           getEnv("DB_PORT", "5432"),
			User:           getEnv("DB_USER", "postgres"),
			Password:       os.Getenv("DB_PASSWORD"),
			DBName:         getEnv("DB_NAME", "storefront"),
			SSLMode:        getEnv("DB_SSLMODE", "disable"),
			MigrationsPath: getEnv("DB_MIGRATIONS_PATH", "migrations"),
		},
		Payment: PaymentConfig{
			BaseURL:         strings.TrimRight(getEnv("PAYMENT_PROVIDER_BASE_URL", "https://api.mercadopago.com"), "/"),
			AccessToken:     os.Getenv("PAYMENT_PROVIDER_ACCESS_TOKEN"),
			NotificationURL: os.Getenv("PAYMENT_NOTIFICATION_URL"),
			BackURL:         os.Getenv("PAYMENT_BACK_URL"),
		},
		Webhook: WebhookConfig{
			Secret: os.Getenv("WEBHOOK_SECRET"),
		},
		RabbitMQ: RabbitMQConfig{
			URL:   os.Getenv("RABBITMQ_URL"),
			Queue: getEnv("ORDER_EVENTS_QUEUE", "order_events"),
		},
		Admin: AdminConfig{
			JWTSecret: os.Getenv("ADMIN_JWT_SECRET"),
		},
		Checkout: CheckoutConfig{
			Currency: strings.ToUpper(getEnv("CURRENCY", "BRL")),
		},
	}

	var err error
	collect := func(e error) {
		if e != nil {
			errs = append(errs, e)
		}
	}

	cfg.Postgres.MaxConns, err = getInt32("DB_MAX_CONNS", 10)
	collect(err)
	cfg.Postgres.MinConns, err = getInt32("DB_MIN_CONNS", 2)
	collect(err)
	cfg.Postgres.MaxConnLifetime, err = getDuration("DB_MAX_CONN_LIFETIME", 30*time.Minute)
	collect(err)
	cfg.Payment.Timeout, err = getDuration("PAYMENT_PROVIDER_TIMEOUT", 10*time.Second)
	collect(err)
	cfg.Webhook.SignatureMode, err = payment.ParseVerificationMode(os.Getenv("WEBHOOK_SIGNATURE_MODE"))
	collect(err)
	cfg.RateLimit.RPS, err = getFloat("RATE_LIMIT_RPS", 5)
	collect(err)
	cfg.RateLimit.Burst, err = getInt("RATE_LIMIT_BURST", 10)
	collect(err)
	cfg.Checkout.ShippingFlatRate, err = getDecimal("SHIPPING_FLAT_RATE", "20.00")
	collect(err)
	cfg.Checkout.CustomizationFee, err = getDecimal("CUSTOMIZATION_FEE", "25.00")
	collect(err)

	collect(cfg.validate())

	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return cfg, nil
}

func (c *Config) validate() error {
	var errs []error

	if c.App.Env != EnvDevelopment && c.App.Env != EnvProduction {
		errs = append(errs, fmt.Errorf("APP_ENV must be %q or %q, got %q", EnvDevelopment, EnvProduction, c.App.Env))
	}
	if c.App.StoreMode != StoreModePostgres && c.App.StoreMode != StoreModeMemory {
		errs = append(errs, fmt.Errorf("STORE_MODE must be %q or %q, got %q", StoreModePostgres, StoreModeMemory, c.App.StoreMode))
	}
	if c.Payment.AccessToken == "" {
		errs = append(errs, errors.New("PAYMENT_PROVIDER_ACCESS_TOKEN is required"))
	}
	if c.Webhook.SignatureMode == payment.ModeEnforced && c.Webhook.Secret == "" {
		errs = append(errs, errors.New("WEBHOOK_SECRET is required when signature verification is enforced"))
	}
	if c.Webhook.SignatureMode == payment.ModeDisabledForDevelopment && c.App.Env == EnvProduction {
		errs = append(errs, errors.New("WEBHOOK_SIGNATURE_MODE=disabled-for-development is not allowed in production"))
	}
	if c.Admin.JWTSecret == "" {
		errs = append(errs, errors.New("ADMIN_JWT_SECRET is required"))
	}
	if c.Postgres.MinConns > c.Postgres.MaxConns {
		errs = append(errs, fmt.Errorf("DB_MIN_CONNS (%d) exceeds DB_MAX_CONNS (%d)", c.Postgres.MinConns, c.Postgres.MaxConns))
	}
	if c.Checkout.ShippingFlatRate.IsNegative() || c.Checkout.CustomizationFee.IsNegative() {
		errs = append(errs, errors.New("SHIPPING_FLAT_RATE and CUSTOMIZATION_FEE must not be negative"))
	}
	if c.RateLimit.RPS <= 0 || c.RateLimit.Burst <= 0 {
		errs = append(errs, errors.New("RATE_LIMIT_RPS and RATE_LIMIT_BURST must be positive"))
	}

	return errors.Join(errs...)
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}
	return fallback
}

func getInt(key string, fallback int) (int, error) {
	v := getEnv(key, "")
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid integer %q", key, v)
	}
	return n, nil
}

func getInt32(key string, fallback int32) (int32, error) {
	v := getEnv(key, "")
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.ParseInt(v, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid integer %q", key, v)
	}
	return int32(n), nil
}

func getFloat(key string, fallback float64) (float64, error) {
	v := getEnv(key, "")
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid number %q", key, v)
	}
	return f, nil
}

func getDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := getEnv(key, "")
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q", key, v)
	}
	return d, nil
}

func getDecimal(key, fallback string) (decimal.Decimal, error) {
	v := getEnv(key, fallback)
	d, err := decimal.NewFromString(v)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%s: invalid amount %q", key, v)
	}
	return d, nil
}
