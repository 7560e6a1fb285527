package infra

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"portraitstudio/internal/domain"
)

const (
	defaultWriteTimeout = 300 * time.Second
	// writeMargin covers decoding, uploads and encoding around provider calls.
	writeMargin = 30 * time.Second
)

// Config represents application configuration loaded from environment variables.
type Config struct {
	AppEnv string
	Port   string

	StorageBackend string
	StoragePath    string
	StorageBaseURL string
	S3Bucket       string
	S3Region       string
	S3Endpoint     string
	S3Prefix       string
	S3PublicURL    string

	RegistryBackend string
	RedisURL        string
	RedisPrefix     string
	DatabaseURL     string

	GeminiAPIKey    string
	GeminiModel     string
	GeminiBaseURL   string
	GeminiTimeout   time.Duration
	GenerationDelay time.Duration
	MaxUploadBytes  int64
	MaxDimension    int
	OutputSize      int

	CheckoutMode        string
	StripeSecretKey     string
	StripeWebhookSecret string
	CheckoutSuccessURL  string
	CheckoutCancelURL   string
	PriceSingleCents    int64
	PriceBundleCents    int64
	PriceCurrency       string

	CORSOrigins      []string
	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration
	RateLimitPerMin  int
}

// LoadConfig loads configuration from environment variables and applies defaults where needed.
func LoadConfig() (*Config, error) {
	appEnv := getEnv("APP_ENV", "development")
	port := getEnv("PORT", "8080")
	defaultMode := "stripe"
	if appEnv == "development" {
		defaultMode = "mock"
	}

	cfg := &Config{
		AppEnv: appEnv,
		Port:   port,

		StorageBackend: strings.ToLower(getEnv("STORAGE_BACKEND", "fs")),
		StoragePath:    getEnv("STORAGE_PATH", "./data"),
		StorageBaseURL: strings.TrimRight(getEnv("STORAGE_BASE_URL", "http://localhost:"+port+"/static"), "/"),
		S3Bucket:       os.Getenv("S3_BUCKET"),
		S3Region:       getEnv("S3_REGION", os.Getenv("AWS_REGION")),
		S3Endpoint:     os.Getenv("S3_ENDPOINT"),
		S3Prefix:       os.Getenv("S3_PREFIX"),
		S3PublicURL:    os.Getenv("S3_PUBLIC_URL"),

		RegistryBackend: strings.ToLower(getEnv("REGISTRY_BACKEND", "memory")),
		RedisURL:        os.Getenv("REDIS_URL"),
		RedisPrefix:     getEnv("REDIS_PREFIX", "portraitstudio:"),
		DatabaseURL:     os.Getenv("DATABASE_URL"),

		GeminiAPIKey:    os.Getenv("GEMINI_API_KEY"),
		GeminiModel:     getEnv("GEMINI_MODEL", "gemini-2.5-flash-image-preview"),
		GeminiBaseURL:   os.Getenv("GEMINI_BASE_URL"),
		GeminiTimeout:   getEnvDuration("GEMINI_TIMEOUT", 90*time.Second),
		GenerationDelay: getEnvDuration("GENERATION_DELAY", 2*time.Second),
		MaxUploadBytes:  int64(getEnvInt("MAX_UPLOAD_BYTES", 10<<20)),
		MaxDimension:    getEnvInt("MAX_IMAGE_DIMENSION", 2048),
		OutputSize:      getEnvInt("OUTPUT_SIZE", 1024),

		CheckoutMode:        strings.ToLower(getEnv("CHECKOUT_MODE", defaultMode)),
		StripeSecretKey:     os.Getenv("STRIPE_SECRET_KEY"),
		StripeWebhookSecret: os.Getenv("STRIPE_WEBHOOK_SECRET"),
		CheckoutSuccessURL:  getEnv("CHECKOUT_SUCCESS_URL", "http://localhost:3000/success?session_id={CHECKOUT_SESSION_ID}"),
		CheckoutCancelURL:   getEnv("CHECKOUT_CANCEL_URL", "http://localhost:3000/"),
		PriceSingleCents:    int64(getEnvInt("PRICE_SINGLE_CENTS", 499)),
		PriceBundleCents:    int64(getEnvInt("PRICE_BUNDLE_CENTS", 999)),
		PriceCurrency:       strings.ToLower(getEnv("PRICE_CURRENCY", "usd")),

		CORSOrigins:      splitList(getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:3000")),
		HTTPReadTimeout:  time.Second * time.Duration(getEnvInt("HTTP_READ_TIMEOUT_SECONDS", 30)),
		HTTPWriteTimeout: time.Second * time.Duration(getEnvInt("HTTP_WRITE_TIMEOUT_SECONDS", 0)),
		HTTPIdleTimeout:  time.Second * time.Duration(getEnvInt("HTTP_IDLE_TIMEOUT_SECONDS", 60)),
		RateLimitPerMin:  getEnvInt("RATE_LIMIT_PER_MINUTE", 10),
	}
	if cfg.HTTPWriteTimeout <= 0 {
		cfg.HTTPWriteTimeout = max(defaultWriteTimeout, cfg.BatchWriteBudget())
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// BatchWriteBudget is the longest a full-batch generate request can run:
// every style reaching the provider timeout plus the pacing gaps between them.
func (c *Config) BatchWriteBudget() time.Duration {
	n := time.Duration(len(domain.DefaultStyles))
	return n*c.GeminiTimeout + (n-1)*c.GenerationDelay + writeMargin
}

// WriteTimeoutCoversBatch reports whether a full batch fits in the server's
// write deadline.
func (c *Config) WriteTimeoutCoversBatch() bool {
	return c.HTTPWriteTimeout >= c.BatchWriteBudget()
}

func (c *Config) validate() error {
	switch c.StorageBackend {
	case "fs":
	case "s3":
		if c.S3Bucket == "" {
			return fmt.Errorf("S3_BUCKET is required when STORAGE_BACKEND=s3")
		}
	default:
		return fmt.Errorf("STORAGE_BACKEND must be fs or s3, got %q", c.StorageBackend)
	}

	switch c.RegistryBackend {
	case "memory":
	case "redis":
		if c.RedisURL == "" {
			return fmt.Errorf("REDIS_URL is required when REGISTRY_BACKEND=redis")
		}
	case "postgres":
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required when REGISTRY_BACKEND=postgres")
		}
	default:
		return fmt.Errorf("REGISTRY_BACKEND must be memory, redis or postgres, got %q", c.RegistryBackend)
	}

	switch c.CheckoutMode {
	case "mock":
		if c.AppEnv == "production" {
			return fmt.Errorf("CHECKOUT_MODE=mock is not allowed in production")
		}
	case "stripe":
		if c.StripeSecretKey == "" {
			return fmt.Errorf("STRIPE_SECRET_KEY is required when CHECKOUT_MODE=stripe")
		}
		if c.StripeWebhookSecret == "" {
			return fmt.Errorf("STRIPE_WEBHOOK_SECRET is required when CHECKOUT_MODE=stripe")
		}
	default:
		return fmt.Errorf("CHECKOUT_MODE must be stripe or mock, got %q", c.CheckoutMode)
	}

	if c.MaxUploadBytes <= 0 {
		return fmt.Errorf("MAX_UPLOAD_BYTES must be positive")
	}
	if c.GeminiTimeout <= 0 {
		return fmt.Errorf("GEMINI_TIMEOUT must be positive")
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if d, err := time.ParseDuration(v); err == nil && d >= 0 {
			return d
		}
	}
	return fallback
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
