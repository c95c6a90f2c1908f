package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration.
type Config struct {
	Port     string
	Env      string
	LogLevel string

	DatabaseURL string

	RedisAddr     string
	RedisPassword string

	// Stripe checkout + webhook settlement
	StripeSecretKey     string
	StripeWebhookSecret string
	StripeDryRun        bool
	CheckoutSuccessURL  string
	CheckoutCancelURL   string
	Currency            string

	// Actor auth (tokens are issued by the external auth provider)
	JWTSecret string

	// Expiry sweep for abandoned, unpaid bookings
	SweepInterval     time.Duration
	UnpaidGracePeriod time.Duration
	ShutdownTimeout   time.Duration

	// Checkout-session velocity guard
	MaxCheckoutsPerPatient int
	CheckoutWindow         time.Duration

	// SendGrid confirmation email
	SendGridAPIKey    string
	SendGridFromEmail string
	SendGridFromName  string

	// HTTP edge
	CORSAllowedOrigins []string
	RateLimitPerSecond float64
	RateLimitBurst     int
}

// Load reads configuration from environment variables. A .env file is
// honored in development.
func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		Port:     getEnv("PORT", "8080"),
		Env:      getEnv("ENV", "development"),
		LogLevel: getEnv("LOG_LEVEL", "info"),

		DatabaseURL: getEnv("DATABASE_URL", ""),

		RedisAddr:     getEnv("REDIS_ADDR", "127.0.0.1:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),

		StripeSecretKey:     getEnv("STRIPE_SECRET_KEY", ""),
		StripeWebhookSecret: getEnv("STRIPE_WEBHOOK_SECRET", ""),
		StripeDryRun:        getEnvAsBool("STRIPE_DRY_RUN", false),
		CheckoutSuccessURL:  getEnv("CHECKOUT_SUCCESS_URL", ""),
		CheckoutCancelURL:   getEnv("CHECKOUT_CANCEL_URL", ""),
		Currency:            getEnv("CHECKOUT_CURRENCY", "usd"),

		JWTSecret: getEnv("JWT_SECRET", ""),

		SweepInterval:     getEnvAsDuration("SWEEP_INTERVAL", time.Minute),
		UnpaidGracePeriod: getEnvAsDuration("UNPAID_GRACE_PERIOD", 30*time.Minute),
		ShutdownTimeout:   getEnvAsDuration("SHUTDOWN_TIMEOUT", 30*time.Second),

		MaxCheckoutsPerPatient: getEnvAsInt("MAX_CHECKOUTS_PER_PATIENT", 5),
		CheckoutWindow:         getEnvAsDuration("CHECKOUT_WINDOW", time.Hour),

		SendGridAPIKey:    getEnv("SENDGRID_API_KEY", ""),
		SendGridFromEmail: getEnv("SENDGRID_FROM_EMAIL", ""),
		SendGridFromName:  getEnv("SENDGRID_FROM_NAME", "Telecare"),

		CORSAllowedOrigins: splitCSV(getEnv("CORS_ALLOWED_ORIGINS", "")),
		RateLimitPerSecond: getEnvAsFloat("RATE_LIMIT_PER_SECOND", 0),
		RateLimitBurst:     getEnvAsInt("RATE_LIMIT_BURST", 20),
	}
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvAsFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getEnvAsBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
