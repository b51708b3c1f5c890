package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	AppEnv string
	Port   string

	RedisURL string

	PaymentProvider           string
	SquareAccessToken         string
	SquareLocationID          string
	SquareEnvironment         string
	SquareBaseURL             string
	SquareCurrency            string
	SquareWebhookSignatureKey string
	HelcimAPIToken            string

	DiscordWebhookURL string
	PublicBaseURL     string

	PendingTTL       time.Duration
	WebhookDedupeTTL time.Duration
	IdempotencyTTL   time.Duration

	RateLimitWindow time.Duration
	RateLimitMax    int

	NotifyTimeout   time.Duration
	ProviderTimeout time.Duration

	CORSAllowedOrigins []string
}

// Load reads configuration from environment variables and optional .env files.
// Every required variable that is missing produces an error naming it, so
// misconfiguration is caught at boot rather than mid-payment.
func Load() (*Config, error) {
	_ = godotenv.Load()

	k := koanf.New(".")
	if err := k.Load(env.Provider("", ".", func(s string) string { return s }), nil); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}

	cfg := &Config{
		AppEnv: valueOrDefault(k.String("APP_ENV"), "development"),
		Port:   valueOrDefault(k.String("PORT"), "8080"),

		RedisURL: k.String("REDIS_URL"),

		PaymentProvider:           valueOrDefault(k.String("PAYMENT_PROVIDER"), "square"),
		SquareAccessToken:         k.String("SQUARE_ACCESS_TOKEN"),
		SquareLocationID:          k.String("SQUARE_LOCATION_ID"),
		SquareEnvironment:         valueOrDefault(k.String("SQUARE_ENVIRONMENT"), "sandbox"),
		SquareBaseURL:             strings.TrimSpace(k.String("SQUARE_BASE_URL")),
		SquareCurrency:            valueOrDefault(k.String("SQUARE_CURRENCY"), "USD"),
		SquareWebhookSignatureKey: k.String("SQUARE_WEBHOOK_SIGNATURE_KEY"),
		HelcimAPIToken:            k.String("HELCIM_API_TOKEN"),

		DiscordWebhookURL: k.String("DISCORD_WEBHOOK_URL"),
		PublicBaseURL:     strings.TrimRight(strings.TrimSpace(k.String("PUBLIC_BASE_URL")), "/"),

		PendingTTL:       parseDuration(k.String("PENDING_TTL"), "24h"),
		WebhookDedupeTTL: parseDuration(k.String("WEBHOOK_DEDUPE_TTL"), "24h"),
		IdempotencyTTL:   parseDuration(k.String("IDEMPOTENCY_TTL"), "15m"),

		RateLimitWindow: parseDuration(k.String("RATE_LIMIT_WINDOW"), "1m"),
		RateLimitMax:    k.Int("RATE_LIMIT_MAX"),

		NotifyTimeout:   parseDuration(k.String("NOTIFY_TIMEOUT"), "10s"),
		ProviderTimeout: parseDuration(k.String("PROVIDER_TIMEOUT"), "15s"),

		CORSAllowedOrigins: splitAndTrim(k.String("CORS_ALLOWED_ORIGINS")),
	}

	if cfg.RateLimitMax <= 0 {
		cfg.RateLimitMax = 30
	}

	for _, required := range []struct {
		name  string
		value string
	}{
		{"REDIS_URL", cfg.RedisURL},
		{"SQUARE_ACCESS_TOKEN", cfg.SquareAccessToken},
		{"SQUARE_LOCATION_ID", cfg.SquareLocationID},
		{"DISCORD_WEBHOOK_URL", cfg.DiscordWebhookURL},
		{"PUBLIC_BASE_URL", cfg.PublicBaseURL},
	} {
		if strings.TrimSpace(required.value) == "" {
			return nil, fmt.Errorf("%s is required", required.name)
		}
	}

	return cfg, nil
}

// HTTPAddr returns the address the HTTP server should bind to.
func (c *Config) HTTPAddr() string {
	port := strings.TrimSpace(c.Port)
	if port == "" {
		port = "8080"
	}
	if strings.HasPrefix(port, ":") {
		return port
	}
	return ":" + port
}

// WebhookURL returns the externally visible URL of the payment webhook route.
// Square signs the destination URL together with the body, so this must match
// what the provider was configured with.
func (c *Config) WebhookURL() string {
	return c.PublicBaseURL + "/api/webhook"
}

func splitAndTrim(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

func valueOrDefault(value, fallback string) string {
	if strings.TrimSpace(value) != "" {
		return value
	}
	return fallback
}

func parseDuration(value, fallback string) time.Duration {
	base := strings.TrimSpace(value)
	if base == "" {
		base = fallback
	}
	d, err := time.ParseDuration(base)
	if err != nil {
		d, _ = time.ParseDuration(fallback)
	}
	return d
}

// MustLoad behaves like Load but panics on error. Useful for tests and command entrypoints.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// LoadForTests allows tests to override environment variables without touching the real environment.
func LoadForTests(env map[string]string) (*Config, error) {
	original := make(map[string]string, len(env))
	for key := range env {
		original[key] = os.Getenv(key)
		if err := setEnvVar(key, env[key]); err != nil {
			return nil, err
		}
	}
	cfg, err := Load()
	restoreErr := restoreEnv(original)
	if err != nil {
		return nil, err
	}
	return cfg, restoreErr
}

func setEnvVar(key, value string) error {
	if value == "" {
		return os.Unsetenv(key)
	}
	return os.Setenv(key, value)
}

func restoreEnv(values map[string]string) error {
	var errs []string
	for key, value := range values {
		if err := setEnvVar(key, value); err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", key, err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("restore env: %s", strings.Join(errs, "; "))
	}
	return nil
}
