package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	validator "github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/extra/redisotel/v9"
	redis "github.com/redis/go-redis/v9"

	"github.com/tayster/payme-api/internal/common"
	"github.com/tayster/payme-api/internal/config"
	"github.com/tayster/payme-api/internal/confirm"
	"github.com/tayster/payme-api/internal/decision"
	"github.com/tayster/payme-api/internal/health"
	"github.com/tayster/payme-api/internal/notify"
	"github.com/tayster/payme-api/internal/obs"
	"github.com/tayster/payme-api/internal/pending"
	"github.com/tayster/payme-api/internal/provider"
	"github.com/tayster/payme-api/internal/ratelimit"
	"github.com/tayster/payme-api/internal/session"
	"github.com/tayster/payme-api/internal/views"
	"github.com/tayster/payme-api/internal/webhook"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logFormat := envOrDefault("OBS_LOG_FORMAT", "json")
	logLevel := envOrDefault("OBS_LOG_LEVEL", "info")
	logger := obs.NewLogger(logFormat, logLevel).With().Str("env", cfg.AppEnv).Logger()

	metricsNamespace := envOrDefault("OBS_METRICS_NAMESPACE", "payme")
	metricsEnabled := envBool("OBS_ENABLE_PROMETHEUS", true)
	obs.MustRegisterDomainMetrics(metricsNamespace, nil)

	tracingEnabled := envBool("OBS_ENABLE_TRACING", true)
	if tracingEnabled {
		sampling := envFloat("OBS_TRACING_SAMPLING_RATIO", 1.0)
		shutdown, err := obs.InitTracer(context.Background(), obs.TracingConfig{
			ServiceName:   "payme-api",
			Endpoint:      envOrDefault("OBS_OTLP_ENDPOINT", ""),
			Exporter:      envOrDefault("OBS_TRACING_EXPORTER", "otlp"),
			SamplingRatio: sampling,
			Environment:   cfg.AppEnv,
		})
		if err != nil {
			logger.Error().Err(err).Msg("initialise tracing")
			tracingEnabled = false
		} else {
			defer func() {
				ctx := context.Background()
				if err := shutdown(ctx); err != nil {
					logger.Error().Err(err).Msg("shutdown tracer")
				}
			}()
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("parse redis url")
	}
	redisClient := redis.NewClient(redisOpts)
	if err := redisotel.InstrumentTracing(redisClient); err != nil {
		logger.Error().Err(err).Msg("instrument redis tracing")
	}
	if metricsEnabled {
		if err := redisotel.InstrumentMetrics(redisClient); err != nil {
			logger.Error().Err(err).Msg("instrument redis metrics")
		}
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Error().Err(err).Msg("close redis")
		}
	}()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Fatal().Err(err).Msg("ping redis")
	}

	providerClient := provider.HTTPClient(cfg.ProviderTimeout)
	square := provider.Square{
		AccessToken:     cfg.SquareAccessToken,
		LocationID:      cfg.SquareLocationID,
		Currency:        cfg.SquareCurrency,
		BaseURL:         cfg.SquareBaseURL,
		Sandbox:         !strings.EqualFold(cfg.SquareEnvironment, "production"),
		SignatureKey:    cfg.SquareWebhookSignatureKey,
		NotificationURL: cfg.WebhookURL(),
		Client:          providerClient,
	}
	providers := map[string]provider.Provider{
		"square": square,
	}
	if strings.TrimSpace(cfg.HelcimAPIToken) != "" {
		providers["helcim"] = provider.Helcim{
			APIToken: cfg.HelcimAPIToken,
			Currency: cfg.SquareCurrency,
			Client:   providerClient,
		}
	}
	activeProvider, ok := providers[strings.ToLower(cfg.PaymentProvider)]
	if !ok {
		activeProvider = square
	}

	notifier := notify.Discord{
		WebhookURL: cfg.DiscordWebhookURL,
		Client:     notify.HTTPClient(cfg.NotifyTimeout),
	}

	repo := pending.Repo{
		R:         redisClient,
		TTL:       cfg.PendingTTL,
		DedupeTTL: cfg.WebhookDedupeTTL,
	}

	sessionSvc := &session.Service{
		Providers:       providers,
		DefaultProvider: strings.ToLower(cfg.PaymentProvider),
		RedirectURL:     cfg.PublicBaseURL + "/pay/success",
	}
	sessionHandler := &session.Handler{Svc: sessionSvc, Validate: validator.New()}

	confirmHandler := &confirm.Handler{
		Provider: activeProvider,
		Repo:     repo,
		Notifier: notifier,
		BaseURL:  cfg.PublicBaseURL,
		Logger:   logger,
	}
	decisionHandler := &decision.Handler{
		Provider: activeProvider,
		Repo:     repo,
		Notifier: notifier,
		Logger:   logger,
	}
	webhookHandler := &webhook.Handler{
		Provider: activeProvider,
		Repo:     repo,
		Notifier: notifier,
		Logger:   logger,
	}
	viewsHandler := views.Handler{R: redisClient}

	idem := common.Idem{R: redisClient, TTL: cfg.IdempotencyTTL}
	limiter := ratelimit.Handler{
		Limiter: ratelimit.Limiter{Client: redisClient, Prefix: "rl:"},
		Config: ratelimit.Config{
			Key:    func(r *http.Request) string { return common.ClientIP(r) },
			Window: cfg.RateLimitWindow,
			Max:    cfg.RateLimitMax,
		},
		OnError: func(err error) {
			logger.Error().Err(err).Msg("rate limit store error")
		},
	}

	var httpMetrics *obs.HTTPMetrics
	if metricsEnabled {
		buckets := obs.ParseBucketsCSV(envOrDefault("OBS_METRICS_BUCKETS_MS", ""))
		httpMetrics = obs.NewHTTPMetrics(metricsNamespace, buckets, nil)
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(obs.RoutePatternMiddleware)
	if tracingEnabled {
		r.Use(obs.TracingMiddleware)
	}
	if metricsEnabled && httpMetrics != nil {
		r.Use(obs.HTTPObs{Metrics: httpMetrics}.Middleware)
	}
	r.Use(obs.RequestLogger{Logger: logger}.Middleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: allowedOrigins(cfg),
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", "Idempotency-Key"},
		MaxAge:         300,
	}))

	if metricsEnabled {
		r.Handle("/metrics", promhttp.Handler())
	}

	healthHandler := health.Handler{
		Checker:      readinessChecker{redis: redisClient},
		RedisTimeout: envDurationMillis("HEALTH_READY_REDIS_TIMEOUT_MS", 300),
	}
	r.Get("/health/live", healthHandler.Live)
	r.Get("/health/ready", healthHandler.Ready)

	r.Route("/api", func(api chi.Router) {
		// Square retries webhook deliveries on any non-2xx, so the
		// provider-facing route stays outside the client rate limit.
		api.With(common.MaxBytes(1<<20)).Post("/webhook", webhookHandler.Handle)

		api.Group(func(public chi.Router) {
			public.Use(limiter.Middleware)
			public.With(idem.Middleware, common.MaxBytes(1<<20)).Post("/create-session", sessionHandler.Create)
			public.With(common.MaxBytes(10<<20)).Post("/confirm", confirmHandler.Confirm)
			public.Get("/decision", decisionHandler.Resolve)
			public.Get("/views", viewsHandler.Get)
			public.Post("/views", viewsHandler.Hit)
		})
	})

	srv := &http.Server{
		Addr:    cfg.HTTPAddr(),
		Handler: r,
	}

	logger.Info().Str("addr", srv.Addr).Msg("server starting")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal().Err(err).Msg("server exited unexpectedly")
	}
}

func allowedOrigins(cfg *config.Config) []string {
	if len(cfg.CORSAllowedOrigins) == 0 {
		return []string{"*"}
	}
	return cfg.CORSAllowedOrigins
}

type readinessChecker struct {
	redis *redis.Client
}

func (c readinessChecker) PingRedis(ctx context.Context, timeout time.Duration) error {
	if c.redis == nil {
		return errors.New("redis not configured")
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return c.redis.Ping(ctx).Err()
}

func envOrDefault(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok {
		trimmed := strings.TrimSpace(val)
		if trimmed != "" {
			return trimmed
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if val, ok := os.LookupEnv(key); ok {
		switch strings.ToLower(strings.TrimSpace(val)) {
		case "1", "t", "true", "yes", "on":
			return true
		case "0", "f", "false", "no", "off":
			return false
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if val, ok := os.LookupEnv(key); ok {
		if parsed, err := strconv.ParseFloat(strings.TrimSpace(val), 64); err == nil {
			return parsed
		}
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if val, ok := os.LookupEnv(key); ok {
		if parsed, err := strconv.Atoi(strings.TrimSpace(val)); err == nil {
			return parsed
		}
	}
	return fallback
}

func envDurationMillis(key string, fallback int) time.Duration {
	return time.Duration(envInt(key, fallback)) * time.Millisecond
}
