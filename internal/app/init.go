package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/nulpointcorp/llm-router/internal/auth"
	"github.com/nulpointcorp/llm-router/internal/logger"
	"github.com/nulpointcorp/llm-router/internal/metrics"
	"github.com/nulpointcorp/llm-router/internal/providers"
	"github.com/nulpointcorp/llm-router/internal/proxy"
	"github.com/nulpointcorp/llm-router/internal/ratelimit"
	"github.com/nulpointcorp/llm-router/internal/store"
)

// initInfra establishes optional external connections.
// Redis is only required when STORE_MODE=redis.
func (a *App) initInfra(ctx context.Context) error {
	if a.cfg.Store.Mode == "redis" {
		a.log.Info("connecting to redis", slog.String("url", redactURL(a.cfg.Redis.URL)))

		rdb, err := connectRedis(ctx, a.cfg.Redis.URL)
		if err != nil {
			return fmt.Errorf("redis: %w", err)
		}
		a.rdb = rdb
		a.log.Info("redis connected")
	}

	return nil
}

// initStore opens the provider and token collections and seeds API_TOKENS.
func (a *App) initStore(ctx context.Context) error {
	switch a.cfg.Store.Mode {
	case "redis":
		models := store.NewRedis(a.rdb, a.cfg.Store.ProvidersKey)
		a.models = models
		a.tokens = store.NewRedis(a.rdb, a.cfg.Store.TokensKey)
		a.pinger = models
		a.log.Info("store backend: redis",
			slog.String("providers_key", a.cfg.Store.ProvidersKey),
			slog.String("tokens_key", a.cfg.Store.TokensKey),
		)

	case "memory":
		// Zero external dependencies, not shared across replicas.
		a.models = store.NewMemory()
		a.tokens = store.NewMemory()
		a.log.Info("store backend: memory (in-process)")

	default:
		return fmt.Errorf("unknown store mode: %s", a.cfg.Store.Mode)
	}

	if len(a.cfg.APITokens) > 0 {
		if err := auth.Seed(ctx, a.tokens, a.cfg.APITokens); err != nil {
			return fmt.Errorf("seed tokens: %w", err)
		}
		a.log.Info("api tokens seeded", slog.Int("count", len(a.cfg.APITokens)))
	}

	return nil
}

// initServices creates the Prometheus metrics registry and the async request
// logger.
func (a *App) initServices(ctx context.Context) error {
	a.prom = metrics.New()
	a.prom.SetBuildInfo(a.version)

	reqLogger, err := logger.New(ctx, a.log)
	if err != nil {
		return fmt.Errorf("request logger: %w", err)
	}
	a.reqLogger = reqLogger

	return nil
}

// initTranslators builds the dialect translators.
func (a *App) initTranslators(_ context.Context) error {
	a.translators = buildTranslators(a.cfg, a.log, a.prom)

	dialects := make([]string, 0, len(a.translators))
	for _, t := range a.translators {
		dialects = append(dialects, t.Dialect())
	}
	a.log.Info("translators loaded", slog.Any("dialects", dialects))

	return nil
}

// initGateway wires together the Gateway with all configured subsystems.
func (a *App) initGateway(_ context.Context) error {
	registry := providers.NewRegistry(providers.NewStore(a.models), a.log)

	opts := proxy.GatewayOptions{
		Logger:      a.log,
		Metrics:     a.prom,
		StorePinger: a.pinger,
		AdminAPIKey: a.cfg.AdminAPIKey,
	}

	gw := proxy.NewGateway(a.baseCtx, auth.NewCollectionGate(a.tokens), registry, a.translators, opts)

	// ── Optional subsystems ──────────────────────────────────────────────────

	// Rate limiting, only when Redis is available.
	if a.rdb != nil && a.cfg.RateLimit.RPMLimit > 0 {
		gw.SetRateLimiters(ratelimit.NewRPMLimiter(a.rdb, a.cfg.RateLimit.RPMLimit))
		a.log.Info("rate limiting enabled", slog.Int("rpm_limit", a.cfg.RateLimit.RPMLimit))
	}

	gw.SetLogger(a.reqLogger)
	gw.SetCORSOrigins(a.cfg.CORSOrigins)

	// ── Management routes ────────────────────────────────────────────────────
	a.mgmt = &proxy.ManagementRoutes{
		Metrics: a.prom.Handler(),
	}

	a.gw = gw

	return nil
}

// redactURL replaces the userinfo portion of a URL with "***" for safe logging.
// e.g. "redis://:secret@localhost:6379" → "redis://***@localhost:6379"
func redactURL(raw string) string {
	for i, c := range raw {
		if c == '@' {
			// Find the scheme end ("://") and keep only scheme + "***" + @host.
			for j := i - 1; j >= 0; j-- {
				if j+2 < len(raw) && raw[j:j+3] == "://" {
					return raw[:j+3] + "***" + raw[i:]
				}
			}
			return "***" + raw[i:]
		}
	}
	return raw
}
