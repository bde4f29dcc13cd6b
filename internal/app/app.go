// Package app wires up all subsystems and owns the application lifecycle.
//
// Startup order:
//  1. initInfra: external connections (Redis when needed)
//  2. initStore: provider and token collections, token seeding
//  3. initServices: metrics registry, async request logger
//  4. initTranslators: one translator per dialect
//  5. initGateway: proxy and management routes
package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/valyala/fasthttp"
	"golang.org/x/sync/errgroup"

	"github.com/nulpointcorp/llm-router/internal/config"
	"github.com/nulpointcorp/llm-router/internal/logger"
	"github.com/nulpointcorp/llm-router/internal/metrics"
	"github.com/nulpointcorp/llm-router/internal/providers"
	anthropicprov "github.com/nulpointcorp/llm-router/internal/providers/anthropic"
	azureprov "github.com/nulpointcorp/llm-router/internal/providers/azure"
	openaiprov "github.com/nulpointcorp/llm-router/internal/providers/openai"
	"github.com/nulpointcorp/llm-router/internal/proxy"
	"github.com/nulpointcorp/llm-router/internal/store"
)

// App owns all long-lived resources and exposes Run / Close.
type App struct {
	version string
	cfg     *config.Config
	baseCtx context.Context
	log     *slog.Logger

	// Optional external connections, nil when not configured.
	rdb *redis.Client

	models store.Collection
	tokens store.Collection
	pinger store.Pinger

	reqLogger *logger.Logger
	prom      *metrics.Registry

	translators []providers.Translator
	mgmt        *proxy.ManagementRoutes
	gw          *proxy.Gateway
}

// New initialises all subsystems and returns a ready-to-run App.
// All resources allocated here are released by Close.
func New(ctx context.Context, cfg *config.Config, log *slog.Logger, version string) (*App, error) {
	if ctx == nil {
		return nil, fmt.Errorf("app: context must not be nil")
	}

	a := &App{cfg: cfg, version: version, baseCtx: ctx, log: log}

	steps := []struct {
		name string
		fn   func(context.Context) error
	}{
		{"infra", a.initInfra},
		{"store", a.initStore},
		{"services", a.initServices},
		{"translators", a.initTranslators},
		{"gateway", a.initGateway},
	}

	for _, s := range steps {
		if err := s.fn(ctx); err != nil {
			a.Close()
			return nil, fmt.Errorf("app: init %s: %w", s.name, err)
		}
	}

	return a, nil
}

// Handler returns the fully wired HTTP handler, for embedding and tests.
func (a *App) Handler() fasthttp.RequestHandler {
	return a.gw.Handler(a.mgmt)
}

// Run starts the HTTP server and blocks until ctx is cancelled or an error
// occurs. It closes the app gracefully when returning.
func (a *App) Run(ctx context.Context) error {
	addr := fmt.Sprintf(":%d", a.cfg.Port)

	a.log.Info("starting router",
		slog.String("version", a.version),
		slog.String("addr", addr),
		slog.String("store_mode", a.cfg.Store.Mode),
		slog.Int("dialects", len(a.translators)),
		slog.Bool("admin_api", a.cfg.AdminAPIKey != ""),
	)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return a.gw.StartWithRoutes(addr, a.mgmt)
	})

	g.Go(func() error {
		<-gctx.Done()
		a.Close()
		return nil
	})

	return g.Wait()
}

// Close releases all resources in reverse-init order. Safe to call multiple
// times.
func (a *App) Close() {
	if a.gw != nil {
		a.gw.Close()
	}
	if a.reqLogger != nil {
		if err := a.reqLogger.Close(); err != nil {
			a.log.Error("logger close error", slog.String("error", err.Error()))
		}
		a.reqLogger = nil
	}
	if a.rdb != nil {
		if err := a.rdb.Close(); err != nil {
			a.log.Error("redis close error", slog.String("error", err.Error()))
		}
		a.rdb = nil
	}
}

// ── Private helpers ──────────────────────────────────────────────────────────

// connectRedis parses the URL and verifies connectivity with a PING.
// Returns an error; callers decide whether to fatal or degrade.
func connectRedis(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse url: %w", err)
	}

	rdb := redis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}

	return rdb, nil
}

// buildTranslators creates one translator per supported dialect. All of them
// share one upstream HTTP client.
func buildTranslators(cfg *config.Config, log *slog.Logger, obs providers.StreamObserver) []providers.Translator {
	client := providers.NewHTTPClient(cfg.UpstreamTimeout)

	var openaiOpts []openaiprov.Option
	openaiOpts = append(openaiOpts, openaiprov.WithHTTPClient(client))
	if cfg.OpenAI.BaseURL != "" {
		openaiOpts = append(openaiOpts, openaiprov.WithBaseURL(cfg.OpenAI.BaseURL))
	}

	azureOpts := []azureprov.Option{
		azureprov.WithHTTPClient(client),
		azureprov.WithAPIVersion(cfg.Azure.APIVersion),
	}

	anthropicOpts := []anthropicprov.Option{
		anthropicprov.WithHTTPClient(client),
		anthropicprov.WithAPIKey(cfg.Anthropic.APIKey),
		anthropicprov.WithVersion(cfg.Anthropic.Version),
		anthropicprov.WithMaxTokens(cfg.Anthropic.MaxTokens),
		anthropicprov.WithLogger(log),
	}
	if cfg.Anthropic.BaseURL != "" {
		anthropicOpts = append(anthropicOpts, anthropicprov.WithBaseURL(cfg.Anthropic.BaseURL))
	}
	if obs != nil {
		anthropicOpts = append(anthropicOpts, anthropicprov.WithObserver(obs))
	}

	return []providers.Translator{
		openaiprov.New(openaiOpts...),
		azureprov.New(azureOpts...),
		anthropicprov.New(anthropicOpts...),
	}
}
