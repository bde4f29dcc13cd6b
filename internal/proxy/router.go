package proxy

import (
	"encoding/json"
	"log/slog"
	"sort"
	"time"

	"github.com/fasthttp/router"
	"github.com/valyala/fasthttp"

	"github.com/nulpointcorp/llm-router/internal/auth"
	"github.com/nulpointcorp/llm-router/internal/providers"
	"github.com/nulpointcorp/llm-router/pkg/apierr"
)

// openAIMount is the prefix under which every inbound route is mounted a
// second time, for clients configured with an ".../openai" base URL.
const openAIMount = "/openai"

// anthropicOpenAIMount is a legacy alias of openAIMount kept for Azure-style
// clients whose base URL was configured under "/anthropic/openai".
const anthropicOpenAIMount = "/anthropic/openai"

// RouteHandler is a fasthttp handler function.
type RouteHandler = fasthttp.RequestHandler

// ManagementRoutes holds optional management API handler functions
// that are registered alongside the proxy routes.
type ManagementRoutes struct {
	Metrics RouteHandler
}

// Start starts the HTTP server on addr (e.g. ":8080").
// Pass nil for routes to start in proxy-only mode.
func (g *Gateway) Start(addr string) error {
	return g.StartWithRoutes(addr, nil)
}

// StartWithRoutes starts the HTTP server with optional management routes.
//
// WriteTimeout is left unset: a streamed completion may legitimately run
// for minutes, and the upstream header timeout already bounds a dead call.
func (g *Gateway) StartWithRoutes(addr string, mgmt *ManagementRoutes) error {
	srv := &fasthttp.Server{
		Handler:     g.Handler(mgmt),
		ReadTimeout: 60 * time.Second,
		IdleTimeout: 120 * time.Second,
	}
	return srv.ListenAndServe(addr)
}

// Handler builds the full route table wrapped in the middleware chain.
func (g *Gateway) Handler(mgmt *ManagementRoutes) fasthttp.RequestHandler {
	r := router.New()

	g.mountInbound(r)
	g.mountInbound(r.Group(openAIMount))
	g.mountInbound(r.Group(anthropicOpenAIMount))

	r.GET("/health", g.handleHealth)
	r.GET("/readiness", g.handleReadiness)

	if mgmt != nil && mgmt.Metrics != nil {
		r.GET("/metrics", mgmt.Metrics)
	}

	if g.adminKey != "" {
		g.mountAdmin(r)
	}

	return applyMiddleware(r.Handler,
		recovery,
		requestID,
		timing,
		corsHandler(g.corsOrigins),
		securityHeaders,
	)
}

// routeTable is satisfied by both *router.Router and *router.Group.
type routeTable interface {
	GET(path string, handler fasthttp.RequestHandler)
	POST(path string, handler fasthttp.RequestHandler)
}

func (g *Gateway) mountInbound(r routeTable) {
	r.POST("/v1/chat/completions", g.handleChatCompletions)
	r.POST("/v1/completions", g.handleCompletions)
	r.POST("/v1/embeddings", g.handleEmbeddings)
	r.GET("/v1/models", g.handleModels)

	r.POST("/deployments/{name}/chat/completions", g.handleChatCompletions)
	r.POST("/deployments/{name}/completions", g.handleCompletions)
	r.POST("/deployments/{name}/embeddings", g.handleEmbeddings)
}

func (g *Gateway) handleChatCompletions(ctx *fasthttp.RequestCtx) {
	g.dispatch(ctx, providers.OpChat)
}

func (g *Gateway) handleCompletions(ctx *fasthttp.RequestCtx) {
	g.dispatch(ctx, providers.OpCompletions)
}

func (g *Gateway) handleEmbeddings(ctx *fasthttp.RequestCtx) {
	g.dispatch(ctx, providers.OpEmbeddings)
}

type modelEntry struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	Created int64  `json:"created"`
	OwnedBy string `json:"owned_by"`
}

type modelList struct {
	Object string       `json:"object"`
	Data   []modelEntry `json:"data"`
}

// handleModels lists the model ids the registry can route, one entry per id.
// When several records serve a model the one Resolve would pick is shown.
func (g *Gateway) handleModels(ctx *fasthttp.RequestCtx) {
	reqID, _ := ctx.UserValue("request_id").(string)

	cred, err := auth.ExtractCredential(ctx)
	if err != nil {
		g.deny(ctx, &callState{reqID: reqID}, "missing_credential")
		return
	}
	allowed, err := g.gate.Validate(ctx, cred)
	if err != nil {
		g.log.ErrorContext(ctx, "token_gate_error",
			slog.String("request_id", reqID),
			slog.String("error", err.Error()),
		)
		apierr.WriteStoreUnavailable(ctx)
		return
	}
	if !allowed {
		g.deny(ctx, &callState{reqID: reqID}, "unknown_credential")
		return
	}

	all, err := g.registry.List(ctx)
	if err != nil {
		g.log.ErrorContext(ctx, "registry_error",
			slog.String("request_id", reqID),
			slog.String("error", err.Error()),
		)
		apierr.WriteStoreUnavailable(ctx)
		return
	}

	seen := make(map[string]bool, len(all))
	data := make([]modelEntry, 0, len(all))
	for _, rec := range providers.Sorted(all) {
		if seen[rec.Model] {
			continue
		}
		seen[rec.Model] = true
		data = append(data, modelEntry{
			ID:      rec.Model,
			Object:  "model",
			Created: rec.CreatedAt,
			OwnedBy: rec.Type,
		})
	}
	sort.Slice(data, func(i, j int) bool { return data[i].ID < data[j].ID })

	writeJSON(ctx, modelList{Object: "list", Data: data})
}

func (g *Gateway) handleHealth(ctx *fasthttp.RequestCtx) {
	if g.health == nil {
		writeJSON(ctx, map[string]any{"status": "ok", "version": "0.1.0"})
		return
	}
	snap := g.health.Snapshot()
	writeJSON(ctx, snap)
}

func (g *Gateway) handleReadiness(ctx *fasthttp.RequestCtx) {
	if g.health == nil || g.health.ReadinessOK() {
		writeJSON(ctx, map[string]string{"status": "ok"})
		return
	}
	ctx.SetStatusCode(fasthttp.StatusServiceUnavailable)
	writeJSON(ctx, map[string]string{"status": "unavailable"})
}

func writeJSON(ctx *fasthttp.RequestCtx, v any) {
	ctx.SetContentType("application/json")
	data, _ := json.Marshal(v)
	ctx.SetBody(data)
}
