package proxy

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/fasthttp/router"
	"github.com/google/uuid"
	"github.com/valyala/fasthttp"

	"github.com/nulpointcorp/llm-router/internal/auth"
	"github.com/nulpointcorp/llm-router/internal/providers"
	"github.com/nulpointcorp/llm-router/pkg/apierr"
)

const adminProbeTimeout = 10 * time.Second

func (g *Gateway) mountAdmin(r *router.Router) {
	adm := r.Group("/admin")
	adm.GET("/providers", g.requireAdmin(g.handleListProviders))
	adm.POST("/providers", g.requireAdmin(g.handleCreateProvider))
	adm.DELETE("/providers/{id}", g.requireAdmin(g.handleDeleteProvider))
	adm.POST("/providers/{id}/probe", g.requireAdmin(g.handleProbeProvider))
}

// requireAdmin rejects calls whose bearer token is not the admin key.
func (g *Gateway) requireAdmin(next fasthttp.RequestHandler) fasthttp.RequestHandler {
	want := []byte(g.adminKey)
	return func(ctx *fasthttp.RequestCtx) {
		got := auth.ParseBearerToken(string(ctx.Request.Header.Peek("Authorization")))
		if got == "" || subtle.ConstantTimeCompare([]byte(got), want) != 1 {
			if g.metrics != nil {
				g.metrics.RecordAuthDenial("admin")
			}
			apierr.WriteUnauthorized(ctx)
			return
		}
		next(ctx)
	}
}

func (g *Gateway) handleListProviders(ctx *fasthttp.RequestCtx) {
	all, err := g.registry.List(ctx)
	if err != nil {
		g.adminStoreError(ctx, "list", err)
		return
	}
	writeJSON(ctx, map[string]any{"data": providers.Sorted(all)})
}

func (g *Gateway) handleCreateProvider(ctx *fasthttp.RequestCtx) {
	var rec providers.Record
	if err := json.Unmarshal(ctx.PostBody(), &rec); err != nil {
		apierr.Write(ctx, fasthttp.StatusBadRequest, "invalid JSON body",
			apierr.TypeInvalidRequest, apierr.CodeInvalidRequest)
		return
	}
	rec.Type = strings.ToLower(strings.TrimSpace(rec.Type))
	rec.Model = strings.TrimSpace(rec.Model)
	if err := rec.Validate(); err != nil {
		apierr.Write(ctx, fasthttp.StatusBadRequest, err.Error(),
			apierr.TypeInvalidRequest, apierr.CodeInvalidRequest)
		return
	}
	if _, ok := g.translators[rec.Type]; !ok {
		apierr.Write(ctx, fasthttp.StatusBadRequest,
			fmt.Sprintf("provider type %q is not enabled on this router", rec.Type),
			apierr.TypeInvalidRequest, apierr.CodeInvalidRequest)
		return
	}

	rec.ID = uuid.New().String()
	rec.CreatedAt = time.Now().Unix()

	if err := g.registry.Store().Set(ctx, rec); err != nil {
		g.adminStoreError(ctx, "create", err)
		return
	}
	g.log.InfoContext(ctx, "provider_created",
		slog.String("provider_id", rec.ID),
		slog.String("type", rec.Type),
		slog.String("model", rec.Model),
	)

	ctx.SetStatusCode(fasthttp.StatusCreated)
	writeJSON(ctx, rec.Masked())
}

func (g *Gateway) handleDeleteProvider(ctx *fasthttp.RequestCtx) {
	id, _ := ctx.UserValue("id").(string)

	_, ok, err := g.registry.Store().Get(ctx, id)
	if err != nil {
		g.adminStoreError(ctx, "delete", err)
		return
	}
	if !ok {
		writeNotFound(ctx, id)
		return
	}
	if err := g.registry.Store().Delete(ctx, id); err != nil {
		g.adminStoreError(ctx, "delete", err)
		return
	}
	if g.health != nil {
		g.health.Forget(id)
	}
	g.log.InfoContext(ctx, "provider_deleted", slog.String("provider_id", id))

	ctx.SetStatusCode(fasthttp.StatusNoContent)
}

// handleProbeProvider runs the dialect health check against one record and
// reports the outcome. The result also feeds /health and the provider
// health gauge.
func (g *Gateway) handleProbeProvider(ctx *fasthttp.RequestCtx) {
	id, _ := ctx.UserValue("id").(string)

	rec, ok, err := g.registry.Store().Get(ctx, id)
	if err != nil {
		g.adminStoreError(ctx, "probe", err)
		return
	}
	if !ok {
		writeNotFound(ctx, id)
		return
	}
	tr, ok := g.translators[rec.Type]
	if !ok {
		apierr.Write(ctx, fasthttp.StatusInternalServerError,
			fmt.Sprintf("provider %q has an unsupported type", rec.ID),
			apierr.TypeServerError, apierr.CodeInternalError)
		return
	}

	probeCtx, cancel := context.WithTimeout(g.baseCtx, adminProbeTimeout)
	defer cancel()

	start := time.Now()
	perr := tr.HealthCheck(probeCtx, &rec)
	if g.health != nil {
		g.health.RecordProbe(rec.ID, perr)
	}

	result := map[string]any{
		"id":         rec.ID,
		"type":       rec.Type,
		"model":      rec.Model,
		"status":     "ok",
		"latency_ms": time.Since(start).Milliseconds(),
	}
	if perr != nil {
		g.log.WarnContext(ctx, "provider_probe_failed",
			slog.String("provider_id", rec.ID),
			slog.String("dialect", rec.Type),
			slog.String("error", perr.Error()),
		)
		result["status"] = "degraded"
		result["error"] = perr.Error()
	}
	writeJSON(ctx, result)
}

func (g *Gateway) adminStoreError(ctx *fasthttp.RequestCtx, op string, err error) {
	g.log.ErrorContext(ctx, "admin_store_error",
		slog.String("op", op),
		slog.String("error", err.Error()),
	)
	apierr.WriteStoreUnavailable(ctx)
}

func writeNotFound(ctx *fasthttp.RequestCtx, id string) {
	apierr.Write(ctx, fasthttp.StatusNotFound,
		fmt.Sprintf("provider %q not found", id),
		apierr.TypeInvalidRequest, apierr.CodeNotFound)
}
