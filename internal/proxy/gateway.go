// Package proxy is the request router.
//
// The Gateway receives an OpenAI- or Azure-style request, checks the caller
// credential, resolves the provider record serving the requested model and
// hands the call to that record's dialect translator. The upstream answer is
// written back with its headers reduced to an allow-list; streams are flushed
// to the caller chunk by chunk.
//
// Key design constraints:
//   - No credential, no work: the gate runs before the body is parsed.
//   - Upstream HTTP errors are forwarded verbatim and never retried.
//   - Logger, metrics, and rate limiter are optional and nil-safe.
//   - Streams outlive the fasthttp handler, so upstream calls run on the
//     gateway's base context and are cancelled when the caller goes away.
package proxy

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/valyala/fasthttp"

	"github.com/nulpointcorp/llm-router/internal/auth"
	"github.com/nulpointcorp/llm-router/internal/logger"
	"github.com/nulpointcorp/llm-router/internal/metrics"
	"github.com/nulpointcorp/llm-router/internal/providers"
	"github.com/nulpointcorp/llm-router/internal/ratelimit"
	"github.com/nulpointcorp/llm-router/internal/store"
	"github.com/nulpointcorp/llm-router/pkg/apierr"
)

const streamBufferSize = 32 * 1024

// GatewayOptions holds optional tuning parameters for a Gateway. All fields
// have sensible defaults and can be omitted.
type GatewayOptions struct {
	// Logger is the structured logger used for request events.
	// Defaults to slog.Default() when nil.
	Logger *slog.Logger

	// Metrics enables Prometheus metrics collection. When nil, metrics are disabled.
	Metrics *metrics.Registry

	// StorePinger is probed by the health checker. When nil, /health and
	// /readiness report the store as ok.
	StorePinger store.Pinger

	// AdminAPIKey enables the /admin routes. Empty disables them.
	AdminAPIKey string
}

// Gateway is the main proxy. All dependencies are injected via the constructor
// so they can be replaced with test doubles.
type Gateway struct {
	gate        auth.Gate
	registry    *providers.Registry
	translators map[string]providers.Translator
	health      *HealthChecker
	baseCtx     context.Context
	log         *slog.Logger
	metrics     *metrics.Registry

	// Optional dependencies, nil-safe when not configured.
	rpmLimiter *ratelimit.RPMLimiter
	reqLogger  *logger.Logger

	// CORS allowed origins. Empty slice means deny all; ["*"] means allow all.
	corsOrigins []string

	adminKey string
}

// SetCORSOrigins configures the allowed CORS origins for the gateway.
func (g *Gateway) SetCORSOrigins(origins []string) {
	g.corsOrigins = origins
}

// NewGateway creates a Gateway that checks callers against gate, resolves
// models through registry, and forwards through translators (one per dialect).
func NewGateway(
	baseCtx context.Context,
	gate auth.Gate,
	registry *providers.Registry,
	translators []providers.Translator,
	opts GatewayOptions,
) *Gateway {
	if baseCtx == nil {
		panic("gateway: context must not be nil")
	}

	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}

	byDialect := make(map[string]providers.Translator, len(translators))
	for _, t := range translators {
		byDialect[t.Dialect()] = t
	}

	return &Gateway{
		gate:        gate,
		registry:    registry,
		translators: byDialect,
		health:      NewHealthChecker(baseCtx, opts.StorePinger, opts.Metrics),
		baseCtx:     baseCtx,
		log:         log,
		metrics:     opts.Metrics,
		adminKey:    opts.AdminAPIKey,
	}
}

// SetRateLimiters injects the RPM rate limiter.
func (g *Gateway) SetRateLimiters(rpm *ratelimit.RPMLimiter) {
	g.rpmLimiter = rpm
}

// SetLogger injects the async request logger.
func (g *Gateway) SetLogger(l *logger.Logger) {
	g.reqLogger = l
}

// Close stops background work owned by the gateway.
func (g *Gateway) Close() {
	if g.health != nil {
		g.health.Close()
	}
}

// callState accumulates what is known about one call for logging and metrics.
type callState struct {
	start      time.Time
	route      string
	reqID      string
	reqBytes   int
	model      string
	providerID string
	dialect    string
	stream     bool
}

// dispatch is the core handler shared by every proxied route.
func (g *Gateway) dispatch(ctx *fasthttp.RequestCtx, op providers.Operation) {
	st := &callState{
		start:    time.Now(),
		route:    op.String(),
		reqBytes: len(ctx.PostBody()),
		dialect:  "none",
	}
	st.reqID, _ = ctx.UserValue("request_id").(string)

	streaming := false
	if g.metrics != nil {
		g.metrics.IncInFlight()
	}
	defer func() {
		if streaming {
			return // finalised by the stream writer
		}
		status := ctx.Response.StatusCode()
		g.finish(st, status, int64(len(ctx.Response.Body())))
	}()

	// 1. Token gate. Nothing else runs for an unknown caller.
	cred, err := auth.ExtractCredential(ctx)
	if err != nil {
		g.deny(ctx, st, "missing_credential")
		return
	}
	allowed, err := g.gate.Validate(ctx, cred)
	if err != nil {
		g.log.ErrorContext(ctx, "token_gate_error",
			slog.String("request_id", st.reqID),
			slog.String("error", err.Error()),
		)
		apierr.WriteStoreUnavailable(ctx)
		return
	}
	if !allowed {
		g.deny(ctx, st, "unknown_credential")
		return
	}

	// 2. Rate limit check (RPM).
	if !g.allowRate(ctx, st) {
		return
	}

	// 3. Shape check and normalization.
	req, err := normalize(op, ctx.PostBody(), string(ctx.Path()))
	if err != nil {
		apierr.Write(ctx, fasthttp.StatusBadRequest, err.Error(),
			apierr.TypeInvalidRequest, apierr.CodeInvalidRequest)
		return
	}
	req.RequestID = st.reqID
	st.model = req.ModelID
	st.stream = req.Stream

	// 4. Resolve the provider record.
	rec, err := g.registry.Resolve(ctx, req.ModelID)
	if err != nil {
		if errors.Is(err, providers.ErrModelUnsupported) {
			if g.metrics != nil {
				g.metrics.RecordModelUnsupported()
			}
			g.log.WarnContext(ctx, "model_unsupported",
				slog.String("request_id", st.reqID),
				slog.String("model", req.ModelID),
			)
			apierr.WriteModelUnsupported(ctx)
			return
		}
		g.log.ErrorContext(ctx, "registry_error",
			slog.String("request_id", st.reqID),
			slog.String("model", req.ModelID),
			slog.String("error", err.Error()),
		)
		apierr.WriteStoreUnavailable(ctx)
		return
	}
	st.providerID = rec.ID

	// 5. Select the dialect.
	tr, ok := g.translators[rec.Type]
	if !ok {
		g.log.ErrorContext(ctx, "unknown_provider_type",
			slog.String("request_id", st.reqID),
			slog.String("provider_id", rec.ID),
			slog.String("type", rec.Type),
		)
		apierr.Write(ctx, fasthttp.StatusInternalServerError,
			fmt.Sprintf("provider %q has an unsupported type", rec.ID),
			apierr.TypeServerError, apierr.CodeInternalError)
		return
	}
	st.dialect = tr.Dialect()

	g.log.InfoContext(ctx, "request",
		slog.String("request_id", st.reqID),
		slog.String("model", req.ModelID),
		slog.String("provider_id", rec.ID),
		slog.String("dialect", st.dialect),
		slog.Bool("stream", req.Stream),
	)

	// 6. Forward. The fasthttp ctx dies with the handler; a stream does not.
	upCtx, cancel := context.WithCancel(g.baseCtx)

	upStart := time.Now()
	resp, err := tr.Forward(upCtx, req, rec)
	if err != nil {
		cancel()
		g.observeUpstream(st, classifyError(err), time.Since(upStart))
		if errors.Is(err, providers.ErrUnsupportedOperation) {
			apierr.Write(ctx, fasthttp.StatusBadRequest,
				fmt.Sprintf("operation %s is not supported by the %s provider", op, st.dialect),
				apierr.TypeInvalidRequest, apierr.CodeUnsupportedOp)
			return
		}
		g.log.ErrorContext(ctx, "upstream_error",
			slog.String("request_id", st.reqID),
			slog.String("provider_id", rec.ID),
			slog.String("dialect", st.dialect),
			slog.String("error", err.Error()),
			slog.Duration("elapsed", time.Since(st.start)),
		)
		handleUpstreamError(ctx, err)
		return
	}
	outcome := "success"
	if !resp.OK() {
		outcome = fmt.Sprintf("http_%d", resp.StatusCode)
	}
	g.observeUpstream(st, outcome, time.Since(upStart))

	// 7. Write the response back.
	headers := sanitizeHeaders(resp.Header)

	if isEventStream(headers) {
		streaming = true
		ctx.SetStatusCode(resp.StatusCode)
		applyHeaders(ctx, headers)
		g.writeStream(ctx, resp.Body, cancel, func(written int64, err error) {
			if err != nil {
				g.log.WarnContext(g.baseCtx, "stream_aborted",
					slog.String("request_id", st.reqID),
					slog.String("provider_id", st.providerID),
					slog.Int64("bytes", written),
					slog.String("error", err.Error()),
				)
			}
			g.finish(st, resp.StatusCode, written)
		})
		return
	}

	defer cancel()
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		g.log.ErrorContext(ctx, "upstream_read_error",
			slog.String("request_id", st.reqID),
			slog.String("provider_id", rec.ID),
			slog.String("error", err.Error()),
		)
		handleUpstreamError(ctx, &providers.UpstreamError{Dialect: st.dialect, Err: err})
		return
	}

	ctx.SetStatusCode(resp.StatusCode)
	applyHeaders(ctx, headers)
	ctx.SetBody(body)
}

func (g *Gateway) deny(ctx *fasthttp.RequestCtx, st *callState, reason string) {
	if g.metrics != nil {
		g.metrics.RecordAuthDenial(reason)
	}
	g.log.WarnContext(ctx, "auth_denied",
		slog.String("request_id", st.reqID),
		slog.String("reason", reason),
	)
	apierr.WriteUnauthorized(ctx)
}

// allowRate applies the optional global RPM limit and writes a 429 when the
// call is over budget.
func (g *Gateway) allowRate(ctx *fasthttp.RequestCtx, st *callState) bool {
	if g.rpmLimiter == nil {
		return true
	}
	allowed, err := g.rpmLimiter.Allow(ctx)
	if err != nil {
		g.log.WarnContext(ctx, "rate_limit_unavailable",
			slog.String("request_id", st.reqID),
			slog.String("error", err.Error()),
		)
	}
	if g.metrics != nil {
		switch {
		case err != nil:
			g.metrics.RecordRateLimit("error")
		case allowed:
			g.metrics.RecordRateLimit("allowed")
		default:
			g.metrics.RecordRateLimit("blocked")
		}
	}
	if !allowed {
		g.log.WarnContext(ctx, "rate_limit_exceeded",
			slog.String("request_id", st.reqID),
		)
		apierr.WriteRateLimit(ctx)
	}
	return allowed
}

func (g *Gateway) observeUpstream(st *callState, outcome string, dur time.Duration) {
	if g.metrics != nil {
		g.metrics.ObserveUpstreamAttempt(st.dialect, st.route, outcome, dur)
	}
}

// finish records metrics and the request log entry for a completed call.
func (g *Gateway) finish(st *callState, status int, respBytes int64) {
	dur := time.Since(st.start)
	if g.metrics != nil {
		g.metrics.DecInFlight()
		g.metrics.ObserveHTTP(st.route, status, dur, st.reqBytes, int(respBytes))
		g.metrics.RecordRequest(st.dialect, status)
	}
	g.logRequest(st, status, respBytes, dur)
}

// logRequest enqueues a RequestLog entry to the async logger. Never blocks.
func (g *Gateway) logRequest(st *callState, status int, respBytes int64, latency time.Duration) {
	if g.reqLogger == nil {
		return
	}
	g.reqLogger.Log(logger.RequestLog{
		RequestID:  st.reqID,
		ProviderID: st.providerID,
		Dialect:    st.dialect,
		Model:      st.model,
		Route:      st.route,
		Status:     status,
		Latency:    latency,
		Stream:     st.stream,
		Bytes:      respBytes,
		CreatedAt:  time.Now(),
	})
}

// writeStream copies body to the caller, flushing after every upstream read.
// A failed write means the caller is gone: the upstream body is closed and
// its context cancelled right away. done runs once the stream has ended.
func (g *Gateway) writeStream(
	ctx *fasthttp.RequestCtx,
	body io.ReadCloser,
	cancel context.CancelFunc,
	done func(written int64, err error),
) {
	ctx.SetBodyStreamWriter(func(w *bufio.Writer) {
		var (
			written int64
			err     error
		)
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("stream writer panic: %v", r)
			}
			cancel()
			_ = body.Close()
			done(written, err)
		}()

		buf := make([]byte, streamBufferSize)
		for {
			n, rerr := body.Read(buf)
			if n > 0 {
				if _, werr := w.Write(buf[:n]); werr != nil {
					err = fmt.Errorf("write to client: %w", werr)
					return
				}
				if ferr := w.Flush(); ferr != nil {
					err = fmt.Errorf("flush to client: %w", ferr)
					return
				}
				written += int64(n)
			}
			if rerr != nil {
				if !errors.Is(rerr, io.EOF) {
					err = fmt.Errorf("read from upstream: %w", rerr)
				}
				return
			}
		}
	})
}

// handleUpstreamError maps transport failures to the appropriate HTTP response.
//
//	context.DeadlineExceeded → 504 Gateway Timeout
//	all other errors         → 502 Bad Gateway
func handleUpstreamError(ctx *fasthttp.RequestCtx, err error) {
	if errors.Is(err, context.DeadlineExceeded) || isTimeout(err) {
		apierr.WriteTimeout(ctx)
		return
	}
	apierr.WriteProviderError(ctx, err.Error())
}

// classifyError returns the metrics outcome label for a Forward error.
func classifyError(err error) string {
	switch {
	case errors.Is(err, providers.ErrUnsupportedOperation):
		return "unsupported"
	case errors.Is(err, context.DeadlineExceeded) || isTimeout(err):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	}
	var ue *providers.UpstreamError
	if errors.As(err, &ue) {
		return "transport"
	}
	return "unknown"
}

func isTimeout(err error) bool {
	var te interface{ Timeout() bool }
	return errors.As(err, &te) && te.Timeout()
}
