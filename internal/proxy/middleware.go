package proxy

import (
	"log/slog"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/valyala/fasthttp"

	"github.com/nulpointcorp/llm-router/internal/providers"
	"github.com/nulpointcorp/llm-router/pkg/apierr"
)

// middleware wraps a handler. See applyMiddleware for ordering.
type middleware func(fasthttp.RequestHandler) fasthttp.RequestHandler

// maxRequestIDLen bounds a caller-supplied X-Request-ID. The id is logged and
// forwarded upstream, so anything longer or non-printable is replaced.
const maxRequestIDLen = 128

// Methods served by the route table: inbound and health routes use GET and
// POST, the admin API adds DELETE.
const corsAllowMethods = "GET, POST, DELETE, OPTIONS"

// corsAllowHeaders covers both credential styles (Bearer and Azure api-key).
const corsAllowHeaders = "Authorization, Api-Key, Content-Type, X-Request-ID"

// recovery turns a handler panic into the standard 500 error envelope.
func recovery(next fasthttp.RequestHandler) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		defer func() {
			if r := recover(); r != nil {
				reqID, _ := ctx.UserValue("request_id").(string)
				slog.Error("handler_panic",
					slog.Any("panic", r),
					slog.String("request_id", reqID),
					slog.String("path", string(ctx.Path())),
					slog.String("method", string(ctx.Method())),
				)
				ctx.ResetBody()
				apierr.Write(ctx, fasthttp.StatusInternalServerError, "internal server error",
					apierr.TypeServerError, apierr.CodeInternalError)
			}
		}()
		next(ctx)
	}
}

// requestID assigns the id that ties together the router log, the request
// log entry and the upstream call (translators send it as X-Request-ID).
// A usable caller-supplied id is kept; otherwise a UUID v4 is generated.
func requestID(next fasthttp.RequestHandler) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		id := string(ctx.Request.Header.Peek(providers.RequestIDHeader))
		if !validRequestID(id) {
			id = uuid.New().String()
		}
		ctx.Response.Header.Set(providers.RequestIDHeader, id)
		ctx.SetUserValue("request_id", id)
		next(ctx)
	}
}

func validRequestID(id string) bool {
	if id == "" || len(id) > maxRequestIDLen {
		return false
	}
	for i := 0; i < len(id); i++ {
		if id[i] < 0x21 || id[i] > 0x7e {
			return false
		}
	}
	return true
}

// timing sets X-Response-Time to the handler duration. Streamed responses
// are skipped: their body is written after the handler returns, so the value
// would only measure time to first byte.
func timing(next fasthttp.RequestHandler) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		start := time.Now()
		next(ctx)
		if ctx.Response.IsBodyStream() {
			return
		}
		ctx.Response.Header.Set("X-Response-Time", time.Since(start).String())
	}
}

// securityHeaders hardens every response. The router serves JSON and event
// streams only, so the policies deny all document features.
func securityHeaders(next fasthttp.RequestHandler) fasthttp.RequestHandler {
	headers := [][2]string{
		{"Strict-Transport-Security", "max-age=31536000; includeSubDomains"},
		{"X-Content-Type-Options", "nosniff"},
		{"X-Frame-Options", "DENY"},
		{"X-XSS-Protection", "0"},
		{"Content-Security-Policy", "default-src 'none'"},
		{"Referrer-Policy", "no-referrer"},
		{"Permissions-Policy", "geolocation=(), camera=(), microphone=()"},
	}
	return func(ctx *fasthttp.RequestCtx) {
		next(ctx)
		for _, h := range headers {
			ctx.Response.Header.Set(h[0], h[1])
		}
	}
}

// corsHandler answers browser callers.
//
// With no origins or ["*"] any origin is allowed. Otherwise the request
// Origin is echoed back only when it is on the list, since the header
// carries exactly one origin. Preflight requests get 204 and never reach
// the credential check.
func corsHandler(origins []string) middleware {
	wildcard := len(origins) == 0 || slices.Contains(origins, "*")
	return func(next fasthttp.RequestHandler) fasthttp.RequestHandler {
		return func(ctx *fasthttp.RequestCtx) {
			h := &ctx.Response.Header
			if wildcard {
				h.Set("Access-Control-Allow-Origin", "*")
			} else {
				h.Add("Vary", "Origin")
				if o := string(ctx.Request.Header.Peek("Origin")); o != "" && slices.Contains(origins, o) {
					h.Set("Access-Control-Allow-Origin", o)
				}
			}
			h.Set("Access-Control-Allow-Methods", corsAllowMethods)
			h.Set("Access-Control-Allow-Headers", corsAllowHeaders)
			h.Set("Access-Control-Expose-Headers", providers.RequestIDHeader)

			if ctx.IsOptions() {
				ctx.SetStatusCode(fasthttp.StatusNoContent)
				return
			}
			next(ctx)
		}
	}
}

// applyMiddleware wraps h so that the first middleware is the outermost:
//
//	applyMiddleware(h, mw1, mw2) → mw1(mw2(h))
func applyMiddleware(h fasthttp.RequestHandler, mws ...middleware) fasthttp.RequestHandler {
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}
