package proxy

import (
	"net/http"
	"strings"

	"github.com/valyala/fasthttp"
)

// passThroughHeaders are the only upstream response headers a caller sees.
var passThroughHeaders = []string{
	"Cache-Control",
	"Content-Type",
	"Content-Encoding",
}

// sanitizeHeaders keeps the allow-listed headers of an upstream response.
// Event streams get "Content-Encoding: none" so no intermediary compresses
// (and therefore buffers) them.
func sanitizeHeaders(in http.Header) http.Header {
	out := make(http.Header, len(passThroughHeaders))
	for _, k := range passThroughHeaders {
		if v := in.Values(k); len(v) > 0 {
			out[k] = append([]string(nil), v...)
		}
	}
	if isEventStream(out) {
		out.Set("Content-Encoding", "none")
	}
	return out
}

func isEventStream(h http.Header) bool {
	return strings.Contains(h.Get("Content-Type"), "event-stream")
}

// applyHeaders copies h onto the fasthttp response.
func applyHeaders(ctx *fasthttp.RequestCtx, h http.Header) {
	for k, vs := range h {
		for i, v := range vs {
			if i == 0 {
				ctx.Response.Header.Set(k, v)
				continue
			}
			ctx.Response.Header.Add(k, v)
		}
	}
}
