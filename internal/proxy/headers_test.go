package proxy

import (
	"net/http"
	"testing"

	"github.com/valyala/fasthttp"
)

func TestSanitizeHeaders_EventStream(t *testing.T) {
	in := http.Header{}
	in.Set("Content-Type", "text/event-stream; charset=utf-8")
	in.Set("Cache-Control", "no-cache")
	in.Set("X-Upstream-Trace", "abc")
	in.Set("Set-Cookie", "session=1")
	in.Set("Content-Length", "123")

	out := sanitizeHeaders(in)

	if len(out) != 3 {
		t.Errorf("expected 3 headers, got %v", out)
	}
	if out.Get("Content-Encoding") != "none" {
		t.Errorf("Content-Encoding = %q, want none", out.Get("Content-Encoding"))
	}
	if out.Get("X-Upstream-Trace") != "" || out.Get("Set-Cookie") != "" {
		t.Error("non allow-listed header kept")
	}
}

func TestSanitizeHeaders_JSONKeepsEncoding(t *testing.T) {
	in := http.Header{}
	in.Set("Content-Type", "application/json")
	in.Set("Content-Encoding", "gzip")

	out := sanitizeHeaders(in)
	if out.Get("Content-Encoding") != "gzip" {
		t.Errorf("Content-Encoding = %q", out.Get("Content-Encoding"))
	}
	if isEventStream(out) {
		t.Error("json response reported as event stream")
	}
}

func TestSanitizeHeaders_Empty(t *testing.T) {
	if out := sanitizeHeaders(http.Header{}); len(out) != 0 {
		t.Errorf("expected no headers, got %v", out)
	}
}

func TestApplyHeaders(t *testing.T) {
	ctx := &fasthttp.RequestCtx{}
	h := http.Header{}
	h.Add("Cache-Control", "no-cache")
	h.Add("Cache-Control", "no-store")
	h.Set("Content-Type", "application/json")

	applyHeaders(ctx, h)

	if string(ctx.Response.Header.ContentType()) != "application/json" {
		t.Errorf("Content-Type = %q", ctx.Response.Header.ContentType())
	}
	n := 0
	ctx.Response.Header.VisitAll(func(k, _ []byte) {
		if string(k) == "Cache-Control" {
			n++
		}
	})
	if n != 2 {
		t.Errorf("expected 2 Cache-Control values, got %d", n)
	}
}
