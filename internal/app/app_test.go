package app

import (
	"context"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttputil"

	"github.com/nulpointcorp/llm-router/internal/config"
)

func testConfig() *config.Config {
	return &config.Config{
		Port:     8080,
		LogLevel: "info",
		Store: config.StoreConfig{
			Mode:         "memory",
			ProvidersKey: "models",
			TokensKey:    "tokens",
		},
		APITokens:       []string{"sk-caller"},
		Anthropic:       config.AnthropicConfig{Version: "2023-06-01", MaxTokens: 4096},
		Azure:           config.AzureConfig{APIVersion: "2023-05-15"},
		UpstreamTimeout: 5 * time.Second,
		CORSOrigins:     []string{"*"},
		AdminAPIKey:     "admin",
	}
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// serve runs h on an in-memory listener and returns a call helper bound to it.
func serve(t *testing.T, h fasthttp.RequestHandler) func(method, uri, token, body string) (int, string) {
	t.Helper()
	ln := fasthttputil.NewInmemoryListener()
	srv := &fasthttp.Server{Handler: h}
	go func() { _ = srv.Serve(ln) }()
	t.Cleanup(func() { _ = ln.Close() })

	client := &http.Client{Transport: &http.Transport{
		DialContext: func(context.Context, string, string) (net.Conn, error) { return ln.Dial() },
	}}

	return func(method, uri, token, body string) (int, string) {
		t.Helper()
		req, err := http.NewRequest(method, "http://router"+uri, strings.NewReader(body))
		if err != nil {
			t.Fatal(err)
		}
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		resp, err := client.Do(req)
		if err != nil {
			t.Fatal(err)
		}
		defer resp.Body.Close()
		data, _ := io.ReadAll(resp.Body)
		return resp.StatusCode, string(data)
	}
}

func TestNew_NilContext(t *testing.T) {
	//nolint:staticcheck // nil context on purpose
	if _, err := New(nil, testConfig(), quietLogger(), "test"); err == nil {
		t.Fatal("expected error for nil context")
	}
}

func TestApp_MemoryStoreEndToEnd(t *testing.T) {
	up := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"id":"chatcmpl-1"}`)
	}))
	defer up.Close()

	a, err := New(context.Background(), testConfig(), quietLogger(), "test")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer a.Close()
	call := serve(t, a.Handler())

	status, body := call("POST", "/admin/providers", "admin",
		`{"type":"openai","model":"gpt-4","apiKey":"sk-upstream-key","endpoint":"`+up.URL+`"}`)
	if status != http.StatusCreated {
		t.Fatalf("create provider: %d %s", status, body)
	}

	status, body = call("POST", "/v1/chat/completions", "sk-caller",
		`{"model":"gpt-4","messages":[{"role":"user","content":"hi"}]}`)
	if status != http.StatusOK {
		t.Fatalf("chat: %d %s", status, body)
	}
	if body != `{"id":"chatcmpl-1"}` {
		t.Errorf("body = %s", body)
	}

	_, body = call("GET", "/metrics", "", "")
	if !strings.Contains(body, `router_build_info{version="test"} 1`) {
		t.Error("build info metric missing")
	}
}

func TestApp_RedisStore(t *testing.T) {
	mr := miniredis.RunT(t)
	mr.HSet("models", "p1", `{"type":"openai","model":"gpt-4","apiKey":"sk-1234567890"}`)

	cfg := testConfig()
	cfg.Store.Mode = "redis"
	cfg.Redis.URL = "redis://" + mr.Addr()
	cfg.RateLimit.RPMLimit = 100

	a, err := New(context.Background(), cfg, quietLogger(), "test")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer a.Close()

	if !mr.Exists("tokens") || mr.HGet("tokens", "sk-caller") == "" {
		t.Error("API_TOKENS not seeded into redis")
	}

	call := serve(t, a.Handler())

	status, body := call("GET", "/v1/models", "sk-caller", "")
	if status != http.StatusOK {
		t.Fatalf("models: %d %s", status, body)
	}
	if !strings.Contains(body, `"id":"gpt-4"`) {
		t.Errorf("models body = %s", body)
	}

	if status, _ := call("GET", "/readiness", "", ""); status != http.StatusOK {
		t.Errorf("readiness = %d", status)
	}
}

func TestApp_RedisUnreachable(t *testing.T) {
	cfg := testConfig()
	cfg.Store.Mode = "redis"
	cfg.Redis.URL = "redis://127.0.0.1:1"

	if _, err := New(context.Background(), cfg, quietLogger(), "test"); err == nil {
		t.Fatal("expected startup error for unreachable redis")
	}
}

func TestRedactURL(t *testing.T) {
	cases := map[string]string{
		"redis://:secret@localhost:6379": "redis://***@localhost:6379",
		"redis://user:pw@host:6379/0":    "redis://***@host:6379/0",
		"redis://localhost:6379":         "redis://localhost:6379",
	}
	for in, want := range cases {
		if got := redactURL(in); got != want {
			t.Errorf("redactURL(%q) = %q, want %q", in, got, want)
		}
	}
}
