package proxy

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"strings"
	"testing"

	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttputil"

	"github.com/nulpointcorp/llm-router/internal/providers"
)

// --- handleHealth -----------------------------------------------------------

func TestHandleHealth_NoHealthChecker(t *testing.T) {
	f := newFixture(t)
	f.gw.health.Close()
	f.gw.health = nil
	client, cleanup := serveGateway(t, f.gw)
	defer cleanup()

	resp := doRequest(t, client, http.MethodGet, "/health", "", nil)
	body := readBody(t, resp)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var result map[string]any
	if err := json.Unmarshal(body, &result); err != nil {
		t.Fatalf("failed to parse: %v", err)
	}
	if result["status"] != "ok" {
		t.Errorf("expected status=ok, got %v", result["status"])
	}
}

func TestHandleHealth_Snapshot(t *testing.T) {
	f := newFixture(t)
	f.gw.health.RecordProbe("p1", nil)
	client, cleanup := serveGateway(t, f.gw)
	defer cleanup()

	resp := doRequest(t, client, http.MethodGet, "/health", "", nil)
	body := readBody(t, resp)

	var snap HealthSnapshot
	if err := json.Unmarshal(body, &snap); err != nil {
		t.Fatalf("failed to parse: %v", err)
	}
	if snap.Store != "ok" || snap.Providers["p1"] != "ok" {
		t.Errorf("unexpected snapshot: %+v", snap)
	}
}

// --- handleReadiness --------------------------------------------------------

func TestHandleReadiness_Healthy(t *testing.T) {
	f := newFixture(t)
	client, cleanup := serveGateway(t, f.gw)
	defer cleanup()

	resp := doRequest(t, client, http.MethodGet, "/readiness", "", nil)
	readBody(t, resp)
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected 200, got %d", resp.StatusCode)
	}
}

func TestHandleReadiness_StoreDown(t *testing.T) {
	f := newFixture(t)
	f.gw.health.storeStatus.set("down")
	client, cleanup := serveGateway(t, f.gw)
	defer cleanup()

	resp := doRequest(t, client, http.MethodGet, "/readiness", "", nil)
	readBody(t, resp)
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", resp.StatusCode)
	}
}

// --- route table ------------------------------------------------------------

func TestRouter_OpenAIMountServesSameRoutes(t *testing.T) {
	f := newFixture(t)
	client, cleanup := serveGateway(t, f.gw)
	defer cleanup()

	for _, path := range []string{
		"/v1/chat/completions",
		"/openai/v1/chat/completions",
		"/v1/completions",
		"/openai/v1/embeddings",
		"/deployments/gpt-4/chat/completions",
		"/openai/deployments/gpt-4/completions",
		"/anthropic/openai/deployments/gpt-4/chat/completions",
		"/anthropic/openai/v1/chat/completions",
	} {
		// No credential: a mounted route answers 401, an unknown one 404.
		resp := doRequest(t, client, http.MethodPost, path, "", []byte(`{}`))
		readBody(t, resp)
		if resp.StatusCode != http.StatusUnauthorized {
			t.Errorf("%s: expected 401, got %d", path, resp.StatusCode)
		}
	}

	resp := doRequest(t, client, http.MethodPost, "/v2/chat/completions", testToken, []byte(`{}`))
	readBody(t, resp)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("unknown route: expected 404, got %d", resp.StatusCode)
	}
}

func TestRouter_AnthropicOpenAIAliasDispatches(t *testing.T) {
	var gotModel string
	up := newUpstream(t, func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Model string `json:"model"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		gotModel = body.Model
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"chatcmpl-alias"}`))
	})
	f := newFixture(t, providers.Record{ID: "p1", Type: "openai", Model: "gpt-4", APIKey: "sk-up", Endpoint: up.URL})
	client, cleanup := serveGateway(t, f.gw)
	defer cleanup()

	resp := doPost(t, client, "/anthropic/openai/deployments/gpt-4/chat/completions",
		[]byte(`{"messages":[{"role":"user","content":"hi"}]}`))
	body := readBody(t, resp)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d (%s)", resp.StatusCode, body)
	}
	if gotModel != "gpt-4" {
		t.Errorf("deployment segment not used as model: upstream saw %q", gotModel)
	}
}

func TestRouter_MetricsRoute(t *testing.T) {
	f := newFixture(t)
	ln := fasthttputil.NewInmemoryListener()
	srv := &fasthttp.Server{Handler: f.gw.Handler(&ManagementRoutes{Metrics: f.met.Handler()})}
	go func() { _ = srv.Serve(ln) }()
	defer ln.Close()

	client := &http.Client{Transport: &http.Transport{
		DialContext: func(context.Context, string, string) (net.Conn, error) { return ln.Dial() },
	}}
	resp := doRequest(t, client, http.MethodGet, "/metrics", "", nil)
	body := readBody(t, resp)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if !strings.Contains(string(body), "router_inflight_requests") {
		t.Error("metrics body missing router metrics")
	}
}

func TestRouter_AdminRoutesDisabledWithoutKey(t *testing.T) {
	f := newFixture(t)
	f.gw.adminKey = ""
	client, cleanup := serveGateway(t, f.gw)
	defer cleanup()

	resp := doRequest(t, client, http.MethodGet, "/admin/providers", "", nil)
	readBody(t, resp)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404, got %d", resp.StatusCode)
	}
}

// --- handleModels -----------------------------------------------------------

func TestHandleModels_DedupedAndSorted(t *testing.T) {
	f := newFixture(t,
		providers.Record{ID: "b", Type: "anthropic", Model: "gpt-4", APIKey: "k1", CreatedAt: 20},
		providers.Record{ID: "a", Type: "openai", Model: "gpt-4", APIKey: "k2", CreatedAt: 10},
		providers.Record{ID: "c", Type: "azure", Model: "ada", APIKey: "k3", CreatedAt: 30},
	)
	client, cleanup := serveGateway(t, f.gw)
	defer cleanup()

	resp := doRequest(t, client, http.MethodGet, "/openai/v1/models", testToken, nil)
	body := readBody(t, resp)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d (%s)", resp.StatusCode, body)
	}

	var list modelList
	if err := json.Unmarshal(body, &list); err != nil {
		t.Fatalf("failed to parse: %v", err)
	}
	if list.Object != "list" || len(list.Data) != 2 {
		t.Fatalf("unexpected list: %s", body)
	}
	if list.Data[0].ID != "ada" || list.Data[1].ID != "gpt-4" {
		t.Errorf("not sorted: %+v", list.Data)
	}
	// The oldest record wins, the same one Resolve would pick.
	if list.Data[1].OwnedBy != "openai" || list.Data[1].Created != 10 {
		t.Errorf("gpt-4 entry = %+v", list.Data[1])
	}
}

func TestHandleModels_RequiresCredential(t *testing.T) {
	f := newFixture(t, providers.Record{ID: "a", Type: "openai", Model: "gpt-4", APIKey: "k"})
	client, cleanup := serveGateway(t, f.gw)
	defer cleanup()

	resp := doRequest(t, client, http.MethodGet, "/v1/models", "", nil)
	readBody(t, resp)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", resp.StatusCode)
	}
}

// --- writeJSON --------------------------------------------------------------

func TestWriteJSON(t *testing.T) {
	ctx := &fasthttp.RequestCtx{}
	writeJSON(ctx, map[string]string{"key": "value"})

	if string(ctx.Response.Header.ContentType()) != "application/json" {
		t.Errorf("expected application/json, got %s", string(ctx.Response.Header.ContentType()))
	}

	var resp map[string]string
	if err := json.Unmarshal(ctx.Response.Body(), &resp); err != nil {
		t.Fatalf("failed to parse JSON: %v", err)
	}
	if resp["key"] != "value" {
		t.Errorf("expected key=value, got %v", resp["key"])
	}
}
