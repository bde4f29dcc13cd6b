package proxy

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/nulpointcorp/llm-router/internal/providers"
)

const adminToken = "admin-secret"

func TestAdmin_RejectsWrongKey(t *testing.T) {
	f := newFixture(t)
	client, cleanup := serveGateway(t, f.gw)
	defer cleanup()

	for _, token := range []string{"", testToken, "admin-secreT"} {
		resp := doRequest(t, client, http.MethodGet, "/admin/providers", token, nil)
		readBody(t, resp)
		if resp.StatusCode != http.StatusUnauthorized {
			t.Errorf("token %q: expected 401, got %d", token, resp.StatusCode)
		}
	}
}

func TestAdmin_CreateListDelete(t *testing.T) {
	f := newFixture(t)
	client, cleanup := serveGateway(t, f.gw)
	defer cleanup()

	resp := doRequest(t, client, http.MethodPost, "/admin/providers", adminToken,
		[]byte(`{"type":"OpenAI","model":"gpt-4o","apiKey":"sk-abcdefghijklmnop"}`))
	body := readBody(t, resp)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create: expected 201, got %d (%s)", resp.StatusCode, body)
	}
	var created providers.Record
	if err := json.Unmarshal(body, &created); err != nil {
		t.Fatal(err)
	}
	if created.ID == "" || created.CreatedAt == 0 {
		t.Errorf("server did not assign id/createdAt: %+v", created)
	}
	if created.Type != "openai" {
		t.Errorf("type not normalised: %q", created.Type)
	}
	if created.APIKey != "sk-a****mnop" {
		t.Errorf("create response leaked key: %q", created.APIKey)
	}

	// The full key is stored and used for routing.
	stored, ok, err := f.gw.registry.Store().Get(context.Background(), created.ID)
	if err != nil || !ok {
		t.Fatalf("record not stored: ok=%v err=%v", ok, err)
	}
	if stored.APIKey != "sk-abcdefghijklmnop" {
		t.Errorf("stored key = %q", stored.APIKey)
	}

	resp = doRequest(t, client, http.MethodGet, "/admin/providers", adminToken, nil)
	body = readBody(t, resp)
	var list struct {
		Data []providers.Record `json:"data"`
	}
	if err := json.Unmarshal(body, &list); err != nil {
		t.Fatal(err)
	}
	if len(list.Data) != 1 || list.Data[0].APIKey != "sk-a****mnop" {
		t.Errorf("unexpected listing: %s", body)
	}

	resp = doRequest(t, client, http.MethodDelete, "/admin/providers/"+created.ID, adminToken, nil)
	readBody(t, resp)
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("delete: expected 204, got %d", resp.StatusCode)
	}
	if f.models.Len() != 0 {
		t.Errorf("record still present after delete")
	}

	resp = doRequest(t, client, http.MethodDelete, "/admin/providers/"+created.ID, adminToken, nil)
	readBody(t, resp)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("second delete: expected 404, got %d", resp.StatusCode)
	}
}

func TestAdmin_CreateValidates(t *testing.T) {
	f := newFixture(t)
	client, cleanup := serveGateway(t, f.gw)
	defer cleanup()

	cases := map[string]string{
		"bad json":       `{`,
		"no model":       `{"type":"openai","apiKey":"k"}`,
		"no key":         `{"type":"openai","model":"gpt-4"}`,
		"azure no route": `{"type":"azure","model":"gpt-4","apiKey":"k"}`,
		"unknown type":   `{"type":"gemini","model":"gpt-4","apiKey":"k"}`,
	}
	for name, body := range cases {
		resp := doRequest(t, client, http.MethodPost, "/admin/providers", adminToken, []byte(body))
		readBody(t, resp)
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("%s: expected 400, got %d", name, resp.StatusCode)
		}
	}
	if f.models.Len() != 0 {
		t.Errorf("invalid records were stored")
	}
}

func TestAdmin_ProbeRecordsHealth(t *testing.T) {
	up := newUpstream(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer sk-good" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = io.WriteString(w, `{"error":{"message":"bad key"}}`)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"object":"list","data":[]}`)
	})
	f := newFixture(t,
		providers.Record{ID: "good", Type: "openai", Model: "gpt-4", APIKey: "sk-good", Endpoint: up.URL},
		providers.Record{ID: "bad", Type: "openai", Model: "gpt-4o", APIKey: "sk-bad", Endpoint: up.URL},
	)
	client, cleanup := serveGateway(t, f.gw)
	defer cleanup()

	probe := func(id string) map[string]any {
		resp := doRequest(t, client, http.MethodPost, "/admin/providers/"+id+"/probe", adminToken, nil)
		body := readBody(t, resp)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("probe %s: expected 200, got %d (%s)", id, resp.StatusCode, body)
		}
		var m map[string]any
		if err := json.Unmarshal(body, &m); err != nil {
			t.Fatal(err)
		}
		return m
	}

	if got := probe("good"); got["status"] != "ok" {
		t.Errorf("good probe = %v", got)
	}
	got := probe("bad")
	if got["status"] != "degraded" {
		t.Errorf("bad probe = %v", got)
	}
	if msg, _ := got["error"].(string); strings.Contains(msg, "sk-bad") {
		t.Error("probe error leaked the key")
	}

	snap := f.gw.health.Snapshot()
	if snap.Providers["good"] != "ok" || snap.Providers["bad"] != "degraded" {
		t.Errorf("health snapshot = %+v", snap.Providers)
	}
	if !strings.Contains(scrapeMetrics(t, f.met), `router_provider_health{provider="bad"} 0`) {
		t.Error("provider health gauge not set")
	}

	resp := doRequest(t, client, http.MethodPost, "/admin/providers/missing/probe", adminToken, nil)
	readBody(t, resp)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("missing probe: expected 404, got %d", resp.StatusCode)
	}
}
