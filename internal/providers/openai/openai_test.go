package openai

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/nulpointcorp/llm-router/internal/providers"
)

func record(srv *httptest.Server) *providers.Record {
	return &providers.Record{ID: "r1", Type: "openai", Model: "gpt-4o", APIKey: "sk-record", Endpoint: srv.URL}
}

func TestTranslator_Dialect(t *testing.T) {
	if got := New().Dialect(); got != "openai" {
		t.Fatalf("expected 'openai', got %q", got)
	}
}

func TestTranslator_Forward_Passthrough(t *testing.T) {
	payload := `{"model":"gpt-4o","messages":[{"role":"user","content":"hi"}],"temperature":0.2,"x_custom":[1,2]}`

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer sk-record" {
			t.Errorf("wrong Authorization header %q", got)
		}
		body, _ := io.ReadAll(r.Body)
		if string(body) != payload {
			t.Errorf("body was modified:\n got %s\nwant %s", body, payload)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("X-Request-Id", "upstream-1")
		_, _ = io.WriteString(w, `{"id":"chatcmpl-1"}`)
	}))
	defer srv.Close()

	req := &providers.NormalizedRequest{Op: providers.OpChat, ModelID: "gpt-4o", Payload: json.RawMessage(payload)}
	resp, err := New().Forward(context.Background(), req, record(srv))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d", resp.StatusCode)
	}
	if resp.Header.Get("X-Request-Id") != "upstream-1" {
		t.Error("upstream headers must be returned unfiltered; the gateway sanitizes")
	}
	b, _ := io.ReadAll(resp.Body)
	if string(b) != `{"id":"chatcmpl-1"}` {
		t.Errorf("body %s", b)
	}
}

func TestTranslator_Forward_InjectsModelWhenMissing(t *testing.T) {
	cases := map[string]string{
		"absent": `{"input":"hello"}`,
		"empty":  `{"model":"","input":"hello"}`,
	}
	for name, payload := range cases {
		t.Run(name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path != "/v1/embeddings" {
					t.Errorf("unexpected path %q", r.URL.Path)
				}
				var m map[string]any
				_ = json.NewDecoder(r.Body).Decode(&m)
				if m["model"] != "text-embedding-3-small" {
					t.Errorf("model not injected: %v", m["model"])
				}
				if m["input"] != "hello" {
					t.Errorf("input lost: %v", m["input"])
				}
				w.WriteHeader(http.StatusOK)
			}))
			defer srv.Close()

			req := &providers.NormalizedRequest{
				Op:      providers.OpEmbeddings,
				ModelID: "text-embedding-3-small",
				Payload: json.RawMessage(payload),
			}
			resp, err := New().Forward(context.Background(), req, record(srv))
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			resp.Body.Close()
		})
	}
}

func TestTranslator_Forward_CarriesRequestID(t *testing.T) {
	var got string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Get("X-Request-ID")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	req := &providers.NormalizedRequest{
		Op:        providers.OpChat,
		ModelID:   "gpt-4o",
		Payload:   json.RawMessage(`{"model":"gpt-4o","messages":[]}`),
		RequestID: "req-42",
	}
	resp, err := New().Forward(context.Background(), req, record(srv))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	resp.Body.Close()
	if got != "req-42" {
		t.Errorf("upstream X-Request-ID = %q, want req-42", got)
	}
}

func TestTranslator_Forward_UpstreamErrorIsNotSwallowed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = io.WriteString(w, `{"error":{"message":"slow down"}}`)
	}))
	defer srv.Close()

	req := &providers.NormalizedRequest{Op: providers.OpCompletions, ModelID: "gpt-4o", Payload: json.RawMessage(`{"prompt":"x"}`)}
	resp, err := New().Forward(context.Background(), req, record(srv))
	if err != nil {
		t.Fatalf("HTTP errors must be returned as a response, got %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("status %d", resp.StatusCode)
	}
	b, _ := io.ReadAll(resp.Body)
	if string(b) != `{"error":{"message":"slow down"}}` {
		t.Errorf("body %s", b)
	}
}

func TestTranslator_Forward_TransportError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	rec := record(srv)
	srv.Close()

	req := &providers.NormalizedRequest{Op: providers.OpChat, ModelID: "gpt-4o", Payload: json.RawMessage(`{}`)}
	_, err := New().Forward(context.Background(), req, rec)
	var ue *providers.UpstreamError
	if !errors.As(err, &ue) {
		t.Fatalf("expected *UpstreamError, got %T: %v", err, err)
	}
}

func TestTranslator_DefaultBaseURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/completions" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
	}))
	defer srv.Close()

	tr := New(WithBaseURL(srv.URL + "/v1/"))
	rec := &providers.Record{Type: "openai", Model: "m", APIKey: "k"}
	req := &providers.NormalizedRequest{Op: providers.OpCompletions, ModelID: "m", Payload: json.RawMessage(`{"model":"m","prompt":"x"}`)}
	resp, err := tr.Forward(context.Background(), req, rec)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	resp.Body.Close()
}

func TestTranslator_HealthCheck(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet || r.URL.Path != "/v1/models" {
			http.NotFound(w, r)
			return
		}
		if r.Header.Get("Authorization") != "Bearer sk-record" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = io.WriteString(w, `{"error":{"message":"bad key"}}`)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"object":"list","data":[{"id":"gpt-4o","object":"model","created":0,"owned_by":"openai"}]}`)
	}))
	defer srv.Close()

	tr := New()
	if err := tr.HealthCheck(context.Background(), record(srv)); err != nil {
		t.Fatalf("unexpected healthcheck error: %v", err)
	}

	bad := record(srv)
	bad.APIKey = "wrong"
	err := tr.HealthCheck(context.Background(), bad)
	var se *providers.StatusError
	if !errors.As(err, &se) || se.HTTPStatus() != http.StatusUnauthorized {
		t.Fatalf("expected 401 StatusError, got %v", err)
	}
}
