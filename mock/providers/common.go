package main

import (
	"encoding/json"
	"math"
	"math/rand/v2"
	"net/http"
	"strings"
	"time"
)

// --- credentials ------------------------------------------------------------

// credentialFunc extracts the upstream credential a dialect expects.
type credentialFunc func(*http.Request) string

// bearerKey reads an OpenAI "Authorization: Bearer" credential.
func bearerKey(r *http.Request) string {
	v, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok {
		return ""
	}
	return v
}

// azureKey reads the Azure "api-key" credential. Azure ignores Authorization,
// so a router that sends the wrong header is rejected here as it would be
// upstream.
func azureKey(r *http.Request) string {
	return r.Header.Get("api-key")
}

// anthropicKey reads the Anthropic "x-api-key" credential.
func anthropicKey(r *http.Request) string {
	return r.Header.Get("x-api-key")
}

// requireCredential rejects requests whose credential is empty with an
// OpenAI-style 401. Any non-empty value is accepted.
func requireCredential(key credentialFunc, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.TrimSpace(key(r)) == "" {
			writeError(w, http.StatusUnauthorized, "missing api key", "invalid_request_error", "invalid_api_key")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// requireAnthropicHeaders rejects requests without x-api-key or
// anthropic-version, the way the real API does.
func requireAnthropicHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if anthropicKey(r) == "" {
			writeAnthropicError(w, http.StatusUnauthorized, "x-api-key header is required", "authentication_error")
			return
		}
		if r.Header.Get("anthropic-version") == "" {
			writeAnthropicError(w, http.StatusBadRequest, "anthropic-version header is required", "invalid_request_error")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// --- fault injection --------------------------------------------------------

// injectFault sleeps for the configured latency and reports whether this
// request should fail with a simulated upstream error.
func injectFault(cfg Config) bool {
	if cfg.LatencyMS > 0 {
		time.Sleep(time.Duration(cfg.LatencyMS) * time.Millisecond)
	}
	return cfg.ErrorRate > 0 && rand.Float64() < cfg.ErrorRate
}

// --- fake content -----------------------------------------------------------

var fakeWords = []string{
	"routing", "tokens", "upstream", "latency", "model", "deployment",
	"stream", "chunk", "provider", "request", "answer", "context",
	"prompt", "gateway", "quickly", "reliably", "every", "the", "a", "of",
}

// fakeSentence returns n random words ending in a period.
func fakeSentence(n int) string {
	if n < 1 {
		n = 1
	}
	words := make([]string, n)
	for i := range words {
		words[i] = fakeWords[rand.IntN(len(fakeWords))]
	}
	words[0] = strings.ToUpper(words[0][:1]) + words[0][1:]
	return strings.Join(words, " ") + "."
}

// fakeEmbedding returns a random unit vector, as OpenAI embeddings are
// normalised to length 1.
func fakeEmbedding(dim int) []float32 {
	v := make([]float32, dim)
	var sum float64
	for i := range v {
		x := rand.NormFloat64()
		v[i] = float32(x)
		sum += x * x
	}
	if norm := math.Sqrt(sum); norm > 0 {
		for i := range v {
			v[i] = float32(float64(v[i]) / norm)
		}
	}
	return v
}

// --- responses --------------------------------------------------------------

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// openAIError is the OpenAI and Azure error envelope. param is always
// present, null when no single field is at fault.
type openAIError struct {
	Error struct {
		Message string  `json:"message"`
		Type    string  `json:"type"`
		Param   *string `json:"param"`
		Code    string  `json:"code"`
	} `json:"error"`
}

func writeError(w http.ResponseWriter, status int, msg, typ, code string) {
	var e openAIError
	e.Error.Message = msg
	e.Error.Type = typ
	e.Error.Code = code
	writeJSON(w, status, e)
}

// writeParamError is writeError for a request that failed on one field.
func writeParamError(w http.ResponseWriter, msg, param string) {
	var e openAIError
	e.Error.Message = msg
	e.Error.Type = "invalid_request_error"
	e.Error.Param = &param
	e.Error.Code = "invalid_value"
	writeJSON(w, http.StatusBadRequest, e)
}

func writeAnthropicError(w http.ResponseWriter, status int, msg, typ string) {
	writeJSON(w, status, map[string]any{
		"type": "error",
		"error": map[string]string{
			"type":    typ,
			"message": msg,
		},
	})
}
