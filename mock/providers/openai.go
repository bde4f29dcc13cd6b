package main

import (
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"net/http"
	"strings"
	"time"
)

// newOpenAIHandler returns an http.Handler that simulates the OpenAI API and
// the Azure OpenAI deployment routes. Both share one wire format; only the
// URL layout and the credential header differ.
func newOpenAIHandler(cfg Config) http.Handler {
	mux := http.NewServeMux()

	// OpenAI layout, bearer credential.
	mux.Handle("POST /v1/chat/completions", requireCredential(bearerKey, chatHandler(cfg, "")))
	mux.Handle("POST /v1/completions", requireCredential(bearerKey, completionsHandler(cfg, "")))
	mux.Handle("POST /v1/embeddings", requireCredential(bearerKey, embeddingsHandler(cfg, "")))
	mux.Handle("GET /v1/models", requireCredential(bearerKey, modelsHandler()))

	// Azure layout, api-key credential. The deployment name stands in for
	// the model when the body carries none.
	mux.Handle("POST /openai/deployments/{deployment}/chat/completions",
		requireCredential(azureKey, chatHandler(cfg, "deployment")))
	mux.Handle("POST /openai/deployments/{deployment}/completions",
		requireCredential(azureKey, completionsHandler(cfg, "deployment")))
	mux.Handle("POST /openai/deployments/{deployment}/embeddings",
		requireCredential(azureKey, embeddingsHandler(cfg, "deployment")))
	mux.Handle("GET /openai/models", requireCredential(azureKey, modelsHandler()))

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, fmt.Sprintf("mock: unknown path %s", r.URL.Path), "invalid_request_error", "not_found")
	})

	return mux
}

// modelFor returns the body model, the named path value, or fallback.
func modelFor(r *http.Request, body, pathParam, fallback string) string {
	if body != "" {
		return body
	}
	if pathParam != "" {
		if d := r.PathValue(pathParam); d != "" {
			return d
		}
	}
	return fallback
}

func chatHandler(cfg Config, pathParam string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if injectFault(cfg) {
			writeError(w, http.StatusInternalServerError, "mock internal server error", "server_error", "internal_error")
			return
		}

		var req struct {
			Model    string `json:"model"`
			Stream   bool   `json:"stream"`
			Messages []struct {
				Role    string `json:"role"`
				Content string `json:"content"`
			} `json:"messages"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body", "invalid_request_error", "invalid_json")
			return
		}
		if len(req.Messages) == 0 {
			writeParamError(w, "'messages' must not be empty", "messages")
			return
		}

		model := modelFor(r, req.Model, pathParam, "gpt-4o")
		id := fmt.Sprintf("chatcmpl-mock%x", rand.Int64())
		content := fakeSentence(cfg.StreamWords)
		inTokens := 10
		outTokens := cfg.StreamWords

		if req.Stream {
			serveOpenAIStream(w, id, model, content)
			return
		}

		writeJSON(w, http.StatusOK, map[string]any{
			"id":      id,
			"object":  "chat.completion",
			"created": time.Now().Unix(),
			"model":   model,
			"choices": []map[string]any{
				{
					"index": 0,
					"message": map[string]string{
						"role":    "assistant",
						"content": content,
					},
					"finish_reason": "stop",
				},
			},
			"usage": map[string]int{
				"prompt_tokens":     inTokens,
				"completion_tokens": outTokens,
				"total_tokens":      inTokens + outTokens,
			},
		})
	}
}

func completionsHandler(cfg Config, pathParam string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if injectFault(cfg) {
			writeError(w, http.StatusInternalServerError, "mock internal server error", "server_error", "internal_error")
			return
		}

		var req struct {
			Model  string `json:"model"`
			Prompt any    `json:"prompt"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body", "invalid_request_error", "invalid_json")
			return
		}

		writeJSON(w, http.StatusOK, map[string]any{
			"id":      fmt.Sprintf("cmpl-mock%x", rand.Int64()),
			"object":  "text_completion",
			"created": time.Now().Unix(),
			"model":   modelFor(r, req.Model, pathParam, "gpt-3.5-turbo-instruct"),
			"choices": []map[string]any{
				{"index": 0, "text": fakeSentence(cfg.StreamWords), "finish_reason": "stop"},
			},
			"usage": map[string]int{
				"prompt_tokens":     5,
				"completion_tokens": cfg.StreamWords,
				"total_tokens":      5 + cfg.StreamWords,
			},
		})
	}
}

func embeddingsHandler(cfg Config, pathParam string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if injectFault(cfg) {
			writeError(w, http.StatusInternalServerError, "mock internal server error", "server_error", "internal_error")
			return
		}

		var req struct {
			Model string `json:"model"`
			Input any    `json:"input"` // string or []string
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body", "invalid_request_error", "invalid_json")
			return
		}

		var inputs []string
		switch v := req.Input.(type) {
		case string:
			inputs = []string{v}
		case []any:
			for _, x := range v {
				if s, ok := x.(string); ok {
					inputs = append(inputs, s)
				}
			}
		}
		if len(inputs) == 0 {
			writeParamError(w, "'input' must not be empty", "input")
			return
		}

		data := make([]map[string]any, len(inputs))
		for i := range inputs {
			data[i] = map[string]any{
				"object":    "embedding",
				"index":     i,
				"embedding": fakeEmbedding(1536),
			}
		}

		writeJSON(w, http.StatusOK, map[string]any{
			"object": "list",
			"data":   data,
			"model":  modelFor(r, req.Model, pathParam, "text-embedding-3-small"),
			"usage": map[string]int{
				"prompt_tokens": len(inputs) * 5,
				"total_tokens":  len(inputs) * 5,
			},
		})
	}
}

// modelsHandler serves the list the router's admin health check reads.
func modelsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"object": "list",
			"data": []map[string]any{
				{"id": "gpt-4o", "object": "model", "created": 1710000000, "owned_by": "openai"},
				{"id": "gpt-4-turbo", "object": "model", "created": 1710000000, "owned_by": "openai"},
				{"id": "gpt-3.5-turbo", "object": "model", "created": 1710000000, "owned_by": "openai"},
				{"id": "text-embedding-3-small", "object": "model", "created": 1710000000, "owned_by": "openai"},
			},
		})
	}
}

// serveOpenAIStream writes an SSE stream of chat completion chunks.
func serveOpenAIStream(w http.ResponseWriter, id, model, content string) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	flusher, _ := w.(http.Flusher)

	send := func(chunk map[string]any) {
		data, _ := json.Marshal(chunk)
		fmt.Fprintf(w, "data: %s\n\n", data)
		if flusher != nil {
			flusher.Flush()
		}
	}
	chunk := func(delta map[string]string, finish any) map[string]any {
		return map[string]any{
			"id":      id,
			"object":  "chat.completion.chunk",
			"created": time.Now().Unix(),
			"model":   model,
			"choices": []map[string]any{
				{"index": 0, "delta": delta, "finish_reason": finish},
			},
		}
	}

	send(chunk(map[string]string{"role": "assistant"}, nil))
	for _, word := range strings.Fields(content) {
		send(chunk(map[string]string{"content": word + " "}, nil))
	}
	send(chunk(map[string]string{}, "stop"))

	fmt.Fprintf(w, "data: [DONE]\n\n")
	if flusher != nil {
		flusher.Flush()
	}
}
