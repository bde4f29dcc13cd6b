// Package openai forwards requests unchanged to an OpenAI-compatible upstream.
package openai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	openaiSDK "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/nulpointcorp/llm-router/internal/providers"
)

const defaultBaseURL = "https://api.openai.com"

// Translator is the OpenAI passthrough dialect.
type Translator struct {
	baseURL string
	client  *http.Client
}

// Option configures a Translator.
type Option func(*Translator)

// WithBaseURL sets the upstream used by records without an endpoint.
func WithBaseURL(u string) Option {
	return func(t *Translator) {
		if u != "" {
			t.baseURL = u
		}
	}
}

// WithHTTPClient replaces the shared upstream client.
func WithHTTPClient(c *http.Client) Option {
	return func(t *Translator) { t.client = c }
}

// New creates the OpenAI translator.
func New(opts ...Option) *Translator {
	t := &Translator{baseURL: defaultBaseURL}
	for _, o := range opts {
		o(t)
	}
	if t.client == nil {
		t.client = providers.NewHTTPClient(0)
	}
	return t
}

func (t *Translator) Dialect() string { return providers.DialectOpenAI }

func (t *Translator) Forward(ctx context.Context, req *providers.NormalizedRequest, rec *providers.Record) (*providers.Response, error) {
	body := []byte(req.Payload)
	// Azure-style callers put the model in the path; OpenAI needs it in the body.
	// An empty "model" counts as missing, as it does for the normalizer.
	if gjson.GetBytes(body, "model").String() == "" {
		var err error
		body, err = sjson.SetBytes(body, "model", req.ModelID)
		if err != nil {
			return nil, fmt.Errorf("openai: set model: %w", err)
		}
	}

	url := t.apiRoot(rec) + req.Op.Path()
	httpReq, err := providers.NewUpstreamRequest(ctx, url, body, req)
	if err != nil {
		return nil, fmt.Errorf("openai: build request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+rec.APIKey)
	if req.Stream {
		httpReq.Header.Set("Accept", "text/event-stream")
	}

	return providers.Send(t.client, providers.DialectOpenAI, httpReq)
}

// HealthCheck lists models with the record's key.
func (t *Translator) HealthCheck(ctx context.Context, rec *providers.Record) error {
	client := openaiSDK.NewClient(
		option.WithAPIKey(rec.APIKey),
		option.WithBaseURL(t.apiRoot(rec)+"/"),
		option.WithHTTPClient(t.client),
		option.WithMaxRetries(0),
	)
	if _, err := client.Models.List(ctx); err != nil {
		return fmt.Errorf("openai: health check: %w", toStatusError(err))
	}
	return nil
}

// apiRoot returns the upstream "/v1" root for rec, e.g. https://api.openai.com/v1.
func (t *Translator) apiRoot(rec *providers.Record) string {
	base := t.baseURL
	if rec.Endpoint != "" {
		base = rec.Endpoint
	}
	base = strings.TrimRight(base, "/")
	if strings.HasSuffix(base, "/v1") {
		return base
	}
	return base + "/v1"
}

func toStatusError(err error) error {
	var apierr *openaiSDK.Error
	if errors.As(err, &apierr) {
		return &providers.StatusError{Dialect: providers.DialectOpenAI, StatusCode: apierr.StatusCode}
	}
	return err
}
