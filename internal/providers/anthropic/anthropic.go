// Package anthropic translates OpenAI chat completion requests to the
// Anthropic Messages API and re-frames its event stream back into OpenAI
// chat completion chunks.
package anthropic

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/nulpointcorp/llm-router/internal/providers"
)

const (
	defaultBaseURL   = "https://api.anthropic.com"
	defaultVersion   = "2023-06-01"
	defaultMaxTokens = 4096
)

// Translator implements providers.Translator for Anthropic.
type Translator struct {
	baseURL   string
	apiKey    string
	version   string
	maxTokens int
	client    *http.Client
	log       *slog.Logger
	observer  providers.StreamObserver
}

// Option configures a Translator.
type Option func(*Translator)

// WithBaseURL overrides the API base URL (useful for testing).
func WithBaseURL(u string) Option {
	return func(t *Translator) {
		if u != "" {
			t.baseURL = u
		}
	}
}

// WithAPIKey sets the key used for records that do not carry their own.
func WithAPIKey(key string) Option {
	return func(t *Translator) { t.apiKey = key }
}

// WithVersion sets the anthropic-version header.
func WithVersion(v string) Option {
	return func(t *Translator) {
		if v != "" {
			t.version = v
		}
	}
}

// WithMaxTokens sets the max_tokens injected when the caller omits it.
func WithMaxTokens(n int) Option {
	return func(t *Translator) {
		if n > 0 {
			t.maxTokens = n
		}
	}
}

func WithHTTPClient(c *http.Client) Option {
	return func(t *Translator) { t.client = c }
}

func WithLogger(l *slog.Logger) Option {
	return func(t *Translator) { t.log = l }
}

// WithObserver receives a notification per emitted frame and per dropped line.
func WithObserver(o providers.StreamObserver) Option {
	return func(t *Translator) { t.observer = o }
}

// New creates the Anthropic translator.
func New(opts ...Option) *Translator {
	t := &Translator{
		baseURL:   defaultBaseURL,
		version:   defaultVersion,
		maxTokens: defaultMaxTokens,
	}
	for _, o := range opts {
		o(t)
	}
	if t.client == nil {
		t.client = providers.NewHTTPClient(0)
	}
	if t.log == nil {
		t.log = slog.Default()
	}
	return t
}

func (t *Translator) Dialect() string { return providers.DialectAnthropic }

func (t *Translator) Forward(ctx context.Context, req *providers.NormalizedRequest, rec *providers.Record) (*providers.Response, error) {
	if req.Op != providers.OpChat {
		return nil, fmt.Errorf("anthropic: %s: %w", req.Op, providers.ErrUnsupportedOperation)
	}

	body, err := transformRequest(req.Payload, req.ModelID, t.maxTokens)
	if err != nil {
		return nil, fmt.Errorf("anthropic: transform request: %w", err)
	}

	httpReq, err := providers.NewUpstreamRequest(ctx, t.root(rec)+"/v1/messages", body, req)
	if err != nil {
		return nil, fmt.Errorf("anthropic: build request: %w", err)
	}
	httpReq.Header.Set("x-api-key", t.key(rec))
	httpReq.Header.Set("anthropic-version", t.version)

	resp, err := providers.Send(t.client, providers.DialectAnthropic, httpReq)
	if err != nil {
		return nil, err
	}

	if req.Stream && resp.OK() {
		resp.Body = NewReader(resp.Body, ReframerOptions{
			Logger:   t.log.With(slog.String("request_id", req.RequestID)),
			Observer: t.observer,
		})
		// The re-framed body has a different length.
		resp.Header.Del("Content-Length")
	}
	return resp, nil
}

// HealthCheck lists one model with the record's key.
func (t *Translator) HealthCheck(ctx context.Context, rec *providers.Record) error {
	client := anthropic.NewClient(
		option.WithAPIKey(t.key(rec)),
		option.WithBaseURL(t.root(rec)),
		option.WithHTTPClient(t.client),
		option.WithMaxRetries(0),
	)
	_, err := client.Models.List(ctx, anthropic.ModelListParams{
		Limit: anthropic.Int(1),
	})
	if err != nil {
		return fmt.Errorf("anthropic: health check: %w", toStatusError(err))
	}
	return nil
}

func (t *Translator) key(rec *providers.Record) string {
	if rec.APIKey != "" {
		return rec.APIKey
	}
	return t.apiKey
}

// root returns the API host without the version segment.
func (t *Translator) root(rec *providers.Record) string {
	base := t.baseURL
	if rec.Endpoint != "" {
		base = rec.Endpoint
	}
	base = strings.TrimRight(base, "/")
	return strings.TrimSuffix(base, "/v1")
}

func toStatusError(err error) error {
	var apierr *anthropic.Error
	if errors.As(err, &apierr) {
		return &providers.StatusError{Dialect: providers.DialectAnthropic, StatusCode: apierr.StatusCode}
	}
	return err
}
