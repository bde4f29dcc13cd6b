// Package azure forwards requests unchanged to an Azure OpenAI deployment.
// Azure OpenAI uses deployment-based URLs and the "api-key" header instead of
// the standard "Authorization: Bearer" scheme.
//
// Addressing comes from the provider record:
//   - instance   e.g. "myresource" → https://myresource.openai.azure.com
//   - deployment e.g. "gpt-4o-prod"
//   - apiVersion e.g. "2023-05-15" (falls back to the translator default)
//
// A record endpoint replaces the instance host, which is how the mock
// upstream and private endpoints are addressed.
package azure

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/nulpointcorp/llm-router/internal/providers"
)

const defaultAPIVersion = "2023-05-15"

// Translator is the Azure OpenAI passthrough dialect.
type Translator struct {
	apiVersion string
	client     *http.Client
}

// Option configures a Translator.
type Option func(*Translator)

// WithAPIVersion sets the api-version used by records that do not carry one.
func WithAPIVersion(v string) Option {
	return func(t *Translator) {
		if v != "" {
			t.apiVersion = v
		}
	}
}

// WithHTTPClient replaces the shared upstream client.
func WithHTTPClient(c *http.Client) Option {
	return func(t *Translator) { t.client = c }
}

// New creates the Azure translator.
func New(opts ...Option) *Translator {
	t := &Translator{apiVersion: defaultAPIVersion}
	for _, o := range opts {
		o(t)
	}
	if t.client == nil {
		t.client = providers.NewHTTPClient(0)
	}
	return t
}

func (t *Translator) Dialect() string { return providers.DialectAzure }

func (t *Translator) Forward(ctx context.Context, req *providers.NormalizedRequest, rec *providers.Record) (*providers.Response, error) {
	deployment := rec.Deployment
	if deployment == "" {
		deployment = req.ModelID
	}

	u := fmt.Sprintf("%s/openai/deployments/%s%s?api-version=%s",
		t.host(rec), url.PathEscape(deployment), req.Op.Path(), url.QueryEscape(t.version(rec)))

	httpReq, err := providers.NewUpstreamRequest(ctx, u, req.Payload, req)
	if err != nil {
		return nil, fmt.Errorf("azure: build request: %w", err)
	}
	httpReq.Header.Set("api-key", rec.APIKey)
	if req.Stream {
		httpReq.Header.Set("Accept", "text/event-stream")
	}

	return providers.Send(t.client, providers.DialectAzure, httpReq)
}

func (t *Translator) HealthCheck(ctx context.Context, rec *providers.Record) error {
	u := fmt.Sprintf("%s/openai/models?api-version=%s", t.host(rec), url.QueryEscape(t.version(rec)))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("azure: health check: %w", err)
	}
	req.Header.Set("api-key", rec.APIKey)

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("azure: health check: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return &providers.StatusError{Dialect: providers.DialectAzure, StatusCode: resp.StatusCode}
	}
	return nil
}

func (t *Translator) host(rec *providers.Record) string {
	if rec.Endpoint != "" {
		return strings.TrimRight(rec.Endpoint, "/")
	}
	return fmt.Sprintf("https://%s.openai.azure.com", rec.Instance)
}

func (t *Translator) version(rec *providers.Record) string {
	if rec.APIVersion != "" {
		return rec.APIVersion
	}
	return t.apiVersion
}
