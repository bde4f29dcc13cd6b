// Package providers defines the provider record model, the registry that
// resolves a model id to a record, and the Translator interface implemented
// by each upstream dialect (openai, azure, anthropic).
//
// Each dialect lives in its own sub-package. A translator receives the
// caller's normalized request plus the resolved record and returns the raw
// upstream response, possibly with a transformed body, for the gateway to
// sanitize and write back.
package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Dialect names. They double as the record "type" values.
const (
	DialectOpenAI    = "openai"
	DialectAzure     = "azure"
	DialectAnthropic = "anthropic"
)

// Default upstream transport limits.
const (
	// ResponseHeaderTimeout bounds the wait for upstream response headers.
	// There is no whole-request timeout: streams may legitimately run for minutes.
	ResponseHeaderTimeout = 60 * time.Second
	DialTimeout           = 10 * time.Second
)

// Operation is one of the inbound endpoints the gateway proxies.
type Operation int

const (
	OpChat Operation = iota
	OpCompletions
	OpEmbeddings
)

// String returns the metrics/log label for the operation.
func (o Operation) String() string {
	switch o {
	case OpChat:
		return "chat_completions"
	case OpCompletions:
		return "completions"
	case OpEmbeddings:
		return "embeddings"
	default:
		return "unknown"
	}
}

// Path returns the OpenAI-style path suffix for the operation, relative to
// the API root ("/v1" for OpenAI, "/openai/deployments/{d}" for Azure).
func (o Operation) Path() string {
	switch o {
	case OpChat:
		return "/chat/completions"
	case OpCompletions:
		return "/completions"
	case OpEmbeddings:
		return "/embeddings"
	default:
		return ""
	}
}

type (
	// NormalizedRequest is the canonical in-flight request. It is built once
	// per call and never mutated afterwards.
	NormalizedRequest struct {
		Op      Operation
		ModelID string
		// Payload is the validated inbound JSON body, untouched. Only the
		// selected translator interprets it.
		Payload json.RawMessage
		Stream  bool
		// Path is the inbound request path, kept for logging.
		Path      string
		RequestID string
	}

	// Response is an upstream response as handed back to the gateway.
	// Body may be a transforming reader (e.g. the Anthropic re-framer);
	// the gateway always closes it.
	Response struct {
		StatusCode int
		Header     http.Header
		Body       io.ReadCloser
	}
)

// OK reports whether the upstream answered with a 2xx status.
func (r *Response) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// Translator is the per-dialect upstream strategy.
type Translator interface {
	// Dialect returns the record type this translator serves.
	Dialect() string

	// Forward sends req to the upstream described by rec. Non-2xx upstream
	// answers are returned as a Response, not an error, so the status and
	// body reach the caller verbatim. Transport failures return *UpstreamError.
	Forward(ctx context.Context, req *NormalizedRequest, rec *Record) (*Response, error)

	// HealthCheck performs a cheap authenticated call against the upstream.
	HealthCheck(ctx context.Context, rec *Record) error
}

// StreamObserver receives per-frame notifications from streaming translators.
// The metrics registry implements it; nil is allowed everywhere.
type StreamObserver interface {
	StreamFrame(dialect string)
	TranslationAnomaly(dialect string)
}

var (
	// ErrModelUnsupported means no provider record matches the requested model.
	ErrModelUnsupported = errors.New("model unsupported")

	// ErrUnsupportedOperation means the resolved dialect cannot serve the
	// requested endpoint (e.g. embeddings on Anthropic).
	ErrUnsupportedOperation = errors.New("operation not supported by provider")
)

// UpstreamError wraps a transport-level failure talking to an upstream.
// HTTP-level failures are not errors; see Translator.Forward.
type UpstreamError struct {
	Dialect string
	Err     error
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("%s: upstream: %v", e.Dialect, e.Err)
}

func (e *UpstreamError) Unwrap() error { return e.Err }

// NewHTTPClient returns the client shared by all translators. Redirects are
// not followed: an upstream redirect is forwarded to the caller as-is.
func NewHTTPClient(headerTimeout time.Duration) *http.Client {
	if headerTimeout <= 0 {
		headerTimeout = ResponseHeaderTimeout
	}
	tr := http.DefaultTransport.(*http.Transport).Clone()
	tr.ResponseHeaderTimeout = headerTimeout
	tr.MaxIdleConnsPerHost = 64

	return &http.Client{
		Transport: tr,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}

// RequestIDHeader carries the router's request id to the upstream, so one id
// joins router and upstream logs.
const RequestIDHeader = "X-Request-ID"

// NewUpstreamRequest builds a JSON POST to url carrying req's request id.
func NewUpstreamRequest(ctx context.Context, url string, body []byte, req *NormalizedRequest) (*http.Request, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if req.RequestID != "" {
		httpReq.Header.Set(RequestIDHeader, req.RequestID)
	}
	return httpReq, nil
}

// Send executes req and converts the result into a Response. The caller
// (ultimately the gateway) owns Response.Body.
func Send(client *http.Client, dialect string, req *http.Request) (*Response, error) {
	resp, err := client.Do(req)
	if err != nil {
		return nil, &UpstreamError{Dialect: dialect, Err: err}
	}
	return &Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       resp.Body,
	}, nil
}

// StatusError is returned by HealthCheck implementations when the upstream
// answered but with a non-2xx status.
type StatusError struct {
	Dialect    string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: health check: status %d", e.Dialect, e.StatusCode)
}

// HTTPStatus returns the upstream status code.
func (e *StatusError) HTTPStatus() int { return e.StatusCode }
