package metrics

import (
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/valyala/fasthttp"
)

func TestRegistry_StreamObserver(t *testing.T) {
	r := New()
	r.StreamFrame("anthropic")
	r.StreamFrame("anthropic")
	r.TranslationAnomaly("anthropic")

	if got := testutil.ToFloat64(r.streamFrames.WithLabelValues("anthropic")); got != 2 {
		t.Errorf("stream frames = %v, want 2", got)
	}
	if got := testutil.ToFloat64(r.translationAnomalies.WithLabelValues("anthropic")); got != 1 {
		t.Errorf("anomalies = %v, want 1", got)
	}
}

func TestRegistry_Gauges(t *testing.T) {
	r := New()

	r.SetStoreUp(true)
	if got := testutil.ToFloat64(r.storeUp); got != 1 {
		t.Errorf("store up = %v", got)
	}
	r.SetStoreUp(false)
	if got := testutil.ToFloat64(r.storeUp); got != 0 {
		t.Errorf("store down = %v", got)
	}

	r.SetProviderHealth("rec-1", true)
	r.DeleteProviderHealth("rec-1")
	if n := testutil.CollectAndCount(r.providerHealth); n != 0 {
		t.Errorf("expected deleted provider gauge, got %d series", n)
	}

	r.IncInFlight()
	r.IncInFlight()
	r.DecInFlight()
	if got := testutil.ToFloat64(r.inFlight); got != 1 {
		t.Errorf("in flight = %v", got)
	}
}

func TestRegistry_Handler(t *testing.T) {
	r := New()
	r.SetBuildInfo("test")
	r.RecordAuthDenial("unknown_credential")
	r.RecordModelUnsupported()
	r.RecordRequest("openai", 200)
	r.ObserveHTTP("chat_completions", 200, 10*time.Millisecond, 100, -1)
	r.ObserveUpstreamAttempt("openai", "chat_completions", "success", 5*time.Millisecond)
	r.RecordRateLimit("allowed")

	var ctx fasthttp.RequestCtx
	ctx.Request.SetRequestURI("/metrics")
	r.Handler()(&ctx)

	body := string(ctx.Response.Body())
	for _, name := range []string{
		"router_build_info",
		"router_auth_denials_total",
		"router_model_unsupported_total",
		"router_requests_total",
		"router_http_requests_total",
		"router_upstream_attempts_total",
		"router_ratelimit_total",
	} {
		if !strings.Contains(body, name) {
			t.Errorf("metrics output missing %s", name)
		}
	}
}
