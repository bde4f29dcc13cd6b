package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"
)

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestNew_NilContext(t *testing.T) {
	//nolint:staticcheck // nil context on purpose
	if _, err := New(nil, nil); err == nil {
		t.Fatal("expected error for nil context")
	}
}

func TestLogger_FlushesOnClose(t *testing.T) {
	out := &syncBuffer{}
	l, err := New(context.Background(), slog.New(slog.NewJSONHandler(out, nil)))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	l.Log(RequestLog{
		RequestID:  "req-1",
		ProviderID: "prov-1",
		Dialect:    "anthropic",
		Model:      "gpt-4",
		Route:      "chat_completions",
		Status:     200,
		Latency:    1500 * time.Millisecond,
		Stream:     true,
		Bytes:      42,
	})
	if err := l.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	line := strings.TrimSpace(out.String())
	if line == "" {
		t.Fatal("expected one log line after Close")
	}
	var rec map[string]any
	if err := json.Unmarshal([]byte(line), &rec); err != nil {
		t.Fatalf("log line is not json: %v (%s)", err, line)
	}
	if rec["msg"] != "request_completed" {
		t.Errorf("msg = %v", rec["msg"])
	}
	if rec["request_id"] != "req-1" || rec["dialect"] != "anthropic" || rec["stream"] != true {
		t.Errorf("unexpected fields: %v", rec)
	}
	if rec["latency_ms"] != float64(1500) {
		t.Errorf("latency_ms = %v", rec["latency_ms"])
	}
}

func TestLogger_CloseIsIdempotent(t *testing.T) {
	l, err := New(context.Background(), slog.New(slog.NewJSONHandler(&syncBuffer{}, nil)))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	_ = l.Close()
	_ = l.Close()
	if l.DroppedLogs() != 0 {
		t.Errorf("dropped = %d", l.DroppedLogs())
	}
}
