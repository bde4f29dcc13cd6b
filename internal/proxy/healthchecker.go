package proxy

import (
	"context"
	"sync"
	"time"

	"github.com/nulpointcorp/llm-router/internal/metrics"
	"github.com/nulpointcorp/llm-router/internal/store"
)

const healthProbeInterval = 30 * time.Second
const healthProbeTimeout = 5 * time.Second

// componentStatus holds the last known health result for one component.
type componentStatus struct {
	mu     sync.RWMutex
	status string // "ok" | "degraded" | "down"
}

func (s *componentStatus) set(v string) {
	s.mu.Lock()
	s.status = v
	s.mu.Unlock()
}

func (s *componentStatus) get() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.status == "" {
		return "unknown"
	}
	return s.status
}

// HealthChecker probes the provider store in the background and keeps the
// result of the latest admin probe of each provider record.
type HealthChecker struct {
	store   store.Pinger
	baseCtx context.Context
	metrics *metrics.Registry

	storeStatus componentStatus

	provMu           sync.RWMutex
	providerStatuses map[string]string

	startTime time.Time
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// NewHealthChecker creates a HealthChecker and immediately starts background
// probes. A nil pinger means no external store: it always reports ok.
func NewHealthChecker(ctx context.Context, pinger store.Pinger, met *metrics.Registry) *HealthChecker {
	if ctx == nil {
		panic("healthchecker: context must not be nil")
	}
	hc := &HealthChecker{
		store:            pinger,
		baseCtx:          ctx,
		metrics:          met,
		providerStatuses: make(map[string]string),
		startTime:        time.Now(),
		done:             make(chan struct{}),
	}

	// Run first probe synchronously so health is not "unknown" immediately.
	hc.probe()

	hc.wg.Add(1)
	go hc.run()

	return hc
}

// HealthSnapshot returns the current health state for all components.
type HealthSnapshot struct {
	Status        string            `json:"status"`
	UptimeSeconds int64             `json:"uptime_seconds"`
	Store         string            `json:"store"`
	Providers     map[string]string `json:"providers"`
}

// Snapshot builds a snapshot from the latest probe results.
func (hc *HealthChecker) Snapshot() HealthSnapshot {
	overall := "ok"

	hc.provMu.RLock()
	provs := make(map[string]string, len(hc.providerStatuses))
	for id, st := range hc.providerStatuses {
		provs[id] = st
		if st != "ok" {
			overall = "degraded"
		}
	}
	hc.provMu.RUnlock()

	st := hc.storeStatus.get()
	if st != "ok" {
		overall = "degraded"
	}

	return HealthSnapshot{
		Status:        overall,
		UptimeSeconds: int64(time.Since(hc.startTime).Seconds()),
		Store:         st,
		Providers:     provs,
	}
}

// ReadinessOK returns true when the store is reachable
// (used by GET /readiness for Kubernetes probes).
func (hc *HealthChecker) ReadinessOK() bool {
	return hc.storeStatus.get() == "ok"
}

// RecordProbe stores the outcome of an on-demand provider probe.
func (hc *HealthChecker) RecordProbe(id string, err error) {
	status := "ok"
	if err != nil {
		status = "degraded"
	}
	hc.provMu.Lock()
	hc.providerStatuses[id] = status
	hc.provMu.Unlock()

	if hc.metrics != nil {
		hc.metrics.SetProviderHealth(id, err == nil)
	}
}

// Forget drops the probe result of a deleted provider record.
func (hc *HealthChecker) Forget(id string) {
	hc.provMu.Lock()
	delete(hc.providerStatuses, id)
	hc.provMu.Unlock()

	if hc.metrics != nil {
		hc.metrics.DeleteProviderHealth(id)
	}
}

// Close stops the background probe goroutine. It is safe to call twice.
func (hc *HealthChecker) Close() {
	hc.closeOnce.Do(func() { close(hc.done) })
	hc.wg.Wait()
}

func (hc *HealthChecker) run() {
	defer hc.wg.Done()
	ticker := time.NewTicker(healthProbeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			hc.probe()
		case <-hc.done:
			return
		case <-hc.baseCtx.Done():
			return
		}
	}
}

func (hc *HealthChecker) probe() {
	ctx, cancel := context.WithTimeout(hc.baseCtx, healthProbeTimeout)
	defer cancel()

	ok := hc.store == nil || hc.store.Ping(ctx) == nil
	if ok {
		hc.storeStatus.set("ok")
	} else {
		hc.storeStatus.set("down")
	}
	if hc.metrics != nil {
		hc.metrics.SetStoreUp(ok)
	}
}
