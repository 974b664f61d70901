package observability

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// CheckFunc probes one dependency. A nil error means healthy.
type CheckFunc func(ctx context.Context) error

// HealthChecker tracks liveness and readiness. The service is ready once
// recovery has finished (SetReady) and every registered dependency check
// passes.
type HealthChecker struct {
	ready     atomic.Bool
	startTime time.Time

	mu     sync.RWMutex
	checks map[string]CheckFunc
}

func NewHealthChecker() *HealthChecker {
	return &HealthChecker{
		startTime: time.Now(),
		checks:    make(map[string]CheckFunc),
	}
}

// SetReady marks recovery as complete (or not).
func (h *HealthChecker) SetReady(ready bool) {
	h.ready.Store(ready)
}

// IsReady reports the recovery flag only; see Report for dependencies.
func (h *HealthChecker) IsReady() bool {
	return h.ready.Load()
}

// Register adds a named dependency probe, e.g. "postgres" or "nats".
func (h *HealthChecker) Register(name string, check CheckFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checks[name] = check
}

// HealthReport is the readiness body.
type HealthReport struct {
	Status string            `json:"status"`
	Uptime string            `json:"uptime"`
	Checks map[string]string `json:"checks,omitempty"`
}

// Report runs every registered check with a 2s budget.
func (h *HealthChecker) Report(ctx context.Context) (HealthReport, bool) {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	h.mu.RLock()
	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	h.mu.RUnlock()
	sort.Strings(names)

	ok := h.ready.Load()
	report := HealthReport{Uptime: time.Since(h.startTime).Round(time.Second).String()}
	if len(names) > 0 {
		report.Checks = make(map[string]string, len(names))
	}
	for _, name := range names {
		h.mu.RLock()
		check := h.checks[name]
		h.mu.RUnlock()
		if err := check(ctx); err != nil {
			report.Checks[name] = err.Error()
			ok = false
			continue
		}
		report.Checks[name] = "ok"
	}
	report.Status = "ready"
	if !ok {
		report.Status = "not_ready"
	}
	return report, ok
}

// LivenessHandler answers 200 while the process is running.
func (h *HealthChecker) LivenessHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(HealthReport{
		Status: "alive",
		Uptime: time.Since(h.startTime).Round(time.Second).String(),
	})
}

// ReadinessHandler answers 200 when Report passes, 503 otherwise.
func (h *HealthChecker) ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	report, ok := h.Report(r.Context())
	w.Header().Set("Content-Type", "application/json")
	if ok {
		w.WriteHeader(http.StatusOK)
	} else {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	json.NewEncoder(w).Encode(report)
}
