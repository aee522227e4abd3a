// Package health serves liveness and readiness probes.
//
// Registered checks run periodically in the background. A check flips to
// unhealthy after FailureThreshold consecutive failures and back after
// SuccessThreshold consecutive successes, so one slow ping does not pull
// the instance out of rotation.
package health

import (
	"context"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-faster/jx"
)

// CheckFunc returns nil when the checked dependency is healthy.
type CheckFunc func(ctx context.Context) error

// Thresholds apply to every check registered after they are set.
type Thresholds struct {
	Failure int
	Success int
}

// DefaultThresholds mirror the Kubernetes probe defaults.
var DefaultThresholds = Thresholds{Failure: 3, Success: 1}

type probe struct {
	name       string
	timeout    time.Duration
	fn         CheckFunc
	thresholds Thresholds

	mu        sync.Mutex
	healthy   bool
	lastErr   error
	failures  int
	successes int
}

func (p *probe) run(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	err := p.fn(ctx)
	cancel()

	p.mu.Lock()
	defer p.mu.Unlock()

	p.lastErr = err
	if err != nil {
		p.successes = 0
		if p.failures++; p.failures >= p.thresholds.Failure {
			p.healthy = false
		}
		return
	}
	p.failures = 0
	if p.successes++; p.successes >= p.thresholds.Success {
		p.healthy = true
	}
}

// status returns "" when healthy, otherwise the reason.
func (p *probe) status() string {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch {
	case p.healthy:
		return ""
	case p.lastErr != nil:
		return p.lastErr.Error()
	default:
		return "unhealthy"
	}
}

// Health aggregates the probes of one process.
type Health struct {
	ready atomic.Bool

	mu         sync.Mutex
	thresholds Thresholds
	liveness   []*probe
	readiness  []*probe
	stop       context.CancelFunc
}

// New returns a Health that is not ready until SetReady(true).
func New() *Health {
	return &Health{thresholds: DefaultThresholds}
}

// SetThresholds changes the thresholds of checks registered afterwards.
func (h *Health) SetThresholds(t Thresholds) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.thresholds = t
}

// AddLivenessCheck registers a check whose failure means the process
// should be restarted.
func (h *Health) AddLivenessCheck(name string, timeout time.Duration, fn CheckFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.liveness = append(h.liveness, h.newProbe(name, timeout, fn))
}

// AddReadinessCheck registers a check whose failure means the process
// should not receive traffic, e.g. a store ping.
func (h *Health) AddReadinessCheck(name string, timeout time.Duration, fn CheckFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.readiness = append(h.readiness, h.newProbe(name, timeout, fn))
}

func (h *Health) newProbe(name string, timeout time.Duration, fn CheckFunc) *probe {
	// Healthy until proven otherwise.
	return &probe{name: name, timeout: timeout, fn: fn, thresholds: h.thresholds, healthy: true}
}

// Start runs every registered check immediately and then every interval
// until Stop is called or ctx is done.
func (h *Health) Start(ctx context.Context, interval time.Duration) {
	ctx, cancel := context.WithCancel(ctx)

	h.mu.Lock()
	if h.stop != nil {
		h.stop()
	}
	h.stop = cancel
	probes := append(append([]*probe(nil), h.liveness...), h.readiness...)
	h.mu.Unlock()

	for _, p := range probes {
		go func(p *probe) {
			ticker := time.NewTicker(interval)
			defer ticker.Stop()
			for {
				p.run(ctx)
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
				}
			}
		}(p)
	}
}

// Stop halts background checks. It is idempotent.
func (h *Health) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.stop != nil {
		h.stop()
		h.stop = nil
	}
}

// SetReady toggles the manual readiness gate, closed during startup and
// shutdown drain.
func (h *Health) SetReady(ready bool) {
	h.ready.Store(ready)
}

// IsReady reports whether the gate is open and every readiness check passes.
func (h *Health) IsReady() bool {
	return h.ready.Load() && len(failures(h.snapshot(false))) == 0
}

func (h *Health) snapshot(liveness bool) []*probe {
	h.mu.Lock()
	defer h.mu.Unlock()
	if liveness {
		return append([]*probe(nil), h.liveness...)
	}
	return append([]*probe(nil), h.readiness...)
}

// LiveEndpoint serves /livez.
func (h *Health) LiveEndpoint(w http.ResponseWriter, _ *http.Request) {
	respond(w, failures(h.snapshot(true)))
}

// ReadyEndpoint serves /readyz.
func (h *Health) ReadyEndpoint(w http.ResponseWriter, _ *http.Request) {
	failed := failures(h.snapshot(false))
	if !h.ready.Load() {
		failed["_readiness"] = "service is not ready"
	}
	respond(w, failed)
}

func failures(probes []*probe) map[string]string {
	failed := make(map[string]string)
	for _, p := range probes {
		if reason := p.status(); reason != "" {
			failed[p.name] = reason
		}
	}
	return failed
}

// respond writes {"status":"ok"} or {"status":"unhealthy","checks":{...}}.
func respond(w http.ResponseWriter, failed map[string]string) {
	status, code := "ok", http.StatusOK
	if len(failed) > 0 {
		status, code = "unhealthy", http.StatusServiceUnavailable
	}

	names := make([]string, 0, len(failed))
	for name := range failed {
		names = append(names, name)
	}
	sort.Strings(names)

	var e jx.Encoder
	e.Obj(func(e *jx.Encoder) {
		e.Field("status", func(e *jx.Encoder) { e.Str(status) })
		if len(names) == 0 {
			return
		}
		e.Field("checks", func(e *jx.Encoder) {
			e.Obj(func(e *jx.Encoder) {
				for _, name := range names {
					e.Field(name, func(e *jx.Encoder) { e.Str(failed[name]) })
				}
			})
		})
	})

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = w.Write(e.Bytes())
}
