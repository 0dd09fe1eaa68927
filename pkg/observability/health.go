package observability

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"
)

const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

// Probe checks one dependency. A failing critical probe makes the service
// unready; any other failure only degrades it.
type Probe struct {
	Name     string
	Critical bool
	Check    func(ctx context.Context) (degraded string, err error)
}

// DatabaseProbe pings db and reports an exhausted pool as degraded.
func DatabaseProbe(db *sql.DB) Probe {
	return Probe{
		Name:     "database",
		Critical: true,
		Check: func(ctx context.Context) (string, error) {
			if err := db.PingContext(ctx); err != nil {
				return "", err
			}
			stats := db.Stats()
			if stats.MaxOpenConnections > 0 && stats.InUse >= stats.MaxOpenConnections {
				return "connection pool exhausted", nil
			}
			return "", nil
		},
	}
}

// RedisProbe pings the job lock store. The lock falls back to local locking,
// so the probe is not critical.
func RedisProbe(client *redis.Client) Probe {
	return Probe{
		Name: "redis",
		Check: func(ctx context.Context) (string, error) {
			return "", client.Ping(ctx).Err()
		},
	}
}

// BacklogProbe reports the outbox as degraded once more than limit cascade
// items are waiting.
func BacklogProbe(pending func(ctx context.Context) (int, error), limit int) Probe {
	return Probe{
		Name: "outbox",
		Check: func(ctx context.Context) (string, error) {
			n, err := pending(ctx)
			if err != nil {
				return "", err
			}
			if n > limit {
				return fmt.Sprintf("%d cascade items pending (limit %d)", n, limit), nil
			}
			return "", nil
		},
	}
}

// HealthChecker runs the configured probes.
type HealthChecker struct {
	probes  []Probe
	timeout time.Duration
}

// NewHealthChecker creates a checker over probes.
func NewHealthChecker(probes ...Probe) *HealthChecker {
	return &HealthChecker{probes: probes, timeout: 5 * time.Second}
}

// HealthStatus is the readiness report.
type HealthStatus struct {
	Status       string                      `json:"status"`
	Timestamp    time.Time                   `json:"timestamp"`
	Dependencies map[string]DependencyStatus `json:"dependencies,omitempty"`
}

// DependencyStatus is the outcome of one probe.
type DependencyStatus struct {
	Status    string        `json:"status"`
	Message   string        `json:"message,omitempty"`
	Latency   time.Duration `json:"latency_ms,omitempty"`
	Timestamp time.Time     `json:"timestamp"`
}

// Liveness always answers 200 while the process runs.
func (h *HealthChecker) Liveness(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    StatusHealthy,
		"timestamp": time.Now(),
	})
}

// Readiness answers 503 when a critical probe fails.
func (h *HealthChecker) Readiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	status := h.Check(ctx)
	code := http.StatusOK
	if status.Status == StatusUnhealthy {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, status)
}

// Check runs every probe in order.
func (h *HealthChecker) Check(ctx context.Context) HealthStatus {
	report := HealthStatus{
		Status:       StatusHealthy,
		Timestamp:    time.Now(),
		Dependencies: make(map[string]DependencyStatus, len(h.probes)),
	}

	for _, p := range h.probes {
		dep := runProbe(ctx, p)
		report.Dependencies[p.Name] = dep
		switch {
		case dep.Status == StatusUnhealthy && p.Critical:
			report.Status = StatusUnhealthy
		case dep.Status != StatusHealthy && report.Status == StatusHealthy:
			report.Status = StatusDegraded
		}
	}
	return report
}

func runProbe(ctx context.Context, p Probe) DependencyStatus {
	start := time.Now()
	degraded, err := p.Check(ctx)
	dep := DependencyStatus{
		Status:    StatusHealthy,
		Latency:   time.Since(start),
		Timestamp: start,
	}
	switch {
	case err != nil:
		dep.Status = StatusUnhealthy
		dep.Message = err.Error()
	case degraded != "":
		dep.Status = StatusDegraded
		dep.Message = degraded
	}
	return dep
}

// RegisterHealthRoutes mounts /healthz and /readyz.
func RegisterHealthRoutes(router *mux.Router, checker *HealthChecker) {
	router.HandleFunc("/healthz", checker.Liveness).Methods(http.MethodGet)
	router.HandleFunc("/readyz", checker.Readiness).Methods(http.MethodGet)
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
