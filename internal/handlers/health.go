package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/mstefan21/qrelay/internal/pool"
)

// HealthHandler reports service liveness and a summary of pool state.
type HealthHandler struct {
	pool    *pool.Pool
	version string
	started time.Time
}

func NewHealthHandler(p *pool.Pool, version string) *HealthHandler {
	return &HealthHandler{pool: p, version: version, started: time.Now()}
}

func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var active, healthy, total int
	for _, a := range h.pool.Snapshot() {
		total++
		if a.IsActive {
			active++
			if a.IsHealthy {
				healthy++
			}
		}
	}

	status := "healthy"
	code := http.StatusOK
	if healthy == 0 {
		status = "degraded"
		code = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]any{
		"status":  status,
		"version": h.version,
		"uptime":  time.Since(h.started).Round(time.Second).String(),
		"accounts": map[string]int{
			"total":   total,
			"active":  active,
			"healthy": healthy,
		},
	})
}
