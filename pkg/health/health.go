// Package health provides liveness and readiness handlers for the HTTP
// transport.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync/atomic"
	"time"
)

const probeTimeout = 3 * time.Second

// Probe reports whether a collaborator is reachable.
type Probe func(ctx context.Context) error

// Checker tracks server readiness. Readiness requires both the serving state
// and, when a probe is configured, a reachable analysis engine.
// It is safe for concurrent use.
type Checker struct {
	serving atomic.Bool
	probe   Probe
}

// NewChecker creates a Checker that is not yet serving. probe may be nil.
func NewChecker(probe Probe) *Checker {
	return &Checker{probe: probe}
}

// SetServing marks the server as accepting traffic.
func (c *Checker) SetServing() {
	c.serving.Store(true)
}

// SetDraining marks the server as shutting down.
func (c *Checker) SetDraining() {
	c.serving.Store(false)
}

type healthResponse struct {
	Status  string `json:"status"`
	Backend string `json:"backend,omitempty"`
}

// LivenessHandler always responds 200 OK. Use for livenessProbe (/healthz).
func (*Checker) LivenessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, healthResponse{Status: "ok"})
	}
}

// ReadinessHandler responds 200 when serving and the engine probe passes,
// 503 otherwise. Use for readinessProbe (/readyz).
func (c *Checker) ReadinessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !c.serving.Load() {
			writeJSON(w, http.StatusServiceUnavailable, healthResponse{Status: "draining"})
			return
		}
		resp := healthResponse{Status: "ready"}
		if c.probe != nil {
			ctx, cancel := context.WithTimeout(r.Context(), probeTimeout)
			defer cancel()
			if err := c.probe(ctx); err != nil {
				resp.Status = "degraded"
				resp.Backend = "unreachable"
				writeJSON(w, http.StatusServiceUnavailable, resp)
				return
			}
			resp.Backend = "ok"
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func writeJSON(w http.ResponseWriter, code int, v healthResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
