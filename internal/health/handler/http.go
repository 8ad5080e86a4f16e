// Package handler exposes the liveness/readiness endpoint.
package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

// Check is a named dependency probe.
type Check struct {
	Name string
	Ping func(ctx context.Context) error
}

const checkTimeout = 2 * time.Second

// Health returns a handler that probes each dependency and reports 200 when
// all pass, 503 with the failing names otherwise.
func Health(checks ...Check) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
		defer cancel()

		var failing []string
		for _, c := range checks {
			if c.Ping == nil {
				continue
			}
			if err := c.Ping(ctx); err != nil {
				failing = append(failing, c.Name)
			}
		}

		w.Header().Set("Content-Type", "application/json")
		if len(failing) > 0 {
			w.WriteHeader(http.StatusServiceUnavailable)
			_ = json.NewEncoder(w).Encode(map[string]any{"status": "degraded", "failing": failing})
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	}
}
