package api

import (
	"context"
	"net/http"
	"time"
)

// pinger reports whether the durable store is reachable.
type pinger interface {
	Ping(ctx context.Context) error
}

// health answers liveness probes with 200 and a welcome payload.
func health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "success",
		"message": "欢迎咨询黄半仙！",
	})
}

// readiness answers readiness probes. With no durable store configured the
// server is ready as soon as it serves; otherwise the store must respond to
// a short ping.
func readiness(p pinger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if p == nil {
			writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if err := p.Ping(ctx); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status": "unavailable",
				"reason": "store unreachable",
			})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
}
