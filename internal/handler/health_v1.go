package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/conversagent/orchestrator/internal/isolation"
)

// HealthV1Deps names every backing service whose reachability is worth
// reporting separately, beyond the single database ping Health (the
// ambient /api/health route) already covers.
type HealthV1Deps struct {
	DB       DBPinger
	Breakers *isolation.Breakers
	Version  string
}

// HealthCheck handles GET /api/v1/health.
func HealthCheck(deps HealthV1Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
		defer cancel()

		services := map[string]string{}
		status := "ok"

		if deps.DB != nil {
			if err := deps.DB.Ping(ctx); err != nil {
				services["database"] = "disconnected"
				status = "degraded"
			} else {
				services["database"] = "connected"
			}
		}

		if deps.Breakers != nil {
			for name, b := range map[string]*isolation.CircuitBreaker{
				"chat_adapter": deps.Breakers.Chat, "search_adapter": deps.Breakers.Search,
				"doc_adapter": deps.Breakers.Doc, "graph_adapter": deps.Breakers.Graph,
			} {
				state, _ := b.Snapshot()
				services[name] = string(state)
				if state == isolation.StateOpen {
					status = "degraded"
				}
			}
		}

		httpStatus := http.StatusOK
		if status != "ok" {
			httpStatus = http.StatusServiceUnavailable
		}

		respondJSON(w, httpStatus, map[string]any{
			"status":    status,
			"version":   deps.Version,
			"timestamp": time.Now(),
			"services":  services,
		})
	}
}
