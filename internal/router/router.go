package router

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/conversagent/orchestrator/internal/handler"
	"github.com/conversagent/orchestrator/internal/middleware"
	"github.com/conversagent/orchestrator/internal/service"
)

// Dependencies holds every injected component the router wires into
// handlers.
type Dependencies struct {
	DB                 handler.DBPinger
	FrontendURL        string
	Version            string
	Metrics            *middleware.Metrics
	MetricsReg         *prometheus.Registry
	InternalAuthSecret string
	// AuthService is non-nil when FIREBASE_PROJECT_ID is configured; it
	// upgrades the route gate from internal-secret-only to the teacher's
	// internal-or-Firebase split.
	AuthService *service.AuthService

	Conversation handler.ConversationDeps
	HealthV1     handler.HealthV1Deps
}

// New creates and configures the Chi router with every route this
// orchestrator exposes.
func New(deps *Dependencies) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.Logging)
	r.Use(middleware.CORS(deps.FrontendURL))
	r.Use(middleware.BearerToken)
	if deps.Metrics != nil {
		r.Use(middleware.Monitoring(deps.Metrics))
	}

	r.Get("/api/health", handler.Health(deps.DB, deps.Version))
	if deps.MetricsReg != nil {
		r.Handle("/metrics", middleware.MetricsHandler(deps.MetricsReg))
	}

	r.Group(func(r chi.Router) {
		if deps.AuthService != nil {
			r.Use(middleware.InternalOrFirebaseAuth(deps.AuthService, deps.InternalAuthSecret))
		} else {
			r.Use(middleware.InternalSecretGate(deps.InternalAuthSecret))
		}

		timeout30s := middleware.Timeout(30 * time.Second)

		r.With(timeout30s).Post("/api/v1/conversations", handler.CreateConversation(deps.Conversation))
		r.With(timeout30s).Get("/api/v1/conversations", handler.ListConversations(deps.Conversation))
		r.With(timeout30s).Delete("/api/v1/conversations/{id}", handler.DeleteConversation(deps.Conversation))
		r.With(timeout30s).Get("/api/v1/conversations/{id}/history", handler.History(deps.Conversation))
		r.With(timeout30s).Get("/api/v1/conversations/{id}/summary", handler.Summary(deps.Conversation))
		r.With(timeout30s).Post("/api/v1/conversations/{id}/messages", handler.SendMessage(deps.Conversation))

		// Streaming endpoint: no write-timeout wrapper, it would sever the
		// SSE connection well before a multi-stage run completes.
		r.Post("/api/v1/conversations/{id}/stream", handler.StreamMessage(deps.Conversation))

		r.With(timeout30s).Get("/api/v1/statistics", handler.Statistics(deps.Conversation))
		r.With(timeout30s).Get("/api/v1/health", handler.HealthCheck(deps.HealthV1))
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(map[string]any{"success": false, "error": "route not found"})
	})

	return r
}
