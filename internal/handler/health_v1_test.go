package handler

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/conversagent/orchestrator/internal/isolation"
)

func TestHealthCheck_AllHealthy(t *testing.T) {
	deps := HealthV1Deps{DB: &stubPinger{}, Breakers: isolation.NewBreakers(), Version: "test"}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	rec := httptest.NewRecorder()

	HealthCheck(deps)(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("status field = %v, want ok", body["status"])
	}
}

func TestHealthCheck_DBDownDegradesStatus(t *testing.T) {
	deps := HealthV1Deps{DB: &stubPinger{err: fmt.Errorf("connection refused")}, Breakers: isolation.NewBreakers(), Version: "test"}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	rec := httptest.NewRecorder()

	HealthCheck(deps)(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
	var body map[string]any
	json.Unmarshal(rec.Body.Bytes(), &body)
	if body["status"] != "degraded" {
		t.Errorf("status field = %v, want degraded", body["status"])
	}
	services := body["services"].(map[string]any)
	if services["database"] != "disconnected" {
		t.Errorf("database = %v, want disconnected", services["database"])
	}
}

func TestHealthCheck_OpenBreakerDegradesStatus(t *testing.T) {
	breakers := isolation.NewBreakers()
	for i := 0; i < 5; i++ {
		breakers.Chat.OnFailure()
	}

	deps := HealthV1Deps{DB: &stubPinger{}, Breakers: breakers, Version: "test"}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	rec := httptest.NewRecorder()

	HealthCheck(deps)(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503 once a breaker trips open", rec.Code)
	}
}

func TestHealthCheck_NoDBConfiguredStaysHealthy(t *testing.T) {
	deps := HealthV1Deps{Version: "test"}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	rec := httptest.NewRecorder()

	HealthCheck(deps)(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 when no DB/breakers configured", rec.Code)
	}
}
