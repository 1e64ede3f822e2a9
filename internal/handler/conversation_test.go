package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/conversagent/orchestrator/internal/isolation"
	"github.com/conversagent/orchestrator/internal/orchestrator"
)

func newConversationDeps() ConversationDeps {
	return ConversationDeps{
		Store:       orchestrator.NewStore(),
		Locks:       isolation.NewConversationLocks(),
		RateLimiter: nil,
	}
}

func withIDParam(r *http.Request, id string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add("id", id)
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

func decodeAPIResponse(t *testing.T, rec *httptest.ResponseRecorder) APIResponse {
	t.Helper()
	var resp APIResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("response is not valid JSON: %v, body=%s", err, rec.Body.String())
	}
	return resp
}

func TestCreateConversation_RequiresUserID(t *testing.T) {
	deps := newConversationDeps()
	body := bytes.NewBufferString(`{"mode":"workflow"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/conversations", body)
	rec := httptest.NewRecorder()

	CreateConversation(deps)(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestCreateConversation_DefaultsModeToWorkflow(t *testing.T) {
	deps := newConversationDeps()
	body := bytes.NewBufferString(`{"user_id":"u1"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/conversations", body)
	rec := httptest.NewRecorder()

	CreateConversation(deps)(rec, req)

	resp := decodeAPIResponse(t, rec)
	if !resp.Success {
		t.Fatalf("expected success, got %+v", resp)
	}
	data := resp.Data.(map[string]any)
	if data["mode"] != "workflow" {
		t.Errorf("mode = %v, want workflow", data["mode"])
	}
	if data["is_custom_id"] != false {
		t.Errorf("is_custom_id = %v, want false", data["is_custom_id"])
	}
}

func TestCreateConversation_HonorsCustomIDAndMode(t *testing.T) {
	deps := newConversationDeps()
	body := bytes.NewBufferString(`{"user_id":"u1","mode":"agent","conversation_id":"c-fixed"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/conversations", body)
	rec := httptest.NewRecorder()

	CreateConversation(deps)(rec, req)

	resp := decodeAPIResponse(t, rec)
	data := resp.Data.(map[string]any)
	if data["conversation_id"] != "c-fixed" {
		t.Errorf("conversation_id = %v, want c-fixed", data["conversation_id"])
	}
	if data["is_custom_id"] != true {
		t.Errorf("is_custom_id = %v, want true", data["is_custom_id"])
	}
}

func TestCreateConversation_RejectsUnsupportedMode(t *testing.T) {
	deps := newConversationDeps()
	body := bytes.NewBufferString(`{"user_id":"u1","mode":"bogus"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/conversations", body)
	rec := httptest.NewRecorder()

	CreateConversation(deps)(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	resp := decodeAPIResponse(t, rec)
	if resp.ErrorCode != isolation.CodeUnsupportedMode {
		t.Errorf("error_code = %q, want %q", resp.ErrorCode, isolation.CodeUnsupportedMode)
	}
}

func TestListConversations_FiltersByUserID(t *testing.T) {
	deps := newConversationDeps()
	deps.Store.Create("alice", "workflow", "")
	deps.Store.Create("bob", "workflow", "")

	req := httptest.NewRequest(http.MethodGet, "/api/v1/conversations?user_id=alice", nil)
	rec := httptest.NewRecorder()

	ListConversations(deps)(rec, req)

	resp := decodeAPIResponse(t, rec)
	convs := resp.Data.(map[string]any)["conversations"].([]any)
	if len(convs) != 1 {
		t.Fatalf("len(conversations) = %d, want 1", len(convs))
	}
}

func TestDeleteConversation_RemovesTaskAndHistory(t *testing.T) {
	deps := newConversationDeps()
	id, _ := deps.Store.Create("u1", "workflow", "")
	deps.Store.AppendMessage(id, "user", "hi")

	req := httptest.NewRequest(http.MethodDelete, "/api/v1/conversations/"+id, nil)
	req = withIDParam(req, id)
	rec := httptest.NewRecorder()

	DeleteConversation(deps)(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if _, err := deps.Store.Get(id); err == nil {
		t.Error("expected task to be removed")
	}
}

func TestDeleteConversation_UnknownIDReturns404(t *testing.T) {
	deps := newConversationDeps()
	req := httptest.NewRequest(http.MethodDelete, "/api/v1/conversations/nope", nil)
	req = withIDParam(req, "nope")
	rec := httptest.NewRecorder()

	DeleteConversation(deps)(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestHistory_UnknownConversationReturns404(t *testing.T) {
	deps := newConversationDeps()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/conversations/nope/history", nil)
	req = withIDParam(req, "nope")
	rec := httptest.NewRecorder()

	History(deps)(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestHistory_ReturnsAccumulatedMessages(t *testing.T) {
	deps := newConversationDeps()
	id, _ := deps.Store.Create("u1", "workflow", "")
	deps.Store.AppendMessage(id, "user", "hello")
	deps.Store.AppendMessage(id, "assistant", "hi there")

	req := httptest.NewRequest(http.MethodGet, "/api/v1/conversations/"+id+"/history", nil)
	req = withIDParam(req, id)
	rec := httptest.NewRecorder()

	History(deps)(rec, req)

	resp := decodeAPIResponse(t, rec)
	msgs := resp.Data.(map[string]any)["messages"].([]any)
	if len(msgs) != 2 {
		t.Fatalf("len(messages) = %d, want 2", len(msgs))
	}
}

func TestSummary_ReturnsMessageCount(t *testing.T) {
	deps := newConversationDeps()
	id, _ := deps.Store.Create("u1", "workflow", "")
	deps.Store.AppendMessage(id, "user", "hello")

	req := httptest.NewRequest(http.MethodGet, "/api/v1/conversations/"+id+"/summary", nil)
	req = withIDParam(req, id)
	rec := httptest.NewRecorder()

	Summary(deps)(rec, req)

	resp := decodeAPIResponse(t, rec)
	data := resp.Data.(map[string]any)
	if data["message_count"].(float64) != 1 {
		t.Errorf("message_count = %v, want 1", data["message_count"])
	}
}

func TestStatistics_AggregatesAcrossConversations(t *testing.T) {
	deps := newConversationDeps()
	deps.Store.Create("u1", "workflow", "")
	deps.Store.Create("u2", "agent", "")

	req := httptest.NewRequest(http.MethodGet, "/api/v1/statistics", nil)
	rec := httptest.NewRecorder()

	Statistics(deps)(rec, req)

	resp := decodeAPIResponse(t, rec)
	total := resp.Data.(map[string]any)["total_conversations"]
	if total.(float64) != 2 {
		t.Errorf("total_conversations = %v, want 2", total)
	}
}

func TestSendMessage_UnknownConversationReturns404(t *testing.T) {
	deps := newConversationDeps()
	body := bytes.NewBufferString(`{"message":"hi"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/conversations/nope/messages", body)
	req = withIDParam(req, "nope")
	rec := httptest.NewRecorder()

	SendMessage(deps)(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestSendMessage_RejectsWhenConversationLocked(t *testing.T) {
	deps := newConversationDeps()
	id, _ := deps.Store.Create("u1", "workflow", "")
	release, ok := deps.Locks.TryAcquire(id)
	if !ok {
		t.Fatal("failed to acquire lock for test setup")
	}
	defer release()

	body := bytes.NewBufferString(`{"message":"hi"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/conversations/"+id+"/messages", body)
	req = withIDParam(req, id)
	rec := httptest.NewRecorder()

	SendMessage(deps)(rec, req)

	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", rec.Code)
	}
	resp := decodeAPIResponse(t, rec)
	if resp.ErrorCode != isolation.CodeStreamError {
		t.Errorf("error_code = %q, want %q", resp.ErrorCode, isolation.CodeStreamError)
	}
}

func TestSendMessage_RejectsOverRateLimit(t *testing.T) {
	deps := newConversationDeps()
	deps.RateLimiter = isolation.NewRateLimiter(isolation.RateLimiterConfig{MaxRequests: 0, Window: 0})
	id, _ := deps.Store.Create("u1", "workflow", "")

	body := bytes.NewBufferString(`{"message":"hi"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/conversations/"+id+"/messages", body)
	req = withIDParam(req, id)
	rec := httptest.NewRecorder()

	SendMessage(deps)(rec, req)

	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", rec.Code)
	}
}

func TestSendMessage_RejectsEmptyMessage(t *testing.T) {
	deps := newConversationDeps()
	id, _ := deps.Store.Create("u1", "workflow", "")

	body := bytes.NewBufferString(`{"message":""}`)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/conversations/"+id+"/messages", body)
	req = withIDParam(req, id)
	rec := httptest.NewRecorder()

	SendMessage(deps)(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	resp := decodeAPIResponse(t, rec)
	if resp.ErrorCode != isolation.CodeValidation {
		t.Errorf("error_code = %q, want %q", resp.ErrorCode, isolation.CodeValidation)
	}
}

func TestStreamMessage_RejectsEmptyMessage(t *testing.T) {
	deps := newConversationDeps()
	id, _ := deps.Store.Create("u1", "workflow", "")

	body := bytes.NewBufferString(`{"message":""}`)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/conversations/"+id+"/stream", body)
	req = withIDParam(req, id)
	rec := httptest.NewRecorder()

	StreamMessage(deps)(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	resp := decodeAPIResponse(t, rec)
	if resp.ErrorCode != isolation.CodeValidation {
		t.Errorf("error_code = %q, want %q", resp.ErrorCode, isolation.CodeValidation)
	}
}
