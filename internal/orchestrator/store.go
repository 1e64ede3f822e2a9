package orchestrator

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrUnsupportedMode is returned by Create when mode is not one of the
// supported processing modes.
var ErrUnsupportedMode = errors.New("unsupported mode")

// ErrNotFound is returned by Get/Close when no task is registered under
// the given conversation id.
var ErrNotFound = errors.New("conversation not found")

var supportedModes = map[string]bool{
	"workflow": true,
	"agent":    true,
}

// Summary is the snapshot form returned by List; it never exposes the
// live Cancel func or other mutable internals.
type Summary struct {
	ConversationID string    `json:"conversation_id"`
	UserID         string    `json:"user_id"`
	Mode           string    `json:"mode"`
	Status         Status    `json:"status"`
	StartedAt      time.Time `json:"started_at"`
}

// Stats is the aggregate view returned by Statistics.
type Stats struct {
	TotalConversations int            `json:"total_conversations"`
	ByMode             map[string]int `json:"by_mode"`
	ByStatus           map[string]int `json:"by_status"`
}

// Store is the single authority for conversation identity and lifecycle.
// Its own map is guarded by a mutex; safety for concurrent access to one
// conversation's stream is a separate concern, owned by the isolation
// layer's per-conversation lock.
type Store struct {
	mu    sync.RWMutex
	tasks map[string]*ConversationTask

	histMu sync.RWMutex
	history map[string]*ConversationHistory
}

func NewStore() *Store {
	return &Store{
		tasks:   make(map[string]*ConversationTask),
		history: make(map[string]*ConversationHistory),
	}
}

// Create registers a new conversation task. If conversationID is empty, a
// fresh UUID is minted.
func (s *Store) Create(userID, mode, conversationID string) (string, error) {
	if !supportedModes[mode] {
		return "", ErrUnsupportedMode
	}
	if conversationID == "" {
		conversationID = uuid.NewString()
	}

	task := &ConversationTask{
		ConversationID: conversationID,
		UserID:         userID,
		Mode:           mode,
		Status:         StatusPending,
		StartedAt:      time.Now(),
	}

	s.mu.Lock()
	s.tasks[conversationID] = task
	s.mu.Unlock()

	s.histMu.Lock()
	if _, ok := s.history[conversationID]; !ok {
		s.history[conversationID] = &ConversationHistory{ConversationID: conversationID}
	}
	s.histMu.Unlock()

	return conversationID, nil
}

// Get returns the live task handle for id.
func (s *Store) Get(id string) (*ConversationTask, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	task, ok := s.tasks[id]
	if !ok {
		return nil, ErrNotFound
	}
	return task, nil
}

// MarkRunning transitions a task to running and records its cancel func,
// so a concurrent Close can interrupt an in-flight drive call. A no-op if
// the task was already closed out from under the caller.
func (s *Store) MarkRunning(id string, cancel func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if task, ok := s.tasks[id]; ok {
		task.Status = StatusRunning
		task.Cancel = cancel
	}
}

// MarkDone transitions a task to a terminal status once its drive call
// returns, clearing the cancel func since there is nothing left to
// cancel. A no-op if the task was already closed out from under the
// caller.
func (s *Store) MarkDone(id string, status Status) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if task, ok := s.tasks[id]; ok {
		task.Status = status
		task.EndedAt = time.Now()
		task.Cancel = nil
	}
}

// Close transitions a running task to cancelled and removes it from the
// registry. Idempotent: a second call reports ErrNotFound. The
// conversation's accumulated history is retained independently of the task
// handle's lifecycle.
func (s *Store) Close(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	task, ok := s.tasks[id]
	if !ok {
		return ErrNotFound
	}
	if task.Status == StatusRunning && task.Cancel != nil {
		task.Cancel()
		task.Status = StatusCancelled
		task.EndedAt = time.Now()
	}
	delete(s.tasks, id)
	return nil
}

// List returns summaries of currently-registered tasks, optionally
// filtered by user_id (empty userID returns everything).
func (s *Store) List(userID string) []Summary {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Summary, 0, len(s.tasks))
	for _, t := range s.tasks {
		if userID != "" && t.UserID != userID {
			continue
		}
		out = append(out, Summary{
			ConversationID: t.ConversationID,
			UserID:         t.UserID,
			Mode:           t.Mode,
			Status:         t.Status,
			StartedAt:      t.StartedAt,
		})
	}
	return out
}

// Statistics aggregates the registry by mode and status.
func (s *Store) Statistics() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := Stats{ByMode: map[string]int{}, ByStatus: map[string]int{}}
	for _, t := range s.tasks {
		stats.TotalConversations++
		stats.ByMode[t.Mode]++
		stats.ByStatus[string(t.Status)]++
	}
	return stats
}

// History returns the conversation's transcript, creating an empty one if
// the conversation has never been recorded.
func (s *Store) History(id string) *ConversationHistory {
	s.histMu.Lock()
	defer s.histMu.Unlock()
	h, ok := s.history[id]
	if !ok {
		h = &ConversationHistory{ConversationID: id}
		s.history[id] = h
	}
	return h
}

// AppendMessage adds one turn to a conversation's transcript.
func (s *Store) AppendMessage(id, role, content string) {
	s.histMu.Lock()
	defer s.histMu.Unlock()
	h, ok := s.history[id]
	if !ok {
		h = &ConversationHistory{ConversationID: id}
		s.history[id] = h
	}
	h.Messages = append(h.Messages, Message{Role: role, Content: content, Timestamp: time.Now()})
}

// DeleteHistory removes a conversation's transcript entirely.
func (s *Store) DeleteHistory(id string) {
	s.histMu.Lock()
	defer s.histMu.Unlock()
	delete(s.history, id)
}
