// Package orchestrator holds the conversation data model and the in-memory
// registry that tracks every conversation's lifecycle, task plan, and
// accumulated history.
package orchestrator

import (
	"time"
)

// Message is one turn of a conversation.
type Message struct {
	Role      string    `json:"role"` // "user" | "assistant"
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// ConversationHistory is the ordered transcript of a conversation, plus an
// optional summary. The summary endpoint reports Summary, but no code path
// in this module sets it, so it stays empty.
type ConversationHistory struct {
	ConversationID string    `json:"conversation_id"`
	Messages       []Message `json:"messages"`
	Summary        string    `json:"summary,omitempty"`
}

// SearchResult mirrors adapter.SearchResult at the orchestrator layer so
// this package does not need to import internal/adapter just to describe
// task output shapes.
type SearchResult struct {
	Title    string         `json:"title"`
	Content  string         `json:"content"`
	URL      string         `json:"url,omitempty"`
	Score    float64        `json:"score,omitempty"`
	Source   string         `json:"source"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// TaskKind enumerates the task types a plan can schedule.
type TaskKind string

const (
	TaskOnlineSearch    TaskKind = "online_search"
	TaskKnowledgeSearch TaskKind = "knowledge_search"
	TaskLightRAGQuery   TaskKind = "lightrag_query"
)

// PlannedTask is one unit of work in a TaskPlan.
type PlannedTask struct {
	Kind  TaskKind `json:"kind"`
	Query string   `json:"query"`
	// CollectionName selects a named knowledge collection for
	// TaskKnowledgeSearch; ignored otherwise.
	CollectionName string `json:"collection_name,omitempty"`
}

// TaskPlan is the output of the planning stage: an ordered, fixed set of
// tasks to execute concurrently. Order is preserved end to end so that
// results can be correlated back to the plan that produced them.
type TaskPlan struct {
	ExpandedQuestion string        `json:"expanded_question"`
	Tasks            []PlannedTask `json:"tasks"`
}

// TaskResult pairs a PlannedTask with its outcome. Err is set when the task
// failed; otherwise Results holds its (possibly empty) output. A failed
// task never aborts its siblings.
type TaskResult struct {
	Task    PlannedTask    `json:"task"`
	Results []SearchResult `json:"results,omitempty"`
	Err     error          `json:"-"`
	ErrCode string         `json:"error_code,omitempty"`
}

// Status is the lifecycle state of a ConversationTask.
type Status string

const (
	StatusPending    Status = "pending"
	StatusRunning    Status = "running"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

// ConversationTask is the in-flight unit of work tracked by the registry:
// one active (or most recently completed) processing run for a
// conversation. Only one task may be running per conversation at a time
// (enforced by the isolation layer's per-conversation lock).
type ConversationTask struct {
	ConversationID string
	UserID         string
	Mode           string // "workflow" | "agent"
	Status         Status
	Plan           *TaskPlan
	StartedAt      time.Time
	EndedAt        time.Time
	Cancel         func()
	Err            error
}
