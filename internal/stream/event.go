// Package stream defines the canonical StreamEvent wire format and the
// multiplexer that drains a conversation's internal event channel onto an
// SSE response.
package stream

import (
	"bytes"
	"encoding/json"
	"time"
)

// Type enumerates the four legal StreamEvent shapes. No other shapes are
// legal on the wire (spec invariant I4).
type Type string

const (
	TypeContent  Type = "content"
	TypeStatus   Type = "status"
	TypeProgress Type = "progress"
	TypeError    Type = "error"
)

// stageDescriptions renders a human-readable description for a status
// event's stage. Unknown stages fall back to a generic description.
var stageDescriptions = map[string]string{
	"initialization":    "initializing conversation",
	"expanding_question": "expanding/optimising question",
	"analyzing_question": "analysing question",
	"task_scheduling":    "scheduling tasks",
	"executing_tasks":    "executing tasks",
	"online_search":      "online search running",
	"knowledge_search":   "knowledge base search running",
	"lightrag_query":     "graph-RAG query running",
	"response_generation": "generating response",
	"generating_answer":  "generating answer",
	"completed":          "processing complete",
	"error":              "an error occurred",
}

// StageDescription renders the canonical description for a stage name.
func StageDescription(stage string) string {
	if d, ok := stageDescriptions[stage]; ok {
		return d
	}
	return "current stage: " + stage
}

// Event is the canonical, serializable representation of a StreamEvent. The
// Go type stays a single flat struct (rather than a sum type) to match the
// wire shape exactly; constructors below enforce which fields are
// populated for each Type.
type Event struct {
	Type           Type      `json:"type"`
	ConversationID string    `json:"conversation_id"`
	Timestamp      time.Time `json:"timestamp"`

	// content
	Content string `json:"content,omitempty"`

	// status / content / progress share these
	Stage    string  `json:"stage,omitempty"`
	Status   string  `json:"status,omitempty"`
	Progress *float64 `json:"progress,omitempty"`

	// status-only
	Description string         `json:"description,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`

	// error-only
	Error string `json:"error,omitempty"`
	Code  string `json:"code,omitempty"`
}

func clampProgress(p float64) float64 {
	if p < 0 {
		return 0
	}
	if p > 1 {
		return 1
	}
	return p
}

// NewContentEvent builds a content event carrying partial or full
// assistant text.
func NewContentEvent(conversationID, text, stage, status string, progress *float64) Event {
	e := Event{
		Type:           TypeContent,
		ConversationID: conversationID,
		Timestamp:      time.Now(),
		Content:        text,
		Stage:          stage,
		Status:         status,
	}
	if progress != nil {
		p := clampProgress(*progress)
		e.Progress = &p
	}
	return e
}

// NewStatusEvent builds a status event with its rendered stage description.
func NewStatusEvent(conversationID, stage, status string, progress *float64, metadata map[string]any) Event {
	e := Event{
		Type:           TypeStatus,
		ConversationID: conversationID,
		Timestamp:      time.Now(),
		Stage:          stage,
		Status:         status,
		Description:    StageDescription(stage),
		Metadata:       metadata,
	}
	if progress != nil {
		p := clampProgress(*progress)
		e.Progress = &p
	}
	return e
}

// NewStatusEventWithDescription is NewStatusEvent but with an explicit
// description overriding the stage-table lookup, for the one frame (the
// multiplexer's terminal status) whose wording is fixed by spec rather
// than derived from its stage name.
func NewStatusEventWithDescription(conversationID, stage, status, description string, progress *float64, metadata map[string]any) Event {
	e := NewStatusEvent(conversationID, stage, status, progress, metadata)
	e.Description = description
	return e
}

// NewProgressEvent builds a progress event.
func NewProgressEvent(conversationID, stage string, fraction float64) Event {
	p := clampProgress(fraction)
	return Event{
		Type:           TypeProgress,
		ConversationID: conversationID,
		Timestamp:      time.Now(),
		Stage:          stage,
		Progress:       &p,
	}
}

// NewErrorEvent builds an error event.
func NewErrorEvent(conversationID, code, message string, metadata map[string]any) Event {
	return Event{
		Type:           TypeError,
		ConversationID: conversationID,
		Timestamp:      time.Now(),
		Code:           code,
		Error:          message,
		Metadata:       metadata,
	}
}

// Sentinel is the literal terminator line appended to every stream.
const Sentinel = "data: [DONE]\n\n"

// Frame serializes an Event to its canonical `data: <json>\n\n` wire form.
// JSON is compact (no whitespace between key/value pairs).
func Frame(e Event) ([]byte, error) {
	payload, err := json.Marshal(e)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	buf.WriteString("data: ")
	buf.Write(payload)
	buf.WriteString("\n\n")
	return buf.Bytes(), nil
}
