package stream

import (
	"context"
	"log/slog"
	"net/http"
)

// Writer is the minimal surface the multiplexer needs from an HTTP
// response: write bytes and flush them immediately (the stream handler
// passes its ResponseWriter wrapped in handler.flushWriter).
type Writer interface {
	Write([]byte) (int, error)
	http.Flusher
}

// Multiplexer drains a conversation driver's internal event channel onto an
// SSE response, applying the wire-level guarantees the spec requires:
// an empty run still yields at least one content frame, a driver panic or
// error becomes one error frame, and every stream ends with the [DONE]
// sentinel. A clean finish puts a completed status frame before the
// sentinel; an error or a cancelled context puts the error frame there
// instead.
type Multiplexer struct {
	w               Writer
	conversationID  string
	sawContent      bool
	totalResponses  int
	contentReceived int
}

func NewMultiplexer(w Writer, conversationID string) *Multiplexer {
	return &Multiplexer{w: w, conversationID: conversationID}
}

func (m *Multiplexer) write(e Event) {
	frame, err := Frame(e)
	if err != nil {
		slog.Error("stream: failed to encode event", "conversation_id", m.conversationID, "error", err)
		return
	}
	if _, err := m.w.Write(frame); err != nil {
		return
	}
	m.w.Flush()
}

func (m *Multiplexer) writeSentinel() {
	if _, err := m.w.Write([]byte(Sentinel)); err != nil {
		return
	}
	m.w.Flush()
}

// Run drains events until the channel closes or driverErr resolves,
// whichever happens first would be racy, so callers are expected to close
// events only after the driver goroutine has returned (or recovered from a
// panic) and sent its terminal error, if any, on driverErr.
//
// Run always terminates the stream with the [DONE] sentinel, preceded by
// one completed status frame when the driver finished cleanly or by one
// error frame when it failed or the context was cancelled.
func (m *Multiplexer) Run(ctx context.Context, events <-chan Event, driverErr <-chan error) {
	defer m.writeSentinel()

	for {
		select {
		case e, ok := <-events:
			if !ok {
				m.finish(driverErr)
				return
			}
			m.totalResponses++
			if e.Type == TypeContent && e.Content != "" {
				m.sawContent = true
				m.contentReceived++
			}
			m.write(e)
		case <-ctx.Done():
			m.write(NewErrorEvent(m.conversationID, "STREAM_ERROR", ctx.Err().Error(), nil))
			return
		}
	}
}

func (m *Multiplexer) finish(driverErr <-chan error) {
	var err error
	select {
	case err = <-driverErr:
	default:
	}

	if err != nil {
		m.write(NewErrorEvent(m.conversationID, classifyForStream(err), err.Error(), nil))
		return
	}

	if !m.sawContent {
		m.write(NewContentEvent(m.conversationID, "[no content returned by the model]", "completed", "completed", nil))
		m.contentReceived++
		m.totalResponses++
	}
	m.write(NewStatusEventWithDescription(m.conversationID, "completed", "completed", "all tasks done", floatPtr(1.0), map[string]any{
		"total_responses":  m.totalResponses,
		"content_received": m.contentReceived,
	}))
}

func floatPtr(f float64) *float64 { return &f }

// classifyForStream is a best-effort code for an error surfaced out of a
// driver goroutine. The isolation package's classifier produces the
// authoritative code before a driver error reaches here; this is only a
// fallback for errors that bypass it (e.g. panics recovered inline).
func classifyForStream(err error) string {
	if err == nil {
		return "UNKNOWN_ERROR"
	}
	if err == context.DeadlineExceeded {
		return "TIMEOUT_ERROR"
	}
	return "UNKNOWN_ERROR"
}
