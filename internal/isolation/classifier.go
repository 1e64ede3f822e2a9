package isolation

import (
	"context"
	"errors"
	"net/http"

	"github.com/conversagent/orchestrator/internal/adapter"
)

// Stable error codes surfaced on the wire. The first block mirrors the
// reference error_handling.py exception→code table; the second block is
// added at the orchestrator layer for conditions that have no Python
// exception analogue.
const (
	CodeValidation      = "VALIDATION_ERROR"
	CodeTimeout         = "TIMEOUT_ERROR"
	CodeConnection      = "CONNECTION_ERROR"
	CodeHTTP            = "HTTP_ERROR"
	CodeMissingKey      = "MISSING_KEY_ERROR"
	CodeType            = "TYPE_ERROR"
	CodeRuntime         = "RUNTIME_ERROR"
	CodeFileNotFound    = "FILE_NOT_FOUND_ERROR"
	CodePermission      = "PERMISSION_ERROR"
	CodeUnknown         = "UNKNOWN_ERROR"

	CodeRateLimited          = "RATE_LIMITED"
	CodeConversationNotFound = "CONVERSATION_NOT_FOUND"
	CodeUnsupportedMode      = "UNSUPPORTED_MODE"
	CodeStreamError          = "STREAM_ERROR"
)

// Classify maps an arbitrary Go error raised during stage execution to one
// of the stable codes above. It never panics: an unrecognised error kind
// degrades to CodeUnknown rather than propagating.
func Classify(err error) string {
	if err == nil {
		return ""
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return CodeTimeout
	}
	if errors.Is(err, context.Canceled) {
		return CodeRuntime
	}
	if errors.Is(err, ErrCircuitOpen) {
		return CodeConnection
	}

	var ae *adapter.AdapterError
	if errors.As(err, &ae) {
		switch ae.Kind {
		case adapter.KindTimeout:
			return CodeTimeout
		case adapter.KindConnection:
			return CodeConnection
		case adapter.KindDecode:
			return CodeType
		case adapter.KindHTTPStatus:
			return classifyHTTPStatus(ae.Code)
		case adapter.KindUpstream:
			return CodeRuntime
		}
	}

	return CodeUnknown
}

func classifyHTTPStatus(code int) string {
	switch {
	case code == http.StatusNotFound:
		return CodeFileNotFound
	case code == http.StatusForbidden || code == http.StatusUnauthorized:
		return CodePermission
	case code >= 400 && code < 500:
		return CodeValidation
	default:
		return CodeHTTP
	}
}
