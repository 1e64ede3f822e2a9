package isolation

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/conversagent/orchestrator/internal/adapter"
)

func TestClassify_Nil(t *testing.T) {
	if code := Classify(nil); code != "" {
		t.Errorf("Classify(nil) = %q, want empty", code)
	}
}

func TestClassify_DeadlineExceeded(t *testing.T) {
	if code := Classify(context.DeadlineExceeded); code != CodeTimeout {
		t.Errorf("Classify(DeadlineExceeded) = %q, want %q", code, CodeTimeout)
	}
}

func TestClassify_Canceled(t *testing.T) {
	if code := Classify(context.Canceled); code != CodeRuntime {
		t.Errorf("Classify(Canceled) = %q, want %q", code, CodeRuntime)
	}
}

func TestClassify_CircuitOpen(t *testing.T) {
	if code := Classify(ErrCircuitOpen); code != CodeConnection {
		t.Errorf("Classify(ErrCircuitOpen) = %q, want %q", code, CodeConnection)
	}
}

func TestClassify_AdapterErrorKinds(t *testing.T) {
	cases := []struct {
		err  error
		want string
	}{
		{adapter.NewTimeoutError("slow", nil), CodeTimeout},
		{adapter.NewConnectionError("refused", nil), CodeConnection},
		{adapter.NewDecodeError("bad json", nil), CodeType},
		{adapter.NewUpstreamError("boom"), CodeRuntime},
	}
	for _, c := range cases {
		if got := Classify(c.err); got != c.want {
			t.Errorf("Classify(%v) = %q, want %q", c.err, got, c.want)
		}
	}
}

func TestClassify_HTTPStatusCodes(t *testing.T) {
	cases := []struct {
		status int
		want   string
	}{
		{http.StatusNotFound, CodeFileNotFound},
		{http.StatusUnauthorized, CodePermission},
		{http.StatusForbidden, CodePermission},
		{http.StatusBadRequest, CodeValidation},
		{http.StatusInternalServerError, CodeHTTP},
	}
	for _, c := range cases {
		err := adapter.NewHTTPStatusError(c.status, "body")
		if got := Classify(err); got != c.want {
			t.Errorf("Classify(status %d) = %q, want %q", c.status, got, c.want)
		}
	}
}

func TestClassify_UnknownErrorDefaultsToUnknown(t *testing.T) {
	if code := Classify(errors.New("something unrelated")); code != CodeUnknown {
		t.Errorf("Classify(unrelated) = %q, want %q", code, CodeUnknown)
	}
}

func TestClassify_WrappedAdapterError(t *testing.T) {
	inner := adapter.NewTimeoutError("deadline", nil)
	wrapped := errors.Join(errors.New("context"), inner)
	if code := Classify(wrapped); code != CodeTimeout {
		t.Errorf("Classify(wrapped) = %q, want %q", code, CodeTimeout)
	}
}
