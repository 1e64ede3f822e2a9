package adapter

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

// redirectTransport rewrites every outbound request's URL to point at the
// test server, since completeREST/streamREST hardcode the Vertex AI host.
type redirectTransport struct {
	base *httptest.Server
}

func (rt *redirectTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req.URL.Scheme = "http"
	req.URL.Host = strings.TrimPrefix(rt.base.URL, "http://")
	return http.DefaultTransport.RoundTrip(req)
}

func newRedirectingAdapter(t *testing.T, handler http.HandlerFunc) *ChatAdapter {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	return &ChatAdapter{
		httpClient: &http.Client{Transport: &redirectTransport{base: srv}},
		project:    "proj",
		location:   "global",
		model:      "gemini-test",
		useREST:    true,
		timeout:    2 * time.Second,
	}
}

func TestComplete_REST_Success(t *testing.T) {
	a := newRedirectingAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		resp := restGenerateResponse{}
		resp.Candidates = []struct {
			Content struct {
				Parts []struct {
					Text string `json:"text"`
				} `json:"parts"`
			} `json:"content"`
		}{{}}
		resp.Candidates[0].Content.Parts = []struct {
			Text string `json:"text"`
		}{{Text: "hello there"}}
		json.NewEncoder(w).Encode(resp)
	})

	text, err := a.Complete(context.Background(), "hi", CompletionParams{Temperature: 0.5})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if text != "hello there" {
		t.Errorf("text = %q, want %q", text, "hello there")
	}
}

func TestComplete_REST_HTTPError(t *testing.T) {
	a := newRedirectingAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte("boom"))
	})

	_, err := a.Complete(context.Background(), "hi", CompletionParams{})
	var ae *AdapterError
	if err == nil {
		t.Fatal("expected an error")
	}
	if !isAdapterErrorKind(err, KindHTTPStatus, &ae) {
		t.Errorf("err = %v, want KindHTTPStatus", err)
	}
}

func TestComplete_REST_EmptyCandidates(t *testing.T) {
	a := newRedirectingAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(restGenerateResponse{})
	})

	_, err := a.Complete(context.Background(), "hi", CompletionParams{})
	if err == nil {
		t.Fatal("expected an error for an empty candidate list")
	}
}

func TestCompleteJSON_ParsesDirectJSON(t *testing.T) {
	a := newRedirectingAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		resp := makeTextResponse(`{"expanded_question":"what is go"}`)
		json.NewEncoder(w).Encode(resp)
	})

	var out struct {
		ExpandedQuestion string `json:"expanded_question"`
	}
	if err := a.CompleteJSON(context.Background(), "q", CompletionParams{}, &out); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.ExpandedQuestion != "what is go" {
		t.Errorf("ExpandedQuestion = %q, want %q", out.ExpandedQuestion, "what is go")
	}
}

func TestCompleteJSON_ExtractsEmbeddedObject(t *testing.T) {
	a := newRedirectingAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		resp := makeTextResponse(`Sure, here you go: {"expanded_question":"embedded"} hope that helps!`)
		json.NewEncoder(w).Encode(resp)
	})

	var out struct {
		ExpandedQuestion string `json:"expanded_question"`
	}
	if err := a.CompleteJSON(context.Background(), "q", CompletionParams{}, &out); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.ExpandedQuestion != "embedded" {
		t.Errorf("ExpandedQuestion = %q, want %q", out.ExpandedQuestion, "embedded")
	}
}

func TestCompleteJSON_NoObjectFound(t *testing.T) {
	a := newRedirectingAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		resp := makeTextResponse(`no json here at all`)
		json.NewEncoder(w).Encode(resp)
	})

	var out struct{}
	if err := a.CompleteJSON(context.Background(), "q", CompletionParams{}, &out); err == nil {
		t.Fatal("expected a decode error when no JSON object is present")
	}
}

func TestExtractBalancedObject(t *testing.T) {
	cases := map[string]string{
		`{"a":1}`:                     `{"a":1}`,
		`prefix {"a":{"b":2}} suffix`: `{"a":{"b":2}}`,
		`no braces here`:              "",
	}
	for in, want := range cases {
		if got := extractBalancedObject(in); got != want {
			t.Errorf("extractBalancedObject(%q) = %q, want %q", in, got, want)
		}
	}
}

func makeTextResponse(text string) restGenerateResponse {
	resp := restGenerateResponse{}
	resp.Candidates = []struct {
		Content struct {
			Parts []struct {
				Text string `json:"text"`
			} `json:"parts"`
		} `json:"content"`
	}{{}}
	resp.Candidates[0].Content.Parts = []struct {
		Text string `json:"text"`
	}{{Text: text}}
	return resp
}

func isAdapterErrorKind(err error, kind Kind, target **AdapterError) bool {
	ae, ok := err.(*AdapterError)
	if !ok {
		return false
	}
	*target = ae
	return ae.Kind == kind
}
