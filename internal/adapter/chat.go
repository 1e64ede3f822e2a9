package adapter

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"cloud.google.com/go/vertexai/genai"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/iterator"
)

// ChatAdapter wraps a Vertex AI Gemini model. Mirrors the regional-SDK /
// global-REST split the rest of the stack uses for Vertex access, but
// without any retry loop: a failed call surfaces a typed AdapterError and
// the caller (a workflow stage) decides whether to fall back.
type ChatAdapter struct {
	client     *genai.Client
	httpClient *http.Client
	project    string
	location   string
	model      string
	useREST    bool
	timeout    time.Duration
}

// NewChatAdapter creates a ChatAdapter. location == "global" uses the REST
// API directly since the SDK does not support the global endpoint.
func NewChatAdapter(ctx context.Context, project, location, model string, timeout time.Duration) (*ChatAdapter, error) {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	if location == "global" {
		httpClient, err := google.DefaultClient(ctx, "https://www.googleapis.com/auth/cloud-platform")
		if err != nil {
			return nil, fmt.Errorf("adapter.NewChatAdapter: default credentials: %w", err)
		}
		return &ChatAdapter{httpClient: httpClient, project: project, location: location, model: model, useREST: true, timeout: timeout}, nil
	}

	client, err := genai.NewClient(ctx, project, location)
	if err != nil {
		return nil, fmt.Errorf("adapter.NewChatAdapter: %w", err)
	}
	return &ChatAdapter{client: client, project: project, location: location, model: model, timeout: timeout}, nil
}

// CompletionParams bundles the knobs every Complete/Stream call accepts.
type CompletionParams struct {
	Temperature float32
	MaxTokens   int32
	System      string
	HistoryTail string // rendered prior turns, appended ahead of the prompt
}

// Complete returns the full text response for prompt.
func (a *ChatAdapter) Complete(ctx context.Context, prompt string, p CompletionParams) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	full := joinPrompt(p.HistoryTail, prompt)
	if a.useREST {
		return a.completeREST(ctx, p.System, full, p)
	}
	return a.completeSDK(ctx, p.System, full, p)
}

func joinPrompt(historyTail, prompt string) string {
	if historyTail == "" {
		return prompt
	}
	return historyTail + "\n\n" + prompt
}

func (a *ChatAdapter) completeSDK(ctx context.Context, systemPrompt, userPrompt string, p CompletionParams) (string, error) {
	model := a.client.GenerativeModel(a.model)
	if systemPrompt != "" {
		model.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(systemPrompt)}}
	}
	temp := float32(p.Temperature)
	model.Temperature = &temp
	if p.MaxTokens > 0 {
		model.MaxOutputTokens = &p.MaxTokens
	}

	resp, err := model.GenerateContent(ctx, genai.Text(userPrompt))
	if ctx.Err() == context.DeadlineExceeded {
		return "", NewTimeoutError("chat completion", ctx.Err())
	}
	if err != nil {
		return "", NewConnectionError("chat completion", err)
	}
	text, err := extractText(resp)
	if err != nil {
		return "", NewUpstreamError(err.Error())
	}
	return text, nil
}

// restContent/restPart/restGenerationConfig mirror the Vertex AI REST body
// shape for the global endpoint.
type restContent struct {
	Role  string     `json:"role"`
	Parts []restPart `json:"parts"`
}

type restPart struct {
	Text string `json:"text"`
}

type restGenerationConfig struct {
	Temperature     *float32 `json:"temperature,omitempty"`
	MaxOutputTokens *int32   `json:"maxOutputTokens,omitempty"`
}

type restGenerateRequest struct {
	Contents          []restContent         `json:"contents"`
	SystemInstruction *restContent          `json:"systemInstruction,omitempty"`
	GenerationConfig  *restGenerationConfig `json:"generationConfig,omitempty"`
}

type restGenerateResponse struct {
	Candidates []struct {
		Content struct {
			Parts []struct {
				Text string `json:"text"`
			} `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func (a *ChatAdapter) buildRequest(systemPrompt, userPrompt string, p CompletionParams) restGenerateRequest {
	req := restGenerateRequest{
		Contents: []restContent{{Role: "user", Parts: []restPart{{Text: userPrompt}}}},
		GenerationConfig: &restGenerationConfig{
			Temperature: floatPtr(p.Temperature),
		},
	}
	if p.MaxTokens > 0 {
		req.GenerationConfig.MaxOutputTokens = &p.MaxTokens
	}
	if systemPrompt != "" {
		req.SystemInstruction = &restContent{Role: "user", Parts: []restPart{{Text: systemPrompt}}}
	}
	return req
}

func floatPtr(f float32) *float32 { return &f }

func (a *ChatAdapter) completeREST(ctx context.Context, systemPrompt, userPrompt string, p CompletionParams) (string, error) {
	url := fmt.Sprintf(
		"https://aiplatform.googleapis.com/v1/projects/%s/locations/global/publishers/google/models/%s:generateContent",
		a.project, a.model,
	)
	reqBody := a.buildRequest(systemPrompt, userPrompt, p)
	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return "", NewDecodeError("marshal request", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(bodyBytes))
	if err != nil {
		return "", NewConnectionError("build request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := a.httpClient.Do(httpReq)
	if ctx.Err() == context.DeadlineExceeded {
		return "", NewTimeoutError("chat completion", ctx.Err())
	}
	if err != nil {
		return "", NewConnectionError("chat completion", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", NewConnectionError("read response", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", NewHTTPStatusError(resp.StatusCode, string(respBody))
	}

	var genResp restGenerateResponse
	if err := json.Unmarshal(respBody, &genResp); err != nil {
		return "", NewDecodeError("decode response", err)
	}
	if genResp.Error != nil {
		return "", NewUpstreamError(genResp.Error.Message)
	}
	if len(genResp.Candidates) == 0 || len(genResp.Candidates[0].Content.Parts) == 0 {
		return "", NewUpstreamError("empty response from model")
	}

	var parts []string
	for _, part := range genResp.Candidates[0].Content.Parts {
		if part.Text != "" {
			parts = append(parts, part.Text)
		}
	}
	if len(parts) == 0 {
		return "", NewUpstreamError("no text in response")
	}
	return strings.Join(parts, ""), nil
}

func extractText(resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", fmt.Errorf("empty response from model")
	}
	var parts []string
	for _, part := range resp.Candidates[0].Content.Parts {
		if t, ok := part.(genai.Text); ok {
			parts = append(parts, string(t))
		}
	}
	return strings.Join(parts, ""), nil
}

// Stream returns a lazy finite sequence of token chunks terminated by the
// upstream closing both channels. Empty upstream output yields a single
// placeholder chunk so callers never see a zero-length stream.
func (a *ChatAdapter) Stream(ctx context.Context, prompt string, p CompletionParams) (<-chan string, <-chan error) {
	textCh := make(chan string, 64)
	errCh := make(chan error, 1)

	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	full := joinPrompt(p.HistoryTail, prompt)

	go func() {
		defer cancel()
		defer close(textCh)
		defer close(errCh)

		var err error
		sawAny := false
		emit := func(chunk string) {
			if chunk == "" {
				return
			}
			sawAny = true
			textCh <- chunk
		}

		if a.useREST {
			err = a.streamREST(ctx, p.System, full, p, emit)
		} else {
			err = a.streamSDK(ctx, p.System, full, p, emit)
		}

		if err != nil {
			if ctx.Err() == context.DeadlineExceeded {
				errCh <- NewTimeoutError("chat stream", ctx.Err())
			} else {
				errCh <- err
			}
			return
		}
		if !sawAny {
			textCh <- "[no content returned by the model]"
		}
	}()

	return textCh, errCh
}

func (a *ChatAdapter) streamSDK(ctx context.Context, systemPrompt, userPrompt string, p CompletionParams, emit func(string)) error {
	model := a.client.GenerativeModel(a.model)
	if systemPrompt != "" {
		model.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(systemPrompt)}}
	}
	temp := float32(p.Temperature)
	model.Temperature = &temp

	iter := model.GenerateContentStream(ctx, genai.Text(userPrompt))
	for {
		resp, err := iter.Next()
		if err == iterator.Done {
			return nil
		}
		if err != nil {
			return NewConnectionError("chat stream", err)
		}
		for _, cand := range resp.Candidates {
			if cand.Content == nil {
				continue
			}
			for _, part := range cand.Content.Parts {
				if t, ok := part.(genai.Text); ok {
					emit(string(t))
				}
			}
		}
	}
}

func (a *ChatAdapter) streamREST(ctx context.Context, systemPrompt, userPrompt string, p CompletionParams, emit func(string)) error {
	url := fmt.Sprintf(
		"https://aiplatform.googleapis.com/v1/projects/%s/locations/global/publishers/google/models/%s:streamGenerateContent?alt=sse",
		a.project, a.model,
	)
	reqBody := a.buildRequest(systemPrompt, userPrompt, p)
	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return NewDecodeError("marshal request", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(bodyBytes))
	if err != nil {
		return NewConnectionError("build request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := a.httpClient.Do(httpReq)
	if err != nil {
		return NewConnectionError("chat stream", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return NewHTTPStatusError(resp.StatusCode, string(body))
	}

	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := strings.TrimPrefix(line, "data: ")
		if data == "[DONE]" {
			break
		}
		var chunk restGenerateResponse
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			// A single malformed chunk is skipped; the stream continues.
			continue
		}
		for _, cand := range chunk.Candidates {
			for _, part := range cand.Content.Parts {
				emit(part.Text)
			}
		}
	}
	return scanner.Err()
}

// CompleteJSON invokes Complete and parses the result as JSON into v. On
// parse failure it attempts to extract the first balanced {...} span before
// giving up with a Decode error.
func (a *ChatAdapter) CompleteJSON(ctx context.Context, prompt string, p CompletionParams, v any) error {
	text, err := a.Complete(ctx, prompt, p)
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(text), v); err == nil {
		return nil
	}
	span := extractBalancedObject(text)
	if span == "" {
		return NewDecodeError("no valid JSON object in response", nil)
	}
	if err := json.Unmarshal([]byte(span), v); err != nil {
		return NewDecodeError("decode extracted JSON span", err)
	}
	return nil
}

// extractBalancedObject returns the first balanced {...} substring of s, or
// "" if none is found. Used to recover JSON that a model wrapped in prose.
func extractBalancedObject(s string) string {
	start := strings.IndexByte(s, '{')
	if start == -1 {
		return ""
	}
	depth := 0
	for i := start; i < len(s); i++ {
		switch s[i] {
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1]
			}
		}
	}
	return ""
}

// Close releases the underlying client, if any.
func (a *ChatAdapter) Close() {
	if a.client != nil {
		a.client.Close()
	}
}
