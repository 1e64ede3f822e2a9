package adapter

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// GraphRAGMode selects how the graph-RAG backend traverses entities when
// answering a query.
type GraphRAGMode string

const (
	ModeNaive  GraphRAGMode = "naive"
	ModeLocal  GraphRAGMode = "local"
	ModeGlobal GraphRAGMode = "global"
	ModeHybrid GraphRAGMode = "hybrid"
	ModeMix    GraphRAGMode = "mix"

	// DefaultGraphRAGMode is used whenever a caller does not pin a mode.
	DefaultGraphRAGMode = ModeMix
)

// GraphStore is the narrow interface the graph-RAG stage depends on, so it
// can run against the HTTP-backed GraphRAGAdapter or a local graph backend
// (see repository.Neo4jGraphStore) interchangeably.
type GraphStore interface {
	Search(ctx context.Context, query string, mode GraphRAGMode) ([]SearchResult, error)
}

// GraphRAGAdapter queries a graph-RAG backend (a LightRAG-style service
// backed by a Neo4j property graph) and flattens its answer/contexts/
// entities fields into SearchResults.
type GraphRAGAdapter struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	timeout    time.Duration
}

func NewGraphRAGAdapter(baseURL, apiKey string, timeout time.Duration) *GraphRAGAdapter {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &GraphRAGAdapter{httpClient: &http.Client{Timeout: timeout}, baseURL: baseURL, apiKey: apiKey, timeout: timeout}
}

var _ GraphStore = (*GraphRAGAdapter)(nil)

type graphRAGResponse struct {
	Answer   string `json:"answer"`
	Contexts []struct {
		Text  string  `json:"text"`
		Score float64 `json:"score"`
	} `json:"contexts"`
	Entities []struct {
		Name        string `json:"name"`
		Description string `json:"description"`
	} `json:"entities"`
}

// Search runs a graph-RAG query and returns one SearchResult per answer,
// context, and entity found in the upstream response.
func (a *GraphRAGAdapter) Search(ctx context.Context, query string, mode GraphRAGMode) ([]SearchResult, error) {
	if mode == "" {
		mode = DefaultGraphRAGMode
	}
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	reqBody, _ := json.Marshal(map[string]string{"query": query, "mode": string(mode)})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/query", strings.NewReader(string(reqBody)))
	if err != nil {
		return nil, NewConnectionError("build graph-rag request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if a.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+a.apiKey)
	}

	resp, err := a.httpClient.Do(req)
	if ctx.Err() == context.DeadlineExceeded {
		return nil, NewTimeoutError("graph-rag query", ctx.Err())
	}
	if err != nil {
		return nil, NewConnectionError("graph-rag query", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, NewConnectionError("read graph-rag response", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, NewHTTPStatusError(resp.StatusCode, string(body))
	}

	var payload graphRAGResponse
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, NewDecodeError("decode graph-rag response", err)
	}

	results := make([]SearchResult, 0, 1+len(payload.Contexts)+len(payload.Entities))
	if payload.Answer != "" {
		results = append(results, SearchResult{
			Title:   "graph-rag answer",
			Content: payload.Answer,
			Source:  "lightrag_answer",
		})
	}
	for i, c := range payload.Contexts {
		results = append(results, SearchResult{
			Title:   fmt.Sprintf("context %d", i+1),
			Content: c.Text,
			Score:   c.Score,
			Source:  "lightrag_context",
		})
	}
	for _, e := range payload.Entities {
		results = append(results, SearchResult{
			Title:   e.Name,
			Content: e.Description,
			Source:  "lightrag_entity",
		})
	}
	return results, nil
}
