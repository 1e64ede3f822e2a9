// Package workflow implements the five-stage conversational driver
// (expand, analyse, plan, execute, synthesize) and the bounded-concurrency
// fan-out executor that backs its execute stage.
package workflow

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/conversagent/orchestrator/internal/adapter"
	"github.com/conversagent/orchestrator/internal/isolation"
	"github.com/conversagent/orchestrator/internal/orchestrator"
	"github.com/conversagent/orchestrator/internal/stream"
)

// Engine drives the five-stage pipeline for one conversation. It holds no
// per-conversation state itself; everything it needs is passed into Run.
type Engine struct {
	Chat       *adapter.ChatAdapter
	WebSearch  *adapter.WebSearchAdapter
	DocRetrieval *adapter.DocRetrievalAdapter
	GraphRAG   adapter.GraphStore
	Breakers   *isolation.Breakers
}

func NewEngine(chat *adapter.ChatAdapter, web *adapter.WebSearchAdapter, doc *adapter.DocRetrievalAdapter, graph adapter.GraphStore, breakers *isolation.Breakers) *Engine {
	return &Engine{Chat: chat, WebSearch: web, DocRetrieval: doc, GraphRAG: graph, Breakers: breakers}
}

// Run drives the full stage sequence, emitting every event onto events.
// It never returns an error for stage-local failures — those degrade to
// fallbacks (the original question, a generic analysis, the default plan,
// per-task failure lines, and for synthesis a degraded status plus a basic
// answer). The error return is always nil.
func (e *Engine) Run(ctx context.Context, conversationID string, question string, history orchestrator.ConversationHistory, candidateKBs []string, token string, events chan<- stream.Event) (string, error) {
	emitStatus := func(stage, status string, progress float64) {
		p := progress
		events <- stream.NewStatusEvent(conversationID, stage, status, &p, nil)
	}

	// Stage 0 — Expand.
	emitStatus("expanding_question", "in_progress", 0.1)
	expanded := e.expand(ctx, question, history)
	emitStatus("expanding_question", "completed", 0.2)

	// Stage 1 — Analyse.
	emitStatus("analyzing_question", "in_progress", 0.3)
	analysis := e.analyse(ctx, question, history)
	emitStatus("analyzing_question", "completed", 0.4)

	// Stage 2 — Plan.
	emitStatus("task_scheduling", "in_progress", 0.45)
	plan := e.plan(ctx, expanded, analysis, history, candidateKBs)
	emitStatus("task_scheduling", "completed", 0.5)

	// Stage 3 — Execute.
	emitStatus("executing_tasks", "in_progress", 0.55)
	results := FanOut(ctx, plan, 3, 60*time.Second, e.RunTaskFor(candidateKBs, token), events, conversationID)
	emitStatus("executing_tasks", "completed", 0.75)

	// Stage 4 — Synthesize.
	emitStatus("response_generation", "in_progress", 0.8)
	answer := e.synthesize(ctx, expanded, results, events, conversationID)
	emitStatus("response_generation", "completed", 1.0)

	return answer, nil
}

type expandResponse struct {
	ExpandedQuestion string `json:"expanded_question"`
	ExpansionReasoning string `json:"expansion_reasoning"`
	ContextRelevance  string `json:"context_relevance"`
	OriginalIntent    string `json:"original_intent"`
}

func (e *Engine) expand(ctx context.Context, question string, history orchestrator.ConversationHistory) string {
	prompt := buildExpandPrompt(question, history)
	var resp expandResponse
	err := e.Chat.CompleteJSON(ctx, prompt, adapter.CompletionParams{Temperature: 0.4}, &resp)
	if err != nil || resp.ExpandedQuestion == "" {
		return question
	}
	return resp.ExpandedQuestion
}

func buildExpandPrompt(question string, history orchestrator.ConversationHistory) string {
	var sb strings.Builder
	sb.WriteString("Expand the following question using recent conversation context. ")
	sb.WriteString("Return JSON with keys expanded_question, expansion_reasoning, context_relevance, original_intent.\n\n")
	sb.WriteString("Current question: " + question + "\n")
	sb.WriteString(renderHistoryTail(history, 6))
	return sb.String()
}

type analyseResponse struct {
	ExpertAnalysis string `json:"expert_analysis"`
}

func (e *Engine) analyse(ctx context.Context, question string, history orchestrator.ConversationHistory) string {
	prompt := fmt.Sprintf("Provide an expert analysis of this question for downstream planning. Return JSON {\"expert_analysis\": \"...\"}.\n\nQuestion: %s\n%s", question, renderHistoryTail(history, 6))
	var resp analyseResponse
	err := e.Chat.CompleteJSON(ctx, prompt, adapter.CompletionParams{Temperature: 0.3}, &resp)
	if err != nil || resp.ExpertAnalysis == "" {
		return "No detailed analysis available; proceeding with the question as stated."
	}
	return resp.ExpertAnalysis
}

type planTaskJSON struct {
	Type  string `json:"type"`
	Query string `json:"query"`
}

type planResponse struct {
	Tasks []planTaskJSON `json:"tasks"`
}

var validPlanTaskTypes = map[string]orchestrator.TaskKind{
	"online_search":    orchestrator.TaskOnlineSearch,
	"knowledge_search":  orchestrator.TaskKnowledgeSearch,
	"lightrag_search":   orchestrator.TaskLightRAGQuery,
}

func (e *Engine) plan(ctx context.Context, expanded, analysis string, history orchestrator.ConversationHistory, candidateKBs []string) orchestrator.TaskPlan {
	prompt := fmt.Sprintf(
		"Plan research tasks to answer this question. Valid types: online_search, knowledge_search, lightrag_search. Return JSON {\"tasks\":[{\"type\":\"...\",\"query\":\"...\"}]}.\n\nExpanded question: %s\nAnalysis: %s\n%s",
		expanded, analysis, renderHistoryTail(history, 4))

	var resp planResponse
	err := e.Chat.CompleteJSON(ctx, prompt, adapter.CompletionParams{Temperature: 0.2}, &resp)

	tasks := make([]orchestrator.PlannedTask, 0, len(resp.Tasks))
	if err == nil {
		for _, t := range resp.Tasks {
			kind, ok := validPlanTaskTypes[t.Type]
			if !ok {
				continue
			}
			tasks = append(tasks, orchestrator.PlannedTask{Kind: kind, Query: t.Query})
		}
	}

	if len(tasks) == 0 {
		// Default plan: one of each task type, using the expanded question
		// verbatim.
		tasks = []orchestrator.PlannedTask{
			{Kind: orchestrator.TaskOnlineSearch, Query: expanded},
			{Kind: orchestrator.TaskKnowledgeSearch, Query: expanded},
			{Kind: orchestrator.TaskLightRAGQuery, Query: expanded},
		}
	}

	return orchestrator.TaskPlan{ExpandedQuestion: expanded, Tasks: tasks}
}

// RunTaskFor builds the TaskRunner the fan-out executor calls for each
// planned task, closing over the candidate knowledge bases and auth token
// needed by the knowledge_search path. Exported so the agent-mode engine's
// parallel_search node can reuse the same sub-task implementations.
func (e *Engine) RunTaskFor(candidateKBs []string, token string) TaskRunner {
	return func(ctx context.Context, task orchestrator.PlannedTask) ([]orchestrator.SearchResult, error) {
		switch task.Kind {
		case orchestrator.TaskOnlineSearch:
			return e.runOnlineSearch(ctx, task.Query)
		case orchestrator.TaskKnowledgeSearch:
			return e.runKnowledgeSearch(ctx, task.Query, candidateKBs, token)
		case orchestrator.TaskLightRAGQuery:
			return e.runLightRAG(ctx, task.Query)
		default:
			return nil, fmt.Errorf("unknown task kind %q", task.Kind)
		}
	}
}

func (e *Engine) runOnlineSearch(ctx context.Context, query string) ([]orchestrator.SearchResult, error) {
	if err := e.Breakers.Search.Allow(); err != nil {
		return nil, err
	}
	results, err := e.WebSearch.Search(ctx, query, 5, "en", true)
	if err != nil {
		e.Breakers.Search.OnFailure()
		return nil, err
	}
	e.Breakers.Search.OnSuccess()
	return toOrchestratorResults(results), nil
}

func (e *Engine) runLightRAG(ctx context.Context, query string) ([]orchestrator.SearchResult, error) {
	if err := e.Breakers.Graph.Allow(); err != nil {
		return nil, err
	}
	results, err := e.GraphRAG.Search(ctx, query, adapter.DefaultGraphRAGMode)
	if err != nil {
		e.Breakers.Graph.OnFailure()
		return nil, err
	}
	e.Breakers.Graph.OnSuccess()
	return toOrchestratorResults(results), nil
}

// runKnowledgeSearch implements the knowledge-base selection sub-stage:
// 0 candidates -> "test"; 1 -> use it; >=2 -> ask the model to choose,
// falling back to the first candidate on an invalid answer.
func (e *Engine) runKnowledgeSearch(ctx context.Context, query string, candidateKBs []string, token string) ([]orchestrator.SearchResult, error) {
	name := e.selectKnowledgeBase(ctx, query, candidateKBs)

	if err := e.Breakers.Doc.Allow(); err != nil {
		return nil, err
	}
	res, _, err := e.DocRetrieval.QueryDocByName(ctx, token, name, query, 5)
	if err != nil {
		e.Breakers.Doc.OnFailure()
		return nil, err
	}
	e.Breakers.Doc.OnSuccess()
	return docQueryResultsToSearchResults(res), nil
}

type kbSelectResponse struct {
	CollectionName string `json:"collection_name"`
	Reason         string `json:"reason"`
}

func (e *Engine) selectKnowledgeBase(ctx context.Context, query string, candidates []string) string {
	switch len(candidates) {
	case 0:
		return "test"
	case 1:
		return candidates[0]
	}

	prompt := fmt.Sprintf(
		"Choose the single best knowledge collection for this query from the candidates. Return JSON {\"collection_name\":\"...\",\"reason\":\"...\"}.\n\nQuery: %s\nCandidates: %s",
		query, strings.Join(candidates, ", "))

	var resp kbSelectResponse
	err := e.Chat.CompleteJSON(ctx, prompt, adapter.CompletionParams{Temperature: 0.1}, &resp)
	if err == nil {
		for _, c := range candidates {
			if c == resp.CollectionName {
				return c
			}
		}
	}
	return candidates[0]
}

func (e *Engine) synthesize(ctx context.Context, expanded string, results []orchestrator.TaskResult, events chan<- stream.Event, conversationID string) string {
	prompt := buildSynthesisPrompt(expanded, results)

	textCh, errCh := e.Chat.Stream(ctx, prompt, adapter.CompletionParams{Temperature: 0.5})

	var answer strings.Builder
	for chunk := range textCh {
		answer.WriteString(chunk)
		events <- stream.NewContentEvent(conversationID, chunk, "response_generation", "in_progress", nil)
	}

	if err := <-errCh; err != nil {
		events <- stream.NewStatusEvent(conversationID, "response_generation", "degraded", nil, map[string]any{"reason": err.Error()})
		fallback := basicAnswer(results)
		events <- stream.NewContentEvent(conversationID, fallback, "response_generation", "in_progress", nil)
		return fallback
	}

	return answer.String()
}

func buildSynthesisPrompt(expanded string, results []orchestrator.TaskResult) string {
	var sb strings.Builder
	sb.WriteString("Answer the question using the retrieved context below. Cite sources by name.\n\n")
	sb.WriteString("Question: " + expanded + "\n\n")
	for _, r := range results {
		if r.Err != nil {
			continue
		}
		for _, res := range r.Results {
			content := res.Content
			if len(content) > 300 {
				content = content[:300]
			}
			sb.WriteString(fmt.Sprintf("[%s] %s — %s", res.Source, res.Title, content))
			if res.URL != "" {
				sb.WriteString(" (" + res.URL + ")")
			}
			sb.WriteString("\n")
		}
	}
	return sb.String()
}

func basicAnswer(results []orchestrator.TaskResult) string {
	var sb strings.Builder
	sb.WriteString("Based on the available context:\n")
	count := 0
	for _, r := range results {
		if r.Err != nil {
			continue
		}
		for _, res := range r.Results {
			if count >= 3 {
				break
			}
			sb.WriteString("- " + res.Title + ": " + truncate(res.Content, 200) + "\n")
			count++
		}
	}
	if count == 0 {
		return "No information could be retrieved to answer this question."
	}
	return sb.String()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "…"
}

func renderHistoryTail(history orchestrator.ConversationHistory, n int) string {
	msgs := history.Messages
	if len(msgs) > n {
		msgs = msgs[len(msgs)-n:]
	}
	var sb strings.Builder
	for _, m := range msgs {
		sb.WriteString(m.Role + ": " + m.Content + "\n")
	}
	return sb.String()
}

func toOrchestratorResults(in []adapter.SearchResult) []orchestrator.SearchResult {
	out := make([]orchestrator.SearchResult, len(in))
	for i, r := range in {
		out[i] = orchestrator.SearchResult{
			Title: r.Title, Content: r.Content, URL: r.URL,
			Score: r.Score, Source: r.Source, Metadata: r.Metadata,
		}
	}
	return out
}

func docQueryResultsToSearchResults(res adapter.DocQueryResult) []orchestrator.SearchResult {
	if len(res.Documents) == 0 {
		return nil
	}
	docs := res.Documents[0]
	var ids []string
	var metas []map[string]any
	if len(res.IDs) > 0 {
		ids = res.IDs[0]
	}
	if len(res.Metadatas) > 0 {
		metas = res.Metadatas[0]
	}

	out := make([]orchestrator.SearchResult, len(docs))
	for i, d := range docs {
		var id string
		if i < len(ids) {
			id = ids[i]
		}
		var meta map[string]any
		if i < len(metas) {
			meta = metas[i]
		}
		out[i] = orchestrator.SearchResult{Title: id, Content: d, Source: "knowledge_search", Metadata: meta}
	}
	return out
}
