package agentgraph

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/conversagent/orchestrator/internal/adapter"
	"github.com/conversagent/orchestrator/internal/isolation"
	"github.com/conversagent/orchestrator/internal/orchestrator"
	"github.com/conversagent/orchestrator/internal/stream"
	"github.com/conversagent/orchestrator/internal/workflow"
)

// Deps bundles the adapters every node may call. It plays the same role
// here that Engine plays in the workflow driver.
type Deps struct {
	Chat       *adapter.ChatAdapter
	WebSearch  *adapter.WebSearchAdapter
	DocRetrieval *adapter.DocRetrievalAdapter
	GraphRAG   adapter.GraphStore
	Breakers   *isolation.Breakers
	CandidateKBs []string
	Token        string
}

type masterResponse struct {
	Decision     string `json:"decision"` // "continue" | "finish"
	NeedMoreInfo bool   `json:"need_more_info"`
	Reasoning    string `json:"reasoning"`
}

// runMaster decides whether the graph has enough information to answer or
// needs another search round.
func runMaster(ctx context.Context, d *Deps, s *State, events chan<- stream.Event, conversationID string) {
	s.Stage = "master"
	prompt := fmt.Sprintf(
		"Decide whether enough information has been gathered to answer the question, or whether another search round is needed. Return JSON {\"decision\":\"continue|finish\",\"need_more_info\":bool,\"reasoning\":\"...\"}.\n\nQuestion: %s\nGathered so far: %s",
		s.UserQuestion, summarizeOutputs(s))

	var resp masterResponse
	err := d.Chat.CompleteJSON(ctx, prompt, adapter.CompletionParams{Temperature: 0.3}, &resp)

	decision := DecisionContinue
	reasoning := "defaulting to another search round"
	if err == nil && resp.Decision == string(DecisionFinish) {
		decision = DecisionFinish
		reasoning = resp.Reasoning
	} else if err == nil {
		reasoning = resp.Reasoning
	}

	s.MasterDecision = decision
	s.NeedMoreInfo = err != nil || resp.NeedMoreInfo
	s.RecordOutput(NodeMaster, reasoning)

	events <- stream.NewContentEvent(conversationID, "master: "+reasoning, "master", "in_progress", nil)
}

type optimizerResponse struct {
	Queries []string `json:"queries"`
}

// runQueryOptimizer expands the question into a small set of focused
// search queries for the parallel_search node.
func runQueryOptimizer(ctx context.Context, d *Deps, s *State, events chan<- stream.Event, conversationID string) {
	s.Stage = "query_optimizer"
	prompt := fmt.Sprintf(
		"Produce up to 3 focused search queries for this question. Return JSON {\"queries\":[\"...\"]}.\n\nQuestion: %s",
		s.UserQuestion)

	var resp optimizerResponse
	err := d.Chat.CompleteJSON(ctx, prompt, adapter.CompletionParams{Temperature: 0.3}, &resp)

	queries := resp.Queries
	if err != nil || len(queries) == 0 {
		queries = []string{s.UserQuestion}
	}
	s.OptimizedQueries = queries
	s.RecordOutput(NodeQueryOptimizer, strings.Join(queries, "; "))

	events <- stream.NewContentEvent(conversationID, "query_optimizer: "+strings.Join(queries, "; "), "query_optimizer", "in_progress", nil)
}

// runParallelSearch fans each optimized query out across the three search
// kinds, reusing the workflow package's bounded-concurrency executor so
// agent mode gets the same sibling-isolation guarantee as workflow mode.
func runParallelSearch(ctx context.Context, d *Deps, s *State, events chan<- stream.Event, conversationID string) {
	s.Stage = "parallel_search"

	tasks := make([]orchestrator.PlannedTask, 0, len(s.OptimizedQueries)*3)
	for _, q := range s.OptimizedQueries {
		tasks = append(tasks,
			orchestrator.PlannedTask{Kind: orchestrator.TaskOnlineSearch, Query: q},
			orchestrator.PlannedTask{Kind: orchestrator.TaskKnowledgeSearch, Query: q},
			orchestrator.PlannedTask{Kind: orchestrator.TaskLightRAGQuery, Query: q},
		)
	}
	plan := orchestrator.TaskPlan{ExpandedQuestion: s.UserQuestion, Tasks: tasks}

	eng := workflow.NewEngine(d.Chat, d.WebSearch, d.DocRetrieval, d.GraphRAG, d.Breakers)
	results := workflow.FanOut(ctx, plan, 3, 45*time.Second, eng.RunTaskFor(d.CandidateKBs, d.Token), events, conversationID)

	for _, r := range results {
		if r.Err != nil {
			continue
		}
		switch r.Task.Kind {
		case orchestrator.TaskOnlineSearch:
			s.OnlineResults = append(s.OnlineResults, r.Results...)
		case orchestrator.TaskKnowledgeSearch:
			s.KnowledgeResults = append(s.KnowledgeResults, r.Results...)
		case orchestrator.TaskLightRAGQuery:
			s.LightRAGResults = append(s.LightRAGResults, r.Results...)
		}
	}
	s.RecordOutput(NodeParallelSearch, fmt.Sprintf("%d results gathered", len(s.AllResults())))
}

type summaryResponse struct {
	Summary string `json:"summary"`
}

// runSummary condenses each non-empty result set into its matching
// *_summary field.
func runSummary(ctx context.Context, d *Deps, s *State, events chan<- stream.Event, conversationID string) {
	s.Stage = "summary"

	summarize := func(label string, results []orchestrator.SearchResult) string {
		if len(results) == 0 {
			return ""
		}
		prompt := fmt.Sprintf("Summarize these %s results for answering: %q.\n\n%s", label, s.UserQuestion, renderResults(results))
		var resp summaryResponse
		if err := d.Chat.CompleteJSON(ctx, prompt, adapter.CompletionParams{Temperature: 0.3}, &resp); err == nil && resp.Summary != "" {
			return resp.Summary
		}
		return renderResults(results)
	}

	s.OnlineSummary = summarize("online search", s.OnlineResults)
	s.KnowledgeSummary = summarize("knowledge base", s.KnowledgeResults)
	s.LightRAGSummary = summarize("graph", s.LightRAGResults)

	s.RecordOutput(NodeSummary, "summaries produced")
	events <- stream.NewContentEvent(conversationID, "summary: condensed search results", "summary", "in_progress", nil)
}

// runFinalOutput streams the closing answer from the accumulated
// summaries.
func runFinalOutput(ctx context.Context, d *Deps, s *State, events chan<- stream.Event, conversationID string) {
	s.Stage = "final_output"

	prompt := fmt.Sprintf(
		"Write the final answer to the user's question using the gathered summaries.\n\nQuestion: %s\nOnline: %s\nKnowledge base: %s\nGraph: %s",
		s.UserQuestion, s.OnlineSummary, s.KnowledgeSummary, s.LightRAGSummary)

	textCh, errCh := d.Chat.Stream(ctx, prompt, adapter.CompletionParams{Temperature: 0.5})
	var answer strings.Builder
	for chunk := range textCh {
		answer.WriteString(chunk)
		events <- stream.NewContentEvent(conversationID, chunk, "final_output", "in_progress", nil)
	}
	if err := <-errCh; err != nil {
		fallback := "Unable to generate a final answer from the gathered context."
		events <- stream.NewContentEvent(conversationID, fallback, "final_output", "in_progress", nil)
		s.FinalAnswer = fallback
	} else {
		s.FinalAnswer = answer.String()
	}
	s.RecordOutput(NodeFinalOutput, s.FinalAnswer)
}

func summarizeOutputs(s *State) string {
	if len(s.AgentOutputs) == 0 {
		return "nothing gathered yet"
	}
	var sb strings.Builder
	for node, out := range s.AgentOutputs {
		sb.WriteString(node + ": " + truncateText(out, 200) + "\n")
	}
	return sb.String()
}

func renderResults(results []orchestrator.SearchResult) string {
	var sb strings.Builder
	for _, r := range results {
		sb.WriteString("- " + r.Title + ": " + truncateText(r.Content, 300) + "\n")
	}
	return sb.String()
}

func truncateText(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "…"
}
