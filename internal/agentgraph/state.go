// Package agentgraph implements the agent-mode driver: an explicit Go
// state machine over five nodes, translated directly from the reference
// node/edge-condition separation rather than any graph-library DSL.
package agentgraph

import "github.com/conversagent/orchestrator/internal/orchestrator"

// Node names.
const (
	NodeMaster        = "master"
	NodeQueryOptimizer = "query_optimizer"
	NodeParallelSearch = "parallel_search"
	NodeSummary       = "summary"
	NodeFinalOutput   = "final_output"
	nodeTerminate     = "__terminate__"
)

// MaxIterations bounds the master/query_optimizer/parallel_search/summary
// loop: once reached, master ends the run and summary routes to
// final_output.
const MaxIterations = 5

// MasterDecision is the master node's routing choice.
type MasterDecision string

const (
	DecisionContinue MasterDecision = "continue"
	DecisionFinish   MasterDecision = "finish"
)

// State is the shared mutable state threaded through every node, mirroring
// the reference AgentState.
type State struct {
	UserQuestion string
	History      orchestrator.ConversationHistory

	Stage string

	OnlineResults    []orchestrator.SearchResult
	KnowledgeResults []orchestrator.SearchResult
	LightRAGResults  []orchestrator.SearchResult

	OptimizedQueries []string

	OnlineSummary    string
	KnowledgeSummary string
	LightRAGSummary  string

	MasterDecision MasterDecision
	NeedMoreInfo   bool

	ExecutionPath []string
	AgentOutputs  map[string]string

	FinalAnswer string
}

// NewState creates the initial state for one agent-mode run.
func NewState(question string, history orchestrator.ConversationHistory) *State {
	return &State{
		UserQuestion: question,
		History:      history,
		Stage:        "initialization",
		AgentOutputs: make(map[string]string),
	}
}

// RecordOutput appends a node's textual output to AgentOutputs and marks
// the node as visited in ExecutionPath.
func (s *State) RecordOutput(node, output string) {
	s.ExecutionPath = append(s.ExecutionPath, node)
	if output != "" {
		s.AgentOutputs[node] = output
	}
}

// IterationCount counts how many times master has been visited, the
// reference implementation's proxy for loop iterations.
func (s *State) IterationCount() int {
	count := 0
	for _, n := range s.ExecutionPath {
		if n == NodeMaster {
			count++
		}
	}
	return count
}

// AnySearchResults reports whether at least one *_results slice is
// non-empty.
func (s *State) AnySearchResults() bool {
	return len(s.OnlineResults) > 0 || len(s.KnowledgeResults) > 0 || len(s.LightRAGResults) > 0
}

// AnySummaries reports whether at least one *_summary is non-empty.
func (s *State) AnySummaries() bool {
	return s.OnlineSummary != "" || s.KnowledgeSummary != "" || s.LightRAGSummary != ""
}

// HasSufficientInfo is the sufficient-info predicate: at least one
// non-empty result set AND at least one non-empty summary.
func (s *State) HasSufficientInfo() bool {
	return s.AnySearchResults() && s.AnySummaries()
}

// AllResults concatenates the online, knowledge and lightrag result slices
// in that order; each result keeps whatever Source it already carries.
func (s *State) AllResults() []orchestrator.SearchResult {
	out := make([]orchestrator.SearchResult, 0, len(s.OnlineResults)+len(s.KnowledgeResults)+len(s.LightRAGResults))
	out = append(out, s.OnlineResults...)
	out = append(out, s.KnowledgeResults...)
	out = append(out, s.LightRAGResults...)
	return out
}
