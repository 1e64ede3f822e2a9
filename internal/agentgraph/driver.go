package agentgraph

import (
	"context"

	"github.com/conversagent/orchestrator/internal/orchestrator"
	"github.com/conversagent/orchestrator/internal/stream"
)

type handlerFunc func(ctx context.Context, d *Deps, s *State, events chan<- stream.Event, conversationID string)

// handlers maps each node name to its implementation, and edgeConditions
// maps each branch point to the function deciding its next node. Together
// these two maps are the entire graph — no DSL, no builder type.
var handlers = map[string]handlerFunc{
	NodeMaster:         runMaster,
	NodeQueryOptimizer: runQueryOptimizer,
	NodeParallelSearch: runParallelSearch,
	NodeSummary:        runSummary,
	NodeFinalOutput:    runFinalOutput,
}

var edgeConditions = map[string]func(*State) string{
	NodeMaster:         routeAfterMaster,
	NodeParallelSearch: routeAfterParallelSearch,
	NodeSummary:        routeAfterSummary,
}

// Drive runs the agent-mode graph to completion, starting at master and
// stopping once a node has no outgoing edge (final_output) or the
// iteration cap forces termination. It returns the final state so the
// caller can persist a checkpoint and append the answer to history.
func Drive(ctx context.Context, d *Deps, question string, history orchestrator.ConversationHistory, events chan<- stream.Event, conversationID string) *State {
	s := NewState(question, history)
	node := NodeMaster

	for {
		handler, ok := handlers[node]
		if !ok {
			return s
		}
		handler(ctx, d, s, events, conversationID)

		if node == NodeFinalOutput {
			return s
		}

		next, hasEdge := edgeConditions[node]
		if hasEdge {
			node = next(s)
			continue
		}
		// query_optimizer has a single unconditional edge.
		if node == NodeQueryOptimizer {
			node = NodeParallelSearch
			continue
		}
		return s
	}
}
