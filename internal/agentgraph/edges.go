package agentgraph

// routeAfterMaster decides the next node after the master node has run,
// translated directly from the reference route_after_master: continue
// goes to query_optimizer, finish goes to final_output, and the iteration
// cap always wins regardless of decision by ending the run.
func routeAfterMaster(s *State) string {
	if s.IterationCount() >= MaxIterations {
		return nodeTerminate
	}
	if s.MasterDecision == DecisionFinish {
		return NodeFinalOutput
	}
	return NodeQueryOptimizer
}

// routeAfterParallelSearch sends the graph to summary once any search
// produced results, otherwise loops back to master to reconsider.
func routeAfterParallelSearch(s *State) string {
	if s.AnySearchResults() {
		return NodeSummary
	}
	return NodeMaster
}

// routeAfterSummary moves to final_output once sufficient-info holds or
// the iteration cap is reached, otherwise loops back to master.
func routeAfterSummary(s *State) string {
	if s.HasSufficientInfo() || s.IterationCount() >= MaxIterations {
		return NodeFinalOutput
	}
	return NodeMaster
}
