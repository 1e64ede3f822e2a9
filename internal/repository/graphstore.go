package repository

import (
	"context"
	"fmt"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/conversagent/orchestrator/internal/adapter"
)

// Neo4jGraphStore is a local graph-RAG backend that walks an entity graph
// directly via Cypher instead of delegating to a remote LightRAG-style
// service. Selected at startup via GRAPH_BACKEND=neo4j.
type Neo4jGraphStore struct {
	driver neo4j.DriverWithContext
}

func NewNeo4jGraphStore(driver neo4j.DriverWithContext) *Neo4jGraphStore {
	return &Neo4jGraphStore{driver: driver}
}

var _ adapter.GraphStore = (*Neo4jGraphStore)(nil)

// Search resolves entities matching query by name/alias and returns their
// descriptions and immediate relationships as SearchResults. mode narrows
// the traversal: "local" stays within one hop, "global"/"hybrid"/"mix"
// widen to two hops, "naive" does a plain text match with no traversal.
func (s *Neo4jGraphStore) Search(ctx context.Context, query string, mode adapter.GraphRAGMode) ([]adapter.SearchResult, error) {
	session := s.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
	defer session.Close(ctx)

	hops := 1
	switch mode {
	case adapter.ModeNaive:
		hops = 0
	case adapter.ModeGlobal, adapter.ModeHybrid, adapter.ModeMix:
		hops = 2
	}

	cypher := fmt.Sprintf(`
		MATCH (e:Entity)
		WHERE toLower(e.name) CONTAINS toLower($query) OR toLower(e.description) CONTAINS toLower($query)
		OPTIONAL MATCH (e)-[r*0..%d]-(related:Entity)
		RETURN DISTINCT e.name AS name, e.description AS description,
		       collect(DISTINCT related.name) AS related
		LIMIT 10`, hops)

	result, err := session.Run(ctx, cypher, map[string]any{"query": query})
	if err != nil {
		return nil, adapter.NewConnectionError("graph query", err)
	}

	var out []adapter.SearchResult
	for result.Next(ctx) {
		record := result.Record()
		name, _ := record.Get("name")
		description, _ := record.Get("description")
		related, _ := record.Get("related")

		out = append(out, adapter.SearchResult{
			Title:   fmt.Sprintf("%v", name),
			Content: fmt.Sprintf("%v", description),
			Source:  "lightrag_entity",
			Metadata: map[string]any{
				"related_entities": related,
				"mode":             string(mode),
			},
		})
	}
	if err := result.Err(); err != nil {
		return nil, adapter.NewConnectionError("graph query rows", err)
	}
	return out, nil
}
