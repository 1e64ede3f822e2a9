package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"

	"github.com/conversagent/orchestrator/internal/adapter"
)

// QueryEmbedder turns text into a vector for similarity search. Kept as a
// narrow interface so the orchestrator can swap embedding providers without
// the store knowing about any one of them.
type QueryEmbedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// VectorDocStore is a local, already-populated pgvector-backed
// implementation of adapter.DocStore — an alternative to the HTTP-backed
// knowledge API for deployments that index documents directly into
// Postgres. Selected at startup via DOC_BACKEND=pgvector.
type VectorDocStore struct {
	pool     *pgxpool.Pool
	embedder QueryEmbedder
}

func NewVectorDocStore(pool *pgxpool.Pool, embedder QueryEmbedder) *VectorDocStore {
	return &VectorDocStore{pool: pool, embedder: embedder}
}

var _ adapter.DocStore = (*VectorDocStore)(nil)

// QueryByID runs a cosine-distance nearest-neighbour search against the
// chunks table scoped to one collection, returning the upstream wire shape
// unchanged.
func (s *VectorDocStore) QueryByID(ctx context.Context, token, collectionID, query string, k int) (adapter.DocQueryResult, error) {
	vec, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return adapter.DocQueryResult{}, adapter.NewUpstreamError(fmt.Sprintf("embed query: %v", err))
	}

	rows, err := s.pool.Query(ctx, `
		SELECT id, content, metadata, embedding <=> $1 AS distance
		FROM chunks
		WHERE collection_id = $2
		ORDER BY embedding <=> $1
		LIMIT $3`,
		pgvector.NewVector(vec), collectionID, k,
	)
	if err != nil {
		return adapter.DocQueryResult{}, adapter.NewConnectionError("vector query", err)
	}
	defer rows.Close()

	var ids, docs []string
	var metas []map[string]any
	var dists []float64
	for rows.Next() {
		var id, content string
		var metaJSON map[string]any
		var distance float64
		if err := rows.Scan(&id, &content, &metaJSON, &distance); err != nil {
			return adapter.DocQueryResult{}, adapter.NewDecodeError("scan vector row", err)
		}
		ids = append(ids, id)
		docs = append(docs, content)
		metas = append(metas, metaJSON)
		dists = append(dists, distance)
	}
	if err := rows.Err(); err != nil {
		return adapter.DocQueryResult{}, adapter.NewConnectionError("vector query rows", err)
	}

	if len(ids) == 0 {
		return adapter.DocQueryResult{}, adapter.NewHTTPStatusError(404, "collection_not_found")
	}

	return adapter.DocQueryResult{
		IDs:       [][]string{ids},
		Documents: [][]string{docs},
		Metadatas: [][]map[string]any{metas},
		Distances: [][]float64{dists},
	}, nil
}

// ListCollections returns the distinct collections known to the store.
func (s *VectorDocStore) ListCollections(ctx context.Context, token string) ([]adapter.CollectionInfo, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, name FROM collections ORDER BY name`)
	if err != nil {
		return nil, adapter.NewConnectionError("list collections", err)
	}
	defer rows.Close()

	var out []adapter.CollectionInfo
	for rows.Next() {
		var c adapter.CollectionInfo
		if err := rows.Scan(&c.ID, &c.Name); err != nil {
			return nil, adapter.NewDecodeError("scan collection row", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
