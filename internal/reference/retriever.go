// Package reference retrieves stored reference material (model documents,
// clauses, prior work) relevant to a generation request. Retrieval is a
// best-effort enrichment: failures degrade to an empty result, never to a
// failed run.
package reference

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// Snippet is one retrieved piece of reference material.
type Snippet struct {
	ID    string  `json:"id"`
	Text  string  `json:"text"`
	Title string  `json:"title,omitempty"`
	Score float32 `json:"score"`
}

// Retriever finds reference snippets for a query.
type Retriever interface {
	Retrieve(ctx context.Context, query string, topK int) ([]Snippet, error)
}

// VectorRetriever is a Retriever backed by a qdrant collection and an
// embeddings provider.
type VectorRetriever struct {
	qdrant     *QdrantClient
	embedder   Embedder
	collection string
	logger     *zap.Logger
}

// NewVectorRetriever creates a retriever over the given collection.
func NewVectorRetriever(qc *QdrantClient, embedder Embedder, collection string, logger *zap.Logger) *VectorRetriever {
	return &VectorRetriever{
		qdrant:     qc,
		embedder:   embedder,
		collection: collection,
		logger:     logger,
	}
}

// Retrieve embeds the query and returns the nearest stored snippets.
func (r *VectorRetriever) Retrieve(ctx context.Context, query string, topK int) ([]Snippet, error) {
	if topK <= 0 {
		topK = 3
	}
	vectors, err := r.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	if len(vectors) == 0 {
		return nil, fmt.Errorf("embedder returned no vector")
	}

	hits, err := r.qdrant.Search(ctx, r.collection, vectors[0], uint64(topK))
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}

	snippets := make([]Snippet, 0, len(hits))
	for _, h := range hits {
		snippets = append(snippets, Snippet{
			ID:    h.ID,
			Text:  h.Payload["text"],
			Title: h.Payload["title"],
			Score: h.Score,
		})
	}
	r.logger.Debug("reference retrieval",
		zap.String("collection", r.collection),
		zap.Int("hits", len(snippets)))
	return snippets, nil
}
