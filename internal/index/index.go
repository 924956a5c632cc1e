package index

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/firebase/genkit/go/ai"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
	"google.golang.org/genai"

	"github.com/docsage/docsage/internal/log"
)

// EmbeddingDim is the vector dimensionality stored in the documents
// table. Must match the vector(N) column in the schema.
const EmbeddingDim = 768

// searchTimeout bounds a single embed-and-search round trip.
const searchTimeout = 10 * time.Second

// Document is a retrievable documentation chunk.
type Document struct {
	ID        string    `json:"id"`
	Namespace Namespace `json:"namespace"`
	Content   string    `json:"content"`
	Source    string    `json:"source"`
	// Similarity is cosine similarity to the query, populated by Search.
	Similarity float64 `json:"similarity,omitempty"`
}

// Index retrieves documents for a single namespace by vector
// similarity.
type Index struct {
	namespace Namespace
	pool      *pgxpool.Pool
	embedder  ai.Embedder
	logger    log.Logger
}

// Search embeds query and returns up to k documents from this
// namespace, nearest first. Equidistant documents order by id so
// results are stable across runs.
func (ix *Index) Search(ctx context.Context, query string, k int) ([]Document, error) {
	if query == "" {
		return nil, errors.New("empty query")
	}
	if k < 1 {
		return nil, fmt.Errorf("invalid k: %d", k)
	}

	ctx, cancel := context.WithTimeout(ctx, searchTimeout)
	defer cancel()

	vec, err := ix.embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}

	rows, err := ix.pool.Query(ctx, `
		SELECT id, namespace, content, source,
		       1 - (embedding <=> $2) AS similarity
		FROM documents
		WHERE namespace = $1
		ORDER BY embedding <=> $2, id
		LIMIT $3
	`, string(ix.namespace), vec, k)
	if err != nil {
		return nil, fmt.Errorf("searching documents: %w", err)
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		var d Document
		var ns string
		if err := rows.Scan(&d.ID, &ns, &d.Content, &d.Source, &d.Similarity); err != nil {
			return nil, fmt.Errorf("scanning document: %w", err)
		}
		d.Namespace = Namespace(ns)
		docs = append(docs, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating documents: %w", err)
	}

	ix.logger.DebugContext(ctx, "retrieval completed",
		"namespace", ix.namespace,
		"results", len(docs),
		"k", k,
	)
	return docs, nil
}

// Add upserts documents into this namespace, embedding each chunk's
// content. Used by the seed command.
func (ix *Index) Add(ctx context.Context, docs []Document) error {
	for _, d := range docs {
		if d.ID == "" || d.Content == "" {
			return fmt.Errorf("document missing id or content: %+v", d.ID)
		}

		vec, err := ix.embed(ctx, d.Content)
		if err != nil {
			return fmt.Errorf("embedding document %s: %w", d.ID, err)
		}

		_, err = ix.pool.Exec(ctx, `
			INSERT INTO documents (id, namespace, content, source, embedding)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (id) DO UPDATE SET
				namespace = EXCLUDED.namespace,
				content = EXCLUDED.content,
				source = EXCLUDED.source,
				embedding = EXCLUDED.embedding
		`, d.ID, string(ix.namespace), d.Content, d.Source, vec)
		if err != nil {
			return fmt.Errorf("upserting document %s: %w", d.ID, err)
		}
	}
	return nil
}

// Count returns the number of documents in this namespace.
func (ix *Index) Count(ctx context.Context) (int, error) {
	var n int
	err := ix.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM documents WHERE namespace = $1`,
		string(ix.namespace)).Scan(&n)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return 0, fmt.Errorf("counting documents: %w", err)
	}
	return n, nil
}

// embed converts text into a vector truncated to EmbeddingDim, the
// dimensionality the documents table stores.
func (ix *Index) embed(ctx context.Context, text string) (pgvector.Vector, error) {
	dim := int32(EmbeddingDim)
	resp, err := ix.embedder.Embed(ctx, &ai.EmbedRequest{
		Input: []*ai.Document{ai.DocumentFromText(text, nil)},
		Options: &genai.EmbedContentConfig{
			OutputDimensionality: &dim,
		},
	})
	if err != nil {
		return pgvector.Vector{}, err
	}
	if len(resp.Embeddings) == 0 {
		return pgvector.Vector{}, errors.New("embedder returned no embeddings")
	}
	return pgvector.NewVector(resp.Embeddings[0].Embedding), nil
}

// Registry resolves namespaces to their indexes. All indexes share
// one pool and embedder; each scopes queries to its namespace.
type Registry struct {
	indexes map[Namespace]*Index
}

// NewRegistry builds an index for every registered namespace. A nil
// logger falls back to slog.Default().
func NewRegistry(pool *pgxpool.Pool, embedder ai.Embedder, logger log.Logger) (*Registry, error) {
	if pool == nil {
		return nil, errors.New("nil pool")
	}
	if embedder == nil {
		return nil, errors.New("nil embedder")
	}
	if logger == nil {
		logger = slog.Default()
	}

	indexes := make(map[Namespace]*Index, len(Namespaces()))
	for _, ns := range Namespaces() {
		indexes[ns] = &Index{
			namespace: ns,
			pool:      pool,
			embedder:  embedder,
			logger:    logger,
		}
	}
	return &Registry{indexes: indexes}, nil
}

// Resolve returns the index for the named namespace, or
// ErrUnknownNamespace.
func (r *Registry) Resolve(name string) (*Index, error) {
	ns, err := ParseNamespace(name)
	if err != nil {
		return nil, err
	}
	ix, ok := r.indexes[ns]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownNamespace, name)
	}
	return ix, nil
}
