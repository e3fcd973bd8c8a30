package knowledge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"

	"github.com/firebase/genkit/go/ai"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
)

// VectorDimension is the width of the documents.embedding column. Embedders
// must be configured to emit vectors of this size; wider output is reduced
// to the leading dimensions, narrower output is rejected.
const VectorDimension = 768

// Querier is the storage surface Store depends on. The interface lives with
// the consumer so tests can substitute an in-memory implementation.
type Querier interface {
	UpsertDocument(ctx context.Context, id, content string, embedding pgvector.Vector, metadata []byte) error
	SearchDocuments(ctx context.Context, embedding pgvector.Vector, filter []byte, limit int32) ([]*Result, error)
	CountDocuments(ctx context.Context) (int64, error)
	DeleteBySource(ctx context.Context, source string) (int64, error)
}

// Store embeds content and serves similarity search.
//
// Store is safe for concurrent use.
type Store struct {
	querier      Querier
	embedder     ai.Embedder
	embedOptions any
	logger       *slog.Logger
}

// StoreOption customizes a Store.
type StoreOption func(*Store)

// WithEmbedOptions forwards provider-specific options on every embed call.
// Gemini embedders take an output dimensionality request here; without it
// gemini-embedding-001 emits 3072-dimension vectors that do not fit the
// documents schema.
func WithEmbedOptions(opts any) StoreOption {
	return func(s *Store) { s.embedOptions = opts }
}

// NewStore creates a Store. logger may be nil.
func NewStore(querier Querier, embedder ai.Embedder, logger *slog.Logger, opts ...StoreOption) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Store{querier: querier, embedder: embedder, logger: logger}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Add embeds doc.Content and upserts it under doc.ID.
func (s *Store) Add(ctx context.Context, doc Document) error {
	if doc.Content == "" {
		return fmt.Errorf("document %q has empty content", doc.ID)
	}

	embedding, err := s.embed(ctx, doc.Content)
	if err != nil {
		return fmt.Errorf("embed document %q: %w", doc.ID, err)
	}

	metadata, err := json.Marshal(doc.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata for %q: %w", doc.ID, err)
	}

	if err := s.querier.UpsertDocument(ctx, doc.ID, doc.Content, embedding, metadata); err != nil {
		return fmt.Errorf("upsert document %q: %w", doc.ID, err)
	}

	s.logger.Debug("stored document", "id", doc.ID, "content_length", len(doc.Content))
	return nil
}

// Search embeds query and returns the most similar chunks, best first.
func (s *Store) Search(ctx context.Context, query string, opts ...SearchOption) ([]*Result, error) {
	cfg := buildSearchConfig(opts)

	ctx, cancel := context.WithTimeout(ctx, cfg.timeout)
	defer cancel()

	embedding, err := s.embed(ctx, query)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("query embedding timed out: %w", err)
		}
		return nil, fmt.Errorf("embed query: %w", err)
	}

	var filter []byte
	if len(cfg.filter) > 0 {
		filter, err = json.Marshal(cfg.filter)
		if err != nil {
			return nil, fmt.Errorf("marshal filter: %w", err)
		}
	}

	results, err := s.querier.SearchDocuments(ctx, embedding, filter, cfg.topK)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("vector search timed out: %w", err)
		}
		return nil, fmt.Errorf("vector search: %w", err)
	}

	s.logger.Debug("searched knowledge", "query_length", len(query), "results", len(results))
	return results, nil
}

// Count returns the number of stored chunks.
func (s *Store) Count(ctx context.Context) (int64, error) {
	n, err := s.querier.CountDocuments(ctx)
	if err != nil {
		return 0, fmt.Errorf("count documents: %w", err)
	}
	return n, nil
}

// DeleteBySource drops all chunks ingested from the given source URL and
// reports how many were removed.
func (s *Store) DeleteBySource(ctx context.Context, source string) (int64, error) {
	n, err := s.querier.DeleteBySource(ctx, source)
	if err != nil {
		return 0, fmt.Errorf("delete by source %q: %w", source, err)
	}
	s.logger.Debug("deleted documents", "source", source, "count", n)
	return n, nil
}

func (s *Store) embed(ctx context.Context, text string) (pgvector.Vector, error) {
	resp, err := s.embedder.Embed(ctx, &ai.EmbedRequest{
		Input:   []*ai.Document{{Content: []*ai.Part{ai.NewTextPart(text)}}},
		Options: s.embedOptions,
	})
	if err != nil {
		return pgvector.Vector{}, err
	}
	if len(resp.Embeddings) == 0 || len(resp.Embeddings[0].Embedding) == 0 {
		return pgvector.Vector{}, errors.New("embedder returned empty vector")
	}
	return fitDimension(resp.Embeddings[0].Embedding)
}

// fitDimension sizes vec to VectorDimension. Wider vectors keep their leading
// dimensions and are renormalized to unit length, matching the provider-side
// output dimensionality reduction of Matryoshka-trained embedders. Narrower
// vectors cannot fill the column and are rejected.
func fitDimension(vec []float32) (pgvector.Vector, error) {
	if len(vec) < VectorDimension {
		return pgvector.Vector{}, fmt.Errorf(
			"embedder returned %d dimensions, schema holds %d", len(vec), VectorDimension)
	}
	if len(vec) == VectorDimension {
		return pgvector.NewVector(vec), nil
	}

	cut := make([]float32, VectorDimension)
	copy(cut, vec)
	var norm float64
	for _, v := range cut {
		norm += float64(v) * float64(v)
	}
	if norm == 0 {
		return pgvector.Vector{}, errors.New("embedder returned zero vector")
	}
	scale := float32(1 / math.Sqrt(norm))
	for i := range cut {
		cut[i] *= scale
	}
	return pgvector.NewVector(cut), nil
}

// PGQuerier implements Querier on a pgx pool.
type PGQuerier struct {
	pool *pgxpool.Pool
}

// NewPGQuerier wraps pool.
func NewPGQuerier(pool *pgxpool.Pool) *PGQuerier {
	return &PGQuerier{pool: pool}
}

func (q *PGQuerier) UpsertDocument(ctx context.Context, id, content string, embedding pgvector.Vector, metadata []byte) error {
	_, err := q.pool.Exec(ctx,
		`INSERT INTO documents (id, content, embedding, metadata)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (id) DO UPDATE
		    SET content = EXCLUDED.content,
		        embedding = EXCLUDED.embedding,
		        metadata = EXCLUDED.metadata`,
		id, content, embedding, metadata,
	)
	return err
}

func (q *PGQuerier) SearchDocuments(ctx context.Context, embedding pgvector.Vector, filter []byte, limit int32) ([]*Result, error) {
	// filter uses JSONB containment and is always produced by json.Marshal.
	const base = `
		SELECT id, content, metadata, created_at,
		       1 - (embedding <=> $1) AS similarity
		  FROM documents`

	var (
		rows pgx.Rows
		err  error
	)
	if filter != nil {
		rows, err = q.pool.Query(ctx,
			base+` WHERE metadata @> $3 ORDER BY embedding <=> $1 LIMIT $2`,
			embedding, limit, filter,
		)
	} else {
		rows, err = q.pool.Query(ctx,
			base+` ORDER BY embedding <=> $1 LIMIT $2`,
			embedding, limit,
		)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []*Result
	for rows.Next() {
		var (
			r        Result
			metadata []byte
		)
		if err := rows.Scan(&r.ID, &r.Content, &metadata, &r.CreatedAt, &r.Similarity); err != nil {
			return nil, err
		}
		if len(metadata) > 0 {
			if err := json.Unmarshal(metadata, &r.Metadata); err != nil {
				r.Metadata = nil
			}
		}
		results = append(results, &r)
	}
	return results, rows.Err()
}

func (q *PGQuerier) CountDocuments(ctx context.Context) (int64, error) {
	var n int64
	err := q.pool.QueryRow(ctx, `SELECT COUNT(*) FROM documents`).Scan(&n)
	return n, err
}

func (q *PGQuerier) DeleteBySource(ctx context.Context, source string) (int64, error) {
	tag, err := q.pool.Exec(ctx,
		`DELETE FROM documents WHERE metadata->>'source' = $1`, source)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
