package vectorstore

import (
	"context"
	"fmt"
	"regexp"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
)

// Chunk is one embedded piece of a generated article.
type Chunk struct {
	ID        uuid.UUID `json:"id"`
	RunID     uuid.UUID `json:"run_id"`
	Topic     string    `json:"topic"`
	Position  int       `json:"position"`
	Content   string    `json:"content"`
	Embedding []float32 `json:"embedding,omitempty"`
}

// SearchResult is a chunk with its cosine similarity to the query.
type SearchResult struct {
	Chunk Chunk   `json:"chunk"`
	Score float64 `json:"score"`
}

// PGVectorStore reads and writes article chunks in one pgvector table.
type PGVectorStore struct {
	pool      *pgxpool.Pool
	tableName string
}

var tableNamePattern = regexp.MustCompile(`^[a-z_][a-z0-9_]{0,62}$`)

// isValidTableName allows only identifiers that are safe to format into SQL
// and that Postgres does not case-fold: a lowercase letter or underscore
// followed by up to 62 lowercase letters, digits or underscores.
func isValidTableName(name string) bool {
	return tableNamePattern.MatchString(name)
}

// ValidateTableName reports whether name can be used as a chunk table.
func ValidateTableName(name string) error {
	if !isValidTableName(name) {
		return fmt.Errorf("invalid table name %q: must contain only lowercase letters, digits and underscores, start with a letter or underscore, and be 1-63 characters long", name)
	}
	return nil
}

func NewPGVectorStore(pool *pgxpool.Pool, tableName string) (*PGVectorStore, error) {
	if err := ValidateTableName(tableName); err != nil {
		return nil, err
	}
	return &PGVectorStore{
		pool:      pool,
		tableName: tableName,
	}, nil
}

func (vs *PGVectorStore) table() string {
	return pgx.Identifier{vs.tableName}.Sanitize()
}

// AddChunks stores chunks in one batch. Re-indexing a run replaces chunks at
// the same position.
func (vs *PGVectorStore) AddChunks(ctx context.Context, chunks []Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	query := fmt.Sprintf(`
		INSERT INTO %s (run_id, topic, position, content, embedding)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (run_id, position)
		DO UPDATE SET topic = EXCLUDED.topic, content = EXCLUDED.content, embedding = EXCLUDED.embedding
	`, vs.table())

	batch := &pgx.Batch{}
	for _, c := range chunks {
		batch.Queue(query, c.RunID, c.Topic, c.Position, c.Content, pgvector.NewVector(c.Embedding))
	}

	br := vs.pool.SendBatch(ctx, batch)
	defer br.Close()

	for range chunks {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("failed to insert chunk: %w", err)
		}
	}
	return nil
}

// SimilaritySearch returns the topK chunks closest to queryEmbedding.
func (vs *PGVectorStore) SimilaritySearch(ctx context.Context, queryEmbedding []float32, topK int) ([]SearchResult, error) {
	query := fmt.Sprintf(`
		SELECT id, run_id, topic, position, content, 1 - (embedding <=> $1) AS similarity
		FROM %s
		ORDER BY embedding <=> $1
		LIMIT $2
	`, vs.table())

	rows, err := vs.pool.Query(ctx, query, pgvector.NewVector(queryEmbedding), topK)
	if err != nil {
		return nil, fmt.Errorf("failed to execute similarity search: %w", err)
	}
	defer rows.Close()

	var results []SearchResult
	for rows.Next() {
		var r SearchResult
		if err := rows.Scan(&r.Chunk.ID, &r.Chunk.RunID, &r.Chunk.Topic, &r.Chunk.Position, &r.Chunk.Content, &r.Score); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}
	return results, nil
}

// ChunksForRun returns a run's chunks in article order.
func (vs *PGVectorStore) ChunksForRun(ctx context.Context, runID uuid.UUID) ([]Chunk, error) {
	query := fmt.Sprintf(`
		SELECT id, run_id, topic, position, content
		FROM %s
		WHERE run_id = $1
		ORDER BY position ASC
	`, vs.table())

	rows, err := vs.pool.Query(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to execute query: %w", err)
	}
	defer rows.Close()

	var chunks []Chunk
	for rows.Next() {
		var c Chunk
		if err := rows.Scan(&c.ID, &c.RunID, &c.Topic, &c.Position, &c.Content); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		chunks = append(chunks, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}
	return chunks, nil
}

// DeleteRun removes every chunk of a run and returns how many were removed.
func (vs *PGVectorStore) DeleteRun(ctx context.Context, runID uuid.UUID) (int64, error) {
	query := fmt.Sprintf(`DELETE FROM %s WHERE run_id = $1`, vs.table())
	tag, err := vs.pool.Exec(ctx, query, runID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete chunks: %w", err)
	}
	return tag.RowsAffected(), nil
}
