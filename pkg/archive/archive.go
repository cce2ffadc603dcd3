package archive

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/mikeboe/research-crew/pkg/config"
	"github.com/mikeboe/research-crew/pkg/database"
	"github.com/mikeboe/research-crew/pkg/embeddings"
	"github.com/mikeboe/research-crew/pkg/splitter"
	"github.com/mikeboe/research-crew/pkg/vectorstore"
)

const DefaultTopK = 5

var ErrEmptyQuery = errors.New("search query must not be empty")

type Embedder interface {
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
	Dimension() int
}

// EmbedderFactory builds an embedder for one API key. Keys can change
// between runs, so embedders are not cached.
type EmbedderFactory func(ctx context.Context, apiKey string) (Embedder, error)

type ChunkStore interface {
	AddChunks(ctx context.Context, chunks []vectorstore.Chunk) error
	SimilaritySearch(ctx context.Context, queryEmbedding []float32, topK int) ([]vectorstore.SearchResult, error)
	ChunksForRun(ctx context.Context, runID uuid.UUID) ([]vectorstore.Chunk, error)
	DeleteRun(ctx context.Context, runID uuid.UUID) (int64, error)
}

// Archive indexes finished articles for semantic search.
type Archive struct {
	Store       ChunkStore
	NewEmbedder EmbedderFactory
	Splitter    *splitter.TextSplitter
	Logger      *slog.Logger
}

// Open prepares the pgvector table named by cfg.CollectionName and returns an
// archive backed by Gemini embeddings.
func Open(ctx context.Context, db *database.PostgresDB, cfg *config.Config, logger *slog.Logger) (*Archive, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := vectorstore.ValidateTableName(cfg.CollectionName); err != nil {
		return nil, err
	}
	if err := db.EnsureVectorExtension(ctx); err != nil {
		return nil, fmt.Errorf("failed to enable vector extension: %w", err)
	}
	if err := db.CreateArticleChunksTable(ctx, cfg.CollectionName, embeddings.DefaultDimension); err != nil {
		return nil, err
	}
	vs, err := vectorstore.NewPGVectorStore(db.Pool, cfg.CollectionName)
	if err != nil {
		return nil, err
	}

	model := cfg.EmbeddingModel
	return &Archive{
		Store: vs,
		NewEmbedder: func(ctx context.Context, apiKey string) (Embedder, error) {
			return embeddings.NewGoogleEmbedder(ctx, model, apiKey, embeddings.DefaultDimension)
		},
		Splitter: splitter.NewMarkdownSplitter(cfg.ChunkSize, cfg.ChunkOverlap),
		Logger:   logger,
	}, nil
}

func (a *Archive) logger() *slog.Logger {
	if a.Logger == nil {
		return slog.Default()
	}
	return a.Logger
}

// Index splits, embeds and stores an article, replacing any chunks the run
// had before. It returns the number of chunks written.
func (a *Archive) Index(ctx context.Context, apiKey string, runID uuid.UUID, topic, article string) (int, error) {
	texts, err := a.Splitter.SplitText(article)
	if err != nil {
		return 0, fmt.Errorf("failed to split article: %w", err)
	}
	if len(texts) == 0 {
		return 0, nil
	}

	embedder, err := a.NewEmbedder(ctx, apiKey)
	if err != nil {
		return 0, fmt.Errorf("failed to create embedder: %w", err)
	}
	vecs, err := embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		return 0, err
	}
	if len(vecs) != len(texts) {
		return 0, fmt.Errorf("embedder returned %d vectors for %d chunks", len(vecs), len(texts))
	}
	for i, v := range vecs {
		if len(v) != embedder.Dimension() {
			return 0, fmt.Errorf("chunk %d: embedding has %d dimensions, want %d", i, len(v), embedder.Dimension())
		}
	}

	chunks := make([]vectorstore.Chunk, 0, len(texts))
	for i, text := range texts {
		chunks = append(chunks, vectorstore.Chunk{
			RunID:     runID,
			Topic:     topic,
			Position:  i,
			Content:   text,
			Embedding: vecs[i],
		})
	}
	removed, err := a.Store.DeleteRun(ctx, runID)
	if err != nil {
		return 0, err
	}
	if removed > 0 {
		a.logger().Info("Replacing indexed article", "run_id", runID, "old_chunks", removed)
	}
	if err := a.Store.AddChunks(ctx, chunks); err != nil {
		return 0, err
	}

	a.logger().Info("Article indexed", "run_id", runID, "chunks", len(chunks))
	return len(chunks), nil
}

// Search returns the chunks of earlier articles most similar to query.
func (a *Archive) Search(ctx context.Context, apiKey, query string, topK int) ([]vectorstore.SearchResult, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, ErrEmptyQuery
	}
	if topK <= 0 {
		topK = DefaultTopK
	}

	embedder, err := a.NewEmbedder(ctx, apiKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create embedder: %w", err)
	}
	vec, err := embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, err
	}
	return a.Store.SimilaritySearch(ctx, vec, topK)
}

// Chunks returns the indexed chunks of one run in article order.
func (a *Archive) Chunks(ctx context.Context, runID uuid.UUID) ([]vectorstore.Chunk, error) {
	return a.Store.ChunksForRun(ctx, runID)
}
