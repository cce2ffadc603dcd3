package archive

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/mikeboe/research-crew/pkg/splitter"
	"github.com/mikeboe/research-crew/pkg/vectorstore"
)

type fakeEmbedder struct {
	docs    [][]string
	queries []string
	dim     int
}

func (f *fakeEmbedder) Dimension() int {
	if f.dim == 0 {
		return 2
	}
	return f.dim
}

func (f *fakeEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	f.docs = append(f.docs, texts)
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{float32(i), 1}
	}
	return out, nil
}

func (f *fakeEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	f.queries = append(f.queries, text)
	return []float32{0, 1}, nil
}

type fakeChunkStore struct {
	chunks  []vectorstore.Chunk
	topK    int
	deleted []uuid.UUID
}

func (f *fakeChunkStore) ChunksForRun(ctx context.Context, runID uuid.UUID) ([]vectorstore.Chunk, error) {
	var out []vectorstore.Chunk
	for _, c := range f.chunks {
		if c.RunID == runID {
			out = append(out, c)
		}
	}
	return out, nil
}

func (f *fakeChunkStore) DeleteRun(ctx context.Context, runID uuid.UUID) (int64, error) {
	f.deleted = append(f.deleted, runID)
	kept := f.chunks[:0]
	var n int64
	for _, c := range f.chunks {
		if c.RunID == runID {
			n++
			continue
		}
		kept = append(kept, c)
	}
	f.chunks = kept
	return n, nil
}

func (f *fakeChunkStore) AddChunks(ctx context.Context, chunks []vectorstore.Chunk) error {
	f.chunks = append(f.chunks, chunks...)
	return nil
}

func (f *fakeChunkStore) SimilaritySearch(ctx context.Context, q []float32, topK int) ([]vectorstore.SearchResult, error) {
	f.topK = topK
	var res []vectorstore.SearchResult
	for _, c := range f.chunks {
		res = append(res, vectorstore.SearchResult{Chunk: c, Score: 0.9})
	}
	return res, nil
}

func newTestArchive(emb *fakeEmbedder, store *fakeChunkStore) (*Archive, *[]string) {
	var keys []string
	return &Archive{
		Store: store,
		NewEmbedder: func(ctx context.Context, apiKey string) (Embedder, error) {
			keys = append(keys, apiKey)
			return emb, nil
		},
		Splitter: splitter.NewMarkdownSplitter(120, 10),
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	}, &keys
}

func TestIndexStoresChunksInOrder(t *testing.T) {
	emb := &fakeEmbedder{}
	store := &fakeChunkStore{}
	a, keys := newTestArchive(emb, store)
	runID := uuid.New()

	article := "# Heading\n\n" + strings.Repeat("First section sentence. ", 10) +
		"\n\n## Second\n\n" + strings.Repeat("Second section sentence. ", 10)

	n, err := a.Index(context.Background(), "run-key", runID, "AI", article)
	if err != nil {
		t.Fatalf("Index() error = %v", err)
	}
	if n == 0 || n != len(store.chunks) {
		t.Fatalf("Index() = %d, stored %d", n, len(store.chunks))
	}
	for i, c := range store.chunks {
		if c.Position != i || c.RunID != runID || c.Topic != "AI" || len(c.Embedding) == 0 {
			t.Errorf("chunk %d = %+v", i, c)
		}
	}
	if len(*keys) != 1 || (*keys)[0] != "run-key" {
		t.Errorf("embedder keys = %v, want [run-key]", *keys)
	}
}

func TestIndexEmptyArticle(t *testing.T) {
	emb := &fakeEmbedder{}
	a, keys := newTestArchive(emb, &fakeChunkStore{})

	n, err := a.Index(context.Background(), "k", uuid.New(), "AI", "  \n ")
	if err != nil || n != 0 {
		t.Fatalf("Index() = %d, %v", n, err)
	}
	if len(*keys) != 0 {
		t.Error("embedder created for an empty article")
	}
}

func TestSearch(t *testing.T) {
	emb := &fakeEmbedder{}
	store := &fakeChunkStore{chunks: []vectorstore.Chunk{{Topic: "AI", Content: "x"}}}
	a, _ := newTestArchive(emb, store)

	if _, err := a.Search(context.Background(), "k", "   ", 3); !errors.Is(err, ErrEmptyQuery) {
		t.Errorf("Search(blank) error = %v, want ErrEmptyQuery", err)
	}

	res, err := a.Search(context.Background(), "k", " diagnostics ", 0)
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(res) != 1 || res[0].Chunk.Topic != "AI" {
		t.Errorf("Search() = %+v", res)
	}
	if store.topK != DefaultTopK {
		t.Errorf("topK = %d, want %d", store.topK, DefaultTopK)
	}
	if len(emb.queries) != 1 || emb.queries[0] != "diagnostics" {
		t.Errorf("queries = %q", emb.queries)
	}
}

func TestIndexReplacesEarlierChunks(t *testing.T) {
	store := &fakeChunkStore{}
	a, _ := newTestArchive(&fakeEmbedder{}, store)
	runID, other := uuid.New(), uuid.New()
	ctx := context.Background()

	long := "# One\n\n" + strings.Repeat("Long section sentence. ", 20) + "\n\n## Two\n\n" + strings.Repeat("More text here. ", 20)
	if _, err := a.Index(ctx, "k", other, "other", "# Other\n\nKept."); err != nil {
		t.Fatalf("Index(other) error = %v", err)
	}
	if _, err := a.Index(ctx, "k", runID, "AI", long); err != nil {
		t.Fatalf("Index(long) error = %v", err)
	}
	n, err := a.Index(ctx, "k", runID, "AI", "# Short\n\nOnly one chunk.")
	if err != nil {
		t.Fatalf("Index(short) error = %v", err)
	}

	chunks, err := a.Chunks(ctx, runID)
	if err != nil {
		t.Fatalf("Chunks() error = %v", err)
	}
	if n == 0 || len(chunks) != n {
		t.Fatalf("Chunks() returned %d chunks, Index() wrote %d", len(chunks), n)
	}
	var joined strings.Builder
	for _, c := range chunks {
		joined.WriteString(c.Content)
	}
	if !strings.Contains(joined.String(), "Only one chunk") || strings.Contains(joined.String(), "Long section") {
		t.Errorf("Chunks() = %q, want only the re-indexed article", joined.String())
	}
	if kept, _ := a.Chunks(ctx, other); len(kept) == 0 {
		t.Error("re-indexing one run removed another run's chunks")
	}
	if len(store.deleted) != 3 || store.deleted[2] != runID {
		t.Errorf("deleted = %v", store.deleted)
	}
}

func TestIndexRejectsWrongDimension(t *testing.T) {
	store := &fakeChunkStore{}
	a, _ := newTestArchive(&fakeEmbedder{dim: 768}, store)

	if _, err := a.Index(context.Background(), "k", uuid.New(), "AI", "# A\n\nBody."); err == nil {
		t.Fatal("Index() accepted embeddings of the wrong size")
	}
	if len(store.chunks) != 0 || len(store.deleted) != 0 {
		t.Errorf("store touched after a failed embed: %+v", store)
	}
}
