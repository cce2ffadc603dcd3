package embeddings

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/genai"
)

const (
	DefaultDimension = 1536

	taskTypeDocument = "RETRIEVAL_DOCUMENT"
	taskTypeQuery    = "RETRIEVAL_QUERY"

	// Gemini accepts at most 100 contents per embed request.
	maxBatchSize = 100
)

var ErrEmptyEmbedding = errors.New("empty embedding returned")

// GoogleEmbedder turns article chunks and search queries into vectors with a
// Gemini embedding model.
type GoogleEmbedder struct {
	client    *genai.Client
	model     string
	dimension int32
}

// NewGoogleEmbedder creates an embedder bound to apiKey. A dimension of zero
// uses DefaultDimension.
func NewGoogleEmbedder(ctx context.Context, model, apiKey string, dimension int) (*GoogleEmbedder, error) {
	if dimension <= 0 {
		dimension = DefaultDimension
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini API client: %w", err)
	}

	return &GoogleEmbedder{
		client:    client,
		model:     model,
		dimension: int32(dimension),
	}, nil
}

func (e *GoogleEmbedder) Dimension() int {
	return int(e.dimension)
}

// EmbedQuery embeds a search query.
func (e *GoogleEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.embed(ctx, []string{text}, taskTypeQuery)
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedDocuments embeds texts in batches, preserving order.
func (e *GoogleEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	result := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += maxBatchSize {
		end := min(start+maxBatchSize, len(texts))
		vecs, err := e.embed(ctx, texts[start:end], taskTypeDocument)
		if err != nil {
			return nil, err
		}
		result = append(result, vecs...)
	}
	return result, nil
}

func (e *GoogleEmbedder) embed(ctx context.Context, texts []string, taskType string) ([][]float32, error) {
	contents := make([]*genai.Content, 0, len(texts))
	for _, text := range texts {
		contents = append(contents, &genai.Content{
			Parts: []*genai.Part{{Text: text}},
		})
	}

	dim := e.dimension
	res, err := e.client.Models.EmbedContent(ctx, e.model, contents, &genai.EmbedContentConfig{
		TaskType:             taskType,
		OutputDimensionality: &dim,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to embed text: %w", err)
	}
	if res == nil || len(res.Embeddings) != len(texts) {
		return nil, ErrEmptyEmbedding
	}

	vecs := make([][]float32, 0, len(res.Embeddings))
	for _, emb := range res.Embeddings {
		if emb == nil || len(emb.Values) == 0 {
			return nil, ErrEmptyEmbedding
		}
		vecs = append(vecs, emb.Values)
	}
	return vecs, nil
}
