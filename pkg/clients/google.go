package clients

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/adk/model"
	"google.golang.org/adk/model/gemini"
	"google.golang.org/genai"
)

// ModelType is a Gemini model name.
type ModelType string

// DefaultModel is the default model to use if none is specified
const DefaultModel ModelType = "gemini-1.5-flash"

var ErrMissingGoogleKey = errors.New("google api key is empty")

// Gemini returns an ADK model backed by the Gemini API. The key is passed
// explicitly; nothing is read from the environment here.
func Gemini(ctx context.Context, modelName, apiKey string) (model.LLM, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, ErrMissingGoogleKey
	}
	if strings.TrimSpace(modelName) == "" {
		modelName = string(DefaultModel)
	}

	// See https://ai.google.dev/gemini-api/docs/models/gemini for possible models
	llm, err := gemini.NewModel(ctx, modelName, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini model %s: %w", modelName, err)
	}
	return llm, nil
}
