package runner

import (
	"errors"
	"strings"

	"github.com/mikeboe/research-crew/pkg/config"
	"github.com/mikeboe/research-crew/pkg/research/tools"
)

// Category groups a failure for user-facing guidance.
type Category string

const (
	CategoryCredentials Category = "credentials"
	CategorySearch      Category = "search"
	CategoryModel       Category = "model"
	CategoryGeneral     Category = "general"
)

// Classify maps an error to a category. Missing credentials and any message
// mentioning "api key" are credential failures, even when a search error
// carries them. Otherwise a typed search error is a search failure, and the
// lower-cased message is matched in order: "serper", then "google" or "gemini".
func Classify(err error) Category {
	if err == nil {
		return CategoryGeneral
	}
	if errors.Is(err, config.ErrMissingCredentials) {
		return CategoryCredentials
	}
	byMessage := classifyMessage(err.Error())
	if byMessage == CategoryCredentials {
		return byMessage
	}
	var searchErr *tools.SearchError
	if errors.As(err, &searchErr) {
		return CategorySearch
	}
	return byMessage
}

func classifyMessage(msg string) Category {
	msg = strings.ToLower(msg)
	switch {
	case strings.Contains(msg, "api key"):
		return CategoryCredentials
	case strings.Contains(msg, "serper"):
		return CategorySearch
	case strings.Contains(msg, "google"), strings.Contains(msg, "gemini"):
		return CategoryModel
	default:
		return CategoryGeneral
	}
}

// Title is the short heading shown for a category.
func (c Category) Title() string {
	switch c {
	case CategoryCredentials:
		return "API Key Error: Please check your API keys and try again."
	case CategorySearch:
		return "Search Error: Issue with web search functionality."
	case CategoryModel:
		return "Model Error: Issue with Google Gemini API."
	default:
		return "General Error: Please check your configuration and try again."
	}
}

// Hint returns the guidance shown with a failure.
func Hint(c Category) string {
	switch c {
	case CategoryCredentials:
		return "Make sure your API keys are valid and have sufficient quota."
	case CategorySearch:
		return "Check your Serper API key and internet connection."
	case CategoryModel:
		return "Check your Google API key and quota limits."
	default:
		return "Please check your configuration and try again."
	}
}

// Failure is a classified pipeline error.
type Failure struct {
	Category Category
	Hint     string
	Err      error
}

func newFailure(err error) *Failure {
	c := Classify(err)
	return &Failure{Category: c, Hint: Hint(c), Err: err}
}

func (f *Failure) Error() string {
	return f.Err.Error()
}

func (f *Failure) Unwrap() error {
	return f.Err
}
