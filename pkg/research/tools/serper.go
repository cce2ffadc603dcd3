package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

const (
	// Capability is the tag the researcher role matches on.
	Capability = "web search"
	// ToolName is the function name exposed to the model.
	ToolName = "web_search"

	defaultBaseURL    = "https://google.serper.dev/search"
	defaultMaxResults = 10
)

// ErrSearchUnavailable is returned when the tool was built without an API key.
var ErrSearchUnavailable = errors.New("serper search unavailable: SERPER_API_KEY not configured")

// SearchError marks failures that came from the web search backend.
type SearchError struct {
	Query  string
	Status int
	Err    error
}

func (e *SearchError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("serper search %q failed with status %d: %v", e.Query, e.Status, e.Err)
	}
	return fmt.Sprintf("serper search %q failed: %v", e.Query, e.Err)
}

func (e *SearchError) Unwrap() error {
	return e.Err
}

type Option func(*SearchTool)

func WithBaseURL(baseURL string) Option {
	return func(t *SearchTool) {
		t.baseURL = baseURL
	}
}

func WithMaxResults(n int) Option {
	return func(t *SearchTool) {
		t.maxResults = n
	}
}

func WithHTTPClient(clt *http.Client) Option {
	return func(t *SearchTool) {
		t.httpClient = clt
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(t *SearchTool) {
		t.logger = l
	}
}

// SearchTool performs Google searches through the Serper API.
type SearchTool struct {
	apiKey     string
	baseURL    string
	maxResults int
	httpClient *http.Client
	logger     *slog.Logger
}

// NewSearchTool never fails. Without an API key it logs a warning and returns
// a tool whose every call fails with ErrSearchUnavailable.
func NewSearchTool(apiKey string, opts ...Option) *SearchTool {
	t := &SearchTool{apiKey: strings.TrimSpace(apiKey)}
	for _, opt := range opts {
		opt(t)
	}
	if t.baseURL == "" {
		t.baseURL = defaultBaseURL
	}
	if t.maxResults <= 0 {
		t.maxResults = defaultMaxResults
	}
	if t.httpClient == nil {
		t.httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if t.logger == nil {
		t.logger = slog.Default()
	}

	if t.apiKey == "" {
		t.logger.Warn("SERPER_API_KEY not set, web search will fail when used",
			"hint", "set it in .env or enter it in the web UI; get a key at https://serper.dev/")
	} else {
		t.logger.Debug("Serper search tool initialized", "base_url", t.baseURL)
	}
	return t
}

func (t *SearchTool) Name() string {
	return ToolName
}

func (t *SearchTool) Capability() string {
	return Capability
}

func (t *SearchTool) Description() string {
	return "Search the internet with Google (via Serper) and return the top results with titles, links and snippets."
}

// Usable reports whether the tool has a key. A nil tool is not usable.
func (t *SearchTool) Usable() bool {
	return t != nil && t.apiKey != ""
}

type SearchArgs struct {
	Query      string `json:"query" description:"The search query"`
	NumResults int    `json:"num_results,omitempty" description:"Number of results to return (default 10)"`
}

type OrganicResult struct {
	Title    string `json:"title"`
	Link     string `json:"link"`
	Snippet  string `json:"snippet"`
	Date     string `json:"date,omitempty"`
	Position int    `json:"position"`
}

type AnswerBox struct {
	Title   string `json:"title,omitempty"`
	Answer  string `json:"answer,omitempty"`
	Snippet string `json:"snippet,omitempty"`
}

type KnowledgeGraph struct {
	Title       string `json:"title,omitempty"`
	Type        string `json:"type,omitempty"`
	Description string `json:"description,omitempty"`
}

type SearchResults struct {
	Query          string          `json:"query"`
	AnswerBox      *AnswerBox      `json:"answer_box,omitempty"`
	KnowledgeGraph *KnowledgeGraph `json:"knowledge_graph,omitempty"`
	Organic        []OrganicResult `json:"organic"`
}

type serperRequest struct {
	Q   string `json:"q"`
	Num int    `json:"num"`
}

type serperResponse struct {
	AnswerBox      *AnswerBox      `json:"answerBox"`
	KnowledgeGraph *KnowledgeGraph `json:"knowledgeGraph"`
	Organic        []OrganicResult `json:"organic"`
}

// Search queries Serper once. There is no retry.
func (t *SearchTool) Search(ctx context.Context, args SearchArgs) (SearchResults, error) {
	query := strings.TrimSpace(args.Query)
	if !t.Usable() {
		return SearchResults{}, &SearchError{Query: query, Err: ErrSearchUnavailable}
	}
	if query == "" {
		return SearchResults{}, &SearchError{Query: query, Err: errors.New("empty query")}
	}

	num := args.NumResults
	if num <= 0 || num > t.maxResults {
		num = t.maxResults
	}

	body, err := json.Marshal(serperRequest{Q: query, Num: num})
	if err != nil {
		return SearchResults{}, fmt.Errorf("failed to marshal request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL, bytes.NewReader(body))
	if err != nil {
		return SearchResults{}, fmt.Errorf("failed to create HTTP request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-KEY", t.apiKey)

	t.logger.Info("Searching the web", "query", query, "num", num)

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return SearchResults{}, &SearchError{Query: query, Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return SearchResults{}, &SearchError{Query: query, Err: fmt.Errorf("failed to read response body: %w", err)}
	}

	if resp.StatusCode != http.StatusOK {
		t.logger.Error("Serper returned non-200 status code", "status", resp.StatusCode, "body", string(respBody))
		return SearchResults{}, &SearchError{Query: query, Status: resp.StatusCode, Err: errors.New(strings.TrimSpace(string(respBody)))}
	}

	var parsed serperResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return SearchResults{}, &SearchError{Query: query, Err: fmt.Errorf("failed to unmarshal response: %w", err)}
	}

	organic := parsed.Organic
	if len(organic) > num {
		organic = organic[:num]
	}

	t.logger.Info("Search results received", "query", query, "count", len(organic))
	return SearchResults{
		Query:          query,
		AnswerBox:      parsed.AnswerBox,
		KnowledgeGraph: parsed.KnowledgeGraph,
		Organic:        organic,
	}, nil
}

// Format renders the results as markdown for the model.
func (r SearchResults) Format() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "# Search results for: %s\n\n", r.Query)

	if r.AnswerBox != nil {
		answer := r.AnswerBox.Answer
		if answer == "" {
			answer = r.AnswerBox.Snippet
		}
		if answer != "" {
			fmt.Fprintf(&sb, "## Answer: %s\n\n", answer)
		}
	}
	if r.KnowledgeGraph != nil && r.KnowledgeGraph.Title != "" {
		fmt.Fprintf(&sb, "## %s", r.KnowledgeGraph.Title)
		if r.KnowledgeGraph.Type != "" {
			fmt.Fprintf(&sb, " (%s)", r.KnowledgeGraph.Type)
		}
		sb.WriteString("\n")
		if r.KnowledgeGraph.Description != "" {
			sb.WriteString(r.KnowledgeGraph.Description + "\n")
		}
		sb.WriteString("\n")
	}

	if len(r.Organic) == 0 {
		sb.WriteString("No results found.\n")
		return sb.String()
	}
	for _, item := range r.Organic {
		fmt.Fprintf(&sb, "- Title: %s\n  Link: %s\n  Snippet: %s\n", item.Title, item.Link, item.Snippet)
		if item.Date != "" {
			fmt.Fprintf(&sb, "  Date: %s\n", item.Date)
		}
	}
	return sb.String()
}
