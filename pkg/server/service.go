package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mikeboe/research-crew/pkg/archive"
	"github.com/mikeboe/research-crew/pkg/config"
	"github.com/mikeboe/research-crew/pkg/runner"
	"github.com/mikeboe/research-crew/pkg/store"
	"github.com/mikeboe/research-crew/pkg/vectorstore"
)

var (
	ErrRunInProgress   = errors.New("a run is already in progress")
	ErrInvalidOptions  = errors.New("invalid run options")
	ErrArchiveDisabled = errors.New("article archive is disabled; set DATABASE_URL to enable it")
)

// Response lengths offered by the UI. They are recorded with the run.
var ResponseLengths = []string{"Standard", "Extended", "Comprehensive"}

const DefaultTemperature = 0.5

// RunOptions is what the UI form and the API accept to start a run.
type RunOptions struct {
	Topic          string   `json:"topic" form:"topic"`
	Verbose        *bool    `json:"verbose" form:"verbose"`
	SaveToFile     *bool    `json:"save_to_file" form:"save_to_file"`
	OutputFile     string   `json:"output_file" form:"output_file"`
	Temperature    *float64 `json:"temperature" form:"temperature"`
	ResponseLength string   `json:"response_length" form:"response_length"`
}

// normalized fills defaults (verbose on, save on, new-blog-post.md, 0.5,
// Standard) and validates the ranges.
func (o RunOptions) normalized(defaultOutput string) (RunOptions, error) {
	t := true
	if o.Verbose == nil {
		o.Verbose = &t
	}
	if o.SaveToFile == nil {
		o.SaveToFile = &t
	}
	o.Topic = strings.TrimSpace(o.Topic)
	o.OutputFile = strings.TrimSpace(o.OutputFile)
	if *o.SaveToFile && o.OutputFile == "" {
		o.OutputFile = defaultOutput
	}
	if !*o.SaveToFile {
		o.OutputFile = ""
	}
	if o.Temperature == nil {
		temp := DefaultTemperature
		o.Temperature = &temp
	}
	if *o.Temperature < 0 || *o.Temperature > 1 {
		return o, fmt.Errorf("%w: temperature must be between 0 and 1", ErrInvalidOptions)
	}
	if o.ResponseLength == "" {
		o.ResponseLength = ResponseLengths[0]
	}
	if !slices.Contains(ResponseLengths, o.ResponseLength) {
		return o, fmt.Errorf("%w: response_length must be one of %s", ErrInvalidOptions, strings.Join(ResponseLengths, ", "))
	}
	return o, nil
}

// Service runs the pipeline for the web UI, the JSON API and MCP. Runs are
// strictly sequential.
type Service struct {
	Runner     *runner.Runner
	Store      store.Store
	Keys       *config.KeyState
	Archive    *archive.Archive
	Logger     *slog.Logger
	OutputFile string

	mu      sync.Mutex
	running bool
	current uuid.UUID
	wg      sync.WaitGroup
}

func NewService(r *runner.Runner, st store.Store, keys *config.KeyState, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		Runner:     r,
		Store:      st,
		Keys:       keys,
		Logger:     logger,
		OutputFile: config.DefaultOutputFile,
	}
}

// Current returns the ID of the run in flight.
func (s *Service) Current() (uuid.UUID, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current, s.running
}

func (s *Service) acquire() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return false
	}
	s.running = true
	return true
}

func (s *Service) release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running = false
	s.current = uuid.Nil
}

// Wait blocks until background runs have finished.
func (s *Service) Wait() {
	s.wg.Wait()
}

// prepare validates the request and claims the run slot. The caller must
// release the slot when the run ends.
func (s *Service) prepare(ctx context.Context, opts RunOptions) (*store.Run, RunOptions, config.APIKeys, error) {
	opts, err := opts.normalized(s.OutputFile)
	if err != nil {
		return nil, opts, config.APIKeys{}, err
	}
	if opts.Topic == "" {
		return nil, opts, config.APIKeys{}, runner.ErrEmptyTopic
	}
	if opts.OutputFile != "" && filepath.Base(opts.OutputFile) != opts.OutputFile {
		return nil, opts, config.APIKeys{}, fmt.Errorf("%w: output_file must be a plain file name", ErrInvalidOptions)
	}
	keys := s.Keys.Effective()
	if err := keys.Validate(); err != nil {
		return nil, opts, keys, err
	}

	if !s.acquire() {
		return nil, opts, keys, ErrRunInProgress
	}

	optionsJSON, _ := json.Marshal(map[string]any{
		"verbose":         *opts.Verbose,
		"save_to_file":    *opts.SaveToFile,
		"output_file":     opts.OutputFile,
		"temperature":     *opts.Temperature,
		"response_length": opts.ResponseLength,
		"key_source":      keys.Source,
	})
	run, err := s.Store.CreateRun(ctx, opts.Topic, optionsJSON)
	if err != nil {
		s.release()
		return nil, opts, keys, fmt.Errorf("failed to create run: %w", err)
	}

	s.mu.Lock()
	s.current = run.ID
	s.mu.Unlock()
	return run, opts, keys, nil
}

// StartRun records a new run and executes it in the background.
func (s *Service) StartRun(ctx context.Context, opts RunOptions) (*store.Run, error) {
	run, opts, keys, err := s.prepare(ctx, opts)
	if err != nil {
		return nil, err
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.release()
		s.runWorker(context.WithoutCancel(ctx), run.ID, keys, opts)
	}()

	return run, nil
}

// RunSync executes a run and returns it once finished.
func (s *Service) RunSync(ctx context.Context, opts RunOptions) (*store.Run, error) {
	run, opts, keys, err := s.prepare(ctx, opts)
	if err != nil {
		return nil, err
	}
	defer s.release()

	s.runWorker(ctx, run.ID, keys, opts)
	return s.Store.GetRun(context.WithoutCancel(ctx), run.ID)
}

func (s *Service) runWorker(ctx context.Context, runID uuid.UUID, keys config.APIKeys, opts RunOptions) {
	runLogger := slog.New(NewRunLogHandler(s.Store, runID, s.Logger.Handler()))
	storeCtx := context.WithoutCancel(ctx)
	started := time.Now()

	res, err := s.Runner.WithLogger(runLogger).Run(ctx, keys, runner.Request{
		Topic:      opts.Topic,
		Verbose:    *opts.Verbose,
		OutputFile: opts.OutputFile,
		OnStep: func(step runner.Step) {
			if err := s.Store.UpdateProgress(storeCtx, runID, step.Label, step.Progress); err != nil {
				runLogger.Error("Failed to save progress", "error", err)
			}
		},
	})
	if err != nil {
		category := runner.Classify(err)
		if ferr := s.Store.FailRun(storeCtx, runID, store.Failure{
			Error:          err.Error(),
			Category:       string(category),
			Hint:           runner.Hint(category),
			ElapsedSeconds: time.Since(started).Seconds(),
		}); ferr != nil {
			s.Logger.Error("Failed to mark run as failed", "run_id", runID, "error", ferr)
		}
		return
	}

	if err := s.Store.CompleteRun(storeCtx, runID, store.Completion{
		Article:        res.Article,
		OutputFile:     res.OutputFile,
		FileError:      res.FileError,
		ElapsedSeconds: res.Elapsed.Seconds(),
	}); err != nil {
		runLogger.Error("Failed to save final article", "error", err)
		return
	}

	if s.Archive != nil {
		if _, err := s.Archive.Index(storeCtx, keys.Google, runID, res.Topic, res.Article); err != nil {
			runLogger.Warn("Failed to index article", "error", err)
		}
	}
}

// SetKeys switches the key source for the rest of the process.
func (s *Service) SetKeys(method config.KeySource, google, serper string) error {
	switch method {
	case config.SourceManual:
		s.Keys.SetManual(google, serper)
	case config.SourceEnvironment, "":
		s.Keys.UseEnvironment()
	default:
		return fmt.Errorf("%w: unknown key method %q", ErrInvalidOptions, method)
	}
	return nil
}

// Status is the snapshot the UI and /api/status render.
type Status struct {
	Keys      config.KeyStatus `json:"keys"`
	Running   bool             `json:"running"`
	Current   *store.Run       `json:"current,omitempty"`
	Latest    *store.Run       `json:"latest,omitempty"`
	ArchiveOn bool             `json:"archive_enabled"`
}

func (s *Service) Status(ctx context.Context) (*Status, error) {
	st := &Status{
		Keys:      s.Keys.Status(),
		ArchiveOn: s.Archive != nil,
	}
	if id, ok := s.Current(); ok {
		st.Running = true
		if id != uuid.Nil {
			run, err := s.Store.GetRun(ctx, id)
			if err != nil && !errors.Is(err, store.ErrNotFound) {
				return nil, err
			}
			st.Current = run
		}
	}
	latest, err := s.Store.LatestCompleted(ctx)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}
	st.Latest = latest
	return st, nil
}

// SearchArticles queries the archive with the effective Google key.
func (s *Service) SearchArticles(ctx context.Context, query string, topK int) ([]ArticleHit, error) {
	if s.Archive == nil {
		return nil, ErrArchiveDisabled
	}
	keys := s.Keys.Effective()
	if strings.TrimSpace(keys.Google) == "" {
		return nil, &config.MissingCredentialsError{Missing: []string{config.GoogleKeyEnv + " (Google Gemini API)"}}
	}
	results, err := s.Archive.Search(ctx, keys.Google, query, topK)
	if err != nil {
		return nil, err
	}
	hits := make([]ArticleHit, 0, len(results))
	for _, r := range results {
		hits = append(hits, ArticleHit{
			RunID:    r.Chunk.RunID.String(),
			Topic:    r.Chunk.Topic,
			Position: r.Chunk.Position,
			Content:  r.Chunk.Content,
			Score:    r.Score,
		})
	}
	return hits, nil
}

// RunChunks returns the archived chunks of a run in article order.
func (s *Service) RunChunks(ctx context.Context, id uuid.UUID) ([]vectorstore.Chunk, error) {
	if s.Archive == nil {
		return nil, ErrArchiveDisabled
	}
	if _, err := s.Store.GetRun(ctx, id); err != nil {
		return nil, err
	}
	return s.Archive.Chunks(ctx, id)
}

type ArticleHit struct {
	RunID    string  `json:"run_id"`
	Topic    string  `json:"topic"`
	Position int     `json:"position"`
	Content  string  `json:"content"`
	Score    float64 `json:"score"`
}
