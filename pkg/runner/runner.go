package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/mikeboe/research-crew/pkg/config"
	"github.com/mikeboe/research-crew/pkg/research"
	"github.com/mikeboe/research-crew/pkg/research/tools"
)

var ErrEmptyTopic = errors.New("topic must not be empty")

// Step labels reported through Request.OnStep.
const (
	StepInitializing = "Initializing crew..."
	StepResearch     = "Starting research phase..."
	StepWriting      = "Writing article..."
	StepCompleted    = "Completed"
)

type Step struct {
	Label    string `json:"label"`
	Progress int    `json:"progress"`
}

type Request struct {
	Topic      string
	Verbose    bool
	OutputFile string // empty means do not save
	OnStep     func(Step)
}

// Result is a successful pipeline run.
type Result struct {
	Topic       string        `json:"topic"`
	Article     string        `json:"article"`
	Research    string        `json:"research,omitempty"`
	Elapsed     time.Duration `json:"elapsed"`
	StartedAt   time.Time     `json:"started_at"`
	CompletedAt time.Time     `json:"completed_at"`
	OutputFile  string        `json:"output_file,omitempty"`
	FileError   string        `json:"file_error,omitempty"`
}

// Runner composes the crew for a topic and hands it to the engine.
type Runner struct {
	Engine        research.Engine
	Logger        *slog.Logger
	Model         string
	SearchOptions []tools.Option
}

func New(engine research.Engine, model string, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		Engine: engine,
		Logger: logger,
		Model:  model,
	}
}

func (r *Runner) logger() *slog.Logger {
	if r.Logger == nil {
		return slog.Default()
	}
	return r.Logger
}

// WithLogger returns a shallow copy that logs to l.
func (r *Runner) WithLogger(l *slog.Logger) *Runner {
	cp := *r
	cp.Logger = l
	return &cp
}

// Run executes the research and write tasks once. Missing keys or an empty
// topic fail before the engine is touched. Engine errors come back as
// *Failure. A file that cannot be written is reported in Result.FileError.
func (r *Runner) Run(ctx context.Context, keys config.APIKeys, req Request) (*Result, error) {
	logger := r.logger()

	topic := strings.TrimSpace(req.Topic)
	if topic == "" {
		return nil, ErrEmptyTopic
	}
	if err := keys.Validate(); err != nil {
		logger.Error("API key validation failed", "error", err)
		return nil, err
	}

	report := func(label string, progress int) {
		if req.OnStep != nil {
			req.OnStep(Step{Label: label, Progress: progress})
		}
	}

	started := time.Now()
	report(StepInitializing, 10)

	searchOpts := append([]tools.Option{tools.WithLogger(logger)}, r.SearchOptions...)
	crew, err := research.NewCrew(research.CrewConfig{
		Topic:   topic,
		Verbose: req.Verbose,
		LLM: research.LLMConfig{
			Model:  r.Model,
			APIKey: strings.TrimSpace(keys.Google),
		},
		Search: tools.NewSearchTool(strings.TrimSpace(keys.Serper), searchOpts...),
	})
	if err != nil {
		return nil, newFailure(fmt.Errorf("failed to create crew: %w", err))
	}
	crew.Logger = logger
	crew.BeforeTask = func(task research.TaskSpec) {
		switch task.Name {
		case research.ResearchTaskName:
			report(StepResearch, 30)
		case research.WriteTaskName:
			report(StepWriting, 70)
		}
	}

	logger.Info("Starting crew execution", "topic", topic, "verbose", req.Verbose)
	out, err := r.Engine.Kickoff(ctx, crew)
	if err != nil {
		failure := newFailure(err)
		logger.Error("Crew execution failed", "category", failure.Category, "error", err)
		return nil, failure
	}

	completed := time.Now()
	res := &Result{
		Topic:       topic,
		Article:     out.Raw,
		StartedAt:   started,
		CompletedAt: completed,
		Elapsed:     completed.Sub(started),
	}
	if t, ok := out.Task(research.ResearchTaskName); ok {
		res.Research = t.Raw
	}

	if req.OutputFile != "" {
		res.OutputFile = req.OutputFile
		if err := os.WriteFile(req.OutputFile, []byte(res.Article), 0o644); err != nil {
			res.FileError = err.Error()
			logger.Warn("Failed to save article", "file", req.OutputFile, "error", err)
		} else {
			logger.Info("Article saved", "file", req.OutputFile)
		}
	}

	report(StepCompleted, 100)
	logger.Info("Crew execution completed", "topic", topic, "elapsed", res.Elapsed.Round(10*time.Millisecond))
	return res, nil
}
