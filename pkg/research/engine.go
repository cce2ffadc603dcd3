package research

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"
	"google.golang.org/adk/agent"
	"google.golang.org/adk/agent/llmagent"
	"google.golang.org/adk/model"
	"google.golang.org/adk/runner"
	"google.golang.org/adk/session"
	"google.golang.org/adk/tool"
	"google.golang.org/adk/tool/functiontool"
	"google.golang.org/genai"

	"github.com/mikeboe/research-crew/pkg/clients"
	"github.com/mikeboe/research-crew/pkg/research/tools"
)

const (
	appName = "research-crew"
	userID  = "crew"
)

// ModelFactory builds the model an agent runs on.
type ModelFactory func(ctx context.Context, cfg LLMConfig) (model.LLM, error)

// ADKEngine runs a crew on the Agent Development Kit. Every role becomes an
// llmagent and every task one runner invocation on its own session.
type ADKEngine struct {
	NewModel ModelFactory
	Logger   *slog.Logger
}

func NewADKEngine(logger *slog.Logger) *ADKEngine {
	if logger == nil {
		logger = slog.Default()
	}
	return &ADKEngine{
		NewModel: func(ctx context.Context, cfg LLMConfig) (model.LLM, error) {
			return clients.Gemini(ctx, cfg.Model, cfg.APIKey)
		},
		Logger: logger,
	}
}

type searchToolResult struct {
	Results string `json:"results"`
}

// fatalSlot keeps the first tool error that must abort the task.
type fatalSlot struct {
	mu  sync.Mutex
	err error
}

func (s *fatalSlot) set(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err == nil {
		s.err = err
	}
}

func (s *fatalSlot) get() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (e *ADKEngine) Kickoff(ctx context.Context, crew *Crew) (*CrewOutput, error) {
	if crew == nil {
		return nil, fmt.Errorf("%w: nil crew", ErrInvalidCrew)
	}
	if err := crew.Validate(); err != nil {
		return nil, err
	}

	logger := e.Logger
	if crew.Logger != nil {
		logger = crew.Logger
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("Crew kickoff", "topic", crew.Topic, "process", crew.Process, "tasks", len(crew.Tasks))

	fatal := &fatalSlot{}
	agents := make(map[string]agent.Agent, len(crew.Agents))
	for _, role := range crew.Agents {
		a, err := e.buildAgent(ctx, role, fatal, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to build agent %q: %w", role.Role, err)
		}
		agents[role.Role] = a
	}

	out := &CrewOutput{}
	results := make(map[string]string, len(crew.Tasks))
	for _, task := range crew.OrderedTasks() {
		for _, dep := range task.Context {
			if strings.TrimSpace(results[dep]) == "" {
				return out, &TaskError{Task: task.Name, Agent: task.Agent, Err: fmt.Errorf("%w: %q", ErrMissingContext, dep)}
			}
		}

		if crew.BeforeTask != nil {
			crew.BeforeTask(task)
		}
		logger.Info("Starting task", "task", task.Name, "agent", task.Agent)

		text, err := e.runTask(ctx, crew, agents[task.Agent], task, task.Prompt(results), fatal, logger)
		if err != nil {
			return out, &TaskError{Task: task.Name, Agent: task.Agent, Err: err}
		}
		if strings.TrimSpace(text) == "" {
			return out, &TaskError{Task: task.Name, Agent: task.Agent, Err: ErrEmptyTaskOutput}
		}

		results[task.Name] = text
		taskOut := TaskOutput{Name: task.Name, Agent: task.Agent, Raw: text}
		out.Tasks = append(out.Tasks, taskOut)
		out.Raw = text
		logger.Info("Task completed", "task", task.Name, "length", len(text))

		if crew.AfterTask != nil {
			crew.AfterTask(taskOut)
		}
	}

	return out, nil
}

func (e *ADKEngine) buildAgent(ctx context.Context, role AgentRole, fatal *fatalSlot, logger *slog.Logger) (agent.Agent, error) {
	llm, err := e.NewModel(ctx, role.LLM)
	if err != nil {
		return nil, err
	}

	var agentTools []tool.Tool
	for _, t := range role.Tools {
		searcher, ok := t.(Searcher)
		if !ok {
			return nil, fmt.Errorf("unsupported tool %q", t.Name())
		}
		st, err := newSearchFunctionTool(searcher, fatal, logger)
		if err != nil {
			return nil, err
		}
		agentTools = append(agentTools, st)
	}

	var genCfg *genai.GenerateContentConfig
	if role.LLM.Temperature != nil || role.LLM.MaxOutputTokens > 0 {
		genCfg = &genai.GenerateContentConfig{
			Temperature:     role.LLM.Temperature,
			MaxOutputTokens: role.LLM.MaxOutputTokens,
		}
	}

	return llmagent.New(llmagent.Config{
		Name:                  role.AgentName(),
		Model:                 llm,
		Description:           role.Goal,
		Instruction:           role.Instruction(),
		Tools:                 agentTools,
		GenerateContentConfig: genCfg,
	})
}

func newSearchFunctionTool(s Searcher, fatal *fatalSlot, logger *slog.Logger) (tool.Tool, error) {
	st, err := functiontool.New[tools.SearchArgs, searchToolResult](
		functiontool.Config{
			Name:        s.Name(),
			Description: s.Description(),
		},
		func(ctx tool.Context, args tools.SearchArgs) (searchToolResult, error) {
			res, err := s.Search(ctx, args)
			if err != nil {
				if errors.Is(err, tools.ErrSearchUnavailable) {
					fatal.set(err)
				}
				logger.Warn("Search tool failed", "query", args.Query, "error", err)
				return searchToolResult{}, err
			}
			return searchToolResult{Results: res.Format()}, nil
		},
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create search tool: %w", err)
	}
	return st, nil
}

func (e *ADKEngine) runTask(ctx context.Context, crew *Crew, a agent.Agent, task TaskSpec, prompt string, fatal *fatalSlot, logger *slog.Logger) (string, error) {
	sessionSvc := session.InMemoryService()
	sessionID := uuid.NewString()

	// {topic} in agent instructions resolves from this state.
	if _, err := sessionSvc.Create(ctx, &session.CreateRequest{
		AppName:   appName,
		UserID:    userID,
		SessionID: sessionID,
		State:     map[string]any{"topic": crew.Topic},
	}); err != nil {
		return "", fmt.Errorf("failed to create session: %w", err)
	}

	r, err := runner.New(runner.Config{
		AppName:        appName,
		Agent:          a,
		SessionService: sessionSvc,
	})
	if err != nil {
		return "", fmt.Errorf("failed to create runner: %w", err)
	}

	userContent := &genai.Content{
		Role:  "user",
		Parts: []*genai.Part{{Text: prompt}},
	}

	level := slog.LevelDebug
	if crew.Verbose {
		level = slog.LevelInfo
	}

	var final string
	for event, err := range r.Run(ctx, userID, sessionID, userContent, agent.RunConfig{}) {
		if err != nil {
			if fatalErr := fatal.get(); fatalErr != nil {
				return "", fatalErr
			}
			return "", err
		}
		if event == nil || event.Author != a.Name() || event.LLMResponse.Content == nil {
			continue
		}

		var text strings.Builder
		for _, part := range event.LLMResponse.Content.Parts {
			if part == nil {
				continue
			}
			if part.Text != "" {
				text.WriteString(part.Text)
			}
			if part.FunctionCall != nil {
				logger.Log(ctx, level, "Agent tool call", "task", task.Name, "tool", part.FunctionCall.Name, "args", part.FunctionCall.Args)
			}
			if part.FunctionResponse != nil {
				logger.Log(ctx, level, "Agent tool result", "task", task.Name, "tool", part.FunctionResponse.Name)
			}
		}
		if text.Len() > 0 {
			final = text.String()
			logger.Log(ctx, level, "Agent output", "task", task.Name, "agent", a.Name(), "text_len", text.Len())
		}
	}

	if err := fatal.get(); err != nil {
		return "", err
	}
	return final, nil
}
