package research

import (
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/mikeboe/research-crew/pkg/research/tools"
)

// Crew is a set of agents and the tasks they run, handed to an Engine.
type Crew struct {
	Topic   string
	Agents  []AgentRole
	Tasks   []TaskSpec
	Process Process
	Verbose bool

	// Logger receives agent events. Nil falls back to the engine's logger.
	Logger *slog.Logger

	// BeforeTask and AfterTask are optional progress hooks.
	BeforeTask func(TaskSpec)
	AfterTask  func(TaskOutput)
}

type CrewConfig struct {
	Topic   string
	Verbose bool
	LLM     LLMConfig
	Search  Searcher
}

// NewCrew composes the researcher and writer with the research and write tasks.
func NewCrew(cfg CrewConfig) (*Crew, error) {
	topic := strings.TrimSpace(cfg.Topic)
	if topic == "" {
		return nil, fmt.Errorf("%w: empty topic", ErrInvalidCrew)
	}

	researchTask, writeTask := BuildTasks(topic)
	crew := &Crew{
		Topic: topic,
		Agents: []AgentRole{
			NewResearcher(cfg.LLM, cfg.Search, cfg.Verbose),
			NewWriter(cfg.LLM, cfg.Verbose),
		},
		Tasks:   []TaskSpec{researchTask, writeTask},
		Process: ProcessSequential,
		Verbose: cfg.Verbose,
	}
	if err := crew.Validate(); err != nil {
		return nil, err
	}
	return crew, nil
}

// Agent looks up a role by name.
func (c *Crew) Agent(role string) (AgentRole, bool) {
	for _, a := range c.Agents {
		if a.Role == role {
			return a, true
		}
	}
	return AgentRole{}, false
}

// OrderedTasks returns the tasks sorted by position.
func (c *Crew) OrderedTasks() []TaskSpec {
	ordered := slices.Clone(c.Tasks)
	slices.SortStableFunc(ordered, func(a, b TaskSpec) int {
		return a.Position - b.Position
	})
	return ordered
}

// Validate checks the sequencing contract: every task's agent is in the crew,
// positions are unique, and every context reference points at a task that
// runs strictly earlier. Only the researcher may hold the web search tool.
func (c *Crew) Validate() error {
	if c.Process != ProcessSequential {
		return fmt.Errorf("%w: unsupported process %q", ErrInvalidCrew, c.Process)
	}
	if len(c.Tasks) == 0 {
		return fmt.Errorf("%w: no tasks", ErrInvalidCrew)
	}

	positions := make(map[string]int, len(c.Tasks))
	seen := make(map[int]string, len(c.Tasks))
	for _, t := range c.Tasks {
		if _, ok := c.Agent(t.Agent); !ok {
			return fmt.Errorf("%w: task %q assigned to unknown agent %q", ErrInvalidCrew, t.Name, t.Agent)
		}
		if other, dup := seen[t.Position]; dup {
			return fmt.Errorf("%w: tasks %q and %q share position %d", ErrInvalidCrew, other, t.Name, t.Position)
		}
		if _, dup := positions[t.Name]; dup {
			return fmt.Errorf("%w: duplicate task %q", ErrInvalidCrew, t.Name)
		}
		seen[t.Position] = t.Name
		positions[t.Name] = t.Position
	}

	for _, t := range c.Tasks {
		for _, dep := range t.Context {
			pos, ok := positions[dep]
			if !ok {
				return fmt.Errorf("%w: task %q depends on unknown task %q", ErrInvalidCrew, t.Name, dep)
			}
			if pos >= t.Position {
				return fmt.Errorf("%w: task %q must run after %q", ErrInvalidCrew, t.Name, dep)
			}
		}
	}

	for _, a := range c.Agents {
		if a.Role != ResearcherRole && a.HasCapability(tools.Capability) {
			return fmt.Errorf("%w: %q may not use %s", ErrInvalidCrew, a.Role, tools.Capability)
		}
	}
	return nil
}
