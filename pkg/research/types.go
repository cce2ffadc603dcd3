package research

import (
	"context"
	"errors"
	"fmt"

	"github.com/mikeboe/research-crew/pkg/research/tools"
)

// Process selects how a crew orders its tasks. Only sequential is supported.
type Process string

const ProcessSequential Process = "sequential"

var (
	ErrInvalidCrew     = errors.New("invalid crew")
	ErrEmptyTaskOutput = errors.New("task produced no output")
	ErrMissingContext  = errors.New("task context not available")
)

// LLMConfig references the model backend an agent talks to.
type LLMConfig struct {
	Model           string
	APIKey          string `json:"-"`
	Temperature     *float32
	MaxOutputTokens int32
}

// Tool is a capability an agent may be given.
type Tool interface {
	Name() string
	Capability() string
	Description() string
}

// Searcher is a Tool that can run web searches.
type Searcher interface {
	Tool
	Search(ctx context.Context, args tools.SearchArgs) (tools.SearchResults, error)
}

// TaskOutput is the raw text one task produced.
type TaskOutput struct {
	Name  string `json:"name"`
	Agent string `json:"agent"`
	Raw   string `json:"raw"`
}

// CrewOutput is what Kickoff returns. Raw is the output of the last task.
type CrewOutput struct {
	Raw   string       `json:"raw"`
	Tasks []TaskOutput `json:"tasks"`
}

// Task returns the output of the named task.
func (o *CrewOutput) Task(name string) (TaskOutput, bool) {
	if o == nil {
		return TaskOutput{}, false
	}
	for _, t := range o.Tasks {
		if t.Name == name {
			return t, true
		}
	}
	return TaskOutput{}, false
}

// TaskError reports which task failed.
type TaskError struct {
	Task  string
	Agent string
	Err   error
}

func (e *TaskError) Error() string {
	return fmt.Sprintf("task %q (%s) failed: %v", e.Task, e.Agent, e.Err)
}

func (e *TaskError) Unwrap() error {
	return e.Err
}

// Engine executes a crew. Implementations run the tasks in order and forward
// each task's output to the tasks that list it as context.
type Engine interface {
	Kickoff(ctx context.Context, crew *Crew) (*CrewOutput, error)
}
