package research

import (
	"fmt"
	"strings"
)

const (
	ResearcherRole = "Senior Researcher"
	WriterRole     = "Writer"
)

// AgentRole is the static definition of one crew member.
type AgentRole struct {
	Role            string
	Goal            string // may contain {topic}
	Backstory       string
	Tools           []Tool
	LLM             LLMConfig
	Verbose         bool
	AllowDelegation bool
}

func NewResearcher(llm LLMConfig, search Searcher, verbose bool) AgentRole {
	var roleTools []Tool
	if search != nil {
		roleTools = []Tool{search}
	}
	return AgentRole{
		Role: ResearcherRole,
		Goal: "Uncover ground breaking technologies in {topic}",
		Backstory: "Driven by curiosity, you're at the forefront of innovation, " +
			"eager to explore and share knowledge that could change the world.",
		Tools:   roleTools,
		LLM:     llm,
		Verbose: verbose,
	}
}

func NewWriter(llm LLMConfig, verbose bool) AgentRole {
	return AgentRole{
		Role: WriterRole,
		Goal: "Narrate compelling tech stories about {topic}",
		Backstory: "With a flair for simplifying complex topics, you craft engaging " +
			"narratives that captivate and educate, bringing new discoveries to light " +
			"in an accessible manner.",
		LLM:     llm,
		Verbose: verbose,
	}
}

// HasCapability reports whether any of the role's tools carries capability.
func (a AgentRole) HasCapability(capability string) bool {
	for _, t := range a.Tools {
		if t != nil && t.Capability() == capability {
			return true
		}
	}
	return false
}

// AgentName is the identifier-safe name used for the model-side agent.
func (a AgentRole) AgentName() string {
	var sb strings.Builder
	for _, r := range strings.ToLower(strings.TrimSpace(a.Role)) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			sb.WriteRune(r)
		default:
			sb.WriteRune('_')
		}
	}
	name := strings.Trim(sb.String(), "_")
	if name == "" {
		return "agent"
	}
	return name
}

// Instruction is the system prompt for the role. The {topic} placeholder is
// left in place and resolved by the engine from session state.
func (a AgentRole) Instruction() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "You are %s. %s\n", a.Role, a.Backstory)
	fmt.Fprintf(&sb, "Your personal goal is: %s\n", a.Goal)
	if len(a.Tools) > 0 {
		names := make([]string, 0, len(a.Tools))
		for _, t := range a.Tools {
			if t != nil {
				names = append(names, t.Name())
			}
		}
		fmt.Fprintf(&sb, "You have access to the following tools: %s. Use them whenever you need up to date information.\n", strings.Join(names, ", "))
	} else {
		sb.WriteString("You have no tools. Work only from the context you are given.\n")
	}
	if !a.AllowDelegation {
		sb.WriteString("Do the work yourself; do not delegate.\n")
	}
	return sb.String()
}
