package research

import "strings"

const (
	ResearchTaskName = "research"
	WriteTaskName    = "write"

	topicPlaceholder = "{topic}"
)

const (
	researchDescription = "Identify the next big trend in {topic}. " +
		"Focus on identifying pros and cons and the overall narrative. " +
		"Your final report should clearly articulate the key points, " +
		"its market opportunities, and potential risks."
	researchExpectedOutput = "A bullet list of the 3 most important trends in {topic}, " +
		"each with its pros, cons and market opportunities."

	writeDescription = "Compose an insightful article on {topic}. " +
		"Focus on the latest trends and how it's impacting the industry. " +
		"This article should be easy to understand, engaging, and positive."
	writeExpectedOutput = "A markdown article on {topic} advancements of at least 4 paragraphs. " +
		"Keep it engaging and avoid complex words so it does not sound like AI."
)

// TaskSpec is one unit of work. Position orders tasks in a sequential crew and
// Context names earlier tasks whose output is forwarded to this one.
type TaskSpec struct {
	Name           string
	Description    string
	ExpectedOutput string
	Agent          string
	Position       int
	Context        []string
}

// BuildTasks returns the research and write tasks for topic. The topic is
// inserted verbatim.
func BuildTasks(topic string) (TaskSpec, TaskSpec) {
	researchTask := TaskSpec{
		Name:           ResearchTaskName,
		Description:    interpolate(researchDescription, topic),
		ExpectedOutput: interpolate(researchExpectedOutput, topic),
		Agent:          ResearcherRole,
		Position:       0,
	}
	writeTask := TaskSpec{
		Name:           WriteTaskName,
		Description:    interpolate(writeDescription, topic),
		ExpectedOutput: interpolate(writeExpectedOutput, topic),
		Agent:          WriterRole,
		Position:       1,
		Context:        []string{ResearchTaskName},
	}
	return researchTask, writeTask
}

func interpolate(template, topic string) string {
	return strings.ReplaceAll(template, topicPlaceholder, topic)
}

// Prompt renders the task for its agent, appending the forwarded context.
func (t TaskSpec) Prompt(context map[string]string) string {
	var sb strings.Builder
	sb.WriteString("Current Task: ")
	sb.WriteString(t.Description)
	sb.WriteString("\n\nThis is the expected criteria for your final answer: ")
	sb.WriteString(t.ExpectedOutput)
	sb.WriteString("\nYou MUST return the actual complete content as the final answer, not a summary.")
	for _, name := range t.Context {
		out, ok := context[name]
		if !ok {
			continue
		}
		sb.WriteString("\n\nThis is the context you're working with (output of the ")
		sb.WriteString(name)
		sb.WriteString(" task):\n")
		sb.WriteString(out)
	}
	return sb.String()
}
