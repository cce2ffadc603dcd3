package main

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

// prompter reads answers line by line. EOF counts as an empty answer.
type prompter struct {
	in  *bufio.Reader
	out io.Writer
}

func newPrompter(in io.Reader, out io.Writer) *prompter {
	return &prompter{in: bufio.NewReader(in), out: out}
}

func (p *prompter) ask(question string) (string, error) {
	fmt.Fprint(p.out, question)
	line, err := p.in.ReadString('\n')
	if err != nil && err != io.EOF {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

// resolveTopic joins positional args or asks, falling back to defaultTopic.
func resolveTopic(args []string, p *prompter, defaultTopic string) (string, error) {
	if len(args) > 0 {
		if topic := strings.TrimSpace(strings.Join(args, " ")); topic != "" {
			return topic, nil
		}
	}
	answer, err := p.ask(fmt.Sprintf("Enter research topic (default: %s): ", defaultTopic))
	if err != nil {
		return "", err
	}
	if answer == "" {
		return defaultTopic, nil
	}
	return answer, nil
}

// resolveOutputFile asks whether to save. Anything but "n" saves to
// defaultFile; only an explicit "y" offers a custom name. It returns "" when
// the article should not be saved.
func resolveOutputFile(p *prompter, defaultFile string) (string, error) {
	answer, err := p.ask("Save to file? (y/n, default: y): ")
	if err != nil {
		return "", err
	}
	answer = strings.ToLower(answer)
	if answer == "n" {
		return "", nil
	}
	if answer != "y" {
		return defaultFile, nil
	}

	custom, err := p.ask(fmt.Sprintf("Output filename (default: %s): ", defaultFile))
	if err != nil {
		return "", err
	}
	if custom == "" {
		return defaultFile, nil
	}
	return custom, nil
}
