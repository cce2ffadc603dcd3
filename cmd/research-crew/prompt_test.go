package main

import (
	"io"
	"strings"
	"testing"
)

func TestResolveTopic(t *testing.T) {
	tests := []struct {
		name  string
		args  []string
		input string
		want  string
	}{
		{"Args joined", []string{"quantum", "computing"}, "", "quantum computing"},
		{"Prompted", nil, "robotics\n", "robotics"},
		{"Empty answer uses default", nil, "\n", "AI in healthcare"},
		{"EOF uses default", nil, "", "AI in healthcare"},
		{"Blank args fall back to prompt", []string{" "}, "edge AI\n", "edge AI"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newPrompter(strings.NewReader(tt.input), io.Discard)
			got, err := resolveTopic(tt.args, p, "AI in healthcare")
			if err != nil {
				t.Fatalf("resolveTopic() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("resolveTopic() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestResolveOutputFile(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"Default answer saves", "\n", "new-blog-post.md"},
		{"No", "n\n", ""},
		{"Uppercase no", "N\n", ""},
		{"Yes with default name", "y\n\n", "new-blog-post.md"},
		{"Yes with custom name", "y\nnotes.md\n", "notes.md"},
		{"Other answer saves without asking", "maybe\nignored.md\n", "new-blog-post.md"},
		{"EOF saves", "", "new-blog-post.md"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newPrompter(strings.NewReader(tt.input), io.Discard)
			got, err := resolveOutputFile(p, "new-blog-post.md")
			if err != nil {
				t.Fatalf("resolveOutputFile() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("resolveOutputFile() = %q, want %q", got, tt.want)
			}
		})
	}
}
