package splitter

import (
	"strings"

	"github.com/tmc/langchaingo/textsplitter"
)

// TextSplitter wraps a langchaingo splitter and drops blank chunks.
type TextSplitter struct {
	splitter textsplitter.TextSplitter
}

// NewMarkdownSplitter splits generated articles along their markdown
// structure so headings stay with their paragraphs.
func NewMarkdownSplitter(chunkSize, chunkOverlap int) *TextSplitter {
	ts := textsplitter.NewMarkdownTextSplitter(
		textsplitter.WithChunkSize(chunkSize),
		textsplitter.WithChunkOverlap(chunkOverlap),
	)
	return &TextSplitter{splitter: ts}
}

func (ts *TextSplitter) SplitText(text string) ([]string, error) {
	chunks, err := ts.splitter.SplitText(text)
	if err != nil {
		return nil, err
	}
	out := chunks[:0]
	for _, c := range chunks {
		if strings.TrimSpace(c) != "" {
			out = append(out, c)
		}
	}
	return out, nil
}
