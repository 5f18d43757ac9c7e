package analysis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"therapybridge/internal/services/llm"
	"therapybridge/internal/store"
)

var (
	// ErrMalformedResponse marks model output that does not satisfy the result schema.
	ErrMalformedResponse = errors.New("malformed analyzer response")
	// ErrProvider marks a failed LLM request. The provider error stays in the chain.
	ErrProvider = errors.New("llm provider error")
)

// Analyzer names used in logs, events, and job summaries.
const (
	NameMood         = "mood"
	NameTopic        = "topic"
	NameBreakthrough = "breakthrough"
	NameDeep         = "deep"
	NameProse        = "prose"
)

// Analyzer is a single LLM-backed transform. Implementations make one request
// per call and never retry.
type Analyzer[In, Out any] interface {
	Analyze(ctx context.Context, in In) (Out, error)
}

// Completer sends one JSON chat completion. *llm.Client satisfies it.
type Completer interface {
	CompleteJSON(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// Transcript is the ordered segment list every analyzer reads.
type Transcript []store.Segment

// Text renders the transcript as "[mm:ss] Speaker: text" lines.
func (t Transcript) Text() string {
	var b strings.Builder
	for _, seg := range t {
		text := strings.TrimSpace(seg.Text)
		if text == "" {
			continue
		}
		speaker := strings.TrimSpace(seg.Speaker)
		if speaker == "" {
			speaker = "Unknown"
		}
		total := int(seg.Start)
		fmt.Fprintf(&b, "[%02d:%02d] %s: %s\n", total/60, total%60, speaker, text)
	}
	return strings.TrimRight(b.String(), "\n")
}

func complete(ctx context.Context, client Completer, name string, prompt renderedPrompt, target any) error {
	content, err := client.CompleteJSON(ctx, prompt.System, prompt.User)
	if err != nil {
		return fmt.Errorf("%s analyzer: %w: %w", name, ErrProvider, err)
	}
	if err := llm.DecodeLLMJSON(content, target); err != nil {
		return malformed(name, "decode: %v", err)
	}
	return nil
}

func malformed(name, format string, args ...any) error {
	return fmt.Errorf("%s analyzer: %w: %s", name, ErrMalformedResponse, fmt.Sprintf(format, args...))
}

func truncateRunes(value string, limit int) string {
	if utf8.RuneCountInString(value) <= limit {
		return value
	}
	runes := []rune(value)
	return strings.TrimSpace(string(runes[:limit]))
}

func cleanList(values []string, limit int) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v = strings.TrimSpace(v); v == "" {
			continue
		}
		out = append(out, v)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}
