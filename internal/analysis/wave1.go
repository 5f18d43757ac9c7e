package analysis

import (
	"context"
	"math"
	"strings"

	"therapybridge/internal/store"
)

// MoodResult is the mood analyzer's output.
type MoodResult struct {
	Score     float64
	Rationale string
}

// Mood rates the patient's mood on the 0-10 half-point scale.
type Mood struct {
	client  Completer
	prompts *Prompts
}

// NewMood constructs the mood analyzer.
func NewMood(client Completer, prompts *Prompts) *Mood {
	return &Mood{client: client, prompts: prompts}
}

// Analyze implements Analyzer.
func (m *Mood) Analyze(ctx context.Context, transcript Transcript) (MoodResult, error) {
	prompt, err := m.prompts.render(NameMood, transcriptData{Transcript: transcript.Text()})
	if err != nil {
		return MoodResult{}, err
	}
	var payload struct {
		MoodScore *float64 `json:"mood_score"`
		Rationale string   `json:"rationale"`
	}
	if err := complete(ctx, m.client, NameMood, prompt, &payload); err != nil {
		return MoodResult{}, err
	}
	if payload.MoodScore == nil {
		return MoodResult{}, malformed(NameMood, "mood_score missing")
	}
	score := *payload.MoodScore
	if math.IsNaN(score) || math.IsInf(score, 0) || score < store.MinMoodScore || score > store.MaxMoodScore {
		return MoodResult{}, malformed(NameMood, "mood_score %v outside [%v,%v]", score, store.MinMoodScore, store.MaxMoodScore)
	}
	return MoodResult{
		Score:     SnapMoodScore(score),
		Rationale: strings.TrimSpace(payload.Rationale),
	}, nil
}

// SnapMoodScore rounds a score to the nearest half point.
func SnapMoodScore(score float64) float64 {
	return math.Round(score/store.MoodStep) * store.MoodStep
}

// Topic extracts topics, technique, action items, and a one-line summary.
type Topic struct {
	client  Completer
	prompts *Prompts
}

// NewTopic constructs the topic analyzer.
func NewTopic(client Completer, prompts *Prompts) *Topic {
	return &Topic{client: client, prompts: prompts}
}

// Analyze implements Analyzer.
func (t *Topic) Analyze(ctx context.Context, transcript Transcript) (store.TopicFields, error) {
	prompt, err := t.prompts.render(NameTopic, transcriptData{Transcript: transcript.Text()})
	if err != nil {
		return store.TopicFields{}, err
	}
	var payload struct {
		Topics      []string `json:"topics"`
		Technique   string   `json:"technique"`
		ActionItems []string `json:"action_items"`
		Summary     string   `json:"summary"`
	}
	if err := complete(ctx, t.client, NameTopic, prompt, &payload); err != nil {
		return store.TopicFields{}, err
	}
	fields := store.TopicFields{
		Topics:      cleanList(payload.Topics, store.MaxTopics),
		Technique:   strings.TrimSpace(payload.Technique),
		ActionItems: cleanList(payload.ActionItems, store.MaxActionItems),
		Summary:     truncateRunes(strings.TrimSpace(payload.Summary), store.MaxSummaryRunes),
	}
	if len(fields.Topics) == 0 {
		return store.TopicFields{}, malformed(NameTopic, "no topics")
	}
	if fields.Technique == "" {
		return store.TopicFields{}, malformed(NameTopic, "technique missing")
	}
	if fields.Summary == "" {
		return store.TopicFields{}, malformed(NameTopic, "summary missing")
	}
	return fields, nil
}

// BreakthroughResult is the breakthrough analyzer's output.
type BreakthroughResult struct {
	HasBreakthrough bool
	Label           string
}

// Breakthrough detects whether the session contains a therapeutic breakthrough.
type Breakthrough struct {
	client  Completer
	prompts *Prompts
}

// NewBreakthrough constructs the breakthrough analyzer.
func NewBreakthrough(client Completer, prompts *Prompts) *Breakthrough {
	return &Breakthrough{client: client, prompts: prompts}
}

// Analyze implements Analyzer.
func (b *Breakthrough) Analyze(ctx context.Context, transcript Transcript) (BreakthroughResult, error) {
	prompt, err := b.prompts.render(NameBreakthrough, transcriptData{Transcript: transcript.Text()})
	if err != nil {
		return BreakthroughResult{}, err
	}
	var payload struct {
		HasBreakthrough *bool  `json:"has_breakthrough"`
		Label           string `json:"label"`
	}
	if err := complete(ctx, b.client, NameBreakthrough, prompt, &payload); err != nil {
		return BreakthroughResult{}, err
	}
	if payload.HasBreakthrough == nil {
		return BreakthroughResult{}, malformed(NameBreakthrough, "has_breakthrough missing")
	}
	result := BreakthroughResult{HasBreakthrough: *payload.HasBreakthrough}
	if result.HasBreakthrough {
		result.Label = truncateRunes(strings.TrimSpace(payload.Label), store.MaxSummaryRunes)
	}
	return result, nil
}

type transcriptData struct {
	Transcript string
}
