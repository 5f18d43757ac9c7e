package analysis

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"therapybridge/internal/store"
)

// Wave1Context is what Wave 1 learned about a session, fed to the deep analyzer.
type Wave1Context struct {
	SessionDate       string
	MoodScore         float64
	Topics            []string
	Technique         string
	ActionItems       []string
	Summary           string
	HasBreakthrough   bool
	BreakthroughLabel string
}

// DeepInput is the deep analyzer's input.
type DeepInput struct {
	Transcript Transcript
	Wave1      Wave1Context
}

// DeepInputFromSession builds a DeepInput from a session whose Wave 1 columns
// are populated. Missing columns render as zero values.
func DeepInputFromSession(s *store.Session) DeepInput {
	in := DeepInput{
		Transcript: Transcript(s.Transcript),
		Wave1: Wave1Context{
			SessionDate:       s.SessionDate,
			Topics:            s.Topics,
			ActionItems:       s.ActionItems,
			BreakthroughLabel: s.BreakthroughLabel,
		},
	}
	if s.MoodScore != nil {
		in.Wave1.MoodScore = *s.MoodScore
	}
	if s.Technique != nil {
		in.Wave1.Technique = *s.Technique
	}
	if s.Summary != nil {
		in.Wave1.Summary = *s.Summary
	}
	if s.HasBreakthrough != nil {
		in.Wave1.HasBreakthrough = *s.HasBreakthrough
	}
	return in
}

// Deep produces the structured Wave 2 analysis.
type Deep struct {
	client  Completer
	prompts *Prompts
}

// NewDeep constructs the deep analyzer.
func NewDeep(client Completer, prompts *Prompts) *Deep {
	return &Deep{client: client, prompts: prompts}
}

// Analyze implements Analyzer.
func (d *Deep) Analyze(ctx context.Context, in DeepInput) (store.DeepAnalysis, error) {
	breakthrough := "none"
	if in.Wave1.HasBreakthrough {
		breakthrough = firstNonBlank(in.Wave1.BreakthroughLabel, "yes")
	}
	prompt, err := d.prompts.render(NameDeep, map[string]string{
		"SessionDate":  in.Wave1.SessionDate,
		"MoodScore":    strconv.FormatFloat(in.Wave1.MoodScore, 'f', 1, 64),
		"Topics":       strings.Join(in.Wave1.Topics, ", "),
		"Technique":    in.Wave1.Technique,
		"ActionItems":  strings.Join(in.Wave1.ActionItems, "; "),
		"Summary":      in.Wave1.Summary,
		"Breakthrough": breakthrough,
		"Transcript":   in.Transcript.Text(),
	})
	if err != nil {
		return store.DeepAnalysis{}, err
	}
	var payload struct {
		store.DeepAnalysis
		Confidence *float64 `json:"confidence_score"`
	}
	if err := complete(ctx, d.client, NameDeep, prompt, &payload); err != nil {
		return store.DeepAnalysis{}, err
	}
	if payload.Confidence == nil || math.IsNaN(*payload.Confidence) {
		return store.DeepAnalysis{}, malformed(NameDeep, "confidence_score missing")
	}
	result := payload.DeepAnalysis
	result.ConfidenceScore = math.Min(1, math.Max(0, *payload.Confidence))
	if deepIsEmpty(result) {
		return store.DeepAnalysis{}, malformed(NameDeep, "no analysis sections populated")
	}
	return result, nil
}

func deepIsEmpty(d store.DeepAnalysis) bool {
	return d.ProgressIndicators.OverallTrajectory == "" &&
		d.ProgressIndicators.SymptomReduction == "" &&
		len(d.TherapeuticInsights.KeyRealizations) == 0 &&
		len(d.TherapeuticInsights.Patterns) == 0 &&
		len(d.CopingSkills.Learned) == 0 &&
		d.TherapeuticRelationship.EngagementLevel == "" &&
		len(d.Recommendations.PracticeFocus) == 0 &&
		len(d.Recommendations.NextSession) == 0
}

// ProseInput is the prose analyzer's input.
type ProseInput struct {
	SessionDate string
	Transcript  Transcript
	Deep        store.DeepAnalysis
}

// Prose turns the deep analysis into a patient-facing narrative.
type Prose struct {
	client  Completer
	prompts *Prompts
}

// NewProse constructs the prose analyzer.
func NewProse(client Completer, prompts *Prompts) *Prose {
	return &Prose{client: client, prompts: prompts}
}

// Analyze implements Analyzer.
func (p *Prose) Analyze(ctx context.Context, in ProseInput) (string, error) {
	deepJSON, err := json.MarshalIndent(in.Deep, "", "  ")
	if err != nil {
		return "", fmt.Errorf("prose analyzer: encode deep analysis: %w", err)
	}
	prompt, err := p.prompts.render(NameProse, map[string]string{
		"SessionDate": in.SessionDate,
		"DeepJSON":    string(deepJSON),
		"Transcript":  in.Transcript.Text(),
	})
	if err != nil {
		return "", err
	}
	var payload struct {
		Prose string `json:"prose_analysis"`
	}
	if err := complete(ctx, p.client, NameProse, prompt, &payload); err != nil {
		return "", err
	}
	prose := truncateRunes(strings.TrimSpace(payload.Prose), store.MaxProseRunes)
	if prose == "" {
		return "", malformed(NameProse, "prose_analysis empty")
	}
	return prose, nil
}

func firstNonBlank(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
