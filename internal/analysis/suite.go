package analysis

import (
	"therapybridge/internal/config"
	"therapybridge/internal/services/llm"
	"therapybridge/internal/store"
)

// Suite bundles the five analyzers the orchestrator drives.
type Suite struct {
	Mood         Analyzer[Transcript, MoodResult]
	Topic        Analyzer[Transcript, store.TopicFields]
	Breakthrough Analyzer[Transcript, BreakthroughResult]
	Deep         Analyzer[DeepInput, store.DeepAnalysis]
	Prose        Analyzer[ProseInput, string]
}

// NewSuite wires the analyzers. Wave 1 uses fast; Wave 2 uses deep.
func NewSuite(fast, deep Completer) (*Suite, error) {
	prompts, err := LoadPrompts()
	if err != nil {
		return nil, err
	}
	return &Suite{
		Mood:         NewMood(fast, prompts),
		Topic:        NewTopic(fast, prompts),
		Breakthrough: NewBreakthrough(fast, prompts),
		Deep:         NewDeep(deep, prompts),
		Prose:        NewProse(deep, prompts),
	}, nil
}

// NewSuiteFromConfig builds LLM clients from configuration and wires the analyzers.
func NewSuiteFromConfig(cfg *config.Config) (*Suite, error) {
	if err := cfg.RequireLLM(); err != nil {
		return nil, err
	}
	fast := llm.NewClient(llm.Config{
		APIKey:         cfg.LLM.APIKey,
		BaseURL:        cfg.LLM.BaseURL,
		Model:          cfg.LLM.Model,
		TimeoutSeconds: cfg.LLM.TimeoutSeconds,
	})
	return NewSuite(fast, fast.WithModel(cfg.LLM.DeepModel))
}
