package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"therapybridge/internal/analysis"
	"therapybridge/internal/events"
	"therapybridge/internal/logging"
	"therapybridge/internal/progress"
	"therapybridge/internal/services"
	"therapybridge/internal/store"
)

// outcomes tallies per-session analyzer results across goroutines.
type outcomes struct {
	mu       sync.Mutex
	failed   map[string]bool
	ran      map[string]bool
	failures []Failure
}

func newOutcomes() *outcomes {
	return &outcomes{failed: map[string]bool{}, ran: map[string]bool{}}
}

func (r *outcomes) record(sessionID, analyzer string, attempts int, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ran[sessionID] = true
	if err != nil {
		r.failed[sessionID] = true
		r.failures = append(r.failures, Failure{SessionID: sessionID, Analyzer: analyzer, Attempts: attempts, Error: err.Error()})
	}
}

func (r *outcomes) fill(summary *WaveSummary) {
	r.mu.Lock()
	defer r.mu.Unlock()
	summary.Attempted = len(r.ran)
	for id := range r.ran {
		if r.failed[id] {
			summary.Failed++
		} else {
			summary.Succeeded++
		}
	}
	summary.Failures = append(summary.Failures, r.failures...)
}

// RunWave1 runs mood, topic, and breakthrough for every session of the patient
// whose fields are still null. All calls run concurrently up to the Wave 1
// limit, and RunWave1 returns only after every call has finished.
func (o *Orchestrator) RunWave1(ctx context.Context, patientID string) (WaveSummary, error) {
	ctx = services.WithWave(services.WithPatientID(ctx, patientID), "1")
	start := time.Now()
	summary := WaveSummary{Wave: 1}

	sessions, err := o.store.ListSessions(ctx, patientID)
	if err != nil {
		return summary, fmt.Errorf("wave 1: list sessions: %w", err)
	}
	summary.Sessions = len(sessions)
	logging.WithContext(ctx, o.logger).Info("analysis wave started",
		logging.String(logging.FieldEventType, "wave_start"),
		logging.Int("sessions", len(sessions)),
	)
	o.publish(ctx, events.Event{Type: events.WaveStarted, Wave: 1})

	var g errgroup.Group
	if o.opts.Wave1Concurrency > 0 {
		g.SetLimit(o.opts.Wave1Concurrency)
	}
	results := newOutcomes()
	for _, s := range sessions {
		needMood, needTopic, needBreakthrough := progress.Wave1Missing(s)
		if !needMood && !needTopic && !needBreakthrough {
			summary.Skipped++
			continue
		}
		transcript := analysis.Transcript(s.Transcript)
		id := s.ID
		if needMood {
			g.Go(func() error {
				attempts, err := runAnalyzer(ctx, o, 1, id, analysis.NameMood,
					func(ctx context.Context) (analysis.MoodResult, error) {
						return o.suite.Mood.Analyze(ctx, transcript)
					},
					func(ctx context.Context, res analysis.MoodResult) error {
						return o.store.UpdateMood(ctx, id, res.Score, res.Rationale)
					})
				results.record(id, analysis.NameMood, attempts, err)
				return nil
			})
		}
		if needTopic {
			g.Go(func() error {
				attempts, err := runAnalyzer(ctx, o, 1, id, analysis.NameTopic,
					func(ctx context.Context) (store.TopicFields, error) {
						return o.suite.Topic.Analyze(ctx, transcript)
					},
					func(ctx context.Context, fields store.TopicFields) error {
						return o.store.UpdateTopics(ctx, id, fields)
					})
				results.record(id, analysis.NameTopic, attempts, err)
				return nil
			})
		}
		if needBreakthrough {
			g.Go(func() error {
				attempts, err := runAnalyzer(ctx, o, 1, id, analysis.NameBreakthrough,
					func(ctx context.Context) (analysis.BreakthroughResult, error) {
						return o.suite.Breakthrough.Analyze(ctx, transcript)
					},
					func(ctx context.Context, res analysis.BreakthroughResult) error {
						return o.store.UpdateBreakthrough(ctx, id, res.HasBreakthrough, res.Label)
					})
				results.record(id, analysis.NameBreakthrough, attempts, err)
				return nil
			})
		}
	}
	// Batch gate: Wave 2 starts only after this returns.
	_ = g.Wait()

	results.fill(&summary)
	o.finishWave(ctx, &summary, start)
	return summary, nil
}
