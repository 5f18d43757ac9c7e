package orchestrator

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"therapybridge/internal/analysis"
	"therapybridge/internal/events"
	"therapybridge/internal/logging"
	"therapybridge/internal/progress"
	"therapybridge/internal/services"
	"therapybridge/internal/store"
)

// RunWave2 re-reads the patient's sessions and, for every session that has
// finished Wave 1 but not Wave 2, runs deep analysis and then prose. Sessions
// still missing Wave 1 fields are skipped. Per-session order is always deep
// before prose; sessions run up to the Wave 2 concurrency limit.
func (o *Orchestrator) RunWave2(ctx context.Context, patientID string) (WaveSummary, error) {
	ctx = services.WithWave(services.WithPatientID(ctx, patientID), "2")
	start := time.Now()
	summary := WaveSummary{Wave: 2}

	sessions, err := o.store.ListSessions(ctx, patientID)
	if err != nil {
		return summary, fmt.Errorf("wave 2: list sessions: %w", err)
	}
	summary.Sessions = len(sessions)
	logger := logging.WithContext(ctx, o.logger)
	logger.Info("analysis wave started",
		logging.String(logging.FieldEventType, "wave_start"),
		logging.Int("sessions", len(sessions)),
	)
	o.publish(ctx, events.Event{Type: events.WaveStarted, Wave: 2})

	var g errgroup.Group
	g.SetLimit(o.opts.Wave2Concurrency)
	results := newOutcomes()
	for _, s := range sessions {
		p := progress.Derive(s)
		if p.Wave2Done {
			summary.Skipped++
			continue
		}
		if !p.Wave1Done {
			summary.Skipped++
			logger.Info("session not eligible for wave 2",
				logging.String(logging.FieldSessionID, s.ID),
				logging.String(logging.FieldEventType, "wave2_skipped"),
				logging.String("reason", "wave 1 incomplete"),
			)
			continue
		}
		g.Go(func() error {
			o.runSessionWave2(ctx, s, results)
			return nil
		})
	}
	_ = g.Wait()

	results.fill(&summary)
	o.finishWave(ctx, &summary, start)
	return summary, nil
}

func (o *Orchestrator) runSessionWave2(ctx context.Context, s *store.Session, results *outcomes) {
	id := s.ID
	transcript := analysis.Transcript(s.Transcript)

	var deep store.DeepAnalysis
	if s.DeepAnalysis != nil {
		deep = *s.DeepAnalysis
	} else {
		input := analysis.DeepInputFromSession(s)
		attempts, err := runAnalyzer(ctx, o, 2, id, analysis.NameDeep,
			func(ctx context.Context) (store.DeepAnalysis, error) {
				return o.suite.Deep.Analyze(ctx, input)
			},
			func(ctx context.Context, res store.DeepAnalysis) error {
				if err := o.store.UpdateDeepAnalysis(ctx, id, res); err != nil {
					return err
				}
				deep = res
				return nil
			})
		results.record(id, analysis.NameDeep, attempts, err)
		if err != nil {
			return
		}
	}

	if s.ProseAnalysis != nil {
		return
	}
	input := analysis.ProseInput{SessionDate: s.SessionDate, Transcript: transcript, Deep: deep}
	attempts, err := runAnalyzer(ctx, o, 2, id, analysis.NameProse,
		func(ctx context.Context) (string, error) {
			return o.suite.Prose.Analyze(ctx, input)
		},
		func(ctx context.Context, prose string) error {
			return o.store.UpdateProse(ctx, id, prose)
		})
	results.record(id, analysis.NameProse, attempts, err)
}
