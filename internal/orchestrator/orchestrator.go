package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"therapybridge/internal/analysis"
	"therapybridge/internal/config"
	"therapybridge/internal/events"
	"therapybridge/internal/logging"
	"therapybridge/internal/retry"
	"therapybridge/internal/services"
	"therapybridge/internal/store"
)

// Store is the slice of the session store the orchestrator reads and writes.
type Store interface {
	ListSessions(ctx context.Context, patientID string) ([]*store.Session, error)
	UpdateMood(ctx context.Context, id string, score float64, rationale string) error
	UpdateTopics(ctx context.Context, id string, fields store.TopicFields) error
	UpdateBreakthrough(ctx context.Context, id string, hasBreakthrough bool, label string) error
	UpdateDeepAnalysis(ctx context.Context, id string, analysis store.DeepAnalysis) error
	UpdateProse(ctx context.Context, id string, prose string) error
}

// Options tune concurrency, retries, and deadlines.
type Options struct {
	Retry            retry.Policy
	Wave1Concurrency int
	Wave2Concurrency int
	RunTimeout       time.Duration
	Events           events.Publisher
	Logger           *slog.Logger
}

// OptionsFromConfig maps the [analysis] section onto Options.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		Retry: retry.Policy{
			MaxAttempts:    cfg.Analysis.MaxAttempts,
			BaseDelay:      cfg.RetryBaseDelay(),
			MaxDelay:       cfg.RetryMaxDelay(),
			AttemptTimeout: cfg.CallTimeout(),
		},
		Wave1Concurrency: cfg.Analysis.Wave1Concurrency,
		Wave2Concurrency: cfg.Analysis.Wave2Concurrency,
		RunTimeout:       cfg.RunTimeout(),
	}
}

// Orchestrator runs the two analysis waves for one patient at a time.
type Orchestrator struct {
	store  Store
	suite  *analysis.Suite
	opts   Options
	logger *slog.Logger
	events events.Publisher
}

// New constructs an orchestrator.
func New(st Store, suite *analysis.Suite, opts Options) *Orchestrator {
	if opts.Wave2Concurrency <= 0 {
		opts.Wave2Concurrency = 1
	}
	pub := opts.Events
	if pub == nil {
		pub = events.Noop{}
	}
	return &Orchestrator{
		store:  st,
		suite:  suite,
		opts:   opts,
		logger: logging.NewComponentLogger(opts.Logger, "orchestrator"),
		events: pub,
	}
}

// Summary reports a full run.
type Summary struct {
	PatientID string        `json:"patient_id"`
	Wave1     WaveSummary   `json:"wave1"`
	Wave2     WaveSummary   `json:"wave2"`
	Duration  time.Duration `json:"duration"`
}

// WaveSummary counts sessions by outcome for one wave. A session is skipped
// when it needs no work (or is not eligible), succeeded when every analyzer it
// ran succeeded, and failed otherwise.
type WaveSummary struct {
	Wave      int           `json:"wave"`
	Sessions  int           `json:"sessions"`
	Attempted int           `json:"attempted"`
	Succeeded int           `json:"succeeded"`
	Failed    int           `json:"failed"`
	Skipped   int           `json:"skipped"`
	Failures  []Failure     `json:"failures,omitempty"`
	Duration  time.Duration `json:"duration"`
}

// Failure is one analyzer whose retries were exhausted.
type Failure struct {
	SessionID string `json:"session_id"`
	Analyzer  string `json:"analyzer"`
	Attempts  int    `json:"attempts"`
	Error     string `json:"error"`
}

// RunAnalysis runs Wave 1, waits for every Wave 1 task, then runs Wave 2,
// all under the configured run timeout. Analyzer failures are recorded in the
// summary; an error is returned only when sessions cannot be read or the run
// deadline or cancellation cut it short.
func (o *Orchestrator) RunAnalysis(ctx context.Context, patientID string) (Summary, error) {
	ctx = services.WithPatientID(ctx, patientID)
	if o.opts.RunTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.opts.RunTimeout)
		defer cancel()
	}
	start := time.Now()
	summary := Summary{PatientID: patientID}
	logger := logging.WithContext(ctx, o.logger)

	wave1, err := o.RunWave1(ctx, patientID)
	summary.Wave1 = wave1
	if err != nil {
		summary.Duration = time.Since(start)
		return summary, err
	}
	if err := o.interrupted(ctx, logger, "after wave 1"); err != nil {
		summary.Duration = time.Since(start)
		return summary, err
	}

	wave2, err := o.RunWave2(ctx, patientID)
	summary.Wave2 = wave2
	summary.Duration = time.Since(start)
	if err != nil {
		return summary, err
	}
	if err := o.interrupted(ctx, logger, "during wave 2"); err != nil {
		return summary, err
	}
	logger.Info("analysis run finished",
		logging.String(logging.FieldEventType, "analysis_complete"),
		logging.Int("wave1_succeeded", wave1.Succeeded),
		logging.Int("wave1_failed", wave1.Failed),
		logging.Int("wave2_succeeded", wave2.Succeeded),
		logging.Int("wave2_failed", wave2.Failed),
		logging.Duration("duration", summary.Duration),
	)
	return summary, nil
}

func (o *Orchestrator) interrupted(ctx context.Context, logger *slog.Logger, where string) error {
	err := ctx.Err()
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		logging.ErrorWithContext(logger, "analysis run timed out", "analysis_timeout",
			logging.String("where", where),
			logging.Duration("run_timeout", o.opts.RunTimeout),
			logging.String(logging.FieldErrorHint, "raise analysis.run_timeout_seconds or rerun to resume"),
		)
		return services.Wrap(services.ErrTimeout, "orchestrator", "run analysis", fmt.Sprintf("exceeded %s %s", o.opts.RunTimeout, where), err)
	}
	return err
}

func (o *Orchestrator) finishWave(ctx context.Context, summary *WaveSummary, start time.Time) {
	summary.Duration = time.Since(start)
	logger := logging.WithContext(ctx, o.logger)
	logger.Info("analysis wave finished",
		logging.String(logging.FieldEventType, "wave_complete"),
		logging.Int("sessions", summary.Sessions),
		logging.Int("attempted", summary.Attempted),
		logging.Int("succeeded", summary.Succeeded),
		logging.Int("failed", summary.Failed),
		logging.Int("skipped", summary.Skipped),
		logging.Duration("duration", summary.Duration),
	)
	o.publish(ctx, events.Event{
		Type:  events.WaveFinished,
		Wave:  summary.Wave,
		State: fmt.Sprintf("succeeded=%d failed=%d skipped=%d", summary.Succeeded, summary.Failed, summary.Skipped),
	})
}

func (o *Orchestrator) publish(ctx context.Context, event events.Event) {
	if event.PatientID == "" {
		event.PatientID, _ = services.PatientIDFromContext(ctx)
	}
	if event.JobID == "" {
		event.JobID, _ = services.JobIDFromContext(ctx)
	}
	events.Safe(ctx, o.events, o.logger, event)
}

// runAnalyzer retries one analyzer call and, on success, persists its result.
// The returned error is the last analyzer or write error.
func runAnalyzer[Out any](
	ctx context.Context,
	o *Orchestrator,
	wave int,
	sessionID, name string,
	call func(ctx context.Context) (Out, error),
	write func(ctx context.Context, out Out) error,
) (int, error) {
	ctx = services.WithAnalyzer(services.WithSessionID(ctx, sessionID), name)
	logger := logging.WithContext(ctx, o.logger)

	policy := o.opts.Retry
	policy.OnRetry = func(attempt int, err error, delay time.Duration) {
		logger.Debug("analyzer attempt failed; retrying",
			logging.Int("attempt", attempt),
			logging.Duration("delay", delay),
			logging.Error(err),
		)
	}
	var out Out
	res, err := policy.Do(ctx, func(ctx context.Context) error {
		var callErr error
		out, callErr = call(ctx)
		return callErr
	})
	if err == nil {
		if err = write(ctx, out); err != nil {
			err = fmt.Errorf("persist %s result: %w", name, err)
		}
	}
	if err != nil {
		logging.WarnWithContext(logger, "analyzer failed", "analyzer_failed",
			logging.Int("attempts", res.Attempts),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "fields stay null; rerun analysis to resume"),
			logging.String(logging.FieldImpact, "session remains incomplete"),
		)
		o.publish(ctx, events.Event{Type: events.AnalyzerFailed, SessionID: sessionID, Wave: wave, Analyzer: name, Error: err.Error()})
		return res.Attempts, err
	}
	logger.Debug("analyzer succeeded", logging.Int("attempts", res.Attempts))
	o.publish(ctx, events.Event{Type: events.AnalyzerSucceeded, SessionID: sessionID, Wave: wave, Analyzer: name})
	return res.Attempts, nil
}
