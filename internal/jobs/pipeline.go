package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"

	"therapybridge/internal/events"
	"therapybridge/internal/logging"
	"therapybridge/internal/notifications"
	"therapybridge/internal/progress"
	"therapybridge/internal/services"
	"therapybridge/internal/store"
)

// ErrLocked indicates another pipeline holds the patient's lock.
var ErrLocked = errors.New("patient pipeline lock held")

// PipelineStore is the slice of the store the supervisor needs.
type PipelineStore interface {
	UpdateJobStep(ctx context.Context, id, step string) error
	FinishJob(ctx context.Context, id string, state store.JobState, message string) (bool, error)
	ListSessionSummaries(ctx context.Context, patientID string) ([]*store.Session, error)
}

// StepCommandFunc builds the child process for one pipeline step. The command
// must be created with exec.CommandContext so a cancelled run signals it.
type StepCommandFunc func(ctx context.Context, step, patientID, jobID string) *exec.Cmd

// Pipeline supervises one job inside the detached process.
type Pipeline struct {
	Store   PipelineStore
	LockDir string
	// Steps defaults to DefaultSteps.
	Steps       []string
	RunTimeout  time.Duration
	StopGrace   time.Duration
	StepCommand StepCommandFunc
	Notifier    notifications.Service
	Events      events.Publisher
	Logger      *slog.Logger
}

// WorkerStepCommand returns a StepCommandFunc running "<exe> worker step".
func WorkerStepCommand(executable, configPath string) StepCommandFunc {
	return func(ctx context.Context, step, patientID, jobID string) *exec.Cmd {
		args := []string{"worker", "step", step, "--patient", patientID, "--job", jobID}
		if configPath != "" {
			args = append(args, "--config", configPath)
		}
		cmd := exec.CommandContext(ctx, executable, args...)
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr
		return cmd
	}
}

// Run executes every step for the job in order. Steps inherit the process
// group, so a stop reaches them directly. The job row ends completed or
// failed unless a stop already marked it.
func (p *Pipeline) Run(ctx context.Context, patientID, jobID string) error {
	logger := p.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	ctx = services.WithJobID(services.WithPatientID(ctx, patientID), jobID)
	logger = logging.WithContext(ctx, logging.NewComponentLogger(logger, "pipeline"))

	if err := os.MkdirAll(p.LockDir, 0o755); err != nil {
		return p.fail(ctx, logger, patientID, jobID, "", fmt.Errorf("ensure lock directory: %w", err))
	}
	lock := flock.New(filepath.Join(p.LockDir, patientID+".lock"))
	locked, err := lock.TryLock()
	if err != nil {
		return p.fail(ctx, logger, patientID, jobID, "", fmt.Errorf("acquire patient lock: %w", err))
	}
	if !locked {
		return p.fail(ctx, logger, patientID, jobID, "", fmt.Errorf("%w: %s", ErrLocked, patientID))
	}
	defer func() {
		if err := lock.Unlock(); err != nil {
			logger.Warn("release patient lock failed", logging.Error(err))
		}
	}()

	if p.RunTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.RunTimeout)
		defer cancel()
	}

	start := time.Now()
	p.publish(ctx, logger, events.Event{Type: events.JobStarted, PatientID: patientID, JobID: jobID, State: string(store.JobRunning)})
	logger.Info("pipeline started", logging.String(logging.FieldEventType, "pipeline_started"))

	steps := p.Steps
	if len(steps) == 0 {
		steps = DefaultSteps
	}
	for _, step := range steps {
		if err := p.Store.UpdateJobStep(ctx, jobID, step); err != nil {
			if errors.Is(err, store.ErrJobNotFound) {
				logger.Info("job no longer running; pipeline exiting",
					logging.String("step", step),
					logging.String(logging.FieldEventType, "pipeline_abandoned"),
				)
				return nil
			}
			return p.fail(ctx, logger, patientID, jobID, step, err)
		}
		if err := p.runStep(ctx, logger, step, patientID, jobID); err != nil {
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				err = services.Wrap(services.ErrTimeout, "pipeline", step,
					fmt.Sprintf("run exceeded %s", p.RunTimeout), err)
				logging.WarnWithContext(logger, "pipeline run timed out", "analysis_timeout",
					logging.String("step", step),
					logging.Duration("timeout", p.RunTimeout),
					logging.String(logging.FieldErrorHint, "raise analysis.run_timeout_seconds"),
				)
			}
			return p.fail(ctx, logger, patientID, jobID, step, err)
		}
	}

	changed, err := p.Store.FinishJob(context.WithoutCancel(ctx), jobID, store.JobCompleted, "")
	if err != nil {
		return fmt.Errorf("finish job: %w", err)
	}
	duration := time.Since(start)
	logger.Info("pipeline completed",
		logging.Duration("duration", duration),
		logging.String(logging.FieldEventType, "pipeline_completed"),
	)
	if changed {
		p.publish(ctx, logger, events.Event{Type: events.JobFinished, PatientID: patientID, JobID: jobID, State: string(store.JobCompleted)})
		p.notifyCompleted(ctx, logger, patientID, duration)
	}
	return nil
}

func (p *Pipeline) runStep(ctx context.Context, logger *slog.Logger, step, patientID, jobID string) error {
	if p.StepCommand == nil {
		return errors.New("no step command configured")
	}
	cmd := p.StepCommand(ctx, step, patientID, jobID)
	cmd.Cancel = func() error { return cmd.Process.Signal(terminateSignal()) }
	cmd.WaitDelay = p.StopGrace

	stepStart := time.Now()
	logger.Info("pipeline step started",
		logging.String("step", step),
		logging.String(logging.FieldEventType, "step_started"),
	)
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("step %s: %w", step, err)
	}
	logger.Info("pipeline step finished",
		logging.String("step", step),
		logging.Duration("duration", time.Since(stepStart)),
		logging.String(logging.FieldEventType, "step_finished"),
	)
	return nil
}

func (p *Pipeline) fail(ctx context.Context, logger *slog.Logger, patientID, jobID, step string, cause error) error {
	ctx = context.WithoutCancel(ctx)
	changed, err := p.Store.FinishJob(ctx, jobID, store.JobFailed, cause.Error())
	if err != nil {
		logger.Warn("record pipeline failure failed", logging.Error(err))
	}
	if !changed {
		// Already stopped or orphaned; the failure is a consequence of that.
		return cause
	}
	logging.ErrorWithContext(logger, "pipeline failed", "pipeline_failed",
		logging.String("step", step),
		logging.Error(cause),
	)
	p.publish(ctx, logger, events.Event{Type: events.JobFinished, PatientID: patientID, JobID: jobID, State: string(store.JobFailed), Error: cause.Error()})
	if p.Notifier != nil {
		payload := notifications.Payload{"patientID": patientID, "step": step, "error": cause}
		if err := p.Notifier.Publish(ctx, notifications.EventAnalysisFailed, payload); err != nil {
			logger.Debug("failure notification failed", logging.Error(err))
		}
	}
	return cause
}

func (p *Pipeline) notifyCompleted(ctx context.Context, logger *slog.Logger, patientID string, duration time.Duration) {
	if p.Notifier == nil {
		return
	}
	ctx = context.WithoutCancel(ctx)
	sessions, err := p.Store.ListSessionSummaries(ctx, patientID)
	if err != nil {
		logger.Debug("read sessions for notification failed", logging.Error(err))
		return
	}
	status := progress.Summarize(patientID, sessions)
	payload := notifications.Payload{
		"patientID":     patientID,
		"total":         status.Total,
		"wave2Complete": status.Wave2Complete,
		"duration":      duration,
	}
	if err := p.Notifier.Publish(ctx, notifications.EventAnalysisCompleted, payload); err != nil {
		logger.Debug("completion notification failed", logging.Error(err))
	}
}

func (p *Pipeline) publish(ctx context.Context, logger *slog.Logger, event events.Event) {
	events.Safe(context.WithoutCancel(ctx), p.Events, logger, event)
}
