package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"therapybridge/internal/config"
	"therapybridge/internal/logging"
	"therapybridge/internal/services"
	"therapybridge/internal/store"
)

// ErrAlreadyRunning indicates the patient already has a live pipeline.
var ErrAlreadyRunning = errors.New("analysis already running")

const pollInterval = 50 * time.Millisecond

// Store is the slice of the job registry the launcher needs.
type Store interface {
	CreateJob(ctx context.Context, job store.Job) error
	AttachJobProcess(ctx context.Context, id string, pid, pgid int, startTicks int64) error
	RunningJobs(ctx context.Context, patientID string) ([]*store.Job, error)
	FinishJob(ctx context.Context, id string, state store.JobState, message string) (bool, error)
}

// CommandFunc builds the detached pipeline command for a job.
type CommandFunc func(patientID, jobID string) *exec.Cmd

// Options configures a Launcher.
type Options struct {
	// Executable is the binary started as "worker pipeline".
	Executable string
	ConfigPath string
	// LogDir receives one <job id>.log per pipeline; empty discards output.
	LogDir    string
	StopGrace time.Duration
	Logger    *slog.Logger
	// Command overrides the spawned command. Tests use it to run shell scripts.
	Command CommandFunc
}

// OptionsFromConfig derives launcher options from configuration.
func OptionsFromConfig(cfg *config.Config, configPath string) (Options, error) {
	exe := cfg.Jobs.Executable
	if exe == "" {
		self, err := os.Executable()
		if err != nil {
			return Options{}, fmt.Errorf("resolve executable: %w", err)
		}
		exe = self
	}
	return Options{
		Executable: exe,
		ConfigPath: configPath,
		LogDir:     cfg.JobLogDir(),
		StopGrace:  cfg.StopGrace(),
	}, nil
}

// Ack is returned as soon as a pipeline is spawned.
type Ack struct {
	JobID      string   `json:"job_id"`
	PatientID  string   `json:"patient_id"`
	SessionIDs []string `json:"session_ids"`
	PID        int      `json:"-"`
}

// StopResult summarizes a stop request.
type StopResult struct {
	PatientID string   `json:"patient_id"`
	JobIDs    []string `json:"job_ids"`
	Stopped   int      `json:"stopped_jobs"`
	Killed    int      `json:"killed_jobs"`
}

// Launcher spawns pipelines and terminates their process groups.
type Launcher struct {
	store  Store
	opts   Options
	logger *slog.Logger

	mu      sync.Mutex
	running map[string]*exec.Cmd
	reapers sync.WaitGroup
}

// NewLauncher constructs a launcher over the durable job registry.
func NewLauncher(st Store, opts Options) *Launcher {
	if opts.StopGrace <= 0 {
		opts.StopGrace = 5 * time.Second
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Launcher{
		store:   st,
		opts:    opts,
		logger:  logging.NewComponentLogger(logger, "jobs"),
		running: make(map[string]*exec.Cmd),
	}
}

// Launch starts a detached pipeline for the patient and returns immediately.
// It refuses while a live job for the patient exists; running rows whose
// process group is gone are marked orphaned first.
func (l *Launcher) Launch(ctx context.Context, patientID string, sessionIDs []string) (Ack, error) {
	patientID = strings.TrimSpace(patientID)
	if patientID == "" {
		return Ack{}, services.Wrap(services.ErrValidation, "jobs", "launch", "patient id is required", nil)
	}
	if !supported {
		return Ack{}, services.Wrap(services.ErrConfiguration, "jobs", "launch", "background jobs need a unix host", nil)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	existing, err := l.store.RunningJobs(ctx, patientID)
	if err != nil {
		return Ack{}, fmt.Errorf("launch: %w", err)
	}
	for _, job := range existing {
		if l.live(job) {
			return Ack{}, fmt.Errorf("%w: job %s for patient %s", ErrAlreadyRunning, job.ID, patientID)
		}
		l.markOrphaned(ctx, job)
	}

	jobID := uuid.NewString()
	if err := l.store.CreateJob(ctx, store.Job{ID: jobID, PatientID: patientID, State: store.JobRunning}); err != nil {
		return Ack{}, fmt.Errorf("launch: %w", err)
	}

	cmd, logFile, err := l.command(patientID, jobID)
	if err == nil {
		err = cmd.Start()
	}
	if logFile != nil {
		// The child holds its own descriptor after Start.
		_ = logFile.Close()
	}
	if err != nil {
		l.finish(ctx, jobID, store.JobFailed, fmt.Sprintf("spawn pipeline: %v", err))
		return Ack{}, fmt.Errorf("launch pipeline: %w", err)
	}

	pid := cmd.Process.Pid
	startTicks, _ := processStartTicks(pid)
	// Setpgid makes the child its own group leader.
	if err := l.store.AttachJobProcess(ctx, jobID, pid, pid, startTicks); err != nil {
		_ = signalGroup(pid, killSignal())
		_ = cmd.Wait()
		l.finish(ctx, jobID, store.JobFailed, fmt.Sprintf("record pipeline process: %v", err))
		return Ack{}, fmt.Errorf("launch: %w", err)
	}

	l.running[jobID] = cmd
	l.reapers.Add(1)
	go l.reap(context.WithoutCancel(ctx), jobID, cmd)

	l.logger.Info("pipeline launched",
		logging.String(logging.FieldPatientID, patientID),
		logging.String(logging.FieldJobID, jobID),
		logging.Int("pid", pid),
		logging.String(logging.FieldEventType, "job_launched"),
	)
	return Ack{JobID: jobID, PatientID: patientID, SessionIDs: sessionIDs, PID: pid}, nil
}

func (l *Launcher) command(patientID, jobID string) (*exec.Cmd, *os.File, error) {
	var cmd *exec.Cmd
	if l.opts.Command != nil {
		cmd = l.opts.Command(patientID, jobID)
	} else {
		if l.opts.Executable == "" {
			return nil, nil, errors.New("executable path is empty")
		}
		args := []string{"worker", "pipeline", "--patient", patientID, "--job", jobID}
		if l.opts.ConfigPath != "" {
			args = append(args, "--config", l.opts.ConfigPath)
		}
		cmd = exec.Command(l.opts.Executable, args...)
	}
	cmd.SysProcAttr = groupAttrs()

	if l.opts.LogDir == "" {
		return cmd, nil, nil
	}
	if err := os.MkdirAll(l.opts.LogDir, 0o755); err != nil {
		return nil, nil, fmt.Errorf("ensure job log directory: %w", err)
	}
	logFile, err := os.OpenFile(filepath.Join(l.opts.LogDir, jobID+".log"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("open job log: %w", err)
	}
	cmd.Stdout = logFile
	cmd.Stderr = logFile
	return cmd, logFile, nil
}

// reap waits for the pipeline process so it never lingers as a zombie. A
// pipeline that exits without recording a terminal state is marked failed.
func (l *Launcher) reap(ctx context.Context, jobID string, cmd *exec.Cmd) {
	defer l.reapers.Done()
	err := cmd.Wait()

	l.mu.Lock()
	delete(l.running, jobID)
	l.mu.Unlock()

	message := "pipeline exited without finishing"
	if err != nil {
		message = fmt.Sprintf("pipeline exited: %v", err)
	}
	changed, finishErr := l.store.FinishJob(ctx, jobID, store.JobFailed, message)
	if finishErr != nil {
		l.logger.Warn("record pipeline exit failed", logging.String(logging.FieldJobID, jobID), logging.Error(finishErr))
		return
	}
	if changed {
		logging.WarnWithContext(l.logger, "pipeline exited early", "job_exited",
			logging.String(logging.FieldJobID, jobID),
			logging.String("reason", message),
			logging.String(logging.FieldErrorHint, "inspect the job log under paths.log_dir/jobs"),
		)
	}
}

// Wait blocks until every pipeline started by this launcher has been reaped.
func (l *Launcher) Wait() {
	l.reapers.Wait()
}

// Stop terminates every running job of the patient. Jobs are marked stopped
// before their group is signalled so a pipeline exiting on SIGTERM cannot
// record itself as failed. Columns already written stay written.
func (l *Launcher) Stop(ctx context.Context, patientID string) (StopResult, error) {
	result := StopResult{PatientID: patientID, JobIDs: []string{}}
	if strings.TrimSpace(patientID) == "" {
		return result, services.Wrap(services.ErrValidation, "jobs", "stop", "patient id is required", nil)
	}
	running, err := l.store.RunningJobs(ctx, patientID)
	if err != nil {
		return result, fmt.Errorf("stop: %w", err)
	}
	for _, job := range running {
		killed, err := l.stopJob(ctx, job)
		if err != nil {
			return result, err
		}
		result.JobIDs = append(result.JobIDs, job.ID)
		result.Stopped++
		if killed {
			result.Killed++
		}
	}
	return result, nil
}

// StopAll stops every running job in the registry.
func (l *Launcher) StopAll(ctx context.Context) (int, error) {
	running, err := l.store.RunningJobs(ctx, "")
	if err != nil {
		return 0, fmt.Errorf("stop all: %w", err)
	}
	var errs []error
	stopped := 0
	for _, job := range running {
		if _, err := l.stopJob(ctx, job); err != nil {
			errs = append(errs, err)
			continue
		}
		stopped++
	}
	return stopped, errors.Join(errs...)
}

func (l *Launcher) stopJob(ctx context.Context, job *store.Job) (bool, error) {
	if _, err := l.store.FinishJob(ctx, job.ID, store.JobStopped, "stopped by request"); err != nil {
		return false, fmt.Errorf("stop job %s: %w", job.ID, err)
	}
	if !l.owned(job) {
		l.logger.Info("pipeline already gone",
			logging.String(logging.FieldPatientID, job.PatientID),
			logging.String(logging.FieldJobID, job.ID),
			logging.Int("pgid", job.PGID),
			logging.String(logging.FieldEventType, "job_stopped"),
		)
		return false, nil
	}
	killed, err := l.terminate(ctx, job.PGID)
	if err != nil {
		return false, fmt.Errorf("stop job %s: %w", job.ID, err)
	}
	l.logger.Info("pipeline stopped",
		logging.String(logging.FieldPatientID, job.PatientID),
		logging.String(logging.FieldJobID, job.ID),
		logging.Int("pgid", job.PGID),
		logging.Bool("killed", killed),
		logging.String(logging.FieldEventType, "job_stopped"),
	)
	return killed, nil
}

// terminate sends SIGTERM to the group and escalates to SIGKILL once the
// grace period passes. It reports whether SIGKILL was needed.
func (l *Launcher) terminate(ctx context.Context, pgid int) (bool, error) {
	if pgid <= 0 {
		return false, nil
	}
	if err := signalGroup(pgid, terminateSignal()); err != nil {
		return false, err
	}

	deadline := time.Now().Add(l.opts.StopGrace)
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for groupAlive(pgid) && time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			deadline = time.Now()
		case <-ticker.C:
		}
	}
	if !groupAlive(pgid) {
		return false, nil
	}
	if err := signalGroup(pgid, killSignal()); err != nil {
		return false, err
	}
	return true, nil
}

// Reconcile marks running jobs whose process group is gone as orphaned. Live
// groups stay running and remain stoppable. It returns the number orphaned.
func (l *Launcher) Reconcile(ctx context.Context) (int, error) {
	running, err := l.store.RunningJobs(ctx, "")
	if err != nil {
		return 0, fmt.Errorf("reconcile: %w", err)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	orphaned := 0
	for _, job := range running {
		if l.live(job) {
			continue
		}
		if l.markOrphaned(ctx, job) {
			orphaned++
		}
	}
	if orphaned > 0 {
		l.logger.Info("orphaned jobs reconciled",
			logging.Int("orphaned", orphaned),
			logging.String(logging.FieldEventType, "jobs_reconciled"),
		)
	}
	return orphaned, nil
}

// live must be called with l.mu held.
func (l *Launcher) live(job *store.Job) bool {
	if _, ok := l.running[job.ID]; ok {
		return true
	}
	return groupOwned(job)
}

func (l *Launcher) owned(job *store.Job) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.live(job)
}

// groupOwned reports whether the job's pgid still names the group it
// spawned. A leader with different start ticks means the id was reused.
func groupOwned(job *store.Job) bool {
	if job.PGID <= 0 || !groupAlive(job.PGID) {
		return false
	}
	if job.StartTicks == 0 {
		return true
	}
	ticks, ok := processStartTicks(job.PGID)
	if !ok {
		// Leader gone, members left: a pgid in use is never handed out again.
		return true
	}
	return ticks == job.StartTicks
}

func (l *Launcher) markOrphaned(ctx context.Context, job *store.Job) bool {
	changed, err := l.store.FinishJob(ctx, job.ID, store.JobOrphaned, "process group no longer exists")
	if err != nil {
		l.logger.Warn("mark job orphaned failed", logging.String(logging.FieldJobID, job.ID), logging.Error(err))
		return false
	}
	return changed
}

func (l *Launcher) finish(ctx context.Context, jobID string, state store.JobState, message string) {
	if _, err := l.store.FinishJob(ctx, jobID, state, message); err != nil {
		l.logger.Warn("finish job failed", logging.String(logging.FieldJobID, jobID), logging.Error(err))
	}
}
