package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// CreateJob records a freshly spawned pipeline process group.
func (s *Store) CreateJob(ctx context.Context, job Job) error {
	if job.ID == "" || job.PatientID == "" {
		return errors.New("create job: id and patient id are required")
	}
	if job.State == "" {
		job.State = JobRunning
	}
	now := time.Now()
	if job.StartedAt.IsZero() {
		job.StartedAt = now
	}
	_, err := s.execWithRetry(ctx,
		`INSERT INTO jobs (id, patient_id, pid, pgid, start_ticks, state, step, error_message, started_at, updated_at)
         VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID, job.PatientID, job.PID, job.PGID, job.StartTicks, string(job.State), nullableString(job.Step),
		nullableString(job.Error), formatTime(job.StartedAt), formatTime(now))
	if err != nil {
		return fmt.Errorf("create job: %w", err)
	}
	return nil
}

// GetJob fetches a job. It returns nil, nil when unknown.
func (s *Store) GetJob(ctx context.Context, id string) (*Job, error) {
	job, err := scanJob(s.queryRow(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

// AttachJobProcess records the process group of a job spawned after its row
// was created, with the leader's start ticks (zero when unknown).
func (s *Store) AttachJobProcess(ctx context.Context, id string, pid, pgid int, startTicks int64) error {
	res, err := s.execWithRetry(ctx,
		`UPDATE jobs SET pid = ?, pgid = ?, start_ticks = ?, updated_at = ? WHERE id = ? AND state = ?`,
		pid, pgid, startTicks, formatTime(time.Now()), id, string(JobRunning))
	if err != nil {
		return fmt.Errorf("attach job process: %w", err)
	}
	if rowsAffected(res) == 0 {
		return fmt.Errorf("%w: %s is not running", ErrJobNotFound, id)
	}
	return nil
}

// UpdateJobStep records the pipeline step a running job is executing.
func (s *Store) UpdateJobStep(ctx context.Context, id, step string) error {
	res, err := s.execWithRetry(ctx,
		`UPDATE jobs SET step = ?, updated_at = ? WHERE id = ? AND state = ?`,
		step, formatTime(time.Now()), id, string(JobRunning))
	if err != nil {
		return fmt.Errorf("update job step: %w", err)
	}
	if rowsAffected(res) == 0 {
		return fmt.Errorf("%w: %s is not running", ErrJobNotFound, id)
	}
	return nil
}

// FinishJob moves a running job to a terminal state. It reports false when the
// job was already terminal, so a stop and a natural finish never overwrite
// each other.
func (s *Store) FinishJob(ctx context.Context, id string, state JobState, message string) (bool, error) {
	if !state.Terminal() {
		return false, fmt.Errorf("finish job: %q is not a terminal state", state)
	}
	now := formatTime(time.Now())
	res, err := s.execWithRetry(ctx,
		`UPDATE jobs SET state = ?, error_message = ?, updated_at = ?, finished_at = ? WHERE id = ? AND state = ?`,
		string(state), nullableString(message), now, now, id, string(JobRunning))
	if err != nil {
		return false, fmt.Errorf("finish job: %w", err)
	}
	return rowsAffected(res) > 0, nil
}

// RunningJobs lists running jobs for a patient, or for everyone when patientID is empty.
func (s *Store) RunningJobs(ctx context.Context, patientID string) ([]*Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE state = ?`
	args := []any{string(JobRunning)}
	if patientID != "" {
		query += ` AND patient_id = ?`
		args = append(args, patientID)
	}
	return s.listJobs(ctx, query+` ORDER BY started_at`, args...)
}

// LatestJob returns the most recently started job for a patient, or nil.
func (s *Store) LatestJob(ctx context.Context, patientID string) (*Job, error) {
	job, err := scanJob(s.queryRow(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE patient_id = ? ORDER BY started_at DESC, id DESC LIMIT 1`, patientID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("latest job: %w", err)
	}
	return job, nil
}

// ListJobs returns jobs newest first, optionally filtered by state.
func (s *Store) ListJobs(ctx context.Context, limit int, states ...JobState) ([]*Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs`
	args := make([]any, 0, len(states)+1)
	if len(states) > 0 {
		query += ` WHERE state IN (` + makePlaceholders(len(states)) + `)`
		for _, state := range states {
			args = append(args, string(state))
		}
	}
	query += ` ORDER BY started_at DESC, id DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	return s.listJobs(ctx, query, args...)
}

func (s *Store) listJobs(ctx context.Context, query string, args ...any) ([]*Job, error) {
	rows, err := s.query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}
