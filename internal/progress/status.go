package progress

import (
	"context"
	"fmt"
	"time"

	"therapybridge/internal/store"
)

// AnalysisStatus is the aggregate label returned to polling clients.
type AnalysisStatus string

const (
	StatusPending         AnalysisStatus = "pending"
	StatusWave1InProgress AnalysisStatus = "wave1_in_progress"
	StatusWave1Complete   AnalysisStatus = "wave1_complete"
	StatusWave2InProgress AnalysisStatus = "wave2_in_progress"
	StatusWave2Complete   AnalysisStatus = "wave2_complete"
)

// SessionStatus is one session's entry in a Status.
type SessionStatus struct {
	ID            string `json:"id"`
	SessionDate   string `json:"session_date"`
	State         State  `json:"state"`
	Wave1Complete bool   `json:"wave1_complete"`
	Wave2Complete bool   `json:"wave2_complete"`
}

// JobStatus is the durable job record shown alongside progress.
type JobStatus struct {
	ID         string     `json:"id"`
	State      string     `json:"state"`
	Step       string     `json:"step,omitempty"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// Status is the polling payload. It carries nothing about the read itself, so
// two reads with no writes in between are identical.
type Status struct {
	PatientID      string          `json:"patient_id"`
	AnalysisStatus AnalysisStatus  `json:"analysis_status"`
	Total          int             `json:"total"`
	Wave1Complete  int             `json:"wave1_complete"`
	Wave2Complete  int             `json:"wave2_complete"`
	Sessions       []SessionStatus `json:"sessions"`
	NextPollMS     int             `json:"next_poll_ms"`
	Job            *JobStatus      `json:"job,omitempty"`
}

// Summarize computes the aggregate status for a set of session rows.
func Summarize(patientID string, sessions []*store.Session) Status {
	status := Status{
		PatientID: patientID,
		Total:     len(sessions),
		Sessions:  make([]SessionStatus, 0, len(sessions)),
	}
	anyWave1, anyWave2 := false, false
	for _, s := range sessions {
		p := Derive(s)
		if p.Wave1Done {
			status.Wave1Complete++
		}
		if p.Wave2Done {
			status.Wave2Complete++
		}
		anyWave1 = anyWave1 || p.AnyWave1
		anyWave2 = anyWave2 || p.AnyWave2
		status.Sessions = append(status.Sessions, SessionStatus{
			ID:            s.ID,
			SessionDate:   s.SessionDate,
			State:         p.State(),
			Wave1Complete: p.Wave1Done,
			Wave2Complete: p.Wave2Done,
		})
	}

	switch {
	case status.Total > 0 && status.Wave2Complete == status.Total:
		status.AnalysisStatus = StatusWave2Complete
	case anyWave2:
		status.AnalysisStatus = StatusWave2InProgress
	case status.Total > 0 && status.Wave1Complete == status.Total:
		status.AnalysisStatus = StatusWave1Complete
	case anyWave1:
		status.AnalysisStatus = StatusWave1InProgress
	default:
		status.AnalysisStatus = StatusPending
	}
	return status
}

// Done reports whether clients can stop polling.
func (s Status) Done() bool {
	return s.AnalysisStatus == StatusWave2Complete
}

// Reader is the slice of the store the status read needs.
type Reader interface {
	ListSessionSummaries(ctx context.Context, patientID string) ([]*store.Session, error)
	LatestJob(ctx context.Context, patientID string) (*store.Job, error)
}

// PollIntervals are the client polling hints per phase.
type PollIntervals struct {
	Wave1 time.Duration
	Wave2 time.Duration
}

// Service answers status reads from the store.
type Service struct {
	reader    Reader
	intervals PollIntervals
}

// NewService constructs a status service.
func NewService(reader Reader, intervals PollIntervals) *Service {
	return &Service{reader: reader, intervals: intervals}
}

// Status reads the patient's sessions and latest job and summarizes them.
func (s *Service) Status(ctx context.Context, patientID string) (Status, error) {
	sessions, err := s.reader.ListSessionSummaries(ctx, patientID)
	if err != nil {
		return Status{}, fmt.Errorf("status: %w", err)
	}
	status := Summarize(patientID, sessions)
	status.NextPollMS = s.nextPoll(status.AnalysisStatus)

	job, err := s.reader.LatestJob(ctx, patientID)
	if err != nil {
		return Status{}, fmt.Errorf("status: %w", err)
	}
	if job != nil {
		status.Job = &JobStatus{
			ID:         job.ID,
			State:      string(job.State),
			Step:       job.Step,
			StartedAt:  job.StartedAt,
			FinishedAt: job.FinishedAt,
		}
	}
	return status, nil
}

func (s *Service) nextPoll(status AnalysisStatus) int {
	switch status {
	case StatusWave2Complete:
		return 0
	case StatusWave1Complete, StatusWave2InProgress:
		return int(s.intervals.Wave2.Milliseconds())
	default:
		return int(s.intervals.Wave1.Milliseconds())
	}
}
