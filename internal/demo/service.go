// Package demo manages ephemeral demo patients: token issue, seeding, pipeline
// launch, reset, and the token-scoped reads the HTTP layer serves.
package demo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"therapybridge/internal/jobs"
	"therapybridge/internal/logging"
	"therapybridge/internal/progress"
	"therapybridge/internal/seed"
	"therapybridge/internal/services"
	"therapybridge/internal/store"
)

var (
	// ErrUnauthorized indicates a missing or unknown demo token.
	ErrUnauthorized = errors.New("invalid demo token")
	// ErrTokenExpired indicates a demo token past its expiry.
	ErrTokenExpired = errors.New("demo token expired")
	// ErrSessionNotFound indicates a session outside the caller's patient.
	ErrSessionNotFound = errors.New("session not found")
)

// Store is the persistence the demo service needs.
type Store interface {
	seed.Inserter
	CreateDemoAccount(ctx context.Context, account store.DemoAccount) error
	DemoAccountByToken(ctx context.Context, token string) (*store.DemoAccount, error)
	ExtendDemoAccount(ctx context.Context, patientID string, expiresAt time.Time) error
	DeleteSessions(ctx context.Context, patientID string) (int64, error)
	ListSessions(ctx context.Context, patientID string) ([]*store.Session, error)
	GetSession(ctx context.Context, patientID, id string) (*store.Session, error)
}

// Launcher starts and stops background pipelines.
type Launcher interface {
	Launch(ctx context.Context, patientID string, sessionIDs []string) (jobs.Ack, error)
	Stop(ctx context.Context, patientID string) (jobs.StopResult, error)
}

// StatusReader answers polling reads.
type StatusReader interface {
	Status(ctx context.Context, patientID string) (progress.Status, error)
}

// Options configures a Service.
type Options struct {
	TokenTTL time.Duration
	Now      func() time.Time
	Logger   *slog.Logger
}

// Service implements the demo lifecycle.
type Service struct {
	store    Store
	launcher Launcher
	status   StatusReader
	ttl      time.Duration
	now      func() time.Time
	logger   *slog.Logger
}

// NewService constructs a demo service.
func NewService(st Store, launcher Launcher, status StatusReader, opts Options) *Service {
	if opts.TokenTTL <= 0 {
		opts.TokenTTL = 24 * time.Hour
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Service{
		store:    st,
		launcher: launcher,
		status:   status,
		ttl:      opts.TokenTTL,
		now:      opts.Now,
		logger:   logging.NewComponentLogger(logger, "demo"),
	}
}

// Initialized is returned by Initialize and Reset.
type Initialized struct {
	PatientID  string    `json:"patient_id"`
	DemoToken  string    `json:"demo_token,omitempty"`
	SessionIDs []string  `json:"session_ids"`
	ExpiresAt  time.Time `json:"expires_at"`
	// JobID is empty when the pipeline could not be launched; polling then
	// shows the sessions as pending.
	JobID string `json:"job_id,omitempty"`
	// DeletedSessions is set by Reset.
	DeletedSessions int64 `json:"deleted_sessions,omitempty"`
}

// Initialize issues a token for a fresh patient, seeds its sessions, and
// launches the analysis pipeline. It returns without waiting for analysis.
func (s *Service) Initialize(ctx context.Context) (Initialized, error) {
	now := s.now().UTC()
	account := store.DemoAccount{
		Token:     uuid.NewString(),
		PatientID: uuid.NewString(),
		CreatedAt: now,
		ExpiresAt: now.Add(s.ttl),
	}
	if err := s.store.CreateDemoAccount(ctx, account); err != nil {
		return Initialized{}, fmt.Errorf("initialize: %w", err)
	}
	ids, _, err := seed.Seed(ctx, s.store, account.PatientID, now)
	if err != nil {
		return Initialized{}, fmt.Errorf("initialize: %w", err)
	}

	result := Initialized{
		PatientID:  account.PatientID,
		DemoToken:  account.Token,
		SessionIDs: ids,
		ExpiresAt:  account.ExpiresAt,
		JobID:      s.launch(ctx, account.PatientID, ids),
	}
	s.logger.Info("demo patient initialized",
		logging.String(logging.FieldPatientID, account.PatientID),
		logging.Int("sessions", len(ids)),
		logging.String(logging.FieldJobID, result.JobID),
		logging.String(logging.FieldEventType, "demo_initialized"),
	)
	return result, nil
}

// Reset stops running analysis, deletes and reseeds the patient's sessions,
// extends the token, and relaunches the pipeline.
func (s *Service) Reset(ctx context.Context, patientID string) (Initialized, error) {
	if _, err := s.launcher.Stop(ctx, patientID); err != nil {
		return Initialized{}, fmt.Errorf("reset: %w", err)
	}
	deleted, err := s.store.DeleteSessions(ctx, patientID)
	if err != nil {
		return Initialized{}, fmt.Errorf("reset: %w", err)
	}
	now := s.now().UTC()
	expires := now.Add(s.ttl)
	if err := s.store.ExtendDemoAccount(ctx, patientID, expires); err != nil {
		return Initialized{}, fmt.Errorf("reset: %w", err)
	}
	ids, _, err := seed.Seed(ctx, s.store, patientID, now)
	if err != nil {
		return Initialized{}, fmt.Errorf("reset: %w", err)
	}

	result := Initialized{
		PatientID:       patientID,
		SessionIDs:      ids,
		ExpiresAt:       expires,
		JobID:           s.launch(ctx, patientID, ids),
		DeletedSessions: deleted,
	}
	s.logger.Info("demo patient reset",
		logging.String(logging.FieldPatientID, patientID),
		logging.Int64("deleted", deleted),
		logging.String(logging.FieldJobID, result.JobID),
		logging.String(logging.FieldEventType, "demo_reset"),
	)
	return result, nil
}

// launch starts the pipeline and logs instead of failing; clients observe a
// pipeline that never ran as sessions that stay pending.
func (s *Service) launch(ctx context.Context, patientID string, ids []string) string {
	ack, err := s.launcher.Launch(ctx, patientID, ids)
	if err != nil {
		logging.ErrorWithContext(s.logger, "pipeline launch failed", "launch_failed",
			logging.String(logging.FieldPatientID, patientID),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check jobs.executable and the job log directory"),
		)
		return ""
	}
	return ack.JobID
}

// Stop terminates the patient's running pipelines.
func (s *Service) Stop(ctx context.Context, patientID string) (jobs.StopResult, error) {
	return s.launcher.Stop(ctx, patientID)
}

// Status returns the patient's derived analysis progress.
func (s *Service) Status(ctx context.Context, patientID string) (progress.Status, error) {
	return s.status.Status(ctx, patientID)
}

// Authenticate resolves a demo token to its account.
func (s *Service) Authenticate(ctx context.Context, token string) (*store.DemoAccount, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrUnauthorized
	}
	account, err := s.store.DemoAccountByToken(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("authenticate: %w", err)
	}
	if account == nil {
		return nil, ErrUnauthorized
	}
	if account.Expired(s.now()) {
		return nil, ErrTokenExpired
	}
	return account, nil
}

// ListSessions returns the patient's full session rows in date order.
func (s *Service) ListSessions(ctx context.Context, patientID string) ([]*store.Session, error) {
	sessions, err := s.store.ListSessions(ctx, patientID)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	if sessions == nil {
		sessions = []*store.Session{}
	}
	return sessions, nil
}

// GetSession returns one of the patient's sessions.
func (s *Service) GetSession(ctx context.Context, patientID, sessionID string) (*store.Session, error) {
	session, err := s.store.GetSession(ctx, patientID, sessionID)
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	if session == nil {
		return nil, services.Wrap(services.ErrNotFound, "demo", "get session", sessionID, ErrSessionNotFound)
	}
	return session, nil
}
