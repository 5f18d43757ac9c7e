package store_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"therapybridge/internal/store"
	"therapybridge/internal/testsupport"
)

func TestOpenAppliesMigrationsIdempotently(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	first := testsupport.MustOpenStore(t, cfg)
	ids := testsupport.SeedSessions(t, first, "patient-a", 2)
	if err := first.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	second := testsupport.MustOpenStore(t, cfg)
	sessions, err := second.ListSessions(context.Background(), "patient-a")
	if err != nil {
		t.Fatalf("ListSessions: %v", err)
	}
	if len(sessions) != len(ids) {
		t.Fatalf("expected %d sessions after reopen, got %d", len(ids), len(sessions))
	}
	if second.Driver() != store.DriverSQLite {
		t.Fatalf("unexpected driver %q", second.Driver())
	}
}

func TestInsertSessionsIsIdempotent(t *testing.T) {
	st := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()

	ids := testsupport.SeedSessions(t, st, "patient-a", 3)
	inserted, err := st.InsertSessions(ctx, []store.NewSession{{
		ID: ids[0], PatientID: "patient-a", SessionDate: "2025-02-01",
	}})
	if err != nil {
		t.Fatalf("InsertSessions: %v", err)
	}
	if inserted != 0 {
		t.Fatalf("expected duplicate insert to be ignored, got %d", inserted)
	}
	session, err := st.GetSession(ctx, "patient-a", ids[0])
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if session.SessionDate != "2025-01-01" {
		t.Fatalf("expected original row to survive, got date %q", session.SessionDate)
	}
	if len(session.Transcript) != 2 || session.Transcript[1].Speaker != "patient" {
		t.Fatalf("unexpected transcript %+v", session.Transcript)
	}
}

func TestFreshSessionHasNullAnalysisColumns(t *testing.T) {
	st := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ids := testsupport.SeedSessions(t, st, "patient-a", 1)

	session, err := st.GetSession(context.Background(), "patient-a", ids[0])
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if session.MoodScore != nil || session.Topics != nil || session.Technique != nil || session.ActionItems != nil ||
		session.Summary != nil || session.HasBreakthrough != nil || session.DeepAnalysis != nil || session.ProseAnalysis != nil {
		t.Fatalf("expected all analysis columns null, got %+v", session)
	}
}

func TestGetSessionIsScopedToPatient(t *testing.T) {
	st := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ids := testsupport.SeedSessions(t, st, "patient-a", 1)

	session, err := st.GetSession(context.Background(), "patient-b", ids[0])
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if session != nil {
		t.Fatalf("expected other patient's session to be invisible, got %+v", session)
	}
}

func TestWave1UpdatesRoundTrip(t *testing.T) {
	st := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()
	ids := testsupport.SeedSessions(t, st, "patient-a", 1)
	testsupport.CompleteWave1(t, st, ids[0])

	session, err := st.GetSession(ctx, "patient-a", ids[0])
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if session.MoodScore == nil || *session.MoodScore != 6.5 {
		t.Fatalf("unexpected mood %v", session.MoodScore)
	}
	if len(session.Topics) != 1 || session.Topics[0] != "work stress" {
		t.Fatalf("unexpected topics %v", session.Topics)
	}
	if session.HasBreakthrough == nil || *session.HasBreakthrough {
		t.Fatalf("unexpected breakthrough %v", session.HasBreakthrough)
	}
	if session.Summary == nil || *session.Summary == "" {
		t.Fatal("expected summary")
	}
}

func TestUpdateMoodRejectsInvalidScores(t *testing.T) {
	st := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ids := testsupport.SeedSessions(t, st, "patient-a", 1)

	for _, score := range []float64{-0.5, 10.5, 6.3} {
		err := st.UpdateMood(context.Background(), ids[0], score, "")
		if !errors.Is(err, store.ErrInvalidField) {
			t.Fatalf("score %v: expected ErrInvalidField, got %v", score, err)
		}
	}
	if err := st.UpdateMood(context.Background(), "missing", 5, ""); !errors.Is(err, store.ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestUpdateTopicsBoundsActionItems(t *testing.T) {
	st := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ids := testsupport.SeedSessions(t, st, "patient-a", 1)

	err := st.UpdateTopics(context.Background(), ids[0], store.TopicFields{
		Topics:      []string{"sleep"},
		Technique:   "Sleep hygiene",
		ActionItems: []string{"a", "b", "c"},
		Summary:     "Sleep review.",
	})
	if !errors.Is(err, store.ErrInvalidField) {
		t.Fatalf("expected ErrInvalidField for three action items, got %v", err)
	}
}

func TestWave2WritesRequireCompleteWave1(t *testing.T) {
	st := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()
	ids := testsupport.SeedSessions(t, st, "patient-a", 1)

	if err := st.UpdateMood(ctx, ids[0], 5, ""); err != nil {
		t.Fatalf("UpdateMood: %v", err)
	}
	err := st.UpdateDeepAnalysis(ctx, ids[0], testsupport.SampleDeepAnalysis())
	if !errors.Is(err, store.ErrWave1Incomplete) {
		t.Fatalf("expected ErrWave1Incomplete, got %v", err)
	}
	if err := st.UpdateProse(ctx, ids[0], "text"); !errors.Is(err, store.ErrWave1Incomplete) {
		t.Fatalf("expected ErrWave1Incomplete for prose, got %v", err)
	}
	if err := st.UpdateProse(ctx, "missing", "text"); !errors.Is(err, store.ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}

	testsupport.CompleteWave1(t, st, ids[0])
	testsupport.CompleteWave2(t, st, ids[0])

	session, err := st.GetSession(ctx, "patient-a", ids[0])
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if session.DeepAnalysis == nil || session.DeepAnalysis.ConfidenceScore != 0.8 {
		t.Fatalf("unexpected deep analysis %+v", session.DeepAnalysis)
	}
	if session.ProseAnalysis == nil {
		t.Fatal("expected prose analysis")
	}
}

func TestConcurrentColumnUpdates(t *testing.T) {
	st := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()
	ids := testsupport.SeedSessions(t, st, "patient-a", 10)

	var wg sync.WaitGroup
	errs := make(chan error, len(ids)*3)
	for _, id := range ids {
		wg.Add(3)
		go func() {
			defer wg.Done()
			errs <- st.UpdateMood(ctx, id, 7, "")
		}()
		go func() {
			defer wg.Done()
			errs <- st.UpdateTopics(ctx, id, store.TopicFields{Topics: []string{"grief"}, Technique: "ACT", Summary: "Grief work."})
		}()
		go func() {
			defer wg.Done()
			errs <- st.UpdateBreakthrough(ctx, id, true, "named the loss")
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("concurrent update failed: %v", err)
		}
	}

	sessions, err := st.ListSessionSummaries(ctx, "patient-a")
	if err != nil {
		t.Fatalf("ListSessionSummaries: %v", err)
	}
	for _, s := range sessions {
		if s.MoodScore == nil || s.Topics == nil || s.HasBreakthrough == nil {
			t.Fatalf("session %s missing a concurrent write: %+v", s.ID, s)
		}
		if s.ActionItems == nil || len(s.ActionItems) != 0 {
			t.Fatalf("expected empty non-null action items, got %v", s.ActionItems)
		}
		if s.Transcript != nil {
			t.Fatal("summaries must not load transcripts")
		}
	}
}

func TestDemoAccountsAndPurge(t *testing.T) {
	st := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()
	now := time.Now()

	for i, expires := range []time.Time{now.Add(-time.Minute), now.Add(time.Hour)} {
		patient := fmt.Sprintf("patient-%d", i)
		if err := st.CreateDemoAccount(ctx, store.DemoAccount{
			Token: fmt.Sprintf("token-%d", i), PatientID: patient, CreatedAt: now, ExpiresAt: expires,
		}); err != nil {
			t.Fatalf("CreateDemoAccount: %v", err)
		}
		testsupport.SeedSessions(t, st, patient, 2)
	}

	account, err := st.DemoAccountByToken(ctx, "token-0")
	if err != nil {
		t.Fatalf("DemoAccountByToken: %v", err)
	}
	if account == nil || !account.Expired(now) {
		t.Fatalf("expected expired account, got %+v", account)
	}

	purged, err := st.PurgeExpiredAccounts(ctx, now)
	if err != nil {
		t.Fatalf("PurgeExpiredAccounts: %v", err)
	}
	if len(purged) != 1 || purged[0] != "patient-0" {
		t.Fatalf("unexpected purge result %v", purged)
	}
	if account, _ := st.DemoAccountByToken(ctx, "token-0"); account != nil {
		t.Fatal("expected purged account to be gone")
	}
	remaining, err := st.ListSessions(ctx, "patient-1")
	if err != nil {
		t.Fatalf("ListSessions: %v", err)
	}
	if len(remaining) != 2 {
		t.Fatalf("expected live patient's sessions to survive, got %d", len(remaining))
	}
}

func TestJobLifecycle(t *testing.T) {
	st := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()

	if err := st.CreateJob(ctx, store.Job{ID: "job-1", PatientID: "patient-a", PID: 100, PGID: 100}); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	if err := st.UpdateJobStep(ctx, "job-1", "wave1"); err != nil {
		t.Fatalf("UpdateJobStep: %v", err)
	}

	running, err := st.RunningJobs(ctx, "patient-a")
	if err != nil {
		t.Fatalf("RunningJobs: %v", err)
	}
	if len(running) != 1 || running[0].PGID != 100 || running[0].Step != "wave1" {
		t.Fatalf("unexpected running jobs %+v", running)
	}

	changed, err := st.FinishJob(ctx, "job-1", store.JobStopped, "stopped by request")
	if err != nil || !changed {
		t.Fatalf("FinishJob: changed=%v err=%v", changed, err)
	}
	changed, err = st.FinishJob(ctx, "job-1", store.JobCompleted, "")
	if err != nil {
		t.Fatalf("second FinishJob: %v", err)
	}
	if changed {
		t.Fatal("expected terminal job to keep its first terminal state")
	}

	job, err := st.LatestJob(ctx, "patient-a")
	if err != nil {
		t.Fatalf("LatestJob: %v", err)
	}
	if job.State != store.JobStopped || job.FinishedAt == nil {
		t.Fatalf("unexpected job %+v", job)
	}
	if err := st.UpdateJobStep(ctx, "job-1", "wave2"); !errors.Is(err, store.ErrJobNotFound) {
		t.Fatalf("expected step update on stopped job to fail, got %v", err)
	}
	if _, err := st.FinishJob(ctx, "job-1", store.JobRunning, ""); err == nil {
		t.Fatal("expected error for non-terminal finish state")
	}

	all, err := st.ListJobs(ctx, 10, store.JobStopped)
	if err != nil {
		t.Fatalf("ListJobs: %v", err)
	}
	if len(all) != 1 {
		t.Fatalf("expected one stopped job, got %d", len(all))
	}
}

func TestAttachJobProcess(t *testing.T) {
	st := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()

	if err := st.CreateJob(ctx, store.Job{ID: "job-2", PatientID: "patient-a"}); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	if err := st.AttachJobProcess(ctx, "job-2", 4321, 4321, 987654); err != nil {
		t.Fatalf("AttachJobProcess: %v", err)
	}
	job, err := st.GetJob(ctx, "job-2")
	if err != nil || job == nil {
		t.Fatalf("GetJob: %v", err)
	}
	if job.PID != 4321 || job.PGID != 4321 || job.StartTicks != 987654 {
		t.Fatalf("unexpected process ids %+v", job)
	}

	if _, err := st.FinishJob(ctx, "job-2", store.JobFailed, "boom"); err != nil {
		t.Fatalf("FinishJob: %v", err)
	}
	if err := st.AttachJobProcess(ctx, "job-2", 1, 1, 0); !errors.Is(err, store.ErrJobNotFound) {
		t.Fatalf("expected attach on finished job to fail, got %v", err)
	}
}
