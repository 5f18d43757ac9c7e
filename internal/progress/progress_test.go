package progress_test

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"
	"time"

	"therapybridge/internal/progress"
	"therapybridge/internal/store"
	"therapybridge/internal/testsupport"
)

func newService(t *testing.T) (*store.Store, *progress.Service) {
	t.Helper()
	st := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	return st, progress.NewService(st, progress.PollIntervals{Wave1: time.Second, Wave2: 3 * time.Second})
}

func TestDeriveStates(t *testing.T) {
	score := 5.0
	text := "x"
	yes := true
	deep := testsupport.SampleDeepAnalysis()

	cases := []struct {
		name    string
		session store.Session
		want    progress.State
		any1    bool
		any2    bool
	}{
		{"fresh", store.Session{}, progress.StatePending, false, false},
		{"partial wave1", store.Session{MoodScore: &score}, progress.StatePending, true, false},
		{"wave1 done", store.Session{MoodScore: &score, Topics: []string{"a"}, Technique: &text, ActionItems: []string{}, Summary: &text, HasBreakthrough: &yes}, progress.StateWave1Done, true, false},
		{"wave2 partial", store.Session{MoodScore: &score, Topics: []string{"a"}, Technique: &text, ActionItems: []string{}, Summary: &text, HasBreakthrough: &yes, DeepAnalysis: &deep}, progress.StateWave1Done, true, true},
		{"wave2 done", store.Session{MoodScore: &score, Topics: []string{"a"}, Technique: &text, ActionItems: []string{}, Summary: &text, HasBreakthrough: &yes, DeepAnalysis: &deep, ProseAnalysis: &text}, progress.StateWave2Done, true, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := progress.Derive(&tc.session)
			if p.State() != tc.want || p.AnyWave1 != tc.any1 || p.AnyWave2 != tc.any2 {
				t.Fatalf("Derive = %+v (state %s), want state %s any1=%v any2=%v", p, p.State(), tc.want, tc.any1, tc.any2)
			}
		})
	}
}

func TestWave1Missing(t *testing.T) {
	score := 4.5
	mood, topic, breakthrough := progress.Wave1Missing(&store.Session{MoodScore: &score})
	if mood || !topic || !breakthrough {
		t.Fatalf("unexpected missing flags: mood=%v topic=%v breakthrough=%v", mood, topic, breakthrough)
	}
}

func TestStatusWithoutSessionsIsPending(t *testing.T) {
	_, svc := newService(t)
	status, err := svc.Status(context.Background(), "nobody")
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if status.AnalysisStatus != progress.StatusPending || status.Total != 0 {
		t.Fatalf("unexpected status %+v", status)
	}
	if status.Sessions == nil {
		t.Fatal("expected empty, non-nil session list")
	}
}

func TestStatusBoundaries(t *testing.T) {
	st, svc := newService(t)
	ctx := context.Background()
	ids := testsupport.SeedSessions(t, st, "patient-a", 10)

	expect := func(label string, want progress.AnalysisStatus, wave1, wave2 int) {
		t.Helper()
		status, err := svc.Status(ctx, "patient-a")
		if err != nil {
			t.Fatalf("%s: Status: %v", label, err)
		}
		if status.AnalysisStatus != want || status.Wave1Complete != wave1 || status.Wave2Complete != wave2 || status.Total != 10 {
			t.Fatalf("%s: got %s wave1=%d wave2=%d total=%d, want %s wave1=%d wave2=%d",
				label, status.AnalysisStatus, status.Wave1Complete, status.Wave2Complete, status.Total, want, wave1, wave2)
		}
	}

	expect("0/10", progress.StatusPending, 0, 0)

	if err := st.UpdateMood(ctx, ids[0], 5, ""); err != nil {
		t.Fatalf("UpdateMood: %v", err)
	}
	expect("one field", progress.StatusWave1InProgress, 0, 0)

	testsupport.CompleteWave1(t, st, ids[0])
	expect("1/10 wave1", progress.StatusWave1InProgress, 1, 0)

	for _, id := range ids[1:] {
		testsupport.CompleteWave1(t, st, id)
	}
	expect("10/10 wave1", progress.StatusWave1Complete, 10, 0)

	testsupport.CompleteWave2(t, st, ids[0])
	expect("1/10 wave2", progress.StatusWave2InProgress, 10, 1)

	for _, id := range ids[1:] {
		testsupport.CompleteWave2(t, st, id)
	}
	expect("10/10 wave2", progress.StatusWave2Complete, 10, 10)
}

func TestStatusIsIdempotent(t *testing.T) {
	st, svc := newService(t)
	ctx := context.Background()
	ids := testsupport.SeedSessions(t, st, "patient-a", 3)
	testsupport.CompleteWave1(t, st, ids[1])
	if err := st.CreateJob(ctx, store.Job{ID: "job-1", PatientID: "patient-a", PID: 1, PGID: 1, Step: "wave1"}); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}

	first, err := svc.Status(ctx, "patient-a")
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	second, err := svc.Status(ctx, "patient-a")
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	a, _ := json.Marshal(first)
	b, _ := json.Marshal(second)
	if !bytes.Equal(a, b) {
		t.Fatalf("expected identical payloads:\n%s\n%s", a, b)
	}
	if first.Job == nil || first.Job.Step != "wave1" {
		t.Fatalf("expected job info, got %+v", first.Job)
	}
	if first.NextPollMS != 1000 {
		t.Fatalf("expected wave 1 poll hint, got %d", first.NextPollMS)
	}
}

func TestWave2NeverWithoutWave1(t *testing.T) {
	st, svc := newService(t)
	ctx := context.Background()
	ids := testsupport.SeedSessions(t, st, "patient-a", 4)
	testsupport.CompleteWave1(t, st, ids[0])
	testsupport.CompleteWave2(t, st, ids[0])
	_ = st.UpdateDeepAnalysis(ctx, ids[1], testsupport.SampleDeepAnalysis())

	status, err := svc.Status(ctx, "patient-a")
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	for _, s := range status.Sessions {
		if s.Wave2Complete && !s.Wave1Complete {
			t.Fatalf("session %s reports wave 2 without wave 1", s.ID)
		}
	}
	if status.Wave2Complete > status.Wave1Complete {
		t.Fatalf("wave2 count %d exceeds wave1 count %d", status.Wave2Complete, status.Wave1Complete)
	}
}
