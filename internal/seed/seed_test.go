package seed_test

import (
	"context"
	"testing"
	"time"

	"therapybridge/internal/seed"
	"therapybridge/internal/testsupport"
)

func TestFixturesParse(t *testing.T) {
	fixtures, err := seed.Fixtures()
	if err != nil {
		t.Fatalf("Fixtures: %v", err)
	}
	if len(fixtures) != 10 {
		t.Fatalf("expected 10 demo sessions, got %d", len(fixtures))
	}
	for i, f := range fixtures {
		if f.DurationMinutes <= 0 {
			t.Fatalf("fixture %d has no duration", i)
		}
		for _, seg := range f.Segments {
			if seg.Speaker == "" || seg.Text == "" || seg.End < seg.Start {
				t.Fatalf("fixture %d has a bad segment %+v", i, seg)
			}
		}
	}
}

func TestSessionIDsAreDeterministic(t *testing.T) {
	a := seed.SessionIDs("patient-a")
	b := seed.SessionIDs("patient-a")
	other := seed.SessionIDs("patient-b")
	if len(a) != seed.Count() {
		t.Fatalf("expected %d ids, got %d", seed.Count(), len(a))
	}
	seen := map[string]bool{}
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("id %d differs between calls", i)
		}
		if a[i] == other[i] {
			t.Fatalf("id %d collides across patients", i)
		}
		if seen[a[i]] {
			t.Fatalf("duplicate id %s", a[i])
		}
		seen[a[i]] = true
	}
}

func TestPlanDatesAreWeekly(t *testing.T) {
	now := time.Date(2025, 3, 31, 15, 0, 0, 0, time.UTC)
	sessions, err := seed.Plan("patient-a", now)
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if got := sessions[len(sessions)-1].SessionDate; got != "2025-03-31" {
		t.Fatalf("last session date = %s", got)
	}
	if got := sessions[len(sessions)-2].SessionDate; got != "2025-03-24" {
		t.Fatalf("second to last session date = %s", got)
	}
}

func TestSeedIsIdempotent(t *testing.T) {
	st := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()
	now := time.Now()

	ids, inserted, err := seed.Seed(ctx, st, "patient-a", now)
	if err != nil {
		t.Fatalf("Seed: %v", err)
	}
	if inserted != len(ids) || inserted != seed.Count() {
		t.Fatalf("expected %d inserted, got %d", seed.Count(), inserted)
	}
	again, inserted, err := seed.Seed(ctx, st, "patient-a", now.Add(time.Hour))
	if err != nil {
		t.Fatalf("Seed again: %v", err)
	}
	if inserted != 0 {
		t.Fatalf("expected no new rows on reseed, got %d", inserted)
	}
	for i := range ids {
		if ids[i] != again[i] {
			t.Fatalf("reseed returned different ids")
		}
	}
	sessions, err := st.ListSessions(ctx, "patient-a")
	if err != nil {
		t.Fatalf("ListSessions: %v", err)
	}
	if len(sessions) != seed.Count() || len(sessions[0].Transcript) == 0 {
		t.Fatalf("unexpected sessions after seeding: %d", len(sessions))
	}
}
