package testsupport

import (
	"context"
	"fmt"
	"testing"

	"therapybridge/internal/config"
	"therapybridge/internal/store"
)

// MustOpenStore opens a store.Store for tests and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) *store.Store {
	t.Helper()

	st, err := store.Open(cfg)
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() {
		st.Close()
	})
	return st
}

// SeedSessions inserts count transcript-only sessions for patientID and
// returns their IDs in session-date order.
func SeedSessions(t testing.TB, st *store.Store, patientID string, count int) []string {
	t.Helper()

	sessions := make([]store.NewSession, 0, count)
	ids := make([]string, 0, count)
	for i := 0; i < count; i++ {
		id := fmt.Sprintf("%s-s%02d", patientID, i+1)
		ids = append(ids, id)
		sessions = append(sessions, store.NewSession{
			ID:              id,
			PatientID:       patientID,
			SessionDate:     fmt.Sprintf("2025-01-%02d", i+1),
			DurationMinutes: 50,
			Transcript: []store.Segment{
				{Speaker: "therapist", Text: "How has your week been?", Start: 0, End: 3},
				{Speaker: "patient", Text: fmt.Sprintf("Week %d was a little easier than the last.", i+1), Start: 3, End: 8},
			},
		})
	}
	if _, err := st.InsertSessions(context.Background(), sessions); err != nil {
		t.Fatalf("InsertSessions: %v", err)
	}
	return ids
}

// CompleteWave1 fills every Wave 1 column of a session.
func CompleteWave1(t testing.TB, st *store.Store, id string) {
	t.Helper()

	ctx := context.Background()
	if err := st.UpdateMood(ctx, id, 6.5, "steady"); err != nil {
		t.Fatalf("UpdateMood: %v", err)
	}
	if err := st.UpdateTopics(ctx, id, store.TopicFields{
		Topics:      []string{"work stress"},
		Technique:   "Cognitive restructuring",
		ActionItems: []string{"Keep a thought log"},
		Summary:     "Explored work stress and practiced reframing.",
	}); err != nil {
		t.Fatalf("UpdateTopics: %v", err)
	}
	if err := st.UpdateBreakthrough(ctx, id, false, ""); err != nil {
		t.Fatalf("UpdateBreakthrough: %v", err)
	}
}

// CompleteWave2 fills both Wave 2 columns of a session whose Wave 1 is complete.
func CompleteWave2(t testing.TB, st *store.Store, id string) {
	t.Helper()

	ctx := context.Background()
	if err := st.UpdateDeepAnalysis(ctx, id, SampleDeepAnalysis()); err != nil {
		t.Fatalf("UpdateDeepAnalysis: %v", err)
	}
	if err := st.UpdateProse(ctx, id, "The patient is building steady momentum."); err != nil {
		t.Fatalf("UpdateProse: %v", err)
	}
}

// SampleDeepAnalysis returns a valid deep analysis payload.
func SampleDeepAnalysis() store.DeepAnalysis {
	return store.DeepAnalysis{
		ProgressIndicators: store.ProgressIndicators{
			SymptomReduction:  "moderate",
			OverallTrajectory: "improving",
		},
		TherapeuticInsights: store.TherapeuticInsights{
			KeyRealizations: []string{"Avoidance keeps anxiety going"},
		},
		CopingSkills: store.CopingSkills{
			Learned:     []string{"box breathing"},
			Proficiency: "developing",
		},
		TherapeuticRelationship: store.TherapeuticRelationship{
			EngagementLevel: "high",
			Openness:        "open",
		},
		Recommendations: store.Recommendations{
			PracticeFocus: []string{"daily breathing practice"},
		},
		ConfidenceScore: 0.8,
	}
}
