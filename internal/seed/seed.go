// Package seed creates the demo patient's transcript-only session rows.
package seed

import (
	"context"
	_ "embed"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"therapybridge/internal/store"
)

//go:embed transcripts.yaml
var transcriptFixtures []byte

// sessionNamespace scopes deterministic session ids.
var sessionNamespace = uuid.MustParse("6f1c2a8e-3b0d-5c4e-9a7f-2d1b0e8c4a61")

// SessionInterval is the spacing between consecutive demo sessions.
const SessionInterval = 7 * 24 * time.Hour

const dateLayout = "2006-01-02"

// Fixture is one embedded demo session.
type Fixture struct {
	DurationMinutes int             `yaml:"duration_minutes"`
	Segments        []store.Segment `yaml:"segments"`
}

// Fixtures parses the embedded demo transcripts.
func Fixtures() ([]Fixture, error) {
	var fixtures []Fixture
	if err := yaml.Unmarshal(transcriptFixtures, &fixtures); err != nil {
		return nil, fmt.Errorf("parse demo transcripts: %w", err)
	}
	for i, f := range fixtures {
		if len(f.Segments) == 0 {
			return nil, fmt.Errorf("demo transcript %d has no segments", i+1)
		}
	}
	return fixtures, nil
}

// Count reports how many sessions a seeded patient has.
func Count() int {
	fixtures, err := Fixtures()
	if err != nil {
		return 0
	}
	return len(fixtures)
}

// SessionID derives the id of the index-th (0-based) session of a patient.
// The same patient always gets the same ids, so they can be returned before
// the rows exist and reseeding is idempotent.
func SessionID(patientID string, index int) string {
	return uuid.NewSHA1(sessionNamespace, fmt.Appendf(nil, "%s/%d", patientID, index)).String()
}

// SessionIDs returns the ids of every demo session for a patient.
func SessionIDs(patientID string) []string {
	n := Count()
	ids := make([]string, n)
	for i := range n {
		ids[i] = SessionID(patientID, i)
	}
	return ids
}

// Plan builds the session rows for a patient. The last session is dated on
// now; earlier ones are spaced SessionInterval apart.
func Plan(patientID string, now time.Time) ([]store.NewSession, error) {
	fixtures, err := Fixtures()
	if err != nil {
		return nil, err
	}
	sessions := make([]store.NewSession, 0, len(fixtures))
	last := len(fixtures) - 1
	for i, f := range fixtures {
		date := now.UTC().Add(-time.Duration(last-i) * SessionInterval)
		sessions = append(sessions, store.NewSession{
			ID:              SessionID(patientID, i),
			PatientID:       patientID,
			SessionDate:     date.Format(dateLayout),
			DurationMinutes: f.DurationMinutes,
			Transcript:      f.Segments,
		})
	}
	return sessions, nil
}

// Inserter is the store call seeding needs.
type Inserter interface {
	InsertSessions(ctx context.Context, sessions []store.NewSession) (int, error)
}

// Seed inserts the patient's demo sessions, leaving existing rows untouched.
// It returns the session ids and how many rows were new.
func Seed(ctx context.Context, st Inserter, patientID string, now time.Time) ([]string, int, error) {
	sessions, err := Plan(patientID, now)
	if err != nil {
		return nil, 0, err
	}
	inserted, err := st.InsertSessions(ctx, sessions)
	if err != nil {
		return nil, 0, fmt.Errorf("seed sessions: %w", err)
	}
	ids := make([]string, len(sessions))
	for i, s := range sessions {
		ids[i] = s.ID
	}
	return ids, inserted, nil
}
