package store

import (
	"errors"
	"time"
)

var (
	// ErrWave1Incomplete is returned when a Wave 2 write targets a session whose
	// Wave 1 columns are not all populated.
	ErrWave1Incomplete = errors.New("wave 1 results incomplete")
	// ErrInvalidField is returned when an analyzer result violates a column invariant.
	ErrInvalidField = errors.New("invalid field value")
	// ErrSessionNotFound is returned when an update targets a missing session.
	ErrSessionNotFound = errors.New("session not found")
	// ErrJobNotFound is returned when a job update targets a missing job.
	ErrJobNotFound = errors.New("job not found")
)

const (
	// MaxActionItems bounds the action item list written by the topic analyzer.
	MaxActionItems = 2
	// MaxTopics bounds the topic list written by the topic analyzer.
	MaxTopics = 2
	// MaxSummaryRunes bounds the one-line session summary.
	MaxSummaryRunes = 150
	// MaxProseRunes bounds the prose narrative.
	MaxProseRunes = 5000
	// MinMoodScore and MaxMoodScore bound mood_score; values are multiples of MoodStep.
	MinMoodScore = 0.0
	MaxMoodScore = 10.0
	MoodStep     = 0.5
)

// Segment is one diarized utterance of a transcript.
type Segment struct {
	Speaker string  `json:"speaker"`
	Text    string  `json:"text"`
	Start   float64 `json:"start"`
	End     float64 `json:"end"`
}

// DeepAnalysis is the structured Wave 2 result stored as JSON.
type DeepAnalysis struct {
	ProgressIndicators      ProgressIndicators      `json:"progress_indicators"`
	TherapeuticInsights     TherapeuticInsights     `json:"therapeutic_insights"`
	CopingSkills            CopingSkills            `json:"coping_skills"`
	TherapeuticRelationship TherapeuticRelationship `json:"therapeutic_relationship"`
	Recommendations         Recommendations         `json:"recommendations"`
	ConfidenceScore         float64                 `json:"confidence_score"`
}

// ProgressIndicators summarizes observable change across sessions.
type ProgressIndicators struct {
	SymptomReduction  string   `json:"symptom_reduction"`
	SkillDevelopment  []string `json:"skill_development"`
	GoalProgress      []string `json:"goal_progress"`
	BehavioralChanges []string `json:"behavioral_changes"`
	OverallTrajectory string   `json:"overall_trajectory"`
}

// TherapeuticInsights captures realizations and patterns.
type TherapeuticInsights struct {
	KeyRealizations  []string `json:"key_realizations"`
	Patterns         []string `json:"patterns"`
	GrowthAreas      []string `json:"growth_areas"`
	StrengthsNoticed []string `json:"strengths_noticed"`
}

// CopingSkills lists skills learned and how well they are used.
type CopingSkills struct {
	Learned         []string `json:"learned"`
	Proficiency     string   `json:"proficiency"`
	PracticeSuggest []string `json:"practice_suggestions"`
}

// TherapeuticRelationship describes the working alliance.
type TherapeuticRelationship struct {
	EngagementLevel string   `json:"engagement_level"`
	Openness        string   `json:"openness"`
	AllianceNotes   []string `json:"alliance_notes"`
}

// Recommendations lists next steps for patient and clinician.
type Recommendations struct {
	PracticeFocus []string `json:"practice_focus"`
	NextSession   []string `json:"next_session"`
	Resources     []string `json:"resources"`
}

// Session is one therapy session row. Nil pointer and nil slice fields are
// null in the store; which of them are populated is the session's progress.
type Session struct {
	ID              string    `json:"id"`
	PatientID       string    `json:"patient_id"`
	SessionDate     string    `json:"session_date"`
	DurationMinutes int       `json:"duration_minutes"`
	Transcript      []Segment `json:"transcript,omitempty"`

	MoodScore         *float64 `json:"mood_score"`
	MoodRationale     string   `json:"mood_rationale,omitempty"`
	Topics            []string `json:"topics"`
	Technique         *string  `json:"technique"`
	ActionItems       []string `json:"action_items"`
	Summary           *string  `json:"summary"`
	HasBreakthrough   *bool    `json:"has_breakthrough"`
	BreakthroughLabel string   `json:"breakthrough_label,omitempty"`

	DeepAnalysis  *DeepAnalysis `json:"deep_analysis"`
	ProseAnalysis *string       `json:"prose_analysis"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewSession describes a seeded session before any analysis ran.
type NewSession struct {
	ID              string
	PatientID       string
	SessionDate     string
	DurationMinutes int
	Transcript      []Segment
}

// TopicFields is the topic analyzer's column set.
type TopicFields struct {
	Topics      []string
	Technique   string
	ActionItems []string
	Summary     string
}

// DemoAccount scopes requests to a single demo patient.
type DemoAccount struct {
	Token     string    `json:"-"`
	PatientID string    `json:"patient_id"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Expired reports whether the account is past its expiry at now.
func (a *DemoAccount) Expired(now time.Time) bool {
	return a == nil || !now.Before(a.ExpiresAt)
}

// JobState is the lifecycle state of a background pipeline job.
type JobState string

const (
	JobRunning   JobState = "running"
	JobCompleted JobState = "completed"
	JobFailed    JobState = "failed"
	JobStopped   JobState = "stopped"
	JobOrphaned  JobState = "orphaned"
)

// Terminal reports whether no further transitions are expected.
func (s JobState) Terminal() bool {
	return s != JobRunning
}

// Job is a durable record of one detached pipeline process group.
// StartTicks is the group leader's start time in clock ticks since boot, zero
// when unknown; it tells a reused pgid apart from the original group.
type Job struct {
	ID         string     `json:"id"`
	PatientID  string     `json:"patient_id"`
	PID        int        `json:"pid"`
	PGID       int        `json:"pgid"`
	StartTicks int64      `json:"start_ticks,omitempty"`
	State      JobState   `json:"state"`
	Step       string     `json:"step,omitempty"`
	Error      string     `json:"error,omitempty"`
	StartedAt  time.Time  `json:"started_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}
