package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

const sessionSummaryColumns = "id, patient_id, session_date, duration_minutes, mood_score, mood_rationale, topics, technique, action_items, summary, has_breakthrough, breakthrough_label, deep_analysis, prose_analysis, created_at, updated_at"

const sessionColumns = sessionSummaryColumns + ", transcript"

const jobColumns = "id, patient_id, pid, pgid, start_ticks, state, step, error_message, started_at, updated_at, finished_at"

type scanner interface {
	Scan(dest ...any) error
}

func scanSession(row scanner, withTranscript bool) (*Session, error) {
	var (
		session           Session
		moodScore         sql.NullFloat64
		moodRationale     sql.NullString
		topics            sql.NullString
		technique         sql.NullString
		actionItems       sql.NullString
		summary           sql.NullString
		hasBreakthrough   sql.NullInt64
		breakthroughLabel sql.NullString
		deep              sql.NullString
		prose             sql.NullString
		createdRaw        string
		updatedRaw        string
		transcriptRaw     sql.NullString
	)

	dest := []any{
		&session.ID,
		&session.PatientID,
		&session.SessionDate,
		&session.DurationMinutes,
		&moodScore,
		&moodRationale,
		&topics,
		&technique,
		&actionItems,
		&summary,
		&hasBreakthrough,
		&breakthroughLabel,
		&deep,
		&prose,
		&createdRaw,
		&updatedRaw,
	}
	if withTranscript {
		dest = append(dest, &transcriptRaw)
	}
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}

	if moodScore.Valid {
		v := moodScore.Float64
		session.MoodScore = &v
	}
	session.MoodRationale = moodRationale.String
	if err := decodeJSONColumn(topics, &session.Topics); err != nil {
		return nil, fmt.Errorf("decode topics for %s: %w", session.ID, err)
	}
	session.Technique = stringPtr(technique)
	if err := decodeJSONColumn(actionItems, &session.ActionItems); err != nil {
		return nil, fmt.Errorf("decode action items for %s: %w", session.ID, err)
	}
	session.Summary = stringPtr(summary)
	if hasBreakthrough.Valid {
		v := hasBreakthrough.Int64 != 0
		session.HasBreakthrough = &v
	}
	session.BreakthroughLabel = breakthroughLabel.String
	if deep.Valid {
		var analysis DeepAnalysis
		if err := json.Unmarshal([]byte(deep.String), &analysis); err != nil {
			return nil, fmt.Errorf("decode deep analysis for %s: %w", session.ID, err)
		}
		session.DeepAnalysis = &analysis
	}
	session.ProseAnalysis = stringPtr(prose)
	if withTranscript {
		if err := decodeJSONColumn(transcriptRaw, &session.Transcript); err != nil {
			return nil, fmt.Errorf("decode transcript for %s: %w", session.ID, err)
		}
	}
	if created, err := parseTimeString(createdRaw); err == nil {
		session.CreatedAt = created
	}
	if updated, err := parseTimeString(updatedRaw); err == nil {
		session.UpdatedAt = updated
	}
	return &session, nil
}

func scanJob(row scanner) (*Job, error) {
	var (
		job         Job
		state       string
		step        sql.NullString
		errMessage  sql.NullString
		startedRaw  string
		updatedRaw  string
		finishedRaw sql.NullString
	)
	if err := row.Scan(
		&job.ID,
		&job.PatientID,
		&job.PID,
		&job.PGID,
		&job.StartTicks,
		&state,
		&step,
		&errMessage,
		&startedRaw,
		&updatedRaw,
		&finishedRaw,
	); err != nil {
		return nil, err
	}
	job.State = JobState(state)
	job.Step = step.String
	job.Error = errMessage.String
	if started, err := parseTimeString(startedRaw); err == nil {
		job.StartedAt = started
	}
	if updated, err := parseTimeString(updatedRaw); err == nil {
		job.UpdatedAt = updated
	}
	if finishedRaw.Valid {
		if finished, err := parseTimeString(finishedRaw.String); err == nil {
			job.FinishedAt = &finished
		}
	}
	return &job, nil
}

func decodeJSONColumn(value sql.NullString, target any) error {
	if !value.Valid {
		return nil
	}
	return json.Unmarshal([]byte(value.String), target)
}

func encodeJSON(value any) (string, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func stringPtr(value sql.NullString) *string {
	if !value.Valid {
		return nil
	}
	v := value.String
	return &v
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func boolToInt(value bool) int {
	if value {
		return 1
	}
	return 0
}

// timeLayout is fixed width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTimeString(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, errors.New("empty")
	}
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02 15:04:05", value)
}

func makePlaceholders(count int) string {
	if count <= 0 {
		return ""
	}
	placeholders := make([]byte, 0, count*2)
	for i := 0; i < count; i++ {
		if i > 0 {
			placeholders = append(placeholders, ',')
		}
		placeholders = append(placeholders, '?')
	}
	return string(placeholders)
}
