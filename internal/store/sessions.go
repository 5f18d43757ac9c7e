package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
	"unicode/utf8"
)

// wave1Complete is the SQL guard matching progress.Derive's Wave 1 rule. Wave 2
// writes only land on rows that satisfy it.
const wave1Complete = "mood_score IS NOT NULL AND topics IS NOT NULL AND technique IS NOT NULL AND action_items IS NOT NULL AND summary IS NOT NULL AND has_breakthrough IS NOT NULL"

// InsertSessions seeds sessions. Existing IDs are left untouched so seeding is
// idempotent.
func (s *Store) InsertSessions(ctx context.Context, sessions []NewSession) (int, error) {
	if len(sessions) == 0 {
		return 0, nil
	}
	inserted := 0
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		inserted = 0
		stmt, err := tx.PrepareContext(ctx, s.rebind(`INSERT INTO sessions (
            id, patient_id, session_date, duration_minutes, transcript, created_at, updated_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?)
        ON CONFLICT (id) DO NOTHING`))
		if err != nil {
			return fmt.Errorf("prepare insert: %w", err)
		}
		defer stmt.Close()

		now := formatTime(time.Now())
		for _, session := range sessions {
			if strings.TrimSpace(session.ID) == "" || strings.TrimSpace(session.PatientID) == "" {
				return errors.New("session id and patient id are required")
			}
			transcript, err := encodeJSON(session.Transcript)
			if err != nil {
				return fmt.Errorf("encode transcript: %w", err)
			}
			res, err := stmt.ExecContext(ctx,
				session.ID,
				session.PatientID,
				session.SessionDate,
				session.DurationMinutes,
				transcript,
				now,
				now,
			)
			if err != nil {
				return fmt.Errorf("insert session %s: %w", session.ID, err)
			}
			inserted += int(rowsAffected(res))
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("insert sessions: %w", err)
	}
	return inserted, nil
}

// ListSessions returns the patient's sessions with transcripts, oldest first.
func (s *Store) ListSessions(ctx context.Context, patientID string) ([]*Session, error) {
	return s.listSessions(ctx, patientID, true)
}

// ListSessionSummaries returns the patient's sessions without transcripts.
// Status reads use it to avoid loading transcript text on every poll.
func (s *Store) ListSessionSummaries(ctx context.Context, patientID string) ([]*Session, error) {
	return s.listSessions(ctx, patientID, false)
}

func (s *Store) listSessions(ctx context.Context, patientID string, withTranscript bool) ([]*Session, error) {
	columns := sessionSummaryColumns
	if withTranscript {
		columns = sessionColumns
	}
	rows, err := s.query(ctx, `SELECT `+columns+` FROM sessions WHERE patient_id = ? ORDER BY session_date, id`, patientID)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*Session
	for rows.Next() {
		session, err := scanSession(rows, withTranscript)
		if err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		sessions = append(sessions, session)
	}
	return sessions, rows.Err()
}

// GetSession fetches one of the patient's sessions. It returns nil, nil when
// the session does not exist or belongs to another patient.
func (s *Store) GetSession(ctx context.Context, patientID, id string) (*Session, error) {
	row := s.queryRow(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id = ? AND patient_id = ?`, id, patientID)
	session, err := scanSession(row, true)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	return session, nil
}

// DeleteSessions removes all sessions for a patient.
func (s *Store) DeleteSessions(ctx context.Context, patientID string) (int64, error) {
	res, err := s.execWithRetry(ctx, `DELETE FROM sessions WHERE patient_id = ?`, patientID)
	if err != nil {
		return 0, fmt.Errorf("delete sessions: %w", err)
	}
	return rowsAffected(res), nil
}

// UpdateMood writes the mood analyzer's columns.
func (s *Store) UpdateMood(ctx context.Context, id string, score float64, rationale string) error {
	if err := ValidateMoodScore(score); err != nil {
		return err
	}
	res, err := s.execWithRetry(ctx,
		`UPDATE sessions SET mood_score = ?, mood_rationale = ?, updated_at = ? WHERE id = ?`,
		score, nullableString(rationale), formatTime(time.Now()), id)
	if err != nil {
		return fmt.Errorf("update mood: %w", err)
	}
	return expectRow(res, id)
}

// UpdateTopics writes the topic analyzer's columns.
func (s *Store) UpdateTopics(ctx context.Context, id string, fields TopicFields) error {
	if len(fields.Topics) == 0 || len(fields.Topics) > MaxTopics {
		return fmt.Errorf("%w: topics must have 1-%d entries, got %d", ErrInvalidField, MaxTopics, len(fields.Topics))
	}
	if len(fields.ActionItems) > MaxActionItems {
		return fmt.Errorf("%w: at most %d action items, got %d", ErrInvalidField, MaxActionItems, len(fields.ActionItems))
	}
	if utf8.RuneCountInString(fields.Summary) > MaxSummaryRunes {
		return fmt.Errorf("%w: summary exceeds %d characters", ErrInvalidField, MaxSummaryRunes)
	}
	actionItems := fields.ActionItems
	if actionItems == nil {
		actionItems = []string{}
	}
	topics, err := encodeJSON(fields.Topics)
	if err != nil {
		return fmt.Errorf("encode topics: %w", err)
	}
	items, err := encodeJSON(actionItems)
	if err != nil {
		return fmt.Errorf("encode action items: %w", err)
	}
	res, err := s.execWithRetry(ctx,
		`UPDATE sessions SET topics = ?, technique = ?, action_items = ?, summary = ?, updated_at = ? WHERE id = ?`,
		topics, fields.Technique, items, fields.Summary, formatTime(time.Now()), id)
	if err != nil {
		return fmt.Errorf("update topics: %w", err)
	}
	return expectRow(res, id)
}

// UpdateBreakthrough writes the breakthrough analyzer's columns.
func (s *Store) UpdateBreakthrough(ctx context.Context, id string, hasBreakthrough bool, label string) error {
	res, err := s.execWithRetry(ctx,
		`UPDATE sessions SET has_breakthrough = ?, breakthrough_label = ?, updated_at = ? WHERE id = ?`,
		boolToInt(hasBreakthrough), nullableString(label), formatTime(time.Now()), id)
	if err != nil {
		return fmt.Errorf("update breakthrough: %w", err)
	}
	return expectRow(res, id)
}

// UpdateDeepAnalysis writes the deep analysis column. It fails with
// ErrWave1Incomplete when the session's Wave 1 columns are not all set.
func (s *Store) UpdateDeepAnalysis(ctx context.Context, id string, analysis DeepAnalysis) error {
	if analysis.ConfidenceScore < 0 || analysis.ConfidenceScore > 1 || math.IsNaN(analysis.ConfidenceScore) {
		return fmt.Errorf("%w: confidence score %v outside [0,1]", ErrInvalidField, analysis.ConfidenceScore)
	}
	payload, err := encodeJSON(analysis)
	if err != nil {
		return fmt.Errorf("encode deep analysis: %w", err)
	}
	res, err := s.execWithRetry(ctx,
		`UPDATE sessions SET deep_analysis = ?, updated_at = ? WHERE id = ? AND `+wave1Complete,
		payload, formatTime(time.Now()), id)
	if err != nil {
		return fmt.Errorf("update deep analysis: %w", err)
	}
	return s.expectWave2Row(ctx, res, id)
}

// UpdateProse writes the prose narrative column, guarded like UpdateDeepAnalysis.
func (s *Store) UpdateProse(ctx context.Context, id string, prose string) error {
	if strings.TrimSpace(prose) == "" {
		return fmt.Errorf("%w: prose analysis is empty", ErrInvalidField)
	}
	if utf8.RuneCountInString(prose) > MaxProseRunes {
		return fmt.Errorf("%w: prose analysis exceeds %d characters", ErrInvalidField, MaxProseRunes)
	}
	res, err := s.execWithRetry(ctx,
		`UPDATE sessions SET prose_analysis = ?, updated_at = ? WHERE id = ? AND `+wave1Complete,
		prose, formatTime(time.Now()), id)
	if err != nil {
		return fmt.Errorf("update prose: %w", err)
	}
	return s.expectWave2Row(ctx, res, id)
}

// ValidateMoodScore enforces the mood_score domain: a multiple of 0.5 in [0,10].
func ValidateMoodScore(score float64) error {
	if math.IsNaN(score) || math.IsInf(score, 0) || score < MinMoodScore || score > MaxMoodScore {
		return fmt.Errorf("%w: mood score %v outside [%v,%v]", ErrInvalidField, score, MinMoodScore, MaxMoodScore)
	}
	if math.Mod(score, MoodStep) != 0 {
		return fmt.Errorf("%w: mood score %v is not a multiple of %v", ErrInvalidField, score, MoodStep)
	}
	return nil
}

func expectRow(res sql.Result, id string) error {
	if rowsAffected(res) == 0 {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return nil
}

func (s *Store) expectWave2Row(ctx context.Context, res sql.Result, id string) error {
	if rowsAffected(res) > 0 {
		return nil
	}
	var count int
	if err := s.queryRow(ctx, `SELECT COUNT(1) FROM sessions WHERE id = ?`, id).Scan(&count); err != nil {
		return fmt.Errorf("check session: %w", err)
	}
	if count == 0 {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return fmt.Errorf("%w: %s", ErrWave1Incomplete, id)
}
