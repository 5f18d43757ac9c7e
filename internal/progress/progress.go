// Package progress derives analysis progress from persisted session rows.
//
// Derive is the only code that decides what a populated column means. The
// status read and the orchestrator's Wave 2 selection both go through it, so
// the two can never disagree about whether a session finished a wave.
package progress

import (
	"therapybridge/internal/store"
)

// State is a session's position in the analysis lifecycle.
type State string

const (
	StatePending   State = "pending"
	StateWave1Done State = "wave1_done"
	StateWave2Done State = "wave2_done"
)

// SessionProgress is the derived view of one session row.
type SessionProgress struct {
	Wave1Done bool
	Wave2Done bool
	// AnyWave1 and AnyWave2 report whether at least one field of the wave is set.
	AnyWave1 bool
	AnyWave2 bool
}

// State collapses the flags into the lifecycle state.
func (p SessionProgress) State() State {
	switch {
	case p.Wave1Done && p.Wave2Done:
		return StateWave2Done
	case p.Wave1Done:
		return StateWave1Done
	default:
		return StatePending
	}
}

// Derive inspects a session's nullable analysis columns.
func Derive(s *store.Session) SessionProgress {
	if s == nil {
		return SessionProgress{}
	}
	wave1 := []bool{
		s.MoodScore != nil,
		s.Topics != nil,
		s.Technique != nil,
		s.ActionItems != nil,
		s.Summary != nil,
		s.HasBreakthrough != nil,
	}
	wave2 := []bool{
		s.DeepAnalysis != nil,
		s.ProseAnalysis != nil,
	}
	return SessionProgress{
		Wave1Done: all(wave1),
		Wave2Done: all(wave2),
		AnyWave1:  anyTrue(wave1),
		AnyWave2:  anyTrue(wave2),
	}
}

// Wave1Missing reports which Wave 1 analyzers still have to run for a session.
func Wave1Missing(s *store.Session) (mood, topic, breakthrough bool) {
	if s == nil {
		return true, true, true
	}
	mood = s.MoodScore == nil
	topic = s.Topics == nil || s.Technique == nil || s.ActionItems == nil || s.Summary == nil
	breakthrough = s.HasBreakthrough == nil
	return mood, topic, breakthrough
}

func all(values []bool) bool {
	for _, v := range values {
		if !v {
			return false
		}
	}
	return true
}

func anyTrue(values []bool) bool {
	for _, v := range values {
		if v {
			return true
		}
	}
	return false
}
