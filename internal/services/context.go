package services

import "context"

type contextKey string

const (
	patientIDKey contextKey = "patient_id"
	sessionIDKey contextKey = "session_id"
	jobIDKey     contextKey = "job_id"
	waveKey      contextKey = "wave"
	analyzerKey  contextKey = "analyzer"
	requestIDKey contextKey = "request_id"
)

func withString(ctx context.Context, key contextKey, value string) context.Context {
	if value == "" {
		return ctx
	}
	return context.WithValue(ctx, key, value)
}

func stringFrom(ctx context.Context, key contextKey) (string, bool) {
	if ctx == nil {
		return "", false
	}
	if v, ok := ctx.Value(key).(string); ok && v != "" {
		return v, true
	}
	return "", false
}

// WithPatientID annotates context with the patient whose sessions are processed.
func WithPatientID(ctx context.Context, id string) context.Context {
	return withString(ctx, patientIDKey, id)
}

// PatientIDFromContext extracts the patient identifier if present.
func PatientIDFromContext(ctx context.Context) (string, bool) {
	return stringFrom(ctx, patientIDKey)
}

// WithSessionID annotates context with a therapy session identifier.
func WithSessionID(ctx context.Context, id string) context.Context {
	return withString(ctx, sessionIDKey, id)
}

// SessionIDFromContext extracts the session identifier if present.
func SessionIDFromContext(ctx context.Context) (string, bool) {
	return stringFrom(ctx, sessionIDKey)
}

// WithJobID annotates context with the background job identifier.
func WithJobID(ctx context.Context, id string) context.Context {
	return withString(ctx, jobIDKey, id)
}

// JobIDFromContext extracts the job identifier if present.
func JobIDFromContext(ctx context.Context) (string, bool) {
	return stringFrom(ctx, jobIDKey)
}

// WithWave annotates context with the analysis wave ("wave1", "wave2").
func WithWave(ctx context.Context, wave string) context.Context {
	return withString(ctx, waveKey, wave)
}

// WaveFromContext returns the wave name if present.
func WaveFromContext(ctx context.Context) (string, bool) {
	return stringFrom(ctx, waveKey)
}

// WithAnalyzer annotates context with the analyzer name.
func WithAnalyzer(ctx context.Context, name string) context.Context {
	return withString(ctx, analyzerKey, name)
}

// AnalyzerFromContext returns the analyzer name if present.
func AnalyzerFromContext(ctx context.Context) (string, bool) {
	return stringFrom(ctx, analyzerKey)
}

// WithRequestID annotates context with a correlation identifier.
func WithRequestID(ctx context.Context, id string) context.Context {
	return withString(ctx, requestIDKey, id)
}

// RequestIDFromContext extracts the correlation identifier if present.
func RequestIDFromContext(ctx context.Context) (string, bool) {
	return stringFrom(ctx, requestIDKey)
}
