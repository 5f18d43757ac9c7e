package logging

import (
	"context"
	"log/slog"

	"therapybridge/internal/services"
)

const (
	// FieldComponent is the standardized structured logging key for component names.
	FieldComponent = "component"
	// FieldPatientID is the standardized structured logging key for patient identifiers.
	FieldPatientID = "patient_id"
	// FieldSessionID is the standardized structured logging key for therapy session identifiers.
	FieldSessionID = "session_id"
	// FieldJobID is the standardized structured logging key for background job identifiers.
	FieldJobID = "job_id"
	// FieldWave is the standardized structured logging key for the analysis wave.
	FieldWave = "wave"
	// FieldAnalyzer is the standardized structured logging key for analyzer names.
	FieldAnalyzer = "analyzer"
	// FieldCorrelationID is the standardized structured logging key for request correlation identifiers.
	FieldCorrelationID = "correlation_id"
	// FieldEventType classifies a log line for filtering ("analyzer_failed", "job_stopped").
	FieldEventType = "event_type"
	// FieldErrorHint carries the operator's next step for a warning or error.
	FieldErrorHint = "error_hint"
	// FieldImpact is the standardized key for the consequence of a warning.
	FieldImpact = "impact"
)

// ContextFields extracts standardized slog attributes from the provided context.
func ContextFields(ctx context.Context) []slog.Attr {
	if ctx == nil {
		return nil
	}
	fields := make([]slog.Attr, 0, 6)
	if id, ok := services.PatientIDFromContext(ctx); ok {
		fields = append(fields, slog.String(FieldPatientID, id))
	}
	if id, ok := services.SessionIDFromContext(ctx); ok {
		fields = append(fields, slog.String(FieldSessionID, id))
	}
	if id, ok := services.JobIDFromContext(ctx); ok {
		fields = append(fields, slog.String(FieldJobID, id))
	}
	if wave, ok := services.WaveFromContext(ctx); ok {
		fields = append(fields, slog.String(FieldWave, wave))
	}
	if name, ok := services.AnalyzerFromContext(ctx); ok {
		fields = append(fields, slog.String(FieldAnalyzer, name))
	}
	if rid, ok := services.RequestIDFromContext(ctx); ok {
		fields = append(fields, slog.String(FieldCorrelationID, rid))
	}
	return fields
}

// WithContext returns a logger augmented with structured fields derived from the supplied context.
func WithContext(ctx context.Context, logger *slog.Logger) *slog.Logger {
	if logger == nil {
		logger = NewNop()
	}
	fields := ContextFields(ctx)
	if len(fields) == 0 {
		return logger
	}
	args := make([]any, 0, len(fields))
	for _, f := range fields {
		args = append(args, f)
	}
	return logger.With(args...)
}
