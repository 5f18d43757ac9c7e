// Package logging assembles structured slog loggers and formatting helpers used
// across TherapyBridge processes.
//
// It owns the configurable console/JSON handlers, centralizes level and output
// plumbing, and exposes context-aware helpers so pipeline code can tag log
// lines with patient IDs, session IDs, waves, analyzers, and job IDs. The
// package also provides a no-op logger for tests and wiring code that cannot
// fail.
//
// Prefer these constructors over hand-rolled slog setup so the API server and
// the detached pipeline workers emit data with the same shape.
package logging
