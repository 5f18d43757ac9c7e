// Package services defines shared utilities consumed by the analysis pipeline
// and its external integrations.
//
// Key responsibilities:
//   - Context helpers that stamp patient IDs, session IDs, job IDs, wave and
//     analyzer names, and correlation identifiers for logging.
//   - Structured error markers plus the Wrap helper so callers can classify
//     failures (configuration vs transient vs malformed output) with errors.Is.
//
// Use these helpers when wiring new pipeline steps so operational behaviour
// (error handling, observability, retries) stays uniform across the pipeline.
package services
