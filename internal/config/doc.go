// Package config loads, normalizes, and validates TherapyBridge configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours environment fallbacks such as
// OPENAI_API_KEY and THERAPYBRIDGE_DATABASE_URL. The Config type centralizes
// every knob the API server, the background pipeline workers, and the CLI need.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, canonical log formats, and clear validation errors.
package config
