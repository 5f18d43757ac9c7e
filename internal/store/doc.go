// Package store persists therapy sessions, demo accounts, and background job
// records in SQLite (modernc.org/sqlite) or Postgres (lib/pq).
//
// The session table is the single source of truth for analysis progress: each
// analyzer owns a disjoint set of nullable columns and fills them exactly once,
// and status reads derive completion from which columns are populated. Wave 2
// updates refuse to write while any Wave 1 column is still null, so a row can
// never show deep analysis without the Wave 1 results it was built from.
//
// The jobs table is the durable registry of detached pipeline processes. It
// records each job's process group so any process (API server, CLI, a restarted
// server) can stop or reconcile work it did not launch.
//
// Queries are written with "?" placeholders and rebound to "$N" for Postgres.
// Schema changes go in a new numbered file under migrations/.
package store
