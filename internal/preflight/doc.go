// Package preflight provides readiness checks for the directories, store,
// and external services TherapyBridge depends on.
//
// "therapybridge config check" prints every result; "serve" runs the same
// checks at startup and logs failures without refusing to start, since demo
// analysis degrades to pending sessions rather than failing outright.
package preflight
