// Package notifications pushes pipeline milestones to ntfy.
//
// NewService returns a no-op notifier when no topic is configured, so the
// pipeline supervisor can publish unconditionally. The completion and errors
// switches in [notifications] suppress individual event families.
package notifications
