// Package notifications publishes batch and benchmark events to ntfy.
//
// NewService returns a no-op implementation when no topic is configured, so
// callers can notify unconditionally.
package notifications
