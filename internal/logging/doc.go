// Package logging builds the slog loggers used by the resolver.
//
// Two handlers are available: a console handler that renders a header line
// followed by the most useful fields of the record, and a JSON handler that
// writes one object per line. Request-scoped values (batch ID, batch index,
// request ID, source) travel on the context and are attached with
// WithContext, so lines from concurrent batch workers stay attributable.
package logging
