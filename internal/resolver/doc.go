// Package resolver runs the per-request resolution state machine.
//
// A request is first checked against the cache. On a miss, sources are tried
// in priority order: each attempt is admitted by the per-domain rate limiter,
// runs under its own timeout, and is scored. The first candidate that clears
// the confidence threshold ends the search; otherwise the best candidate seen
// is kept. Source failures, panics, and limiter denials are recorded on the
// result and never abort the request.
//
// Concurrent resolutions of the same normalized key share one source pass.
package resolver
