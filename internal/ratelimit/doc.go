// Package ratelimit provides per-domain admission control for outbound lookups.
//
// Each domain owns a token bucket (golang.org/x/time/rate) plus failure
// bookkeeping. Acquire waits for a token when the wait is short, denies when
// it is not, and denies unconditionally while the domain is cooling down after
// rate-limit or server failures. Locks are held only while the bucket and
// cooldown fields are updated, never across a sleep.
package ratelimit
