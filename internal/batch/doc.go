// Package batch resolves ordered request lists on a long-lived worker pool.
//
// The Coordinator owns a fixed set of worker goroutines created once and
// reused by every Process call. Requests may be dispatched in a different
// order than they were given (see Orderer) but each result is written to the
// slot matching its input index, so output order always equals input order.
// Cancelling a batch stops new dispatches; work already handed to a worker
// runs to completion.
package batch
