// Package engine wires the cache, rate limiter, scorer, orchestrator and
// batch coordinator into a single handle.
//
// ResolveOne and ResolveBatch are the two entry points for callers. An
// Engine is built once from a *config.Config and owns every resource it
// opens; Close releases them.
package engine
