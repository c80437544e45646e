// Package services defines shared utilities consumed by the resolution
// pipeline and the lookup source adapters.
//
// Key responsibilities:
//   - Context helpers that stamp request IDs, batch IDs, batch indexes, and
//     source names for logging and tracing.
//   - Structured error markers plus the Wrap helper so failures can be
//     classified (source failure, rate limited, cache corruption, fatal
//     configuration) without string matching.
//
// Use these helpers when wiring new resolution logic so operational behaviour
// (error handling, observability) stays uniform across the engine.
package services
