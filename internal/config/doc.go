// Package config loads, normalizes, and validates asinresolve configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours the ASINRESOLVE_CACHE_PATH
// environment override. The Config type centralizes every knob the engine and
// CLI need (per-domain rate limits, confidence threshold, cache TTLs, worker
// count, source priority) so the engine receives one value at construction
// and never consults global state.
//
// Validation failures wrap services.ErrConfiguration; they are the only errors
// the engine treats as fatal.
package config
