// Package sources builds lookup adapters from configuration.
//
// Two adapter types ship with the resolver: fixture, which answers from a
// local JSON catalog and is used for benchmarks and offline runs, and http,
// which queries a JSON lookup endpoint through an injected *http.Client.
package sources
