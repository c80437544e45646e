// Package preflight provides readiness checks for the paths, cache and
// lookup sources the resolver depends on.
//
// The CLI "doctor" command runs RunAll and renders each Result. Individual
// checks are exported so other commands can reuse them.
package preflight
