// Package main is the asinresolve command.
//
// Subcommands resolve single requests and CSV/JSONL batch files, inspect and
// maintain the lookup cache, show per-domain rate limit state, run and compare
// benchmarks, check the environment (doctor), manage the configuration file
// and send a test notification. Configuration, the logger and the engine are
// built lazily by commandContext on first use, so commands that do not need
// them (config init, bench show) never touch the config file.
package main
