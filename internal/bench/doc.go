// Package bench measures resolution performance for a fixed scenario.
//
// A Harness runs the scenario through a Runner a number of untimed warm-up
// times and then a number of timed iterations, folding every result into a
// Record. Records are stored as JSON so a candidate run can be compared
// against a baseline with Compare, which flags regressions using a weighted
// improvement score.
package bench
