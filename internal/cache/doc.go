// Package cache persists resolved identifiers in a single SQLite file.
//
// Entries are keyed by the normalized request hash from package lookup and
// carry their own expiry, so low-confidence and negative results can live for
// less time than confident hits. Expired rows are never returned even if no
// sweep has run. A small in-process LRU fronts the database for hot keys.
//
// The store recovers from a corrupt database file by moving it aside and
// starting empty; callers observe misses, never a crash. MigrateFrom imports
// the legacy flat JSON key/value file once, behind a file lock.
package cache
