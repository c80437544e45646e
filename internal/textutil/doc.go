// Package textutil provides title fingerprints for fuzzy matching and
// filesystem-safe name tokens.
//
// Fingerprints are term-frequency vectors over folded, NFKC-normalized
// tokens. A Corpus collected from a catalog supplies IDF weights so common
// words such as "the" contribute little to similarity.
package textutil
