// Package lookup defines the request and result values that flow through the
// resolver, plus the normalization rules that turn a request into a cache key.
package lookup
