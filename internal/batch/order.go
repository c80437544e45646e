package batch

import (
	"context"
	"log/slog"
	"sort"

	"asinresolve/internal/config"
	"asinresolve/internal/logging"
	"asinresolve/internal/lookup"
)

// Orderer decides dispatch order. Order returns a permutation of the indexes
// of reqs.
type Orderer interface {
	Order(ctx context.Context, reqs []lookup.Request) []int
}

// InputOrder dispatches requests as given.
type InputOrder struct{}

// Order returns 0..len(reqs)-1.
func (InputOrder) Order(_ context.Context, reqs []lookup.Request) []int {
	return identity(len(reqs))
}

// Probe answers cheap cache questions used for ordering.
type Probe interface {
	Contains(ctx context.Context, key string) (bool, error)
	KnownAuthors(ctx context.Context, authors []string) (map[string]bool, error)
}

// CacheLikelihood dispatches requests most likely to be cache hits first:
// cached keys, then requests with an ISBN, then authors already in the cache.
// Ties keep input order.
type CacheLikelihood struct {
	Probe   Probe
	Weights config.OrderWeights
	Logger  *slog.Logger
}

// Order ranks reqs by weighted cache likelihood.
func (c CacheLikelihood) Order(ctx context.Context, reqs []lookup.Request) []int {
	order := identity(len(reqs))
	if c.Probe == nil || len(reqs) < 2 {
		return order
	}
	logger := logging.NewComponentLogger(c.Logger, "batch")

	authors := make([]string, 0, len(reqs))
	for _, req := range reqs {
		if req.HasAuthor() {
			authors = append(authors, req.Author)
		}
	}
	known, err := c.Probe.KnownAuthors(ctx, authors)
	if err != nil {
		logger.Debug("known author probe failed", logging.Error(err))
	}

	scores := make([]float64, len(reqs))
	for i, req := range reqs {
		cached, err := c.Probe.Contains(ctx, lookup.Key(req))
		if err != nil {
			logger.Debug("cache probe failed", logging.Error(err))
		}
		if cached {
			scores[i] += c.Weights.Cached
		}
		if req.HasISBN() {
			scores[i] += c.Weights.ISBN
		}
		if known[lookup.NormalizeAuthor(req.Author)] {
			scores[i] += c.Weights.KnownAuthor
		}
	}
	sort.SliceStable(order, func(a, b int) bool {
		return scores[order[a]] > scores[order[b]]
	})
	return order
}

func identity(n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = i
	}
	return out
}

// validPermutation guards against Orderer implementations that drop or
// duplicate indexes.
func validPermutation(order []int, n int) bool {
	if len(order) != n {
		return false
	}
	seen := make([]bool, n)
	for _, idx := range order {
		if idx < 0 || idx >= n || seen[idx] {
			return false
		}
		seen[idx] = true
	}
	return true
}
