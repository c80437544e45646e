package fixture

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"asinresolve/internal/lookup"
	"asinresolve/internal/textutil"
)

// DefaultMinSimilarity is the lowest title similarity reported as a match.
const DefaultMinSimilarity = 0.6

// Book is one catalog row.
type Book struct {
	Identifier string `json:"identifier"`
	Title      string `json:"title"`
	Author     string `json:"author,omitempty"`
	ISBN       string `json:"isbn,omitempty"`
}

type indexed struct {
	book   Book
	print  *textutil.Fingerprint
	author string
}

// Source answers lookups from an in-memory catalog.
type Source struct {
	name          string
	domain        string
	minSimilarity float64
	latency       time.Duration
	byISBN        map[string]Book
	books         []indexed
	idf           map[string]float64
}

// Option configures a Source.
type Option func(*Source)

// WithMinSimilarity overrides DefaultMinSimilarity.
func WithMinSimilarity(v float64) Option {
	return func(s *Source) {
		if v > 0 && v <= 1 {
			s.minSimilarity = v
		}
	}
}

// WithLatency delays every attempt, honouring ctx, to emulate a remote source.
func WithLatency(d time.Duration) Option {
	return func(s *Source) {
		s.latency = d
	}
}

// Load reads a JSON array of books from path.
func Load(name, domain, path string, opts ...Option) (*Source, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read fixture catalog: %w", err)
	}
	var books []Book
	if err := json.Unmarshal(data, &books); err != nil {
		return nil, fmt.Errorf("decode fixture catalog %s: %w", path, err)
	}
	return New(name, domain, books, opts...), nil
}

// New indexes books.
func New(name, domain string, books []Book, opts ...Option) *Source {
	s := &Source{
		name:          name,
		domain:        domain,
		minSimilarity: DefaultMinSimilarity,
		byISBN:        make(map[string]Book),
	}
	for _, opt := range opts {
		opt(s)
	}
	corpus := textutil.NewCorpus()
	for _, b := range books {
		b.Identifier = lookup.CanonicalIdentifier(b.Identifier)
		if isbn := lookup.NormalizeISBN(b.ISBN); isbn != "" {
			s.byISBN[isbn] = b
		}
		fp := textutil.NewFingerprint(b.Title)
		corpus.Add(fp)
		s.books = append(s.books, indexed{book: b, print: fp, author: lookup.NormalizeAuthor(b.Author)})
	}
	s.idf = corpus.IDF()
	for i := range s.books {
		s.books[i].print = s.books[i].print.Weighted(s.idf)
	}
	return s
}

// Name implements resolver.Source.
func (s *Source) Name() string { return s.name }

// Domain implements resolver.Source.
func (s *Source) Domain() string { return s.domain }

// Len returns the catalog size.
func (s *Source) Len() int { return len(s.books) }

// Attempt matches by ISBN first, then by weighted title similarity. A match
// whose author also agrees is reported as a title and author match.
func (s *Source) Attempt(ctx context.Context, req lookup.Request) (*lookup.Candidate, error) {
	if s.latency > 0 {
		timer := time.NewTimer(s.latency)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if isbn := lookup.NormalizeISBN(req.ISBN); isbn != "" {
		if b, ok := s.byISBN[isbn]; ok {
			return &lookup.Candidate{Identifier: b.Identifier, Confidence: 1, MatchedBy: lookup.MatchedByIdentifier}, nil
		}
	}

	query := textutil.NewFingerprint(req.Title).Weighted(s.idf)
	if query == nil {
		return nil, nil
	}
	author := lookup.NormalizeAuthor(req.Author)

	var (
		best      *indexed
		bestScore float64
	)
	for i := range s.books {
		b := &s.books[i]
		score := textutil.Similarity(query, b.print)
		if score < s.minSimilarity {
			continue
		}
		// Prefer an author match among equally similar titles.
		if score > bestScore || (score == bestScore && author != "" && b.author == author && best.author != author) {
			best, bestScore = b, score
		}
	}
	if best == nil {
		return nil, nil
	}
	matched := lookup.MatchedByTitle
	if author != "" && strings.EqualFold(best.author, author) {
		matched = lookup.MatchedByTitleAuthor
	}
	return &lookup.Candidate{Identifier: best.book.Identifier, Confidence: bestScore, MatchedBy: matched}, nil
}
