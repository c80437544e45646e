// Package scoring turns a source candidate into a normalized confidence score.
package scoring

import (
	"fmt"
	"strings"

	"asinresolve/internal/config"
	"asinresolve/internal/lookup"
	"asinresolve/internal/services"
)

// Policy is the scoring configuration.
type Policy struct {
	Reliability          map[string]float64
	DefaultReliability   float64
	ExactIdentifierBonus float64
	TitleAuthorBonus     float64
	Threshold            float64
}

// PolicyFromConfig extracts the scoring policy from application config.
func PolicyFromConfig(cfg *config.Config) Policy {
	reliability := make(map[string]float64, len(cfg.Scoring.Reliability))
	for name, value := range cfg.Scoring.Reliability {
		reliability[strings.ToLower(strings.TrimSpace(name))] = value
	}
	return Policy{
		Reliability:          reliability,
		DefaultReliability:   cfg.Scoring.DefaultReliability,
		ExactIdentifierBonus: cfg.Scoring.ExactIdentifierBonus,
		TitleAuthorBonus:     cfg.Scoring.TitleAuthorBonus,
		Threshold:            cfg.Resolver.ConfidenceThreshold,
	}
}

// Scorer applies a Policy. It holds no mutable state.
type Scorer struct {
	policy Policy
}

// New validates policy and returns a Scorer.
func New(policy Policy) (*Scorer, error) {
	check := func(name string, v float64) error {
		if v < 0 || v > 1 {
			return services.Wrap(services.ErrConfiguration, "scoring", "validate",
				fmt.Sprintf("%s must be within [0,1], got %v", name, v), nil)
		}
		return nil
	}
	if err := check("default_reliability", policy.DefaultReliability); err != nil {
		return nil, err
	}
	if err := check("exact_identifier_bonus", policy.ExactIdentifierBonus); err != nil {
		return nil, err
	}
	if err := check("title_author_bonus", policy.TitleAuthorBonus); err != nil {
		return nil, err
	}
	if err := check("confidence_threshold", policy.Threshold); err != nil {
		return nil, err
	}
	table := make(map[string]float64, len(policy.Reliability))
	for name, value := range policy.Reliability {
		if err := check("reliability."+name, value); err != nil {
			return nil, err
		}
		table[strings.ToLower(strings.TrimSpace(name))] = value
	}
	policy.Reliability = table
	return &Scorer{policy: policy}, nil
}

// Threshold is the score at which resolution stops trying further sources.
func (s *Scorer) Threshold() float64 {
	return s.policy.Threshold
}

// Reliability returns the configured weight for source.
func (s *Scorer) Reliability(source string) float64 {
	if v, ok := s.policy.Reliability[strings.ToLower(strings.TrimSpace(source))]; ok {
		return v
	}
	return s.policy.DefaultReliability
}

// Score computes clamp(reliability * confidence + bonus) for a candidate.
// Candidates with a malformed identifier score 0. A candidate confidence of
// zero means the source did not report one.
func (s *Scorer) Score(source string, candidate lookup.Candidate, req lookup.Request) float64 {
	if !lookup.ValidIdentifier(candidate.Identifier) {
		return 0
	}
	confidence := candidate.Confidence
	if confidence <= 0 {
		confidence = 1
	}
	return clamp01(s.Reliability(source)*clamp01(confidence) + s.queryBonus(candidate, req))
}

// Accepts reports whether score meets the early termination threshold.
func (s *Scorer) Accepts(score float64) bool {
	return score >= s.policy.Threshold
}

func (s *Scorer) queryBonus(candidate lookup.Candidate, req lookup.Request) float64 {
	switch {
	case req.HasISBN() && candidate.MatchedBy == lookup.MatchedByIdentifier:
		return s.policy.ExactIdentifierBonus
	case strings.TrimSpace(req.Title) != "" && req.HasAuthor():
		return s.policy.TitleAuthorBonus
	default:
		return 0
	}
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
