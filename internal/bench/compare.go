package bench

import "time"

// Weights assign the share of each metric in the improvement score.
type Weights struct {
	TotalTime      float64 `json:"total_time"`
	SuccessRate    float64 `json:"success_rate"`
	P95Latency     float64 `json:"p95_latency"`
	CacheHitRate   float64 `json:"cache_hit_rate"`
	MeanConfidence float64 `json:"mean_confidence"`
}

// DefaultWeights favour wall time and success rate.
func DefaultWeights() Weights {
	return Weights{
		TotalTime:      0.40,
		SuccessRate:    0.20,
		P95Latency:     0.15,
		CacheHitRate:   0.15,
		MeanConfidence: 0.10,
	}
}

// Metric names used in comparisons.
const (
	MetricTotalTime      = "total_time"
	MetricSuccessRate    = "success_rate"
	MetricP95Latency     = "p95_latency"
	MetricCacheHitRate   = "cache_hit_rate"
	MetricMeanConfidence = "mean_confidence"
)

// Delta is the change of one metric between two records. Improvement is
// positive when the candidate is better, clamped to [-1, 1].
type Delta struct {
	Metric      string  `json:"metric"`
	Baseline    float64 `json:"baseline"`
	Candidate   float64 `json:"candidate"`
	Improvement float64 `json:"improvement"`
	Weight      float64 `json:"weight"`
}

// Comparison is the result of Compare.
type Comparison struct {
	BaselineID  string  `json:"baseline_id"`
	CandidateID string  `json:"candidate_id"`
	Deltas      []Delta `json:"deltas"`
	Score       float64 `json:"score"`
	Tolerance   float64 `json:"tolerance"`
	Regression  bool    `json:"regression"`
}

// Compare scores candidate against baseline. A weighted score below
// -tolerance is a regression.
func Compare(baseline, candidate Record, w Weights, tolerance float64) Comparison {
	if tolerance < 0 {
		tolerance = -tolerance
	}
	deltas := []Delta{
		lowerIsBetter(MetricTotalTime, seconds(baseline.TotalTime), seconds(candidate.TotalTime), w.TotalTime),
		higherIsBetter(MetricSuccessRate, baseline.SuccessRate, candidate.SuccessRate, w.SuccessRate),
		lowerIsBetter(MetricP95Latency, seconds(baseline.Latency.P95), seconds(candidate.Latency.P95), w.P95Latency),
		higherIsBetter(MetricCacheHitRate, baseline.CacheHitRate, candidate.CacheHitRate, w.CacheHitRate),
		higherIsBetter(MetricMeanConfidence, baseline.MeanConf, candidate.MeanConf, w.MeanConfidence),
	}
	var score, total float64
	for _, d := range deltas {
		score += d.Improvement * d.Weight
		total += d.Weight
	}
	if total > 0 {
		score /= total
	}
	return Comparison{
		BaselineID:  baseline.ID,
		CandidateID: candidate.ID,
		Deltas:      deltas,
		Score:       score,
		Tolerance:   tolerance,
		Regression:  score < -tolerance,
	}
}

func seconds(d time.Duration) float64 {
	return d.Seconds()
}

func lowerIsBetter(metric string, base, cand, weight float64) Delta {
	d := Delta{Metric: metric, Baseline: base, Candidate: cand, Weight: weight}
	switch {
	case base == cand:
	case base == 0:
		d.Improvement = -1
	default:
		d.Improvement = clamp((base - cand) / base)
	}
	return d
}

func higherIsBetter(metric string, base, cand, weight float64) Delta {
	d := Delta{Metric: metric, Baseline: base, Candidate: cand, Weight: weight}
	switch {
	case base == cand:
	case base == 0:
		d.Improvement = 1
	default:
		d.Improvement = clamp((cand - base) / base)
	}
	return d
}

func clamp(v float64) float64 {
	if v > 1 {
		return 1
	}
	if v < -1 {
		return -1
	}
	return v
}
