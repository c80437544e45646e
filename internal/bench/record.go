package bench

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"time"

	"asinresolve/internal/fileutil"
	"asinresolve/internal/lookup"
	"asinresolve/internal/textutil"
)

// HistogramBuckets is the number of confidence buckets, each 0.1 wide.
const HistogramBuckets = 10

// Latency holds per-request latency percentiles.
type Latency struct {
	P50 time.Duration `json:"p50_ns"`
	P90 time.Duration `json:"p90_ns"`
	P95 time.Duration `json:"p95_ns"`
	P99 time.Duration `json:"p99_ns"`
}

// Record is the measured outcome of one harness run.
type Record struct {
	ID            string                `json:"id"`
	Name          string                `json:"name"`
	StartedAt     time.Time             `json:"started_at"`
	Warmups       int                   `json:"warmups"`
	Iterations    int                   `json:"iterations"`
	Requests      int                   `json:"requests"`
	TotalTime     time.Duration         `json:"total_time_ns"`
	Latency       Latency               `json:"latency"`
	CacheHitRate  float64               `json:"cache_hit_rate"`
	SuccessRate   float64               `json:"success_rate"`
	SourceSuccess map[string]int        `json:"source_success"`
	Statuses      map[lookup.Status]int `json:"statuses"`
	Confidence    [HistogramBuckets]int `json:"confidence_histogram"`
	MeanConf      float64               `json:"mean_confidence"`
}

// accumulator folds results from every timed iteration.
type accumulator struct {
	latencies []time.Duration
	results   int
	cached    int
	found     int
	confSum   float64
	sources   map[string]int
	statuses  map[lookup.Status]int
	histogram [HistogramBuckets]int
}

func newAccumulator() *accumulator {
	return &accumulator{
		sources:  make(map[string]int),
		statuses: make(map[lookup.Status]int),
	}
}

func (a *accumulator) add(results []lookup.Result) {
	for _, res := range results {
		a.results++
		a.statuses[res.Status]++
		a.latencies = append(a.latencies, res.Elapsed)
		if res.Cached {
			a.cached++
		}
		if !res.Found() {
			continue
		}
		a.found++
		a.confSum += res.Confidence
		a.sources[res.Source]++
		a.histogram[bucketFor(res.Confidence)]++
	}
}

func (a *accumulator) fill(rec *Record) {
	sort.Slice(a.latencies, func(i, j int) bool { return a.latencies[i] < a.latencies[j] })
	rec.Latency = Latency{
		P50: percentile(a.latencies, 50),
		P90: percentile(a.latencies, 90),
		P95: percentile(a.latencies, 95),
		P99: percentile(a.latencies, 99),
	}
	rec.CacheHitRate = ratio(a.cached, a.results)
	rec.SuccessRate = ratio(a.found, a.results)
	rec.SourceSuccess = a.sources
	rec.Statuses = a.statuses
	rec.Confidence = a.histogram
	if a.found > 0 {
		rec.MeanConf = a.confSum / float64(a.found)
	}
}

func bucketFor(confidence float64) int {
	b := int(math.Floor(confidence * HistogramBuckets))
	if b < 0 {
		return 0
	}
	if b >= HistogramBuckets {
		return HistogramBuckets - 1
	}
	return b
}

// percentile uses the nearest-rank method on sorted values.
func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	rank := int(math.Ceil(p / 100 * float64(len(sorted))))
	if rank < 1 {
		rank = 1
	}
	if rank > len(sorted) {
		rank = len(sorted)
	}
	return sorted[rank-1]
}

func ratio(n, d int) float64 {
	if d == 0 {
		return 0
	}
	return float64(n) / float64(d)
}

// Save writes rec as indented JSON into dir and returns the file path.
func Save(dir string, rec Record) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create results dir: %w", err)
	}
	name := fmt.Sprintf("%s-%s.json", textutil.SanitizeToken(rec.Name), rec.StartedAt.UTC().Format("20060102T150405"))
	path := filepath.Join(dir, name)
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode record: %w", err)
	}
	if err := fileutil.WriteFileAtomic(path, append(data, '\n'), 0o644); err != nil {
		return "", fmt.Errorf("write record: %w", err)
	}
	return path, nil
}

// Load reads a record written by Save.
func Load(path string) (Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Record{}, fmt.Errorf("read record: %w", err)
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return Record{}, fmt.Errorf("decode record %s: %w", path, err)
	}
	return rec, nil
}
