package batch

// progressSampler limits "batch progress" log lines to one per bucket of
// completion percentage. The final completion is always logged once.
// It is owned by the single progress reporter goroutine.
type progressSampler struct {
	bucketPercent float64
	last          int
}

func newProgressSampler(bucketPercent float64) *progressSampler {
	if bucketPercent <= 0 {
		bucketPercent = 10
	}
	return &progressSampler{bucketPercent: bucketPercent, last: -1}
}

func (s *progressSampler) shouldLog(completed, total int) bool {
	if total <= 0 {
		return true
	}
	bucket := int(float64(completed) / float64(total) * 100 / s.bucketPercent)
	if completed >= total {
		bucket = int(100/s.bucketPercent) + 1
	}
	if bucket <= s.last {
		return false
	}
	s.last = bucket
	return true
}
