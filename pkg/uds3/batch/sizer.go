package batch

import (
	"sync"
	"time"
)

// sizer implements the adaptive batch-size control loop: exponentially
// smoothed throughput/latency/error-rate metrics, nudged toward
// settings.LatencyTargetMs on each control tick.
type sizer struct {
	mu sync.Mutex

	b        int
	settings Settings
	observed bool

	throughputIPS     float64
	avgBatchLatencyMs float64
	errorRate         float64
}

const emaAlpha = 0.3

func newSizer(settings Settings) *sizer {
	return &sizer{b: settings.BMin, settings: settings}
}

// recordFlush folds one completed batch's outcome into the smoothed
// metrics the next control tick reads.
func (s *sizer) recordFlush(itemCount int, latency time.Duration, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	latencyMs := float64(latency.Milliseconds())
	errSample := 0.0
	if err != nil {
		errSample = 1.0
	}
	ipsSample := 0.0
	if latency > 0 {
		ipsSample = float64(itemCount) / latency.Seconds()
	}

	if !s.observed {
		s.throughputIPS, s.avgBatchLatencyMs, s.errorRate = ipsSample, latencyMs, errSample
		s.observed = true
		return
	}
	s.throughputIPS = ema(s.throughputIPS, ipsSample)
	s.avgBatchLatencyMs = ema(s.avgBatchLatencyMs, latencyMs)
	s.errorRate = ema(s.errorRate, errSample)
}

func ema(prev, sample float64) float64 {
	return emaAlpha*sample + (1-emaAlpha)*prev
}

// controlTick applies the sizing rule and returns the (possibly
// unchanged) target batch size B. A no-op until at least one batch has
// completed, since the smoothed metrics are meaningless before then.
func (s *sizer) controlTick() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.observed {
		return s.b
	}

	switch {
	case s.errorRate < 0.01 && s.avgBatchLatencyMs < float64(s.settings.LatencyTargetMs):
		s.b = growBy(s.b, s.settings.Growth, s.settings.BMax)
	case s.errorRate > 0.05 || s.avgBatchLatencyMs > 2*float64(s.settings.LatencyTargetMs):
		s.b = shrinkBy(s.b, s.settings.Shrink, s.settings.BMin)
	}
	return s.b
}

func (s *sizer) current() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.b
}

func growBy(b int, growth float64, max int) int {
	next := int(float64(b) * (1 + growth))
	if next <= b {
		next = b + 1
	}
	if next > max {
		next = max
	}
	return next
}

func shrinkBy(b int, shrink float64, min int) int {
	next := int(float64(b) * (1 - shrink))
	if next >= b {
		next = b - 1
	}
	if next < min {
		next = min
	}
	return next
}
