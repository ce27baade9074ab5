package capture

import (
	"math"
	"sync"
	"time"
)

const (
	// rateWindow is the number of recent capture timestamps kept per session.
	rateWindow = 64

	// A stream is stable when the fps stddev is under 15% of the mean and
	// the mean jitter is under 20% of the expected interval.
	fpsStabilityThreshold    = 0.15
	jitterStabilityThreshold = 0.20
)

// RateStats describes the capture rate over the most recent frames.
type RateStats struct {
	Frames       int     // timestamps in the window
	FPSMean      float64 // frames over window span
	FPSStdDev    float64 // of instantaneous fps
	FPSMin       float64
	FPSMax       float64
	JitterMean   float64 // seconds away from the expected interval
	JitterStdDev float64
	JitterMax    float64
	Stable       bool
}

// rateTracker keeps a ring of capture timestamps. record runs on the
// producer; stats may run anywhere.
type rateTracker struct {
	mu    sync.Mutex
	times [rateWindow]time.Time
	next  int
	n     int
}

func (r *rateTracker) record(t time.Time) {
	r.mu.Lock()
	r.times[r.next] = t
	r.next = (r.next + 1) % rateWindow
	if r.n < rateWindow {
		r.n++
	}
	r.mu.Unlock()
}

func (r *rateTracker) stats() RateStats {
	r.mu.Lock()
	times := make([]time.Time, r.n)
	start := (r.next - r.n + rateWindow) % rateWindow
	for i := range times {
		times[i] = r.times[(start+i)%rateWindow]
	}
	r.mu.Unlock()
	return calculateRate(times)
}

// calculateRate computes fps and jitter statistics from ordered capture
// timestamps.
func calculateRate(times []time.Time) RateStats {
	st := RateStats{Frames: len(times)}
	if len(times) < 2 {
		return st
	}

	span := times[len(times)-1].Sub(times[0]).Seconds()
	if span <= 0 {
		return st
	}
	// n timestamps bound n-1 intervals.
	st.FPSMean = float64(len(times)-1) / span

	var instantaneous []float64
	for i := 1; i < len(times); i++ {
		interval := times[i].Sub(times[i-1]).Seconds()
		if interval > 0 {
			instantaneous = append(instantaneous, 1/interval)
		}
	}
	if len(instantaneous) == 0 {
		return st
	}

	st.FPSMin, st.FPSMax = instantaneous[0], instantaneous[0]
	var sumSquares float64
	for _, fps := range instantaneous {
		st.FPSMin = math.Min(st.FPSMin, fps)
		st.FPSMax = math.Max(st.FPSMax, fps)
		diff := fps - st.FPSMean
		sumSquares += diff * diff
	}
	st.FPSStdDev = math.Sqrt(sumSquares / float64(len(instantaneous)))

	expected := 1 / st.FPSMean
	jitters := make([]float64, 0, len(times)-1)
	var jitterSum float64
	for i := 1; i < len(times); i++ {
		j := math.Abs(times[i].Sub(times[i-1]).Seconds() - expected)
		jitters = append(jitters, j)
		jitterSum += j
		st.JitterMax = math.Max(st.JitterMax, j)
	}
	st.JitterMean = jitterSum / float64(len(jitters))

	var jitterSquares float64
	for _, j := range jitters {
		diff := j - st.JitterMean
		jitterSquares += diff * diff
	}
	st.JitterStdDev = math.Sqrt(jitterSquares / float64(len(jitters)))

	st.Stable = st.FPSStdDev < st.FPSMean*fpsStabilityThreshold &&
		st.JitterMean < expected*jitterStabilityThreshold
	return st
}
