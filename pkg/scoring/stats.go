package scoring

import (
	"math"
	"sort"
	"time"
)

// sizePattern summarises position sizes (SOL spent per mint).
type sizePattern struct {
	Min, Max, Mean, Median, StdDev float64
	SampleCount                    int
}

func buildSizePattern(amounts []float64) sizePattern {
	if len(amounts) == 0 {
		return sizePattern{}
	}
	sorted := append([]float64(nil), amounts...)
	sort.Float64s(sorted)
	n := len(sorted)
	return sizePattern{
		Min:         sorted[0],
		Max:         sorted[n-1],
		Mean:        avg(sorted),
		Median:      median(sorted),
		StdDev:      stddev(sorted),
		SampleCount: n,
	}
}

// CV is the coefficient of variation; 0 for fewer than two samples.
func (p sizePattern) CV() float64 {
	if p.SampleCount < 2 || p.Mean <= 0 {
		return 0
	}
	return p.StdDev / p.Mean
}

func avg(v []float64) float64 {
	if len(v) == 0 {
		return 0
	}
	s := 0.0
	for _, x := range v {
		s += x
	}
	return s / float64(len(v))
}

// median expects sorted input.
func median(sorted []float64) float64 {
	n := len(sorted)
	if n == 0 {
		return 0
	}
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}

func stddev(v []float64) float64 {
	if len(v) == 0 {
		return 0
	}
	m := avg(v)
	sumSq := 0.0
	for _, x := range v {
		sumSq += (x - m) * (x - m)
	}
	return math.Sqrt(sumSq / float64(len(v)))
}

func medianDuration(d []time.Duration) time.Duration {
	if len(d) == 0 {
		return 0
	}
	sorted := append([]time.Duration(nil), d...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	n := len(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}

func avgDuration(d []time.Duration) time.Duration {
	if len(d) == 0 {
		return 0
	}
	var s time.Duration
	for _, x := range d {
		s += x
	}
	return s / time.Duration(len(d))
}

func safeRatio(n, t int) float64 {
	if t == 0 {
		return 0
	}
	return float64(n) / float64(t)
}

func clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return lo
	}
	return math.Max(lo, math.Min(hi, v))
}

// percentileOf places d among sorted benchmark durations, interpolating on a
// log scale between neighbours. Result in [0,1], non-decreasing in d.
func percentileOf(d time.Duration, benchmarks []time.Duration) float64 {
	n := len(benchmarks)
	if n == 0 || d <= 0 {
		return 0
	}
	if d <= benchmarks[0] {
		return float64(d) / float64(benchmarks[0]) / float64(n)
	}
	if d >= benchmarks[n-1] {
		return 1
	}
	for i := 1; i < n; i++ {
		if d > benchmarks[i] {
			continue
		}
		lo, hi := math.Log(float64(benchmarks[i-1])), math.Log(float64(benchmarks[i]))
		frac := (math.Log(float64(d)) - lo) / (hi - lo)
		return (float64(i) + frac) / float64(n)
	}
	return 1
}
