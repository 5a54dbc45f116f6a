// Package risk computes health metrics, volatility estimates, technical
// indicators and liquidation forecasts from position and price-history
// state.
package risk

import (
	"math"
	"sync"
)

// HistoryCap bounds the per-asset rolling history.
const HistoryCap = 100

// Sample is one price/volume observation. Samples must be recorded in
// timestamp order per asset.
type Sample struct {
	Timestamp int64 // Unix milliseconds
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
}

// PriceSample builds a flat sample where OHLC collapse to one price.
func PriceSample(ts int64, price, volume float64) Sample {
	return Sample{Timestamp: ts, Open: price, High: price, Low: price, Close: price, Volume: volume}
}

// History is a bounded, append-only rolling window of samples for one
// asset. Oldest samples are evicted past the cap.
type History struct {
	mu      sync.RWMutex
	samples []Sample
	cap     int
}

// NewHistory creates a history bounded at HistoryCap samples.
func NewHistory() *History {
	return &History{cap: HistoryCap}
}

// Append adds a sample, evicting the oldest when full. Out-of-order samples
// (timestamp not after the latest) are ignored to keep the series
// monotonic.
func (h *History) Append(s Sample) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if n := len(h.samples); n > 0 && s.Timestamp <= h.samples[n-1].Timestamp {
		return false
	}
	h.samples = append(h.samples, s)
	if len(h.samples) > h.cap {
		h.samples = h.samples[len(h.samples)-h.cap:]
	}
	return true
}

// Len returns the number of stored samples.
func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.samples)
}

// Snapshot returns a copy of the stored samples, oldest first.
func (h *History) Snapshot() []Sample {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]Sample, len(h.samples))
	copy(out, h.samples)
	return out
}

// Last returns the most recent sample, false when empty.
func (h *History) Last() (Sample, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if len(h.samples) == 0 {
		return Sample{}, false
	}
	return h.samples[len(h.samples)-1], true
}

// closes extracts close prices, oldest first.
func closes(samples []Sample) []float64 {
	out := make([]float64, len(samples))
	for i, s := range samples {
		out[i] = s.Close
	}
	return out
}

// logReturns computes ln(p_t / p_{t-1}) over the close series, skipping
// non-positive prices.
func logReturns(samples []Sample) []float64 {
	if len(samples) < 2 {
		return nil
	}
	out := make([]float64, 0, len(samples)-1)
	for i := 1; i < len(samples); i++ {
		prev, cur := samples[i-1].Close, samples[i].Close
		if prev <= 0 || cur <= 0 {
			continue
		}
		out = append(out, math.Log(cur/prev))
	}
	return out
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

func stddev(values []float64) float64 {
	if len(values) < 2 {
		return 0
	}
	m := mean(values)
	var sum float64
	for _, v := range values {
		d := v - m
		sum += d * d
	}
	return math.Sqrt(sum / float64(len(values)-1))
}
