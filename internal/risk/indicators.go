package risk

import (
	"math"

	"github.com/markcheno/go-talib"

	"solana-liq-monitor/internal/domain"
)

// Indicator windows. History shorter than a window yields the neutral
// midpoint; callers must not treat neutral defaults as signal.
const (
	rsiPeriod      = 14
	macdFast       = 12
	macdSlow       = 26
	macdSignal     = 9
	stochPeriod    = 14
	stochDPeriod   = 3
	atrPeriod      = 14
	bollingerSpan  = 20
	bollingerWidth = 2.0
)

const (
	neutralRSI   = 50.0
	neutralStoch = 50.0
)

// computeIndicators derives the momentum/oscillator bundle via ta-lib.
func computeIndicators(samples []Sample) domain.Indicators {
	ind := domain.Indicators{
		RSI:         neutralRSI,
		StochasticK: neutralStoch,
		StochasticD: neutralStoch,
	}
	n := len(samples)
	if n == 0 {
		return ind
	}

	close := closes(samples)
	high := make([]float64, n)
	low := make([]float64, n)
	for i, s := range samples {
		high[i] = s.High
		low[i] = s.Low
	}

	if n > rsiPeriod {
		rsi := talib.Rsi(close, rsiPeriod)
		if v := rsi[n-1]; !math.IsNaN(v) && v != 0 {
			ind.RSI = v
		}
	}

	if n > macdSlow+macdSignal {
		macd, signal, hist := talib.Macd(close, macdFast, macdSlow, macdSignal)
		ind.MACD = lastFinite(macd)
		ind.MACDSignal = lastFinite(signal)
		ind.MACDHist = lastFinite(hist)
	}

	if n > stochPeriod+stochDPeriod {
		k, d := talib.Stoch(high, low, close, stochPeriod, stochDPeriod, talib.SMA, stochDPeriod, talib.SMA)
		if v := lastFinite(k); v != 0 {
			ind.StochasticK = v
		}
		if v := lastFinite(d); v != 0 {
			ind.StochasticD = v
		}
	}

	if n > atrPeriod {
		atr := talib.Atr(high, low, close, atrPeriod)
		ind.ATR = lastFinite(atr)
	}

	return ind
}

// computeMAs derives the moving-average bundle. Windows exceeding the
// history fall back to the latest close, a flat, signal-free overlay.
func computeMAs(samples []Sample) domain.MovingAverages {
	n := len(samples)
	if n == 0 {
		return domain.MovingAverages{}
	}
	close := closes(samples)
	last := close[n-1]

	ma := domain.MovingAverages{
		SMA20:          last,
		SMA50:          last,
		EMA12:          last,
		EMA26:          last,
		VolumeWeighted: last,
		BollingerUpper: last,
		BollingerMid:   last,
		BollingerLower: last,
	}

	if n >= 20 {
		ma.SMA20 = lastFinite(talib.Sma(close, 20))
	}
	if n >= 50 {
		ma.SMA50 = lastFinite(talib.Sma(close, 50))
	}
	if n >= macdFast {
		ma.EMA12 = lastFinite(talib.Ema(close, macdFast))
	}
	if n >= macdSlow {
		ma.EMA26 = lastFinite(talib.Ema(close, macdSlow))
	}
	if n >= bollingerSpan {
		upper, mid, lower := talib.BBands(close, bollingerSpan, bollingerWidth, bollingerWidth, talib.SMA)
		ma.BollingerUpper = lastFinite(upper)
		ma.BollingerMid = lastFinite(mid)
		ma.BollingerLower = lastFinite(lower)
	}

	if vwma := volumeWeightedMA(samples, 20); vwma > 0 {
		ma.VolumeWeighted = vwma
	}

	return ma
}

// volumeWeightedMA averages close prices weighted by volume over the most
// recent window; 0 when no volume was recorded.
func volumeWeightedMA(samples []Sample, window int) float64 {
	if len(samples) > window {
		samples = samples[len(samples)-window:]
	}
	var priceVolume, volume float64
	for _, s := range samples {
		priceVolume += s.Close * s.Volume
		volume += s.Volume
	}
	if volume == 0 {
		return 0
	}
	return priceVolume / volume
}

// lastFinite returns the last non-NaN value of a series, 0 when none.
func lastFinite(series []float64) float64 {
	for i := len(series) - 1; i >= 0; i-- {
		if !math.IsNaN(series[i]) {
			return series[i]
		}
	}
	return 0
}
