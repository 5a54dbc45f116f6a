package risk

import (
	"math"
)

// rollingWindow is the sample count for the short-horizon volatility.
const rollingWindow = 20

// volOfVolWindow is the sub-window used when sliding short-window
// volatilities for the vol-of-vol estimate.
const volOfVolWindow = 10

// historicalVolatility annualizes the stdev of log returns given the
// sampling cadence in periods per year.
func historicalVolatility(returns []float64, periodsPerYear float64) float64 {
	if len(returns) < 2 {
		return 0
	}
	return stddev(returns) * math.Sqrt(periodsPerYear)
}

// rollingVolatility restricts the estimate to the most recent window.
func rollingVolatility(returns []float64, periodsPerYear float64) float64 {
	if len(returns) > rollingWindow {
		returns = returns[len(returns)-rollingWindow:]
	}
	return historicalVolatility(returns, periodsPerYear)
}

// GARCHState is the persistent per-asset GARCH(1,1) state: the one
// stateful, path-dependent model in the bundle. Updates must be fed in
// timestamp order.
type GARCHState struct {
	Omega    float64
	Alpha    float64
	Beta     float64
	Variance float64
	updates  int
}

// DefaultGARCH returns a state with conventional crypto parameters.
// Long-run variance is omega/(1-alpha-beta).
func DefaultGARCH() *GARCHState {
	omega, alpha, beta := 0.000002, 0.10, 0.85
	return &GARCHState{
		Omega:    omega,
		Alpha:    alpha,
		Beta:     beta,
		Variance: omega / (1 - alpha - beta),
	}
}

// Update feeds one new return: variance <- omega + alpha*r^2 + beta*variance.
func (g *GARCHState) Update(r float64) {
	g.Variance = g.Omega + g.Alpha*r*r + g.Beta*g.Variance
	g.updates++
}

// Volatility reports the annualized conditional volatility.
func (g *GARCHState) Volatility(periodsPerYear float64) float64 {
	if g.Variance <= 0 {
		return 0
	}
	return math.Sqrt(g.Variance * periodsPerYear)
}

// LongRunVolatility reports the annualized unconditional volatility the
// process converges to on a quiet series.
func (g *GARCHState) LongRunVolatility(periodsPerYear float64) float64 {
	persistence := g.Alpha + g.Beta
	if persistence >= 1 {
		return math.Inf(1)
	}
	return math.Sqrt(g.Omega / (1 - persistence) * periodsPerYear)
}

// parkinsonVolatility estimates volatility from high/low ranges only:
// sqrt(mean(ln(high/low)^2) / (4 ln 2) * periodsPerYear).
func parkinsonVolatility(samples []Sample, periodsPerYear float64) float64 {
	var sum float64
	var n int
	for _, s := range samples {
		if s.High <= 0 || s.Low <= 0 || s.High < s.Low {
			continue
		}
		r := math.Log(s.High / s.Low)
		sum += r * r
		n++
	}
	if n == 0 {
		return 0
	}
	return math.Sqrt(sum / float64(n) / (4 * math.Ln2) * periodsPerYear)
}

// garmanKlassVolatility combines OHLC for a tighter estimator than
// Parkinson: 0.5*ln(H/L)^2 - (2 ln 2 - 1)*ln(C/O)^2 per sample.
func garmanKlassVolatility(samples []Sample, periodsPerYear float64) float64 {
	var sum float64
	var n int
	for _, s := range samples {
		if s.High <= 0 || s.Low <= 0 || s.Open <= 0 || s.Close <= 0 || s.High < s.Low {
			continue
		}
		hl := math.Log(s.High / s.Low)
		co := math.Log(s.Close / s.Open)
		term := 0.5*hl*hl - (2*math.Ln2-1)*co*co
		if term < 0 {
			term = 0
		}
		sum += term
		n++
	}
	if n == 0 {
		return 0
	}
	return math.Sqrt(sum / float64(n) * periodsPerYear)
}

// volOfVol is the stdev of a sliding series of short-window volatilities.
func volOfVol(returns []float64, periodsPerYear float64) float64 {
	if len(returns) < volOfVolWindow+2 {
		return 0
	}
	vols := make([]float64, 0, len(returns)-volOfVolWindow+1)
	for i := volOfVolWindow; i <= len(returns); i++ {
		window := returns[i-volOfVolWindow : i]
		vols = append(vols, historicalVolatility(window, periodsPerYear))
	}
	return stddev(vols)
}
