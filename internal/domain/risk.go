package domain

// RiskLevel is the categorical severity of a position's risk picture.
type RiskLevel string

const (
	RiskLow      RiskLevel = "LOW"
	RiskMedium   RiskLevel = "MEDIUM"
	RiskHigh     RiskLevel = "HIGH"
	RiskCritical RiskLevel = "CRITICAL"
)

// String returns the string representation of RiskLevel.
func (r RiskLevel) String() string {
	return string(r)
}

// VolatilityBundle groups the volatility estimators computed over one
// asset's rolling history. All values are annualized fractions.
type VolatilityBundle struct {
	Historical  float64 // stdev of log returns over full history
	Rolling     float64 // same, restricted to the most recent window
	GARCH       float64 // GARCH(1,1) conditional volatility
	Parkinson   float64 // high/low range estimator
	GarmanKlass float64 // OHLC estimator
	VolOfVol    float64 // stdev of sliding short-window volatilities
}

// MovingAverages groups moving-average style overlays.
type MovingAverages struct {
	SMA20          float64
	SMA50          float64
	EMA12          float64
	EMA26          float64
	VolumeWeighted float64
	BollingerUpper float64
	BollingerMid   float64
	BollingerLower float64
}

// Indicators groups momentum/oscillator readings. When history is shorter
// than an indicator's window the neutral midpoint is reported; callers must
// not treat neutral defaults as signal.
type Indicators struct {
	RSI         float64 // Wilder, 14 samples, neutral 50
	MACD        float64
	MACDSignal  float64
	MACDHist    float64
	StochasticK float64 // neutral 50
	StochasticD float64
	ATR         float64
}

// RiskScore is the derived, per-cycle risk picture for one position.
// Ephemeral: recomputed every cycle, never cached across cycles.
type RiskScore struct {
	PositionID      string
	HealthFactor    float64
	Level           RiskLevel
	CollateralRatio float64

	Volatility VolatilityBundle
	MAs        MovingAverages
	Technical  Indicators

	// LiquidationPrice is the dominant-collateral price at which the
	// position becomes liquidatable, 0 when not derivable.
	LiquidationPrice float64
	// DistanceToLiquidation is the percentage price drop still required
	// before LiquidationPrice is reached.
	DistanceToLiquidation float64

	// Score is the blended risk score in [0,1].
	Score float64

	ComputedAt int64 // Unix milliseconds
}

// PredictionFeatures is the feature bundle backing a prediction.
type PredictionFeatures struct {
	PriceVelocity  float64 // recent log-return per sample
	VolumeProfile  float64 // current volume over trailing average
	Correlation    float64 // proxy correlation to the broad market
	Momentum       float64 // momentum severity in [-1,1]
	LiquidityScore float64 // 0 poor .. 1 deep
	Sentiment      float64 // sentiment proxy in [-1,1]
}

// LiquidationPrediction is the forward-looking liquidation estimate for one
// position. Ephemeral, recomputed on demand.
type LiquidationPrediction struct {
	PositionID string

	// Probability is the blended liquidation probability, capped at 0.98.
	Probability float64
	// Probability30m reacts faster to short-horizon stress, capped at 0.99.
	Probability30m float64
	// ProbabilityHourly is the slower hourly variant, capped at 0.95.
	ProbabilityHourly float64

	// MinutesToLiquidation is +Inf when liquidation is not imminent.
	MinutesToLiquidation float64

	// Confidence in [0,1], scaled by available history depth.
	Confidence float64

	// Factors lists human-readable contributing factors, strongest first.
	Factors []string

	Features PredictionFeatures

	ComputedAt int64 // Unix milliseconds
}
