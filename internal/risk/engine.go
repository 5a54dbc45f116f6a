package risk

import (
	"math"
	"sync"
	"time"

	"go.uber.org/zap"

	"solana-liq-monitor/internal/decode"
	"solana-liq-monitor/internal/domain"
)

// Health-factor bands separating the categorical risk levels.
const (
	hfCriticalBand = 1.05
	hfHighBand     = 1.1
	hfMediumBand   = 1.3
)

// Config tunes the risk engine.
type Config struct {
	// PeriodsPerYear annualizes volatility given the sampling cadence.
	// Default assumes one sample per minute.
	PeriodsPerYear float64
	// LiquidationBonus is the assumed liquidator bonus when a protocol
	// does not supply one.
	LiquidationBonus float64
	Predictor        PredictorConfig
}

// DefaultConfig returns engine defaults.
func DefaultConfig() Config {
	return Config{
		PeriodsPerYear:   365 * 24 * 60,
		LiquidationBonus: 0.05,
		Predictor:        DefaultPredictorConfig(),
	}
}

// Engine owns per-asset rolling histories and GARCH states, and derives
// risk snapshots and liquidation forecasts for positions.
type Engine struct {
	cfg Config
	log *zap.SugaredLogger

	mu        sync.RWMutex
	histories map[string]*History
	garch     map[string]*GARCHState

	clock func() time.Time
}

// NewEngine creates a risk engine.
func NewEngine(cfg Config, log *zap.SugaredLogger) *Engine {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	if cfg.PeriodsPerYear == 0 {
		cfg.PeriodsPerYear = DefaultConfig().PeriodsPerYear
	}
	if cfg.LiquidationBonus == 0 {
		cfg.LiquidationBonus = DefaultConfig().LiquidationBonus
	}
	return &Engine{
		cfg:       cfg,
		log:       log.Named("risk"),
		histories: make(map[string]*History),
		garch:     make(map[string]*GARCHState),
		clock:     time.Now,
	}
}

// SetClock injects a clock for tests.
func (e *Engine) SetClock(now func() time.Time) {
	e.clock = now
}

// RecordSample appends a price/volume observation to an asset's rolling
// history and advances its GARCH state. Samples must arrive in timestamp
// order; stale samples are dropped.
func (e *Engine) RecordSample(assetID string, s Sample) {
	e.mu.Lock()
	hist, ok := e.histories[assetID]
	if !ok {
		hist = NewHistory()
		e.histories[assetID] = hist
	}
	g, ok := e.garch[assetID]
	if !ok {
		g = DefaultGARCH()
		e.garch[assetID] = g
	}
	e.mu.Unlock()

	prev, hadPrev := hist.Last()
	if !hist.Append(s) {
		return
	}
	if hadPrev && prev.Close > 0 && s.Close > 0 {
		g.Update(math.Log(s.Close / prev.Close))
	}
}

// HistoryLen reports the recorded depth for an asset.
func (e *Engine) HistoryLen(assetID string) int {
	e.mu.RLock()
	hist := e.histories[assetID]
	e.mu.RUnlock()
	if hist == nil {
		return 0
	}
	return hist.Len()
}

func (e *Engine) assetState(assetID string) ([]Sample, *GARCHState) {
	e.mu.RLock()
	hist := e.histories[assetID]
	g := e.garch[assetID]
	e.mu.RUnlock()

	var samples []Sample
	if hist != nil {
		samples = hist.Snapshot()
	}
	return samples, g
}

// riskLevel maps a health factor onto the categorical bands.
func riskLevel(hf float64) domain.RiskLevel {
	switch {
	case hf < hfCriticalBand:
		return domain.RiskCritical
	case hf < hfHighBand:
		return domain.RiskHigh
	case hf < hfMediumBand:
		return domain.RiskMedium
	default:
		return domain.RiskLow
	}
}

// Score computes the full risk snapshot for one position. Pure with respect
// to the position; history state is read-only here.
func (e *Engine) Score(pos *domain.Position) *domain.RiskScore {
	assetID := scoreAsset(pos)
	samples, g := e.assetState(assetID)
	returns := logReturns(samples)
	ppy := e.cfg.PeriodsPerYear

	vol := domain.VolatilityBundle{
		Historical:  historicalVolatility(returns, ppy),
		Rolling:     rollingVolatility(returns, ppy),
		Parkinson:   parkinsonVolatility(samples, ppy),
		GarmanKlass: garmanKlassVolatility(samples, ppy),
		VolOfVol:    volOfVol(returns, ppy),
	}
	if g != nil {
		vol.GARCH = g.Volatility(ppy)
	}

	score := &domain.RiskScore{
		PositionID:      pos.ID,
		HealthFactor:    pos.HealthFactor,
		Level:           riskLevel(pos.HealthFactor),
		CollateralRatio: pos.CollateralRatio(),
		Volatility:      vol,
		MAs:             computeMAs(samples),
		Technical:       computeIndicators(samples),
		ComputedAt:      e.clock().UnixMilli(),
	}

	score.LiquidationPrice = decode.LiquidationPriceFor(pos, e.cfg.LiquidationBonus)
	if dom := pos.DominantCollateral(); dom != nil && dom.PriceUSD > 0 && score.LiquidationPrice > 0 {
		score.DistanceToLiquidation = (dom.PriceUSD - score.LiquidationPrice) / dom.PriceUSD * 100
	}

	score.Score = e.blendScore(pos, score)
	return score
}

// blendScore folds health, volatility and momentum into one [0,1] score.
func (e *Engine) blendScore(pos *domain.Position, s *domain.RiskScore) float64 {
	// Health proximity: 1.0 at HF<=1, decaying toward 0 at HF>=2.
	healthTerm := 0.0
	if !math.IsInf(pos.HealthFactor, 1) {
		healthTerm = clamp01(2 - pos.HealthFactor)
	}

	// Normalized volatility: 150% annualized maps to 1.
	volTerm := clamp01(s.Volatility.Rolling / 1.5)

	// Momentum: oversold RSI pushes the score up.
	momentumTerm := clamp01((neutralRSI - s.Technical.RSI) / neutralRSI)

	blended := 0.6*healthTerm + 0.25*volTerm + 0.15*momentumTerm
	return clamp01(blended)
}

// scoreAsset picks the history series backing a position's market risk:
// the dominant collateral asset, falling back to the first debt asset.
func scoreAsset(pos *domain.Position) string {
	if dom := pos.DominantCollateral(); dom != nil {
		return dom.Mint
	}
	if len(pos.Debt) > 0 {
		return pos.Debt[0].Mint
	}
	return ""
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
