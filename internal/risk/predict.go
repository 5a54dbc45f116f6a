package risk

import (
	"math"
	"sort"

	"solana-liq-monitor/internal/domain"
)

// PredictorConfig names the empirically-tuned constants of the liquidation
// heuristic. They are policy, not physics: overridable, with defaults
// matching observed behavior on mainnet positions.
type PredictorConfig struct {
	// Base blend weights for the two sub-estimators.
	BaseHealthWeight float64
	BaseVolWeight    float64

	// Health-factor proximity bands (HF upper bounds) and contributions.
	HealthBandCritical float64
	HealthBandSevere   float64
	HealthBandElevated float64
	HealthAddCritical  float64
	HealthAddSevere    float64
	HealthAddElevated  float64

	// Volatility clustering: both GARCH and vol-of-vol above their
	// triggers adds VolClusterAdd.
	GARCHTrigger    float64
	VolOfVolTrigger float64
	VolClusterAdd   float64

	// Distance-to-liquidation bands (percent) and contributions.
	DistanceBands []float64
	DistanceAdds  []float64

	// Momentum.
	VelocityTrigger float64 // log-return per sample, negative
	MomentumAddMax  float64

	// Technical confluence.
	OversoldRSI      float64
	OversoldStoch    float64
	OversoldAdd      float64
	BelowBandAdd     float64
	BearishAlignAdd  float64
	VolumeSpikeRatio float64
	VolumeAdd        float64
	CorrelationTrig  float64
	CorrelationAdd   float64

	// Horizon multipliers: the 30-minute estimate reacts faster.
	Multiplier30m    float64
	MultiplierHourly float64

	// Probability caps.
	CapOverall float64
	Cap30m     float64
	CapHourly  float64

	// MinutesGate is the probability below which no time estimate is
	// attempted.
	MinutesGate float64
	// Imminent30m tightens the minutes cap when the 30-minute
	// probability is very high.
	Imminent30m    float64
	ImminentCapMin float64

	// Confidence.
	ConfidenceDepth float64 // history depth for full confidence
	AccuracyPrior   float64
}

// DefaultPredictorConfig returns the tuned defaults.
func DefaultPredictorConfig() PredictorConfig {
	return PredictorConfig{
		BaseHealthWeight: 0.55,
		BaseVolWeight:    0.45,

		HealthBandCritical: 1.02,
		HealthBandSevere:   1.05,
		HealthBandElevated: 1.1,
		HealthAddCritical:  0.35,
		HealthAddSevere:    0.22,
		HealthAddElevated:  0.12,

		GARCHTrigger:    0.8,
		VolOfVolTrigger: 0.15,
		VolClusterAdd:   0.10,

		DistanceBands: []float64{2, 5, 10, 20},
		DistanceAdds:  []float64{0.30, 0.20, 0.10, 0.04},

		VelocityTrigger: -0.005,
		MomentumAddMax:  0.15,

		OversoldRSI:      30,
		OversoldStoch:    20,
		OversoldAdd:      0.08,
		BelowBandAdd:     0.05,
		BearishAlignAdd:  0.05,
		VolumeSpikeRatio: 2.5,
		VolumeAdd:        0.07,
		CorrelationTrig:  0.8,
		CorrelationAdd:   0.05,

		Multiplier30m:    1.3,
		MultiplierHourly: 0.8,

		CapOverall: 0.98,
		Cap30m:     0.99,
		CapHourly:  0.95,

		MinutesGate:    0.3,
		Imminent30m:    0.85,
		ImminentCapMin: 15,

		ConfidenceDepth: 50,
		AccuracyPrior:   0.78,
	}
}

// contribution is one named additive term, kept for factor ranking.
type contribution struct {
	name   string
	weight float64
}

// Predict produces the liquidation forecast for one position.
func (e *Engine) Predict(pos *domain.Position) *domain.LiquidationPrediction {
	cfg := e.cfg.Predictor
	score := e.Score(pos)
	assetID := scoreAsset(pos)
	samples, _ := e.assetState(assetID)
	returns := logReturns(samples)

	features := e.extractFeatures(samples, returns, score)

	var contribs []contribution
	add := func(name string, w float64) {
		if w > 0 {
			contribs = append(contribs, contribution{name: name, weight: w})
		}
	}

	// Base blend: two continuous sub-estimators, squashed.
	healthEst := sigmoid((hfMediumBand - score.HealthFactor) * 4)
	if math.IsInf(score.HealthFactor, 1) {
		healthEst = 0
	}
	volEst := clamp01(score.Volatility.Rolling / 2)
	base := cfg.BaseHealthWeight*healthEst + cfg.BaseVolWeight*volEst*healthEst
	add("baseline model blend", base*0.3)

	p := base * 0.3
	p30 := base * 0.3 * cfg.Multiplier30m
	ph := base * 0.3 * cfg.MultiplierHourly

	bump := func(name string, w float64) {
		if w <= 0 {
			return
		}
		add(name, w)
		p += w
		p30 += w * cfg.Multiplier30m
		ph += w * cfg.MultiplierHourly
	}

	// (a) health-factor proximity, three severity bands
	hf := score.HealthFactor
	switch {
	case hf < cfg.HealthBandCritical:
		bump("health factor critically close to 1.0", cfg.HealthAddCritical)
	case hf < cfg.HealthBandSevere:
		bump("health factor severely degraded", cfg.HealthAddSevere)
	case hf < cfg.HealthBandElevated:
		bump("health factor elevated risk", cfg.HealthAddElevated)
	}

	// (b) volatility clustering
	if score.Volatility.GARCH > cfg.GARCHTrigger && score.Volatility.VolOfVol > cfg.VolOfVolTrigger {
		bump("volatility clustering (GARCH + vol-of-vol)", cfg.VolClusterAdd)
	}

	// (c) distance-to-liquidation, four bands
	if score.DistanceToLiquidation > 0 {
		for i, band := range cfg.DistanceBands {
			if score.DistanceToLiquidation < band {
				bump("price near liquidation level", cfg.DistanceAdds[i])
				break
			}
		}
	}

	// (d) momentum / price-velocity severity
	if features.PriceVelocity < cfg.VelocityTrigger {
		severity := clamp01(features.PriceVelocity / (cfg.VelocityTrigger * 4))
		bump("negative price momentum", severity*cfg.MomentumAddMax)
	}

	// (e) oversold technical confluence
	if score.Technical.RSI < cfg.OversoldRSI && score.Technical.StochasticK < cfg.OversoldStoch {
		bump("oversold technical confluence", cfg.OversoldAdd)
	}

	// (f) price below lower Bollinger band
	if last, ok := lastClose(samples); ok && score.MAs.BollingerLower > 0 && last < score.MAs.BollingerLower {
		bump("price below lower Bollinger band", cfg.BelowBandAdd)
	}

	// (g) bearish moving-average alignment
	if last, ok := lastClose(samples); ok &&
		score.MAs.EMA12 < score.MAs.EMA26 && last < score.MAs.SMA20 {
		bump("bearish moving-average alignment", cfg.BearishAlignAdd)
	}

	// (h) abnormal volume with poor liquidity
	if features.VolumeProfile > cfg.VolumeSpikeRatio && features.LiquidityScore < 0.4 {
		bump("abnormal volume with thin liquidity", cfg.VolumeAdd)
	}

	// (i) high asset correlation during stress
	if features.Correlation > cfg.CorrelationTrig && hf < cfg.HealthBandElevated {
		bump("high market correlation under stress", cfg.CorrelationAdd)
	}

	p = clamp(p, 0, cfg.CapOverall)
	p30 = clamp(p30, 0, cfg.Cap30m)
	ph = clamp(ph, 0, cfg.CapHourly)

	pred := &domain.LiquidationPrediction{
		PositionID:           pos.ID,
		Probability:          p,
		Probability30m:       p30,
		ProbabilityHourly:    ph,
		MinutesToLiquidation: math.Inf(1),
		Confidence:           e.confidence(len(samples)),
		Factors:              rankFactors(contribs),
		Features:             features,
		ComputedAt:           e.clock().UnixMilli(),
	}

	if p > cfg.MinutesGate {
		pred.MinutesToLiquidation = e.minutesEstimate(score, features, p30)
	}

	return pred
}

// minutesEstimate converts the health buffer, volatility and liquidity into
// a rough wall-clock horizon.
func (e *Engine) minutesEstimate(score *domain.RiskScore, f domain.PredictionFeatures, p30 float64) float64 {
	cfg := e.cfg.Predictor

	buffer := score.HealthFactor - 1
	if math.IsInf(score.HealthFactor, 1) || buffer <= 0 {
		if buffer <= 0 {
			return 1
		}
		return math.Inf(1)
	}

	vol := math.Max(score.Volatility.Rolling, score.Volatility.GARCH)
	if vol <= 0 {
		vol = 0.5
	}
	// Per-minute volatility from the annualized figure.
	volPerMin := vol / math.Sqrt(e.cfg.PeriodsPerYear)
	if volPerMin <= 0 {
		return math.Inf(1)
	}

	liquidityFactor := 0.5 + f.LiquidityScore // thin books burn buffer faster
	minutes := buffer / (volPerMin * liquidityFactor)

	if p30 > cfg.Imminent30m && minutes > cfg.ImminentCapMin {
		minutes = cfg.ImminentCapMin
	}
	return math.Max(1, minutes)
}

// confidence scales with available history depth and the static accuracy
// prior.
func (e *Engine) confidence(depth int) float64 {
	cfg := e.cfg.Predictor
	return clamp01(float64(depth)/cfg.ConfidenceDepth) * cfg.AccuracyPrior
}

// extractFeatures derives the prediction feature bundle.
func (e *Engine) extractFeatures(samples []Sample, returns []float64, score *domain.RiskScore) domain.PredictionFeatures {
	f := domain.PredictionFeatures{
		Correlation:    0.5,
		LiquidityScore: 0.5,
	}

	if len(returns) >= 5 {
		f.PriceVelocity = mean(returns[len(returns)-5:])
	} else if len(returns) > 0 {
		f.PriceVelocity = mean(returns)
	}

	if len(samples) >= 2 {
		var avgVol float64
		for _, s := range samples {
			avgVol += s.Volume
		}
		avgVol /= float64(len(samples))
		if avgVol > 0 {
			f.VolumeProfile = samples[len(samples)-1].Volume / avgVol
		}
		// Deeper average volume reads as better liquidity.
		f.LiquidityScore = clamp01(avgVol / (avgVol + 1e6))
	}

	f.Momentum = clamp((neutralRSI-score.Technical.RSI)/neutralRSI, -1, 1)

	// Stress regimes drive crypto correlations toward 1.
	if score.Volatility.Rolling > 1.0 {
		f.Correlation = 0.85
	}

	// Sentiment proxy follows momentum sign, damped.
	f.Sentiment = clamp(-f.Momentum*0.5, -1, 1)

	return f
}

// rankFactors orders contributing factors by weight, strongest first.
func rankFactors(contribs []contribution) []string {
	sort.SliceStable(contribs, func(i, j int) bool {
		return contribs[i].weight > contribs[j].weight
	})
	out := make([]string, len(contribs))
	for i, c := range contribs {
		out[i] = c.name
	}
	return out
}

func lastClose(samples []Sample) (float64, bool) {
	if len(samples) == 0 {
		return 0, false
	}
	return samples[len(samples)-1].Close, true
}

func sigmoid(x float64) float64 {
	return 1 / (1 + math.Exp(-x))
}
