package decode

import (
	"math"

	"solana-liq-monitor/internal/domain"
)

// healthFactor divides risk-weighted collateral by risk-weighted debt.
// Returns +Inf when weighted debt is exactly zero.
func healthFactor(weightedCollateral, weightedDebt float64) float64 {
	if weightedDebt == 0 {
		return math.Inf(1)
	}
	return weightedCollateral / weightedDebt
}

// liquidationPrice estimates the dominant-collateral price at which the
// position becomes liquidatable: total debt value scaled by the liquidation
// threshold net of the liquidator bonus, divided by the asset quantity.
// Returns 0 when the inputs cannot produce a meaningful price.
func liquidationPrice(totalDebtUSD, threshold, bonus, quantity float64) float64 {
	effective := threshold - bonus
	if totalDebtUSD <= 0 || quantity <= 0 || effective <= 0 {
		return 0
	}
	return totalDebtUSD / (effective * quantity)
}

// finishPosition stamps derived fields shared by every protocol builder.
func finishPosition(p *domain.Position, weightedCollateral, weightedDebt, threshold float64, now int64) *domain.Position {
	p.HealthFactor = healthFactor(weightedCollateral, weightedDebt)
	p.LiquidationThreshold = threshold
	p.UpdatedAt = now
	return p
}

// LiquidationPriceFor exposes the liquidation price estimate for a position
// with a single dominant collateral asset.
func LiquidationPriceFor(p *domain.Position, bonus float64) float64 {
	dom := p.DominantCollateral()
	if dom == nil || dom.Amount <= 0 {
		return 0
	}
	threshold := p.LiquidationThreshold
	if threshold <= 0 {
		threshold = 0.8
	}
	return liquidationPrice(p.TotalDebtUSD(), threshold, bonus, dom.Amount)
}
