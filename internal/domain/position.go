package domain

import "math"

// CollateralEntry is one collateral asset held by a position.
type CollateralEntry struct {
	Mint     string  // asset mint address
	Amount   float64 // token amount after decimal scaling
	ValueUSD float64 // current USD value
	PriceUSD float64 // unit price used for valuation, 0 when unknown
}

// DebtEntry is one borrowed asset owed by a position.
type DebtEntry struct {
	Mint     string  // asset mint address
	Amount   float64 // token amount after decimal scaling
	ValueUSD float64 // current USD value
}

// Position is one borrowing/margin account at one protocol.
// Snapshots are immutable: each decode cycle produces a fresh value that
// replaces the previous one wholesale.
type Position struct {
	ID         string   // protocol-qualified identifier: "<protocol>:<account>"
	Protocol   Protocol // owning protocol
	Account    string   // on-chain account address
	Owner      string   // wallet authority address
	Collateral []CollateralEntry
	Debt       []DebtEntry

	// HealthFactor is risk-weighted collateral over risk-weighted debt,
	// +Inf when weighted debt is zero. Recomputed on every decode.
	HealthFactor float64

	// LiquidationThreshold is the protocol-supplied maintenance ratio,
	// 0 when the protocol does not expose one directly.
	LiquidationThreshold float64

	UpdatedAt int64 // snapshot timestamp, Unix milliseconds
}

// PositionID builds the protocol-qualified identifier.
func PositionID(p Protocol, account string) string {
	return p.String() + ":" + account
}

// TotalCollateralUSD sums the USD value of all collateral entries.
func (p *Position) TotalCollateralUSD() float64 {
	var total float64
	for _, c := range p.Collateral {
		total += c.ValueUSD
	}
	return total
}

// TotalDebtUSD sums the USD value of all debt entries.
func (p *Position) TotalDebtUSD() float64 {
	var total float64
	for _, d := range p.Debt {
		total += d.ValueUSD
	}
	return total
}

// CollateralRatio is unweighted collateral over debt, +Inf when debt is zero.
func (p *Position) CollateralRatio() float64 {
	debt := p.TotalDebtUSD()
	if debt == 0 {
		return math.Inf(1)
	}
	return p.TotalCollateralUSD() / debt
}

// IsEmpty reports whether the position carries no collateral and no debt.
// Empty positions are dropped from the watched set.
func (p *Position) IsEmpty() bool {
	return len(p.Collateral) == 0 && len(p.Debt) == 0
}

// DominantCollateral returns the collateral entry with the largest USD
// value, or nil when the position has none. Used for liquidation price
// estimation.
func (p *Position) DominantCollateral() *CollateralEntry {
	var best *CollateralEntry
	for i := range p.Collateral {
		if best == nil || p.Collateral[i].ValueUSD > best.ValueUSD {
			best = &p.Collateral[i]
		}
	}
	return best
}
