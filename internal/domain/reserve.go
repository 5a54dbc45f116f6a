package domain

// Reserve holds the static-ish risk parameters for one asset or market.
// Marginfi calls this a bank, Kamino a reserve, Drift a perp market; the
// normalized record is shared read-only by every position referencing it
// and replaced wholesale on refresh.
type Reserve struct {
	Address  string   // reserve/bank/market account address
	Protocol Protocol // owning protocol
	Mint     string   // underlying asset mint
	Symbol   string   // human-readable asset symbol, may be empty
	Decimals uint8    // token decimals

	// LTV is the initial loan-to-value ratio (borrow weight).
	LTV float64
	// LiquidationThreshold is the maintenance ratio below which the
	// protocol permits forced liquidation. Health computations use this,
	// never LTV, so a position is not flagged critical merely because it
	// could not open new debt.
	LiquidationThreshold float64
	// LiquidationBonus is the liquidator's discount on seized collateral.
	LiquidationBonus float64

	Oracle   string  // oracle account address
	PriceUSD float64 // current mark/index price

	UpdatedAt int64 // last refresh timestamp, Unix milliseconds
}
