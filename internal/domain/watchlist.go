package domain

import "time"

// WatchEntry is one persisted watchlist row: an account to monitor under a
// protocol. Label is a free-form operator note.
type WatchEntry struct {
	Address  string    `json:"address"`
	Protocol Protocol  `json:"protocol"`
	Label    string    `json:"label,omitempty"`
	AddedAt  time.Time `json:"added_at"`
}

// RiskSnapshot is one archived per-cycle risk reading for a position,
// written to the timeseries store for later analysis.
type RiskSnapshot struct {
	PositionID            string
	Protocol              Protocol
	HealthFactor          float64
	Level                 RiskLevel
	Score                 float64
	LiquidationPrice      float64
	DistanceToLiquidation float64
	TotalCollateralUSD    float64
	TotalDebtUSD          float64
	TimestampMs           int64
}
