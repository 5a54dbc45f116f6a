package alerting

import "time"

// Thresholds is the alert decision configuration. Loaded once, mutable
// only through Manager.UpdateThresholds.
type Thresholds struct {
	// Health-factor triggers.
	WarningHealthFactor  float64
	CriticalHealthFactor float64

	// Collateral-ratio trigger for warnings.
	WarningCollateralRatio float64

	// Distance-to-liquidation triggers, percent.
	WarningDistancePct  float64
	CriticalDistancePct float64

	// Prediction probability trigger.
	PredictionProbability float64

	// Cooldowns per alert type and position. Criticals use a shorter
	// cooldown than warnings so deteriorating positions keep paging.
	WarningCooldown    time.Duration
	CriticalCooldown   time.Duration
	PredictionCooldown time.Duration
}

// DefaultThresholds returns the standard trigger set.
func DefaultThresholds() Thresholds {
	return Thresholds{
		WarningHealthFactor:    1.3,
		CriticalHealthFactor:   1.1,
		WarningCollateralRatio: 1.5,
		WarningDistancePct:     15,
		CriticalDistancePct:    5,
		PredictionProbability:  0.6,
		WarningCooldown:        15 * time.Minute,
		CriticalCooldown:       5 * time.Minute,
		PredictionCooldown:     10 * time.Minute,
	}
}

// cooldownFor returns the cooldown for an alert type.
func (t Thresholds) cooldownFor(alertType string) time.Duration {
	switch alertType {
	case "CRITICAL":
		return t.CriticalCooldown
	case "PREDICTION":
		return t.PredictionCooldown
	default:
		return t.WarningCooldown
	}
}
