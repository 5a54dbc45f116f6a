package monitor

import (
	"math"
	"sort"

	"solana-liq-monitor/internal/domain"
)

// epsilon bounds float comparisons during diffing. Changes smaller than
// this are noise from re-derivation, not state changes.
const epsilon = 1e-9

// diffPositions compares two snapshots of one account's position set and
// returns the resulting change events in stable (position ID) order.
func diffPositions(prev, next map[string]*domain.Position, slot int64) []domain.ChangeEvent {
	ids := make([]string, 0, len(prev)+len(next))
	seen := make(map[string]bool, len(prev)+len(next))
	for id := range prev {
		ids = append(ids, id)
		seen[id] = true
	}
	for id := range next {
		if !seen[id] {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)

	var events []domain.ChangeEvent
	for _, id := range ids {
		before, hadBefore := prev[id]
		after, hasAfter := next[id]
		switch {
		case !hadBefore && hasAfter:
			events = append(events, domain.ChangeEvent{
				Kind:     domain.ChangeCreated,
				Position: after,
				Slot:     slot,
			})
		case hadBefore && !hasAfter:
			events = append(events, domain.ChangeEvent{
				Kind:     domain.ChangeDeleted,
				Position: before,
				Slot:     slot,
			})
		case positionChanged(before, after):
			events = append(events, domain.ChangeEvent{
				Kind:     domain.ChangeUpdated,
				Position: after,
				Previous: before,
				Slot:     slot,
			})
		}
	}
	return events
}

// positionChanged reports whether two snapshots of the same position differ
// materially.
func positionChanged(a, b *domain.Position) bool {
	if !floatEqual(a.HealthFactor, b.HealthFactor) {
		return true
	}
	if len(a.Collateral) != len(b.Collateral) || len(a.Debt) != len(b.Debt) {
		return true
	}
	for i := range a.Collateral {
		if a.Collateral[i].Mint != b.Collateral[i].Mint ||
			!floatEqual(a.Collateral[i].Amount, b.Collateral[i].Amount) ||
			!floatEqual(a.Collateral[i].ValueUSD, b.Collateral[i].ValueUSD) {
			return true
		}
	}
	for i := range a.Debt {
		if a.Debt[i].Mint != b.Debt[i].Mint ||
			!floatEqual(a.Debt[i].Amount, b.Debt[i].Amount) ||
			!floatEqual(a.Debt[i].ValueUSD, b.Debt[i].ValueUSD) {
			return true
		}
	}
	return false
}

func floatEqual(a, b float64) bool {
	if math.IsInf(a, 1) || math.IsInf(b, 1) {
		return math.IsInf(a, 1) && math.IsInf(b, 1)
	}
	return math.Abs(a-b) <= epsilon
}
