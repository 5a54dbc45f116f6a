package monitor

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"solana-liq-monitor/internal/domain"
)

func snap(id string, hf float64, collateral, debt int) *domain.Position {
	p := &domain.Position{ID: id, HealthFactor: hf}
	for i := 0; i < collateral; i++ {
		p.Collateral = append(p.Collateral, domain.CollateralEntry{Mint: "m", Amount: 1, ValueUSD: 10})
	}
	for i := 0; i < debt; i++ {
		p.Debt = append(p.Debt, domain.DebtEntry{Mint: "m", Amount: 1, ValueUSD: 10})
	}
	return p
}

func TestDiffOrderIsStable(t *testing.T) {
	prev := map[string]*domain.Position{
		"c": snap("c", 1.5, 1, 1),
	}
	next := map[string]*domain.Position{
		"a": snap("a", 1.5, 1, 1),
		"b": snap("b", 1.5, 1, 1),
	}

	events := diffPositions(prev, next, 7)
	require.Len(t, events, 3)
	assert.Equal(t, domain.ChangeCreated, events[0].Kind)
	assert.Equal(t, "a", events[0].Position.ID)
	assert.Equal(t, domain.ChangeCreated, events[1].Kind)
	assert.Equal(t, "b", events[1].Position.ID)
	assert.Equal(t, domain.ChangeDeleted, events[2].Kind)
	assert.Equal(t, "c", events[2].Position.ID)
	for _, ev := range events {
		assert.Equal(t, int64(7), ev.Slot)
	}
}

func TestDiffEntryCountChangeIsUpdate(t *testing.T) {
	prev := map[string]*domain.Position{"a": snap("a", 1.5, 1, 1)}
	next := map[string]*domain.Position{"a": snap("a", 1.5, 2, 1)}

	events := diffPositions(prev, next, 0)
	require.Len(t, events, 1)
	assert.Equal(t, domain.ChangeUpdated, events[0].Kind)
}

func TestPositionChangedEpsilon(t *testing.T) {
	base := snap("a", 1.5, 1, 1)

	within := snap("a", 1.5+5e-10, 1, 1)
	assert.False(t, positionChanged(base, within))

	beyond := snap("a", 1.5+1e-8, 1, 1)
	assert.True(t, positionChanged(base, beyond))

	valueMoved := snap("a", 1.5, 1, 1)
	valueMoved.Collateral[0].ValueUSD = 11
	assert.True(t, positionChanged(base, valueMoved))
}

func TestFloatEqualInfinity(t *testing.T) {
	inf := math.Inf(1)
	assert.True(t, floatEqual(inf, inf))
	assert.False(t, floatEqual(inf, 1e18))
	assert.False(t, floatEqual(1e18, inf))
}
