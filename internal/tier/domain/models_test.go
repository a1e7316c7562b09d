package domain

import (
	"testing"
	"time"

	"github.com/smallbiznis/loyalty/internal/money"
	"github.com/stretchr/testify/assert"
)

func TestTierForBoundaries(t *testing.T) {
	silver := money.FromUnits(50_000)
	gold := money.FromUnits(200_000)

	cases := []struct {
		spend money.Amount
		want  Tier
	}{
		{0, TierBronze},
		{money.FromUnits(50_000), TierBronze},
		{money.FromUnits(50_000) + 1, TierSilver},
		{money.FromUnits(50_001), TierSilver},
		{money.FromUnits(200_000), TierSilver},
		{money.FromUnits(200_001), TierGold},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, TierFor(tc.spend, silver, gold), "spend %s", tc.spend)
	}
}

func TestDampenMovesDownOneLevel(t *testing.T) {
	assert.Equal(t, TierSilver, Dampen(TierGold, TierBronze))
	assert.Equal(t, TierBronze, Dampen(TierSilver, TierBronze))
	assert.Equal(t, TierGold, Dampen(TierBronze, TierGold))
	assert.Equal(t, TierSilver, Dampen(TierSilver, TierSilver))
}

func TestPeriodOf(t *testing.T) {
	assert.Equal(t, "2026-Q1", PeriodOf(time.Date(2026, 3, 31, 23, 0, 0, 0, time.UTC)))
	assert.Equal(t, "2026-Q2", PeriodOf(time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)))
	assert.Equal(t, "2026-Q4", PeriodOf(time.Date(2026, 12, 31, 0, 0, 0, 0, time.UTC)))
}

func TestParseTier(t *testing.T) {
	tier, ok := ParseTier(" Gold ")
	assert.True(t, ok)
	assert.Equal(t, TierGold, tier)
	_, ok = ParseTier("platinum")
	assert.False(t, ok)
}
