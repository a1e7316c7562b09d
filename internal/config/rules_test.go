package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/smallbiznis/loyalty/internal/money"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestDefaultRulesAreValid(t *testing.T) {
	rules := DefaultRules()
	require.NoError(t, validateRules(rules))
	assert.Equal(t, money.FromUnits(50_000), rules.SilverAbove)
	assert.Equal(t, money.FromUnits(200_000), rules.GoldAbove)
	require.Len(t, rules.Catalog, 2)
	assert.Equal(t, int64(20_000), rules.Catalog[0].PointsCost)
	assert.Equal(t, money.Amount(0), rules.Catalog[0].MinimumOrder)
	assert.Equal(t, rules.Catalog[1].FaceValue, rules.Catalog[1].MinimumOrder)
}

func TestNewRulesHolderReadsFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "loyalty.yml")
	body := `
loyalty:
  points_ttl_months: 6
  voucher_ttl_days: 14
  tiers:
    silver_above: "1000.00"
    gold_above: "5000.50"
  catalog:
    - id: small
      title: Small
      points_cost: 100
      face_value: "5.00"
    - id: big
      points_cost: 1000
      face_value: "60"
      minimum_order: "120.00"
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	holder, err := NewRulesHolder(Config{RulesPath: path}, zap.NewNop())
	require.NoError(t, err)

	rules := holder.Get()
	assert.Equal(t, 6, rules.PointsTTLMonths)
	assert.Equal(t, 14, rules.VoucherTTLDays)
	assert.Equal(t, 366, rules.SpendWindowDays)
	assert.Equal(t, money.Amount(100_000), rules.SilverAbove)
	assert.Equal(t, money.Amount(500_050), rules.GoldAbove)

	catalog := holder.Catalog()
	require.Len(t, catalog, 2)
	assert.Equal(t, "small", catalog[0].ID)
	assert.Equal(t, money.Amount(500), catalog[0].FaceValue)
	assert.Equal(t, money.Amount(12_000), catalog[1].MinimumOrder)
}

func TestCompileRulesRejectsDuplicateCatalogIDs(t *testing.T) {
	raw := defaultRulesFile()
	raw.Catalog = append(raw.Catalog, raw.Catalog[0])
	_, err := compileRules(raw)
	assert.Error(t, err)
}

func TestCompileRulesRejectsInvertedTiers(t *testing.T) {
	raw := defaultRulesFile()
	raw.Tiers.GoldAbove = "10.00"
	_, err := compileRules(raw)
	assert.Error(t, err)
}

func TestCompileRulesMinimumTier(t *testing.T) {
	raw := defaultRulesFile()
	raw.Catalog[1].MinimumTier = " Silver "
	rules, err := compileRules(raw)
	require.NoError(t, err)
	assert.Equal(t, "silver", rules.Catalog[1].MinimumTier)

	raw.Catalog[1].MinimumTier = "platinum"
	_, err = compileRules(raw)
	assert.Error(t, err)
}
