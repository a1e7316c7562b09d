package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/smallbiznis/loyalty/internal/money"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// Rules are the business parameters of the loyalty program.
type Rules struct {
	PointsTTLMonths int
	VoucherTTLDays  int
	SpendWindowDays int

	// Spend strictly above SilverAbove qualifies for silver, strictly above
	// GoldAbove for gold.
	SilverAbove money.Amount
	GoldAbove   money.Amount

	Catalog []CatalogRule
}

// CatalogRule is one redeemable voucher denomination.
type CatalogRule struct {
	ID           string
	Title        string
	PointsCost   int64
	FaceValue    money.Amount
	MinimumOrder money.Amount
	// MinimumTier gates redemption; empty admits every tier.
	MinimumTier string
}

type rulesFile struct {
	PointsTTLMonths int                `mapstructure:"points_ttl_months"`
	VoucherTTLDays  int                `mapstructure:"voucher_ttl_days"`
	SpendWindowDays int                `mapstructure:"spend_window_days"`
	Tiers           tierFile           `mapstructure:"tiers"`
	Catalog         []catalogEntryFile `mapstructure:"catalog"`
}

type tierFile struct {
	SilverAbove string `mapstructure:"silver_above"`
	GoldAbove   string `mapstructure:"gold_above"`
}

type catalogEntryFile struct {
	ID           string `mapstructure:"id"`
	Title        string `mapstructure:"title"`
	PointsCost   int64  `mapstructure:"points_cost"`
	FaceValue    string `mapstructure:"face_value"`
	MinimumOrder string `mapstructure:"minimum_order"`
	MinimumTier  string `mapstructure:"minimum_tier"`
}

func DefaultRules() Rules {
	return Rules{
		PointsTTLMonths: 12,
		VoucherTTLDays:  30,
		SpendWindowDays: 366,
		SilverAbove:     money.FromUnits(50_000),
		GoldAbove:       money.FromUnits(200_000),
		Catalog: []CatalogRule{
			{ID: "sgd500", Title: "S$500 voucher", PointsCost: 20_000, FaceValue: money.FromUnits(500)},
			{ID: "sgd1500", Title: "S$1,500 voucher", PointsCost: 50_000, FaceValue: money.FromUnits(1_500), MinimumOrder: money.FromUnits(1_500)},
		},
	}
}

func defaultRulesFile() rulesFile {
	d := DefaultRules()
	out := rulesFile{
		PointsTTLMonths: d.PointsTTLMonths,
		VoucherTTLDays:  d.VoucherTTLDays,
		SpendWindowDays: d.SpendWindowDays,
		Tiers: tierFile{
			SilverAbove: d.SilverAbove.String(),
			GoldAbove:   d.GoldAbove.String(),
		},
	}
	for _, c := range d.Catalog {
		out.Catalog = append(out.Catalog, catalogEntryFile{
			ID:           c.ID,
			Title:        c.Title,
			PointsCost:   c.PointsCost,
			FaceValue:    c.FaceValue.String(),
			MinimumOrder: c.MinimumOrder.String(),
		})
	}
	return out
}

// RulesHolder serves the current Rules and swaps them on file change.
type RulesHolder struct {
	current atomic.Value // holds Rules
}

// NewStaticRulesHolder pins rules without watching any file.
func NewStaticRulesHolder(rules Rules) *RulesHolder {
	h := &RulesHolder{}
	h.current.Store(rules)
	return h
}

func NewRulesHolder(appCfg Config, log *zap.Logger) (*RulesHolder, error) {
	log = log.Named("config.rules")
	v := viper.New()

	if appCfg.RulesPath != "" {
		v.SetConfigFile(appCfg.RulesPath)
	} else {
		v.SetConfigName("loyalty")
		v.SetConfigType("yml")
		v.AddConfigPath("/etc/loyalty")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("LOYALTY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := defaultRulesFile()
	v.SetDefault("loyalty.points_ttl_months", defaults.PointsTTLMonths)
	v.SetDefault("loyalty.voucher_ttl_days", defaults.VoucherTTLDays)
	v.SetDefault("loyalty.spend_window_days", defaults.SpendWindowDays)
	v.SetDefault("loyalty.tiers.silver_above", defaults.Tiers.SilverAbove)
	v.SetDefault("loyalty.tiers.gold_above", defaults.Tiers.GoldAbove)

	fileFound := true
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read loyalty rules: %w", err)
		}
		fileFound = false
	}

	rules, err := decodeRules(v, defaults)
	if err != nil {
		return nil, err
	}

	holder := NewStaticRulesHolder(rules)
	if !fileFound {
		log.Info("loyalty rules file not found, using defaults")
		return holder, nil
	}

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		updated, err := decodeRules(v, defaults)
		if err != nil {
			log.Warn("loyalty rules reload rejected", zap.String("file", filepath.Base(e.Name)), zap.Error(err))
			return
		}
		holder.current.Store(updated)
		log.Info("loyalty rules reloaded", zap.String("file", filepath.Base(e.Name)))
	})

	return holder, nil
}

func (h *RulesHolder) Get() Rules {
	return h.current.Load().(Rules)
}

// Catalog returns a copy of the configured catalog.
func (h *RulesHolder) Catalog() []CatalogRule {
	rules := h.Get()
	out := make([]CatalogRule, len(rules.Catalog))
	copy(out, rules.Catalog)
	return out
}

func decodeRules(v *viper.Viper, defaults rulesFile) (Rules, error) {
	// Unmarshal goes through AllSettings so nested defaults are merged.
	var wrapper struct {
		Loyalty rulesFile `mapstructure:"loyalty"`
	}
	if err := v.Unmarshal(&wrapper); err != nil {
		return Rules{}, fmt.Errorf("decode loyalty rules: %w", err)
	}
	raw := wrapper.Loyalty
	if len(raw.Catalog) == 0 {
		raw.Catalog = defaults.Catalog
	}
	return compileRules(raw)
}

func compileRules(raw rulesFile) (Rules, error) {
	silver, err := money.Parse(raw.Tiers.SilverAbove)
	if err != nil {
		return Rules{}, fmt.Errorf("loyalty.tiers.silver_above: %w", err)
	}
	gold, err := money.Parse(raw.Tiers.GoldAbove)
	if err != nil {
		return Rules{}, fmt.Errorf("loyalty.tiers.gold_above: %w", err)
	}

	rules := Rules{
		PointsTTLMonths: raw.PointsTTLMonths,
		VoucherTTLDays:  raw.VoucherTTLDays,
		SpendWindowDays: raw.SpendWindowDays,
		SilverAbove:     silver,
		GoldAbove:       gold,
	}

	seen := make(map[string]struct{}, len(raw.Catalog))
	for _, entry := range raw.Catalog {
		id := strings.TrimSpace(entry.ID)
		if _, dup := seen[id]; dup {
			return Rules{}, fmt.Errorf("loyalty.catalog: duplicate id %q", id)
		}
		seen[id] = struct{}{}

		face, err := money.Parse(entry.FaceValue)
		if err != nil {
			return Rules{}, fmt.Errorf("loyalty.catalog[%s].face_value: %w", id, err)
		}
		minimum := money.Amount(0)
		if strings.TrimSpace(entry.MinimumOrder) != "" {
			if minimum, err = money.Parse(entry.MinimumOrder); err != nil {
				return Rules{}, fmt.Errorf("loyalty.catalog[%s].minimum_order: %w", id, err)
			}
		}
		rules.Catalog = append(rules.Catalog, CatalogRule{
			ID:           id,
			Title:        strings.TrimSpace(entry.Title),
			PointsCost:   entry.PointsCost,
			FaceValue:    face,
			MinimumOrder: minimum,
			MinimumTier:  strings.ToLower(strings.TrimSpace(entry.MinimumTier)),
		})
	}

	if err := validateRules(rules); err != nil {
		return Rules{}, err
	}
	return rules, nil
}

func validateRules(rules Rules) error {
	if rules.PointsTTLMonths <= 0 {
		return errors.New("loyalty.points_ttl_months must be positive")
	}
	if rules.VoucherTTLDays <= 0 {
		return errors.New("loyalty.voucher_ttl_days must be positive")
	}
	if rules.SpendWindowDays <= 0 {
		return errors.New("loyalty.spend_window_days must be positive")
	}
	if rules.SilverAbove < 0 || rules.GoldAbove <= rules.SilverAbove {
		return errors.New("loyalty.tiers: gold_above must exceed silver_above")
	}
	if len(rules.Catalog) == 0 {
		return errors.New("loyalty.catalog cannot be empty")
	}
	for _, entry := range rules.Catalog {
		if entry.ID == "" {
			return errors.New("loyalty.catalog: id is required")
		}
		if entry.PointsCost <= 0 || entry.FaceValue <= 0 || entry.MinimumOrder < 0 {
			return fmt.Errorf("loyalty.catalog[%s]: cost and face value must be positive", entry.ID)
		}
		switch entry.MinimumTier {
		case "", "bronze", "silver", "gold":
		default:
			return fmt.Errorf("loyalty.catalog[%s]: unknown minimum_tier %q", entry.ID, entry.MinimumTier)
		}
	}
	return nil
}
