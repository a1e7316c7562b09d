package domain

import (
	"cmp"
	"slices"
	"time"

	pointsdomain "github.com/smallbiznis/loyalty/internal/points/domain"
)

// SourceOf names where a lot came from for reminder grouping.
func SourceOf(lot pointsdomain.ExpiringLot) string {
	return lot.Source()
}

func day(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// Group folds lots into projections keyed by source and expiry day, ordered
// by expiry day then source.
func Group(lots []pointsdomain.ExpiringLot) []Projection {
	type key struct {
		source string
		expiry time.Time
	}
	index := make(map[key]int)
	var out []Projection

	for _, lot := range lots {
		k := key{source: SourceOf(lot), expiry: day(lot.ExpiresAt)}
		if i, ok := index[k]; ok {
			out[i].Points += lot.Remaining
			if earned := day(lot.EarnedAt); earned.Before(out[i].EarnedDate) {
				out[i].EarnedDate = earned
			}
			continue
		}
		index[k] = len(out)
		out = append(out, Projection{
			Points:     lot.Remaining,
			Source:     k.source,
			EarnedDate: day(lot.EarnedAt),
			ExpiryDate: k.expiry,
		})
	}

	slices.SortFunc(out, func(a, b Projection) int {
		if c := a.ExpiryDate.Compare(b.ExpiryDate); c != 0 {
			return c
		}
		return cmp.Compare(a.Source, b.Source)
	})
	return out
}
