package domain

import (
	"cmp"
	"slices"
	"time"

	"github.com/bwmarrin/snowflake"
)

// Lot is the attributed state of one earning entry.
type Lot struct {
	Entry     PointsLedgerEntry
	Remaining int64
	// Offset is set once an expiry entry references the lot.
	Offset bool
}

func (l Lot) liveAt(t time.Time) bool {
	return !l.Offset &&
		l.Remaining > 0 &&
		!l.Entry.EffectiveAt().After(t) &&
		l.Entry.ExpiresAt.After(t)
}

// Balance sums entries whose effective time is at or before instant.
func Balance(entries []PointsLedgerEntry, instant time.Time) int64 {
	var total int64
	for _, e := range entries {
		if !e.EffectiveAt().After(instant) {
			total += e.Points
		}
	}
	return total
}

// Attribute replays entries in recording order and returns every lot with
// its remaining points, ordered by ExpiresAt then ID.
//
// Spending entries draw down live lots soonest-expiring first. Replaying in
// recording order keeps earlier attributions stable when a backdated entry
// is appended later. Spend that finds no live lot is left unattributed.
func Attribute(entries []PointsLedgerEntry) []Lot {
	ordered := slices.Clone(entries)
	slices.SortStableFunc(ordered, func(a, b PointsLedgerEntry) int {
		return cmp.Compare(a.ID, b.ID)
	})

	lots := make([]*Lot, 0, len(ordered))
	byID := make(map[snowflake.ID]*Lot, len(ordered))

	for _, e := range ordered {
		switch {
		case e.IsLot():
			lot := &Lot{Entry: e, Remaining: e.Points}
			lots = append(lots, lot)
			byID[e.ID] = lot
		case e.Kind == KindExpiry:
			if e.OffsetsEntryID == nil {
				continue
			}
			if lot, ok := byID[*e.OffsetsEntryID]; ok {
				lot.Offset = true
				lot.Remaining += e.Points
				if lot.Remaining < 0 {
					lot.Remaining = 0
				}
			}
		case e.Points < 0:
			consume(lots, -e.Points, e.EffectiveAt())
		}
	}

	out := make([]Lot, 0, len(lots))
	for _, lot := range lots {
		out = append(out, *lot)
	}
	sortByExpiry(out)
	return out
}

func consume(lots []*Lot, amount int64, at time.Time) {
	live := make([]*Lot, 0, len(lots))
	for _, lot := range lots {
		if lot.liveAt(at) {
			live = append(live, lot)
		}
	}
	slices.SortFunc(live, func(a, b *Lot) int {
		if c := a.Entry.ExpiresAt.Compare(*b.Entry.ExpiresAt); c != 0 {
			return c
		}
		return cmp.Compare(a.Entry.ID, b.Entry.ID)
	})

	for _, lot := range live {
		if amount == 0 {
			return
		}
		take := min(amount, lot.Remaining)
		lot.Remaining -= take
		amount -= take
	}
}

func sortByExpiry(lots []Lot) {
	slices.SortFunc(lots, func(a, b Lot) int {
		if c := a.Entry.ExpiresAt.Compare(*b.Entry.ExpiresAt); c != 0 {
			return c
		}
		return cmp.Compare(a.Entry.ID, b.Entry.ID)
	})
}

// ExpiringBetween selects unoffset lots with points left whose ExpiresAt
// falls in [from, to).
func ExpiringBetween(lots []Lot, from, to time.Time) []ExpiringLot {
	var out []ExpiringLot
	for _, lot := range lots {
		exp := *lot.Entry.ExpiresAt
		if lot.Offset || lot.Remaining <= 0 || exp.Before(from) || !exp.Before(to) {
			continue
		}
		out = append(out, lot.Expiring())
	}
	return out
}

// DueForExpiry selects unoffset lots with ExpiresAt at or before asOf,
// including lots that were fully spent.
func DueForExpiry(lots []Lot, asOf time.Time) []Lot {
	var out []Lot
	for _, lot := range lots {
		if lot.Offset || lot.Entry.ExpiresAt.After(asOf) {
			continue
		}
		out = append(out, lot)
	}
	return out
}

// Source is "order:<id>" for order lots and the entry kind otherwise.
func (l ExpiringLot) Source() string {
	if l.SourceOrderID != nil && *l.SourceOrderID != "" {
		return "order:" + *l.SourceOrderID
	}
	return string(l.Kind)
}

func (l Lot) Expiring() ExpiringLot {
	return ExpiringLot{
		EntryID:       l.Entry.ID,
		UserID:        l.Entry.UserID,
		Kind:          l.Entry.Kind,
		Points:        l.Entry.Points,
		Remaining:     l.Remaining,
		EarnedAt:      l.Entry.EffectiveAt(),
		ExpiresAt:     *l.Entry.ExpiresAt,
		SourceOrderID: l.Entry.SourceOrderID,
	}
}
