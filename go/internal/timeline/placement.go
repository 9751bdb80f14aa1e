// Package timeline holds the pure rules of a player's card timeline:
// placement validation, ordering keys and scoring.
package timeline

import (
	"math"
	"sort"

	"github.com/mcdev12/timeline/go/internal/models"
)

// MinGap is the smallest gap between adjacent positions before the timeline
// has to be renormalized.
const MinGap = 1e-6

// MaxPosition bounds ordering keys. Beyond it adding 1 or halving a gap stops
// producing distinct float64 values.
const MaxPosition = 1e9

// InRange reports whether position is a finite key within ±MaxPosition.
func InRange(position float64) bool {
	return !math.IsNaN(position) && math.Abs(position) <= MaxPosition
}

// Validate reports whether a card from year fits at position. The predecessor is
// the entry with the greatest position below it and the successor the entry with
// the smallest position above it. Equal years are allowed on both sides. An
// entry sitting exactly at position makes the placement invalid.
func Validate(entries []models.TimelineEntry, year int, position float64) bool {
	var pred, succ *models.TimelineEntry
	for i := range entries {
		e := &entries[i]
		switch {
		case e.Position == position:
			return false
		case e.Position < position:
			if pred == nil || e.Position > pred.Position {
				pred = e
			}
		default:
			if succ == nil || e.Position < succ.Position {
				succ = e
			}
		}
	}
	if pred != nil && pred.Year > year {
		return false
	}
	if succ != nil && succ.Year < year {
		return false
	}
	return true
}

// Sorted returns a copy of entries ordered by position.
func Sorted(entries []models.TimelineEntry) []models.TimelineEntry {
	out := make([]models.TimelineEntry, len(entries))
	copy(out, entries)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Position < out[j].Position })
	return out
}

// PositionAt returns a position strictly between the entries at sorted indices
// slot-1 and slot. Slots outside the timeline land one unit past the ends.
func PositionAt(entries []models.TimelineEntry, slot int) float64 {
	sorted := Sorted(entries)
	if len(sorted) == 0 {
		return 0
	}
	if slot <= 0 {
		return sorted[0].Position - 1
	}
	if slot >= len(sorted) {
		return sorted[len(sorted)-1].Position + 1
	}
	return (sorted[slot-1].Position + sorted[slot].Position) / 2
}

// NeedsRenormalize reports whether any two adjacent positions are closer than MinGap.
func NeedsRenormalize(entries []models.TimelineEntry) bool {
	sorted := Sorted(entries)
	for i := 1; i < len(sorted); i++ {
		if sorted[i].Position-sorted[i-1].Position < MinGap {
			return true
		}
	}
	return false
}

// Renormalize rewrites positions to 0, 1, 2, ... keeping the current order.
func Renormalize(entries []models.TimelineEntry) []models.TimelineEntry {
	sorted := Sorted(entries)
	for i := range sorted {
		sorted[i].Position = float64(i)
	}
	return sorted
}

// Insert adds entry and renormalizes when the new neighbour gap is too small.
func Insert(entries []models.TimelineEntry, entry models.TimelineEntry) []models.TimelineEntry {
	out := append(Sorted(entries), entry)
	if NeedsRenormalize(out) {
		return Renormalize(out)
	}
	return Sorted(out)
}
