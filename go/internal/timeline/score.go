package timeline

import (
	"github.com/google/uuid"

	"github.com/mcdev12/timeline/go/internal/models"
)

// Points awarded per ordered adjacent pair.
const (
	PairPoints      = 100
	SameYearBonus   = 50
	SameArtistBonus = 25
)

// Score sums the points of every chronologically ordered adjacent pair.
// The artist bonus needs a known artist on both cards.
// The input slice is not reordered.
func Score(entries []models.TimelineEntry) int {
	sorted := Sorted(entries)
	total := 0
	for i := 1; i < len(sorted); i++ {
		prev, cur := sorted[i-1], sorted[i]
		if cur.Year < prev.Year {
			continue
		}
		total += PairPoints
		if cur.Year == prev.Year {
			total += SameYearBonus
		}
		if cur.Artist != "" && cur.Artist == prev.Artist {
			total += SameArtistBonus
		}
	}
	return total
}

// TruncateToBase keeps only the base entry of a timeline.
func TruncateToBase(entries []models.TimelineEntry) []models.TimelineEntry {
	out := make([]models.TimelineEntry, 0, 1)
	for _, e := range entries {
		if e.IsBase {
			out = append(out, e)
		}
	}
	return out
}

// Remove drops the non-base entry for songID. It reports whether anything was removed.
func Remove(entries []models.TimelineEntry, songID uuid.UUID) ([]models.TimelineEntry, bool) {
	out := make([]models.TimelineEntry, 0, len(entries))
	removed := false
	for _, e := range entries {
		if !removed && !e.IsBase && e.SongID == songID {
			removed = true
			continue
		}
		out = append(out, e)
	}
	return out, removed
}
