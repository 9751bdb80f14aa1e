package timeline

import (
	"math"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcdev12/timeline/go/internal/models"
)

func entry(year int, pos float64) models.TimelineEntry {
	return models.TimelineEntry{SongID: uuid.New(), Year: year, Position: pos}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	type testCase struct {
		name     string
		entries  []models.TimelineEntry
		year     int
		position float64
		expected bool
	}

	tests := []testCase{
		{name: "empty timeline accepts anything", entries: nil, year: 1950, position: 0, expected: true},
		{name: "after earlier base", entries: []models.TimelineEntry{entry(1990, 0)}, year: 1995, position: 1, expected: true},
		{name: "after later base", entries: []models.TimelineEntry{entry(1990, 0)}, year: 1985, position: 1, expected: false},
		{name: "before later base", entries: []models.TimelineEntry{entry(1990, 0)}, year: 1985, position: -1, expected: true},
		{name: "between bounds", entries: []models.TimelineEntry{entry(1990, 0), entry(1995, 1)}, year: 1992, position: 0.5, expected: true},
		{name: "between bounds too late", entries: []models.TimelineEntry{entry(1990, 0), entry(1995, 1)}, year: 1999, position: 0.5, expected: false},
		{name: "tie with predecessor", entries: []models.TimelineEntry{entry(1990, 0), entry(1995, 1)}, year: 1990, position: 0.5, expected: true},
		{name: "tie with successor", entries: []models.TimelineEntry{entry(1990, 0), entry(1995, 1)}, year: 1995, position: 0.5, expected: true},
		{name: "occupied position", entries: []models.TimelineEntry{entry(1990, 0)}, year: 1990, position: 0, expected: false},
		{name: "unsorted input", entries: []models.TimelineEntry{entry(2000, 2), entry(1980, 0), entry(1990, 1)}, year: 1995, position: 1.5, expected: true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.expected, Validate(tc.entries, tc.year, tc.position))
		})
	}
}

func TestValidateGrid(t *testing.T) {
	t.Parallel()
	years := []int{1970, 1980, 1990}
	for _, a := range years {
		for _, b := range years {
			if b < a {
				continue
			}
			entries := []models.TimelineEntry{entry(a, 0), entry(b, 1)}
			for y := 1965; y <= 1995; y += 5 {
				expected := a <= y && y <= b
				assert.Equal(t, expected, Validate(entries, y, 0.5), "pred=%d succ=%d year=%d", a, b, y)
			}
		}
	}
}

func TestPositionAt(t *testing.T) {
	t.Parallel()
	entries := []models.TimelineEntry{entry(1990, 1), entry(1980, 0), entry(2000, 2)}

	assert.Equal(t, 0.0, PositionAt(nil, 3))
	assert.Equal(t, -1.0, PositionAt(entries, 0))
	assert.Equal(t, 0.5, PositionAt(entries, 1))
	assert.Equal(t, 1.5, PositionAt(entries, 2))
	assert.Equal(t, 3.0, PositionAt(entries, 3))
	assert.Equal(t, 3.0, PositionAt(entries, 10))
}

func TestInsertRenormalizes(t *testing.T) {
	t.Parallel()
	entries := []models.TimelineEntry{entry(1980, 0), entry(1990, 1)}

	// keep bisecting the same gap until it collapses
	for i := 0; i < 40; i++ {
		pos := PositionAt(entries, 1)
		require.True(t, Validate(entries, 1985, pos))
		entries = Insert(entries, entry(1985, pos))
	}

	assert.False(t, NeedsRenormalize(entries))
	assert.Len(t, entries, 42)
	assert.Equal(t, 1980, entries[0].Year)
	assert.Equal(t, 1990, entries[len(entries)-1].Year)
}

func TestRenormalizeKeepsOrder(t *testing.T) {
	t.Parallel()
	entries := []models.TimelineEntry{entry(2000, 7.25), entry(1980, -3), entry(1990, 0.0000001)}

	out := Renormalize(entries)

	require.Len(t, out, 3)
	assert.Equal(t, []int{1980, 1990, 2000}, []int{out[0].Year, out[1].Year, out[2].Year})
	assert.Equal(t, []float64{0, 1, 2}, []float64{out[0].Position, out[1].Position, out[2].Position})
	assert.Equal(t, 7.25, entries[0].Position)
}

func TestInRange(t *testing.T) {
	t.Parallel()

	type testCase struct {
		name     string
		position float64
		expected bool
	}

	tests := []testCase{
		{name: "zero", position: 0, expected: true},
		{name: "negative bound", position: -MaxPosition, expected: true},
		{name: "past bound", position: MaxPosition * 2, expected: false},
		{name: "huge", position: 1e308, expected: false},
		{name: "nan", position: math.NaN(), expected: false},
		{name: "inf", position: math.Inf(-1), expected: false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.expected, InRange(tc.position))
		})
	}
}
