// Package catalog provides the song source that rooms draw cards from.
package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/google/uuid"

	"github.com/mcdev12/timeline/go/internal/models"
)

// ErrEmpty is returned when the catalog has no songs to hand out.
var ErrEmpty = errors.New("song catalog is empty")

// Catalog draws random songs.
type Catalog interface {
	GetRandom(ctx context.Context, n int) ([]models.Song, error)
}

// LoadFile reads a JSON array of songs. Songs without an id get a fresh one.
func LoadFile(path string) ([]models.Song, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read song file: %w", err)
	}

	var songs []models.Song
	if err := json.Unmarshal(data, &songs); err != nil {
		return nil, fmt.Errorf("failed to decode song file: %w", err)
	}

	for i := range songs {
		if songs[i].ID == uuid.Nil {
			songs[i].ID = uuid.New()
		}
		if songs[i].Title == "" || songs[i].Artist == "" || songs[i].Year == 0 {
			return nil, fmt.Errorf("song %d: title, artist and year are required", i)
		}
	}
	return songs, nil
}
