package catalog

import (
	"context"
	"math/rand/v2"
	"sync"

	"github.com/google/uuid"

	"github.com/mcdev12/timeline/go/internal/models"
)

// Memory is an in-process catalog.
type Memory struct {
	mu    sync.RWMutex
	songs []models.Song
}

func NewMemory(songs []models.Song) *Memory {
	m := &Memory{}
	m.songs = append(m.songs, songs...)
	return m
}

// GetRandom returns up to n distinct songs in random order.
func (m *Memory) GetRandom(ctx context.Context, n int) ([]models.Song, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	if len(m.songs) == 0 {
		return nil, ErrEmpty
	}
	if n <= 0 {
		return nil, nil
	}
	if n > len(m.songs) {
		n = len(m.songs)
	}

	out := make([]models.Song, 0, n)
	for _, i := range rand.Perm(len(m.songs))[:n] {
		out = append(out, m.songs[i])
	}
	return out, nil
}

// Import adds songs whose id is not present yet and returns how many were added.
func (m *Memory) Import(ctx context.Context, songs []models.Song) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	seen := make(map[uuid.UUID]struct{}, len(m.songs))
	for _, s := range m.songs {
		seen[s.ID] = struct{}{}
	}

	added := 0
	for _, s := range songs {
		if _, ok := seen[s.ID]; ok {
			continue
		}
		seen[s.ID] = struct{}{}
		m.songs = append(m.songs, s)
		added++
	}
	return added, nil
}

// Len returns the number of songs held.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.songs)
}

// SampleSongs is the built-in catalog used when no song file is configured.
func SampleSongs() []models.Song {
	sample := []struct {
		title, artist, album string
		year                 int
	}{
		{"Johnny B. Goode", "Chuck Berry", "Chuck Berry Is on Top", 1958},
		{"I Want to Hold Your Hand", "The Beatles", "Meet the Beatles!", 1963},
		{"Like a Rolling Stone", "Bob Dylan", "Highway 61 Revisited", 1965},
		{"Respect", "Aretha Franklin", "I Never Loved a Man the Way I Love You", 1967},
		{"Bohemian Rhapsody", "Queen", "A Night at the Opera", 1975},
		{"Dancing Queen", "ABBA", "Arrival", 1976},
		{"Stayin' Alive", "Bee Gees", "Saturday Night Fever", 1977},
		{"Billie Jean", "Michael Jackson", "Thriller", 1982},
		{"Take On Me", "a-ha", "Hunting High and Low", 1985},
		{"Sweet Child o' Mine", "Guns N' Roses", "Appetite for Destruction", 1987},
		{"Smells Like Teen Spirit", "Nirvana", "Nevermind", 1991},
		{"Wonderwall", "Oasis", "(What's the Story) Morning Glory?", 1995},
		{"Wannabe", "Spice Girls", "Spice", 1996},
		{"...Baby One More Time", "Britney Spears", "...Baby One More Time", 1998},
		{"Hey Ya!", "OutKast", "Speakerboxxx/The Love Below", 2003},
		{"Crazy in Love", "Beyoncé", "Dangerously in Love", 2003},
		{"Rehab", "Amy Winehouse", "Back to Black", 2006},
		{"Rolling in the Deep", "Adele", "21", 2010},
		{"Uptown Funk", "Mark Ronson", "Uptown Special", 2014},
		{"Blinding Lights", "The Weeknd", "After Hours", 2019},
	}

	songs := make([]models.Song, 0, len(sample))
	for _, s := range sample {
		songs = append(songs, models.Song{
			ID:     uuid.NewSHA1(uuid.NameSpaceURL, []byte(s.artist+"/"+s.title)),
			Title:  s.title,
			Artist: s.artist,
			Album:  s.album,
			Year:   s.year,
		})
	}
	return songs
}
