package room

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/mcdev12/timeline/go/internal/models"
)

type mockCatalog struct {
	mock.Mock
}

func (m *mockCatalog) GetRandom(ctx context.Context, n int) ([]models.Song, error) {
	args := m.Called(ctx, n)
	songs, _ := args.Get(0).([]models.Song)
	return songs, args.Error(1)
}

// conflictStore bumps the stored version behind the caller's back on the first
// conflicts Saves.
type conflictStore struct {
	*MemoryRepository
	mu        sync.Mutex
	conflicts int
	saves     int
}

func (s *conflictStore) Save(ctx context.Context, state *models.RoomState) error {
	s.mu.Lock()
	s.saves++
	inject := s.conflicts > 0
	if inject {
		s.conflicts--
	}
	s.mu.Unlock()

	if inject {
		other, err := s.MemoryRepository.Get(ctx, state.RoomID)
		if err != nil {
			return err
		}
		if err := s.MemoryRepository.Save(ctx, other); err != nil {
			return err
		}
	}
	return s.MemoryRepository.Save(ctx, state)
}

var testEpoch = time.Date(2024, 6, 1, 20, 0, 0, 0, time.UTC)

func song(year int) models.Song {
	return models.Song{
		ID:     uuid.New(),
		Title:  fmt.Sprintf("Song %d", year),
		Artist: fmt.Sprintf("Artist %d", year),
		Year:   year,
	}
}

type fixture struct {
	app   *App
	store *MemoryRepository
	songs *mockCatalog
	clock *clockwork.FakeClock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store: NewMemoryRepository(),
		songs: &mockCatalog{},
		clock: clockwork.NewFakeClockAt(testEpoch),
	}
	f.app = NewApp(f.store, f.songs, f.clock, DefaultConfig())
	return f
}

// room creates a room hosted by "host" on conn-host with guests joined on conn-<name>.
func (f *fixture) room(t *testing.T, guests ...string) (*models.RoomState, []models.Player) {
	t.Helper()
	ctx := context.Background()

	created, err := f.app.CreateRoom(ctx, "host", "conn-host")
	require.NoError(t, err)
	players := []models.Player{created.Player}

	state := created.Room
	for _, g := range guests {
		joined, err := f.app.JoinRoom(ctx, state.RoomID, g, "conn-"+g)
		require.NoError(t, err)
		players = append(players, joined.Player)
		state = joined.Room
	}
	return state, players
}

// started creates a room and starts the game with one base song per player.
func (f *fixture) started(t *testing.T, cardsToWin int, bases []models.Song, guests ...string) (*models.RoomState, []models.Player) {
	t.Helper()
	state, players := f.room(t, guests...)

	f.songs.On("GetRandom", mock.Anything, len(players)).Return(bases, nil).Once()
	state, err := f.app.StartGame(context.Background(), state.RoomID, "conn-host", cardsToWin)
	require.NoError(t, err)
	return state, players
}

// draw makes the current player on conn draw s.
func (f *fixture) draw(t *testing.T, roomID, conn string, s models.Song) {
	t.Helper()
	f.songs.On("GetRandom", mock.Anything, 1).Return([]models.Song{s}, nil).Once()
	got, _, err := f.app.SelectCard(context.Background(), roomID, conn)
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, s.ID, got.ID)
}
