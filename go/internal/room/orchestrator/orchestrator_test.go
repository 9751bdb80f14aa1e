package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcdev12/timeline/go/internal/catalog"
	"github.com/mcdev12/timeline/go/internal/models"
	"github.com/mcdev12/timeline/go/internal/room"
	"github.com/mcdev12/timeline/go/internal/room/events"
)

type recordingBroadcaster struct {
	mu     sync.Mutex
	events []events.EventType
}

func (b *recordingBroadcaster) Broadcast(_ string, eventType events.EventType, _ any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, eventType)
}

func (b *recordingBroadcaster) types() []events.EventType {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]events.EventType(nil), b.events...)
}

var epoch = time.Date(2024, 6, 1, 20, 0, 0, 0, time.UTC)

func newApp(clock clockwork.Clock) *room.App {
	return room.NewApp(room.NewMemoryRepository(), catalog.NewMemory(catalog.SampleSongs()), clock, room.DefaultConfig())
}

// startedRoom returns the id of a running two player game.
func startedRoom(t *testing.T, app *room.App) string {
	t.Helper()
	ctx := context.Background()
	created, err := app.CreateRoom(ctx, "host", "conn-host")
	require.NoError(t, err)
	_, err = app.JoinRoom(ctx, created.Room.RoomID, "bob", "conn-bob")
	require.NoError(t, err)
	_, err = app.StartGame(ctx, created.Room.RoomID, "conn-host", 5)
	require.NoError(t, err)
	return created.Room.RoomID
}

func TestTickTimesOutOverrunTurn(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	clock := clockwork.NewFakeClockAt(epoch)
	app := newApp(clock)
	bc := &recordingBroadcaster{}
	o := NewOrchestrator(app, bc, clock)
	roomID := startedRoom(t, app)

	clock.Advance(59 * time.Second)
	require.NoError(t, o.Tick(ctx, roomID))
	assert.Empty(t, bc.types())

	clock.Advance(2 * time.Second)
	require.NoError(t, o.Tick(ctx, roomID))
	assert.Equal(t, []events.EventType{events.EventTypeTurnTimeout, events.EventTypeTurnStart}, bc.types())

	st, err := app.GetRoom(ctx, roomID)
	require.NoError(t, err)
	assert.Equal(t, 1, st.GameState.CurrentTurnIndex)
	assert.True(t, clock.Now().Equal(st.GameState.LastTurnStartedAt))

	require.NoError(t, o.Tick(ctx, roomID))
	assert.Len(t, bc.types(), 2, "fresh turn is not timed out again")
}

// flakyApp fails the next failures loads as an unreachable store would.
type flakyApp struct {
	*room.App
	mu       sync.Mutex
	failures int
}

func (a *flakyApp) GetRoom(ctx context.Context, roomID string) (*models.RoomState, error) {
	a.mu.Lock()
	fail := a.failures > 0
	if fail {
		a.failures--
	}
	a.mu.Unlock()
	if fail {
		return nil, fmt.Errorf("failed to load room %s: %w", roomID, room.ErrStoreUnavailable)
	}
	return a.App.GetRoom(ctx, roomID)
}

func TestTickRetriesAfterStoreFailure(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	clock := clockwork.NewFakeClockAt(epoch)
	app := &flakyApp{App: newApp(clock)}
	bc := &recordingBroadcaster{}
	o := NewOrchestrator(app, bc, clock)
	roomID := startedRoom(t, app.App)

	o.Schedule(roomID)
	t.Cleanup(func() { o.Cancel(roomID) })
	clock.Advance(61 * time.Second)

	app.failures = 1
	err := o.Tick(ctx, roomID)
	require.ErrorIs(t, err, room.ErrStoreUnavailable)
	assert.Equal(t, 1, o.ActiveRooms())
	assert.Empty(t, bc.types())

	require.NoError(t, o.Tick(ctx, roomID))
	assert.Equal(t, []events.EventType{events.EventTypeTurnTimeout, events.EventTypeTurnStart}, bc.types())
	assert.Equal(t, 1, o.ActiveRooms())
}

func TestTickCancelsFinishedRooms(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	clock := clockwork.NewFakeClockAt(epoch)
	app := newApp(clock)
	o := NewOrchestrator(app, &recordingBroadcaster{}, clock)

	created, err := app.CreateRoom(ctx, "host", "conn-host")
	require.NoError(t, err)

	o.Schedule(created.Room.RoomID)
	o.Schedule("gone")
	require.Equal(t, 2, o.ActiveRooms())

	require.NoError(t, o.Tick(ctx, created.Room.RoomID))
	require.NoError(t, o.Tick(ctx, "gone"))
	assert.Zero(t, o.ActiveRooms())
}

func TestScheduleIsIdempotent(t *testing.T) {
	t.Parallel()
	clock := clockwork.NewFakeClockAt(epoch)
	o := NewOrchestrator(newApp(clock), &recordingBroadcaster{}, clock)

	o.Schedule("abc123")
	o.Schedule("abc123")
	assert.Equal(t, 1, o.ActiveRooms())

	o.Cancel("abc123")
	o.Cancel("abc123")
	assert.Zero(t, o.ActiveRooms())
}

func TestRunResumesActiveRoomsAndFiresTimeouts(t *testing.T) {
	t.Parallel()
	clock := clockwork.NewFakeClockAt(epoch)
	app := newApp(clock)
	bc := &recordingBroadcaster{}
	o := NewOrchestrator(app, bc, clock)
	startedRoom(t, app)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- o.Run(ctx) }()

	require.Eventually(t, func() bool { return o.ActiveRooms() == 1 }, 2*time.Second, 5*time.Millisecond)

	require.Eventually(t, func() bool {
		clock.Advance(time.Second)
		return len(bc.types()) >= 2
	}, 5*time.Second, 5*time.Millisecond)
	assert.Equal(t, []events.EventType{events.EventTypeTurnTimeout, events.EventTypeTurnStart}, bc.types()[:2])

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("orchestrator did not stop")
	}
	assert.Zero(t, o.ActiveRooms())
}
