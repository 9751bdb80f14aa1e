package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcdev12/timeline/go/internal/room"
)

func TestSweepDeletesEmptyRoomsAfterRetention(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	clock := clockwork.NewFakeClockAt(epoch)
	app := newApp(clock)

	var deleted []string
	s := NewSweeper(app, clock, DefaultSweepConfig(), func(id string) { deleted = append(deleted, id) })

	created, err := app.CreateRoom(ctx, "host", "conn-host")
	require.NoError(t, err)
	_, err = app.Disconnect(ctx, created.Room.RoomID, "conn-host")
	require.NoError(t, err)

	clock.Advance(10 * time.Minute)
	assert.Equal(t, SweepStats{}, s.Sweep(ctx))

	clock.Advance(21 * time.Minute)
	stats := s.Sweep(ctx)
	assert.Equal(t, 1, stats.DeletedEmpty)
	assert.Equal(t, []string{created.Room.RoomID}, deleted)

	_, err = app.GetRoom(ctx, created.Room.RoomID)
	assert.ErrorIs(t, err, room.ErrNotFound)
}

func TestSweepSparesRejoinedRoom(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	clock := clockwork.NewFakeClockAt(epoch)
	app := newApp(clock)
	s := NewSweeper(app, clock, DefaultSweepConfig(), nil)

	created, err := app.CreateRoom(ctx, "host", "conn-host")
	require.NoError(t, err)
	_, err = app.Disconnect(ctx, created.Room.RoomID, "conn-host")
	require.NoError(t, err)

	clock.Advance(29 * time.Minute)
	_, err = app.RejoinRoom(ctx, created.Room.RoomID, "host", "conn-host-2")
	require.NoError(t, err)

	clock.Advance(5 * time.Minute)
	assert.Zero(t, s.Sweep(ctx).DeletedEmpty)

	_, err = app.GetRoom(ctx, created.Room.RoomID)
	assert.NoError(t, err)
}

func TestSweepDeletesStaleRooms(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	clock := clockwork.NewFakeClockAt(epoch)
	app := newApp(clock)
	s := NewSweeper(app, clock, DefaultSweepConfig(), nil)

	created, err := app.CreateRoom(ctx, "host", "conn-host")
	require.NoError(t, err)

	clock.Advance(time.Hour)
	assert.Zero(t, s.Sweep(ctx).DeletedStale)

	clock.Advance(90 * time.Minute)
	assert.Equal(t, 1, s.Sweep(ctx).DeletedStale)

	_, err = app.GetRoom(ctx, created.Room.RoomID)
	assert.ErrorIs(t, err, room.ErrNotFound)
}

func TestSweepPrunesOldSnapshots(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	clock := clockwork.NewFakeClockAt(epoch)
	app := newApp(clock)
	s := NewSweeper(app, clock, DefaultSweepConfig(), nil)

	created, err := app.CreateRoom(ctx, "host", "conn-host")
	require.NoError(t, err)
	_, err = app.JoinRoom(ctx, created.Room.RoomID, "bob", "conn-bob")
	require.NoError(t, err)
	_, err = app.Disconnect(ctx, created.Room.RoomID, "conn-bob")
	require.NoError(t, err)

	clock.Advance(31 * time.Minute)
	assert.Equal(t, 1, s.Sweep(ctx).PrunedSnapshots)

	_, err = app.RejoinRoom(ctx, created.Room.RoomID, "bob", "conn-bob-2")
	assert.ErrorIs(t, err, room.ErrNotFound)
}
