package room

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/mcdev12/timeline/go/internal/models"
)

func TestDisconnectTransfersHost(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)
	st, players := f.room(t, "bob", "carol")

	res, err := f.app.Disconnect(ctx, st.RoomID, "conn-host")
	require.NoError(t, err)
	require.NotNil(t, res.NewHost)
	assert.Equal(t, players[1].ID, res.NewHost.ID)
	assert.Equal(t, players[1].ID, res.Room.HostID)
	assert.True(t, res.Room.Players[0].IsHost)
	assert.False(t, res.Room.Players[1].IsHost)
	require.Len(t, res.Room.DisconnectedPlayers, 1)
	assert.True(t, res.Room.DisconnectedPlayers[0].WasHost)

	res, err = f.app.Disconnect(ctx, st.RoomID, "conn-carol")
	require.NoError(t, err)
	assert.Nil(t, res.NewHost)

	_, err = f.app.Disconnect(ctx, st.RoomID, "conn-carol")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDisconnectKeepsCurrentPlayer(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	bases := []models.Song{song(1970), song(1980), song(1990)}

	t.Run("earlier player leaves", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		st, players := f.started(t, 5, bases, "bob", "carol")
		_, err := f.app.AdvanceTurn(ctx, st.RoomID, "conn-host")
		require.NoError(t, err)
		got, err := f.app.AdvanceTurn(ctx, st.RoomID, "conn-host")
		require.NoError(t, err)
		require.Equal(t, players[2].ID, got.CurrentPlayer().ID)
		started := got.GameState.LastTurnStartedAt

		f.clock.Advance(time.Second)
		res, err := f.app.Disconnect(ctx, st.RoomID, "conn-bob")
		require.NoError(t, err)
		assert.Equal(t, players[2].ID, res.Room.CurrentPlayer().ID)
		assert.Equal(t, 1, res.Room.GameState.CurrentTurnIndex)
		assert.False(t, res.TurnReset)
		assert.True(t, started.Equal(res.Room.GameState.LastTurnStartedAt))
	})

	t.Run("current player leaves", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		st, players := f.started(t, 5, bases, "bob", "carol")
		_, err := f.app.AdvanceTurn(ctx, st.RoomID, "conn-host")
		require.NoError(t, err)
		f.draw(t, st.RoomID, "conn-bob", song(2000))

		f.clock.Advance(time.Second)
		res, err := f.app.Disconnect(ctx, st.RoomID, "conn-bob")
		require.NoError(t, err)
		assert.Equal(t, players[2].ID, res.Room.CurrentPlayer().ID)
		assert.Nil(t, res.Room.GameState.CurrentCard)
		assert.True(t, res.TurnReset)
		assert.True(t, f.clock.Now().Equal(res.Room.GameState.LastTurnStartedAt))
	})

	t.Run("last slot wraps to the front", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		st, players := f.started(t, 5, bases, "bob", "carol")
		for i := 0; i < 2; i++ {
			_, err := f.app.AdvanceTurn(ctx, st.RoomID, "conn-host")
			require.NoError(t, err)
		}

		res, err := f.app.Disconnect(ctx, st.RoomID, "conn-carol")
		require.NoError(t, err)
		assert.Equal(t, 0, res.Room.GameState.CurrentTurnIndex)
		assert.Equal(t, players[0].ID, res.Room.CurrentPlayer().ID)
	})
}

func TestRejoinRestoresSnapshot(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)
	st, players := f.started(t, 5, []models.Song{song(1970), song(1980)}, "bob")
	bob := players[1]

	_, err := f.app.ManageCoins(ctx, st.RoomID, "conn-host", bob.ID.String(), 1)
	require.NoError(t, err)
	_, err = f.app.Disconnect(ctx, st.RoomID, "conn-bob")
	require.NoError(t, err)

	_, err = f.app.RejoinRoom(ctx, st.RoomID, "nobody", "conn-x")
	assert.ErrorIs(t, err, ErrNotFound)

	res, err := f.app.RejoinRoom(ctx, st.RoomID, "bob", "conn-bob-2")
	require.NoError(t, err)
	assert.True(t, res.Rejoined)
	assert.Equal(t, bob.ID, res.Player.ID)
	assert.Equal(t, "conn-bob-2", res.Player.ConnectionID)
	assert.Equal(t, 3, res.Player.Coins)
	require.Len(t, res.Player.Timeline, 1)
	assert.Equal(t, 1980, res.Player.Timeline[0].Year)
	assert.False(t, res.Player.IsHost)
	assert.Empty(t, res.Room.DisconnectedPlayers)
	assert.Equal(t, bob.ID, res.Room.Players[len(res.Room.Players)-1].ID)
}

func TestRejoinAfterNewGameDropsOldCards(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)
	st, players := f.started(t, 1, []models.Song{song(1990), song(1980)}, "bob")

	_, err := f.app.AdvanceTurn(ctx, st.RoomID, "conn-host")
	require.NoError(t, err)
	card := song(1995)
	f.draw(t, st.RoomID, "conn-bob", card)
	placed, err := f.app.PlaceCardAtSlot(ctx, st.RoomID, "conn-bob", card.ID, 1)
	require.NoError(t, err)
	require.True(t, placed.Correct)

	_, err = f.app.Disconnect(ctx, st.RoomID, "conn-bob")
	require.NoError(t, err)
	_, err = f.app.DeclareWinner(ctx, st.RoomID, "conn-host", players[0].ID.String())
	require.NoError(t, err)

	f.songs.On("GetRandom", mock.Anything, 1).Return([]models.Song{song(1970)}, nil).Once()
	_, err = f.app.StartGame(ctx, st.RoomID, "conn-host", 1)
	require.NoError(t, err)

	res, err := f.app.RejoinRoom(ctx, st.RoomID, "bob", "conn-bob-2")
	require.NoError(t, err)
	assert.Empty(t, res.Player.Timeline)

	win, err := f.app.CheckWinCondition(ctx, st.RoomID)
	require.NoError(t, err)
	assert.Nil(t, win.Winner)
	assert.False(t, win.SuddenDeath)
	assert.True(t, win.Room.GameState.IsActive)
}

func TestJoinWithSnapshotUsernameRejoins(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)
	st, players := f.room(t, "bob")

	_, err := f.app.Disconnect(ctx, st.RoomID, "conn-bob")
	require.NoError(t, err)

	res, err := f.app.JoinRoom(ctx, st.RoomID, "bob", "conn-bob-2")
	require.NoError(t, err)
	assert.True(t, res.Rejoined)
	assert.Equal(t, players[1].ID, res.Player.ID)
}

func TestEmptyRoomDeletionIsDeferred(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)
	st, players := f.room(t)
	retention := 30 * time.Minute

	res, err := f.app.Disconnect(ctx, st.RoomID, "conn-host")
	require.NoError(t, err)
	require.NotNil(t, res.Room.EmptySince)
	assert.True(t, res.Room.IsEmpty())

	f.clock.Advance(10 * time.Minute)
	deleted, err := f.app.DeleteIfEmpty(ctx, st.RoomID, f.clock.Now().Add(-retention))
	require.NoError(t, err)
	assert.False(t, deleted)

	rejoined, err := f.app.RejoinRoom(ctx, st.RoomID, "host", "conn-host-2")
	require.NoError(t, err)
	assert.Nil(t, rejoined.Room.EmptySince)
	assert.True(t, rejoined.Player.IsHost)
	assert.Equal(t, players[0].ID, rejoined.Room.HostID)

	f.clock.Advance(time.Hour)
	deleted, err = f.app.DeleteIfEmpty(ctx, st.RoomID, f.clock.Now().Add(-retention))
	require.NoError(t, err)
	assert.False(t, deleted, "occupied room survives")

	_, err = f.app.Disconnect(ctx, st.RoomID, "conn-host-2")
	require.NoError(t, err)
	f.clock.Advance(retention + time.Second)

	deleted, err = f.app.DeleteIfEmpty(ctx, st.RoomID, f.clock.Now().Add(-retention))
	require.NoError(t, err)
	assert.True(t, deleted)

	_, err = f.app.GetRoom(ctx, st.RoomID)
	assert.ErrorIs(t, err, ErrNotFound)

	deleted, err = f.app.DeleteIfEmpty(ctx, st.RoomID, f.clock.Now())
	require.NoError(t, err)
	assert.False(t, deleted)
}

func TestDeleteIfStale(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)
	st, _ := f.room(t)

	deleted, err := f.app.DeleteIfStale(ctx, st.RoomID, f.clock.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.False(t, deleted)

	f.clock.Advance(3 * time.Hour)
	deleted, err = f.app.DeleteIfStale(ctx, st.RoomID, f.clock.Now().Add(-2*time.Hour))
	require.NoError(t, err)
	assert.True(t, deleted)
}

func TestPruneSnapshots(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)
	st, _ := f.room(t, "bob", "carol")

	_, err := f.app.Disconnect(ctx, st.RoomID, "conn-bob")
	require.NoError(t, err)
	f.clock.Advance(20 * time.Minute)
	_, err = f.app.Disconnect(ctx, st.RoomID, "conn-carol")
	require.NoError(t, err)
	f.clock.Advance(15 * time.Minute)

	pruned, err := f.app.PruneSnapshots(ctx, st.RoomID, f.clock.Now().Add(-30*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 1, pruned)

	got, err := f.app.GetRoom(ctx, st.RoomID)
	require.NoError(t, err)
	require.Len(t, got.DisconnectedPlayers, 1)
	assert.Equal(t, "carol", got.DisconnectedPlayers[0].Username)

	pruned, err = f.app.PruneSnapshots(ctx, st.RoomID, f.clock.Now().Add(-30*time.Minute))
	require.NoError(t, err)
	assert.Zero(t, pruned)
}

func TestPruneSnapshotsIsNotActivity(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)
	st, _ := f.room(t, "bob")

	left, err := f.app.Disconnect(ctx, st.RoomID, "conn-bob")
	require.NoError(t, err)
	lastActive := left.Room.LastActiveAt

	f.clock.Advance(time.Hour)
	pruned, err := f.app.PruneSnapshots(ctx, st.RoomID, f.clock.Now().Add(-30*time.Minute))
	require.NoError(t, err)
	require.Equal(t, 1, pruned)

	got, err := f.app.GetRoom(ctx, st.RoomID)
	require.NoError(t, err)
	assert.Empty(t, got.DisconnectedPlayers)
	assert.True(t, got.LastActiveAt.Equal(lastActive))

	f.clock.Advance(90 * time.Minute)
	deleted, err := f.app.DeleteIfStale(ctx, st.RoomID, f.clock.Now().Add(-2*time.Hour))
	require.NoError(t, err)
	assert.True(t, deleted)
}
