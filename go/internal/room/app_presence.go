package room

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/timeline/go/internal/models"
)

// Disconnect removes the player bound to connectionID and keeps a snapshot for rejoin.
func (a *App) Disconnect(ctx context.Context, roomID, connectionID string) (*DisconnectResult, error) {
	res := &DisconnectResult{}
	state, err := a.mutate(ctx, roomID, func(st *models.RoomState) error {
		idx := -1
		for i := range st.Players {
			if st.Players[i].ConnectionID == connectionID {
				idx = i
				break
			}
		}
		if idx < 0 {
			return fmt.Errorf("connection %s not in room: %w", connectionID, ErrNotFound)
		}

		now := a.clock.Now()
		left := st.Players[idx]
		left.IsHost = false
		res.Player = left

		snap := models.DisconnectedPlayer{
			PlayerID:     left.ID,
			Username:     left.Username,
			Timeline:     left.Timeline,
			Coins:        left.Coins,
			WasHost:      st.HostID == left.ID,
			LastActiveAt: now,
		}
		if i := snapshotIndex(st, left.Username); i >= 0 {
			st.DisconnectedPlayers[i] = snap
		} else {
			st.DisconnectedPlayers = append(st.DisconnectedPlayers, snap)
		}

		res.TurnReset = false
		n := len(st.Players)
		cur := st.GameState.CurrentTurnIndex % n
		if cur < 0 {
			cur += n
		}
		st.Players = append(st.Players[:idx], st.Players[idx+1:]...)

		switch {
		case idx < cur:
			st.GameState.CurrentTurnIndex = cur - 1
		case idx == cur:
			if cur >= len(st.Players) {
				cur = 0
			}
			st.GameState.CurrentTurnIndex = cur
			if st.GameState.IsActive {
				st.GameState.LastTurnStartedAt = now
				st.GameState.CurrentCard = nil
				st.GameState.CardPlaced = false
				st.GameState.ActiveBets = []models.Bet{}
				res.TurnReset = true
			}
		default:
			st.GameState.CurrentTurnIndex = cur
		}

		if st.IsEmpty() {
			st.HostID = uuid.Nil
			st.EmptySince = &now
			return nil
		}

		if snap.WasHost {
			for i := range st.Players {
				st.Players[i].IsHost = i == 0
			}
			st.HostID = st.Players[0].ID
			newHost := st.Players[0]
			res.NewHost = &newHost
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to disconnect player: %w", err)
	}

	res.Room = state
	ev := log.Info().Str("room_id", roomID).Str("player_id", res.Player.ID.String())
	if res.NewHost != nil {
		ev = ev.Str("new_host", res.NewHost.ID.String())
	}
	ev.Bool("room_empty", state.IsEmpty()).Msg("Player left room")
	return res, nil
}

// DeleteIfEmpty deletes the room if it has been empty since before cutoff.
// The check runs under the room lock, so a rejoin that landed first wins.
func (a *App) DeleteIfEmpty(ctx context.Context, roomID string, cutoff time.Time) (bool, error) {
	return a.deleteIf(ctx, roomID, func(st *models.RoomState) bool {
		return st.IsEmpty() && st.EmptySince != nil && !st.EmptySince.After(cutoff)
	})
}

// DeleteIfStale deletes the room if nothing happened in it since cutoff.
func (a *App) DeleteIfStale(ctx context.Context, roomID string, cutoff time.Time) (bool, error) {
	return a.deleteIf(ctx, roomID, func(st *models.RoomState) bool {
		return st.LastActiveAt.Before(cutoff)
	})
}

func (a *App) deleteIf(ctx context.Context, roomID string, cond func(*models.RoomState) bool) (bool, error) {
	unlock := a.locks.Lock(roomID)
	defer unlock()

	st, err := a.load(ctx, roomID)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if !cond(st) {
		return false, nil
	}

	sctx, cancel := a.storeCtx(ctx)
	defer cancel()
	if err := a.store.Delete(sctx, roomID); err != nil {
		return false, fmt.Errorf("failed to delete room %s: %w", roomID, storeErr(err))
	}
	log.Info().Str("room_id", roomID).Msg("Deleted room")
	return true, nil
}

// PruneSnapshots drops disconnected player snapshots last active before cutoff.
// It returns how many were removed.
func (a *App) PruneSnapshots(ctx context.Context, roomID string, cutoff time.Time) (int, error) {
	pruned := 0
	_, err := a.housekeep(ctx, roomID, func(st *models.RoomState) error {
		pruned = 0
		kept := st.DisconnectedPlayers[:0]
		for _, snap := range st.DisconnectedPlayers {
			if snap.LastActiveAt.Before(cutoff) {
				pruned++
				continue
			}
			kept = append(kept, snap)
		}
		if pruned == 0 {
			return errSkipSave
		}
		st.DisconnectedPlayers = kept
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to prune snapshots: %w", err)
	}
	return pruned, nil
}

func (a *App) restore(st *models.RoomState, username, connectionID string) (models.Player, error) {
	i := snapshotIndex(st, username)
	if i < 0 {
		return models.Player{}, fmt.Errorf("no disconnected player named %q: %w", username, ErrNotFound)
	}
	snap := st.DisconnectedPlayers[i]

	timelineCopy := snap.Timeline
	if timelineCopy == nil {
		timelineCopy = []models.TimelineEntry{}
	}
	p := models.Player{
		ID:           snap.PlayerID,
		ConnectionID: connectionID,
		Username:     snap.Username,
		Timeline:     timelineCopy,
		Coins:        snap.Coins,
	}
	if st.IsEmpty() {
		p.IsHost = true
		st.HostID = p.ID
	}

	st.Players = append(st.Players, p)
	st.DisconnectedPlayers = append(st.DisconnectedPlayers[:i], st.DisconnectedPlayers[i+1:]...)
	st.EmptySince = nil
	return p, nil
}

func checkJoinable(st *models.RoomState, username, connectionID string) error {
	if st.PlayerByUsername(username) != nil {
		return fmt.Errorf("username %q already in room: %w", username, ErrInvalidState)
	}
	if connectionID != "" && st.PlayerByConnection(connectionID) != nil {
		return fmt.Errorf("connection already in room: %w", ErrInvalidState)
	}
	if len(st.Players) >= st.MaxPlayers {
		return ErrRoomFull
	}
	return nil
}

func snapshotIndex(st *models.RoomState, username string) int {
	for i, snap := range st.DisconnectedPlayers {
		if snap.Username == username {
			return i
		}
	}
	return -1
}

// ListActiveRooms returns the ids of rooms with a running game.
func (a *App) ListActiveRooms(ctx context.Context) ([]string, error) {
	return a.list(ctx, a.store.ListActive)
}

// FindEmptyRooms returns rooms empty since before cutoff.
func (a *App) FindEmptyRooms(ctx context.Context, cutoff time.Time) ([]string, error) {
	return a.list(ctx, func(ctx context.Context) ([]string, error) {
		return a.store.FindEmptySince(ctx, cutoff)
	})
}

// FindStaleRooms returns rooms with no activity since cutoff.
func (a *App) FindStaleRooms(ctx context.Context, cutoff time.Time) ([]string, error) {
	return a.list(ctx, func(ctx context.Context) ([]string, error) {
		return a.store.FindStale(ctx, cutoff)
	})
}

// FindRoomsWithSnapshots returns rooms that still hold disconnected players.
func (a *App) FindRoomsWithSnapshots(ctx context.Context) ([]string, error) {
	return a.list(ctx, a.store.FindWithSnapshots)
}

func (a *App) list(ctx context.Context, query func(context.Context) ([]string, error)) ([]string, error) {
	sctx, cancel := a.storeCtx(ctx)
	defer cancel()

	ids, err := query(sctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list rooms: %w", storeErr(err))
	}
	return ids, nil
}
