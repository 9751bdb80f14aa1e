package room

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/mcdev12/timeline/go/internal/catalog"
	"github.com/mcdev12/timeline/go/internal/models"
)

// mutate runs fn against a fresh copy of the room and saves the result. The whole
// load, fn, save cycle is retried when another writer bumped the version first.
// fn returning errSkipSave ends the call successfully without a write.
func (a *App) mutate(ctx context.Context, roomID string, fn func(st *models.RoomState) error) (*models.RoomState, error) {
	return a.apply(ctx, roomID, true, fn)
}

// housekeep is mutate for maintenance writes. LastActiveAt is left alone so
// the write does not count as room activity.
func (a *App) housekeep(ctx context.Context, roomID string, fn func(st *models.RoomState) error) (*models.RoomState, error) {
	return a.apply(ctx, roomID, false, fn)
}

func (a *App) apply(ctx context.Context, roomID string, touch bool, fn func(st *models.RoomState) error) (*models.RoomState, error) {
	unlock := a.locks.Lock(roomID)
	defer unlock()

	for attempt := 1; attempt <= maxSaveAttempts; attempt++ {
		st, err := a.load(ctx, roomID)
		if err != nil {
			return nil, err
		}

		if err := fn(st); err != nil {
			if errors.Is(err, errSkipSave) {
				return st, nil
			}
			return nil, err
		}

		if touch {
			st.LastActiveAt = a.clock.Now()
		}

		sctx, cancel := a.storeCtx(ctx)
		err = a.store.Save(sctx, st)
		cancel()
		if errors.Is(err, ErrVersionConflict) {
			log.Debug().Str("room_id", roomID).Int("attempt", attempt).Msg("room version conflict, retrying")
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to save room %s: %w", roomID, storeErr(err))
		}
		return st, nil
	}

	return nil, fmt.Errorf("room %s changed %d times while saving: %w", roomID, maxSaveAttempts, ErrVersionConflict)
}

func (a *App) load(ctx context.Context, roomID string) (*models.RoomState, error) {
	sctx, cancel := a.storeCtx(ctx)
	defer cancel()

	st, err := a.store.Get(sctx, roomID)
	if err != nil {
		return nil, fmt.Errorf("failed to load room %s: %w", roomID, storeErr(err))
	}
	return st, nil
}

func (a *App) drawSongs(ctx context.Context, n int) ([]models.Song, error) {
	sctx, cancel := a.storeCtx(ctx)
	defer cancel()

	songs, err := a.songs.GetRandom(sctx, n)
	if errors.Is(err, catalog.ErrEmpty) {
		return nil, ErrCatalogEmpty
	}
	if err != nil {
		return nil, fmt.Errorf("failed to draw songs: %w", storeErr(err))
	}
	return songs, nil
}

func (a *App) storeCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, a.cfg.StoreTimeout)
}

// storeErr keeps domain errors and folds everything else into ErrStoreUnavailable.
func storeErr(err error) error {
	for _, known := range []error{ErrNotFound, ErrConflict, ErrVersionConflict, ErrCatalogEmpty} {
		if errors.Is(err, known) {
			return err
		}
	}
	return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
}

// findPlayer matches a caller by player id or connection id.
func findPlayer(st *models.RoomState, callerID string) *models.Player {
	if callerID == "" {
		return nil
	}
	for i := range st.Players {
		p := &st.Players[i]
		if p.ID.String() == callerID || p.ConnectionID == callerID {
			return p
		}
	}
	return nil
}

func requireHost(st *models.RoomState, callerID string) error {
	p := findPlayer(st, callerID)
	if p == nil || p.ID != st.HostID {
		return fmt.Errorf("only the host can do this: %w", ErrForbidden)
	}
	return nil
}

func requireCurrentPlayer(st *models.RoomState, connectionID string) (*models.Player, error) {
	if !st.GameState.IsActive {
		return nil, fmt.Errorf("game not active: %w", ErrForbidden)
	}
	cur := st.CurrentPlayer()
	if cur == nil || connectionID == "" || cur.ConnectionID != connectionID {
		return nil, fmt.Errorf("not your turn: %w", ErrForbidden)
	}
	return cur, nil
}
