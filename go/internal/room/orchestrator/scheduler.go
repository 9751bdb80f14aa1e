package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/mcdev12/timeline/go/internal/room"
	"github.com/mcdev12/timeline/go/internal/room/events"
)

// Schedule starts the turn ticker for roomID. Scheduling a room that already
// has a ticker does nothing.
func (o *Orchestrator) Schedule(roomID string) {
	o.activeTickersMu.Lock()
	defer o.activeTickersMu.Unlock()

	if _, exists := o.activeTickers[roomID]; exists {
		log.Debug().Str("room_id", roomID).Msg("skipping duplicate schedule - ticker already running")
		return
	}

	t := &roomTicker{
		ticker: o.clock.NewTicker(o.interval),
		stop:   make(chan struct{}),
	}
	o.activeTickers[roomID] = t

	go func() {
		for {
			select {
			case <-t.ticker.Chan():
				select {
				case o.workCh <- roomID:
				default:
					log.Warn().Str("room_id", roomID).Msg("tick dropped, work channel full")
				}
			case <-t.stop:
				return
			}
		}
	}()

	log.Debug().Str("room_id", roomID).Dur("interval", o.interval).Msg("scheduled turn ticker")
}

// Cancel stops and removes the ticker for roomID.
func (o *Orchestrator) Cancel(roomID string) {
	o.activeTickersMu.Lock()
	defer o.activeTickersMu.Unlock()

	if t, exists := o.activeTickers[roomID]; exists {
		t.ticker.Stop()
		close(t.stop)
		delete(o.activeTickers, roomID)
		log.Debug().Str("room_id", roomID).Msg("cancelled turn ticker")
	}
}

// Tick checks one room's turn deadline. Rooms that are gone or no longer active
// lose their ticker. An overrun turn is timed out and announced.
func (o *Orchestrator) Tick(ctx context.Context, roomID string) error {
	st, err := o.app.GetRoom(ctx, roomID)
	if errors.Is(err, room.ErrNotFound) {
		o.Cancel(roomID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to load room: %w", err)
	}

	gs := st.GameState
	if !gs.IsActive {
		o.Cancel(roomID)
		return nil
	}
	current := st.CurrentPlayer()
	if current == nil || o.clock.Since(gs.LastTurnStartedAt) <= gs.TurnTimeLimit() {
		return nil
	}
	timedOut := events.RefOf(*current)

	next, err := o.app.TimeoutTurn(ctx, roomID, gs.LastTurnStartedAt)
	if errors.Is(err, room.ErrStale) {
		log.Debug().Str("room_id", roomID).Msg("turn changed before timeout, skipping")
		return nil
	}
	if err != nil {
		return err
	}

	o.broadcaster.Broadcast(roomID, events.EventTypeTurnTimeout, events.TurnEndedPayload{PlayerRef: timedOut})
	o.broadcaster.Broadcast(roomID, events.EventTypeTurnStart, events.TurnStart(next))
	return nil
}
