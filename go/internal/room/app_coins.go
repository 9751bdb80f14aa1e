package room

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/mcdev12/timeline/go/internal/models"
	"github.com/mcdev12/timeline/go/internal/timeline"
)

const (
	betStake  = 1
	betPayout = 2
)

// ManageCoins adds or removes one coin from a player. Host only.
func (a *App) ManageCoins(ctx context.Context, roomID, callerID, targetID string, delta int) (*CoinResult, error) {
	res := &CoinResult{}
	state, err := a.mutate(ctx, roomID, func(st *models.RoomState) error {
		if err := requireHost(st, callerID); err != nil {
			return err
		}
		if delta != 1 && delta != -1 {
			return fmt.Errorf("coin delta must be +1 or -1, got %d: %w", delta, ErrInvalidState)
		}
		target := findPlayer(st, targetID)
		if target == nil {
			return fmt.Errorf("player %s: %w", targetID, ErrNotFound)
		}
		if target.Coins+delta < 0 {
			return fmt.Errorf("player %s has no coins to remove: %w", targetID, ErrNoOp)
		}
		target.Coins += delta
		res.Target = *target
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to manage coins: %w", err)
	}

	res.Room = state
	log.Debug().Str("room_id", roomID).Str("player_id", res.Target.ID.String()).Int("coins", res.Target.Coins).Msg("Coins updated")
	return res, nil
}

// SubmitBet stakes one coin on a guess about the current card.
func (a *App) SubmitBet(ctx context.Context, roomID, connectionID string, guess models.Guess) (*BetResult, error) {
	res := &BetResult{}
	state, err := a.mutate(ctx, roomID, func(st *models.RoomState) error {
		p := st.PlayerByConnection(connectionID)
		if p == nil {
			return fmt.Errorf("connection %s not in room: %w", connectionID, ErrForbidden)
		}
		gs := &st.GameState
		if !gs.IsActive || gs.CurrentCard == nil {
			return fmt.Errorf("no card to bet on: %w", ErrInvalidState)
		}
		for _, b := range gs.ActiveBets {
			if b.PlayerID == p.ID && !b.Resolved {
				return fmt.Errorf("player already has an open bet: %w", ErrInvalidState)
			}
		}
		if p.Coins < betStake {
			return ErrInsufficientFunds
		}

		p.Coins -= betStake
		bet := models.Bet{
			PlayerID:   p.ID,
			PlayerName: p.Username,
			SongID:     gs.CurrentCard.ID,
			Guess: models.Guess{
				Artist: strings.TrimSpace(guess.Artist),
				Song:   strings.TrimSpace(guess.Song),
			},
		}
		gs.ActiveBets = append(gs.ActiveBets, bet)

		res.Bet = bet
		bettor := *p
		res.Bettor = &bettor
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to submit bet: %w", err)
	}

	res.Room = state
	return res, nil
}

// ResolveBet settles a player's open bet. A correct guess pays out, a wrong one
// costs the bettor the matching card from their timeline. Host only.
func (a *App) ResolveBet(ctx context.Context, roomID, callerID, playerID string, correct bool) (*BetResult, error) {
	res := &BetResult{}
	state, err := a.mutate(ctx, roomID, func(st *models.RoomState) error {
		if err := requireHost(st, callerID); err != nil {
			return err
		}

		var bet *models.Bet
		for i := range st.GameState.ActiveBets {
			b := &st.GameState.ActiveBets[i]
			if b.PlayerID.String() == playerID && !b.Resolved {
				bet = b
				break
			}
		}
		if bet == nil {
			return fmt.Errorf("no open bet for player %s: %w", playerID, ErrNotFound)
		}
		bet.Resolved = true

		if bettor := st.PlayerByID(bet.PlayerID); bettor != nil {
			if correct {
				bettor.Coins += betPayout
			} else {
				bettor.Timeline, _ = timeline.Remove(bettor.Timeline, bet.SongID)
			}
			b := *bettor
			res.Bettor = &b
		}
		res.Bet = *bet
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to resolve bet: %w", err)
	}

	res.Room = state
	log.Debug().Str("room_id", roomID).Str("player_id", playerID).Bool("correct", correct).Msg("Bet resolved")
	return res, nil
}
