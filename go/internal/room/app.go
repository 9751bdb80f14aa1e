package room

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/timeline/go/internal/catalog"
	"github.com/mcdev12/timeline/go/internal/models"
	"github.com/mcdev12/timeline/go/internal/timeline"
)

const (
	maxSaveAttempts   = 3
	maxCreateAttempts = 5
	maxUsernameLength = 32
	maxRoomPlayers    = 100
	maxTurnLimitSec   = 3600
)

// errSkipSave ends a mutation without writing anything.
var errSkipSave = errors.New("skip save")

// App handles room business logic. Every mutation runs under the room lock and
// is saved with a version check.
type App struct {
	store     Store
	songs     catalog.Catalog
	clock     clockwork.Clock
	locks     *Locker
	cfg       Config
	newRoomID func() (string, error)
}

// NewApp creates a new room App
func NewApp(store Store, songs catalog.Catalog, clock clockwork.Clock, cfg Config) *App {
	if cfg.StoreTimeout <= 0 {
		cfg.StoreTimeout = DefaultConfig().StoreTimeout
	}
	return &App{
		store:     store,
		songs:     songs,
		clock:     clock,
		locks:     NewLocker(),
		cfg:       cfg,
		newRoomID: randomRoomID,
	}
}

// Clock returns the clock the App stamps state with.
func (a *App) Clock() clockwork.Clock {
	return a.clock
}

// DefaultCardsToWin is the threshold used when a start request names none.
func (a *App) DefaultCardsToWin() int {
	return a.cfg.CardsToWin
}

func randomRoomID() (string, error) {
	b := make([]byte, 3)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// CreateRoom creates a room with the caller as host.
func (a *App) CreateRoom(ctx context.Context, hostUsername, connectionID string) (*JoinResult, error) {
	username, err := validateUsername(hostUsername)
	if err != nil {
		return nil, err
	}

	now := a.clock.Now()
	host := models.Player{
		ID:           uuid.New(),
		ConnectionID: connectionID,
		Username:     username,
		Timeline:     []models.TimelineEntry{},
		Coins:        a.cfg.StartingCoins,
		IsHost:       true,
	}

	for attempt := 0; attempt < maxCreateAttempts; attempt++ {
		id, err := a.newRoomID()
		if err != nil {
			return nil, fmt.Errorf("failed to generate room id: %w", err)
		}

		state := &models.RoomState{
			RoomID:              id,
			HostID:              host.ID,
			Players:             []models.Player{host},
			DisconnectedPlayers: []models.DisconnectedPlayer{},
			GameState: models.GameState{
				CardsToWin:           a.cfg.CardsToWin,
				TurnTimeLimitSeconds: a.cfg.TurnTimeLimitSeconds,
				ActiveBets:           []models.Bet{},
			},
			MaxPlayers:   a.cfg.MaxPlayers,
			CreatedAt:    now,
			LastActiveAt: now,
		}

		sctx, cancel := a.storeCtx(ctx)
		err = a.store.Insert(sctx, state)
		cancel()
		if errors.Is(err, ErrConflict) {
			log.Debug().Str("room_id", id).Int("attempt", attempt+1).Msg("room id collision, retrying")
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to create room: %w", storeErr(err))
		}

		log.Info().Str("room_id", id).Str("player_id", host.ID.String()).Msg("Created room")
		return &JoinResult{Room: state, Player: host}, nil
	}

	return nil, fmt.Errorf("failed to create room after %d attempts: %w", maxCreateAttempts, ErrConflict)
}

// GetRoom loads a room without modifying it.
func (a *App) GetRoom(ctx context.Context, roomID string) (*models.RoomState, error) {
	return a.load(ctx, roomID)
}

// JoinRoom adds a player. A username with a retained snapshot rejoins instead.
func (a *App) JoinRoom(ctx context.Context, roomID, username, connectionID string) (*JoinResult, error) {
	name, err := validateUsername(username)
	if err != nil {
		return nil, err
	}

	res := &JoinResult{}
	state, err := a.mutate(ctx, roomID, func(st *models.RoomState) error {
		if err := checkJoinable(st, name, connectionID); err != nil {
			return err
		}

		if snapshotIndex(st, name) >= 0 {
			p, err := a.restore(st, name, connectionID)
			if err != nil {
				return err
			}
			res.Player, res.Rejoined = p, true
			return nil
		}

		p := models.Player{
			ID:           uuid.New(),
			ConnectionID: connectionID,
			Username:     name,
			Timeline:     []models.TimelineEntry{},
			Coins:        a.cfg.StartingCoins,
		}
		if st.IsEmpty() {
			p.IsHost = true
			st.HostID = p.ID
		}
		st.Players = append(st.Players, p)
		st.EmptySince = nil
		res.Player = p
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to join room: %w", err)
	}

	res.Room = state
	log.Info().Str("room_id", roomID).Str("player_id", res.Player.ID.String()).
		Bool("rejoined", res.Rejoined).Msg("Player joined room")
	return res, nil
}

// RejoinRoom restores a disconnected player's snapshot under a new connection.
func (a *App) RejoinRoom(ctx context.Context, roomID, username, connectionID string) (*JoinResult, error) {
	name, err := validateUsername(username)
	if err != nil {
		return nil, err
	}

	res := &JoinResult{Rejoined: true}
	state, err := a.mutate(ctx, roomID, func(st *models.RoomState) error {
		if snapshotIndex(st, name) < 0 {
			return fmt.Errorf("no disconnected player named %q: %w", name, ErrNotFound)
		}
		if err := checkJoinable(st, name, connectionID); err != nil {
			return err
		}
		p, err := a.restore(st, name, connectionID)
		if err != nil {
			return err
		}
		res.Player = p
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to rejoin room: %w", err)
	}

	res.Room = state
	log.Info().Str("room_id", roomID).Str("player_id", res.Player.ID.String()).Msg("Player rejoined room")
	return res, nil
}

// StartGame seeds every player's timeline with a base card and starts the first turn.
func (a *App) StartGame(ctx context.Context, roomID, callerID string, cardsToWin int) (*models.RoomState, error) {
	state, err := a.mutate(ctx, roomID, func(st *models.RoomState) error {
		if err := requireHost(st, callerID); err != nil {
			return err
		}
		if st.GameState.IsActive {
			return fmt.Errorf("game already active: %w", ErrInvalidState)
		}
		if cardsToWin < 1 {
			return fmt.Errorf("cards to win must be at least 1: %w", ErrInvalidState)
		}

		songs, err := a.drawSongs(ctx, len(st.Players))
		if err != nil {
			return err
		}
		if len(songs) == 0 {
			return ErrCatalogEmpty
		}

		for i := range st.Players {
			base := models.NewTimelineEntry(songs[i%len(songs)], 0)
			base.IsBase = true
			base.IsLocked = true
			st.Players[i].Timeline = []models.TimelineEntry{base}
		}
		// Cards from an earlier game do not carry over to a rejoin.
		for i := range st.DisconnectedPlayers {
			st.DisconnectedPlayers[i].Timeline = []models.TimelineEntry{}
		}

		st.GameState.IsActive = true
		st.GameState.CardsToWin = cardsToWin
		st.GameState.CurrentTurnIndex = 0
		st.GameState.LastTurnStartedAt = a.clock.Now()
		st.GameState.ActiveBets = []models.Bet{}
		st.GameState.CurrentCard = nil
		st.GameState.CardPlaced = false
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start game: %w", err)
	}

	log.Info().Str("room_id", roomID).Int("players", len(state.Players)).Int("cards_to_win", cardsToWin).Msg("Game started")
	return state, nil
}

// SelectCard draws the current turn's card for the current player. An empty
// catalog returns a nil song and leaves the room untouched.
func (a *App) SelectCard(ctx context.Context, roomID, connectionID string) (*models.Song, *models.RoomState, error) {
	var drawn *models.Song
	state, err := a.mutate(ctx, roomID, func(st *models.RoomState) error {
		if _, err := requireCurrentPlayer(st, connectionID); err != nil {
			return err
		}
		if st.GameState.CurrentCard != nil {
			return fmt.Errorf("card already drawn this turn: %w", ErrInvalidState)
		}

		songs, err := a.drawSongs(ctx, 1)
		if errors.Is(err, ErrCatalogEmpty) || (err == nil && len(songs) == 0) {
			log.Warn().Str("room_id", st.RoomID).Msg("catalog empty, no card drawn")
			return errSkipSave
		}
		if err != nil {
			return err
		}

		song := songs[0]
		st.GameState.CurrentCard = &song
		st.GameState.CardPlaced = false
		drawn = &song
		return nil
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to select card: %w", err)
	}
	return drawn, state, nil
}

// PlaceCard places the current card at an explicit ordering position.
func (a *App) PlaceCard(ctx context.Context, roomID, connectionID string, songID uuid.UUID, position float64) (*PlaceResult, error) {
	return a.placeCard(ctx, roomID, connectionID, songID, func([]models.TimelineEntry) float64 {
		return position
	})
}

// PlaceCardAtSlot places the current card between the entries at sorted indices slot-1 and slot.
func (a *App) PlaceCardAtSlot(ctx context.Context, roomID, connectionID string, songID uuid.UUID, slot int) (*PlaceResult, error) {
	return a.placeCard(ctx, roomID, connectionID, songID, func(entries []models.TimelineEntry) float64 {
		return timeline.PositionAt(entries, slot)
	})
}

func (a *App) placeCard(ctx context.Context, roomID, connectionID string, songID uuid.UUID, positionFor func([]models.TimelineEntry) float64) (*PlaceResult, error) {
	res := &PlaceResult{}
	state, err := a.mutate(ctx, roomID, func(st *models.RoomState) error {
		p, err := requireCurrentPlayer(st, connectionID)
		if err != nil {
			return err
		}
		gs := &st.GameState
		if gs.CurrentCard == nil || gs.CurrentCard.ID != songID {
			return fmt.Errorf("song %s is not the current card: %w", songID, ErrInvalidState)
		}
		if gs.CardPlaced {
			return fmt.Errorf("card already placed: %w", ErrInvalidState)
		}

		song := *gs.CurrentCard
		position := positionFor(p.Timeline)
		if !timeline.InRange(position) {
			return fmt.Errorf("position %g out of range: %w", position, ErrInvalidState)
		}
		res.Correct = timeline.Validate(p.Timeline, song.Year, position)
		if res.Correct {
			p.Timeline = timeline.Insert(p.Timeline, models.NewTimelineEntry(song, position))
		}
		gs.CardPlaced = true

		res.Song = song
		res.Player = *p
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to place card: %w", err)
	}

	res.Room = state
	log.Debug().Str("room_id", roomID).Str("player_id", res.Player.ID.String()).Bool("correct", res.Correct).Msg("Card placed")
	return res, nil
}

// AdvanceTurn moves the turn to the next player. Host only.
func (a *App) AdvanceTurn(ctx context.Context, roomID, callerID string) (*models.RoomState, error) {
	state, err := a.mutate(ctx, roomID, func(st *models.RoomState) error {
		if err := requireHost(st, callerID); err != nil {
			return err
		}
		if !st.GameState.IsActive {
			return fmt.Errorf("game not active: %w", ErrInvalidState)
		}
		a.advance(st)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to advance turn: %w", err)
	}
	return state, nil
}

// TimeoutTurn advances the turn only if the turn that started at expectedStartedAt
// is still running and has overrun its limit. Otherwise it returns ErrStale.
func (a *App) TimeoutTurn(ctx context.Context, roomID string, expectedStartedAt time.Time) (*models.RoomState, error) {
	state, err := a.mutate(ctx, roomID, func(st *models.RoomState) error {
		gs := st.GameState
		if !gs.IsActive || st.IsEmpty() {
			return ErrStale
		}
		if !gs.LastTurnStartedAt.Equal(expectedStartedAt) {
			return ErrStale
		}
		if a.clock.Since(gs.LastTurnStartedAt) <= gs.TurnTimeLimit() {
			return ErrStale
		}
		a.advance(st)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to time out turn: %w", err)
	}

	log.Info().Str("room_id", roomID).Msg("Turn timed out")
	return state, nil
}

func (a *App) advance(st *models.RoomState) {
	gs := &st.GameState
	if n := len(st.Players); n > 0 {
		gs.CurrentTurnIndex = (gs.CurrentTurnIndex%n + 1) % n
	}
	gs.ActiveBets = []models.Bet{}
	gs.CurrentCard = nil
	gs.CardPlaced = false
	gs.LastTurnStartedAt = a.clock.Now()
}

// CheckWinCondition ends the game when exactly one player has placed cardsToWin
// cards, and starts sudden death when several have.
func (a *App) CheckWinCondition(ctx context.Context, roomID string) (*WinResult, error) {
	res := &WinResult{}
	state, err := a.mutate(ctx, roomID, func(st *models.RoomState) error {
		if !st.GameState.IsActive {
			return fmt.Errorf("game not active: %w", ErrInvalidState)
		}

		var crossers []int
		for i, p := range st.Players {
			if placedCards(p.Timeline) >= st.GameState.CardsToWin {
				crossers = append(crossers, i)
			}
		}

		switch len(crossers) {
		case 0:
			return errSkipSave
		case 1:
			winner := st.Players[crossers[0]]
			a.endGame(st)
			res.Winner = &winner
			res.Scores = scores(st)
		default:
			a.suddenDeath(st)
			res.SuddenDeath = true
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to check win condition: %w", err)
	}

	res.Room = state
	switch {
	case res.Winner != nil:
		log.Info().Str("room_id", roomID).Str("player_id", res.Winner.ID.String()).Msg("Game won")
	case res.SuddenDeath:
		log.Info().Str("room_id", roomID).Int("cards_to_win", state.GameState.CardsToWin).Msg("Sudden death")
	}
	return res, nil
}

// DeclareWinner lets the host end the game with a chosen winner.
func (a *App) DeclareWinner(ctx context.Context, roomID, callerID, winnerID string) (*WinResult, error) {
	res := &WinResult{}
	state, err := a.mutate(ctx, roomID, func(st *models.RoomState) error {
		if err := requireHost(st, callerID); err != nil {
			return err
		}
		if !st.GameState.IsActive {
			return fmt.Errorf("game not active: %w", ErrInvalidState)
		}
		winner := findPlayer(st, winnerID)
		if winner == nil {
			return fmt.Errorf("winner %s: %w", winnerID, ErrNotFound)
		}
		w := *winner
		a.endGame(st)
		res.Winner = &w
		res.Scores = scores(st)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to declare winner: %w", err)
	}

	res.Room = state
	log.Info().Str("room_id", roomID).Str("player_id", res.Winner.ID.String()).Msg("Winner declared")
	return res, nil
}

func (a *App) endGame(st *models.RoomState) {
	st.GameState.IsActive = false
	st.GameState.ActiveBets = []models.Bet{}
	st.GameState.CurrentCard = nil
	st.GameState.CardPlaced = false
}

func (a *App) suddenDeath(st *models.RoomState) {
	for i := range st.Players {
		st.Players[i].Timeline = timeline.TruncateToBase(st.Players[i].Timeline)
	}
	gs := &st.GameState
	gs.CardsToWin++
	gs.CurrentTurnIndex = 0
	gs.LastTurnStartedAt = a.clock.Now()
	gs.ActiveBets = []models.Bet{}
	gs.CurrentCard = nil
	gs.CardPlaced = false
}

// UpdateRoomState applies host settings.
func (a *App) UpdateRoomState(ctx context.Context, roomID, callerID string, patch StatePatch) (*models.RoomState, error) {
	state, err := a.mutate(ctx, roomID, func(st *models.RoomState) error {
		if err := requireHost(st, callerID); err != nil {
			return err
		}
		if v := patch.TurnTimeLimitSeconds; v != nil {
			if *v < 1 || *v > maxTurnLimitSec {
				return fmt.Errorf("turn time limit must be between 1 and %d: %w", maxTurnLimitSec, ErrInvalidState)
			}
			st.GameState.TurnTimeLimitSeconds = *v
		}
		if v := patch.CardsToWin; v != nil {
			if st.GameState.IsActive {
				return fmt.Errorf("cards to win cannot change during a game: %w", ErrInvalidState)
			}
			if *v < 1 {
				return fmt.Errorf("cards to win must be at least 1: %w", ErrInvalidState)
			}
			st.GameState.CardsToWin = *v
		}
		if v := patch.MaxPlayers; v != nil {
			if *v < len(st.Players) || *v < 1 || *v > maxRoomPlayers {
				return fmt.Errorf("max players must be between %d and %d: %w", max(len(st.Players), 1), maxRoomPlayers, ErrInvalidState)
			}
			st.MaxPlayers = *v
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to update room: %w", err)
	}
	return state, nil
}

func placedCards(entries []models.TimelineEntry) int {
	n := 0
	for _, e := range entries {
		if !e.IsBase {
			n++
		}
	}
	return n
}

func scores(st *models.RoomState) []models.PlayerScore {
	out := make([]models.PlayerScore, 0, len(st.Players))
	for _, p := range st.Players {
		out = append(out, models.PlayerScore{
			PlayerID: p.ID.String(),
			Username: p.Username,
			Score:    timeline.Score(p.Timeline),
			Cards:    len(p.Timeline),
		})
	}
	return out
}

func validateUsername(username string) (string, error) {
	name := strings.TrimSpace(username)
	if name == "" {
		return "", fmt.Errorf("username is required: %w", ErrInvalidState)
	}
	if len(name) > maxUsernameLength {
		return "", fmt.Errorf("username longer than %d characters: %w", maxUsernameLength, ErrInvalidState)
	}
	return name, nil
}
