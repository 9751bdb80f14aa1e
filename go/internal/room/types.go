package room

import (
	"context"
	"time"

	"github.com/mcdev12/timeline/go/internal/models"
)

// Store persists room aggregates. Save is a compare-and-set on RoomState.Version.
type Store interface {
	// Insert stores a new room and fails with ErrConflict when the id is taken.
	Insert(ctx context.Context, state *models.RoomState) error
	// Get returns a private copy of the room or ErrNotFound.
	Get(ctx context.Context, roomID string) (*models.RoomState, error)
	// Save writes state if the stored version still equals state.Version, then bumps
	// state.Version. A mismatch returns ErrVersionConflict.
	Save(ctx context.Context, state *models.RoomState) error
	Delete(ctx context.Context, roomID string) error
	// FindEmptySince lists rooms that have been empty since before cutoff.
	FindEmptySince(ctx context.Context, cutoff time.Time) ([]string, error)
	// FindStale lists rooms whose last activity is before cutoff.
	FindStale(ctx context.Context, cutoff time.Time) ([]string, error)
	// FindWithSnapshots lists rooms holding disconnected player snapshots.
	FindWithSnapshots(ctx context.Context) ([]string, error)
	ListActive(ctx context.Context) ([]string, error)
}

// Config holds the room rules and store limits.
type Config struct {
	StartingCoins        int           `yaml:"starting_coins"`
	MaxPlayers           int           `yaml:"max_players"`
	CardsToWin           int           `yaml:"cards_to_win"`
	TurnTimeLimitSeconds int           `yaml:"turn_time_limit_seconds"`
	StoreTimeout         time.Duration `yaml:"store_timeout"`
}

func DefaultConfig() Config {
	return Config{
		StartingCoins:        models.StartingCoins,
		MaxPlayers:           models.DefaultMaxPlayers,
		CardsToWin:           models.DefaultCardsToWin,
		TurnTimeLimitSeconds: models.DefaultTurnTimeLimitSeconds,
		StoreTimeout:         5 * time.Second,
	}
}

// JoinResult is returned by JoinRoom and RejoinRoom.
type JoinResult struct {
	Room     *models.RoomState
	Player   models.Player
	Rejoined bool
}

// PlaceResult is the outcome of a placement attempt.
type PlaceResult struct {
	Room    *models.RoomState
	Player  models.Player
	Song    models.Song
	Correct bool
}

// WinResult is returned by CheckWinCondition and DeclareWinner. A zero value
// means nobody reached the threshold.
type WinResult struct {
	Room        *models.RoomState
	Winner      *models.Player
	Scores      []models.PlayerScore
	SuddenDeath bool
}

// BetResult carries the bet touched by SubmitBet or ResolveBet.
type BetResult struct {
	Room   *models.RoomState
	Bet    models.Bet
	Bettor *models.Player
}

// CoinResult is returned by ManageCoins.
type CoinResult struct {
	Room   *models.RoomState
	Target models.Player
}

// DisconnectResult describes who left and who holds the host role now.
// TurnReset is set when the leaver held the running turn.
type DisconnectResult struct {
	Room      *models.RoomState
	Player    models.Player
	NewHost   *models.Player
	TurnReset bool
}

// StatePatch is the set of settings the host may change through UpdateRoomState.
type StatePatch struct {
	TurnTimeLimitSeconds *int `json:"turnTimeLimitSeconds,omitempty"`
	CardsToWin           *int `json:"cardsToWin,omitempty"`
	MaxPlayers           *int `json:"maxPlayers,omitempty"`
}
