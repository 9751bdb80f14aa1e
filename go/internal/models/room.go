package models

import (
	"time"

	"github.com/google/uuid"
)

// Room defaults.
const (
	DefaultMaxPlayers           = 20
	DefaultCardsToWin           = 5
	DefaultTurnTimeLimitSeconds = 60
	StartingCoins               = 2
)

// TimelineEntry is one card in a player's timeline. Position is an ordering key,
// not a slot index. Year, Artist and Title are copied from the song at placement.
type TimelineEntry struct {
	SongID   uuid.UUID `json:"song_id"`
	Title    string    `json:"title"`
	Artist   string    `json:"artist"`
	Year     int       `json:"year"`
	Position float64   `json:"position"`
	IsBase   bool      `json:"is_base"`
	IsLocked bool      `json:"is_locked"`
}

// NewTimelineEntry builds an entry for song at position.
func NewTimelineEntry(song Song, position float64) TimelineEntry {
	return TimelineEntry{
		SongID:   song.ID,
		Title:    song.Title,
		Artist:   song.Artist,
		Year:     song.Year,
		Position: position,
	}
}

// Player is a connected participant. ID is stable across reconnects,
// ConnectionID changes with every websocket session.
type Player struct {
	ID           uuid.UUID       `json:"id"`
	ConnectionID string          `json:"connection_id"`
	Username     string          `json:"username"`
	Timeline     []TimelineEntry `json:"timeline"`
	Coins        int             `json:"coins"`
	IsHost       bool            `json:"is_host"`
}

// Guess is the artist/title a player bets on.
type Guess struct {
	Artist string `json:"artist"`
	Song   string `json:"song"`
}

// Bet is a coin-staked guess on the current card.
type Bet struct {
	PlayerID   uuid.UUID `json:"player_id"`
	PlayerName string    `json:"player_name"`
	SongID     uuid.UUID `json:"song_id"`
	Guess      Guess     `json:"guess"`
	Resolved   bool      `json:"resolved"`
}

// DisconnectedPlayer is the state retained for a player that left, keyed by username.
type DisconnectedPlayer struct {
	PlayerID     uuid.UUID       `json:"player_id"`
	Username     string          `json:"username"`
	Timeline     []TimelineEntry `json:"timeline"`
	Coins        int             `json:"coins"`
	WasHost      bool            `json:"was_host"`
	LastActiveAt time.Time       `json:"last_active_at"`
}

// GameState holds the turn state of a room.
type GameState struct {
	IsActive             bool      `json:"is_active"`
	CurrentTurnIndex     int       `json:"current_turn_index"`
	CardsToWin           int       `json:"cards_to_win"`
	TurnTimeLimitSeconds int       `json:"turn_time_limit_seconds"`
	LastTurnStartedAt    time.Time `json:"last_turn_started_at"`
	ActiveBets           []Bet     `json:"active_bets"`
	CurrentCard          *Song     `json:"current_card,omitempty"`
	CardPlaced           bool      `json:"card_placed"`
}

// TurnTimeLimit returns the turn limit as a duration.
func (g GameState) TurnTimeLimit() time.Duration {
	return time.Duration(g.TurnTimeLimitSeconds) * time.Second
}

// RoomState is the aggregate persisted per room.
type RoomState struct {
	RoomID              string               `json:"room_id"`
	HostID              uuid.UUID            `json:"host_id"`
	Players             []Player             `json:"players"`
	DisconnectedPlayers []DisconnectedPlayer `json:"disconnected_players"`
	GameState           GameState            `json:"game_state"`
	MaxPlayers          int                  `json:"max_players"`
	CreatedAt           time.Time            `json:"created_at"`
	LastActiveAt        time.Time            `json:"last_active_at"`
	EmptySince          *time.Time           `json:"empty_since,omitempty"`
	Version             int64                `json:"version"`
}

// CurrentPlayer returns the player whose turn it is, or nil when the room is empty.
func (r *RoomState) CurrentPlayer() *Player {
	if len(r.Players) == 0 {
		return nil
	}
	idx := r.GameState.CurrentTurnIndex % len(r.Players)
	if idx < 0 {
		idx += len(r.Players)
	}
	return &r.Players[idx]
}

// PlayerByID returns the active player with the given ID.
func (r *RoomState) PlayerByID(id uuid.UUID) *Player {
	for i := range r.Players {
		if r.Players[i].ID == id {
			return &r.Players[i]
		}
	}
	return nil
}

// PlayerByConnection returns the active player bound to connectionID.
func (r *RoomState) PlayerByConnection(connectionID string) *Player {
	for i := range r.Players {
		if r.Players[i].ConnectionID == connectionID {
			return &r.Players[i]
		}
	}
	return nil
}

// PlayerByUsername returns the active player with the given username.
func (r *RoomState) PlayerByUsername(username string) *Player {
	for i := range r.Players {
		if r.Players[i].Username == username {
			return &r.Players[i]
		}
	}
	return nil
}

// Host returns the current host, or nil when the room is empty.
func (r *RoomState) Host() *Player {
	return r.PlayerByID(r.HostID)
}

// IsEmpty reports whether no player is connected.
func (r *RoomState) IsEmpty() bool {
	return len(r.Players) == 0
}

// PlayerScore is one row of the final score table.
type PlayerScore struct {
	PlayerID string `json:"player_id"`
	Username string `json:"username"`
	Score    int    `json:"score"`
	Cards    int    `json:"cards"`
}
