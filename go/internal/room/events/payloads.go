package events

import (
	"encoding/json"
	"time"

	"github.com/mcdev12/timeline/go/internal/models"
)

// Event payload types shared between the orchestrator and gateway packages

// PlayerRef identifies a player in broadcasts.
type PlayerRef struct {
	PlayerID string `json:"player_id"`
	Username string `json:"username"`
}

func RefOf(p models.Player) PlayerRef {
	return PlayerRef{PlayerID: p.ID.String(), Username: p.Username}
}

// ConnectedPayload tells a new socket its id, which HTTP create and join
// requests pass as connectionId.
type ConnectedPayload struct {
	ConnectionID string `json:"connection_id"`
}

// RoomJoinedPayload is sent privately to the connection that joined.
type RoomJoinedPayload struct {
	PlayerID string            `json:"player_id"`
	Room     *models.RoomState `json:"room"`
}

// PlayerJoinedPayload is broadcast for joins and rejoins.
type PlayerJoinedPayload struct {
	PlayerRef
}

type PlayerLeftPayload struct {
	PlayerRef
	NewHost *PlayerRef `json:"new_host,omitempty"`
}

// RoomPayload carries a full room snapshot.
type RoomPayload struct {
	Room *models.RoomState `json:"room"`
}

// TurnStartPayload announces whose turn it is and when it times out.
type TurnStartPayload struct {
	PlayerRef
	TurnIndex    int       `json:"turn_index"`
	StartedAt    time.Time `json:"started_at"`
	TimeoutAt    time.Time `json:"timeout_at"`
	TimeLimitSec int       `json:"time_limit_sec"`
}

// TurnStart builds the payload for the current turn of st.
func TurnStart(st *models.RoomState) TurnStartPayload {
	var ref PlayerRef
	if p := st.CurrentPlayer(); p != nil {
		ref = RefOf(*p)
	}
	gs := st.GameState
	return TurnStartPayload{
		PlayerRef:    ref,
		TurnIndex:    gs.CurrentTurnIndex,
		StartedAt:    gs.LastTurnStartedAt,
		TimeoutAt:    gs.LastTurnStartedAt.Add(gs.TurnTimeLimit()),
		TimeLimitSec: gs.TurnTimeLimitSeconds,
	}
}

type TurnUpdatePayload struct {
	Player    PlayerRef `json:"player"`
	TimeLimit int       `json:"time_limit"`
}

// TurnEndedPayload is used for turnSkipped and turnTimeout.
type TurnEndedPayload struct {
	PlayerRef
}

type NewCardPayload struct {
	Song models.Song `json:"song"`
}

type PlayerTimelineUpdatePayload struct {
	PlayerID string                 `json:"player_id"`
	Timeline []models.TimelineEntry `json:"timeline"`
}

type PlacementResultPayload struct {
	PlayerRef
	Correct bool        `json:"correct"`
	Song    models.Song `json:"song"`
}

type StopPlayingPayload struct{}

// NewGuessPayload tells the room somebody bet without revealing the guess.
type NewGuessPayload struct {
	PlayerRef
}

// GuessValidationPayload is sent to the host only, who judges the guess.
type GuessValidationPayload struct {
	PlayerRef
	Guess models.Guess `json:"guess"`
	Song  *models.Song `json:"song,omitempty"`
}

type GuessResultPayload struct {
	PlayerRef
	Correct bool         `json:"correct"`
	Guess   models.Guess `json:"guess"`
	Coins   int          `json:"coins"`
}

type CoinUpdatedPayload struct {
	PlayerRef
	Coins int `json:"coins"`
}

type GameWonPayload struct {
	Winner PlayerRef            `json:"winner"`
	Scores []models.PlayerScore `json:"scores"`
}

type SuddenDeathPayload struct {
	CardsToWin int               `json:"cards_to_win"`
	Room       *models.RoomState `json:"room"`
}

// PlaySyncedSongPayload relays whatever song descriptor the sender's player uses.
type PlaySyncedSongPayload struct {
	Song json.RawMessage `json:"song"`
}

type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
