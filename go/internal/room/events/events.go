package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// RoomEvent is the envelope for every server to client message.
type RoomEvent struct {
	ID        string          `json:"id"`
	RoomID    string          `json:"room_id"`
	Type      EventType       `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
}

// EventType names a room event.
type EventType string

const (
	EventTypeConnected            EventType = "connected"
	EventTypeRoomJoined           EventType = "roomJoined"
	EventTypePlayerJoined         EventType = "playerJoined"
	EventTypePlayerRejoined       EventType = "playerRejoined"
	EventTypePlayerLeft           EventType = "playerLeft"
	EventTypeGameStarted          EventType = "gameStarted"
	EventTypeTurnStart            EventType = "turnStart"
	EventTypeTurnUpdate           EventType = "turnUpdate"
	EventTypeTurnSkipped          EventType = "turnSkipped"
	EventTypeTurnTimeout          EventType = "turnTimeout"
	EventTypeNewCard              EventType = "newCard"
	EventTypePlayerTimelineUpdate EventType = "playerTimelineUpdate"
	EventTypePlacementResult      EventType = "placementResult"
	EventTypeStopPlaying          EventType = "stopPlaying"
	EventTypeNewGuess             EventType = "newGuess"
	EventTypeGuessValidation      EventType = "guessValidation"
	EventTypeGuessResult          EventType = "guessResult"
	EventTypeCoinUpdated          EventType = "coinUpdated"
	EventTypeGameStateUpdated     EventType = "gameStateUpdated"
	EventTypeGameWon              EventType = "gameWon"
	EventTypeSuddenDeath          EventType = "suddenDeath"
	EventTypePlaySyncedSong       EventType = "playSyncedSong"
	EventTypeError                EventType = "error"
)

// NewRoomEvent wraps payload in an envelope stamped with now.
func NewRoomEvent(roomID string, eventType EventType, payload any, now time.Time) (*RoomEvent, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s payload: %w", eventType, err)
	}
	return &RoomEvent{
		ID:        uuid.NewString(),
		RoomID:    roomID,
		Type:      eventType,
		Timestamp: now,
		Data:      data,
	}, nil
}
