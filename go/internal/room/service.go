package room

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/julienschmidt/httprouter"
	"github.com/rs/zerolog/log"
	"github.com/skip2/go-qrcode"

	"github.com/mcdev12/timeline/go/internal/catalog"
	"github.com/mcdev12/timeline/go/internal/models"
)

const (
	qrSize          = 320
	maxRandomSongs  = 50
	maxRequestBytes = 1 << 16
)

// Notifier is told about changes made through the HTTP surface so connected
// websocket clients see them too.
type Notifier interface {
	RoomCreated(ctx context.Context, res *JoinResult)
	PlayerJoined(ctx context.Context, res *JoinResult)
	GameStarted(ctx context.Context, state *models.RoomState)
	StateUpdated(ctx context.Context, state *models.RoomState)
}

// Service exposes room operations as JSON over HTTP.
type Service struct {
	app       *App
	songs     catalog.Catalog
	publicURL string
	notifier  Notifier
}

// NewService creates a new room Service
func NewService(app *App, songs catalog.Catalog, publicURL string) *Service {
	return &Service{
		app:       app,
		songs:     songs,
		publicURL: strings.TrimSuffix(publicURL, "/"),
	}
}

// SetNotifier wires the websocket side in once it exists.
func (s *Service) SetNotifier(n Notifier) {
	s.notifier = n
}

// Register mounts the room routes.
func (s *Service) Register(router *httprouter.Router) {
	router.POST("/api/rooms/create", s.createRoom)
	router.POST("/api/rooms/join", s.joinRoom)
	router.POST("/api/rooms/start", s.startGame)
	router.GET("/api/rooms/:roomId/state", s.getRoomState)
	router.PUT("/api/rooms/:roomId/state", s.updateRoomState)
	router.GET("/api/rooms/:roomId/qr", s.roomQR)
	router.GET("/api/songs/random", s.randomSongs)
	router.GET("/health", s.health)
}

type createRoomRequest struct {
	Username     string `json:"username"`
	ConnectionID string `json:"connectionId"`
}

type joinRoomRequest struct {
	RoomID       string `json:"roomId"`
	Username     string `json:"username"`
	ConnectionID string `json:"connectionId"`
}

type startGameRequest struct {
	RoomID     string `json:"roomId"`
	CallerID   string `json:"callerId"`
	CardsToWin *int   `json:"cardsToWin"`
}

type updateRoomStateRequest struct {
	CallerID string `json:"callerId"`
	StatePatch
}

type errorResponse struct {
	Message string `json:"message"`
}

func (s *Service) createRoom(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var req createRoomRequest
	if !decode(w, r, &req) {
		return
	}

	res, err := s.app.CreateRoom(r.Context(), req.Username, req.ConnectionID)
	if err != nil {
		writeError(w, err)
		return
	}
	if s.notifier != nil {
		s.notifier.RoomCreated(r.Context(), res)
	}
	writeJSON(w, http.StatusCreated, res.Room)
}

func (s *Service) joinRoom(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var req joinRoomRequest
	if !decode(w, r, &req) {
		return
	}

	res, err := s.app.JoinRoom(r.Context(), req.RoomID, req.Username, req.ConnectionID)
	if err != nil {
		writeError(w, err)
		return
	}
	if s.notifier != nil {
		s.notifier.PlayerJoined(r.Context(), res)
	}
	writeJSON(w, http.StatusOK, res.Room)
}

func (s *Service) startGame(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var req startGameRequest
	if !decode(w, r, &req) {
		return
	}

	cardsToWin := s.app.DefaultCardsToWin()
	if req.CardsToWin != nil {
		cardsToWin = *req.CardsToWin
	}

	state, err := s.app.StartGame(r.Context(), req.RoomID, req.CallerID, cardsToWin)
	if err != nil {
		writeError(w, err)
		return
	}
	if s.notifier != nil {
		s.notifier.GameStarted(r.Context(), state)
	}
	writeJSON(w, http.StatusOK, state)
}

func (s *Service) getRoomState(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	state, err := s.app.GetRoom(r.Context(), ps.ByName("roomId"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

func (s *Service) updateRoomState(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	var req updateRoomStateRequest
	if !decode(w, r, &req) {
		return
	}

	state, err := s.app.UpdateRoomState(r.Context(), ps.ByName("roomId"), req.CallerID, req.StatePatch)
	if err != nil {
		writeError(w, err)
		return
	}
	if s.notifier != nil {
		s.notifier.StateUpdated(r.Context(), state)
	}
	writeJSON(w, http.StatusOK, state)
}

func (s *Service) roomQR(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	roomID := ps.ByName("roomId")
	if _, err := s.app.GetRoom(r.Context(), roomID); err != nil {
		writeError(w, err)
		return
	}

	png, err := qrcode.Encode(s.inviteURL(r, roomID), qrcode.Medium, qrSize)
	if err != nil {
		log.Error().Err(err).Str("room_id", roomID).Msg("qr generation failed")
		http.Error(w, "qr generation failed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "image/png")
	_, _ = w.Write(png)
}

// inviteURL prefers the configured public URL and falls back to the request host.
func (s *Service) inviteURL(r *http.Request, roomID string) string {
	base := s.publicURL
	if base == "" {
		scheme := "http"
		if r.TLS != nil {
			scheme = "https"
		}
		if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
			scheme = proto
		}
		base = scheme + "://" + r.Host
	}
	return base + "/?room=" + url.QueryEscape(roomID)
}

func (s *Service) randomSongs(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	count := 1
	if raw := r.URL.Query().Get("count"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxRandomSongs {
			writeJSON(w, http.StatusBadRequest, errorResponse{Message: fmt.Sprintf("count must be between 1 and %d", maxRandomSongs)})
			return
		}
		count = n
	}

	ctx, cancel := s.app.storeCtx(r.Context())
	defer cancel()

	songs, err := s.songs.GetRandom(ctx, count)
	if err != nil {
		writeError(w, storeErr(err))
		return
	}
	if songs == nil {
		songs = []models.Song{}
	}
	writeJSON(w, http.StatusOK, songs)
}

func (s *Service) health(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte("OK"))
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes))
	if err := dec.Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Message: "invalid request body"})
		return false
	}
	return true
}

func writeError(w http.ResponseWriter, err error) {
	status := HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		log.Error().Err(err).Msg("request failed")
	}
	msg := err.Error()
	if errors.Is(err, ErrStoreUnavailable) {
		msg = ErrStoreUnavailable.Error()
	}
	writeJSON(w, status, errorResponse{Message: msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to encode response")
	}
}
