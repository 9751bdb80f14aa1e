package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/timeline/go/internal/models"
	"github.com/mcdev12/timeline/go/internal/room"
	"github.com/mcdev12/timeline/go/internal/room/events"
)

var errBadRequest = errors.New("bad request")

// Scheduler arms and disarms the turn timer of a room.
type Scheduler interface {
	Schedule(roomID string)
	Cancel(roomID string)
}

// Dispatcher turns client commands into room operations and fans the results
// out over the connection manager.
type Dispatcher struct {
	app       *room.App
	conns     *ConnectionManager
	scheduler Scheduler
	commands  map[string]commandFunc
}

type commandFunc func(ctx context.Context, conn *Connection, data json.RawMessage) error

type clientMessage struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type (
	createRoomCommand struct {
		Username string `json:"username"`
	}
	joinRoomCommand struct {
		RoomID   string `json:"roomId"`
		Username string `json:"username"`
	}
	startGameCommand struct {
		CardsToWin *int `json:"cardsToWin"`
	}
	placementCommand struct {
		SongID   uuid.UUID `json:"songId"`
		Position *float64  `json:"position"`
		Slot     *int      `json:"slot"`
	}
	submitGuessCommand struct {
		Guess models.Guess `json:"guess"`
	}
	validateGuessCommand struct {
		PlayerID string `json:"playerId"`
		Correct  bool   `json:"correct"`
	}
	manageCoinCommand struct {
		TargetID string `json:"targetId"`
		Action   string `json:"action"`
	}
	declareWinnerCommand struct {
		WinnerID string `json:"winnerId"`
	}
	syncSongCommand struct {
		Song json.RawMessage `json:"song"`
	}
)

// NewDispatcher creates a Dispatcher and registers it as conns' handler.
func NewDispatcher(app *room.App, conns *ConnectionManager, scheduler Scheduler) *Dispatcher {
	d := &Dispatcher{
		app:       app,
		conns:     conns,
		scheduler: scheduler,
	}
	d.commands = map[string]commandFunc{
		"createRoom":        d.createRoom,
		"joinRoom":          d.joinRoom,
		"rejoinRoom":        d.rejoinRoom,
		"startGame":         d.startGame,
		"selectCard":        d.selectCard,
		"placementDecision": d.placementDecision,
		"submitGuess":       d.submitGuess,
		"validateGuess":     d.validateGuess,
		"manageCoin":        d.manageCoin,
		"skipTurn":          d.skipTurn,
		"nextTurn":          d.nextTurn,
		"checkWin":          d.checkWin,
		"declareWinner":     d.declareWinner,
		"syncSongPlayback":  d.syncSongPlayback,
	}
	conns.SetHandler(d)
	return d
}

// HandleMessage decodes and runs one client command. Failures go back to the
// sender only.
func (d *Dispatcher) HandleMessage(ctx context.Context, conn *Connection, message []byte) {
	var msg clientMessage
	if err := json.Unmarshal(message, &msg); err != nil {
		d.fail(conn, fmt.Errorf("malformed message: %w", errBadRequest))
		return
	}

	cmd, ok := d.commands[msg.Type]
	if !ok {
		d.fail(conn, fmt.Errorf("unknown command %q: %w", msg.Type, errBadRequest))
		return
	}

	if err := cmd(ctx, conn, msg.Data); err != nil {
		log.Debug().Err(err).Str("connection_id", conn.ID).Str("command", msg.Type).Msg("command failed")
		d.fail(conn, err)
	}
}

// HandleClose removes the player behind a closed socket from its room.
func (d *Dispatcher) HandleClose(ctx context.Context, conn *Connection) {
	roomID, playerID := conn.Room()
	if playerID == "" {
		return
	}

	res, err := d.app.Disconnect(ctx, roomID, conn.ID)
	if errors.Is(err, room.ErrNotFound) {
		return
	}
	if err != nil {
		log.Error().Err(err).Str("room_id", roomID).Str("connection_id", conn.ID).Msg("failed to disconnect player")
		return
	}

	payload := events.PlayerLeftPayload{PlayerRef: events.RefOf(res.Player)}
	if res.NewHost != nil {
		ref := events.RefOf(*res.NewHost)
		payload.NewHost = &ref
	}
	d.conns.Broadcast(roomID, events.EventTypePlayerLeft, payload)
	if res.TurnReset && !res.Room.IsEmpty() {
		d.conns.Broadcast(roomID, events.EventTypeTurnStart, events.TurnStart(res.Room))
	}
}

func (d *Dispatcher) fail(conn *Connection, err error) {
	code := room.Code(err)
	if errors.Is(err, errBadRequest) {
		code = "bad_request"
	}
	roomID, _ := conn.Room()
	d.conns.SendTo(roomID, conn.ID, events.EventTypeError, events.ErrorPayload{
		Code:    code,
		Message: err.Error(),
	})
}

func decodeCommand(data json.RawMessage, v any) error {
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("invalid command data: %w", errBadRequest)
	}
	return nil
}

// playing returns the room conn plays in, or Forbidden.
func playing(conn *Connection) (string, error) {
	roomID, playerID := conn.Room()
	if playerID == "" {
		return "", fmt.Errorf("not in a room: %w", room.ErrForbidden)
	}
	return roomID, nil
}

func (d *Dispatcher) createRoom(ctx context.Context, conn *Connection, data json.RawMessage) error {
	var cmd createRoomCommand
	if err := decodeCommand(data, &cmd); err != nil {
		return err
	}
	if _, playerID := conn.Room(); playerID != "" {
		return fmt.Errorf("already in a room: %w", room.ErrInvalidState)
	}

	res, err := d.app.CreateRoom(ctx, cmd.Username, conn.ID)
	if err != nil {
		return err
	}
	d.joined(conn, res)
	return nil
}

func (d *Dispatcher) joinRoom(ctx context.Context, conn *Connection, data json.RawMessage) error {
	return d.enter(ctx, conn, data, d.app.JoinRoom)
}

func (d *Dispatcher) rejoinRoom(ctx context.Context, conn *Connection, data json.RawMessage) error {
	return d.enter(ctx, conn, data, d.app.RejoinRoom)
}

func (d *Dispatcher) enter(ctx context.Context, conn *Connection, data json.RawMessage,
	join func(ctx context.Context, roomID, username, connectionID string) (*room.JoinResult, error)) error {
	var cmd joinRoomCommand
	if err := decodeCommand(data, &cmd); err != nil {
		return err
	}
	if _, playerID := conn.Room(); playerID != "" {
		return fmt.Errorf("already in a room: %w", room.ErrInvalidState)
	}

	res, err := join(ctx, cmd.RoomID, cmd.Username, conn.ID)
	if err != nil {
		return err
	}
	d.joined(conn, res)
	d.announceJoin(res, conn.ID)
	if res.Room.GameState.IsActive {
		d.conns.SendTo(res.Room.RoomID, conn.ID, events.EventTypeGameStarted, events.RoomPayload{Room: res.Room})
	}
	return nil
}

func (d *Dispatcher) joined(conn *Connection, res *room.JoinResult) {
	roomID := res.Room.RoomID
	d.conns.Bind(conn, roomID, res.Player.ID.String())
	d.conns.SendTo(roomID, conn.ID, events.EventTypeRoomJoined, events.RoomJoinedPayload{
		PlayerID: res.Player.ID.String(),
		Room:     res.Room,
	})
}

func (d *Dispatcher) announceJoin(res *room.JoinResult, exclude string) {
	eventType := events.EventTypePlayerJoined
	if res.Rejoined {
		eventType = events.EventTypePlayerRejoined
	}
	d.conns.BroadcastExcept(res.Room.RoomID, exclude, eventType, events.PlayerJoinedPayload{PlayerRef: events.RefOf(res.Player)})
}

func (d *Dispatcher) startGame(ctx context.Context, conn *Connection, data json.RawMessage) error {
	var cmd startGameCommand
	if err := decodeCommand(data, &cmd); err != nil {
		return err
	}
	roomID, err := playing(conn)
	if err != nil {
		return err
	}

	cardsToWin := d.app.DefaultCardsToWin()
	if cmd.CardsToWin != nil {
		cardsToWin = *cmd.CardsToWin
	}
	state, err := d.app.StartGame(ctx, roomID, conn.ID, cardsToWin)
	if err != nil {
		return err
	}
	d.gameStarted(state)
	return nil
}

func (d *Dispatcher) gameStarted(state *models.RoomState) {
	d.conns.Broadcast(state.RoomID, events.EventTypeGameStarted, events.RoomPayload{Room: state})
	d.conns.Broadcast(state.RoomID, events.EventTypeTurnStart, events.TurnStart(state))
	d.scheduler.Schedule(state.RoomID)
}

func (d *Dispatcher) selectCard(ctx context.Context, conn *Connection, _ json.RawMessage) error {
	roomID, err := playing(conn)
	if err != nil {
		return err
	}

	song, state, err := d.app.SelectCard(ctx, roomID, conn.ID)
	if err != nil {
		return err
	}
	if song == nil {
		return nil
	}

	d.conns.SendTo(roomID, conn.ID, events.EventTypeNewCard, events.NewCardPayload{Song: *song})
	if p := state.CurrentPlayer(); p != nil {
		d.conns.Broadcast(roomID, events.EventTypeTurnUpdate, events.TurnUpdatePayload{
			Player:    events.RefOf(*p),
			TimeLimit: state.GameState.TurnTimeLimitSeconds,
		})
	}
	return nil
}

func (d *Dispatcher) placementDecision(ctx context.Context, conn *Connection, data json.RawMessage) error {
	var cmd placementCommand
	if err := decodeCommand(data, &cmd); err != nil {
		return err
	}
	roomID, err := playing(conn)
	if err != nil {
		return err
	}

	var res *room.PlaceResult
	switch {
	case cmd.Slot != nil:
		res, err = d.app.PlaceCardAtSlot(ctx, roomID, conn.ID, cmd.SongID, *cmd.Slot)
	case cmd.Position != nil:
		res, err = d.app.PlaceCard(ctx, roomID, conn.ID, cmd.SongID, *cmd.Position)
	default:
		return fmt.Errorf("position or slot is required: %w", errBadRequest)
	}
	if err != nil {
		return err
	}

	if res.Correct {
		d.conns.Broadcast(roomID, events.EventTypePlayerTimelineUpdate, events.PlayerTimelineUpdatePayload{
			PlayerID: res.Player.ID.String(),
			Timeline: res.Player.Timeline,
		})
	}
	d.conns.Broadcast(roomID, events.EventTypePlacementResult, events.PlacementResultPayload{
		PlayerRef: events.RefOf(res.Player),
		Correct:   res.Correct,
		Song:      res.Song,
	})
	d.conns.Broadcast(roomID, events.EventTypeStopPlaying, events.StopPlayingPayload{})
	return nil
}

func (d *Dispatcher) submitGuess(ctx context.Context, conn *Connection, data json.RawMessage) error {
	var cmd submitGuessCommand
	if err := decodeCommand(data, &cmd); err != nil {
		return err
	}
	roomID, err := playing(conn)
	if err != nil {
		return err
	}

	res, err := d.app.SubmitBet(ctx, roomID, conn.ID, cmd.Guess)
	if err != nil {
		return err
	}

	ref := events.RefOf(*res.Bettor)
	if host := res.Room.Host(); host != nil {
		d.conns.SendTo(roomID, host.ConnectionID, events.EventTypeGuessValidation, events.GuessValidationPayload{
			PlayerRef: ref,
			Guess:     res.Bet.Guess,
			Song:      res.Room.GameState.CurrentCard,
		})
	}
	d.conns.Broadcast(roomID, events.EventTypeNewGuess, events.NewGuessPayload{PlayerRef: ref})
	return nil
}

func (d *Dispatcher) validateGuess(ctx context.Context, conn *Connection, data json.RawMessage) error {
	var cmd validateGuessCommand
	if err := decodeCommand(data, &cmd); err != nil {
		return err
	}
	roomID, err := playing(conn)
	if err != nil {
		return err
	}

	res, err := d.app.ResolveBet(ctx, roomID, conn.ID, cmd.PlayerID, cmd.Correct)
	if err != nil {
		return err
	}

	payload := events.GuessResultPayload{
		PlayerRef: events.PlayerRef{PlayerID: res.Bet.PlayerID.String(), Username: res.Bet.PlayerName},
		Correct:   cmd.Correct,
		Guess:     res.Bet.Guess,
	}
	if res.Bettor != nil {
		payload.Coins = res.Bettor.Coins
	}
	d.conns.Broadcast(roomID, events.EventTypeGuessResult, payload)
	d.conns.Broadcast(roomID, events.EventTypeGameStateUpdated, events.RoomPayload{Room: res.Room})
	return nil
}

func (d *Dispatcher) manageCoin(ctx context.Context, conn *Connection, data json.RawMessage) error {
	var cmd manageCoinCommand
	if err := decodeCommand(data, &cmd); err != nil {
		return err
	}
	roomID, err := playing(conn)
	if err != nil {
		return err
	}

	var delta int
	switch cmd.Action {
	case "add":
		delta = 1
	case "remove":
		delta = -1
	default:
		return fmt.Errorf("unknown coin action %q: %w", cmd.Action, errBadRequest)
	}

	res, err := d.app.ManageCoins(ctx, roomID, conn.ID, cmd.TargetID, delta)
	if err != nil {
		return err
	}
	d.conns.Broadcast(roomID, events.EventTypeCoinUpdated, events.CoinUpdatedPayload{
		PlayerRef: events.RefOf(res.Target),
		Coins:     res.Target.Coins,
	})
	d.conns.Broadcast(roomID, events.EventTypeGameStateUpdated, events.RoomPayload{Room: res.Room})
	return nil
}

func (d *Dispatcher) skipTurn(ctx context.Context, conn *Connection, _ json.RawMessage) error {
	return d.advance(ctx, conn, true)
}

func (d *Dispatcher) nextTurn(ctx context.Context, conn *Connection, _ json.RawMessage) error {
	return d.advance(ctx, conn, false)
}

func (d *Dispatcher) advance(ctx context.Context, conn *Connection, skipped bool) error {
	roomID, err := playing(conn)
	if err != nil {
		return err
	}

	state, err := d.app.AdvanceTurn(ctx, roomID, conn.ID)
	if err != nil {
		return err
	}

	if n := len(state.Players); skipped && n > 0 {
		prev := state.Players[(state.GameState.CurrentTurnIndex-1+n)%n]
		d.conns.Broadcast(roomID, events.EventTypeTurnSkipped, events.TurnEndedPayload{PlayerRef: events.RefOf(prev)})
	}
	d.conns.Broadcast(roomID, events.EventTypeTurnStart, events.TurnStart(state))
	return nil
}

func (d *Dispatcher) checkWin(ctx context.Context, conn *Connection, _ json.RawMessage) error {
	roomID, err := playing(conn)
	if err != nil {
		return err
	}

	res, err := d.app.CheckWinCondition(ctx, roomID)
	if err != nil {
		return err
	}

	switch {
	case res.Winner != nil:
		d.gameWon(roomID, res)
	case res.SuddenDeath:
		d.conns.Broadcast(roomID, events.EventTypeSuddenDeath, events.SuddenDeathPayload{
			CardsToWin: res.Room.GameState.CardsToWin,
			Room:       res.Room,
		})
		d.conns.Broadcast(roomID, events.EventTypeTurnStart, events.TurnStart(res.Room))
	}
	return nil
}

func (d *Dispatcher) declareWinner(ctx context.Context, conn *Connection, data json.RawMessage) error {
	var cmd declareWinnerCommand
	if err := decodeCommand(data, &cmd); err != nil {
		return err
	}
	roomID, err := playing(conn)
	if err != nil {
		return err
	}

	res, err := d.app.DeclareWinner(ctx, roomID, conn.ID, cmd.WinnerID)
	if err != nil {
		return err
	}
	d.gameWon(roomID, res)
	return nil
}

func (d *Dispatcher) gameWon(roomID string, res *room.WinResult) {
	d.scheduler.Cancel(roomID)
	d.conns.Broadcast(roomID, events.EventTypeGameWon, events.GameWonPayload{
		Winner: events.RefOf(*res.Winner),
		Scores: res.Scores,
	})
}

func (d *Dispatcher) syncSongPlayback(_ context.Context, conn *Connection, data json.RawMessage) error {
	var cmd syncSongCommand
	if err := decodeCommand(data, &cmd); err != nil {
		return err
	}
	roomID, err := playing(conn)
	if err != nil {
		return err
	}
	if len(cmd.Song) == 0 {
		return fmt.Errorf("song is required: %w", errBadRequest)
	}

	d.conns.BroadcastExcept(roomID, conn.ID, events.EventTypePlaySyncedSong, events.PlaySyncedSongPayload{Song: cmd.Song})
	return nil
}

// RoomCreated binds the creator's socket when the room was made over HTTP.
func (d *Dispatcher) RoomCreated(_ context.Context, res *room.JoinResult) {
	d.bindHTTP(res)
}

// PlayerJoined announces a join made over HTTP. A socket whose id was passed as
// the connection id is bound to the room and gets the running game, if any.
func (d *Dispatcher) PlayerJoined(_ context.Context, res *room.JoinResult) {
	bound := d.bindHTTP(res)
	d.announceJoin(res, res.Player.ConnectionID)
	if bound && res.Room.GameState.IsActive {
		d.conns.SendTo(res.Room.RoomID, res.Player.ConnectionID, events.EventTypeGameStarted, events.RoomPayload{Room: res.Room})
	}
}

func (d *Dispatcher) bindHTTP(res *room.JoinResult) bool {
	conn, ok := d.conns.Lookup(res.Player.ConnectionID)
	if !ok {
		return false
	}
	d.conns.Bind(conn, res.Room.RoomID, res.Player.ID.String())
	return true
}

// GameStarted announces a game started over HTTP.
func (d *Dispatcher) GameStarted(_ context.Context, state *models.RoomState) {
	d.gameStarted(state)
}

// StateUpdated announces host setting changes made over HTTP.
func (d *Dispatcher) StateUpdated(_ context.Context, state *models.RoomState) {
	d.conns.Broadcast(state.RoomID, events.EventTypeGameStateUpdated, events.RoomPayload{Room: state})
}
