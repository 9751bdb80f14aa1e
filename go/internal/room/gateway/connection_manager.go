package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/mcdev12/timeline/go/internal/room/events"
)

// ConnectionManager manages WebSocket connections for rooms
type ConnectionManager struct {
	// Every live connection by id, bound or not
	connections map[string]*Connection
	// Connection pools organized by room ID
	roomConnections map[string]map[*Connection]bool
	mu              sync.RWMutex

	upgrader websocket.Upgrader
	config   ConnectionConfig
	clock    clockwork.Clock

	broadcastCh chan BroadcastMessage

	handler   MessageHandler
	publisher Publisher

	// ctx outlives the upgrade request and is cancelled on shutdown
	ctx context.Context
}

// MessageHandler receives client frames and socket closes.
type MessageHandler interface {
	HandleMessage(ctx context.Context, conn *Connection, message []byte)
	HandleClose(ctx context.Context, conn *Connection)
}

// Publisher forwards locally originated messages to other instances.
type Publisher interface {
	Publish(message BroadcastMessage) error
}

// Connection represents a WebSocket connection to a client
type Connection struct {
	ID      string
	Conn    *websocket.Conn
	Send    chan []byte
	Manager *ConnectionManager

	// roomID and playerID are set once the client joins a room
	roomID   string
	playerID string

	limiter *rate.Limiter

	ConnectedAt time.Time
	LastPing    time.Time
}

// ConnectionConfig holds configuration for WebSocket connections
type ConnectionConfig struct {
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	PingInterval    time.Duration `yaml:"ping_interval"`
	MaxMessageSize  int64         `yaml:"max_message_size"`
	ReadBufferSize  int           `yaml:"read_buffer_size"`
	WriteBufferSize int           `yaml:"write_buffer_size"`

	// CommandsPerSecond and CommandBurst bound client commands per connection.
	CommandsPerSecond float64                    `yaml:"commands_per_second"`
	CommandBurst      int                        `yaml:"command_burst"`
	CheckOrigin       func(r *http.Request) bool `yaml:"-"`
}

// BroadcastMessage is a message routed to room connections.
// ConnectionID makes it private. Exclude skips one connection. Remote marks
// messages received from another instance so they are not published again.
type BroadcastMessage struct {
	RoomID       string            `json:"room_id"`
	Event        *events.RoomEvent `json:"event"`
	ConnectionID string            `json:"connection_id,omitempty"`
	Exclude      string            `json:"exclude,omitempty"`
	Remote       bool              `json:"-"`
}

// DefaultConnectionConfig returns default WebSocket configuration
func DefaultConnectionConfig() ConnectionConfig {
	return ConnectionConfig{
		WriteTimeout:      10 * time.Second,
		ReadTimeout:       60 * time.Second,
		PingInterval:      30 * time.Second,
		MaxMessageSize:    4096,
		ReadBufferSize:    1024,
		WriteBufferSize:   1024,
		CommandsPerSecond: 5,
		CommandBurst:      5,
		CheckOrigin: func(r *http.Request) bool {
			return true
		},
	}
}

// NewConnectionManager creates a new WebSocket connection manager
func NewConnectionManager(config ConnectionConfig, clock clockwork.Clock) *ConnectionManager {
	def := DefaultConnectionConfig()
	if config.CheckOrigin == nil {
		config.CheckOrigin = def.CheckOrigin
	}
	if config.CommandsPerSecond <= 0 {
		config.CommandsPerSecond = def.CommandsPerSecond
	}
	if config.CommandBurst <= 0 {
		config.CommandBurst = def.CommandBurst
	}
	if config.PingInterval <= 0 {
		config.PingInterval = def.PingInterval
	}

	return &ConnectionManager{
		connections:     make(map[string]*Connection),
		roomConnections: make(map[string]map[*Connection]bool),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  config.ReadBufferSize,
			WriteBufferSize: config.WriteBufferSize,
			CheckOrigin:     config.CheckOrigin,
		},
		config:      config,
		clock:       clock,
		broadcastCh: make(chan BroadcastMessage, 1000),
		ctx:         context.Background(),
	}
}

// SetHandler sets who receives client commands.
func (cm *ConnectionManager) SetHandler(h MessageHandler) {
	cm.handler = h
}

// SetPublisher enables cross-instance fan-out.
func (cm *ConnectionManager) SetPublisher(p Publisher) {
	cm.publisher = p
}

// Start begins processing broadcast messages
func (cm *ConnectionManager) Start(ctx context.Context) {
	cm.mu.Lock()
	cm.ctx = ctx
	cm.mu.Unlock()
	log.Info().Msg("connection manager started")

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("connection manager shutting down")
			cm.closeAll()
			return
		case message := <-cm.broadcastCh:
			cm.handleBroadcast(message)
		}
	}
}

// UpgradeConnection upgrades an HTTP connection to WebSocket. A non-empty roomID
// subscribes the connection to that room before it joins as a player.
func (cm *ConnectionManager) UpgradeConnection(w http.ResponseWriter, r *http.Request, roomID string) error {
	conn, err := cm.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return fmt.Errorf("failed to upgrade connection: %w", err)
	}

	now := cm.clock.Now()
	connection := &Connection{
		ID:          uuid.New().String(),
		Conn:        conn,
		Send:        make(chan []byte, 256),
		Manager:     cm,
		limiter:     rate.NewLimiter(rate.Limit(cm.config.CommandsPerSecond), cm.config.CommandBurst),
		ConnectedAt: now,
		LastPing:    now,
	}

	ctx := cm.registerConnection(connection)
	if roomID != "" {
		cm.Bind(connection, roomID, "")
	}
	cm.SendTo(roomID, connection.ID, events.EventTypeConnected, events.ConnectedPayload{ConnectionID: connection.ID})

	go connection.writePump()
	go connection.readPump(ctx)

	log.Info().
		Str("connection_id", connection.ID).
		Str("room_id", roomID).
		Msg("WebSocket connection established")

	return nil
}

func (cm *ConnectionManager) registerConnection(conn *Connection) context.Context {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	cm.connections[conn.ID] = conn
	log.Debug().
		Str("connection_id", conn.ID).
		Int("total_connections", len(cm.connections)).
		Msg("connection registered")
	return cm.ctx
}

// Lookup returns the live local connection with id.
func (cm *ConnectionManager) Lookup(id string) (*Connection, bool) {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	c, ok := cm.connections[id]
	return c, ok
}

// Bind moves conn into roomID's pool. playerID is empty for spectators.
func (cm *ConnectionManager) Bind(conn *Connection, roomID, playerID string) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	if _, live := cm.connections[conn.ID]; !live {
		return
	}
	if conn.roomID != "" && conn.roomID != roomID {
		cm.removeFromRoom(conn)
	}
	if cm.roomConnections[roomID] == nil {
		cm.roomConnections[roomID] = make(map[*Connection]bool)
	}
	cm.roomConnections[roomID][conn] = true
	conn.roomID = roomID
	if playerID != "" {
		conn.playerID = playerID
	}
}

// Room returns the room conn is subscribed to and the player it plays as.
func (c *Connection) Room() (roomID, playerID string) {
	c.Manager.mu.RLock()
	defer c.Manager.mu.RUnlock()
	return c.roomID, c.playerID
}

// must hold cm.mu
func (cm *ConnectionManager) removeFromRoom(conn *Connection) {
	pool, ok := cm.roomConnections[conn.roomID]
	if !ok {
		return
	}
	delete(pool, conn)
	if len(pool) == 0 {
		delete(cm.roomConnections, conn.roomID)
	}
}

// unregisterConnection removes a connection from the manager. It reports
// whether this call did the removal.
func (cm *ConnectionManager) unregisterConnection(conn *Connection) bool {
	cm.mu.Lock()
	if _, exists := cm.connections[conn.ID]; !exists {
		cm.mu.Unlock()
		return false
	}
	delete(cm.connections, conn.ID)
	cm.removeFromRoom(conn)
	close(conn.Send)
	roomID := conn.roomID
	cm.mu.Unlock()

	log.Info().
		Str("connection_id", conn.ID).
		Str("room_id", roomID).
		Msg("connection unregistered")
	return true
}

// closeConnection unregisters conn and tells the handler it is gone.
func (cm *ConnectionManager) closeConnection(ctx context.Context, conn *Connection) {
	if !cm.unregisterConnection(conn) {
		return
	}
	conn.Conn.Close()
	if cm.handler != nil {
		go cm.handler.HandleClose(context.WithoutCancel(ctx), conn)
	}
}

func (cm *ConnectionManager) closeAll() {
	cm.mu.RLock()
	conns := make([]*Connection, 0, len(cm.connections))
	for _, c := range cm.connections {
		conns = append(conns, c)
	}
	cm.mu.RUnlock()

	for _, c := range conns {
		if cm.unregisterConnection(c) {
			c.Conn.Close()
		}
	}
}

// Broadcast sends an event to everyone subscribed to roomID.
func (cm *ConnectionManager) Broadcast(roomID string, eventType events.EventType, payload any) {
	cm.enqueue(roomID, eventType, payload, "", "")
}

// BroadcastExcept sends an event to the room except connectionID.
func (cm *ConnectionManager) BroadcastExcept(roomID, connectionID string, eventType events.EventType, payload any) {
	cm.enqueue(roomID, eventType, payload, "", connectionID)
}

// SendTo sends an event to a single connection.
func (cm *ConnectionManager) SendTo(roomID, connectionID string, eventType events.EventType, payload any) {
	cm.enqueue(roomID, eventType, payload, connectionID, "")
}

func (cm *ConnectionManager) enqueue(roomID string, eventType events.EventType, payload any, to, exclude string) {
	event, err := events.NewRoomEvent(roomID, eventType, payload, cm.clock.Now())
	if err != nil {
		log.Error().Err(err).Str("room_id", roomID).Msg("failed to build event")
		return
	}
	cm.Deliver(BroadcastMessage{RoomID: roomID, Event: event, ConnectionID: to, Exclude: exclude})
}

// Deliver queues an already built message.
func (cm *ConnectionManager) Deliver(message BroadcastMessage) {
	select {
	case cm.broadcastCh <- message:
	default:
		log.Warn().
			Str("room_id", message.RoomID).
			Str("event_type", string(message.Event.Type)).
			Msg("broadcast channel full, dropping message")
	}
}

// handleBroadcast processes a broadcast message
func (cm *ConnectionManager) handleBroadcast(message BroadcastMessage) {
	if !message.Remote && message.RoomID != "" && cm.publisher != nil {
		if err := cm.publisher.Publish(message); err != nil {
			log.Error().Err(err).Str("room_id", message.RoomID).Msg("failed to publish event")
		}
	}

	var targets []*Connection
	cm.mu.RLock()
	if message.ConnectionID != "" {
		if c, ok := cm.connections[message.ConnectionID]; ok {
			targets = append(targets, c)
		}
	} else {
		for c := range cm.roomConnections[message.RoomID] {
			if c.ID == message.Exclude {
				continue
			}
			targets = append(targets, c)
		}
	}
	cm.mu.RUnlock()

	if len(targets) == 0 {
		return
	}

	data, err := json.Marshal(message.Event)
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal event for broadcast")
		return
	}

	for _, c := range targets {
		cm.send(c, data)
	}

	log.Debug().
		Str("event_type", string(message.Event.Type)).
		Str("room_id", message.RoomID).
		Int("connections", len(targets)).
		Msg("event broadcasted")
}

func (cm *ConnectionManager) send(c *Connection, data []byte) {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	if _, live := cm.connections[c.ID]; !live {
		return
	}
	select {
	case c.Send <- data:
	default:
		log.Warn().Str("connection_id", c.ID).Msg("connection send buffer full, closing connection")
		// the read pump notices the closed socket and runs the close path
		c.Conn.Close()
	}
}

// Stats summarizes live connections.
type Stats struct {
	TotalConnections int            `json:"total_connections"`
	ActiveRooms      int            `json:"active_rooms"`
	RoomConnections  map[string]int `json:"room_connections"`
}

// GetConnectionStats returns statistics about active connections
func (cm *ConnectionManager) GetConnectionStats() Stats {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	stats := Stats{
		TotalConnections: len(cm.connections),
		ActiveRooms:      len(cm.roomConnections),
		RoomConnections:  make(map[string]int, len(cm.roomConnections)),
	}
	for roomID, pool := range cm.roomConnections {
		stats.RoomConnections[roomID] = len(pool)
	}
	return stats
}

// writePump handles sending messages to the WebSocket connection
func (c *Connection) writePump() {
	ticker := time.NewTicker(c.Manager.config.PingInterval)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(c.Manager.config.WriteTimeout))
			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Error().Err(err).Str("connection_id", c.ID).Msg("failed to write message to WebSocket")
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(c.Manager.config.WriteTimeout))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Debug().Err(err).Str("connection_id", c.ID).Msg("failed to send ping")
				return
			}
		}
	}
}

// readPump handles reading messages from the WebSocket connection
func (c *Connection) readPump(ctx context.Context) {
	cm := c.Manager
	defer cm.closeConnection(ctx, c)

	c.Conn.SetReadLimit(cm.config.MaxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(cm.config.ReadTimeout))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(cm.config.ReadTimeout))
		c.LastPing = cm.clock.Now()
		return nil
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Error().Err(err).Str("connection_id", c.ID).Msg("unexpected WebSocket close error")
			}
			return
		}
		c.Conn.SetReadDeadline(time.Now().Add(cm.config.ReadTimeout))

		if !c.limiter.Allow() {
			roomID, _ := c.Room()
			cm.SendTo(roomID, c.ID, events.EventTypeError, events.ErrorPayload{
				Code:    "rate_limited",
				Message: "too many commands, slow down",
			})
			continue
		}
		if cm.handler != nil {
			cm.handler.HandleMessage(ctx, c, message)
		}
	}
}
