package gateway

import (
	"context"
	"fmt"

	"github.com/jonboulle/clockwork"
	"github.com/julienschmidt/httprouter"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/timeline/go/internal/room"
)

// Service is the room gateway: websocket connections, command dispatch and the
// optional NATS fan-out.
type Service struct {
	connectionManager *ConnectionManager
	wsHandler         *WebSocketHandler
	dispatcher        *Dispatcher
	bridge            *NATSBridge
}

// Config holds configuration for the room gateway
type Config struct {
	Connection ConnectionConfig `yaml:"connection"`
	NATS       NATSConfig       `yaml:"nats"`
}

// DefaultConfig returns default configuration for the room gateway
func DefaultConfig() Config {
	return Config{
		Connection: DefaultConnectionConfig(),
		NATS:       DefaultNATSConfig(),
	}
}

// NewConnections creates the connection manager on its own so the turn
// orchestrator can broadcast through it before the Service exists.
func NewConnections(config Config, clock clockwork.Clock) *ConnectionManager {
	return NewConnectionManager(config.Connection, clock)
}

// NewService creates a new room gateway service
func NewService(config Config, cm *ConnectionManager, app *room.App, scheduler Scheduler) (*Service, error) {
	s := &Service{
		connectionManager: cm,
		wsHandler:         NewWebSocketHandler(cm, app),
		dispatcher:        NewDispatcher(app, cm, scheduler),
	}

	if config.NATS.URL != "" {
		bridge, err := NewNATSBridge(cm, config.NATS)
		if err != nil {
			return nil, fmt.Errorf("failed to create NATS bridge: %w", err)
		}
		s.bridge = bridge
	}
	return s, nil
}

// Notifier returns the hook the HTTP room service reports changes through.
func (s *Service) Notifier() room.Notifier {
	return s.dispatcher
}

// Start runs the gateway until ctx is done.
func (s *Service) Start(ctx context.Context) error {
	log.Info().Bool("nats", s.bridge != nil).Msg("starting room gateway service")

	go s.connectionManager.Start(ctx)

	if s.bridge != nil {
		go func() {
			if err := s.bridge.Start(ctx); err != nil {
				log.Error().Err(err).Msg("NATS bridge failed")
			}
		}()
	}

	<-ctx.Done()
	log.Info().Msg("room gateway service shutting down")
	s.Stop()
	return nil
}

// Stop releases the NATS connection.
func (s *Service) Stop() {
	if s.bridge != nil {
		s.bridge.Close()
	}
	log.Info().Msg("room gateway service stopped")
}

// RegisterRoutes registers the WebSocket HTTP routes
func (s *Service) RegisterRoutes(router *httprouter.Router) {
	s.wsHandler.RegisterRoutes(router)
	log.Info().Msg("room gateway routes registered")
}

// GetStats returns statistics about the gateway service
func (s *Service) GetStats() Stats {
	return s.connectionManager.GetConnectionStats()
}
