package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"
)

const subjectPrefix = "timeline.rooms."

// NATSConfig holds configuration for the NATS fan-out bridge
type NATSConfig struct {
	URL           string        `yaml:"url"`
	MaxReconnects int           `yaml:"max_reconnects"`
	ReconnectWait time.Duration `yaml:"reconnect_wait"`
}

// DefaultNATSConfig returns default NATS configuration. An empty URL disables the bridge.
func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		MaxReconnects: -1, // Infinite
		ReconnectWait: 2 * time.Second,
	}
}

// NATSBridge relays room messages between server instances so players
// connected to different instances share a room.
type NATSBridge struct {
	conns  *ConnectionManager
	nc     *nats.Conn
	origin string
}

type bridgeMessage struct {
	Origin  string           `json:"origin"`
	Message BroadcastMessage `json:"message"`
}

// NewNATSBridge connects to NATS and registers the bridge as conns' publisher.
func NewNATSBridge(conns *ConnectionManager, config NATSConfig) (*NATSBridge, error) {
	opts := []nats.Option{
		nats.Name("timeline-gateway"),
		nats.MaxReconnects(config.MaxReconnects),
		nats.ReconnectWait(config.ReconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Error().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			log.Error().Err(err).Msg("NATS error")
		}),
	}

	nc, err := nats.Connect(config.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}

	b := &NATSBridge{
		conns:  conns,
		nc:     nc,
		origin: uuid.New().String(),
	}
	conns.SetPublisher(b)
	return b, nil
}

// Subject returns the subject room messages for roomID travel on.
func Subject(roomID string) string {
	return subjectPrefix + roomID
}

// Publish sends a locally originated message to the other instances.
func (b *NATSBridge) Publish(message BroadcastMessage) error {
	data, err := json.Marshal(bridgeMessage{Origin: b.origin, Message: message})
	if err != nil {
		return fmt.Errorf("failed to marshal bridge message: %w", err)
	}
	if err := b.nc.Publish(Subject(message.RoomID), data); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", Subject(message.RoomID), err)
	}
	return nil
}

// Start subscribes to every room subject and delivers foreign messages to local
// connections until ctx is done.
func (b *NATSBridge) Start(ctx context.Context) error {
	sub, err := b.nc.Subscribe(subjectPrefix+"*", func(msg *nats.Msg) {
		b.handle(msg.Subject, msg.Data)
	})
	if err != nil {
		return fmt.Errorf("subscribe to room subjects: %w", err)
	}
	log.Info().Str("instance", b.origin[:8]).Msg("NATS bridge started")

	<-ctx.Done()
	if err := sub.Unsubscribe(); err != nil {
		log.Warn().Err(err).Msg("failed to unsubscribe from room subjects")
	}
	log.Info().Msg("NATS bridge shutting down")
	return nil
}

func (b *NATSBridge) handle(subject string, data []byte) {
	var bm bridgeMessage
	if err := json.Unmarshal(data, &bm); err != nil {
		log.Error().Err(err).Str("subject", subject).Msg("failed to unmarshal bridge message")
		return
	}
	if bm.Origin == b.origin || bm.Message.Event == nil {
		return
	}
	if roomID := strings.TrimPrefix(subject, subjectPrefix); roomID != bm.Message.RoomID {
		log.Warn().Str("subject", subject).Str("room_id", bm.Message.RoomID).Msg("bridge message room mismatch")
		return
	}

	bm.Message.Remote = true
	b.conns.Deliver(bm.Message)
}

// Close drains the NATS connection.
func (b *NATSBridge) Close() {
	if err := b.nc.Drain(); err != nil {
		log.Warn().Err(err).Msg("failed to drain NATS connection")
	}
}
