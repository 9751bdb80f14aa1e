package orchestrator

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/timeline/go/internal/models"
	"github.com/mcdev12/timeline/go/internal/room/events"
)

const (
	defaultTickInterval = time.Second
	defaultNumWorkers   = 4
)

// RoomApp is what the orchestrator needs from the room app layer
type RoomApp interface {
	GetRoom(ctx context.Context, roomID string) (*models.RoomState, error)
	TimeoutTurn(ctx context.Context, roomID string, expectedStartedAt time.Time) (*models.RoomState, error)
	ListActiveRooms(ctx context.Context) ([]string, error)
}

// Broadcaster fans an event out to everyone in a room.
type Broadcaster interface {
	Broadcast(roomID string, eventType events.EventType, payload any)
}

// Orchestrator owns one turn ticker per active room. Ticks are handed to a small
// worker pool which checks the turn deadline and times the turn out.
type Orchestrator struct {
	app         RoomApp
	broadcaster Broadcaster
	clock       clockwork.Clock
	interval    time.Duration
	instanceID  string

	activeTickers   map[string]*roomTicker
	activeTickersMu sync.Mutex

	numWorkers int
	workCh     chan string

	// Track in-flight work so one room is never handled by two workers
	inFlight   map[string]bool
	inFlightMu sync.Mutex
}

type roomTicker struct {
	ticker clockwork.Ticker
	stop   chan struct{}
}

// NewOrchestrator creates a new turn orchestrator with a worker pool
func NewOrchestrator(app RoomApp, broadcaster Broadcaster, clock clockwork.Clock) *Orchestrator {
	return &Orchestrator{
		app:           app,
		broadcaster:   broadcaster,
		clock:         clock,
		interval:      defaultTickInterval,
		instanceID:    uuid.New().String()[:8],
		activeTickers: make(map[string]*roomTicker),
		numWorkers:    defaultNumWorkers,
		workCh:        make(chan string, defaultNumWorkers*16),
		inFlight:      make(map[string]bool),
	}
}

// Run starts the workers, re-arms tickers for games that were already running
// and blocks until ctx is done.
func (o *Orchestrator) Run(ctx context.Context) error {
	log.Info().Str("instance", o.instanceID).Int("workers", o.numWorkers).Msg("turn orchestrator started")

	var wg sync.WaitGroup
	for i := 0; i < o.numWorkers; i++ {
		wg.Add(1)
		go o.worker(ctx, &wg, i)
	}

	if err := o.resume(ctx); err != nil {
		log.Error().Err(err).Str("instance", o.instanceID).Msg("failed to resume active rooms")
	}

	<-ctx.Done()
	log.Info().Str("instance", o.instanceID).Msg("orchestrator shutdown requested")

	o.activeTickersMu.Lock()
	for roomID, t := range o.activeTickers {
		t.ticker.Stop()
		close(t.stop)
		log.Debug().Str("room_id", roomID).Msg("cancelled ticker on shutdown")
	}
	o.activeTickers = make(map[string]*roomTicker)
	o.activeTickersMu.Unlock()

	wg.Wait()
	log.Info().Str("instance", o.instanceID).Msg("all workers shut down")
	return nil
}

func (o *Orchestrator) resume(ctx context.Context) error {
	ids, err := o.app.ListActiveRooms(ctx)
	if err != nil {
		return err
	}
	for _, id := range ids {
		o.Schedule(id)
	}
	if len(ids) > 0 {
		log.Info().Str("instance", o.instanceID).Int("rooms", len(ids)).Msg("resumed turn tickers")
	}
	return nil
}

// ActiveRooms returns how many rooms currently have a ticker.
func (o *Orchestrator) ActiveRooms() int {
	o.activeTickersMu.Lock()
	defer o.activeTickersMu.Unlock()
	return len(o.activeTickers)
}

// worker processes room ticks from the work channel
func (o *Orchestrator) worker(ctx context.Context, wg *sync.WaitGroup, workerID int) {
	defer wg.Done()

	for {
		select {
		case <-ctx.Done():
			log.Debug().
				Str("instance", o.instanceID).
				Int("worker_id", workerID).
				Msg("worker shutting down")
			return
		case roomID := <-o.workCh:
			if !o.claim(roomID) {
				continue
			}
			if err := o.Tick(ctx, roomID); err != nil {
				log.Error().
					Err(err).
					Str("room_id", roomID).
					Str("instance", o.instanceID).
					Int("worker_id", workerID).
					Msg("turn tick failed, retrying next tick")
			}
			o.release(roomID)
		}
	}
}

func (o *Orchestrator) claim(roomID string) bool {
	o.inFlightMu.Lock()
	defer o.inFlightMu.Unlock()
	if o.inFlight[roomID] {
		return false
	}
	o.inFlight[roomID] = true
	return true
}

func (o *Orchestrator) release(roomID string) {
	o.inFlightMu.Lock()
	delete(o.inFlight, roomID)
	o.inFlightMu.Unlock()
}
