package orchestrator

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

// SweepApp is what the sweeper needs from the room app layer
type SweepApp interface {
	FindEmptyRooms(ctx context.Context, cutoff time.Time) ([]string, error)
	FindStaleRooms(ctx context.Context, cutoff time.Time) ([]string, error)
	FindRoomsWithSnapshots(ctx context.Context) ([]string, error)
	DeleteIfEmpty(ctx context.Context, roomID string, cutoff time.Time) (bool, error)
	DeleteIfStale(ctx context.Context, roomID string, cutoff time.Time) (bool, error)
	PruneSnapshots(ctx context.Context, roomID string, cutoff time.Time) (int, error)
}

// SweepConfig controls how long rooms and snapshots are kept.
type SweepConfig struct {
	Interval       time.Duration `yaml:"interval"`
	EmptyRetention time.Duration `yaml:"empty_retention"`
	SnapshotTTL    time.Duration `yaml:"snapshot_ttl"`
	StaleAfter     time.Duration `yaml:"stale_after"`
}

func DefaultSweepConfig() SweepConfig {
	return SweepConfig{
		Interval:       5 * time.Minute,
		EmptyRetention: 30 * time.Minute,
		SnapshotTTL:    30 * time.Minute,
		StaleAfter:     2 * time.Hour,
	}
}

// SweepStats reports what one sweep did.
type SweepStats struct {
	DeletedEmpty    int
	DeletedStale    int
	PrunedSnapshots int
}

// Sweeper deletes rooms that stayed empty past the retention window, rooms nobody
// touched for StaleAfter, and old disconnected player snapshots.
type Sweeper struct {
	app       SweepApp
	clock     clockwork.Clock
	cfg       SweepConfig
	onDeleted func(roomID string)
}

func NewSweeper(app SweepApp, clock clockwork.Clock, cfg SweepConfig, onDeleted func(roomID string)) *Sweeper {
	if onDeleted == nil {
		onDeleted = func(string) {}
	}
	return &Sweeper{app: app, clock: clock, cfg: cfg, onDeleted: onDeleted}
}

// Run sweeps every Interval until ctx is done.
func (s *Sweeper) Run(ctx context.Context) error {
	ticker := s.clock.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	log.Info().Dur("interval", s.cfg.Interval).Msg("room sweeper started")
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.Chan():
			stats := s.Sweep(ctx)
			if stats != (SweepStats{}) {
				log.Info().
					Int("deleted_empty", stats.DeletedEmpty).
					Int("deleted_stale", stats.DeletedStale).
					Int("pruned_snapshots", stats.PrunedSnapshots).
					Msg("room sweep finished")
			}
		}
	}
}

// Sweep runs one pass. Errors on single rooms are logged and skipped.
func (s *Sweeper) Sweep(ctx context.Context) SweepStats {
	var stats SweepStats
	now := s.clock.Now()

	emptyCutoff := now.Add(-s.cfg.EmptyRetention)
	if ids, err := s.app.FindEmptyRooms(ctx, emptyCutoff); err != nil {
		log.Error().Err(err).Msg("failed to find empty rooms")
	} else {
		for _, id := range ids {
			deleted, err := s.app.DeleteIfEmpty(ctx, id, emptyCutoff)
			if err != nil {
				log.Error().Err(err).Str("room_id", id).Msg("failed to delete empty room")
				continue
			}
			if deleted {
				stats.DeletedEmpty++
				s.onDeleted(id)
			}
		}
	}

	staleCutoff := now.Add(-s.cfg.StaleAfter)
	if ids, err := s.app.FindStaleRooms(ctx, staleCutoff); err != nil {
		log.Error().Err(err).Msg("failed to find stale rooms")
	} else {
		for _, id := range ids {
			deleted, err := s.app.DeleteIfStale(ctx, id, staleCutoff)
			if err != nil {
				log.Error().Err(err).Str("room_id", id).Msg("failed to delete stale room")
				continue
			}
			if deleted {
				stats.DeletedStale++
				s.onDeleted(id)
			}
		}
	}

	snapCutoff := now.Add(-s.cfg.SnapshotTTL)
	if ids, err := s.app.FindRoomsWithSnapshots(ctx); err != nil {
		log.Error().Err(err).Msg("failed to find rooms with snapshots")
	} else {
		for _, id := range ids {
			n, err := s.app.PruneSnapshots(ctx, id, snapCutoff)
			if err != nil {
				log.Error().Err(err).Str("room_id", id).Msg("failed to prune snapshots")
				continue
			}
			stats.PrunedSnapshots += n
		}
	}

	return stats
}
