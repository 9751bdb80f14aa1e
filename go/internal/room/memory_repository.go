package room

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/mcdev12/timeline/go/internal/models"
)

// MemoryRepository keeps rooms in process. Rooms are stored as JSON so callers
// never share memory with the stored copy.
type MemoryRepository struct {
	mu    sync.RWMutex
	rooms map[string][]byte
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{rooms: make(map[string][]byte)}
}

func (r *MemoryRepository) Insert(ctx context.Context, state *models.RoomState) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.rooms[state.RoomID]; ok {
		return fmt.Errorf("room %s: %w", state.RoomID, ErrConflict)
	}
	state.Version = 1
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to encode room: %w", err)
	}
	r.rooms[state.RoomID] = data
	return nil
}

func (r *MemoryRepository) Get(ctx context.Context, roomID string) (*models.RoomState, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.decode(roomID)
}

func (r *MemoryRepository) decode(roomID string) (*models.RoomState, error) {
	data, ok := r.rooms[roomID]
	if !ok {
		return nil, fmt.Errorf("room %s: %w", roomID, ErrNotFound)
	}
	var st models.RoomState
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("failed to decode room: %w", err)
	}
	return &st, nil
}

func (r *MemoryRepository) Save(ctx context.Context, state *models.RoomState) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	current, err := r.decode(state.RoomID)
	if err != nil {
		return err
	}
	if current.Version != state.Version {
		return fmt.Errorf("room %s at version %d, have %d: %w", state.RoomID, current.Version, state.Version, ErrVersionConflict)
	}

	next := *state
	next.Version++
	data, err := json.Marshal(&next)
	if err != nil {
		return fmt.Errorf("failed to encode room: %w", err)
	}
	r.rooms[state.RoomID] = data
	state.Version = next.Version
	return nil
}

func (r *MemoryRepository) Delete(ctx context.Context, roomID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.rooms[roomID]; !ok {
		return fmt.Errorf("room %s: %w", roomID, ErrNotFound)
	}
	delete(r.rooms, roomID)
	return nil
}

func (r *MemoryRepository) FindEmptySince(ctx context.Context, cutoff time.Time) ([]string, error) {
	return r.filter(ctx, func(st *models.RoomState) bool {
		return st.EmptySince != nil && !st.EmptySince.After(cutoff)
	})
}

func (r *MemoryRepository) FindStale(ctx context.Context, cutoff time.Time) ([]string, error) {
	return r.filter(ctx, func(st *models.RoomState) bool {
		return st.LastActiveAt.Before(cutoff)
	})
}

func (r *MemoryRepository) FindWithSnapshots(ctx context.Context) ([]string, error) {
	return r.filter(ctx, func(st *models.RoomState) bool {
		return len(st.DisconnectedPlayers) > 0
	})
}

func (r *MemoryRepository) ListActive(ctx context.Context) ([]string, error) {
	return r.filter(ctx, func(st *models.RoomState) bool {
		return st.GameState.IsActive
	})
}

func (r *MemoryRepository) filter(ctx context.Context, keep func(*models.RoomState) bool) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	var ids []string
	for id := range r.rooms {
		st, err := r.decode(id)
		if err != nil {
			return nil, err
		}
		if keep(st) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}
