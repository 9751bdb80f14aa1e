package room

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/sqlc-dev/pqtype"

	"github.com/mcdev12/timeline/go/internal/models"
	"github.com/mcdev12/timeline/go/internal/sqlutil"
)

// Schema creates the rooms table.
//
//go:embed schema.sql
var Schema string

const uniqueViolation = "23505"

// Repository is the Postgres-backed Store. The aggregate lives in a JSONB column;
// disconnected snapshots, version and the sweep timestamps get their own columns.
type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// Migrate applies Schema.
func (r *Repository) Migrate(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("failed to create rooms table: %w", err)
	}
	return nil
}

type roomQueries struct {
	db sqlutil.DBTX
}

func newRoomQueries(db sqlutil.DBTX) *roomQueries {
	return &roomQueries{db: db}
}

type roomRow struct {
	state        []byte
	disconnected pqtype.NullRawMessage
	version      int64
	isActive     bool
	emptySince   sql.NullTime
	lastActiveAt time.Time
	createdAt    time.Time
}

func toRow(st *models.RoomState) (roomRow, error) {
	doc := *st
	doc.DisconnectedPlayers = nil
	doc.EmptySince = nil
	state, err := json.Marshal(&doc)
	if err != nil {
		return roomRow{}, fmt.Errorf("failed to marshal room state: %w", err)
	}
	disconnected, err := sqlutil.ToNullJSON(st.DisconnectedPlayers)
	if err != nil {
		return roomRow{}, fmt.Errorf("failed to marshal snapshots: %w", err)
	}
	return roomRow{
		state:        state,
		disconnected: disconnected,
		version:      st.Version,
		isActive:     st.GameState.IsActive,
		emptySince:   sqlutil.ToSqlTime(st.EmptySince),
		lastActiveAt: st.LastActiveAt,
		createdAt:    st.CreatedAt,
	}, nil
}

func (row roomRow) toModel() (*models.RoomState, error) {
	var st models.RoomState
	if err := json.Unmarshal(row.state, &st); err != nil {
		return nil, fmt.Errorf("failed to unmarshal room state: %w", err)
	}
	snaps, err := sqlutil.FromNullJSON[models.DisconnectedPlayer](row.disconnected)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal snapshots: %w", err)
	}
	st.DisconnectedPlayers = snaps
	st.Version = row.version
	st.EmptySince = sqlutil.FromSqlTime(row.emptySince)
	st.LastActiveAt = row.lastActiveAt
	st.CreatedAt = row.createdAt
	return &st, nil
}

func (q *roomQueries) get(ctx context.Context, roomID string, forUpdate bool) (roomRow, error) {
	query := `SELECT state, disconnected, version, is_active, empty_since, last_active_at, created_at
		FROM rooms WHERE room_id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}

	var row roomRow
	err := q.db.QueryRowContext(ctx, query, roomID).Scan(
		&row.state, &row.disconnected, &row.version, &row.isActive,
		&row.emptySince, &row.lastActiveAt, &row.createdAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return roomRow{}, fmt.Errorf("room %s: %w", roomID, ErrNotFound)
	}
	return row, err
}

func (r *Repository) Insert(ctx context.Context, state *models.RoomState) error {
	state.Version = 1
	row, err := toRow(state)
	if err != nil {
		return err
	}

	_, err = r.db.ExecContext(ctx, `INSERT INTO rooms
		(room_id, state, disconnected, version, is_active, empty_since, last_active_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		state.RoomID, row.state, row.disconnected, row.version, row.isActive,
		row.emptySince, row.lastActiveAt, row.createdAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return fmt.Errorf("room %s: %w", state.RoomID, ErrConflict)
		}
		return fmt.Errorf("failed to insert room: %w", err)
	}
	return nil
}

func (r *Repository) Get(ctx context.Context, roomID string) (*models.RoomState, error) {
	row, err := newRoomQueries(r.db).get(ctx, roomID, false)
	if err != nil {
		return nil, err
	}
	return row.toModel()
}

func (r *Repository) Save(ctx context.Context, state *models.RoomState) error {
	row, err := toRow(state)
	if err != nil {
		return err
	}

	err = sqlutil.Run(ctx, r.db, newRoomQueries, func(q *roomQueries) error {
		current, err := q.get(ctx, state.RoomID, true)
		if err != nil {
			return err
		}
		if current.version != state.Version {
			return fmt.Errorf("room %s at version %d, have %d: %w", state.RoomID, current.version, state.Version, ErrVersionConflict)
		}

		res, err := q.db.ExecContext(ctx, `UPDATE rooms
			SET state = $2, disconnected = $3, version = version + 1, is_active = $4,
			    empty_since = $5, last_active_at = $6
			WHERE room_id = $1 AND version = $7`,
			state.RoomID, row.state, row.disconnected, row.isActive,
			row.emptySince, row.lastActiveAt, state.Version,
		)
		if err != nil {
			return fmt.Errorf("failed to update room: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return fmt.Errorf("room %s: %w", state.RoomID, ErrVersionConflict)
		}
		return nil
	})
	if err != nil {
		return err
	}

	state.Version++
	return nil
}

func (r *Repository) Delete(ctx context.Context, roomID string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM rooms WHERE room_id = $1`, roomID)
	if err != nil {
		return fmt.Errorf("failed to delete room: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("room %s: %w", roomID, ErrNotFound)
	}
	return nil
}

func (r *Repository) FindEmptySince(ctx context.Context, cutoff time.Time) ([]string, error) {
	return r.ids(ctx, `SELECT room_id FROM rooms WHERE empty_since IS NOT NULL AND empty_since <= $1 ORDER BY room_id`, cutoff)
}

func (r *Repository) FindStale(ctx context.Context, cutoff time.Time) ([]string, error) {
	return r.ids(ctx, `SELECT room_id FROM rooms WHERE last_active_at < $1 ORDER BY room_id`, cutoff)
}

func (r *Repository) FindWithSnapshots(ctx context.Context) ([]string, error) {
	return r.ids(ctx, `SELECT room_id FROM rooms WHERE disconnected IS NOT NULL ORDER BY room_id`)
}

func (r *Repository) ListActive(ctx context.Context) ([]string, error) {
	return r.ids(ctx, `SELECT room_id FROM rooms WHERE is_active ORDER BY room_id`)
}

func (r *Repository) ids(ctx context.Context, query string, args ...any) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list rooms: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan room id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
