package catalog

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mcdev12/timeline/go/internal/models"
)

// Schema creates the songs table.
const Schema = `
CREATE TABLE IF NOT EXISTS songs (
    id           UUID PRIMARY KEY,
    title        TEXT NOT NULL,
    artist       TEXT NOT NULL,
    album        TEXT NOT NULL DEFAULT '',
    release_year INTEGER NOT NULL,
    link         TEXT NOT NULL DEFAULT ''
);`

// Repository is the Postgres-backed catalog.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository opens a pgx pool for connString.
func NewRepository(ctx context.Context, connString string) (*Repository, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("failed to create song pool: %w", err)
	}
	return &Repository{pool: pool}, nil
}

// Close releases the pool.
func (r *Repository) Close() {
	r.pool.Close()
}

// Migrate applies Schema.
func (r *Repository) Migrate(ctx context.Context) error {
	if _, err := r.pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("failed to create songs table: %w", err)
	}
	return nil
}

func (r *Repository) GetRandom(ctx context.Context, n int) ([]models.Song, error) {
	if n <= 0 {
		return nil, nil
	}

	rows, err := r.pool.Query(ctx,
		`SELECT id, title, artist, album, release_year, link FROM songs ORDER BY RANDOM() LIMIT $1`, n)
	if err != nil {
		return nil, wrapErr("query random songs", err)
	}
	defer rows.Close()

	songs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.Song, error) {
		var s models.Song
		err := row.Scan(&s.ID, &s.Title, &s.Artist, &s.Album, &s.Year, &s.Link)
		return s, err
	})
	if err != nil {
		return nil, wrapErr("scan songs", err)
	}
	if len(songs) == 0 {
		return nil, ErrEmpty
	}
	return songs, nil
}

// Import inserts songs in one batch, skipping ids that already exist.
func (r *Repository) Import(ctx context.Context, songs []models.Song) (int, error) {
	batch := &pgx.Batch{}
	for _, s := range songs {
		batch.Queue(`INSERT INTO songs (id, title, artist, album, release_year, link)
			VALUES ($1, $2, $3, $4, $5, $6) ON CONFLICT (id) DO NOTHING`,
			s.ID, s.Title, s.Artist, s.Album, s.Year, s.Link)
	}

	results := r.pool.SendBatch(ctx, batch)
	defer results.Close()

	added := 0
	for range songs {
		tag, err := results.Exec()
		if err != nil {
			return added, wrapErr("import song", err)
		}
		added += int(tag.RowsAffected())
	}
	return added, nil
}

func wrapErr(op string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return fmt.Errorf("failed to %s: %s (%s): %w", op, pgErr.Message, pgErr.Code, err)
	}
	return fmt.Errorf("failed to %s: %w", op, err)
}
