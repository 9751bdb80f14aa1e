package main

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/timeline/go/internal/catalog"
	"github.com/mcdev12/timeline/go/internal/dbconfig"
	"github.com/mcdev12/timeline/go/internal/room"
)

func setupDatabase(ctx context.Context, dbCfg dbconfig.Config) (*sql.DB, error) {
	database, err := sql.Open("postgres", dbCfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to create database connection: %w", err)
	}
	if dbCfg.MaxConns > 0 {
		database.SetMaxOpenConns(dbCfg.MaxConns)
		database.SetMaxIdleConns(dbCfg.MaxConns)
	}

	if err := database.PingContext(ctx); err != nil {
		database.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	log.Info().Str("database", dbCfg.Redacted()).Msg("connected to database")
	return database, nil
}

func migrate(ctx context.Context) error {
	dbCfg := dbconfig.NewConfigFromEnv()
	database, err := setupDatabase(ctx, dbCfg)
	if err != nil {
		return err
	}
	defer database.Close()

	if err := room.NewRepository(database).Migrate(ctx); err != nil {
		return err
	}

	songs, err := catalog.NewRepository(ctx, dbCfg.DSN())
	if err != nil {
		return err
	}
	defer songs.Close()
	if err := songs.Migrate(ctx); err != nil {
		return err
	}

	log.Info().Msg("migrations applied")
	return nil
}

func seed(ctx context.Context, path string) (int, error) {
	list, err := catalog.LoadFile(path)
	if err != nil {
		return 0, err
	}

	songs, err := catalog.NewRepository(ctx, dbconfig.NewConfigFromEnv().DSN())
	if err != nil {
		return 0, err
	}
	defer songs.Close()

	if err := songs.Migrate(ctx); err != nil {
		return 0, err
	}
	added, err := songs.Import(ctx, list)
	if err != nil {
		return 0, err
	}
	log.Info().Str("file", path).Int("read", len(list)).Int("imported", added).Msg("catalog seeded")
	return added, nil
}
