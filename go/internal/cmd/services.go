package main

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/timeline/go/internal/catalog"
	"github.com/mcdev12/timeline/go/internal/dbconfig"
	"github.com/mcdev12/timeline/go/internal/room"
	"github.com/mcdev12/timeline/go/internal/room/gateway"
	"github.com/mcdev12/timeline/go/internal/room/orchestrator"
)

type Services struct {
	Rooms        *room.Service
	Gateway      *gateway.Service
	Orchestrator *orchestrator.Orchestrator
	Sweeper      *orchestrator.Sweeper

	closers []func()
}

func (s *Services) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
}

func setupServices(ctx context.Context, cfg *Config) (*Services, error) {
	// Wire up dependency injection chain
	// Store/catalog → App → orchestrator, gateway, HTTP service
	services := &Services{}

	store, songs, err := setupStorage(ctx, cfg, services)
	if err != nil {
		services.Close()
		return nil, err
	}

	clock := clockwork.NewRealClock()
	app := room.NewApp(store, songs, clock, cfg.Room)

	connections := gateway.NewConnections(cfg.Gateway, clock)
	orch := orchestrator.NewOrchestrator(app, connections, clock)

	gw, err := gateway.NewService(cfg.Gateway, connections, app, orch)
	if err != nil {
		services.Close()
		return nil, err
	}

	rooms := room.NewService(app, songs, cfg.Server.PublicURL)
	rooms.SetNotifier(gw.Notifier())

	services.Rooms = rooms
	services.Gateway = gw
	services.Orchestrator = orch
	services.Sweeper = orchestrator.NewSweeper(app, clock, cfg.Sweep, orch.Cancel)
	return services, nil
}

func setupStorage(ctx context.Context, cfg *Config, services *Services) (room.Store, catalog.Catalog, error) {
	if cfg.Server.Store == storeMemory {
		songs := catalog.SampleSongs()
		if cfg.Catalog.SeedFile != "" {
			loaded, err := catalog.LoadFile(cfg.Catalog.SeedFile)
			if err != nil {
				return nil, nil, err
			}
			songs = loaded
		}
		log.Info().Int("songs", len(songs)).Msg("using in-memory room store and catalog")
		return room.NewMemoryRepository(), catalog.NewMemory(songs), nil
	}

	dbCfg := dbconfig.NewConfigFromEnv()
	database, err := setupDatabase(ctx, dbCfg)
	if err != nil {
		return nil, nil, err
	}
	services.closers = append(services.closers, func() { closeDB(database) })

	rooms := room.NewRepository(database)
	if err := rooms.Migrate(ctx); err != nil {
		return nil, nil, fmt.Errorf("failed to migrate rooms: %w", err)
	}

	songs, err := catalog.NewRepository(ctx, dbCfg.DSN())
	if err != nil {
		return nil, nil, err
	}
	services.closers = append(services.closers, songs.Close)
	if err := songs.Migrate(ctx); err != nil {
		return nil, nil, fmt.Errorf("failed to migrate songs: %w", err)
	}
	return rooms, songs, nil
}

func closeDB(database *sql.DB) {
	if err := database.Close(); err != nil {
		log.Error().Err(err).Msg("failed to close database")
	}
}
