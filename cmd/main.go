package main

import (
	"context"

	"go.uber.org/zap"

	"github.com/subastas/bidengine/internal/auction/application"
	auctionhttp "github.com/subastas/bidengine/internal/auction/infra/http"
	"github.com/subastas/bidengine/internal/auction/infra/repository/postgres"
	auctionws "github.com/subastas/bidengine/internal/auction/infra/websocket"
	"github.com/subastas/bidengine/internal/shared/config"
	"github.com/subastas/bidengine/internal/shared/db"
	"github.com/subastas/bidengine/internal/shared/db/migrations"
	"github.com/subastas/bidengine/internal/shared/httpserver"
	"github.com/subastas/bidengine/internal/shared/logger"
	ws "github.com/subastas/bidengine/internal/shared/websocket"
)

func main() {
	log := logger.GetLogger()
	defer log.Sync()

	log.Info("Starting bidengine server...")
	cfg := config.Load()

	log.Info("Running database migrations...")
	if err := migrations.RunMigrations(cfg); err != nil {
		log.Fatal("Database migration failed", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := db.GetPostgresDBPool(ctx, cfg)
	if err != nil {
		log.Fatal("Database connection failed", zap.Error(err))
	}
	defer pool.Close()

	store := postgres.NewStore(pool)

	hub := ws.NewHub()
	go hub.Run(ctx)

	// the broadcaster needs the service and the registry needs the publisher,
	// so the publisher is bound after construction
	registry := application.NewRegistry(store, nil)
	defer registry.Shutdown()
	service := application.NewAuctionService(registry, store)

	broadcaster := auctionws.NewBroadcaster(hub, service)
	registry.SetPublisher(broadcaster)

	closer := application.NewCloser(service, store, cfg.CloserInterval, nil)
	go closer.Run(ctx)

	server := httpserver.NewServer()
	auctionhttp.NewHandler(service).Register(server.App())
	broadcaster.Register(server.App())

	if err := server.Start(cfg.HTTPAddr); err != nil {
		log.Fatal("HTTP server failed", zap.Error(err))
	}
}
