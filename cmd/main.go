package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"patchbay"
	"patchbay/internal/api/handler/endpoints"
	"patchbay/internal/api/models"
	"patchbay/internal/api/service"
	"patchbay/internal/api/websocket"
	"patchbay/internal/graph"
	"patchbay/internal/mirror"
	"patchbay/internal/peer"
	"patchbay/internal/reconcile"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/graceful"
	"github.com/gin-gonic/gin"
)

func main() {
	patchbay.InitConfig(".env")
	gin.SetMode(gin.ReleaseMode)
	cfg := patchbay.GetConfig()
	logger := patchbay.Logger

	var (
		journal        mirror.Journal
		journalService *service.JournalService
	)
	if cfg.JournalConfig.Enabled {
		if cfg.Mode == "dev" {
			if err := patchbay.DB.AutoMigrate(&models.JournalEntry{}); err != nil {
				logger.Fatal().Err(err).Msg("Failed to migrate database")
			}
			logger.Info().Msg("Database migrated successfully")
		}
		journalService = service.NewJournalService()
		journal = journalService
	}
	if cfg.Mode == "dev" {
		gin.SetMode(gin.DebugMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// The hub receives every store event; it must exist before the store.
	hub := websocket.NewHub(logger)
	engine := reconcile.NewEngine(graph.NewStore(hub), logger, reconcile.Options{
		PendingTTL: cfg.MirrorConfig.PendingTTL,
	})

	bridge, err := peer.NewBridge(cfg.NatsConfig.URL, cfg.NatsConfig.Prefix, cfg.NatsConfig.ClientName, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to connect to NATS")
	}
	defer bridge.Close()

	positions := service.NewPositionService()
	relay := mirror.NewRelay(bridge, positions, journal, logger)
	loop := mirror.NewLoop(engine, logger, mirror.LoopOptions{
		QueueSize:     cfg.MirrorConfig.QueueSize,
		SweepInterval: cfg.MirrorConfig.SweepInterval,
	})

	mirrorService := service.NewMirrorService(loop, engine, relay, logger)
	processor := websocket.NewMessageProcessor(mirrorService, logger)
	hub.OnLeave = processor.Leave

	go hub.Run(ctx)
	go loop.Run(ctx)
	logger.Info().Msg("Mirror loop and websocket hub started")

	if err := bridge.Listen(mirror.NewHandler(ctx, loop, engine, positions, logger)); err != nil {
		logger.Fatal().Err(err).Msg("Failed to subscribe to peer events")
	}

	router, err := graceful.Default(graceful.WithAddr(cfg.ApiPort))
	if err != nil {
		panic(err)
	}
	defer router.Close()

	router.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "PATCH", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	endpoints.GraphHandler(router, mirrorService, journalService)
	endpoints.WebSocketHandler(router, hub, processor, mirrorService)

	logger.Debug().Msgf("Starting patchbay on port %s", cfg.ApiPort)
	if err = router.RunWithContext(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error().Err(err).Msg("HTTP server stopped")
	}

	// Stop taking peer events before the loop drains, then let in-flight
	// requests finish.
	stop()
	bridge.Close()
	<-loop.Done()
	relay.Wait()
	logger.Info().Msg("patchbay stopped")
}
