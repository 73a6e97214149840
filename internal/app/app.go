package app

import (
	"context"
	"database/sql"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"carbridge/internal/catalog"
	"carbridge/internal/config"
	"carbridge/internal/db"
	httpserver "carbridge/internal/http"
	"carbridge/internal/http/handlers"
	"carbridge/internal/http/middleware"
	"carbridge/internal/metrics"
	"carbridge/internal/models"
	"carbridge/internal/permissions"
	"carbridge/internal/repository"
	"carbridge/internal/service"
	"carbridge/internal/snapshot"
	"carbridge/internal/state"
	"carbridge/internal/vendorapi"
	"carbridge/internal/webhook"
	"carbridge/internal/ws"
)

// App wires carbridge dependencies.
type App struct {
	server    *httpserver.Server
	scheduler *service.Scheduler
	coord     *service.Coordinator
	hub       *ws.Hub
	db        *sql.DB
	redis     *redis.Client
	logger    *zap.Logger
}

// New constructs application components.
func New(cfg *config.Config, logger *zap.Logger) (*App, error) {
	cat := catalog.New()
	registry := permissions.NewRegistry(cat, cfg.GrantedScopes())
	store := state.NewStore()
	m := metrics.New()

	vendor := vendorapi.NewClient(cfg.Vendor.BaseURL, cfg.Vendor.VehicleID, cfg.Vendor.AccessToken, logger)
	engine := service.NewFetchEngine(cat, registry, store, vendor, m,
		cfg.VendorTimeout(), cfg.Vendor.MaxConcurrentCalls, logger)

	verifier := webhook.NewVerifier(cfg.Webhook.ManagementToken)
	reconciler := service.NewReconciler(cat, registry, store, verifier, m, logger)
	commands := service.NewCommandService(vendor, engine, logger)

	var redisClient *redis.Client
	var snapshots service.SnapshotStore
	if cfg.Redis.Addr != "" {
		client, err := snapshot.NewRedisClient(cfg.Redis.Addr, cfg.Redis.Password)
		if err != nil {
			return nil, err
		}
		redisClient = client
		snapshots = snapshot.NewStore(client, cfg.Vendor.VehicleID)
	}

	coord := service.NewCoordinator(cat, registry, store, engine, reconciler, commands,
		snapshots, cfg.ConfiguredDatapoints(), logger)
	coord.Rehydrate(context.Background())

	scheduler := service.NewScheduler(engine, coord.EnabledKeys,
		cfg.IdleInterval(), cfg.ActiveInterval(), cfg.Scheduler.Disabled, m, logger)
	scheduler.SetAfterCycle(coord.SaveSnapshot)

	hub := ws.NewHub(logger)

	var sqlDB *sql.DB
	var readings *repository.ReadingsRepository
	if cfg.Database.DSN != "" {
		database, err := db.NewPostgres(cfg.Database.DSN)
		if err != nil {
			return nil, err
		}
		sqlDB = database
		readings = repository.NewReadingsRepository(sqlDB)
	}

	store.SetOnChange(func(point models.DataPointState) {
		hub.Broadcast(point)
		if readings == nil || point.Value == nil {
			return
		}
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			err := readings.Insert(ctx, &models.Reading{
				Key:        point.Key,
				Value:      *point.Value,
				UnitSystem: point.UnitSystem,
				RecordedAt: point.RecordedAt,
				FetchedAt:  point.FetchedAt,
			})
			if err != nil {
				logger.Warn("failed to persist reading",
					zap.String("key", string(point.Key)), zap.Error(err))
			}
		}()
	})

	routes := httpserver.Routes{
		Datapoints:    handlers.NewDatapointsHandler(coord),
		DatapointRead: handlers.NewDatapointReadHandler(coord),
		Refresh:       handlers.NewRefreshHandler(coord),
		Command:       handlers.NewCommandHandler(coord, logger),
		Scheduler:     handlers.NewSchedulerHandler(scheduler),
		Webhook:       handlers.NewWebhookHandler(coord, verifier, logger).Handle,
		StateStream:   ws.NewStreamHandler(hub, logger),
		Health:        handlers.NewHealthHandler(coord, scheduler),
		Metrics:       m.Handler(),
		Auth:          middleware.AuthMiddleware(cfg.Auth.JWTSecret),
	}
	if readings != nil {
		routes.History = handlers.NewHistoryHandler(readings, logger)
	}

	router := httpserver.NewRouter(routes)
	server := httpserver.NewServer(cfg.HTTPAddress(), router, logger)

	return &App{
		server:    server,
		scheduler: scheduler,
		coord:     coord,
		hub:       hub,
		db:        sqlDB,
		redis:     redisClient,
		logger:    logger,
	}, nil
}

// Run starts the polling scheduler and serves HTTP until ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	go a.scheduler.Run(ctx)
	return a.server.Run(ctx)
}

// Close persists a final snapshot and releases resources.
func (a *App) Close() {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	a.coord.SaveSnapshot(shutdownCtx)

	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.logger.Warn("failed to close db", zap.Error(err))
		}
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.Warn("failed to close redis", zap.Error(err))
		}
	}
}
