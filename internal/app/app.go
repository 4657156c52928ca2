package app

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/kryptonit/mes-backend/internal/data/db"
	mhttp "github.com/kryptonit/mes-backend/internal/http"
	"github.com/kryptonit/mes-backend/internal/jobs/worker"
	"github.com/kryptonit/mes-backend/internal/observability"
	"github.com/kryptonit/mes-backend/internal/platform/logger"
	"github.com/kryptonit/mes-backend/internal/platform/storage"
	"github.com/kryptonit/mes-backend/internal/realtime"
	"github.com/kryptonit/mes-backend/internal/realtime/bus"
)

type App struct {
	Log      *logger.Logger
	DB       *gorm.DB
	Cfg      Config
	Metrics  *observability.Metrics
	Store    storage.ObjectStore
	Bus      bus.Bus
	Hub      *realtime.SSEHub
	Repos    Repos
	Services Services
	Server   *mhttp.Server
	Worker   *worker.Worker

	otelShutdown func(context.Context) error
	cancel       context.CancelFunc
}

// OpenDatabase connects to the configured driver and registers the UUID callbacks.
func OpenDatabase(log *logger.Logger, cfg Config) (*gorm.DB, error) {
	var (
		svc *db.PostgresService
		err error
	)
	switch cfg.DBDriver {
	case DBDriverSQLite:
		svc, err = db.NewSQLiteService(log, cfg.SQLitePath)
	default:
		svc, err = db.NewPostgresService(log, cfg.Postgres())
	}
	if err != nil {
		return nil, err
	}
	return svc.DB(), nil
}

// New builds the whole object graph. Nothing is started until Start.
func New(ctx context.Context, log *logger.Logger, cfg Config) (*App, error) {
	metrics := observability.Init(cfg.MetricsEnabled)

	theDB, err := OpenDatabase(log, cfg)
	if err != nil {
		return nil, fmt.Errorf("init database: %w", err)
	}
	if err := db.AutoMigrateAll(theDB); err != nil {
		return nil, fmt.Errorf("automigrate: %w", err)
	}

	store, err := resolveObjectStore(ctx, log, cfg.Storage())
	if err != nil {
		return nil, err
	}

	eventBus, err := bus.New(log, cfg.Bus())
	if err != nil {
		return nil, fmt.Errorf("init event bus: %w", err)
	}

	hub := realtime.NewSSEHub(log)
	reposet := wireRepos(theDB, log)

	serviceset, err := wireServices(theDB, log, cfg, reposet, store, eventBus, eventBus, metrics)
	if err != nil {
		_ = eventBus.Close()
		return nil, err
	}

	filesDir, _ := storage.LocalRoot(store)
	handlerset := wireHandlers(theDB, log, serviceset, hub)
	middleware := wireMiddleware(log, serviceset)
	server := mhttp.NewServer(wireRouter(log, cfg, metrics, filesDir, handlerset, middleware))
	server.OnShutdown(hub.CloseAll)

	w := worker.NewWorker(log, metrics,
		worker.ReleaseExpiredReservations(log, serviceset.Reservation, cfg.ReleaseExpiredInterval),
		worker.CloseStaleSessions(log, reposet.Session, cfg.SessionStaleAfter, cfg.SessionSweepInterval),
	)

	return &App{
		Log:      log,
		DB:       theDB,
		Cfg:      cfg,
		Metrics:  metrics,
		Store:    store,
		Bus:      eventBus,
		Hub:      hub,
		Repos:    reposet,
		Services: serviceset,
		Server:   server,
		Worker:   w,
	}, nil
}

// Start launches the background parts: tracing, the bus forwarder, the
// periodic worker and the metrics collectors.
func (a *App) Start(ctx context.Context) error {
	if a == nil || a.cancel != nil {
		return nil
	}
	ctx, cancel := context.WithCancel(ctx)
	a.cancel = cancel

	a.otelShutdown = observability.InitOTel(ctx, a.Log, a.Cfg.Otel())

	if err := a.Bus.StartForwarder(ctx, a.Hub.Broadcast); err != nil {
		return fmt.Errorf("start event forwarder: %w", err)
	}

	a.Worker.Start(ctx)

	if a.Metrics != nil {
		a.Metrics.StartServer(ctx, a.Log, a.Cfg.MetricsAddr)
		a.Metrics.StartPostgresCollector(ctx, a.Log, a.DB)
		if rdb := bus.RedisClient(a.Bus); rdb != nil {
			a.Metrics.StartRedisCollector(ctx, a.Log, rdb)
		}
	}
	return nil
}

// Run serves HTTP until ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	if a == nil || a.Server == nil {
		return errors.New("app not initialized")
	}
	a.Log.Info("HTTP server listening", "addr", a.Cfg.HTTPAddr)
	return a.Server.Run(ctx, a.Cfg.HTTPAddr)
}

func (a *App) Close() {
	if a == nil {
		return
	}
	if a.cancel != nil {
		a.cancel()
		a.cancel = nil
		a.Worker.Wait()
	}
	if a.Bus != nil {
		if err := a.Bus.Close(); err != nil {
			a.Log.Warn("Event bus close failed", "error", err)
		}
	}
	if a.otelShutdown != nil {
		if err := a.otelShutdown(context.Background()); err != nil {
			a.Log.Warn("Tracer shutdown failed", "error", err)
		}
	}
	if sqlDB, err := a.DB.DB(); err == nil {
		_ = sqlDB.Close()
	}
	a.Log.Sync()
}
