package app

import (
	"context"
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/pixelbase/pixelbase-backend/internal/db"
	"github.com/pixelbase/pixelbase-backend/internal/observability"
	"github.com/pixelbase/pixelbase-backend/internal/platform/envutil"
	"github.com/pixelbase/pixelbase-backend/internal/platform/logger"
	"github.com/pixelbase/pixelbase-backend/internal/realtime"
)

const shutdownTimeout = 5 * time.Second

// App is the API process: router, realtime hub, and everything they
// depend on. The worker process has its own wiring in worker.go.
type App struct {
	Log      *logger.Logger
	DB       *gorm.DB
	Cfg      Config
	Router   *gin.Engine
	Hub      *realtime.Hub
	Repos    Repos
	Services Services

	tracingShutdown func(context.Context) error
	cancel          context.CancelFunc
}

func New(ctx context.Context) (*App, error) {
	log, err := logger.New(envutil.String("LOG_MODE", "development"))
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	cfg, err := LoadConfig(log)
	if err != nil {
		log.Sync()
		return nil, err
	}

	tracingShutdown := observability.InitTracing(ctx, log, observability.TracingConfig{
		ServiceName: envutil.String("SERVICE_NAME", "pixelbase-api"),
		Environment: cfg.Environment,
		Version:     cfg.Version,
	})

	pg, err := db.NewPostgresService(log)
	if err != nil {
		log.Sync()
		return nil, fmt.Errorf("init postgres: %w", err)
	}
	if err := pg.AutoMigrateAll(); err != nil {
		log.Sync()
		return nil, fmt.Errorf("postgres automigrate: %w", err)
	}
	gdb := pg.DB()

	clients, err := wireClients(ctx, cfg, log)
	if err != nil {
		log.Sync()
		return nil, err
	}
	hub := realtime.NewHub(clients.Bus, log)

	reposet := wireRepos(gdb, log)
	serviceset := wireServices(gdb, cfg, reposet, clients, hub, log)
	handlerset := wireHandlers(serviceset, reposet, hub, log)
	mw := wireMiddleware(serviceset, log)
	router := wireRouter(handlerset, mw)

	return &App{
		Log:             log,
		DB:              gdb,
		Cfg:             cfg,
		Router:          router,
		Hub:             hub,
		Repos:           reposet,
		Services:        serviceset,
		tracingShutdown: tracingShutdown,
	}, nil
}

// Start launches the hub's bus loop. Run still blocks on the router.
func (a *App) Start() {
	if a == nil || a.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel
	go func() {
		if err := a.Hub.Run(ctx); err != nil && ctx.Err() == nil {
			a.Log.Error("Realtime hub stopped", "error", err)
		}
	}()
}

func (a *App) Run() error {
	if a == nil || a.Router == nil {
		return fmt.Errorf("app not initialized")
	}
	return a.Router.Run(a.Cfg.HTTPAddr)
}

func (a *App) Close() {
	if a == nil {
		return
	}
	if a.cancel != nil {
		a.cancel()
		a.cancel = nil
	}
	if a.tracingShutdown != nil {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = a.tracingShutdown(ctx)
	}
	if a.Log != nil {
		a.Log.Sync()
	}
}
