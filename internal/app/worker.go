package app

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/pixelbase/pixelbase-backend/internal/db"
	"github.com/pixelbase/pixelbase-backend/internal/jobs"
	"github.com/pixelbase/pixelbase-backend/internal/observability"
	"github.com/pixelbase/pixelbase-backend/internal/platform/envutil"
	"github.com/pixelbase/pixelbase-backend/internal/platform/logger"
	"github.com/pixelbase/pixelbase-backend/internal/realtime"
	"github.com/pixelbase/pixelbase-backend/internal/services"
	"github.com/pixelbase/pixelbase-backend/internal/types"
)

// WorkerApp is the background process: the task queue worker plus the
// sweeper. It shares repos and clients with the API but serves no HTTP.
type WorkerApp struct {
	Log     *logger.Logger
	DB      *gorm.DB
	Hub     *realtime.Hub
	Worker  *jobs.Worker
	Sweeper *jobs.Sweeper

	tracingShutdown func(context.Context) error
}

func NewWorker(ctx context.Context) (*WorkerApp, error) {
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
		ServiceName: envutil.String("SERVICE_NAME", "pixelbase-worker"),
		Environment: cfg.Environment,
		Version:     cfg.Version,
	})

	pg, err := db.NewPostgresService(log)
	if err != nil {
		log.Sync()
		return nil, fmt.Errorf("init postgres: %w", err)
	}
	gdb := pg.DB()

	clients, err := wireClients(ctx, cfg, log)
	if err != nil {
		log.Sync()
		return nil, err
	}
	hub := realtime.NewHub(clients.Bus, log)
	notifier := services.NewHubNotifier(hub, log)
	reposet := wireRepos(gdb, log)

	worker := jobs.NewWorker(reposet.TaskRuns, jobs.WorkerConfig{
		Queues:      envutil.Strings("WORKER_QUEUES", []string{types.QueueGPU, types.QueueDefault, types.QueueTraining}),
		Concurrency: envutil.Int("WORKER_CONCURRENCY", 4),
	}, log)

	enricher := jobs.NewEnricher(reposet.Media, reposet.MediaSources, clients.Bucket, clients.Encoder, clients.Captioner, clients.Keyframer, clients.Index, notifier, log)
	enricher.Register(worker)

	exporter := jobs.NewExporter(reposet.Versions, reposet.Datasets, reposet.Annotations, reposet.Media, clients.Bucket, notifier, log)
	exporter.Register(worker)

	trainer := jobs.NewTrainingRunner(reposet.TrainingJobs, reposet.Datasets, reposet.DatasetItems, clients.Bucket, notifier, log)
	trainer.Register(worker)

	augmenter := jobs.NewAugmenter(reposet.Datasets, reposet.DatasetItems, reposet.Annotations, reposet.Media, reposet.TaskRuns, clients.Bucket, notifier, log)
	augmenter.Register(worker)

	sweeper := jobs.NewSweeper(reposet.TaskRuns, reposet.Media, log)

	return &WorkerApp{
		Log:             log,
		DB:              gdb,
		Hub:             hub,
		Worker:          worker,
		Sweeper:         sweeper,
		tracingShutdown: tracingShutdown,
	}, nil
}

// Run blocks until ctx ends or a component fails.
func (w *WorkerApp) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return w.Hub.Run(ctx) })
	g.Go(func() error { return w.Worker.Run(ctx) })
	g.Go(func() error {
		w.Sweeper.Run(ctx)
		return ctx.Err()
	})
	return g.Wait()
}

func (w *WorkerApp) Close() {
	if w == nil {
		return
	}
	if w.tracingShutdown != nil {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = w.tracingShutdown(ctx)
	}
	if w.Log != nil {
		w.Log.Sync()
	}
}
