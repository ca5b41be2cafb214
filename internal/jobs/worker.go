package jobs

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"runtime/debug"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/pixelbase/pixelbase-backend/internal/platform/logger"
	"github.com/pixelbase/pixelbase-backend/internal/repos"
	"github.com/pixelbase/pixelbase-backend/internal/types"
)

// ErrSkip marks a task as intentionally not done (e.g. its media row was
// deleted between enqueue and claim). Skipped tasks never retry.
var ErrSkip = errors.New("task skipped")

// Handler executes one claimed task. Handlers must be idempotent: the
// queue is at-least-once.
type Handler func(ctx context.Context, run *types.TaskRun) error

// RetryDelayFor is the per-kind base backoff. Embedding tasks retry
// fast; model-heavy tasks wait longer.
func RetryDelayFor(kind string) time.Duration {
	switch kind {
	case types.TaskEnrichCLIP, types.TaskEnrichDINO, types.TaskEnrichText:
		return 30 * time.Second
	case types.TaskEnrichVLM, types.TaskAugment:
		return 60 * time.Second
	case types.TaskTraining:
		return 120 * time.Second
	default:
		return 30 * time.Second
	}
}

// retryDelay doubles the base per completed attempt, so attempt 1 waits
// the base, attempt 2 twice that, and so on.
func retryDelay(kind string, attempts int) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	return RetryDelayFor(kind) << (attempts - 1)
}

// MaxAttemptsFor is the per-kind attempt budget, set at enqueue time.
func MaxAttemptsFor(kind string) int {
	switch kind {
	case types.TaskEnrichVLM, types.TaskAugment:
		return 2
	case types.TaskTraining:
		return 1
	default:
		return 3
	}
}

type WorkerConfig struct {
	Queues            []string
	Concurrency       int
	PollInterval      time.Duration
	HeartbeatInterval time.Duration
}

type Worker struct {
	log      *logger.Logger
	store    repos.TaskRunRepo
	cfg      WorkerConfig
	handlers map[string]Handler
}

func NewWorker(store repos.TaskRunRepo, cfg WorkerConfig, log *logger.Logger) *Worker {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = 15 * time.Second
	}
	if len(cfg.Queues) == 0 {
		cfg.Queues = []string{types.QueueDefault}
	}
	return &Worker{
		log:      log.With("service", "Worker"),
		store:    store,
		cfg:      cfg,
		handlers: make(map[string]Handler),
	}
}

func (w *Worker) Register(kind string, handler Handler) {
	w.handlers[kind] = handler
}

// Run claims and executes tasks until ctx ends. Each slot polls
// independently with jitter so workers do not stampede the queue.
func (w *Worker) Run(ctx context.Context) error {
	w.log.Info("Worker starting", "queues", w.cfg.Queues, "concurrency", w.cfg.Concurrency)

	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < w.cfg.Concurrency; i++ {
		g.Go(func() error {
			return w.runSlot(ctx)
		})
	}
	return g.Wait()
}

func (w *Worker) runSlot(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		run, err := w.store.ClaimNextRunnable(ctx, w.cfg.Queues)
		if err != nil {
			w.log.Error("Claim failed", "error", err)
			run = nil
		}
		if run == nil {
			jitter := time.Duration(rand.Int63n(int64(w.cfg.PollInterval) / 2))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(w.cfg.PollInterval + jitter):
			}
			continue
		}
		w.execute(ctx, run)
	}
}

func (w *Worker) execute(ctx context.Context, run *types.TaskRun) {
	log := w.log.With("task_id", run.ID.String(), "task_kind", run.TaskKind, "attempt", run.Attempts)
	log.Info("Task started")

	handler, ok := w.handlers[run.TaskKind]
	if !ok {
		log.Error("No handler registered for task kind")
		_ = w.store.MarkFailed(ctx, nil, run.ID, fmt.Errorf("no handler for kind %q", run.TaskKind), retryDelay(run.TaskKind, run.Attempts))
		return
	}

	hbCtx, stopHeartbeat := context.WithCancel(ctx)
	go w.heartbeatLoop(hbCtx, run)

	err := w.runHandler(ctx, handler, run)
	stopHeartbeat()

	switch {
	case err == nil:
		log.Info("Task succeeded")
		if markErr := w.store.MarkSucceeded(ctx, nil, run.ID); markErr != nil {
			log.Error("Failed to mark task succeeded", "error", markErr)
		}
	case errors.Is(err, ErrSkip):
		log.Info("Task skipped", "reason", err.Error())
		if markErr := w.store.MarkSkipped(ctx, nil, run.ID, err.Error()); markErr != nil {
			log.Error("Failed to mark task skipped", "error", markErr)
		}
	default:
		log.Error("Task failed", "error", err)
		if markErr := w.store.MarkFailed(ctx, nil, run.ID, err, retryDelay(run.TaskKind, run.Attempts)); markErr != nil {
			log.Error("Failed to mark task failed", "error", markErr)
		}
	}
}

// runHandler converts panics into ordinary task failures so one bad
// payload cannot take the worker down.
func (w *Worker) runHandler(ctx context.Context, handler Handler, run *types.TaskRun) (err error) {
	defer func() {
		if r := recover(); r != nil {
			w.log.Error("Task panicked", "task_id", run.ID.String(), "panic", r, "stack", string(debug.Stack()))
			err = fmt.Errorf("task panicked: %v", r)
		}
	}()
	return handler(ctx, run)
}

func (w *Worker) heartbeatLoop(ctx context.Context, run *types.TaskRun) {
	ticker := time.NewTicker(w.cfg.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.store.Heartbeat(ctx, nil, run.ID); err != nil {
				w.log.Warn("Heartbeat failed", "task_id", run.ID.String(), "error", err)
			}
		}
	}
}
