package jobs

import (
	"context"
	"encoding/json"
	"time"

	"gorm.io/datatypes"

	"github.com/pixelbase/pixelbase-backend/internal/platform/logger"
	"github.com/pixelbase/pixelbase-backend/internal/repos"
	"github.com/pixelbase/pixelbase-backend/internal/types"
)

const (
	sweepInterval   = 5 * time.Minute
	staleAfter      = 2 * time.Minute
	redispatchLimit = 50
)

// Sweeper is the queue janitor: it reclaims runs whose worker died and
// gives permanently failed media another shot at indexing.
type Sweeper struct {
	log   *logger.Logger
	tasks repos.TaskRunRepo
	media repos.MediaRepo
}

func NewSweeper(tasks repos.TaskRunRepo, media repos.MediaRepo, log *logger.Logger) *Sweeper {
	return &Sweeper{
		log:   log.With("service", "Sweeper"),
		tasks: tasks,
		media: media,
	}
}

func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	s.log.Info("Sweeper started", "interval", sweepInterval.String())
	for {
		select {
		case <-ctx.Done():
			s.log.Info("Sweeper stopped")
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

func (s *Sweeper) Sweep(ctx context.Context) {
	if n, err := s.tasks.RequeueStale(ctx, staleAfter); err != nil {
		s.log.Error("Requeueing stale runs failed", "error", err)
	} else if n > 0 {
		s.log.Warn("Requeued stale runs", "count", n)
	}
	if n, err := s.redispatchFailed(ctx); err != nil {
		s.log.Error("Redispatching failed media failed", "error", err)
	} else if n > 0 {
		s.log.Info("Redispatched failed media", "count", n)
	}
}

// redispatchFailed re-enqueues up to redispatchLimit failed media per
// sweep as CLIP-only tasks. The enrichment settlement rebuilds the
// aggregate status from there.
func (s *Sweeper) redispatchFailed(ctx context.Context) (int, error) {
	failed, err := s.media.ListFailedIndexing(ctx, nil, redispatchLimit)
	if err != nil {
		return 0, err
	}
	dispatched := 0
	for _, m := range failed {
		payload, err := json.Marshal(EnrichPayload{MediaID: m.ID})
		if err != nil {
			return dispatched, err
		}
		run := &types.TaskRun{
			ProjectID:   m.ProjectID,
			TaskKind:    types.TaskEnrichCLIP,
			Queue:       types.QueueGPU,
			Payload:     datatypes.JSON(payload),
			MaxAttempts: MaxAttemptsFor(types.TaskEnrichCLIP),
		}
		if err := s.tasks.Enqueue(ctx, nil, run); err != nil {
			return dispatched, err
		}
		if err := s.media.UpdateFields(ctx, nil, m.ID, map[string]any{
			"indexing_status": types.IndexingPending,
			"error_message":   "",
		}); err != nil {
			return dispatched, err
		}
		dispatched++
	}
	return dispatched, nil
}
