package repos

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/pixelbase/pixelbase-backend/internal/platform/logger"
	"github.com/pixelbase/pixelbase-backend/internal/types"
)

type TaskRunRepo interface {
	Enqueue(ctx context.Context, tx *gorm.DB, run *types.TaskRun) error
	EnqueueBatch(ctx context.Context, tx *gorm.DB, runs []types.TaskRun) error
	GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.TaskRun, error)
	// ClaimNextRunnable atomically locks and starts the next queued run on
	// one of the given queues. Returns (nil, nil) when nothing is claimable.
	ClaimNextRunnable(ctx context.Context, queues []string) (*types.TaskRun, error)
	Heartbeat(ctx context.Context, tx *gorm.DB, id uuid.UUID) error
	MarkSucceeded(ctx context.Context, tx *gorm.DB, id uuid.UUID) error
	MarkSkipped(ctx context.Context, tx *gorm.DB, id uuid.UUID, reason string) error
	// MarkFailed retries with a delay while attempts remain, otherwise the
	// run fails permanently.
	MarkFailed(ctx context.Context, tx *gorm.DB, id uuid.UUID, runErr error, retryDelay time.Duration) error
	RequeueStale(ctx context.Context, staleAfter time.Duration) (int64, error)
	CountByBatch(ctx context.Context, tx *gorm.DB, batchID uuid.UUID) (map[string]int64, error)
	ListByProject(ctx context.Context, tx *gorm.DB, projectID uuid.UUID, status string, limit int) ([]types.TaskRun, error)
}

type taskRunRepo struct {
	log *logger.Logger
	db  *gorm.DB
}

func NewTaskRunRepo(db *gorm.DB, log *logger.Logger) TaskRunRepo {
	return &taskRunRepo{db: db, log: log.With("repo", "TaskRunRepo")}
}

func (r *taskRunRepo) conn(tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx
	}
	return r.db
}

func (r *taskRunRepo) Enqueue(ctx context.Context, tx *gorm.DB, run *types.TaskRun) error {
	if run.ID == uuid.Nil {
		run.ID = uuid.New()
	}
	if run.Queue == "" {
		run.Queue = types.QueueDefault
	}
	if run.Status == "" {
		run.Status = types.TaskStatusQueued
	}
	return r.conn(tx).WithContext(ctx).Create(run).Error
}

func (r *taskRunRepo) EnqueueBatch(ctx context.Context, tx *gorm.DB, runs []types.TaskRun) error {
	if len(runs) == 0 {
		return nil
	}
	for i := range runs {
		if runs[i].ID == uuid.Nil {
			runs[i].ID = uuid.New()
		}
		if runs[i].Queue == "" {
			runs[i].Queue = types.QueueDefault
		}
		if runs[i].Status == "" {
			runs[i].Status = types.TaskStatusQueued
		}
	}
	return r.conn(tx).WithContext(ctx).CreateInBatches(&runs, 200).Error
}

func (r *taskRunRepo) GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.TaskRun, error) {
	var run types.TaskRun
	if err := r.conn(tx).WithContext(ctx).First(&run, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &run, nil
}

func (r *taskRunRepo) ClaimNextRunnable(ctx context.Context, queues []string) (*types.TaskRun, error) {
	var claimed *types.TaskRun
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := time.Now().UTC()

		q := tx
		// SKIP LOCKED keeps concurrent workers off the same row. SQLite
		// has no row locks; its single writer gives the same guarantee.
		if tx.Dialector.Name() == "postgres" {
			q = q.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"})
		}

		var run types.TaskRun
		err := q.
			Where("status = ? AND queue IN ?", types.TaskStatusQueued, queues).
			Where("not_before IS NULL OR not_before <= ?", now).
			Order("priority DESC, created_at ASC").
			First(&run).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil
			}
			return err
		}

		updates := map[string]any{
			"status":       types.TaskStatusRunning,
			"attempts":     run.Attempts + 1,
			"locked_at":    now,
			"heartbeat_at": now,
		}
		if err := tx.Model(&types.TaskRun{}).Where("id = ?", run.ID).Updates(updates).Error; err != nil {
			return err
		}
		run.Status = types.TaskStatusRunning
		run.Attempts++
		run.LockedAt = &now
		run.HeartbeatAt = &now
		claimed = &run
		return nil
	})
	return claimed, err
}

func (r *taskRunRepo) Heartbeat(ctx context.Context, tx *gorm.DB, id uuid.UUID) error {
	now := time.Now().UTC()
	return r.conn(tx).WithContext(ctx).
		Model(&types.TaskRun{}).
		Where("id = ? AND status = ?", id, types.TaskStatusRunning).
		Update("heartbeat_at", now).Error
}

func (r *taskRunRepo) MarkSucceeded(ctx context.Context, tx *gorm.DB, id uuid.UUID) error {
	return r.conn(tx).WithContext(ctx).
		Model(&types.TaskRun{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":       types.TaskStatusSucceeded,
			"locked_at":    nil,
			"heartbeat_at": nil,
		}).Error
}

func (r *taskRunRepo) MarkSkipped(ctx context.Context, tx *gorm.DB, id uuid.UUID, reason string) error {
	now := time.Now().UTC()
	return r.conn(tx).WithContext(ctx).
		Model(&types.TaskRun{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":        types.TaskStatusSkipped,
			"last_error":    reason,
			"last_error_at": now,
			"locked_at":     nil,
			"heartbeat_at":  nil,
		}).Error
}

func (r *taskRunRepo) MarkFailed(ctx context.Context, tx *gorm.DB, id uuid.UUID, runErr error, retryDelay time.Duration) error {
	dbx := r.conn(tx).WithContext(ctx)

	var run types.TaskRun
	if err := dbx.First(&run, "id = ?", id).Error; err != nil {
		return err
	}

	now := time.Now().UTC()
	msg := ""
	if runErr != nil {
		msg = runErr.Error()
	}
	updates := map[string]any{
		"last_error":    msg,
		"last_error_at": now,
		"locked_at":     nil,
		"heartbeat_at":  nil,
	}
	if run.Attempts < run.MaxAttempts {
		updates["status"] = types.TaskStatusQueued
		notBefore := now.Add(retryDelay)
		updates["not_before"] = notBefore
	} else {
		updates["status"] = types.TaskStatusFailed
	}
	return dbx.Model(&types.TaskRun{}).Where("id = ?", id).Updates(updates).Error
}

// RequeueStale returns runs whose worker stopped heartbeating back to the
// queue. Attempts already counted the claim, so a poisoned task still
// exhausts its budget.
func (r *taskRunRepo) RequeueStale(ctx context.Context, staleAfter time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-staleAfter)
	res := r.db.WithContext(ctx).
		Model(&types.TaskRun{}).
		Where("status = ? AND heartbeat_at < ?", types.TaskStatusRunning, cutoff).
		Updates(map[string]any{
			"status":       types.TaskStatusQueued,
			"locked_at":    nil,
			"heartbeat_at": nil,
		})
	return res.RowsAffected, res.Error
}

func (r *taskRunRepo) CountByBatch(ctx context.Context, tx *gorm.DB, batchID uuid.UUID) (map[string]int64, error) {
	type row struct {
		Status string
		Count  int64
	}
	var rows []row
	err := r.conn(tx).WithContext(ctx).
		Model(&types.TaskRun{}).
		Select("status, COUNT(*) AS count").
		Where("batch_id = ?", batchID).
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make(map[string]int64, len(rows))
	for _, r := range rows {
		out[r.Status] = r.Count
	}
	return out, nil
}

func (r *taskRunRepo) ListByProject(ctx context.Context, tx *gorm.DB, projectID uuid.UUID, status string, limit int) ([]types.TaskRun, error) {
	q := r.conn(tx).WithContext(ctx).Where("project_id = ?", projectID)
	if status != "" {
		q = q.Where("status = ?", status)
	}
	if limit <= 0 {
		limit = 100
	}
	var runs []types.TaskRun
	err := q.Order("created_at DESC").Limit(limit).Find(&runs).Error
	return runs, err
}
