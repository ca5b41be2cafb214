package repos

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"

	"github.com/pixelbase/pixelbase-backend/internal/types"
)

func enqueueRun(t *testing.T, repo TaskRunRepo, projectID uuid.UUID, kind, queue string, priority int) *types.TaskRun {
	t.Helper()
	run := &types.TaskRun{
		ProjectID:   projectID,
		TaskKind:    kind,
		Queue:       queue,
		Priority:    priority,
		BatchID:     uuid.New(),
		Payload:     datatypes.JSON([]byte(`{}`)),
		MaxAttempts: 3,
	}
	require.NoError(t, repo.Enqueue(context.Background(), nil, run))
	return run
}

func TestClaimNextRunnableHonorsPriorityAndQueue(t *testing.T) {
	gdb, log := newTestDB(t)
	repo := NewTaskRunRepo(gdb, log)
	project := seedProject(t, gdb)
	ctx := context.Background()

	enqueueRun(t, repo, project.ID, types.TaskEnrichText, types.QueueDefault, 0)
	high := enqueueRun(t, repo, project.ID, types.TaskEnrichCLIP, types.QueueGPU, 5)
	enqueueRun(t, repo, project.ID, types.TaskEnrichDINO, types.QueueGPU, 1)

	claimed, err := repo.ClaimNextRunnable(ctx, []string{types.QueueGPU})
	require.NoError(t, err)
	require.NotNil(t, claimed)
	assert.Equal(t, high.ID, claimed.ID)
	assert.Equal(t, types.TaskStatusRunning, claimed.Status)
	assert.Equal(t, 1, claimed.Attempts)
	require.NotNil(t, claimed.HeartbeatAt)

	// The default queue still has its task; the gpu queue has one left.
	claimed2, err := repo.ClaimNextRunnable(ctx, []string{types.QueueGPU})
	require.NoError(t, err)
	require.NotNil(t, claimed2)
	assert.Equal(t, types.TaskEnrichDINO, claimed2.TaskKind)

	claimed3, err := repo.ClaimNextRunnable(ctx, []string{types.QueueGPU})
	require.NoError(t, err)
	assert.Nil(t, claimed3)
}

func TestMarkFailedRetriesUntilBudgetExhausted(t *testing.T) {
	gdb, log := newTestDB(t)
	repo := NewTaskRunRepo(gdb, log)
	project := seedProject(t, gdb)
	ctx := context.Background()

	run := enqueueRun(t, repo, project.ID, types.TaskEnrichVLM, types.QueueGPU, 0)

	for attempt := 1; attempt <= 3; attempt++ {
		// Clear the retry delay so the run is immediately claimable again.
		require.NoError(t, gdb.Model(&types.TaskRun{}).
			Where("id = ?", run.ID).
			Update("not_before", nil).Error)

		claimed, err := repo.ClaimNextRunnable(ctx, []string{types.QueueGPU})
		require.NoError(t, err)
		require.NotNil(t, claimed, "attempt %d", attempt)
		assert.Equal(t, attempt, claimed.Attempts)

		require.NoError(t, repo.MarkFailed(ctx, nil, run.ID, errors.New("model unavailable"), 30*time.Second))
	}

	got, err := repo.GetByID(ctx, nil, run.ID)
	require.NoError(t, err)
	assert.Equal(t, types.TaskStatusFailed, got.Status)
	assert.Equal(t, "model unavailable", got.LastError)

	claimed, err := repo.ClaimNextRunnable(ctx, []string{types.QueueGPU})
	require.NoError(t, err)
	assert.Nil(t, claimed)
}

func TestMarkFailedSetsRetryDelay(t *testing.T) {
	gdb, log := newTestDB(t)
	repo := NewTaskRunRepo(gdb, log)
	project := seedProject(t, gdb)
	ctx := context.Background()

	run := enqueueRun(t, repo, project.ID, types.TaskEnrichCLIP, types.QueueGPU, 0)

	claimed, err := repo.ClaimNextRunnable(ctx, []string{types.QueueGPU})
	require.NoError(t, err)
	require.NotNil(t, claimed)
	require.NoError(t, repo.MarkFailed(ctx, nil, run.ID, errors.New("boom"), time.Hour))

	// Requeued but delayed: not claimable yet.
	got, err := repo.GetByID(ctx, nil, run.ID)
	require.NoError(t, err)
	assert.Equal(t, types.TaskStatusQueued, got.Status)
	require.NotNil(t, got.NotBefore)

	claimed, err = repo.ClaimNextRunnable(ctx, []string{types.QueueGPU})
	require.NoError(t, err)
	assert.Nil(t, claimed)
}

func TestRequeueStale(t *testing.T) {
	gdb, log := newTestDB(t)
	repo := NewTaskRunRepo(gdb, log)
	project := seedProject(t, gdb)
	ctx := context.Background()

	run := enqueueRun(t, repo, project.ID, types.TaskTraining, types.QueueTraining, 0)
	claimed, err := repo.ClaimNextRunnable(ctx, []string{types.QueueTraining})
	require.NoError(t, err)
	require.NotNil(t, claimed)

	// Fresh heartbeat: nothing to reclaim.
	n, err := repo.RequeueStale(ctx, time.Minute)
	require.NoError(t, err)
	assert.Zero(t, n)

	stale := time.Now().UTC().Add(-10 * time.Minute)
	require.NoError(t, gdb.Model(&types.TaskRun{}).
		Where("id = ?", run.ID).
		Update("heartbeat_at", stale).Error)

	n, err = repo.RequeueStale(ctx, time.Minute)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	got, err := repo.GetByID(ctx, nil, run.ID)
	require.NoError(t, err)
	assert.Equal(t, types.TaskStatusQueued, got.Status)
	assert.Nil(t, got.LockedAt)
}

func TestMarkSucceededAndBatchCounts(t *testing.T) {
	gdb, log := newTestDB(t)
	repo := NewTaskRunRepo(gdb, log)
	project := seedProject(t, gdb)
	ctx := context.Background()

	batchID := uuid.New()
	runs := []types.TaskRun{
		{ProjectID: project.ID, TaskKind: types.TaskEnrichCLIP, Queue: types.QueueGPU, BatchID: batchID, Payload: datatypes.JSON([]byte(`{}`)), MaxAttempts: 3},
		{ProjectID: project.ID, TaskKind: types.TaskEnrichDINO, Queue: types.QueueGPU, BatchID: batchID, Payload: datatypes.JSON([]byte(`{}`)), MaxAttempts: 3},
	}
	require.NoError(t, repo.EnqueueBatch(ctx, nil, runs))

	claimed, err := repo.ClaimNextRunnable(ctx, []string{types.QueueGPU})
	require.NoError(t, err)
	require.NotNil(t, claimed)
	require.NoError(t, repo.MarkSucceeded(ctx, nil, claimed.ID))

	counts, err := repo.CountByBatch(ctx, nil, batchID)
	require.NoError(t, err)
	assert.EqualValues(t, 1, counts[types.TaskStatusSucceeded])
	assert.EqualValues(t, 1, counts[types.TaskStatusQueued])
}
