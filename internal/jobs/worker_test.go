package jobs

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/pixelbase/pixelbase-backend/internal/db"
	"github.com/pixelbase/pixelbase-backend/internal/platform/logger"
	"github.com/pixelbase/pixelbase-backend/internal/repos"
	"github.com/pixelbase/pixelbase-backend/internal/types"
)

func newTestDB(t *testing.T) (*gorm.DB, *logger.Logger) {
	t.Helper()
	gdb, err := gorm.Open(sqlite.Open("file::memory:?cache=shared&_fk=1"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(gdb))

	t.Cleanup(func() {
		sqlDB, err := gdb.DB()
		if err == nil {
			sqlDB.Close()
		}
	})

	log, err := logger.New("dev")
	require.NoError(t, err)
	return gdb, log
}

func enqueueTask(t *testing.T, store repos.TaskRunRepo, kind, queue string) *types.TaskRun {
	t.Helper()
	run := &types.TaskRun{
		ProjectID:   uuid.New(),
		TaskKind:    kind,
		Queue:       queue,
		Payload:     []byte(`{}`),
		MaxAttempts: MaxAttemptsFor(kind),
	}
	require.NoError(t, store.Enqueue(context.Background(), nil, run))
	return run
}

func claim(t *testing.T, store repos.TaskRunRepo, queue string) *types.TaskRun {
	t.Helper()
	run, err := store.ClaimNextRunnable(context.Background(), []string{queue})
	require.NoError(t, err)
	require.NotNil(t, run)
	return run
}

func TestRetryPolicy(t *testing.T) {
	assert.Equal(t, 30*time.Second, RetryDelayFor(types.TaskEnrichCLIP))
	assert.Equal(t, 60*time.Second, RetryDelayFor(types.TaskEnrichVLM))
	assert.Equal(t, 60*time.Second, RetryDelayFor(types.TaskAugment))
	assert.Equal(t, 120*time.Second, RetryDelayFor(types.TaskTraining))

	assert.Equal(t, 3, MaxAttemptsFor(types.TaskEnrichCLIP))
	assert.Equal(t, 3, MaxAttemptsFor(types.TaskEnrichText))
	assert.Equal(t, 2, MaxAttemptsFor(types.TaskEnrichVLM))
	assert.Equal(t, 2, MaxAttemptsFor(types.TaskAugment))
	assert.Equal(t, 1, MaxAttemptsFor(types.TaskTraining))
}

func TestRetryDelayDoublesPerAttempt(t *testing.T) {
	assert.Equal(t, 30*time.Second, retryDelay(types.TaskEnrichCLIP, 1))
	assert.Equal(t, 60*time.Second, retryDelay(types.TaskEnrichCLIP, 2))
	assert.Equal(t, 120*time.Second, retryDelay(types.TaskEnrichCLIP, 3))
	assert.Equal(t, 240*time.Second, retryDelay(types.TaskEnrichVLM, 3))
	assert.Equal(t, 30*time.Second, retryDelay(types.TaskEnrichCLIP, 0))
}

func TestExecuteSuccess(t *testing.T) {
	gdb, log := newTestDB(t)
	store := repos.NewTaskRunRepo(gdb, log)
	w := NewWorker(store, WorkerConfig{Queues: []string{"exec-ok"}}, log)

	handled := 0
	w.Register(types.TaskEnrichCLIP, func(ctx context.Context, run *types.TaskRun) error {
		handled++
		return nil
	})

	enqueueTask(t, store, types.TaskEnrichCLIP, "exec-ok")
	run := claim(t, store, "exec-ok")
	w.execute(context.Background(), run)

	assert.Equal(t, 1, handled)
	var got types.TaskRun
	require.NoError(t, gdb.First(&got, "id = ?", run.ID).Error)
	assert.Equal(t, types.TaskStatusSucceeded, got.Status)
}

func TestExecuteSkip(t *testing.T) {
	gdb, log := newTestDB(t)
	store := repos.NewTaskRunRepo(gdb, log)
	w := NewWorker(store, WorkerConfig{Queues: []string{"exec-skip"}}, log)

	w.Register(types.TaskEnrichVLM, func(ctx context.Context, run *types.TaskRun) error {
		return fmt.Errorf("%w: media gone", ErrSkip)
	})

	enqueueTask(t, store, types.TaskEnrichVLM, "exec-skip")
	run := claim(t, store, "exec-skip")
	w.execute(context.Background(), run)

	var got types.TaskRun
	require.NoError(t, gdb.First(&got, "id = ?", run.ID).Error)
	assert.Equal(t, types.TaskStatusSkipped, got.Status)
	// Skips never come back.
	idle, err := store.ClaimNextRunnable(context.Background(), []string{"exec-skip"})
	require.NoError(t, err)
	assert.Nil(t, idle)
}

func TestExecuteFailureRequeuesWithDelay(t *testing.T) {
	gdb, log := newTestDB(t)
	store := repos.NewTaskRunRepo(gdb, log)
	w := NewWorker(store, WorkerConfig{Queues: []string{"exec-fail"}}, log)

	w.Register(types.TaskEnrichCLIP, func(ctx context.Context, run *types.TaskRun) error {
		return errors.New("encoder unreachable")
	})

	enqueueTask(t, store, types.TaskEnrichCLIP, "exec-fail")
	run := claim(t, store, "exec-fail")
	w.execute(context.Background(), run)

	var got types.TaskRun
	require.NoError(t, gdb.First(&got, "id = ?", run.ID).Error)
	assert.Equal(t, types.TaskStatusQueued, got.Status)
	assert.Contains(t, got.LastError, "encoder unreachable")
	require.NotNil(t, got.NotBefore)
	assert.True(t, got.NotBefore.After(time.Now().Add(20*time.Second)))
}

func TestExecutePanicBecomesFailure(t *testing.T) {
	gdb, log := newTestDB(t)
	store := repos.NewTaskRunRepo(gdb, log)
	w := NewWorker(store, WorkerConfig{Queues: []string{"exec-panic"}}, log)

	w.Register(types.TaskTraining, func(ctx context.Context, run *types.TaskRun) error {
		panic("bad payload")
	})

	enqueueTask(t, store, types.TaskTraining, "exec-panic")
	run := claim(t, store, "exec-panic")
	w.execute(context.Background(), run)

	var got types.TaskRun
	require.NoError(t, gdb.First(&got, "id = ?", run.ID).Error)
	// Training has a single attempt, so the panic is terminal.
	assert.Equal(t, types.TaskStatusFailed, got.Status)
	assert.Contains(t, got.LastError, "task panicked")
}

func TestExecuteWithoutHandlerFails(t *testing.T) {
	gdb, log := newTestDB(t)
	store := repos.NewTaskRunRepo(gdb, log)
	w := NewWorker(store, WorkerConfig{Queues: []string{"exec-none"}}, log)

	enqueueTask(t, store, "mystery_kind", "exec-none")
	run := claim(t, store, "exec-none")
	w.execute(context.Background(), run)

	var got types.TaskRun
	require.NoError(t, gdb.First(&got, "id = ?", run.ID).Error)
	assert.Contains(t, got.LastError, "no handler")
}
