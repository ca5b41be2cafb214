package services

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/pixelbase/pixelbase-backend/internal/jobs"
	"github.com/pixelbase/pixelbase-backend/internal/repos"
	"github.com/pixelbase/pixelbase-backend/internal/types"
)

func newIndexingService(t *testing.T) (IndexingService, *gorm.DB) {
	t.Helper()
	gdb, log := newTestDB(t)
	svc := NewIndexingService(
		repos.NewMediaRepo(gdb, log),
		repos.NewPromptRepo(gdb, log),
		repos.NewTaskRunRepo(gdb, log),
		log,
	)
	return svc, gdb
}

func batchRuns(t *testing.T, gdb *gorm.DB, batchID uuid.UUID) []types.TaskRun {
	t.Helper()
	var runs []types.TaskRun
	require.NoError(t, gdb.Where("batch_id = ?", batchID).Find(&runs).Error)
	return runs
}

func TestDispatchTargetsPendingAndFailedByDefault(t *testing.T) {
	svc, gdb := newIndexingService(t)
	ctx := context.Background()
	project := seedProject(t, gdb)

	pending := seedMedia(t, gdb, project.ID, types.IndexingPending)
	failed := seedMedia(t, gdb, project.ID, types.IndexingFailed)
	done := seedMedia(t, gdb, project.ID, types.IndexingCompleted)

	result, err := svc.Dispatch(ctx, project.ID, DispatchInput{})
	require.NoError(t, err)
	assert.Equal(t, 2, result.TotalItems)
	assert.Equal(t, 8, result.TotalTasks)

	for _, id := range []uuid.UUID{pending.ID, failed.ID} {
		var m types.Media
		require.NoError(t, gdb.First(&m, "id = ?", id).Error)
		assert.Equal(t, types.IndexingProcessing, m.IndexingStatus)
	}
	var untouched types.Media
	require.NoError(t, gdb.First(&untouched, "id = ?", done.ID).Error)
	assert.Equal(t, types.IndexingCompleted, untouched.IndexingStatus)

	runs := batchRuns(t, gdb, result.JobID)
	require.Len(t, runs, 8)
	for _, run := range runs {
		switch run.TaskKind {
		case types.TaskEnrichCLIP, types.TaskEnrichDINO, types.TaskEnrichVLM:
			assert.Equal(t, types.QueueGPU, run.Queue)
		case types.TaskEnrichText:
			assert.Equal(t, types.QueueDefault, run.Queue)
		default:
			t.Fatalf("unexpected task kind %q", run.TaskKind)
		}
	}
}

func TestDispatchExplicitIDsWithPipelineSubset(t *testing.T) {
	svc, gdb := newIndexingService(t)
	ctx := context.Background()
	project := seedProject(t, gdb)

	target := seedMedia(t, gdb, project.ID, types.IndexingCompleted)
	seedMedia(t, gdb, project.ID, types.IndexingPending)

	result, err := svc.Dispatch(ctx, project.ID, DispatchInput{
		MediaIDs:  []uuid.UUID{target.ID},
		Pipelines: []string{"clip"},
		Priority:  5,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, result.TotalItems)
	assert.Equal(t, 1, result.TotalTasks)

	runs := batchRuns(t, gdb, result.JobID)
	require.Len(t, runs, 1)
	assert.Equal(t, types.TaskEnrichCLIP, runs[0].TaskKind)
	assert.Equal(t, types.QueueGPU, runs[0].Queue)
	assert.Equal(t, 5, runs[0].Priority)

	var m types.Media
	require.NoError(t, gdb.First(&m, "id = ?", target.ID).Error)
	assert.Equal(t, types.IndexingProcessing, m.IndexingStatus)
}

func TestDispatchIgnoresMediaFromOtherProjects(t *testing.T) {
	svc, gdb := newIndexingService(t)
	ctx := context.Background()
	project := seedProject(t, gdb)
	other := seedProject(t, gdb)
	foreign := seedMedia(t, gdb, other.ID, types.IndexingPending)

	_, err := svc.Dispatch(ctx, project.ID, DispatchInput{MediaIDs: []uuid.UUID{foreign.ID}})
	require.Error(t, err)

	var m types.Media
	require.NoError(t, gdb.First(&m, "id = ?", foreign.ID).Error)
	assert.Equal(t, types.IndexingPending, m.IndexingStatus)
}

func TestDispatchRejectsUnknownPipeline(t *testing.T) {
	svc, gdb := newIndexingService(t)
	project := seedProject(t, gdb)

	_, err := svc.Dispatch(context.Background(), project.ID, DispatchInput{Pipelines: []string{"sam"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown pipeline")
}

func TestDispatchWithoutTargetsQueuesNothing(t *testing.T) {
	svc, gdb := newIndexingService(t)
	project := seedProject(t, gdb)

	result, err := svc.Dispatch(context.Background(), project.ID, DispatchInput{})
	require.NoError(t, err)
	assert.Equal(t, 0, result.TotalItems)
	assert.Equal(t, 0, result.TotalTasks)
	assert.Empty(t, batchRuns(t, gdb, result.JobID))
}

func TestDispatchThreadsCustomPromptIntoVLMTasks(t *testing.T) {
	svc, gdb := newIndexingService(t)
	ctx := context.Background()
	project := seedProject(t, gdb)
	media := seedMedia(t, gdb, project.ID, types.IndexingPending)

	prompt := &types.IndexingPrompt{
		ID:             uuid.New(),
		ProjectID:      project.ID,
		Name:           "Traffic",
		PromptTemplate: "Describe the traffic situation.",
	}
	require.NoError(t, gdb.Create(prompt).Error)

	result, err := svc.Dispatch(ctx, project.ID, DispatchInput{
		MediaIDs:       []uuid.UUID{media.ID},
		Pipelines:      []string{"vlm"},
		CustomPromptID: &prompt.ID,
	})
	require.NoError(t, err)

	runs := batchRuns(t, gdb, result.JobID)
	require.Len(t, runs, 1)
	var payload jobs.EnrichPayload
	require.NoError(t, json.Unmarshal(runs[0].Payload, &payload))
	assert.Equal(t, prompt.PromptTemplate, payload.Prompt)
}

func TestDispatchRejectsMissingCustomPrompt(t *testing.T) {
	svc, gdb := newIndexingService(t)
	project := seedProject(t, gdb)
	media := seedMedia(t, gdb, project.ID, types.IndexingPending)

	missing := uuid.New()
	_, err := svc.Dispatch(context.Background(), project.ID, DispatchInput{
		MediaIDs:       []uuid.UUID{media.ID},
		CustomPromptID: &missing,
	})
	require.Error(t, err)
}

func TestStatsGroupsMediaByState(t *testing.T) {
	svc, gdb := newIndexingService(t)
	ctx := context.Background()
	project := seedProject(t, gdb)

	seedMedia(t, gdb, project.ID, types.IndexingCompleted)
	seedMedia(t, gdb, project.ID, types.IndexingCompleted)
	seedMedia(t, gdb, project.ID, types.IndexingPending)
	seedMedia(t, gdb, project.ID, types.IndexingFailed)

	stats, err := svc.Stats(ctx, project.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(4), stats.Total)
	assert.Equal(t, int64(2), stats.Indexed)
	assert.Equal(t, int64(1), stats.Pending)
	assert.Equal(t, int64(1), stats.Failed)
	assert.Equal(t, int64(0), stats.Processing)
	assert.Equal(t, int64(0), stats.Partial)
	assert.InDelta(t, 50.0, stats.CompletionPct, 0.001)
}

func TestStatsEmptyProjectIsAllZeros(t *testing.T) {
	svc, gdb := newIndexingService(t)
	project := seedProject(t, gdb)

	stats, err := svc.Stats(context.Background(), project.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), stats.Total)
	assert.Equal(t, int64(0), stats.Indexed)
	assert.Equal(t, 0.0, stats.CompletionPct)
}
