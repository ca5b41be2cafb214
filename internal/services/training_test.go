package services

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/pixelbase/pixelbase-backend/internal/jobs"
	"github.com/pixelbase/pixelbase-backend/internal/platform/apierr"
	"github.com/pixelbase/pixelbase-backend/internal/repos"
	"github.com/pixelbase/pixelbase-backend/internal/types"
)

func newTrainingService(t *testing.T, maxActive int) (TrainingService, repos.TaskRunRepo, *gorm.DB) {
	t.Helper()
	gdb, log := newTestDB(t)
	tasks := repos.NewTaskRunRepo(gdb, log)
	svc := NewTrainingService(
		gdb,
		repos.NewTrainingJobRepo(gdb, log),
		repos.NewDatasetRepo(gdb, log),
		tasks,
		TrainingConfig{MaxActiveJobs: maxActive},
		log,
	)
	return svc, tasks, gdb
}

func seedAnnotatedDataset(t *testing.T, gdb *gorm.DB, projectID types.Project) *types.Dataset {
	t.Helper()
	dataset := seedDataset(t, gdb, projectID.ID)
	dataset.ItemCount = 10
	dataset.AnnotatedCount = 10
	require.NoError(t, gdb.Save(dataset).Error)
	return dataset
}

func TestTrainingCreateDefaultsBaseModel(t *testing.T) {
	svc, tasks, gdb := newTrainingService(t, 2)
	ctx := context.Background()
	project := seedProject(t, gdb)
	dataset := seedAnnotatedDataset(t, gdb, *project)

	job, err := svc.Create(ctx, project.ID, CreateTrainingJobInput{
		Name:      "detector-v1",
		ModelType: "object_detector",
		DatasetID: &dataset.ID,
	})
	require.NoError(t, err)
	require.Equal(t, "yolov8n", job.BaseModel)
	require.Equal(t, types.TrainingQueued, job.Status)

	runs, err := tasks.ListByProject(ctx, nil, project.ID, types.TaskStatusQueued, 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	require.Equal(t, types.TaskTraining, runs[0].TaskKind)
	require.Equal(t, types.QueueTraining, runs[0].Queue)
	require.Equal(t, 1, runs[0].MaxAttempts)
}

func TestTrainingCreateStoresFullHyperparameterSet(t *testing.T) {
	svc, _, gdb := newTrainingService(t, 2)
	ctx := context.Background()
	project := seedProject(t, gdb)
	dataset := seedAnnotatedDataset(t, gdb, *project)

	job, err := svc.Create(ctx, project.ID, CreateTrainingJobInput{
		Name:            "classifier-v1",
		ModelType:       "image_classifier",
		DatasetID:       &dataset.ID,
		Hyperparameters: datatypes.JSON(`{"epochs":5,"learning_rate":0.01}`),
	})
	require.NoError(t, err)

	var hp jobs.Hyperparameters
	require.NoError(t, json.Unmarshal(job.Hyperparameters, &hp))
	require.Equal(t, 5, hp.Epochs)
	require.Equal(t, 0.01, hp.LearningRate)
	require.Equal(t, 32, hp.BatchSize)
	require.Equal(t, "adam", hp.Optimizer)
	require.Equal(t, 0.0001, hp.WeightDecay)
	require.Equal(t, "cosine", hp.Scheduler)

	_, err = svc.Create(ctx, project.ID, CreateTrainingJobInput{
		Name:            "classifier-v2",
		ModelType:       "image_classifier",
		DatasetID:       &dataset.ID,
		Hyperparameters: datatypes.JSON(`"not an object"`),
	})
	require.Error(t, err)
	require.Equal(t, 422, apierr.Status(err))
}

func TestTrainingCreateEnforcesActiveCap(t *testing.T) {
	svc, _, gdb := newTrainingService(t, 1)
	ctx := context.Background()
	project := seedProject(t, gdb)
	dataset := seedAnnotatedDataset(t, gdb, *project)

	_, err := svc.Create(ctx, project.ID, CreateTrainingJobInput{
		Name:      "first",
		ModelType: "image_classifier",
		DatasetID: &dataset.ID,
	})
	require.NoError(t, err)

	_, err = svc.Create(ctx, project.ID, CreateTrainingJobInput{
		Name:      "second",
		ModelType: "image_classifier",
		DatasetID: &dataset.ID,
	})
	require.Error(t, err)
	require.Equal(t, 429, apierr.Status(err))
}

func TestTrainingCreateValidation(t *testing.T) {
	svc, _, gdb := newTrainingService(t, 2)
	ctx := context.Background()
	project := seedProject(t, gdb)
	dataset := seedDataset(t, gdb, project.ID)

	_, err := svc.Create(ctx, project.ID, CreateTrainingJobInput{ModelType: "image_classifier", DatasetID: &dataset.ID})
	require.Error(t, err)

	// Unannotated dataset.
	_, err = svc.Create(ctx, project.ID, CreateTrainingJobInput{Name: "x", ModelType: "image_classifier", DatasetID: &dataset.ID})
	require.Error(t, err)

	// Unknown model type without an explicit base model.
	annotated := seedAnnotatedDataset(t, gdb, *project)
	_, err = svc.Create(ctx, project.ID, CreateTrainingJobInput{Name: "x", ModelType: "diffusion", DatasetID: &annotated.ID})
	require.Error(t, err)
	require.Equal(t, 422, apierr.Status(err))
}

func TestTrainingCancel(t *testing.T) {
	svc, _, gdb := newTrainingService(t, 2)
	ctx := context.Background()
	project := seedProject(t, gdb)
	dataset := seedAnnotatedDataset(t, gdb, *project)

	job, err := svc.Create(ctx, project.ID, CreateTrainingJobInput{
		Name:      "cancel-me",
		ModelType: "clip_finetune",
		DatasetID: &dataset.ID,
	})
	require.NoError(t, err)

	cancelled, err := svc.Cancel(ctx, job.ID)
	require.NoError(t, err)
	require.Equal(t, types.TrainingCancelled, cancelled.Status)
	require.NotNil(t, cancelled.CompletedAt)

	_, err = svc.Cancel(ctx, job.ID)
	require.Error(t, err)
	require.Equal(t, 409, apierr.Status(err))
}
