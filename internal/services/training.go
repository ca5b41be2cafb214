package services

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/pixelbase/pixelbase-backend/internal/jobs"
	"github.com/pixelbase/pixelbase-backend/internal/platform/apierr"
	"github.com/pixelbase/pixelbase-backend/internal/platform/envutil"
	"github.com/pixelbase/pixelbase-backend/internal/platform/logger"
	"github.com/pixelbase/pixelbase-backend/internal/repos"
	"github.com/pixelbase/pixelbase-backend/internal/types"
)

type TrainingConfig struct {
	// MaxActiveJobs caps concurrent non-terminal jobs per project.
	MaxActiveJobs int
}

func ResolveTrainingConfig() TrainingConfig {
	return TrainingConfig{
		MaxActiveJobs: envutil.Int("TRAINING_MAX_ACTIVE_JOBS", 2),
	}
}

type CreateTrainingJobInput struct {
	Name             string         `json:"name"`
	ModelType        string         `json:"model_type"`
	BaseModel        string         `json:"base_model"`
	DatasetID        *uuid.UUID     `json:"dataset_id"`
	DatasetVersionID *uuid.UUID     `json:"dataset_version_id"`
	Hyperparameters  datatypes.JSON `json:"hyperparameters"`
	CreatedBy        *uuid.UUID     `json:"-"`
}

type TrainingService interface {
	Create(ctx context.Context, projectID uuid.UUID, input CreateTrainingJobInput) (*types.TrainingJob, error)
	Get(ctx context.Context, id uuid.UUID) (*types.TrainingJob, error)
	List(ctx context.Context, projectID uuid.UUID, status types.TrainingStatus, limit, offset int) ([]types.TrainingJob, int64, error)
	Cancel(ctx context.Context, id uuid.UUID) (*types.TrainingJob, error)
}

type trainingService struct {
	db       *gorm.DB
	log      *logger.Logger
	cfg      TrainingConfig
	jobs     repos.TrainingJobRepo
	datasets repos.DatasetRepo
	tasks    repos.TaskRunRepo
}

func NewTrainingService(
	db *gorm.DB,
	jobRepo repos.TrainingJobRepo,
	datasets repos.DatasetRepo,
	tasks repos.TaskRunRepo,
	cfg TrainingConfig,
	log *logger.Logger,
) TrainingService {
	if cfg.MaxActiveJobs <= 0 {
		cfg.MaxActiveJobs = 2
	}
	return &trainingService{
		db:       db,
		log:      log.With("service", "TrainingService"),
		cfg:      cfg,
		jobs:     jobRepo,
		datasets: datasets,
		tasks:    tasks,
	}
}

func (s *trainingService) Create(ctx context.Context, projectID uuid.UUID, input CreateTrainingJobInput) (*types.TrainingJob, error) {
	name := strings.TrimSpace(input.Name)
	if name == "" {
		return nil, apierr.Invalid("job name is required")
	}
	if input.ModelType == "" {
		return nil, apierr.Invalid("model_type is required")
	}
	if input.DatasetID == nil {
		return nil, apierr.Invalid("dataset_id is required")
	}
	dataset, err := s.datasets.GetByID(ctx, nil, *input.DatasetID)
	if err != nil || dataset.ProjectID != projectID {
		return nil, apierr.NotFound("dataset")
	}
	if dataset.AnnotatedCount == 0 {
		return nil, apierr.Invalid("dataset has no annotated items")
	}

	baseModel := strings.TrimSpace(input.BaseModel)
	if baseModel == "" {
		baseModel = types.DefaultBaseModel(input.ModelType)
	}
	if baseModel == "" {
		return nil, apierr.Invalid("base_model is required for custom model types")
	}

	hyperparams, err := jobs.NormalizeHyperparameters(input.Hyperparameters)
	if err != nil {
		return nil, apierr.Invalid("hyperparameters must be a JSON object")
	}

	active, err := s.jobs.CountActive(ctx, nil, projectID)
	if err != nil {
		return nil, err
	}
	if active >= int64(s.cfg.MaxActiveJobs) {
		return nil, apierr.RateLimited("project already has the maximum number of active training jobs")
	}

	job := &types.TrainingJob{
		ID:               uuid.New(),
		ProjectID:        projectID,
		DatasetID:        input.DatasetID,
		DatasetVersionID: input.DatasetVersionID,
		Name:             name,
		ModelType:        input.ModelType,
		BaseModel:        baseModel,
		Status:           types.TrainingQueued,
		Hyperparameters:  hyperparams,
		CreatedBy:        input.CreatedBy,
	}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.jobs.Create(ctx, tx, job); err != nil {
			return err
		}
		raw, err := json.Marshal(jobs.TrainingPayload{TrainingJobID: job.ID})
		if err != nil {
			return err
		}
		return s.tasks.Enqueue(ctx, tx, &types.TaskRun{
			ProjectID:   projectID,
			TaskKind:    types.TaskTraining,
			Queue:       types.QueueTraining,
			Payload:     datatypes.JSON(raw),
			MaxAttempts: jobs.MaxAttemptsFor(types.TaskTraining),
		})
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("Training job queued", "training_job_id", job.ID.String(), "model_type", job.ModelType)
	return job, nil
}

func (s *trainingService) Get(ctx context.Context, id uuid.UUID) (*types.TrainingJob, error) {
	job, err := s.jobs.GetByID(ctx, nil, id)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apierr.NotFound("training job")
	}
	return job, err
}

func (s *trainingService) List(ctx context.Context, projectID uuid.UUID, status types.TrainingStatus, limit, offset int) ([]types.TrainingJob, int64, error) {
	return s.jobs.List(ctx, nil, projectID, status, limit, offset)
}

// Cancel flips the row to cancelled; the runner notices on its next
// epoch boundary. Cancelling a terminal job is a conflict.
func (s *trainingService) Cancel(ctx context.Context, id uuid.UUID) (*types.TrainingJob, error) {
	job, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if types.IsTerminalTrainingStatus(job.Status) {
		return nil, apierr.Conflict("training job is already " + string(job.Status))
	}
	now := time.Now().UTC()
	if err := s.jobs.UpdateFields(ctx, nil, id, map[string]any{
		"status":       types.TrainingCancelled,
		"completed_at": now,
	}); err != nil {
		return nil, err
	}
	return s.Get(ctx, id)
}
