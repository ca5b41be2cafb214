package services

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/pixelbase/pixelbase-backend/internal/jobs"
	"github.com/pixelbase/pixelbase-backend/internal/platform/apierr"
	"github.com/pixelbase/pixelbase-backend/internal/platform/logger"
	"github.com/pixelbase/pixelbase-backend/internal/repos"
	"github.com/pixelbase/pixelbase-backend/internal/types"
)

// BatchStats summarize one dispatch batch by task status.
type BatchStats struct {
	BatchID uuid.UUID        `json:"batch_id"`
	Counts  map[string]int64 `json:"counts"`
	Total   int64            `json:"total"`
	Done    int64            `json:"done"`
}

// IndexingStats aggregate a project's media by indexing status.
type IndexingStats struct {
	Total         int64   `json:"total"`
	Indexed       int64   `json:"indexed"`
	Pending       int64   `json:"pending"`
	Processing    int64   `json:"processing"`
	Failed        int64   `json:"failed"`
	Partial       int64   `json:"partial"`
	CompletionPct float64 `json:"completion_pct"`
}

// DispatchInput selects what to index and how. An empty MediaIDs means
// every pending or failed media in the project; an empty Pipelines
// means all of them.
type DispatchInput struct {
	MediaIDs       []uuid.UUID
	Pipelines      []string
	CustomPromptID *uuid.UUID
	Priority       int
}

// DispatchResult correlates one dispatch with its queued tasks.
type DispatchResult struct {
	JobID      uuid.UUID `json:"job_id"`
	TotalItems int       `json:"total_items"`
	TotalTasks int       `json:"total_tasks"`
}

type IndexingService interface {
	Dispatch(ctx context.Context, projectID uuid.UUID, in DispatchInput) (*DispatchResult, error)
	DispatchMedia(ctx context.Context, tx *gorm.DB, media *types.Media, prompt string) (uuid.UUID, error)
	DispatchText(ctx context.Context, tx *gorm.DB, media *types.Media, sourceID uuid.UUID) error
	BatchStats(ctx context.Context, batchID uuid.UUID) (*BatchStats, error)
	Stats(ctx context.Context, projectID uuid.UUID) (*IndexingStats, error)
}

type indexingService struct {
	log     *logger.Logger
	media   repos.MediaRepo
	prompts repos.PromptRepo
	tasks   repos.TaskRunRepo
}

func NewIndexingService(media repos.MediaRepo, prompts repos.PromptRepo, tasks repos.TaskRunRepo, log *logger.Logger) IndexingService {
	return &indexingService{
		log:     log.With("service", "IndexingService"),
		media:   media,
		prompts: prompts,
		tasks:   tasks,
	}
}

// taskKindsFor maps a media type onto the enrichment tasks it needs.
func taskKindsFor(mediaType types.MediaType) []string {
	switch mediaType {
	case types.MediaImage:
		return []string{types.TaskEnrichCLIP, types.TaskEnrichDINO, types.TaskEnrichVLM}
	case types.MediaVideo:
		return []string{types.TaskEnrichCLIP, types.TaskEnrichVLM}
	default:
		return []string{types.TaskEnrichText}
	}
}

// pipelineKinds maps the request-level pipeline names onto task kinds.
var pipelineKinds = map[string]string{
	"clip": types.TaskEnrichCLIP,
	"dino": types.TaskEnrichDINO,
	"vlm":  types.TaskEnrichVLM,
	"text": types.TaskEnrichText,
}

func resolvePipelines(pipelines []string) ([]string, error) {
	if len(pipelines) == 0 {
		pipelines = []string{"clip", "dino", "vlm", "text"}
	}
	kinds := make([]string, 0, len(pipelines))
	for _, p := range pipelines {
		kind, ok := pipelineKinds[p]
		if !ok {
			return nil, apierr.Invalid("unknown pipeline: " + p)
		}
		kinds = append(kinds, kind)
	}
	return kinds, nil
}

func queueFor(kind string) string {
	switch kind {
	case types.TaskEnrichCLIP, types.TaskEnrichDINO, types.TaskEnrichVLM:
		return types.QueueGPU
	case types.TaskTraining:
		return types.QueueTraining
	default:
		return types.QueueDefault
	}
}

// Dispatch enqueues enrichment for a set of media. Explicit ids are
// honored as given; otherwise every pending or failed media in the
// project is targeted. All targets move to processing in one write
// before any task is queued.
func (s *indexingService) Dispatch(ctx context.Context, projectID uuid.UUID, in DispatchInput) (*DispatchResult, error) {
	kinds, err := resolvePipelines(in.Pipelines)
	if err != nil {
		return nil, err
	}

	prompt := ""
	if in.CustomPromptID != nil {
		p, err := s.prompts.GetByID(ctx, nil, *in.CustomPromptID)
		if err != nil {
			return nil, apierr.NotFound("custom prompt")
		}
		prompt = p.PromptTemplate
	} else if def, err := s.prompts.GetDefault(ctx, nil, projectID); err == nil {
		prompt = def.PromptTemplate
	}

	var targets []types.Media
	if len(in.MediaIDs) > 0 {
		listed, err := s.media.ListByIDs(ctx, nil, in.MediaIDs)
		if err != nil {
			return nil, err
		}
		for _, m := range listed {
			if m.ProjectID == projectID {
				targets = append(targets, m)
			}
		}
		if len(targets) == 0 {
			return nil, apierr.Invalid("no media matched the given ids")
		}
	} else {
		targets, err = s.media.ListByIndexingStatuses(ctx, nil, projectID,
			[]types.IndexingStatus{types.IndexingPending, types.IndexingFailed})
		if err != nil {
			return nil, err
		}
	}

	jobID := uuid.New()
	result := &DispatchResult{JobID: jobID, TotalItems: len(targets)}
	if len(targets) == 0 {
		return result, nil
	}

	ids := make([]uuid.UUID, len(targets))
	for i, m := range targets {
		ids[i] = m.ID
	}
	if err := s.media.SetIndexingStatusBatch(ctx, nil, ids, types.IndexingProcessing); err != nil {
		return nil, err
	}

	runs := make([]types.TaskRun, 0, len(targets)*len(kinds))
	for _, m := range targets {
		for _, kind := range kinds {
			payload := jobs.EnrichPayload{MediaID: m.ID}
			if kind == types.TaskEnrichVLM {
				payload.Prompt = prompt
			}
			raw, err := json.Marshal(payload)
			if err != nil {
				return nil, err
			}
			runs = append(runs, types.TaskRun{
				ProjectID:   projectID,
				TaskKind:    kind,
				Queue:       queueFor(kind),
				Priority:    in.Priority,
				BatchID:     jobID,
				Payload:     datatypes.JSON(raw),
				MaxAttempts: jobs.MaxAttemptsFor(kind),
			})
		}
	}
	if err := s.tasks.EnqueueBatch(ctx, nil, runs); err != nil {
		return nil, err
	}
	result.TotalTasks = len(runs)
	s.log.Info("Indexing batch dispatched",
		"project_id", projectID.String(),
		"job_id", jobID.String(),
		"items", result.TotalItems,
		"tasks", result.TotalTasks,
	)
	return result, nil
}

// DispatchMedia enqueues the enrichment tasks a media item needs. When
// no explicit prompt is given the project's default prompt applies.
func (s *indexingService) DispatchMedia(ctx context.Context, tx *gorm.DB, media *types.Media, prompt string) (uuid.UUID, error) {
	if prompt == "" {
		if def, err := s.prompts.GetDefault(ctx, tx, media.ProjectID); err == nil {
			prompt = def.PromptTemplate
		}
	}

	batchID := uuid.New()
	kinds := taskKindsFor(media.MediaType)
	runs := make([]types.TaskRun, 0, len(kinds))
	for _, kind := range kinds {
		payload := jobs.EnrichPayload{MediaID: media.ID}
		if kind == types.TaskEnrichVLM {
			payload.Prompt = prompt
		}
		raw, err := json.Marshal(payload)
		if err != nil {
			return uuid.Nil, err
		}
		runs = append(runs, types.TaskRun{
			ProjectID:   media.ProjectID,
			TaskKind:    kind,
			Queue:       queueFor(kind),
			BatchID:     batchID,
			Payload:     datatypes.JSON(raw),
			MaxAttempts: jobs.MaxAttemptsFor(kind),
		})
	}
	if err := s.tasks.EnqueueBatch(ctx, tx, runs); err != nil {
		return uuid.Nil, err
	}
	s.log.Info("Indexing dispatched",
		"media_id", media.ID.String(),
		"batch_id", batchID.String(),
		"tasks", len(runs),
	)
	return batchID, nil
}

func (s *indexingService) DispatchText(ctx context.Context, tx *gorm.DB, media *types.Media, sourceID uuid.UUID) error {
	raw, err := json.Marshal(jobs.EnrichPayload{MediaID: media.ID, SourceID: &sourceID})
	if err != nil {
		return err
	}
	return s.tasks.Enqueue(ctx, tx, &types.TaskRun{
		ProjectID:   media.ProjectID,
		TaskKind:    types.TaskEnrichText,
		Queue:       types.QueueDefault,
		Payload:     datatypes.JSON(raw),
		MaxAttempts: jobs.MaxAttemptsFor(types.TaskEnrichText),
	})
}

func (s *indexingService) BatchStats(ctx context.Context, batchID uuid.UUID) (*BatchStats, error) {
	counts, err := s.tasks.CountByBatch(ctx, nil, batchID)
	if err != nil {
		return nil, err
	}
	stats := &BatchStats{BatchID: batchID, Counts: counts}
	for status, n := range counts {
		stats.Total += n
		switch status {
		case types.TaskStatusSucceeded, types.TaskStatusFailed, types.TaskStatusSkipped:
			stats.Done += n
		}
	}
	return stats, nil
}

func (s *indexingService) Stats(ctx context.Context, projectID uuid.UUID) (*IndexingStats, error) {
	counts, err := s.media.CountByIndexingStatus(ctx, nil, projectID)
	if err != nil {
		return nil, err
	}
	stats := &IndexingStats{
		Indexed:    counts[types.IndexingCompleted],
		Pending:    counts[types.IndexingPending],
		Processing: counts[types.IndexingProcessing],
		Failed:     counts[types.IndexingFailed],
		Partial:    counts[types.IndexingPartial],
	}
	for _, n := range counts {
		stats.Total += n
	}
	if stats.Total > 0 {
		stats.CompletionPct = float64(stats.Indexed) / float64(stats.Total) * 100
	}
	return stats, nil
}
