package services

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/pixelbase/pixelbase-backend/internal/platform/apierr"
	"github.com/pixelbase/pixelbase-backend/internal/platform/logger"
	"github.com/pixelbase/pixelbase-backend/internal/quality"
	"github.com/pixelbase/pixelbase-backend/internal/repos"
	"github.com/pixelbase/pixelbase-backend/internal/types"
)

const (
	defaultSuggestLimit = 20
	candidatePoolSize   = 500
)

type Suggestion struct {
	ItemID  uuid.UUID    `json:"item_id"`
	MediaID uuid.UUID    `json:"media_id"`
	Score   float64      `json:"score"`
	Reason  string       `json:"reason"`
	Media   *types.Media `json:"media,omitempty"`
}

type SuggestResponse struct {
	Strategy    string       `json:"strategy"`
	Suggestions []Suggestion `json:"suggestions"`
	PoolSize    int          `json:"pool_size"`
}

type AutoAnnotateResult struct {
	ItemsAnnotated int `json:"items_annotated"`
	LabelsCreated  int `json:"labels_created"`
}

type LabelingStats struct {
	TotalItems       int     `json:"total_items"`
	AnnotatedItems   int     `json:"annotated_items"`
	CompletionPct    float64 `json:"completion_pct"`
	AutoAnnotations  int64   `json:"auto_annotations"`
	HumanAnnotations int64   `json:"human_annotations"`
}

type ActiveLearningService interface {
	Suggest(ctx context.Context, datasetID uuid.UUID, strategy string, limit int, seed int64) (*SuggestResponse, error)
	AutoAnnotate(ctx context.Context, datasetID uuid.UUID, minConfidence float64) (*AutoAnnotateResult, error)
	Stats(ctx context.Context, datasetID uuid.UUID) (*LabelingStats, error)
}

type activeLearningService struct {
	db          *gorm.DB
	log         *logger.Logger
	media       repos.MediaRepo
	items       repos.DatasetItemRepo
	annotations repos.AnnotationRepo
	datasets    repos.DatasetRepo
}

func NewActiveLearningService(
	db *gorm.DB,
	media repos.MediaRepo,
	items repos.DatasetItemRepo,
	annotations repos.AnnotationRepo,
	datasets repos.DatasetRepo,
	log *logger.Logger,
) ActiveLearningService {
	return &activeLearningService{
		db:          db,
		log:         log.With("service", "ActiveLearningService"),
		media:       media,
		items:       items,
		annotations: annotations,
		datasets:    datasets,
	}
}

// Suggest ranks the dataset's unannotated items by what annotating them
// next would teach the models. A zero seed falls back to the current
// time so repeated random pages differ; callers pass an explicit seed
// to replay a page.
func (s *activeLearningService) Suggest(ctx context.Context, datasetID uuid.UUID, strategy string, limit int, seed int64) (*SuggestResponse, error) {
	if strategy == "" {
		strategy = quality.StrategyUncertainty
	}
	if !quality.ValidStrategy(strategy) {
		return nil, apierr.Invalid("strategy must be uncertainty, diversity, entropy, or random")
	}
	if limit <= 0 {
		limit = defaultSuggestLimit
	}
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	if _, err := s.datasets.GetByID(ctx, nil, datasetID); err != nil {
		return nil, apierr.NotFound("dataset")
	}

	unannotated := false
	pool, _, err := s.items.List(ctx, nil, datasetID, repos.DatasetItemFilter{IsAnnotated: &unannotated, Limit: candidatePoolSize})
	if err != nil {
		return nil, err
	}

	mediaIDs := make([]uuid.UUID, 0, len(pool))
	for _, item := range pool {
		mediaIDs = append(mediaIDs, item.MediaID)
	}
	rows, err := s.media.ListByIDs(ctx, nil, mediaIDs)
	if err != nil {
		return nil, err
	}
	byID := make(map[uuid.UUID]*types.Media, len(rows))
	for i := range rows {
		byID[rows[i].ID] = &rows[i]
	}

	candidates := make([]quality.Candidate, 0, len(pool))
	for _, item := range pool {
		media, ok := byID[item.MediaID]
		if !ok {
			continue
		}
		candidates = append(candidates, quality.Candidate{
			ItemID:     item.ID.String(),
			MediaID:    item.MediaID.String(),
			Tags:       decodeTags(media.AutoTags),
			HasCaption: media.AutoCaption != "",
		})
	}

	scored := quality.Rank(strategy, candidates, seed)
	if len(scored) > limit {
		scored = scored[:limit]
	}

	suggestions := make([]Suggestion, 0, len(scored))
	for _, sc := range scored {
		itemID, err := uuid.Parse(sc.ItemID)
		if err != nil {
			continue
		}
		mediaID, err := uuid.Parse(sc.MediaID)
		if err != nil {
			continue
		}
		suggestions = append(suggestions, Suggestion{
			ItemID:  itemID,
			MediaID: mediaID,
			Score:   sc.Score,
			Reason:  reasonFor(strategy, sc.Score),
			Media:   byID[mediaID],
		})
	}
	return &SuggestResponse{
		Strategy:    strategy,
		Suggestions: suggestions,
		PoolSize:    len(candidates),
	}, nil
}

func reasonFor(strategy string, score float64) string {
	switch strategy {
	case quality.StrategyDiversity:
		return "introduces tags not yet covered"
	case quality.StrategyEntropy:
		return "wide or empty tag spread"
	case quality.StrategyRandom:
		return "random sample"
	default:
		return "model produced few tags"
	}
}

// AutoAnnotate turns VLM tags into classification annotations for every
// unannotated item of the dataset. Previous machine annotations are
// replaced, never duplicated; human annotations are untouched.
func (s *activeLearningService) AutoAnnotate(ctx context.Context, datasetID uuid.UUID, minConfidence float64) (*AutoAnnotateResult, error) {
	if _, err := s.datasets.GetByID(ctx, nil, datasetID); err != nil {
		return nil, apierr.NotFound("dataset")
	}
	unannotated := false
	items, _, err := s.items.List(ctx, nil, datasetID, repos.DatasetItemFilter{IsAnnotated: &unannotated, Limit: candidatePoolSize})
	if err != nil {
		return nil, err
	}

	result := &AutoAnnotateResult{}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for i := range items {
			item := &items[i]
			media, err := s.media.GetByID(ctx, tx, item.MediaID)
			if err != nil {
				continue
			}
			tags := decodeTags(media.AutoTags)
			if len(tags) == 0 {
				continue
			}
			if err := s.annotations.DeleteByItemAndSource(ctx, tx, item.ID, types.SourceAutoVLM); err != nil {
				return err
			}

			// Tag confidence decays with position: the VLM lists its
			// strongest tags first.
			annotations := make([]types.Annotation, 0, len(tags))
			for idx, tag := range tags {
				confidence := 1.0 - float64(idx)*0.05
				if confidence < 0.5 {
					confidence = 0.5
				}
				if confidence < minConfidence {
					continue
				}
				annotations = append(annotations, types.Annotation{
					DatasetItemID:  item.ID,
					MediaID:        item.MediaID,
					AnnotationType: types.AnnClassification,
					Label:          tag,
					Confidence:     confidence,
					Geometry:       datatypes.JSON(`{}`),
					Source:         types.SourceAutoVLM,
				})
			}
			if len(annotations) == 0 {
				continue
			}
			if err := s.annotations.CreateBatch(ctx, tx, annotations); err != nil {
				return err
			}
			item.IsAnnotated = true
			if err := s.items.Update(ctx, tx, item); err != nil {
				return err
			}
			result.ItemsAnnotated++
			result.LabelsCreated += len(annotations)
		}
		return s.datasets.RefreshCounts(ctx, tx, datasetID)
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("Auto-annotation done",
		"dataset_id", datasetID.String(),
		"items", result.ItemsAnnotated,
		"labels", result.LabelsCreated,
	)
	return result, nil
}

// Stats reports labeling progress for a dataset, split by who did the
// labeling. Machine sources other than manual all count as auto.
func (s *activeLearningService) Stats(ctx context.Context, datasetID uuid.UUID) (*LabelingStats, error) {
	dataset, err := s.datasets.GetByID(ctx, nil, datasetID)
	if err != nil {
		return nil, apierr.NotFound("dataset")
	}
	sources, err := s.annotations.SourceCounts(ctx, nil, datasetID)
	if err != nil {
		return nil, err
	}

	stats := &LabelingStats{
		TotalItems:     dataset.ItemCount,
		AnnotatedItems: dataset.AnnotatedCount,
	}
	for source, count := range sources {
		if source == types.SourceManual {
			stats.HumanAnnotations += count
		} else {
			stats.AutoAnnotations += count
		}
	}
	if stats.TotalItems > 0 {
		stats.CompletionPct = float64(stats.AnnotatedItems) / float64(stats.TotalItems) * 100
	}
	return stats, nil
}

func decodeTags(raw datatypes.JSON) []string {
	if len(raw) == 0 {
		return nil
	}
	var tags []string
	if err := json.Unmarshal(raw, &tags); err != nil {
		return nil
	}
	return tags
}
