package services

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
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

// Agreement metrics exposed at the API.
const (
	MetricLabelAgreement   = "label_agreement"
	MetricIoUAgreement     = "iou_agreement"
	MetricPercentAgreement = "percent_agreement"
	MetricCohensKappa      = "cohens_kappa"
	MetricFleissKappa      = "fleiss_kappa"
)

func ValidAgreementMetric(metric string) bool {
	switch metric {
	case MetricLabelAgreement, MetricIoUAgreement, MetricPercentAgreement, MetricCohensKappa, MetricFleissKappa:
		return true
	default:
		return false
	}
}

type AgreementRun struct {
	Metric       string  `json:"metric"`
	ItemsScored  int     `json:"items_scored"`
	ItemsSkipped int     `json:"items_skipped"`
	MeanScore    float64 `json:"mean_score"`
}

type QualitySummary struct {
	ReviewCounts map[types.ReviewStatus]int64 `json:"review_counts"`
	Agreement    map[string]float64           `json:"agreement"`
	LabelCounts  map[string]int64             `json:"label_counts"`
}

type QualityService interface {
	SubmitReview(ctx context.Context, annotationID uuid.UUID, reviewerID *uuid.UUID, status types.ReviewStatus, comment string) (*types.AnnotationReview, error)
	ListReviews(ctx context.Context, annotationID uuid.UUID) ([]types.AnnotationReview, error)
	ComputeAgreement(ctx context.Context, datasetID uuid.UUID, metric string) (*AgreementRun, error)
	Summary(ctx context.Context, datasetID uuid.UUID) (*QualitySummary, error)
}

type qualityService struct {
	log         *logger.Logger
	annotations repos.AnnotationRepo
	items       repos.DatasetItemRepo
	reviews     repos.ReviewRepo
	agreements  repos.AgreementRepo
}

func NewQualityService(
	annotations repos.AnnotationRepo,
	items repos.DatasetItemRepo,
	reviews repos.ReviewRepo,
	agreements repos.AgreementRepo,
	log *logger.Logger,
) QualityService {
	return &qualityService{
		log:         log.With("service", "QualityService"),
		annotations: annotations,
		items:       items,
		reviews:     reviews,
		agreements:  agreements,
	}
}

func (s *qualityService) SubmitReview(ctx context.Context, annotationID uuid.UUID, reviewerID *uuid.UUID, status types.ReviewStatus, comment string) (*types.AnnotationReview, error) {
	switch status {
	case types.ReviewPending, types.ReviewApproved, types.ReviewRejected, types.ReviewNeedsRevision:
	default:
		return nil, apierr.Invalid("unknown review status")
	}
	if _, err := s.annotations.GetByID(ctx, nil, annotationID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apierr.NotFound("annotation")
		}
		return nil, err
	}
	review := &types.AnnotationReview{
		ID:           uuid.New(),
		AnnotationID: annotationID,
		ReviewerID:   reviewerID,
		Status:       status,
		Comment:      comment,
	}
	if err := s.reviews.Create(ctx, nil, review); err != nil {
		return nil, err
	}
	return review, nil
}

func (s *qualityService) ListReviews(ctx context.Context, annotationID uuid.UUID) ([]types.AnnotationReview, error) {
	return s.reviews.ListByAnnotation(ctx, nil, annotationID)
}

// ComputeAgreement scores every multi-annotator item of the dataset and
// persists one AgreementScore row per item. Items with fewer than two
// annotators are skipped, not scored 1.0, so the mean reflects real
// disagreement surface.
func (s *qualityService) ComputeAgreement(ctx context.Context, datasetID uuid.UUID, metric string) (*AgreementRun, error) {
	if !ValidAgreementMetric(metric) {
		return nil, apierr.Invalid("metric must be label_agreement, iou_agreement, percent_agreement, cohens_kappa, or fleiss_kappa")
	}
	annotations, err := s.annotations.ListByDataset(ctx, nil, datasetID)
	if err != nil {
		return nil, err
	}

	byItem := map[uuid.UUID][]types.Annotation{}
	for _, ann := range annotations {
		byItem[ann.DatasetItemID] = append(byItem[ann.DatasetItemID], ann)
	}

	run := &AgreementRun{Metric: metric}
	var total float64
	now := time.Now().UTC()
	for itemID, anns := range byItem {
		byAnnotator := groupByAnnotator(anns)
		if len(byAnnotator) < 2 {
			run.ItemsSkipped++
			continue
		}
		score := scoreItem(metric, byAnnotator)

		annotatorIDs := make([]string, 0, len(byAnnotator))
		for id := range byAnnotator {
			annotatorIDs = append(annotatorIDs, id)
		}
		rawIDs, err := json.Marshal(annotatorIDs)
		if err != nil {
			return nil, err
		}
		details, err := json.Marshal(map[string]any{
			"consensus_labels": quality.ConsensusLabels(labelSets(byAnnotator)),
		})
		if err != nil {
			return nil, err
		}
		if err := s.agreements.Create(ctx, nil, &types.AgreementScore{
			DatasetID:     datasetID,
			DatasetItemID: itemID,
			AnnotatorIDs:  datatypes.JSON(rawIDs),
			Metric:        metric,
			Score:         score,
			Details:       datatypes.JSON(details),
			ComputedAt:    now,
		}); err != nil {
			return nil, err
		}
		total += score
		run.ItemsScored++
	}
	if run.ItemsScored > 0 {
		run.MeanScore = total / float64(run.ItemsScored)
	}
	s.log.Info("Agreement computed",
		"dataset_id", datasetID.String(),
		"metric", metric,
		"items_scored", run.ItemsScored,
	)
	return run, nil
}

func groupByAnnotator(anns []types.Annotation) map[string][]types.Annotation {
	out := map[string][]types.Annotation{}
	for _, ann := range anns {
		key := "unknown"
		if ann.CreatedBy != nil {
			key = ann.CreatedBy.String()
		}
		out[key] = append(out[key], ann)
	}
	return out
}

func scoreItem(metric string, byAnnotator map[string][]types.Annotation) float64 {
	switch metric {
	case MetricLabelAgreement:
		return quality.LabelAgreement(labelSets(byAnnotator))
	case MetricIoUAgreement:
		return quality.BoxAgreement(boxSets(byAnnotator))
	case MetricPercentAgreement:
		return quality.PercentAgreement(labelSets(byAnnotator))
	case MetricCohensKappa:
		return cohensForItem(byAnnotator)
	case MetricFleissKappa:
		return fleissForItem(byAnnotator)
	default:
		return 0
	}
}

func labelSets(byAnnotator map[string][]types.Annotation) [][]string {
	out := make([][]string, 0, len(byAnnotator))
	for _, anns := range byAnnotator {
		labels := make([]string, 0, len(anns))
		for _, ann := range anns {
			labels = append(labels, ann.Label)
		}
		out = append(out, labels)
	}
	return out
}

func boxSets(byAnnotator map[string][]types.Annotation) [][]quality.BBox {
	out := make([][]quality.BBox, 0, len(byAnnotator))
	for _, anns := range byAnnotator {
		var boxes []quality.BBox
		for _, ann := range anns {
			if ann.AnnotationType != types.AnnBBox {
				continue
			}
			var box quality.BBox
			if err := json.Unmarshal(ann.Geometry, &box); err == nil {
				boxes = append(boxes, box)
			}
		}
		out = append(out, boxes)
	}
	return out
}

// cohensForItem averages pairwise kappa over the annotators' sorted
// label lists. Lists of unequal length are padded with the empty string,
// which acts as a distinct "no label" category.
func cohensForItem(byAnnotator map[string][]types.Annotation) float64 {
	sets := labelSets(byAnnotator)
	if len(sets) < 2 {
		return 1
	}
	longest := 0
	for i, labels := range sets {
		cp := append([]string(nil), labels...)
		sort.Strings(cp)
		sets[i] = cp
		if len(cp) > longest {
			longest = len(cp)
		}
	}
	for i, labels := range sets {
		for len(labels) < longest {
			labels = append(labels, "")
		}
		sets[i] = labels
	}

	var total float64
	pairs := 0
	for i := 0; i < len(sets); i++ {
		for j := i + 1; j < len(sets); j++ {
			total += quality.CohensKappa(sets[i], sets[j])
			pairs++
		}
	}
	return total / float64(pairs)
}

// fleissForItem builds a single-item rating matrix: each annotator's
// first label is their vote.
func fleissForItem(byAnnotator map[string][]types.Annotation) float64 {
	categoryIdx := map[string]int{}
	votes := make([]string, 0, len(byAnnotator))
	for _, anns := range byAnnotator {
		if len(anns) == 0 {
			continue
		}
		label := anns[0].Label
		if _, ok := categoryIdx[label]; !ok {
			categoryIdx[label] = len(categoryIdx)
		}
		votes = append(votes, label)
	}
	if len(votes) < 2 {
		return 1
	}
	row := make([]int, len(categoryIdx))
	for _, vote := range votes {
		row[categoryIdx[vote]]++
	}
	return quality.FleissKappa([][]int{row})
}

func (s *qualityService) Summary(ctx context.Context, datasetID uuid.UUID) (*QualitySummary, error) {
	reviewCounts, err := s.reviews.CountByStatus(ctx, nil, datasetID)
	if err != nil {
		return nil, err
	}
	labelCounts, err := s.annotations.LabelCounts(ctx, nil, datasetID)
	if err != nil {
		return nil, err
	}
	agreement := map[string]float64{}
	for _, metric := range []string{MetricLabelAgreement, MetricIoUAgreement, MetricPercentAgreement, MetricCohensKappa, MetricFleissKappa} {
		mean, count, err := s.agreements.MeanScore(ctx, nil, datasetID, metric)
		if err != nil {
			return nil, err
		}
		if count > 0 {
			agreement[metric] = mean
		}
	}
	return &QualitySummary{
		ReviewCounts: reviewCounts,
		Agreement:    agreement,
		LabelCounts:  labelCounts,
	}, nil
}
