package services

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/pixelbase/pixelbase-backend/internal/repos"
	"github.com/pixelbase/pixelbase-backend/internal/types"
)

func newQualityService(t *testing.T) (QualityService, *gorm.DB) {
	t.Helper()
	gdb, log := newTestDB(t)
	_, items, annotations, _ := newRepoSet(gdb, log)
	svc := NewQualityService(
		annotations, items,
		repos.NewReviewRepo(gdb, log),
		repos.NewAgreementRepo(gdb, log),
		log,
	)
	return svc, gdb
}

func seedAnnotation(t *testing.T, gdb *gorm.DB, item *types.DatasetItem, by uuid.UUID, label string) *types.Annotation {
	t.Helper()
	ann := &types.Annotation{
		ID:             uuid.New(),
		DatasetItemID:  item.ID,
		MediaID:        item.MediaID,
		AnnotationType: types.AnnClassification,
		Label:          label,
		Confidence:     1.0,
		Geometry:       datatypes.JSON(`{}`),
		Source:         types.SourceManual,
		CreatedBy:      &by,
	}
	require.NoError(t, gdb.Create(ann).Error)
	return ann
}

func TestComputeAgreementSkipsSingleAnnotator(t *testing.T) {
	svc, gdb := newQualityService(t)
	ctx := context.Background()

	project := seedProject(t, gdb)
	dataset := seedDataset(t, gdb, project.ID)
	alice := seedUser(t, gdb)
	bob := seedUser(t, gdb)

	agreed := seedItem(t, gdb, dataset.ID, seedMedia(t, gdb, project.ID, types.IndexingCompleted).ID, true)
	seedAnnotation(t, gdb, agreed, alice.ID, "cat")
	seedAnnotation(t, gdb, agreed, bob.ID, "cat")

	solo := seedItem(t, gdb, dataset.ID, seedMedia(t, gdb, project.ID, types.IndexingCompleted).ID, true)
	seedAnnotation(t, gdb, solo, alice.ID, "dog")

	run, err := svc.ComputeAgreement(ctx, dataset.ID, MetricLabelAgreement)
	require.NoError(t, err)
	require.Equal(t, 1, run.ItemsScored)
	require.Equal(t, 1, run.ItemsSkipped)
	require.InDelta(t, 1.0, run.MeanScore, 1e-9)
}

func TestComputeAgreementDisagreement(t *testing.T) {
	svc, gdb := newQualityService(t)
	ctx := context.Background()

	project := seedProject(t, gdb)
	dataset := seedDataset(t, gdb, project.ID)
	alice := seedUser(t, gdb)
	bob := seedUser(t, gdb)

	item := seedItem(t, gdb, dataset.ID, seedMedia(t, gdb, project.ID, types.IndexingCompleted).ID, true)
	seedAnnotation(t, gdb, item, alice.ID, "cat")
	seedAnnotation(t, gdb, item, bob.ID, "dog")

	run, err := svc.ComputeAgreement(ctx, dataset.ID, MetricLabelAgreement)
	require.NoError(t, err)
	require.Equal(t, 1, run.ItemsScored)
	require.InDelta(t, 0.0, run.MeanScore, 1e-9)
}

func TestComputeAgreementCohensKappa(t *testing.T) {
	svc, gdb := newQualityService(t)
	ctx := context.Background()

	project := seedProject(t, gdb)
	dataset := seedDataset(t, gdb, project.ID)
	alice := seedUser(t, gdb)
	bob := seedUser(t, gdb)

	item := seedItem(t, gdb, dataset.ID, seedMedia(t, gdb, project.ID, types.IndexingCompleted).ID, true)
	seedAnnotation(t, gdb, item, alice.ID, "cat")
	seedAnnotation(t, gdb, item, bob.ID, "cat")

	require.True(t, ValidAgreementMetric(MetricCohensKappa))
	run, err := svc.ComputeAgreement(ctx, dataset.ID, MetricCohensKappa)
	require.NoError(t, err)
	require.Equal(t, 1, run.ItemsScored)
	require.InDelta(t, 1.0, run.MeanScore, 1e-9)
}

func TestComputeAgreementRejectsUnknownMetric(t *testing.T) {
	svc, gdb := newQualityService(t)
	project := seedProject(t, gdb)
	dataset := seedDataset(t, gdb, project.ID)

	_, err := svc.ComputeAgreement(context.Background(), dataset.ID, "vibes")
	require.Error(t, err)
}

func TestSubmitReviewAndSummary(t *testing.T) {
	svc, gdb := newQualityService(t)
	ctx := context.Background()

	project := seedProject(t, gdb)
	dataset := seedDataset(t, gdb, project.ID)
	alice := seedUser(t, gdb)
	reviewer := seedUser(t, gdb)

	item := seedItem(t, gdb, dataset.ID, seedMedia(t, gdb, project.ID, types.IndexingCompleted).ID, true)
	ann := seedAnnotation(t, gdb, item, alice.ID, "bicycle")

	review, err := svc.SubmitReview(ctx, ann.ID, &reviewer.ID, types.ReviewApproved, "clean box")
	require.NoError(t, err)
	require.Equal(t, types.ReviewApproved, review.Status)

	_, err = svc.SubmitReview(ctx, uuid.New(), &reviewer.ID, types.ReviewApproved, "")
	require.Error(t, err)

	summary, err := svc.Summary(ctx, dataset.ID)
	require.NoError(t, err)
	require.Equal(t, int64(1), summary.ReviewCounts[types.ReviewApproved])
	require.Equal(t, int64(1), summary.LabelCounts["bicycle"])
}
