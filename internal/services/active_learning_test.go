package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/pixelbase/pixelbase-backend/internal/quality"
	"github.com/pixelbase/pixelbase-backend/internal/types"
)

func newActiveLearningService(t *testing.T) (ActiveLearningService, *gorm.DB) {
	t.Helper()
	gdb, log := newTestDB(t)
	datasets, items, annotations, media := newRepoSet(gdb, log)
	svc := NewActiveLearningService(gdb, media, items, annotations, datasets, log)
	return svc, gdb
}

func seedTaggedMedia(t *testing.T, gdb *gorm.DB, project *types.Project, tags string) *types.Media {
	t.Helper()
	media := seedMedia(t, gdb, project.ID, types.IndexingCompleted)
	media.AutoTags = datatypes.JSON(tags)
	require.NoError(t, gdb.Save(media).Error)
	return media
}

func TestSuggestIsDeterministicWithSeed(t *testing.T) {
	svc, gdb := newActiveLearningService(t)
	ctx := context.Background()
	project := seedProject(t, gdb)
	dataset := seedDataset(t, gdb, project.ID)

	for _, tags := range []string{`["cat","indoor"]`, `["dog"]`, `[]`} {
		media := seedTaggedMedia(t, gdb, project, tags)
		seedItem(t, gdb, dataset.ID, media.ID, false)
	}

	first, err := svc.Suggest(ctx, dataset.ID, quality.StrategyRandom, 10, 42)
	require.NoError(t, err)
	second, err := svc.Suggest(ctx, dataset.ID, quality.StrategyRandom, 10, 42)
	require.NoError(t, err)

	require.Equal(t, len(first.Suggestions), len(second.Suggestions))
	for i := range first.Suggestions {
		require.Equal(t, first.Suggestions[i].ItemID, second.Suggestions[i].ItemID)
	}
}

func TestSuggestUncertaintyPrefersFewTags(t *testing.T) {
	svc, gdb := newActiveLearningService(t)
	ctx := context.Background()
	project := seedProject(t, gdb)
	dataset := seedDataset(t, gdb, project.ID)

	sparse := seedTaggedMedia(t, gdb, project, `[]`)
	sparseItem := seedItem(t, gdb, dataset.ID, sparse.ID, false)
	rich := seedTaggedMedia(t, gdb, project, `["car","road","daytime","urban"]`)
	seedItem(t, gdb, dataset.ID, rich.ID, false)

	resp, err := svc.Suggest(ctx, dataset.ID, quality.StrategyUncertainty, 10, 1)
	require.NoError(t, err)
	require.NotEmpty(t, resp.Suggestions)
	require.Equal(t, sparseItem.ID, resp.Suggestions[0].ItemID)
	require.Equal(t, sparse.ID, resp.Suggestions[0].MediaID)
}

func TestSuggestEntropyUsesCaptionFallback(t *testing.T) {
	svc, gdb := newActiveLearningService(t)
	ctx := context.Background()
	project := seedProject(t, gdb)
	dataset := seedDataset(t, gdb, project.ID)

	captioned := seedTaggedMedia(t, gdb, project, `[]`)
	captioned.AutoCaption = "a cat sitting on a mat"
	require.NoError(t, gdb.Save(captioned).Error)
	seedItem(t, gdb, dataset.ID, captioned.ID, false)

	blank := seedTaggedMedia(t, gdb, project, `[]`)
	blankItem := seedItem(t, gdb, dataset.ID, blank.ID, false)

	resp, err := svc.Suggest(ctx, dataset.ID, quality.StrategyEntropy, 10, 1)
	require.NoError(t, err)
	require.Len(t, resp.Suggestions, 2)
	// No caption and no tags outranks caption-only.
	require.Equal(t, blankItem.ID, resp.Suggestions[0].ItemID)
	require.InDelta(t, 1.0, resp.Suggestions[0].Score, 1e-9)
	require.InDelta(t, 0.5, resp.Suggestions[1].Score, 1e-9)
}

func TestSuggestRejectsUnknownStrategy(t *testing.T) {
	svc, gdb := newActiveLearningService(t)
	project := seedProject(t, gdb)
	dataset := seedDataset(t, gdb, project.ID)

	_, err := svc.Suggest(context.Background(), dataset.ID, "alphabetical", 10, 0)
	require.Error(t, err)
}

func TestSuggestSkipsAnnotatedItems(t *testing.T) {
	svc, gdb := newActiveLearningService(t)
	ctx := context.Background()
	project := seedProject(t, gdb)
	dataset := seedDataset(t, gdb, project.ID)

	done := seedTaggedMedia(t, gdb, project, `["cat"]`)
	seedItem(t, gdb, dataset.ID, done.ID, true)
	open := seedTaggedMedia(t, gdb, project, `["dog"]`)
	openItem := seedItem(t, gdb, dataset.ID, open.ID, false)

	resp, err := svc.Suggest(ctx, dataset.ID, quality.StrategyRandom, 10, 7)
	require.NoError(t, err)
	require.Len(t, resp.Suggestions, 1)
	require.Equal(t, openItem.ID, resp.Suggestions[0].ItemID)
	require.Equal(t, open.ID, resp.Suggestions[0].MediaID)
}

func TestStatsSplitsAutoAndHuman(t *testing.T) {
	svc, gdb := newActiveLearningService(t)
	ctx := context.Background()
	project := seedProject(t, gdb)
	dataset := seedDataset(t, gdb, project.ID)
	alice := seedUser(t, gdb)

	tagged := seedTaggedMedia(t, gdb, project, `["cat"]`)
	seedItem(t, gdb, dataset.ID, tagged.ID, false)
	manual := seedItem(t, gdb, dataset.ID, seedMedia(t, gdb, project.ID, types.IndexingCompleted).ID, true)
	seedAnnotation(t, gdb, manual, alice.ID, "dog")

	_, err := svc.AutoAnnotate(ctx, dataset.ID, 0)
	require.NoError(t, err)

	stats, err := svc.Stats(ctx, dataset.ID)
	require.NoError(t, err)
	require.Equal(t, 2, stats.TotalItems)
	require.Equal(t, 2, stats.AnnotatedItems)
	require.InDelta(t, 100.0, stats.CompletionPct, 1e-9)
	require.Equal(t, int64(1), stats.AutoAnnotations)
	require.Equal(t, int64(1), stats.HumanAnnotations)
}

func TestAutoAnnotateCreatesClassifications(t *testing.T) {
	svc, gdb := newActiveLearningService(t)
	ctx := context.Background()
	project := seedProject(t, gdb)
	dataset := seedDataset(t, gdb, project.ID)

	media := seedTaggedMedia(t, gdb, project, `["cat","indoor"]`)
	item := seedItem(t, gdb, dataset.ID, media.ID, false)

	result, err := svc.AutoAnnotate(ctx, dataset.ID, 0)
	require.NoError(t, err)
	require.Equal(t, 1, result.ItemsAnnotated)
	require.Equal(t, 2, result.LabelsCreated)

	var anns []types.Annotation
	require.NoError(t, gdb.Where("dataset_item_id = ?", item.ID).Order("confidence desc").Find(&anns).Error)
	require.Len(t, anns, 2)
	require.Equal(t, types.SourceAutoVLM, anns[0].Source)
	require.InDelta(t, 1.0, anns[0].Confidence, 1e-9)
	require.InDelta(t, 0.95, anns[1].Confidence, 1e-9)
}
