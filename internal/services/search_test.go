package services

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/pixelbase/pixelbase-backend/internal/ml"
	"github.com/pixelbase/pixelbase-backend/internal/platform/qdrant"
	"github.com/pixelbase/pixelbase-backend/internal/repos"
	"github.com/pixelbase/pixelbase-backend/internal/types"
)

type stubEncoder struct{}

func (stubEncoder) EmbedImage(ctx context.Context, family ml.Family, data []byte) ([]float32, error) {
	return []float32{1, 0}, nil
}

func (stubEncoder) EmbedText(ctx context.Context, family ml.Family, text string) ([]float32, error) {
	return []float32{0, 1}, nil
}

func (stubEncoder) Warm(ctx context.Context) error {
	return nil
}

// stubIndex returns canned matches per collection and records which
// collections were searched. Branches run concurrently, hence the lock.
type stubIndex struct {
	mu       sync.Mutex
	matches  map[qdrant.Collection][]qdrant.Match
	searched []qdrant.Collection
}

func (s *stubIndex) record(collection qdrant.Collection) []qdrant.Match {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.searched = append(s.searched, collection)
	return s.matches[collection]
}

func (s *stubIndex) EnsureCollections(ctx context.Context) error { return nil }
func (s *stubIndex) Upsert(ctx context.Context, collection qdrant.Collection, point qdrant.Point) error {
	return nil
}
func (s *stubIndex) UpsertBatch(ctx context.Context, collection qdrant.Collection, points []qdrant.Point) error {
	return nil
}
func (s *stubIndex) Search(ctx context.Context, collection qdrant.Collection, vector []float32, params qdrant.SearchParams) ([]qdrant.Match, error) {
	return s.record(collection), nil
}
func (s *stubIndex) Recommend(ctx context.Context, collection qdrant.Collection, pointID string, params qdrant.SearchParams) ([]qdrant.Match, error) {
	return s.record(collection), nil
}
func (s *stubIndex) DeleteByMedia(ctx context.Context, mediaID string) error            { return nil }
func (s *stubIndex) DeleteBySource(ctx context.Context, mediaID, sourceID string) error { return nil }

func newSearchService(t *testing.T, idx *stubIndex) (SearchService, *gorm.DB) {
	t.Helper()
	gdb, log := newTestDB(t)
	media := repos.NewMediaRepo(gdb, log)
	svc := NewSearchService(media, idx, stubEncoder{}, SearchConfig{}, log)
	return svc, gdb
}

func matchFor(mediaID string, score float64) qdrant.Match {
	return qdrant.Match{
		PointID: "clip_" + mediaID,
		Score:   score,
		Payload: map[string]any{"media_id": mediaID},
	}
}

func TestSearchTextQueryDefaultsToBothBranches(t *testing.T) {
	idx := &stubIndex{matches: map[qdrant.Collection][]qdrant.Match{}}
	svc, gdb := newSearchService(t, idx)
	project := seedProject(t, gdb)
	hit := seedMedia(t, gdb, project.ID, types.IndexingCompleted)
	idx.matches[qdrant.CollectionText] = []qdrant.Match{matchFor(hit.ID.String(), 0.9)}

	resp, err := svc.Search(context.Background(), project.ID, SearchRequest{Query: "crosswalk"})
	require.NoError(t, err)

	// Absent use_clip/use_text means both branches run.
	require.Contains(t, idx.searched, qdrant.CollectionCLIP)
	require.Contains(t, idx.searched, qdrant.CollectionText)
	require.Len(t, resp.Results, 1)
	require.Equal(t, hit.ID.String(), resp.Results[0].MediaID)
}

func TestSearchExplicitFalseDisablesBranch(t *testing.T) {
	idx := &stubIndex{matches: map[qdrant.Collection][]qdrant.Match{}}
	svc, gdb := newSearchService(t, idx)
	project := seedProject(t, gdb)

	off := false
	_, err := svc.Search(context.Background(), project.ID, SearchRequest{Query: "crosswalk", UseCLIP: &off})
	require.NoError(t, err)

	require.NotContains(t, idx.searched, qdrant.CollectionCLIP)
	require.Contains(t, idx.searched, qdrant.CollectionText)
}

func TestSearchDropsHitsWithoutMediaRow(t *testing.T) {
	idx := &stubIndex{matches: map[qdrant.Collection][]qdrant.Match{}}
	svc, gdb := newSearchService(t, idx)
	project := seedProject(t, gdb)
	kept := seedMedia(t, gdb, project.ID, types.IndexingCompleted)
	vanished := seedMedia(t, gdb, project.ID, types.IndexingCompleted)
	idx.matches[qdrant.CollectionText] = []qdrant.Match{
		matchFor(kept.ID.String(), 0.9),
		matchFor(vanished.ID.String(), 0.8),
	}
	require.NoError(t, gdb.Delete(vanished).Error)

	resp, err := svc.Search(context.Background(), project.ID, SearchRequest{Query: "crosswalk"})
	require.NoError(t, err)

	require.Len(t, resp.Results, 1)
	require.Equal(t, kept.ID.String(), resp.Results[0].MediaID)
	require.NotNil(t, resp.Results[0].Media)
}
