package jobs

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/pixelbase/pixelbase-backend/internal/repos"
	"github.com/pixelbase/pixelbase-backend/internal/types"
)

func seedFailedMedia(t *testing.T, gdb *gorm.DB) *types.Media {
	t.Helper()
	project := &types.Project{ID: uuid.New(), Name: "Sweeper", Slug: "sweeper-" + uuid.NewString()[:8]}
	require.NoError(t, gdb.Create(project).Error)
	media := &types.Media{
		ID:               uuid.New(),
		ProjectID:        project.ID,
		Filename:         uuid.NewString() + ".jpg",
		OriginalFilename: "broken.jpg",
		MediaType:        types.MediaImage,
		MimeType:         "image/jpeg",
		FileSize:         10,
		ChecksumSHA256:   uuid.NewString(),
		StoragePath:      "projects/p/media/broken.jpg",
		IndexingStatus:   types.IndexingFailed,
		ErrorMessage:     "clip: encoder unreachable",
	}
	require.NoError(t, gdb.Create(media).Error)
	return media
}

func TestSweepRedispatchesFailedMedia(t *testing.T) {
	gdb, log := newTestDB(t)
	tasks := repos.NewTaskRunRepo(gdb, log)
	media := repos.NewMediaRepo(gdb, log)
	sweeper := NewSweeper(tasks, media, log)

	failed := seedFailedMedia(t, gdb)
	sweeper.Sweep(context.Background())

	var runs []types.TaskRun
	require.NoError(t, gdb.Find(&runs, "project_id = ?", failed.ProjectID).Error)
	require.Len(t, runs, 1)
	assert.Equal(t, types.TaskEnrichCLIP, runs[0].TaskKind)
	assert.Equal(t, types.QueueGPU, runs[0].Queue)

	fresh, err := media.GetByID(context.Background(), nil, failed.ID)
	require.NoError(t, err)
	assert.Equal(t, types.IndexingPending, fresh.IndexingStatus)
	assert.Empty(t, fresh.ErrorMessage)
}
