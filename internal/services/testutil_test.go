package services

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/pixelbase/pixelbase-backend/internal/db"
	"github.com/pixelbase/pixelbase-backend/internal/platform/logger"
	"github.com/pixelbase/pixelbase-backend/internal/repos"
	"github.com/pixelbase/pixelbase-backend/internal/types"
)

func newTestDB(t *testing.T) (*gorm.DB, *logger.Logger) {
	t.Helper()
	gdb, err := gorm.Open(sqlite.Open("file::memory:?cache=shared&_fk=1"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(gdb))

	t.Cleanup(func() {
		sqlDB, err := gdb.DB()
		if err == nil {
			sqlDB.Close()
		}
	})

	log, err := logger.New("dev")
	require.NoError(t, err)
	return gdb, log
}

func seedProject(t *testing.T, gdb *gorm.DB) *types.Project {
	t.Helper()
	project := &types.Project{
		ID:   uuid.New(),
		Name: "Street Scenes",
		Slug: "street-scenes-" + uuid.NewString()[:8],
	}
	require.NoError(t, gdb.Create(project).Error)
	return project
}

func seedUser(t *testing.T, gdb *gorm.DB) *types.User {
	t.Helper()
	user := &types.User{
		ID:             uuid.New(),
		Email:          uuid.NewString()[:8] + "@example.com",
		HashedPassword: "x",
		FullName:       "Test Annotator",
		IsActive:       true,
	}
	require.NoError(t, gdb.Create(user).Error)
	return user
}

func seedDataset(t *testing.T, gdb *gorm.DB, projectID uuid.UUID) *types.Dataset {
	t.Helper()
	dataset := &types.Dataset{
		ID:          uuid.New(),
		ProjectID:   projectID,
		Name:        "Crosswalks",
		Slug:        "crosswalks-" + uuid.NewString()[:8],
		DatasetType: types.DatasetCustom,
		Status:      types.DatasetDraft,
	}
	require.NoError(t, gdb.Create(dataset).Error)
	return dataset
}

func seedMedia(t *testing.T, gdb *gorm.DB, projectID uuid.UUID, status types.IndexingStatus) *types.Media {
	t.Helper()
	media := &types.Media{
		ID:               uuid.New(),
		ProjectID:        projectID,
		Filename:         uuid.NewString() + ".jpg",
		OriginalFilename: "frame.jpg",
		MediaType:        types.MediaImage,
		MimeType:         "image/jpeg",
		FileSize:         2048,
		ChecksumSHA256:   uuid.NewString(),
		StoragePath:      "projects/p/media/frame.jpg",
		IndexingStatus:   status,
	}
	require.NoError(t, gdb.Create(media).Error)
	return media
}

func seedItem(t *testing.T, gdb *gorm.DB, datasetID, mediaID uuid.UUID, annotated bool) *types.DatasetItem {
	t.Helper()
	item := &types.DatasetItem{
		ID:          uuid.New(),
		DatasetID:   datasetID,
		MediaID:     mediaID,
		Split:       "train",
		IsAnnotated: annotated,
	}
	require.NoError(t, gdb.Create(item).Error)
	return item
}

func newRepoSet(gdb *gorm.DB, log *logger.Logger) (repos.DatasetRepo, repos.DatasetItemRepo, repos.AnnotationRepo, repos.MediaRepo) {
	return repos.NewDatasetRepo(gdb, log),
		repos.NewDatasetItemRepo(gdb, log),
		repos.NewAnnotationRepo(gdb, log),
		repos.NewMediaRepo(gdb, log)
}
