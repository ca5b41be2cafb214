package gcs

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pixelbase/pixelbase-backend/internal/platform/logger"
)

func newEmulatorBucketService(t *testing.T) BucketService {
	t.Helper()
	t.Setenv("OBJECT_STORAGE_MODE", "gcs_emulator")
	t.Setenv("STORAGE_EMULATOR_HOST", "http://localhost:4443")
	t.Setenv("MEDIA_GCS_BUCKET_NAME", "media-test")
	t.Setenv("OBJECT_STORAGE_PUBLIC_BASE_URL", "")

	log, err := logger.New("dev")
	require.NoError(t, err)
	bs, err := NewBucketService(log)
	require.NoError(t, err)
	return bs
}

func TestSignedURLFallsBackToPublicURLInEmulatorMode(t *testing.T) {
	bs := newEmulatorBucketService(t)

	url, err := bs.SignedURL(BucketCategoryMedia, "projects/p1/media/m1.jpg", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, bs.GetPublicURL(BucketCategoryMedia, "projects/p1/media/m1.jpg"), url)
	assert.Contains(t, url, "media-test/projects/p1/media/m1.jpg")
}

func TestSignedURLRejectsUnknownCategory(t *testing.T) {
	bs := newEmulatorBucketService(t)

	_, err := bs.SignedURL(BucketCategory("cold"), "k", time.Minute)
	assert.Error(t, err)
}

func TestObjectKeyLayout(t *testing.T) {
	assert.Equal(t, "projects/p1/media/m1.jpg", MediaObjectKey("p1", "m1", "photo.JPG"))
	assert.Equal(t, "projects/p1/thumbnails/m1.jpg", ThumbnailObjectKey("p1", "m1"))
	assert.Equal(t, "projects/p1/exports/d1/v1.json", ExportObjectKey("p1", "d1", "v1", "coco"))
	assert.Equal(t, "projects/p1/exports/d1/v1.jsonl", ExportObjectKey("p1", "d1", "v1", "yolo"))
	assert.Equal(t, "projects/p1/exports/d1/v1.data.yaml", ExportManifestObjectKey("p1", "d1", "v1"))
	assert.Equal(t, "projects/p1/models/j1/model.pt", ModelObjectKey("p1", "j1"))
}
