package jobs

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"

	"github.com/pixelbase/pixelbase-backend/internal/platform/gcs"
	"github.com/pixelbase/pixelbase-backend/internal/platform/logger"
	"github.com/pixelbase/pixelbase-backend/internal/quality"
	"github.com/pixelbase/pixelbase-backend/internal/types"
)

// stubBucket serves fixed object bytes for download-only tests.
type stubBucket struct {
	data []byte
}

func (b *stubBucket) UploadObject(ctx context.Context, category gcs.BucketCategory, key string, r io.Reader) error {
	return nil
}

func (b *stubBucket) DownloadObject(ctx context.Context, category gcs.BucketCategory, key string) (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(b.data)), nil
}

func (b *stubBucket) DeleteObject(ctx context.Context, category gcs.BucketCategory, key string) error {
	return nil
}

func (b *stubBucket) DeletePrefix(ctx context.Context, category gcs.BucketCategory, prefix string) error {
	return nil
}

func (b *stubBucket) ListKeys(ctx context.Context, category gcs.BucketCategory, prefix string) ([]string, error) {
	return nil, nil
}

func (b *stubBucket) GetObjectAttrs(ctx context.Context, category gcs.BucketCategory, key string) (*gcs.ObjectAttrs, error) {
	return nil, errors.New("not found")
}

func (b *stubBucket) GetPublicURL(category gcs.BucketCategory, key string) string { return key }

func (b *stubBucket) SignedURL(category gcs.BucketCategory, key string, ttl time.Duration) (string, error) {
	return key, nil
}

type stubKeyframer struct {
	frame []byte
	err   error
}

func (k *stubKeyframer) MiddleFrame(ctx context.Context, video []byte) ([]byte, error) {
	return k.frame, k.err
}

func newVisualEnricher(t *testing.T, bucket *stubBucket, kf *stubKeyframer) *Enricher {
	t.Helper()
	log, err := logger.New("dev")
	require.NoError(t, err)
	return NewEnricher(nil, nil, bucket, nil, nil, kf, nil, nil, log)
}

func TestVisualBytesUsesOriginalForImages(t *testing.T) {
	e := newVisualEnricher(t, &stubBucket{data: []byte("jpeg-bytes")}, &stubKeyframer{})
	media := &types.Media{ID: uuid.New(), MediaType: types.MediaImage, StoragePath: "p/m.jpg"}

	data, err := e.visualBytes(context.Background(), media)
	require.NoError(t, err)
	assert.Equal(t, []byte("jpeg-bytes"), data)
}

func TestVisualBytesExtractsVideoKeyframe(t *testing.T) {
	frame := []byte{0xFF, 0xD8}
	e := newVisualEnricher(t, &stubBucket{data: []byte("mp4-bytes")}, &stubKeyframer{frame: frame})
	media := &types.Media{ID: uuid.New(), MediaType: types.MediaVideo, StoragePath: "p/m.mp4"}

	data, err := e.visualBytes(context.Background(), media)
	require.NoError(t, err)
	assert.Equal(t, frame, data)
}

func TestVisualBytesFailsWhenKeyframeExtractionFails(t *testing.T) {
	e := newVisualEnricher(t, &stubBucket{data: []byte("mp4-bytes")}, &stubKeyframer{err: errors.New("no frames")})
	media := &types.Media{ID: uuid.New(), MediaType: types.MediaVideo, StoragePath: "p/m.mp4"}

	_, err := e.visualBytes(context.Background(), media)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "keyframe")
}

func TestVisualBytesRejectsNonVisualMedia(t *testing.T) {
	e := newVisualEnricher(t, &stubBucket{}, &stubKeyframer{})
	media := &types.Media{ID: uuid.New(), MediaType: types.MediaDocument}

	_, err := e.visualBytes(context.Background(), media)
	assert.Error(t, err)
}

func TestTextAnchorPointID(t *testing.T) {
	id := uuid.New()
	anchor := types.TextAnchorPointID(id)
	assert.Equal(t, "text_"+id.String(), anchor)

	got, ok := types.MediaIDFromPointID(anchor)
	require.True(t, ok)
	assert.Equal(t, id, got)
}

func TestCaptionIndexText(t *testing.T) {
	got := CaptionIndexText("A cat on a mat.", []string{"cat", "indoor"})
	assert.Equal(t, "A cat on a mat. Tags: cat, indoor", got)

	got = CaptionIndexText("A cat on a mat", []string{"cat"})
	assert.Equal(t, "A cat on a mat. Tags: cat", got)

	assert.Equal(t, "A cat on a mat.", CaptionIndexText("A cat on a mat.", nil))
}

func TestExpectedComponents(t *testing.T) {
	assert.Equal(t, []string{"clip", "dino", "vlm"}, ExpectedComponents(types.MediaImage))
	assert.Equal(t, []string{"clip", "vlm"}, ExpectedComponents(types.MediaVideo))
	assert.Equal(t, []string{"text"}, ExpectedComponents(types.MediaDocument))
	assert.Equal(t, []string{"text"}, ExpectedComponents(types.MediaAudio))
}

func TestComponentDone(t *testing.T) {
	media := &types.Media{MediaType: types.MediaImage}
	assert.False(t, componentDone(media, "clip"))
	media.ClipEmbeddingID = "clip_abc"
	assert.True(t, componentDone(media, "clip"))
	media.AutoCaption = "a cat"
	assert.True(t, componentDone(media, "vlm"))
	assert.False(t, componentDone(media, "dino"))
}

func TestValidAugmentOp(t *testing.T) {
	assert.True(t, ValidAugmentOp(OpHFlip))
	assert.True(t, ValidAugmentOp(OpVFlip))
	assert.True(t, ValidAugmentOp(OpScale))
	assert.False(t, ValidAugmentOp("rotate"))
}

func TestTransformGeometryBBox(t *testing.T) {
	ann := types.Annotation{
		AnnotationType: types.AnnBBox,
		Geometry:       datatypes.JSON(`{"x":10,"y":20,"width":100,"height":50}`),
	}

	raw, err := transformGeometry(ann, OpHFlip, 640, 480)
	require.NoError(t, err)
	var box quality.BBox
	require.NoError(t, json.Unmarshal(raw, &box))
	assert.Equal(t, quality.BBox{X: 530, Y: 20, W: 100, H: 50}, box)

	raw, err = transformGeometry(ann, OpScale, 640, 480)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(raw, &box))
	assert.Equal(t, quality.BBox{X: 5, Y: 10, W: 50, H: 25}, box)
}

func TestTransformGeometryPolygonVFlip(t *testing.T) {
	ann := types.Annotation{
		AnnotationType: types.AnnPolygon,
		Geometry:       datatypes.JSON(`{"points":[{"x":0,"y":0},{"x":10,"y":0},{"x":10,"y":10}]}`),
	}
	raw, err := transformGeometry(ann, OpVFlip, 100, 100)
	require.NoError(t, err)
	var poly quality.Polygon
	require.NoError(t, json.Unmarshal(raw, &poly))
	require.Len(t, poly.Points, 3)
	assert.Equal(t, quality.Point{X: 0, Y: 100}, poly.Points[0])
	assert.Equal(t, quality.Point{X: 10, Y: 90}, poly.Points[2])
}

func TestTransformGeometryClassificationUnchanged(t *testing.T) {
	ann := types.Annotation{
		AnnotationType: types.AnnClassification,
		Geometry:       datatypes.JSON(`{}`),
	}
	raw, err := transformGeometry(ann, OpHFlip, 100, 100)
	require.NoError(t, err)
	assert.JSONEq(t, `{}`, string(raw))
}
