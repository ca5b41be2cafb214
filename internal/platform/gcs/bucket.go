package gcs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/pixelbase/pixelbase-backend/internal/platform/logger"
)

// BucketCategory selects the backing bucket. Raw media and thumbnails
// live apart from generated artifacts (exports, model weights) so
// lifecycle rules can differ.
type BucketCategory string

const (
	BucketCategoryMedia    BucketCategory = "media"
	BucketCategoryArtifact BucketCategory = "artifact"
)

type ObjectAttrs struct {
	Size        int64
	ContentType string
	Updated     time.Time
	ETag        string
}

type BucketService interface {
	UploadObject(ctx context.Context, category BucketCategory, key string, r io.Reader) error
	DownloadObject(ctx context.Context, category BucketCategory, key string) (io.ReadCloser, error)
	// DeleteObject is idempotent: deleting an absent object is not an error.
	DeleteObject(ctx context.Context, category BucketCategory, key string) error
	DeletePrefix(ctx context.Context, category BucketCategory, prefix string) error
	ListKeys(ctx context.Context, category BucketCategory, prefix string) ([]string, error)
	GetObjectAttrs(ctx context.Context, category BucketCategory, key string) (*ObjectAttrs, error)
	GetPublicURL(category BucketCategory, key string) string
	// SignedURL mints a V4 GET URL valid for ttl. The emulator cannot
	// sign, so emulator mode falls back to the public URL.
	SignedURL(category BucketCategory, key string, ttl time.Duration) (string, error)
}

type bucketService struct {
	log            *logger.Logger
	storageClient  *storage.Client
	storageMode    ObjectStorageMode
	mediaBucket    string
	artifactBucket string
	publicBaseURL  string
}

func NewBucketService(log *logger.Logger) (BucketService, error) {
	storageCfg, err := ResolveObjectStorageConfigFromEnv()
	if err != nil {
		return nil, fmt.Errorf("resolve object storage config: %w", err)
	}
	return NewBucketServiceWithConfig(log, storageCfg)
}

func NewBucketServiceWithConfig(log *logger.Logger, storageCfg ObjectStorageConfig) (BucketService, error) {
	if err := ValidateObjectStorageConfig(storageCfg); err != nil {
		return nil, fmt.Errorf("validate object storage config: %w", err)
	}
	serviceLog := log.With("service", "BucketService")

	mediaBucket := strings.TrimSpace(os.Getenv("MEDIA_GCS_BUCKET_NAME"))
	artifactBucket := strings.TrimSpace(os.Getenv("ARTIFACT_GCS_BUCKET_NAME"))
	if mediaBucket == "" {
		return nil, fmt.Errorf("missing env var MEDIA_GCS_BUCKET_NAME")
	}
	if artifactBucket == "" {
		artifactBucket = mediaBucket
	}

	ctx := context.Background()
	stClient, err := newStorageClientForMode(ctx, storageCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage client: %w", err)
	}

	publicBaseURL := strings.TrimRight(strings.TrimSpace(os.Getenv("OBJECT_STORAGE_PUBLIC_BASE_URL")), "/")
	if publicBaseURL == "" && storageCfg.IsEmulatorMode() {
		publicBaseURL = strings.TrimRight(storageCfg.EmulatorHost, "/")
	}

	serviceLog.Info(
		"Object storage initialized",
		"mode", storageCfg.Mode,
		"media_bucket", mediaBucket,
		"artifact_bucket", artifactBucket,
		"public_base_url", publicBaseURL,
	)

	return &bucketService{
		log:            serviceLog,
		storageClient:  stClient,
		storageMode:    storageCfg.Mode,
		mediaBucket:    mediaBucket,
		artifactBucket: artifactBucket,
		publicBaseURL:  publicBaseURL,
	}, nil
}

func newStorageClientForMode(ctx context.Context, storageCfg ObjectStorageConfig) (*storage.Client, error) {
	switch storageCfg.Mode {
	case ObjectStorageModeGCS:
		opts := ClientOptionsFromEnv()
		opts = append(opts, option.WithScopes(storage.ScopeReadWrite))
		return storage.NewClient(ctx, opts...)
	case ObjectStorageModeGCSEmulator:
		endpoint := strings.TrimRight(strings.TrimSpace(storageCfg.EmulatorHost), "/")
		_ = os.Setenv("STORAGE_EMULATOR_HOST", endpoint)
		return storage.NewClient(ctx, option.WithoutAuthentication())
	default:
		return nil, &ObjectStorageConfigError{Code: ObjectStorageConfigErrorInvalidMode, Mode: string(storageCfg.Mode)}
	}
}

func (bs *bucketService) bucketName(category BucketCategory) (string, error) {
	switch category {
	case BucketCategoryMedia:
		return bs.mediaBucket, nil
	case BucketCategoryArtifact:
		return bs.artifactBucket, nil
	default:
		return "", fmt.Errorf("unknown bucket category: %s", category)
	}
}

func (bs *bucketService) UploadObject(ctx context.Context, category BucketCategory, key string, r io.Reader) error {
	name, err := bs.bucketName(category)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	w := bs.storageClient.Bucket(name).Object(key).NewWriter(ctx)
	if ct := contentTypeForKey(key); ct != "" {
		w.ContentType = ct
	}
	if _, err := io.Copy(w, r); err != nil {
		_ = w.Close()
		return fmt.Errorf("failed to write data to GCS: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to close GCS writer: %w", err)
	}
	return nil
}

// readCloserWithCancel ties the reader's context to its Close so callers
// can stream past the function return.
type readCloserWithCancel struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (r *readCloserWithCancel) Close() error {
	err := r.ReadCloser.Close()
	if r.cancel != nil {
		r.cancel()
	}
	return err
}

func (bs *bucketService) DownloadObject(ctx context.Context, category BucketCategory, key string) (io.ReadCloser, error) {
	name, err := bs.bucketName(category)
	if err != nil {
		return nil, err
	}
	ctx2, cancel := context.WithTimeout(ctx, 2*time.Minute)
	r, err := bs.storageClient.Bucket(name).Object(key).NewReader(ctx2)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to open GCS reader: %w", err)
	}
	return &readCloserWithCancel{ReadCloser: r, cancel: cancel}, nil
}

func (bs *bucketService) DeleteObject(ctx context.Context, category BucketCategory, key string) error {
	name, err := bs.bucketName(category)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := bs.storageClient.Bucket(name).Object(key).Delete(ctx); err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil
		}
		return fmt.Errorf("failed to delete GCS object %q in bucket %q: %w", key, name, err)
	}
	return nil
}

func (bs *bucketService) ListKeys(ctx context.Context, category BucketCategory, prefix string) ([]string, error) {
	name, err := bs.bucketName(category)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	it := bs.storageClient.Bucket(name).Objects(ctx, &storage.Query{Prefix: prefix})
	out := []string{}
	for {
		attrs, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, err
		}
		out = append(out, attrs.Name)
	}
	return out, nil
}

func (bs *bucketService) DeletePrefix(ctx context.Context, category BucketCategory, prefix string) error {
	keys, err := bs.ListKeys(ctx, category, prefix)
	if err != nil {
		return err
	}
	for _, k := range keys {
		if err := bs.DeleteObject(ctx, category, k); err != nil {
			bs.log.Warn("Delete object under prefix failed", "key", k, "error", err)
		}
	}
	return nil
}

func (bs *bucketService) GetObjectAttrs(ctx context.Context, category BucketCategory, key string) (*ObjectAttrs, error) {
	name, err := bs.bucketName(category)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	attrs, err := bs.storageClient.Bucket(name).Object(key).Attrs(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch GCS object attrs: %w", err)
	}
	return &ObjectAttrs{
		Size:        attrs.Size,
		ContentType: attrs.ContentType,
		Updated:     attrs.Updated,
		ETag:        attrs.Etag,
	}, nil
}

func (bs *bucketService) GetPublicURL(category BucketCategory, key string) string {
	name, err := bs.bucketName(category)
	if err != nil {
		return key
	}
	key = strings.TrimLeft(strings.TrimSpace(key), "/")
	if bs.publicBaseURL != "" {
		return fmt.Sprintf("%s/%s/%s", bs.publicBaseURL, name, key)
	}
	return fmt.Sprintf("https://storage.googleapis.com/%s/%s", name, key)
}

func (bs *bucketService) SignedURL(category BucketCategory, key string, ttl time.Duration) (string, error) {
	name, err := bs.bucketName(category)
	if err != nil {
		return "", err
	}
	if bs.storageMode == ObjectStorageModeGCSEmulator {
		return bs.GetPublicURL(category, key), nil
	}
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	url, err := bs.storageClient.Bucket(name).SignedURL(key, &storage.SignedURLOptions{
		Scheme:  storage.SigningSchemeV4,
		Method:  http.MethodGet,
		Expires: time.Now().Add(ttl),
	})
	if err != nil {
		return "", fmt.Errorf("failed to sign GCS URL for %q: %w", key, err)
	}
	return url, nil
}

func contentTypeForKey(key string) string {
	s := strings.ToLower(strings.TrimSpace(key))
	switch {
	case strings.HasSuffix(s, ".png"):
		return "image/png"
	case strings.HasSuffix(s, ".jpg"), strings.HasSuffix(s, ".jpeg"):
		return "image/jpeg"
	case strings.HasSuffix(s, ".webp"):
		return "image/webp"
	case strings.HasSuffix(s, ".gif"):
		return "image/gif"
	case strings.HasSuffix(s, ".mp4"), strings.HasSuffix(s, ".m4v"):
		return "video/mp4"
	case strings.HasSuffix(s, ".webm"):
		return "video/webm"
	case strings.HasSuffix(s, ".mov"):
		return "video/quicktime"
	case strings.HasSuffix(s, ".mp3"):
		return "audio/mpeg"
	case strings.HasSuffix(s, ".wav"):
		return "audio/wav"
	case strings.HasSuffix(s, ".pdf"):
		return "application/pdf"
	case strings.HasSuffix(s, ".json"):
		return "application/json"
	case strings.HasSuffix(s, ".jsonl"):
		return "application/jsonl"
	case strings.HasSuffix(s, ".csv"):
		return "text/csv"
	case strings.HasSuffix(s, ".txt"):
		return "text/plain"
	default:
		return ""
	}
}

// Object key layout. Everything an item owns hangs under its project so
// DeletePrefix can garbage collect a whole tenant.

func MediaObjectKey(projectID, mediaID, filename string) string {
	ext := strings.ToLower(path.Ext(filename))
	return fmt.Sprintf("projects/%s/media/%s%s", projectID, mediaID, ext)
}

func ThumbnailObjectKey(projectID, mediaID string) string {
	return fmt.Sprintf("projects/%s/thumbnails/%s.jpg", projectID, mediaID)
}

func ExportObjectKey(projectID, datasetID, versionTag, format string) string {
	ext := "json"
	switch strings.ToLower(format) {
	case "yolo", "jsonl":
		ext = "jsonl"
	case "csv":
		ext = "csv"
	}
	return fmt.Sprintf("projects/%s/exports/%s/%s.%s", projectID, datasetID, versionTag, ext)
}

// ExportManifestObjectKey names the data.yaml that rides along with a
// YOLO export.
func ExportManifestObjectKey(projectID, datasetID, versionTag string) string {
	return fmt.Sprintf("projects/%s/exports/%s/%s.data.yaml", projectID, datasetID, versionTag)
}

func ModelObjectKey(projectID, jobID string) string {
	return fmt.Sprintf("projects/%s/models/%s/model.pt", projectID, jobID)
}
