package jobs

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/pixelbase/pixelbase-backend/internal/export"
	"github.com/pixelbase/pixelbase-backend/internal/platform/gcs"
	"github.com/pixelbase/pixelbase-backend/internal/platform/logger"
	"github.com/pixelbase/pixelbase-backend/internal/repos"
	"github.com/pixelbase/pixelbase-backend/internal/types"
)

type ExportPayload struct {
	DatasetVersionID uuid.UUID `json:"dataset_version_id"`
	Format           string    `json:"format"`
}

// VersionSnapshot is the frozen membership stored on a dataset version.
type VersionSnapshot struct {
	Items []SnapshotItem `json:"items"`
	Stats map[string]any `json:"stats,omitempty"`
}

type SnapshotItem struct {
	ItemID  uuid.UUID `json:"item_id"`
	MediaID uuid.UUID `json:"media_id"`
	Split   string    `json:"split"`
}

// Exporter renders a version snapshot into an interchange file and
// parks it in the artifact bucket.
type Exporter struct {
	log         *logger.Logger
	versions    repos.DatasetVersionRepo
	datasets    repos.DatasetRepo
	annotations repos.AnnotationRepo
	media       repos.MediaRepo
	bucket      gcs.BucketService
	notifier    Notifier
}

func NewExporter(
	versions repos.DatasetVersionRepo,
	datasets repos.DatasetRepo,
	annotations repos.AnnotationRepo,
	media repos.MediaRepo,
	bucket gcs.BucketService,
	notifier Notifier,
	log *logger.Logger,
) *Exporter {
	return &Exporter{
		log:         log.With("service", "Exporter"),
		versions:    versions,
		datasets:    datasets,
		annotations: annotations,
		media:       media,
		bucket:      bucket,
		notifier:    notifier,
	}
}

func (e *Exporter) Register(w *Worker) {
	w.Register(types.TaskExportDataset, e.Handle)
}

func (e *Exporter) Handle(ctx context.Context, run *types.TaskRun) error {
	var payload ExportPayload
	if err := json.Unmarshal(run.Payload, &payload); err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}
	if !export.ValidFormat(payload.Format) {
		return fmt.Errorf("unsupported export format: %s", payload.Format)
	}

	version, err := e.versions.GetByID(ctx, nil, payload.DatasetVersionID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("%w: dataset version %s no longer exists", ErrSkip, payload.DatasetVersionID)
		}
		return err
	}
	dataset, err := e.datasets.GetByID(ctx, nil, version.DatasetID)
	if err != nil {
		return err
	}

	var snapshot VersionSnapshot
	if err := json.Unmarshal(version.Snapshot, &snapshot); err != nil {
		return fmt.Errorf("decode snapshot: %w", err)
	}

	items, err := e.buildItems(ctx, dataset, snapshot)
	if err != nil {
		return err
	}
	schema := export.ParseSchema(dataset.LabelSchema)
	data, err := export.Build(payload.Format, dataset.Name, version.VersionTag, schema, items)
	if err != nil {
		return err
	}

	key := gcs.ExportObjectKey(dataset.ProjectID.String(), dataset.ID.String(), version.VersionTag, payload.Format)
	if err := e.bucket.UploadObject(ctx, gcs.BucketCategoryArtifact, key, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("upload export: %w", err)
	}
	if strings.EqualFold(payload.Format, export.FormatYOLO) {
		manifest, err := export.BuildYOLOManifest(schema, items)
		if err != nil {
			return fmt.Errorf("build yolo manifest: %w", err)
		}
		manifestKey := gcs.ExportManifestObjectKey(dataset.ProjectID.String(), dataset.ID.String(), version.VersionTag)
		if err := e.bucket.UploadObject(ctx, gcs.BucketCategoryArtifact, manifestKey, bytes.NewReader(manifest)); err != nil {
			return fmt.Errorf("upload yolo manifest: %w", err)
		}
	}
	if err := e.versions.SetExport(ctx, nil, version.ID, key, payload.Format); err != nil {
		return err
	}

	e.log.Info("Export written",
		"dataset_id", dataset.ID.String(),
		"version_tag", version.VersionTag,
		"format", payload.Format,
		"bytes", len(data),
	)
	if e.notifier != nil {
		e.notifier.Broadcast(ctx, dataset.ProjectID.String(), "export_ready", map[string]any{
			"dataset_id":  dataset.ID.String(),
			"version_id":  version.ID.String(),
			"version_tag": version.VersionTag,
			"format":      payload.Format,
			"export_path": key,
		})
	}
	return nil
}

// buildItems joins the frozen snapshot membership with current media and
// annotation rows. Media deleted since the snapshot simply drops out.
func (e *Exporter) buildItems(ctx context.Context, dataset *types.Dataset, snapshot VersionSnapshot) ([]export.Item, error) {
	mediaIDs := make([]uuid.UUID, 0, len(snapshot.Items))
	snapshotItems := make([]types.DatasetItem, 0, len(snapshot.Items))
	for _, s := range snapshot.Items {
		mediaIDs = append(mediaIDs, s.MediaID)
		snapshotItems = append(snapshotItems, types.DatasetItem{
			ID:        s.ItemID,
			DatasetID: dataset.ID,
			MediaID:   s.MediaID,
			Split:     s.Split,
		})
	}

	mediaRows, err := e.media.ListByIDs(ctx, nil, mediaIDs)
	if err != nil {
		return nil, err
	}
	mediaByID := make(map[string]types.Media, len(mediaRows))
	for _, m := range mediaRows {
		mediaByID[m.ID.String()] = m
	}

	annotations, err := e.annotations.ListByDataset(ctx, nil, dataset.ID)
	if err != nil {
		return nil, err
	}
	byItem := make(map[string][]types.Annotation)
	for _, ann := range annotations {
		key := ann.DatasetItemID.String()
		byItem[key] = append(byItem[key], ann)
	}

	return export.FromRecords(snapshotItems, mediaByID, byItem), nil
}
