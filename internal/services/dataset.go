package services

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/pixelbase/pixelbase-backend/internal/export"
	"github.com/pixelbase/pixelbase-backend/internal/jobs"
	"github.com/pixelbase/pixelbase-backend/internal/platform/apierr"
	"github.com/pixelbase/pixelbase-backend/internal/platform/logger"
	"github.com/pixelbase/pixelbase-backend/internal/realtime"
	"github.com/pixelbase/pixelbase-backend/internal/repos"
	"github.com/pixelbase/pixelbase-backend/internal/types"
)

type CreateDatasetInput struct {
	Name        string            `json:"name"`
	Slug        string            `json:"slug"`
	Description string            `json:"description"`
	DatasetType types.DatasetType `json:"dataset_type"`
	LabelSchema datatypes.JSON    `json:"label_schema"`
	SplitConfig datatypes.JSON    `json:"split_config"`
	CreatedBy   *uuid.UUID        `json:"-"`
}

type CreateVersionInput struct {
	VersionTag  string     `json:"version_tag"`
	Description string     `json:"description"`
	CreatedBy   *uuid.UUID `json:"-"`
}

type DatasetService interface {
	Create(ctx context.Context, projectID uuid.UUID, input CreateDatasetInput) (*types.Dataset, error)
	Get(ctx context.Context, id uuid.UUID) (*types.Dataset, error)
	List(ctx context.Context, projectID uuid.UUID) ([]types.Dataset, error)
	Update(ctx context.Context, dataset *types.Dataset) error
	Delete(ctx context.Context, id uuid.UUID) error

	AddItems(ctx context.Context, datasetID uuid.UUID, mediaIDs []uuid.UUID, split string) (int, error)
	ListItems(ctx context.Context, datasetID uuid.UUID, filter repos.DatasetItemFilter) ([]types.DatasetItem, int64, error)
	RemoveItem(ctx context.Context, datasetID, itemID uuid.UUID) error
	SetItemSplit(ctx context.Context, datasetID, itemID uuid.UUID, split string) error
	LockItem(ctx context.Context, projectID, itemID, userID uuid.UUID, locked bool)

	CreateAnnotations(ctx context.Context, datasetID, itemID uuid.UUID, annotations []types.Annotation) ([]types.Annotation, error)
	ListAnnotations(ctx context.Context, itemID uuid.UUID) ([]types.Annotation, error)
	UpdateAnnotation(ctx context.Context, annotation *types.Annotation) error
	DeleteAnnotation(ctx context.Context, id uuid.UUID) error

	CreateVersion(ctx context.Context, datasetID uuid.UUID, input CreateVersionInput) (*types.DatasetVersion, error)
	ListVersions(ctx context.Context, datasetID uuid.UUID) ([]types.DatasetVersion, error)
	RequestExport(ctx context.Context, datasetID, versionID uuid.UUID, format string) error
	RequestAugmentation(ctx context.Context, datasetID uuid.UUID, operations []string) error
}

type datasetService struct {
	db          *gorm.DB
	log         *logger.Logger
	datasets    repos.DatasetRepo
	items       repos.DatasetItemRepo
	annotations repos.AnnotationRepo
	versions    repos.DatasetVersionRepo
	media       repos.MediaRepo
	tasks       repos.TaskRunRepo
	hub         *realtime.Hub
}

func NewDatasetService(
	db *gorm.DB,
	datasets repos.DatasetRepo,
	items repos.DatasetItemRepo,
	annotations repos.AnnotationRepo,
	versions repos.DatasetVersionRepo,
	media repos.MediaRepo,
	tasks repos.TaskRunRepo,
	hub *realtime.Hub,
	log *logger.Logger,
) DatasetService {
	return &datasetService{
		db:          db,
		log:         log.With("service", "DatasetService"),
		datasets:    datasets,
		items:       items,
		annotations: annotations,
		versions:    versions,
		media:       media,
		tasks:       tasks,
		hub:         hub,
	}
}

func (s *datasetService) Create(ctx context.Context, projectID uuid.UUID, input CreateDatasetInput) (*types.Dataset, error) {
	name := strings.TrimSpace(input.Name)
	if name == "" {
		return nil, apierr.Invalid("dataset name is required")
	}
	slug := strings.ToLower(strings.TrimSpace(input.Slug))
	if slug == "" {
		slug = slugify(name)
	}
	if !slugPattern.MatchString(slug) {
		return nil, apierr.Invalid("slug must be lowercase alphanumerics separated by hyphens")
	}
	if _, err := s.datasets.GetBySlug(ctx, nil, projectID, slug); err == nil {
		return nil, apierr.Conflict("dataset slug already in use")
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}
	datasetType := input.DatasetType
	if datasetType == "" {
		datasetType = types.DatasetCustom
	}

	dataset := &types.Dataset{
		ID:          uuid.New(),
		ProjectID:   projectID,
		Name:        name,
		Slug:        slug,
		Description: strings.TrimSpace(input.Description),
		DatasetType: datasetType,
		Status:      types.DatasetDraft,
		LabelSchema: input.LabelSchema,
		SplitConfig: input.SplitConfig,
		CreatedBy:   input.CreatedBy,
	}
	if err := s.datasets.Create(ctx, nil, dataset); err != nil {
		return nil, err
	}
	return dataset, nil
}

func (s *datasetService) Get(ctx context.Context, id uuid.UUID) (*types.Dataset, error) {
	dataset, err := s.datasets.GetByID(ctx, nil, id)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apierr.NotFound("dataset")
	}
	return dataset, err
}

func (s *datasetService) List(ctx context.Context, projectID uuid.UUID) ([]types.Dataset, error) {
	return s.datasets.List(ctx, nil, projectID)
}

func (s *datasetService) Update(ctx context.Context, dataset *types.Dataset) error {
	return s.datasets.Update(ctx, nil, dataset)
}

func (s *datasetService) Delete(ctx context.Context, id uuid.UUID) error {
	return s.datasets.Delete(ctx, nil, id)
}

// AddItems adds media to a dataset; duplicates are skipped silently.
// Returns how many rows were actually inserted.
func (s *datasetService) AddItems(ctx context.Context, datasetID uuid.UUID, mediaIDs []uuid.UUID, split string) (int, error) {
	dataset, err := s.Get(ctx, datasetID)
	if err != nil {
		return 0, err
	}
	if dataset.Status == types.DatasetFrozen || dataset.Status == types.DatasetArchived {
		return 0, apierr.Conflict("dataset is " + string(dataset.Status))
	}
	if len(mediaIDs) == 0 {
		return 0, apierr.Invalid("media_ids is required")
	}

	items := make([]types.DatasetItem, 0, len(mediaIDs))
	for _, mediaID := range mediaIDs {
		items = append(items, types.DatasetItem{
			DatasetID: datasetID,
			MediaID:   mediaID,
			Split:     split,
		})
	}
	var added int
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		n, err := s.items.BulkAdd(ctx, tx, items)
		if err != nil {
			return err
		}
		added = n
		return s.datasets.RefreshCounts(ctx, tx, datasetID)
	})
	return added, err
}

func (s *datasetService) ListItems(ctx context.Context, datasetID uuid.UUID, filter repos.DatasetItemFilter) ([]types.DatasetItem, int64, error) {
	return s.items.List(ctx, nil, datasetID, filter)
}

func (s *datasetService) RemoveItem(ctx context.Context, datasetID, itemID uuid.UUID) error {
	item, err := s.items.GetByID(ctx, nil, itemID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return apierr.NotFound("dataset item")
		}
		return err
	}
	if item.DatasetID != datasetID {
		return apierr.NotFound("dataset item")
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.items.Delete(ctx, tx, itemID); err != nil {
			return err
		}
		return s.datasets.RefreshCounts(ctx, tx, datasetID)
	})
}

func (s *datasetService) SetItemSplit(ctx context.Context, datasetID, itemID uuid.UUID, split string) error {
	switch split {
	case "train", "val", "test":
	default:
		return apierr.Invalid("split must be train, val, or test")
	}
	item, err := s.items.GetByID(ctx, nil, itemID)
	if err != nil || item.DatasetID != datasetID {
		return apierr.NotFound("dataset item")
	}
	item.Split = split
	return s.items.Update(ctx, nil, item)
}

// LockItem announces an advisory lock on the item channel. Locks are a
// collaboration signal, not enforcement.
func (s *datasetService) LockItem(ctx context.Context, projectID, itemID, userID uuid.UUID, locked bool) {
	eventType := realtime.EventItemLocked
	if !locked {
		eventType = realtime.EventItemUnlocked
	}
	event, err := realtime.NewEvent(eventType, map[string]any{
		"item_id": itemID.String(),
		"user_id": userID.String(),
	})
	if err != nil {
		return
	}
	s.hub.Broadcast(ctx, realtime.ItemChannel(itemID.String()), event)
	s.hub.Broadcast(ctx, realtime.ProjectChannel(projectID.String()), event)
}

func (s *datasetService) CreateAnnotations(ctx context.Context, datasetID, itemID uuid.UUID, annotations []types.Annotation) ([]types.Annotation, error) {
	if len(annotations) == 0 {
		return nil, apierr.Invalid("annotations is required")
	}
	item, err := s.items.GetByID(ctx, nil, itemID)
	if err != nil || item.DatasetID != datasetID {
		return nil, apierr.NotFound("dataset item")
	}
	for i := range annotations {
		annotations[i].DatasetItemID = itemID
		annotations[i].MediaID = item.MediaID
		if annotations[i].Label == "" {
			return nil, apierr.Invalid("every annotation needs a label")
		}
		if annotations[i].Confidence == 0 {
			annotations[i].Confidence = 1.0
		}
		if annotations[i].Source == "" {
			annotations[i].Source = types.SourceManual
		}
		if len(annotations[i].Geometry) == 0 {
			annotations[i].Geometry = datatypes.JSON(`{}`)
		}
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.annotations.CreateBatch(ctx, tx, annotations); err != nil {
			return err
		}
		if !item.IsAnnotated {
			item.IsAnnotated = true
			if err := s.items.Update(ctx, tx, item); err != nil {
				return err
			}
		}
		return s.datasets.RefreshCounts(ctx, tx, datasetID)
	})
	if err != nil {
		return nil, err
	}

	s.broadcastAnnotation(ctx, itemID, realtime.EventAnnotationCreated, annotations)
	return annotations, nil
}

func (s *datasetService) ListAnnotations(ctx context.Context, itemID uuid.UUID) ([]types.Annotation, error) {
	return s.annotations.ListByItem(ctx, nil, itemID)
}

func (s *datasetService) UpdateAnnotation(ctx context.Context, annotation *types.Annotation) error {
	if err := s.annotations.Update(ctx, nil, annotation); err != nil {
		return err
	}
	s.broadcastAnnotation(ctx, annotation.DatasetItemID, realtime.EventAnnotationUpdated, []types.Annotation{*annotation})
	return nil
}

func (s *datasetService) DeleteAnnotation(ctx context.Context, id uuid.UUID) error {
	annotation, err := s.annotations.GetByID(ctx, nil, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return apierr.NotFound("annotation")
		}
		return err
	}
	if err := s.annotations.Delete(ctx, nil, id); err != nil {
		return err
	}
	s.broadcastAnnotation(ctx, annotation.DatasetItemID, realtime.EventAnnotationDeleted, []types.Annotation{*annotation})
	return nil
}

func (s *datasetService) broadcastAnnotation(ctx context.Context, itemID uuid.UUID, eventType string, annotations []types.Annotation) {
	event, err := realtime.NewEvent(eventType, map[string]any{
		"item_id":     itemID.String(),
		"annotations": annotations,
	})
	if err != nil {
		return
	}
	s.hub.Broadcast(ctx, realtime.ItemChannel(itemID.String()), event)
}

// CreateVersion freezes the current item membership into an immutable
// snapshot. The tag is unique per dataset.
func (s *datasetService) CreateVersion(ctx context.Context, datasetID uuid.UUID, input CreateVersionInput) (*types.DatasetVersion, error) {
	tag := strings.TrimSpace(input.VersionTag)
	if !types.ValidVersionTag(tag) {
		return nil, apierr.Invalid("version tag may contain letters, digits, dots, dashes, and underscores")
	}
	if _, err := s.Get(ctx, datasetID); err != nil {
		return nil, err
	}
	if _, err := s.versions.GetByTag(ctx, nil, datasetID, tag); err == nil {
		return nil, apierr.Conflict("version tag already exists")
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	items, err := s.items.ListAll(ctx, nil, datasetID)
	if err != nil {
		return nil, err
	}
	snapshot := jobs.VersionSnapshot{Items: make([]jobs.SnapshotItem, 0, len(items))}
	splits := map[string]int{}
	annotated := 0
	for _, item := range items {
		snapshot.Items = append(snapshot.Items, jobs.SnapshotItem{
			ItemID:  item.ID,
			MediaID: item.MediaID,
			Split:   item.Split,
		})
		splits[item.Split]++
		if item.IsAnnotated {
			annotated++
		}
	}
	snapshot.Stats = map[string]any{
		"item_count":      len(items),
		"annotated_count": annotated,
		"splits":          splits,
	}
	raw, err := json.Marshal(snapshot)
	if err != nil {
		return nil, err
	}

	version := &types.DatasetVersion{
		ID:          uuid.New(),
		DatasetID:   datasetID,
		VersionTag:  tag,
		Description: strings.TrimSpace(input.Description),
		Snapshot:    datatypes.JSON(raw),
		ItemCount:   len(items),
		CreatedBy:   input.CreatedBy,
	}
	if err := s.versions.Create(ctx, nil, version); err != nil {
		return nil, err
	}
	s.log.Info("Dataset version created",
		"dataset_id", datasetID.String(),
		"version_tag", tag,
		"items", len(items),
	)
	return version, nil
}

func (s *datasetService) ListVersions(ctx context.Context, datasetID uuid.UUID) ([]types.DatasetVersion, error) {
	return s.versions.List(ctx, nil, datasetID)
}

func (s *datasetService) RequestExport(ctx context.Context, datasetID, versionID uuid.UUID, format string) error {
	dataset, err := s.Get(ctx, datasetID)
	if err != nil {
		return err
	}
	version, err := s.versions.GetByID(ctx, nil, versionID)
	if err != nil || version.DatasetID != datasetID {
		return apierr.NotFound("dataset version")
	}
	if !export.ValidFormat(format) {
		return apierr.Invalid("format must be coco, yolo, csv, or jsonl")
	}
	raw, err := json.Marshal(jobs.ExportPayload{DatasetVersionID: versionID, Format: strings.ToLower(format)})
	if err != nil {
		return err
	}
	return s.tasks.Enqueue(ctx, nil, &types.TaskRun{
		ProjectID:   dataset.ProjectID,
		TaskKind:    types.TaskExportDataset,
		Queue:       types.QueueDefault,
		Payload:     datatypes.JSON(raw),
		MaxAttempts: jobs.MaxAttemptsFor(types.TaskExportDataset),
	})
}

func (s *datasetService) RequestAugmentation(ctx context.Context, datasetID uuid.UUID, operations []string) error {
	dataset, err := s.Get(ctx, datasetID)
	if err != nil {
		return err
	}
	if len(operations) == 0 {
		return apierr.Invalid("operations is required")
	}
	for _, op := range operations {
		if !jobs.ValidAugmentOp(op) {
			return apierr.Invalid("unsupported augmentation op: " + op)
		}
	}
	raw, err := json.Marshal(jobs.AugmentPayload{DatasetID: datasetID, Operations: operations})
	if err != nil {
		return err
	}
	return s.tasks.Enqueue(ctx, nil, &types.TaskRun{
		ProjectID:   dataset.ProjectID,
		TaskKind:    types.TaskAugment,
		Queue:       types.QueueDefault,
		Payload:     datatypes.JSON(raw),
		MaxAttempts: jobs.MaxAttemptsFor(types.TaskAugment),
	})
}
