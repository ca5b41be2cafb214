package jobs

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	_ "image/png"
	"strings"

	"github.com/google/uuid"
	xdraw "golang.org/x/image/draw"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/pixelbase/pixelbase-backend/internal/platform/gcs"
	"github.com/pixelbase/pixelbase-backend/internal/platform/logger"
	"github.com/pixelbase/pixelbase-backend/internal/quality"
	"github.com/pixelbase/pixelbase-backend/internal/repos"
	"github.com/pixelbase/pixelbase-backend/internal/types"
)

// Augmentation operations.
const (
	OpHFlip = "hflip"
	OpVFlip = "vflip"
	OpScale = "scale"
)

const scaleFactor = 0.5

func ValidAugmentOp(op string) bool {
	switch op {
	case OpHFlip, OpVFlip, OpScale:
		return true
	default:
		return false
	}
}

type AugmentPayload struct {
	DatasetID  uuid.UUID `json:"dataset_id"`
	Operations []string  `json:"operations"`
}

// Augmenter expands an annotated dataset with geometric variants. Each
// variant becomes a new media object plus transformed copies of the
// source annotations, always landing in the train split.
type Augmenter struct {
	log         *logger.Logger
	datasets    repos.DatasetRepo
	items       repos.DatasetItemRepo
	annotations repos.AnnotationRepo
	media       repos.MediaRepo
	tasks       repos.TaskRunRepo
	bucket      gcs.BucketService
	notifier    Notifier
}

func NewAugmenter(
	datasets repos.DatasetRepo,
	items repos.DatasetItemRepo,
	annotations repos.AnnotationRepo,
	media repos.MediaRepo,
	tasks repos.TaskRunRepo,
	bucket gcs.BucketService,
	notifier Notifier,
	log *logger.Logger,
) *Augmenter {
	return &Augmenter{
		log:         log.With("service", "Augmenter"),
		datasets:    datasets,
		items:       items,
		annotations: annotations,
		media:       media,
		tasks:       tasks,
		bucket:      bucket,
		notifier:    notifier,
	}
}

func (a *Augmenter) Register(w *Worker) {
	w.Register(types.TaskAugment, a.Handle)
}

func (a *Augmenter) Handle(ctx context.Context, run *types.TaskRun) error {
	var payload AugmentPayload
	if err := json.Unmarshal(run.Payload, &payload); err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}
	for _, op := range payload.Operations {
		if !ValidAugmentOp(op) {
			return fmt.Errorf("unsupported augmentation op: %s", op)
		}
	}
	if len(payload.Operations) == 0 {
		return fmt.Errorf("%w: no augmentation operations requested", ErrSkip)
	}

	dataset, err := a.datasets.GetByID(ctx, nil, payload.DatasetID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("%w: dataset %s no longer exists", ErrSkip, payload.DatasetID)
		}
		return err
	}

	annotated := true
	items, _, err := a.items.List(ctx, nil, dataset.ID, repos.DatasetItemFilter{IsAnnotated: &annotated, Limit: 10000})
	if err != nil {
		return err
	}

	created := 0
	for _, item := range items {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		n, err := a.augmentItem(ctx, dataset, item, payload.Operations)
		if err != nil {
			a.log.Warn("Augmenting item failed; continuing",
				"dataset_id", dataset.ID.String(),
				"item_id", item.ID.String(),
				"error", err,
			)
			continue
		}
		created += n
	}

	if err := a.datasets.RefreshCounts(ctx, nil, dataset.ID); err != nil {
		return err
	}
	a.log.Info("Augmentation done", "dataset_id", dataset.ID.String(), "variants_created", created)
	if a.notifier != nil {
		a.notifier.Broadcast(ctx, dataset.ProjectID.String(), "augmentation_done", map[string]any{
			"dataset_id":       dataset.ID.String(),
			"variants_created": created,
		})
	}
	return nil
}

func (a *Augmenter) augmentItem(ctx context.Context, dataset *types.Dataset, item types.DatasetItem, ops []string) (int, error) {
	src, err := a.media.GetByID(ctx, nil, item.MediaID)
	if err != nil {
		return 0, err
	}
	if src.MediaType != types.MediaImage {
		return 0, nil
	}

	r, err := a.bucket.DownloadObject(ctx, gcs.BucketCategoryMedia, src.StoragePath)
	if err != nil {
		return 0, err
	}
	raw := new(bytes.Buffer)
	_, err = raw.ReadFrom(r)
	r.Close()
	if err != nil {
		return 0, err
	}

	img, _, err := image.Decode(bytes.NewReader(raw.Bytes()))
	if err != nil {
		return 0, fmt.Errorf("decode image: %w", err)
	}

	anns, err := a.annotations.ListByItem(ctx, nil, item.ID)
	if err != nil {
		return 0, err
	}

	created := 0
	for _, op := range ops {
		if err := a.createVariant(ctx, dataset, item, src, img, anns, op); err != nil {
			return created, err
		}
		created++
	}
	return created, nil
}

func (a *Augmenter) createVariant(ctx context.Context, dataset *types.Dataset, item types.DatasetItem, src *types.Media, img image.Image, anns []types.Annotation, op string) error {
	variant := transformImage(img, op)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, variant, &jpeg.Options{Quality: 90}); err != nil {
		return fmt.Errorf("encode variant: %w", err)
	}
	data := buf.Bytes()

	sum := sha256.Sum256(data)
	bounds := variant.Bounds()
	width := bounds.Dx()
	height := bounds.Dy()

	base := strings.TrimSuffix(src.OriginalFilename, extOf(src.OriginalFilename))
	newMedia := &types.Media{
		ID:               uuid.New(),
		ProjectID:        src.ProjectID,
		OriginalFilename: fmt.Sprintf("%s_%s.jpg", base, op),
		MediaType:        types.MediaImage,
		MimeType:         "image/jpeg",
		FileSize:         int64(len(data)),
		ChecksumSHA256:   hex.EncodeToString(sum[:]),
		Width:            &width,
		Height:           &height,
		IndexingStatus:   types.IndexingPending,
		UploadedBy:       src.UploadedBy,
	}
	newMedia.Filename = newMedia.ID.String() + ".jpg"
	newMedia.StoragePath = gcs.MediaObjectKey(src.ProjectID.String(), newMedia.ID.String(), newMedia.Filename)

	if err := a.bucket.UploadObject(ctx, gcs.BucketCategoryMedia, newMedia.StoragePath, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("upload variant: %w", err)
	}
	if err := a.media.Create(ctx, nil, newMedia); err != nil {
		return err
	}

	newItem := types.DatasetItem{
		DatasetID:   dataset.ID,
		MediaID:     newMedia.ID,
		Split:       "train",
		IsAnnotated: len(anns) > 0,
	}
	if _, err := a.items.BulkAdd(ctx, nil, []types.DatasetItem{newItem}); err != nil {
		return err
	}
	stored, err := a.items.GetByMedia(ctx, nil, dataset.ID, newMedia.ID)
	if err != nil {
		return err
	}

	copies := make([]types.Annotation, 0, len(anns))
	srcW := float64(img.Bounds().Dx())
	srcH := float64(img.Bounds().Dy())
	for _, ann := range anns {
		geometry, err := transformGeometry(ann, op, srcW, srcH)
		if err != nil {
			a.log.Warn("Skipping untransformable annotation", "annotation_id", ann.ID.String(), "error", err)
			continue
		}
		copies = append(copies, types.Annotation{
			DatasetItemID:  stored.ID,
			MediaID:        newMedia.ID,
			AnnotationType: ann.AnnotationType,
			Label:          ann.Label,
			Confidence:     ann.Confidence,
			Geometry:       geometry,
			Attributes:     ann.Attributes,
			Source:         types.SourceAugmented,
		})
	}
	if err := a.annotations.CreateBatch(ctx, nil, copies); err != nil {
		return err
	}

	payload, err := json.Marshal(EnrichPayload{MediaID: newMedia.ID})
	if err != nil {
		return err
	}
	return a.tasks.Enqueue(ctx, nil, &types.TaskRun{
		ProjectID:   src.ProjectID,
		TaskKind:    types.TaskEnrichCLIP,
		Queue:       types.QueueGPU,
		Payload:     datatypes.JSON(payload),
		MaxAttempts: MaxAttemptsFor(types.TaskEnrichCLIP),
	})
}

func transformImage(img image.Image, op string) image.Image {
	bounds := img.Bounds()
	switch op {
	case OpHFlip:
		out := image.NewRGBA(bounds)
		for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
			for x := bounds.Min.X; x < bounds.Max.X; x++ {
				out.Set(bounds.Max.X-1-(x-bounds.Min.X), y, img.At(x, y))
			}
		}
		return out
	case OpVFlip:
		out := image.NewRGBA(bounds)
		for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
			for x := bounds.Min.X; x < bounds.Max.X; x++ {
				out.Set(x, bounds.Max.Y-1-(y-bounds.Min.Y), img.At(x, y))
			}
		}
		return out
	case OpScale:
		w := max(1, int(float64(bounds.Dx())*scaleFactor))
		h := max(1, int(float64(bounds.Dy())*scaleFactor))
		out := image.NewRGBA(image.Rect(0, 0, w, h))
		xdraw.ApproxBiLinear.Scale(out, out.Bounds(), img, bounds, xdraw.Over, nil)
		return out
	default:
		return img
	}
}

// transformGeometry maps an annotation's geometry through the op.
// Geometry-free annotations (classification, caption) pass unchanged.
func transformGeometry(ann types.Annotation, op string, imageW, imageH float64) (datatypes.JSON, error) {
	switch ann.AnnotationType {
	case types.AnnBBox:
		var box quality.BBox
		if err := json.Unmarshal(ann.Geometry, &box); err != nil {
			return nil, err
		}
		switch op {
		case OpHFlip:
			box = quality.HFlipBBox(box, imageW)
		case OpVFlip:
			box = quality.VFlipBBox(box, imageH)
		case OpScale:
			box = quality.ScaleBBox(box, scaleFactor)
		}
		raw, err := json.Marshal(box)
		return datatypes.JSON(raw), err
	case types.AnnPoint:
		var p quality.Point
		if err := json.Unmarshal(ann.Geometry, &p); err != nil {
			return nil, err
		}
		switch op {
		case OpHFlip:
			p = quality.HFlipPoint(p, imageW)
		case OpVFlip:
			p = quality.VFlipPoint(p, imageH)
		case OpScale:
			p = quality.ScalePoint(p, scaleFactor)
		}
		raw, err := json.Marshal(p)
		return datatypes.JSON(raw), err
	case types.AnnPolygon, types.AnnPolyline:
		var poly quality.Polygon
		if err := json.Unmarshal(ann.Geometry, &poly); err != nil {
			return nil, err
		}
		switch op {
		case OpHFlip:
			poly = quality.HFlipPolygon(poly, imageW)
		case OpVFlip:
			poly = quality.VFlipPolygon(poly, imageH)
		case OpScale:
			poly = quality.ScalePolygon(poly, scaleFactor)
		}
		raw, err := json.Marshal(poly)
		return datatypes.JSON(raw), err
	default:
		return ann.Geometry, nil
	}
}

func extOf(filename string) string {
	if idx := strings.LastIndex(filename, "."); idx >= 0 {
		return filename[idx:]
	}
	return ""
}
