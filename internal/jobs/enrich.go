package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/pixelbase/pixelbase-backend/internal/ml"
	"github.com/pixelbase/pixelbase-backend/internal/platform/gcs"
	"github.com/pixelbase/pixelbase-backend/internal/platform/logger"
	"github.com/pixelbase/pixelbase-backend/internal/platform/qdrant"
	"github.com/pixelbase/pixelbase-backend/internal/repos"
	"github.com/pixelbase/pixelbase-backend/internal/types"
)

// Notifier pushes pipeline events onto the realtime fabric. The worker
// treats it as fire-and-forget.
type Notifier interface {
	Broadcast(ctx context.Context, projectID, eventType string, payload any)
}

// EnrichPayload is the wire payload of every enrichment task.
type EnrichPayload struct {
	MediaID  uuid.UUID  `json:"media_id"`
	SourceID *uuid.UUID `json:"source_id,omitempty"`
	Prompt   string     `json:"prompt,omitempty"`
}

// Enricher owns the four enrichment task kinds. Every handler is
// idempotent: re-running overwrites the same vector points and columns.
type Enricher struct {
	log       *logger.Logger
	media     repos.MediaRepo
	sources   repos.MediaSourceRepo
	bucket    gcs.BucketService
	encoder   ml.Encoder
	captioner ml.Captioner
	keyframer ml.Keyframer
	index     qdrant.Index
	notifier  Notifier
}

func NewEnricher(
	media repos.MediaRepo,
	sources repos.MediaSourceRepo,
	bucket gcs.BucketService,
	encoder ml.Encoder,
	captioner ml.Captioner,
	keyframer ml.Keyframer,
	index qdrant.Index,
	notifier Notifier,
	log *logger.Logger,
) *Enricher {
	return &Enricher{
		log:       log.With("service", "Enricher"),
		media:     media,
		sources:   sources,
		bucket:    bucket,
		encoder:   encoder,
		captioner: captioner,
		keyframer: keyframer,
		index:     index,
		notifier:  notifier,
	}
}

func (e *Enricher) Register(w *Worker) {
	w.Register(types.TaskEnrichCLIP, e.HandleCLIP)
	w.Register(types.TaskEnrichDINO, e.HandleDINO)
	w.Register(types.TaskEnrichVLM, e.HandleVLM)
	w.Register(types.TaskEnrichText, e.HandleText)
}

func decodePayload(run *types.TaskRun) (EnrichPayload, error) {
	var payload EnrichPayload
	if err := json.Unmarshal(run.Payload, &payload); err != nil {
		return payload, fmt.Errorf("decode payload: %w", err)
	}
	if payload.MediaID == uuid.Nil {
		return payload, errors.New("payload missing media_id")
	}
	return payload, nil
}

// loadMedia resolves the task's media row, skipping tasks whose media was
// deleted after enqueue.
func (e *Enricher) loadMedia(ctx context.Context, mediaID uuid.UUID) (*types.Media, error) {
	media, err := e.media.GetByID(ctx, nil, mediaID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: media %s no longer exists", ErrSkip, mediaID)
		}
		return nil, err
	}
	return media, nil
}

func (e *Enricher) downloadMedia(ctx context.Context, media *types.Media) ([]byte, error) {
	r, err := e.bucket.DownloadObject(ctx, gcs.BucketCategoryMedia, media.StoragePath)
	if err != nil {
		return nil, fmt.Errorf("download media object: %w", err)
	}
	defer r.Close()
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read media object: %w", err)
	}
	return data, nil
}

func (e *Enricher) markProcessing(ctx context.Context, media *types.Media) {
	if media.IndexingStatus == types.IndexingPending {
		_ = e.media.UpdateFields(ctx, nil, media.ID, map[string]any{
			"indexing_status": types.IndexingProcessing,
		})
		media.IndexingStatus = types.IndexingProcessing
	}
}

// HandleCLIP embeds the media's pixels into the CLIP joint space. This is
// the backbone of text-to-media search.
func (e *Enricher) HandleCLIP(ctx context.Context, run *types.TaskRun) error {
	payload, err := decodePayload(run)
	if err != nil {
		return err
	}
	media, err := e.loadMedia(ctx, payload.MediaID)
	if err != nil {
		return err
	}
	e.markProcessing(ctx, media)

	err = e.enrichCLIP(ctx, media)
	return e.settle(ctx, run, media, "clip", err)
}

func (e *Enricher) enrichCLIP(ctx context.Context, media *types.Media) error {
	data, err := e.visualBytes(ctx, media)
	if err != nil {
		return err
	}
	vec, err := e.encoder.EmbedImage(ctx, ml.FamilyCLIP, data)
	if err != nil {
		return err
	}

	pointID := types.CLIPPointID(media.ID)
	err = e.index.Upsert(ctx, qdrant.CollectionCLIP, qdrant.Point{
		ID:      pointID,
		Vector:  vec,
		Payload: e.basePayload(media, "clip"),
	})
	if err != nil {
		return err
	}
	return e.media.UpdateFields(ctx, nil, media.ID, map[string]any{"clip_embedding_id": pointID})
}

// HandleDINO embeds with the self-supervised vision backbone used for
// visual similarity, deduplication and clustering.
func (e *Enricher) HandleDINO(ctx context.Context, run *types.TaskRun) error {
	payload, err := decodePayload(run)
	if err != nil {
		return err
	}
	media, err := e.loadMedia(ctx, payload.MediaID)
	if err != nil {
		return err
	}
	e.markProcessing(ctx, media)

	err = e.enrichDINO(ctx, media)
	return e.settle(ctx, run, media, "dino", err)
}

func (e *Enricher) enrichDINO(ctx context.Context, media *types.Media) error {
	data, err := e.visualBytes(ctx, media)
	if err != nil {
		return err
	}
	vec, err := e.encoder.EmbedImage(ctx, ml.FamilyDINO, data)
	if err != nil {
		return err
	}

	pointID := types.DINOPointID(media.ID)
	err = e.index.Upsert(ctx, qdrant.CollectionDINO, qdrant.Point{
		ID:      pointID,
		Vector:  vec,
		Payload: e.basePayload(media, "dino"),
	})
	if err != nil {
		return err
	}
	return e.media.UpdateFields(ctx, nil, media.ID, map[string]any{"dino_embedding_id": pointID})
}

// HandleVLM captions the media, extracts tags, and indexes the caption in
// the text space so descriptions are searchable.
func (e *Enricher) HandleVLM(ctx context.Context, run *types.TaskRun) error {
	payload, err := decodePayload(run)
	if err != nil {
		return err
	}
	media, err := e.loadMedia(ctx, payload.MediaID)
	if err != nil {
		return err
	}
	e.markProcessing(ctx, media)

	err = e.enrichVLM(ctx, media, payload.Prompt)
	return e.settle(ctx, run, media, "vlm", err)
}

func (e *Enricher) enrichVLM(ctx context.Context, media *types.Media, prompt string) error {
	data, err := e.visualBytes(ctx, media)
	if err != nil {
		return err
	}
	result, err := e.captioner.Caption(ctx, data, prompt)
	if err != nil {
		return err
	}
	if result.Caption == "" {
		return errors.New("captioner returned empty caption")
	}

	captionText := CaptionIndexText(result.Caption, result.Tags)
	vec, err := e.encoder.EmbedText(ctx, ml.FamilyText, captionText)
	if err != nil {
		return err
	}

	capPayload := e.basePayload(media, "caption")
	capPayload["preview"] = ml.Preview(captionText)
	err = e.index.Upsert(ctx, qdrant.CollectionText, qdrant.Point{
		ID:      types.CaptionPointID(media.ID),
		Vector:  vec,
		Payload: capPayload,
	})
	if err != nil {
		return err
	}

	tagsJSON, err := json.Marshal(result.Tags)
	if err != nil {
		return err
	}
	fields := map[string]any{
		"auto_caption": result.Caption,
		"auto_tags":    datatypes.JSON(tagsJSON),
	}
	if prompt != "" && result.Custom != "" {
		customJSON, err := json.Marshal(map[string]string{"prompt": prompt, "result": result.Custom})
		if err != nil {
			return err
		}
		fields["custom_indexing_results"] = datatypes.JSON(customJSON)
	}
	return e.media.UpdateFields(ctx, nil, media.ID, fields)
}

// HandleText chunks and embeds attached text sources (transcripts,
// documents, scraped pages).
func (e *Enricher) HandleText(ctx context.Context, run *types.TaskRun) error {
	payload, err := decodePayload(run)
	if err != nil {
		return err
	}
	media, err := e.loadMedia(ctx, payload.MediaID)
	if err != nil {
		return err
	}
	e.markProcessing(ctx, media)

	err = e.enrichText(ctx, media, payload.SourceID)
	return e.settle(ctx, run, media, "text", err)
}

func (e *Enricher) enrichText(ctx context.Context, media *types.Media, sourceID *uuid.UUID) error {
	var sources []types.MediaSource
	if sourceID != nil {
		source, err := e.sources.GetByID(ctx, nil, *sourceID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("%w: source %s no longer exists", ErrSkip, sourceID)
			}
			return err
		}
		sources = []types.MediaSource{*source}
	} else {
		var err error
		sources, err = e.sources.ListByMedia(ctx, nil, media.ID)
		if err != nil {
			return err
		}
	}
	if len(sources) == 0 {
		return fmt.Errorf("%w: media %s has no text sources", ErrSkip, media.ID)
	}

	indexed := false
	for _, source := range sources {
		chunks := ml.ChunkText(source.Content, ml.MaxChunkLen)
		if len(chunks) == 0 {
			continue
		}
		points := make([]qdrant.Point, 0, len(chunks))
		for i, chunk := range chunks {
			vec, err := e.encoder.EmbedText(ctx, ml.FamilyText, chunk)
			if err != nil {
				return err
			}
			payload := e.basePayload(media, "text")
			payload["source_id"] = source.ID.String()
			payload["chunk_index"] = i
			payload["preview"] = ml.Preview(chunk)
			points = append(points, qdrant.Point{
				ID:      types.TextChunkPointID(media.ID, source.ID, i),
				Vector:  vec,
				Payload: payload,
			})
		}
		if err := e.index.UpsertBatch(ctx, qdrant.CollectionText, points); err != nil {
			return err
		}
		indexed = true
		if err := e.sources.SetTextEmbeddingID(ctx, nil, source.ID, points[0].ID); err != nil {
			return err
		}
	}
	if !indexed {
		return fmt.Errorf("%w: media %s sources are empty", ErrSkip, media.ID)
	}
	// The media row stores the stable anchor id; per-chunk points hang
	// off their sources.
	return e.media.UpdateFields(ctx, nil, media.ID, map[string]any{
		"text_embedding_id": types.TextAnchorPointID(media.ID),
	})
}

// visualBytes returns the pixels to embed: the original object for
// images, a keyframe at the midpoint for videos. A failed extraction
// fails the task; a placeholder frame would poison the visual index.
func (e *Enricher) visualBytes(ctx context.Context, media *types.Media) ([]byte, error) {
	switch media.MediaType {
	case types.MediaImage:
		return e.downloadMedia(ctx, media)
	case types.MediaVideo:
		data, err := e.downloadMedia(ctx, media)
		if err != nil {
			return nil, err
		}
		frame, err := e.keyframer.MiddleFrame(ctx, data)
		if err != nil {
			return nil, fmt.Errorf("extract keyframe: %w", err)
		}
		return frame, nil
	default:
		return nil, fmt.Errorf("media %s has no visual representation", media.ID)
	}
}

func (e *Enricher) basePayload(media *types.Media, kind string) map[string]any {
	return map[string]any{
		"project_id": media.ProjectID.String(),
		"media_id":   media.ID.String(),
		"media_type": string(media.MediaType),
		"kind":       kind,
	}
}

// CaptionIndexText is the string embedded for a captioned media item.
func CaptionIndexText(caption string, tags []string) string {
	caption = strings.TrimSpace(caption)
	if len(tags) == 0 {
		return caption
	}
	caption = strings.TrimSuffix(caption, ".")
	return fmt.Sprintf("%s. Tags: %s", caption, strings.Join(tags, ", "))
}

// ExpectedComponents lists the enrichment components a media type must
// finish before it counts as fully indexed.
func ExpectedComponents(mediaType types.MediaType) []string {
	switch mediaType {
	case types.MediaImage:
		return []string{"clip", "dino", "vlm"}
	case types.MediaVideo:
		return []string{"clip", "vlm"}
	default:
		return []string{"text"}
	}
}

func componentDone(media *types.Media, component string) bool {
	switch component {
	case "clip":
		return media.ClipEmbeddingID != ""
	case "dino":
		return media.DinoEmbeddingID != ""
	case "vlm":
		return media.AutoCaption != ""
	case "text":
		return media.TextEmbeddingID != ""
	default:
		return false
	}
}

// settle folds one component result into the media's aggregate indexing
// status. Failures only become visible on the final attempt; earlier
// attempts leave the media processing and let the retry run.
func (e *Enricher) settle(ctx context.Context, run *types.TaskRun, media *types.Media, component string, taskErr error) error {
	if taskErr != nil {
		if errors.Is(taskErr, ErrSkip) {
			return taskErr
		}
		if run.Attempts >= run.MaxAttempts {
			e.recordComponentFailure(ctx, media.ID, component, taskErr)
		}
		return taskErr
	}

	// Reload: parallel component tasks may have updated other columns.
	fresh, err := e.media.GetByID(ctx, nil, media.ID)
	if err != nil {
		return err
	}

	done := 0
	expected := ExpectedComponents(fresh.MediaType)
	for _, c := range expected {
		if componentDone(fresh, c) {
			done++
		}
	}
	if done < len(expected) {
		return nil
	}

	status := types.IndexingCompleted
	if fresh.ErrorMessage != "" {
		status = types.IndexingPartial
	}
	now := time.Now().UTC()
	if err := e.media.UpdateFields(ctx, nil, fresh.ID, map[string]any{
		"indexing_status": status,
		"indexed_at":      now,
	}); err != nil {
		return err
	}

	if e.notifier != nil {
		e.notifier.Broadcast(ctx, fresh.ProjectID.String(), "media_indexed", map[string]any{
			"media_id": fresh.ID.String(),
			"status":   string(status),
		})
	}
	return nil
}

func (e *Enricher) recordComponentFailure(ctx context.Context, mediaID uuid.UUID, component string, taskErr error) {
	fresh, err := e.media.GetByID(ctx, nil, mediaID)
	if err != nil {
		return
	}

	anyDone := false
	for _, c := range ExpectedComponents(fresh.MediaType) {
		if componentDone(fresh, c) {
			anyDone = true
			break
		}
	}
	status := types.IndexingFailed
	if anyDone {
		status = types.IndexingPartial
	}
	msg := fmt.Sprintf("%s: %v", component, taskErr)
	if fresh.ErrorMessage != "" {
		msg = fresh.ErrorMessage + "; " + msg
	}
	if err := e.media.UpdateFields(ctx, nil, mediaID, map[string]any{
		"indexing_status": status,
		"error_message":   msg,
	}); err != nil {
		e.log.Error("Failed to record component failure", "media_id", mediaID.String(), "error", err)
	}
}
