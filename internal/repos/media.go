package repos

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/pixelbase/pixelbase-backend/internal/platform/logger"
	"github.com/pixelbase/pixelbase-backend/internal/types"
)

// MediaFilter narrows a listing. Zero values mean "no filter".
type MediaFilter struct {
	MediaType      types.MediaType
	IndexingStatus types.IndexingStatus
	UploadedBy     *uuid.UUID
	Tag            string
	Search         string
	Limit          int
	Offset         int
}

type MediaRepo interface {
	Create(ctx context.Context, tx *gorm.DB, media *types.Media) error
	GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.Media, error)
	GetByChecksum(ctx context.Context, tx *gorm.DB, projectID uuid.UUID, checksum string) (*types.Media, error)
	List(ctx context.Context, tx *gorm.DB, projectID uuid.UUID, filter MediaFilter) ([]types.Media, int64, error)
	ListByIDs(ctx context.Context, tx *gorm.DB, ids []uuid.UUID) ([]types.Media, error)
	Update(ctx context.Context, tx *gorm.DB, media *types.Media) error
	UpdateFields(ctx context.Context, tx *gorm.DB, id uuid.UUID, fields map[string]any) error
	Delete(ctx context.Context, tx *gorm.DB, id uuid.UUID) error
	SetIndexingStatusBatch(ctx context.Context, tx *gorm.DB, ids []uuid.UUID, status types.IndexingStatus) error
	CountByIndexingStatus(ctx context.Context, tx *gorm.DB, projectID uuid.UUID) (map[types.IndexingStatus]int64, error)
	ListByIndexingStatuses(ctx context.Context, tx *gorm.DB, projectID uuid.UUID, statuses []types.IndexingStatus) ([]types.Media, error)
	ListFailedIndexing(ctx context.Context, tx *gorm.DB, limit int) ([]types.Media, error)
}

type mediaRepo struct {
	log *logger.Logger
	db  *gorm.DB
}

func NewMediaRepo(db *gorm.DB, log *logger.Logger) MediaRepo {
	return &mediaRepo{db: db, log: log.With("repo", "MediaRepo")}
}

func (r *mediaRepo) conn(tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx
	}
	return r.db
}

func (r *mediaRepo) Create(ctx context.Context, tx *gorm.DB, media *types.Media) error {
	if media.ID == uuid.Nil {
		media.ID = uuid.New()
	}
	return r.conn(tx).WithContext(ctx).Create(media).Error
}

func (r *mediaRepo) GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.Media, error) {
	var media types.Media
	if err := r.conn(tx).WithContext(ctx).First(&media, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &media, nil
}

func (r *mediaRepo) GetByChecksum(ctx context.Context, tx *gorm.DB, projectID uuid.UUID, checksum string) (*types.Media, error) {
	var media types.Media
	err := r.conn(tx).WithContext(ctx).
		First(&media, "project_id = ? AND checksum_sha256 = ?", projectID, checksum).Error
	if err != nil {
		return nil, err
	}
	return &media, nil
}

func (r *mediaRepo) List(ctx context.Context, tx *gorm.DB, projectID uuid.UUID, filter MediaFilter) ([]types.Media, int64, error) {
	q := r.conn(tx).WithContext(ctx).Model(&types.Media{}).Where("project_id = ?", projectID)
	if filter.MediaType != "" {
		q = q.Where("media_type = ?", filter.MediaType)
	}
	if filter.IndexingStatus != "" {
		q = q.Where("indexing_status = ?", filter.IndexingStatus)
	}
	if filter.UploadedBy != nil {
		q = q.Where("uploaded_by = ?", *filter.UploadedBy)
	}
	if filter.Tag != "" {
		// Matches either user tags or auto tags. JSON arrays are stored
		// as text in both backends; a quoted LIKE keeps this portable.
		pattern := fmt.Sprintf("%%%q%%", filter.Tag)
		q = q.Where("CAST(user_tags AS TEXT) LIKE ? OR CAST(auto_tags AS TEXT) LIKE ?", pattern, pattern)
	}
	if filter.Search != "" {
		pattern := "%" + filter.Search + "%"
		q = q.Where("original_filename LIKE ? OR title LIKE ? OR auto_caption LIKE ?", pattern, pattern, pattern)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	var media []types.Media
	err := q.Order("created_at DESC").Limit(limit).Offset(max(filter.Offset, 0)).Find(&media).Error
	return media, total, err
}

func (r *mediaRepo) ListByIDs(ctx context.Context, tx *gorm.DB, ids []uuid.UUID) ([]types.Media, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var media []types.Media
	err := r.conn(tx).WithContext(ctx).Where("id IN ?", ids).Find(&media).Error
	return media, err
}

func (r *mediaRepo) Update(ctx context.Context, tx *gorm.DB, media *types.Media) error {
	return r.conn(tx).WithContext(ctx).Save(media).Error
}

func (r *mediaRepo) UpdateFields(ctx context.Context, tx *gorm.DB, id uuid.UUID, fields map[string]any) error {
	return r.conn(tx).WithContext(ctx).
		Model(&types.Media{}).
		Where("id = ?", id).
		Updates(fields).Error
}

func (r *mediaRepo) Delete(ctx context.Context, tx *gorm.DB, id uuid.UUID) error {
	return r.conn(tx).WithContext(ctx).Delete(&types.Media{}, "id = ?", id).Error
}

// SetIndexingStatusBatch moves every listed row to the given status in
// a single UPDATE.
func (r *mediaRepo) SetIndexingStatusBatch(ctx context.Context, tx *gorm.DB, ids []uuid.UUID, status types.IndexingStatus) error {
	if len(ids) == 0 {
		return nil
	}
	return r.conn(tx).WithContext(ctx).
		Model(&types.Media{}).
		Where("id IN ?", ids).
		Updates(map[string]any{"indexing_status": status, "error_message": ""}).Error
}

func (r *mediaRepo) CountByIndexingStatus(ctx context.Context, tx *gorm.DB, projectID uuid.UUID) (map[types.IndexingStatus]int64, error) {
	type row struct {
		IndexingStatus types.IndexingStatus
		Count          int64
	}
	var rows []row
	err := r.conn(tx).WithContext(ctx).
		Model(&types.Media{}).
		Select("indexing_status, COUNT(*) AS count").
		Where("project_id = ?", projectID).
		Group("indexing_status").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make(map[types.IndexingStatus]int64, len(rows))
	for _, r := range rows {
		out[r.IndexingStatus] = r.Count
	}
	return out, nil
}

func (r *mediaRepo) ListByIndexingStatuses(ctx context.Context, tx *gorm.DB, projectID uuid.UUID, statuses []types.IndexingStatus) ([]types.Media, error) {
	if len(statuses) == 0 {
		return nil, nil
	}
	var media []types.Media
	err := r.conn(tx).WithContext(ctx).
		Where("project_id = ? AND indexing_status IN ?", projectID, statuses).
		Order("created_at ASC").
		Find(&media).Error
	return media, err
}

func (r *mediaRepo) ListFailedIndexing(ctx context.Context, tx *gorm.DB, limit int) ([]types.Media, error) {
	if limit <= 0 {
		limit = 50
	}
	var media []types.Media
	err := r.conn(tx).WithContext(ctx).
		Where("indexing_status = ?", types.IndexingFailed).
		Order("updated_at ASC").
		Limit(limit).
		Find(&media).Error
	return media, err
}

type MediaSourceRepo interface {
	Create(ctx context.Context, tx *gorm.DB, source *types.MediaSource) error
	GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.MediaSource, error)
	ListByMedia(ctx context.Context, tx *gorm.DB, mediaID uuid.UUID) ([]types.MediaSource, error)
	Update(ctx context.Context, tx *gorm.DB, source *types.MediaSource) error
	SetTextEmbeddingID(ctx context.Context, tx *gorm.DB, id uuid.UUID, pointID string) error
	Delete(ctx context.Context, tx *gorm.DB, id uuid.UUID) error
}

type mediaSourceRepo struct {
	log *logger.Logger
	db  *gorm.DB
}

func NewMediaSourceRepo(db *gorm.DB, log *logger.Logger) MediaSourceRepo {
	return &mediaSourceRepo{db: db, log: log.With("repo", "MediaSourceRepo")}
}

func (r *mediaSourceRepo) conn(tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx
	}
	return r.db
}

func (r *mediaSourceRepo) Create(ctx context.Context, tx *gorm.DB, source *types.MediaSource) error {
	if source.ID == uuid.Nil {
		source.ID = uuid.New()
	}
	return r.conn(tx).WithContext(ctx).Create(source).Error
}

func (r *mediaSourceRepo) GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.MediaSource, error) {
	var source types.MediaSource
	if err := r.conn(tx).WithContext(ctx).First(&source, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &source, nil
}

func (r *mediaSourceRepo) ListByMedia(ctx context.Context, tx *gorm.DB, mediaID uuid.UUID) ([]types.MediaSource, error) {
	var sources []types.MediaSource
	err := r.conn(tx).WithContext(ctx).
		Where("media_id = ?", mediaID).
		Order("created_at ASC").
		Find(&sources).Error
	return sources, err
}

func (r *mediaSourceRepo) Update(ctx context.Context, tx *gorm.DB, source *types.MediaSource) error {
	return r.conn(tx).WithContext(ctx).Save(source).Error
}

func (r *mediaSourceRepo) SetTextEmbeddingID(ctx context.Context, tx *gorm.DB, id uuid.UUID, pointID string) error {
	return r.conn(tx).WithContext(ctx).
		Model(&types.MediaSource{}).
		Where("id = ?", id).
		Update("text_embedding_id", pointID).Error
}

func (r *mediaSourceRepo) Delete(ctx context.Context, tx *gorm.DB, id uuid.UUID) error {
	return r.conn(tx).WithContext(ctx).Delete(&types.MediaSource{}, "id = ?", id).Error
}
