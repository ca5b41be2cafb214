package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/pixelbase/pixelbase-backend/internal/ml"
	"github.com/pixelbase/pixelbase-backend/internal/platform/apierr"
	"github.com/pixelbase/pixelbase-backend/internal/platform/envutil"
	"github.com/pixelbase/pixelbase-backend/internal/platform/logger"
	"github.com/pixelbase/pixelbase-backend/internal/platform/qdrant"
	"github.com/pixelbase/pixelbase-backend/internal/repos"
	"github.com/pixelbase/pixelbase-backend/internal/types"
)

const (
	defaultSearchLimit = 20
	maxSearchLimit     = 200
	imageFetchBudget   = 10 * time.Second
)

type SearchConfig struct {
	// HybridBoost multiplies the score of hits confirmed by both the
	// CLIP and text branches.
	HybridBoost float64
}

func ResolveSearchConfig() SearchConfig {
	return SearchConfig{
		HybridBoost: envutil.Float("SEARCH_HYBRID_BOOST", 1.1),
	}
}

// SearchRequest is the API search body. The branch toggles are pointers
// so an absent field means enabled; only an explicit false disables a
// branch.
type SearchRequest struct {
	Query         string   `json:"query,omitempty"`
	ImageRef      string   `json:"image_ref,omitempty"`
	MediaTypes    []string `json:"media_types,omitempty"`
	MinConfidence float64  `json:"min_confidence,omitempty"`
	UseCLIP       *bool    `json:"use_clip,omitempty"`
	UseText       *bool    `json:"use_text,omitempty"`
	Limit         int      `json:"limit,omitempty"`
	Offset        int      `json:"offset,omitempty"`
}

func branchEnabled(flag *bool) bool {
	return flag == nil || *flag
}

type SearchHit struct {
	MediaID string         `json:"media_id"`
	Score   float64        `json:"score"`
	Source  string         `json:"source"`
	Media   *types.Media   `json:"media,omitempty"`
	Payload map[string]any `json:"payload,omitempty"`
}

type SearchResponse struct {
	Results []SearchHit `json:"results"`
	Total   int         `json:"total"`
	Query   string      `json:"query"`
	TookMS  int64       `json:"took_ms"`
}

type SimilarMethod string

const (
	SimilarCLIP     SimilarMethod = "clip"
	SimilarDINO     SimilarMethod = "dino"
	SimilarCombined SimilarMethod = "combined"
)

type SearchService interface {
	Search(ctx context.Context, projectID uuid.UUID, req SearchRequest) (*SearchResponse, error)
	Similar(ctx context.Context, projectID, mediaID uuid.UUID, method SimilarMethod, limit int) (*SearchResponse, error)
}

type searchService struct {
	log     *logger.Logger
	cfg     SearchConfig
	media   repos.MediaRepo
	index   qdrant.Index
	encoder ml.Encoder
	client  *http.Client
}

func NewSearchService(
	media repos.MediaRepo,
	index qdrant.Index,
	encoder ml.Encoder,
	cfg SearchConfig,
	log *logger.Logger,
) SearchService {
	if cfg.HybridBoost <= 0 {
		cfg.HybridBoost = 1.1
	}
	return &searchService{
		log:     log.With("service", "SearchService"),
		cfg:     cfg,
		media:   media,
		index:   index,
		encoder: encoder,
		client:  &http.Client{Timeout: imageFetchBudget},
	}
}

func (s *searchService) Search(ctx context.Context, projectID uuid.UUID, req SearchRequest) (*SearchResponse, error) {
	started := time.Now()
	if req.Query == "" && req.ImageRef == "" {
		return nil, apierr.Invalid("either query or image_ref is required")
	}
	limit := req.Limit
	if limit <= 0 {
		limit = defaultSearchLimit
	}
	if limit > maxSearchLimit {
		limit = maxSearchLimit
	}

	params := qdrant.SearchParams{
		ProjectID:      projectID.String(),
		MediaTypes:     req.MediaTypes,
		Limit:          limit,
		ScoreThreshold: req.MinConfidence,
	}

	// Branches fan out concurrently; each failure is swallowed so one
	// degraded encoder does not empty the whole response.
	var (
		mu       sync.Mutex
		clipHits []qdrant.Match
		textHits []qdrant.Match
		imgHits  []qdrant.Match
		dropRef  string
	)
	g, gctx := errgroup.WithContext(ctx)

	if req.Query != "" && branchEnabled(req.UseCLIP) {
		g.Go(func() error {
			wide := params
			wide.Limit = 2 * limit
			hits, err := s.clipTextBranch(gctx, req.Query, wide)
			if err != nil {
				s.log.Warn("CLIP text branch failed", "error", err)
				return nil
			}
			mu.Lock()
			clipHits = hits
			mu.Unlock()
			return nil
		})
	}
	if req.Query != "" && branchEnabled(req.UseText) {
		g.Go(func() error {
			hits, err := s.textBranch(gctx, req.Query, params)
			if err != nil {
				s.log.Warn("Text branch failed", "error", err)
				return nil
			}
			mu.Lock()
			textHits = hits
			mu.Unlock()
			return nil
		})
	}
	if req.ImageRef != "" {
		g.Go(func() error {
			hits, ref, err := s.imageBranch(gctx, req.ImageRef, params)
			if err != nil {
				s.log.Warn("Image branch failed", "error", err)
				return nil
			}
			mu.Lock()
			imgHits = hits
			dropRef = ref
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	results := map[string]*SearchHit{}
	mergeMax(results, clipHits, "clip")
	for _, hit := range textHits {
		mediaID := mediaIDOf(hit)
		if mediaID == "" {
			continue
		}
		if existing, ok := results[mediaID]; ok {
			existing.Score = max(existing.Score, hit.Score) * s.cfg.HybridBoost
			existing.Source = "hybrid"
			continue
		}
		results[mediaID] = &SearchHit{MediaID: mediaID, Score: hit.Score, Source: "text", Payload: hit.Payload}
	}
	mergeMax(results, imgHits, "clip")
	if dropRef != "" {
		delete(results, dropRef)
	}

	hits := flattenSorted(results)
	total := len(hits)
	hits = page(hits, req.Offset, limit)
	hits, err := s.enrich(ctx, hits)
	if err != nil {
		return nil, err
	}

	return &SearchResponse{
		Results: hits,
		Total:   total,
		Query:   req.Query,
		TookMS:  time.Since(started).Milliseconds(),
	}, nil
}

func (s *searchService) clipTextBranch(ctx context.Context, query string, params qdrant.SearchParams) ([]qdrant.Match, error) {
	vector, err := s.encoder.EmbedText(ctx, ml.FamilyCLIP, query)
	if err != nil {
		return nil, err
	}
	return s.index.Search(ctx, qdrant.CollectionCLIP, vector, params)
}

func (s *searchService) textBranch(ctx context.Context, query string, params qdrant.SearchParams) ([]qdrant.Match, error) {
	vector, err := s.encoder.EmbedText(ctx, ml.FamilyText, query)
	if err != nil {
		return nil, err
	}
	return s.index.Search(ctx, qdrant.CollectionText, vector, params)
}

// imageBranch resolves image_ref as a media id first, then as a URL.
// When it is a media id, the reference itself is excluded from results.
func (s *searchService) imageBranch(ctx context.Context, imageRef string, params qdrant.SearchParams) ([]qdrant.Match, string, error) {
	if mediaID, err := uuid.Parse(imageRef); err == nil {
		media, err := s.media.GetByID(ctx, nil, mediaID)
		if err != nil {
			return nil, "", err
		}
		if media.ClipEmbeddingID == "" {
			return nil, "", fmt.Errorf("media %s has no clip embedding", mediaID)
		}
		hits, err := s.index.Recommend(ctx, qdrant.CollectionCLIP, media.ClipEmbeddingID, params)
		return hits, mediaID.String(), err
	}

	data, err := s.fetchImage(ctx, imageRef)
	if err != nil {
		return nil, "", err
	}
	vector, err := s.encoder.EmbedImage(ctx, ml.FamilyCLIP, data)
	if err != nil {
		return nil, "", err
	}
	hits, err := s.index.Search(ctx, qdrant.CollectionCLIP, vector, params)
	return hits, "", err
}

func (s *searchService) fetchImage(ctx context.Context, url string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, imageFetchBudget)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("image fetch returned %d", resp.StatusCode)
	}
	return io.ReadAll(io.LimitReader(resp.Body, maxUploadBytes))
}

func (s *searchService) Similar(ctx context.Context, projectID, mediaID uuid.UUID, method SimilarMethod, limit int) (*SearchResponse, error) {
	started := time.Now()
	if limit <= 0 {
		limit = defaultSearchLimit
	}
	media, err := s.media.GetByID(ctx, nil, mediaID)
	if err != nil {
		return nil, apierr.NotFound("media")
	}
	params := qdrant.SearchParams{ProjectID: projectID.String(), Limit: limit}

	results := map[string]*SearchHit{}
	switch method {
	case SimilarCLIP, "":
		hits, err := s.recommendBranch(ctx, qdrant.CollectionCLIP, media.ClipEmbeddingID, params)
		if err != nil {
			return nil, err
		}
		mergeMax(results, hits, "clip")
	case SimilarDINO:
		hits, err := s.recommendBranch(ctx, qdrant.CollectionDINO, media.DinoEmbeddingID, params)
		if err != nil {
			return nil, err
		}
		mergeMax(results, hits, "dino")
	case SimilarCombined:
		clipHits, clipErr := s.recommendBranch(ctx, qdrant.CollectionCLIP, media.ClipEmbeddingID, params)
		dinoHits, dinoErr := s.recommendBranch(ctx, qdrant.CollectionDINO, media.DinoEmbeddingID, params)
		if clipErr != nil && dinoErr != nil {
			return nil, errors.Join(clipErr, dinoErr)
		}
		// Combined averages the per-media scores of both spaces; a
		// media seen in only one keeps half its score.
		perMedia := map[string][]float64{}
		payloads := map[string]map[string]any{}
		for _, hit := range append(clipHits, dinoHits...) {
			id := mediaIDOf(hit)
			if id == "" {
				continue
			}
			perMedia[id] = append(perMedia[id], hit.Score)
			payloads[id] = hit.Payload
		}
		for id, scores := range perMedia {
			var sum float64
			for _, v := range scores {
				sum += v
			}
			results[id] = &SearchHit{MediaID: id, Score: sum / 2, Source: "combined", Payload: payloads[id]}
		}
	default:
		return nil, apierr.Invalid("method must be clip, dino, or combined")
	}
	delete(results, mediaID.String())

	hits := flattenSorted(results)
	total := len(hits)
	hits = page(hits, 0, limit)
	hits, err = s.enrich(ctx, hits)
	if err != nil {
		return nil, err
	}
	return &SearchResponse{Results: hits, Total: total, TookMS: time.Since(started).Milliseconds()}, nil
}

func (s *searchService) recommendBranch(ctx context.Context, collection qdrant.Collection, pointID string, params qdrant.SearchParams) ([]qdrant.Match, error) {
	if pointID == "" {
		return nil, fmt.Errorf("media has no %s embedding", collection)
	}
	return s.index.Recommend(ctx, collection, pointID, params)
}

// enrich attaches media rows and drops hits whose media row vanished
// between indexing and now.
func (s *searchService) enrich(ctx context.Context, hits []SearchHit) ([]SearchHit, error) {
	if len(hits) == 0 {
		return hits, nil
	}
	ids := make([]uuid.UUID, 0, len(hits))
	for _, hit := range hits {
		if id, err := uuid.Parse(hit.MediaID); err == nil {
			ids = append(ids, id)
		}
	}
	rows, err := s.media.ListByIDs(ctx, nil, ids)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]*types.Media, len(rows))
	for i := range rows {
		byID[rows[i].ID.String()] = &rows[i]
	}
	out := hits[:0]
	for _, hit := range hits {
		media, ok := byID[hit.MediaID]
		if !ok {
			continue
		}
		hit.Media = media
		out = append(out, hit)
	}
	return out, nil
}

func mediaIDOf(hit qdrant.Match) string {
	if id, ok := hit.Payload["media_id"].(string); ok && id != "" {
		return id
	}
	if id, ok := types.MediaIDFromPointID(hit.PointID); ok {
		return id.String()
	}
	return ""
}

func mergeMax(results map[string]*SearchHit, hits []qdrant.Match, source string) {
	for _, hit := range hits {
		mediaID := mediaIDOf(hit)
		if mediaID == "" {
			continue
		}
		if existing, ok := results[mediaID]; ok {
			if hit.Score > existing.Score {
				existing.Score = hit.Score
				existing.Payload = hit.Payload
			}
			continue
		}
		results[mediaID] = &SearchHit{MediaID: mediaID, Score: hit.Score, Source: source, Payload: hit.Payload}
	}
}

func flattenSorted(results map[string]*SearchHit) []SearchHit {
	out := make([]SearchHit, 0, len(results))
	for _, hit := range results {
		out = append(out, *hit)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].MediaID < out[j].MediaID
	})
	return out
}

func page(hits []SearchHit, offset, limit int) []SearchHit {
	if offset >= len(hits) {
		return []SearchHit{}
	}
	end := offset + limit
	if end > len(hits) {
		end = len(hits)
	}
	return hits[offset:end]
}
