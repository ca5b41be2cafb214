package qdrant

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/pixelbase/pixelbase-backend/internal/platform/logger"
)

// Point is one embedding with its payload. ID is the logical point id
// ("clip_<media>", "text_<media>_<source>_<chunk>", ...); the HTTP layer
// maps it to a deterministic UUID because qdrant only accepts UUIDs or
// unsigned integers as point ids.
type Point struct {
	ID      string
	Vector  []float32
	Payload map[string]any
}

// Match is one search hit, already mapped back to the logical point id.
type Match struct {
	PointID string
	Score   float64
	Payload map[string]any
}

// SearchParams narrow a vector search. ProjectID is mandatory: tenants
// never see each other's points.
type SearchParams struct {
	ProjectID      string
	MediaTypes     []string
	Limit          int
	Offset         int
	ScoreThreshold float64
}

type Index interface {
	EnsureCollections(ctx context.Context) error
	Upsert(ctx context.Context, collection Collection, point Point) error
	UpsertBatch(ctx context.Context, collection Collection, points []Point) error
	Search(ctx context.Context, collection Collection, vector []float32, params SearchParams) ([]Match, error)
	Recommend(ctx context.Context, collection Collection, pointID string, params SearchParams) ([]Match, error)
	DeleteByMedia(ctx context.Context, mediaID string) error
	DeleteBySource(ctx context.Context, mediaID, sourceID string) error
}

type httpIndex struct {
	cfg    Config
	client *http.Client
	log    *logger.Logger
}

func NewIndex(cfg Config, log *logger.Logger) (Index, error) {
	if err := ValidateConfig(cfg); err != nil {
		return nil, err
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &httpIndex{
		cfg:    cfg,
		client: &http.Client{Timeout: timeout},
		log:    log.With("service", "QdrantIndex"),
	}, nil
}

var pointNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("pixelbase/points"))

// qdrantID maps a logical point id onto a stable UUID. The logical id is
// kept in the payload so results can be mapped back.
func qdrantID(logical string) string {
	return uuid.NewSHA1(pointNamespace, []byte(logical)).String()
}

const payloadPointID = "point_id"

const normTolerance = 1e-3

func validateVector(collection Collection, vector []float32) error {
	want := DimFor(collection)
	if want == 0 {
		return opErr("validate", OperationErrorValidation, fmt.Sprintf("unknown collection %q", collection), nil)
	}
	if len(vector) != want {
		return opErr("validate", OperationErrorValidation,
			fmt.Sprintf("collection %s expects %d dimensions, got %d", collection, want, len(vector)), nil)
	}
	var sum float64
	for _, v := range vector {
		sum += float64(v) * float64(v)
	}
	norm := math.Sqrt(sum)
	if math.Abs(norm-1) > normTolerance {
		return opErr("validate", OperationErrorValidation,
			fmt.Sprintf("vector must be unit-normalized, got norm=%.6f", norm), nil)
	}
	return nil
}

func (x *httpIndex) EnsureCollections(ctx context.Context) error {
	for _, collection := range AllCollections() {
		if err := x.ensureCollection(ctx, collection); err != nil {
			return err
		}
	}
	return nil
}

func (x *httpIndex) ensureCollection(ctx context.Context, collection Collection) error {
	body := map[string]any{
		"vectors": map[string]any{
			"size":     DimFor(collection),
			"distance": "Cosine",
		},
	}

	var lastErr error
	backoff := 500 * time.Millisecond
	for attempt := 1; attempt <= 5; attempt++ {
		err := x.doJSON(ctx, http.MethodPut, fmt.Sprintf("/collections/%s", collection), body, nil)
		if err == nil {
			lastErr = nil
			break
		}
		// 409 means the collection already exists.
		var opError *OperationError
		if errors.As(err, &opError) && opError.StatusCode == http.StatusConflict {
			lastErr = nil
			break
		}
		lastErr = err
		x.log.Warn("Ensure collection failed; retrying", "collection", collection, "attempt", attempt, "error", err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}
	if lastErr != nil {
		return lastErr
	}

	for _, field := range []string{"project_id", "media_id", "media_type", "source_id"} {
		idxBody := map[string]any{"field_name": field, "field_schema": "keyword"}
		if err := x.doJSON(ctx, http.MethodPut, fmt.Sprintf("/collections/%s/index", collection), idxBody, nil); err != nil {
			// Index creation races and re-runs are harmless.
			x.log.Debug("Payload index create skipped", "collection", collection, "field", field, "error", err)
		}
	}
	return nil
}

func (x *httpIndex) Upsert(ctx context.Context, collection Collection, point Point) error {
	return x.UpsertBatch(ctx, collection, []Point{point})
}

func (x *httpIndex) UpsertBatch(ctx context.Context, collection Collection, points []Point) error {
	if len(points) == 0 {
		return nil
	}
	wire := make([]map[string]any, 0, len(points))
	for _, p := range points {
		if strings.TrimSpace(p.ID) == "" {
			return opErr("upsert", OperationErrorValidation, "point id is required", nil)
		}
		if err := validateVector(collection, p.Vector); err != nil {
			return err
		}
		payload := make(map[string]any, len(p.Payload)+1)
		for k, v := range p.Payload {
			payload[k] = v
		}
		payload[payloadPointID] = p.ID
		wire = append(wire, map[string]any{
			"id":      qdrantID(p.ID),
			"vector":  p.Vector,
			"payload": payload,
		})
	}
	body := map[string]any{"points": wire}
	return x.doJSON(ctx, http.MethodPut, fmt.Sprintf("/collections/%s/points?wait=true", collection), body, nil)
}

type scoredPoint struct {
	ID      any            `json:"id"`
	Score   float64        `json:"score"`
	Payload map[string]any `json:"payload"`
}

func (x *httpIndex) Search(ctx context.Context, collection Collection, vector []float32, params SearchParams) ([]Match, error) {
	if err := validateVector(collection, vector); err != nil {
		return nil, err
	}
	body := map[string]any{
		"vector":       vector,
		"limit":        searchLimit(params),
		"offset":       max(params.Offset, 0),
		"with_payload": true,
		"filter":       buildFilter(params),
	}
	if params.ScoreThreshold > 0 {
		body["score_threshold"] = params.ScoreThreshold
	}

	var result []scoredPoint
	if err := x.doJSON(ctx, http.MethodPost, fmt.Sprintf("/collections/%s/points/search", collection), body, &result); err != nil {
		return nil, err
	}
	return toMatches(result), nil
}

func (x *httpIndex) Recommend(ctx context.Context, collection Collection, pointID string, params SearchParams) ([]Match, error) {
	if strings.TrimSpace(pointID) == "" {
		return nil, opErr("recommend", OperationErrorValidation, "point id is required", nil)
	}
	body := map[string]any{
		"positive":     []string{qdrantID(pointID)},
		"limit":        searchLimit(params),
		"offset":       max(params.Offset, 0),
		"with_payload": true,
		"filter":       buildFilter(params),
	}
	if params.ScoreThreshold > 0 {
		body["score_threshold"] = params.ScoreThreshold
	}

	var result []scoredPoint
	if err := x.doJSON(ctx, http.MethodPost, fmt.Sprintf("/collections/%s/points/recommend", collection), body, &result); err != nil {
		return nil, err
	}
	return toMatches(result), nil
}

// DeleteByMedia removes every point derived from one media item across all
// collections. Per-collection failures are logged and swallowed: deletion
// of the database row must not be blocked by a degraded index.
func (x *httpIndex) DeleteByMedia(ctx context.Context, mediaID string) error {
	for _, collection := range AllCollections() {
		filter := map[string]any{
			"must": []map[string]any{
				{"key": "media_id", "match": map[string]any{"value": mediaID}},
			},
		}
		if err := x.deleteByFilter(ctx, collection, filter); err != nil {
			x.log.Warn("Delete points by media failed", "collection", collection, "media_id", mediaID, "error", err)
		}
	}
	return nil
}

// DeleteBySource removes the text chunks of one media source.
func (x *httpIndex) DeleteBySource(ctx context.Context, mediaID, sourceID string) error {
	filter := map[string]any{
		"must": []map[string]any{
			{"key": "media_id", "match": map[string]any{"value": mediaID}},
			{"key": "source_id", "match": map[string]any{"value": sourceID}},
		},
	}
	if err := x.deleteByFilter(ctx, CollectionText, filter); err != nil {
		x.log.Warn("Delete points by source failed", "media_id", mediaID, "source_id", sourceID, "error", err)
	}
	return nil
}

func (x *httpIndex) deleteByFilter(ctx context.Context, collection Collection, filter map[string]any) error {
	body := map[string]any{"filter": filter}
	return x.doJSON(ctx, http.MethodPost, fmt.Sprintf("/collections/%s/points/delete?wait=true", collection), body, nil)
}

func searchLimit(params SearchParams) int {
	if params.Limit <= 0 {
		return 10
	}
	return params.Limit
}

func buildFilter(params SearchParams) map[string]any {
	must := []map[string]any{
		{"key": "project_id", "match": map[string]any{"value": params.ProjectID}},
	}
	if len(params.MediaTypes) > 0 {
		must = append(must, map[string]any{
			"key":   "media_type",
			"match": map[string]any{"any": params.MediaTypes},
		})
	}
	return map[string]any{"must": must}
}

// toMatches maps wire points back to logical ids and applies the
// deterministic ordering: score descending, point id ascending on ties.
func toMatches(points []scoredPoint) []Match {
	matches := make([]Match, 0, len(points))
	for _, p := range points {
		logical := ""
		if p.Payload != nil {
			if v, ok := p.Payload[payloadPointID].(string); ok {
				logical = v
			}
		}
		if logical == "" {
			logical = fmt.Sprintf("%v", p.ID)
		}
		matches = append(matches, Match{PointID: logical, Score: p.Score, Payload: p.Payload})
	}
	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		return matches[i].PointID < matches[j].PointID
	})
	return matches
}

type envelope struct {
	Status json.RawMessage `json:"status"`
	Result json.RawMessage `json:"result"`
}

func (x *httpIndex) doJSON(ctx context.Context, method, path string, body any, out any) error {
	op := fmt.Sprintf("%s %s", method, path)

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return opErr(op, OperationErrorEncodeFailed, "", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, strings.TrimRight(x.cfg.URL, "/")+path, reader)
	if err != nil {
		return opErr(op, OperationErrorTransportFailed, "", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if x.cfg.APIKey != "" {
		req.Header.Set("api-key", x.cfg.APIKey)
	}

	resp, err := x.client.Do(req)
	if err != nil {
		code := OperationErrorTransportFailed
		if errors.Is(err, context.DeadlineExceeded) {
			code = OperationErrorTimeout
		}
		return opErr(op, code, "", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return opErr(op, OperationErrorTransportFailed, "", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &OperationError{
			Code:       OperationErrorQueryFailed,
			Operation:  op,
			StatusCode: resp.StatusCode,
			Message:    strings.TrimSpace(string(raw)),
		}
	}
	if out == nil {
		return nil
	}
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return opErr(op, OperationErrorDecodeFailed, "", err)
	}
	if len(env.Result) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Result, out); err != nil {
		return opErr(op, OperationErrorDecodeFailed, "", err)
	}
	return nil
}
