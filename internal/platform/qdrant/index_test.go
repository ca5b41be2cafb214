package qdrant

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pixelbase/pixelbase-backend/internal/platform/logger"
)

func testIndex(t *testing.T, handler http.Handler) (Index, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	log, err := logger.New("dev")
	require.NoError(t, err)

	idx, err := NewIndex(Config{URL: srv.URL, Timeout: 5 * time.Second}, log)
	require.NoError(t, err)
	return idx, srv
}

func unitVector(dim int) []float32 {
	v := make([]float32, dim)
	val := float32(1 / math.Sqrt(float64(dim)))
	for i := range v {
		v[i] = val
	}
	return v
}

func TestValidateConfig(t *testing.T) {
	assert.Error(t, ValidateConfig(Config{}))
	assert.Error(t, ValidateConfig(Config{URL: "not a url"}))
	assert.NoError(t, ValidateConfig(Config{URL: "http://qdrant:6333"}))
}

func TestDimFor(t *testing.T) {
	assert.Equal(t, 512, DimFor(CollectionCLIP))
	assert.Equal(t, 768, DimFor(CollectionDINO))
	assert.Equal(t, 384, DimFor(CollectionText))
	assert.Equal(t, 0, DimFor(Collection("bogus")))
}

func TestUpsertRejectsBadVectors(t *testing.T) {
	idx, _ := testIndex(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("request should not reach the server")
	}))

	err := idx.Upsert(context.Background(), CollectionCLIP, Point{ID: "clip_m1", Vector: unitVector(64)})
	var opError *OperationError
	require.ErrorAs(t, err, &opError)
	assert.Equal(t, OperationErrorValidation, opError.Code)

	// Right dimension, wrong norm.
	bad := make([]float32, DimCLIP)
	for i := range bad {
		bad[i] = 1
	}
	err = idx.Upsert(context.Background(), CollectionCLIP, Point{ID: "clip_m1", Vector: bad})
	require.ErrorAs(t, err, &opError)
	assert.Equal(t, OperationErrorValidation, opError.Code)
}

func TestUpsertKeepsLogicalIDInPayload(t *testing.T) {
	var captured map[string]any
	idx, _ := testIndex(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		w.Write([]byte(`{"status":"ok"}`))
	}))

	err := idx.Upsert(context.Background(), CollectionCLIP, Point{
		ID:      "clip_media-1",
		Vector:  unitVector(DimCLIP),
		Payload: map[string]any{"project_id": "p1", "media_id": "media-1"},
	})
	require.NoError(t, err)

	points := captured["points"].([]any)
	require.Len(t, points, 1)
	point := points[0].(map[string]any)
	payload := point["payload"].(map[string]any)
	assert.Equal(t, "clip_media-1", payload["point_id"])
	assert.Equal(t, "p1", payload["project_id"])
	// The wire id is a deterministic UUID, never the logical id.
	assert.NotEqual(t, "clip_media-1", point["id"])
	assert.Equal(t, qdrantID("clip_media-1"), point["id"])
}

func TestSearchFiltersAndOrdering(t *testing.T) {
	var captured map[string]any
	idx, _ := testIndex(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		w.Write([]byte(`{"status":"ok","result":[
			{"id":"u1","score":0.8,"payload":{"point_id":"clip_b"}},
			{"id":"u2","score":0.9,"payload":{"point_id":"clip_c"}},
			{"id":"u3","score":0.9,"payload":{"point_id":"clip_a"}}
		]}`))
	}))

	matches, err := idx.Search(context.Background(), CollectionCLIP, unitVector(DimCLIP), SearchParams{
		ProjectID:  "p1",
		MediaTypes: []string{"image", "video"},
		Limit:      10,
	})
	require.NoError(t, err)

	// Ties break on point id ascending.
	require.Len(t, matches, 3)
	assert.Equal(t, "clip_a", matches[0].PointID)
	assert.Equal(t, "clip_c", matches[1].PointID)
	assert.Equal(t, "clip_b", matches[2].PointID)

	filter := captured["filter"].(map[string]any)
	must := filter["must"].([]any)
	require.Len(t, must, 2)
	first := must[0].(map[string]any)
	assert.Equal(t, "project_id", first["key"])
}

func TestSearchRejectsWrongDimension(t *testing.T) {
	idx, _ := testIndex(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("request should not reach the server")
	}))

	_, err := idx.Search(context.Background(), CollectionText, unitVector(DimCLIP), SearchParams{ProjectID: "p1"})
	var opError *OperationError
	require.ErrorAs(t, err, &opError)
	assert.Equal(t, OperationErrorValidation, opError.Code)
}

func TestDeleteByMediaSwallowsFailures(t *testing.T) {
	calls := 0
	idx, _ := testIndex(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
	}))

	err := idx.DeleteByMedia(context.Background(), "media-1")
	assert.NoError(t, err)
	assert.Equal(t, len(AllCollections()), calls)
}

func TestQueryFailureSurfacesStatus(t *testing.T) {
	idx, _ := testIndex(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad request", http.StatusBadRequest)
	}))

	_, err := idx.Search(context.Background(), CollectionCLIP, unitVector(DimCLIP), SearchParams{ProjectID: "p1"})
	var opError *OperationError
	require.ErrorAs(t, err, &opError)
	assert.Equal(t, OperationErrorQueryFailed, opError.Code)
	assert.Equal(t, http.StatusBadRequest, opError.StatusCode)
}

func TestQdrantIDDeterministic(t *testing.T) {
	assert.Equal(t, qdrantID("clip_x"), qdrantID("clip_x"))
	assert.NotEqual(t, qdrantID("clip_x"), qdrantID("dino_x"))
}
