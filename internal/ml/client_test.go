package ml

import (
	"context"
	"encoding/base64"
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

func testConfig(url string) Config {
	return Config{
		CLIPBaseURL:     url,
		DINOBaseURL:     url,
		TextBaseURL:     url,
		VLMBaseURL:      url,
		KeyframeBaseURL: url,
		Timeout:         5 * time.Second,
	}
}

func TestNormalize(t *testing.T) {
	vec, err := Normalize([]float32{3, 4})
	require.NoError(t, err)
	assert.InDelta(t, 0.6, float64(vec[0]), 1e-6)
	assert.InDelta(t, 0.8, float64(vec[1]), 1e-6)

	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	assert.InDelta(t, 1.0, math.Sqrt(sum), 1e-6)

	_, err = Normalize([]float32{0, 0, 0})
	assert.Error(t, err)
}

func TestEmbedTextNormalizesResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req embedRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "golden retriever", req.Text)
		json.NewEncoder(w).Encode(embedResponse{Embedding: []float32{3, 4}})
	}))
	defer srv.Close()

	log, err := logger.New("dev")
	require.NoError(t, err)
	enc, err := NewEncoder(testConfig(srv.URL), log)
	require.NoError(t, err)

	vec, err := enc.EmbedText(context.Background(), FamilyCLIP, "golden retriever")
	require.NoError(t, err)
	assert.InDelta(t, 0.6, float64(vec[0]), 1e-6)
}

func TestEmbedRejectsMismatchedModality(t *testing.T) {
	log, err := logger.New("dev")
	require.NoError(t, err)
	enc, err := NewEncoder(testConfig("http://localhost:1"), log)
	require.NoError(t, err)

	_, err = enc.EmbedText(context.Background(), FamilyDINO, "text")
	assert.Error(t, err)
	_, err = enc.EmbedImage(context.Background(), FamilyText, []byte{1})
	assert.Error(t, err)
	_, err = enc.EmbedText(context.Background(), FamilyCLIP, "   ")
	assert.Error(t, err)
}

func TestParseTagList(t *testing.T) {
	assert.Equal(t, []string{"dog", "park", "outdoor"}, ParseTagList("Dog, park ,OUTDOOR"))
	assert.Equal(t, []string{"a", "b"}, ParseTagList("a,,b,"))
	assert.Empty(t, ParseTagList(" , ,"))
	// Order is meaningful and preserved.
	assert.Equal(t, []string{"z", "a", "m"}, ParseTagList("z,a,m"))
}

func TestMiddleFrameDecodesSidecarResponse(t *testing.T) {
	frame := []byte{0xFF, 0xD8, 0xFF}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req keyframeRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.NotEmpty(t, req.VideoB64)
		json.NewEncoder(w).Encode(keyframeResponse{FrameB64: base64.StdEncoding.EncodeToString(frame)})
	}))
	defer srv.Close()

	log, err := logger.New("dev")
	require.NoError(t, err)
	kf, err := NewKeyframer(testConfig(srv.URL), log)
	require.NoError(t, err)

	got, err := kf.MiddleFrame(context.Background(), []byte{1, 2, 3})
	require.NoError(t, err)
	assert.Equal(t, frame, got)

	_, err = kf.MiddleFrame(context.Background(), nil)
	assert.Error(t, err)
}

func TestMiddleFrameRejectsEmptyFrame(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(keyframeResponse{FrameB64: ""})
	}))
	defer srv.Close()

	log, err := logger.New("dev")
	require.NoError(t, err)
	kf, err := NewKeyframer(testConfig(srv.URL), log)
	require.NoError(t, err)

	_, err = kf.MiddleFrame(context.Background(), []byte{1})
	assert.Error(t, err)
}

func TestCaptionFallsBackToRawTags(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(captionResponse{Caption: " A dog in a park. ", RawTags: "Dog, Park"})
	}))
	defer srv.Close()

	log, err := logger.New("dev")
	require.NoError(t, err)
	cap, err := NewCaptioner(testConfig(srv.URL), log)
	require.NoError(t, err)

	got, err := cap.Caption(context.Background(), []byte{1, 2}, "")
	require.NoError(t, err)
	assert.Equal(t, "A dog in a park.", got.Caption)
	assert.Equal(t, []string{"dog", "park"}, got.Tags)
}
