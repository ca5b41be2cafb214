package ml

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/pixelbase/pixelbase-backend/internal/platform/logger"
)

// Keyframer extracts a representative frame from a video so the visual
// encoders and the captioner can treat it like an image.
type Keyframer interface {
	MiddleFrame(ctx context.Context, video []byte) ([]byte, error)
}

type keyframer struct {
	cfg    Config
	client *http.Client
	log    *logger.Logger
}

func NewKeyframer(cfg Config, log *logger.Logger) (Keyframer, error) {
	if err := ValidateConfig(cfg); err != nil {
		return nil, err
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &keyframer{
		cfg:    cfg,
		client: &http.Client{Timeout: timeout},
		log:    log.With("service", "Keyframer"),
	}, nil
}

type keyframeRequest struct {
	VideoB64 string `json:"video_b64"`
}

type keyframeResponse struct {
	FrameB64 string `json:"frame_b64"`
}

// MiddleFrame asks the sidecar for the frame at the video's midpoint,
// returned as encoded image bytes.
func (k *keyframer) MiddleFrame(ctx context.Context, video []byte) ([]byte, error) {
	if len(video) == 0 {
		return nil, errors.New("keyframe: empty video")
	}

	req := keyframeRequest{VideoB64: base64.StdEncoding.EncodeToString(video)}
	var resp keyframeResponse
	if err := postJSON(ctx, k.client, strings.TrimRight(k.cfg.KeyframeBaseURL, "/")+"/keyframe", req, &resp); err != nil {
		return nil, fmt.Errorf("keyframe: %w", err)
	}

	frame, err := base64.StdEncoding.DecodeString(resp.FrameB64)
	if err != nil {
		return nil, fmt.Errorf("keyframe: decode frame: %w", err)
	}
	if len(frame) == 0 {
		return nil, errors.New("keyframe: sidecar returned empty frame")
	}
	return frame, nil
}
