package ml

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/pixelbase/pixelbase-backend/internal/platform/logger"
)

// CaptionResult is the structured output of the vision-language model.
// Tags keep the model's output order.
type CaptionResult struct {
	Caption string   `json:"caption"`
	Tags    []string `json:"tags"`
	Custom  string   `json:"custom,omitempty"`
}

// Captioner wraps the VLM sidecar. Prompt may be empty; the sidecar then
// uses its default describe-and-tag prompt.
type Captioner interface {
	Caption(ctx context.Context, image []byte, prompt string) (CaptionResult, error)
}

type captioner struct {
	cfg    Config
	client *http.Client
	log    *logger.Logger
}

func NewCaptioner(cfg Config, log *logger.Logger) (Captioner, error) {
	if err := ValidateConfig(cfg); err != nil {
		return nil, err
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &captioner{
		cfg:    cfg,
		client: &http.Client{Timeout: timeout},
		log:    log.With("service", "Captioner"),
	}, nil
}

type captionRequest struct {
	ImageB64 string `json:"image_b64"`
	Prompt   string `json:"prompt,omitempty"`
}

type captionResponse struct {
	Caption string   `json:"caption"`
	Tags    []string `json:"tags"`
	RawTags string   `json:"raw_tags,omitempty"`
	Custom  string   `json:"custom,omitempty"`
}

func (c *captioner) Caption(ctx context.Context, image []byte, prompt string) (CaptionResult, error) {
	if len(image) == 0 {
		return CaptionResult{}, fmt.Errorf("caption: empty image")
	}

	req := captionRequest{ImageB64: base64.StdEncoding.EncodeToString(image), Prompt: prompt}
	var resp captionResponse
	if err := postJSON(ctx, c.client, strings.TrimRight(c.cfg.VLMBaseURL, "/")+"/caption", req, &resp); err != nil {
		return CaptionResult{}, fmt.Errorf("caption: %w", err)
	}

	tags := resp.Tags
	if len(tags) == 0 && resp.RawTags != "" {
		tags = ParseTagList(resp.RawTags)
	}
	return CaptionResult{
		Caption: strings.TrimSpace(resp.Caption),
		Tags:    tags,
		Custom:  resp.Custom,
	}, nil
}

// ParseTagList splits a comma-separated tag string the way annotators
// expect: lowercased, trimmed, empties dropped, order preserved.
// Duplicates are kept; the caller decides whether they matter.
func ParseTagList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		tag := strings.ToLower(strings.TrimSpace(p))
		if tag == "" {
			continue
		}
		out = append(out, tag)
	}
	return out
}
