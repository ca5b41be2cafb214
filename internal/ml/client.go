package ml

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/pixelbase/pixelbase-backend/internal/platform/logger"
)

// Family names one embedding model deployment.
type Family string

const (
	FamilyCLIP Family = "clip"
	FamilyDINO Family = "dino"
	FamilyText Family = "text"
)

// Encoder produces embeddings from the model-serving sidecars. Image
// inputs are raw bytes; the sidecar owns decoding and preprocessing.
type Encoder interface {
	EmbedImage(ctx context.Context, family Family, data []byte) ([]float32, error)
	EmbedText(ctx context.Context, family Family, text string) ([]float32, error)
	Warm(ctx context.Context) error
}

type encoder struct {
	cfg    Config
	client *http.Client
	log    *logger.Logger
}

func NewEncoder(cfg Config, log *logger.Logger) (Encoder, error) {
	if err := ValidateConfig(cfg); err != nil {
		return nil, err
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &encoder{
		cfg:    cfg,
		client: &http.Client{Timeout: timeout},
		log:    log.With("service", "Encoder"),
	}, nil
}

func (e *encoder) baseURL(family Family) (string, error) {
	switch family {
	case FamilyCLIP:
		return e.cfg.CLIPBaseURL, nil
	case FamilyDINO:
		return e.cfg.DINOBaseURL, nil
	case FamilyText:
		return e.cfg.TextBaseURL, nil
	default:
		return "", fmt.Errorf("unknown model family: %s", family)
	}
}

type embedRequest struct {
	ImageB64 string `json:"image_b64,omitempty"`
	Text     string `json:"text,omitempty"`
}

type embedResponse struct {
	Embedding []float32 `json:"embedding"`
}

func (e *encoder) EmbedImage(ctx context.Context, family Family, data []byte) ([]float32, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("embed image: empty input")
	}
	if family == FamilyText {
		return nil, fmt.Errorf("embed image: family %s does not accept images", family)
	}
	return e.embed(ctx, family, embedRequest{ImageB64: base64.StdEncoding.EncodeToString(data)})
}

func (e *encoder) EmbedText(ctx context.Context, family Family, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("embed text: empty input")
	}
	if family == FamilyDINO {
		return nil, fmt.Errorf("embed text: family %s does not accept text", family)
	}
	return e.embed(ctx, family, embedRequest{Text: text})
}

func (e *encoder) embed(ctx context.Context, family Family, req embedRequest) ([]float32, error) {
	base, err := e.baseURL(family)
	if err != nil {
		return nil, err
	}

	var resp embedResponse
	if err := postJSON(ctx, e.client, strings.TrimRight(base, "/")+"/embed", req, &resp); err != nil {
		return nil, fmt.Errorf("embed via %s: %w", family, err)
	}
	if len(resp.Embedding) == 0 {
		return nil, fmt.Errorf("embed via %s: empty embedding in response", family)
	}
	vec, err := Normalize(resp.Embedding)
	if err != nil {
		return nil, fmt.Errorf("embed via %s: %w", family, err)
	}
	return vec, nil
}

// Warm pings every sidecar so the first real request does not pay the
// model load.
func (e *encoder) Warm(ctx context.Context) error {
	for family, base := range map[Family]string{
		FamilyCLIP: e.cfg.CLIPBaseURL,
		FamilyDINO: e.cfg.DINOBaseURL,
		FamilyText: e.cfg.TextBaseURL,
	} {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(base, "/")+"/healthz", nil)
		if err != nil {
			return err
		}
		resp, err := e.client.Do(req)
		if err != nil {
			return fmt.Errorf("warm %s: %w", family, err)
		}
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("warm %s: status=%d", family, resp.StatusCode)
		}
		e.log.Debug("Model service warm", "family", family)
	}
	return nil
}

// Normalize scales a vector to unit length. A zero vector cannot be
// normalized and is rejected.
func Normalize(vec []float32) ([]float32, error) {
	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	norm := math.Sqrt(sum)
	if norm == 0 {
		return nil, fmt.Errorf("cannot normalize zero vector")
	}
	out := make([]float32, len(vec))
	for i, v := range vec {
		out[i] = float32(float64(v) / norm)
	}
	return out, nil
}

func postJSON(ctx context.Context, client *http.Client, url string, body, out any) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("status=%d body=%s", resp.StatusCode, strings.TrimSpace(string(data)))
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(data, out)
}
