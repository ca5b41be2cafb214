package ml

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/pixelbase/pixelbase-backend/internal/platform/envutil"
)

// Config points at the model-serving sidecars. Each family is a separate
// deployment so GPU-heavy services can scale apart from the cheap ones.
type Config struct {
	CLIPBaseURL     string
	DINOBaseURL     string
	TextBaseURL     string
	VLMBaseURL      string
	KeyframeBaseURL string
	Timeout         time.Duration
}

func ResolveConfigFromEnv() (Config, error) {
	cfg := Config{
		CLIPBaseURL:     strings.TrimSpace(os.Getenv("ML_CLIP_URL")),
		DINOBaseURL:     strings.TrimSpace(os.Getenv("ML_DINO_URL")),
		TextBaseURL:     strings.TrimSpace(os.Getenv("ML_TEXT_URL")),
		VLMBaseURL:      strings.TrimSpace(os.Getenv("ML_VLM_URL")),
		KeyframeBaseURL: strings.TrimSpace(os.Getenv("ML_KEYFRAME_URL")),
		Timeout:         envutil.Duration("ML_TIMEOUT", 60*time.Second),
	}
	if err := ValidateConfig(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func ValidateConfig(cfg Config) error {
	for name, raw := range map[string]string{
		"ML_CLIP_URL":     cfg.CLIPBaseURL,
		"ML_DINO_URL":     cfg.DINOBaseURL,
		"ML_TEXT_URL":     cfg.TextBaseURL,
		"ML_VLM_URL":      cfg.VLMBaseURL,
		"ML_KEYFRAME_URL": cfg.KeyframeBaseURL,
	} {
		if raw == "" {
			return fmt.Errorf("%s is required", name)
		}
		parsed, err := url.Parse(raw)
		if err != nil || strings.TrimSpace(parsed.Scheme) == "" || strings.TrimSpace(parsed.Host) == "" {
			return fmt.Errorf("invalid %s=%q; expected absolute URL like http://clip:8000", name, raw)
		}
	}
	return nil
}
