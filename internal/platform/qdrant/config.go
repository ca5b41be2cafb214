package qdrant

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/pixelbase/pixelbase-backend/internal/platform/envutil"
)

// Collection names are fixed; each carries one embedding family.
type Collection string

const (
	CollectionCLIP Collection = "clip_embeddings"
	CollectionDINO Collection = "dino_embeddings"
	CollectionText Collection = "text_embeddings"
)

// Embedding dimensions are compile-time constants; the index rejects
// mismatched vectors at its boundary.
const (
	DimCLIP = 512
	DimDINO = 768
	DimText = 384
)

func AllCollections() []Collection {
	return []Collection{CollectionCLIP, CollectionDINO, CollectionText}
}

func DimFor(c Collection) int {
	switch c {
	case CollectionCLIP:
		return DimCLIP
	case CollectionDINO:
		return DimDINO
	case CollectionText:
		return DimText
	default:
		return 0
	}
}

type Config struct {
	URL     string
	APIKey  string
	Timeout time.Duration
}

type ConfigErrorCode string

const (
	ConfigErrorMissingURL ConfigErrorCode = "missing_url"
	ConfigErrorInvalidURL ConfigErrorCode = "invalid_url"
)

type ConfigError struct {
	Code  ConfigErrorCode
	Value string
	Cause error
}

func (e *ConfigError) Error() string {
	if e == nil {
		return "invalid qdrant config"
	}
	switch e.Code {
	case ConfigErrorMissingURL:
		return "QDRANT_URL is required"
	case ConfigErrorInvalidURL:
		return fmt.Sprintf("invalid QDRANT_URL=%q; expected absolute URL like http://qdrant:6333", e.Value)
	default:
		return "invalid qdrant config"
	}
}

func (e *ConfigError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

func ResolveConfigFromEnv() (Config, error) {
	cfg := Config{
		URL:     strings.TrimSpace(os.Getenv("QDRANT_URL")),
		APIKey:  strings.TrimSpace(os.Getenv("QDRANT_API_KEY")),
		Timeout: envutil.Duration("QDRANT_TIMEOUT", 30*time.Second),
	}
	if err := ValidateConfig(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func ValidateConfig(cfg Config) error {
	if cfg.URL == "" {
		return &ConfigError{Code: ConfigErrorMissingURL}
	}
	parsed, err := url.Parse(cfg.URL)
	if err != nil || strings.TrimSpace(parsed.Scheme) == "" || strings.TrimSpace(parsed.Host) == "" {
		return &ConfigError{Code: ConfigErrorInvalidURL, Value: cfg.URL, Cause: err}
	}
	return nil
}
