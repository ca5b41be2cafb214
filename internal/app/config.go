package app

import (
	"github.com/pixelbase/pixelbase-backend/internal/ml"
	"github.com/pixelbase/pixelbase-backend/internal/platform/envutil"
	"github.com/pixelbase/pixelbase-backend/internal/platform/logger"
	"github.com/pixelbase/pixelbase-backend/internal/platform/qdrant"
	"github.com/pixelbase/pixelbase-backend/internal/services"
)

type Config struct {
	Environment string
	Version     string
	HTTPAddr    string

	Auth     services.AuthConfig
	Search   services.SearchConfig
	Training services.TrainingConfig
	ML       ml.Config
	Qdrant   qdrant.Config
}

func LoadConfig(log *logger.Logger) (Config, error) {
	cfg := Config{
		Environment: envutil.String("ENVIRONMENT", "development"),
		Version:     envutil.String("SERVICE_VERSION", "dev"),
		HTTPAddr:    envutil.String("HTTP_ADDR", ":8080"),
		Search:      services.ResolveSearchConfig(),
		Training:    services.ResolveTrainingConfig(),
	}

	authCfg, err := services.ResolveAuthConfig()
	if err != nil {
		return cfg, err
	}
	cfg.Auth = authCfg

	mlCfg, err := ml.ResolveConfigFromEnv()
	if err != nil {
		return cfg, err
	}
	cfg.ML = mlCfg

	qdrantCfg, err := qdrant.ResolveConfigFromEnv()
	if err != nil {
		return cfg, err
	}
	cfg.Qdrant = qdrantCfg

	log.Info("Configuration loaded", "environment", cfg.Environment, "http_addr", cfg.HTTPAddr)
	return cfg, nil
}
