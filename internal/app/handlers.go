package app

import (
	"github.com/gin-gonic/gin"

	"github.com/pixelbase/pixelbase-backend/internal/handlers"
	"github.com/pixelbase/pixelbase-backend/internal/middleware"
	"github.com/pixelbase/pixelbase-backend/internal/platform/logger"
	"github.com/pixelbase/pixelbase-backend/internal/realtime"
	"github.com/pixelbase/pixelbase-backend/internal/server"
)

type Middleware struct {
	Auth    *middleware.AuthMiddleware
	Project *middleware.ProjectMiddleware
}

type Handlers struct {
	Auth           *handlers.AuthHandler
	Project        *handlers.ProjectHandler
	Media          *handlers.MediaHandler
	Dataset        *handlers.DatasetHandler
	Search         *handlers.SearchHandler
	Indexing       *handlers.IndexingHandler
	ActiveLearning *handlers.ActiveLearningHandler
	Quality        *handlers.QualityHandler
	Augmentation   *handlers.AugmentationHandler
	Training       *handlers.TrainingHandler
	Realtime       *handlers.RealtimeHandler
}

func wireMiddleware(serviceset Services, log *logger.Logger) Middleware {
	log.Info("Wiring middleware...")
	return Middleware{
		Auth:    middleware.NewAuthMiddleware(serviceset.Auth, log),
		Project: middleware.NewProjectMiddleware(serviceset.Projects, log),
	}
}

func wireHandlers(serviceset Services, reposet Repos, hub *realtime.Hub, log *logger.Logger) Handlers {
	log.Info("Wiring handlers...")
	dataset := handlers.NewDatasetHandler(serviceset.Datasets, serviceset.Projects)
	return Handlers{
		Auth:           handlers.NewAuthHandler(serviceset.Auth),
		Project:        handlers.NewProjectHandler(serviceset.Projects),
		Media:          handlers.NewMediaHandler(serviceset.Media, serviceset.Projects),
		Dataset:        dataset,
		Search:         handlers.NewSearchHandler(serviceset.Search),
		Indexing:       handlers.NewIndexingHandler(serviceset.Indexing),
		ActiveLearning: handlers.NewActiveLearningHandler(serviceset.ActiveLearning, dataset),
		Quality:        handlers.NewQualityHandler(serviceset.Quality, dataset),
		Augmentation:   handlers.NewAugmentationHandler(serviceset.Datasets, dataset),
		Training:       handlers.NewTrainingHandler(serviceset.Training, serviceset.Projects),
		Realtime:       handlers.NewRealtimeHandler(serviceset.Auth, serviceset.Projects, reposet.DatasetItems, reposet.Datasets, hub, log),
	}
}

func wireRouter(handlerset Handlers, mw Middleware) *gin.Engine {
	return server.NewRouter(server.RouterConfig{
		AuthHandler:           handlerset.Auth,
		ProjectHandler:        handlerset.Project,
		MediaHandler:          handlerset.Media,
		DatasetHandler:        handlerset.Dataset,
		SearchHandler:         handlerset.Search,
		IndexingHandler:       handlerset.Indexing,
		ActiveLearningHandler: handlerset.ActiveLearning,
		QualityHandler:        handlerset.Quality,
		AugmentationHandler:   handlerset.Augmentation,
		TrainingHandler:       handlerset.Training,
		RealtimeHandler:       handlerset.Realtime,
		AuthMiddleware:        mw.Auth,
		ProjectMiddleware:     mw.Project,
	})
}
