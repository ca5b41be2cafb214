package app

import (
	"gorm.io/gorm"

	"github.com/pixelbase/pixelbase-backend/internal/platform/logger"
	"github.com/pixelbase/pixelbase-backend/internal/realtime"
	"github.com/pixelbase/pixelbase-backend/internal/services"
)

type Services struct {
	Auth           services.AuthService
	Projects       services.ProjectService
	Indexing       services.IndexingService
	Media          services.MediaService
	Search         services.SearchService
	Datasets       services.DatasetService
	Quality        services.QualityService
	ActiveLearning services.ActiveLearningService
	Training       services.TrainingService
}

func wireServices(db *gorm.DB, cfg Config, reposet Repos, clients Clients, hub *realtime.Hub, log *logger.Logger) Services {
	log.Info("Wiring services...")

	indexing := services.NewIndexingService(reposet.Media, reposet.Prompts, reposet.TaskRuns, log)

	return Services{
		Auth:     services.NewAuthService(reposet.Users, reposet.APIKeys, cfg.Auth, log),
		Projects: services.NewProjectService(db, reposet.Projects, reposet.Members, reposet.Prompts, log),
		Indexing: indexing,
		Media:    services.NewMediaService(db, reposet.Media, reposet.MediaSources, clients.Bucket, clients.Index, indexing, log),
		Search:   services.NewSearchService(reposet.Media, clients.Index, clients.Encoder, cfg.Search, log),
		Datasets: services.NewDatasetService(db, reposet.Datasets, reposet.DatasetItems, reposet.Annotations, reposet.Versions, reposet.Media, reposet.TaskRuns, hub, log),
		Quality:  services.NewQualityService(reposet.Annotations, reposet.DatasetItems, reposet.Reviews, reposet.Agreements, log),
		ActiveLearning: services.NewActiveLearningService(
			db, reposet.Media, reposet.DatasetItems, reposet.Annotations, reposet.Datasets, log),
		Training: services.NewTrainingService(db, reposet.TrainingJobs, reposet.Datasets, reposet.TaskRuns, cfg.Training, log),
	}
}
