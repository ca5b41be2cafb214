package app

import (
	"gorm.io/gorm"

	"github.com/pixelbase/pixelbase-backend/internal/platform/logger"
	"github.com/pixelbase/pixelbase-backend/internal/repos"
)

type Repos struct {
	Users        repos.UserRepo
	APIKeys      repos.APIKeyRepo
	Projects     repos.ProjectRepo
	Members      repos.MemberRepo
	Prompts      repos.PromptRepo
	Media        repos.MediaRepo
	MediaSources repos.MediaSourceRepo
	Datasets     repos.DatasetRepo
	DatasetItems repos.DatasetItemRepo
	Annotations  repos.AnnotationRepo
	Versions     repos.DatasetVersionRepo
	Reviews      repos.ReviewRepo
	Agreements   repos.AgreementRepo
	TrainingJobs repos.TrainingJobRepo
	TaskRuns     repos.TaskRunRepo
}

func wireRepos(db *gorm.DB, log *logger.Logger) Repos {
	log.Info("Wiring repos...")
	return Repos{
		Users:        repos.NewUserRepo(db, log),
		APIKeys:      repos.NewAPIKeyRepo(db, log),
		Projects:     repos.NewProjectRepo(db, log),
		Members:      repos.NewMemberRepo(db, log),
		Prompts:      repos.NewPromptRepo(db, log),
		Media:        repos.NewMediaRepo(db, log),
		MediaSources: repos.NewMediaSourceRepo(db, log),
		Datasets:     repos.NewDatasetRepo(db, log),
		DatasetItems: repos.NewDatasetItemRepo(db, log),
		Annotations:  repos.NewAnnotationRepo(db, log),
		Versions:     repos.NewDatasetVersionRepo(db, log),
		Reviews:      repos.NewReviewRepo(db, log),
		Agreements:   repos.NewAgreementRepo(db, log),
		TrainingJobs: repos.NewTrainingJobRepo(db, log),
		TaskRuns:     repos.NewTaskRunRepo(db, log),
	}
}
