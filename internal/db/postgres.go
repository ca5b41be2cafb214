package db

import (
	"fmt"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/pixelbase/pixelbase-backend/internal/platform/envutil"
	"github.com/pixelbase/pixelbase-backend/internal/platform/logger"
	"github.com/pixelbase/pixelbase-backend/internal/types"
)

type PostgresService struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewPostgresService(log *logger.Logger) (*PostgresService, error) {
	serviceLog := log.With("service", "PostgresService")

	host := envutil.String("POSTGRES_HOST", "localhost")
	port := envutil.String("POSTGRES_PORT", "5432")
	user := envutil.String("POSTGRES_USER", "postgres")
	password := envutil.String("POSTGRES_PASSWORD", "")
	name := envutil.String("POSTGRES_NAME", "pixelbase")
	sslmode := envutil.String("POSTGRES_SSLMODE", "disable")

	dsn := fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", user, password, host, port, name, sslmode)

	serviceLog.Info("Connecting to Postgres...", "host", host, "db", name)
	gdb, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &PostgresService{db: gdb, log: serviceLog}, nil
}

func (s *PostgresService) AutoMigrateAll() error {
	s.log.Info("Auto migrating postgres tables...")
	return AutoMigrate(s.db)
}

// AutoMigrate is shared with the sqlite-backed test harness.
func AutoMigrate(gdb *gorm.DB) error {
	return gdb.AutoMigrate(
		&types.User{},
		&types.APIKey{},
		&types.Project{},
		&types.ProjectMember{},
		&types.IndexingPrompt{},
		&types.Media{},
		&types.MediaSource{},
		&types.Dataset{},
		&types.DatasetItem{},
		&types.Annotation{},
		&types.DatasetVersion{},
		&types.AnnotationReview{},
		&types.AgreementScore{},
		&types.TrainingJob{},
		&types.TaskRun{},
	)
}

func (s *PostgresService) DB() *gorm.DB {
	return s.db
}
