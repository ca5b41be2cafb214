package server

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/pixelbase/pixelbase-backend/internal/handlers"
	"github.com/pixelbase/pixelbase-backend/internal/middleware"
	"github.com/pixelbase/pixelbase-backend/internal/platform/envutil"
	"github.com/pixelbase/pixelbase-backend/internal/types"
)

type RouterConfig struct {
	AuthHandler           *handlers.AuthHandler
	ProjectHandler        *handlers.ProjectHandler
	MediaHandler          *handlers.MediaHandler
	DatasetHandler        *handlers.DatasetHandler
	SearchHandler         *handlers.SearchHandler
	IndexingHandler       *handlers.IndexingHandler
	ActiveLearningHandler *handlers.ActiveLearningHandler
	QualityHandler        *handlers.QualityHandler
	AugmentationHandler   *handlers.AugmentationHandler
	TrainingHandler       *handlers.TrainingHandler
	RealtimeHandler       *handlers.RealtimeHandler

	AuthMiddleware    *middleware.AuthMiddleware
	ProjectMiddleware *middleware.ProjectMiddleware
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware(envutil.String("SERVICE_NAME", "pixelbase-api")))
	router.Use(middleware.AttachTraceContext())

	router.Use(cors.New(cors.Config{
		AllowOrigins:     envutil.Strings("CORS_ALLOW_ORIGINS", []string{"http://localhost:3000", "http://localhost:5173"}),
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "PATCH", "OPTIONS"},
		AllowHeaders:     []string{"Authorization", "Content-Type", "X-API-Key", "X-Requested-With", "X-Request-Id"},
		ExposeHeaders:    []string{"X-Trace-Id", "X-Request-Id"},
		AllowCredentials: true,
	}))

	router.GET("/healthcheck", handlers.HealthCheck)

	requireAuth := cfg.AuthMiddleware.RequireAuth()
	asViewer := cfg.ProjectMiddleware.RequireRole(types.RoleViewer)
	asEditor := cfg.ProjectMiddleware.RequireRole(types.RoleEditor)
	asAdmin := cfg.ProjectMiddleware.RequireRole(types.RoleAdmin)
	asOwner := cfg.ProjectMiddleware.RequireRole(types.RoleOwner)

	api := router.Group("/api/v1")

	auth := api.Group("/auth")
	{
		auth.POST("/register", cfg.AuthHandler.Register)
		auth.POST("/login", cfg.AuthHandler.Login)
		auth.GET("/me", requireAuth, cfg.AuthHandler.Me)
		auth.PATCH("/me", requireAuth, cfg.AuthHandler.UpdateMe)
		auth.POST("/api-keys", requireAuth, cfg.AuthHandler.CreateAPIKey)
		auth.GET("/api-keys", requireAuth, cfg.AuthHandler.ListAPIKeys)
		auth.DELETE("/api-keys/:key_id", requireAuth, cfg.AuthHandler.DeleteAPIKey)
	}

	projects := api.Group("/projects", requireAuth)
	{
		projects.POST("", cfg.ProjectHandler.Create)
		projects.GET("", cfg.ProjectHandler.List)

		scoped := projects.Group("/:project_id")
		scoped.GET("", asViewer, cfg.ProjectHandler.Get)
		scoped.PATCH("", asAdmin, cfg.ProjectHandler.Update)
		scoped.DELETE("", asOwner, cfg.ProjectHandler.Delete)

		scoped.POST("/members", asAdmin, cfg.ProjectHandler.AddMember)
		scoped.GET("/members", asViewer, cfg.ProjectHandler.ListMembers)
		scoped.DELETE("/members/:user_id", asAdmin, cfg.ProjectHandler.RemoveMember)

		scoped.POST("/prompts", asEditor, cfg.ProjectHandler.CreatePrompt)
		scoped.GET("/prompts", asViewer, cfg.ProjectHandler.ListPrompts)
		scoped.PUT("/prompts/:prompt_id", asEditor, cfg.ProjectHandler.UpdatePrompt)
		scoped.DELETE("/prompts/:prompt_id", asEditor, cfg.ProjectHandler.DeletePrompt)

		scoped.POST("/media/upload", asEditor, cfg.MediaHandler.Upload)
		scoped.GET("/media", asViewer, cfg.MediaHandler.List)

		scoped.POST("/datasets", asEditor, cfg.DatasetHandler.Create)
		scoped.GET("/datasets", asViewer, cfg.DatasetHandler.List)

		scoped.POST("/search", asViewer, cfg.SearchHandler.Search)
		scoped.POST("/search/similar", asViewer, cfg.SearchHandler.Similar)

		scoped.POST("/indexing/run", asEditor, cfg.IndexingHandler.Run)
		scoped.GET("/indexing/status", asViewer, cfg.IndexingHandler.Status)

		scoped.POST("/training/jobs", asEditor, cfg.TrainingHandler.Create)
		scoped.GET("/training/jobs", asViewer, cfg.TrainingHandler.List)
	}

	media := api.Group("/media", requireAuth)
	{
		media.GET("/:media_id", cfg.MediaHandler.Get)
		media.PATCH("/:media_id", cfg.MediaHandler.UpdateMetadata)
		media.DELETE("/:media_id", cfg.MediaHandler.Delete)
		media.GET("/:media_id/url", cfg.MediaHandler.DownloadURL)
		media.POST("/:media_id/sources", cfg.MediaHandler.AddSource)
		media.GET("/:media_id/sources", cfg.MediaHandler.ListSources)
		media.DELETE("/:media_id/sources/:source_id", cfg.MediaHandler.DeleteSource)
	}

	datasets := api.Group("/datasets", requireAuth)
	{
		datasets.GET("/:dataset_id", cfg.DatasetHandler.Get)
		datasets.PATCH("/:dataset_id", cfg.DatasetHandler.Update)
		datasets.DELETE("/:dataset_id", cfg.DatasetHandler.Delete)

		datasets.POST("/:dataset_id/items", cfg.DatasetHandler.AddItems)
		datasets.GET("/:dataset_id/items", cfg.DatasetHandler.ListItems)
		datasets.DELETE("/:dataset_id/items/:item_id", cfg.DatasetHandler.RemoveItem)
		datasets.PATCH("/:dataset_id/items/:item_id/split", cfg.DatasetHandler.SetItemSplit)
		datasets.POST("/:dataset_id/items/:item_id/lock", cfg.DatasetHandler.LockItem)

		datasets.POST("/:dataset_id/items/:item_id/annotations", cfg.DatasetHandler.CreateAnnotations)
		datasets.POST("/:dataset_id/items/:item_id/annotations/bulk", cfg.DatasetHandler.CreateAnnotations)
		datasets.GET("/:dataset_id/items/:item_id/annotations", cfg.DatasetHandler.ListAnnotations)
		datasets.PUT("/:dataset_id/annotations/:annotation_id", cfg.DatasetHandler.UpdateAnnotation)
		datasets.DELETE("/:dataset_id/annotations/:annotation_id", cfg.DatasetHandler.DeleteAnnotation)

		datasets.POST("/:dataset_id/versions", cfg.DatasetHandler.CreateVersion)
		datasets.GET("/:dataset_id/versions", cfg.DatasetHandler.ListVersions)
		datasets.POST("/:dataset_id/versions/:version_id/export", cfg.DatasetHandler.RequestExport)
	}

	learning := api.Group("/active-learning", requireAuth)
	{
		learning.POST("/:dataset_id/suggest", cfg.ActiveLearningHandler.Suggest)
		learning.POST("/:dataset_id/auto-annotate", cfg.ActiveLearningHandler.AutoAnnotate)
		learning.GET("/:dataset_id/stats", cfg.ActiveLearningHandler.Stats)
	}

	quality := api.Group("/quality", requireAuth)
	{
		quality.POST("/reviews", cfg.QualityHandler.SubmitReview)
		quality.GET("/reviews", cfg.QualityHandler.ListReviews)
		quality.POST("/:dataset_id/agreement", cfg.QualityHandler.ComputeAgreement)
		quality.GET("/:dataset_id/summary", cfg.QualityHandler.Summary)
	}

	augmentation := api.Group("/augmentation", requireAuth)
	{
		augmentation.POST("/:dataset_id/configure", cfg.AugmentationHandler.Configure)
		augmentation.POST("/:dataset_id/run", cfg.AugmentationHandler.Run)
	}

	training := api.Group("/training/jobs", requireAuth)
	{
		training.GET("/:job_id", cfg.TrainingHandler.Get)
		training.POST("/:job_id/cancel", cfg.TrainingHandler.Cancel)
	}

	// Sockets authenticate via ?token= after the upgrade.
	router.GET("/ws/projects/:project_id", cfg.RealtimeHandler.ProjectSocket)
	router.GET("/ws/annotate/:item_id", cfg.RealtimeHandler.AnnotateSocket)

	return router
}
