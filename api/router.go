package api

import (
	"mediagenapi/config"
	"mediagenapi/generate"
	"mediagenapi/job"

	"github.com/gin-gonic/gin"
)

func SetupRouter(svc *generate.Service, jobs *job.Registry, cfg *config.Config, store *config.Store) *gin.Engine {
	r := gin.Default()
	h := NewHandler(svc, jobs, cfg, store)

	r.Use(CORSMiddleware())
	r.GET("/health", h.handleHealth)

	// Materialized results are served straight from the kind partitions.
	r.Static("/storage", cfg.StoragePath)

	v1 := r.Group("/api")
	v1.Use(AuthMiddleware(cfg))
	{
		v1.POST("/image/generate", h.handleGenerateImage)
		v1.GET("/image/status/:jobId", h.statusFor(job.KindImage))
		v1.GET("/image/history", h.historyFor(job.KindImage))

		v1.POST("/video/generate", h.handleGenerateVideo)
		v1.GET("/video/status/:jobId", h.statusFor(job.KindVideo))
		v1.GET("/video/history", h.historyFor(job.KindVideo))

		v1.POST("/speech/generate", h.handleGenerateSpeech)
		v1.GET("/speech/status/:jobId", h.statusFor(job.KindSpeech))
		v1.GET("/speech/history", h.historyFor(job.KindSpeech))

		v1.GET("/jobs", h.handleListJobs)
		v1.GET("/jobs/:jobId", h.handleGetJob)

		v1.GET("/settings", h.handleGetSettings)
		v1.POST("/settings", h.handleSaveSettings)
	}
	return r
}
