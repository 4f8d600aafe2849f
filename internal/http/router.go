package http

import (
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/marswin2024/jira-confluence-digest/internal/config"
	"github.com/marswin2024/jira-confluence-digest/internal/repo"
)

func NewRouter(cfg config.Config, log zerolog.Logger, svc service, r *repo.Repository) *gin.Engine {
	if cfg.AppEnv != "dev" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(func(c *gin.Context) {
		c.Next()
		log.Info().Str("m", c.Request.Method).Str("p", c.FullPath()).Int("s", c.Writer.Status()).Msg("http")
	})

	h := NewHandlers(cfg, log, svc, r)

	router.GET("/", h.Root)
	router.GET("/healthz", h.Healthz)
	router.POST("/run-digest", h.RunDigest)
	router.GET("/admin/last-run", h.LastRun)

	return router
}
