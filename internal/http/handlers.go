package http

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/marswin2024/jira-confluence-digest/internal/config"
	"github.com/marswin2024/jira-confluence-digest/internal/repo"
)

type service interface {
	RunDailyDigest(ctx context.Context) error
}

type Handlers struct {
	cfg  config.Config
	log  zerolog.Logger
	svc  service
	repo *repo.Repository
}

func NewHandlers(cfg config.Config, log zerolog.Logger, svc service, r *repo.Repository) *Handlers {
	return &Handlers{cfg: cfg, log: log, svc: svc, repo: r}
}

func (h *Handlers) Healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy"})
}

func (h *Handlers) Root(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"service": "Jira & Confluence Daily Digest",
		"status":  "running",
		"endpoints": gin.H{
			"/run-digest": "POST - Trigger digest job",
			"/healthz":    "GET - Health check",
		},
	})
}

// RunDigest triggers a full digest run synchronously. External schedulers
// (Cloud Scheduler and the like) call this and read the outcome from the
// status code.
func (h *Handlers) RunDigest(c *gin.Context) {
	h.log.Info().Str("ip", c.ClientIP()).Msg("digest triggered via http")
	if err := h.svc.RunDailyDigest(c.Request.Context()); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"status": "error", "message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "success", "message": "Email sent successfully"})
}

func (h *Handlers) LastRun(c *gin.Context) {
	if h.repo == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "run history disabled (no DB_DSN)"})
		return
	}
	lr, err := h.repo.GetLastRun(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, lr)
}
