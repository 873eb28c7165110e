// Package server exposes the parse lifecycle over HTTP and a gRPC health endpoint.
package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/joseph-ayodele/packet-parser/constants"
	"github.com/joseph-ayodele/packet-parser/internal/common"
	"github.com/joseph-ayodele/packet-parser/internal/entity"
	"github.com/joseph-ayodele/packet-parser/internal/lifecycle"
	"github.com/joseph-ayodele/packet-parser/internal/progress"
)

// ParseService is the lifecycle surface the HTTP handlers drive.
type ParseService interface {
	Submit(ctx context.Context, req lifecycle.SubmitRequest) (*entity.Parse, error)
	Get(ctx context.Context, ownerID string, id uuid.UUID) (*entity.Parse, error)
	List(ctx context.Context, ownerID string, statuses []constants.ParseStatus, limit, offset int) ([]*entity.Parse, error)
	Status(ctx context.Context, ownerID string, id uuid.UUID) (lifecycle.StatusView, error)
	Progress(ctx context.Context, ownerID string, id uuid.UUID) (progress.Update, bool, error)
	WatchProgress(ctx context.Context, ownerID string, id uuid.UUID, interval time.Duration) (<-chan progress.Update, error)
	Cleanup(ctx context.Context, ownerID string, id uuid.UUID) (*entity.Parse, error)
	Retry(ctx context.Context, ownerID string, id uuid.UUID, data []byte) (*entity.Parse, error)
	Archive(ctx context.Context, ownerID string, id uuid.UUID) (*entity.Parse, error)
	Review(ctx context.Context, ownerID string, id uuid.UUID, corrected entity.ContractFields) (*entity.Parse, error)
	Delete(ctx context.Context, ownerID string, id uuid.UUID) error
	Preview(ctx context.Context, ownerID string, id uuid.UUID, page int) ([]byte, error)
}

// Exporter renders an owner's finalized parses as a workbook.
type Exporter interface {
	ExportParsesXLSX(ctx context.Context, ownerID string, from, to *time.Time) ([]byte, error)
}

// HealthFunc reports whether backing services are reachable.
type HealthFunc func(ctx context.Context) error

// RouterConfig carries what NewRouter needs beyond its services.
type RouterConfig struct {
	Auth           common.AuthConfig
	Health         HealthFunc
	StreamInterval time.Duration
}

// NewRouter builds the HTTP API.
func NewRouter(svc ParseService, exp Exporter, cfg RouterConfig, logger *slog.Logger) *gin.Engine {
	if cfg.StreamInterval <= 0 {
		cfg.StreamInterval = 500 * time.Millisecond
	}
	h := &handlers{svc: svc, exp: exp, streamInterval: cfg.StreamInterval, logger: logger}

	router := gin.New()
	router.Use(RequestID())
	router.Use(Recovery(logger))
	router.Use(RequestLogger(logger))

	router.GET("/healthz", func(c *gin.Context) {
		if cfg.Health != nil {
			if err := cfg.Health(c.Request.Context()); err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := router.Group("/api/v1")
	api.Use(Auth(cfg.Auth))
	{
		api.POST("/parses", h.submit)
		api.GET("/parses", h.list)
		api.GET("/parses/:id", h.get)
		api.GET("/parses/:id/status", h.status)
		api.GET("/parses/:id/progress", h.progress)
		api.GET("/parses/:id/progress/stream", h.streamProgress)
		api.POST("/parses/:id/cleanup", h.cleanup)
		api.POST("/parses/:id/retry", h.retry)
		api.POST("/parses/:id/archive", h.archive)
		api.POST("/parses/:id/review", h.review)
		api.DELETE("/parses/:id", h.remove)
		api.GET("/parses/:id/preview/:page", h.preview)
		api.GET("/exports/parses.xlsx", h.exportParses)
	}
	return router
}
