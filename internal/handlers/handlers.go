package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/microcosm-cc/bluemonday"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"

	"calentian-mail-pipeline/internal/assigner"
	"calentian-mail-pipeline/internal/notifier"
	"calentian-mail-pipeline/internal/poller"
	"calentian-mail-pipeline/internal/repository"
)

// PollerStatus exposes the mailbox poller's state
type PollerStatus interface {
	Status() poller.Status
}

// Handlers contains all HTTP handlers. Worker, Poller and Hub are nil when
// the component does not run in this process.
type Handlers struct {
	db        *gorm.DB
	messages  *repository.MessageRepository
	worker    *assigner.Worker
	poller    PollerStatus
	hub       *notifier.Hub
	gatherer  prometheus.Gatherer
	sanitizer *bluemonday.Policy
}

// Options carries the optional components served by the handlers
type Options struct {
	Worker   *assigner.Worker
	Poller   PollerStatus
	Hub      *notifier.Hub
	Gatherer prometheus.Gatherer
}

// NewHandlers creates new HTTP handlers
func NewHandlers(db *gorm.DB, opts Options) *Handlers {
	gatherer := opts.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return &Handlers{
		db:        db,
		messages:  repository.NewMessageRepository(db),
		worker:    opts.Worker,
		poller:    opts.Poller,
		hub:       opts.Hub,
		gatherer:  gatherer,
		sanitizer: bluemonday.UGCPolicy(),
	}
}

// SetupRoutes sets up all HTTP routes
func (h *Handlers) SetupRoutes(router *gin.Engine) {
	router.GET("/healthz", h.HealthCheck)
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{})))

	if h.hub != nil {
		router.GET("/ws", h.hub.ServeWS)
	}

	api := router.Group("/api/v1")
	{
		api.GET("/messages", h.ListMessages)
		api.GET("/messages/:id", h.GetMessage)

		api.POST("/assigner/start", h.StartAssigner)
		api.POST("/assigner/stop", h.StopAssigner)
		api.POST("/assigner/run-once", h.RunAssignerOnce)
		api.GET("/assigner/status", h.GetAssignerStatus)

		api.GET("/poller/status", h.GetPollerStatus)
	}
}
