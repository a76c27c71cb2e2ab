package httpapi

import (
	"log/slog"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/zulandar/switchyard/internal/events"
	"gorm.io/gorm"
)

type handlers struct {
	db        *gorm.DB
	ingester  Ingester
	completer Completer
	hub       *events.Hub
	version   string
	buffer    int
	heartbeat time.Duration
	log       *slog.Logger

	closeOnce sync.Once
	closing   chan struct{}
}

// close signals every streaming handler to return.
func (h *handlers) close() {
	h.closeOnce.Do(func() { close(h.closing) })
}

// registerRoutes sets up all routes on the Gin router.
func registerRoutes(router *gin.Engine, h *handlers) {
	router.GET("/", h.handleHealth)

	v1 := router.Group("/v1")
	v1.POST("/call/stream/:call_id", h.handleStream)
	v1.POST("/call/complete/:call_id", h.handleComplete)
	v1.GET("/call/:call_id", h.handleGetCall)
	v1.GET("/calls", h.handleListCalls)

	router.GET("/ws/supervisor", h.handleSupervisorWS)
	router.GET("/api/events", h.handleSSE)
}
