package main

import (
	"database/sql"
	"net/http"
	"time"

	"ivr-gateway/internal/httpapi"
	"ivr-gateway/internal/mediastream"
	"ivr-gateway/pkg/utils"

	"github.com/gin-gonic/gin"
)

// registerRoutes wires HTTP routes to handlers.
// Keep this file free of business logic. Handlers should delegate to internal modules.
func registerRoutes(r *gin.Engine, h httpapi.Handlers, streams *mediastream.Handler, authMW gin.HandlerFunc, db *sql.DB) {
	// public
	r.GET("/healthz", func(c *gin.Context) {
		if err := utils.HealthCheck(c.Request.Context(), db, 2*time.Second); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "error": "database unreachable"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// Platform webhooks (public).
	// NOTE: These endpoints carry unguessable per-call tokens; Event Grid
	// delivery should additionally be locked down at the network level in
	// production.
	r.POST("/api/incomingCall", h.IncomingCall)
	r.POST("/api/callbacks/:contextId", h.Callbacks)

	// Media streaming websocket, dialed by the calling platform.
	r.GET("/ws", streams.Serve)

	// protected ops API group
	v1 := r.Group("/v1")
	v1.Use(authMW)
	{
		v1.GET("/sessions", h.ListSessions)
		v1.GET("/calls/:call_connection_id", h.GetCall)
		v1.GET("/streams", h.ListStreams)
	}
}
