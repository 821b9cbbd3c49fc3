package main

import (
	"database/sql"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"familycall-platform/internal/httpapi"
	"familycall-platform/internal/rbac"
	"familycall-platform/internal/ws"
	"familycall-platform/pkg/utils"
)

// registerRoutes wires HTTP routes to handlers.
// Keep this file free of business logic. Handlers delegate to internal modules.
func registerRoutes(r *gin.Engine, h httpapi.Handlers, gateway *ws.Gateway, authMW gin.HandlerFunc, db *sql.DB, rdb *redis.Client) {
	// public
	r.GET("/healthz", func(c *gin.Context) {
		if err := utils.HealthCheck(c.Request.Context(), db, 2*time.Second); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "postgres": err.Error()})
			return
		}
		if err := rdb.Ping(c.Request.Context()).Err(); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "redis": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// AUTH routes (token issuance).
	// NOTE: Placeholder credential validation; the family service owns accounts.
	r.POST("/v1/auth/login", h.Login)

	// Device signaling socket. Auth middleware reads the access token from
	// the query string here because WebSocket dials cannot set headers.
	r.GET("/v1/ws", authMW, rbac.RequireFamily(), gateway.Handle)

	// protected API group
	v1 := r.Group("/v1")
	v1.Use(authMW)
	v1.Use(rbac.RequireFamily())
	{
		// CALL routes
		calls := v1.Group("/calls")
		calls.Use(rbac.RequireAnyRole(rbac.RoleParent, rbac.RoleChild, rbac.RoleFamilyMember))
		{
			calls.POST("", h.RequestCall)
			calls.GET("/:session_id", h.GetSession)
			calls.POST("/:session_id/answer", h.Answer)
			calls.POST("/:session_id/decline", h.Decline)
			calls.POST("/:session_id/active", h.MarkActive)
			calls.POST("/:session_id/end", h.End)
			calls.POST("/:session_id/heartbeat", h.Heartbeat)
		}

		// PRESENCE routes
		v1.GET("/presence/:participant_id", h.GetPresence)

		// BADGE routes
		badges := v1.Group("/badges")
		{
			badges.GET("/:contact_id", h.GetBadgeCounts)
			badges.POST("/:contact_id/clear", h.ClearBadge)
		}

		// HISTORY routes
		historyGroup := v1.Group("/history")
		{
			historyGroup.GET("", h.ListHistory)
			historyGroup.GET("/summary/:contact_id", h.HistorySummary)
		}

		// CONTACT routes
		v1.GET("/contacts", h.ListContacts)

		// EVENT intake (messaging service)
		v1.POST("/events/message", h.MessageEvent)
	}
}
