// Package api exposes the session store over HTTP: REST endpoints for
// querying and mutating, SSE and WebSocket streams for following changes.
package api

import (
	"github.com/gin-gonic/gin"

	"clauderun/store"
)

// Handlers holds the request handlers' shared dependencies.
type Handlers struct {
	store *store.Store
}

// NewHandlers creates the handler set over a store.
func NewHandlers(st *store.Store) *Handlers {
	return &Handlers{store: st}
}

// SetupRoutes registers all API routes on the router.
func SetupRoutes(router *gin.Engine, h *Handlers) {
	api := router.Group("/api")
	{
		api.GET("/sessions", h.ListSessions)
		api.DELETE("/sessions/:id", h.DeleteSession)
		api.POST("/sessions/:id/status", h.SetStatus)
		api.GET("/sessions/stream", h.SessionsStream)

		api.GET("/projects", h.ListProjects)
		api.POST("/search", h.Search)

		api.GET("/conversation/:id", h.GetConversation)
		api.GET("/conversation/:id/tail", h.ConversationTail)
		api.GET("/conversation/:id/older", h.ConversationOlder)
		api.GET("/conversation/:id/stream", h.ConversationStream)
		api.GET("/conversation/:id/ws", h.ConversationWS)
		api.GET("/conversation/:id/plan-sessions", h.PlanSessions)
		api.GET("/conversation/:id/subagents", h.ListSubagents)
		api.GET("/conversation/:id/subagent/:agentId", h.SubagentConversation)

		api.GET("/ping", h.Ping)
	}
}

// Ping acknowledges viewer liveness checks from native clients.
func (h *Handlers) Ping(c *gin.Context) {
	c.JSON(200, gin.H{"ok": true})
}
