package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

const defaultPageLimit = 50

// GetConversation handles GET /api/conversation/:id, returning the full log.
func (h *Handlers) GetConversation(c *gin.Context) {
	c.JSON(http.StatusOK, h.store.Conversation(c.Param("id")))
}

// ConversationTail handles GET /api/conversation/:id/tail?limit=N, the
// newest page plus offsets for paging and streaming.
func (h *Handlers) ConversationTail(c *gin.Context) {
	limit := intQuery(c, "limit", defaultPageLimit)
	c.JSON(http.StatusOK, h.store.ConversationTail(c.Param("id"), limit))
}

// ConversationOlder handles GET /api/conversation/:id/older?before=B&limit=N,
// the page preceding a byte offset.
func (h *Handlers) ConversationOlder(c *gin.Context) {
	before, err := strconv.ParseInt(c.Query("before"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "before must be a byte offset"})
		return
	}
	limit := intQuery(c, "limit", defaultPageLimit)
	c.JSON(http.StatusOK, h.store.ConversationRange(c.Param("id"), before, limit))
}

// PlanSessions handles GET /api/conversation/:id/plan-sessions, linking the
// session's ExitPlanMode calls to the sessions sharing its slug.
func (h *Handlers) PlanSessions(c *gin.Context) {
	c.JSON(http.StatusOK, h.store.PlanSessionMap(c.Param("id")))
}

// ListSubagents handles GET /api/conversation/:id/subagents
func (h *Handlers) ListSubagents(c *gin.Context) {
	c.JSON(http.StatusOK, h.store.SubagentMap(c.Param("id")))
}

// SubagentConversation handles GET /api/conversation/:id/subagent/:agentId
func (h *Handlers) SubagentConversation(c *gin.Context) {
	c.JSON(http.StatusOK, h.store.SubagentConversation(c.Param("id"), c.Param("agentId")))
}

func intQuery(c *gin.Context, name string, fallback int) int {
	raw := c.Query(name)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value < 0 {
		return fallback
	}
	return value
}
