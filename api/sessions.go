package api

import (
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"

	"github.com/gin-gonic/gin"

	"clauderun/log"
	"clauderun/store"
)

// ListSessions handles GET /api/sessions
func (h *Handlers) ListSessions(c *gin.Context) {
	c.JSON(http.StatusOK, h.store.Sessions())
}

// ListProjects handles GET /api/projects
func (h *Handlers) ListProjects(c *gin.Context) {
	c.JSON(http.StatusOK, h.store.Projects())
}

// DeleteSession handles DELETE /api/sessions/:id. Unknown sessions answer
// 200 with an error body; clients key on the payload, not the status code.
func (h *Handlers) DeleteSession(c *gin.Context) {
	id := c.Param("id")
	if h.store.DeleteSession(id) {
		c.JSON(http.StatusOK, gin.H{"success": true})
		return
	}
	c.JSON(http.StatusOK, gin.H{"error": "Session not found"})
}

// Search handles POST /api/search
func (h *Handlers) Search(c *gin.Context) {
	var body struct {
		Query string `json:"query"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"results": h.store.SearchConversations(body.Query)})
}

// statusUpdateRequest is the payload lifecycle hooks post on every event.
type statusUpdateRequest struct {
	Event            string          `json:"event"`
	PaneID           string          `json:"pane_id"`
	PaneSession      string          `json:"pane_session"`
	ToolName         string          `json:"tool_name"`
	NotificationType string          `json:"notification_type"`
	ToolInput        json.RawMessage `json:"tool_input"`
}

// SetStatus handles POST /api/sessions/:id/status, mapping hook lifecycle
// events onto session statuses. Unknown events are acknowledged and ignored
// so newer hooks don't break older servers.
func (h *Handlers) SetStatus(c *gin.Context) {
	id := c.Param("id")

	var body statusUpdateRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	var status store.Status
	switch body.Event {
	case "SessionStart":
		status = store.StatusActive
	case "UserPromptSubmit":
		status = store.StatusResponding
	case "Notification":
		if body.NotificationType == "permission_prompt" {
			status = store.StatusPermission
		} else {
			status = store.StatusNotification
		}
	case "PermissionRequest":
		h.store.SetPermissionMessage(id, buildPermissionMessage(body.ToolName, body.ToolInput))
		h.storeQuestionData(id, body.ToolName, body.ToolInput)
		status = store.StatusPermission
	case "PreCompact":
		status = store.StatusCompacting
	case "PreToolUse", "PostToolUse":
		status = store.StatusResponding
	case "Stop":
		status = store.StatusActive
	case "SessionEnd":
		status = ""
	default:
		c.JSON(http.StatusOK, gin.H{"ok": true})
		return
	}

	// Leaving the permission state drops the prompt and question payloads.
	if status != store.StatusPermission && h.store.Status(id) == store.StatusPermission {
		h.store.ClearPermissionMessage(id)
		h.store.ClearQuestionData(id)
	}

	if status == "" {
		paneMapPath := filepath.Join(h.store.ClaudeDir(), "pane-map", id)
		if err := os.Remove(paneMapPath); err != nil && !os.IsNotExist(err) {
			log.Warn().Err(err).Str("session", id).Msg("failed to remove pane mapping")
		}
	}

	h.store.SetStatus(id, status, &store.PaneBinding{
		PaneID:  body.PaneID,
		Session: body.PaneSession,
	})

	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// storeQuestionData keeps the structured question payload for tools that ask
// the user something, so clients can render the choices.
func (h *Handlers) storeQuestionData(id, toolName string, toolInput json.RawMessage) {
	switch toolName {
	case "AskUserQuestion":
		var input struct {
			Questions json.RawMessage `json:"questions"`
		}
		if err := json.Unmarshal(toolInput, &input); err == nil && len(input.Questions) > 0 {
			h.store.SetQuestionData(id, input.Questions)
		}
	case "ExitPlanMode":
		h.store.SetQuestionData(id, planQuestionData())
	default:
		h.store.ClearQuestionData(id)
	}
}

func planQuestionData() json.RawMessage {
	data, _ := json.Marshal([]gin.H{{
		"question": "Approve this plan?",
		"header":   "Plan",
		"options": []gin.H{
			{"label": "Yes + clear ctx + bypass", "description": "Clear context and bypass all permissions"},
			{"label": "Yes + bypass", "description": "Keep context, bypass permissions"},
			{"label": "Yes, manual", "description": "Keep context, manually approve edits"},
		},
		"multiSelect": false,
	}})
	return data
}

// buildPermissionMessage renders a short human-readable line for a pending
// tool permission, pulling the most telling detail from the tool input.
func buildPermissionMessage(toolName string, toolInput json.RawMessage) string {
	name := toolName
	if name == "" {
		name = "Unknown"
	}

	var input struct {
		Command  string `json:"command"`
		FilePath string `json:"file_path"`
		Pattern  string `json:"pattern"`
		Path     string `json:"path"`
		URL      string `json:"url"`
	}
	if len(toolInput) > 0 {
		_ = json.Unmarshal(toolInput, &input)
	}

	detail := ""
	switch {
	case input.Command != "":
		detail = input.Command
	case input.FilePath != "":
		detail = input.FilePath
	case input.Pattern != "":
		detail = input.Pattern
		if input.Path != "" {
			detail = input.Path + "/" + input.Pattern
		}
	case input.URL != "":
		detail = input.URL
	}

	if detail == "" {
		return name
	}
	if len(detail) > 80 {
		detail = detail[:80]
	}
	return name + ": " + detail
}
