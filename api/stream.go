package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"clauderun/log"
	"clauderun/store"
)

const heartbeatInterval = 30 * time.Second

// sessionKey is the per-session fingerprint the roster stream diffs on.
type sessionKey struct {
	lastActivity float64
	status       store.Status
}

type streamEventKind int

const (
	eventRosterChanged streamEventKind = iota
	eventSessionChanged
	eventStatusChanged
	eventLagged
)

type streamEvent struct {
	kind    streamEventKind
	session store.SessionChange
	status  store.StatusChange
}

// writeSSE emits one server-sent event and flushes it to the client.
func writeSSE(c *gin.Context, event string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(c.Writer, "event: %s\ndata: %s\n\n", event, payload); err != nil {
		return err
	}
	c.Writer.Flush()
	return nil
}

func setSSEHeaders(c *gin.Context) {
	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.Header().Set("X-Accel-Buffering", "no")
	c.Writer.WriteHeader(http.StatusOK)
	c.Writer.Flush()
}

// forward pumps one subscription into the merged event channel, mapping lag
// into an explicit resync request. Returns when the subscription or ctx ends.
func forward[T any](ctx context.Context, sub *store.Subscription[T], events chan<- streamEvent, wrap func(T) streamEvent) {
	for {
		value, err := sub.Recv(ctx)
		if err != nil {
			if errors.Is(err, store.ErrLagged) {
				select {
				case events <- streamEvent{kind: eventLagged}:
				case <-ctx.Done():
					return
				}
				continue
			}
			return
		}
		select {
		case events <- wrap(value):
		case <-ctx.Done():
			return
		}
	}
}

// SessionsStream handles GET /api/sessions/stream: the full session list up
// front, then diff-based updates, targeted status updates, and heartbeats.
// A lagged subscriber gets a fresh full list instead of replayed diffs.
func (h *Handlers) SessionsStream(c *gin.Context) {
	setSSEHeaders(c)
	ctx := c.Request.Context()

	rosterSub := h.store.RosterTopic().Subscribe()
	defer rosterSub.Close()
	sessionSub := h.store.SessionTopic().Subscribe()
	defer sessionSub.Close()
	statusSub := h.store.StatusTopic().Subscribe()
	defer statusSub.Close()

	events := make(chan streamEvent, 16)
	go forward(ctx, rosterSub, events, func(struct{}) streamEvent {
		return streamEvent{kind: eventRosterChanged}
	})
	go forward(ctx, sessionSub, events, func(change store.SessionChange) streamEvent {
		return streamEvent{kind: eventSessionChanged, session: change}
	})
	go forward(ctx, statusSub, events, func(change store.StatusChange) streamEvent {
		return streamEvent{kind: eventStatusChanged, status: change}
	})

	known := make(map[string]sessionKey)

	sessions := h.store.Sessions()
	for _, s := range sessions {
		known[s.ID] = sessionKey{lastActivity: s.LastActivity, status: s.Status}
	}
	if err := writeSSE(c, "sessions", sessions); err != nil {
		return
	}

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case event := <-events:
			switch event.kind {
			case eventRosterChanged, eventSessionChanged:
				if err := h.sendSessionUpdates(c, known); err != nil {
					return
				}

			case eventStatusChanged:
				change := event.status
				if key, ok := known[change.SessionID]; ok {
					key.status = change.Status
					known[change.SessionID] = key
				}
				if err := h.sendStatusUpdate(c, change); err != nil {
					return
				}

			case eventLagged:
				// Dropped diffs can't be replayed; resend the whole list.
				log.Debug().Msg("sessions stream lagged, resyncing")
				sessions := h.store.Sessions()
				for k := range known {
					delete(known, k)
				}
				for _, s := range sessions {
					known[s.ID] = sessionKey{lastActivity: s.LastActivity, status: s.Status}
				}
				if err := writeSSE(c, "sessions", sessions); err != nil {
					return
				}
			}

		case <-heartbeat.C:
			if err := writeSSE(c, "heartbeat", gin.H{"timestamp": time.Now().UnixMilli()}); err != nil {
				return
			}
		}
	}
}

// sendSessionUpdates recomputes the session list and emits only the entries
// whose activity or status moved since the client last saw them.
func (h *Handlers) sendSessionUpdates(c *gin.Context, known map[string]sessionKey) error {
	sessions := h.store.Sessions()

	updated := []store.Session{}
	for _, s := range sessions {
		key, ok := known[s.ID]
		if !ok || key.lastActivity != s.LastActivity || key.status != s.Status {
			updated = append(updated, s)
		}
	}
	for _, s := range sessions {
		known[s.ID] = sessionKey{lastActivity: s.LastActivity, status: s.Status}
	}

	if len(updated) == 0 {
		return nil
	}
	return writeSSE(c, "sessionsUpdate", updated)
}

// sendStatusUpdate emits a targeted status event with the session's current
// pane, permission and question state joined on.
func (h *Handlers) sendStatusUpdate(c *gin.Context, change store.StatusChange) error {
	payload := gin.H{
		"id":     change.SessionID,
		"status": change.Status,
	}
	if pane, ok := h.store.Pane(change.SessionID); ok {
		payload["paneId"] = pane.PaneID
		payload["paneVerified"] = pane.Verified
	}
	if msg, ok := h.store.PermissionMessage(change.SessionID); ok {
		payload["permissionMessage"] = msg
	}
	if data, ok := h.store.QuestionData(change.SessionID); ok {
		payload["questionData"] = data
	}
	return writeSSE(c, "statusUpdate", payload)
}

// ConversationStream handles GET /api/conversation/:id/stream?offset=N:
// messages from the offset up front, then incremental batches as the log
// grows. The offset in each event is the resume point for reconnects.
func (h *Handlers) ConversationStream(c *gin.Context) {
	sessionID := c.Param("id")
	offset := parseOffset(c.Query("offset"))

	setSSEHeaders(c)
	ctx := c.Request.Context()

	sessionSub := h.store.SessionTopic().Subscribe()
	defer sessionSub.Close()

	events := make(chan streamEvent, 16)
	go forward(ctx, sessionSub, events, func(change store.SessionChange) streamEvent {
		return streamEvent{kind: eventSessionChanged, session: change}
	})

	result := h.store.TailFrom(sessionID, offset)
	offset = result.NextOffset
	if err := writeSSE(c, "messages", gin.H{"messages": result.Messages, "offset": offset}); err != nil {
		return
	}

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case event := <-events:
			// Lag is harmless here: the next read picks up from the
			// offset regardless of how many change events were dropped.
			if event.kind == eventSessionChanged && event.session.SessionID != sessionID {
				continue
			}
			result := h.store.TailFrom(sessionID, offset)
			offset = result.NextOffset
			if len(result.Messages) == 0 {
				continue
			}
			if err := writeSSE(c, "messages", gin.H{"messages": result.Messages, "offset": offset}); err != nil {
				return
			}

		case <-heartbeat.C:
			if err := writeSSE(c, "heartbeat", gin.H{"timestamp": time.Now().UnixMilli()}); err != nil {
				return
			}
		}
	}
}

func parseOffset(raw string) int64 {
	offset, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || offset < 0 {
		return 0
	}
	return offset
}
