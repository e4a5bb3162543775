package api

import (
	"context"
	"encoding/json"
	"time"

	"github.com/coder/websocket"
	"github.com/gin-gonic/gin"

	"clauderun/log"
	"clauderun/store"
)

// wsMessage is the envelope for conversation WebSocket frames.
type wsMessage struct {
	Type      string                       `json:"type"`
	Messages  []*store.ConversationMessage `json:"messages,omitempty"`
	Offset    int64                        `json:"offset,omitempty"`
	Timestamp int64                        `json:"timestamp,omitempty"`
}

// ConversationWS handles GET /api/conversation/:id/ws: the WebSocket
// equivalent of ConversationStream, for clients behind proxies that buffer
// SSE. Frames carry the same messages/offset payloads.
func (h *Handlers) ConversationWS(c *gin.Context) {
	sessionID := c.Param("id")
	offset := parseOffset(c.Query("offset"))

	conn, err := websocket.Accept(c.Writer, c.Request, &websocket.AcceptOptions{
		OriginPatterns:  []string{"*"},
		CompressionMode: websocket.CompressionContextTakeover,
	})
	if err != nil {
		log.Error().Err(err).Msg("websocket upgrade failed")
		return
	}
	log.MarkHijacked(c)
	defer conn.Close(websocket.StatusNormalClosure, "")

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	// Drain client frames; a read error means the peer went away.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.Read(ctx); err != nil {
				return
			}
		}
	}()

	sessionSub := h.store.SessionTopic().Subscribe()
	defer sessionSub.Close()

	events := make(chan streamEvent, 16)
	go forward(ctx, sessionSub, events, func(change store.SessionChange) streamEvent {
		return streamEvent{kind: eventSessionChanged, session: change}
	})

	writeFrame := func(msg wsMessage) error {
		data, err := json.Marshal(msg)
		if err != nil {
			return err
		}
		return conn.Write(ctx, websocket.MessageText, data)
	}

	result := h.store.TailFrom(sessionID, offset)
	offset = result.NextOffset
	if err := writeFrame(wsMessage{Type: "messages", Messages: result.Messages, Offset: offset}); err != nil {
		return
	}

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case event := <-events:
			if event.kind == eventSessionChanged && event.session.SessionID != sessionID {
				continue
			}
			result := h.store.TailFrom(sessionID, offset)
			offset = result.NextOffset
			if len(result.Messages) == 0 {
				continue
			}
			if err := writeFrame(wsMessage{Type: "messages", Messages: result.Messages, Offset: offset}); err != nil {
				return
			}

		case <-heartbeat.C:
			if err := writeFrame(wsMessage{Type: "heartbeat", Timestamp: time.Now().UnixMilli()}); err != nil {
				return
			}
		}
	}
}
