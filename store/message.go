package store

import (
	"bytes"
	"encoding/json"
	"strings"
)

// Status is the live state of a session as reported by lifecycle hooks.
// The empty string means no known status.
type Status string

const (
	StatusActive       Status = "active"
	StatusResponding   Status = "responding"
	StatusNotification Status = "notification"
	StatusPermission   Status = "permission"
	StatusCompacting   Status = "compacting"
)

// MarshalJSON serializes the empty status as null so clients always see the
// field with an explicit "no status" value.
func (s Status) MarshalJSON() ([]byte, error) {
	if s == "" {
		return []byte("null"), nil
	}
	return json.Marshal(string(s))
}

func (s *Status) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*s = ""
		return nil
	}
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*s = Status(raw)
	return nil
}

// HistoryEntry is one line of history.jsonl, the session roster.
type HistoryEntry struct {
	Display   string  `json:"display"`
	Timestamp float64 `json:"timestamp"`
	Project   string  `json:"project"`
	SessionID string  `json:"sessionId,omitempty"`
}

// Session is the aggregated view of one conversation, joined from the
// roster, the log file on disk and the in-memory caches.
type Session struct {
	ID                string          `json:"id"`
	Display           string          `json:"display"`
	Timestamp         float64         `json:"timestamp"`
	LastActivity      float64         `json:"lastActivity"`
	Project           string          `json:"project"`
	ProjectName       string          `json:"projectName"`
	MessageCount      int             `json:"messageCount"`
	Status            Status          `json:"status"`
	PaneID            string          `json:"paneId,omitempty"`
	PaneVerified      *bool           `json:"paneVerified,omitempty"`
	PaneSession       string          `json:"paneSession,omitempty"`
	PermissionMessage string          `json:"permissionMessage,omitempty"`
	QuestionData      json.RawMessage `json:"questionData,omitempty"`
	Slug              string          `json:"slug,omitempty"`
	Summary           string          `json:"summary,omitempty"`
}

// MessageContent is either a plain string or a list of content blocks.
type MessageContent struct {
	Text   string
	Blocks []ContentBlock
	isText bool
}

func (c *MessageContent) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '"' {
		c.isText = true
		return json.Unmarshal(data, &c.Text)
	}
	c.isText = false
	return json.Unmarshal(data, &c.Blocks)
}

func (c MessageContent) MarshalJSON() ([]byte, error) {
	if c.isText {
		return json.Marshal(c.Text)
	}
	if c.Blocks == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(c.Blocks)
}

// TextContent returns a plain-string content and whether this content is one.
func (c *MessageContent) TextContent() (string, bool) {
	if c == nil || !c.isText {
		return "", false
	}
	return c.Text, true
}

// NewTextContent builds a plain-string content value.
func NewTextContent(text string) *MessageContent {
	return &MessageContent{Text: text, isText: true}
}

// ContentBlock is one element of a structured message body.
type ContentBlock struct {
	Type      string          `json:"type"`
	Text      string          `json:"text,omitempty"`
	Thinking  string          `json:"thinking,omitempty"`
	ID        string          `json:"id,omitempty"`
	Name      string          `json:"name,omitempty"`
	Input     json.RawMessage `json:"input,omitempty"`
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   *MessageContent `json:"content,omitempty"`
	IsError   *bool           `json:"is_error,omitempty"`
}

// MessageBody is the inner message payload of user/assistant lines.
type MessageBody struct {
	Role    string          `json:"role,omitempty"`
	Content *MessageContent `json:"content,omitempty"`
	Model   string          `json:"model,omitempty"`
	Usage   json.RawMessage `json:"usage,omitempty"`
}

// ConversationMessage is one JSONL line of a session log. The original raw
// bytes are kept so unknown fields survive the round trip back to clients.
type ConversationMessage struct {
	Type       string       `json:"type"`
	UUID       string       `json:"uuid,omitempty"`
	ParentUUID string       `json:"parentUuid,omitempty"`
	Timestamp  string       `json:"timestamp,omitempty"`
	SessionID  string       `json:"sessionId,omitempty"`
	Message    *MessageBody `json:"message,omitempty"`
	Summary    string       `json:"summary,omitempty"`

	// Content is the top-level content field carried by queue-operation
	// lines (distinct from Message.Content).
	Content string `json:"content,omitempty"`

	raw       json.RawMessage
	rewritten bool
}

type conversationMessageAlias ConversationMessage

func (m *ConversationMessage) UnmarshalJSON(data []byte) error {
	var alias conversationMessageAlias
	if err := json.Unmarshal(data, &alias); err != nil {
		return err
	}
	*m = ConversationMessage(alias)
	m.raw = append(json.RawMessage(nil), data...)
	return nil
}

// MarshalJSON emits the original line bytes so fields this program doesn't
// model are preserved. Rewritten synthetic messages re-emit the raw object
// with type and message replaced.
func (m ConversationMessage) MarshalJSON() ([]byte, error) {
	if m.raw == nil {
		return json.Marshal(conversationMessageAlias(m))
	}
	if !m.rewritten {
		return m.raw, nil
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(m.raw, &fields); err != nil {
		return nil, err
	}
	typeJSON, err := json.Marshal(m.Type)
	if err != nil {
		return nil, err
	}
	messageJSON, err := json.Marshal(m.Message)
	if err != nil {
		return nil, err
	}
	fields["type"] = typeJSON
	fields["message"] = messageJSON
	return json.Marshal(fields)
}

// parseConversationLine decodes one log line, keeping the raw bytes.
func parseConversationLine(line []byte) (*ConversationMessage, error) {
	var msg ConversationMessage
	if err := json.Unmarshal(line, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// extractTaskID pulls the task id out of a <task-notification> payload.
func extractTaskID(text string) (string, bool) {
	const openTag, closeTag = "<task-id>", "</task-id>"
	start := strings.Index(text, openTag)
	if start < 0 {
		return "", false
	}
	start += len(openTag)
	end := strings.Index(text[start:], closeTag)
	if end < 0 {
		return "", false
	}
	return text[start : start+end], true
}

// queueOpToUserMessage converts a queue-operation carrying a
// <task-notification> into a user message so it shows up in the
// conversation. Returns false for queue-operations without one.
func queueOpToUserMessage(msg *ConversationMessage) (*ConversationMessage, bool) {
	content := msg.Content
	if !strings.Contains(content, "<task-notification>") {
		return nil, false
	}
	rewrite := *msg
	rewrite.Type = "user"
	rewrite.Message = &MessageBody{
		Role:    "user",
		Content: NewTextContent(content),
	}
	rewrite.rewritten = true
	return &rewrite, true
}

// messageTaskID returns the task id embedded in a user message's plain-text
// content, if any.
func messageTaskID(msg *ConversationMessage) (string, bool) {
	if msg.Type != "user" || msg.Message == nil {
		return "", false
	}
	text, ok := msg.Message.Content.TextContent()
	if !ok {
		return "", false
	}
	return extractTaskID(text)
}

// extractTextFromContent flattens message content to searchable text:
// text and thinking blocks, nested tool-result content, and tool inputs.
func extractTextFromContent(content *MessageContent) string {
	if content == nil {
		return ""
	}
	if content.isText {
		return content.Text
	}

	var texts []string
	for _, block := range content.Blocks {
		if block.Text != "" {
			texts = append(texts, block.Text)
		}
		if block.Thinking != "" {
			texts = append(texts, block.Thinking)
		}
		if block.Content != nil {
			texts = append(texts, extractTextFromContent(block.Content))
		}
		if len(block.Input) > 0 && bytes.HasPrefix(bytes.TrimSpace(block.Input), []byte("{")) {
			texts = append(texts, string(block.Input))
		}
	}
	return strings.Join(texts, " ")
}

// extractMessageText returns the searchable text of a message: the summary
// for summary lines, the flattened content otherwise.
func extractMessageText(msg *ConversationMessage) string {
	if msg.Summary != "" {
		return msg.Summary
	}
	if msg.Message != nil && msg.Message.Content != nil {
		return extractTextFromContent(msg.Message.Content)
	}
	return ""
}

// StreamResult is an incremental read of new messages from a byte offset.
type StreamResult struct {
	Messages   []*ConversationMessage `json:"messages"`
	NextOffset int64                  `json:"nextOffset"`
}

// PaginatedResult is one page of a conversation.
type PaginatedResult struct {
	Messages []*ConversationMessage `json:"messages"`
	// StartOffset is the byte offset where these messages start; pass it
	// back as "before" to load the preceding page.
	StartOffset int64 `json:"startOffset"`
	// EndOffset is the byte offset after the last parsed line; pass it as
	// the starting offset for live updates.
	EndOffset int64 `json:"endOffset"`
	// HasMore reports whether older messages exist before StartOffset.
	HasMore bool `json:"hasMore"`
}

// SubagentInfo links a spawned subagent to the tool call that started it.
type SubagentInfo struct {
	AgentID   string `json:"agentId"`
	ToolUseID string `json:"toolUseId"`
}

// PlanSessionInfo links an ExitPlanMode tool call in a planning session to
// the implementation session that carries the same slug.
type PlanSessionInfo struct {
	ToolUseID string `json:"toolUseId"`
	SessionID string `json:"sessionId"`
}

// SearchMatch is one matching message within a session.
type SearchMatch struct {
	MessageIndex int    `json:"messageIndex"`
	Text         string `json:"text"`
	Snippet      string `json:"snippet"`
}

// SearchResult groups a session's matches.
type SearchResult struct {
	SessionID   string        `json:"sessionId"`
	Display     string        `json:"display"`
	ProjectName string        `json:"projectName"`
	Timestamp   float64       `json:"timestamp"`
	Matches     []SearchMatch `json:"matches"`
}
