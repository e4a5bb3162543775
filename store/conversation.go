package store

import (
	"bufio"
	"bytes"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Conversation reads a session's full log: summaries first, then user and
// assistant messages in file order. Queue-operation notifications are
// rewritten into user messages unless a real user message already carries
// the same task id anywhere in the file.
func (s *Store) Conversation(sessionID string) []*ConversationMessage {
	path, ok := s.FindSessionFile(sessionID)
	if !ok {
		return []*ConversationMessage{}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return []*ConversationMessage{}
	}

	var messages, summaries, queueOps []*ConversationMessage
	seenTaskIDs := make(map[string]struct{})

	for _, line := range strings.Split(string(data), "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		msg, err := parseConversationLine([]byte(line))
		if err != nil {
			continue
		}
		switch msg.Type {
		case "user", "assistant":
			if taskID, ok := messageTaskID(msg); ok {
				seenTaskIDs[taskID] = struct{}{}
			}
			messages = append(messages, msg)
		case "summary":
			summaries = append(summaries, msg)
		case "queue-operation":
			if rewrite, ok := queueOpToUserMessage(msg); ok {
				queueOps = append(queueOps, rewrite)
			}
		}
	}

	for _, op := range queueOps {
		if taskID, ok := messageTaskID(op); ok {
			if _, dup := seenTaskIDs[taskID]; dup {
				continue
			}
		}
		messages = append(messages, op)
	}

	result := make([]*ConversationMessage, 0, len(summaries)+len(messages))
	result = append(result, summaries...)
	result = append(result, messages...)
	return result
}

// TailFrom reads new messages starting at a byte offset. Only lines
// terminated by a newline are consumed; the first unparsable line stops the
// read so a partially written tail is retried on the next change. The
// returned offset covers exactly the consumed lines, making repeated calls
// at the same offset idempotent. An offset at or past the current file size
// returns no messages and the offset unchanged.
func (s *Store) TailFrom(sessionID string, fromOffset int64) StreamResult {
	empty := StreamResult{Messages: []*ConversationMessage{}, NextOffset: fromOffset}

	path, ok := s.FindSessionFile(sessionID)
	if !ok {
		return StreamResult{Messages: []*ConversationMessage{}, NextOffset: 0}
	}

	file, err := os.Open(path)
	if err != nil {
		return empty
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return empty
	}
	fileSize := info.Size()

	if fromOffset >= fileSize {
		return empty
	}
	if fromOffset > 0 {
		if _, err := file.Seek(fromOffset, io.SeekStart); err != nil {
			return empty
		}
	}

	reader := bufio.NewReader(file)
	messages := []*ConversationMessage{}
	seenTaskIDs := make(map[string]struct{})
	var consumed int64

	for {
		line, err := reader.ReadBytes('\n')
		if err != nil {
			// Unterminated tail; the writer is mid-line.
			break
		}
		lineBytes := int64(len(line))

		trimmed := bytes.TrimSpace(line)
		if len(trimmed) == 0 {
			consumed += lineBytes
			continue
		}

		msg, perr := parseConversationLine(trimmed)
		if perr != nil {
			// Retry from here on the next change.
			break
		}

		switch msg.Type {
		case "user", "assistant", "summary":
			if taskID, ok := messageTaskID(msg); ok {
				seenTaskIDs[taskID] = struct{}{}
			}
			messages = append(messages, msg)
		case "queue-operation":
			if rewrite, ok := queueOpToUserMessage(msg); ok {
				taskID, hasID := messageTaskID(rewrite)
				if hasID {
					if _, dup := seenTaskIDs[taskID]; dup {
						consumed += lineBytes
						continue
					}
					seenTaskIDs[taskID] = struct{}{}
				}
				messages = append(messages, rewrite)
			}
		}
		consumed += lineBytes
	}

	nextOffset := fromOffset + consumed
	if nextOffset > fileSize {
		nextOffset = fileSize
	}
	return StreamResult{Messages: messages, NextOffset: nextOffset}
}

// lineEntry is one displayable message with the byte range of its line.
type lineEntry struct {
	start int64
	end   int64
	msg   *ConversationMessage
}

// scanConversation walks a log file tracking byte offsets. It returns the
// displayable messages with their line positions, plus the offset after the
// last fully parsed line. The scan stops at the first unparsable line, same
// as TailFrom.
func scanConversation(path string) ([]lineEntry, int64) {
	file, err := os.Open(path)
	if err != nil {
		return nil, 0
	}
	defer file.Close()

	reader := bufio.NewReader(file)
	var entries []lineEntry
	seenTaskIDs := make(map[string]struct{})
	var pos int64

	for {
		line, err := reader.ReadBytes('\n')
		if err != nil {
			break
		}
		start := pos
		pos += int64(len(line))

		trimmed := bytes.TrimSpace(line)
		if len(trimmed) == 0 {
			continue
		}

		msg, perr := parseConversationLine(trimmed)
		if perr != nil {
			return entries, start
		}

		switch msg.Type {
		case "user", "assistant", "summary":
			if taskID, ok := messageTaskID(msg); ok {
				seenTaskIDs[taskID] = struct{}{}
			}
			entries = append(entries, lineEntry{start: start, end: pos, msg: msg})
		case "queue-operation":
			if rewrite, ok := queueOpToUserMessage(msg); ok {
				taskID, hasID := messageTaskID(rewrite)
				if hasID {
					if _, dup := seenTaskIDs[taskID]; dup {
						continue
					}
					seenTaskIDs[taskID] = struct{}{}
				}
				entries = append(entries, lineEntry{start: start, end: pos, msg: rewrite})
			}
		}
	}

	return entries, pos
}

// ConversationTail returns the newest limit messages of a session plus the
// byte offsets needed to page older messages and to follow live updates.
func (s *Store) ConversationTail(sessionID string, limit int) PaginatedResult {
	path, ok := s.FindSessionFile(sessionID)
	if !ok {
		return PaginatedResult{Messages: []*ConversationMessage{}}
	}

	entries, endOffset := scanConversation(path)

	page := entries
	hasMore := false
	if limit > 0 && len(entries) > limit {
		page = entries[len(entries)-limit:]
		hasMore = true
	}

	result := PaginatedResult{
		Messages:  make([]*ConversationMessage, 0, len(page)),
		EndOffset: endOffset,
		HasMore:   hasMore,
	}
	if len(page) > 0 {
		result.StartOffset = page[0].start
	} else {
		result.StartOffset = endOffset
	}
	for _, entry := range page {
		result.Messages = append(result.Messages, entry.msg)
	}
	return result
}

// ConversationRange returns up to limit messages whose lines start before
// the given byte offset, for paging backwards through a conversation.
func (s *Store) ConversationRange(sessionID string, before int64, limit int) PaginatedResult {
	path, ok := s.FindSessionFile(sessionID)
	if !ok {
		return PaginatedResult{Messages: []*ConversationMessage{}}
	}

	entries, _ := scanConversation(path)

	older := entries[:0:0]
	for _, entry := range entries {
		if entry.start < before {
			older = append(older, entry)
		}
	}

	page := older
	hasMore := false
	if limit > 0 && len(older) > limit {
		page = older[len(older)-limit:]
		hasMore = true
	}

	result := PaginatedResult{
		Messages: make([]*ConversationMessage, 0, len(page)),
		HasMore:  hasMore,
	}
	if len(page) > 0 {
		result.StartOffset = page[0].start
		result.EndOffset = page[len(page)-1].end
	}
	for _, entry := range page {
		result.Messages = append(result.Messages, entry.msg)
	}
	return result
}

// FirstUserMessage returns the first user message's text, truncated to 100
// characters, falling back to the session id. Used as the display title for
// sessions missing from the roster.
func (s *Store) FirstUserMessage(sessionID string) string {
	path, ok := s.FindSessionFile(sessionID)
	if !ok {
		return sessionID
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return sessionID
	}

	for _, line := range strings.Split(string(data), "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		msg, err := parseConversationLine([]byte(line))
		if err != nil {
			continue
		}
		if msg.Type != "user" || msg.Message == nil {
			continue
		}
		text := extractTextFromContent(msg.Message.Content)
		if text == "" {
			continue
		}
		runes := []rune(text)
		if len(runes) > 100 {
			runes = runes[:100]
		}
		return string(runes)
	}

	return sessionID
}

// SubagentMap lists the subagents a session spawned, mapping each agent id
// to the tool call that started it, in order of first appearance.
func (s *Store) SubagentMap(sessionID string) []SubagentInfo {
	infos := []SubagentInfo{}

	path, ok := s.FindSessionFile(sessionID)
	if !ok {
		return infos
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return infos
	}

	seen := make(map[string]struct{})
	for _, line := range strings.Split(string(data), "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		var probe struct {
			Type string `json:"type"`
			Data struct {
				Type    string `json:"type"`
				AgentID string `json:"agentId"`
			} `json:"data"`
			ParentToolUseID string `json:"parentToolUseID"`
		}
		if err := json.Unmarshal([]byte(line), &probe); err != nil {
			continue
		}
		if probe.Type != "progress" || probe.Data.Type != "agent_progress" {
			continue
		}
		if probe.Data.AgentID == "" || probe.ParentToolUseID == "" {
			continue
		}
		if _, dup := seen[probe.Data.AgentID]; dup {
			continue
		}
		seen[probe.Data.AgentID] = struct{}{}
		infos = append(infos, SubagentInfo{
			AgentID:   probe.Data.AgentID,
			ToolUseID: probe.ParentToolUseID,
		})
	}

	return infos
}

// PlanSessionMap links each ExitPlanMode tool call in a session to the
// implementation session sharing its slug. Extra tool calls beyond the
// number of matching sessions map to the last one.
func (s *Store) PlanSessionMap(sessionID string) []PlanSessionInfo {
	infos := []PlanSessionInfo{}

	slug, ok := s.SessionSlug(sessionID)
	if !ok {
		return infos
	}

	path, ok := s.FindSessionFile(sessionID)
	if !ok {
		return infos
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return infos
	}

	var toolIDs []string
	for _, line := range strings.Split(string(data), "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		msg, err := parseConversationLine([]byte(line))
		if err != nil {
			continue
		}
		if msg.Type != "assistant" || msg.Message == nil || msg.Message.Content == nil {
			continue
		}
		for _, block := range msg.Message.Content.Blocks {
			if block.Name == "ExitPlanMode" && block.ID != "" {
				toolIDs = append(toolIDs, block.ID)
			}
		}
	}
	if len(toolIDs) == 0 {
		return infos
	}

	var planSessions []string
	s.fileIndex.Range(func(otherID, _ string) bool {
		if otherID == sessionID {
			return true
		}
		if otherSlug, ok := s.SessionSlug(otherID); ok && otherSlug == slug {
			planSessions = append(planSessions, otherID)
		}
		return true
	})
	if len(planSessions) == 0 {
		return infos
	}

	for i, toolID := range toolIDs {
		planID := planSessions[len(planSessions)-1]
		if i < len(planSessions) {
			planID = planSessions[i]
		}
		infos = append(infos, PlanSessionInfo{ToolUseID: toolID, SessionID: planID})
	}
	return infos
}

// SubagentConversation reads a subagent's log, which lives next to the
// parent session file under <sessionId>/subagents/agent-<agentId>.jsonl.
func (s *Store) SubagentConversation(sessionID, agentID string) []*ConversationMessage {
	messages := []*ConversationMessage{}

	path, ok := s.FindSessionFile(sessionID)
	if !ok {
		return messages
	}

	sessionDir := strings.TrimSuffix(path, ".jsonl")
	subagentPath := filepath.Join(sessionDir, "subagents", "agent-"+agentID+".jsonl")

	data, err := os.ReadFile(subagentPath)
	if err != nil {
		return messages
	}

	for _, line := range strings.Split(string(data), "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		msg, err := parseConversationLine([]byte(line))
		if err != nil {
			continue
		}
		if msg.Type == "user" || msg.Type == "assistant" {
			messages = append(messages, msg)
		}
	}

	return messages
}
