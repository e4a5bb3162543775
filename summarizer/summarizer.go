// Package summarizer generates one-line session summaries in the background
// whenever enough new messages have accumulated.
package summarizer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"clauderun/log"
	"clauderun/store"
)

// Threshold is the number of new messages since the last summary that
// triggers regeneration.
const Threshold = 10

const (
	maxUserMessages   = 10
	maxMessageChars   = 300
	maxSummaryLength  = 200
	summariesFileName = "claude-run-summaries.json"
)

// Generator produces a one-line summary from recent user messages.
type Generator interface {
	Summarize(ctx context.Context, prompt string) (string, error)
}

// Summarizer watches session changes and regenerates summaries once a
// session has accumulated Threshold new messages.
type Summarizer struct {
	store *store.Store
	gen   Generator

	mu      sync.Mutex
	pending map[string]struct{}
}

// New creates a summarizer backed by the given generator.
func New(st *store.Store, gen Generator) *Summarizer {
	return &Summarizer{
		store:   st,
		gen:     gen,
		pending: make(map[string]struct{}),
	}
}

func (s *Summarizer) summariesPath() string {
	return filepath.Join(s.store.ClaudeDir(), "cache", summariesFileName)
}

// LoadSummaries seeds the store's summary cache from the persisted file.
func (s *Summarizer) LoadSummaries() {
	data, err := os.ReadFile(s.summariesPath())
	if err != nil {
		return
	}

	var entries map[string]store.SummaryEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		log.Warn().Err(err).Msg("failed to parse persisted summaries")
		return
	}
	s.store.RestoreSummaries(entries)
}

// saveSummaries writes the summary cache to disk, creating the cache
// directory if needed.
func (s *Summarizer) saveSummaries() {
	data, err := json.MarshalIndent(s.store.Summaries(), "", "  ")
	if err != nil {
		return
	}

	path := s.summariesPath()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		log.Warn().Err(err).Msg("failed to create cache dir")
		return
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		log.Warn().Err(err).Msg("failed to persist summaries")
	}
}

// Run consumes session change notifications until ctx ends. A lagged
// subscription just skips ahead: missed changes only delay a summary until
// the next write to the same session.
func (s *Summarizer) Run(ctx context.Context) {
	sub := s.store.SessionTopic().Subscribe()
	defer sub.Close()

	for {
		change, err := sub.Recv(ctx)
		if err != nil {
			if errors.Is(err, store.ErrLagged) {
				continue
			}
			return
		}

		sessionID := change.SessionID
		if !s.shouldSummarize(sessionID) {
			continue
		}

		go func() {
			s.generate(ctx, sessionID)
			s.mu.Lock()
			delete(s.pending, sessionID)
			s.mu.Unlock()
		}()
	}
}

// shouldSummarize applies the threshold gate and claims the pending slot.
func (s *Summarizer) shouldSummarize(sessionID string) bool {
	messageCount := s.store.CountMessages(sessionID)

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, busy := s.pending[sessionID]; busy {
		return false
	}

	if cached, ok := s.store.Summary(sessionID); ok {
		if messageCount < cached.MessageCount+Threshold {
			return false
		}
	} else if messageCount < Threshold {
		return false
	}

	s.pending[sessionID] = struct{}{}
	return true
}

// generate builds the prompt from the last user messages and stores the
// result keyed to the message count it covered.
func (s *Summarizer) generate(ctx context.Context, sessionID string) {
	messages := s.store.Conversation(sessionID)
	if len(messages) == 0 {
		return
	}

	var userMessages []*store.ConversationMessage
	for _, msg := range messages {
		if msg.Type == "user" {
			userMessages = append(userMessages, msg)
		}
	}
	if len(userMessages) > maxUserMessages {
		userMessages = userMessages[len(userMessages)-maxUserMessages:]
	}

	var texts []string
	for _, msg := range userMessages {
		if msg.Message == nil || msg.Message.Content == nil {
			continue
		}
		text := extractPlainText(msg.Message.Content)
		if text == "" {
			continue
		}
		runes := []rune(text)
		if len(runes) > maxMessageChars {
			runes = runes[:maxMessageChars]
		}
		texts = append(texts, string(runes))
	}
	if len(texts) == 0 {
		return
	}

	prompt := fmt.Sprintf(
		"Here are the last user messages from a Claude Code conversation.\n"+
			"Summarize what the user is working on in 1 concise sentence (max 100 chars).\n"+
			"Reply with ONLY the summary, no quotes or prefix.\n\n"+
			"<messages>\n%s\n</messages>",
		strings.Join(texts, "\n---\n"),
	)

	summary, err := s.gen.Summarize(ctx, prompt)
	if err != nil {
		log.Warn().Err(err).Str("session", sessionID).Msg("summary generation failed")
		return
	}

	summary = strings.TrimSpace(summary)
	if summary == "" || len(summary) > maxSummaryLength {
		return
	}

	messageCount := s.store.CountMessages(sessionID)
	s.store.SetSummary(sessionID, summary, messageCount)
	s.saveSummaries()

	log.Debug().Str("session", sessionID).Str("summary", summary).Msg("summary updated")
}

// extractPlainText joins the text blocks of a message, ignoring thinking,
// tool calls and tool results.
func extractPlainText(content *store.MessageContent) string {
	if text, ok := content.TextContent(); ok {
		return text
	}

	var parts []string
	for _, block := range content.Blocks {
		if block.Text != "" {
			parts = append(parts, block.Text)
		}
	}
	return strings.Join(parts, " ")
}
