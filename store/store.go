package store

import (
	"encoding/json"
	"path/filepath"
	"sync"
	"sync/atomic"
)

// Broadcast buffer sizes. Roster and status changes are cheap to resync
// from, session file changes less so, hence the bigger ring.
const (
	rosterTopicCapacity  = 64
	sessionTopicCapacity = 256
	statusTopicCapacity  = 64
)

// SessionChange announces that a session's log file changed on disk.
type SessionChange struct {
	SessionID string
	Path      string
}

// StatusChange announces a session status transition. An empty Status means
// the status was cleared.
type StatusChange struct {
	SessionID string
	Status    Status
}

// PaneBinding ties a session to the terminal pane it runs in.
type PaneBinding struct {
	PaneID   string
	Session  string // multiplexer session name, if known
	Verified bool
}

type countEntry struct {
	count    int
	fileSize int64
}

type slugEntry struct {
	slug string
	ok   bool
}

// SummaryEntry is a generated one-line summary plus the message count it was
// produced at, used to gate regeneration.
type SummaryEntry struct {
	Summary      string `json:"summary"`
	MessageCount int    `json:"messageCount"`
}

// Store is the shared state of the server: the file index, the roster cache
// and the derived caches, plus the broadcast topics change consumers
// subscribe to. All methods are safe for concurrent use.
type Store struct {
	claudeDir   string
	projectsDir string

	fileIndex      *cmap[string]
	statuses       *cmap[Status]
	panes          *cmap[PaneBinding]
	permissionMsgs *cmap[string]
	questionData   *cmap[json.RawMessage]
	slugs          *cmap[slugEntry]
	counts         *cmap[countEntry]
	summaries      *cmap[SummaryEntry]
	hidden         *cmap[struct{}]

	historyMu     sync.RWMutex
	history       []HistoryEntry
	historyLoaded bool
	historyDirty  atomic.Bool

	rosterTopic  *Topic[struct{}]
	sessionTopic *Topic[SessionChange]
	statusTopic  *Topic[StatusChange]
}

// New creates a Store rooted at claudeDir. Call Load before serving.
func New(claudeDir string) *Store {
	return &Store{
		claudeDir:   claudeDir,
		projectsDir: filepath.Join(claudeDir, "projects"),

		fileIndex:      newCmap[string](),
		statuses:       newCmap[Status](),
		panes:          newCmap[PaneBinding](),
		permissionMsgs: newCmap[string](),
		questionData:   newCmap[json.RawMessage](),
		slugs:          newCmap[slugEntry](),
		counts:         newCmap[countEntry](),
		summaries:      newCmap[SummaryEntry](),
		hidden:         newCmap[struct{}](),

		rosterTopic:  NewTopic[struct{}](rosterTopicCapacity),
		sessionTopic: NewTopic[SessionChange](sessionTopicCapacity),
		statusTopic:  NewTopic[StatusChange](statusTopicCapacity),
	}
}

// ClaudeDir returns the data directory root.
func (s *Store) ClaudeDir() string { return s.claudeDir }

// ProjectsDir returns the directory holding per-project session logs.
func (s *Store) ProjectsDir() string { return s.projectsDir }

// Load populates the file index, roster cache, pane map and hidden set from
// disk. Each part tolerates its file being absent.
func (s *Store) Load() {
	s.BuildIndex()
	s.loadHistory()
	s.loadPaneMap()
	s.loadDeletedSessions()
}

// RosterTopic announces roster (history.jsonl) changes.
func (s *Store) RosterTopic() *Topic[struct{}] { return s.rosterTopic }

// SessionTopic announces per-session log file changes.
func (s *Store) SessionTopic() *Topic[SessionChange] { return s.sessionTopic }

// StatusTopic announces session status transitions.
func (s *Store) StatusTopic() *Topic[StatusChange] { return s.statusTopic }

// InvalidateHistory marks the roster cache stale; the next Sessions call
// reloads it from disk.
func (s *Store) InvalidateHistory() {
	s.historyDirty.Store(true)
}

// Status returns the session's live status, or "" if none is known.
func (s *Store) Status(sessionID string) Status {
	status, _ := s.statuses.Get(sessionID)
	return status
}

// Pane returns the session's pane binding.
func (s *Store) Pane(sessionID string) (PaneBinding, bool) {
	return s.panes.Get(sessionID)
}

// SetStatus records a session status transition and broadcasts it. A pane
// binding reported together with the status is stored verified. An empty
// status clears both the status and the pane binding.
func (s *Store) SetStatus(sessionID string, status Status, pane *PaneBinding) {
	if status == "" {
		s.statuses.Delete(sessionID)
		s.panes.Delete(sessionID)
	} else {
		s.statuses.Set(sessionID, status)
		if pane != nil && pane.PaneID != "" {
			s.panes.Set(sessionID, PaneBinding{
				PaneID:   pane.PaneID,
				Session:  pane.Session,
				Verified: true,
			})
		}
	}
	s.statusTopic.Publish(StatusChange{SessionID: sessionID, Status: status})
}

// PermissionMessage returns the pending permission prompt for the session.
func (s *Store) PermissionMessage(sessionID string) (string, bool) {
	return s.permissionMsgs.Get(sessionID)
}

// SetPermissionMessage records a human-readable permission prompt.
func (s *Store) SetPermissionMessage(sessionID, message string) {
	s.permissionMsgs.Set(sessionID, message)
}

// ClearPermissionMessage drops the pending permission prompt.
func (s *Store) ClearPermissionMessage(sessionID string) {
	s.permissionMsgs.Delete(sessionID)
}

// QuestionData returns the structured question payload awaiting an answer.
func (s *Store) QuestionData(sessionID string) (json.RawMessage, bool) {
	return s.questionData.Get(sessionID)
}

// SetQuestionData records a structured question payload.
func (s *Store) SetQuestionData(sessionID string, data json.RawMessage) {
	s.questionData.Set(sessionID, data)
}

// ClearQuestionData drops the stored question payload.
func (s *Store) ClearQuestionData(sessionID string) {
	s.questionData.Delete(sessionID)
}

// Summary returns the cached summary entry for a session.
func (s *Store) Summary(sessionID string) (SummaryEntry, bool) {
	return s.summaries.Get(sessionID)
}

// SetSummary caches a generated summary together with the message count it
// covers.
func (s *Store) SetSummary(sessionID, summary string, messageCount int) {
	s.summaries.Set(sessionID, SummaryEntry{Summary: summary, MessageCount: messageCount})
}

// Summaries snapshots the summary cache for persistence.
func (s *Store) Summaries() map[string]SummaryEntry {
	out := make(map[string]SummaryEntry, s.summaries.Len())
	s.summaries.Range(func(id string, entry SummaryEntry) bool {
		out[id] = entry
		return true
	})
	return out
}

// RestoreSummaries seeds the summary cache, typically from the persisted
// summary file at startup.
func (s *Store) RestoreSummaries(entries map[string]SummaryEntry) {
	for id, entry := range entries {
		s.summaries.Set(id, entry)
	}
}
