package store

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"clauderun/log"
)

func (s *Store) historyPath() string {
	return filepath.Join(s.claudeDir, "history.jsonl")
}

func (s *Store) deletedSessionsPath() string {
	return filepath.Join(s.claudeDir, "deleted_sessions")
}

// loadHistory reads history.jsonl into the roster cache. Unparsable lines
// are skipped; a missing file caches an empty roster.
func (s *Store) loadHistory() []HistoryEntry {
	entries := []HistoryEntry{}

	data, err := os.ReadFile(s.historyPath())
	if err == nil {
		for _, line := range strings.Split(string(data), "\n") {
			if strings.TrimSpace(line) == "" {
				continue
			}
			var entry HistoryEntry
			if err := json.Unmarshal([]byte(line), &entry); err != nil {
				continue
			}
			entries = append(entries, entry)
		}
	}

	s.historyMu.Lock()
	s.history = entries
	s.historyLoaded = true
	s.historyMu.Unlock()

	return entries
}

// historyEntries returns the cached roster, honoring the dirty flag: a
// flagged cache is dropped and reloaded from disk exactly once per flag.
func (s *Store) historyEntries() []HistoryEntry {
	if s.historyDirty.Swap(false) {
		return s.loadHistory()
	}

	s.historyMu.RLock()
	if s.historyLoaded {
		entries := s.history
		s.historyMu.RUnlock()
		return entries
	}
	s.historyMu.RUnlock()

	return s.loadHistory()
}

// loadPaneMap reads the pane-map directory: one file per session id, each
// containing the pane id. Loaded bindings start unverified.
func (s *Store) loadPaneMap() {
	paneDir := filepath.Join(s.claudeDir, "pane-map")
	files, err := os.ReadDir(paneDir)
	if err != nil {
		return
	}

	for _, file := range files {
		if file.IsDir() {
			continue
		}
		data, err := os.ReadFile(filepath.Join(paneDir, file.Name()))
		if err != nil {
			continue
		}
		paneID := strings.TrimSpace(string(data))
		if paneID == "" {
			continue
		}
		s.panes.Set(file.Name(), PaneBinding{PaneID: paneID})
	}
}

// loadDeletedSessions seeds the hidden set from the deleted_sessions file so
// deletions survive restarts.
func (s *Store) loadDeletedSessions() {
	file, err := os.Open(s.deletedSessionsPath())
	if err != nil {
		return
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		id := strings.TrimSpace(scanner.Text())
		if id != "" {
			s.hidden.Set(id, struct{}{})
		}
	}
}

// IsHidden reports whether a session was deleted.
func (s *Store) IsHidden(sessionID string) bool {
	return s.hidden.Contains(sessionID)
}

// DeleteSession removes a session from the roster file, hides it from
// aggregation and records the deletion durably. It returns false when
// neither the roster nor the file index knows the session.
func (s *Store) DeleteSession(sessionID string) bool {
	data, err := os.ReadFile(s.historyPath())
	if err != nil {
		return false
	}

	var kept []string
	removed := false
	for _, line := range strings.Split(string(data), "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		var entry HistoryEntry
		if err := json.Unmarshal([]byte(line), &entry); err == nil && entry.SessionID == sessionID {
			removed = true
			continue
		}
		kept = append(kept, line)
	}

	// A session that only exists as an orphan log file is still deletable.
	if !removed && !s.fileIndex.Contains(sessionID) {
		return false
	}

	if removed {
		content := strings.Join(kept, "\n") + "\n"
		if err := os.WriteFile(s.historyPath(), []byte(content), 0o644); err != nil {
			log.Error().Err(err).Str("session", sessionID).Msg("failed to rewrite history")
			return false
		}
	}

	// Hide before invalidating so a concurrent aggregation can't resurrect
	// the session from the file index.
	s.fileIndex.Delete(sessionID)
	s.hidden.Set(sessionID, struct{}{})
	s.summaries.Delete(sessionID)
	s.InvalidateHistory()

	f, err := os.OpenFile(s.deletedSessionsPath(), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err == nil {
		if _, err := f.WriteString(sessionID + "\n"); err != nil {
			log.Warn().Err(err).Str("session", sessionID).Msg("failed to persist deletion")
		}
		f.Close()
	}

	return true
}
