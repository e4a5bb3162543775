package store

import (
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// placeholderDisplay marks roster entries created by programmatic launches;
// they get a neutral title instead.
const placeholderDisplay = "** Session started from claude-run **"

// Sessions aggregates the roster and the log files on disk into the
// current session list, newest activity first. Each session id appears at
// most once: the first roster entry for an id wins, and log files missing
// from the roster are appended as orphans.
func (s *Store) Sessions() []Session {
	entries := s.historyEntries()

	sessions := []Session{}
	seen := make(map[string]struct{})

	for _, entry := range entries {
		sessionID := entry.SessionID
		if sessionID == "" {
			// Old roster entries carry no id; infer it from the log file
			// whose mtime is closest to the entry timestamp.
			encoded := EncodeProjectPath(entry.Project)
			inferred, ok := findSessionByTimestamp(s.projectsDir, encoded, entry.Timestamp)
			if !ok {
				continue
			}
			sessionID = inferred
		}

		if _, dup := seen[sessionID]; dup {
			continue
		}
		if s.IsHidden(sessionID) {
			continue
		}
		seen[sessionID] = struct{}{}

		filePath, hasFile := s.FindSessionFile(sessionID)
		messageCount := 0
		if hasFile {
			messageCount = s.CountMessages(sessionID)
		}

		lastActivity := entry.Timestamp
		if hasFile {
			if info, err := os.Stat(filePath); err == nil {
				lastActivity = unixMillis(info.ModTime().UnixMilli())
			}
		}

		display := entry.Display
		if strings.Contains(display, placeholderDisplay) {
			display = "New session"
		}

		session := s.buildSession(sessionID, display, entry.Timestamp, lastActivity, entry.Project)
		session.MessageCount = messageCount
		sessions = append(sessions, session)
	}

	// Orphan pass: log files the roster doesn't know about.
	s.fileIndex.Range(func(sessionID, filePath string) bool {
		if _, dup := seen[sessionID]; dup {
			return true
		}
		if s.IsHidden(sessionID) {
			return true
		}
		seen[sessionID] = struct{}{}

		messageCount := s.CountMessages(sessionID)
		if messageCount == 0 {
			return true
		}

		encoded := filepath.Base(filepath.Dir(filePath))
		project := DecodeProjectPath(encoded)

		var timestamp, lastActivity float64
		if info, err := os.Stat(filePath); err == nil {
			// No portable birth time; mtime stands in for both.
			lastActivity = unixMillis(info.ModTime().UnixMilli())
			timestamp = lastActivity
		}

		session := s.buildSession(sessionID, s.FirstUserMessage(sessionID), timestamp, lastActivity, project)
		session.MessageCount = messageCount
		sessions = append(sessions, session)
		return true
	})

	sort.SliceStable(sessions, func(i, j int) bool {
		return sessions[i].LastActivity > sessions[j].LastActivity
	})
	return sessions
}

// buildSession joins the live caches (status, pane, permission, question,
// slug, summary) onto a session record.
func (s *Store) buildSession(sessionID, display string, timestamp, lastActivity float64, project string) Session {
	session := Session{
		ID:           sessionID,
		Display:      display,
		Timestamp:    timestamp,
		LastActivity: lastActivity,
		Project:      project,
		ProjectName:  ProjectName(project),
		Status:       s.Status(sessionID),
	}
	if pane, ok := s.Pane(sessionID); ok {
		session.PaneID = pane.PaneID
		session.PaneSession = pane.Session
		verified := pane.Verified
		session.PaneVerified = &verified
	}
	if msg, ok := s.PermissionMessage(sessionID); ok {
		session.PermissionMessage = msg
	}
	if data, ok := s.QuestionData(sessionID); ok {
		session.QuestionData = data
	}
	if slug, ok := s.SessionSlug(sessionID); ok {
		session.Slug = slug
	}
	if summary, ok := s.Summary(sessionID); ok {
		session.Summary = summary.Summary
	}
	return session
}

// Projects returns the distinct project paths in the roster, sorted.
func (s *Store) Projects() []string {
	entries := s.historyEntries()

	seen := make(map[string]struct{})
	projects := []string{}
	for _, entry := range entries {
		if entry.Project == "" {
			continue
		}
		if _, dup := seen[entry.Project]; dup {
			continue
		}
		seen[entry.Project] = struct{}{}
		projects = append(projects, entry.Project)
	}

	sort.Strings(projects)
	return projects
}

// findSessionByTimestamp picks the session log in a project directory whose
// mtime is closest to the given millisecond timestamp.
func findSessionByTimestamp(projectsDir, encodedProject string, timestamp float64) (string, bool) {
	files, err := os.ReadDir(filepath.Join(projectsDir, encodedProject))
	if err != nil {
		return "", false
	}

	closest := ""
	closestDiff := math.Inf(1)
	for _, file := range files {
		name := file.Name()
		if file.IsDir() || !strings.HasSuffix(name, ".jsonl") {
			continue
		}
		info, err := file.Info()
		if err != nil {
			continue
		}
		diff := math.Abs(unixMillis(info.ModTime().UnixMilli()) - timestamp)
		if diff < closestDiff {
			closestDiff = diff
			closest = strings.TrimSuffix(name, ".jsonl")
		}
	}

	if closest == "" {
		return "", false
	}
	return closest, true
}

func unixMillis(ms int64) float64 {
	return float64(ms)
}
