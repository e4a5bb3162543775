package store

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeHistory(t *testing.T, s *Store, lines ...string) {
	t.Helper()
	content := ""
	for _, line := range lines {
		content += line + "\n"
	}
	if err := os.WriteFile(filepath.Join(s.ClaudeDir(), "history.jsonl"), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func historyLine(display, project, sessionID string, ts float64) string {
	return fmt.Sprintf(`{"display":%q,"timestamp":%f,"project":%q,"sessionId":%q}`, display, ts, project, sessionID)
}

func TestSessionsFromRoster(t *testing.T) {
	s := newTestStore(t)
	writeSessionFile(t, s, "/home/u/proj", "sess1", userLine("hello")+assistantLine("hi"))
	writeHistory(t, s, historyLine("hello", "/home/u/proj", "sess1", 1000))
	s.Load()

	sessions := s.Sessions()
	if len(sessions) != 1 {
		t.Fatalf("got %d sessions, want 1", len(sessions))
	}
	got := sessions[0]
	if got.ID != "sess1" || got.Display != "hello" {
		t.Errorf("unexpected session %+v", got)
	}
	if got.ProjectName != "proj" {
		t.Errorf("project name %q, want proj", got.ProjectName)
	}
	if got.MessageCount != 2 {
		t.Errorf("message count %d, want 2", got.MessageCount)
	}
}

func TestSessionsDeduplicateRosterEntries(t *testing.T) {
	s := newTestStore(t)
	writeSessionFile(t, s, "/home/u/proj", "sess1", userLine("x"))
	writeHistory(t, s,
		historyLine("newer", "/home/u/proj", "sess1", 2000),
		historyLine("older", "/home/u/proj", "sess1", 1000),
	)
	s.Load()

	sessions := s.Sessions()
	if len(sessions) != 1 {
		t.Fatalf("got %d sessions, want 1", len(sessions))
	}
	if sessions[0].Display != "newer" {
		t.Errorf("first roster entry should win, got %q", sessions[0].Display)
	}
}

func TestSessionsIncludeOrphans(t *testing.T) {
	s := newTestStore(t)
	writeSessionFile(t, s, "/home/u/orphaned", "orphan1", userLine("orphan text"))
	// Zero displayable messages: excluded from the orphan pass.
	writeSessionFile(t, s, "/home/u/orphaned", "empty1", `{"type":"progress"}`+"\n")
	writeHistory(t, s)
	s.Load()

	sessions := s.Sessions()
	if len(sessions) != 1 {
		t.Fatalf("got %d sessions, want 1 orphan", len(sessions))
	}
	got := sessions[0]
	if got.ID != "orphan1" {
		t.Errorf("got id %q", got.ID)
	}
	if got.Display != "orphan text" {
		t.Errorf("orphan display %q, want first user message", got.Display)
	}
	if got.Project != "/home/u/orphaned" {
		t.Errorf("decoded project %q", got.Project)
	}
}

func TestSessionsPlaceholderDisplayRenamed(t *testing.T) {
	s := newTestStore(t)
	writeSessionFile(t, s, "/home/u/proj", "sess1", userLine("x"))
	writeHistory(t, s, historyLine(placeholderDisplay+" don't answer", "/home/u/proj", "sess1", 1000))
	s.Load()

	sessions := s.Sessions()
	if len(sessions) != 1 || sessions[0].Display != "New session" {
		t.Fatalf("placeholder not renamed: %+v", sessions)
	}
}

func TestSessionsSortedByLastActivity(t *testing.T) {
	s := newTestStore(t)
	oldPath := writeSessionFile(t, s, "/home/u/proj", "older", userLine("a"))
	writeSessionFile(t, s, "/home/u/proj", "newer", userLine("b"))
	writeHistory(t, s,
		historyLine("a", "/home/u/proj", "older", 1000),
		historyLine("b", "/home/u/proj", "newer", 2000),
	)
	past := time.Now().Add(-time.Hour)
	if err := os.Chtimes(oldPath, past, past); err != nil {
		t.Fatal(err)
	}
	s.Load()

	sessions := s.Sessions()
	if len(sessions) != 2 {
		t.Fatalf("got %d sessions, want 2", len(sessions))
	}
	if sessions[0].ID != "newer" {
		t.Errorf("order wrong: %q first", sessions[0].ID)
	}
}

func TestSessionsDirtyFlagReloadsRoster(t *testing.T) {
	s := newTestStore(t)
	writeSessionFile(t, s, "/home/u/proj", "sess1", userLine("x"))
	writeHistory(t, s, historyLine("before", "/home/u/proj", "sess1", 1000))
	s.Load()

	if got := s.Sessions(); got[0].Display != "before" {
		t.Fatalf("got %q", got[0].Display)
	}

	// Roster file changes behind the cache's back.
	writeHistory(t, s, historyLine("after", "/home/u/proj", "sess1", 1000))
	if got := s.Sessions(); got[0].Display != "before" {
		t.Fatalf("cache should serve until invalidated, got %q", got[0].Display)
	}

	s.InvalidateHistory()
	if got := s.Sessions(); got[0].Display != "after" {
		t.Fatalf("expected reload after invalidation, got %q", got[0].Display)
	}
}

func TestSessionsInferIDByTimestamp(t *testing.T) {
	s := newTestStore(t)
	closePath := writeSessionFile(t, s, "/home/u/proj", "close", userLine("a"))
	farPath := writeSessionFile(t, s, "/home/u/proj", "far", userLine("b"))

	now := time.Now()
	if err := os.Chtimes(closePath, now, now); err != nil {
		t.Fatal(err)
	}
	farTime := now.Add(-2 * time.Hour)
	if err := os.Chtimes(farPath, farTime, farTime); err != nil {
		t.Fatal(err)
	}

	ts := float64(now.UnixMilli())
	writeHistory(t, s, fmt.Sprintf(`{"display":"legacy","timestamp":%f,"project":"/home/u/proj"}`, ts))
	s.Load()

	sessions := s.Sessions()
	var legacy *Session
	for i := range sessions {
		if sessions[i].Display == "legacy" {
			legacy = &sessions[i]
		}
	}
	if legacy == nil {
		t.Fatal("legacy roster entry missing")
	}
	if legacy.ID != "close" {
		t.Errorf("inferred id %q, want close", legacy.ID)
	}
}

func TestDeleteSessionDurable(t *testing.T) {
	s := newTestStore(t)
	writeSessionFile(t, s, "/home/u/proj", "doomed", userLine("x"))
	writeSessionFile(t, s, "/home/u/proj", "kept", userLine("y"))
	writeHistory(t, s,
		historyLine("doomed", "/home/u/proj", "doomed", 1000),
		historyLine("kept", "/home/u/proj", "kept", 2000),
	)
	s.Load()

	if !s.DeleteSession("doomed") {
		t.Fatal("delete returned false")
	}

	for _, session := range s.Sessions() {
		if session.ID == "doomed" {
			t.Fatal("deleted session still listed")
		}
	}

	// A fresh store over the same dir must still hide it, even though the
	// log file is untouched on disk.
	restarted := New(s.ClaudeDir())
	restarted.Load()
	for _, session := range restarted.Sessions() {
		if session.ID == "doomed" {
			t.Fatal("deletion did not survive restart")
		}
	}

	data, err := os.ReadFile(filepath.Join(s.ClaudeDir(), "history.jsonl"))
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(data), "doomed") {
		t.Error("history.jsonl still carries the deleted entry")
	}
	if !strings.Contains(string(data), "kept") {
		t.Error("history.jsonl lost an unrelated entry")
	}
}

func TestDeleteSessionOrphanOnly(t *testing.T) {
	s := newTestStore(t)
	writeSessionFile(t, s, "/home/u/proj", "orphan", userLine("x"))
	writeHistory(t, s)
	s.Load()

	if !s.DeleteSession("orphan") {
		t.Fatal("orphan delete should succeed")
	}
	if s.DeleteSession("never-existed") {
		t.Fatal("unknown session delete should fail")
	}
}

func TestProjectsDistinctSorted(t *testing.T) {
	s := newTestStore(t)
	writeHistory(t, s,
		historyLine("a", "/home/u/zeta", "s1", 1),
		historyLine("b", "/home/u/alpha", "s2", 2),
		historyLine("c", "/home/u/zeta", "s3", 3),
		`{"display":"d","timestamp":4,"project":""}`,
	)
	s.Load()

	projects := s.Projects()
	want := []string{"/home/u/alpha", "/home/u/zeta"}
	if len(projects) != len(want) {
		t.Fatalf("got %v", projects)
	}
	for i := range want {
		if projects[i] != want[i] {
			t.Errorf("got %v, want %v", projects, want)
		}
	}
}
