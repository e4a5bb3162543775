package watcher

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"clauderun/store"
)

func TestDispatchClassification(t *testing.T) {
	st := store.New(t.TempDir())
	w := New(st, 20*time.Millisecond)

	rosterSub := st.RosterTopic().Subscribe()
	defer rosterSub.Close()
	sessionSub := st.SessionTopic().Subscribe()
	defer sessionSub.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	w.dispatch(filepath.Join(st.ClaudeDir(), "history.jsonl"))
	if _, err := rosterSub.Recv(ctx); err != nil {
		t.Fatalf("roster change not published: %v", err)
	}

	sessionPath := filepath.Join(st.ProjectsDir(), "-home-u-proj", "sess1.jsonl")
	w.dispatch(sessionPath)
	change, err := sessionSub.Recv(ctx)
	if err != nil {
		t.Fatalf("session change not published: %v", err)
	}
	if change.SessionID != "sess1" || change.Path != sessionPath {
		t.Errorf("unexpected change %+v", change)
	}
	if path, ok := st.IndexPath("sess1"); !ok || path != sessionPath {
		t.Errorf("index not refreshed: %q %v", path, ok)
	}

	// Subagent logs and non-jsonl files never surface.
	w.dispatch(filepath.Join(st.ProjectsDir(), "-home-u-proj", "sess1", "subagents", "agent-a1.jsonl"))
	w.dispatch(filepath.Join(st.ClaudeDir(), "settings.json"))

	quick, quickCancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer quickCancel()
	if _, err := sessionSub.Recv(quick); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected no session event, got err=%v", err)
	}
}

func TestDebounceCoalescesBursts(t *testing.T) {
	st := store.New(t.TempDir())
	w := New(st, 30*time.Millisecond)

	sessionSub := st.SessionTopic().Subscribe()
	defer sessionSub.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	in := make(chan string, 16)
	go w.debounceLoop(ctx, in)

	path := filepath.Join(st.ProjectsDir(), "-p", "burst.jsonl")
	for i := 0; i < 5; i++ {
		in <- path
		time.Sleep(2 * time.Millisecond)
	}

	recvCtx, recvCancel := context.WithTimeout(context.Background(), time.Second)
	defer recvCancel()
	if _, err := sessionSub.Recv(recvCtx); err != nil {
		t.Fatalf("debounced event never fired: %v", err)
	}

	// The burst collapsed into exactly one notification.
	quiet, quietCancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer quietCancel()
	if _, err := sessionSub.Recv(quiet); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected a single event for the burst, got second (err=%v)", err)
	}
}

func TestDebounceIndependentPaths(t *testing.T) {
	st := store.New(t.TempDir())
	w := New(st, 20*time.Millisecond)

	sessionSub := st.SessionTopic().Subscribe()
	defer sessionSub.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	in := make(chan string, 16)
	go w.debounceLoop(ctx, in)

	in <- filepath.Join(st.ProjectsDir(), "-p", "a.jsonl")
	in <- filepath.Join(st.ProjectsDir(), "-p", "b.jsonl")

	recvCtx, recvCancel := context.WithTimeout(context.Background(), time.Second)
	defer recvCancel()

	got := map[string]bool{}
	for i := 0; i < 2; i++ {
		change, err := sessionSub.Recv(recvCtx)
		if err != nil {
			t.Fatalf("missing event %d: %v", i, err)
		}
		got[change.SessionID] = true
	}
	if !got["a"] || !got["b"] {
		t.Errorf("expected events for both paths, got %v", got)
	}
}
