package summarizer

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"clauderun/store"
)

type fakeGenerator struct {
	calls   atomic.Int64
	summary string
}

func (g *fakeGenerator) Summarize(_ context.Context, prompt string) (string, error) {
	g.calls.Add(1)
	if !strings.Contains(prompt, "<messages>") {
		return "", fmt.Errorf("prompt missing messages block")
	}
	return g.summary, nil
}

func writeSession(t *testing.T, st *store.Store, sessionID string, userMessages int) {
	t.Helper()
	dir := filepath.Join(st.ProjectsDir(), "-home-u-proj")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	var content strings.Builder
	for i := 0; i < userMessages; i++ {
		fmt.Fprintf(&content, `{"type":"user","message":{"role":"user","content":"message %d"}}`+"\n", i)
	}
	if err := os.WriteFile(filepath.Join(dir, sessionID+".jsonl"), []byte(content.String()), 0o644); err != nil {
		t.Fatal(err)
	}
}

func waitForSummary(t *testing.T, st *store.Store, sessionID string) store.SummaryEntry {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if entry, ok := st.Summary(sessionID); ok {
			return entry
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("summary never generated")
	return store.SummaryEntry{}
}

func TestSummarizerGeneratesAboveThreshold(t *testing.T) {
	st := store.New(t.TempDir())
	writeSession(t, st, "sess1", Threshold)
	st.BuildIndex()

	gen := &fakeGenerator{summary: "Refactoring the parser"}
	sum := New(st, gen)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sum.Run(ctx)
	time.Sleep(20 * time.Millisecond)

	st.SessionTopic().Publish(store.SessionChange{SessionID: "sess1"})

	entry := waitForSummary(t, st, "sess1")
	if entry.Summary != "Refactoring the parser" {
		t.Errorf("got %q", entry.Summary)
	}
	if entry.MessageCount != Threshold {
		t.Errorf("message count %d, want %d", entry.MessageCount, Threshold)
	}

	// Persisted for the next start.
	data, err := os.ReadFile(filepath.Join(st.ClaudeDir(), "cache", "claude-run-summaries.json"))
	if err != nil {
		t.Fatalf("summaries not persisted: %v", err)
	}
	if !strings.Contains(string(data), "Refactoring the parser") {
		t.Errorf("persisted file missing summary: %s", data)
	}

	// A fresh store picks the summary up from disk.
	restarted := store.New(st.ClaudeDir())
	New(restarted, gen).LoadSummaries()
	if entry, ok := restarted.Summary("sess1"); !ok || entry.Summary != "Refactoring the parser" {
		t.Errorf("restored entry %+v ok=%v", entry, ok)
	}
}

func TestSummarizerBelowThresholdSkips(t *testing.T) {
	st := store.New(t.TempDir())
	writeSession(t, st, "sess1", Threshold-1)
	st.BuildIndex()

	gen := &fakeGenerator{summary: "should not appear"}
	sum := New(st, gen)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sum.Run(ctx)
	time.Sleep(20 * time.Millisecond)

	st.SessionTopic().Publish(store.SessionChange{SessionID: "sess1"})
	time.Sleep(100 * time.Millisecond)

	if gen.calls.Load() != 0 {
		t.Errorf("generator called %d times below threshold", gen.calls.Load())
	}
	if _, ok := st.Summary("sess1"); ok {
		t.Error("summary cached below threshold")
	}
}

func TestSummarizerRegenerationGate(t *testing.T) {
	st := store.New(t.TempDir())
	writeSession(t, st, "sess1", Threshold)
	st.BuildIndex()

	// An existing summary at the current count blocks regeneration until
	// Threshold more messages arrive.
	st.SetSummary("sess1", "existing", Threshold)

	gen := &fakeGenerator{summary: "fresh"}
	sum := New(st, gen)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sum.Run(ctx)
	time.Sleep(20 * time.Millisecond)

	st.SessionTopic().Publish(store.SessionChange{SessionID: "sess1"})
	time.Sleep(100 * time.Millisecond)
	if gen.calls.Load() != 0 {
		t.Fatalf("regenerated too early, %d calls", gen.calls.Load())
	}

	writeSession(t, st, "sess1", Threshold*2)
	st.SessionTopic().Publish(store.SessionChange{SessionID: "sess1"})

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if entry, _ := st.Summary("sess1"); entry.Summary == "fresh" {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("summary never regenerated after threshold")
}

func TestSummarizerRejectsOverlongSummary(t *testing.T) {
	st := store.New(t.TempDir())
	writeSession(t, st, "sess1", Threshold)
	st.BuildIndex()

	gen := &fakeGenerator{summary: strings.Repeat("x", maxSummaryLength+1)}
	sum := New(st, gen)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sum.Run(ctx)
	time.Sleep(20 * time.Millisecond)

	st.SessionTopic().Publish(store.SessionChange{SessionID: "sess1"})

	deadline := time.Now().Add(500 * time.Millisecond)
	for time.Now().Before(deadline) {
		if gen.calls.Load() > 0 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	time.Sleep(50 * time.Millisecond)
	if _, ok := st.Summary("sess1"); ok {
		t.Error("overlong summary should be discarded")
	}
}
