// Package watcher turns raw filesystem events on the data directory into
// debounced, classified change notifications on the store's topics.
package watcher

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"clauderun/log"
	"clauderun/store"
)

const (
	eventBuffer   = 256
	debounceCheck = 5 * time.Millisecond
)

// Watcher follows the data directory and publishes roster and session
// changes after a per-path quiescence window, so bursts of writes to the
// same file collapse into one notification.
type Watcher struct {
	store    *store.Store
	debounce time.Duration
	events   chan string
	fsw      *fsnotify.Watcher
}

// New creates a watcher over the store's data directory.
func New(st *store.Store, debounce time.Duration) *Watcher {
	return &Watcher{
		store:    st,
		debounce: debounce,
		events:   make(chan string, eventBuffer),
	}
}

// Start begins watching. The claude dir is watched flat (for
// history.jsonl); the projects tree is watched recursively, with
// directories created later added as they appear. Stops when ctx ends.
func (w *Watcher) Start(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	w.fsw = fsw

	if err := fsw.Add(w.store.ClaudeDir()); err != nil {
		log.Warn().Err(err).Str("dir", w.store.ClaudeDir()).Msg("failed to watch claude dir")
	}
	if _, err := os.Stat(w.store.ProjectsDir()); err == nil {
		w.addRecursive(w.store.ProjectsDir())
	}

	log.Info().
		Str("claudeDir", w.store.ClaudeDir()).
		Str("projectsDir", w.store.ProjectsDir()).
		Dur("debounce", w.debounce).
		Msg("watcher started")

	go w.readLoop(ctx)
	go w.debounceLoop(ctx, w.events)
	return nil
}

func (w *Watcher) addRecursive(root string) {
	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if err := w.fsw.Add(path); err != nil {
				log.Warn().Err(err).Str("dir", path).Msg("failed to watch dir")
			}
		}
		return nil
	})
	if err != nil {
		log.Warn().Err(err).Str("dir", root).Msg("failed to walk dir")
	}
}

// readLoop drains fsnotify on a dedicated goroutine so the kernel queue
// never backs up, forwarding paths into the bounded event channel.
func (w *Watcher) readLoop(ctx context.Context) {
	defer w.fsw.Close()

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if event.Has(fsnotify.Create) {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					w.addRecursive(event.Name)
				}
			}
			select {
			case w.events <- event.Name:
			case <-ctx.Done():
				return
			}
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			log.Warn().Err(err).Msg("watcher error")
		}
	}
}

// debounceLoop holds each path until it has been quiet for the debounce
// window, then dispatches it once. Distinct paths debounce independently.
func (w *Watcher) debounceLoop(ctx context.Context, in <-chan string) {
	pending := make(map[string]time.Time)

	for {
		if len(pending) == 0 {
			select {
			case <-ctx.Done():
				return
			case path, ok := <-in:
				if !ok {
					return
				}
				pending[path] = time.Now()
			}
		}

		// Drain whatever else is queued without blocking.
		for drained := false; !drained; {
			select {
			case path, ok := <-in:
				if !ok {
					drained = true
					break
				}
				pending[path] = time.Now()
			default:
				drained = true
			}
		}

		now := time.Now()
		for path, last := range pending {
			if now.Sub(last) >= w.debounce {
				delete(pending, path)
				w.dispatch(path)
			}
		}

		if len(pending) > 0 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(debounceCheck):
			}
		}
	}
}

// dispatch classifies a quiesced path. history.jsonl flips the roster dirty
// flag; a session log refreshes the index; subagent logs and everything
// else are ignored.
func (w *Watcher) dispatch(path string) {
	switch {
	case strings.HasSuffix(path, "history.jsonl"):
		log.Debug().Str("path", path).Msg("roster changed")
		w.store.InvalidateHistory()
		w.store.RosterTopic().Publish(struct{}{})
	case strings.HasSuffix(path, ".jsonl") && !strings.Contains(path, "/subagents/"):
		sessionID := strings.TrimSuffix(filepath.Base(path), ".jsonl")
		log.Debug().Str("session", sessionID).Msg("session log changed")
		w.store.SetIndexPath(sessionID, path)
		w.store.SessionTopic().Publish(store.SessionChange{SessionID: sessionID, Path: path})
	}
}
