package store

import (
	"encoding/json"
	"os"
	"strings"
)

// CountMessages returns the number of user and assistant lines in a
// session's log. The count is cached keyed on the exact file size, so an
// unchanged file is never re-read and any size change forces a recount.
func (s *Store) CountMessages(sessionID string) int {
	path, ok := s.FindSessionFile(sessionID)
	if !ok {
		return 0
	}

	info, err := os.Stat(path)
	if err != nil {
		return 0
	}
	fileSize := info.Size()

	if cached, ok := s.counts.Get(sessionID); ok && cached.fileSize == fileSize {
		return cached.count
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return 0
	}

	count := 0
	for _, line := range strings.Split(string(data), "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		var probe struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal([]byte(line), &probe); err != nil {
			continue
		}
		if probe.Type == "user" || probe.Type == "assistant" {
			count++
		}
	}

	s.counts.Set(sessionID, countEntry{count: count, fileSize: fileSize})
	return count
}

// SessionSlug returns the slug recorded in the session's log, scanning the
// file once and caching the outcome either way.
func (s *Store) SessionSlug(sessionID string) (string, bool) {
	if cached, ok := s.slugs.Get(sessionID); ok {
		return cached.slug, cached.ok
	}

	path, ok := s.FindSessionFile(sessionID)
	if !ok {
		s.slugs.Set(sessionID, slugEntry{})
		return "", false
	}

	data, err := os.ReadFile(path)
	if err != nil {
		s.slugs.Set(sessionID, slugEntry{})
		return "", false
	}

	for _, line := range strings.Split(string(data), "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		var probe struct {
			Slug string `json:"slug"`
		}
		if err := json.Unmarshal([]byte(line), &probe); err != nil {
			continue
		}
		if probe.Slug != "" {
			s.slugs.Set(sessionID, slugEntry{slug: probe.Slug, ok: true})
			return probe.Slug, true
		}
	}

	s.slugs.Set(sessionID, slugEntry{})
	return "", false
}
