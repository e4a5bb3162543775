package store

import (
	"os"
	"path/filepath"
	"strings"
)

// EncodeProjectPath maps a project path to the directory name its logs live
// under: '/' and '.' both become '-'.
func EncodeProjectPath(path string) string {
	return strings.Map(func(r rune) rune {
		if r == '/' || r == '.' {
			return '-'
		}
		return r
	}, path)
}

// DecodeProjectPath reverses the encoding, assuming every '-' was a '/'.
// Dots and literal dashes in the original path are lost; the result is a
// best-effort display path.
func DecodeProjectPath(encoded string) string {
	if strings.HasPrefix(encoded, "-") {
		return strings.ReplaceAll(encoded, "-", "/")
	}
	return encoded
}

// ProjectName returns the last non-empty path segment of a project path.
func ProjectName(projectPath string) string {
	segments := strings.Split(projectPath, "/")
	for i := len(segments) - 1; i >= 0; i-- {
		if segments[i] != "" {
			return segments[i]
		}
	}
	return projectPath
}

// BuildIndex scans the projects directory and maps every session id to its
// log file path. Files nested deeper than one level (subagent logs) are not
// sessions and are skipped by the one-level walk.
func (s *Store) BuildIndex() {
	dirs, err := os.ReadDir(s.projectsDir)
	if err != nil {
		return
	}

	for _, dir := range dirs {
		if !dir.IsDir() {
			continue
		}
		files, err := os.ReadDir(filepath.Join(s.projectsDir, dir.Name()))
		if err != nil {
			continue
		}
		for _, file := range files {
			name := file.Name()
			if file.IsDir() || !strings.HasSuffix(name, ".jsonl") {
				continue
			}
			sessionID := strings.TrimSuffix(name, ".jsonl")
			s.fileIndex.Set(sessionID, filepath.Join(s.projectsDir, dir.Name(), name))
		}
	}
}

// SetIndexPath records or refreshes a session's log file path, typically
// from a watcher event.
func (s *Store) SetIndexPath(sessionID, path string) {
	s.fileIndex.Set(sessionID, path)
}

// IndexPath returns the indexed log file path for a session, without
// falling back to a disk scan.
func (s *Store) IndexPath(sessionID string) (string, bool) {
	return s.fileIndex.Get(sessionID)
}

// FindSessionFile resolves a session id to its log file path: index first,
// then a scan of the project directories that back-fills the index on a hit.
func (s *Store) FindSessionFile(sessionID string) (string, bool) {
	if path, ok := s.fileIndex.Get(sessionID); ok {
		return path, true
	}

	target := sessionID + ".jsonl"
	dirs, err := os.ReadDir(s.projectsDir)
	if err != nil {
		return "", false
	}
	for _, dir := range dirs {
		if !dir.IsDir() {
			continue
		}
		files, err := os.ReadDir(filepath.Join(s.projectsDir, dir.Name()))
		if err != nil {
			continue
		}
		for _, file := range files {
			if file.Name() == target {
				path := filepath.Join(s.projectsDir, dir.Name(), target)
				s.fileIndex.Set(sessionID, path)
				return path, true
			}
		}
	}
	return "", false
}
