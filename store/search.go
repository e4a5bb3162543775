package store

import (
	"os"
	"sort"
	"strings"
	"sync"
)

const (
	searchSnippetContext = 60
	searchTextLimit      = 200
)

// SearchConversations scans every visible session's log for a
// case-insensitive substring match, one goroutine per session. Results come
// back newest first; sessions without matches are omitted.
func (s *Store) SearchConversations(query string) []SearchResult {
	query = strings.TrimSpace(query)
	if query == "" {
		return []SearchResult{}
	}

	sessions := s.Sessions()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		results []SearchResult
	)

	for _, session := range sessions {
		path, ok := s.FindSessionFile(session.ID)
		if !ok {
			continue
		}

		wg.Add(1)
		go func(session Session, path string) {
			defer wg.Done()

			matches := searchSessionFile(path, query)
			if len(matches) == 0 {
				return
			}

			mu.Lock()
			results = append(results, SearchResult{
				SessionID:   session.ID,
				Display:     session.Display,
				ProjectName: session.ProjectName,
				Timestamp:   session.Timestamp,
				Matches:     matches,
			})
			mu.Unlock()
		}(session, path)
	}
	wg.Wait()

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Timestamp > results[j].Timestamp
	})
	if results == nil {
		return []SearchResult{}
	}
	return results
}

// searchSessionFile collects the user/assistant messages in one log that
// contain the query, with a snippet around the first occurrence.
func searchSessionFile(path, query string) []SearchMatch {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil
	}

	lowerQuery := strings.ToLower(query)
	var matches []SearchMatch
	messageIndex := 0

	for _, line := range strings.Split(string(data), "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		msg, err := parseConversationLine([]byte(line))
		if err != nil {
			continue
		}
		if msg.Type != "user" && msg.Type != "assistant" {
			continue
		}

		text := extractMessageText(msg)
		if strings.Contains(strings.ToLower(text), lowerQuery) {
			matches = append(matches, SearchMatch{
				MessageIndex: messageIndex,
				Text:         truncateRunes(text, searchTextLimit),
				Snippet:      createSnippet(text, query, searchSnippetContext),
			})
		}
		messageIndex++
	}

	return matches
}

// createSnippet cuts a window of contextLength bytes around the first
// case-insensitive occurrence of query, aligned to rune boundaries, with
// ellipses marking truncation.
func createSnippet(text, query string, contextLength int) string {
	lowerText := strings.ToLower(text)
	lowerQuery := strings.ToLower(query)

	index := strings.Index(lowerText, lowerQuery)
	if index < 0 {
		return truncateRunes(text, contextLength*2)
	}

	start := index - contextLength
	if start < 0 {
		start = 0
	}
	end := index + len(query) + contextLength
	if end > len(text) {
		end = len(text)
	}

	start = floorRuneBoundary(text, start)
	end = ceilRuneBoundary(text, end)

	snippet := text[start:end]
	if start > 0 {
		snippet = "..." + snippet
	}
	if end < len(text) {
		snippet = snippet + "..."
	}
	return snippet
}

func truncateRunes(text string, limit int) string {
	runes := []rune(text)
	if len(runes) > limit {
		runes = runes[:limit]
	}
	return string(runes)
}

// floorRuneBoundary moves an index down to the start of the rune it lands in.
func floorRuneBoundary(s string, i int) int {
	for i > 0 && i < len(s) && !isRuneStart(s[i]) {
		i--
	}
	return i
}

// ceilRuneBoundary moves an index up to the next rune start (or the end).
func ceilRuneBoundary(s string, i int) int {
	for i < len(s) && !isRuneStart(s[i]) {
		i++
	}
	return i
}

func isRuneStart(b byte) bool {
	return b&0xC0 != 0x80
}
