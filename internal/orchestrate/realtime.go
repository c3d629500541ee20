package orchestrate

import (
	"encoding/json"
	"strings"
	"sync"

	"go.uber.org/zap"

	"sentinel/internal/types"
)

// issueMarker prefixes the single-line JSON the agent emits the moment it
// confirms a high-severity issue mid-session.
const issueMarker = "🚨 ISSUE_FOUND:"

// RealtimeIssue is a mid-session finding extracted from agent output.
type RealtimeIssue struct {
	RunID       string `json:"run_id"`
	Title       string `json:"title"`
	Severity    string `json:"severity"`
	Description string `json:"description"`
	Category    string `json:"category"`
}

// realtimeScanner extracts issue markers from streamed agent text and
// deduplicates by normalized title within a run.
type realtimeScanner struct {
	mu     sync.Mutex
	seen   map[string]struct{}
	logger *zap.Logger
}

func newRealtimeScanner(logger *zap.Logger) *realtimeScanner {
	return &realtimeScanner{seen: make(map[string]struct{}), logger: logger}
}

// Scan returns every new issue announced in chunk. Malformed marker lines
// are logged and skipped; the agent keeps running either way.
func (s *realtimeScanner) Scan(runID, chunk string) []RealtimeIssue {
	if !strings.Contains(chunk, issueMarker) {
		return nil
	}
	var found []RealtimeIssue
	for _, line := range strings.Split(chunk, "\n") {
		idx := strings.Index(line, issueMarker)
		if idx < 0 {
			continue
		}
		raw := strings.TrimSpace(line[idx+len(issueMarker):])
		var ri RealtimeIssue
		if err := json.Unmarshal([]byte(raw), &ri); err != nil || ri.Title == "" {
			s.logger.Warn("unparseable realtime issue marker",
				zap.String("run_id", runID), zap.String("line", raw))
			continue
		}
		key := strings.TrimSpace(ri.Title)
		s.mu.Lock()
		if _, dup := s.seen[key]; dup {
			s.mu.Unlock()
			continue
		}
		s.seen[key] = struct{}{}
		s.mu.Unlock()

		ri.RunID = runID
		ri.Severity = string(types.NormalizeSeverity(ri.Severity))
		found = append(found, ri)
	}
	return found
}

// count returns how many distinct issues were announced mid-session.
func (s *realtimeScanner) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.seen)
}

// SeenTitle reports whether a title was already announced mid-session, so
// final-summary persistence can skip duplicates.
func (s *realtimeScanner) SeenTitle(title string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.seen[strings.TrimSpace(title)]
	return ok
}
