package orchestrate

import (
	"encoding/json"
	"errors"
	"regexp"
	"strings"

	"sentinel/internal/types"
)

var fencedJSON = regexp.MustCompile("(?s)```json\\s*(.*?)```")

// ErrNoSummary is returned when none of the extraction stages yield a
// parseable report.
var ErrNoSummary = errors.New("orchestrate: no structured summary in agent output")

// ParseSummary extracts the structured test report from the agent's final
// text. Three stages are tried in order: a fenced json code block, the
// outermost brace-balanced object, and finally the whole trimmed text.
func ParseSummary(text string) (*types.StructuredSummary, error) {
	if m := fencedJSON.FindStringSubmatch(text); m != nil {
		if s, err := decodeSummary(m[1]); err == nil {
			return s, nil
		}
	}
	if raw := outermostObject(text); raw != "" {
		if s, err := decodeSummary(raw); err == nil {
			return s, nil
		}
	}
	if s, err := decodeSummary(strings.TrimSpace(text)); err == nil {
		return s, nil
	}
	return nil, ErrNoSummary
}

func decodeSummary(raw string) (*types.StructuredSummary, error) {
	raw = strings.TrimSpace(raw)
	if !strings.HasPrefix(raw, "{") {
		return nil, errors.New("not a JSON object")
	}
	var s types.StructuredSummary
	if err := json.Unmarshal([]byte(raw), &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// outermostObject returns the first top-level {...} span in text, tracking
// brace depth while skipping string literals.
func outermostObject(text string) string {
	start := -1
	depth := 0
	inString := false
	escaped := false
	for i, r := range text {
		if inString {
			switch {
			case escaped:
				escaped = false
			case r == '\\':
				escaped = true
			case r == '"':
				inString = false
			}
			continue
		}
		switch r {
		case '"':
			if depth > 0 {
				inString = true
			}
		case '{':
			if depth == 0 {
				start = i
			}
			depth++
		case '}':
			if depth > 0 {
				depth--
				if depth == 0 {
					return text[start : i+1]
				}
			}
		}
	}
	return ""
}
