package orchestrate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestRealtimeScannerExtractsIssues(t *testing.T) {
	s := newRealtimeScanner(zap.NewNop())
	chunk := "Checking the cart now.\n" +
		`🚨 ISSUE_FOUND: {"title": "Cart crashes", "severity": "P0", "description": "500 on add", "category": "functional"}` +
		"\nContinuing with checkout."

	found := s.Scan("run-1", chunk)
	require.Len(t, found, 1)
	assert.Equal(t, "run-1", found[0].RunID)
	assert.Equal(t, "Cart crashes", found[0].Title)
	assert.Equal(t, "P0", found[0].Severity)
	assert.True(t, s.SeenTitle("Cart crashes"))
}

func TestRealtimeScannerDedupsByTitle(t *testing.T) {
	s := newRealtimeScanner(zap.NewNop())
	line := `🚨 ISSUE_FOUND: {"title": "Cart crashes", "severity": "P0", "description": "500"}`

	assert.Len(t, s.Scan("run-1", line), 1)
	assert.Empty(t, s.Scan("run-1", line), "same title reported twice")
	assert.Equal(t, 1, s.count())
}

func TestRealtimeScannerNormalizesSeverity(t *testing.T) {
	s := newRealtimeScanner(zap.NewNop())
	found := s.Scan("run-1", `🚨 ISSUE_FOUND: {"title": "Odd", "severity": "critical"}`)
	require.Len(t, found, 1)
	assert.Equal(t, "P2", found[0].Severity, "unknown severities default to P2")
}

func TestRealtimeScannerSkipsMalformedLines(t *testing.T) {
	s := newRealtimeScanner(zap.NewNop())
	assert.Empty(t, s.Scan("run-1", "🚨 ISSUE_FOUND: not json"))
	assert.Empty(t, s.Scan("run-1", `🚨 ISSUE_FOUND: {"severity": "P0"}`), "title is required")
	assert.Empty(t, s.Scan("run-1", "nothing to see here"))
}

func TestRealtimeScannerMultipleMarkersInOneChunk(t *testing.T) {
	s := newRealtimeScanner(zap.NewNop())
	chunk := `🚨 ISSUE_FOUND: {"title": "First", "severity": "P1"}` + "\n" +
		`🚨 ISSUE_FOUND: {"title": "Second", "severity": "P0"}`
	found := s.Scan("run-1", chunk)
	assert.Len(t, found, 2)
}
