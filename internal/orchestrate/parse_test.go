package orchestrate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSummaryFencedBlock(t *testing.T) {
	text := "I finished testing. Here is my report:\n```json\n" +
		`{"summary": "Site mostly works", "tests_passed": ["login"], "issues": [{"title": "Broken cart", "severity": "P1", "description": "cart 500s"}]}` +
		"\n```\nDone."
	s, err := ParseSummary(text)
	require.NoError(t, err)
	assert.Equal(t, "Site mostly works", s.Summary)
	require.Len(t, s.Issues, 1)
	assert.Equal(t, "Broken cart", s.Issues[0].Title)
}

func TestParseSummaryBareObject(t *testing.T) {
	text := `Final report below.
{"summary": "ok", "tests_passed": [], "issues": [], "captcha_encountered": true, "captcha_details": "on login {page}"}
That is all.`
	s, err := ParseSummary(text)
	require.NoError(t, err)
	assert.True(t, s.CaptchaEncountered)
	assert.Equal(t, "on login {page}", s.CaptchaDetails, "braces inside strings must not confuse extraction")
}

func TestParseSummaryWholeText(t *testing.T) {
	s, err := ParseSummary(`  {"summary": "clean run", "tests_passed": ["a"], "issues": []}  `)
	require.NoError(t, err)
	assert.Equal(t, "clean run", s.Summary)
}

func TestParseSummaryMalformedFencePickedUpByBraceScan(t *testing.T) {
	// The fenced block is broken JSON but a valid object follows.
	text := "```json\nnot json\n```\n" +
		`{"summary": "recovered", "tests_passed": [], "issues": []}`
	s, err := ParseSummary(text)
	require.NoError(t, err)
	assert.Equal(t, "recovered", s.Summary)
}

func TestParseSummaryCaptchaOnly(t *testing.T) {
	// A report can legitimately carry nothing but the captcha flag.
	s, err := ParseSummary(`{"captcha_encountered": true, "captcha_details": "cloudflare interstitial"}`)
	require.NoError(t, err)
	assert.True(t, s.CaptchaEncountered)
	assert.Empty(t, s.Summary)
}

func TestParseSummaryAnyObjectAccepted(t *testing.T) {
	for _, text := range []string{"{}", `{"other": 1}`} {
		s, err := ParseSummary(text)
		require.NoError(t, err, text)
		assert.Empty(t, s.Issues)
	}
}

func TestParseSummaryFailure(t *testing.T) {
	for _, text := range []string{"", "no json here at all", "null", `["a"]`} {
		_, err := ParseSummary(text)
		assert.ErrorIs(t, err, ErrNoSummary, text)
	}
}
