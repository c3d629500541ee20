package prompt

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sentinel/internal/types"
)

func TestSystemIncludesPersonaAndDevice(t *testing.T) {
	out := System(Params{
		DeviceLabel:  "iPhone 14",
		NetworkLabel: "Slow 3G",
		TargetURL:    "https://shop.example.com",
		PersonaKey:   "elderly_user",
		Locale:       "en-US",
		Now:          time.Date(2026, 3, 9, 10, 0, 0, 0, time.UTC),
	})

	assert.Contains(t, out, "iPhone 14")
	assert.Contains(t, out, "Slow 3G")
	assert.Contains(t, out, "Elderly / Low Vision User")
	assert.Contains(t, out, "Monday, March 9, 2026")
	assert.NotContains(t, out, "MULTI_LANGUAGE_TESTING", "en-US must not trigger locale checks")
	assert.Contains(t, out, "🚨 ISSUE_FOUND:")
}

func TestSystemLocaleSection(t *testing.T) {
	out := System(Params{DeviceLabel: "Desktop", NetworkLabel: "Broadband", Locale: "ja-JP"})
	assert.Contains(t, out, "MULTI_LANGUAGE_TESTING")
	assert.Contains(t, out, "Japanese")
}

func TestSystemUnknownPersonaOmitsSection(t *testing.T) {
	out := System(Params{DeviceLabel: "Desktop", NetworkLabel: "Broadband", PersonaKey: "nope"})
	assert.NotContains(t, out, "<PERSONA>")
}

func TestLanguageName(t *testing.T) {
	assert.Equal(t, "French", LanguageName("fr-FR"))
	assert.Equal(t, "Hindi", LanguageName("hi"))
	assert.Equal(t, "tlh-KL", LanguageName("tlh-KL"))
}

func TestPersonaByKey(t *testing.T) {
	p, ok := PersonaByKey("adversarial_user")
	require.True(t, ok)
	assert.Equal(t, "Adversarial / Edge-Case Tester", p.Label)

	_, ok = PersonaByKey("ghost")
	assert.False(t, ok)
}

func TestComposeTask(t *testing.T) {
	task := ComposeTask("https://x.test", "complete checkout", nil)
	assert.Equal(t, "Navigate to https://x.test and complete checkout", task)

	task = ComposeTask("https://x.test", "sign up", map[string]string{
		"email":    "qa@test.dev",
		"password": "hunter2",
	})
	assert.Contains(t, task, "* email: qa@test.dev")
	assert.Contains(t, task, "* password: hunter2")
	// Keys render in sorted order.
	assert.Less(t, strings.Index(task, "email"), strings.Index(task, "password"))
}

func TestVerificationTask(t *testing.T) {
	long := strings.Repeat("x", 300)
	task := VerificationTask("https://x.test", []types.Issue{
		{Title: "Broken cart", Severity: types.SeverityP0, Description: "cart 500s"},
		{Title: "No desc", Severity: types.SeverityP1},
		{Title: "Long", Severity: types.SeverityP1, Description: long},
	})

	assert.Contains(t, task, "Navigate to https://x.test and VERIFY")
	assert.Contains(t, task, "1. [P0] Broken cart: cart 500s")
	assert.Contains(t, task, "2. [P1] No desc: No description")
	assert.Contains(t, task, "3. [P1] Long: "+long[:200])
	assert.NotContains(t, task, long[:201])
	assert.Contains(t, task, "note it in tests_passed")
}
