// Package prompt builds the QA agent's system prompt and task text:
// persona profiles, locale checks, severity rubric, and the structured
// output contract.
package prompt

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"sentinel/internal/types"
)

// Persona is a canned user behavior profile.
type Persona struct {
	Key      string
	Label    string
	Behavior string
}

// Personas lists the built-in testing personas, in rotation order.
var Personas = []Persona{
	{
		Key:   "first_time_user",
		Label: "First-Time User",
		Behavior: "You are a FIRST-TIME user who has never used this app before. " +
			"You are unfamiliar with the layout and features. You read every label, " +
			"look for obvious affordances (buttons, links), and may try incorrect paths " +
			"before finding the right one. You are easily confused by jargon, unclear " +
			"icons, or non-standard UI patterns. If something is not obvious within 5 seconds, " +
			"flag it as a UX issue. You type slowly and sometimes make typos.",
	},
	{
		Key:   "power_user",
		Label: "Power User",
		Behavior: "You are a POWER USER who uses apps like this daily. You expect keyboard " +
			"shortcuts, fast navigation, and efficient workflows. You try to skip steps, " +
			"use browser back/forward aggressively, and find the fastest path through any " +
			"flow. You are frustrated by unnecessary confirmation dialogs, forced delays, " +
			"or redundant steps. Flag any workflow inefficiencies.",
	},
	{
		Key:   "elderly_user",
		Label: "Elderly / Low Vision User",
		Behavior: "You are an ELDERLY user with reduced vision. You rely on large text, high " +
			"contrast, and clear labels. Tiny touch targets frustrate you. You double-tap " +
			"things accidentally, scroll slowly, and may not notice small UI changes. " +
			"Flag any text smaller than ~14px, low-contrast elements, touch targets under " +
			"44x44px, or confusing navigation as accessibility issues.",
	},
	{
		Key:   "non_technical_user",
		Label: "Non-Technical User",
		Behavior: "You are a NON-TECHNICAL user who is intimidated by technology. You expect " +
			"everything to be self-explanatory. Error messages with technical jargon " +
			"confuse you. You don't understand what 'HTTP 500' means, you just know it's " +
			"broken. You might try clicking non-interactive elements, confuse icons for " +
			"buttons, or miss subtle UI cues. Flag any confusing error messages, unclear " +
			"labels, or unintuitive interactions.",
	},
	{
		Key:   "impatient_user",
		Label: "Impatient / Rushing User",
		Behavior: "You are an IMPATIENT user in a hurry. You click buttons before pages finish " +
			"loading, rapidly scroll past content, skip reading instructions, submit forms " +
			"with partial data, and double-click everything. You expect instant feedback. " +
			"If a loading spinner shows for more than 2 seconds, you try clicking again. " +
			"Flag race conditions, missing loading states, double-submit issues, and slow responses.",
	},
	{
		Key:   "adversarial_user",
		Label: "Adversarial / Edge-Case Tester",
		Behavior: "You are an ADVERSARIAL user trying to break things. You enter SQL injection " +
			"strings, XSS payloads, extremely long text, special characters (emoji, RTL text, " +
			"zero-width spaces), and boundary values (0, -1, 999999). You try to access " +
			"pages out of order, manipulate URL parameters, and exploit any input field. " +
			"Flag any input that causes errors, layout breakage, or unexpected behavior.",
	},
}

// PersonaByKey returns the persona for a key, or false when unknown.
func PersonaByKey(key string) (Persona, bool) {
	for _, p := range Personas {
		if p.Key == key {
			return p, true
		}
	}
	return Persona{}, false
}

// PersonaKeys returns all persona keys in rotation order.
func PersonaKeys() []string {
	keys := make([]string, len(Personas))
	for i, p := range Personas {
		keys[i] = p.Key
	}
	return keys
}

var localeLanguages = map[string]string{
	"af": "Afrikaans", "ar": "Arabic", "bg": "Bulgarian", "bn": "Bengali",
	"ca": "Catalan", "cs": "Czech", "da": "Danish", "de": "German",
	"el": "Greek", "en": "English", "es": "Spanish", "et": "Estonian",
	"fa": "Farsi", "fi": "Finnish", "fr": "French", "gu": "Gujarati",
	"he": "Hebrew", "hi": "Hindi", "hr": "Croatian", "hu": "Hungarian",
	"id": "Indonesian", "it": "Italian", "ja": "Japanese", "kn": "Kannada",
	"ko": "Korean", "lt": "Lithuanian", "lv": "Latvian", "ml": "Malayalam",
	"mr": "Marathi", "ms": "Malay", "nb": "Norwegian", "nl": "Dutch",
	"pl": "Polish", "pt": "Portuguese", "ro": "Romanian", "ru": "Russian",
	"sk": "Slovak", "sl": "Slovenian", "sr": "Serbian", "sv": "Swedish",
	"sw": "Swahili", "ta": "Tamil", "te": "Telugu", "th": "Thai",
	"tr": "Turkish", "uk": "Ukrainian", "ur": "Urdu", "vi": "Vietnamese",
	"zh": "Chinese",
}

// LanguageName maps a locale code like "fr-FR" to a language name.
// Unknown codes are returned as-is.
func LanguageName(locale string) string {
	code := strings.ToLower(strings.SplitN(locale, "-", 2)[0])
	if name, ok := localeLanguages[code]; ok {
		return name
	}
	return locale
}

// Params carry run-specific context into the system prompt.
type Params struct {
	DeviceLabel  string
	NetworkLabel string
	TargetURL    string
	PersonaKey   string
	Locale       string
	Now          time.Time
}

// System renders the full QA system prompt.
func System(p Params) string {
	if p.Now.IsZero() {
		p.Now = time.Now()
	}

	var b strings.Builder
	fmt.Fprintf(&b, `<SYSTEM_CAPABILITY>
* You are Sentinel, an expert QA tester driving a real Chrome browser.
* You are testing on an emulated %s over a %s network connection.
* You interact with the page through the browser_action tool; every action returns a fresh screenshot.
* The current date is %s.
</SYSTEM_CAPABILITY>
`, p.DeviceLabel, p.NetworkLabel, p.Now.Format("Monday, January 2, 2006"))

	if persona, ok := PersonaByKey(p.PersonaKey); ok {
		fmt.Fprintf(&b, `
<PERSONA>
You are testing as: **%s**
%s
Incorporate this persona into your testing approach. Your issue reports should reflect
what THIS type of user would experience and struggle with.
</PERSONA>
`, persona.Label, persona.Behavior)
	}

	if p.Locale != "" && p.Locale != "en-US" {
		lang := LanguageName(p.Locale)
		fmt.Fprintf(&b, `
<MULTI_LANGUAGE_TESTING>
The browser locale is set to **%s** (%s).
You MUST check for these localisation issues:
* Untranslated strings: any English text that should be in %s. Flag as P2.
* Truncated translations: text cut off because the translation is longer than English. Flag as P2.
* Layout breakage: UI elements overlapping or misaligned due to text length differences. Flag as P1.
* Date/number format: dates, currencies, and numbers should match %s conventions.
* RTL issues (if applicable): for Arabic, Hebrew, Urdu, Farsi, check that layout is mirrored correctly.
* Character encoding: garbled or missing characters (mojibake). Flag as P1.
* Placeholder text: form placeholders still in English or showing raw i18n keys. Flag as P2.
Report any localisation issues with category "visual" and include the untranslated/broken text in the description.
</MULTI_LANGUAGE_TESTING>
`, p.Locale, lang, lang, p.Locale)
	}

	b.WriteString(accessibilitySection)
	b.WriteString(toolUsageSection)
	b.WriteString(testingGuidelines)
	b.WriteString(captchaSection)
	b.WriteString(uxConfusionSection)
	b.WriteString(severitySection)
	b.WriteString(outputFormatSection)
	b.WriteString(realtimeSection)
	return b.String()
}

// ComposeTask builds the run task from the target URL, the base task, and
// optional test input data. The URL is always restated even when the base
// task mentions it.
func ComposeTask(targetURL, baseTask string, inputData map[string]string) string {
	task := fmt.Sprintf("Navigate to %s and %s", targetURL, baseTask)
	if len(inputData) == 0 {
		return task
	}
	var b strings.Builder
	b.WriteString(task)
	b.WriteString("\n\nUse the following test input data where the flow requires it:\n")
	for _, key := range sortedKeys(inputData) {
		fmt.Fprintf(&b, "* %s: %s\n", key, inputData[key])
	}
	return b.String()
}

// VerificationTask builds the focused re-run task for flaky verification.
// Descriptions are truncated so the consolidated task stays compact.
func VerificationTask(targetURL string, issues []types.Issue) string {
	var lines []string
	for i, issue := range issues {
		desc := issue.Description
		if desc == "" {
			desc = "No description"
		}
		if len(desc) > 200 {
			desc = desc[:200]
		}
		lines = append(lines, fmt.Sprintf("%d. [%s] %s: %s", i+1, issue.Severity, issue.Title, desc))
	}
	return fmt.Sprintf(
		"Navigate to %s and VERIFY the following issues. "+
			"For each issue, try to reproduce it using the same steps. "+
			"Report ONLY these specific issues if you can reproduce them. "+
			"If an issue does not reproduce, note it in tests_passed.\n\n"+
			"Issues to verify:\n%s",
		targetURL, strings.Join(lines, "\n"))
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
