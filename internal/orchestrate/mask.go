// Package orchestrate runs QA sessions end to end: it drives the agent
// against a browser session, streams realtime findings, parses the final
// structured report, and persists everything.
package orchestrate

import "strings"

// maskToken replaces sensitive values wherever they would be persisted or
// streamed.
const maskToken = "****"

var sensitivePatterns = []string{
	"password", "passwd", "pass_word", "secret", "token",
	"api_key", "apikey", "otp", "pin", "mpin",
	"ssn", "social_security", "credit_card", "creditcard",
	"card_number", "cardnumber", "cvv", "cvc", "ccv",
	"mobile", "phone", "cell", "auth", "credential",
	"private_key", "privatekey", "access_key", "accesskey",
}

func normalizeKey(key string) string {
	key = strings.ToLower(key)
	key = strings.ReplaceAll(key, "-", "_")
	return strings.ReplaceAll(key, " ", "_")
}

// IsSensitiveKey reports whether an input-data key looks like it holds a
// credential or other value that must not appear in logs or reports.
// extra lists project-specific keys that are always sensitive.
func IsSensitiveKey(key string, extra []string) bool {
	norm := normalizeKey(key)
	for _, e := range extra {
		if normalizeKey(e) == norm {
			return true
		}
	}
	for _, pat := range sensitivePatterns {
		if strings.Contains(norm, pat) {
			return true
		}
	}
	return false
}

// MaskInputData returns a copy of data with sensitive values replaced by
// the mask token. The original map is not modified.
func MaskInputData(data map[string]string, extra []string) map[string]string {
	if data == nil {
		return nil
	}
	out := make(map[string]string, len(data))
	for k, v := range data {
		if IsSensitiveKey(k, extra) {
			out[k] = maskToken
		} else {
			out[k] = v
		}
	}
	return out
}

// MaskText replaces every occurrence of a sensitive input value in text.
// Values shorter than 4 characters are skipped to avoid shredding prose.
func MaskText(text string, data map[string]string, extra []string) string {
	for k, v := range data {
		if len(v) < 4 || !IsSensitiveKey(k, extra) {
			continue
		}
		text = strings.ReplaceAll(text, v, maskToken)
	}
	return text
}
