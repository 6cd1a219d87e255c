package textutil

import (
	"html"
	"strings"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
)

// MaxNoteLength caps free-text notes stored on payments and status history.
const MaxNoteLength = 500

var notePolicy = bluemonday.StrictPolicy()

// SanitizeNote strips markup, collapses whitespace and truncates to MaxNoteLength runes.
func SanitizeNote(raw string) string {
	if strings.TrimSpace(raw) == "" {
		return ""
	}
	cleaned := html.UnescapeString(notePolicy.Sanitize(raw))
	cleaned = strings.Join(strings.Fields(cleaned), " ")
	if utf8.RuneCountInString(cleaned) <= MaxNoteLength {
		return cleaned
	}
	runes := []rune(cleaned)
	return strings.TrimSpace(string(runes[:MaxNoteLength]))
}

// NormalizeAttributes trims keys and values, removing entries where either is empty.
func NormalizeAttributes(values map[string]string) map[string]string {
	if len(values) == 0 {
		return nil
	}
	result := make(map[string]string, len(values))
	for key, value := range values {
		trimmedKey, trimmedValue := strings.TrimSpace(key), strings.TrimSpace(value)
		if trimmedKey == "" || trimmedValue == "" {
			continue
		}
		result[trimmedKey] = trimmedValue
	}
	if len(result) == 0 {
		return nil
	}
	return result
}
