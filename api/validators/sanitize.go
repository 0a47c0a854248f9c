package validators

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// SanitizeString trims input, drops control characters and caps it at
// maxLen bytes without splitting a UTF-8 sequence. maxLen <= 0 means no cap.
func SanitizeString(input string, maxLen int) string {
	clean := strings.TrimSpace(strings.Map(func(r rune) rune {
		if unicode.IsControl(r) && r != '\n' && r != '\t' {
			return -1
		}
		return r
	}, input))
	if maxLen <= 0 || len(clean) <= maxLen {
		return clean
	}
	cut := maxLen
	for cut > 0 && !utf8.RuneStart(clean[cut]) {
		cut--
	}
	return strings.TrimSpace(clean[:cut])
}

// SanitizeOptional is SanitizeString for optional fields; blank becomes nil.
func SanitizeOptional(input *string, maxLen int) *string {
	if input == nil {
		return nil
	}
	if v := SanitizeString(*input, maxLen); v != "" {
		return &v
	}
	return nil
}
