package enrich

import (
	"regexp"
	"strings"
)

// Permissive on purpose: bios contain emails in every imaginable styling and
// a false positive costs one bad contact row, a false negative loses a lead.
var emailPattern = regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`)

// ExtractEmail returns the first email-looking token in text, lowercased, or
// "" when none is found.
func ExtractEmail(text string) string {
	m := emailPattern.FindString(text)
	if m == "" {
		return ""
	}
	return strings.ToLower(strings.Trim(m, "."))
}
