package lookup

import (
	"regexp"
	"strings"
)

var (
	emailPattern  = regexp.MustCompile(`[\w.\-+]+@[\w.-]+`)
	phrasePattern = regexp.MustCompile(`(?i)(?:find|search for|look up|who is|who's)\s+(?:the\s+)?(?:applicant\s+)?['"]?([A-Za-z0-9\-._ ]{2,80})['"]?`)
)

const applicantPrefix = "applicant:"

// FindQuery extracts a lookup term when message asks for an applicant
// record. Detection order: an email address anywhere, an "applicant:" prefix,
// then phrases like "find", "search for", "look up" or "who is".
func FindQuery(message string) (string, bool) {
	s := strings.TrimSpace(message)
	if s == "" {
		return "", false
	}
	if email := emailPattern.FindString(s); email != "" {
		return email, true
	}
	if len(s) >= len(applicantPrefix) && strings.EqualFold(s[:len(applicantPrefix)], applicantPrefix) {
		term := strings.TrimSpace(s[len(applicantPrefix):])
		return term, term != ""
	}
	if m := phrasePattern.FindStringSubmatch(s); m != nil {
		term := strings.TrimSpace(m[1])
		return term, term != ""
	}
	return "", false
}

// IsEmail reports whether term contains an email address.
func IsEmail(term string) (string, bool) {
	email := emailPattern.FindString(term)
	return email, email != ""
}
