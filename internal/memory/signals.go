package memory

import (
	"regexp"
	"strings"
)

// Correction signals mark inbound content that should update memory
// immediately instead of waiting for the idle timer.
var correctionRes = []*regexp.Regexp{
	regexp.MustCompile(`(?i)^\s*(actually|no[,.]?\s)`),
	regexp.MustCompile(`(?i)\bno,?\s+my\s+name\s+is\b`),
	regexp.MustCompile(`(?i)\bthat'?s\s+(wrong|incorrect|not\s+right)\b`),
	regexp.MustCompile(`(?i)\byou\s+(got|have)\s+(that|it)\s+wrong\b`),
	regexp.MustCompile(`(?i)\bi\s+meant\b`),
	regexp.MustCompile(`(?i)\bcorrection\b`),
	regexp.MustCompile(`(?i)\bremember\s+(this|that)\b`),
	regexp.MustCompile(`(?i)\bdon'?t\s+forget\b`),
}

// IsCorrectionSignal reports whether text corrects or pins a fact the
// agent should persist right away.
func IsCorrectionSignal(text string) bool {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return false
	}
	for _, re := range correctionRes {
		if re.MatchString(trimmed) {
			return true
		}
	}
	return false
}
