package bootstrap

import (
	"regexp"
	"strings"
	"time"
)

var timezoneLineRe = regexp.MustCompile(`(?im)^\s*Timezone:\s*(.+?)\s*$`)

// UserTimezone extracts an IANA timezone from the user-profile content.
// Placeholder values and identifiers the platform cannot load map to "".
func UserTimezone(profile string) string {
	m := timezoneLineRe.FindStringSubmatch(profile)
	if m == nil {
		return ""
	}
	tz := strings.TrimSpace(m[1])
	if tz == "" || strings.HasPrefix(tz, "(") {
		return ""
	}
	if _, err := time.LoadLocation(tz); err != nil {
		return ""
	}
	return tz
}
