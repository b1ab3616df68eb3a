package audit

import (
	"strings"
	"unicode/utf8"

	"github.com/aman-churiwal/property-listings/internal/models"
)

// Column limits for security event text
const (
	maxPathLen      = 2048
	maxUserAgentLen = 512
	maxShortLen     = 255
)

// Makes every text field storable in a UTF-8 column: invalid sequences
// become U+FFFD, NUL bytes are dropped and long values are cut on a rune
// boundary.
func sanitize(ev models.SecurityEvent) models.SecurityEvent {
	ev.Kind = clean(ev.Kind, maxShortLen)
	ev.Method = clean(ev.Method, maxShortLen)
	ev.Path = clean(ev.Path, maxPathLen)
	ev.DecodedPath = clean(ev.DecodedPath, maxPathLen)
	ev.IPAddress = clean(ev.IPAddress, maxShortLen)
	ev.UserAgent = clean(ev.UserAgent, maxUserAgentLen)
	ev.Rule = clean(ev.Rule, maxShortLen)
	ev.RequestID = clean(ev.RequestID, maxShortLen)
	return ev
}

func clean(s string, limit int) string {
	s = strings.ToValidUTF8(s, "\uFFFD")
	s = strings.ReplaceAll(s, "\x00", "")
	if len(s) <= limit {
		return s
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
