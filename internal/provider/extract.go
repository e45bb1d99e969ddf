package provider

import (
	"regexp"
	"strings"
	"time"
)

// The portals report local times without an offset. They are re-expressed at
// a fixed UTC+1 so an unchanged portal value keeps an identical fingerprint
// across DST flips.
var portalZone = time.FixedZone("UTC+1", 3600)

var germanDatePattern = regexp.MustCompile(`(\d{2})\.(\d{2})\.(\d{4})(?:\s+(\d{2}):(\d{2}))?`)

// extractLabeled returns the value following the first label synonym that
// matches, read to the end of the line. Synonyms are tried in priority order;
// first match wins.
func extractLabeled(text string, synonyms []string) string {
	for _, label := range synonyms {
		re := regexp.MustCompile(`(?i)` + regexp.QuoteMeta(label) + `[:\s]+([^\r\n]+)`)
		if m := re.FindStringSubmatch(text); m != nil {
			return strings.TrimSpace(m[1])
		}
	}
	return ""
}

// extractTriState maps a German Ja/Nein value to true/false. A label that is
// entirely absent yields nil, which downstream treats as "not reported by
// this portal".
func extractTriState(text string, synonyms []string) *bool {
	value := extractLabeled(text, synonyms)
	if value == "" {
		return nil
	}
	lower := strings.ToLower(value)
	switch {
	case strings.HasPrefix(lower, "ja"):
		v := true
		return &v
	case strings.HasPrefix(lower, "nein"):
		v := false
		return &v
	default:
		return nil
	}
}

// extractStatusWithTimestamp reads an operator status marker plus its optional
// timestamp from the text next to the given label, e.g.
// "Entladeauftrag  Erledigt  24.01.2026 08:23".
func extractStatusWithTimestamp(text string, synonyms []string) (string, *time.Time) {
	value := extractLabeled(text, synonyms)
	if value == "" {
		return "", nil
	}
	ts := parseGermanTimestamp(value)
	// The status word is whatever precedes the date, or the whole value
	// when no date is reported.
	statusPart := value
	if loc := germanDatePattern.FindStringIndex(value); loc != nil {
		statusPart = value[:loc[0]]
	}
	return strings.TrimSpace(statusPart), ts
}

// parseGermanTimestamp parses DD.MM.YYYY with an optional HH:MM part.
// Malformed or absent input yields nil rather than an error.
func parseGermanTimestamp(s string) *time.Time {
	m := germanDatePattern.FindStringSubmatch(s)
	if m == nil {
		return nil
	}
	layout := "02.01.2006"
	value := m[1] + "." + m[2] + "." + m[3]
	if m[4] != "" {
		layout = "02.01.2006 15:04"
		value = value + " " + m[4] + ":" + m[5]
	}
	t, err := time.ParseInLocation(layout, value, portalZone)
	if err != nil {
		return nil
	}
	return &t
}

// containsFold reports whether text contains the phrase, case-insensitively.
func containsFold(text, phrase string) bool {
	return strings.Contains(strings.ToLower(text), strings.ToLower(phrase))
}

func containsAnyFold(text string, phrases []string) bool {
	for _, p := range phrases {
		if p != "" && containsFold(text, p) {
			return true
		}
	}
	return false
}
