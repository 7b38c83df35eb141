package imdbsync

import (
	"encoding/json"
	"strconv"
	"strings"
)

// parseIntOr parses an integer field, returning def when it is empty or
// malformed.
func parseIntOr(s string, def int) int {
	if v, err := strconv.Atoi(strings.TrimSpace(s)); err == nil {
		return v
	}
	return def
}

// sanitizeUTF8 replaces invalid UTF-8 byte sequences with empty strings so
// Postgres doesn't reject the row.
func sanitizeUTF8(s string) string {
	return strings.ToValidUTF8(s, "")
}

// joinCharacters flattens the JSON array IMDb uses for the characters column
// (`["Rick Blaine","Rick"]`) into a display string. Raw text that fails to
// decode is kept as-is; the column is informational.
func joinCharacters(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	var names []string
	if err := json.Unmarshal([]byte(raw), &names); err != nil {
		return sanitizeUTF8(raw)
	}
	return sanitizeUTF8(strings.Join(names, ", "))
}
