// Package language canonicalizes language hints supplied on ingest
// payloads. Hints arrive in whatever shape the upstream tooling emits
// ("EN", "en_US", " pt-BR ") and are reduced to a lowercase ISO 639
// primary subtag before storage.
package language

import "strings"

// NormalizeCode reduces a language hint to its lowercase primary
// subtag, for example "en" from "en_US" or "pt" from " PT-br ".
// Returns "" when the hint is blank, malformed, or the primary subtag
// is not a 2 or 3 letter code.
func NormalizeCode(raw string) string {
	hint := strings.ToLower(strings.TrimSpace(raw))
	if hint == "" {
		return ""
	}

	// Cut at the first region/script separator, either BCP 47 or
	// POSIX locale style.
	if idx := strings.IndexAny(hint, "-_"); idx >= 0 {
		hint = hint[:idx]
	}

	if len(hint) < 2 || len(hint) > 3 {
		return ""
	}
	for _, r := range hint {
		if r < 'a' || r > 'z' {
			return ""
		}
	}
	return hint
}
