package compress

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

const ellipsisMarker = "…"

// Structural markers that start a new pool entry even without a
// sentence terminator: bullets and table rows.
var structuralPrefixes = []string{"- ", "* ", "• ", "| "}

// splitSentencePool splits raw text into candidate sentences on
// terminators and structural markers. Entries are trimmed and empty
// entries dropped.
func splitSentencePool(raw string) []string {
	var pool []string
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		for _, prefix := range structuralPrefixes {
			line = strings.TrimPrefix(line, prefix)
		}
		pool = append(pool, splitOnTerminators(line)...)
	}
	return pool
}

func splitOnTerminators(line string) []string {
	var sentences []string
	var current strings.Builder

	runes := []rune(line)
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		current.WriteRune(r)
		if r != '.' && r != '!' && r != '?' && r != ';' {
			continue
		}
		// A period inside a number (e.g. "12.5%") does not end a sentence.
		if r == '.' && i+1 < len(runes) && unicode.IsDigit(runes[i+1]) {
			continue
		}
		if sentence := strings.TrimSpace(current.String()); sentence != "" {
			sentences = append(sentences, sentence)
		}
		current.Reset()
	}
	if tail := strings.TrimSpace(current.String()); tail != "" {
		sentences = append(sentences, tail)
	}
	return sentences
}

// isWellSegmented reports whether a pool already consists of at least
// three short sentences, each under the per-sentence length threshold.
func isWellSegmented(pool []string, perSentenceMax int) bool {
	if len(pool) < 3 {
		return false
	}
	for _, sentence := range pool {
		if utf8.RuneCountInString(sentence) > perSentenceMax {
			return false
		}
	}
	return true
}

// truncateAtWordBoundary cuts text to at most limit runes, never
// mid-word, appending an ellipsis when anything was dropped. The
// result including the marker stays within limit.
func truncateAtWordBoundary(text string, limit int) string {
	text = strings.TrimSpace(text)
	if limit <= 0 || utf8.RuneCountInString(text) <= limit {
		return text
	}

	budget := limit - utf8.RuneCountInString(ellipsisMarker)
	if budget <= 0 {
		return ellipsisMarker
	}

	runes := []rune(text)
	cut := budget
	for cut > 0 && !unicode.IsSpace(runes[cut-1]) {
		// Walk back to the last word boundary; give up and hard-cut if
		// the text is one giant token.
		if cut == 1 {
			cut = budget
			break
		}
		cut--
	}

	truncated := strings.TrimRightFunc(string(runes[:cut]), func(r rune) bool {
		return unicode.IsSpace(r) || r == ',' || r == ';'
	})
	return truncated + ellipsisMarker
}

// truncateAtSentenceBoundary keeps whole leading sentences within
// limit; if even the first sentence does not fit, it falls back to a
// word-boundary cut of that sentence.
func truncateAtSentenceBoundary(text string, limit int) string {
	text = strings.TrimSpace(text)
	if limit <= 0 || utf8.RuneCountInString(text) <= limit {
		return text
	}

	var b strings.Builder
	for _, sentence := range splitSentencePool(text) {
		candidateLen := utf8.RuneCountInString(sentence)
		if b.Len() > 0 {
			candidateLen++ // joining space
		}
		if utf8.RuneCountInString(b.String())+candidateLen > limit {
			break
		}
		if b.Len() > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(sentence)
	}

	if b.Len() == 0 {
		return truncateAtWordBoundary(text, limit)
	}
	return b.String()
}

// joinSentences concatenates sentences with single spaces.
func joinSentences(sentences []string) string {
	return strings.TrimSpace(strings.Join(sentences, " "))
}
