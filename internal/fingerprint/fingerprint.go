package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"
	"unicode"
)

// Hash is a 128-bit content fingerprint: the first 16 bytes of a
// SHA-256 over namespaced, normalized text.
type Hash [16]byte

func (h Hash) Hex() string { return hex.EncodeToString(h[:]) }

func (h Hash) Bytes() []byte {
	out := make([]byte, len(h))
	copy(out, h[:])
	return out
}

func (h Hash) IsZero() bool { return h == Hash{} }

// FromBytes rebuilds a fingerprint from its raw 16-byte form.
func FromBytes(raw []byte) (Hash, bool) {
	if len(raw) != 16 {
		return Hash{}, false
	}
	var h Hash
	copy(h[:], raw)
	return h, true
}

// FromHex parses a fingerprint previously produced by Hex.
func FromHex(s string) (Hash, bool) {
	raw, err := hex.DecodeString(strings.TrimSpace(s))
	if err != nil || len(raw) != 16 {
		return Hash{}, false
	}
	var h Hash
	copy(h[:], raw)
	return h, true
}

// Boilerplate fragments stripped during normalization. Matched against
// whole sentences so a disclaimer inside a footer does not survive as
// fingerprint material.
var boilerplatePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)this (report|document|material) (is|was) (provided|prepared|intended) [^.]*\.`),
	regexp.MustCompile(`(?i)past performance is (no|not a) guarantee[^.]*\.`),
	regexp.MustCompile(`(?i)(all rights reserved|copyright \d{4})[^.]*\.?`),
	regexp.MustCompile(`(?i)for (more|further) information,? (please )?(contact|visit)[^.]*\.?`),
	regexp.MustCompile(`(?i)forward-looking statements[^.]*\.`),
	regexp.MustCompile(`(?i)(unsubscribe|click here)[^.]*\.?`),
	regexp.MustCompile(`(?i)not (an offer|investment advice)[^.]*\.`),
}

var (
	numberPattern     = regexp.MustCompile(`\d+(?:[.,]\d+)*%?`)
	properNounPattern = regexp.MustCompile(`(?:[A-Z][a-z]+\s+)*[A-Z][a-z]+`)
)

// Normalize lowercases, collapses whitespace runs, drops control
// characters, and strips boilerplate phrases.
func Normalize(input string) string {
	stripped := input
	for _, pattern := range boilerplatePatterns {
		stripped = pattern.ReplaceAllString(stripped, " ")
	}

	trimmed := strings.TrimSpace(strings.ToLower(stripped))
	if trimmed == "" {
		return ""
	}

	var b strings.Builder
	b.Grow(len(trimmed))
	lastSpace := false
	for _, r := range trimmed {
		if unicode.IsSpace(r) {
			if !lastSpace {
				b.WriteRune(' ')
				lastSpace = true
			}
			continue
		}
		if unicode.IsControl(r) {
			continue
		}
		b.WriteRune(r)
		lastSpace = false
	}
	return strings.TrimSpace(b.String())
}

// FoldVolatile replaces tokens that vary between restatements of the
// same claim: numbers (with separators and percent signs) become "#"
// and capitalized proper noun runs become "@". Folding runs before
// Normalize so casing information is still available.
func FoldVolatile(input string) string {
	folded := properNounPattern.ReplaceAllString(input, "@")
	folded = numberPattern.ReplaceAllString(folded, "#")
	return folded
}

// Exact fingerprints the normalized text as-is.
func Exact(text string) Hash {
	return hash128("exact:" + Normalize(text))
}

// Fuzzy fingerprints the normalized text after volatile-token folding,
// detecting "same logic, different numbers" duplicates. Exact and
// fuzzy hashes live in separate namespaces and are never compared to
// each other.
func Fuzzy(text string) Hash {
	return hash128("fuzzy:" + Normalize(FoldVolatile(text)))
}

func hash128(input string) Hash {
	sum := sha256.Sum256([]byte(input))
	var h Hash
	copy(h[:], sum[:16])
	return h
}
