package insight

import (
	"math"
	"strings"
	"unicode"

	"horse.fit/insights/internal/fingerprint"
)

const (
	// Cross-key duplicate thresholds: lexical overlap is kept high for
	// precision, semantic cosine matches the auto-merge bar used for
	// story assignment upstream.
	lexicalJaccardThreshold = 0.85
	semanticCosineThreshold = 0.935
)

// duplicateSignal names which signal matched a cross-key duplicate.
type duplicateSignal string

const (
	signalNone             duplicateSignal = ""
	signalExactFingerprint duplicateSignal = "exact_fingerprint"
	signalFuzzyFingerprint duplicateSignal = "fuzzy_fingerprint"
	signalLexicalOverlap   duplicateSignal = "lexical_overlap"
	signalSemanticCosine   duplicateSignal = "semantic_cosine"
)

// matchContentDuplicate scores candidate records against the new
// content, cheapest signal first, and returns the best match.
func matchContentDuplicate(
	candidates []*Record,
	exact, fuzzy fingerprint.Hash,
	normalizedSummary string,
	vector []float64,
) (*Record, duplicateSignal, float64) {
	var (
		best       *Record
		bestSignal = signalNone
		bestScore  float64
	)

	for _, candidate := range candidates {
		if candidate == nil {
			continue
		}

		if candidate.ExactFingerprint == exact && !exact.IsZero() {
			return candidate, signalExactFingerprint, 1
		}
		if candidate.FuzzyFingerprint == fuzzy && !fuzzy.IsZero() {
			return candidate, signalFuzzyFingerprint, 1
		}

		if overlap := tokenJaccard(normalizedSummary, fingerprint.Normalize(candidate.SummaryText)); overlap >= lexicalJaccardThreshold {
			if bestSignal == signalNone || overlap > bestScore {
				best = candidate
				bestSignal = signalLexicalOverlap
				bestScore = overlap
			}
			continue
		}

		if len(vector) > 0 && len(candidate.SummaryVector) > 0 {
			if cosine := cosineSimilarity(vector, candidate.SummaryVector); cosine >= semanticCosineThreshold {
				if bestSignal == signalNone || (bestSignal == signalSemanticCosine && cosine > bestScore) {
					best = candidate
					bestSignal = signalSemanticCosine
					bestScore = cosine
				}
			}
		}
	}

	return best, bestSignal, bestScore
}

func tokenJaccard(left, right string) float64 {
	leftSet := tokenSet(left)
	rightSet := tokenSet(right)
	if len(leftSet) == 0 || len(rightSet) == 0 {
		return 0
	}

	intersection := 0
	for token := range leftSet {
		if _, ok := rightSet[token]; ok {
			intersection++
		}
	}
	if intersection == 0 {
		return 0
	}

	union := len(leftSet) + len(rightSet) - intersection
	if union <= 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}

func tokenSet(text string) map[string]struct{} {
	parts := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
	if len(parts) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(parts))
	for _, p := range parts {
		if p != "" {
			set[p] = struct{}{}
		}
	}
	return set
}

func cosineSimilarity(left, right []float64) float64 {
	if len(left) == 0 || len(left) != len(right) {
		return 0
	}
	var dot, leftNorm, rightNorm float64
	for i := range left {
		dot += left[i] * right[i]
		leftNorm += left[i] * left[i]
		rightNorm += right[i] * right[i]
	}
	if leftNorm == 0 || rightNorm == 0 {
		return 0
	}
	return dot / (math.Sqrt(leftNorm) * math.Sqrt(rightNorm))
}
