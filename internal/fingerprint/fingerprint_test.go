package fingerprint

import (
	"strings"
	"testing"
)

func TestNormalize_CollapsesWhitespaceAndCase(t *testing.T) {
	t.Parallel()

	got := Normalize("  Oil   prices\t\nROSE sharply ")
	if got != "oil prices rose sharply" {
		t.Fatalf("unexpected normalized text: %q", got)
	}
}

func TestNormalize_StripsBoilerplate(t *testing.T) {
	t.Parallel()

	input := "Margins compressed in Q3. This report is provided for informational purposes only. For more information, please contact sales@example.com."
	got := Normalize(input)
	if strings.Contains(got, "informational purposes") {
		t.Fatalf("disclaimer survived normalization: %q", got)
	}
	if strings.Contains(got, "contact") {
		t.Fatalf("contact footer survived normalization: %q", got)
	}
	if !strings.Contains(got, "margins compressed in q3") {
		t.Fatalf("substantive text lost: %q", got)
	}
}

func TestFoldVolatile_FoldsNumbersAndNames(t *testing.T) {
	t.Parallel()

	got := FoldVolatile("Acme Corp revenue rose 12.5% to 1,200")
	if strings.Contains(got, "12.5") || strings.Contains(got, "1,200") {
		t.Fatalf("numbers survived folding: %q", got)
	}
	if strings.Contains(got, "Acme") {
		t.Fatalf("proper noun survived folding: %q", got)
	}
}

func TestFuzzy_SameLogicDifferentNumbersCollide(t *testing.T) {
	t.Parallel()

	left := Fuzzy("Revenue rose 12% in the quarter")
	right := Fuzzy("Revenue rose 47% in the quarter")
	if left != right {
		t.Fatalf("expected fuzzy fingerprints to collide: %s vs %s", left.Hex(), right.Hex())
	}

	if Exact("Revenue rose 12% in the quarter") == Exact("Revenue rose 47% in the quarter") {
		t.Fatalf("exact fingerprints must not collide for different numbers")
	}
}

func TestExactAndFuzzyNamespacesNeverCollide(t *testing.T) {
	t.Parallel()

	text := "margins compressed across the sector"
	if Exact(text) == Fuzzy(text) {
		t.Fatalf("exact and fuzzy hash namespaces collided")
	}
}

func TestFingerprintDeterminism(t *testing.T) {
	t.Parallel()

	text := "  Crude climbed 12%,  pressuring refiners. "
	first := Exact(text)
	for i := 0; i < 10; i++ {
		if got := Exact(text); got != first {
			t.Fatalf("fingerprint not deterministic: %s vs %s", got.Hex(), first.Hex())
		}
	}
	if first.IsZero() {
		t.Fatalf("fingerprint of non-empty text is zero")
	}
}

func TestHashHexRoundTrip(t *testing.T) {
	t.Parallel()

	h := Exact("some text")
	parsed, ok := FromHex(h.Hex())
	if !ok {
		t.Fatalf("failed to parse hex fingerprint %q", h.Hex())
	}
	if parsed != h {
		t.Fatalf("hex round trip mismatch: %s vs %s", parsed.Hex(), h.Hex())
	}

	if _, ok := FromHex("not-hex"); ok {
		t.Fatalf("expected parse failure for invalid hex")
	}
}
