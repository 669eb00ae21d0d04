package language

import "testing"

func TestNormalizeCode(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		in   string
		want string
	}{
		{name: "bare code", in: "en", want: "en"},
		{name: "uppercase", in: "EN", want: "en"},
		{name: "bcp47 region", in: "en-US", want: "en"},
		{name: "posix locale", in: "pt_BR", want: "pt"},
		{name: "three letter", in: "fil", want: "fil"},
		{name: "padded", in: "  De-at ", want: "de"},
		{name: "empty", in: "", want: ""},
		{name: "whitespace only", in: "   ", want: ""},
		{name: "single letter", in: "e", want: ""},
		{name: "too long", in: "english", want: ""},
		{name: "digits", in: "e2", want: ""},
		{name: "leading separator", in: "-US", want: ""},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := NormalizeCode(tc.in); got != tc.want {
				t.Fatalf("NormalizeCode(%q) = %q, want %q", tc.in, got, tc.want)
			}
		})
	}
}
