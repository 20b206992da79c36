package logging

import "testing"

func TestParseLevelDefaultsToInfo(t *testing.T) {
	if got := parseLevel("nonsense"); got.String() != "info" {
		t.Fatalf("got level %q, want info", got.String())
	}
}

func TestParseLevelRecognizesKnownNames(t *testing.T) {
	cases := map[string]string{"debug": "debug", "warn": "warn", "error": "error"}
	for in, want := range cases {
		if got := parseLevel(in).String(); got != want {
			t.Fatalf("parseLevel(%q) = %q, want %q", in, got, want)
		}
	}
}
