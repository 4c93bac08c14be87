package logging

import (
	"testing"

	"go.uber.org/zap"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]string{
		"debug":   "debug",
		"WARN":    "warn",
		"warning": "warn",
		"error":   "error",
		"":        "info",
		"bogus":   "info",
	}
	for in, want := range cases {
		if got := parseLevel(in).String(); got != want {
			t.Errorf("parseLevel(%q) = %s, want %s", in, got, want)
		}
	}
}

func TestSessionFields(t *testing.T) {
	if got := SessionFields("s1", ""); len(got) != 2 {
		t.Fatalf("expected 2 fields, got %v", got)
	}
	if got := SessionFields("s1", "u1"); len(got) != 4 || got[3] != "u1" {
		t.Fatalf("unexpected fields %v", got)
	}
}

func TestOrNop(t *testing.T) {
	if OrNop(nil) == nil {
		t.Fatal("expected a logger")
	}
	l := zap.NewExample().Sugar()
	if OrNop(l) != l {
		t.Fatal("expected the same logger back")
	}
}
