package logging

import (
	"log/slog"
	"testing"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"info":    slog.LevelInfo,
		"warn":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"bogus":   slog.LevelInfo,
	}
	for input, want := range cases {
		if got := ParseLevel(input); got != want {
			t.Fatalf("ParseLevel(%q) = %v, want %v", input, got, want)
		}
	}
}

func TestMaskEmail(t *testing.T) {
	cases := map[string]string{
		"alice@example.com": "a***@example.com",
		"a@b.c":             "a***@b.c",
		"not-an-email":      RedactedValue,
		"":                  RedactedValue,
		"@example.com":      RedactedValue,
	}
	for input, want := range cases {
		if got := MaskEmail(input); got != want {
			t.Fatalf("MaskEmail(%q) = %q, want %q", input, got, want)
		}
	}
}
