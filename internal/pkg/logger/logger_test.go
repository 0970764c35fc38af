package logger

import (
	"bytes"
	"context"
	"log/slog"
	"testing"
)

func TestRedactEmail(t *testing.T) {
	tests := map[string]string{
		"john.doe@example.com": "jo***@example.com",
		"ab@example.com":       "***@example.com",
		"not-an-email":         "***@***",
		"a@b@c":                "***@***",
	}
	for in, want := range tests {
		if got := RedactEmail(in); got != want {
			t.Errorf("RedactEmail(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestNew_LevelByEnv(t *testing.T) {
	var buf bytes.Buffer

	if New(&buf, "production").Enabled(context.Background(), slog.LevelDebug) {
		t.Error("production logger should not emit debug")
	}
	if !New(&buf, "development").Enabled(context.Background(), slog.LevelDebug) {
		t.Error("development logger should emit debug")
	}
}
