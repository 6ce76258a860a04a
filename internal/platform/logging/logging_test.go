package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestNew_JSON(t *testing.T) {
	var buf bytes.Buffer
	l, err := New(Config{Level: "warn", Format: "json", Output: &buf})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	l.Info().Msg("dropped")
	l.Warn().Str("account_id", "a-1").Msg("kept")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("expected 1 line, got %d: %q", len(lines), buf.String())
	}
	var entry map[string]interface{}
	if err := json.Unmarshal([]byte(lines[0]), &entry); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if entry["message"] != "kept" || entry["account_id"] != "a-1" {
		t.Errorf("unexpected entry: %v", entry)
	}
	if _, ok := entry["time"]; !ok {
		t.Error("expected timestamp field")
	}
}

func TestNew_Console(t *testing.T) {
	var buf bytes.Buffer
	l, err := New(Config{Level: "debug", Format: "console", Output: &buf})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	l.Debug().Msg("hello")
	if strings.HasPrefix(strings.TrimSpace(buf.String()), "{") {
		t.Errorf("expected console output, got %q", buf.String())
	}
	if !strings.Contains(buf.String(), "hello") {
		t.Errorf("expected message in output, got %q", buf.String())
	}
}

func TestNew_InvalidLevel(t *testing.T) {
	if _, err := New(Config{Level: "loud"}); err == nil {
		t.Error("expected error for invalid level")
	}
}

func TestComponent(t *testing.T) {
	var buf bytes.Buffer
	l := Component(zerolog.New(&buf), "settlement")
	l.Info().Msg("x")
	if !strings.Contains(buf.String(), `"component":"settlement"`) {
		t.Errorf("expected component field, got %s", buf.String())
	}
}

func TestFromContext(t *testing.T) {
	var fallback, stored bytes.Buffer
	fb := zerolog.New(&fallback)

	fromFallback := FromContext(context.Background(), fb)
	fromFallback.Info().Msg("a")
	if fallback.Len() == 0 {
		t.Error("expected fallback logger to be used")
	}

	ctx := zerolog.New(&stored).WithContext(context.Background())
	fromCtx := FromContext(ctx, fb)
	fromCtx.Info().Msg("b")
	if stored.Len() == 0 {
		t.Error("expected context logger to be used")
	}
}
