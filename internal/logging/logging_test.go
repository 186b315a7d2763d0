package logging

import (
	"bytes"
	"encoding/json"
	"testing"
)

func TestNewWithWriterEmitsJSON(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(&buf, "debug", "json")
	logger.Info().Str("content_id", "cnt_1").Msg("version appended")

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("expected JSON log line, got %q: %v", buf.String(), err)
	}
	if line["service"] != "draftline-api" {
		t.Fatalf("expected service field, got %v", line["service"])
	}
	if line["content_id"] != "cnt_1" {
		t.Fatalf("expected content_id field, got %v", line["content_id"])
	}
}

func TestNewWithWriterFiltersBelowLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(&buf, "warn", "json")
	logger.Info().Msg("dropped")
	if buf.Len() != 0 {
		t.Fatalf("expected info line to be filtered at warn level, got %q", buf.String())
	}
}

func TestNewWithWriterUnknownLevelDefaultsToInfo(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(&buf, "loud", "json")
	logger.Debug().Msg("dropped")
	logger.Info().Msg("kept")
	if !bytes.Contains(buf.Bytes(), []byte("kept")) || bytes.Contains(buf.Bytes(), []byte("dropped")) {
		t.Fatalf("unexpected output %q", buf.String())
	}
}
