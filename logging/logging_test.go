package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"sync"
	"testing"
)

func TestNew_JSON(t *testing.T) {
	var buf bytes.Buffer
	log, err := New("info", "json", &buf)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	log.Debug().Msg("hidden")
	log.Info().Str("path", "/count").Msg("request")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("Expected one line above debug level, got %d: %q", len(lines), buf.String())
	}

	var entry map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &entry); err != nil {
		t.Fatalf("Line is not JSON: %v", err)
	}
	if entry["message"] != "request" || entry["path"] != "/count" || entry["service"] != "minihttpd" {
		t.Errorf("Unexpected entry %v", entry)
	}
	if _, ok := entry["time"]; !ok {
		t.Error("Expected a timestamp")
	}
}

func TestNew_Console(t *testing.T) {
	var buf bytes.Buffer
	log, err := New("debug", "console", &buf)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	log.Debug().Str("file", "a.bin").Msg("upload stored")
	out := buf.String()
	if !strings.Contains(out, "upload stored") || !strings.Contains(out, "file=a.bin") {
		t.Errorf("Unexpected console output %q", out)
	}
}

func TestNew_Invalid(t *testing.T) {
	if _, err := New("loud", "json", &bytes.Buffer{}); err == nil {
		t.Error("Expected error for unknown level")
	}
	if _, err := New("info", "xml", &bytes.Buffer{}); err == nil {
		t.Error("Expected error for unknown format")
	}
}

func TestNew_ConcurrentLinesStayWhole(t *testing.T) {
	var buf bytes.Buffer
	log, _ := New("info", "json", &buf)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			child := log.With().Int("conn", i).Logger()
			for j := 0; j < 50; j++ {
				child.Info().Int("n", j).Msg("tick")
			}
		}(i)
	}
	wg.Wait()

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1000 {
		t.Fatalf("Expected 1000 lines, got %d", len(lines))
	}
	for _, line := range lines {
		if !json.Valid([]byte(line)) {
			t.Fatalf("Interleaved line %q", line)
		}
	}
}
