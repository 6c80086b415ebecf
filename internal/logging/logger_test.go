package logging

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestPrefixedLoggerSharesLevelAndOutput(t *testing.T) {
	root := NewLogger("TEST")
	var buf bytes.Buffer
	root.SetOutput(&buf)

	child := root.WithPrefix("child")
	child.Debug("hidden")
	if buf.Len() != 0 {
		t.Fatalf("Expected DEBUG to be filtered at INFO level, got %q", buf.String())
	}

	root.SetLevel(LevelDebug)
	child.Debug("shown %d", 1)
	out := buf.String()
	if !strings.Contains(out, "[DEBUG] child: shown 1") {
		t.Errorf("Unexpected output %q", out)
	}
	if !strings.HasPrefix(out, "TEST: ") {
		t.Errorf("Expected the root prefix, got %q", out)
	}

	child.SetLevel(LevelError)
	if root.Level() != LevelError {
		t.Errorf("Expected the level to be shared, got %v", root.Level())
	}

	grandchild := child.WithPrefix("leaf")
	buf.Reset()
	grandchild.Error("boom")
	if !strings.Contains(buf.String(), "child/leaf: boom") {
		t.Errorf("Unexpected output %q", buf.String())
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		name string
		want LogLevel
		ok   bool
	}{
		{"ERROR", LevelError, true},
		{"warn", LevelWarn, true},
		{"Info", LevelInfo, true},
		{"debug", LevelDebug, true},
		{"TRACE", LevelTrace, true},
		{"verbose", LevelInfo, false},
		{"", LevelInfo, false},
	}
	for _, tt := range tests {
		got, ok := ParseLevel(tt.name)
		if got != tt.want || ok != tt.ok {
			t.Errorf("ParseLevel(%q) = %v, %v; want %v, %v", tt.name, got, ok, tt.want, tt.ok)
		}
	}
}

func TestOpenLogFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sandfs.log")
	l := NewLogger("TEST")
	f, err := l.OpenLogFile(path)
	if err != nil {
		t.Fatalf("Failed to open log file: %v", err)
	}
	l.Info("to file")
	f.Close()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read log file: %v", err)
	}
	if !strings.Contains(string(data), "[INFO] to file") {
		t.Errorf("Unexpected log file contents %q", data)
	}
}
