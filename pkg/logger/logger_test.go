package logger

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
)

func TestLogger_DefaultInitialization(t *testing.T) {
	// Log should be initialized by default and not panic
	if Log == nil {
		t.Fatal("Log should not be nil by default")
	}

	// Should not panic
	Log.Info("Testing default logger")
}

func TestLogger_DefaultWritesToStderr(t *testing.T) {
	if os.Getenv("FOPWATCH_LOGGER_CHILD") == "1" {
		Log.Info("default sink")
		return
	}

	cmd := exec.Command(os.Args[0], "-test.run=^TestLogger_DefaultWritesToStderr$")
	cmd.Env = append(os.Environ(), "FOPWATCH_LOGGER_CHILD=1")
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		t.Fatalf("child failed: %v\n%s", err, stderr.String())
	}
	if strings.Contains(stdout.String(), "default sink") {
		t.Errorf("default logger wrote to stdout: %q", stdout.String())
	}
	if !strings.Contains(stderr.String(), `"msg":"default sink"`) {
		t.Errorf("default logger did not write to stderr: %q", stderr.String())
	}
}

func TestLogger_NewWritesJSON(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, "debug").With("root", "/ws")
	l.Debug("settled", "paths", 2)

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("expected JSON record, got %q: %v", buf.String(), err)
	}
	if rec["msg"] != "settled" || rec["root"] != "/ws" {
		t.Errorf("unexpected record %v", rec)
	}
}

func TestLogger_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, "warn")
	l.Info("hidden")
	if buf.Len() != 0 {
		t.Errorf("info should be filtered at warn level, got %q", buf.String())
	}
	if ParseLevel("bogus") != slog.LevelInfo {
		t.Error("unknown levels should map to info")
	}
}

func TestLogger_InitWithFile(t *testing.T) {
	prev := Log
	defer func() {
		Close()
		Log = prev
	}()

	path := filepath.Join(t.TempDir(), "fopwatch.log")
	InitLogger("info", path)
	Log.Info("to file", "k", "v")
	if err := Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("log file missing: %v", err)
	}
	if !strings.Contains(string(data), `"msg":"to file"`) {
		t.Errorf("log file does not contain record: %q", data)
	}
}

func TestLogger_Or(t *testing.T) {
	if Or(nil) != Log {
		t.Error("Or(nil) should return the global logger")
	}
	n := Nop()
	if Or(n) != n {
		t.Error("Or should keep a non-nil logger")
	}
}
