package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestStderrOnlyFactory(t *testing.T) {
	f, err := New(nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer f.Close()

	logger := f.Logger("gate")
	if logger == nil {
		t.Fatal("Logger returned nil")
	}
	if got := logger.Prefix(); got != "[gate] " {
		t.Errorf("unexpected prefix %q", got)
	}
}

func TestFileLoggingWritesRotatedFile(t *testing.T) {
	dir := t.TempDir()
	f, err := New(&Config{Dir: dir})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer f.Close()

	f.Logger("sync").Println("sync started")

	data, err := os.ReadFile(filepath.Join(dir, "wcmktd.log"))
	if err != nil {
		t.Fatalf("log file not created: %v", err)
	}
	if !strings.Contains(string(data), "[sync] ") {
		t.Errorf("log line missing prefix: %q", string(data))
	}
	if !strings.Contains(string(data), "sync started") {
		t.Errorf("log line missing message: %q", string(data))
	}
}

func TestLogDirCreated(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "logs")
	f, err := New(&Config{Dir: dir})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer f.Close()

	if _, err := os.Stat(dir); err != nil {
		t.Errorf("log directory not created: %v", err)
	}
}
