package remote

import (
	"strings"
	"testing"
	"time"
)

func TestNewLibsqlSourceValidatesConfig(t *testing.T) {
	if _, err := NewLibsqlSource(Config{RemoteURL: "libsql://mkt.example.turso.io"}); err == nil {
		t.Error("expected error for missing replica path")
	}
	if _, err := NewLibsqlSource(Config{ReplicaPath: "wcmkt.db"}); err == nil {
		t.Error("expected error for missing remote URL")
	}

	s, err := NewLibsqlSource(Config{
		ReplicaPath: "wcmkt.db",
		RemoteURL:   "libsql://mkt.example.turso.io",
		AuthToken:   "tok",
	})
	if err != nil {
		t.Fatalf("NewLibsqlSource failed: %v", err)
	}
	if s.cfg.Attempts != 3 {
		t.Errorf("expected default 3 attempts, got %d", s.cfg.Attempts)
	}
	if s.cfg.Delay != 2*time.Second {
		t.Errorf("expected default 2s delay, got %v", s.cfg.Delay)
	}
	if s.connector != nil {
		t.Error("connector must not be created before first refresh")
	}
	if err := s.Close(); err != nil {
		t.Errorf("Close on unused source failed: %v", err)
	}
}

func TestNewLibsqlSourceErrorsNameTheField(t *testing.T) {
	_, err := NewLibsqlSource(Config{})
	if err == nil || !strings.Contains(err.Error(), "replica path") {
		t.Errorf("expected replica path error, got %v", err)
	}
}
