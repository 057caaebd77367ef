package config

import (
	"os"
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestNewWatcher_Validation(t *testing.T) {
	if _, err := NewWatcher("", zap.NewNop(), func(*Config) {}); err == nil {
		t.Error("NewWatcher(\"\") = nil error, want path error")
	}
	if _, err := NewWatcher("/etc/patternd/config.yaml", zap.NewNop(), nil); err == nil {
		t.Error("NewWatcher with nil callback = nil error, want error")
	}
}

func TestWatcher_ReloadsOnChange(t *testing.T) {
	home, cleanup := setupTestHome(t)
	defer cleanup()

	configPath := writeTestConfig(t, home, "storage:\n  path: /var/lib/patternd/v1.db\n", 0600)

	reloaded := make(chan *Config, 4)
	w, err := NewWatcher(configPath, zap.NewNop(), func(cfg *Config) {
		reloaded <- cfg
	})
	if err != nil {
		t.Fatalf("NewWatcher() error = %v", err)
	}
	defer w.Stop()

	if err := w.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	// Give the watcher a moment to register before writing
	time.Sleep(50 * time.Millisecond)

	if err := os.WriteFile(configPath, []byte("storage:\n  path: /var/lib/patternd/v2.db\n"), 0600); err != nil {
		t.Fatalf("Failed to rewrite config: %v", err)
	}

	select {
	case cfg := <-reloaded:
		if cfg.Storage.Path != "/var/lib/patternd/v2.db" {
			t.Errorf("reloaded Storage.Path = %q, want v2 value", cfg.Storage.Path)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for config reload")
	}
}

func TestWatcher_RejectsInvalidReload(t *testing.T) {
	home, cleanup := setupTestHome(t)
	defer cleanup()

	configPath := writeTestConfig(t, home, "storage:\n  path: /var/lib/patternd/good.db\n", 0600)

	reloaded := make(chan *Config, 4)
	w, err := NewWatcher(configPath, zap.NewNop(), func(cfg *Config) {
		reloaded <- cfg
	})
	if err != nil {
		t.Fatalf("NewWatcher() error = %v", err)
	}
	defer w.Stop()

	if err := w.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	time.Sleep(50 * time.Millisecond)

	// Broken YAML is rejected; the previous configuration stays in effect
	if err := os.WriteFile(configPath, []byte("storage: [broken\n"), 0600); err != nil {
		t.Fatalf("Failed to write broken config: %v", err)
	}

	select {
	case cfg := <-reloaded:
		t.Fatalf("got reload for invalid config: %+v", cfg)
	case <-time.After(300 * time.Millisecond):
	}

	// A subsequent valid write still reloads
	if err := os.WriteFile(configPath, []byte("storage:\n  path: /var/lib/patternd/fixed.db\n"), 0600); err != nil {
		t.Fatalf("Failed to write fixed config: %v", err)
	}

	select {
	case cfg := <-reloaded:
		if cfg.Storage.Path != "/var/lib/patternd/fixed.db" {
			t.Errorf("reloaded Storage.Path = %q, want fixed value", cfg.Storage.Path)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for recovery reload")
	}
}

func TestWatcher_StopIsIdempotent(t *testing.T) {
	home, cleanup := setupTestHome(t)
	defer cleanup()

	configPath := writeTestConfig(t, home, "storage:\n  path: /var/lib/patternd/p.db\n", 0600)

	w, err := NewWatcher(configPath, nil, func(*Config) {})
	if err != nil {
		t.Fatalf("NewWatcher() error = %v", err)
	}
	if err := w.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	w.Stop()
	w.Stop()
}
