package main

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
)

func TestNewLogger_Levels(t *testing.T) {
	tests := []struct {
		level string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"WARN", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
	}
	for _, tt := range tests {
		l := newLogger(tt.level, "text")
		if !l.Enabled(context.Background(), tt.want) {
			t.Errorf("level %q: expected %v enabled", tt.level, tt.want)
		}
		if tt.want > slog.LevelDebug && l.Enabled(context.Background(), tt.want-4) {
			t.Errorf("level %q: expected %v disabled", tt.level, tt.want-4)
		}
	}
}

func TestNewLogger_JSON(t *testing.T) {
	l := newLogger("info", "json")
	if _, ok := l.Handler().(*slog.JSONHandler); !ok {
		t.Errorf("expected JSON handler, got %T", l.Handler())
	}
}

func TestCheckBackend(t *testing.T) {
	ok := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusMethodNotAllowed)
	}))
	defer ok.Close()
	if err := checkBackend(context.Background(), ok.URL); err != nil {
		t.Errorf("4xx should count as reachable: %v", err)
	}

	broken := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer broken.Close()
	if err := checkBackend(context.Background(), broken.URL); err == nil {
		t.Error("expected error for 5xx backend")
	}
}

func TestResolveConfigPath(t *testing.T) {
	old := configPath
	defer func() { configPath = old }()

	configPath = filepath.Join(t.TempDir(), "custom.json")
	if got := resolveConfigPath(); got != configPath {
		t.Errorf("expected flag path, got %q", got)
	}

	configPath = ""
	t.Setenv("HOME", t.TempDir())
	if got := resolveConfigPath(); got != "" {
		t.Errorf("expected empty path without a config file, got %q", got)
	}

	def := filepath.Join(os.Getenv("HOME"), ".vidrelay", "config.json")
	if err := os.MkdirAll(filepath.Dir(def), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(def, []byte("{}"), 0o600); err != nil {
		t.Fatal(err)
	}
	if got := resolveConfigPath(); got != def {
		t.Errorf("expected default path %q, got %q", def, got)
	}
}
