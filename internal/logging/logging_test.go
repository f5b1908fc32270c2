package logging

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/wesm/github-mirror/config"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		name    string
		want    slog.Level
		wantErr bool
	}{
		{"", slog.LevelInfo, false},
		{"info", slog.LevelInfo, false},
		{"DEBUG", slog.LevelDebug, false},
		{"warning", slog.LevelWarn, false},
		{"error", slog.LevelError, false},
		{"loud", slog.LevelInfo, true},
	}
	for _, tt := range tests {
		got, err := ParseLevel(tt.name)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseLevel(%q) error = %v, wantErr %v", tt.name, err, tt.wantErr)
		}
		if got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestNew_WritesStderrAndFile(t *testing.T) {
	var stderr bytes.Buffer
	path := filepath.Join(t.TempDir(), "logs", "ghmirror.log")

	log, closer, err := New(config.LogConfig{Level: "info", File: path, MaxSizeMB: 1}, &stderr, "run-42")
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	log.Debug("hidden")
	log.Info("running wave", "wave", "discovery")
	if err := closer.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	out := stderr.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("debug record written at info level: %q", out)
	}
	for _, want := range []string{"run=run-42", "wave=discovery", `msg="running wave"`} {
		if !strings.Contains(out, want) {
			t.Errorf("stderr %q lacks %q", out, want)
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if string(data) != out {
		t.Errorf("log file = %q, want %q", data, out)
	}
}

func TestNew_NoFile(t *testing.T) {
	var stderr bytes.Buffer
	log, closer, err := New(config.LogConfig{Level: "debug"}, &stderr, "")
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer closer.Close()
	log.Debug("starting")
	if strings.Contains(stderr.String(), "run=") {
		t.Errorf("run attribute set without a run id: %q", stderr.String())
	}
	if !strings.Contains(stderr.String(), "msg=starting") {
		t.Errorf("stderr = %q", stderr.String())
	}

	if _, _, err := New(config.LogConfig{Level: "loud"}, &stderr, ""); err == nil {
		t.Error("New() error = nil for an unknown level")
	}
}
