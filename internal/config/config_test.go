package config

import (
	"path/filepath"
	"testing"
	"time"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, name := range []string{
		EnvPort, EnvLogLevel, EnvDataDir, EnvAssetsDir, EnvFFmpeg,
		EnvFFprobe, EnvRenderTimeout, EnvHeadless, EnvDemo,
	} {
		t.Setenv(name, "")
	}
}

func TestNew_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := New()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Port() != DefaultPort {
		t.Errorf("Port = %d, want %d", cfg.Port(), DefaultPort)
	}
	if cfg.FFmpegPath() != DefaultFFmpeg || cfg.FFprobePath() != DefaultFFprobe {
		t.Errorf("binaries = %q/%q", cfg.FFmpegPath(), cfg.FFprobePath())
	}
	if cfg.RenderTimeout() != DefaultRenderTimeout {
		t.Errorf("RenderTimeout = %v, want %v", cfg.RenderTimeout(), DefaultRenderTimeout)
	}
	if cfg.Headless() || cfg.Demo() {
		t.Errorf("Headless/Demo should default to false")
	}
	if cfg.AssetsDir() != "" {
		t.Errorf("AssetsDir = %q, want empty", cfg.AssetsDir())
	}
}

func TestNew_FromEnv(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	t.Setenv(EnvPort, "9000")
	t.Setenv(EnvDataDir, dir)
	t.Setenv(EnvAssetsDir, "/srv/assets")
	t.Setenv(EnvFFmpeg, "/opt/ffmpeg/bin/ffmpeg")
	t.Setenv(EnvRenderTimeout, "90s")
	t.Setenv(EnvHeadless, "true")
	t.Setenv(EnvDemo, "1")

	cfg, err := New()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Port() != 9000 {
		t.Errorf("Port = %d, want 9000", cfg.Port())
	}
	if cfg.DBPath() != filepath.Join(dir, DBFilename) {
		t.Errorf("DBPath = %q", cfg.DBPath())
	}
	if cfg.CacheDir() != filepath.Join(dir, "cache") {
		t.Errorf("CacheDir = %q", cfg.CacheDir())
	}
	if cfg.OutputDir() != filepath.Join(dir, "renders") {
		t.Errorf("OutputDir = %q", cfg.OutputDir())
	}
	if cfg.AssetsDir() != "/srv/assets" {
		t.Errorf("AssetsDir = %q", cfg.AssetsDir())
	}
	if cfg.FFmpegPath() != "/opt/ffmpeg/bin/ffmpeg" {
		t.Errorf("FFmpegPath = %q", cfg.FFmpegPath())
	}
	if cfg.RenderTimeout() != 90*time.Second {
		t.Errorf("RenderTimeout = %v, want 90s", cfg.RenderTimeout())
	}
	if !cfg.Headless() || !cfg.Demo() {
		t.Errorf("Headless/Demo = %v/%v, want true/true", cfg.Headless(), cfg.Demo())
	}
}

func TestNew_InvalidValues(t *testing.T) {
	tests := []struct {
		name  string
		env   string
		value string
	}{
		{"port not a number", EnvPort, "abc"},
		{"port out of range", EnvPort, "70000"},
		{"bad timeout", EnvRenderTimeout, "soon"},
		{"negative timeout", EnvRenderTimeout, "-5s"},
		{"bad headless", EnvHeadless, "maybe"},
		{"bad demo", EnvDemo, "yes please"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			t.Setenv(tt.env, tt.value)
			if _, err := New(); err == nil {
				t.Fatalf("expected error for %s=%q", tt.env, tt.value)
			}
		})
	}
}
