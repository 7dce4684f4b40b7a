package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("HOME", t.TempDir())

	cfg, err := Load(New(), "")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Writable || cfg.AssumeYes {
		t.Errorf("Writable/AssumeYes default to true: %+v", cfg)
	}
	if !cfg.InteractiveAuth || !cfg.InhibitSuspend {
		t.Errorf("InteractiveAuth/InhibitSuspend default to false: %+v", cfg)
	}
	if cfg.UpdateInterval != 200*time.Millisecond {
		t.Errorf("UpdateInterval = %v, want 200ms", cfg.UpdateInterval)
	}
	if cfg.SlackWarning != 1_000_000 {
		t.Errorf("SlackWarning = %d, want 1000000", cfg.SlackWarning)
	}
	if cfg.Output != OutputTable {
		t.Errorf("Output = %q, want table", cfg.Output)
	}
}

func TestLoadFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := "writable: true\nupdate-interval: 1s\noutput: json\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("DISKIMG_SLACK_WARNING", "5000")
	t.Setenv("DISKIMG_OUTPUT", "yaml")

	cfg, err := Load(New(), path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if !cfg.Writable || cfg.UpdateInterval != time.Second {
		t.Errorf("file values not applied: %+v", cfg)
	}
	if cfg.SlackWarning != 5000 {
		t.Errorf("SlackWarning = %d, want env value 5000", cfg.SlackWarning)
	}
	if cfg.Output != OutputYAML {
		t.Errorf("Output = %q, want env to override file", cfg.Output)
	}
}

func TestLoadErrors(t *testing.T) {
	if _, err := Load(New(), filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("Load() with missing explicit file: error = nil")
	}

	t.Setenv("DISKIMG_OUTPUT", "xml")
	t.Chdir(t.TempDir())
	if _, err := Load(New(), ""); err == nil {
		t.Error("Load() with invalid output: error = nil")
	}

	t.Setenv("DISKIMG_OUTPUT", "")
	t.Setenv("DISKIMG_UPDATE_INTERVAL", "10ms")
	if _, err := Load(New(), ""); err == nil {
		t.Error("Load() with update interval below minimum: error = nil")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"valid", Config{UpdateInterval: time.Second, Output: OutputTable}, false},
		{"zero interval", Config{Output: OutputJSON}, true},
		{"interval below minimum", Config{UpdateInterval: 199 * time.Millisecond, Output: OutputTable}, true},
		{"interval at minimum", Config{UpdateInterval: 200 * time.Millisecond, Output: OutputTable}, false},
		{"bad output", Config{UpdateInterval: time.Second, Output: "csv"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.cfg.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
