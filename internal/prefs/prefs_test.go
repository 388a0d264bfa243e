package prefs

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	p, err := Load("")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if p != Default() {
		t.Fatalf("prefs = %+v, want defaults", p)
	}
}

func TestLoad_ReadsDefaultLocation(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	prefsDir := filepath.Join(home, ".config", "biokey")
	if err := os.MkdirAll(prefsDir, 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	body := "theme = \"Slate\"\nlast_email = \" ada@example.com \"\n"
	if err := os.WriteFile(filepath.Join(prefsDir, "prefs.toml"), []byte(body), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	p, err := Load("")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if p.Theme != "Slate" || p.LastEmail != "ada@example.com" {
		t.Fatalf("prefs = %+v", p)
	}
	if p.LogLines != defaultLogLines {
		t.Fatalf("LogLines = %d, want default %d", p.LogLines, defaultLogLines)
	}
}

func TestSave_RoundTrip(t *testing.T) {
	prefsFile := filepath.Join(t.TempDir(), "subdir", "prefs.toml")

	want := Prefs{Theme: "Paper", LastEmail: "ada@example.com", LogLines: 0}
	if err := Save(prefsFile, want); err != nil {
		t.Fatalf("Save returned error: %v", err)
	}
	got, err := Load(prefsFile)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if got != want {
		t.Fatalf("prefs = %+v, want %+v", got, want)
	}
}

func TestLoad_EmptyThemeFallsBackToDefault(t *testing.T) {
	prefsFile := filepath.Join(t.TempDir(), "prefs.toml")
	if err := os.WriteFile(prefsFile, []byte("theme = \"\"\nlog_lines = -4\n"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	p, err := Load(prefsFile)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if p.Theme != defaultTheme || p.LogLines != 0 {
		t.Fatalf("prefs = %+v", p)
	}
}

func TestLoad_InvalidTOMLReturnsDefaultsAndError(t *testing.T) {
	prefsFile := filepath.Join(t.TempDir(), "prefs.toml")
	if err := os.WriteFile(prefsFile, []byte("not valid toml {{{\n"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	p, err := Load(prefsFile)
	if err == nil {
		t.Fatalf("Load returned nil error for malformed file")
	}
	if p != Default() {
		t.Fatalf("prefs = %+v, want defaults", p)
	}
}
