// Package prefs stores the terminal shell's user preferences in
// ~/.config/biokey/prefs.toml.
package prefs

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
)

// Prefs holds user preferences for the biokey shell.
type Prefs struct {
	Theme     string `toml:"theme"`
	LastEmail string `toml:"last_email"`
	// LogLines caps the log view. Zero shows the whole file.
	LogLines int `toml:"log_lines"`
}

const (
	defaultPrefsPath = "~/.config/biokey/prefs.toml"
	defaultTheme     = "Dusk"
	defaultLogLines  = 500
)

// Default returns the preferences used when none are stored.
func Default() Prefs {
	return Prefs{Theme: defaultTheme, LogLines: defaultLogLines}
}

// DefaultPath returns the default preferences file path.
func DefaultPath() string {
	return defaultPrefsPath
}

// Load reads preferences from path. Preferences are never fatal: a missing
// file yields defaults and a nil error, while an unreadable or malformed file
// yields defaults together with the error so the caller can log it.
func Load(path string) (Prefs, error) {
	prefs := Default()

	resolved, err := resolvePath(path)
	if err != nil {
		return prefs, err
	}
	data, err := os.ReadFile(resolved)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return prefs, nil
		}
		return prefs, fmt.Errorf("read prefs: %w", err)
	}
	if err := toml.Unmarshal(data, &prefs); err != nil {
		return Default(), fmt.Errorf("parse prefs: %w", err)
	}

	if strings.TrimSpace(prefs.Theme) == "" {
		prefs.Theme = defaultTheme
	}
	prefs.LastEmail = strings.TrimSpace(prefs.LastEmail)
	if prefs.LogLines < 0 {
		prefs.LogLines = 0
	}
	return prefs, nil
}

// Save writes preferences to the given path, creating directories as needed.
func Save(path string, p Prefs) error {
	resolved, err := resolvePath(path)
	if err != nil {
		return fmt.Errorf("resolve path: %w", err)
	}

	dir := filepath.Dir(resolved)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create prefs dir: %w", err)
	}

	bytes, err := toml.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal prefs: %w", err)
	}

	if err := os.WriteFile(resolved, bytes, 0o600); err != nil {
		return fmt.Errorf("write prefs: %w", err)
	}

	return nil
}

func resolvePath(path string) (string, error) {
	if strings.TrimSpace(path) == "" {
		return expandPath(defaultPrefsPath)
	}
	return expandPath(path)
}

func expandPath(path string) (string, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return "", fmt.Errorf("path is empty")
	}
	if strings.HasPrefix(trimmed, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home dir: %w", err)
		}
		trimmed = filepath.Join(home, strings.TrimPrefix(trimmed, "~"))
	}
	return filepath.Abs(trimmed)
}
