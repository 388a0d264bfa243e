package ui

import (
	"testing"

	"github.com/five82/biokey/internal/state"
)

func TestThemeNames(t *testing.T) {
	names := ThemeNames()
	if len(names) != 3 || names[0] != "Dusk" || names[1] != "Paper" || names[2] != "Slate" {
		t.Fatalf("ThemeNames() = %v, want [Dusk Paper Slate]", names)
	}
}

func TestNextTheme(t *testing.T) {
	if got := NextTheme("Dusk"); got != "Paper" {
		t.Fatalf("NextTheme(Dusk) = %q, want Paper", got)
	}
	if got := NextTheme("Slate"); got != "Dusk" {
		t.Fatalf("NextTheme(Slate) = %q, want Dusk", got)
	}
	if got := NextTheme("Unknown"); got != "Dusk" {
		t.Fatalf("NextTheme(Unknown) = %q, want Dusk", got)
	}
}

func TestGetTheme(t *testing.T) {
	if got := GetTheme("Paper").Name; got != "Paper" {
		t.Fatalf("GetTheme(Paper).Name = %q", got)
	}
	if got := GetTheme("Unknown").Name; got != "Dusk" {
		t.Fatalf("GetTheme(Unknown).Name = %q, want Dusk (fallback)", got)
	}
}

func TestThemes_ColorEveryStatus(t *testing.T) {
	statuses := []string{
		string(state.Authenticated), string(state.Unauthenticated),
		string(state.Unlocked), string(state.Challenge), string(state.Locked),
		string(state.InSync), string(state.Syncing), string(state.Unsynced),
	}
	for _, name := range ThemeNames() {
		th := GetTheme(name)
		for _, s := range statuses {
			if th.StatusColors[s] == "" {
				t.Fatalf("theme %s has no color for %s", name, s)
			}
		}
	}
}
