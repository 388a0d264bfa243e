package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/five82/biokey/internal/persist"
)

func TestPrompt_DefaultsAndTrims(t *testing.T) {
	var out bytes.Buffer
	got, err := prompt(strings.NewReader("\n"), &out, "Email", "ada@example.com")
	if err != nil || got != "ada@example.com" {
		t.Fatalf("prompt = %q, %v", got, err)
	}
	if out.String() != "Email [ada@example.com]: " {
		t.Fatalf("prompt text = %q", out.String())
	}

	got, err = prompt(strings.NewReader("  bob@example.com  \n"), &out, "Email", "ada@example.com")
	if err != nil || got != "bob@example.com" {
		t.Fatalf("prompt = %q, %v", got, err)
	}

	// EOF without a newline still yields the answer.
	got, err = prompt(strings.NewReader("y"), &out, "Continue?", "")
	if err != nil || got != "y" {
		t.Fatalf("prompt = %q, %v", got, err)
	}
}

func TestReadPassword_FromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pw")
	if err := os.WriteFile(path, []byte("correct horse\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	got, err := readPassword(path, &bytes.Buffer{})
	if err != nil || got != "correct horse" {
		t.Fatalf("readPassword = %q, %v", got, err)
	}

	empty := filepath.Join(dir, "empty")
	if err := os.WriteFile(empty, []byte("\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := readPassword(empty, &bytes.Buffer{}); err == nil {
		t.Fatalf("empty password file accepted")
	}
	if _, err := readPassword(filepath.Join(dir, "missing"), &bytes.Buffer{}); err == nil {
		t.Fatalf("missing password file accepted")
	}
}

func TestRootCmd_RegistersSubcommands(t *testing.T) {
	root := newRootCmd()
	for _, name := range []string{"login", "status", "logs", "reset", "config"} {
		if cmd, _, err := root.Find([]string{name}); err != nil || cmd.Name() != name {
			t.Fatalf("subcommand %s not found: %v", name, err)
		}
	}
}

func TestPrintSaves(t *testing.T) {
	var out bytes.Buffer
	printSaves(&out, nil)
	if out.Len() != 0 {
		t.Fatalf("no saves printed %q", out.String())
	}

	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.Local)
	printSaves(&out, []persist.SaveInfo{{SavedAt: at, RawSize: 900, StoredSize: 300, PendingBatches: 2, HistorySize: 40}})
	want := "recent saves:\n  2026-03-01 12:00:00  900 -> 300 bytes, 2 batches, 40 history\n"
	if out.String() != want {
		t.Fatalf("printSaves = %q, want %q", out.String(), want)
	}
}
