package ui

import (
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/five82/biokey/internal/state"
)

func TestCapture_ReleasesHeldKeyOnNextPress(t *testing.T) {
	c := newCapture(0)
	t0 := time.UnixMilli(1_000_000)

	out := c.press('a', t0)
	if len(out) != 1 || out[0] != (state.KeyStroke{Char: 'a', KeyDown: true, Timestamp: 1_000_000}) {
		t.Fatalf("first press = %#v", out)
	}
	out = c.press('b', t0.Add(80*time.Millisecond))
	want := []state.KeyStroke{
		{Char: 'a', KeyDown: false, Timestamp: 1_000_080},
		{Char: 'b', KeyDown: true, Timestamp: 1_000_081},
	}
	if len(out) != 2 || out[0] != want[0] || out[1] != want[1] {
		t.Fatalf("second press = %#v, want %#v", out, want)
	}
}

func TestCapture_ExpireReleasesAtHoldLimit(t *testing.T) {
	c := newCapture(100 * time.Millisecond)
	t0 := time.UnixMilli(5_000)
	c.press('x', t0)
	stale := c.seq
	down := c.press('y', t0.Add(10*time.Millisecond))
	if down[1].Timestamp != 5_011 {
		t.Fatalf("y down = %#v, want stamp bumped past x's release", down[1])
	}

	if out := c.expire(stale); out != nil {
		t.Fatalf("stale expire released %#v", out)
	}
	out := c.expire(c.seq)
	if len(out) != 1 || out[0].Char != 'y' || out[0].KeyDown || out[0].Timestamp != 5_110 {
		t.Fatalf("expire = %#v", out)
	}
	if out := c.expire(c.seq); out != nil {
		t.Fatalf("second expire released %#v", out)
	}
}

func TestCapture_TimestampsStrictlyIncrease(t *testing.T) {
	c := newCapture(0)
	now := time.UnixMilli(42)
	var all []state.KeyStroke
	for _, r := range "same" {
		all = append(all, c.press(r, now)...)
	}
	all = append(all, c.flush(now)...)
	if len(all) != 8 {
		t.Fatalf("got %d keystrokes, want 8", len(all))
	}
	for i := 1; i < len(all); i++ {
		if all[i].Timestamp <= all[i-1].Timestamp {
			t.Fatalf("timestamps not increasing at %d: %#v", i, all)
		}
		if all[i].KeyDown == all[i-1].KeyDown {
			t.Fatalf("down/up not alternating at %d: %#v", i, all)
		}
	}
}

func TestKeyRunes(t *testing.T) {
	cases := []struct {
		name string
		msg  tea.KeyMsg
		want string
	}{
		{"runes", tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("ab")}, "ab"},
		{"space", tea.KeyMsg{Type: tea.KeySpace, Runes: []rune(" ")}, " "},
		{"enter", tea.KeyMsg{Type: tea.KeyEnter}, "\n"},
		{"backspace", tea.KeyMsg{Type: tea.KeyBackspace}, "\b"},
		{"paste", tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("pasted"), Paste: true}, ""},
		{"alt", tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("x"), Alt: true}, ""},
		{"arrow", tea.KeyMsg{Type: tea.KeyLeft}, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := string(keyRunes(tc.msg)); got != tc.want {
				t.Fatalf("keyRunes = %q, want %q", got, tc.want)
			}
		})
	}
}
