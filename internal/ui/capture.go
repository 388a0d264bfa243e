package ui

import (
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/five82/biokey/internal/state"
)

// defaultHoldLimit is how long a key is considered held when no further key
// arrives. Terminals report presses only, so releases are synthesized.
const defaultHoldLimit = 120 * time.Millisecond

// capture turns key presses into down/up keystroke pairs. The release of a
// key is stamped when the next key arrives, or holdLimit after the press if
// typing stops. Emitted timestamps strictly increase.
type capture struct {
	holdLimit time.Duration
	pending   *state.KeyStroke
	pressedAt time.Time
	seq       int
	last      int64
}

type releaseMsg struct{ seq int }

func newCapture(holdLimit time.Duration) capture {
	if holdLimit <= 0 {
		holdLimit = defaultHoldLimit
	}
	return capture{holdLimit: holdLimit}
}

func (c *capture) stamp(ms int64) int64 {
	if ms <= c.last {
		ms = c.last + 1
	}
	c.last = ms
	return ms
}

// press releases the held key, if any, and holds r.
func (c *capture) press(r rune, now time.Time) []state.KeyStroke {
	out := c.flush(now)
	down := state.KeyStroke{Char: r, KeyDown: true, Timestamp: c.stamp(now.UnixMilli())}
	c.pending = &down
	c.pressedAt = now
	c.seq++
	return append(out, down)
}

// flush releases the held key at now.
func (c *capture) flush(now time.Time) []state.KeyStroke {
	if c.pending == nil {
		return nil
	}
	up := state.KeyStroke{Char: c.pending.Char, Timestamp: c.stamp(now.UnixMilli())}
	c.pending = nil
	return []state.KeyStroke{up}
}

// expire releases the held key when seq still names it. The hold limit counts
// from the reported press time, not the bumped key-down stamp.
func (c *capture) expire(seq int) []state.KeyStroke {
	if c.pending == nil || seq != c.seq {
		return nil
	}
	return c.flush(c.pressedAt.Add(c.holdLimit))
}

func (c *capture) releaseCmd() tea.Cmd {
	seq := c.seq
	return tea.Tick(c.holdLimit, func(time.Time) tea.Msg { return releaseMsg{seq: seq} })
}

// keyRunes maps a key message to the runes the typing pad records. Pastes
// and navigation keys are not typing.
func keyRunes(msg tea.KeyMsg) []rune {
	if msg.Paste || msg.Alt {
		return nil
	}
	switch msg.Type {
	case tea.KeyRunes:
		return msg.Runes
	case tea.KeySpace:
		return []rune{' '}
	case tea.KeyEnter:
		return []rune{'\n'}
	case tea.KeyBackspace:
		return []rune{'\b'}
	default:
		return nil
	}
}
