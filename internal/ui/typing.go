package ui

import (
	"fmt"
	"log/slog"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/five82/biokey/internal/state"
)

const echoLimit = 400

type typingState struct {
	capture capture
	echo    []rune
	keys    int
	err     error
}

func (m Model) handleTypingKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	runes := keyRunes(msg)
	if len(runes) == 0 {
		return m, nil
	}
	now := m.now()
	for _, r := range runes {
		m.record(m.typing.capture.press(r, now))
		m.typing.keys++
		if r == '\b' {
			if n := len(m.typing.echo); n > 0 {
				m.typing.echo = m.typing.echo[:n-1]
			}
			continue
		}
		m.typing.echo = append(m.typing.echo, r)
	}
	if over := len(m.typing.echo) - echoLimit; over > 0 {
		m.typing.echo = m.typing.echo[over:]
	}
	return m, m.typing.capture.releaseCmd()
}

// record hands keystrokes to the agent. The first failure is kept for
// display; later ones are only logged.
func (m *Model) record(strokes []state.KeyStroke) {
	if m.backend == nil {
		return
	}
	for _, k := range strokes {
		if err := m.backend.RecordKey(k); err != nil {
			m.logger.Warn("record keystroke failed", slog.Any("error", err))
			if m.typing.err == nil {
				m.typing.err = err
			}
		}
	}
}

func (m Model) renderTyping() string {
	styles := m.theme.Styles()
	width := max(20, m.width-4)

	var b strings.Builder
	b.WriteString(styles.AccentText.Bold(true).Render("Typing pad"))
	b.WriteString("\n")
	b.WriteString(styles.MutedText.Render("Type normally. Keystroke timing is analysed against your profile; the text itself is not kept."))
	b.WriteString("\n\n")

	var echo strings.Builder
	for _, r := range m.typing.echo {
		echo.WriteString(visibleKey(r))
	}
	pad := styles.FocusPanel.Width(width - 2).Height(max(3, m.contentHeight()-8))
	b.WriteString(pad.Render(lipgloss.NewStyle().Width(width - 4).Render(echo.String())))
	b.WriteString("\n")

	status := fmt.Sprintf("%d keys captured", m.typing.keys)
	if m.overview.Analysing {
		status += "  •  analysing"
	}
	b.WriteString(styles.FaintText.Render(status))
	if m.typing.err != nil {
		b.WriteString("\n")
		b.WriteString(styles.DangerText.Render("Keystrokes not recorded: " + m.typing.err.Error()))
	}
	return b.String()
}
