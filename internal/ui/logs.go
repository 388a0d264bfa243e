package ui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/five82/biokey/internal/logtail"
)

var logLevels = []string{"DEBUG", "INFO", "WARN", "ERROR"}

type logState struct {
	viewport viewport.Model
	entries  []logtail.Entry
	follow   bool
	level    string
	err      error
}

type logsMsg struct {
	entries []logtail.Entry
	err     error
}

func refreshLogsCmd(path string, maxLines int) tea.Cmd {
	return func() tea.Msg {
		if path == "" {
			return logsMsg{}
		}
		lines, err := logtail.Read(path, maxLines)
		if err != nil {
			return logsMsg{err: err}
		}
		return logsMsg{entries: logtail.ParseLines(lines)}
	}
}

func (m *Model) handleLogs(msg logsMsg) {
	m.logs.err = msg.err
	if msg.err == nil {
		m.logs.entries = msg.entries
	}
	m.renderLogViewport()
}

func nextLevel(current string) string {
	for i, l := range logLevels {
		if l == current {
			return logLevels[(i+1)%len(logLevels)]
		}
	}
	return logLevels[0]
}

func (m Model) handleLogsKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.ToggleFollow):
		m.logs.follow = !m.logs.follow
		if m.logs.follow {
			m.logs.viewport.GotoBottom()
			return m, refreshLogsCmd(m.logPath, m.prefs.LogLines)
		}
		return m, nil
	case key.Matches(msg, m.keys.CycleLevel):
		m.logs.level = nextLevel(m.logs.level)
		m.renderLogViewport()
		return m, nil
	case key.Matches(msg, m.keys.Top):
		m.logs.follow = false
		m.logs.viewport.GotoTop()
		return m, nil
	case key.Matches(msg, m.keys.Bottom):
		m.logs.viewport.GotoBottom()
		return m, nil
	case key.Matches(msg, m.keys.Up):
		m.logs.follow = false
	}
	var cmd tea.Cmd
	m.logs.viewport, cmd = m.logs.viewport.Update(msg)
	return m, cmd
}

// renderLogViewport rebuilds the log content for the current level filter.
func (m *Model) renderLogViewport() {
	if !m.ready {
		return
	}
	styles := m.theme.Styles()
	lines := make([]string, 0, len(m.logs.entries))
	for _, e := range m.logs.entries {
		if !e.AtLeast(m.logs.level) {
			continue
		}
		lines = append(lines, formatEntry(e, styles))
	}
	if len(lines) == 0 {
		lines = append(lines, styles.FaintText.Render("No log entries at "+m.logs.level+" or above."))
	}
	m.logs.viewport.SetContent(strings.Join(lines, "\n"))
	if m.logs.follow {
		m.logs.viewport.GotoBottom()
	}
}

func formatEntry(e logtail.Entry, styles Styles) string {
	if e.Level == "" && e.Message == "" {
		return styles.MutedText.Render(e.Raw)
	}
	var b strings.Builder
	if !e.Time.IsZero() {
		b.WriteString(styles.FaintText.Render(e.Time.Local().Format("15:04:05")))
		b.WriteString(" ")
	}
	b.WriteString(styles.LevelStyle(e.Level).Render(fmt.Sprintf("%-5s", e.Level)))
	b.WriteString(" ")
	b.WriteString(styles.Text.Render(e.Message))
	for _, a := range e.Attrs {
		b.WriteString(" ")
		b.WriteString(styles.MutedText.Render(a.Key + "="))
		b.WriteString(styles.AccentText.Render(a.Value))
	}
	return b.String()
}

func (m Model) renderLogs() string {
	styles := m.theme.Styles()
	if m.logs.err != nil {
		return styles.DangerText.Render("Cannot read log: " + m.logs.err.Error())
	}
	return m.logs.viewport.View()
}

func (m Model) logsStatus() string {
	return fmt.Sprintf("level ≥ %s  follow %s  %s", m.logs.level, ternary(m.logs.follow, "on", "off"), truncateMiddle(m.logPath, 40))
}
