package ui

import (
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/five82/biokey/internal/state"
)

// Rows used by the header, tab bar and footer.
const chromeRows = 4

// LayoutCompactWidth is the threshold below which compact mode is used.
const LayoutCompactWidth = 80

func (m Model) contentHeight() int {
	return max(3, m.height-chromeRows)
}

// renderMain renders the full UI.
func (m Model) renderMain() string {
	content := lipgloss.NewStyle().
		Height(m.contentHeight()).
		MaxHeight(m.contentHeight()).
		Padding(0, 1).
		Render(m.renderContent())

	return lipgloss.JoinVertical(lipgloss.Left,
		m.renderHeader(),
		m.renderTabs(),
		content,
		m.renderFooter(),
	)
}

// renderContent renders the main content area based on current view.
func (m Model) renderContent() string {
	switch m.view {
	case ViewTyping:
		return m.renderTyping()
	case ViewLogin:
		return m.renderLogin()
	case ViewChallenge:
		return m.renderChallenge()
	case ViewLogs:
		return m.renderLogs()
	default:
		return m.renderDashboard()
	}
}

// renderHeader renders the status bar: logo, security badge and freshness.
func (m Model) renderHeader() string {
	styles := m.theme.Styles()
	parts := []string{styles.Logo.Render("biokey")}

	switch s := m.overview.Status; {
	case m.overviewErr != nil:
		parts = append(parts, styles.DangerText.Render("ERROR "+truncateMiddle(m.overviewErr.Error(), 60)))
	case s == nil:
		parts = append(parts, styles.StatusStyle(string(state.Unauthenticated)).Render("LOGGED OUT"))
	default:
		parts = append(parts, styles.StatusStyle(string(s.SecurityStatus)).Render(string(s.SecurityStatus)))
		if s.AuthStatus != state.Authenticated {
			parts = append(parts, styles.StatusStyle(string(s.AuthStatus)).Render(string(s.AuthStatus)))
		}
		if m.width >= LayoutCompactWidth && m.overview.PendingBatches > 0 {
			parts = append(parts, styles.MutedText.Render("pending "), styles.Text.Render(strconv.Itoa(m.overview.PendingBatches)))
		}
	}
	if label := m.updatedLabel(); label != "" {
		parts = append(parts, styles.MutedText.Render(label))
	}

	return styles.Header.Width(m.width).Render(strings.Join(parts, "  "))
}

// renderTabs renders the view switcher.
func (m Model) renderTabs() string {
	styles := m.theme.Styles()
	keys := map[View]string{
		ViewDashboard: "d", ViewTyping: "t", ViewLogin: "a", ViewChallenge: "c", ViewLogs: "l",
	}
	var parts []string
	for _, v := range viewOrder {
		label := "<" + keys[v] + "> " + v.String()
		if v == m.view {
			parts = append(parts, styles.AccentText.Bold(true).Underline(true).Render(label))
			continue
		}
		parts = append(parts, styles.MutedText.Render(label))
	}
	bar := strings.Join(parts, "  ")
	if m.view == ViewLogs {
		bar += "  " + styles.FaintText.Render(m.logsStatus())
	}
	return lipgloss.NewStyle().Padding(0, 1).Width(m.width).Render(bar)
}

func (m Model) renderFooter() string {
	styles := m.theme.Styles()
	left := m.help.ShortHelpView(m.keys.ShortHelp())
	if m.flash != "" {
		left = styles.WarningText.Render(m.flash) + "  " + left
	}
	return styles.Footer.Width(m.width).Render(left)
}

// renderHelp renders the help overlay.
func (m Model) renderHelp() string {
	styles := m.theme.Styles()

	titles := []string{"Views", "Navigation", "Actions", "General"}
	var b strings.Builder
	b.WriteString(styles.Text.Bold(true).Render("Keyboard Shortcuts"))
	b.WriteString("\n")
	b.WriteString(styles.FaintText.Render(strings.Repeat("─", 30)))
	b.WriteString("\n\n")

	groups := m.keys.FullHelp()
	keyStyle := lipgloss.NewStyle().Foreground(lipgloss.Color(m.theme.Warning)).Width(12)
	for i, group := range groups {
		b.WriteString(styles.AccentText.Bold(true).Render(titles[i]))
		b.WriteString("\n")
		for _, binding := range group {
			h := binding.Help()
			b.WriteString(keyStyle.Render(h.Key))
			b.WriteString(styles.Text.Render(h.Desc))
			b.WriteString("\n")
		}
		if i < len(groups)-1 {
			b.WriteString("\n")
		}
	}
	b.WriteString("\n")
	b.WriteString(styles.FaintText.Render("Typing, login and challenge views capture letters;\nuse tab or esc to leave them."))

	modal := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color(m.theme.Accent)).
		Padding(1, 2).
		Width(52)

	return lipgloss.Place(
		m.width,
		m.height,
		lipgloss.Center,
		lipgloss.Center,
		modal.Render(b.String()),
		lipgloss.WithWhitespaceChars(" "),
		lipgloss.WithWhitespaceForeground(lipgloss.Color(m.theme.Background)),
	)
}
