package ui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/five82/biokey/internal/state"
)

func (m Model) handleDashboardKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if key.Matches(msg, m.keys.Logout) && m.backend != nil && m.authenticated() {
		if err := m.backend.Logout(); err != nil {
			m.flash = "Logout failed: " + err.Error()
			return m, nil
		}
		m.flash = "Logged out."
		return m, fetchOverviewCmd(m.backend)
	}
	return m, nil
}

func (m Model) authenticated() bool {
	return m.overview.Status != nil && m.overview.Status.AuthStatus == state.Authenticated
}

func (m Model) renderDashboard() string {
	styles := m.theme.Styles()
	o := m.overview
	s := o.Status

	if s == nil {
		var b strings.Builder
		b.WriteString(styles.WarningText.Render("Not logged in."))
		b.WriteString("\n")
		b.WriteString(styles.MutedText.Render("Press a to log in. Startup: " + m.restored.String() + "."))
		return b.String()
	}

	rows := [][2]string{
		{"Session", styles.StatusStyle(string(s.AuthStatus)).Render(string(s.AuthStatus))},
		{"Security", styles.StatusStyle(string(s.SecurityStatus)).Render(string(s.SecurityStatus))},
		{"Sync", styles.StatusStyle(string(s.SyncStatus)).Render(string(s.SyncStatus))},
	}
	if s.Profile != nil {
		rows = append(rows,
			[2]string{"Profile", styles.Text.Render(s.Profile.ID)},
			[2]string{"Machine", styles.MutedText.Render(s.Profile.MachineID)},
		)
		model := "none"
		switch {
		case s.Profile.Model.Model != "":
			model = "trained model"
		case len(s.Profile.Model.Gaussian) > 0:
			model = fmt.Sprintf("%d key sequences", len(s.Profile.Model.Gaussian))
		}
		rows = append(rows, [2]string{"Model", styles.Text.Render(model)})
	}
	if !o.TokenExpiry.IsZero() {
		left := o.TokenExpiry.Sub(m.now())
		expiry := styles.Text.Render("in " + humanizeDuration(left))
		if left <= 0 {
			expiry = styles.DangerText.Render("expired")
		}
		rows = append(rows, [2]string{"Token", expiry})
	}
	rows = append(rows, [2]string{"Analysis", ternary(o.Analysing, styles.SuccessText.Render("running"), styles.MutedText.Render("idle"))})
	if s.SecurityStatus == state.Challenge {
		rows = append(rows, [2]string{"Attempts", styles.WarningText.Render(fmt.Sprintf("%d left", o.ChallengesLeft))})
	}

	var left strings.Builder
	for _, r := range rows {
		left.WriteString(styles.MutedText.Width(10).Render(r[0]))
		left.WriteString(r[1])
		left.WriteString("\n")
	}

	queues := [][2]string{
		{"Statuses", fmt.Sprintf("%d", o.PendingStatuses)},
		{"Batches", fmt.Sprintf("%d", o.PendingBatches)},
		{"Results", fmt.Sprintf("%d", o.PendingResults)},
		{"History", fmt.Sprintf("%d keys", o.History)},
		{"Saves", fmt.Sprintf("%d", o.Saves)},
	}
	var right strings.Builder
	right.WriteString(styles.AccentText.Bold(true).Render("Pending upload"))
	right.WriteString("\n")
	for _, q := range queues {
		right.WriteString(styles.MutedText.Width(10).Render(q[0]))
		right.WriteString(styles.Text.Render(q[1]))
		right.WriteString("\n")
	}

	panelWidth := max(30, (m.width-6)/2)
	body := lipgloss.JoinHorizontal(lipgloss.Top,
		styles.Panel.Width(panelWidth).Render(strings.TrimRight(left.String(), "\n")),
		" ",
		styles.Panel.Width(panelWidth).Render(strings.TrimRight(right.String(), "\n")),
	)
	if m.width < 70 {
		body = lipgloss.JoinVertical(lipgloss.Left,
			styles.Panel.Render(strings.TrimRight(left.String(), "\n")),
			styles.Panel.Render(strings.TrimRight(right.String(), "\n")),
		)
	}

	hint := "t: typing pad  X: log out"
	if s.SecurityStatus == state.Challenge {
		hint = "c: answer the challenge"
	}
	return body + "\n" + styles.FaintText.Render(hint)
}

// updatedLabel describes how fresh the overview is.
func (m Model) updatedLabel() string {
	if m.lastUpdated.IsZero() {
		return ""
	}
	since := m.now().Sub(m.lastUpdated)
	label := m.lastUpdated.Format("15:04:05")
	if since >= 5*time.Second {
		label += " (" + humanizeDuration(since) + " ago)"
	}
	return label
}
