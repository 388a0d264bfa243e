package ui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/five82/biokey/internal/challenge"
	"github.com/five82/biokey/internal/state"
)

const issueTimeout = 15 * time.Second

type challengeState struct {
	strategies []challenge.Strategy
	selected   int
	input      textinput.Model
	issued     map[string]bool
	busy       bool
	message    string
	failed     bool
}

func newChallengeState() challengeState {
	in := textinput.New()
	in.Placeholder = "123456"
	in.Prompt = "Code  "
	in.CharLimit = 12
	return challengeState{input: in, issued: map[string]bool{}}
}

func (m *Model) refreshStrategies() {
	if m.backend == nil {
		return
	}
	m.challenge.strategies = m.backend.Strategies()
	if m.challenge.selected >= len(m.challenge.strategies) {
		m.challenge.selected = 0
	}
}

func (c challengeState) current() (challenge.Strategy, bool) {
	if c.selected < 0 || c.selected >= len(c.strategies) {
		return nil, false
	}
	return c.strategies[c.selected], true
}

type challengeIssuedMsg struct {
	name string
	err  error
}

type attemptResultMsg struct {
	name    string
	outcome challenge.Outcome
	err     error
}

func issueCmd(ctx context.Context, b Backend, name string) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(ctx, issueTimeout)
		defer cancel()
		return challengeIssuedMsg{name: name, err: b.IssueChallenge(ctx, name)}
	}
}

func attemptCmd(b Backend, name, code string) tea.Cmd {
	return func() tea.Msg {
		outcome, err := b.AttemptChallenge(name, code)
		return attemptResultMsg{name: name, outcome: outcome, err: err}
	}
}

func (m Model) challengePending() bool {
	return m.overview.Status != nil && m.overview.Status.SecurityStatus == state.Challenge
}

func (m Model) handleChallengeKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if m.challenge.busy || m.backend == nil {
		return m, nil
	}
	switch {
	case key.Matches(msg, m.keys.NextField):
		if n := len(m.challenge.strategies); n > 0 {
			step := 1
			if msg.Type == tea.KeyUp {
				step = n - 1
			}
			m.challenge.selected = (m.challenge.selected + step) % n
		}
		return m, nil
	case key.Matches(msg, m.keys.Confirm):
		s, ok := m.challenge.current()
		if !ok || !m.challengePending() {
			return m, nil
		}
		name := s.ServerRepresentation()
		code := strings.TrimSpace(m.challenge.input.Value())
		m.challenge.busy = true
		if code == "" {
			return m, issueCmd(m.ctx, m.backend, name)
		}
		return m, attemptCmd(m.backend, name, code)
	}
	var cmd tea.Cmd
	m.challenge.input, cmd = m.challenge.input.Update(msg)
	return m, cmd
}

func (m *Model) handleChallengeIssued(msg challengeIssuedMsg) {
	m.challenge.busy = false
	if msg.err != nil {
		m.challenge.message = "Could not issue challenge: " + msg.err.Error()
		m.challenge.failed = true
		return
	}
	m.challenge.issued[msg.name] = true
	m.challenge.failed = false
	if msg.name == challenge.NameSMS {
		m.challenge.message = "A code was sent to your phone."
	} else {
		m.challenge.message = "Enter the code from your authenticator app."
	}
}

func (m Model) handleAttemptResult(msg attemptResultMsg) (tea.Model, tea.Cmd) {
	m.challenge.busy = false
	m.challenge.input.Reset()
	if msg.err != nil {
		m.challenge.message = "Challenge error: " + msg.err.Error()
		m.challenge.failed = true
		return m, nil
	}
	switch msg.outcome {
	case challenge.OutcomeMalformed:
		m.challenge.message = "That is not a valid code. It did not count as an attempt."
		m.challenge.failed = true
	case challenge.OutcomeFailed:
		m.challenge.message = "Wrong code."
		m.challenge.failed = true
	case challenge.OutcomeLocked:
		m.challenge.message = "Too many wrong codes. This machine is locked."
		m.challenge.failed = true
	case challenge.OutcomePassed:
		m.challenge.issued = map[string]bool{}
		m.challenge.message = ""
		m.challenge.failed = false
		next, cmd := m.switchView(ViewDashboard)
		nm := next.(Model)
		nm.flash = "Challenge passed. Welcome back."
		return nm, tea.Batch(cmd, fetchOverviewCmd(m.backend))
	}
	return m, fetchOverviewCmd(m.backend)
}

func (m Model) renderChallenge() string {
	styles := m.theme.Styles()
	var b strings.Builder
	b.WriteString(styles.AccentText.Bold(true).Render("Identity challenge"))
	b.WriteString("\n\n")

	if !m.challengePending() {
		b.WriteString(styles.MutedText.Render("No challenge pending."))
		if m.overview.Status != nil && m.overview.Status.SecurityStatus == state.Locked {
			b.WriteString("\n")
			b.WriteString(styles.DangerText.Render("This machine is locked. Contact your administrator."))
		}
		m.renderEnrollment(&b, styles)
		return b.String()
	}

	if len(m.challenge.strategies) == 0 {
		b.WriteString(styles.WarningText.Render("No challenge method is available for this profile."))
		return b.String()
	}
	for i, s := range m.challenge.strategies {
		cursor := "  "
		style := styles.Text
		if i == m.challenge.selected {
			cursor = "> "
			style = styles.AccentText.Bold(true)
		}
		label := strategyLabel(s.ServerRepresentation())
		if m.challenge.issued[s.ServerRepresentation()] {
			label += " (issued)"
		}
		b.WriteString(style.Render(cursor + label))
		b.WriteString("\n")
	}
	if s, ok := m.challenge.current(); ok {
		b.WriteString("\n")
		b.WriteString(styles.FaintText.Render(s.CustomInformationText()))
	}
	b.WriteString("\n\n")
	b.WriteString(m.challenge.input.View())
	b.WriteString("\n")
	b.WriteString(styles.MutedText.Render(fmt.Sprintf("%d attempts left", m.overview.ChallengesLeft)))
	b.WriteString("\n\n")
	switch {
	case m.challenge.busy:
		b.WriteString(m.spinner.View() + " " + styles.MutedText.Render("Working..."))
	case m.challenge.message != "":
		style := styles.SuccessText
		if m.challenge.failed {
			style = styles.DangerText
		}
		b.WriteString(style.Render(m.challenge.message))
	default:
		b.WriteString(styles.FaintText.Render("enter with no code: issue challenge  enter with code: answer  up/down: method"))
	}
	return b.String()
}

func (m Model) renderEnrollment(b *strings.Builder, styles Styles) {
	if m.backend == nil {
		return
	}
	url := m.backend.Enrollment()
	if url == "" {
		return
	}
	b.WriteString("\n\n")
	b.WriteString(styles.Text.Render("Authenticator enrollment"))
	b.WriteString("\n")
	b.WriteString(styles.MutedText.Render("Add this account to your authenticator app:"))
	b.WriteString("\n")
	b.WriteString(styles.InfoText.Render(url))
}

func strategyLabel(name string) string {
	switch name {
	case challenge.NameTOTP:
		return "Authenticator app"
	case challenge.NameSMS:
		return "Text message"
	default:
		return name
	}
}
