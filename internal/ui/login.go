package ui

import (
	"context"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
)

const loginTimeout = 30 * time.Second

type loginState struct {
	email    textinput.Model
	password textinput.Model
	onPass   bool
	busy     bool
	err      string
}

func newLoginState(lastEmail string) loginState {
	email := textinput.New()
	email.Placeholder = "you@example.com"
	email.Prompt = "Email     "
	email.CharLimit = 254
	email.SetValue(lastEmail)

	password := textinput.New()
	password.Placeholder = "password"
	password.Prompt = "Password  "
	password.EchoMode = textinput.EchoPassword
	password.EchoCharacter = '•'
	password.CharLimit = 256

	return loginState{email: email, password: password}
}

// focus focuses the password field when onPassword is set, else the email.
func (l *loginState) focus(onPassword bool) {
	l.onPass = onPassword
	if onPassword {
		l.email.Blur()
		l.password.Focus()
		return
	}
	l.password.Blur()
	l.email.Focus()
}

func (l *loginState) blur() {
	l.email.Blur()
	l.password.Blur()
}

func (l *loginState) blinkCmd() tea.Cmd { return textinput.Blink }

func (l *loginState) update(msg tea.Msg) tea.Cmd {
	var c1, c2 tea.Cmd
	l.email, c1 = l.email.Update(msg)
	l.password, c2 = l.password.Update(msg)
	return tea.Batch(c1, c2)
}

type loginResultMsg struct {
	email string
	ok    bool
	err   error
}

func loginCmd(ctx context.Context, b Backend, email, password string) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(ctx, loginTimeout)
		defer cancel()
		ok, err := b.Login(ctx, email, password)
		return loginResultMsg{email: email, ok: ok, err: err}
	}
}

func (m Model) handleLoginKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if m.login.busy {
		return m, nil
	}
	switch {
	case key.Matches(msg, m.keys.NextField):
		m.login.focus(!m.login.onPass)
		return m, nil
	case key.Matches(msg, m.keys.Confirm):
		if !m.login.onPass {
			m.login.focus(true)
			return m, nil
		}
		email := strings.TrimSpace(m.login.email.Value())
		password := m.login.password.Value()
		if email == "" || password == "" {
			m.login.err = "Email and password are required."
			return m, nil
		}
		if m.backend == nil {
			return m, nil
		}
		m.login.busy = true
		m.login.err = ""
		return m, tea.Batch(loginCmd(m.ctx, m.backend, email, password), m.spinner.Tick)
	}
	return m, m.login.update(msg)
}

func (m Model) handleLoginResult(msg loginResultMsg) (tea.Model, tea.Cmd) {
	m.login.busy = false
	m.login.password.Reset()
	switch {
	case msg.err != nil:
		m.login.err = "Login failed: " + msg.err.Error()
		m.login.focus(true)
		return m, nil
	case !msg.ok:
		m.login.err = "Login rejected. Check your email and password."
		m.login.focus(true)
		return m, nil
	}
	m.login.err = ""
	m.prefs.LastEmail = msg.email
	m.savePrefs()
	next, cmd := m.switchView(ViewDashboard)
	nm := next.(Model)
	nm.flash = "Logged in as " + msg.email
	return nm, tea.Batch(cmd, fetchOverviewCmd(m.backend))
}

func (m Model) renderLogin() string {
	styles := m.theme.Styles()
	var b strings.Builder
	b.WriteString(styles.AccentText.Bold(true).Render("Log in"))
	b.WriteString("\n\n")
	b.WriteString(m.login.email.View())
	b.WriteString("\n")
	b.WriteString(m.login.password.View())
	b.WriteString("\n\n")
	switch {
	case m.login.busy:
		b.WriteString(m.spinner.View() + " " + styles.MutedText.Render("Contacting server..."))
	case m.login.err != "":
		b.WriteString(styles.DangerText.Render(m.login.err))
	default:
		b.WriteString(styles.FaintText.Render("enter: next/submit  up/down: switch field  esc: cancel"))
	}
	return styles.Panel.Width(min(64, max(40, m.width-4))).Render(b.String())
}
