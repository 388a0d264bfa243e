package ui

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/five82/biokey/internal/app"
	"github.com/five82/biokey/internal/challenge"
	"github.com/five82/biokey/internal/prefs"
	"github.com/five82/biokey/internal/state"
)

// View represents the current active view.
type View int

const (
	ViewDashboard View = iota
	ViewTyping
	ViewLogin
	ViewChallenge
	ViewLogs
)

var viewOrder = []View{ViewDashboard, ViewTyping, ViewLogin, ViewChallenge, ViewLogs}

func (v View) String() string {
	switch v {
	case ViewTyping:
		return "Typing"
	case ViewLogin:
		return "Login"
	case ViewChallenge:
		return "Challenge"
	case ViewLogs:
		return "Logs"
	default:
		return "Dashboard"
	}
}

// capturesInput reports whether printable keys belong to the view.
func (v View) capturesInput() bool {
	return v == ViewTyping || v == ViewLogin || v == ViewChallenge
}

// Backend is what the shell needs from the running agent.
type Backend interface {
	Overview() (app.Overview, error)
	Login(ctx context.Context, email, password string) (bool, error)
	Logout() error
	RecordKey(k state.KeyStroke) error
	Strategies() []challenge.Strategy
	IssueChallenge(ctx context.Context, name string) error
	AttemptChallenge(name, code string) (challenge.Outcome, error)
	// Enrollment returns the authenticator provisioning URL, or "".
	Enrollment() string
}

type agentBackend struct{ a *app.Agent }

func (b agentBackend) Overview() (app.Overview, error) { return b.a.Overview() }

func (b agentBackend) Login(ctx context.Context, email, password string) (bool, error) {
	return b.a.Login(ctx, email, password)
}

func (b agentBackend) Logout() error { return b.a.Controller.Logout() }

func (b agentBackend) RecordKey(k state.KeyStroke) error { return b.a.Controller.EnqueueKeyStroke(k) }

func (b agentBackend) Strategies() []challenge.Strategy { return b.a.Guard.Strategies() }

func (b agentBackend) IssueChallenge(ctx context.Context, name string) error {
	return b.a.Guard.Issue(ctx, name)
}

func (b agentBackend) AttemptChallenge(name, code string) (challenge.Outcome, error) {
	return b.a.Guard.Attempt(name, code)
}

func (b agentBackend) Enrollment() string {
	if b.a.TOTP == nil {
		return ""
	}
	return b.a.TOTP.ProvisioningURL()
}

// Options configures the UI.
type Options struct {
	Context   context.Context
	Backend   Backend
	Restored  app.Restored
	LogPath   string
	Prefs     prefs.Prefs
	PrefsPath string
	Logger    *slog.Logger
	// PollTick is the overview refresh interval. Zero means one second.
	PollTick time.Duration
	// HoldLimit bounds how long a key counts as held. Zero means 120ms.
	HoldLimit time.Duration
	// Now is the clock used to stamp keystrokes. Nil uses time.Now.
	Now func() time.Time
}

// Model is the root application state for Bubble Tea.
type Model struct {
	ctx       context.Context
	backend   Backend
	logger    *slog.Logger
	logPath   string
	prefs     prefs.Prefs
	prefsPath string
	pollTick  time.Duration
	now       func() time.Time

	// UI state
	keys     keyMap
	help     help.Model
	spinner  spinner.Model
	theme    Theme
	view     View
	width    int
	height   int
	ready    bool
	showHelp bool
	flash    string

	// Data state
	restored    app.Restored
	overview    app.Overview
	overviewErr error
	lastUpdated time.Time
	lastSec     state.SecurityStatus

	typing    typingState
	login     loginState
	challenge challengeState
	logs      logState
}

// New creates a new Bubble Tea model.
func New(opts Options) Model {
	ctx := opts.Context
	if ctx == nil {
		ctx = context.Background()
	}
	pollTick := opts.PollTick
	if pollTick <= 0 {
		pollTick = time.Second
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	p := opts.Prefs
	if p.Theme == "" {
		p = prefs.Default()
	}

	sp := spinner.New()
	sp.Spinner = spinner.Dot

	m := Model{
		ctx:       ctx,
		backend:   opts.Backend,
		logger:    logger,
		logPath:   opts.LogPath,
		prefs:     p,
		prefsPath: opts.PrefsPath,
		pollTick:  pollTick,
		now:       now,
		keys:      DefaultKeyMap(),
		help:      help.New(),
		spinner:   sp,
		theme:     GetTheme(p.Theme),
		restored:  opts.Restored,
		typing:    typingState{capture: newCapture(opts.HoldLimit)},
		login:     newLoginState(p.LastEmail),
		challenge: newChallengeState(),
		logs:      logState{follow: true, level: "INFO"},
	}
	if opts.Restored.LoginRequired() {
		m.view = ViewLogin
		m.login.focus(p.LastEmail != "")
	}
	return m
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	cmds := []tea.Cmd{tickCmd(m.pollTick), m.spinner.Tick}
	if m.backend != nil {
		cmds = append(cmds, fetchOverviewCmd(m.backend))
	}
	if m.view == ViewLogin {
		cmds = append(cmds, m.login.blinkCmd())
	}
	return tea.Batch(cmds...)
}

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.help.Width = msg.Width
		if !m.ready {
			m.logs.viewport = viewport.New(msg.Width, m.contentHeight())
		}
		m.ready = true
		m.logs.viewport.Width = msg.Width
		m.logs.viewport.Height = m.contentHeight()
		m.renderLogViewport()
		return m, nil

	case tickMsg:
		return m.handleTick()

	case overviewMsg:
		return m.handleOverview(msg)

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case releaseMsg:
		m.record(m.typing.capture.expire(msg.seq))
		return m, nil

	case loginResultMsg:
		return m.handleLoginResult(msg)

	case challengeIssuedMsg:
		m.handleChallengeIssued(msg)
		return m, nil

	case attemptResultMsg:
		return m.handleAttemptResult(msg)

	case logsMsg:
		m.handleLogs(msg)
		return m, nil
	}

	return m, m.updateInputs(msg)
}

// View implements tea.Model.
func (m Model) View() string {
	if !m.ready {
		return "Loading..."
	}
	if m.showHelp {
		return m.renderHelp()
	}
	return m.renderMain()
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if m.showHelp {
		// Any key closes help
		m.showHelp = false
		return m, nil
	}

	if msg.Type == tea.KeyCtrlC {
		return m.quit()
	}

	switch {
	case key.Matches(msg, m.keys.Tab):
		return m.switchView(m.cycleView(1))
	case key.Matches(msg, m.keys.ShiftTab):
		return m.switchView(m.cycleView(-1))
	case key.Matches(msg, m.keys.Escape):
		return m.switchView(ViewDashboard)
	}

	if m.view.capturesInput() {
		switch m.view {
		case ViewTyping:
			return m.handleTypingKey(msg)
		case ViewLogin:
			return m.handleLoginKey(msg)
		default:
			return m.handleChallengeKey(msg)
		}
	}

	switch {
	case key.Matches(msg, m.keys.Quit):
		return m.quit()
	case key.Matches(msg, m.keys.Help):
		m.showHelp = true
		return m, nil
	case key.Matches(msg, m.keys.CycleTheme):
		m.cycleTheme()
		return m, nil
	case key.Matches(msg, m.keys.ViewDashboard):
		return m.switchView(ViewDashboard)
	case key.Matches(msg, m.keys.ViewTyping):
		return m.switchView(ViewTyping)
	case key.Matches(msg, m.keys.ViewLogin):
		return m.switchView(ViewLogin)
	case key.Matches(msg, m.keys.ViewChallenge):
		return m.switchView(ViewChallenge)
	case key.Matches(msg, m.keys.ViewLogs):
		return m.switchView(ViewLogs)
	}

	switch m.view {
	case ViewDashboard:
		return m.handleDashboardKey(msg)
	case ViewLogs:
		return m.handleLogsKey(msg)
	}
	return m, nil
}

func (m Model) quit() (tea.Model, tea.Cmd) {
	m.record(m.typing.capture.flush(m.now()))
	return m, tea.Quit
}

func (m Model) cycleView(step int) View {
	for i, v := range viewOrder {
		if v == m.view {
			return viewOrder[(i+step+len(viewOrder))%len(viewOrder)]
		}
	}
	return ViewDashboard
}

// switchView leaves the current view and enters next.
func (m Model) switchView(next View) (tea.Model, tea.Cmd) {
	if m.view == ViewTyping && next != ViewTyping {
		m.record(m.typing.capture.flush(m.now()))
	}
	m.login.blur()
	m.challenge.input.Blur()
	m.view = next
	m.flash = ""

	switch next {
	case ViewLogin:
		m.login.focus(m.login.email.Value() != "")
		return m, m.login.blinkCmd()
	case ViewChallenge:
		m.refreshStrategies()
		return m, m.challenge.input.Focus()
	case ViewLogs:
		return m, refreshLogsCmd(m.logPath, m.prefs.LogLines)
	}
	return m, nil
}

func (m *Model) cycleTheme() {
	m.theme = GetTheme(NextTheme(m.theme.Name))
	m.prefs.Theme = m.theme.Name
	m.savePrefs()
	m.renderLogViewport()
}

func (m *Model) savePrefs() {
	if m.prefsPath == "" {
		return
	}
	if err := prefs.Save(m.prefsPath, m.prefs); err != nil {
		m.logger.Warn("save prefs failed", slog.Any("error", err))
	}
}

// updateInputs forwards non-key messages, such as cursor blinks, to the
// focused text inputs.
func (m *Model) updateInputs(msg tea.Msg) tea.Cmd {
	switch m.view {
	case ViewLogin:
		return m.login.update(msg)
	case ViewChallenge:
		var cmd tea.Cmd
		m.challenge.input, cmd = m.challenge.input.Update(msg)
		return cmd
	}
	return nil
}

// handleTick processes the polling tick.
func (m Model) handleTick() (tea.Model, tea.Cmd) {
	cmds := []tea.Cmd{tickCmd(m.pollTick)}
	if m.backend != nil {
		cmds = append(cmds, fetchOverviewCmd(m.backend))
	}
	if m.view == ViewLogs && m.logs.follow {
		cmds = append(cmds, refreshLogsCmd(m.logPath, m.prefs.LogLines))
	}
	return m, tea.Batch(cmds...)
}

func (m Model) handleOverview(msg overviewMsg) (tea.Model, tea.Cmd) {
	m.overview = msg.overview
	m.overviewErr = msg.err
	m.lastUpdated = m.now()

	var sec state.SecurityStatus
	if msg.overview.Status != nil {
		sec = msg.overview.Status.SecurityStatus
	}
	entered := sec == state.Challenge && m.lastSec != state.Challenge
	m.lastSec = sec
	if entered && m.view != ViewChallenge {
		next, cmd := m.switchView(ViewChallenge)
		nm := next.(Model)
		nm.flash = "Typing did not match your profile. Answer a challenge to continue."
		return nm, cmd
	}
	return m, nil
}

// Messages

type tickMsg time.Time

type overviewMsg struct {
	overview app.Overview
	err      error
}

// Commands

func tickCmd(d time.Duration) tea.Cmd {
	return tea.Tick(d, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func fetchOverviewCmd(b Backend) tea.Cmd {
	return func() tea.Msg {
		o, err := b.Overview()
		return overviewMsg{overview: o, err: err}
	}
}

// Run starts the shell against a running agent. It matches app.Shell.
func Run(ctx context.Context, a *app.Agent, restored app.Restored) error {
	prefsPath := prefs.DefaultPath()
	p, err := prefs.Load(prefsPath)
	if err != nil {
		a.Logger.Warn("load prefs failed", slog.Any("error", err))
	}

	m := New(Options{
		Context:   ctx,
		Backend:   agentBackend{a: a},
		Restored:  restored,
		LogPath:   a.Config.LogFile,
		Prefs:     p,
		PrefsPath: prefsPath,
		Logger:    a.Logger,
	})
	prog := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx))
	_, err = prog.Run()
	if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
		return nil
	}
	return err
}
