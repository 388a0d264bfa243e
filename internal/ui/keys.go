package ui

import "github.com/charmbracelet/bubbles/key"

// keyMap defines all keyboard bindings for the shell.
type keyMap struct {
	// Global
	Quit       key.Binding
	Help       key.Binding
	CycleTheme key.Binding
	Tab        key.Binding
	ShiftTab   key.Binding
	Escape     key.Binding

	// View switching
	ViewDashboard key.Binding
	ViewTyping    key.Binding
	ViewLogin     key.Binding
	ViewChallenge key.Binding
	ViewLogs      key.Binding

	// Navigation
	Up     key.Binding
	Down   key.Binding
	Top    key.Binding
	Bottom key.Binding

	// Logs actions
	ToggleFollow key.Binding
	CycleLevel   key.Binding

	// Forms
	Confirm   key.Binding
	NextField key.Binding
	Logout    key.Binding
}

// DefaultKeyMap returns the default key bindings.
func DefaultKeyMap() keyMap {
	return keyMap{
		// Global
		Quit: key.NewBinding(
			key.WithKeys("ctrl+c", "e"),
			key.WithHelp("e", "Quit"),
		),
		Help: key.NewBinding(
			key.WithKeys("h", "?"),
			key.WithHelp("h/?", "Toggle help"),
		),
		CycleTheme: key.NewBinding(
			key.WithKeys("T"),
			key.WithHelp("T", "Cycle theme"),
		),
		Tab: key.NewBinding(
			key.WithKeys("tab"),
			key.WithHelp("tab", "Cycle views"),
		),
		ShiftTab: key.NewBinding(
			key.WithKeys("shift+tab"),
			key.WithHelp("shift+tab", "Cycle views (reverse)"),
		),
		Escape: key.NewBinding(
			key.WithKeys("esc"),
			key.WithHelp("esc", "Dashboard"),
		),

		// View switching
		ViewDashboard: key.NewBinding(
			key.WithKeys("d"),
			key.WithHelp("d", "Dashboard"),
		),
		ViewTyping: key.NewBinding(
			key.WithKeys("t"),
			key.WithHelp("t", "Typing pad"),
		),
		ViewLogin: key.NewBinding(
			key.WithKeys("a"),
			key.WithHelp("a", "Log in"),
		),
		ViewChallenge: key.NewBinding(
			key.WithKeys("c"),
			key.WithHelp("c", "Challenge"),
		),
		ViewLogs: key.NewBinding(
			key.WithKeys("l"),
			key.WithHelp("l", "Logs"),
		),

		// Navigation
		Up: key.NewBinding(
			key.WithKeys("k", "up"),
			key.WithHelp("k/up", "Move up"),
		),
		Down: key.NewBinding(
			key.WithKeys("j", "down"),
			key.WithHelp("j/down", "Move down"),
		),
		Top: key.NewBinding(
			key.WithKeys("g", "home"),
			key.WithHelp("g", "Go to top"),
		),
		Bottom: key.NewBinding(
			key.WithKeys("G", "end"),
			key.WithHelp("G", "Go to bottom"),
		),

		// Logs actions
		ToggleFollow: key.NewBinding(
			key.WithKeys(" ", "f"),
			key.WithHelp("f", "Toggle follow"),
		),
		CycleLevel: key.NewBinding(
			key.WithKeys("v"),
			key.WithHelp("v", "Cycle level"),
		),

		// Forms
		Confirm: key.NewBinding(
			key.WithKeys("enter"),
			key.WithHelp("enter", "Confirm"),
		),
		NextField: key.NewBinding(
			key.WithKeys("down", "up"),
			key.WithHelp("up/down", "Switch field"),
		),
		Logout: key.NewBinding(
			key.WithKeys("X"),
			key.WithHelp("X", "Log out"),
		),
	}
}

// ShortHelp implements help.KeyMap for the footer.
func (k keyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Tab, k.Escape, k.Help, k.Quit}
}

// FullHelp implements help.KeyMap.
func (k keyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.ViewDashboard, k.ViewTyping, k.ViewLogin, k.ViewChallenge, k.ViewLogs},
		{k.Up, k.Down, k.Top, k.Bottom},
		{k.ToggleFollow, k.CycleLevel, k.Confirm, k.Logout},
		{k.CycleTheme, k.Help, k.Quit},
	}
}
