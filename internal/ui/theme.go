package ui

import (
	"github.com/charmbracelet/lipgloss"
)

// Theme defines colors and styles for the UI.
type Theme struct {
	Name string

	// Base colors
	Background string
	Surface    string
	SurfaceAlt string

	// Border colors
	Border      string
	BorderFocus string

	// Text colors
	Text    string
	Muted   string
	Faint   string
	Accent  string
	Success string
	Warning string
	Danger  string
	Info    string

	// StatusColors maps auth, security and sync states to badge colors.
	StatusColors map[string]string
}

// Styles returns Lipgloss styles for this theme.
func (t Theme) Styles() Styles {
	return Styles{
		Surface: lipgloss.NewStyle().
			Background(lipgloss.Color(t.Surface)).
			Foreground(lipgloss.Color(t.Text)),

		Text: lipgloss.NewStyle().
			Foreground(lipgloss.Color(t.Text)),

		MutedText: lipgloss.NewStyle().
			Foreground(lipgloss.Color(t.Muted)),

		FaintText: lipgloss.NewStyle().
			Foreground(lipgloss.Color(t.Faint)),

		AccentText: lipgloss.NewStyle().
			Foreground(lipgloss.Color(t.Accent)),

		SuccessText: lipgloss.NewStyle().
			Foreground(lipgloss.Color(t.Success)).
			Bold(true),

		WarningText: lipgloss.NewStyle().
			Foreground(lipgloss.Color(t.Warning)),

		DangerText: lipgloss.NewStyle().
			Foreground(lipgloss.Color(t.Danger)).
			Bold(true),

		InfoText: lipgloss.NewStyle().
			Foreground(lipgloss.Color(t.Info)),

		Header: lipgloss.NewStyle().
			Background(lipgloss.Color(t.Surface)).
			Foreground(lipgloss.Color(t.Text)).
			Padding(0, 1),

		Footer: lipgloss.NewStyle().
			Foreground(lipgloss.Color(t.Muted)).
			Padding(0, 1),

		Logo: lipgloss.NewStyle().
			Foreground(lipgloss.Color(t.Warning)).
			Bold(true),

		Panel: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color(t.Border)).
			Padding(0, 1),

		FocusPanel: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color(t.BorderFocus)).
			Padding(0, 1),

		statusColors: t.StatusColors,
		background:   t.Background,
		muted:        t.Muted,
	}
}

// Styles contains pre-built Lipgloss styles for the theme.
type Styles struct {
	Surface lipgloss.Style

	// Text
	Text        lipgloss.Style
	MutedText   lipgloss.Style
	FaintText   lipgloss.Style
	AccentText  lipgloss.Style
	SuccessText lipgloss.Style
	WarningText lipgloss.Style
	DangerText  lipgloss.Style
	InfoText    lipgloss.Style

	// Components
	Header     lipgloss.Style
	Footer     lipgloss.Style
	Logo       lipgloss.Style
	Panel      lipgloss.Style
	FocusPanel lipgloss.Style

	statusColors map[string]string
	background   string
	muted        string
}

// StatusStyle returns a badge style for an auth, security or sync state.
func (s Styles) StatusStyle(status string) lipgloss.Style {
	color := s.statusColors[status]
	if color == "" {
		color = s.muted
	}
	return lipgloss.NewStyle().
		Foreground(lipgloss.Color(s.background)).
		Background(lipgloss.Color(color)).
		Padding(0, 1)
}

// LevelStyle returns the style for a log level.
func (s Styles) LevelStyle(level string) lipgloss.Style {
	switch level {
	case "ERROR":
		return s.DangerText
	case "WARN":
		return s.WarningText
	case "DEBUG":
		return s.FaintText
	default:
		return s.InfoText
	}
}

var themes = map[string]Theme{
	"Dusk":  duskTheme(),
	"Paper": paperTheme(),
	"Slate": slateTheme(),
}

var themeOrder = []string{"Dusk", "Paper", "Slate"}

// GetTheme returns a theme by name, falling back to Dusk.
func GetTheme(name string) Theme {
	if t, ok := themes[name]; ok {
		return t
	}
	return duskTheme()
}

// NextTheme returns the next theme name in the cycle.
func NextTheme(current string) string {
	for i, name := range themeOrder {
		if name == current {
			return themeOrder[(i+1)%len(themeOrder)]
		}
	}
	return themeOrder[0]
}

// ThemeNames returns available theme names.
func ThemeNames() []string {
	return themeOrder
}

func statusColors(ok, busy, warn, bad, idle string) map[string]string {
	return map[string]string{
		"AUTHENTICATED":   ok,
		"UNAUTHENTICATED": idle,
		"UNLOCKED":        ok,
		"CHALLENGE":       warn,
		"LOCKED":          bad,
		"INSYNC":          ok,
		"SYNCING":         busy,
		"UNSYNCED":        warn,
	}
}

func duskTheme() Theme {
	// Nightfox "duskfox" palette: https://github.com/EdenEast/nightfox.nvim
	return Theme{
		Name: "Dusk",

		Background: "#191726",
		Surface:    "#232136",
		SurfaceAlt: "#2d2a45",

		Border:      "#433c59",
		BorderFocus: "#a3be8c",

		Text:    "#e0def4",
		Muted:   "#817c9c",
		Faint:   "#6e6a86",
		Accent:  "#569fba",
		Success: "#a3be8c",
		Warning: "#f6c177",
		Danger:  "#eb6f92",
		Info:    "#9ccfd8",

		StatusColors: statusColors("#a3be8c", "#569fba", "#f6c177", "#eb6f92", "#6e6a86"),
	}
}

func paperTheme() Theme {
	// Light theme for bright terminals.
	return Theme{
		Name: "Paper",

		Background: "#fafaf7",
		Surface:    "#eeeee8",
		SurfaceAlt: "#e2e2da",

		Border:      "#c8c8bd",
		BorderFocus: "#2f6f9f",

		Text:    "#2b2b28",
		Muted:   "#6b6b63",
		Faint:   "#8d8d84",
		Accent:  "#2f6f9f",
		Success: "#3f7f3f",
		Warning: "#9a6700",
		Danger:  "#b3261e",
		Info:    "#1f7a8c",

		StatusColors: statusColors("#3f7f3f", "#2f6f9f", "#9a6700", "#b3261e", "#8d8d84"),
	}
}

func slateTheme() Theme {
	// Low-contrast terminal grays with a teal accent.
	return Theme{
		Name: "Slate",

		Background: "#16191d",
		Surface:    "#1f2328",
		SurfaceAlt: "#2a2f36",

		Border:      "#3b424b",
		BorderFocus: "#4fb3a9",

		Text:    "#dde2e8",
		Muted:   "#9aa4b0",
		Faint:   "#6b7480",
		Accent:  "#4fb3a9",
		Success: "#6cbf73",
		Warning: "#d9a441",
		Danger:  "#d9605a",
		Info:    "#5fa8d3",

		StatusColors: statusColors("#6cbf73", "#5fa8d3", "#d9a441", "#d9605a", "#6b7480"),
	}
}
