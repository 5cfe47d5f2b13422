// Package ui renders testmend's terminal output: batch summaries and results
// tables, with light and dark palettes.
package ui

import (
	"os"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// Status colors are shared by both themes.
var (
	colorFixed   = lipgloss.Color("#8BC34A")
	colorBlocked = lipgloss.Color("#FFC107")
	colorSkipped = lipgloss.Color("#2196F3")
	colorFailed  = lipgloss.Color("#e53935")
)

// Theme is a foreground palette for one terminal background.
type Theme struct {
	Foreground lipgloss.Color
	Primary    lipgloss.Color
	Muted      lipgloss.Color
	Border     lipgloss.Color
	IsDark     bool
}

func LightTheme() Theme {
	return Theme{
		Foreground: "#101F38",
		Primary:    "#101F38",
		Muted:      "#6b7280",
		Border:     "#dce0e5",
	}
}

func DarkTheme() Theme {
	return Theme{
		Foreground: "#f2f2f2",
		Primary:    colorFixed,
		Muted:      "#8a94a6",
		Border:     "#2a3850",
		IsDark:     true,
	}
}

// DetectTheme picks a theme from COLORFGBG ("fg;bg") or TESTMEND_DARK_MODE,
// defaulting to light.
func DetectTheme() Theme {
	// COLORFGBG backgrounds 0-6 and 8 (dark grey) are dark.
	if _, bg, ok := strings.Cut(os.Getenv("COLORFGBG"), ";"); ok {
		if n, err := strconv.Atoi(bg); err == nil && (n >= 0 && n <= 6 || n == 8) {
			return DarkTheme()
		}
	}
	if os.Getenv("TESTMEND_DARK_MODE") == "1" {
		return DarkTheme()
	}
	return LightTheme()
}

// Styles holds the styled components.
type Styles struct {
	Theme Theme

	Title lipgloss.Style
	Body  lipgloss.Style
	Muted lipgloss.Style
	Bold  lipgloss.Style

	Success lipgloss.Style
	Error   lipgloss.Style
	Warning lipgloss.Style
	Info    lipgloss.Style

	Divider lipgloss.Style
}

// NewStyles builds the styles for theme.
func NewStyles(theme Theme) Styles {
	fg := func(c lipgloss.Color) lipgloss.Style { return lipgloss.NewStyle().Foreground(c) }
	return Styles{
		Theme:   theme,
		Title:   fg(theme.Primary).Bold(true).MarginBottom(1),
		Body:    fg(theme.Foreground),
		Muted:   fg(theme.Muted),
		Bold:    fg(theme.Foreground).Bold(true),
		Success: fg(colorFixed).Bold(true),
		Error:   fg(colorFailed).Bold(true),
		Warning: fg(colorBlocked).Bold(true),
		Info:    fg(colorSkipped),
		Divider: fg(theme.Border),
	}
}

// DefaultStyles returns styles for the detected theme.
func DefaultStyles() Styles {
	return NewStyles(DetectTheme())
}

// Outcome renders a session outcome in its status color.
func (s Styles) Outcome(outcome string) string {
	switch outcome {
	case "converged":
		return s.Success.Render(outcome)
	case "class_failures":
		return s.Warning.Render(outcome)
	case "unexecutable":
		return s.Info.Render(outcome)
	case "aborted":
		return s.Error.Render(outcome)
	default:
		return s.Muted.Render(outcome)
	}
}

// Rule returns a horizontal rule of width cells.
func (s Styles) Rule(width int) string {
	if width < 1 {
		width = 1
	}
	return s.Divider.Render(strings.Repeat("─", width))
}
