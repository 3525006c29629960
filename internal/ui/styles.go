package ui

import (
	"sync"

	"github.com/charmbracelet/lipgloss"
)

// Theme represents the current color scheme
type Theme string

const (
	ThemeDark  Theme = "dark"
	ThemeLight Theme = "light"
)

var currentTheme Theme = ThemeDark

// Dark Theme - Tokyo Night
var darkColors = struct {
	Border, Text, TextDim, Accent lipgloss.Color
	Green, Yellow, Red, Cyan      lipgloss.Color
}{
	Border:  lipgloss.Color("#414868"),
	Text:    lipgloss.Color("#c0caf5"),
	TextDim: lipgloss.Color("#787fa0"),
	Accent:  lipgloss.Color("#7aa2f7"),
	Green:   lipgloss.Color("#9ece6a"),
	Yellow:  lipgloss.Color("#e0af68"),
	Red:     lipgloss.Color("#f7768e"),
	Cyan:    lipgloss.Color("#7dcfff"),
}

// Light Theme - Tokyo Night Light variant
var lightColors = struct {
	Border, Text, TextDim, Accent lipgloss.Color
	Green, Yellow, Red, Cyan      lipgloss.Color
}{
	Border:  lipgloss.Color("#9699a3"),
	Text:    lipgloss.Color("#343b58"),
	TextDim: lipgloss.Color("#6a6d7c"),
	Accent:  lipgloss.Color("#34548a"),
	Green:   lipgloss.Color("#485e30"),
	Yellow:  lipgloss.Color("#8f5e15"),
	Red:     lipgloss.Color("#8c4351"),
	Cyan:    lipgloss.Color("#166775"),
}

// Active color variables (set by InitTheme)
var (
	ColorBorder  lipgloss.Color
	ColorText    lipgloss.Color
	ColorTextDim lipgloss.Color
	ColorAccent  lipgloss.Color
	ColorGreen   lipgloss.Color
	ColorYellow  lipgloss.Color
	ColorRed     lipgloss.Color
	ColorCyan    lipgloss.Color
)

// themeMu protects global color/style variables during live theme switches.
var themeMu sync.RWMutex

// InitTheme sets the active color palette based on theme name.
// Must be called before any rendering.
func InitTheme(theme string) {
	themeMu.Lock()
	defer themeMu.Unlock()
	if theme == "light" {
		currentTheme = ThemeLight
		ColorBorder = lightColors.Border
		ColorText = lightColors.Text
		ColorTextDim = lightColors.TextDim
		ColorAccent = lightColors.Accent
		ColorGreen = lightColors.Green
		ColorYellow = lightColors.Yellow
		ColorRed = lightColors.Red
		ColorCyan = lightColors.Cyan
	} else {
		currentTheme = ThemeDark
		ColorBorder = darkColors.Border
		ColorText = darkColors.Text
		ColorTextDim = darkColors.TextDim
		ColorAccent = darkColors.Accent
		ColorGreen = darkColors.Green
		ColorYellow = darkColors.Yellow
		ColorRed = darkColors.Red
		ColorCyan = darkColors.Cyan
	}
	initStyles()
}

// GetCurrentTheme returns the active theme
func GetCurrentTheme() Theme {
	return currentTheme
}

func init() {
	InitTheme("dark")
}

var (
	TitleStyle   lipgloss.Style
	HeaderStyle  lipgloss.Style
	DimStyle     lipgloss.Style
	PanelStyle   lipgloss.Style
	WorkingStyle lipgloss.Style
	StoppedStyle lipgloss.Style
	OfflineStyle lipgloss.Style
	FilterStyle  lipgloss.Style
)

func initStyles() {
	TitleStyle = lipgloss.NewStyle().
		Foreground(ColorAccent).
		Bold(true)

	HeaderStyle = lipgloss.NewStyle().
		Foreground(ColorTextDim).
		Bold(true)

	DimStyle = lipgloss.NewStyle().
		Foreground(ColorTextDim)

	PanelStyle = lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(ColorBorder).
		Padding(0, 1)

	WorkingStyle = lipgloss.NewStyle().Foreground(ColorGreen)
	StoppedStyle = lipgloss.NewStyle().Foreground(ColorYellow)
	OfflineStyle = lipgloss.NewStyle().Foreground(ColorRed)

	FilterStyle = lipgloss.NewStyle().Foreground(ColorCyan)
}

// StateStyle returns the style for a lifecycle state string.
func StateStyle(state string) lipgloss.Style {
	themeMu.RLock()
	defer themeMu.RUnlock()
	switch state {
	case "working":
		return WorkingStyle
	case "stopped":
		return StoppedStyle
	default:
		return OfflineStyle
	}
}
