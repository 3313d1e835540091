package tui

import (
	"strings"

	"charm.land/lipgloss/v2"
)

// Accent color for the Shiplog brand.
const accentTeal = "#2DD4BF"

// Shiplog banner, block style.
var bannerArt = []string{
	" ███████╗██╗  ██╗██╗██████╗ ██╗      ██████╗  ██████╗ ",
	" ██╔════╝██║  ██║██║██╔══██╗██║     ██╔═══██╗██╔════╝ ",
	" ███████╗███████║██║██████╔╝██║     ██║   ██║██║  ███╗",
	" ╚════██║██╔══██║██║██╔═══╝ ██║     ██║   ██║██║   ██║",
	" ███████║██║  ██║██║██║     ███████╗╚██████╔╝╚██████╔╝",
	" ╚══════╝╚═╝  ╚═╝╚═╝╚═╝     ╚══════╝ ╚═════╝  ╚═════╝ ",
}

// Styles contains all lipgloss styles for the TUI.
type Styles struct {
	Banner    lipgloss.Style
	Header    lipgloss.Style
	User      lipgloss.Style
	Assistant lipgloss.Style
	System    lipgloss.Style
	Tips      lipgloss.Style
	Error     lipgloss.Style
	Prompt    lipgloss.Style
	Separator lipgloss.Style
	StatusBar lipgloss.Style
}

// DefaultStyles returns the default style configuration.
func DefaultStyles() Styles {
	return Styles{
		Banner:    lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color(accentTeal)),
		Header:    lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color(accentTeal)),
		User:      lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("86")),
		Assistant: lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("212")),
		System:    lipgloss.NewStyle().Italic(true).Foreground(lipgloss.Color("240")),
		Tips:      lipgloss.NewStyle().Foreground(lipgloss.Color("255")),
		Error:     lipgloss.NewStyle().Foreground(lipgloss.Color("196")),
		Prompt:    lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("86")),
		Separator: lipgloss.NewStyle().Foreground(lipgloss.Color("240")),
		StatusBar: lipgloss.NewStyle().Foreground(lipgloss.Color("250")),
	}
}

// RenderBanner returns the Shiplog banner as a styled string.
func (s Styles) RenderBanner() string {
	var b strings.Builder
	for _, line := range bannerArt {
		_, _ = b.WriteString(s.Banner.Render(line))
		_, _ = b.WriteString("\n")
	}
	return b.String()
}

// welcomeTips contains getting started tips displayed under the banner.
var welcomeTips = []string{
	"Tips for getting started:",
	"  • Ask about releases, fixes, and features in plain language",
	"  • Use /help to see available commands, /new for a fresh conversation",
	"  • Press Ctrl+C to cancel, Ctrl+D to exit",
	"  • Up/Down arrows navigate input history",
}

// RenderWelcomeTips returns the styled welcome tips block.
func (s Styles) RenderWelcomeTips() string {
	var b strings.Builder
	for _, tip := range welcomeTips {
		_, _ = b.WriteString(s.Tips.Render(tip))
		_, _ = b.WriteString("\n")
	}
	return b.String()
}
