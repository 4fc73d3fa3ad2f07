package output

import (
	"strings"

	"github.com/Dicklesworthstone/hitl/internal/db"
	"github.com/charmbracelet/lipgloss"
)

// Catppuccin Mocha palette.
var (
	colorBase     = lipgloss.Color("#1e1e2e")
	colorText     = lipgloss.Color("#cdd6f4")
	colorSurface  = lipgloss.Color("#313244")
	colorOverlay0 = lipgloss.Color("#6c7086")
	colorRed      = lipgloss.Color("#f38ba8")
	colorPeach    = lipgloss.Color("#fab387")
	colorYellow   = lipgloss.Color("#f9e2af")
	colorGreen    = lipgloss.Color("#a6e3a1")
	colorBlue     = lipgloss.Color("#89b4fa")
	colorTeal     = lipgloss.Color("#94e2d5")
)

func badge(label string, fg, bg lipgloss.Color) string {
	return lipgloss.NewStyle().
		Foreground(fg).
		Background(bg).
		Bold(true).
		Padding(0, 1).
		Render(strings.ToUpper(label))
}

// RiskBadge renders a risk level as a colored badge.
func RiskBadge(level db.RiskLevel) string {
	switch level {
	case db.RiskCritical:
		return badge(string(level), colorBase, colorRed)
	case db.RiskHigh:
		return badge(string(level), colorBase, colorPeach)
	case db.RiskMedium:
		return badge(string(level), colorBase, colorYellow)
	case db.RiskLow:
		return badge(string(level), colorBase, colorGreen)
	default:
		return badge(string(level), colorText, colorSurface)
	}
}

// StatusBadge renders a decision status as a colored badge.
func StatusBadge(status db.Status) string {
	switch status {
	case db.StatusQueued, db.StatusPending:
		return badge(string(status), colorBase, colorBlue)
	case db.StatusEscalated:
		return badge(string(status), colorBase, colorPeach)
	case db.StatusApproved:
		return badge(string(status), colorBase, colorGreen)
	case db.StatusAutoExecuted:
		return badge(string(status), colorBase, colorTeal)
	case db.StatusRejected:
		return badge(string(status), colorBase, colorRed)
	case db.StatusExpired:
		return badge(string(status), colorText, colorOverlay0)
	default:
		return badge(string(status), colorText, colorSurface)
	}
}
