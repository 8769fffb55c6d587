package monitor

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/lucasb-eyer/go-colorful"

	"github.com/sdpower/usagebar-go/internal/projection"
)

var (
	gradientStart = mustHex("#2ecc71")
	gradientMid   = mustHex("#f1c40f")
	gradientEnd   = mustHex("#e74c3c")
)

func mustHex(s string) colorful.Color {
	c, err := colorful.Hex(s)
	if err != nil {
		panic(err)
	}
	return c
}

// gradientAt maps a fraction in [0,1] onto green, yellow, red.
func gradientAt(t float64) colorful.Color {
	switch {
	case t <= 0:
		return gradientStart
	case t >= 1:
		return gradientEnd
	case t < 0.5:
		return gradientStart.BlendLuv(gradientMid, t*2).Clamped()
	default:
		return gradientMid.BlendLuv(gradientEnd, (t-0.5)*2).Clamped()
	}
}

func (m Model) View() string {
	if m.quitting {
		return ""
	}

	var b strings.Builder
	b.WriteString(m.style(lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("205"))).
		Render("Claude Usage Monitor"))
	b.WriteString("  ")
	b.WriteString(m.statusBadge())
	b.WriteString("\n\n")

	r := m.report
	if len(r.Usages) == 0 {
		msg := "Waiting for usage data..."
		if !r.IsLoading && r.Error != nil {
			msg = "No usage data yet."
		}
		b.WriteString(m.style(lipgloss.NewStyle().Foreground(lipgloss.Color("226")).Bold(true)).Render(msg))
		b.WriteString("\n")
	}

	barWidth := m.barWidth()
	for _, u := range r.Usages {
		b.WriteString(m.renderUsage(u, barWidth))
		b.WriteString("\n")
	}

	if r.Error != nil {
		b.WriteString("\n")
		b.WriteString(m.style(lipgloss.NewStyle().Foreground(lipgloss.Color("196"))).Render("⚠ " + r.Error.Message))
		b.WriteString("\n")
	}
	if !r.IsNetworkAvailable {
		b.WriteString(m.style(lipgloss.NewStyle().Foreground(lipgloss.Color("226"))).Render("Offline, showing cached data"))
		b.WriteString("\n")
	}
	if m.flash != "" {
		b.WriteString("\n")
		b.WriteString(m.style(lipgloss.NewStyle().Foreground(lipgloss.Color("51"))).Render(m.flash))
		b.WriteString("\n")
	}

	b.WriteString("\n")
	b.WriteString(m.footer())
	return b.String()
}

func (m Model) renderUsage(u projection.DisplayUsage, width int) string {
	title := fmt.Sprintf("%s %-15s", iconGlyph(u.Icon), u.Name)
	pct := fmt.Sprintf("%3d%%", u.Percentage)
	right := fmt.Sprintf("resets in %s", u.RemainingTime)

	line := fmt.Sprintf("%s %s %s  %s", title, m.usageBar(float64(u.Percentage)/100, width), m.statusStyle(u.Status).Render(pct), right)
	elapsed := fmt.Sprintf("  window elapsed %s %.0f%%", m.plainBar(u.TimeProgress, width/2), u.TimeProgress*100)
	return line + "\n" + m.style(lipgloss.NewStyle().Foreground(lipgloss.Color("244"))).Render(elapsed)
}

// usageBar colours each filled cell by its position on the gradient.
func (m Model) usageBar(fraction float64, width int) string {
	fraction = clamp01(fraction)
	filled := int(fraction*float64(width) + 0.5)

	var b strings.Builder
	b.WriteString("[")
	for i := 0; i < filled; i++ {
		cell := "█"
		if !m.options.NoColor {
			pos := float64(i) / float64(max(width-1, 1))
			cell = lipgloss.NewStyle().Foreground(lipgloss.Color(gradientAt(pos).Hex())).Render(cell)
		}
		b.WriteString(cell)
	}
	b.WriteString(m.style(lipgloss.NewStyle().Foreground(lipgloss.Color("239"))).Render(strings.Repeat("░", width-filled)))
	b.WriteString("]")
	return b.String()
}

func (m Model) plainBar(fraction float64, width int) string {
	filled := int(clamp01(fraction)*float64(width) + 0.5)
	return "[" + strings.Repeat("▪", filled) + strings.Repeat("·", width-filled) + "]"
}

func (m Model) statusBadge() string {
	r := m.report
	text := fmt.Sprintf("%s %d%%", strings.ToUpper(r.PrimaryStatus.String()), r.Highest.Percentage)
	if r.IsLoading {
		text += " ↻"
	}
	return m.statusStyle(r.PrimaryStatus).Bold(true).Render(text)
}

func (m Model) footer() string {
	r := m.report
	notifications := "on"
	if !r.NotificationsEnabled {
		notifications = "off"
	}
	info := fmt.Sprintf("Updated %s · every %s · notifications %s",
		r.LastUpdatedText, formatInterval(r.RefreshIntervalSec), notifications)
	keys := "r refresh · +/- interval · n notifications · q quit"
	dim := m.style(lipgloss.NewStyle().Foreground(lipgloss.Color("244")))
	return dim.Render(info) + "\n" + dim.Render(keys)
}

func (m Model) statusStyle(s projection.Status) lipgloss.Style {
	if m.options.NoColor {
		return lipgloss.NewStyle()
	}
	var color lipgloss.Color
	switch s.Color() {
	case "green":
		color = lipgloss.Color("46")
	case "yellow":
		color = lipgloss.Color("226")
	case "red":
		color = lipgloss.Color("196")
	default:
		color = lipgloss.Color("245")
	}
	return lipgloss.NewStyle().Foreground(color)
}

func (m Model) style(s lipgloss.Style) lipgloss.Style {
	if m.options.NoColor {
		return lipgloss.NewStyle()
	}
	return s
}

// barWidth follows the terminal width between 20 and 50 cells.
func (m Model) barWidth() int {
	if m.width <= 0 {
		return 30
	}
	w := m.width - 50
	return min(max(w, 20), 50)
}

func iconGlyph(icon string) string {
	switch icon {
	case "clock":
		return "⏱"
	case "calendar":
		return "📅"
	case "target":
		return "🎯"
	case "bolt":
		return "⚡"
	default:
		return "•"
	}
}

func clamp01(f float64) float64 {
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}
