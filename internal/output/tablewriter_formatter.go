package output

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/olekukonko/tablewriter/renderer"
	"github.com/olekukonko/tablewriter/tw"

	"github.com/sdpower/usagebar-go/internal/projection"
)

const barWidth = 20

// TableWriterFormatter renders a Report as a boxed table.
type TableWriterFormatter struct {
	noColor bool
}

func NewTableWriterFormatter(noColor bool) *TableWriterFormatter {
	return &TableWriterFormatter{noColor: noColor}
}

func (f *TableWriterFormatter) FormatUsageReport(report Report) string {
	var output strings.Builder
	output.WriteString(f.title())

	if len(report.Usages) == 0 {
		output.WriteString("No usage data available.\n")
		f.writeStatusLines(&output, report)
		return output.String()
	}

	var buf bytes.Buffer
	table := tablewriter.NewTable(&buf,
		tablewriter.WithRenderer(renderer.NewBlueprint(tw.Rendition{
			Settings: tw.Settings{Separators: tw.Separators{BetweenRows: tw.On}},
		})),
		tablewriter.WithConfig(tablewriter.Config{
			Row: tw.CellConfig{
				Alignment: tw.CellAlignment{Global: tw.AlignLeft},
			},
		}),
		tablewriter.WithHeaderAutoFormat(tw.Off),
	)

	table.Header([]string{
		"Limit\n",
		"Used\n",
		"Usage\n",
		"Status\n",
		"Resets\nIn",
	})

	for _, u := range report.Usages {
		table.Append([]string{
			u.Name,
			fmt.Sprintf("%d%%", u.Percentage),
			Bar(float64(u.Percentage)/100, barWidth),
			u.Status.String(),
			u.RemainingTime,
		})
	}

	table.Footer([]string{
		"Highest",
		fmt.Sprintf("%d%%", report.Highest.Percentage),
		Bar(report.TimeProgress, barWidth),
		report.PrimaryStatus.String(),
		report.LastUpdatedText,
	})

	table.Render()

	if f.noColor {
		output.WriteString(buf.String())
	} else {
		output.WriteString(f.colorize(buf.String()))
	}
	f.writeStatusLines(&output, report)
	return output.String()
}

func (f *TableWriterFormatter) title() string {
	var output strings.Builder
	output.WriteString("\n")
	output.WriteString(" ╭──────────────────────────────╮\n")
	output.WriteString(" │                              │\n")
	output.WriteString(" │  Claude Subscription Usage   │\n")
	output.WriteString(" │                              │\n")
	output.WriteString(" ╰──────────────────────────────╯\n\n")
	return output.String()
}

func (f *TableWriterFormatter) writeStatusLines(output *strings.Builder, report Report) {
	output.WriteString(fmt.Sprintf("\nLast updated: %s\n", report.LastUpdatedText))
	if !report.IsNetworkAvailable {
		output.WriteString(f.paint(ansiYellow, "Network unavailable, showing cached data") + "\n")
	}
	if report.Error != nil {
		output.WriteString(f.paint(ansiRed, "Error: "+report.Error.Message) + "\n")
	}
}

const (
	ansiGray   = "\033[90m"
	ansiCyan   = "\033[36m"
	ansiYellow = "\033[33m"
	ansiRed    = "\033[31m"
	ansiReset  = "\033[0m"
)

func (f *TableWriterFormatter) paint(color, s string) string {
	if f.noColor {
		return s
	}
	return color + s + ansiReset
}

// colorize paints borders gray, the header cyan, the footer yellow and each
// status cell in its tier colour.
func (f *TableWriterFormatter) colorize(table string) string {
	lines := strings.Split(table, "\n")
	var colored strings.Builder

	for i, line := range lines {
		switch {
		case line == "":
		case strings.HasPrefix(line, "┌") || strings.HasPrefix(line, "├") || strings.HasPrefix(line, "└"):
			colored.WriteString(ansiGray + line + ansiReset)
		case strings.Contains(line, "│"):
			parts := strings.Split(line, "│")
			footer := strings.Contains(strings.ToLower(line), "highest")
			for j, part := range parts {
				if j > 0 {
					colored.WriteString(ansiGray + "│" + ansiReset)
				}
				trimmed := strings.TrimSpace(part)
				switch {
				case trimmed == "":
					colored.WriteString(part)
				case i <= 2:
					colored.WriteString(ansiCyan + part + ansiReset)
				case footer:
					colored.WriteString(ansiYellow + part + ansiReset)
				default:
					colored.WriteString(statusPaint(trimmed, part))
				}
			}
		default:
			colored.WriteString(line)
		}
		if i < len(lines)-1 {
			colored.WriteString("\n")
		}
	}
	return colored.String()
}

func statusPaint(trimmed, part string) string {
	for _, s := range []projection.Status{
		projection.StatusNormal, projection.StatusWarning, projection.StatusCritical, projection.StatusExhausted,
	} {
		if trimmed == s.String() {
			return ansiFor(s) + part + ansiReset
		}
	}
	return part
}

func ansiFor(s projection.Status) string {
	switch s.Color() {
	case "green":
		return "\033[32m"
	case "yellow":
		return ansiYellow
	case "red":
		return ansiRed
	default:
		return ansiGray
	}
}

// Bar renders a fraction in [0,1] as a fixed-width block bar.
func Bar(fraction float64, width int) string {
	if fraction < 0 {
		fraction = 0
	}
	if fraction > 1 {
		fraction = 1
	}
	filled := int(fraction*float64(width) + 0.5)
	return strings.Repeat("█", filled) + strings.Repeat("░", width-filled)
}
