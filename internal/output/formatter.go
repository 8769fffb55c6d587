package output

import (
	"encoding/json"
	"fmt"
	"strings"
)

type Formatter struct {
	options FormatterOptions
}

type FormatterOptions struct {
	Format  string // "table", "json", "csv"
	NoColor bool
}

func NewFormatter(opts FormatterOptions) *Formatter {
	return &Formatter{options: opts}
}

func (f *Formatter) FormatReport(report Report) (string, error) {
	switch f.options.Format {
	case "json":
		return f.FormatJSON(report)
	case "csv":
		return f.FormatCSV(reportRows(report))
	case "", "table":
		return NewTableWriterFormatter(f.options.NoColor).FormatUsageReport(report), nil
	default:
		return "", fmt.Errorf("unknown output format %q", f.options.Format)
	}
}

func (f *Formatter) FormatJSON(data interface{}) (string, error) {
	jsonData, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return "", err
	}
	return string(jsonData), nil
}

func (f *Formatter) FormatCSV(data [][]string) (string, error) {
	var output strings.Builder
	for _, row := range data {
		for i, cell := range row {
			if i > 0 {
				output.WriteString(",")
			}
			// Escape quotes in cells
			if strings.Contains(cell, "\"") || strings.Contains(cell, ",") || strings.Contains(cell, "\n") {
				output.WriteString("\"")
				output.WriteString(strings.ReplaceAll(cell, "\"", "\"\""))
				output.WriteString("\"")
			} else {
				output.WriteString(cell)
			}
		}
		output.WriteString("\n")
	}
	return output.String(), nil
}

func reportRows(report Report) [][]string {
	rows := [][]string{{"limit", "name", "percentage", "status", "remaining", "time_progress"}}
	for _, u := range report.Usages {
		rows = append(rows, []string{
			string(u.Kind),
			u.Name,
			fmt.Sprintf("%d", u.Percentage),
			u.Status.String(),
			u.RemainingTime,
			fmt.Sprintf("%.4f", u.TimeProgress),
		})
	}
	return rows
}
