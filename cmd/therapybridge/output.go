package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

const (
	ansiReset  = "\x1b[0m"
	ansiRed    = "\x1b[31m"
	ansiGreen  = "\x1b[32m"
	ansiYellow = "\x1b[33m"
	ansiBlue   = "\x1b[34m"
)

const labelWidth = 18

type columnAlignment int

const (
	alignLeft columnAlignment = iota
	alignRight
)

// writeJSON encodes v as indented JSON to the command's stdout.
func writeJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// renderTable draws rows with the rounded style. Short rows are padded.
func renderTable(title string, headers []string, rows [][]string, aligns []columnAlignment) string {
	columns := len(headers)
	if columns == 0 {
		return ""
	}

	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)
	if title != "" {
		tw.SetTitle(title)
	}

	header := make(table.Row, columns)
	for i := range columns {
		header[i] = headers[i]
	}
	tw.AppendHeader(header)

	for _, row := range rows {
		r := make(table.Row, columns)
		for i := range columns {
			if i < len(row) {
				r[i] = row[i]
			} else {
				r[i] = ""
			}
		}
		tw.AppendRow(r)
	}

	configs := make([]table.ColumnConfig, 0, columns)
	for i := range columns {
		align := text.AlignLeft
		if i < len(aligns) && aligns[i] == alignRight {
			align = text.AlignRight
		}
		configs = append(configs, table.ColumnConfig{Number: i + 1, Align: align, AlignHeader: text.AlignLeft})
	}
	tw.SetColumnConfigs(configs)
	return tw.Render()
}

// humanize turns a machine label such as "wave1_in_progress" into
// "Wave1 In Progress".
func humanize(label string) string {
	label = strings.TrimSpace(strings.ReplaceAll(label, "_", " "))
	if label == "" {
		return "-"
	}
	return cases.Title(language.Und).String(label)
}

// stateColor picks the colour for a job or analysis state label.
func stateColor(state string) string {
	switch state {
	case "completed", "wave2_complete", "wave2_done":
		return ansiGreen
	case "failed", "orphaned":
		return ansiRed
	case "stopped", "pending":
		return ansiYellow
	case "running", "wave1_in_progress", "wave1_complete", "wave2_in_progress", "wave1_done":
		return ansiBlue
	default:
		return ""
	}
}

func colorState(state string, colorize bool) string {
	label := humanize(state)
	if !colorize {
		return label
	}
	if color := stateColor(state); color != "" {
		return color + label + ansiReset
	}
	return label
}

func renderField(label, value string) string {
	return fmt.Sprintf("%-*s %s", labelWidth, label+":", value)
}

func renderCheck(name string, passed bool, detail string, colorize bool) string {
	status, color := "OK", ansiGreen
	if !passed {
		status, color = "FAIL", ansiRed
	}
	line := fmt.Sprintf("  %-*s [%s] %s", labelWidth+6, name+":", status, detail)
	if colorize {
		return color + line + ansiReset
	}
	return line
}

func shouldColorize(writer io.Writer) bool {
	file, ok := writer.(*os.File)
	if !ok {
		return false
	}
	fd := file.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

func yesNo(value bool) string {
	if value {
		return "yes"
	}
	return "no"
}

func dash(value string) string {
	if strings.TrimSpace(value) == "" {
		return "-"
	}
	return value
}
