package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
	"gopkg.in/yaml.v3"

	"github.com/chrisuehlinger/postmessage/js"
)

var (
	headerColor = color.New(color.FgWhite, color.Bold)
	errorColor  = color.New(color.FgRed, color.Bold)
	warnColor   = color.New(color.FgYellow)
	okColor     = color.New(color.FgGreen)
)

// runReport is what `postmessage run` prints.
type runReport struct {
	Deliveries []js.DeliveryRecord `json:"deliveries" yaml:"deliveries"`
	Errors     []scriptError       `json:"errors,omitempty" yaml:"errors,omitempty"`
	Tasks      int                 `json:"tasks" yaml:"tasks"`
	ClockMS    float64             `json:"clock_ms" yaml:"clock_ms"`
	Incomplete bool                `json:"incomplete,omitempty" yaml:"incomplete,omitempty"`
}

type scriptError struct {
	Scope string `json:"scope" yaml:"scope"`
	URL   string `json:"url" yaml:"url"`
	Error string `json:"error" yaml:"error"`
}

func writeReport(w io.Writer, format string, report *runReport) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(report); err != nil {
			return err
		}
		return enc.Close()
	case "text", "table", "":
		writeText(w, report)
		return nil
	}
	return fmt.Errorf("unknown output format %q (want text, json or yaml)", format)
}

func writeText(w io.Writer, report *runReport) {
	table := newTable("SCOPE", "KIND", "TYPE", "ORIGIN", "SOURCE", "PORTS", "DATA")
	for _, rec := range report.Deliveries {
		origin := rec.Origin
		if origin == "" {
			origin = `""`
		}
		source := rec.Source
		if source == "" {
			source = "-"
		}
		table.addRow(rec.Scope, rec.Kind, rec.Type, origin, source, fmt.Sprint(rec.Ports), truncate(rec.Data, 60))
	}
	table.render(w)

	fmt.Fprintln(w)
	summary := fmt.Sprintf("%d message event(s), %d task(s), %.0fms virtual time", len(report.Deliveries), report.Tasks, report.ClockMS)
	if report.Incomplete {
		warnColor.Fprintf(w, "⚠ %s; task limit reached before the host went idle\n", summary)
	} else {
		okColor.Fprintf(w, "✓ %s\n", summary)
	}
	for _, e := range report.Errors {
		errorColor.Fprintf(w, "✗ %s %s: %s\n", e.Scope, e.URL, e.Error)
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}

// table renders aligned columns.
type table struct {
	headers []string
	rows    [][]string
}

func newTable(headers ...string) *table {
	return &table{headers: headers}
}

func (t *table) addRow(row ...string) {
	t.rows = append(t.rows, row)
}

func (t *table) render(w io.Writer) {
	widths := make([]int, len(t.headers))
	for i, header := range t.headers {
		widths[i] = len(header)
	}
	for _, row := range t.rows {
		for i, cell := range row {
			widths[i] = max(widths[i], len(cell))
		}
	}

	for i, header := range t.headers {
		headerColor.Fprintf(w, "%-*s  ", widths[i], header)
	}
	fmt.Fprintln(w)
	for i := range t.headers {
		fmt.Fprint(w, strings.Repeat("-", widths[i])+"  ")
	}
	fmt.Fprintln(w)
	for _, row := range t.rows {
		for i, cell := range row {
			fmt.Fprintf(w, "%-*s  ", widths[i], cell)
		}
		fmt.Fprintln(w)
	}
}
