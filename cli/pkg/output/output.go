// Package output renders lakectl results as a table, JSON or YAML and prints
// status lines.
package output

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Format selects how structured results are rendered.
type Format string

const (
	FormatTable Format = "table"
	FormatJSON  Format = "json"
	FormatYAML  Format = "yaml"
)

// ErrUnknownFormat is returned by ParseFormat.
var ErrUnknownFormat = errors.New("unknown output format")

// ParseFormat parses a --output value. Empty selects FormatTable.
func ParseFormat(s string) (Format, error) {
	switch Format(strings.ToLower(s)) {
	case "", FormatTable:
		return FormatTable, nil
	case FormatJSON:
		return FormatJSON, nil
	case FormatYAML, "yml":
		return FormatYAML, nil
	default:
		return "", fmt.Errorf("%w: %q (want table, json or yaml)", ErrUnknownFormat, s)
	}
}

// ANSI SGR codes
const (
	fgRed    = 31
	fgGreen  = 32
	fgYellow = 33
	fgCyan   = 36
	fgWhite  = 37
	bold     = 1
)

func paint(on bool, s string, codes ...int) string {
	if !on || len(codes) == 0 {
		return s
	}
	parts := make([]string, len(codes))
	for i, c := range codes {
		parts[i] = fmt.Sprint(c)
	}
	return "\033[" + strings.Join(parts, ";") + "m" + s + "\033[0m"
}

// Printer writes results and status lines.
type Printer struct {
	out    io.Writer
	errOut io.Writer
	format Format
	color  bool
}

// New returns a Printer writing results to out and errors to errOut.
func New(out, errOut io.Writer, format Format, color bool) *Printer {
	if format == "" {
		format = FormatTable
	}
	return &Printer{out: out, errOut: errOut, format: format, color: color}
}

// Stdout returns a Printer on the process's standard streams.
func Stdout(format Format, color bool) *Printer {
	return New(os.Stdout, os.Stderr, format, color)
}

// Format returns the printer's result format.
func (p *Printer) Format() Format { return p.format }

func (p *Printer) Success(format string, a ...any) {
	fmt.Fprintln(p.out, paint(p.color, "✓ "+fmt.Sprintf(format, a...), fgGreen, bold))
}

func (p *Printer) Error(format string, a ...any) {
	fmt.Fprintln(p.errOut, paint(p.color, "✗ "+fmt.Sprintf(format, a...), fgRed, bold))
}

func (p *Printer) Info(format string, a ...any) {
	fmt.Fprintln(p.out, paint(p.color, fmt.Sprintf(format, a...), fgCyan))
}

func (p *Printer) Warn(format string, a ...any) {
	fmt.Fprintln(p.errOut, paint(p.color, "⚠ "+fmt.Sprintf(format, a...), fgYellow))
}

// JSON writes v as indented JSON.
func (p *Printer) JSON(v any) error {
	enc := json.NewEncoder(p.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// YAML writes v as YAML.
func (p *Printer) YAML(v any) error {
	enc := yaml.NewEncoder(p.out)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return err
	}
	return enc.Close()
}

// Print renders v in the printer's format. Table output is built by table,
// which may be nil when v has no tabular form; JSON is used instead.
func (p *Printer) Print(v any, table func() *Table) error {
	switch p.format {
	case FormatYAML:
		return p.YAML(v)
	case FormatTable:
		if table != nil {
			table().Render(p.out, p.color)
			return nil
		}
	}
	return p.JSON(v)
}

// Table is a simple aligned text table.
type Table struct {
	headers []string
	rows    [][]string
}

func NewTable(headers ...string) *Table {
	return &Table{headers: headers}
}

// AddRow appends a row. Missing cells render empty; extra cells are dropped.
func (t *Table) AddRow(cells ...string) {
	row := make([]string, len(t.headers))
	copy(row, cells)
	t.rows = append(t.rows, row)
}

// Len returns the number of rows.
func (t *Table) Len() int { return len(t.rows) }

// Render writes the table to w.
func (t *Table) Render(w io.Writer, color bool) {
	widths := make([]int, len(t.headers))
	for i, h := range t.headers {
		widths[i] = len(h)
	}
	for _, row := range t.rows {
		for i, cell := range row {
			widths[i] = max(widths[i], len(cell))
		}
	}

	var b strings.Builder
	for i, h := range t.headers {
		b.WriteString(paint(color, fmt.Sprintf("%-*s", widths[i], h), fgWhite, bold))
		b.WriteString("  ")
	}
	fmt.Fprintln(w, strings.TrimRight(b.String(), " "))

	b.Reset()
	for i := range t.headers {
		b.WriteString(strings.Repeat("-", widths[i]) + "  ")
	}
	fmt.Fprintln(w, strings.TrimRight(b.String(), " "))

	for _, row := range t.rows {
		b.Reset()
		for i, cell := range row {
			fmt.Fprintf(&b, "%-*s  ", widths[i], cell)
		}
		fmt.Fprintln(w, strings.TrimRight(b.String(), " "))
	}
}
