// Package output renders CLI results as tables, JSON or YAML.
package output

import (
	"fmt"
	"io"
	"os"
	"strings"
)

// Format represents the output format type.
type Format string

const (
	FormatTable Format = "table"
	FormatJSON  Format = "json"
	FormatYAML  Format = "yaml"
)

// ParseFormat parses a string into a Format, returning an error if invalid.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "table", "":
		return FormatTable, nil
	case "json":
		return FormatJSON, nil
	case "yaml", "yml":
		return FormatYAML, nil
	default:
		return "", fmt.Errorf("invalid output format: %q (valid: table, json, yaml)", s)
	}
}

func (f Format) String() string {
	return string(f)
}

const (
	ansiRed    = "31"
	ansiGreen  = "32"
	ansiYellow = "33"
)

// Printer handles formatted output to a writer.
type Printer struct {
	out    io.Writer
	format Format
	color  bool
}

// NewPrinter creates a new Printer with the given options.
func NewPrinter(out io.Writer, format Format, color bool) *Printer {
	return &Printer{
		out:    out,
		format: format,
		color:  color,
	}
}

// DefaultPrinter creates a Printer that writes tables to stdout.
func DefaultPrinter() *Printer {
	return NewPrinter(os.Stdout, FormatTable, true)
}

func (p *Printer) Format() Format { return p.format }

func (p *Printer) Writer() io.Writer { return p.out }

func (p *Printer) ColorEnabled() bool { return p.color }

// Print outputs data in the configured format. Tables need a TableRenderer;
// anything else falls back to JSON.
func (p *Printer) Print(data any) error {
	switch p.format {
	case FormatTable:
		if renderer, ok := data.(TableRenderer); ok {
			return PrintTable(p.out, renderer)
		}
		return PrintJSON(p.out, data)
	case FormatJSON:
		return PrintJSON(p.out, data)
	case FormatYAML:
		return PrintYAML(p.out, data)
	default:
		return fmt.Errorf("unknown format: %s", p.format)
	}
}

// PrintStream outputs one item of an unbounded stream: a table row without
// header, or one compact JSON document per line. YAML items are separated
// by document markers.
func (p *Printer) PrintStream(data TableRenderer) error {
	switch p.format {
	case FormatTable:
		for _, row := range data.Rows() {
			_, _ = fmt.Fprintln(p.out, strings.Join(row, "  "))
		}
		return nil
	case FormatJSON:
		return PrintJSONCompact(p.out, data)
	case FormatYAML:
		_, _ = fmt.Fprintln(p.out, "---")
		return PrintYAML(p.out, data)
	default:
		return fmt.Errorf("unknown format: %s", p.format)
	}
}

func (p *Printer) Println(args ...any) {
	_, _ = fmt.Fprintln(p.out, args...)
}

func (p *Printer) Printf(format string, args ...any) {
	_, _ = fmt.Fprintf(p.out, format, args...)
}

// Success prints msg in green.
func (p *Printer) Success(msg string) { p.colored(ansiGreen, msg) }

// Error prints msg in red.
func (p *Printer) Error(msg string) { p.colored(ansiRed, msg) }

// Warning prints msg in yellow.
func (p *Printer) Warning(msg string) { p.colored(ansiYellow, msg) }

func (p *Printer) colored(code, msg string) {
	if p.color {
		_, _ = fmt.Fprintf(p.out, "\033[%sm%s\033[0m\n", code, msg)
		return
	}
	_, _ = fmt.Fprintln(p.out, msg)
}
