package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/goccy/go-yaml"
	"github.com/mattn/go-isatty"
	"github.com/olekukonko/tablewriter"
)

// Format is an output format for command results.
type Format string

const (
	FormatTable Format = "table"
	FormatJSON  Format = "json"
	FormatYAML  Format = "yaml"
)

// ParseFormat checks an --output value. Empty picks a table on a terminal
// and JSON otherwise.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(s)); f {
	case FormatTable, FormatJSON, FormatYAML:
		return f, nil
	case "":
		if isatty.IsTerminal(os.Stdout.Fd()) || isatty.IsCygwinTerminal(os.Stdout.Fd()) {
			return FormatTable, nil
		}
		return FormatJSON, nil
	default:
		return "", fmt.Errorf("unknown output format %q (use table, json or yaml)", s)
	}
}

// Table is a result rendered as rows.
type Table struct {
	Headers []string
	Rows    [][]string
}

// write renders v in format. The table form comes from table, which is only
// called for FormatTable. YAML goes through MarshalJSON so nullable values
// render as null rather than as structs.
func write(w io.Writer, format Format, v any, table func() Table) error {
	switch format {
	case FormatYAML:
		data, err := yaml.MarshalWithOptions(v, yaml.Indent(2), yaml.IndentSequence(false), yaml.UseJSONMarshaler())
		if err != nil {
			return err
		}
		_, err = w.Write(data)
		return err
	case FormatTable:
		if table != nil {
			return renderTable(w, table())
		}
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func renderTable(w io.Writer, t Table) error {
	tw := tablewriter.NewTable(w)

	if len(t.Headers) > 0 {
		headers := make([]any, len(t.Headers))
		for i, h := range t.Headers {
			headers[i] = h
		}
		tw.Header(headers...)
	}

	for _, row := range t.Rows {
		cells := make([]any, len(row))
		for i, c := range row {
			cells[i] = c
		}
		if err := tw.Append(cells...); err != nil {
			return err
		}
	}
	return tw.Render()
}
