// Package tableparse turns markdown tables and structured model responses
// into extractable units. All functions are pure and degrade to zero results
// on malformed input.
package tableparse

import (
	"fmt"
	"strings"
)

// Row is one data row of a markdown table.
type Row struct {
	Index    int               `json:"index"`
	Headers  []string          `json:"headers"`
	Values   []string          `json:"values"`
	Data     map[string]string `json:"data"`
	Markdown string            `json:"markdown"`
}

// Column is one non-title column of a markdown table, keyed by row titles.
type Column struct {
	Index     int      `json:"index"`
	Name      string   `json:"name"`
	RowTitles []string `json:"row_titles"`
	Values    []string `json:"values"`
	Markdown  string   `json:"markdown"`
}

// ParseTableRow splits a markdown table line into trimmed cells. A backslash
// before a pipe yields a literal pipe inside the cell.
func ParseTableRow(row string) []string {
	line := strings.TrimSpace(row)
	line = strings.TrimPrefix(line, "|")
	if strings.HasSuffix(line, "|") && !strings.HasSuffix(line, `\|`) {
		line = line[:len(line)-1]
	}
	if strings.TrimSpace(line) == "" {
		return nil
	}

	var cells []string
	var cur strings.Builder
	for i := 0; i < len(line); i++ {
		c := line[i]
		switch {
		case c == '\\' && i+1 < len(line) && line[i+1] == '|':
			cur.WriteByte('|')
			i++
		case c == '|':
			cells = append(cells, strings.TrimSpace(cur.String()))
			cur.Reset()
		default:
			cur.WriteByte(c)
		}
	}
	cells = append(cells, strings.TrimSpace(cur.String()))
	return cells
}

// IsSeparatorRow reports whether the line is a markdown header separator:
// only dashes, colons, pipes and whitespace, with at least one dash.
func IsSeparatorRow(row string) bool {
	hasDash := false
	for _, r := range row {
		switch r {
		case '-':
			hasDash = true
		case ':', '|', ' ', '\t', '\r':
		default:
			return false
		}
	}
	return hasDash
}

// tableLines returns the first contiguous block of table lines.
func tableLines(markdown string) []string {
	var out []string
	for _, l := range strings.Split(markdown, "\n") {
		t := strings.TrimSpace(l)
		if strings.HasPrefix(t, "|") {
			out = append(out, t)
			continue
		}
		if len(out) > 0 {
			break
		}
	}
	return out
}

// ExtractRows parses the first table in markdown into data rows. The first
// table line supplies headers and one separator line is skipped if present.
func ExtractRows(markdown string) []Row {
	lines := tableLines(markdown)
	if len(lines) < 2 {
		return nil
	}
	headers := ParseTableRow(lines[0])
	if len(headers) == 0 {
		return nil
	}

	body := lines[1:]
	if IsSeparatorRow(body[0]) {
		body = body[1:]
	}

	rows := make([]Row, 0, len(body))
	for i, l := range body {
		values := fit(ParseTableRow(l), len(headers))
		data := make(map[string]string, len(headers))
		for j, h := range headers {
			data[h] = values[j]
		}
		rows = append(rows, Row{
			Index:    i,
			Headers:  headers,
			Values:   values,
			Data:     data,
			Markdown: RenderRow(headers, values),
		})
	}
	return rows
}

// ExtractColumns parses the first table in markdown into one Column per
// header after the first. Values of the first column become row titles.
func ExtractColumns(markdown string) []Column {
	rows := ExtractRows(markdown)
	if len(rows) == 0 || len(rows[0].Headers) < 2 {
		return nil
	}
	headers := rows[0].Headers

	titles := make([]string, len(rows))
	for i, r := range rows {
		titles[i] = r.Values[0]
		if titles[i] == "" {
			titles[i] = fmt.Sprintf("Row %d", i+1)
		}
	}

	cols := make([]Column, 0, len(headers)-1)
	for c := 1; c < len(headers); c++ {
		name := headers[c]
		if name == "" {
			name = fmt.Sprintf("Column %d", c)
		}
		values := make([]string, len(rows))
		var b strings.Builder
		b.WriteString("# " + name + "\n\n")
		for i, r := range rows {
			values[i] = r.Values[c]
			fmt.Fprintf(&b, "- %s: %s\n", titles[i], values[i])
		}
		cols = append(cols, Column{
			Index:     c - 1,
			Name:      name,
			RowTitles: titles,
			Values:    values,
			Markdown:  b.String(),
		})
	}
	return cols
}

// RenderRow renders headers and a single row of values as a markdown table.
// Short rows are padded with empty cells.
func RenderRow(headers, values []string) string {
	values = fit(values, len(headers))
	var b strings.Builder
	writeLine(&b, headers)
	sep := make([]string, len(headers))
	for i := range sep {
		sep[i] = "---"
	}
	writeLine(&b, sep)
	writeLine(&b, values)
	return strings.TrimSuffix(b.String(), "\n")
}

func writeLine(b *strings.Builder, cells []string) {
	b.WriteString("|")
	for _, c := range cells {
		b.WriteString(" " + strings.ReplaceAll(c, "|", `\|`) + " |")
	}
	b.WriteString("\n")
}

// fit pads or truncates values to n cells.
func fit(values []string, n int) []string {
	out := make([]string, n)
	copy(out, values)
	return out
}
