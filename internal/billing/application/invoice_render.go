package application

import (
	"bytes"
	_ "embed"
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"strings"
)

const fieldSeparator = ';'

//go:embed templates/invoice_header.csv
var defaultHeaderTemplate string

// HeaderTemplate is the header line of the ledger import template.
type HeaderTemplate struct {
	line    string
	columns []string
}

// LoadHeaderTemplate reads the first line of the template at path, or the embedded
// template when path is empty.
func LoadHeaderTemplate(path string) (HeaderTemplate, error) {
	content := defaultHeaderTemplate
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return HeaderTemplate{}, fmt.Errorf("header template: %w", err)
		}
		content = string(data)
	}
	return ParseHeaderTemplate(content)
}

// ParseHeaderTemplate takes the first line of content as the header.
func ParseHeaderTemplate(content string) (HeaderTemplate, error) {
	line, _, _ := strings.Cut(content, "\n")
	line = strings.TrimPrefix(strings.TrimSpace(line), "\ufeff")
	if line == "" {
		return HeaderTemplate{}, errors.New("header template: empty header line")
	}
	parts := strings.Split(line, string(fieldSeparator))
	columns := make([]string, len(parts))
	for i, part := range parts {
		columns[i] = strings.TrimSpace(part)
	}
	return HeaderTemplate{line: line, columns: columns}, nil
}

// Columns returns the column names in file order.
func (h HeaderTemplate) Columns() []string {
	return append([]string(nil), h.columns...)
}

// Render writes the header line followed by one line per row in column order.
// Columns a row does not fill render as empty fields.
func (h HeaderTemplate) Render(rows []InvoiceRow) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(h.line)
	buf.WriteByte('\n')

	writer := csv.NewWriter(&buf)
	writer.Comma = fieldSeparator
	record := make([]string, len(h.columns))
	for _, row := range rows {
		for i, column := range h.columns {
			record[i] = row.Value(column)
		}
		if err := writer.Write(record); err != nil {
			return nil, err
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// SplitRows splits rows into files of at most maxRows. Zero means a single file.
func SplitRows(rows []InvoiceRow, maxRows int) [][]InvoiceRow {
	if len(rows) == 0 {
		return nil
	}
	if maxRows <= 0 || len(rows) <= maxRows {
		return [][]InvoiceRow{rows}
	}
	var batches [][]InvoiceRow
	for start := 0; start < len(rows); start += maxRows {
		end := start + maxRows
		if end > len(rows) {
			end = len(rows)
		}
		batches = append(batches, rows[start:end])
	}
	return batches
}
