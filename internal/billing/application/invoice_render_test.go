package application

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestParseHeaderTemplateStripsBOM(t *testing.T) {
	header, err := ParseHeaderTemplate("\ufeffOrder No;Unit Price ;End Of Line\r\nignored;row\n")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	cols := header.Columns()
	if len(cols) != 3 || cols[0] != "Order No" || cols[1] != "Unit Price" {
		t.Fatalf("unexpected columns %v", cols)
	}
	if _, err := ParseHeaderTemplate("\n"); err == nil {
		t.Fatalf("expected error for empty header")
	}
}

func TestLoadHeaderTemplateFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "template.csv")
	if err := os.WriteFile(path, []byte("A;B\nx;y\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	header, err := LoadHeaderTemplate(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if strings.Join(header.Columns(), ",") != "A,B" {
		t.Fatalf("unexpected columns %v", header.Columns())
	}
	if _, err := LoadHeaderTemplate(filepath.Join(t.TempDir(), "missing.csv")); err == nil {
		t.Fatalf("expected error for missing template")
	}
}

func TestRenderKeepsColumnOrderAndQuotes(t *testing.T) {
	header, err := ParseHeaderTemplate("Order No;Tekst (imp);Dummy1;Unit Price")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	rows := []InvoiceRow{
		{Fields: map[string]string{ColOrderNo: "JOT-000000001-1-2025-abcdef", ColText: "plain", ColUnitPrice: "1000"}},
		{Fields: map[string]string{ColOrderNo: "JOT-000000002-1-2025-abcdef", ColText: "a;b", ColUnitPrice: "500"}},
	}
	data, err := header.Render(rows)
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	want := "Order No;Tekst (imp);Dummy1;Unit Price\n" +
		"JOT-000000001-1-2025-abcdef;plain;;1000\n" +
		"JOT-000000002-1-2025-abcdef;\"a;b\";;500\n"
	if string(data) != want {
		t.Fatalf("unexpected output:\n%s", data)
	}
}

func TestEmbeddedHeaderTemplate(t *testing.T) {
	header, err := LoadHeaderTemplate("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	cols := header.Columns()
	if len(cols) != 23 || cols[0] != ColOwner || cols[len(cols)-1] != ColEndOfLine {
		t.Fatalf("unexpected embedded columns %v", cols)
	}
}

func TestSplitRows(t *testing.T) {
	rows := make([]InvoiceRow, 5)
	if got := SplitRows(nil, 2); got != nil {
		t.Fatalf("expected no files for no rows")
	}
	if got := SplitRows(rows, 0); len(got) != 1 || len(got[0]) != 5 {
		t.Fatalf("zero max must give one file")
	}
	got := SplitRows(rows, 2)
	if len(got) != 3 || len(got[0]) != 2 || len(got[2]) != 1 {
		t.Fatalf("unexpected split %d files", len(got))
	}
}
