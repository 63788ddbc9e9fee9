package parser_test

import (
	"archive/zip"
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/xuri/excelize/v2"

	"lex-rag/internal/apperr"
	"lex-rag/internal/parser"
)

// buildPDF renders a minimal single-font PDF with one text line per page.
func buildPDF(pages []string) []byte {
	var objs []string
	kids := make([]string, len(pages))
	for i := range pages {
		kids[i] = fmt.Sprintf("%d 0 R", 4+2*i)
	}
	objs = append(objs,
		"<< /Type /Catalog /Pages 2 0 R >>",
		fmt.Sprintf("<< /Type /Pages /Kids [%s] /Count %d >>", strings.Join(kids, " "), len(pages)),
		"<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica /Encoding /WinAnsiEncoding >>",
	)
	for i, text := range pages {
		stream := fmt.Sprintf("BT /F1 12 Tf 72 720 Td (%s) Tj ET", text)
		objs = append(objs,
			fmt.Sprintf("<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] /Resources << /Font << /F1 3 0 R >> >> /Contents %d 0 R >>", 5+2*i),
			fmt.Sprintf("<< /Length %d >>\nstream\n%s\nendstream", len(stream), stream),
		)
	}

	var buf bytes.Buffer
	buf.WriteString("%PDF-1.4\n")
	offsets := make([]int, len(objs))
	for i, o := range objs {
		offsets[i] = buf.Len()
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", i+1, o)
	}
	xref := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n0000000000 65535 f \n", len(objs)+1)
	for _, off := range offsets {
		fmt.Fprintf(&buf, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(objs)+1, xref)
	return buf.Bytes()
}

func writeFile(t *testing.T, dir, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("failed to write %s: %v", name, err)
	}
	return path
}

func TestExtractPages_PDF(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "contract.pdf", buildPDF([]string{
		"Force majeure excuses performance.",
		"",
		"Termination requires notice.",
	}))

	pages, err := parser.ExtractPages(path)
	if err != nil {
		t.Fatalf("ExtractPages() error = %v", err)
	}
	if len(pages) != 2 {
		t.Fatalf("expected the empty page to be dropped, got %d pages: %+v", len(pages), pages)
	}
	if pages[0].Number != 1 || !strings.Contains(pages[0].Text, "Force majeure") {
		t.Errorf("unexpected first page %+v", pages[0])
	}
	if pages[1].Number != 3 || !strings.Contains(pages[1].Text, "Termination") {
		t.Errorf("unexpected second page %+v", pages[1])
	}
	if pages[0].Source != "contract.pdf" {
		t.Errorf("source = %q", pages[0].Source)
	}
}

func TestExtractPages_CorruptPDF(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "broken.pdf", []byte("this is not a pdf at all"))

	if _, err := parser.ExtractPages(path); err == nil {
		t.Fatalf("expected an error for a corrupt pdf")
	}
}

func TestExtractPages_MissingFile(t *testing.T) {
	if _, err := parser.ExtractPages(filepath.Join(t.TempDir(), "missing.pdf")); err == nil {
		t.Fatalf("expected an error for a missing file")
	}
}

func TestExtractPages_Unsupported(t *testing.T) {
	_, err := parser.ExtractPages("slides.pptx")
	if err == nil || !strings.Contains(err.Error(), "unsupported file format") {
		t.Fatalf("expected unsupported format error, got %v", err)
	}
}

func TestExtractPages_DOCX(t *testing.T) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	files := map[string]string{
		"word/document.xml": `<?xml version="1.0" encoding="UTF-8"?><w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main"><w:body>` +
			`<w:p><w:r><w:t>Indemnity &amp; liability</w:t></w:r></w:p>` +
			`<w:p><w:r><w:t xml:space="preserve">Governing law</w:t></w:r></w:p></w:body></w:document>`,
		"word/_rels/document.xml.rels": `<?xml version="1.0" encoding="UTF-8"?><Relationships xmlns="http://schemas.openxmlformats.org/package/2006/relationships"></Relationships>`,
	}
	for name, body := range files {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatalf("zip create: %v", err)
		}
		if _, err := w.Write([]byte(body)); err != nil {
			t.Fatalf("zip write: %v", err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("zip close: %v", err)
	}
	path := writeFile(t, t.TempDir(), "memo.docx", buf.Bytes())

	pages, err := parser.ExtractPages(path)
	if err != nil {
		t.Fatalf("ExtractPages() error = %v", err)
	}
	if len(pages) != 1 {
		t.Fatalf("expected one page, got %d", len(pages))
	}
	if pages[0].Text != "Indemnity & liability\nGoverning law" {
		t.Errorf("unexpected text %q", pages[0].Text)
	}
}

func TestExtractPages_XLSX(t *testing.T) {
	f := excelize.NewFile()
	defer f.Close()
	if err := f.SetCellValue("Sheet1", "A1", "Clause"); err != nil {
		t.Fatalf("SetCellValue: %v", err)
	}
	if err := f.SetCellValue("Sheet1", "B1", "Penalty"); err != nil {
		t.Fatalf("SetCellValue: %v", err)
	}
	if _, err := f.NewSheet("Empty"); err != nil {
		t.Fatalf("NewSheet: %v", err)
	}
	path := filepath.Join(t.TempDir(), "fees.xlsx")
	if err := f.SaveAs(path); err != nil {
		t.Fatalf("SaveAs: %v", err)
	}

	pages, err := parser.ExtractPages(path)
	if err != nil {
		t.Fatalf("ExtractPages() error = %v", err)
	}
	if len(pages) != 1 {
		t.Fatalf("expected the empty sheet to be skipped, got %d pages", len(pages))
	}
	if !strings.Contains(pages[0].Text, "## Sheet: Sheet1") || !strings.Contains(pages[0].Text, "Clause\tPenalty") {
		t.Errorf("unexpected sheet text %q", pages[0].Text)
	}
}

func TestExtractPages_MarkdownAndText(t *testing.T) {
	dir := t.TempDir()
	md := writeFile(t, dir, "notes.md", []byte("# Remedies\n\nSpecific *performance* is equitable.\n\n```\nsection 2-716\n```\n"))
	txt := writeFile(t, dir, "plain.txt", []byte("\n  Liquidated damages.  \n"))

	pages, err := parser.ExtractPages(md)
	if err != nil {
		t.Fatalf("ExtractPages(md) error = %v", err)
	}
	for _, want := range []string{"Remedies", "Specific performance is equitable.", "section 2-716"} {
		if !strings.Contains(pages[0].Text, want) {
			t.Errorf("markdown text %q missing %q", pages[0].Text, want)
		}
	}
	if strings.Contains(pages[0].Text, "#") || strings.Contains(pages[0].Text, "*") {
		t.Errorf("markup leaked into %q", pages[0].Text)
	}

	pages, err = parser.ExtractPages(txt)
	if err != nil {
		t.Fatalf("ExtractPages(txt) error = %v", err)
	}
	if pages[0].Text != "Liquidated damages." {
		t.Errorf("text = %q", pages[0].Text)
	}
}

func TestListDocuments(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"b.pdf", "a.PDF", "notes.txt", "c.docx"} {
		writeFile(t, dir, name, []byte("x"))
	}
	if err := os.Mkdir(filepath.Join(dir, "nested.pdf"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	files, err := parser.ListDocuments(dir, []string{".pdf"})
	if err != nil {
		t.Fatalf("ListDocuments() error = %v", err)
	}
	want := []string{filepath.Join(dir, "a.PDF"), filepath.Join(dir, "b.pdf")}
	if len(files) != len(want) || files[0] != want[0] || files[1] != want[1] {
		t.Fatalf("ListDocuments() = %v, want %v", files, want)
	}

	if _, err := parser.ListDocuments(filepath.Join(dir, "missing"), []string{".pdf"}); !apperr.Is(err, apperr.KindInput) {
		t.Fatalf("expected input error for missing directory, got %v", err)
	}
	if _, err := parser.ListDocuments(dir, []string{".pdf", ".pptx"}); !apperr.Is(err, apperr.KindConfig) {
		t.Fatalf("expected config error for unsupported extension, got %v", err)
	}
	for _, ext := range parser.SupportedExtensions {
		if _, err := parser.ListDocuments(dir, []string{strings.ToUpper(ext)}); err != nil {
			t.Errorf("ListDocuments(%s) error = %v", ext, err)
		}
	}
}
