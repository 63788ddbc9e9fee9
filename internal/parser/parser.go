package parser

import (
	"bytes"
	"fmt"
	"html"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strings"

	"github.com/ledongthuc/pdf"
	"github.com/nguyenthenguyen/docx"
	"github.com/rs/zerolog/log"
	"github.com/xuri/excelize/v2"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/text"

	"lex-rag/internal/apperr"
	"lex-rag/internal/models"
)

const defaultPageNumber = 1

var (
	docxParagraphEnd = regexp.MustCompile(`</w:p>`)
	docxBreak        = regexp.MustCompile(`<w:(br|tab)[^>]*/>`)
	xmlTag           = regexp.MustCompile(`<[^>]+>`)
)

// SupportedExtensions lists every file type ExtractPages understands.
var SupportedExtensions = []string{".pdf", ".docx", ".xlsx", ".md", ".txt"}

// ExtractPages returns the non-empty pages of the document at filePath in
// order. Any read or parse failure is returned as is.
func ExtractPages(filePath string) ([]models.Page, error) {
	ext := strings.ToLower(filepath.Ext(filePath))
	var (
		pages []models.Page
		err   error
	)
	switch ext {
	case ".pdf":
		pages, err = parsePDF(filePath)
	case ".docx":
		pages, err = parseDOCX(filePath)
	case ".xlsx":
		pages, err = parseXLSX(filePath)
	case ".md":
		pages, err = parseMarkdown(filePath)
	case ".txt":
		pages, err = parseText(filePath)
	default:
		return nil, fmt.Errorf("unsupported file format: %s", ext)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", filePath, err)
	}
	return dropEmptyPages(pages), nil
}

// ListDocuments returns the files directly inside dir whose extension is
// one of exts, sorted by name. An extension outside SupportedExtensions is a
// config error.
func ListDocuments(dir string, exts []string) ([]string, error) {
	wanted := make([]string, 0, len(exts))
	for _, e := range exts {
		e = strings.ToLower(e)
		if !slices.Contains(SupportedExtensions, e) {
			return nil, apperr.Config("list documents", fmt.Errorf("unsupported extension %q, expected one of %v", e, SupportedExtensions))
		}
		wanted = append(wanted, e)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, apperr.Input("list documents", fmt.Errorf("failed to read input directory: %w", err))
	}

	var files []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if slices.Contains(wanted, strings.ToLower(filepath.Ext(entry.Name()))) {
			files = append(files, filepath.Join(dir, entry.Name()))
		}
	}
	slices.Sort(files)
	return files, nil
}

func dropEmptyPages(pages []models.Page) []models.Page {
	out := pages[:0]
	for _, p := range pages {
		p.Text = strings.TrimSpace(p.Text)
		if p.Text == "" {
			log.Debug().Str("source", p.Source).Int("page", p.Number).Msg("Skipping empty page")
			continue
		}
		out = append(out, p)
	}
	return out
}

func parsePDF(filePath string) (pages []models.Page, err error) {
	// the pdf reader panics on some malformed content streams
	defer func() {
		if r := recover(); r != nil {
			pages = nil
			err = fmt.Errorf("corrupt pdf: %v", r)
		}
	}()

	f, err := os.Open(filePath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	stat, err := f.Stat()
	if err != nil {
		return nil, err
	}

	reader, err := pdf.NewReader(f, stat.Size())
	if err != nil {
		return nil, err
	}

	source := filepath.Base(filePath)
	numPages := reader.NumPage()
	for i := 1; i <= numPages; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		pageText, err := page.GetPlainText(nil)
		if err != nil {
			return nil, fmt.Errorf("page %d: %w", i, err)
		}
		pages = append(pages, models.Page{Source: source, Number: i, Text: pageText})
	}
	return pages, nil
}

func parseDOCX(filePath string) ([]models.Page, error) {
	r, err := docx.ReadDocxFile(filePath)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	content := docxText(r.Editable().GetContent())
	return []models.Page{{Source: filepath.Base(filePath), Number: defaultPageNumber, Text: content}}, nil
}

// docxText flattens WordprocessingML into plain text, one line per paragraph.
func docxText(xmlContent string) string {
	s := docxParagraphEnd.ReplaceAllString(xmlContent, "\n")
	s = docxBreak.ReplaceAllString(s, " ")
	s = xmlTag.ReplaceAllString(s, "")
	return html.UnescapeString(s)
}

func parseXLSX(filePath string) ([]models.Page, error) {
	f, err := excelize.OpenFile(filePath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	source := filepath.Base(filePath)
	var pages []models.Page
	for sheetNum, sheetName := range f.GetSheetList() {
		rows, err := f.GetRows(sheetName)
		if err != nil {
			return nil, fmt.Errorf("sheet %s: %w", sheetName, err)
		}
		var text strings.Builder
		text.WriteString(fmt.Sprintf("## Sheet: %s\n", sheetName))
		hasCells := false
		for _, row := range rows {
			text.WriteString(strings.Join(row, "\t"))
			text.WriteString("\n")
			hasCells = hasCells || len(row) > 0
		}
		if !hasCells {
			continue
		}
		pages = append(pages, models.Page{Source: source, Number: sheetNum + 1, Text: text.String()})
	}
	return pages, nil
}

func parseMarkdown(filePath string) ([]models.Page, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, err
	}
	return []models.Page{{Source: filepath.Base(filePath), Number: defaultPageNumber, Text: markdownText(data)}}, nil
}

// markdownText renders the text content of a markdown document, dropping
// markup, with a newline after every block.
func markdownText(src []byte) string {
	md := goldmark.New(goldmark.WithExtensions(extension.GFM))
	doc := md.Parser().Parse(text.NewReader(src))

	var buf bytes.Buffer
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		switch node := n.(type) {
		case *ast.Text:
			if entering {
				buf.Write(node.Segment.Value(src))
				if node.SoftLineBreak() || node.HardLineBreak() {
					buf.WriteByte('\n')
				}
			}
		case *ast.String:
			if entering {
				buf.Write(node.Value)
			}
		case *ast.CodeBlock, *ast.FencedCodeBlock:
			if entering {
				lines := n.Lines()
				for i := 0; i < lines.Len(); i++ {
					seg := lines.At(i)
					buf.Write(seg.Value(src))
				}
			}
		}
		if !entering && n.Type() == ast.TypeBlock {
			buf.WriteByte('\n')
		}
		return ast.WalkContinue, nil
	})
	return buf.String()
}

func parseText(filePath string) ([]models.Page, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, err
	}
	return []models.Page{{Source: filepath.Base(filePath), Number: defaultPageNumber, Text: string(data)}}, nil
}
