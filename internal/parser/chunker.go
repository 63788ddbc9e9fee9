package parser

import (
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/textsplitter"

	"lex-rag/internal/apperr"
	"lex-rag/internal/config"
	"lex-rag/internal/models"
)

// Splitter turns one block of text into ordered, non-empty chunks.
type Splitter interface {
	Split(text string) ([]string, error)
}

// NewSplitter builds the splitter named in cfg.
func NewSplitter(cfg config.ChunkConfig) (Splitter, error) {
	if cfg.Size <= 0 || cfg.Overlap < 0 || cfg.Overlap >= cfg.Size {
		return nil, apperr.Config("new splitter", fmt.Errorf("invalid chunk size %d / overlap %d", cfg.Size, cfg.Overlap))
	}
	switch cfg.Splitter {
	case config.SplitterWindow, "":
		return WindowSplitter{Size: cfg.Size, Overlap: cfg.Overlap}, nil
	case config.SplitterRecursive:
		return recursiveSplitter{
			inner: textsplitter.NewRecursiveCharacter(
				textsplitter.WithChunkSize(cfg.Size),
				textsplitter.WithChunkOverlap(cfg.Overlap),
			),
		}, nil
	default:
		return nil, apperr.Config("new splitter", fmt.Errorf("unknown splitter %q", cfg.Splitter))
	}
}

// WindowSplitter cuts text into windows of at most Size runes. Consecutive
// windows share exactly Overlap runes. A window holding only whitespace is
// dropped, so the chunks on either side of such a gap share no overlap and
// the gap itself is not represented in the output.
type WindowSplitter struct {
	Size    int
	Overlap int
}

func (w WindowSplitter) Split(content string) ([]string, error) {
	if w.Size <= 0 || w.Overlap < 0 || w.Overlap >= w.Size {
		return nil, fmt.Errorf("invalid window %d / overlap %d", w.Size, w.Overlap)
	}
	runes := []rune(strings.TrimSpace(content))
	if len(runes) == 0 {
		return nil, nil
	}
	if len(runes) <= w.Size {
		return []string{string(runes)}, nil
	}

	var chunks []string
	stride := w.Size - w.Overlap
	for start := 0; start < len(runes); start += stride {
		end := min(start+w.Size, len(runes))
		chunk := string(runes[start:end])
		if strings.TrimSpace(chunk) != "" {
			chunks = append(chunks, chunk)
		}
		if end == len(runes) {
			break
		}
	}
	return chunks, nil
}

type recursiveSplitter struct {
	inner textsplitter.RecursiveCharacter
}

func (r recursiveSplitter) Split(content string) ([]string, error) {
	parts, err := r.inner.SplitText(content)
	if err != nil {
		return nil, err
	}
	chunks := parts[:0]
	for _, p := range parts {
		if strings.TrimSpace(p) != "" {
			chunks = append(chunks, p)
		}
	}
	return chunks, nil
}

// ChunkPages splits every page on its own; ChunkID restarts at 1 per page.
func ChunkPages(pages []models.Page, splitter Splitter) ([]models.Chunk, error) {
	var chunks []models.Chunk
	for _, page := range pages {
		parts, err := splitter.Split(page.Text)
		if err != nil {
			return nil, fmt.Errorf("failed to split %s page %d: %w", page.Source, page.Number, err)
		}
		for i, part := range parts {
			chunks = append(chunks, models.Chunk{
				Content:    part,
				Source:     page.Source,
				PageNumber: page.Number,
				ChunkID:    i + 1,
			})
		}
	}
	return chunks, nil
}

// ChunkDocument joins all pages with newlines and splits the result as one
// block. PageNumber is left at zero since chunks may span pages.
func ChunkDocument(pages []models.Page, splitter Splitter) ([]models.Chunk, error) {
	if len(pages) == 0 {
		return nil, nil
	}
	texts := make([]string, len(pages))
	for i, p := range pages {
		texts[i] = p.Text
	}
	parts, err := splitter.Split(strings.Join(texts, "\n"))
	if err != nil {
		return nil, fmt.Errorf("failed to split %s: %w", pages[0].Source, err)
	}
	chunks := make([]models.Chunk, len(parts))
	for i, part := range parts {
		chunks[i] = models.Chunk{Content: part, Source: pages[0].Source, ChunkID: i + 1}
	}
	return chunks, nil
}
