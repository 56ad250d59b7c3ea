package generate

import (
	"context"
	"strings"
	"time"
	"unicode/utf8"

	berrors "git.home.luguber.info/inful/bookbinder/internal/errors"
)

// Layout of rendered tabular pages. Matches the line-per-row layout the
// booklet renderer has always produced: fixed row budget per physical page,
// cells joined with a pipe delimiter, long lines truncated.
const (
	// RowsPerPage is the fixed row budget of one rendered tabular page.
	RowsPerPage = 50
	// MaxLineWidth is the character budget of one rendered line.
	MaxLineWidth = 110
	// CellDelimiter joins cell values within a rendered line.
	CellDelimiter = " | "
)

// PDFEngine abstracts the PDF operations assembly needs. The production
// implementation lives in internal/generate/pdf; tests substitute a recorder.
type PDFEngine interface {
	// Merge concatenates documents in order into one document without
	// re-encoding page content.
	Merge(ctx context.Context, docs [][]byte) ([]byte, error)
	// FillAndLock populates named form fields on the template and flattens
	// them so the result is no longer editable.
	FillAndLock(ctx context.Context, template []byte, fields map[string]string) ([]byte, error)
	// RenderTextPages produces a document with one page per line slice.
	RenderTextPages(ctx context.Context, pages [][]string) ([]byte, error)
	// SetProperties stamps document-level metadata without touching page content.
	SetProperties(ctx context.Context, doc []byte, props map[string]string) ([]byte, error)
}

// DocumentMeta is stamped onto the assembled document after merging.
type DocumentMeta struct {
	CustomerID  string
	BookID      string
	GeneratedAt time.Time
}

// Assembler merges resolved units into one output document.
type Assembler struct {
	engine PDFEngine
}

// NewAssembler creates an assembler over the given PDF engine.
func NewAssembler(engine PDFEngine) *Assembler {
	return &Assembler{engine: engine}
}

// Assemble consumes resolved pages strictly in slice order and produces the
// merged document. Tabular units may expand to multiple physical pages, all
// contiguous at their slot. Any unit failure aborts the whole assembly; no
// partial document is returned.
func (a *Assembler) Assemble(ctx context.Context, pages []ResolvedPage, meta DocumentMeta) ([]byte, error) {
	parts := make([][]byte, 0, len(pages))
	for _, rp := range pages {
		if err := ctx.Err(); err != nil {
			return nil, berrors.Wrap(berrors.KindTimeout, err, "assembly canceled at page %s", rp.Page.ID)
		}
		part, err := a.renderUnit(ctx, rp)
		if err != nil {
			return nil, err
		}
		parts = append(parts, part)
	}

	var (
		merged []byte
		err    error
	)
	if len(parts) == 1 {
		merged = parts[0]
	} else {
		merged, err = a.engine.Merge(ctx, parts)
		if err != nil {
			return nil, berrors.Wrap(berrors.KindInternal, err, "merge %d page slots", len(parts))
		}
	}

	stamped, err := a.engine.SetProperties(ctx, merged, map[string]string{
		"bookbinder.customer":  meta.CustomerID,
		"bookbinder.book":      meta.BookID,
		"bookbinder.generated": meta.GeneratedAt.UTC().Format(time.RFC3339),
	})
	if err != nil {
		return nil, berrors.Wrap(berrors.KindInternal, err, "stamp document metadata")
	}
	return stamped, nil
}

func (a *Assembler) renderUnit(ctx context.Context, rp ResolvedPage) ([]byte, error) {
	switch u := rp.Unit.(type) {
	case StaticUnit:
		// Appended as-is to preserve fidelity.
		return u.Data, nil
	case FormUnit:
		filled, err := a.engine.FillAndLock(ctx, u.Template, u.Fields)
		if err != nil {
			return nil, berrors.Wrap(berrors.KindInternal, err,
				"fill form %s for page %s", u.TemplateRef, rp.Page.ID)
		}
		return filled, nil
	case TabularUnit:
		rendered, err := a.engine.RenderTextPages(ctx, PaginateRows(u.Rows))
		if err != nil {
			return nil, berrors.Wrap(berrors.KindInternal, err,
				"render tab %q for page %s", u.Tab, rp.Page.ID)
		}
		return rendered, nil
	default:
		return nil, berrors.New(berrors.KindInternal, "page %s: unknown unit type %T", rp.Page.ID, rp.Unit)
	}
}

// PaginateRows lays tabular rows out as rendered lines, chunked into physical
// pages of RowsPerPage lines. Row and column order are preserved exactly.
func PaginateRows(rows [][]string) [][]string {
	var pages [][]string
	var current []string
	for _, row := range rows {
		current = append(current, FormatRow(row))
		if len(current) == RowsPerPage {
			pages = append(pages, current)
			current = nil
		}
	}
	if len(current) > 0 {
		pages = append(pages, current)
	}
	if len(pages) == 0 {
		// An empty tab still occupies its page slot.
		pages = [][]string{{""}}
	}
	return pages
}

// FormatRow joins cell values with the delimiter and truncates to the line
// budget. The budget counts characters, so truncation never splits a rune.
func FormatRow(cells []string) string {
	line := strings.Join(cells, CellDelimiter)
	if utf8.RuneCountInString(line) <= MaxLineWidth {
		return line
	}
	runes := []rune(line)
	return string(runes[:MaxLineWidth])
}
