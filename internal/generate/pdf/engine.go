// Package pdf implements the assembler's PDF operations on top of pdfcpu.
package pdf

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

// Engine performs merge, form fill, text page rendering, and metadata
// stamping via pdfcpu. All operations are in-memory; the engine holds no
// mutable state and is safe for concurrent use.
type Engine struct {
	conf *model.Configuration
}

// NewEngine creates an engine with relaxed validation, which tolerates the
// slightly out-of-spec PDFs uploaded in practice.
func NewEngine() *Engine {
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	return &Engine{conf: conf}
}

// Merge concatenates documents in order into one PDF. Source pages are
// copied, not re-encoded.
func (e *Engine) Merge(ctx context.Context, docs [][]byte) ([]byte, error) {
	if len(docs) == 0 {
		return nil, fmt.Errorf("merge: no documents")
	}
	readers := make([]io.ReadSeeker, len(docs))
	for i, d := range docs {
		readers[i] = bytes.NewReader(d)
	}
	var out bytes.Buffer
	if err := api.MergeRaw(readers, &out, false, e.conf); err != nil {
		return nil, fmt.Errorf("merge: %w", err)
	}
	return out.Bytes(), nil
}

// FillAndLock populates the template's form fields from fields and locks
// them, so the baked values are no longer editable.
func (e *Engine) FillAndLock(ctx context.Context, template []byte, fields map[string]string) ([]byte, error) {
	formJSON, err := buildFillJSON(fields)
	if err != nil {
		return nil, fmt.Errorf("encode form data: %w", err)
	}

	var filled bytes.Buffer
	if err := api.FillForm(bytes.NewReader(template), bytes.NewReader(formJSON), &filled, e.conf); err != nil {
		return nil, fmt.Errorf("fill form: %w", err)
	}

	var locked bytes.Buffer
	// nil field IDs locks every field.
	if err := api.LockFormFields(bytes.NewReader(filled.Bytes()), &locked, nil, e.conf); err != nil {
		return nil, fmt.Errorf("lock form fields: %w", err)
	}
	return locked.Bytes(), nil
}

// RenderTextPages produces a Letter-format PDF with one page per line slice,
// rendered in a monospaced face from the top-left content origin.
func (e *Engine) RenderTextPages(ctx context.Context, pages [][]string) ([]byte, error) {
	if len(pages) == 0 {
		return nil, fmt.Errorf("render: no pages")
	}
	createJSON, err := buildCreateJSON(pages)
	if err != nil {
		return nil, fmt.Errorf("encode page description: %w", err)
	}
	var out bytes.Buffer
	if err := api.Create(nil, bytes.NewReader(createJSON), &out, e.conf); err != nil {
		return nil, fmt.Errorf("create pages: %w", err)
	}
	return out.Bytes(), nil
}

// SetProperties stamps document info properties onto the PDF. Page content
// is untouched.
func (e *Engine) SetProperties(ctx context.Context, doc []byte, props map[string]string) ([]byte, error) {
	var out bytes.Buffer
	if err := api.AddProperties(bytes.NewReader(doc), &out, props, e.conf); err != nil {
		return nil, fmt.Errorf("add properties: %w", err)
	}
	return out.Bytes(), nil
}

// PageCount returns the physical page count of a PDF.
func (e *Engine) PageCount(doc []byte) (int, error) {
	n, err := api.PageCount(bytes.NewReader(doc), e.conf)
	if err != nil {
		return 0, fmt.Errorf("page count: %w", err)
	}
	return n, nil
}

// fillField mirrors pdfcpu's form JSON field shape.
type fillField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Locked bool   `json:"locked"`
}

type fillForm struct {
	TextField []fillField `json:"textfield"`
}

type fillDoc struct {
	Forms []fillForm `json:"forms"`
}

// buildFillJSON encodes field values in pdfcpu's form-fill JSON format.
// Fields are emitted in sorted order so identical inputs produce identical
// bytes.
func buildFillJSON(fields map[string]string) ([]byte, error) {
	form := fillForm{TextField: make([]fillField, 0, len(fields))}
	for _, name := range sortedKeys(fields) {
		form.TextField = append(form.TextField, fillField{Name: name, Value: fields[name]})
	}
	return json.Marshal(fillDoc{Forms: []fillForm{form}})
}

// createText mirrors pdfcpu's create JSON text entry.
type createText struct {
	Value  string     `json:"value"`
	Anchor string     `json:"anchor"`
	Dx     float64    `json:"dx"`
	Dy     float64    `json:"dy"`
	Font   createFont `json:"font"`
}

type createFont struct {
	Name string  `json:"name"`
	Size float64 `json:"size"`
}

type createContent struct {
	Text []createText `json:"text"`
}

type createPage struct {
	Content createContent `json:"content"`
}

type createDoc struct {
	Paper  string                `json:"paper"`
	Origin string                `json:"origin"`
	Pages  map[string]createPage `json:"pages"`
}

// Rendered page geometry. 36pt margins on Letter stock with a 9pt
// monospaced face keeps the assembler's line budget inside the page box.
const (
	paperFormat = "Letter"
	marginPt    = 36
	fontName    = "Courier"
	fontSize    = 9
)

func buildCreateJSON(pages [][]string) ([]byte, error) {
	doc := createDoc{
		Paper:  paperFormat,
		Origin: "upperLeft",
		Pages:  make(map[string]createPage, len(pages)),
	}
	for i, lines := range pages {
		doc.Pages[fmt.Sprintf("%d", i+1)] = createPage{
			Content: createContent{
				Text: []createText{{
					Value:  strings.Join(lines, "\n"),
					Anchor: "tl",
					Dx:     marginPt,
					Dy:     marginPt,
					Font:   createFont{Name: fontName, Size: fontSize},
				}},
			},
		}
	}
	return json.Marshal(doc)
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
