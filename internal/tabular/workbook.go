// Package tabular reads uploaded spreadsheet datasets. Only structured data
// extraction is supported; cell formatting is not preserved.
package tabular

import (
	"bytes"
	"fmt"

	"github.com/xuri/excelize/v2"
)

// ErrMissingTab reports a requested tab absent from the workbook.
type ErrMissingTab struct {
	Tab string
}

func (e ErrMissingTab) Error() string {
	return fmt.Sprintf("workbook has no tab %q", e.Tab)
}

// Workbook is an uploaded dataset opened for extraction.
type Workbook struct {
	file *excelize.File
}

// Open parses workbook bytes (xlsx).
func Open(data []byte) (*Workbook, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("open workbook: %w", err)
	}
	return &Workbook{file: f}, nil
}

// Tabs returns the workbook's tab names in workbook order.
func (w *Workbook) Tabs() []string {
	return w.file.GetSheetList()
}

// HasTab reports whether the named tab exists (exact match).
func (w *Workbook) HasTab(name string) bool {
	for _, t := range w.file.GetSheetList() {
		if t == name {
			return true
		}
	}
	return false
}

// Rows extracts the named tab as rows of cell strings, preserving row and
// column order exactly as stored. Trailing empty cells within a row are
// preserved only up to the last populated column of that row, matching the
// stored representation.
func (w *Workbook) Rows(tab string) ([][]string, error) {
	if !w.HasTab(tab) {
		return nil, ErrMissingTab{Tab: tab}
	}
	rows, err := w.file.GetRows(tab)
	if err != nil {
		return nil, fmt.Errorf("read tab %q: %w", tab, err)
	}
	return rows, nil
}

// Close releases parser resources.
func (w *Workbook) Close() error {
	return w.file.Close()
}
