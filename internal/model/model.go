// Package model holds the catalog records the generation pipeline consumes.
// These are read-only inputs to the core; only Job records are written by it.
package model

import "fmt"

// Customer owns attribute entries and is the target of a generation run.
type Customer struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Period identifies a reporting period as year + quarter (1..4).
type Period struct {
	Year    int `json:"year"`
	Quarter int `json:"quarter"`
}

// Valid reports whether the quarter is within 1..4.
func (p Period) Valid() bool {
	return p.Quarter >= 1 && p.Quarter <= 4
}

// Before reports whether p is strictly earlier than other.
func (p Period) Before(other Period) bool {
	if p.Year != other.Year {
		return p.Year < other.Year
	}
	return p.Quarter < other.Quarter
}

// After reports whether p is strictly later than other.
func (p Period) After(other Period) bool {
	return other.Before(p)
}

func (p Period) String() string {
	return fmt.Sprintf("%dQ%d", p.Year, p.Quarter)
}

// AttributeEntry is one recorded value for a customer attribute in a period.
// (CustomerID, Key, Period) is unique; a later write for the same tuple
// replaces the value.
type AttributeEntry struct {
	CustomerID string `json:"customer_id"`
	Key        string `json:"key"`
	Value      string `json:"value"`
	Period     Period `json:"period"`
}

// PageType enumerates the supported page kinds.
type PageType string

const (
	PageStatic         PageType = "static"
	PageFillableForm   PageType = "fillable_form"
	PageChoosable      PageType = "choosable"
	PageTabularExtract PageType = "tabular_extract"
)

// KnownPageType reports whether t is one of the supported page kinds.
func KnownPageType(t PageType) bool {
	switch t {
	case PageStatic, PageFillableForm, PageChoosable, PageTabularExtract:
		return true
	}
	return false
}

// PageCondition is one ordered rule of a choosable page. Rules are evaluated
// in declaration order; the first rule whose attribute matches wins.
type PageCondition struct {
	AttributeKey  string `json:"attribute_key"`
	ExpectedValue string `json:"expected_value"`
	// TargetRef is the content reference selected when the rule matches.
	TargetRef string `json:"target_ref"`
	// TargetFieldMapping applies when the target is itself a fillable form.
	TargetFieldMapping map[string]string `json:"target_field_mapping,omitempty"`
}

// Page is one slot in a book. Which configuration fields apply depends on Type.
type Page struct {
	ID         string   `json:"id"`
	BookID     string   `json:"book_id"`
	Type       PageType `json:"type"`
	OrderIndex int      `json:"order_index"`

	// ContentRef is the stored content for static and fillable_form pages.
	ContentRef string `json:"content_ref,omitempty"`
	// FieldMapping maps PDF form field names to attribute keys (fillable_form).
	FieldMapping map[string]string `json:"field_mapping,omitempty"`
	// Conditions are the ordered rules of a choosable page.
	Conditions []PageCondition `json:"conditions,omitempty"`
	// DefaultRef is the fallback target of a choosable page; empty means no
	// default, so an unmatched page is a resolution error.
	DefaultRef string `json:"default_ref,omitempty"`
	// TabName selects the workbook tab for tabular_extract pages.
	TabName string `json:"tab_name,omitempty"`
}

// Book is an ordered template of pages generated per customer.
type Book struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Pages []Page `json:"pages"`
}

// RequiresDataset reports whether any page needs an uploaded workbook.
func (b *Book) RequiresDataset() bool {
	for _, p := range b.Pages {
		if p.Type == PageTabularExtract {
			return true
		}
	}
	return false
}

// AssetKind declares what an uploaded asset contains.
type AssetKind string

const (
	AssetDocument AssetKind = "document"
	AssetDataset  AssetKind = "dataset"
)

// UploadedAsset is a content-addressed upload record. Checksum is the SHA-256
// of the bytes and doubles as the storage reference; identical uploads
// collapse onto one asset.
type UploadedAsset struct {
	ID       string    `json:"id"`
	Checksum string    `json:"checksum"`
	Kind     AssetKind `json:"kind"`
	Size     int64     `json:"size"`
	Name     string    `json:"name,omitempty"`
}
