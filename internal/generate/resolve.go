// Package generate implements the booklet generation pipeline: page
// resolution, document assembly, and the service boundary the API layer
// talks to.
package generate

import (
	"context"
	stderrors "errors"

	berrors "git.home.luguber.info/inful/bookbinder/internal/errors"
	"git.home.luguber.info/inful/bookbinder/internal/model"
	"git.home.luguber.info/inful/bookbinder/internal/snapshot"
	"git.home.luguber.info/inful/bookbinder/internal/storage"
	"git.home.luguber.info/inful/bookbinder/internal/tabular"
)

// Unit is one resolved content unit, ready for assembly. Exactly one of the
// concrete variants applies per page slot.
type Unit interface {
	unit()
}

// StaticUnit carries source bytes appended to the output as-is.
type StaticUnit struct {
	Ref  string
	Data []byte
}

// FormUnit carries a form template plus the field values to bake onto it.
type FormUnit struct {
	TemplateRef string
	Template    []byte
	// Fields maps PDF form field names to resolved values. Keys mapped to
	// attributes absent from the snapshot carry the explicit empty string.
	Fields map[string]string
}

// TabularUnit carries the extracted rows of one workbook tab.
type TabularUnit struct {
	DatasetRef string
	Tab        string
	Rows       [][]string
}

func (StaticUnit) unit()  {}
func (FormUnit) unit()    {}
func (TabularUnit) unit() {}

// ResolvedPage pairs a page definition with its resolved unit.
type ResolvedPage struct {
	Page model.Page
	Unit Unit
}

// Resolver maps one page definition + attribute snapshot + optional uploaded
// dataset to a resolved unit. Resolution is pure apart from storage reads
// and is safe to retry or run speculatively; distinct pages of one book may
// be resolved concurrently.
type Resolver struct {
	store      storage.ObjectStore
	snap       *snapshot.Snapshot
	datasetRef string
}

// NewResolver builds a resolver for one generation run. datasetRef is empty
// when no dataset was uploaded.
func NewResolver(store storage.ObjectStore, snap *snapshot.Snapshot, datasetRef string) *Resolver {
	return &Resolver{store: store, snap: snap, datasetRef: datasetRef}
}

// ResolvePage resolves a single page definition.
func (r *Resolver) ResolvePage(ctx context.Context, page model.Page) (ResolvedPage, error) {
	var (
		unit Unit
		err  error
	)
	switch page.Type {
	case model.PageStatic:
		unit, err = r.resolveStatic(ctx, page.ContentRef)
	case model.PageFillableForm:
		unit, err = r.resolveForm(ctx, page.ContentRef, page.FieldMapping)
	case model.PageChoosable:
		unit, err = r.resolveChoosable(ctx, page)
	case model.PageTabularExtract:
		unit, err = r.resolveTabular(ctx, page.TabName)
	default:
		err = berrors.New(berrors.KindInternal, "page %s has unknown type %q", page.ID, page.Type)
	}
	if err != nil {
		return ResolvedPage{}, err
	}
	return ResolvedPage{Page: page, Unit: unit}, nil
}

func (r *Resolver) resolveStatic(ctx context.Context, ref string) (Unit, error) {
	data, err := r.fetch(ctx, ref)
	if err != nil {
		return nil, err
	}
	return StaticUnit{Ref: ref, Data: data}, nil
}

func (r *Resolver) resolveForm(ctx context.Context, templateRef string, mapping map[string]string) (Unit, error) {
	template, err := r.fetch(ctx, templateRef)
	if err != nil {
		return nil, err
	}
	fields := make(map[string]string, len(mapping))
	for fieldName, attrKey := range mapping {
		// Absent snapshot keys resolve to the empty string, not an error;
		// partially filled forms are valid output.
		value, _ := r.snap.Value(attrKey)
		fields[fieldName] = value
	}
	return FormUnit{TemplateRef: templateRef, Template: template, Fields: fields}, nil
}

func (r *Resolver) resolveChoosable(ctx context.Context, page model.Page) (Unit, error) {
	for _, cond := range page.Conditions {
		value, ok := r.snap.Value(cond.AttributeKey)
		if !ok || value != cond.ExpectedValue {
			continue
		}
		// First match wins. The target resolves through the static or
		// fillable-form rule, depending on whether it carries a mapping.
		if cond.TargetFieldMapping != nil {
			return r.resolveForm(ctx, cond.TargetRef, cond.TargetFieldMapping)
		}
		return r.resolveStatic(ctx, cond.TargetRef)
	}
	if page.DefaultRef != "" {
		return r.resolveStatic(ctx, page.DefaultRef)
	}
	return nil, berrors.New(berrors.KindUnresolvedChoice,
		"page %s: no condition matched and no default target configured", page.ID)
}

func (r *Resolver) resolveTabular(ctx context.Context, tab string) (Unit, error) {
	// The submit precondition already requires a dataset for books with
	// tabular pages; re-check here since resolution may run standalone.
	if r.datasetRef == "" {
		return nil, berrors.New(berrors.KindMissingAsset, "tabular page requires an uploaded dataset")
	}
	data, err := r.fetch(ctx, r.datasetRef)
	if err != nil {
		return nil, err
	}
	wb, err := tabular.Open(data)
	if err != nil {
		return nil, berrors.Wrap(berrors.KindInternal, err, "dataset %s is not a readable workbook", r.datasetRef)
	}
	defer wb.Close()

	rows, err := wb.Rows(tab)
	if err != nil {
		var missing tabular.ErrMissingTab
		if stderrors.As(err, &missing) {
			return nil, berrors.Wrap(berrors.KindMissingTab, err,
				"dataset %s has no tab %q", r.datasetRef, tab)
		}
		return nil, berrors.Wrap(berrors.KindInternal, err, "extract tab %q", tab)
	}
	return TabularUnit{DatasetRef: r.datasetRef, Tab: tab, Rows: rows}, nil
}

// fetch reads one object, classifying absence as missing_asset and any other
// storage failure as transient.
func (r *Resolver) fetch(ctx context.Context, ref string) ([]byte, error) {
	if ref == "" {
		return nil, berrors.New(berrors.KindMissingAsset, "empty content reference")
	}
	obj, err := r.store.Get(ctx, ref)
	if err != nil {
		if storage.IsNotFound(err) {
			return nil, berrors.Wrap(berrors.KindMissingAsset, err, "content %s not in storage", ref)
		}
		return nil, berrors.Wrap(berrors.KindTransientStorage, err, "read content %s", ref)
	}
	return obj.Data, nil
}
