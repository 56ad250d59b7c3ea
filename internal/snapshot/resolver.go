// Package snapshot resolves a customer's effective attribute state at a
// reporting period.
package snapshot

import (
	"context"

	"git.home.luguber.info/inful/bookbinder/internal/catalog"
	"git.home.luguber.info/inful/bookbinder/internal/model"
)

// Snapshot is the effective key→value state of one customer at one period.
// It is immutable after resolution; Value is the only accessor.
type Snapshot struct {
	customerID string
	period     model.Period
	values     map[string]string
}

// Value returns the effective value for key and whether the key is present.
func (s *Snapshot) Value(key string) (string, bool) {
	v, ok := s.values[key]
	return v, ok
}

// Len returns the number of resolved keys.
func (s *Snapshot) Len() int { return len(s.values) }

// CustomerID returns the customer this snapshot belongs to.
func (s *Snapshot) CustomerID() string { return s.customerID }

// Period returns the period the snapshot was resolved at.
func (s *Snapshot) Period() model.Period { return s.period }

// Resolver computes attribute snapshots from catalog records.
type Resolver struct {
	catalog catalog.Reader
}

// NewResolver creates a snapshot resolver over the given catalog.
func NewResolver(cat catalog.Reader) *Resolver {
	return &Resolver{catalog: cat}
}

// Resolve selects, for each key ever recorded for the customer, the value
// from the latest entry at or before the requested period. Keys with no
// entry at or before the period are absent from the snapshot; absence is
// handled by consuming rules, not here. Identical inputs over unchanged
// data always produce the same mapping.
func (r *Resolver) Resolve(ctx context.Context, customerID string, period model.Period) (*Snapshot, error) {
	entries, err := r.catalog.ListAttributes(ctx, customerID)
	if err != nil {
		return nil, err
	}

	// Latest-not-after-period wins per key.
	best := make(map[string]model.AttributeEntry)
	for _, e := range entries {
		if e.Period.After(period) {
			continue
		}
		prev, ok := best[e.Key]
		if !ok || prev.Period.Before(e.Period) {
			best[e.Key] = e
		}
	}

	values := make(map[string]string, len(best))
	for k, e := range best {
		values[k] = e.Value
	}
	return &Snapshot{customerID: customerID, period: period, values: values}, nil
}

// FromMap builds a snapshot directly from a value map. Test seam; production
// snapshots come from Resolve.
func FromMap(customerID string, period model.Period, values map[string]string) *Snapshot {
	cp := make(map[string]string, len(values))
	for k, v := range values {
		cp[k] = v
	}
	return &Snapshot{customerID: customerID, period: period, values: cp}
}
