// Package catalog is the persistence collaborator for customers, books,
// pages, attributes, and uploaded assets. The generation core only reads
// these records; mutation happens through the admin surface.
package catalog

import (
	"context"
	"errors"

	"git.home.luguber.info/inful/bookbinder/internal/model"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("catalog: record not found")

// Reader is the read-only view the generation pipeline depends on.
type Reader interface {
	GetCustomer(ctx context.Context, id string) (*model.Customer, error)
	GetBook(ctx context.Context, id string) (*model.Book, error)
	// ListAttributes returns every attribute entry ever recorded for the
	// customer, across all periods.
	ListAttributes(ctx context.Context, customerID string) ([]model.AttributeEntry, error)
	GetAssetByChecksum(ctx context.Context, checksum string) (*model.UploadedAsset, error)
}

// Store is the full catalog surface, including the writes used by the admin
// API, the spool watcher, and seeding.
type Store interface {
	Reader

	PutCustomer(ctx context.Context, c model.Customer) error
	// PutAttribute records a value for (customer, key, year, quarter); a
	// later write for the same tuple replaces the value.
	PutAttribute(ctx context.Context, e model.AttributeEntry) error
	PutBook(ctx context.Context, b model.Book) error
	// ReorderPages rewrites order_index for the book's pages transactionally.
	// ids must be a permutation of the book's current page IDs.
	ReorderPages(ctx context.Context, bookID string, ids []string) error
	RegisterAsset(ctx context.Context, a model.UploadedAsset) error

	Close() error
}
