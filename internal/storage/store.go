// Package storage provides content-addressable storage for bookbinder content.
package storage

import (
	"context"
	"time"
)

// ObjectStore provides content-addressable storage for page sources, uploaded
// datasets, and generated booklets. Objects are keyed by the SHA-256 of their
// bytes, so re-storing identical content yields the existing reference and
// duplicate uploads collapse onto one object.
type ObjectStore interface {
	// Put stores an object and returns its content hash.
	// If the object already exists, it returns the existing hash without writing.
	Put(ctx context.Context, obj *Object) (hash string, err error)

	// Get retrieves an object by its content hash.
	// Returns ErrNotFound if the object doesn't exist.
	Get(ctx context.Context, hash string) (*Object, error)

	// Exists checks if an object with the given hash exists.
	Exists(ctx context.Context, hash string) (bool, error)

	// Info returns an object's metadata without loading its bytes.
	Info(ctx context.Context, hash string) (Metadata, error)

	// Delete removes an object by its content hash.
	// Returns ErrNotFound if the object doesn't exist.
	Delete(ctx context.Context, hash string) error

	// List returns all object hashes matching the given type filter.
	// If objectType is empty, returns all objects.
	List(ctx context.Context, objectType ObjectType) ([]string, error)

	// Close releases any resources held by the store.
	Close() error
}

// Object represents stored content with its metadata.
type Object struct {
	// Hash is the content hash (SHA-256) of the data.
	Hash string

	// Type identifies the kind of object.
	Type ObjectType

	// Size is the size of the data in bytes.
	Size int64

	// Data is the object content.
	Data []byte

	// Metadata stores additional key-value pairs.
	Metadata Metadata
}

// Metadata stores object metadata.
type Metadata struct {
	// CreatedAt is when the object was first stored.
	CreatedAt time.Time

	// LastAccessed is when the object was last retrieved.
	LastAccessed time.Time

	// Custom allows storage-specific metadata.
	Custom map[string]string
}

// ObjectType identifies the kind of stored object.
type ObjectType string

const (
	// ObjectTypeSource is page source content (static PDFs, form templates).
	ObjectTypeSource ObjectType = "source"

	// ObjectTypeDataset is an uploaded tabular dataset (workbook).
	ObjectTypeDataset ObjectType = "dataset"

	// ObjectTypeOutput is a generated booklet.
	ObjectTypeOutput ObjectType = "output"
)

// ErrNotFound is returned when an object doesn't exist.
type ErrNotFound struct {
	Hash string
}

func (e ErrNotFound) Error() string {
	return "object not found: " + e.Hash
}

// IsNotFound returns true if the error is ErrNotFound.
func IsNotFound(err error) bool {
	_, ok := err.(ErrNotFound)
	return ok
}
