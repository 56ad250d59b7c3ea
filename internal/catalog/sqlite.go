package catalog

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "modernc.org/sqlite"

	"git.home.luguber.info/inful/bookbinder/internal/model"
)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (creating if needed) a catalog database.
// Use ":memory:" for an in-memory database.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.initialize(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS customers (
		id   TEXT PRIMARY KEY,
		name TEXT NOT NULL
	);
	CREATE TABLE IF NOT EXISTS attributes (
		customer_id TEXT NOT NULL REFERENCES customers(id),
		key         TEXT NOT NULL,
		value       TEXT NOT NULL,
		year        INTEGER NOT NULL,
		quarter     INTEGER NOT NULL CHECK (quarter BETWEEN 1 AND 4),
		PRIMARY KEY (customer_id, key, year, quarter)
	);
	CREATE TABLE IF NOT EXISTS books (
		id   TEXT PRIMARY KEY,
		name TEXT NOT NULL
	);
	CREATE TABLE IF NOT EXISTS pages (
		id            TEXT PRIMARY KEY,
		book_id       TEXT NOT NULL REFERENCES books(id),
		type          TEXT NOT NULL,
		order_index   INTEGER NOT NULL,
		content_ref   TEXT NOT NULL DEFAULT '',
		field_mapping TEXT,
		default_ref   TEXT NOT NULL DEFAULT '',
		tab_name      TEXT NOT NULL DEFAULT '',
		UNIQUE (book_id, order_index)
	);
	CREATE TABLE IF NOT EXISTS page_conditions (
		page_id              TEXT NOT NULL REFERENCES pages(id),
		position             INTEGER NOT NULL,
		attribute_key        TEXT NOT NULL,
		expected_value       TEXT NOT NULL,
		target_ref           TEXT NOT NULL,
		target_field_mapping TEXT,
		PRIMARY KEY (page_id, position)
	);
	CREATE TABLE IF NOT EXISTS assets (
		id       TEXT PRIMARY KEY,
		checksum TEXT NOT NULL UNIQUE,
		kind     TEXT NOT NULL,
		size     INTEGER NOT NULL,
		name     TEXT NOT NULL DEFAULT ''
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// GetCustomer fetches a customer by ID.
func (s *SQLiteStore) GetCustomer(ctx context.Context, id string) (*model.Customer, error) {
	var c model.Customer
	err := s.db.QueryRowContext(ctx, "SELECT id, name FROM customers WHERE id = ?", id).
		Scan(&c.ID, &c.Name)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query customer: %w", err)
	}
	return &c, nil
}

// ListAttributes returns all attribute entries for a customer across periods.
func (s *SQLiteStore) ListAttributes(ctx context.Context, customerID string) ([]model.AttributeEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT customer_id, key, value, year, quarter FROM attributes WHERE customer_id = ? ORDER BY key, year, quarter",
		customerID)
	if err != nil {
		return nil, fmt.Errorf("query attributes: %w", err)
	}
	defer rows.Close()

	var entries []model.AttributeEntry
	for rows.Next() {
		var e model.AttributeEntry
		if err := rows.Scan(&e.CustomerID, &e.Key, &e.Value, &e.Period.Year, &e.Period.Quarter); err != nil {
			return nil, fmt.Errorf("scan attribute: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// GetBook fetches a book with its pages in order_index order, including
// per-page conditions in declaration order.
func (s *SQLiteStore) GetBook(ctx context.Context, id string) (*model.Book, error) {
	var b model.Book
	err := s.db.QueryRowContext(ctx, "SELECT id, name FROM books WHERE id = ?", id).
		Scan(&b.ID, &b.Name)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query book: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, book_id, type, order_index, content_ref, field_mapping, default_ref, tab_name
		 FROM pages WHERE book_id = ? ORDER BY order_index`, id)
	if err != nil {
		return nil, fmt.Errorf("query pages: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var p model.Page
		var mapping sql.NullString
		if err := rows.Scan(&p.ID, &p.BookID, &p.Type, &p.OrderIndex,
			&p.ContentRef, &mapping, &p.DefaultRef, &p.TabName); err != nil {
			return nil, fmt.Errorf("scan page: %w", err)
		}
		if mapping.Valid && mapping.String != "" {
			if err := json.Unmarshal([]byte(mapping.String), &p.FieldMapping); err != nil {
				return nil, fmt.Errorf("parse field mapping for page %s: %w", p.ID, err)
			}
		}
		b.Pages = append(b.Pages, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range b.Pages {
		if b.Pages[i].Type != model.PageChoosable {
			continue
		}
		conds, err := s.pageConditions(ctx, b.Pages[i].ID)
		if err != nil {
			return nil, err
		}
		b.Pages[i].Conditions = conds
	}
	return &b, nil
}

func (s *SQLiteStore) pageConditions(ctx context.Context, pageID string) ([]model.PageCondition, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT attribute_key, expected_value, target_ref, target_field_mapping
		 FROM page_conditions WHERE page_id = ? ORDER BY position`, pageID)
	if err != nil {
		return nil, fmt.Errorf("query conditions: %w", err)
	}
	defer rows.Close()

	var conds []model.PageCondition
	for rows.Next() {
		var c model.PageCondition
		var mapping sql.NullString
		if err := rows.Scan(&c.AttributeKey, &c.ExpectedValue, &c.TargetRef, &mapping); err != nil {
			return nil, fmt.Errorf("scan condition: %w", err)
		}
		if mapping.Valid && mapping.String != "" {
			if err := json.Unmarshal([]byte(mapping.String), &c.TargetFieldMapping); err != nil {
				return nil, fmt.Errorf("parse condition mapping: %w", err)
			}
		}
		conds = append(conds, c)
	}
	return conds, rows.Err()
}

// GetAssetByChecksum fetches an uploaded asset record by content checksum.
func (s *SQLiteStore) GetAssetByChecksum(ctx context.Context, checksum string) (*model.UploadedAsset, error) {
	var a model.UploadedAsset
	err := s.db.QueryRowContext(ctx,
		"SELECT id, checksum, kind, size, name FROM assets WHERE checksum = ?", checksum).
		Scan(&a.ID, &a.Checksum, &a.Kind, &a.Size, &a.Name)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query asset: %w", err)
	}
	return &a, nil
}

// PutCustomer inserts or updates a customer.
func (s *SQLiteStore) PutCustomer(ctx context.Context, c model.Customer) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO customers (id, name) VALUES (?, ?)
		 ON CONFLICT(id) DO UPDATE SET name = excluded.name`, c.ID, c.Name)
	if err != nil {
		return fmt.Errorf("put customer: %w", err)
	}
	return nil
}

// PutAttribute records a value; an existing (customer, key, year, quarter)
// entry is replaced.
func (s *SQLiteStore) PutAttribute(ctx context.Context, e model.AttributeEntry) error {
	if !e.Period.Valid() {
		return fmt.Errorf("invalid period %s", e.Period)
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO attributes (customer_id, key, value, year, quarter) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(customer_id, key, year, quarter) DO UPDATE SET value = excluded.value`,
		e.CustomerID, e.Key, e.Value, e.Period.Year, e.Period.Quarter)
	if err != nil {
		return fmt.Errorf("put attribute: %w", err)
	}
	return nil
}

// PutBook inserts or replaces a book definition with its pages and
// conditions. Page order follows the slice order; order_index is assigned
// contiguously from 0.
func (s *SQLiteStore) PutBook(ctx context.Context, b model.Book) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO books (id, name) VALUES (?, ?)
		 ON CONFLICT(id) DO UPDATE SET name = excluded.name`, b.ID, b.Name); err != nil {
		return fmt.Errorf("put book: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM page_conditions WHERE page_id IN (SELECT id FROM pages WHERE book_id = ?)`, b.ID); err != nil {
		return fmt.Errorf("clear conditions: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM pages WHERE book_id = ?`, b.ID); err != nil {
		return fmt.Errorf("clear pages: %w", err)
	}

	for i, p := range b.Pages {
		if !model.KnownPageType(p.Type) {
			return fmt.Errorf("page %s: unknown type %q", p.ID, p.Type)
		}
		var mapping []byte
		if p.FieldMapping != nil {
			if mapping, err = json.Marshal(p.FieldMapping); err != nil {
				return fmt.Errorf("marshal field mapping: %w", err)
			}
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO pages (id, book_id, type, order_index, content_ref, field_mapping, default_ref, tab_name)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			p.ID, b.ID, p.Type, i, p.ContentRef, nullable(mapping), p.DefaultRef, p.TabName); err != nil {
			return fmt.Errorf("insert page %s: %w", p.ID, err)
		}
		for pos, c := range p.Conditions {
			var condMapping []byte
			if c.TargetFieldMapping != nil {
				if condMapping, err = json.Marshal(c.TargetFieldMapping); err != nil {
					return fmt.Errorf("marshal condition mapping: %w", err)
				}
			}
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO page_conditions (page_id, position, attribute_key, expected_value, target_ref, target_field_mapping)
				 VALUES (?, ?, ?, ?, ?, ?)`,
				p.ID, pos, c.AttributeKey, c.ExpectedValue, c.TargetRef, nullable(condMapping)); err != nil {
				return fmt.Errorf("insert condition: %w", err)
			}
		}
	}
	return tx.Commit()
}

// ReorderPages rewrites order_index to match ids, which must be a
// permutation of the book's current page IDs. The rewrite is transactional;
// a two-phase update avoids tripping the (book_id, order_index) uniqueness
// mid-flight.
func (s *SQLiteStore) ReorderPages(ctx context.Context, bookID string, ids []string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	rows, err := tx.QueryContext(ctx, "SELECT id FROM pages WHERE book_id = ?", bookID)
	if err != nil {
		return fmt.Errorf("query page ids: %w", err)
	}
	current := map[string]bool{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return err
		}
		current[id] = true
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	if len(ids) != len(current) {
		return fmt.Errorf("reorder: got %d ids, book has %d pages", len(ids), len(current))
	}
	for _, id := range ids {
		if !current[id] {
			return fmt.Errorf("reorder: page %s does not belong to book %s", id, bookID)
		}
		delete(current, id)
	}

	for i, id := range ids {
		if _, err := tx.ExecContext(ctx,
			"UPDATE pages SET order_index = ? WHERE id = ?", -(i + 1), id); err != nil {
			return fmt.Errorf("stage order: %w", err)
		}
	}
	for i, id := range ids {
		if _, err := tx.ExecContext(ctx,
			"UPDATE pages SET order_index = ? WHERE id = ?", i, id); err != nil {
			return fmt.Errorf("apply order: %w", err)
		}
	}
	return tx.Commit()
}

// RegisterAsset records an uploaded asset. Registering the same checksum
// again is a no-op (content addressing).
func (s *SQLiteStore) RegisterAsset(ctx context.Context, a model.UploadedAsset) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO assets (id, checksum, kind, size, name) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(checksum) DO NOTHING`,
		a.ID, a.Checksum, a.Kind, a.Size, a.Name)
	if err != nil {
		return fmt.Errorf("register asset: %w", err)
	}
	return nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error { return s.db.Close() }

func nullable(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}
