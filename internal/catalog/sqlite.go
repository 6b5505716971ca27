// Package catalog provides the SQLite implementation of the Store interface.
package catalog

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/hyperjump/miwake/internal/models"
)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens or creates a SQLite database at dbPath and initializes
// the schema. Parent directories are created if they do not exist.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}

	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// OpenSQLiteStoreReadOnly opens an existing database without write access.
// Published snapshot files must stay byte-identical to what the builder
// checksummed, so serving uses immutable mode and never creates WAL files.
func OpenSQLiteStoreReadOnly(dbPath string) (*SQLiteStore, error) {
	if _, err := os.Stat(dbPath); err != nil {
		return nil, fmt.Errorf("catalog database not found: %w", err)
	}
	db, err := sql.Open("sqlite3", "file:"+dbPath+"?mode=ro&immutable=1")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func initSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS items (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL,
		category TEXT NOT NULL,
		image_location TEXT NOT NULL,
		file_size INTEGER NOT NULL DEFAULT 0,
		width INTEGER NOT NULL DEFAULT 0,
		height INTEGER NOT NULL DEFAULT 0,
		format TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_items_category ON items(category);

	CREATE TABLE IF NOT EXISTS meta (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);
	`
	_, err := db.Exec(schema)
	return err
}

const itemColumns = `id, name, category, image_location, file_size, width, height, format, created_at`

// Insert adds one item and assigns its generated id.
func (s *SQLiteStore) Insert(ctx context.Context, item *models.CatalogItem) error {
	item.CreatedAt = time.Now().UTC()
	result, err := s.db.ExecContext(ctx,
		`INSERT INTO items (name, category, image_location, file_size, width, height, format, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		item.Name, item.Category, item.ImageLocation, item.FileSize,
		item.Width, item.Height, item.Format, item.CreatedAt,
	)
	if err != nil {
		return err
	}
	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read inserted id: %w", err)
	}
	item.ID = id
	return nil
}

// BatchInsert adds items in one transaction, assigning ids in order. Either
// every item lands or none do.
func (s *SQLiteStore) BatchInsert(ctx context.Context, items []*models.CatalogItem) error {
	if len(items) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO items (name, category, image_location, file_size, width, height, format, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
	)
	if err != nil {
		return err
	}
	defer stmt.Close()

	now := time.Now().UTC()
	for _, item := range items {
		item.CreatedAt = now
		result, err := stmt.ExecContext(ctx,
			item.Name, item.Category, item.ImageLocation, item.FileSize,
			item.Width, item.Height, item.Format, item.CreatedAt,
		)
		if err != nil {
			return err
		}
		id, err := result.LastInsertId()
		if err != nil {
			return fmt.Errorf("failed to read inserted id: %w", err)
		}
		item.ID = id
	}
	return tx.Commit()
}

// SetVersion stamps the store with the snapshot version it belongs to.
func (s *SQLiteStore) SetVersion(ctx context.Context, version string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO meta (key, value) VALUES ('snapshot_version', ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		version,
	)
	return err
}

// Version returns the snapshot version the store was stamped with, or an
// empty string for a store that was never stamped.
func (s *SQLiteStore) Version(ctx context.Context) (string, error) {
	var version string
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM meta WHERE key = 'snapshot_version'`,
	).Scan(&version)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return version, nil
}

// Get returns an item by id.
func (s *SQLiteStore) Get(ctx context.Context, id int64) (*models.CatalogItem, error) {
	var item models.CatalogItem
	err := s.db.QueryRowContext(ctx,
		`SELECT `+itemColumns+` FROM items WHERE id = ?`, id,
	).Scan(&item.ID, &item.Name, &item.Category, &item.ImageLocation,
		&item.FileSize, &item.Width, &item.Height, &item.Format, &item.CreatedAt)

	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: id %d", ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

// GetBatch returns the items that exist for the given ids, keyed by id.
// Missing ids are simply absent from the map, not an error: a vector hit
// whose row is gone is the caller's drift case to handle.
func (s *SQLiteStore) GetBatch(ctx context.Context, ids []int64) (map[int64]*models.CatalogItem, error) {
	result := make(map[int64]*models.CatalogItem, len(ids))
	if len(ids) == 0 {
		return result, nil
	}

	placeholders := strings.Repeat("?,", len(ids))
	placeholders = placeholders[:len(placeholders)-1]
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+itemColumns+` FROM items WHERE id IN (`+placeholders+`)`, args...,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var item models.CatalogItem
		if err := rows.Scan(&item.ID, &item.Name, &item.Category, &item.ImageLocation,
			&item.FileSize, &item.Width, &item.Height, &item.Format, &item.CreatedAt); err != nil {
			return nil, err
		}
		result[item.ID] = &item
	}
	return result, rows.Err()
}

// List returns items ordered by id with offset and limit.
func (s *SQLiteStore) List(ctx context.Context, offset, limit int) ([]*models.CatalogItem, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+itemColumns+` FROM items ORDER BY id LIMIT ? OFFSET ?`,
		limit, offset,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []*models.CatalogItem
	for rows.Next() {
		var item models.CatalogItem
		if err := rows.Scan(&item.ID, &item.Name, &item.Category, &item.ImageLocation,
			&item.FileSize, &item.Width, &item.Height, &item.Format, &item.CreatedAt); err != nil {
			return nil, err
		}
		items = append(items, &item)
	}
	return items, rows.Err()
}

// Count returns the total number of items.
func (s *SQLiteStore) Count(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM items`).Scan(&count)
	return count, err
}

// Categories returns item counts grouped by category.
func (s *SQLiteStore) Categories(ctx context.Context) (map[string]int64, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT category, COUNT(*) FROM items GROUP BY category`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	categories := make(map[string]int64)
	for rows.Next() {
		var category string
		var count int64
		if err := rows.Scan(&category, &count); err != nil {
			return nil, err
		}
		categories[category] = count
	}
	return categories, rows.Err()
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
