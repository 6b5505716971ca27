// Package models defines core data structures for catalog items, queries, and search results.
package models

import "time"

// CatalogItem is one entry in the indexed catalog. Items are created in bulk by the
// index builder and never mutated by query-time code; a rebuild replaces them wholesale.
// The item's embedding vector lives in the vector index, keyed by ID.
type CatalogItem struct {
	ID            int64     `json:"id" db:"id"`
	Name          string    `json:"name" db:"name"`
	Category      string    `json:"category" db:"category"`
	ImageLocation string    `json:"image_location" db:"image_location"`
	FileSize      int64     `json:"file_size,omitempty" db:"file_size"`
	Width         int       `json:"width,omitempty" db:"width"`
	Height        int       `json:"height,omitempty" db:"height"`
	Format        string    `json:"format,omitempty" db:"format"`
	CreatedAt     time.Time `json:"created_at" db:"created_at"`
}

// CatalogStats summarizes the serving snapshot's catalog.
type CatalogStats struct {
	TotalItems      int64            `json:"total_items"`
	Categories      map[string]int64 `json:"categories"`
	SnapshotVersion string           `json:"snapshot_version"`
	VectorDimension int              `json:"vector_dimension"`
	IndexDiskBytes  int64            `json:"index_disk_bytes"`
}

// Health reports whether a consistent snapshot is loaded and serving.
type Health struct {
	Status          string `json:"status"`
	SnapshotVersion string `json:"snapshot_version"`
	CatalogSize     int64  `json:"catalog_size"`
	VectorDimension int    `json:"vector_dimension"`
}

// RebuildJob tracks one catalog rebuild invocation.
type RebuildJob struct {
	ID         string     `json:"job_id"`
	Status     string     `json:"status"`
	Source     string     `json:"source"`
	Version    string     `json:"version,omitempty"`
	ItemCount  int        `json:"item_count,omitempty"`
	Error      string     `json:"error,omitempty"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// Rebuild job states.
const (
	JobRunning   = "running"
	JobCompleted = "completed"
	JobFailed    = "failed"
)
