package sg

import (
	"io"
	"time"
)

// BackupEntry is one file copied into a snapshot or a write backup.
type BackupEntry struct {
	OriginalPath string `json:"original_path"`
	BackupPath   string `json:"backup_path"`
	SizeBytes    int64  `json:"size_bytes"`
	Checksum     string `json:"checksum,omitempty"` // hex SHA-256 of the copy

	// Unparsable is set when the file was already not a valid document at
	// capture time. Such copies are still restorable byte for byte.
	Unparsable bool `json:"unparsable,omitempty"`
}

// BackupMetadata describes a snapshot. Files lists the original paths of its
// entries, one for one.
type BackupMetadata struct {
	ID            string            `json:"id"`
	Timestamp     time.Time         `json:"timestamp"`
	OperationType string            `json:"operation_type"`
	Description   string            `json:"description"`
	Files         []string          `json:"files"`
	TotalSize     int64             `json:"total_size"`
	Owner         string            `json:"owner"`
	Session       map[string]string `json:"session,omitempty"`
}

// ListFilter narrows BackupStore.List. Zero fields match everything.
type ListFilter struct {
	OperationType string
	Since         time.Time
}

// OperationSummary aggregates the snapshots of one operation type.
type OperationSummary struct {
	Count     int
	TotalSize int64
	Latest    time.Time
}

// BackupReport summarizes everything in a store.
type BackupReport struct {
	TotalSnapshots int
	TotalSize      int64
	ByOperation    map[string]*OperationSummary
	Latest         *BackupMetadata
}

// FetchFunc writes the content of entry to w. Used to import snapshots from
// somewhere other than the local disk.
type FetchFunc func(entry *BackupEntry, w io.Writer) error

// BackupStore keeps named, timestamped multi-file snapshots.
type BackupStore interface {
	// Snapshot copies the existing files among files into a new snapshot and
	// returns its ID. Missing files are skipped.
	Snapshot(operationType, description string, files []string, session map[string]string) (string, error)

	// List returns snapshot metadata, newest first.
	List(filter ListFilter) ([]*BackupMetadata, error)

	// Details returns a snapshot's metadata and entries, or ErrNotFound.
	Details(id string) (*BackupMetadata, []*BackupEntry, error)

	// Restore copies entries back to their original paths. An empty files
	// list restores every entry. Per-file failures come back as *RestoreError.
	Restore(id string, files []string) error

	// Verify checks a snapshot and returns every problem found.
	Verify(id string) (bool, []string)

	// Cleanup removes snapshots older than keepDays, always keeping at least
	// keepMinimum of the newest. It returns how many were removed.
	Cleanup(keepDays, keepMinimum int) (int, error)

	// Latest returns the newest snapshot, optionally of one operation type.
	Latest(operationType string) (*BackupMetadata, error)

	Report() (*BackupReport, error)

	// Import stores a snapshot whose content is supplied by fetch.
	Import(meta *BackupMetadata, entries []*BackupEntry, fetch FetchFunc) (string, error)
}
