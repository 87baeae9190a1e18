package sg

import (
	"time"

	"sg-go/internal/document"
	"sg-go/internal/validate"
)

// TxState is the lifecycle state of a Transaction. A transaction leaves
// TxPending exactly once.
type TxState string

const (
	TxPending    TxState = "pending"
	TxCommitted  TxState = "committed"
	TxRolledBack TxState = "rolled_back"
)

// TxRecord is the pre-transaction state of one written path. A nil Backup
// means the path did not exist, so rollback removes it.
type TxRecord struct {
	Path   string
	Backup *BackupEntry
}

// Transaction groups writes so they can be undone together.
type Transaction struct {
	ID      string
	Label   string
	Started time.Time
	Records []TxRecord
	State   TxState
}

// WriteOptions controls a single atomic write.
type WriteOptions struct {
	// Backup copies an existing destination aside before it is replaced.
	Backup bool

	// Validate refuses documents with Errors.
	Validate bool

	// Kind selects the validation rules; KindUnknown infers it from the path.
	Kind validate.Kind
}

// AtomicWriter replaces files without ever leaving them half written.
type AtomicWriter interface {
	// Write publishes doc at path. It returns the backup taken, if any.
	Write(path string, doc *document.Value, label string, opts WriteOptions) (*BackupEntry, error)

	// Begin opens a transaction and returns its ID.
	Begin(label string) string

	// Record registers the pre-transaction state of path. Only the first
	// record for a path is kept.
	Record(txID, path string, backup *BackupEntry) error

	// WriteInTx is Write inside a transaction.
	WriteInTx(txID, path string, doc *document.Value, opts WriteOptions) (*BackupEntry, error)

	Commit(txID string) error

	// Rollback restores every recorded path in reverse order. Paths that
	// could not be restored are reported in a *RestoreError.
	Rollback(txID string) error

	// InTransaction runs fn in a new transaction, committing when it returns
	// nil. An error from fn rolls back and comes back as a *RollbackError;
	// a panic rolls back and is re-raised.
	InTransaction(label string, fn func(TxScope) error) error

	// Reclaim moves path.old back to path when an interrupted swap left the
	// sidecar as the only copy. It reports whether it did.
	Reclaim(path string) (bool, error)

	// PruneBackups applies retention to single-write backups and returns
	// how many were removed.
	PruneBackups(keepDays, keepMinimum int) (int, error)
}

// TxScope is an open transaction as seen from an InTransaction callback.
type TxScope interface {
	ID() string

	// Record registers the pre-transaction state of path.
	Record(path string, backup *BackupEntry) error

	Write(path string, doc *document.Value, opts WriteOptions) error
}
