package atomicfile

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"sg-go/internal/document"
	"sg-go/internal/sg"
)

// Begin opens a pending transaction.
func (w *Writer) Begin(label string) string {
	tx := &sg.Transaction{
		ID:      w.ids.New(),
		Label:   label,
		Started: w.clock.Now(),
		State:   sg.TxPending,
	}

	w.mu.Lock()
	w.txs[tx.ID] = tx
	w.mu.Unlock()

	w.logger.Debug("transaction started", "tx", tx.ID, "label", label)
	return tx.ID
}

// Record registers the pre-transaction state of path. Later records for the
// same path are ignored, so rollback always returns to the state before the
// first write.
func (w *Writer) Record(txID, path string, backup *sg.BackupEntry) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	tx, err := w.pending(txID)
	if err != nil {
		return err
	}
	for _, rec := range tx.Records {
		if rec.Path == path {
			return nil
		}
	}
	tx.Records = append(tx.Records, sg.TxRecord{Path: path, Backup: backup})
	return nil
}

// WriteInTx is Write inside a transaction. The first write to a path that
// already exists and has no record yet is forced to take a backup, so
// rollback can always put it back.
func (w *Writer) WriteInTx(txID, path string, doc *document.Value, opts sg.WriteOptions) (*sg.BackupEntry, error) {
	w.mu.Lock()
	tx, err := w.pending(txID)
	recorded := false
	label := ""
	if err == nil {
		label = tx.Label
		for _, rec := range tx.Records {
			if rec.Path == path {
				recorded = true
				break
			}
		}
	}
	w.mu.Unlock()
	if err != nil {
		return nil, err
	}

	if !recorded {
		if _, err := os.Stat(path); err == nil {
			opts.Backup = true
		}
	} else {
		opts.Backup = false
	}
	return w.write(txID, path, doc, label, opts)
}

// Commit closes the transaction; its backups stay on disk.
func (w *Writer) Commit(txID string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	tx, err := w.pending(txID)
	if err != nil {
		return err
	}
	w.settle(tx, sg.TxCommitted)
	w.logger.Debug("transaction committed", "tx", txID, "files", len(tx.Records))
	return nil
}

// Rollback restores every recorded path, newest record first. It keeps
// going after a failure and reports all failures together.
func (w *Writer) Rollback(txID string) error {
	w.mu.Lock()
	tx, err := w.pending(txID)
	if err != nil {
		w.mu.Unlock()
		return err
	}
	w.settle(tx, sg.TxRolledBack)
	records := append([]sg.TxRecord(nil), tx.Records...)
	w.mu.Unlock()

	var failures []sg.FileFailure
	for i := len(records) - 1; i >= 0; i-- {
		rec := records[i]
		if err := w.restoreRecord(rec); err != nil {
			w.logger.Error("rollback could not restore file", "tx", txID, "path", rec.Path, "error", err)
			failures = append(failures, sg.FileFailure{Path: rec.Path, Err: err})
			continue
		}
		w.logger.Info("rolled back file", "tx", txID, "path", rec.Path)
	}

	if len(failures) > 0 {
		return &sg.RestoreError{Op: "rollback", Failures: failures}
	}
	return nil
}

// settle closes tx and moves it from the open set to the short list of
// recently closed transactions. Callers hold w.mu.
func (w *Writer) settle(tx *sg.Transaction, state sg.TxState) {
	tx.State = state
	delete(w.txs, tx.ID)
	w.closed = append(w.closed, tx)
	if len(w.closed) > closedMemory {
		w.closed = append(w.closed[:0:0], w.closed[len(w.closed)-closedMemory:]...)
	}
}

// Transaction returns a copy of an open or recently closed transaction.
func (w *Writer) Transaction(txID string) (sg.Transaction, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	tx, ok := w.txs[txID]
	if !ok {
		tx = w.recentlyClosed(txID)
	}
	if tx == nil {
		return sg.Transaction{}, false
	}
	out := *tx
	out.Records = append([]sg.TxRecord(nil), tx.Records...)
	return out, true
}

func (w *Writer) recentlyClosed(txID string) *sg.Transaction {
	for i := len(w.closed) - 1; i >= 0; i-- {
		if w.closed[i].ID == txID {
			return w.closed[i]
		}
	}
	return nil
}

// pending returns the transaction if it is still open. Callers hold w.mu.
func (w *Writer) pending(txID string) (*sg.Transaction, error) {
	if tx, ok := w.txs[txID]; ok {
		return tx, nil
	}
	if tx := w.recentlyClosed(txID); tx != nil {
		return nil, fmt.Errorf("%w: %s is %s", sg.ErrTransactionClosed, txID, tx.State)
	}
	return nil, fmt.Errorf("%w: %s", sg.ErrUnknownTransaction, txID)
}

// restoreRecord puts one path back to its pre-transaction state.
func (w *Writer) restoreRecord(rec sg.TxRecord) error {
	if rec.Backup == nil {
		if err := os.Remove(rec.Path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
		return nil
	}
	return w.restoreFrom(rec.Backup)
}

// restoreFrom republishes a backup copy over its original path after
// checking that the copy still matches the recorded size and checksum.
func (w *Writer) restoreFrom(entry *sg.BackupEntry) error {
	data, err := os.ReadFile(entry.BackupPath)
	if err != nil {
		return fmt.Errorf("reading backup: %w", err)
	}
	if int64(len(data)) != entry.SizeBytes {
		return fmt.Errorf("%w: backup %s has %d bytes, expected %d", sg.ErrIntegrity, entry.BackupPath, len(data), entry.SizeBytes)
	}

	s, err := stage(entry.OriginalPath, bytes.NewReader(data))
	if err != nil {
		return unchanged(entry.OriginalPath, err)
	}
	if entry.Checksum != "" && s.checksum != entry.Checksum {
		s.discard()
		return fmt.Errorf("%w: backup %s checksum mismatch", sg.ErrIntegrity, entry.BackupPath)
	}
	if err := w.replace(s.path, entry.OriginalPath); err != nil {
		s.discard()
		return err
	}
	return nil
}

// Tx is the sg.TxScope handed to an InTransaction callback.
type Tx struct {
	w  *Writer
	id string
}

var _ sg.TxScope = (*Tx)(nil)

func (t *Tx) ID() string { return t.id }

func (t *Tx) Record(path string, backup *sg.BackupEntry) error {
	return t.w.Record(t.id, path, backup)
}

// Write writes doc inside the transaction.
func (t *Tx) Write(path string, doc *document.Value, opts sg.WriteOptions) error {
	_, err := t.w.WriteInTx(t.id, path, doc, opts)
	return err
}

// InTransaction runs fn inside a new transaction. It commits when fn returns
// nil. When fn returns an error every recorded path is put back and the
// error comes back wrapped in a *sg.RollbackError. A panic rolls back the
// same way and is re-raised.
func (w *Writer) InTransaction(label string, fn func(sg.TxScope) error) error {
	id := w.Begin(label)

	settled := false
	defer func() {
		if settled {
			return
		}
		if p := recover(); p != nil {
			if err := w.Rollback(id); err != nil {
				w.logger.Error("rollback after panic incomplete", "tx", id, "error", err)
			}
			panic(p)
		}
	}()

	if err := fn(&Tx{w: w, id: id}); err != nil {
		settled = true
		return &sg.RollbackError{Label: label, Cause: err, Incomplete: w.Rollback(id)}
	}

	settled = true
	return w.Commit(id)
}
