package atomicfile

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"sync"

	"sg-go/internal/document"
	"sg-go/internal/sg"
	"sg-go/internal/validate"
)

// Writer publishes documents atomically, optionally validating them and
// backing up the file they replace. It also tracks transactions so a group
// of writes can be undone. It is safe for concurrent use.
type Writer struct {
	backupDir string
	validator sg.Validator
	clock     sg.Clock
	ids       sg.IDGenerator
	logger    sg.Logger

	// rename is os.Rename outside of tests.
	rename  func(oldpath, newpath string) error
	replace func(tmp, dst string) error

	mu     sync.Mutex
	txs    map[string]*sg.Transaction // open transactions
	closed []*sg.Transaction          // the last closedMemory settled ones
}

// closedMemory bounds how many settled transactions stay inspectable.
const closedMemory = 16

var _ sg.AtomicWriter = (*Writer)(nil)

// Option configures a Writer.
type Option func(*Writer)

// WithSidecarSwap publishes through a three-step swap with a ".old" sidecar
// instead of a single rename. It is the default on Windows, where rename
// does not replace an existing file.
func WithSidecarSwap() Option {
	return func(w *Writer) { w.replace = w.sidecarReplace }
}

// NewWriter returns a writer that keeps single-write backups under
// backupDir. A nil validator disables validation.
func NewWriter(backupDir string, validator sg.Validator, clock sg.Clock, ids sg.IDGenerator, logger sg.Logger, opts ...Option) *Writer {
	w := &Writer{
		backupDir: backupDir,
		validator: validator,
		clock:     clock,
		ids:       ids,
		logger:    logger,
		rename:    os.Rename,
		txs:       make(map[string]*sg.Transaction),
	}
	w.replace = w.renameReplace
	if runtime.GOOS == "windows" {
		w.replace = w.sidecarReplace
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Write validates doc (when asked), backs up the current file at path (when
// asked) and atomically replaces path with the serialized document.
//
// On a validation or backup failure the destination is untouched. On an I/O
// failure the returned *sg.IOError tells whether the destination changed.
func (w *Writer) Write(path string, doc *document.Value, label string, opts sg.WriteOptions) (*sg.BackupEntry, error) {
	return w.write("", path, doc, label, opts)
}

func (w *Writer) write(txID, path string, doc *document.Value, label string, opts sg.WriteOptions) (*sg.BackupEntry, error) {
	if opts.Validate {
		if err := w.check(path, doc, opts.Kind); err != nil {
			return nil, err
		}
	}

	data, err := doc.MarshalIndent()
	if err != nil {
		return nil, fmt.Errorf("serializing %s: %w", path, err)
	}

	if _, err := w.Reclaim(path); err != nil {
		return nil, err
	}

	var backup *sg.BackupEntry
	if opts.Backup {
		backup, err = w.backup(path, label)
		if err != nil {
			w.logger.Error("pre-write backup failed", "path", path, "error", err)
			return nil, fmt.Errorf("%w: %s: %w", sg.ErrBackup, path, err)
		}
	}

	if txID != "" {
		if err := w.Record(txID, path, backup); err != nil {
			return backup, err
		}
	}

	if err := w.publish(path, data, doc.Kind()); err != nil {
		w.logger.Error("atomic write failed", "path", path, "error", err)
		return backup, err
	}

	w.logger.Debug("wrote document", "path", path, "bytes", len(data), "backup", backup != nil)
	return backup, nil
}

func (w *Writer) check(path string, doc *document.Value, kind validate.Kind) error {
	if w.validator == nil {
		return nil
	}
	if kind == validate.KindUnknown {
		kind = validate.KindForPath(path)
	}
	if kind == validate.KindUnknown {
		return nil
	}

	res := w.validator.Validate(doc, kind)
	for _, issue := range res.Warnings() {
		w.logger.Warn("validation warning", "path", path, "at", issue.Path, "issue", issue.Message)
	}
	if !res.Valid {
		w.logger.Warn("write refused by validation", "path", path, "errors", len(res.Errors()))
		return &sg.ValidationError{Path: path, Result: res}
	}
	return nil
}

// backup copies the current file at path into a fresh directory under the
// backup root. It returns nil when there is nothing to back up.
func (w *Writer) backup(path, label string) (*sg.BackupEntry, error) {
	info, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	dir, err := MakeUniqueDir(w.backupDir, Stamp(w.clock.Now())+"_"+SafeName(label))
	if err != nil {
		return nil, err
	}
	dst := filepath.Join(dir, filepath.Base(path))
	size, sum, err := CopyFile(path, dst)
	if err != nil {
		return nil, err
	}
	if size != info.Size() {
		return nil, fmt.Errorf("%w: backup of %s has %d bytes, expected %d", sg.ErrIntegrity, path, size, info.Size())
	}

	w.logger.Debug("backed up file", "path", path, "backup", dst)
	return &sg.BackupEntry{OriginalPath: path, BackupPath: dst, SizeBytes: size, Checksum: sum}, nil
}

// publish stages data next to path, confirms the staged copy reads back as
// the same kind of document and moves it into place.
func (w *Writer) publish(path string, data []byte, want document.Kind) error {
	s, err := stage(path, bytes.NewReader(data))
	if err != nil {
		return unchanged(path, err)
	}

	if err := verifyStaged(s, int64(len(data)), want); err != nil {
		s.discard()
		return &sg.IOError{Op: "verify temp file", Path: path, Err: err}
	}

	if err := w.replace(s.path, path); err != nil {
		s.discard()
		return err
	}
	syncDir(filepath.Dir(path))
	return nil
}

func verifyStaged(s *staged, wantSize int64, want document.Kind) error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return err
	}
	if int64(len(data)) != wantSize {
		return fmt.Errorf("%w: wrote %d bytes, read back %d", sg.ErrIntegrity, wantSize, len(data))
	}
	parsed, err := document.Parse(data)
	if err != nil {
		return fmt.Errorf("%w: %w", sg.ErrIntegrity, err)
	}
	if parsed.Kind() != want {
		return fmt.Errorf("%w: read back a %s, expected a %s", sg.ErrIntegrity, parsed.Kind(), want)
	}
	return nil
}

func unchanged(path string, err error) error {
	var ie *ioErr
	if errors.As(err, &ie) {
		return &sg.IOError{Op: ie.op, Path: path, Err: ie.err}
	}
	return &sg.IOError{Op: "write", Path: path, Err: err}
}

func (w *Writer) renameReplace(tmp, dst string) error {
	if err := w.rename(tmp, dst); err != nil {
		return &sg.IOError{Op: "rename temp file", Path: dst, Err: err}
	}
	return nil
}

// sidecarReplace moves the destination to dst.old, moves the temp file into
// place and then deletes the sidecar. Between the first two renames the
// destination does not exist; if the second rename fails the sidecar is
// moved back.
func (w *Writer) sidecarReplace(tmp, dst string) error {
	if _, err := w.Reclaim(dst); err != nil {
		return err
	}
	// With dst in place, a sidecar is left over from a finished swap.
	old := dst + ".old"
	if err := os.Remove(old); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return &sg.IOError{Op: "remove stale sidecar", Path: old, Err: err}
	}

	hadOld := false
	if _, err := os.Stat(dst); err == nil {
		if err := w.rename(dst, old); err != nil {
			return &sg.IOError{Op: "move destination aside", Path: dst, Err: err}
		}
		hadOld = true
	}

	if err := w.rename(tmp, dst); err != nil {
		if !hadOld {
			return &sg.IOError{Op: "rename temp file", Path: dst, Err: err}
		}
		if rerr := w.rename(old, dst); rerr != nil {
			return &sg.IOError{Op: "restore destination", Path: dst, Changed: true, Err: errors.Join(err, rerr)}
		}
		return &sg.IOError{Op: "rename temp file", Path: dst, Err: err}
	}

	if hadOld {
		if err := os.Remove(old); err != nil {
			w.logger.Warn("could not remove sidecar", "path", old, "error", err)
		}
	}
	return nil
}

// Reclaim moves path.old back to path when path is missing. A sidecar
// swap interrupted between its two renames leaves exactly that state, and
// the sidecar is then the only copy of the document.
func (w *Writer) Reclaim(path string) (bool, error) {
	if _, err := os.Lstat(path); err == nil {
		return false, nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return false, &sg.IOError{Op: "stat destination", Path: path, Err: err}
	}
	old := path + ".old"
	if _, err := os.Stat(old); errors.Is(err, fs.ErrNotExist) {
		return false, nil
	} else if err != nil {
		return false, &sg.IOError{Op: "stat sidecar", Path: old, Err: err}
	}

	if err := w.rename(old, path); err != nil {
		return false, &sg.IOError{Op: "reclaim sidecar", Path: path, Err: err}
	}
	syncDir(filepath.Dir(path))
	w.logger.Warn("reclaimed document left by an interrupted swap", "path", path, "sidecar", old)
	return true, nil
}
