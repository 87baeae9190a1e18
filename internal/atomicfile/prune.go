package atomicfile

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"time"
)

type writeBackup struct {
	dir   string
	taken time.Time
}

// PruneBackups removes single-write backup directories older than keepDays,
// always keeping the newest keepMinimum. Backups that an open transaction
// may still roll back to are kept. A negative keepDays disables pruning.
func (w *Writer) PruneBackups(keepDays, keepMinimum int) (int, error) {
	if keepDays < 0 {
		return 0, nil
	}
	dirents, err := os.ReadDir(w.backupDir)
	if errors.Is(err, fs.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("listing write backups: %w", err)
	}

	var all []writeBackup
	for _, d := range dirents {
		if !d.IsDir() {
			continue
		}
		taken, ok := backupTime(d)
		if !ok {
			continue
		}
		all = append(all, writeBackup{dir: filepath.Join(w.backupDir, d.Name()), taken: taken})
	}
	sort.SliceStable(all, func(i, j int) bool { return all[i].taken.After(all[j].taken) })

	inUse := w.referencedBackups()
	cutoff := w.clock.Now().Add(-time.Duration(keepDays) * 24 * time.Hour)
	removed := 0
	var errs []error
	for i, b := range all {
		if i < keepMinimum || b.taken.After(cutoff) || inUse[b.dir] {
			continue
		}
		if err := os.RemoveAll(b.dir); err != nil {
			errs = append(errs, fmt.Errorf("removing %s: %w", b.dir, err))
			continue
		}
		removed++
		w.logger.Debug("removed expired write backup", "dir", b.dir)
	}
	if removed > 0 {
		w.logger.Info("pruned write backups", "removed", removed, "kept", len(all)-removed)
	}
	return removed, errors.Join(errs...)
}

// backupTime reads the stamp a backup directory name starts with, falling
// back to the directory's modification time.
func backupTime(d fs.DirEntry) (time.Time, bool) {
	name := d.Name()
	if len(name) >= len(StampLayout) {
		if t, err := ParseStamp(name[:len(StampLayout)]); err == nil {
			return t, true
		}
	}
	info, err := d.Info()
	if err != nil {
		return time.Time{}, false
	}
	return info.ModTime(), true
}

func (w *Writer) referencedBackups() map[string]bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	dirs := make(map[string]bool)
	for _, tx := range w.txs {
		for _, rec := range tx.Records {
			if rec.Backup != nil {
				dirs[filepath.Dir(rec.Backup.BackupPath)] = true
			}
		}
	}
	return dirs
}
