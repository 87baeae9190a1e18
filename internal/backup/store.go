// Package backup keeps multi-file snapshots of save documents on local disk.
//
// Each snapshot is a directory named <timestamp>_<operation> holding the
// copied files, an entries manifest and metadata.json. The metadata file is
// written last, so a directory without it is an interrupted snapshot and is
// never listed.
package backup

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"sg-go/internal/atomicfile"
	"sg-go/internal/document"
	"sg-go/internal/sg"
)

const (
	metadataFile = "metadata.json"
	manifestFile = "entries.json"
)

// manifestEntry is how an entry is stored on disk. File is relative to the
// snapshot directory so snapshots can be moved with their parent.
type manifestEntry struct {
	OriginalPath string `json:"original_path"`
	File         string `json:"file"`
	SizeBytes    int64  `json:"size_bytes"`
	Checksum     string `json:"checksum"`
	Unparsable   bool   `json:"unparsable,omitempty"`
}

// Store is a sg.BackupStore rooted at one directory.
type Store struct {
	root   string
	owner  string
	clock  sg.Clock
	logger sg.Logger
}

var _ sg.BackupStore = (*Store)(nil)

// NewStore returns a store that keeps snapshots under root on behalf of
// owner.
func NewStore(root, owner string, clock sg.Clock, logger sg.Logger) *Store {
	return &Store{root: root, owner: owner, clock: clock, logger: logger}
}

// Root returns the directory holding the snapshots.
func (s *Store) Root() string { return s.root }

// Snapshot copies every existing file in files into a new snapshot. The
// snapshot is only visible once all copies and the metadata are on disk.
func (s *Store) Snapshot(operationType, description string, files []string, session map[string]string) (string, error) {
	now := s.clock.Now()
	dir, err := atomicfile.MakeUniqueDir(s.root, atomicfile.Stamp(now)+"_"+atomicfile.SafeName(operationType))
	if err != nil {
		return "", fmt.Errorf("%w: %w", sg.ErrBackup, err)
	}
	id := filepath.Base(dir)

	success := false
	defer func() {
		if !success {
			if err := os.RemoveAll(dir); err != nil {
				s.logger.Warn("could not remove incomplete snapshot", "snapshot", id, "error", err)
			}
		}
	}()

	taken := map[string]bool{metadataFile: true, manifestFile: true}
	var entries []manifestEntry
	for _, path := range files {
		info, err := os.Stat(path)
		if errors.Is(err, fs.ErrNotExist) {
			s.logger.Debug("skipping missing file", "snapshot", id, "path", path)
			continue
		}
		if err != nil {
			return "", fmt.Errorf("%w: %s: %w", sg.ErrBackup, path, err)
		}

		name := atomicfile.UniqueName(filepath.Base(path), taken)
		size, sum, err := atomicfile.CopyFile(path, filepath.Join(dir, name))
		if err != nil {
			return "", fmt.Errorf("%w: copying %s: %w", sg.ErrBackup, path, err)
		}
		if size != info.Size() {
			return "", fmt.Errorf("%w: %w: copy of %s has %d bytes, expected %d",
				sg.ErrBackup, sg.ErrIntegrity, path, size, info.Size())
		}
		entries = append(entries, manifestEntry{
			OriginalPath: path,
			File:         name,
			SizeBytes:    size,
			Checksum:     sum,
			Unparsable:   !s.parses(id, filepath.Join(dir, name)),
		})
	}

	meta := &sg.BackupMetadata{
		ID:            id,
		Timestamp:     now,
		OperationType: operationType,
		Description:   description,
		Files:         make([]string, 0, len(entries)),
		Owner:         s.owner,
		Session:       session,
	}
	for _, e := range entries {
		meta.Files = append(meta.Files, e.OriginalPath)
		meta.TotalSize += e.SizeBytes
	}

	if err := s.commit(dir, meta, entries); err != nil {
		return "", fmt.Errorf("%w: %w", sg.ErrBackup, err)
	}

	success = true
	s.logger.Info("snapshot created", "snapshot", id, "operation", operationType, "files", len(entries), "bytes", meta.TotalSize)
	return id, nil
}

// commit writes the manifest and then the metadata.
func (s *Store) commit(dir string, meta *sg.BackupMetadata, entries []manifestEntry) error {
	if entries == nil {
		entries = []manifestEntry{}
	}
	manifest, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return err
	}
	if err := atomicfile.WriteFile(filepath.Join(dir, manifestFile), manifest); err != nil {
		return err
	}

	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return err
	}
	return atomicfile.WriteFile(filepath.Join(dir, metadataFile), data)
}

// List returns the metadata of every complete snapshot matching filter,
// newest first.
func (s *Store) List(filter sg.ListFilter) ([]*sg.BackupMetadata, error) {
	dirents, err := os.ReadDir(s.root)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("listing snapshots: %w", err)
	}

	var out []*sg.BackupMetadata
	for _, d := range dirents {
		if !d.IsDir() {
			continue
		}
		meta, err := s.readMetadata(d.Name())
		if err != nil {
			s.logger.Debug("skipping snapshot without readable metadata", "snapshot", d.Name(), "error", err)
			continue
		}
		if filter.OperationType != "" && meta.OperationType != filter.OperationType {
			continue
		}
		if !filter.Since.IsZero() && meta.Timestamp.Before(filter.Since) {
			continue
		}
		out = append(out, meta)
	}

	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].Timestamp.After(out[j].Timestamp)
		}
		return out[i].ID > out[j].ID
	})
	return out, nil
}

// Details returns a snapshot's metadata and its entries with absolute
// backup paths.
func (s *Store) Details(id string) (*sg.BackupMetadata, []*sg.BackupEntry, error) {
	meta, err := s.readMetadata(id)
	if err != nil {
		return nil, nil, err
	}
	manifest, err := s.readManifest(id)
	if err != nil {
		return nil, nil, err
	}

	entries := make([]*sg.BackupEntry, len(manifest))
	for i, m := range manifest {
		entries[i] = &sg.BackupEntry{
			OriginalPath: m.OriginalPath,
			BackupPath:   filepath.Join(s.root, id, m.File),
			SizeBytes:    m.SizeBytes,
			Checksum:     m.Checksum,
			Unparsable:   m.Unparsable,
		}
	}
	return meta, entries, nil
}

func (s *Store) snapshotDir(id string) (string, error) {
	if id == "" || id == "." || id == ".." || strings.ContainsAny(id, `/\`) {
		return "", fmt.Errorf("%w: snapshot %q", sg.ErrNotFound, id)
	}
	return filepath.Join(s.root, id), nil
}

func (s *Store) readMetadata(id string) (*sg.BackupMetadata, error) {
	dir, err := s.snapshotDir(id)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(filepath.Join(dir, metadataFile))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: snapshot %s", sg.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("reading metadata of %s: %w", id, err)
	}

	var meta sg.BackupMetadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("%w: metadata of %s: %w", sg.ErrIntegrity, id, err)
	}
	meta.ID = id
	return &meta, nil
}

func (s *Store) readManifest(id string) ([]manifestEntry, error) {
	dir, err := s.snapshotDir(id)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(filepath.Join(dir, manifestFile))
	if err != nil {
		return nil, fmt.Errorf("reading entries of %s: %w", id, err)
	}
	var entries []manifestEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("%w: entries of %s: %w", sg.ErrIntegrity, id, err)
	}
	return entries, nil
}

// Restore copies a snapshot's entries back over their original paths. With
// a non-empty files list only those originals are restored. Each copy is
// checked against the recorded size and checksum before it replaces the
// live file. Failed files are reported together; the rest are restored.
func (s *Store) Restore(id string, files []string) error {
	_, entries, err := s.Details(id)
	if err != nil {
		return err
	}

	selected := entries
	var failures []sg.FileFailure
	if len(files) > 0 {
		byPath := make(map[string]*sg.BackupEntry, len(entries))
		for _, e := range entries {
			byPath[e.OriginalPath] = e
		}
		selected = nil
		for _, f := range files {
			e, ok := byPath[f]
			if !ok {
				failures = append(failures, sg.FileFailure{Path: f, Err: fmt.Errorf("%w: %s is not in snapshot %s", sg.ErrNotFound, f, id)})
				continue
			}
			selected = append(selected, e)
		}
	}

	for _, e := range selected {
		if err := restoreEntry(e); err != nil {
			s.logger.Error("restore failed", "snapshot", id, "path", e.OriginalPath, "error", err)
			failures = append(failures, sg.FileFailure{Path: e.OriginalPath, Err: err})
			continue
		}
		s.logger.Info("restored file", "snapshot", id, "path", e.OriginalPath)
	}

	if len(failures) > 0 {
		return &sg.RestoreError{Op: "restore " + id, Failures: failures}
	}
	return nil
}

func restoreEntry(e *sg.BackupEntry) error {
	f, err := os.Open(e.BackupPath)
	if err != nil {
		return err
	}
	defer f.Close()
	_, _, err = atomicfile.WriteFrom(e.OriginalPath, f, e.SizeBytes, e.Checksum)
	return err
}

// parses reports whether the copy at path is a valid document. Corrupted
// files are still captured; the manifest records that they were.
func (s *Store) parses(id, path string) bool {
	if _, err := document.ReadFile(path); err != nil {
		s.logger.Warn("captured file is not a valid document", "snapshot", id, "path", path, "error", err)
		return false
	}
	return true
}

// Verify checks that a snapshot is complete and that every copy still has
// its recorded size and checksum. Copies that parsed when captured must
// still parse.
func (s *Store) Verify(id string) (bool, []string) {
	var problems []string

	dir, err := s.snapshotDir(id)
	if err != nil {
		return false, []string{err.Error()}
	}
	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		return false, []string{fmt.Sprintf("snapshot directory %s is missing", id)}
	}

	meta, entries, err := s.Details(id)
	if err != nil {
		return false, []string{err.Error()}
	}
	if len(meta.Files) != len(entries) {
		problems = append(problems, fmt.Sprintf("metadata lists %d files but the manifest has %d entries", len(meta.Files), len(entries)))
	}

	for _, e := range entries {
		size, sum, err := atomicfile.Checksum(e.BackupPath)
		if err != nil {
			problems = append(problems, fmt.Sprintf("%s: backup copy unreadable: %v", e.OriginalPath, err))
			continue
		}
		if size != e.SizeBytes {
			problems = append(problems, fmt.Sprintf("%s: size %d, expected %d", e.OriginalPath, size, e.SizeBytes))
			continue
		}
		if e.Checksum != "" && sum != e.Checksum {
			problems = append(problems, fmt.Sprintf("%s: checksum mismatch", e.OriginalPath))
			continue
		}
		if e.Unparsable {
			continue
		}
		if _, err := document.ReadFile(e.BackupPath); err != nil {
			problems = append(problems, fmt.Sprintf("%s: not a valid document: %v", e.OriginalPath, err))
		}
	}
	return len(problems) == 0, problems
}

// Cleanup removes snapshots older than keepDays while keeping the newest
// keepMinimum regardless of age. keepDays of zero treats every snapshot as
// expired; a negative keepDays disables cleanup. Interrupted snapshots older
// than the cutoff are removed as well but not counted.
func (s *Store) Cleanup(keepDays, keepMinimum int) (int, error) {
	if keepDays < 0 {
		return 0, nil
	}
	all, err := s.List(sg.ListFilter{})
	if err != nil {
		return 0, err
	}

	cutoff := s.clock.Now().Add(-time.Duration(keepDays) * 24 * time.Hour)
	removed := 0
	var errs []error
	for i, meta := range all {
		if i < keepMinimum || meta.Timestamp.After(cutoff) {
			continue
		}
		if err := os.RemoveAll(filepath.Join(s.root, meta.ID)); err != nil {
			errs = append(errs, fmt.Errorf("removing %s: %w", meta.ID, err))
			continue
		}
		removed++
		s.logger.Info("removed expired snapshot", "snapshot", meta.ID, "age", s.clock.Now().Sub(meta.Timestamp).Round(time.Minute))
	}

	s.sweepIncomplete(cutoff)
	return removed, errors.Join(errs...)
}

func (s *Store) sweepIncomplete(cutoff time.Time) {
	dirents, err := os.ReadDir(s.root)
	if err != nil {
		return
	}
	for _, d := range dirents {
		if !d.IsDir() {
			continue
		}
		if _, err := os.Stat(filepath.Join(s.root, d.Name(), metadataFile)); err == nil {
			continue
		}
		info, err := d.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		if err := os.RemoveAll(filepath.Join(s.root, d.Name())); err != nil {
			s.logger.Warn("could not remove incomplete snapshot", "snapshot", d.Name(), "error", err)
			continue
		}
		s.logger.Info("removed incomplete snapshot", "snapshot", d.Name())
	}
}

// Latest returns the newest snapshot, of operationType if it is not empty.
func (s *Store) Latest(operationType string) (*sg.BackupMetadata, error) {
	all, err := s.List(sg.ListFilter{OperationType: operationType})
	if err != nil {
		return nil, err
	}
	if len(all) == 0 {
		return nil, fmt.Errorf("%w: no snapshots", sg.ErrNotFound)
	}
	return all[0], nil
}

// Report aggregates snapshot counts and sizes per operation type.
func (s *Store) Report() (*sg.BackupReport, error) {
	all, err := s.List(sg.ListFilter{})
	if err != nil {
		return nil, err
	}

	r := &sg.BackupReport{ByOperation: map[string]*sg.OperationSummary{}}
	for _, meta := range all {
		r.TotalSnapshots++
		r.TotalSize += meta.TotalSize

		sum, ok := r.ByOperation[meta.OperationType]
		if !ok {
			sum = &sg.OperationSummary{}
			r.ByOperation[meta.OperationType] = sum
		}
		sum.Count++
		sum.TotalSize += meta.TotalSize
		if meta.Timestamp.After(sum.Latest) {
			sum.Latest = meta.Timestamp
		}
	}
	if len(all) > 0 {
		r.Latest = all[0]
	}
	return r, nil
}

// Import stores a snapshot described by meta whose file contents come from
// fetch. Each fetched copy must match its entry's size and checksum. The
// imported snapshot keeps the original timestamp and gets a fresh ID.
func (s *Store) Import(meta *sg.BackupMetadata, entries []*sg.BackupEntry, fetch sg.FetchFunc) (string, error) {
	dir, err := atomicfile.MakeUniqueDir(s.root, atomicfile.Stamp(meta.Timestamp)+"_"+atomicfile.SafeName(meta.OperationType))
	if err != nil {
		return "", err
	}
	id := filepath.Base(dir)

	success := false
	defer func() {
		if !success {
			os.RemoveAll(dir)
		}
	}()

	taken := map[string]bool{metadataFile: true, manifestFile: true}
	manifest := make([]manifestEntry, 0, len(entries))
	for _, e := range entries {
		var buf bytes.Buffer
		if err := fetch(e, &buf); err != nil {
			return "", fmt.Errorf("fetching %s: %w", e.OriginalPath, err)
		}
		name := atomicfile.UniqueName(filepath.Base(e.OriginalPath), taken)
		size, sum, err := atomicfile.WriteFrom(filepath.Join(dir, name), &buf, e.SizeBytes, e.Checksum)
		if err != nil {
			return "", fmt.Errorf("storing %s: %w", e.OriginalPath, err)
		}
		manifest = append(manifest, manifestEntry{
			OriginalPath: e.OriginalPath,
			File:         name,
			SizeBytes:    size,
			Checksum:     sum,
			Unparsable:   !s.parses(id, filepath.Join(dir, name)),
		})
	}

	imported := *meta
	imported.ID = id
	imported.Files = make([]string, 0, len(manifest))
	imported.TotalSize = 0
	for _, m := range manifest {
		imported.Files = append(imported.Files, m.OriginalPath)
		imported.TotalSize += m.SizeBytes
	}
	if imported.Owner == "" {
		imported.Owner = s.owner
	}

	if err := s.commit(dir, &imported, manifest); err != nil {
		return "", err
	}
	success = true
	s.logger.Info("snapshot imported", "snapshot", id, "source", meta.ID, "files", len(manifest))
	return id, nil
}
