// Package atomicfile replaces files so that readers only ever observe the
// old content or the new content. Every publish goes through a temp file in
// the destination directory that is flushed to disk before it is renamed
// over the destination.
package atomicfile

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"sg-go/internal/sg"
)

const (
	dirPerm  os.FileMode = 0o755
	filePerm os.FileMode = 0o644
)

// StampLayout formats timestamps used in backup directory names. The
// millisecond separator is rewritten to '_' by Stamp.
const StampLayout = "20060102_150405.000"

// Stamp renders t as 20060102_150405_000.
func Stamp(t time.Time) string {
	return strings.Replace(t.Format(StampLayout), ".", "_", 1)
}

// ParseStamp is the inverse of Stamp, in local time.
func ParseStamp(s string) (time.Time, error) {
	if len(s) != len(StampLayout) {
		return time.Time{}, fmt.Errorf("invalid stamp %q", s)
	}
	return time.ParseInLocation(StampLayout, s[:15]+"."+s[16:], time.Local)
}

// SafeName reduces s to characters that are safe in a file name on every
// platform. Runs of other characters collapse to a single '_'.
func SafeName(s string) string {
	var b strings.Builder
	lastUnderscore := false
	for _, r := range s {
		ok := r == '-' || r == '.' || r == '_' ||
			(r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')
		if ok {
			b.WriteRune(r)
			lastUnderscore = r == '_'
			continue
		}
		if !lastUnderscore {
			b.WriteByte('_')
			lastUnderscore = true
		}
	}
	out := strings.Trim(b.String(), "_.")
	if out == "" {
		return "unnamed"
	}
	return out
}

// MakeUniqueDir creates parent/base, or parent/base_2, parent/base_3 and so
// on when the name is taken, and returns the directory created.
func MakeUniqueDir(parent, base string) (string, error) {
	if err := os.MkdirAll(parent, dirPerm); err != nil {
		return "", fmt.Errorf("creating %s: %w", parent, err)
	}
	for n := 1; n < 10000; n++ {
		name := base
		if n > 1 {
			name = base + "_" + strconv.Itoa(n)
		}
		dir := filepath.Join(parent, name)
		err := os.Mkdir(dir, dirPerm)
		if err == nil {
			return dir, nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return "", fmt.Errorf("creating %s: %w", dir, err)
		}
	}
	return "", fmt.Errorf("no free directory name for %s in %s", base, parent)
}

// UniqueName returns name, or name with a numeric suffix before the
// extension, such that it is not in taken. The result is added to taken.
func UniqueName(name string, taken map[string]bool) string {
	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	candidate := name
	for n := 2; taken[candidate]; n++ {
		candidate = fmt.Sprintf("%s_%d%s", stem, n, ext)
	}
	taken[candidate] = true
	return candidate
}

// staged is a fully written, flushed and closed temp file.
type staged struct {
	path     string
	size     int64
	checksum string
}

// stage copies r into a new temp file next to dst. On error nothing is left
// behind.
func stage(dst string, r io.Reader) (*staged, error) {
	dir := filepath.Dir(dst)
	if err := os.MkdirAll(dir, dirPerm); err != nil {
		return nil, &ioErr{op: "create directory", path: dir, err: err}
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(dst)+".*.tmp")
	if err != nil {
		return nil, &ioErr{op: "create temp file", path: dst, err: err}
	}
	tmpPath := tmp.Name()

	success := false
	defer func() {
		if !success {
			tmp.Close()
			os.Remove(tmpPath)
		}
	}()

	h := sha256.New()
	n, err := io.Copy(io.MultiWriter(tmp, h), r)
	if err != nil {
		return nil, &ioErr{op: "write temp file", path: dst, err: err}
	}
	if err := tmp.Sync(); err != nil {
		return nil, &ioErr{op: "sync temp file", path: dst, err: err}
	}
	if err := tmp.Close(); err != nil {
		return nil, &ioErr{op: "close temp file", path: dst, err: err}
	}
	if err := os.Chmod(tmpPath, filePerm); err != nil {
		return nil, &ioErr{op: "chmod temp file", path: dst, err: err}
	}

	success = true
	return &staged{path: tmpPath, size: n, checksum: hex.EncodeToString(h.Sum(nil))}, nil
}

// discard removes the temp file.
func (s *staged) discard() { os.Remove(s.path) }

// ioErr is the package-internal form of a failed step before the
// destination is touched; the Writer converts it to *sg.IOError.
type ioErr struct {
	op   string
	path string
	err  error
}

func (e *ioErr) Error() string { return fmt.Sprintf("%s %s: %v", e.op, e.path, e.err) }
func (e *ioErr) Unwrap() error { return e.err }

// WriteFile atomically replaces path with data using a plain rename.
func WriteFile(path string, data []byte) error {
	s, err := stage(path, bytes.NewReader(data))
	if err != nil {
		return err
	}
	if err := os.Rename(s.path, path); err != nil {
		s.discard()
		return fmt.Errorf("renaming into %s: %w", path, err)
	}
	syncDir(filepath.Dir(path))
	return nil
}

// CopyFile atomically copies src to dst and returns the size and hex SHA-256
// of the bytes copied.
func CopyFile(src, dst string) (int64, string, error) {
	f, err := os.Open(src)
	if err != nil {
		return 0, "", err
	}
	defer f.Close()
	return WriteFrom(dst, f, -1, "")
}

// WriteFrom atomically replaces dst with everything read from r. When
// wantSize is not negative or wantSum is not empty, the staged copy must
// match them or dst is left untouched and an error wrapping ErrMismatch is
// returned.
func WriteFrom(dst string, r io.Reader, wantSize int64, wantSum string) (int64, string, error) {
	s, err := stage(dst, r)
	if err != nil {
		return 0, "", err
	}
	if wantSize >= 0 && s.size != wantSize {
		s.discard()
		return 0, "", fmt.Errorf("%w: %s has %d bytes, expected %d", ErrMismatch, dst, s.size, wantSize)
	}
	if wantSum != "" && s.checksum != wantSum {
		s.discard()
		return 0, "", fmt.Errorf("%w: %s checksum %s, expected %s", ErrMismatch, dst, short(s.checksum), short(wantSum))
	}
	if err := os.Rename(s.path, dst); err != nil {
		s.discard()
		return 0, "", fmt.Errorf("renaming into %s: %w", dst, err)
	}
	syncDir(filepath.Dir(dst))
	return s.size, s.checksum, nil
}

// ErrMismatch reports a copy whose size or checksum differs from what was
// recorded.
var ErrMismatch = fmt.Errorf("%w: content mismatch", sg.ErrIntegrity)

func short(sum string) string {
	if len(sum) > 12 {
		return sum[:12]
	}
	return sum
}

// Checksum returns the size and hex SHA-256 of the file at path.
func Checksum(path string) (int64, string, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, "", err
	}
	defer f.Close()

	h := sha256.New()
	n, err := io.Copy(h, f)
	if err != nil {
		return 0, "", err
	}
	return n, hex.EncodeToString(h.Sum(nil)), nil
}

// syncDir flushes directory metadata so a completed rename survives a crash.
// Not every platform supports it; failures are ignored.
func syncDir(dir string) {
	d, err := os.Open(dir)
	if err != nil {
		return
	}
	d.Sync()
	d.Close()
}
