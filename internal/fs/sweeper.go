package fs

import (
	"errors"
	iofs "io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"sg-go/internal/sg"
)

// staleSidecars are suffixes of files left next to a document by an
// interrupted swap.
var staleSidecars = []string{".old", ".rollback_old"}

// Sweeper deletes artifacts of interrupted atomic writes: staged ".*.tmp"
// files and swap sidecars. A sidecar is only removed when the document it
// belongs to exists, since after a crash mid-swap it may be the only copy.
type Sweeper struct {
	temps  *Filter
	logger sg.Logger
}

func NewSweeper(logger sg.Logger) *Sweeper {
	return &Sweeper{temps: NewFilter([]string{".*.tmp"}), logger: logger}
}

// Sweep removes stale artifacts under root last modified before cutoff and
// returns their paths. A missing root is not an error.
func (s *Sweeper) Sweep(root string, cutoff time.Time) ([]string, error) {
	var removed []string
	err := filepath.WalkDir(root, func(p string, d iofs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, iofs.ErrNotExist) {
				return nil
			}
			return err
		}
		if d.IsDir() || !s.stale(p) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		if !info.ModTime().Before(cutoff) {
			return nil
		}
		if err := os.Remove(p); err != nil {
			s.logger.Warn("could not remove stale file", "path", p, "error", err)
			return nil
		}
		s.logger.Info("removed stale file", "path", p, "age", time.Since(info.ModTime()).Round(time.Second))
		removed = append(removed, p)
		return nil
	})
	return removed, err
}

func (s *Sweeper) stale(p string) bool {
	if s.temps.Ignored(filepath.Base(p)) {
		return true
	}
	for _, suffix := range staleSidecars {
		if doc, ok := strings.CutSuffix(p, suffix); ok {
			_, err := os.Stat(doc)
			return err == nil
		}
	}
	return false
}

var _ sg.Sweeper = (*Sweeper)(nil)
