package sg

import (
	"fmt"
	"path/filepath"
	"strings"
	"unicode"

	"sg-go/internal/validate"
)

// MaxSlots is the number of run slots per account.
const MaxSlots = 5

// Layout resolves where one user's documents and backups live:
//
//	<saves>/<user>/
//	  trainer.json
//	  slot 1.json ... slot 5.json
//	  backups/
//	    operations/<timestamp>_<operation>/   (snapshots)
//	    writes/<timestamp>_<label>/           (single-write backups)
type Layout struct {
	savesDir string
	username string
}

// NewLayout returns the layout for username under savesDir. The username is
// sanitized before it is used as a directory name.
func NewLayout(savesDir, username string) Layout {
	return Layout{savesDir: savesDir, username: SanitizeUsername(username)}
}

// SanitizeUsername keeps letters, digits, '_' and '-', dropping everything
// else. An empty result becomes "user".
func SanitizeUsername(name string) string {
	var b strings.Builder
	for _, r := range name {
		if r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' || r == '-') {
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 {
		return "user"
	}
	return b.String()
}

func (l Layout) Username() string { return l.username }

func (l Layout) UserDir() string { return filepath.Join(l.savesDir, l.username) }

func (l Layout) TrainerPath() string { return filepath.Join(l.UserDir(), "trainer.json") }

// SlotPath returns the path of run slot n, which must be in 1..MaxSlots.
func (l Layout) SlotPath(n int) (string, error) {
	if n < 1 || n > MaxSlots {
		return "", fmt.Errorf("slot %d out of range 1..%d", n, MaxSlots)
	}
	return filepath.Join(l.UserDir(), fmt.Sprintf("slot %d.json", n)), nil
}

// DocumentPaths lists the trainer file followed by every slot file, whether
// or not they exist.
func (l Layout) DocumentPaths() []string {
	paths := []string{l.TrainerPath()}
	for n := 1; n <= MaxSlots; n++ {
		p, _ := l.SlotPath(n)
		paths = append(paths, p)
	}
	return paths
}

func (l Layout) BackupRoot() string     { return filepath.Join(l.UserDir(), "backups") }
func (l Layout) SnapshotDir() string    { return filepath.Join(l.BackupRoot(), "operations") }
func (l Layout) WriteBackupDir() string { return filepath.Join(l.BackupRoot(), "writes") }

// KindOf returns the document kind stored at path.
func (l Layout) KindOf(path string) validate.Kind {
	return validate.KindForPath(path)
}
