package fs

import (
	"os"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"sg-go/internal/sg"
)

func touch(t *testing.T, path string, mod time.Time) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.Chtimes(path, mod, mod); err != nil {
		t.Fatal(err)
	}
}

func TestSweeper_Sweep(t *testing.T) {
	root := t.TempDir()
	now := time.Now()
	old := now.Add(-48 * time.Hour)

	staleTemp := filepath.Join(root, ".trainer.json.123.tmp")
	freshTemp := filepath.Join(root, ".slot 1.json.456.tmp")
	nestedTemp := filepath.Join(root, "backups", "operations", "x", ".trainer.json.9.tmp")
	sidecar := filepath.Join(root, "trainer.json.old")
	orphanSidecar := filepath.Join(root, "slot 2.json.old")
	rollback := filepath.Join(root, "trainer.json.rollback_old")
	doc := filepath.Join(root, "trainer.json")
	plainTmp := filepath.Join(root, "notes.tmp")

	touch(t, doc, old)
	touch(t, staleTemp, old)
	touch(t, freshTemp, now)
	touch(t, nestedTemp, old)
	touch(t, sidecar, old)
	touch(t, orphanSidecar, old)
	touch(t, rollback, old)
	touch(t, plainTmp, old)

	removed, err := NewSweeper(sg.NewNopLogger()).Sweep(root, now.Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("Sweep() error = %v", err)
	}

	sort.Strings(removed)
	want := []string{staleTemp, nestedTemp, sidecar, rollback}
	sort.Strings(want)
	if len(removed) != len(want) {
		t.Fatalf("Sweep() removed %v, want %v", removed, want)
	}
	for i := range want {
		if removed[i] != want[i] {
			t.Errorf("removed[%d] = %s, want %s", i, removed[i], want[i])
		}
	}

	for _, kept := range []string{doc, freshTemp, orphanSidecar, plainTmp} {
		if _, err := os.Stat(kept); err != nil {
			t.Errorf("%s should have been kept: %v", filepath.Base(kept), err)
		}
	}
}

func TestSweeper_MissingRoot(t *testing.T) {
	removed, err := NewSweeper(sg.NewNopLogger()).Sweep(filepath.Join(t.TempDir(), "missing"), time.Now())
	if err != nil {
		t.Fatalf("Sweep() error = %v", err)
	}
	if len(removed) != 0 {
		t.Errorf("Sweep() removed %v from missing root", removed)
	}
}
