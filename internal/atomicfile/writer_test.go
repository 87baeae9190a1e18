package atomicfile

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sg-go/internal/document"
	"sg-go/internal/sg"
	"sg-go/internal/testutil"
	"sg-go/internal/validate"
)

func newTestWriter(t *testing.T, opts ...Option) (*Writer, string) {
	t.Helper()
	dir := t.TempDir()
	v, err := validate.New(nil)
	require.NoError(t, err)
	w := NewWriter(filepath.Join(dir, "backups", "writes"), v, testutil.FixedClock(), testutil.NewSequence("tx"), sg.NewNopLogger(), opts...)
	return w, dir
}

func tempFiles(t *testing.T, dir string) []string {
	t.Helper()
	matches, err := filepath.Glob(filepath.Join(dir, "*.tmp"))
	require.NoError(t, err)
	old, err := filepath.Glob(filepath.Join(dir, "*.old"))
	require.NoError(t, err)
	return append(matches, old...)
}

var validated = sg.WriteOptions{Backup: true, Validate: true}

func TestWriteNewFile(t *testing.T) {
	w, dir := newTestWriter(t)
	path := filepath.Join(dir, "trainer.json")

	backup, err := w.Write(path, testutil.Trainer(t), "save", validated)
	require.NoError(t, err)
	assert.Nil(t, backup, "nothing to back up for a new file")

	assert.True(t, testutil.ReadDoc(t, path).Equal(testutil.Trainer(t)))
	assert.Empty(t, tempFiles(t, dir))
}

func TestWriteBacksUpExistingFile(t *testing.T) {
	w, dir := newTestWriter(t)
	path := filepath.Join(dir, "trainer.json")
	old := []byte(`{"gameStats": {"battles": 1}}`)
	testutil.WriteFile(t, path, old)

	backup, err := w.Write(path, testutil.Trainer(t), "save trainer", validated)
	require.NoError(t, err)
	require.NotNil(t, backup)

	assert.Equal(t, path, backup.OriginalPath)
	assert.Equal(t, int64(len(old)), backup.SizeBytes)
	assert.Equal(t, testutil.Checksum(old), backup.Checksum)
	assert.Equal(t, old, testutil.ReadFile(t, backup.BackupPath))
	assert.Equal(t, "20240115_103000_000_save_trainer", filepath.Base(filepath.Dir(backup.BackupPath)))
}

func TestWriteRefusesInvalidDocument(t *testing.T) {
	w, dir := newTestWriter(t)
	path := filepath.Join(dir, "slot 1.json")
	testutil.WriteDoc(t, path, testutil.Slot(t))
	before := testutil.ReadFile(t, path)

	doc := testutil.Slot(t)
	at, err := document.ParsePath("party[0].ivs[5]")
	require.NoError(t, err)
	require.NoError(t, doc.SetPath(at, document.Int(32)))

	_, err = w.Write(path, doc, "save", validated)
	require.Error(t, err)
	assert.ErrorIs(t, err, sg.ErrValidation)

	var verr *sg.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "party[0].ivs[5]", verr.Result.Errors()[0].Path)

	assert.Equal(t, before, testutil.ReadFile(t, path))
	assert.Empty(t, tempFiles(t, dir))
	assert.False(t, testutil.Exists(filepath.Join(dir, "backups")), "no backup taken for a refused write")
}

func TestWriteWithoutValidationAcceptsAnything(t *testing.T) {
	w, dir := newTestWriter(t)
	path := filepath.Join(dir, "slot 2.json")

	_, err := w.Write(path, document.Array(document.Int(1)), "raw", sg.WriteOptions{})
	require.NoError(t, err)
	assert.Equal(t, "[\n  1\n]", string(testutil.ReadFile(t, path)))
}

func TestWriteInterruptedBeforeRename(t *testing.T) {
	w, dir := newTestWriter(t)
	path := filepath.Join(dir, "trainer.json")
	testutil.WriteDoc(t, path, testutil.Trainer(t))
	before := testutil.ReadFile(t, path)

	w.rename = func(string, string) error { return errors.New("power loss") }

	doc := testutil.Trainer(t)
	doc.Set("trainerId", document.Int(1))
	_, err := w.Write(path, doc, "save", validated)
	require.Error(t, err)

	var ioe *sg.IOError
	require.ErrorAs(t, err, &ioe)
	assert.False(t, ioe.Changed)
	assert.Equal(t, before, testutil.ReadFile(t, path))
	assert.Empty(t, tempFiles(t, dir))
}

func TestSidecarSwap(t *testing.T) {
	t.Run("replaces existing file", func(t *testing.T) {
		w, dir := newTestWriter(t, WithSidecarSwap())
		path := filepath.Join(dir, "trainer.json")
		testutil.WriteFile(t, path, []byte(`{}`))

		_, err := w.Write(path, testutil.Trainer(t), "save", sg.WriteOptions{Validate: true})
		require.NoError(t, err)
		assert.True(t, testutil.ReadDoc(t, path).Equal(testutil.Trainer(t)))
		assert.Empty(t, tempFiles(t, dir))
	})

	t.Run("puts original back when the final rename fails", func(t *testing.T) {
		w, dir := newTestWriter(t, WithSidecarSwap())
		path := filepath.Join(dir, "trainer.json")
		testutil.WriteFile(t, path, []byte(`{"a": 1}`))

		calls := 0
		w.rename = func(oldpath, newpath string) error {
			calls++
			if calls == 2 {
				return errors.New("disk full")
			}
			return os.Rename(oldpath, newpath)
		}

		_, err := w.Write(path, testutil.Trainer(t), "save", sg.WriteOptions{})
		var ioe *sg.IOError
		require.ErrorAs(t, err, &ioe)
		assert.False(t, ioe.Changed)
		assert.Equal(t, `{"a": 1}`, string(testutil.ReadFile(t, path)))
		assert.Empty(t, tempFiles(t, dir))
	})

	t.Run("reports a modified destination when it cannot be put back", func(t *testing.T) {
		w, dir := newTestWriter(t, WithSidecarSwap())
		path := filepath.Join(dir, "trainer.json")
		testutil.WriteFile(t, path, []byte(`{"a": 1}`))

		calls := 0
		w.rename = func(oldpath, newpath string) error {
			calls++
			if calls >= 2 {
				return errors.New("disk gone")
			}
			return os.Rename(oldpath, newpath)
		}

		_, err := w.Write(path, testutil.Trainer(t), "save", sg.WriteOptions{})
		var ioe *sg.IOError
		require.ErrorAs(t, err, &ioe)
		assert.True(t, ioe.Changed)
		assert.Equal(t, `{"a": 1}`, string(testutil.ReadFile(t, path+".old")))
	})
}

func TestWriteReclaimsInterruptedSwap(t *testing.T) {
	w, dir := newTestWriter(t, WithSidecarSwap())
	path := filepath.Join(dir, "trainer.json")
	original := []byte(`{"gameStats": {"battles": 3}}`)
	testutil.WriteFile(t, path+".old", original)

	backup, err := w.Write(path, testutil.Trainer(t), "save", validated)
	require.NoError(t, err)
	require.NotNil(t, backup, "the reclaimed document is backed up before it is replaced")
	assert.Equal(t, original, testutil.ReadFile(t, backup.BackupPath))
	assert.True(t, testutil.ReadDoc(t, path).Equal(testutil.Trainer(t)))
	assert.False(t, testutil.Exists(path+".old"))
}

func TestReclaim(t *testing.T) {
	w, dir := newTestWriter(t)
	path := filepath.Join(dir, "slot 1.json")

	ok, err := w.Reclaim(path)
	require.NoError(t, err)
	assert.False(t, ok, "nothing to reclaim")

	testutil.WriteFile(t, path+".old", []byte(`{"money": 5}`))
	ok, err = w.Reclaim(path)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, `{"money": 5}`, string(testutil.ReadFile(t, path)))
	assert.False(t, testutil.Exists(path+".old"))

	// A sidecar next to a present document is stale and stays put.
	testutil.WriteFile(t, path+".old", []byte(`{"money": 1}`))
	ok, err = w.Reclaim(path)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, `{"money": 5}`, string(testutil.ReadFile(t, path)))
}

func TestPruneBackups(t *testing.T) {
	dir := t.TempDir()
	clock := testutil.FixedClock()
	backups := filepath.Join(dir, "backups", "writes")
	w := NewWriter(backups, nil, clock, testutil.NewSequence("tx"), sg.NewNopLogger())
	path := filepath.Join(dir, "slot 1.json")
	testutil.WriteDoc(t, path, testutil.Slot(t))

	id := w.Begin("held")
	held, err := w.WriteInTx(id, path, testutil.Slot(t), sg.WriteOptions{})
	require.NoError(t, err)
	require.NotNil(t, held)
	for i := 0; i < 3; i++ {
		clock.Advance(time.Hour)
		_, err := w.Write(path, testutil.Slot(t), "save", sg.WriteOptions{Backup: true})
		require.NoError(t, err)
	}

	removed, err := w.PruneBackups(30, 1)
	require.NoError(t, err)
	assert.Zero(t, removed, "nothing is old enough yet")

	clock.Advance(40 * 24 * time.Hour)
	removed, err = w.PruneBackups(-1, 0)
	require.NoError(t, err)
	assert.Zero(t, removed, "negative keep_days disables pruning")

	removed, err = w.PruneBackups(30, 1)
	require.NoError(t, err)
	assert.Equal(t, 2, removed, "newest kept as the minimum, the open transaction's backup kept too")

	dirents, err := os.ReadDir(backups)
	require.NoError(t, err)
	assert.Len(t, dirents, 2)
	assert.FileExists(t, held.BackupPath)

	require.NoError(t, w.Commit(id))
	removed, err = w.PruneBackups(30, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
	assert.NoFileExists(t, held.BackupPath)
}

func TestTransactionRollback(t *testing.T) {
	w, dir := newTestWriter(t)
	existing := filepath.Join(dir, "trainer.json")
	created := filepath.Join(dir, "slot 3.json")
	original := []byte(`{"gameStats": {}}`)
	testutil.WriteFile(t, existing, original)

	id := w.Begin("multi")
	_, err := w.WriteInTx(id, existing, testutil.Trainer(t), sg.WriteOptions{Validate: true})
	require.NoError(t, err)
	_, err = w.WriteInTx(id, created, testutil.Slot(t), sg.WriteOptions{Validate: true})
	require.NoError(t, err)

	// A second write to the same path keeps the first record.
	again := testutil.Trainer(t)
	again.Set("trainerId", document.Int(7))
	_, err = w.WriteInTx(id, existing, again, sg.WriteOptions{})
	require.NoError(t, err)

	tx, ok := w.Transaction(id)
	require.True(t, ok)
	require.Len(t, tx.Records, 2)
	assert.NotNil(t, tx.Records[0].Backup)
	assert.Nil(t, tx.Records[1].Backup)

	require.NoError(t, w.Rollback(id))
	assert.Equal(t, original, testutil.ReadFile(t, existing))
	assert.False(t, testutil.Exists(created))

	tx, _ = w.Transaction(id)
	assert.Equal(t, sg.TxRolledBack, tx.State)
}

func TestRollbackReportsUnrestorableFiles(t *testing.T) {
	w, dir := newTestWriter(t)
	a := filepath.Join(dir, "slot 1.json")
	b := filepath.Join(dir, "slot 2.json")
	testutil.WriteFile(t, a, []byte(`{"money": 1}`))
	testutil.WriteFile(t, b, []byte(`{"money": 2}`))

	id := w.Begin("pair")
	backupA, err := w.WriteInTx(id, a, testutil.Slot(t), sg.WriteOptions{})
	require.NoError(t, err)
	_, err = w.WriteInTx(id, b, testutil.Slot(t), sg.WriteOptions{})
	require.NoError(t, err)

	require.NoError(t, os.Remove(backupA.BackupPath))

	err = w.Rollback(id)
	var rerr *sg.RestoreError
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, []string{a}, rerr.Paths())
	assert.Equal(t, `{"money": 2}`, string(testutil.ReadFile(t, b)))
}

func TestTransactionStates(t *testing.T) {
	w, _ := newTestWriter(t)

	id := w.Begin("x")
	require.NoError(t, w.Commit(id))
	assert.ErrorIs(t, w.Commit(id), sg.ErrTransactionClosed)
	assert.ErrorIs(t, w.Rollback(id), sg.ErrTransactionClosed)
	assert.ErrorIs(t, w.Record(id, "p", nil), sg.ErrTransactionClosed)
	assert.ErrorIs(t, w.Commit("nope"), sg.ErrUnknownTransaction)
}

func TestSettledTransactionsAreBounded(t *testing.T) {
	w, _ := newTestWriter(t)

	var ids []string
	for i := 0; i < closedMemory+4; i++ {
		id := w.Begin("loop")
		if i%2 == 0 {
			require.NoError(t, w.Commit(id))
		} else {
			require.NoError(t, w.Rollback(id))
		}
		ids = append(ids, id)
	}

	assert.Empty(t, w.txs)
	assert.Len(t, w.closed, closedMemory)

	_, ok := w.Transaction(ids[0])
	assert.False(t, ok, "oldest settled transaction is forgotten")
	assert.ErrorIs(t, w.Commit(ids[0]), sg.ErrUnknownTransaction)

	tx, ok := w.Transaction(ids[len(ids)-1])
	require.True(t, ok)
	assert.Equal(t, sg.TxRolledBack, tx.State)
}

func TestInTransaction(t *testing.T) {
	t.Run("commits on success", func(t *testing.T) {
		w, dir := newTestWriter(t)
		path := filepath.Join(dir, "slot 1.json")

		err := w.InTransaction("ok", func(tx sg.TxScope) error {
			return tx.Write(path, testutil.Slot(t), sg.WriteOptions{Validate: true})
		})
		require.NoError(t, err)
		assert.True(t, testutil.Exists(path))
	})

	t.Run("rolls back on error", func(t *testing.T) {
		w, dir := newTestWriter(t)
		path := filepath.Join(dir, "slot 1.json")
		boom := errors.New("boom")

		err := w.InTransaction("fail", func(tx sg.TxScope) error {
			require.NoError(t, tx.Write(path, testutil.Slot(t), sg.WriteOptions{}))
			return boom
		})
		assert.ErrorIs(t, err, boom)
		var rb *sg.RollbackError
		require.ErrorAs(t, err, &rb)
		assert.NoError(t, rb.Incomplete)
		assert.False(t, testutil.Exists(path))
	})

	t.Run("rolls back and re-panics", func(t *testing.T) {
		w, dir := newTestWriter(t)
		path := filepath.Join(dir, "trainer.json")
		testutil.WriteFile(t, path, []byte(`{}`))

		assert.PanicsWithValue(t, "kaboom", func() {
			_ = w.InTransaction("panic", func(tx sg.TxScope) error {
				require.NoError(t, tx.Write(path, testutil.Trainer(t), sg.WriteOptions{}))
				panic("kaboom")
			})
		})
		assert.Equal(t, `{}`, string(testutil.ReadFile(t, path)))
	})
}

func TestNaming(t *testing.T) {
	ts := time.Date(2024, 3, 9, 7, 5, 3, 42_000_000, time.Local)
	assert.Equal(t, "20240309_070503_042", Stamp(ts))

	parsed, err := ParseStamp("20240309_070503_042")
	require.NoError(t, err)
	assert.True(t, parsed.Equal(ts))

	_, err = ParseStamp("2024")
	assert.Error(t, err)

	assert.Equal(t, "save_slot_3", SafeName("save slot #3"))
	assert.Equal(t, "unnamed", SafeName("///"))

	taken := map[string]bool{}
	assert.Equal(t, "slot 1.json", UniqueName("slot 1.json", taken))
	assert.Equal(t, "slot 1_2.json", UniqueName("slot 1.json", taken))

	parent := t.TempDir()
	first, err := MakeUniqueDir(parent, "snap")
	require.NoError(t, err)
	second, err := MakeUniqueDir(parent, "snap")
	require.NoError(t, err)
	assert.Equal(t, "snap", filepath.Base(first))
	assert.Equal(t, "snap_2", filepath.Base(second))
}

func TestCopyFileAndChecksum(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "a.json")
	testutil.WriteFile(t, src, []byte("hello"))

	size, sum, err := CopyFile(src, filepath.Join(dir, "nested", "b.json"))
	require.NoError(t, err)
	assert.Equal(t, int64(5), size)
	assert.Equal(t, testutil.Checksum([]byte("hello")), sum)

	size2, sum2, err := Checksum(filepath.Join(dir, "nested", "b.json"))
	require.NoError(t, err)
	assert.Equal(t, size, size2)
	assert.Equal(t, sum, sum2)

	require.NoError(t, WriteFile(src, []byte("bye")))
	assert.Equal(t, "bye", string(testutil.ReadFile(t, src)))
}
