package sg_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sg-go/internal/atomicfile"
	"sg-go/internal/backup"
	"sg-go/internal/document"
	"sg-go/internal/fs"
	"sg-go/internal/recovery"
	"sg-go/internal/sg"
	"sg-go/internal/testutil"
	"sg-go/internal/validate"
)

type fixture struct {
	svc     *sg.Service
	layout  sg.Layout
	store   *backup.Store
	history *testutil.MemoryHistory
	clock   *testutil.Clock
}

func newFixture(t *testing.T, opts sg.Options) *fixture {
	t.Helper()
	layout := sg.NewLayout(t.TempDir(), "ash")
	clock := testutil.FixedClock()
	ids := testutil.NewSequence("tx")
	logger := sg.NewNopLogger()

	v, err := validate.New(nil)
	require.NoError(t, err)

	store := backup.NewStore(layout.SnapshotDir(), layout.Username(), clock, logger)
	history := testutil.NewMemoryHistory(clock)
	svc := sg.NewService(layout, sg.Deps{
		Validator: v,
		Writer:    atomicfile.NewWriter(layout.WriteBackupDir(), v, clock, ids, logger),
		Store:     store,
		Recovery:  recovery.NewCoordinator(store, clock, logger, recovery.DefaultConfig()),
		History:   history,
		Sweeper:   fs.NewSweeper(logger),
		Logger:    logger,
		Clock:     clock,
		IDs:       ids,
	}, opts)
	return &fixture{svc: svc, layout: layout, store: store, history: history, clock: clock}
}

func invalidSlot(t *testing.T) *document.Value {
	return testutil.MustParse(t, `{"party":[{"species":1,"level":101}]}`)
}

func TestSaveTrainer_RoundTrip(t *testing.T) {
	f := newFixture(t, sg.DefaultOptions())

	res := f.svc.SaveTrainer(testutil.Trainer(t), "")
	require.True(t, res.Success, res.Error)
	assert.Empty(t, res.BackupID, "nothing to snapshot on the first save")
	assert.Equal(t, []string{f.layout.TrainerPath()}, res.FilesSaved)
	require.NotNil(t, res.Validation)
	assert.True(t, res.Validation.Valid)

	got, err := f.svc.LoadTrainer()
	require.NoError(t, err)
	assert.True(t, got.Equal(testutil.Trainer(t)))
}

func TestSave_SnapshotsPreviousVersion(t *testing.T) {
	f := newFixture(t, sg.DefaultOptions())

	first := testutil.Slot(t)
	require.True(t, f.svc.SaveSlot(1, first, "").Success)

	second := testutil.Slot(t)
	second.Set("waveIndex", document.Int(13))
	res := f.svc.SaveSlot(1, second, "wave 13")
	require.True(t, res.Success, res.Error)
	require.NotEmpty(t, res.BackupID)

	meta, entries, err := f.store.Details(res.BackupID)
	require.NoError(t, err)
	assert.Equal(t, sg.OpSaveSlot, meta.OperationType)
	assert.Equal(t, "wave 13", meta.Description)
	assert.Equal(t, "ash", meta.Session["user"])
	require.Len(t, entries, 1)

	restored := testutil.ReadDoc(t, entries[0].BackupPath)
	assert.True(t, restored.Equal(first), "snapshot holds the replaced version")

	got, err := f.svc.LoadSlot(1)
	require.NoError(t, err)
	assert.True(t, got.Equal(second))
}

func TestSave_ValidationGate(t *testing.T) {
	f := newFixture(t, sg.DefaultOptions())
	require.True(t, f.svc.SaveSlot(2, testutil.Slot(t), "").Success)
	path, _ := f.layout.SlotPath(2)
	before := testutil.ReadFile(t, path)

	res := f.svc.SaveSlot(2, invalidSlot(t), "")
	assert.False(t, res.Success)
	assert.True(t, errors.Is(res.Err, sg.ErrValidation))
	var verr *sg.ValidationError
	require.ErrorAs(t, res.Err, &verr)
	assert.Equal(t, path, verr.Path)
	require.NotNil(t, res.Validation)
	assert.False(t, res.Validation.Valid)
	assert.Empty(t, res.BackupID, "no snapshot for a refused save")

	assert.Equal(t, before, testutil.ReadFile(t, path))
}

func TestSave_ValidationDisabled(t *testing.T) {
	opts := sg.DefaultOptions()
	opts.Validate = false
	f := newFixture(t, opts)

	res := f.svc.SaveSlot(3, invalidSlot(t), "")
	require.True(t, res.Success, res.Error)
	assert.Nil(t, res.Validation)
}

func TestSave_NoAutoBackup(t *testing.T) {
	opts := sg.DefaultOptions()
	opts.AutoBackup = false
	f := newFixture(t, opts)

	require.True(t, f.svc.SaveTrainer(testutil.Trainer(t), "").Success)
	res := f.svc.SaveTrainer(testutil.Trainer(t), "")
	require.True(t, res.Success)
	assert.Empty(t, res.BackupID)

	all, err := f.store.List(sg.ListFilter{})
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestSaveSlot_OutOfRange(t *testing.T) {
	f := newFixture(t, sg.DefaultOptions())
	for _, n := range []int{0, sg.MaxSlots + 1} {
		res := f.svc.SaveSlot(n, testutil.Slot(t), "")
		assert.False(t, res.Success, "slot %d", n)
		assert.NotEmpty(t, res.Error)
	}
}

func TestTransaction_Commit(t *testing.T) {
	f := newFixture(t, sg.DefaultOptions())
	require.True(t, f.svc.SaveTrainer(testutil.Trainer(t), "").Success)

	res := f.svc.Transaction("new run", "", func(tx *sg.Tx) error {
		if err := tx.WriteTrainer(testutil.Trainer(t)); err != nil {
			return err
		}
		return tx.WriteSlot(1, testutil.Slot(t))
	})
	require.True(t, res.Success, res.Error)
	assert.False(t, res.RollbackPerformed)
	slot1, _ := f.layout.SlotPath(1)
	assert.Equal(t, []string{f.layout.TrainerPath(), slot1}, res.FilesSaved)

	meta, _, err := f.store.Details(res.BackupID)
	require.NoError(t, err)
	assert.Equal(t, sg.OpTransaction, meta.OperationType)
	assert.Equal(t, []string{f.layout.TrainerPath()}, meta.Files, "only documents that existed are snapshotted")
}

func TestTransaction_RollbackOnError(t *testing.T) {
	f := newFixture(t, sg.DefaultOptions())
	original := testutil.Trainer(t)
	require.True(t, f.svc.SaveTrainer(original, "").Success)

	changed := testutil.Trainer(t)
	changed.Set("secretId", document.Int(99))

	res := f.svc.Transaction("bad run", "", func(tx *sg.Tx) error {
		require.NoError(t, tx.WriteTrainer(changed))
		require.NoError(t, tx.WriteSlot(4, testutil.Slot(t)))
		return tx.WriteSlot(5, invalidSlot(t))
	})
	assert.False(t, res.Success)
	assert.True(t, res.RollbackPerformed)
	assert.Empty(t, res.RollbackFailures)
	assert.True(t, errors.Is(res.Err, sg.ErrValidation))
	require.NotNil(t, res.Validation)

	got, err := f.svc.LoadTrainer()
	require.NoError(t, err)
	assert.True(t, got.Equal(original), "trainer restored")
	slot4, _ := f.layout.SlotPath(4)
	assert.False(t, testutil.Exists(slot4), "slot created in the transaction removed")
}

func TestTransaction_PanicRollsBackAndRepanics(t *testing.T) {
	f := newFixture(t, sg.DefaultOptions())

	assert.PanicsWithValue(t, "boom", func() {
		f.svc.Transaction("panicky", "", func(tx *sg.Tx) error {
			require.NoError(t, tx.WriteSlot(1, testutil.Slot(t)))
			panic("boom")
		})
	})
	slot1, _ := f.layout.SlotPath(1)
	assert.False(t, testutil.Exists(slot1))

	ops, err := f.history.Recent(1)
	require.NoError(t, err)
	require.Len(t, ops, 1)
	assert.Equal(t, "error", ops[0].Status)
}

func TestTransaction_RejectsForeignPath(t *testing.T) {
	f := newFixture(t, sg.DefaultOptions())
	res := f.svc.Transaction("escape", "", func(tx *sg.Tx) error {
		return tx.Write(filepath.Join(t.TempDir(), "other.json"), testutil.Trainer(t))
	})
	assert.False(t, res.Success)
	assert.True(t, res.RollbackPerformed)
}

func TestTransaction_ReportsUnrestorableFiles(t *testing.T) {
	f := newFixture(t, sg.DefaultOptions())
	require.True(t, f.svc.SaveTrainer(testutil.Trainer(t), "").Success)

	changed := testutil.Trainer(t)
	changed.Set("secretId", document.Int(7))

	res := f.svc.Transaction("lost copy", "", func(tx *sg.Tx) error {
		meta, err := f.store.Latest(sg.OpTransaction)
		require.NoError(t, err)
		_, entries, err := f.store.Details(meta.ID)
		require.NoError(t, err)
		require.Len(t, entries, 1)
		require.NoError(t, os.Remove(entries[0].BackupPath))

		require.NoError(t, tx.WriteTrainer(changed))
		return errors.New("abandon")
	})
	assert.False(t, res.Success)
	assert.True(t, res.RollbackPerformed)
	assert.Equal(t, []string{f.layout.TrainerPath()}, res.RollbackFailures)
	assert.ErrorContains(t, res.Err, "abandon")
}

func TestSave_ReclaimsInterruptedSwap(t *testing.T) {
	f := newFixture(t, sg.DefaultOptions())
	require.NoError(t, os.MkdirAll(f.layout.UserDir(), 0o755))
	original := []byte(`{"party": [{"species": 25, "level": 5}]}`)
	slot1, _ := f.layout.SlotPath(1)
	testutil.WriteFile(t, slot1+".old", original)

	res := f.svc.SaveSlot(1, testutil.Slot(t), "")
	require.True(t, res.Success, res.Error)
	require.NotEmpty(t, res.BackupID, "the reclaimed document is snapshotted before it is replaced")

	_, entries, err := f.store.Details(res.BackupID)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, original, testutil.ReadFile(t, entries[0].BackupPath))
	assert.False(t, testutil.Exists(slot1+".old"))
}

func TestBackup(t *testing.T) {
	f := newFixture(t, sg.DefaultOptions())

	_, err := f.svc.Backup("empty")
	assert.True(t, errors.Is(err, sg.ErrNotFound))

	require.True(t, f.svc.SaveTrainer(testutil.Trainer(t), "").Success)
	require.True(t, f.svc.SaveSlot(2, testutil.Slot(t), "").Success)

	id, err := f.svc.Backup("checkpoint")
	require.NoError(t, err)
	meta, entries, err := f.store.Details(id)
	require.NoError(t, err)
	assert.Equal(t, sg.OpManual, meta.OperationType)
	assert.Len(t, entries, 2)
	ok, problems := f.store.Verify(id)
	assert.True(t, ok, problems)
}

func TestRecovery_RestoresSnapshot(t *testing.T) {
	f := newFixture(t, sg.DefaultOptions())
	original := testutil.Trainer(t)
	require.True(t, f.svc.SaveTrainer(original, "").Success)
	id, err := f.svc.Backup("good")
	require.NoError(t, err)

	testutil.WriteFile(t, f.layout.TrainerPath(), []byte("{not json"))
	f.clock.Advance(time.Minute)

	opts, err := f.svc.ListRecoveryOptions(false)
	require.NoError(t, err)
	require.NotEmpty(t, opts)
	assert.Equal(t, id, opts[0].SnapshotID)
	assert.Equal(t, sg.RiskLow, opts[0].Risk)

	var asked *sg.RecoveryOption
	res := f.svc.ExecuteRecovery(opts[0].ID, func(o *sg.RecoveryOption) bool {
		asked = o
		return true
	})
	require.True(t, res.Success, res.Error)
	require.NotNil(t, asked)
	assert.NotEmpty(t, res.SafetySnapshotID)

	got, err := f.svc.LoadTrainer()
	require.NoError(t, err)
	assert.True(t, got.Equal(original))

	// The safety snapshot holds the corrupted trainer and is still intact.
	ok, problems := f.store.Verify(res.SafetySnapshotID)
	assert.True(t, ok, problems)
	st := f.svc.VerifySystem()
	assert.Equal(t, "ok", st.Overall(), st.Checks)

	ops, err := f.history.Recent(1)
	require.NoError(t, err)
	assert.Equal(t, sg.OpRecovery, ops[0].Kind)
	assert.Equal(t, "success", ops[0].Status)
}

func TestRecovery_Cancelled(t *testing.T) {
	f := newFixture(t, sg.DefaultOptions())
	require.True(t, f.svc.SaveTrainer(testutil.Trainer(t), "").Success)
	id, err := f.svc.Backup("good")
	require.NoError(t, err)

	res := f.svc.ExecuteRecovery(id, func(*sg.RecoveryOption) bool { return false })
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "cancelled")
	assert.Empty(t, res.SafetySnapshotID)
}

func TestEmergencyFileRecovery(t *testing.T) {
	f := newFixture(t, sg.DefaultOptions())
	require.True(t, f.svc.SaveTrainer(testutil.Trainer(t), "").Success)
	_, err := f.svc.Backup("good")
	require.NoError(t, err)
	require.NoError(t, os.Remove(f.layout.TrainerPath()))

	rep, err := f.svc.EmergencyFileRecovery(f.layout.TrainerPath())
	require.NoError(t, err)
	assert.Equal(t, sg.FileMissing, rep.CurrentStatus)
	require.Len(t, rep.Candidates, 1)
	assert.Equal(t, sg.FileValid, rep.Candidates[0].Status)
}

func TestCleanup(t *testing.T) {
	opts := sg.DefaultOptions()
	opts.KeepDays = 30
	opts.KeepMinimum = 1
	f := newFixture(t, opts)

	require.True(t, f.svc.SaveTrainer(testutil.Trainer(t), "").Success)
	for i := 0; i < 3; i++ {
		_, err := f.svc.Backup("checkpoint")
		require.NoError(t, err)
		f.clock.Advance(time.Hour)
	}

	stale := filepath.Join(f.layout.UserDir(), ".trainer.json.123.tmp")
	testutil.WriteFile(t, stale, []byte("partial"))
	old := f.clock.Now().Add(-48 * time.Hour)
	require.NoError(t, os.Chtimes(stale, old, old))
	fresh := filepath.Join(f.layout.UserDir(), ".slot 1.json.456.tmp")
	testutil.WriteFile(t, fresh, []byte("in flight"))

	f.clock.Advance(40 * 24 * time.Hour)
	res, err := f.svc.Cleanup()
	require.NoError(t, err)
	assert.Equal(t, 2, res.SnapshotsRemoved)
	assert.Equal(t, []string{stale}, res.TempFilesRemoved)
	assert.True(t, testutil.Exists(fresh))

	all, err := f.store.List(sg.ListFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestCleanup_PrunesWriteBackups(t *testing.T) {
	opts := sg.DefaultOptions()
	opts.KeepDays = 30
	opts.KeepMinimum = 1
	// Without a snapshot the writer backs up the first write of each transaction.
	opts.AutoBackup = false
	f := newFixture(t, opts)

	require.True(t, f.svc.SaveTrainer(testutil.Trainer(t), "").Success)
	for i := 0; i < 2; i++ {
		f.clock.Advance(time.Hour)
		res := f.svc.Transaction("rewrite", "", func(tx *sg.Tx) error {
			return tx.WriteTrainer(testutil.Trainer(t))
		})
		require.True(t, res.Success, res.Error)
	}
	written, err := os.ReadDir(f.layout.WriteBackupDir())
	require.NoError(t, err)
	require.Len(t, written, 2)

	f.clock.Advance(40 * 24 * time.Hour)
	res, err := f.svc.Cleanup()
	require.NoError(t, err)
	assert.Zero(t, res.SnapshotsRemoved)
	assert.Equal(t, 1, res.WriteBackupsRemoved)

	written, err = os.ReadDir(f.layout.WriteBackupDir())
	require.NoError(t, err)
	assert.Len(t, written, 1)
}

func TestVerifySystem(t *testing.T) {
	f := newFixture(t, sg.DefaultOptions())
	require.True(t, f.svc.SaveTrainer(testutil.Trainer(t), "").Success)
	id, err := f.svc.Backup("good")
	require.NoError(t, err)

	st := f.svc.VerifySystem()
	assert.True(t, st.OK(), st.Checks)
	assert.Equal(t, "ok", st.Overall())

	_, entries, err := f.store.Details(id)
	require.NoError(t, err)
	testutil.WriteFile(t, entries[0].BackupPath, []byte("tampered"))

	st = f.svc.VerifySystem()
	assert.False(t, st.OK())
	assert.Equal(t, "degraded", st.Overall())
}

func TestHistory_JournalsEveryOperation(t *testing.T) {
	f := newFixture(t, sg.DefaultOptions())
	require.True(t, f.svc.SaveTrainer(testutil.Trainer(t), "").Success)
	assert.False(t, f.svc.SaveSlot(1, invalidSlot(t), "").Success)
	_, err := f.svc.Backup("manual")
	require.NoError(t, err)

	ops, err := f.svc.History(10)
	require.NoError(t, err)
	require.Len(t, ops, 3)
	assert.Equal(t, sg.OpManual, ops[0].Kind)
	assert.Equal(t, "success", ops[0].Status)
	assert.Equal(t, sg.OpSaveSlot, ops[1].Kind)
	assert.Equal(t, "error", ops[1].Status)
	assert.Equal(t, sg.OpSaveTrainer, ops[2].Kind)
	for _, op := range ops {
		assert.NotNil(t, op.FinishedAt)
	}
}
