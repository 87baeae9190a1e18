package sg

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"sg-go/internal/document"
	"sg-go/internal/validate"
)

// Operation types recorded in snapshot metadata and the journal.
const (
	OpSaveTrainer = "save_trainer"
	OpSaveSlot    = "save_slot"
	OpTransaction = "transaction"
	OpManual      = "manual"
	OpRecovery    = "recovery"
	OpCleanup     = "cleanup"
)

// Options are the orchestrator's behaviour switches.
type Options struct {
	// AutoBackup snapshots a document before it is overwritten and every
	// existing document before a transaction.
	AutoBackup bool

	// Validate refuses documents with Errors.
	Validate bool

	KeepDays    int
	KeepMinimum int

	// StaleTempAge is how old a leftover temp file must be before Cleanup
	// removes it.
	StaleTempAge time.Duration
}

// DefaultOptions returns the options used when nothing is configured.
func DefaultOptions() Options {
	return Options{
		AutoBackup:   true,
		Validate:     true,
		KeepDays:     30,
		KeepMinimum:  5,
		StaleTempAge: 24 * time.Hour,
	}
}

// Deps are the collaborators of a Service.
type Deps struct {
	Validator Validator
	Writer    AtomicWriter
	Store     BackupStore
	Recovery  RecoveryCoordinator
	History   History
	Sweeper   Sweeper
	Logger    Logger
	Clock     Clock
	IDs       IDGenerator
}

// Service is the single entry point for saving documents. Every save goes
// through validation, a snapshot of what it replaces and an atomic write.
// Expected failures are reported in the returned SaveResult; only panics
// escape.
type Service struct {
	layout    Layout
	validator Validator
	writer    AtomicWriter
	store     BackupStore
	recovery  RecoveryCoordinator
	history   History
	sweeper   Sweeper
	logger    Logger
	clock     Clock
	ids       IDGenerator
	opts      Options
}

// NewService creates a Service for the documents described by layout.
// A nil History or Sweeper disables journaling or temp file cleanup.
func NewService(layout Layout, deps Deps, opts Options) *Service {
	if deps.History == nil {
		deps.History = NopHistory{}
	}
	return &Service{
		layout:    layout,
		validator: deps.Validator,
		writer:    deps.Writer,
		store:     deps.Store,
		recovery:  deps.Recovery,
		history:   deps.History,
		sweeper:   deps.Sweeper,
		logger:    deps.Logger,
		clock:     deps.Clock,
		ids:       deps.IDs,
		opts:      opts,
	}
}

func (s *Service) Layout() Layout { return s.layout }

// SaveResult is the outcome of a save or transaction.
type SaveResult struct {
	Success     bool
	OperationID string

	// BackupID is the snapshot taken before the write, if any.
	BackupID string

	// Validation is the result that decided the save, when validation ran.
	Validation *validate.Result

	FilesSaved []string

	Error string
	Err   error

	RollbackPerformed bool

	// RollbackFailures lists files a rollback could not restore.
	RollbackFailures []string
}

func (r *SaveResult) fail(err error) {
	r.Success = false
	r.Err = err
	r.Error = err.Error()
}

// SaveTrainer validates and writes the trainer document.
func (s *Service) SaveTrainer(doc *document.Value, description string) *SaveResult {
	return s.save(s.layout.TrainerPath(), validate.KindTrainer, OpSaveTrainer, doc, description)
}

// SaveSlot validates and writes run slot n.
func (s *Service) SaveSlot(n int, doc *document.Value, description string) *SaveResult {
	path, err := s.layout.SlotPath(n)
	if err != nil {
		res := &SaveResult{OperationID: s.ids.New()}
		res.fail(err)
		return res
	}
	return s.save(path, validate.KindSlot, OpSaveSlot, doc, description)
}

func (s *Service) save(path string, kind validate.Kind, op string, doc *document.Value, description string) *SaveResult {
	res := &SaveResult{OperationID: s.ids.New()}
	journal := s.journal(op, path)
	defer func() { journal.finish(res) }()

	if s.opts.Validate {
		v := s.validator.Validate(doc, kind)
		res.Validation = &v
		if !v.Valid {
			res.fail(&ValidationError{Path: path, Result: v})
			s.logger.Warn("save refused by validation", "op", res.OperationID, "path", path, "errors", len(v.Errors()))
			return res
		}
		for _, issue := range v.Warnings() {
			s.logger.Warn("validation warning", "op", res.OperationID, "path", path, "at", issue.Path, "issue", issue.Message)
		}
	}

	if err := s.reclaim(path); err != nil {
		res.fail(err)
		s.logIOFailure(res.OperationID, path, err)
		return res
	}
	if s.opts.AutoBackup && exists(path) {
		id, err := s.store.Snapshot(op, backupDescription(description, path), []string{path}, s.session(res.OperationID))
		if err != nil {
			res.fail(fmt.Errorf("snapshot before save: %w", err))
			s.logger.Error("save aborted, snapshot failed", "op", res.OperationID, "path", path, "error", err)
			return res
		}
		res.BackupID = id
	}

	if _, err := s.writer.Write(path, doc, op, WriteOptions{Kind: kind}); err != nil {
		res.fail(err)
		s.logIOFailure(res.OperationID, path, err)
		return res
	}

	res.Success = true
	res.FilesSaved = []string{path}
	s.logger.Info("document saved", "op", res.OperationID, "path", path, "backup", res.BackupID)
	return res
}

// reclaim puts back documents that an interrupted sidecar swap left only as
// path.old, so they are snapshotted like any other existing file.
func (s *Service) reclaim(paths ...string) error {
	for _, p := range paths {
		if _, err := s.writer.Reclaim(p); err != nil {
			return err
		}
	}
	return nil
}

func backupDescription(description, path string) string {
	if description != "" {
		return description
	}
	return "before saving " + filepath.Base(path)
}

func (s *Service) session(opID string) map[string]string {
	return map[string]string{"operation_id": opID, "user": s.layout.Username()}
}

func (s *Service) logIOFailure(opID, path string, err error) {
	var ioe *IOError
	if errors.As(err, &ioe) {
		s.logger.Error("write failed", "op", opID, "path", path, "step", ioe.Op, "destination_changed", ioe.Changed, "error", ioe.Err)
		return
	}
	s.logger.Error("write failed", "op", opID, "path", path, "error", err)
}

// Tx is the handle a Transaction callback writes through.
type Tx struct {
	s       *Service
	scope   TxScope
	entries map[string]*BackupEntry
	existed map[string]bool
	touched map[string]bool
	written []string

	// refused is the validation result of the last write Validate blocked.
	refused *validate.Result
}

// Transaction runs fn as one logical operation over the user's documents.
// Every existing document is captured in a single snapshot up front. If fn
// returns an error or panics, every file fn wrote is put back; a panic is
// re-raised afterwards.
func (s *Service) Transaction(label, description string, fn func(tx *Tx) error) *SaveResult {
	res := &SaveResult{OperationID: s.ids.New()}
	journal := s.journal(OpTransaction, label)
	defer func() { journal.finish(res) }()

	tx := &Tx{
		s:       s,
		entries: map[string]*BackupEntry{},
		existed: map[string]bool{},
		touched: map[string]bool{},
	}
	if err := s.reclaim(s.layout.DocumentPaths()...); err != nil {
		res.fail(err)
		s.logger.Error("transaction aborted", "op", res.OperationID, "label", label, "error", err)
		return res
	}
	var existing []string
	for _, p := range s.layout.DocumentPaths() {
		if exists(p) {
			existing = append(existing, p)
			tx.existed[p] = true
		}
	}

	if s.opts.AutoBackup && len(existing) > 0 {
		if description == "" {
			description = "before transaction " + label
		}
		id, err := s.store.Snapshot(OpTransaction, description, existing, s.session(res.OperationID))
		if err != nil {
			res.fail(fmt.Errorf("snapshot before transaction: %w", err))
			s.logger.Error("transaction aborted, snapshot failed", "op", res.OperationID, "label", label, "error", err)
			return res
		}
		res.BackupID = id

		_, entries, err := s.store.Details(id)
		if err != nil {
			res.fail(fmt.Errorf("reading transaction snapshot: %w", err))
			return res
		}
		for _, e := range entries {
			tx.entries[e.OriginalPath] = e
		}
	}

	defer func() {
		if p := recover(); p != nil {
			res.RollbackPerformed = true
			res.fail(fmt.Errorf("transaction %s panicked: %v", label, p))
			panic(p)
		}
	}()

	err := s.writer.InTransaction(label, func(scope TxScope) error {
		tx.scope = scope
		s.logger.Info("transaction started", "op", res.OperationID, "tx", scope.ID(), "label", label, "snapshot", res.BackupID)
		return fn(tx)
	})

	var rb *RollbackError
	switch {
	case errors.As(err, &rb):
		res.RollbackPerformed = true
		var rerr *RestoreError
		if errors.As(rb.Incomplete, &rerr) {
			res.RollbackFailures = rerr.Paths()
		}
		if rb.Incomplete != nil {
			s.logger.Error("transaction rollback incomplete", "op", res.OperationID, "label", label, "error", rb.Incomplete)
		} else {
			s.logger.Info("transaction rolled back", "op", res.OperationID, "label", label, "files", len(tx.written))
		}
		res.fail(fmt.Errorf("transaction %s: %w", label, rb.Cause))
		if tx.refused != nil {
			res.Validation = tx.refused
		}
		return res
	case err != nil:
		res.fail(err)
		return res
	}

	res.Success = true
	res.FilesSaved = tx.written
	s.logger.Info("transaction committed", "op", res.OperationID, "label", label, "files", len(tx.written))
	return res
}

// ID returns the writer transaction ID.
func (tx *Tx) ID() string { return tx.scope.ID() }

// Write validates doc and writes it to path, which must be one of the
// user's document paths.
func (tx *Tx) Write(path string, doc *document.Value) error {
	if !tx.isDocument(path) {
		return fmt.Errorf("%s is not a document of user %s", path, tx.s.layout.Username())
	}
	kind := tx.s.layout.KindOf(path)

	if tx.s.opts.Validate {
		v := tx.s.validator.Validate(doc, kind)
		if !v.Valid {
			tx.refused = &v
			return &ValidationError{Path: path, Result: v}
		}
	}

	if !tx.touched[path] {
		if e, ok := tx.entries[path]; ok {
			if err := tx.scope.Record(path, e); err != nil {
				return err
			}
		} else if !tx.existed[path] && !exists(path) {
			if err := tx.scope.Record(path, nil); err != nil {
				return err
			}
		}
		tx.touched[path] = true
	}

	if err := tx.scope.Write(path, doc, WriteOptions{Kind: kind}); err != nil {
		return err
	}
	for _, w := range tx.written {
		if w == path {
			return nil
		}
	}
	tx.written = append(tx.written, path)
	return nil
}

// WriteTrainer writes the trainer document.
func (tx *Tx) WriteTrainer(doc *document.Value) error {
	return tx.Write(tx.s.layout.TrainerPath(), doc)
}

// WriteSlot writes run slot n.
func (tx *Tx) WriteSlot(n int, doc *document.Value) error {
	path, err := tx.s.layout.SlotPath(n)
	if err != nil {
		return err
	}
	return tx.Write(path, doc)
}

func (tx *Tx) isDocument(path string) bool {
	for _, p := range tx.s.layout.DocumentPaths() {
		if p == path {
			return true
		}
	}
	return false
}

// LoadTrainer reads the current trainer document.
func (s *Service) LoadTrainer() (*document.Value, error) {
	return document.ReadFile(s.layout.TrainerPath())
}

// LoadSlot reads run slot n.
func (s *Service) LoadSlot(n int) (*document.Value, error) {
	path, err := s.layout.SlotPath(n)
	if err != nil {
		return nil, err
	}
	return document.ReadFile(path)
}

// Validate grades doc without writing anything.
func (s *Service) Validate(doc *document.Value, kind validate.Kind) validate.Result {
	return s.validator.Validate(doc, kind)
}

// Backup snapshots every existing document.
func (s *Service) Backup(description string) (string, error) {
	journal := s.journal(OpManual, description)
	files := s.existingDocuments()
	if len(files) == 0 {
		err := fmt.Errorf("%w: no documents to back up for %s", ErrNotFound, s.layout.Username())
		journal.finishErr(err, "")
		return "", err
	}
	id, err := s.store.Snapshot(OpManual, description, files, s.session(s.ids.New()))
	journal.finishErr(err, id)
	return id, err
}

func (s *Service) existingDocuments() []string {
	var out []string
	for _, p := range s.layout.DocumentPaths() {
		if exists(p) {
			out = append(out, p)
		}
	}
	return out
}

// ListRecoveryOptions returns ranked restore options.
func (s *Service) ListRecoveryOptions(crisis bool) ([]*RecoveryOption, error) {
	return s.recovery.ListOptions(crisis)
}

// ExecuteRecovery carries out a restore option.
func (s *Service) ExecuteRecovery(optionID string, confirm ConfirmFunc) *RecoveryResult {
	journal := s.journal(OpRecovery, optionID)
	res := s.recovery.Execute(optionID, confirm)
	if res.Success {
		journal.finishErr(nil, strings.Join(res.FilesRestored, ", "))
	} else {
		journal.finishErr(errors.New(res.Error), "")
	}
	return res
}

// EmergencyFileRecovery lists every snapshot copy of path.
func (s *Service) EmergencyFileRecovery(path string) (*FileRecoveryReport, error) {
	return s.recovery.EmergencyFileRecovery(path)
}

// RecoveryReport summarizes backup health, including a system check.
func (s *Service) RecoveryReport() (*RecoveryReport, error) {
	rep, err := s.recovery.Report()
	if err != nil {
		return nil, err
	}
	if st := s.VerifySystem(); !st.OK() {
		rep.Recommendations = append(rep.Recommendations, "System integrity issues detected: run status for details")
	}
	return rep, nil
}

// CleanupResult reports what Cleanup removed.
type CleanupResult struct {
	SnapshotsRemoved    int
	WriteBackupsRemoved int
	TempFilesRemoved    []string
}

// Cleanup applies retention to snapshots and single-write backups and
// removes stale temp files left in the user directory by interrupted writes.
func (s *Service) Cleanup() (*CleanupResult, error) {
	journal := s.journal(OpCleanup, fmt.Sprintf("keep_days=%d keep_minimum=%d", s.opts.KeepDays, s.opts.KeepMinimum))
	out := &CleanupResult{}

	removed, err := s.store.Cleanup(s.opts.KeepDays, s.opts.KeepMinimum)
	out.SnapshotsRemoved = removed
	if err != nil {
		journal.finishErr(err, "")
		return out, fmt.Errorf("snapshot retention: %w", err)
	}

	pruned, err := s.writer.PruneBackups(s.opts.KeepDays, s.opts.KeepMinimum)
	out.WriteBackupsRemoved = pruned
	if err != nil {
		journal.finishErr(err, "")
		return out, fmt.Errorf("write backup retention: %w", err)
	}

	if s.sweeper != nil && s.opts.StaleTempAge > 0 {
		swept, err := s.sweeper.Sweep(s.layout.UserDir(), s.clock.Now().Add(-s.opts.StaleTempAge))
		out.TempFilesRemoved = swept
		if err != nil {
			journal.finishErr(err, "")
			return out, fmt.Errorf("removing stale temp files: %w", err)
		}
	}

	journal.finishErr(nil, fmt.Sprintf("%d snapshots, %d write backups, %d temp files", out.SnapshotsRemoved, out.WriteBackupsRemoved, len(out.TempFilesRemoved)))
	s.logger.Info("cleanup complete", "snapshots", out.SnapshotsRemoved, "write_backups", out.WriteBackupsRemoved, "temp_files", len(out.TempFilesRemoved))
	return out, nil
}

// Check is one line of a SystemStatus.
type Check struct {
	Name   string
	OK     bool
	Detail string
}

// SystemStatus is the result of VerifySystem.
type SystemStatus struct {
	Checks []Check
}

// OK reports whether every check passed.
func (st *SystemStatus) OK() bool {
	for _, c := range st.Checks {
		if !c.OK {
			return false
		}
	}
	return true
}

// Overall is "ok" or "degraded".
func (st *SystemStatus) Overall() string {
	if st.OK() {
		return "ok"
	}
	return "degraded"
}

// VerifySystem checks that the pieces a save depends on work.
func (s *Service) VerifySystem() *SystemStatus {
	st := &SystemStatus{}
	add := func(name string, err error, detail string) {
		c := Check{Name: name, OK: err == nil, Detail: detail}
		if err != nil {
			c.Detail = err.Error()
		}
		st.Checks = append(st.Checks, c)
	}

	probe := document.Object()
	probe.Set("gameStats", document.Object())
	if res := s.validator.Validate(probe, validate.KindTrainer); !res.Valid {
		add("validator", errors.New(res.Summary()), "")
	} else {
		add("validator", nil, "trainer probe passed")
	}

	all, err := s.store.List(ListFilter{})
	add("backup store", err, strconv.Itoa(len(all))+" snapshots")

	add("saves directory", writable(s.layout.UserDir()), s.layout.UserDir())

	if len(all) > 0 {
		ok, problems := s.store.Verify(all[0].ID)
		var verr error
		if !ok {
			verr = fmt.Errorf("latest snapshot %s: %s", all[0].ID, strings.Join(problems, "; "))
		}
		add("latest snapshot", verr, all[0].ID)
	}
	return st
}

func writable(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	f, err := os.CreateTemp(dir, ".probe-*.tmp")
	if err != nil {
		return err
	}
	name := f.Name()
	f.Close()
	return os.Remove(name)
}

// History returns the most recent journaled operations.
func (s *Service) History(limit int) ([]*Operation, error) {
	return s.history.Recent(limit)
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// journalEntry tracks one journaled operation. Journal failures are logged
// and never fail the operation itself.
type journalEntry struct {
	s    *Service
	id   int64
	ok   bool
	done bool
}

func (s *Service) journal(kind, params string) *journalEntry {
	id, err := s.history.Start(kind, params)
	if err != nil {
		s.logger.Warn("could not journal operation", "kind", kind, "error", err)
		return &journalEntry{s: s}
	}
	return &journalEntry{s: s, id: id, ok: true}
}

func (j *journalEntry) finish(res *SaveResult) {
	if res.Success {
		j.finishErr(nil, strings.Join(res.FilesSaved, ", "))
		return
	}
	j.finishErr(errors.New(res.Error), "")
}

func (j *journalEntry) finishErr(err error, detail string) {
	if !j.ok || j.done {
		return
	}
	j.done = true
	status := "success"
	if err != nil {
		status, detail = "error", err.Error()
	}
	if ferr := j.s.history.Finish(j.id, status, detail); ferr != nil {
		j.s.logger.Warn("could not finish journal entry", "id", j.id, "error", ferr)
	}
}
