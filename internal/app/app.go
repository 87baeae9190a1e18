package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"sg-go/internal/atomicfile"
	"sg-go/internal/backup"
	"sg-go/internal/catalog"
	"sg-go/internal/config"
	"sg-go/internal/database"
	"sg-go/internal/document"
	"sg-go/internal/encryption"
	"sg-go/internal/fs"
	"sg-go/internal/recovery"
	"sg-go/internal/sg"
	"sg-go/internal/validate"
	"sg-go/internal/vault"
	"sg-go/internal/watch"
)

// journalName is the vault metadata item holding the operations journal.
const journalName = "journal"

// LogOptions controls where and how much an SGApp logs besides its log file.
type LogOptions struct {
	Level   slog.Level
	Console io.Writer // nil logs to the file only
}

// SGApp is the application layer between the CLI and the sg Service.
// It constructs all dependencies from config, exposes high-level operations
// that accept raw paths and names, and copies the journal to the vault on
// Close.
type SGApp struct {
	cfg       *config.Config
	layout    sg.Layout
	history   *database.SQLiteDatabase
	store     *backup.Store
	validator *validate.Validator
	vault     sg.Vault
	encryptor sg.Encryptor
	service   *sg.Service
	mirror    *sg.Mirror
	ignore    *fs.Filter
	logger    sg.Logger
	clock     sg.Clock
	cmd       *Command
	logFile   *os.File
	stdin     io.Reader
}

// NewSGApp creates a fully wired SGApp from the given config.
// cmd identifies the CLI command being run. The caller must call Close when
// done.
func NewSGApp(cfg *config.Config, cmd *Command, logOpts LogOptions) (*SGApp, error) {
	if cfg.Username == "" {
		return nil, fmt.Errorf("no username configured")
	}
	clock := sg.RealClock{}
	layout := sg.NewLayout(cfg.SavesDir, cfg.Username)

	opID := time.Now().UTC().Format("20060102T150405Z")
	slogger, logFile, err := newLogger(cfg.LogDir, opID, logOpts.Level, logOpts.Console)
	if err != nil {
		return nil, fmt.Errorf("creating logger: %w", err)
	}
	logger := &slogAdapter{l: slogger.With("command", cmd.Name)}

	a := &SGApp{
		cfg:     cfg,
		layout:  layout,
		logger:  logger,
		clock:   clock,
		cmd:     cmd,
		logFile: logFile,
		stdin:   os.Stdin,
	}
	if err := a.wire(); err != nil {
		a.closeResources()
		return nil, err
	}
	return a, nil
}

func (a *SGApp) wire() error {
	cfg := a.cfg

	cat := catalog.Empty()
	if cfg.CatalogDir != "" {
		var err error
		if cat, err = catalog.Load(cfg.CatalogDir); err != nil {
			return fmt.Errorf("loading catalog: %w", err)
		}
	}
	v, err := validate.New(cat)
	if err != nil {
		return fmt.Errorf("creating validator: %w", err)
	}
	a.validator = v

	history, err := database.NewHistoryFromConfig(cfg.History, a.layout.Username(), a.clock)
	if err != nil {
		return fmt.Errorf("creating history: %w", err)
	}
	a.history = history
	if err := history.CheckMigrations(); err != nil {
		return fmt.Errorf("history schema out of date: %w", err)
	}

	ignore, err := fs.LoadFilter(a.layout.UserDir(), cfg.Watch.Ignore)
	if err != nil {
		return fmt.Errorf("loading ignore patterns: %w", err)
	}
	a.ignore = ignore

	a.store = backup.NewStore(a.layout.SnapshotDir(), a.layout.Username(), a.clock, a.logger)

	var writerOpts []atomicfile.Option
	if cfg.Save.SidecarSwap {
		writerOpts = append(writerOpts, atomicfile.WithSidecarSwap())
	}
	ids := sg.UUIDGenerator{}
	writer := atomicfile.NewWriter(a.layout.WriteBackupDir(), v, a.clock, ids, a.logger, writerOpts...)

	ret := cfg.Retention
	coordinator := recovery.NewCoordinator(a.store, a.clock, a.logger, recovery.Config{
		Window:     time.Duration(ret.RecoveryWindowDays) * 24 * time.Hour,
		MaxOptions: ret.MaxRecoveryOptions,
	})

	a.service = sg.NewService(a.layout, sg.Deps{
		Validator: v,
		Writer:    writer,
		Store:     a.store,
		Recovery:  coordinator,
		History:   history,
		Sweeper:   fs.NewSweeper(a.logger),
		Logger:    a.logger,
		Clock:     a.clock,
		IDs:       ids,
	}, sg.Options{
		AutoBackup:   cfg.Save.AutoBackup,
		Validate:     cfg.Save.Validate,
		KeepDays:     ret.KeepDays,
		KeepMinimum:  ret.KeepMinimum,
		StaleTempAge: time.Duration(ret.StaleTempHours) * time.Hour,
	})

	enc, err := encryption.NewEncryptorFromConfig(cfg.Encryption)
	if err != nil {
		return fmt.Errorf("creating encryptor: %w", err)
	}
	a.encryptor = enc

	if len(cfg.Vaults) > 0 {
		vlt, err := vault.NewVaultFromConfig(cfg.Vaults[0])
		if err != nil {
			return fmt.Errorf("creating vault: %w", err)
		}
		a.vault = vlt
		a.checkJournalVersion()
	}
	a.mirror = sg.NewMirror(a.store, a.vault, enc, a.layout.Username(), a.logger)
	return nil
}

// checkJournalVersion warns when the vault holds a newer journal than the
// local one. Snapshots live next to the documents, so a stale journal only
// loses history.
func (a *SGApp) checkJournalVersion() {
	remote, err := a.vault.GetMetadataVersion(a.layout.Username(), journalName)
	if err != nil {
		a.logger.Warn("could not read remote journal version", "error", err)
		return
	}
	local, err := a.history.LatestID()
	if err != nil {
		a.logger.Warn("could not read local journal version", "error", err)
		return
	}
	if remote > local {
		a.logger.Warn("local journal is behind the vault copy", "local", local, "remote", remote)
	}
}

// Layout returns the document locations for the configured user.
func (a *SGApp) Layout() sg.Layout { return a.layout }

// readDocument parses the document at src; "-" reads standard input.
func (a *SGApp) readDocument(src string) (*document.Value, error) {
	if src == "-" {
		data, err := io.ReadAll(a.stdin)
		if err != nil {
			return nil, fmt.Errorf("reading standard input: %w", err)
		}
		return document.Parse(data)
	}
	return document.ReadFile(src)
}

// Validate grades the document at src. kindName may be empty, in which case
// the kind is inferred from the file name.
func (a *SGApp) Validate(src, kindName string) (validate.Result, validate.Kind, error) {
	kind := validate.KindForPath(src)
	if kindName != "" {
		k, err := validate.ParseKind(kindName)
		if err != nil {
			return validate.Result{}, validate.KindUnknown, err
		}
		kind = k
	}
	if kind == validate.KindUnknown {
		return validate.Result{}, kind, fmt.Errorf("cannot tell the document kind of %s: pass --kind", src)
	}
	doc, err := a.readDocument(src)
	if err != nil {
		return validate.Result{}, kind, err
	}
	return a.service.Validate(doc, kind), kind, nil
}

// ValidatePair grades a trainer document and a slot document together,
// including references between them.
func (a *SGApp) ValidatePair(trainerSrc, slotSrc string) (validate.Result, error) {
	trainer, err := a.readDocument(trainerSrc)
	if err != nil {
		return validate.Result{}, err
	}
	slot, err := a.readDocument(slotSrc)
	if err != nil {
		return validate.Result{}, err
	}
	return a.validator.ValidateCombined(trainer, slot), nil
}

// Repair reverts every field of the document at src that fails validation
// to its value in the saved document, or to the field default. Slot 0 is
// the trainer document. Nothing is written.
func (a *SGApp) Repair(slot int, src string) (*document.Value, []validate.Correction, validate.Result, error) {
	edited, err := a.readDocument(src)
	if err != nil {
		return nil, nil, validate.Result{}, err
	}

	var original *document.Value
	kind := validate.KindTrainer
	if slot == 0 {
		original, err = a.service.LoadTrainer()
	} else {
		kind = validate.KindSlot
		original, err = a.service.LoadSlot(slot)
	}
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return nil, nil, validate.Result{}, fmt.Errorf("reading saved document: %w", err)
		}
		original = document.Object()
	}

	draft := validate.NewDraft(original, kind)
	draft.Working = edited
	corrections, res := draft.Reconcile(a.validator)
	return draft.Working, corrections, res, nil
}

// SaveTrainer saves the document at src as the trainer document.
func (a *SGApp) SaveTrainer(src, description string) (*sg.SaveResult, error) {
	doc, err := a.readDocument(src)
	if err != nil {
		return nil, err
	}
	a.cmd.Mutate()
	return a.track(a.service.SaveTrainer(doc, description)), nil
}

// SaveSlot saves the document at src into slot n.
func (a *SGApp) SaveSlot(n int, src, description string) (*sg.SaveResult, error) {
	doc, err := a.readDocument(src)
	if err != nil {
		return nil, err
	}
	a.cmd.Mutate()
	return a.track(a.service.SaveSlot(n, doc, description)), nil
}

// TxWrite is one write of a transaction. Slot 0 is the trainer document.
type TxWrite struct {
	Slot   int
	Source string
}

// ParseTxWrite parses "trainer=<file>" or "<slot>=<file>".
func ParseTxWrite(arg string) (TxWrite, error) {
	target, src, ok := strings.Cut(arg, "=")
	if !ok || src == "" {
		return TxWrite{}, fmt.Errorf("invalid write %q: want trainer=<file> or <slot>=<file>", arg)
	}
	target = strings.TrimPrefix(strings.ToLower(target), "slot")
	if target == "trainer" {
		return TxWrite{Source: src}, nil
	}
	n, err := strconv.Atoi(target)
	if err != nil || n < 1 {
		return TxWrite{}, fmt.Errorf("invalid write target %q: want trainer or a slot number", target)
	}
	return TxWrite{Slot: n, Source: src}, nil
}

// Transaction saves every write or none of them. All sources are read before
// anything is written.
func (a *SGApp) Transaction(label, description string, writes []TxWrite) (*sg.SaveResult, error) {
	if len(writes) == 0 {
		return nil, fmt.Errorf("transaction has no writes")
	}
	docs := make([]*document.Value, len(writes))
	for i, w := range writes {
		doc, err := a.readDocument(w.Source)
		if err != nil {
			return nil, err
		}
		docs[i] = doc
	}

	a.cmd.Mutate()
	res := a.service.Transaction(label, description, func(tx *sg.Tx) error {
		for i, w := range writes {
			var err error
			if w.Slot == 0 {
				err = tx.WriteTrainer(docs[i])
			} else {
				err = tx.WriteSlot(w.Slot, docs[i])
			}
			if err != nil {
				return err
			}
		}
		return nil
	})
	return a.track(res), nil
}

func (a *SGApp) track(res *sg.SaveResult) *sg.SaveResult {
	if !res.Success {
		a.cmd.Fail()
	}
	return res
}

// Backup snapshots every existing document.
func (a *SGApp) Backup(description string) (string, error) {
	a.cmd.Mutate()
	id, err := a.service.Backup(description)
	if err != nil {
		a.cmd.Fail()
	}
	return id, err
}

// ListBackups lists snapshots, newest first. A zero since lists all of them.
func (a *SGApp) ListBackups(operationType string, since time.Duration) ([]*sg.BackupMetadata, error) {
	filter := sg.ListFilter{OperationType: operationType}
	if since > 0 {
		filter.Since = a.clock.Now().Add(-since)
	}
	return a.store.List(filter)
}

// BackupDetails returns a snapshot's metadata and entries.
func (a *SGApp) BackupDetails(id string) (*sg.BackupMetadata, []*sg.BackupEntry, error) {
	return a.store.Details(id)
}

// VerifyBackup checks every file of a snapshot against its manifest.
func (a *SGApp) VerifyBackup(id string) (bool, []string) {
	return a.store.Verify(id)
}

// BackupReport aggregates snapshot counts and sizes.
func (a *SGApp) BackupReport() (*sg.BackupReport, error) {
	return a.store.Report()
}

// CleanupResult reports what Cleanup removed.
type CleanupResult struct {
	*sg.CleanupResult
	JournalPruned int64
}

// Cleanup applies snapshot retention, removes stale temp files and prunes
// journal entries older than the retention period.
func (a *SGApp) Cleanup() (*CleanupResult, error) {
	a.cmd.Mutate()
	res, err := a.service.Cleanup()
	out := &CleanupResult{CleanupResult: res}
	if err != nil {
		a.cmd.Fail()
		return out, err
	}
	if days := a.cfg.Retention.KeepDays; days >= 0 {
		pruned, err := a.history.Prune(a.clock.Now().AddDate(0, 0, -days))
		if err != nil {
			a.logger.Warn("could not prune journal", "error", err)
		}
		out.JournalPruned = pruned
	}
	return out, nil
}

// RecoveryOptions returns ranked restore options.
func (a *SGApp) RecoveryOptions(crisis bool) ([]*sg.RecoveryOption, error) {
	return a.service.ListRecoveryOptions(crisis)
}

// Recover carries out a restore option. confirm may be nil.
func (a *SGApp) Recover(optionID string, confirm sg.ConfirmFunc) *sg.RecoveryResult {
	a.cmd.Mutate()
	res := a.service.ExecuteRecovery(optionID, confirm)
	if !res.Success {
		a.cmd.Fail()
	}
	return res
}

// FileRecovery lists every snapshot copy of a document. name may be a path,
// "trainer" or a slot number.
func (a *SGApp) FileRecovery(name string) (*sg.FileRecoveryReport, error) {
	path, err := a.documentPath(name)
	if err != nil {
		return nil, err
	}
	return a.service.EmergencyFileRecovery(path)
}

func (a *SGApp) documentPath(name string) (string, error) {
	if name == "trainer" {
		return a.layout.TrainerPath(), nil
	}
	if n, err := strconv.Atoi(strings.TrimPrefix(name, "slot")); err == nil {
		return a.layout.SlotPath(n)
	}
	// Snapshot entries record absolute paths.
	path, err := filepath.Abs(name)
	if err != nil {
		return "", fmt.Errorf("resolving %s: %w", name, err)
	}
	return path, nil
}

// RecoveryReport summarizes backup health.
func (a *SGApp) RecoveryReport() (*sg.RecoveryReport, error) {
	return a.service.RecoveryReport()
}

// History returns the most recent journaled operations.
func (a *SGApp) History(limit int) ([]*sg.Operation, error) {
	return a.service.History(limit)
}

// MirrorPush uploads a snapshot to the vault. An empty id pushes the latest
// snapshot. It returns the ID pushed.
func (a *SGApp) MirrorPush(id string) (string, error) {
	if id == "" {
		latest, err := a.store.Latest("")
		if err != nil {
			return "", err
		}
		id = latest.ID
	}
	a.cmd.Mutate()
	if err := a.mirror.Push(id); err != nil {
		a.cmd.Fail()
		return "", err
	}
	return id, nil
}

// MirrorPull downloads a snapshot from the vault into the local store and
// returns its local ID.
func (a *SGApp) MirrorPull(id, passphrase string) (string, error) {
	dc, err := a.encryptor.Unlock(passphrase)
	if err != nil {
		return "", fmt.Errorf("unlocking private key: %w", err)
	}
	a.cmd.Mutate()
	local, err := a.mirror.Pull(id, dc)
	if err != nil {
		a.cmd.Fail()
	}
	return local, err
}

// MirrorList lists the snapshot IDs stored in the vault.
func (a *SGApp) MirrorList() ([]string, error) {
	return a.mirror.List()
}

// SetupKeys generates the key pair used for mirrored snapshots.
func (a *SGApp) SetupKeys(passphrase string) error {
	return a.encryptor.Setup(passphrase)
}

// Status is the combined health of the installation.
type Status struct {
	System     *sg.SystemStatus
	Documents  []watch.Report
	Vault      string // empty when no vault is configured
	VaultError error
	KeysReady  bool
	Journal    int64
}

// Status checks the save pipeline, every document and the vault.
func (a *SGApp) Status() *Status {
	st := &Status{
		System:    a.service.VerifySystem(),
		Documents: a.newGuard(0).CheckAll(),
		KeysReady: a.encryptor.IsConfigured(),
	}
	if len(a.cfg.Vaults) > 0 {
		st.Vault = a.cfg.Vaults[0].Name
		st.VaultError = a.vault.ValidateSetup()
	}
	if id, err := a.history.LatestID(); err == nil {
		st.Journal = id
	}
	return st
}

func (a *SGApp) newGuard(debounce time.Duration) *watch.Guard {
	return watch.NewGuard(a.layout, a.validator, a.ignore, a.clock, a.logger, debounce)
}

// Watch re-checks documents as they change until ctx is cancelled, passing
// each report to fn.
func (a *SGApp) Watch(ctx context.Context, debounce time.Duration, fn func(watch.Report)) error {
	guard := a.newGuard(debounce)
	errc := make(chan error, 1)
	go func() { errc <- guard.Run(ctx) }()
	for r := range guard.Reports() {
		fn(r)
	}
	err := <-errc
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Close closes all resources. For mutating commands the journal is first
// copied to the vault, versioned by its latest operation ID.
func (a *SGApp) Close() error {
	var firstErr error
	if a.cmd.Mutating && a.vault != nil && a.history != nil {
		if err := a.uploadJournal(); err != nil {
			firstErr = err
			a.logger.Warn("journal upload failed", "error", err)
		}
	}
	a.logger.Info("command finished", "status", a.cmd.Status, "mutating", a.cmd.Mutating)
	if err := a.closeResources(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

func (a *SGApp) closeResources() error {
	var firstErr error
	if a.history != nil {
		if err := a.history.Close(); err != nil {
			firstErr = fmt.Errorf("closing history: %w", err)
		}
		a.history = nil
	}
	if a.logFile != nil {
		a.logFile.Close()
		a.logFile = nil
	}
	return firstErr
}

// uploadJournal snapshots the journal to a temp file and uploads it.
func (a *SGApp) uploadJournal() error {
	version, err := a.history.LatestID()
	if err != nil {
		return fmt.Errorf("reading journal version: %w", err)
	}

	tmpFile, err := os.CreateTemp("", "sg-journal-*.db")
	if err != nil {
		return fmt.Errorf("creating temp file for journal backup: %w", err)
	}
	tmpPath := tmpFile.Name()
	tmpFile.Close()
	// VACUUM INTO refuses to overwrite an existing file.
	os.Remove(tmpPath)
	defer os.Remove(tmpPath)

	if err := a.history.BackupTo(tmpPath); err != nil {
		return fmt.Errorf("backing up journal: %w", err)
	}

	f, err := os.Open(tmpPath)
	if err != nil {
		return fmt.Errorf("opening journal backup for upload: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat journal backup: %w", err)
	}

	if err := a.vault.PutMetadata(a.layout.Username(), journalName, f, info.Size(), version); err != nil {
		return fmt.Errorf("uploading journal to vault: %w", err)
	}
	return nil
}
