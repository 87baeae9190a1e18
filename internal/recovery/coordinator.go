// Package recovery turns stored snapshots into ranked restore options and
// carries them out behind a safety snapshot.
package recovery

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"sg-go/internal/atomicfile"
	"sg-go/internal/document"
	"sg-go/internal/sg"
)

const (
	// EmergencyPrefix marks crisis-mode option IDs.
	EmergencyPrefix = "emergency_"

	// SafetyOperation is the operation type of snapshots taken right before
	// a recovery.
	SafetyOperation = "pre_recovery"

	reportRecentDays = 7
	reportVerifyMax  = 5
)

const (
	recommendLow       = "Safe: recent snapshot, minimal progress lost"
	recommendMedium    = "Acceptable: may lose recent progress"
	recommendHigh      = "High data loss: only use if necessary"
	recommendEmergency = "Last resort: significant data loss possible"
)

// Config tunes a Coordinator.
type Config struct {
	// Window limits ordinary options to snapshots younger than this.
	Window time.Duration

	// MaxOptions caps the number of ordinary options.
	MaxOptions int
}

// DefaultConfig matches the retention defaults.
func DefaultConfig() Config {
	return Config{Window: 30 * 24 * time.Hour, MaxOptions: 10}
}

// Coordinator implements sg.RecoveryCoordinator on top of a backup store.
type Coordinator struct {
	store  sg.BackupStore
	clock  sg.Clock
	logger sg.Logger
	cfg    Config
}

var _ sg.RecoveryCoordinator = (*Coordinator)(nil)

func NewCoordinator(store sg.BackupStore, clock sg.Clock, logger sg.Logger, cfg Config) *Coordinator {
	if cfg.Window <= 0 {
		cfg.Window = DefaultConfig().Window
	}
	if cfg.MaxOptions <= 0 {
		cfg.MaxOptions = DefaultConfig().MaxOptions
	}
	return &Coordinator{store: store, clock: clock, logger: logger, cfg: cfg}
}

// RiskFor grades a snapshot by age: under an hour is low, under a day is
// medium, anything older is high.
func RiskFor(age time.Duration) sg.Risk {
	switch {
	case age < time.Hour:
		return sg.RiskLow
	case age < 24*time.Hour:
		return sg.RiskMedium
	default:
		return sg.RiskHigh
	}
}

func recommendationFor(r sg.Risk) string {
	switch r {
	case sg.RiskLow:
		return recommendLow
	case sg.RiskMedium:
		return recommendMedium
	default:
		return recommendHigh
	}
}

// ListOptions returns restore options for recent snapshots, lowest risk
// first and newest first within a risk level. In crisis mode an emergency
// option for the newest snapshot of any age is appended.
func (c *Coordinator) ListOptions(crisis bool) ([]*sg.RecoveryOption, error) {
	now := c.clock.Now()
	recent, err := c.store.List(sg.ListFilter{Since: now.Add(-c.cfg.Window)})
	if err != nil {
		return nil, fmt.Errorf("listing snapshots: %w", err)
	}
	if len(recent) > c.cfg.MaxOptions {
		recent = recent[:c.cfg.MaxOptions]
	}

	options := make([]*sg.RecoveryOption, 0, len(recent)+1)
	for _, meta := range recent {
		options = append(options, c.option(meta, now))
	}
	sort.SliceStable(options, func(i, j int) bool {
		ri, rj := options[i].Risk.Rank(), options[j].Risk.Rank()
		if ri != rj {
			return ri < rj
		}
		return options[i].Timestamp.After(options[j].Timestamp)
	})

	if crisis {
		latest, err := c.store.Latest("")
		switch {
		case err == nil:
			options = append(options, c.emergencyOption(latest, now))
		case !errors.Is(err, sg.ErrNotFound):
			return nil, fmt.Errorf("finding latest snapshot: %w", err)
		}
	}
	return options, nil
}

func (c *Coordinator) option(meta *sg.BackupMetadata, now time.Time) *sg.RecoveryOption {
	risk := RiskFor(now.Sub(meta.Timestamp))
	return &sg.RecoveryOption{
		ID:             meta.ID,
		SnapshotID:     meta.ID,
		Kind:           sg.KindBackupRestore,
		Description:    fmt.Sprintf("Restore from %s (%s)", describe(meta), humanize.RelTime(meta.Timestamp, now, "ago", "from now")),
		Timestamp:      meta.Timestamp,
		AffectedFiles:  append([]string(nil), meta.Files...),
		Risk:           risk,
		Recommendation: recommendationFor(risk),
	}
}

func (c *Coordinator) emergencyOption(meta *sg.BackupMetadata, now time.Time) *sg.RecoveryOption {
	return &sg.RecoveryOption{
		ID:             EmergencyPrefix + meta.ID,
		SnapshotID:     meta.ID,
		Kind:           sg.KindEmergencyRestore,
		Description:    fmt.Sprintf("EMERGENCY: restore latest available snapshot (%s)", humanize.RelTime(meta.Timestamp, now, "ago", "from now")),
		Timestamp:      meta.Timestamp,
		AffectedFiles:  append([]string(nil), meta.Files...),
		Risk:           sg.RiskHigh,
		Recommendation: recommendEmergency,
	}
}

func describe(meta *sg.BackupMetadata) string {
	if meta.Description != "" {
		return meta.Description
	}
	return meta.OperationType
}

// resolve rebuilds the option an ID refers to. Options are never stored, so
// any snapshot ID is accepted, with or without the emergency prefix.
func (c *Coordinator) resolve(optionID string) (*sg.RecoveryOption, error) {
	snapshotID, emergency := strings.CutPrefix(optionID, EmergencyPrefix)
	meta, _, err := c.store.Details(snapshotID)
	if err != nil {
		return nil, err
	}
	now := c.clock.Now()
	if emergency {
		return c.emergencyOption(meta, now), nil
	}
	return c.option(meta, now), nil
}

// Execute restores the snapshot behind optionID.
//
// The snapshot is verified first; a damaged snapshot is refused unless the
// option is an emergency one. The files about to be overwritten are then
// captured in a safety snapshot. If the restore fails part way the safety
// snapshot is put back and the result says whether that worked.
func (c *Coordinator) Execute(optionID string, confirm sg.ConfirmFunc) *sg.RecoveryResult {
	res := &sg.RecoveryResult{OptionID: optionID}

	opt, err := c.resolve(optionID)
	if err != nil {
		res.Error = fmt.Sprintf("unknown recovery option %s: %v", optionID, err)
		return res
	}
	res.SnapshotID = opt.SnapshotID

	if confirm != nil && !confirm(opt) {
		res.Error = "recovery cancelled"
		return res
	}

	if ok, problems := c.store.Verify(opt.SnapshotID); !ok {
		for _, p := range problems {
			res.Warnings = append(res.Warnings, "snapshot integrity issue: "+p)
		}
		if opt.Kind != sg.KindEmergencyRestore {
			res.Error = fmt.Sprintf("snapshot integrity check failed: %s", strings.Join(problems, "; "))
			c.logger.Warn("recovery refused", "option", optionID, "problems", len(problems))
			return res
		}
		c.logger.Warn("emergency recovery proceeding from damaged snapshot", "option", optionID, "problems", len(problems))
	}

	var existing []string
	for _, f := range opt.AffectedFiles {
		if _, err := os.Stat(f); err == nil {
			existing = append(existing, f)
		}
	}
	if len(existing) > 0 {
		id, err := c.store.Snapshot(SafetyOperation, "Safety snapshot before recovery "+optionID, existing,
			map[string]string{"recovery_option": optionID})
		if err != nil {
			res.Warnings = append(res.Warnings, fmt.Sprintf("could not create safety snapshot: %v", err))
			c.logger.Warn("safety snapshot failed", "option", optionID, "error", err)
		} else {
			res.SafetySnapshotID = id
		}
	}

	err = c.store.Restore(opt.SnapshotID, nil)
	if err == nil {
		res.Success = true
		res.FilesRestored = opt.AffectedFiles
		c.logger.Info("recovery complete", "option", optionID, "files", len(opt.AffectedFiles))
		return res
	}

	res.Error = fmt.Sprintf("restore failed: %v", err)
	var rerr *sg.RestoreError
	if errors.As(err, &rerr) {
		failed := map[string]bool{}
		for _, p := range rerr.Paths() {
			failed[p] = true
		}
		for _, f := range opt.AffectedFiles {
			if !failed[f] {
				res.FilesRestored = append(res.FilesRestored, f)
			}
		}
	}
	c.logger.Error("recovery failed", "option", optionID, "error", err)

	if res.SafetySnapshotID != "" {
		res.SafetyRestoreAttempted = true
		if serr := c.store.Restore(res.SafetySnapshotID, nil); serr != nil {
			res.Warnings = append(res.Warnings, fmt.Sprintf("could not restore safety snapshot %s: %v", res.SafetySnapshotID, serr))
			c.logger.Error("safety snapshot restore failed", "snapshot", res.SafetySnapshotID, "error", serr)
		} else {
			res.SafetyRestored = true
			res.FilesRestored = nil
			res.Warnings = append(res.Warnings, "restored safety snapshot "+res.SafetySnapshotID+" after restore failure")
		}
	}
	return res
}

// EmergencyFileRecovery lists every snapshot copy of path, valid copies
// first and newest first within each status.
func (c *Coordinator) EmergencyFileRecovery(path string) (*sg.FileRecoveryReport, error) {
	rep := &sg.FileRecoveryReport{Path: path}
	rep.CurrentStatus, rep.CurrentDetail = classify(path, -1, "")
	switch rep.CurrentStatus {
	case sg.FileValid:
		rep.Recommendations = append(rep.Recommendations, "File appears to be valid")
	case sg.FileCorrupted:
		rep.Recommendations = append(rep.Recommendations, "File is corrupted: "+rep.CurrentDetail)
	default:
		rep.Recommendations = append(rep.Recommendations, "File does not exist")
	}

	all, err := c.store.List(sg.ListFilter{})
	if err != nil {
		return nil, fmt.Errorf("listing snapshots: %w", err)
	}
	for _, meta := range all {
		if !contains(meta.Files, path) {
			continue
		}
		_, entries, err := c.store.Details(meta.ID)
		if err != nil {
			c.logger.Debug("skipping unreadable snapshot", "snapshot", meta.ID, "error", err)
			continue
		}
		for _, e := range entries {
			if e.OriginalPath != path {
				continue
			}
			status, detail := classify(e.BackupPath, e.SizeBytes, e.Checksum)
			rep.Candidates = append(rep.Candidates, sg.FileCandidate{
				SnapshotID:    meta.ID,
				Timestamp:     meta.Timestamp,
				OperationType: meta.OperationType,
				Description:   meta.Description,
				BackupPath:    e.BackupPath,
				SizeBytes:     e.SizeBytes,
				Status:        status,
				Detail:        detail,
			})
		}
	}

	sort.SliceStable(rep.Candidates, func(i, j int) bool {
		vi, vj := rep.Candidates[i].Status == sg.FileValid, rep.Candidates[j].Status == sg.FileValid
		if vi != vj {
			return vi
		}
		return rep.Candidates[i].Timestamp.After(rep.Candidates[j].Timestamp)
	})

	valid := 0
	for _, cand := range rep.Candidates {
		if cand.Status == sg.FileValid {
			valid++
		}
	}
	switch {
	case len(rep.Candidates) == 0:
		rep.Recommendations = append(rep.Recommendations, "No snapshots contain this file; recovery is not possible")
	case valid == 0:
		rep.Recommendations = append(rep.Recommendations, "Snapshots contain this file but no copy is valid; recovery options are limited")
	default:
		rep.Recommendations = append(rep.Recommendations,
			fmt.Sprintf("Found %d valid cop%s; newest is in snapshot %s", valid, plural(valid), rep.Candidates[0].SnapshotID))
	}
	return rep, nil
}

// classify reports whether the file at path exists, parses as a document and,
// when given, matches the recorded size and checksum.
func classify(path string, size int64, checksum string) (sg.FileStatus, string) {
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return sg.FileMissing, "file does not exist"
	}
	if size >= 0 || checksum != "" {
		n, sum, err := atomicfile.Checksum(path)
		if err != nil {
			return sg.FileCorrupted, fmt.Sprintf("unreadable: %v", err)
		}
		if size >= 0 && n != size {
			return sg.FileCorrupted, fmt.Sprintf("size %d, expected %d", n, size)
		}
		if checksum != "" && sum != checksum {
			return sg.FileCorrupted, "checksum mismatch"
		}
	}
	if _, err := document.ReadFile(path); err != nil {
		return sg.FileCorrupted, fmt.Sprintf("invalid JSON: %v", err)
	}
	return sg.FileValid, ""
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func plural(n int) string {
	if n == 1 {
		return "y"
	}
	return "ies"
}

// Report summarizes backup coverage and the integrity of the most recent
// snapshots.
func (c *Coordinator) Report() (*sg.RecoveryReport, error) {
	now := c.clock.Now()
	all, err := c.store.List(sg.ListFilter{})
	if err != nil {
		return nil, fmt.Errorf("listing snapshots: %w", err)
	}
	recent, err := c.store.List(sg.ListFilter{Since: now.AddDate(0, 0, -reportRecentDays)})
	if err != nil {
		return nil, fmt.Errorf("listing snapshots: %w", err)
	}

	rep := &sg.RecoveryReport{
		GeneratedAt:     now,
		TotalSnapshots:  len(all),
		RecentSnapshots: len(recent),
		Health:          "unknown",
		Problems:        map[string][]string{},
	}
	if len(all) > 0 {
		rep.Latest = all[0]
	}

	for i, meta := range recent {
		if i == reportVerifyMax {
			break
		}
		rep.Checked++
		if ok, problems := c.store.Verify(meta.ID); ok {
			rep.Intact++
		} else {
			rep.Problems[meta.ID] = problems
		}
	}

	if rep.Checked > 0 {
		rate := float64(rep.Intact) / float64(rep.Checked)
		switch {
		case rate >= 0.8:
			rep.Health = "good"
			rep.Recommendations = append(rep.Recommendations, "Backup system is functioning well")
		case rate >= 0.5:
			rep.Health = "fair"
			rep.Recommendations = append(rep.Recommendations, "Some snapshot integrity issues detected")
		default:
			rep.Health = "poor"
			rep.Recommendations = append(rep.Recommendations, "Critical snapshot integrity issues: immediate attention needed")
		}
	}

	switch {
	case len(recent) == 0:
		rep.Recommendations = append(rep.Recommendations, "No recent snapshots: consider creating one")
	case len(recent) < 3:
		rep.Recommendations = append(rep.Recommendations, "Limited snapshot history: consider more frequent backups")
	}
	return rep, nil
}
